package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/internal/types"
	"github.com/xhad/docqa/pkg/chunker"
	cfgPkg "github.com/xhad/docqa/pkg/config"
	"github.com/xhad/docqa/pkg/index"
	"github.com/xhad/docqa/pkg/llm"
	"github.com/xhad/docqa/pkg/memory"
	"github.com/xhad/docqa/pkg/pipeline"
	"github.com/xhad/docqa/pkg/retriever"
	"github.com/xhad/docqa/pkg/scraper"
	"github.com/xhad/docqa/pkg/store"
	"github.com/xhad/docqa/pkg/stream"
	"github.com/xhad/docqa/server"
)

type flags struct {
	configPath string
	ingestURL  string
	filePath   string
	fileTitle  string
	documentID int
	deleteID   int
	serve      bool
	useMMR     bool
}

func main() {
	f := parseFlags()

	if err := run(f); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() flags {
	var f flags

	flag.StringVar(&f.configPath, "config", "", "Path to config file")
	flag.StringVar(&f.ingestURL, "ingest-url", "", "Documentation URL to scrape and index")
	flag.StringVar(&f.filePath, "file", "", "Text file to index")
	flag.StringVar(&f.fileTitle, "title", "", "Title for the indexed file")
	flag.IntVar(&f.documentID, "doc-id", 0, "Document ID for -file / starting ID for -ingest-url")
	flag.IntVar(&f.deleteID, "delete", 0, "Delete every chunk of this document ID and exit")
	flag.BoolVar(&f.serve, "serve", false, "Run the websocket server instead of the chat loop")
	flag.BoolVar(&f.useMMR, "mmr", false, "Use diversity reranking for retrieval")
	flag.Parse()

	return f
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("items"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func newVectorStore(cfg *cfgPkg.Config, embedder types.Embedder) (types.VectorStore, error) {
	switch cfg.Index.Backend {
	case "pgvector":
		return store.NewWithConfig(store.VectorStoreConfig{
			ConnString: cfg.Database.URL,
			TableName:  cfg.Database.TableName,
			VectorDim:  cfg.Embedding.Dimension,
			BatchSize:  cfg.Database.BatchSize,
		})
	default:
		ix, err := index.NewWithConfig(index.IndexConfig{
			Dimension:    cfg.Embedding.Dimension,
			DataDir:      cfg.Index.DataDir,
			VectorsFile:  cfg.Index.VectorsFile,
			MetadataFile: cfg.Index.MetadataFile,
			Embedder:     embedder,
		})
		if errors.Is(err, index.ErrSnapshotDesync) {
			// The snapshot was reset to empty; everything must be
			// re-indexed.
			color.Yellow("WARNING: %v", err)
			return ix, nil
		}
		return ix, err
	}
}

func run(f flags) error {
	cfg, err := cfgPkg.LoadConfig(f.configPath)
	if err != nil {
		return err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("config: %v", e)
		}
		return fmt.Errorf("invalid configuration")
	}

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Model:     cfg.Embedding.Model,
		BaseURL:   cfg.Embedding.BaseURL,
		Dimension: cfg.Embedding.Dimension,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %v", err)
	}

	vectorStore, err := newVectorStore(cfg, embedder)
	if err != nil {
		return fmt.Errorf("failed to initialize vector store: %v", err)
	}
	defer vectorStore.Close()

	chatEngine, err := llm.NewWithConfig(llm.ChatConfig{
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		BaseURL:     cfg.LLM.BaseURL,
		Temperature: cfg.LLM.Temperature,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize chat engine: %v", err)
	}

	splitter := chunker.NewWithConfig(chunker.ChunkerConfig{
		ChunkSize:    cfg.Chunker.ChunkSize,
		ChunkOverlap: cfg.Chunker.ChunkOverlap,
	})

	ret := retriever.NewWithConfig(retriever.RetrieverConfig{
		BoostMarkers: cfg.Retriever.BoostMarkers,
		Boost:        cfg.Retriever.Boost,
		MMRLambda:    cfg.Retriever.MMRLambda,
	}, embedder, vectorStore)

	service := pipeline.NewService(pipeline.ServiceConfig{
		SystemPrompt: cfg.LLM.SystemPrompt,
	}, &splitter, embedder, vectorStore, ret, chatEngine, memory.NewStore())
	defer service.Close()

	ctx := context.Background()

	if f.deleteID != 0 {
		spinner := getSpinner("Deleting document and rebuilding index...")
		result := <-service.ScheduleDelete(f.deleteID)
		spinner.Finish()
		if result.Err != nil {
			return result.Err
		}
		color.Green("\n✓ Removed %d chunks for document %d\n", result.Removed, f.deleteID)
		return nil
	}

	if f.filePath != "" {
		if err := indexFile(ctx, service, f); err != nil {
			return err
		}
	}

	if f.ingestURL != "" {
		if err := ingestURL(ctx, service, cfg, f); err != nil {
			return err
		}
	}

	if f.serve {
		ws := server.NewWSServer(server.Config{Port: cfg.Server.Port}, service)
		return ws.ListenAndServe()
	}

	return chatLoop(ctx, service, f.useMMR)
}

func indexFile(ctx context.Context, service *pipeline.Service, f flags) error {
	data, err := os.ReadFile(f.filePath)
	if err != nil {
		return err
	}

	title := f.fileTitle
	if title == "" {
		title = f.filePath
	}

	spinner := getSpinner("Indexing document...")
	count, err := service.UpdateDocument(ctx, models.Document{
		ID:      f.documentID,
		Title:   title,
		Content: string(data),
	})
	spinner.Finish()
	if err != nil {
		return err
	}
	color.Green("\n✓ Indexed %d chunks from %s\n", count, f.filePath)
	return nil
}

func ingestURL(ctx context.Context, service *pipeline.Service, cfg *cfgPkg.Config, f flags) error {
	color.Blue("\nStarting documentation pipeline for %s\n", f.ingestURL)

	var scrapedCount int32
	s, err := scraper.NewWithConfig(scraper.ScraperConfig{
		BaseURL:        f.ingestURL,
		MaxDepth:       cfg.Scraper.MaxDepth,
		RateLimit:      cfg.Scraper.RateLimit,
		IgnorePatterns: cfg.Scraper.IgnorePatterns,
		OnProgress: func(url string) {
			atomic.AddInt32(&scrapedCount, 1)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize scraper: %v", err)
	}

	scrapingBar := getProgressBar(-1, "Scraping documentation...")
	startTime := time.Now()
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-time.After(100 * time.Millisecond):
				count := atomic.LoadInt32(&scrapedCount)
				scrapingBar.Set(int(count))
				if count > 0 {
					rate := float64(count) / time.Since(startTime).Seconds()
					scrapingBar.Describe(color.BlueString(
						"Scraping documentation... (%.1f pages/sec)", rate))
				}
			}
		}
	}()

	docs, err := s.Scrape(ctx, f.ingestURL)
	close(done)
	scrapingBar.Finish()
	if err != nil {
		return fmt.Errorf("failed to scrape documents: %v", err)
	}
	color.Green("\n✓ Scraped %d documents\n", len(docs))

	indexingBar := getProgressBar(len(docs), "Indexing documents...")
	total := 0
	for i, doc := range docs {
		doc.ID = f.documentID + i
		count, err := service.IndexDocument(ctx, doc)
		if err != nil {
			return fmt.Errorf("failed to index document %s: %v", doc.URL, err)
		}
		total += count
		indexingBar.Add(1)
	}
	color.Green("\n✓ Indexed %d chunks\n", total)
	return nil
}

func chatLoop(ctx context.Context, service *pipeline.Service, useMMR bool) error {
	color.Cyan("\nChat with your documents (type 'exit' to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()
	sessionID := fmt.Sprintf("cli-%d", time.Now().Unix())

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		query := strings.TrimSpace(scanner.Text())
		if strings.ToLower(query) == "exit" {
			break
		}
		if query == "" {
			continue
		}

		events, err := service.AnswerStream(ctx, query, sessionID, pipeline.AnswerOptions{
			UseMMR: useMMR,
		})
		if err != nil {
			color.Red("Error: %v\n", err)
			continue
		}

		responseSpinner := getSpinner("Thinking...")
		firstToken := true
		var answer string
		var sources []models.RetrievalHit

		for ev := range events {
			switch ev.Type {
			case stream.EventToken:
				if firstToken {
					responseSpinner.Finish()
					firstToken = false
					fmt.Print("\n")
					assistantPrompt("Assistant: ")
				}
				fmt.Print(ev.Token)
			case stream.EventSources:
				// Grade the assembler's post-processed text, which may
				// differ from the printed tokens when the batch pass
				// dropped a repeated line.
				answer = ev.Answer
				sources = ev.Sources
			case stream.EventError:
				if firstToken {
					responseSpinner.Finish()
				}
				color.Red("\nError: %s\n", ev.Err)
			}
		}
		if firstToken {
			responseSpinner.Finish()
		}
		fmt.Print("\n")

		if len(sources) > 0 {
			result, err := service.Grade(ctx, answer, sources)
			if err != nil {
				color.Red("Error grading answer: %v\n", err)
				continue
			}
			color.Blue("\nSources:")
			for _, src := range sources {
				color.Blue("  [%d:%d] %s", src.DocumentID, src.ChunkIndex, src.Title)
			}
			color.Blue("Confidence: %.2f  Hallucination risk: %s",
				result.Confidence, result.Hallucination.Details.RiskLevel)
		}
	}

	return nil
}
