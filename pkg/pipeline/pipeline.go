// Package pipeline wires the chunker, embedder, vector store,
// retriever, generator, session memory and safety scorer into the
// document question-answering flow: index, update, delete, answer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/internal/types"
	"github.com/xhad/docqa/pkg/llm"
	"github.com/xhad/docqa/pkg/memory"
	"github.com/xhad/docqa/pkg/retriever"
	"github.com/xhad/docqa/pkg/safety"
	"github.com/xhad/docqa/pkg/stream"
)

// ErrClosed is reported for deletes scheduled after Close.
var ErrClosed = errors.New("pipeline is closed")

type ServiceConfig struct {
	SystemPrompt string
	TopK         int
}

type Service struct {
	config    ServiceConfig
	chunker   types.Chunker
	embedder  types.Embedder
	store     types.VectorStore
	retriever *retriever.Retriever
	generator types.Generator
	sessions  types.SessionStore
	scorer    *safety.Scorer

	mu      sync.Mutex
	closed  bool
	deletes chan deleteJob
	stopped chan struct{}
}

type deleteJob struct {
	documentID int
	result     chan DeleteResult
}

// DeleteResult reports the outcome of a background deletion.
type DeleteResult struct {
	Removed int
	Err     error
}

// Result is one graded answer.
type Result struct {
	Answer        models.Answer
	Confidence    float64
	Hallucination safety.Report
}

// AnswerOptions tune a single query.
type AnswerOptions struct {
	K                  int
	AllowedDocumentIDs []int
	SystemPrompt       string
	// UseMMR selects diversity reranking instead of pure score order.
	UseMMR bool
}

func NewService(config ServiceConfig, chunker types.Chunker, embedder types.Embedder,
	store types.VectorStore, r *retriever.Retriever, generator types.Generator,
	sessions types.SessionStore) *Service {

	if config.SystemPrompt == "" {
		config.SystemPrompt = "You are an AI customer support assistant."
	}
	if config.TopK <= 0 {
		config.TopK = 5
	}

	s := &Service{
		config:    config,
		chunker:   chunker,
		embedder:  embedder,
		store:     store,
		retriever: r,
		generator: generator,
		sessions:  sessions,
		scorer:    safety.NewScorer(embedder),
		deletes:   make(chan deleteJob, 16),
		stopped:   make(chan struct{}),
	}
	go s.deleteWorker()
	return s
}

// Close stops the background delete worker after draining queued jobs.
// Deletes scheduled after Close fail with ErrClosed instead of being
// queued. Closing twice is a no-op.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.deletes)
	s.mu.Unlock()
	<-s.stopped
}

// IndexDocument chunks, embeds and stores a document. Returns the
// number of chunks indexed; empty content indexes nothing and is not an
// error.
func (s *Service) IndexDocument(ctx context.Context, doc models.Document) (int, error) {
	chunks := s.chunker.Split(doc.Content)
	if len(chunks) == 0 {
		return 0, nil
	}

	vectors, err := s.embedder.Embed(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("failed to embed chunks: %w", err)
	}

	metas := make([]models.Chunk, len(chunks))
	for i, text := range chunks {
		metas[i] = models.Chunk{
			DocumentID: doc.ID,
			ChunkIndex: i,
			Title:      doc.Title,
			Text:       text,
		}
	}

	if err := s.store.Add(vectors, metas); err != nil {
		return 0, fmt.Errorf("failed to store chunks: %w", err)
	}
	return len(chunks), nil
}

// UpdateDocument replaces a document's records: delete then re-index.
// Chunks are never mutated in place.
func (s *Service) UpdateDocument(ctx context.Context, doc models.Document) (int, error) {
	if _, err := s.store.DeleteByDocument(ctx, doc.ID); err != nil {
		return 0, fmt.Errorf("failed to delete old chunks: %w", err)
	}
	return s.IndexDocument(ctx, doc)
}

// ScheduleDelete queues a document deletion for the background worker.
// Deletion rebuilds the flat index via re-embedding, an O(N) bulk
// operation that must stay off request paths. The returned channel
// receives exactly one result.
func (s *Service) ScheduleDelete(documentID int) <-chan DeleteResult {
	result := make(chan DeleteResult, 1)

	// The closed check and the send share the mutex with Close, so a
	// job is never sent on the closed queue.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		result <- DeleteResult{Err: ErrClosed}
		return result
	}
	s.deletes <- deleteJob{documentID: documentID, result: result}
	s.mu.Unlock()
	return result
}

func (s *Service) deleteWorker() {
	defer close(s.stopped)
	for job := range s.deletes {
		removed, err := s.store.DeleteByDocument(context.Background(), job.documentID)
		job.result <- DeleteResult{Removed: removed, Err: err}
	}
}

// Answer runs the full non-streaming flow: retrieve, prompt, generate,
// post-process, remember, grade. A generation failure is recovered as
// an inline error answer rather than a returned error.
func (s *Service) Answer(ctx context.Context, query, sessionID string, opts AnswerOptions) (Result, error) {
	hits, prompt, err := s.prepare(ctx, query, sessionID, opts)
	if err != nil {
		return Result{}, err
	}

	text, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		text = fmt.Sprintf("[generation error] %v", err)
	}
	text = stream.DedupeLines(text)

	s.sessions.AppendTurn(sessionID, query, text)

	return s.grade(ctx, text, hits)
}

// AnswerStream runs the streaming flow and returns the assembler's
// event channel: token events, then one terminal sources or error
// event. The completed turn is appended to session memory after the
// stream finishes. Cancelling ctx stops the upstream generation.
func (s *Service) AnswerStream(ctx context.Context, query, sessionID string, opts AnswerOptions) (<-chan stream.Event, error) {
	hits, prompt, err := s.prepare(ctx, query, sessionID, opts)
	if err != nil {
		return nil, err
	}

	chunks, err := s.generator.GenerateStream(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to start generation: %w", err)
	}

	asm := stream.New(nil)
	events := asm.Run(ctx, chunks, hits)

	out := make(chan stream.Event)
	go func() {
		defer close(out)
		for ev := range events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
		if asm.State() == stream.StateCompleted {
			s.sessions.AppendTurn(sessionID, query, asm.Text())
		}
	}()
	return out, nil
}

// Grade scores a finished answer against its sources.
func (s *Service) Grade(ctx context.Context, answer string, sources []models.RetrievalHit) (Result, error) {
	return s.grade(ctx, answer, sources)
}

func (s *Service) grade(ctx context.Context, text string, hits []models.RetrievalHit) (Result, error) {
	report, err := s.scorer.Hallucination(ctx, text, hits)
	if err != nil {
		return Result{}, fmt.Errorf("failed to grade answer: %w", err)
	}
	return Result{
		Answer:        models.Answer{Text: text, Sources: hits},
		Confidence:    safety.Confidence(hits, text),
		Hallucination: report,
	}, nil
}

// prepare retrieves context and renders the prompt shared by both
// answer modes. The redundancy filter runs here, before context
// assembly.
func (s *Service) prepare(ctx context.Context, query, sessionID string, opts AnswerOptions) ([]models.RetrievalHit, string, error) {
	k := opts.K
	if k <= 0 {
		k = s.config.TopK
	}
	systemPrompt := opts.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = s.config.SystemPrompt
	}

	var hits []models.RetrievalHit
	var err error
	if opts.UseMMR {
		hits, err = s.retriever.RetrieveMMR(ctx, query, k, opts.AllowedDocumentIDs)
	} else {
		hits, err = s.retriever.Retrieve(ctx, query, k, opts.AllowedDocumentIDs)
	}
	if err != nil {
		return nil, "", fmt.Errorf("retrieval failed: %w", err)
	}

	hits = retriever.FilterRedundant(hits)

	contextChunks := make([]string, len(hits))
	for i, hit := range hits {
		contextChunks[i] = hit.Text
	}

	history := memory.RenderHistory(s.sessions.History(sessionID))
	prompt := llm.BuildPrompt(systemPrompt, contextChunks, history, query)
	return hits, prompt, nil
}
