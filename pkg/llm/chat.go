package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/xhad/docqa/internal/types"
)

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
	BaseURL     string // Ollama server URL
}

// ChatEngine generates answers from rendered prompts, whole or as a
// token stream. Generation failures come back as error values; they
// never crash the caller.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	if config.Model == "" {
		config.Model = "mistral" // Default Ollama model
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return nil, fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434" // Default Ollama URL
	}

	llm, err := ollama.New(ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &ChatEngine{
		config: config,
		llm:    llm,
	}, nil
}

// Generate returns the whole answer for a rendered prompt.
func (ce *ChatEngine) Generate(ctx context.Context, prompt string) (string, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	response, err := ce.llm.GenerateContent(ctx, content,
		llms.WithMaxTokens(ce.config.MaxTokens),
		llms.WithTemperature(ce.config.Temperature),
	)
	if err != nil {
		return "", fmt.Errorf("chat error: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response from LLM")
	}
	return response.Choices[0].Content, nil
}

// GenerateStream returns a channel of token chunks for a rendered
// prompt. On upstream failure the last chunk carries the error; the
// channel always closes. Cancelling ctx aborts the generation call.
func (ce *ChatEngine) GenerateStream(ctx context.Context, prompt string) (<-chan types.StreamChunk, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	out := make(chan types.StreamChunk)

	go func() {
		defer close(out)

		_, err := ce.llm.GenerateContent(ctx, content,
			llms.WithMaxTokens(ce.config.MaxTokens),
			llms.WithTemperature(ce.config.Temperature),
			llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
				select {
				case out <- types.StreamChunk{Content: string(chunk)}:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}),
		)
		if err != nil && ctx.Err() == nil {
			select {
			case out <- types.StreamChunk{Err: fmt.Errorf("chat error: %w", err)}:
			case <-ctx.Done():
			}
		}
	}()

	return out, nil
}
