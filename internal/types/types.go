package types

import (
	"context"

	"github.com/xhad/docqa/internal/models"
)

// Embedder converts texts into fixed-dimension vectors. Implementations
// must be deterministic for identical input and return one vector per
// input string.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Generator produces answers from a rendered prompt. Failures surface
// as error values, never panics.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateStream(ctx context.Context, prompt string) (<-chan StreamChunk, error)
}

// StreamChunk is one element of a generation stream. Err is non-nil
// only on the final chunk of a failed stream.
type StreamChunk struct {
	Content string
	Err     error
}

// Searcher is the read side of a vector store.
type Searcher interface {
	Search(query []float32, k int) ([]models.RetrievalHit, error)
	Len() int
}

// VectorStore is the full indexing contract shared by the embedded
// flat index and the pgvector backend. DeleteByDocument is a bulk
// operation; callers must not treat it as a hot path.
type VectorStore interface {
	Searcher
	Add(vectors [][]float32, metas []models.Chunk) error
	DeleteByDocument(ctx context.Context, documentID int) (int, error)
	Close() error
}

// Chunker splits document text into retrieval-sized pieces, order
// preserved.
type Chunker interface {
	Split(text string) []string
}

// SessionStore holds per-session conversational history keyed by an
// opaque session identifier.
type SessionStore interface {
	History(sessionID string) []models.ChatTurn
	AppendTurn(sessionID, userText, aiText string)
}
