package models

// Document is a unit of uploaded or ingested text before chunking.
type Document struct {
	ID      int
	Title   string
	Content string
	URL     string
}

// Chunk is a bounded slice of a document's text. It is the unit of
// embedding and retrieval, immutable once created.
type Chunk struct {
	DocumentID int    `json:"document_id"`
	ChunkIndex int    `json:"chunk_index"`
	Title      string `json:"title"`
	Text       string `json:"text"`
}

// RetrievalHit is a scored chunk returned by a search. Score is a
// distance, lower means more relevant.
type RetrievalHit struct {
	DocumentID int     `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Title      string  `json:"title"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// Answer is a finished response plus the ordered hits it was grounded
// on. Created per query, never persisted by the core.
type Answer struct {
	Text    string         `json:"answer"`
	Sources []RetrievalHit `json:"sources"`
}

// ChatTurn is one message of a session's conversational history.
type ChatTurn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
