// Package memory keeps per-session conversational history in process
// memory, keyed by an opaque session identifier. Durable chat
// persistence belongs to the surrounding application, not this core.
package memory

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xhad/docqa/internal/models"
)

type Store struct {
	mu       sync.RWMutex
	sessions map[string][]models.ChatTurn
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string][]models.ChatTurn),
	}
}

// History returns a copy of the session's turns in order. An unknown
// session has empty history.
func (s *Store) History(sessionID string) []models.ChatTurn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := s.sessions[sessionID]
	out := make([]models.ChatTurn, len(turns))
	copy(out, turns)
	return out
}

// AppendTurn records one conversational exchange. Empty texts are
// skipped so partial turns can be stored.
func (s *Store) AppendTurn(sessionID, userText, aiText string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if userText != "" {
		s.sessions[sessionID] = append(s.sessions[sessionID],
			models.ChatTurn{Role: models.RoleUser, Text: userText})
	}
	if aiText != "" {
		s.sessions[sessionID] = append(s.sessions[sessionID],
			models.ChatTurn{Role: models.RoleAssistant, Text: aiText})
	}
}

// Clear drops a session's history.
func (s *Store) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// RenderHistory formats turns as the plain-text block injected into
// prompts.
func RenderHistory(turns []models.ChatTurn) string {
	if len(turns) == 0 {
		return ""
	}

	var b strings.Builder
	for i, turn := range turns {
		if i > 0 {
			b.WriteString("\n")
		}
		label := "User"
		if turn.Role == models.RoleAssistant {
			label = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s", label, turn.Text)
	}
	return b.String()
}
