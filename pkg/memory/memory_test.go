package memory_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/pkg/memory"
)

func TestStore_AppendAndHistory(t *testing.T) {
	s := memory.NewStore()

	s.AppendTurn("s1", "What is Go?", "A programming language.")
	s.AppendTurn("s1", "Who made it?", "Google.")

	turns := s.History("s1")
	require.Len(t, turns, 4)
	assert.Equal(t, models.ChatTurn{Role: models.RoleUser, Text: "What is Go?"}, turns[0])
	assert.Equal(t, models.ChatTurn{Role: models.RoleAssistant, Text: "A programming language."}, turns[1])
	assert.Equal(t, models.ChatTurn{Role: models.RoleUser, Text: "Who made it?"}, turns[2])
	assert.Equal(t, models.ChatTurn{Role: models.RoleAssistant, Text: "Google."}, turns[3])
}

func TestStore_SessionsAreIsolated(t *testing.T) {
	s := memory.NewStore()

	s.AppendTurn("a", "question a", "answer a")
	s.AppendTurn("b", "question b", "answer b")

	assert.Len(t, s.History("a"), 2)
	assert.Len(t, s.History("b"), 2)
	assert.Empty(t, s.History("unknown"))
}

func TestStore_PartialTurns(t *testing.T) {
	s := memory.NewStore()

	// An errored generation stores only the user side of the turn.
	s.AppendTurn("s1", "a question", "")
	turns := s.History("s1")
	require.Len(t, turns, 1)
	assert.Equal(t, models.RoleUser, turns[0].Role)
}

func TestStore_HistoryReturnsCopy(t *testing.T) {
	s := memory.NewStore()
	s.AppendTurn("s1", "q", "a")

	turns := s.History("s1")
	turns[0].Text = "mutated"

	assert.Equal(t, "q", s.History("s1")[0].Text)
}

func TestStore_Clear(t *testing.T) {
	s := memory.NewStore()
	s.AppendTurn("s1", "q", "a")

	s.Clear("s1")
	assert.Empty(t, s.History("s1"))
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := memory.NewStore()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("session-%d", i%3)
			s.AppendTurn(id, "q", "a")
			s.History(id)
		}(i)
	}
	wg.Wait()
}

func TestRenderHistory(t *testing.T) {
	tests := []struct {
		name  string
		turns []models.ChatTurn
		want  string
	}{
		{
			name:  "empty",
			turns: nil,
			want:  "",
		},
		{
			name: "alternating turns",
			turns: []models.ChatTurn{
				{Role: models.RoleUser, Text: "hello"},
				{Role: models.RoleAssistant, Text: "hi there"},
			},
			want: "User: hello\nAssistant: hi there",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, memory.RenderHistory(tt.turns))
		})
	}
}
