// Package stream assembles a model token stream into a final answer,
// suppressing model-induced repetition online and deduplicating
// repeated long lines once the stream finishes.
package stream

import (
	"context"
	"sync"

	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/internal/types"
)

type EventType string

const (
	// EventToken carries one emitted token.
	EventToken EventType = "token"
	// EventSources is the successful terminal event carrying the hit
	// list the answer was grounded on and the post-processed final
	// answer text. Consumers must grade and persist that text, not
	// their own concatenation of the token events.
	EventSources EventType = "sources"
	// EventError is the failed terminal event carrying the upstream
	// error text. Tokens already emitted are not retracted.
	EventError EventType = "error"
)

// Event is one element of the assembler's output stream: zero or more
// token events followed by exactly one terminal event.
type Event struct {
	Type    EventType             `json:"type"`
	Token   string                `json:"token,omitempty"`
	Answer  string                `json:"answer,omitempty"`
	Sources []models.RetrievalHit `json:"sources,omitempty"`
	Err     string                `json:"error,omitempty"`
}

type State int

const (
	StateIdle State = iota
	StateStreaming
	StateCompleted
	StateErrored
)

// Assembler consumes one generation stream. It is single-use: create a
// fresh one per request.
type Assembler struct {
	policy RepetitionPolicy

	mu    sync.Mutex
	state State
	buf   []byte
	final string
}

func New(policy RepetitionPolicy) *Assembler {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Assembler{
		policy: policy,
		state:  StateIdle,
	}
}

func (a *Assembler) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Text returns the post-processed answer once the assembler reached a
// terminal state, the raw buffer before that.
func (a *Assembler) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateCompleted || a.state == StateErrored {
		return a.final
	}
	return string(a.buf)
}

// Run consumes chunks and emits events on the returned channel. Token
// order is preserved. When ctx is cancelled the assembler stops
// consuming and closes the channel without a terminal event; cancelling
// the same ctx releases the upstream generation call.
func (a *Assembler) Run(ctx context.Context, chunks <-chan types.StreamChunk, sources []models.RetrievalHit) <-chan Event {
	out := make(chan Event)

	a.mu.Lock()
	a.state = StateStreaming
	a.mu.Unlock()

	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return
			case chunk, ok := <-chunks:
				if !ok {
					a.finish(StateCompleted)
					select {
					case out <- Event{Type: EventSources, Sources: sources, Answer: a.Text()}:
					case <-ctx.Done():
					}
					return
				}
				if chunk.Err != nil {
					a.finish(StateErrored)
					select {
					case out <- Event{Type: EventError, Err: chunk.Err.Error()}:
					case <-ctx.Done():
					}
					return
				}
				if token, ok := a.accept(chunk.Content); ok {
					select {
					case out <- Event{Type: EventToken, Token: token}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return out
}

// accept applies the repetition policy. A suppressed token neither
// advances the buffer nor reaches the consumer.
func (a *Assembler) accept(token string) (string, bool) {
	if token == "" {
		return "", false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.policy.Suppress(string(a.buf), token) {
		return "", false
	}
	a.buf = append(a.buf, token...)
	return token, true
}

// finish runs the batch post-process pass over the accumulated text and
// records the terminal state.
func (a *Assembler) finish(state State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = state
	a.final = DedupeLines(string(a.buf))
}
