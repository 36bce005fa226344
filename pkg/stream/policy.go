package stream

import "strings"

// RepetitionPolicy decides whether an incoming token is a sign the
// model has entered a repetition loop and should be dropped. It is an
// interface so the substring heuristic can be swapped for an n-gram or
// hashing detector without touching the assembler's state machine.
type RepetitionPolicy interface {
	// Suppress reports whether token should be dropped given the answer
	// accumulated so far.
	Suppress(buffer, token string) bool
}

// WindowPolicy suppresses a token when the answer buffer is long enough
// to have left the preamble and the token's stripped content already
// occurs in the trailing window of the buffer. Substring containment is
// a heuristic: it can over-suppress legitimate short repeats and miss
// non-contiguous ones.
type WindowPolicy struct {
	// BufferThreshold is the buffer length below which nothing is
	// suppressed.
	BufferThreshold int
	// Window is how many trailing characters are searched for repeats.
	Window int
	// MinTokenLen exempts very short tokens (punctuation, articles).
	MinTokenLen int
}

// DefaultPolicy returns the window policy with the reference tuning.
func DefaultPolicy() *WindowPolicy {
	return &WindowPolicy{
		BufferThreshold: 200,
		Window:          100,
		MinTokenLen:     3,
	}
}

func (p *WindowPolicy) Suppress(buffer, token string) bool {
	if len(buffer) <= p.BufferThreshold {
		return false
	}

	stripped := strings.TrimSpace(token)
	if len(stripped) <= p.MinTokenLen {
		return false
	}

	window := buffer
	if len(window) > p.Window {
		window = window[len(window)-p.Window:]
	}
	return strings.Contains(window, stripped)
}
