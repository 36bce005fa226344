package chunker

import (
	"strings"
	"unicode/utf8"
)

// separators are tried in order, widest structural boundary first.
// The empty string means hard character windows as the last resort.
var separators = []string{"\n\n", "\n", ". ", " ", ""}

type ChunkerConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

// Chunker splits text into overlapping windows of at most ChunkSize
// characters, preferring paragraph, line, sentence and word boundaries
// before cutting mid-word.
type Chunker struct {
	config ChunkerConfig
}

func NewWithConfig(config ChunkerConfig) Chunker {
	if config.ChunkSize <= 0 {
		config.ChunkSize = 800
	}
	if config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = config.ChunkSize / 4
	}

	return Chunker{
		config: config,
	}
}

// Split chunks text. Empty or whitespace-only input yields nil, which
// signals "nothing to index" to the caller. Chunk order is preserved
// and becomes the chunk index.
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if text == "" {
		return nil
	}

	parts := splitRecursive(text, separators, c.config.ChunkSize)
	return c.merge(parts)
}

// splitRecursive breaks text into pieces no longer than size, trying
// each separator in turn and recursing into oversized pieces with the
// narrower separators.
func splitRecursive(text string, seps []string, size int) []string {
	if len(text) <= size {
		return []string{text}
	}

	if len(seps) == 0 || seps[0] == "" {
		// Character fallback: fixed windows, never cutting a rune
		var out []string
		for start := 0; start < len(text); {
			end := start + size
			if end >= len(text) {
				out = append(out, text[start:])
				break
			}
			for end > start && !utf8.RuneStart(text[end]) {
				end--
			}
			if end == start {
				_, w := utf8.DecodeRuneInString(text[start:])
				end = start + w
			}
			out = append(out, text[start:end])
			start = end
		}
		return out
	}

	pieces := strings.SplitAfter(text, seps[0])
	if len(pieces) == 1 {
		return splitRecursive(text, seps[1:], size)
	}

	var out []string
	for _, piece := range pieces {
		if piece == "" {
			continue
		}
		if len(piece) <= size {
			out = append(out, piece)
		} else {
			out = append(out, splitRecursive(piece, seps[1:], size)...)
		}
	}
	return out
}

// merge packs pieces into chunks of at most ChunkSize characters and
// carries the trailing ChunkOverlap characters of each finished chunk
// into the next one for continuity.
func (c *Chunker) merge(parts []string) []string {
	size := c.config.ChunkSize
	overlap := c.config.ChunkOverlap

	var chunks []string
	var current strings.Builder

	for _, part := range parts {
		if current.Len() > 0 && current.Len()+len(part) > size {
			if chunk := strings.TrimSpace(current.String()); chunk != "" {
				chunks = append(chunks, chunk)
			}

			tail := current.String()
			current.Reset()
			if overlap > 0 {
				tail = tailOf(tail, overlap)
			} else {
				tail = ""
			}
			// The carried tail must leave room for the next part.
			if keep := size - len(part); len(tail) > keep {
				tail = tailOf(tail, keep)
			}
			current.WriteString(tail)
		}
		current.WriteString(part)
	}

	if chunk := strings.TrimSpace(current.String()); chunk != "" {
		chunks = append(chunks, chunk)
	}

	return chunks
}

// tailOf returns a suffix of s at most n bytes long that never starts
// inside a multi-byte rune.
func tailOf(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	cut := len(s) - n
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return s[cut:]
}
