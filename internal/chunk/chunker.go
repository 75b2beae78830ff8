// Package chunk splits document text into overlapping word windows for
// indexing.
package chunk

import "strings"

// Defaults for word-window chunking.
const (
	DefaultSize    = 500
	DefaultOverlap = 50
)

// Chunker splits text into word windows of Size words, each window starting
// Size-Overlap words after the previous one.
type Chunker struct {
	Size    int
	Overlap int
}

// NewChunker creates a chunker, substituting defaults for non-positive size
// and clamping overlap into [0, size).
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}
	return &Chunker{Size: size, Overlap: overlap}
}

// WithSize returns a new chunker with per-request settings, validated the
// same way as NewChunker.
func (c *Chunker) WithSize(size, overlap int) *Chunker {
	return NewChunker(size, overlap)
}

// Split returns the chunks of text. Whitespace-only text yields no chunks.
// Text at or under Size words yields a single chunk.
func (c *Chunker) Split(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if len(words) <= c.Size {
		return []string{strings.Join(words, " ")}
	}

	step := c.Size - c.Overlap
	var chunks []string
	for start := 0; start < len(words); start += step {
		end := start + c.Size
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}
