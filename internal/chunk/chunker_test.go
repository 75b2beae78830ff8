package chunk

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(parts, " ")
}

func TestSplit_EmptyTextYieldsNoChunks(t *testing.T) {
	c := NewChunker(500, 50)
	assert.Nil(t, c.Split(""))
	assert.Nil(t, c.Split("   \n\t  "))
}

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	c := NewChunker(500, 50)
	chunks := c.Split("just a few words here")
	require.Len(t, chunks, 1)
	assert.Equal(t, "just a few words here", chunks[0])
}

func TestSplit_WindowsOverlap(t *testing.T) {
	// 10-word windows stepping by 6 over 20 words.
	c := NewChunker(10, 4)
	chunks := c.Split(words(20))
	require.Len(t, chunks, 3)

	first := strings.Fields(chunks[0])
	second := strings.Fields(chunks[1])
	require.Len(t, first, 10)
	require.Len(t, second, 10)
	// Last 4 words of the first window repeat at the start of the second.
	assert.Equal(t, first[6:], second[:4])

	// Final chunk ends with the last word.
	last := strings.Fields(chunks[2])
	assert.Equal(t, "w19", last[len(last)-1])
}

func TestSplit_EveryWordCovered(t *testing.T) {
	c := NewChunker(7, 2)
	text := words(33)
	chunks := c.Split(text)

	seen := make(map[string]bool)
	for _, chunk := range chunks {
		for _, w := range strings.Fields(chunk) {
			seen[w] = true
		}
	}
	for _, w := range strings.Fields(text) {
		assert.True(t, seen[w], w)
	}
}

func TestNewChunker_ClampsInvalidSettings(t *testing.T) {
	c := NewChunker(0, -1)
	assert.Equal(t, DefaultSize, c.Size)
	assert.Equal(t, 0, c.Overlap)

	c = NewChunker(10, 10)
	assert.Equal(t, 9, c.Overlap)
}
