// Package embed provides the embedding providers for ragdex.
//
// Two variants exist with different invalidation rules:
//
//   - Dense (OllamaEmbedder): backed by a pretrained model, fixed dimension,
//     safe to call incrementally on new batches only.
//   - Sparse (LexicalEmbedder): term-frequency vectorizer whose dimension
//     equals the fitted vocabulary size. Re-fitting is not incremental:
//     adding one document can change the dimension and invalidate every
//     previously stored vector unless the whole corpus is re-embedded.
package embed

import (
	"context"
	"math"
	"time"
)

// Common embedding constants.
const (
	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32

	// DefaultTimeout is the default timeout for embedding requests.
	DefaultTimeout = 60 * time.Second
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the embedder is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// Mode identifies the active embedding strategy. The mode is chosen once at
// index construction and used symmetrically at ingest and query time.
type Mode string

const (
	// ModeDense uses a pretrained model with a fixed dimension.
	ModeDense Mode = "dense"
	// ModeSparse uses the corpus-dependent lexical vectorizer.
	ModeSparse Mode = "sparse"
)

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v // zero vector stays as-is
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
