// Package store provides the persistence layer for ragdex: the vector
// backends that hold embedding matrices and the SQLite metadata store that
// maps row ids to chunk records.
//
// Vector rows and metadata records share a contiguous id space 0..K-1. Row i
// of the vector backend always describes record id i. Deletion therefore
// never removes individual rows; the orchestrator rebuilds both sides from
// the kept texts.
package store

import (
	"context"
	"fmt"
)

// Hit is one nearest-neighbor result. Row is the position in the backend's
// matrix, which equals the metadata record id. Distance semantics depend on
// the backend: squared L2 for the flat backend, cosine distance for the
// approximate backend. Smaller is closer for both.
type Hit struct {
	Row      int
	Distance float32
}

// VectorBackend stores embedding vectors addressed by dense row index.
type VectorBackend interface {
	// Add appends vectors, assigning the next row indices. All vectors must
	// match the backend's current dimension (the first Add fixes it).
	Add(ctx context.Context, vectors [][]float32) error

	// Rebuild discards all rows and replaces them with the given matrix.
	// The dimension may change; an empty matrix resets the backend.
	Rebuild(ctx context.Context, vectors [][]float32) error

	// Truncate keeps the first n rows and discards the rest, undoing an
	// Add whose companion metadata write failed.
	Truncate(n int) error

	// Search returns up to k nearest rows to query, closest first.
	// An empty backend returns no hits.
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)

	// Count returns the number of stored rows.
	Count() int

	// Dimensions returns the current vector dimension (0 when empty).
	Dimensions() int

	// Save atomically persists the backend to path.
	Save(path string) error

	// Load restores the backend from path, replacing current contents.
	Load(path string) error

	// Close releases resources.
	Close() error
}

// Backend names accepted by NewVectorBackend.
const (
	BackendFlat   = "flat"
	BackendCosine = "cosine"
)

// NewVectorBackend constructs a vector backend by name.
func NewVectorBackend(name string) (VectorBackend, error) {
	switch name {
	case BackendFlat:
		return NewFlatBackend(), nil
	case BackendCosine:
		return NewCosineBackend(), nil
	default:
		return nil, fmt.Errorf("unknown vector backend %q", name)
	}
}

// ErrDimensionMismatch is returned when a vector's length disagrees with the
// backend's dimension.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
