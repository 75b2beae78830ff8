package store

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// FlatBackend is the exact vector backend: a dense row-major matrix searched
// by brute force with squared L2 distance. Add is incremental, so it suits
// the fixed-dimension dense embedder.
type FlatBackend struct {
	mu      sync.RWMutex
	vectors [][]float32
	dims    int
	closed  bool
}

// flatSnapshot is the gob persistence format.
type flatSnapshot struct {
	Dims    int
	Vectors [][]float32
}

var _ VectorBackend = (*FlatBackend)(nil)

// NewFlatBackend creates an empty flat backend. The first Add or Rebuild
// fixes the dimension.
func NewFlatBackend() *FlatBackend {
	return &FlatBackend{}
}

// Add appends vectors as the next rows.
func (b *FlatBackend) Add(_ context.Context, vectors [][]float32) error {
	if len(vectors) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("backend is closed")
	}

	dims := b.dims
	if dims == 0 {
		dims = len(vectors[0])
	}
	for _, v := range vectors {
		if len(v) != dims {
			return ErrDimensionMismatch{Expected: dims, Got: len(v)}
		}
	}

	b.dims = dims
	for _, v := range vectors {
		row := make([]float32, len(v))
		copy(row, v)
		b.vectors = append(b.vectors, row)
	}
	return nil
}

// Rebuild replaces all rows with the given matrix.
func (b *FlatBackend) Rebuild(ctx context.Context, vectors [][]float32) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("backend is closed")
	}
	b.vectors = nil
	b.dims = 0
	b.mu.Unlock()

	return b.Add(ctx, vectors)
}

// Truncate keeps the first n rows and discards the rest.
func (b *FlatBackend) Truncate(n int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("backend is closed")
	}
	if n < 0 || n > len(b.vectors) {
		return fmt.Errorf("truncate to %d rows: have %d", n, len(b.vectors))
	}

	b.vectors = b.vectors[:n]
	if n == 0 {
		b.dims = 0
	}
	return nil
}

// Search scans every row and returns the k nearest by squared L2 distance.
func (b *FlatBackend) Search(_ context.Context, query []float32, k int) ([]Hit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("backend is closed")
	}
	if len(b.vectors) == 0 || k <= 0 {
		return []Hit{}, nil
	}
	if len(query) != b.dims {
		return nil, ErrDimensionMismatch{Expected: b.dims, Got: len(query)}
	}

	hits := make([]Hit, len(b.vectors))
	for i, row := range b.vectors {
		var dist float64
		for j, q := range query {
			d := float64(q) - float64(row[j])
			dist += d * d
		}
		hits[i] = Hit{Row: i, Distance: float32(dist)}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].Row < hits[j].Row
	})

	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

// Count returns the number of stored rows.
func (b *FlatBackend) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.vectors)
}

// Dimensions returns the current vector dimension.
func (b *FlatBackend) Dimensions() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dims
}

// Save persists the matrix to path via temp file and rename.
func (b *FlatBackend) Save(path string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("backend is closed")
	}
	return writeSnapshot(path, flatSnapshot{Dims: b.dims, Vectors: b.vectors})
}

// Load restores the matrix from path.
func (b *FlatBackend) Load(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("backend is closed")
	}

	var snap flatSnapshot
	if err := readSnapshot(path, &snap); err != nil {
		return err
	}
	b.dims = snap.Dims
	b.vectors = snap.Vectors
	return nil
}

// Close releases resources.
func (b *FlatBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.vectors = nil
	return nil
}

// writeSnapshot gob-encodes v to path atomically (temp file + rename).
func writeSnapshot(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}

	if err := gob.NewEncoder(file).Encode(v); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close snapshot file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename snapshot file: %w", err)
	}
	return nil
}

// readSnapshot gob-decodes path into v.
func readSnapshot(path string, v any) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer func() { _ = file.Close() }()

	if err := gob.NewDecoder(file).Decode(v); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return nil
}
