package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// CosineBackend is the approximate vector backend: an HNSW graph over unit
// normalized rows with cosine distance. The graph is not incrementally
// maintained; every Add or Rebuild refits it from the retained matrix, so the
// backend tolerates the sparse embedder's dimension changes across rebuilds.
type CosineBackend struct {
	mu      sync.RWMutex
	vectors [][]float32 // unit normalized rows, source of truth
	graph   *hnsw.Graph[int]
	dims    int
	closed  bool
}

// cosineSnapshot is the gob persistence format. Only the matrix is saved;
// the graph is refit on load.
type cosineSnapshot struct {
	Dims    int
	Vectors [][]float32
}

var _ VectorBackend = (*CosineBackend)(nil)

// NewCosineBackend creates an empty cosine backend.
func NewCosineBackend() *CosineBackend {
	return &CosineBackend{}
}

// newGraph builds an HNSW graph with the tuning the corpus sizes here need.
func newGraph() *hnsw.Graph[int] {
	g := hnsw.NewGraph[int]()
	g.Distance = hnsw.CosineDistance
	g.M = 16
	g.EfSearch = 32
	g.Ml = 0.25
	return g
}

// Add appends vectors as the next rows, then refits the graph.
func (b *CosineBackend) Add(_ context.Context, vectors [][]float32) error {
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
		normalizeInPlace(row)
		b.vectors = append(b.vectors, row)
	}
	b.refit()
	return nil
}

// Rebuild replaces all rows with the given matrix and refits.
func (b *CosineBackend) Rebuild(ctx context.Context, vectors [][]float32) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("backend is closed")
	}
	b.vectors = nil
	b.graph = nil
	b.dims = 0
	b.mu.Unlock()

	return b.Add(ctx, vectors)
}

// Truncate keeps the first n rows and discards the rest, then refits.
func (b *CosineBackend) Truncate(n int) error {
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
		b.graph = nil
		return nil
	}
	b.refit()
	return nil
}

// refit rebuilds the graph from the retained matrix. Caller holds the lock.
func (b *CosineBackend) refit() {
	g := newGraph()
	for i, row := range b.vectors {
		g.Add(hnsw.MakeNode(i, row))
	}
	b.graph = g
}

// Search returns up to k nearest rows by cosine distance, closest first.
func (b *CosineBackend) Search(_ context.Context, query []float32, k int) ([]Hit, error) {
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

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	nodes := b.graph.Search(normalized, k)

	hits := make([]Hit, 0, len(nodes))
	for _, node := range nodes {
		hits = append(hits, Hit{
			Row:      node.Key,
			Distance: b.graph.Distance(normalized, node.Value),
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].Row < hits[j].Row
	})
	return hits, nil
}

// Count returns the number of stored rows.
func (b *CosineBackend) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.vectors)
}

// Dimensions returns the current vector dimension.
func (b *CosineBackend) Dimensions() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dims
}

// Save persists the matrix to path via temp file and rename.
func (b *CosineBackend) Save(path string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("backend is closed")
	}
	return writeSnapshot(path, cosineSnapshot{Dims: b.dims, Vectors: b.vectors})
}

// Load restores the matrix from path and refits the graph.
func (b *CosineBackend) Load(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("backend is closed")
	}

	var snap cosineSnapshot
	if err := readSnapshot(path, &snap); err != nil {
		return err
	}
	b.dims = snap.Dims
	b.vectors = snap.Vectors
	b.refit()
	return nil
}

// Close releases resources.
func (b *CosineBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.vectors = nil
	b.graph = nil
	return nil
}

// normalizeInPlace normalizes a vector to unit length in place.
// A zero vector stays zero.
func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
