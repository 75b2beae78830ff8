package embed

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// LexicalEmbedder is the sparse embedding provider: a TF-IDF vectorizer over
// the ingested corpus. Its dimension equals the fitted vocabulary size and
// therefore grows whenever new vocabulary appears. Fitting is not
// incremental; callers must re-fit on the full corpus after every change and
// re-embed everything already stored.
//
// After a restart the vectorizer starts unfitted; the orchestrator re-fits it
// lazily from the persisted corpus on first use.
type LexicalEmbedder struct {
	mu       sync.RWMutex
	vocab    map[string]int // term -> column
	terms    []string       // columns in sorted term order
	idf      []float32
	docCount int
	fitted   bool
}

// Verify interface implementation at compile time.
var _ Embedder = (*LexicalEmbedder)(nil)

// NewLexicalEmbedder creates an unfitted lexical embedder.
func NewLexicalEmbedder() *LexicalEmbedder {
	return &LexicalEmbedder{}
}

// Fit builds the vocabulary and IDF table from the full corpus, replacing any
// previous fit. Dimension becomes the number of distinct terms.
func (e *LexicalEmbedder) Fit(corpus []string) {
	docFreq := make(map[string]int)
	for _, doc := range corpus {
		seen := make(map[string]struct{})
		for _, tok := range Tokenize(doc) {
			seen[tok] = struct{}{}
		}
		for tok := range seen {
			docFreq[tok]++
		}
	}

	terms := make([]string, 0, len(docFreq))
	for t := range docFreq {
		terms = append(terms, t)
	}
	sort.Strings(terms)

	vocab := make(map[string]int, len(terms))
	idf := make([]float32, len(terms))
	n := len(corpus)
	for i, t := range terms {
		vocab[t] = i
		// Smoothed IDF: ln((1+n)/(1+df)) + 1. Keeps terms present in every
		// document at a positive weight.
		idf[i] = float32(math.Log(float64(1+n)/float64(1+docFreq[t])) + 1)
	}

	e.mu.Lock()
	e.vocab = vocab
	e.terms = terms
	e.idf = idf
	e.docCount = n
	e.fitted = true
	e.mu.Unlock()
}

// FitTransform fits on the corpus and returns its embedding matrix.
func (e *LexicalEmbedder) FitTransform(corpus []string) [][]float32 {
	e.Fit(corpus)
	vectors := make([][]float32, len(corpus))
	for i, doc := range corpus {
		vectors[i] = e.transform(doc)
	}
	return vectors
}

// Fitted reports whether Fit has run since construction. Queries against an
// unfitted vectorizer have nothing to search.
func (e *LexicalEmbedder) Fitted() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fitted
}

// transform produces the L2-normalized tf-idf row for one document.
// Terms outside the fitted vocabulary are ignored.
func (e *LexicalEmbedder) transform(text string) []float32 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	vec := make([]float32, len(e.terms))
	for _, tok := range Tokenize(text) {
		if col, ok := e.vocab[tok]; ok {
			vec[col]++
		}
	}
	for i := range vec {
		vec[i] *= e.idf[i]
	}
	return normalizeVector(vec)
}

// Embed generates an embedding for a single text.
func (e *LexicalEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if !e.Fitted() {
		return nil, fmt.Errorf("lexical embedder not fitted")
	}
	return e.transform(text), nil
}

// EmbedBatch generates embeddings for multiple texts against the current fit.
func (e *LexicalEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if !e.Fitted() {
		return nil, fmt.Errorf("lexical embedder not fitted")
	}
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		vectors[i] = e.transform(t)
	}
	return vectors, nil
}

// Dimensions returns the current vocabulary size (0 before the first fit).
func (e *LexicalEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.terms)
}

// ModelName returns the model identifier.
func (e *LexicalEmbedder) ModelName() string {
	return "lexical-tfidf"
}

// Available always reports true: the vectorizer has no external dependency.
func (e *LexicalEmbedder) Available(_ context.Context) bool {
	return true
}

// Close releases resources.
func (e *LexicalEmbedder) Close() error {
	return nil
}
