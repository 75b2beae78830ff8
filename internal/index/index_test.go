package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragdex/ragdex/internal/embed"
	ragerrors "github.com/ragdex/ragdex/internal/errors"
	"github.com/ragdex/ragdex/internal/store"
)

// hashEmbedder is a deterministic fixed-dimension embedder standing in for
// the dense provider in tests. Similar texts do not embed similarly, so
// dense tests assert bookkeeping, not ranking.
type hashEmbedder struct {
	dims int
}

func (h *hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dims)
	for i, r := range text {
		vec[(i+int(r))%h.dims] += float32(r%13) + 1
	}
	return vec, nil
}

func (h *hashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (h *hashEmbedder) Dimensions() int                { return h.dims }
func (h *hashEmbedder) ModelName() string              { return "hash-fake" }
func (h *hashEmbedder) Available(context.Context) bool { return true }
func (h *hashEmbedder) Close() error                   { return nil }

func newSparseIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(context.Background(), Options{
		Embedder: embed.NewLexicalEmbedder(),
		Mode:     embed.ModeSparse,
		MaxK:     6,
		InMemory: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func newDenseIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(context.Background(), Options{
		Embedder: &hashEmbedder{dims: 16},
		Mode:     embed.ModeDense,
		Backend:  store.BackendFlat,
		MaxK:     6,
		InMemory: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestQuery_EmptyIndexReturnsNothing(t *testing.T) {
	idx := newSparseIndex(t)
	assert.Empty(t, idx.Query(context.Background(), "anything", 3))
	assert.Equal(t, 0, idx.Count())
}

func TestIngest_ValidatesInput(t *testing.T) {
	idx := newSparseIndex(t)
	ctx := context.Background()

	_, err := idx.Ingest(ctx, nil, nil)
	require.Error(t, err)
	assert.True(t, ragerrors.IsValidation(err))

	_, err = idx.Ingest(ctx, []string{"a", "b"}, []map[string]string{{"source": "x"}})
	require.Error(t, err)
	assert.True(t, ragerrors.IsValidation(err))
}

func TestQuery_ReturnsOnTopicFragmentFirst(t *testing.T) {
	// Given a mixed-topic corpus
	idx := newSparseIndex(t)
	ctx := context.Background()

	n, err := idx.Ingest(ctx, []string{
		"The capital of France is Paris.",
		"Go is a statically typed programming language.",
		"Whales are large marine mammals.",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// When asking about one topic
	results := idx.Query(ctx, "what is the capital of france", 2)

	// Then the on-topic fragment ranks first with the smallest distance
	require.NotEmpty(t, results)
	assert.Equal(t, "The capital of France is Paris.", results[0].Record.Text)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i].Score, results[0].Score)
	}
}

func TestQuery_RepeatedCallsReturnIdenticalResults(t *testing.T) {
	idx := newSparseIndex(t)
	ctx := context.Background()

	_, err := idx.Ingest(ctx, []string{
		"The capital of France is Paris.",
		"Go is a statically typed programming language.",
		"Whales are large marine mammals.",
	}, nil)
	require.NoError(t, err)

	first := idx.Query(ctx, "capital of france", 3)
	second := idx.Query(ctx, "capital of france", 3)
	require.NotEmpty(t, first)
	assert.Equal(t, first, second)
}

func TestQuery_KClampedToMaxK(t *testing.T) {
	idx := newSparseIndex(t)
	ctx := context.Background()

	texts := []string{
		"alpha one", "beta two", "gamma three", "delta four",
		"epsilon five", "zeta six", "eta seven", "theta eight",
	}
	_, err := idx.Ingest(ctx, texts, nil)
	require.NoError(t, err)

	results := idx.Query(ctx, "one two three", 100)
	assert.LessOrEqual(t, len(results), 6)

	// k <= 0 also falls back to the cap.
	results = idx.Query(ctx, "one two three", 0)
	assert.LessOrEqual(t, len(results), 6)
	assert.NotEmpty(t, results)
}

func TestIngestSparse_DimensionGrowsWithVocabulary(t *testing.T) {
	idx := newSparseIndex(t)
	ctx := context.Background()

	_, err := idx.Ingest(ctx, []string{"alpha beta gamma"}, nil)
	require.NoError(t, err)
	before := idx.Dimensions()
	require.Equal(t, 3, before)

	// New vocabulary forces a refit; every stored vector is re-embedded at
	// the new width.
	_, err = idx.Ingest(ctx, []string{"delta epsilon"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, idx.Dimensions())
	assert.Equal(t, 2, idx.Count())

	// Old content is still retrievable after the rebuild.
	results := idx.Query(ctx, "alpha beta", 1)
	require.Len(t, results, 1)
	assert.Equal(t, "alpha beta gamma", results[0].Record.Text)
}

func TestIngestDense_AppendsContiguousIDs(t *testing.T) {
	idx := newDenseIndex(t)
	ctx := context.Background()

	_, err := idx.Ingest(ctx, []string{"first", "second"}, nil)
	require.NoError(t, err)
	_, err = idx.Ingest(ctx, []string{"third"}, nil)
	require.NoError(t, err)

	records, err := idx.Metas(0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, rec := range records {
		assert.Equal(t, int64(i), rec.ID)
	}
	assert.Equal(t, 16, idx.Dimensions())
}

func TestIngestDense_MetadataFailureRollsBackVectors(t *testing.T) {
	idx := newDenseIndex(t)
	ctx := context.Background()

	_, err := idx.Ingest(ctx, []string{"first", "second"}, nil)
	require.NoError(t, err)

	// Force the record write to fail after the vectors were appended.
	require.NoError(t, idx.meta.Close())

	_, err = idx.Ingest(ctx, []string{"third"}, nil)
	require.Error(t, err)

	// The appended rows were rolled back, so vector count still matches the
	// stored records and no id gap can form.
	assert.Equal(t, 2, idx.backend.Count())
}

func TestRemoveByIDs_RebuildsWithContiguousIDs(t *testing.T) {
	idx := newSparseIndex(t)
	ctx := context.Background()

	_, err := idx.Ingest(ctx, []string{"keep one", "drop me", "keep two"}, nil)
	require.NoError(t, err)

	removed, err := idx.RemoveByIDs(ctx, []int64{1})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, idx.Count())

	records, err := idx.Metas(0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(0), records[0].ID)
	assert.Equal(t, "keep one", records[0].Text)
	assert.Equal(t, int64(1), records[1].ID)
	assert.Equal(t, "keep two", records[1].Text)

	// The dropped text no longer surfaces.
	for _, res := range idx.Query(ctx, "drop me", 3) {
		assert.NotEqual(t, "drop me", res.Record.Text)
	}
}

func TestRemoveBySource(t *testing.T) {
	idx := newSparseIndex(t)
	ctx := context.Background()

	_, err := idx.Ingest(ctx,
		[]string{"chunk a", "chunk b", "other"},
		[]map[string]string{
			{"source": "doc.pdf"},
			{"source": "doc.pdf"},
			{"source": "notes.txt"},
		})
	require.NoError(t, err)

	removed, err := idx.RemoveBySource(ctx, "doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, idx.Count())

	records, err := idx.Metas(0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "notes.txt", records[0].Source)
	assert.Equal(t, int64(0), records[0].ID)
}

func TestRemove_UnmatchedTargetRemovesNothing(t *testing.T) {
	idx := newSparseIndex(t)
	ctx := context.Background()

	_, err := idx.Ingest(ctx, []string{"only one"}, nil)
	require.NoError(t, err)

	// A target matching no record reports zero removals, not an error.
	removed, err := idx.RemoveByIDs(ctx, []int64{42})
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	removed, err = idx.RemoveBySource(ctx, "nope")
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	// Giving no target at all is still the caller's mistake.
	_, err = idx.RemoveByIDs(ctx, nil)
	require.Error(t, err)
	assert.Equal(t, ragerrors.ErrCodeMissingDeleteTarget, ragerrors.GetCode(err))

	_, err = idx.RemoveBySource(ctx, "")
	require.Error(t, err)
	assert.Equal(t, ragerrors.ErrCodeMissingDeleteTarget, ragerrors.GetCode(err))

	assert.Equal(t, 1, idx.Count())
}

func TestRemove_KeptRecordWithoutTextAbortsIntact(t *testing.T) {
	// Given an index containing a legacy record with no stored text
	idx := newDenseIndex(t)
	ctx := context.Background()

	_, err := idx.Ingest(ctx, []string{"first", "second"}, nil)
	require.NoError(t, err)

	legacy := store.Record{ID: 2, Source: "legacy", Text: ""}
	require.NoError(t, idx.meta.PutRecords([]store.Record{legacy}))
	require.NoError(t, idx.backend.Add(ctx, [][]float32{make([]float32, 16)}))
	require.Equal(t, 3, idx.Count())

	// When deleting a different record
	_, err = idx.RemoveByIDs(ctx, []int64{0})

	// Then the rebuild aborts and nothing changed
	require.Error(t, err)
	assert.Equal(t, ragerrors.ErrCodeRebuildFailed, ragerrors.GetCode(err))
	assert.Equal(t, 3, idx.Count())

	records, err := idx.Metas(0)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestRemove_AllRecordsLeavesEmptyIndex(t *testing.T) {
	idx := newSparseIndex(t)
	ctx := context.Background()

	_, err := idx.Ingest(ctx, []string{"a b", "c d"}, nil)
	require.NoError(t, err)

	removed, err := idx.RemoveByIDs(ctx, []int64{0, 1})
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, idx.Count())
	assert.Equal(t, 0, idx.Dimensions())
	assert.Empty(t, idx.Query(ctx, "a b", 3))
}

func TestGroupedBySource(t *testing.T) {
	idx := newSparseIndex(t)
	ctx := context.Background()

	_, err := idx.Ingest(ctx,
		[]string{"a", "b", "c"},
		[]map[string]string{
			{"source": "z.pdf"},
			{"source": "a.txt"},
			{"source": "z.pdf"},
		})
	require.NoError(t, err)

	groups, err := idx.GroupedBySource()
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, GroupedSource{Source: "a.txt", Count: 1}, groups[0])
	assert.Equal(t, GroupedSource{Source: "z.pdf", Count: 2}, groups[1])
}

func TestMetaFieldsStored(t *testing.T) {
	idx := newSparseIndex(t)
	ctx := context.Background()

	_, err := idx.Ingest(ctx,
		[]string{"chunk text"},
		[]map[string]string{{"source": "doc.pdf", "chunk": "4", "page": "2"}})
	require.NoError(t, err)

	records, err := idx.Metas(0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "doc.pdf", records[0].Source)
	assert.Equal(t, 4, records[0].ChunkIdx)
	assert.Equal(t, map[string]string{"page": "2"}, records[0].Extra)
}
