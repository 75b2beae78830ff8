package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragdex/ragdex/internal/embed"
	ragerrors "github.com/ragdex/ragdex/internal/errors"
	"github.com/ragdex/ragdex/internal/store"
)

func openSparseAt(t *testing.T, dir string) *Index {
	t.Helper()
	idx, err := Open(context.Background(), Options{
		DataDir:  dir,
		Embedder: embed.NewLexicalEmbedder(),
		Mode:     embed.ModeSparse,
		MaxK:     6,
	})
	require.NoError(t, err)
	return idx
}

func TestPersistence_SparseSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	// Given an index persisted by a first process
	idx := openSparseAt(t, dir)
	_, err := idx.Ingest(ctx, []string{
		"The capital of France is Paris.",
		"Go is a statically typed programming language.",
	}, nil)
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	// All three artifacts exist
	for _, name := range []string{"vectors.hnsw", "metadata.db", "corpus.json"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	// When a second process reopens the directory
	reopened := openSparseAt(t, dir)
	defer func() { _ = reopened.Close() }()

	assert.Equal(t, 2, reopened.Count())

	// Then the vectorizer re-fits lazily from the corpus and queries work
	results := reopened.Query(ctx, "capital of france", 1)
	require.Len(t, results, 1)
	assert.Equal(t, "The capital of France is Paris.", results[0].Record.Text)
}

func TestPersistence_DenseSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	open := func() *Index {
		idx, err := Open(ctx, Options{
			DataDir:  dir,
			Embedder: &hashEmbedder{dims: 8},
			Mode:     embed.ModeDense,
			Backend:  store.BackendFlat,
			MaxK:     6,
		})
		require.NoError(t, err)
		return idx
	}

	idx := open()
	_, err := idx.Ingest(ctx, []string{"first", "second", "third"}, nil)
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	reopened := open()
	defer func() { _ = reopened.Close() }()

	assert.Equal(t, 3, reopened.Count())
	assert.Equal(t, 8, reopened.Dimensions())

	records, err := reopened.Metas(0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, int64(0), records[0].ID)
}

func TestPersistence_CorruptVectorsRecoveredFromRecords(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	idx := openSparseAt(t, dir)
	_, err := idx.Ingest(ctx, []string{"recoverable content here"}, nil)
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	// Corrupt the vector artifact on disk.
	vectorsPath := filepath.Join(dir, "vectors.hnsw")
	require.NoError(t, os.WriteFile(vectorsPath, []byte("garbage"), 0o644))

	// Reopen recovers by re-embedding the stored record texts.
	reopened := openSparseAt(t, dir)
	defer func() { _ = reopened.Close() }()

	assert.Equal(t, 1, reopened.Count())
	results := reopened.Query(ctx, "recoverable content", 1)
	require.Len(t, results, 1)
	assert.Equal(t, "recoverable content here", results[0].Record.Text)
}

func TestPersistence_MissingArtifactsColdStart(t *testing.T) {
	idx := openSparseAt(t, t.TempDir())
	defer func() { _ = idx.Close() }()

	assert.Equal(t, 0, idx.Count())
	assert.Empty(t, idx.Query(context.Background(), "anything", 3))
}

func TestPersistence_SecondProcessRejectedWhileLocked(t *testing.T) {
	dir := t.TempDir()

	first := openSparseAt(t, dir)
	defer func() { _ = first.Close() }()

	_, err := Open(context.Background(), Options{
		DataDir:  dir,
		Embedder: embed.NewLexicalEmbedder(),
		Mode:     embed.ModeSparse,
	})
	require.Error(t, err)
	assert.Equal(t, ragerrors.ErrCodeLockHeld, ragerrors.GetCode(err))
}

func TestPersistence_LockReleasedOnClose(t *testing.T) {
	dir := t.TempDir()

	first := openSparseAt(t, dir)
	require.NoError(t, first.Close())

	second := openSparseAt(t, dir)
	require.NoError(t, second.Close())
}

func TestPersistence_DeleteSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	idx := openSparseAt(t, dir)
	_, err := idx.Ingest(ctx, []string{"keep this", "drop this"}, nil)
	require.NoError(t, err)

	removed, err := idx.RemoveByIDs(ctx, []int64{1})
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	require.NoError(t, idx.Close())

	reopened := openSparseAt(t, dir)
	defer func() { _ = reopened.Close() }()

	assert.Equal(t, 1, reopened.Count())
	records, err := reopened.Metas(0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "keep this", records[0].Text)
}
