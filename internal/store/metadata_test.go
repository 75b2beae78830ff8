package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *MetadataStore {
	t.Helper()
	m, err := NewMetadataStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestMetadataStore_PutAndList(t *testing.T) {
	m := newTestStore(t)

	require.NoError(t, m.PutRecords([]Record{
		{ID: 0, Source: "facts.txt", ChunkIdx: 0, Text: "Paris is the capital of France."},
		{ID: 1, Source: "facts.txt", ChunkIdx: 1, Text: "Berlin is the capital of Germany."},
	}))

	records, err := m.List(0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(0), records[0].ID)
	assert.Equal(t, "Paris is the capital of France.", records[0].Text)

	n, err := m.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMetadataStore_StateExcludedFromRecords(t *testing.T) {
	// Given records plus index state
	m := newTestStore(t)
	require.NoError(t, m.PutRecords([]Record{{ID: 0, Source: "a", Text: "x"}}))
	require.NoError(t, m.SetState(StateKeyDimension, "768"))
	require.NoError(t, m.SetState(StateKeyMode, "dense"))

	// Then state never shows up in listings or counts
	n, err := m.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	records, err := m.List(0)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	// And state reads back independently
	dim, ok, err := m.GetState(StateKeyDimension)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "768", dim)
}

func TestMetadataStore_GetStateMissing(t *testing.T) {
	m := newTestStore(t)

	_, ok, err := m.GetState(StateKeyDimension)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMetadataStore_SetStateUpserts(t *testing.T) {
	m := newTestStore(t)

	require.NoError(t, m.SetState(StateKeyDimension, "768"))
	require.NoError(t, m.SetState(StateKeyDimension, "1024"))

	v, ok, err := m.GetState(StateKeyDimension)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1024", v)
}

func TestMetadataStore_ReplaceAllRenumbers(t *testing.T) {
	m := newTestStore(t)
	require.NoError(t, m.PutRecords([]Record{
		{ID: 0, Source: "a", Text: "keep one"},
		{ID: 1, Source: "b", Text: "drop"},
		{ID: 2, Source: "a", Text: "keep two"},
	}))

	// Rebuild keeps two records, renumbered to 0..1.
	require.NoError(t, m.ReplaceAll([]Record{
		{ID: 0, Source: "a", Text: "keep one"},
		{ID: 1, Source: "a", Text: "keep two"},
	}))

	records, err := m.List(0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(0), records[0].ID)
	assert.Equal(t, int64(1), records[1].ID)
	assert.Equal(t, "keep two", records[1].Text)
}

func TestMetadataStore_IDsBySource(t *testing.T) {
	m := newTestStore(t)
	require.NoError(t, m.PutRecords([]Record{
		{ID: 0, Source: "doc.pdf", Text: "a"},
		{ID: 1, Source: "notes.txt", Text: "b"},
		{ID: 2, Source: "doc.pdf", Text: "c"},
	}))

	ids, err := m.IDsBySource("doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 2}, ids)

	ids, err = m.IDsBySource("missing")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestMetadataStore_ExtraRoundTrip(t *testing.T) {
	m := newTestStore(t)
	require.NoError(t, m.PutRecords([]Record{
		{ID: 0, Source: "doc.pdf", Text: "x", Extra: map[string]string{"page": "3"}},
	}))

	rec, ok, err := m.Get(0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]string{"page": "3"}, rec.Extra)
}

func TestMetadataStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.db")

	m, err := NewMetadataStore(path)
	require.NoError(t, err)
	require.NoError(t, m.PutRecords([]Record{{ID: 0, Source: "a", Text: "survives"}}))
	require.NoError(t, m.SetState(StateKeyDimension, "4"))
	require.NoError(t, m.Close())

	reopened, err := NewMetadataStore(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	rec, ok, err := reopened.Get(0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "survives", rec.Text)

	dim, ok, err := reopened.GetState(StateKeyDimension)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "4", dim)
}
