// Package index orchestrates the embedding provider, vector backend, and
// metadata store behind a single mutation-safe API.
//
// Vector rows and metadata records share contiguous ids 0..K-1. The backends
// have no targeted-delete primitive, so every deletion re-embeds the kept
// texts and rebuilds both sides from scratch. In sparse mode any corpus
// change additionally re-fits the vectorizer, because the vocabulary (and
// with it the vector dimension) may move.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/ragdex/ragdex/internal/embed"
	ragerrors "github.com/ragdex/ragdex/internal/errors"
	"github.com/ragdex/ragdex/internal/store"
)

// Artifact file names inside the data directory.
const (
	vectorsFileFlat   = "vectors.flat"
	vectorsFileCosine = "vectors.hnsw"
	metadataFile      = "metadata.db"
	corpusFile        = "corpus.json"
)

// Options configures Open.
type Options struct {
	// DataDir is where artifacts live. Ignored when InMemory is set.
	DataDir string

	// Backend selects the dense-mode vector backend ("flat" or "cosine").
	// Sparse mode always uses the cosine backend.
	Backend string

	// MaxK caps the per-query result count.
	MaxK int

	// Embedder and Mode come from embed.NewEmbedder. The mode is fixed for
	// the lifetime of the index and applied symmetrically at ingest and
	// query time.
	Embedder embed.Embedder
	Mode     embed.Mode

	// InMemory skips the data directory, file lock, and all artifact IO.
	InMemory bool
}

// Result is one query hit: the raw backend distance (smaller is closer) and
// the matching record.
type Result struct {
	Score  float32      `json:"score"`
	Record store.Record `json:"meta"`
}

// Index is the retrieval index. Queries take a shared lock; every mutation
// takes the exclusive lock and persists all artifacts before returning.
type Index struct {
	mu       sync.RWMutex
	opts     Options
	embedder embed.Embedder
	mode     embed.Mode
	backend  store.VectorBackend
	meta     *store.MetadataStore
	lock     *FileLock

	// corpus mirrors record texts in id order. Maintained in sparse mode
	// only, where it is the refit input and the third persisted artifact.
	corpus []string

	closed bool
}

// Open builds the index from options, acquiring the data-directory lock and
// loading persisted artifacts. A corrupt vector artifact is logged and
// recovered by re-embedding the stored record texts; when that also fails
// the index cold-starts empty.
func Open(ctx context.Context, opts Options) (*Index, error) {
	if opts.Embedder == nil {
		return nil, ragerrors.EmbedderUnavailable("no embedder configured", nil)
	}
	if opts.MaxK <= 0 {
		opts.MaxK = 6
	}

	backendName := opts.Backend
	if opts.Mode == embed.ModeSparse {
		// The sparse vectorizer produces L2-normalized rows whose dimension
		// moves across refits; only the cosine backend handles that.
		backendName = store.BackendCosine
	}
	if backendName == "" {
		backendName = store.BackendFlat
	}

	backend, err := store.NewVectorBackend(backendName)
	if err != nil {
		return nil, ragerrors.BackendUnavailable("cannot construct vector backend", err)
	}

	idx := &Index{
		opts:     opts,
		embedder: opts.Embedder,
		mode:     opts.Mode,
		backend:  backend,
	}

	if opts.InMemory {
		meta, err := store.NewMetadataStore("")
		if err != nil {
			return nil, ragerrors.BackendUnavailable("cannot open metadata store", err)
		}
		idx.meta = meta
		return idx, nil
	}

	if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	idx.lock = NewFileLock(opts.DataDir)
	acquired, err := idx.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock data directory: %w", err)
	}
	if !acquired {
		return nil, ragerrors.New(ragerrors.ErrCodeLockHeld,
			"data directory is locked by another process", nil).
			WithDetail("lock_file", idx.lock.Path())
	}

	meta, err := store.NewMetadataStore(filepath.Join(opts.DataDir, metadataFile))
	if err != nil {
		_ = idx.lock.Unlock()
		return nil, ragerrors.BackendUnavailable("cannot open metadata store", err)
	}
	idx.meta = meta

	if err := idx.loadArtifacts(ctx); err != nil {
		_ = meta.Close()
		_ = idx.lock.Unlock()
		return nil, err
	}

	return idx, nil
}

// vectorsPath returns the backend artifact path for the active backend type.
func (ix *Index) vectorsPath() string {
	name := vectorsFileFlat
	if _, ok := ix.backend.(*store.CosineBackend); ok {
		name = vectorsFileCosine
	}
	return filepath.Join(ix.opts.DataDir, name)
}

// loadArtifacts restores backend rows and the sparse corpus from disk.
func (ix *Index) loadArtifacts(ctx context.Context) error {
	path := ix.vectorsPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// Cold start. Records may still exist (e.g. vector artifact was
		// deleted by hand); rebuild from them when possible.
		return ix.recoverFromRecords(ctx, "vector artifact missing")
	}

	if err := ix.backend.Load(path); err != nil {
		ce := ragerrors.CorruptArtifact(path, err)
		slog.Warn("persistence_read_error",
			slog.String("code", ce.Code),
			slog.String("artifact", path),
			slog.String("error", err.Error()))
		return ix.recoverFromRecords(ctx, "vector artifact corrupt")
	}

	count, err := ix.meta.Count()
	if err != nil {
		return err
	}
	if count != ix.backend.Count() {
		slog.Warn("artifact_count_mismatch",
			slog.Int("records", count),
			slog.Int("vectors", ix.backend.Count()))
		return ix.recoverFromRecords(ctx, "record/vector count mismatch")
	}

	if ix.mode == embed.ModeSparse {
		if err := ix.loadCorpus(); err != nil {
			return err
		}
		// The vectorizer itself is not persisted; it re-fits lazily from the
		// corpus on first use.
	} else if err := ix.checkDimensionDrift(ctx); err != nil {
		return err
	}

	return nil
}

// checkDimensionDrift compares the persisted dimension sentinel against the
// active dense embedder. A model change invalidates every stored vector, so
// drift triggers a full re-embed of the stored texts.
func (ix *Index) checkDimensionDrift(ctx context.Context) error {
	stored, ok, err := ix.meta.GetState(store.StateKeyDimension)
	if err != nil {
		return err
	}
	if !ok || ix.backend.Count() == 0 {
		return nil
	}

	storedDim, err := strconv.Atoi(stored)
	if err != nil {
		return ix.recoverFromRecords(ctx, "unreadable dimension sentinel")
	}
	if storedDim == ix.embedder.Dimensions() {
		return nil
	}

	slog.Warn("embedding_dimension_drift",
		slog.Int("stored", storedDim),
		slog.Int("active", ix.embedder.Dimensions()))
	return ix.recoverFromRecords(ctx, "embedding dimension drift")
}

// recoverFromRecords rebuilds the vector side from stored record texts.
// When nothing can be rebuilt the index cold-starts empty.
func (ix *Index) recoverFromRecords(ctx context.Context, reason string) error {
	records, err := ix.meta.List(0)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return ix.backend.Rebuild(ctx, nil)
	}

	slog.Info("rebuilding_vectors_from_records",
		slog.String("reason", reason),
		slog.Int("records", len(records)))

	texts := make([]string, len(records))
	for i, rec := range records {
		texts[i] = rec.Text
	}

	var vectors [][]float32
	if ix.mode == embed.ModeSparse {
		ix.corpus = texts
		vectors = ix.lexical().FitTransform(texts)
	} else {
		vectors, err = ix.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			slog.Error("vector_recovery_failed_cold_start",
				slog.String("error", err.Error()))
			ix.corpus = nil
			if err := ix.backend.Rebuild(ctx, nil); err != nil {
				return err
			}
			return ix.meta.ReplaceAll(nil)
		}
	}

	// Renumber 0..K-1 in case the stored ids had gaps.
	renumbered := renumber(records)
	if err := ix.backend.Rebuild(ctx, vectors); err != nil {
		return err
	}
	if err := ix.meta.ReplaceAll(renumbered); err != nil {
		return err
	}
	return ix.persist()
}

// lexical returns the sparse vectorizer. Only valid in sparse mode.
func (ix *Index) lexical() *embed.LexicalEmbedder {
	if lex, ok := ix.embedder.(*embed.LexicalEmbedder); ok {
		return lex
	}
	panic("lexical() called in dense mode")
}

// loadCorpus reads corpus.json, falling back to record texts when absent.
func (ix *Index) loadCorpus() error {
	path := filepath.Join(ix.opts.DataDir, corpusFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		records, err := ix.meta.List(0)
		if err != nil {
			return err
		}
		ix.corpus = make([]string, len(records))
		for i, rec := range records {
			ix.corpus[i] = rec.Text
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read corpus: %w", err)
	}

	if err := json.Unmarshal(data, &ix.corpus); err != nil {
		ce := ragerrors.CorruptArtifact(path, err)
		slog.Warn("persistence_read_error",
			slog.String("code", ce.Code),
			slog.String("artifact", path),
			slog.String("error", err.Error()))
		ix.corpus = nil
	}
	return nil
}

// Ingest embeds texts and appends them to the index. metas may be nil; when
// given it must match texts in length. Returns the number of texts stored.
func (ix *Index) Ingest(ctx context.Context, texts []string, metas []map[string]string) (int, error) {
	if len(texts) == 0 {
		return 0, ragerrors.Validation("texts must not be empty")
	}
	if metas != nil && len(metas) != len(texts) {
		return 0, ragerrors.Validation(
			fmt.Sprintf("texts and metas length mismatch: %d vs %d", len(texts), len(metas)))
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return 0, fmt.Errorf("index is closed")
	}

	if ix.mode == embed.ModeSparse {
		return ix.ingestSparse(ctx, texts, metas)
	}
	return ix.ingestDense(ctx, texts, metas)
}

// ingestDense appends: new vectors and records get ids N..N+len-1; nothing
// already stored is touched.
func (ix *Index) ingestDense(ctx context.Context, texts []string, metas []map[string]string) (int, error) {
	vectors, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, ragerrors.New(ragerrors.ErrCodeEmbeddingFailed, "ingest embedding failed", err)
	}

	start := ix.backend.Count()
	if err := ix.backend.Add(ctx, vectors); err != nil {
		return 0, fmt.Errorf("add vectors: %w", err)
	}

	records := make([]store.Record, len(texts))
	for i, text := range texts {
		records[i] = newRecord(int64(start+i), text, metaAt(metas, i))
	}
	if err := ix.meta.PutRecords(records); err != nil {
		// Drop the rows just added so vector count stays equal to record
		// count; otherwise the next ingest would assign gapped ids.
		if terr := ix.backend.Truncate(start); terr != nil {
			slog.Error("ingest_rollback_failed", slog.String("error", terr.Error()))
		}
		return 0, fmt.Errorf("store records: %w", err)
	}

	if err := ix.persist(); err != nil {
		return 0, err
	}

	slog.Info("ingested",
		slog.String("mode", string(ix.mode)),
		slog.Int("texts", len(texts)),
		slog.Int("total", ix.backend.Count()))
	return len(texts), nil
}

// ingestSparse rebuilds: the vocabulary is refit over the grown corpus, every
// text is re-embedded (the dimension may change), and ids are reassigned
// contiguously.
func (ix *Index) ingestSparse(ctx context.Context, texts []string, metas []map[string]string) (int, error) {
	existing, err := ix.meta.List(0)
	if err != nil {
		return 0, err
	}

	corpus := make([]string, 0, len(existing)+len(texts))
	records := make([]store.Record, 0, len(existing)+len(texts))
	for i, rec := range existing {
		rec.ID = int64(i)
		corpus = append(corpus, rec.Text)
		records = append(records, rec)
	}
	for i, text := range texts {
		records = append(records, newRecord(int64(len(existing)+i), text, metaAt(metas, i)))
		corpus = append(corpus, text)
	}

	vectors := ix.lexical().FitTransform(corpus)
	if err := ix.backend.Rebuild(ctx, vectors); err != nil {
		return 0, fmt.Errorf("rebuild vectors: %w", err)
	}
	if err := ix.meta.ReplaceAll(records); err != nil {
		return 0, fmt.Errorf("replace records: %w", err)
	}
	ix.corpus = corpus

	if err := ix.persist(); err != nil {
		return 0, err
	}

	slog.Info("ingested",
		slog.String("mode", string(ix.mode)),
		slog.Int("texts", len(texts)),
		slog.Int("total", ix.backend.Count()),
		slog.Int("dimensions", ix.backend.Dimensions()))
	return len(texts), nil
}

// Query returns up to k results, closest first. Query-time failures degrade
// to an empty result set with a log line; they never propagate to callers.
func (ix *Index) Query(ctx context.Context, text string, k int) []Result {
	if err := ix.ensureFitted(ctx); err != nil {
		slog.Warn("query_refit_failed", slog.String("error", err.Error()))
		return nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.closed || ix.backend.Count() == 0 {
		return nil
	}
	if k <= 0 || k > ix.opts.MaxK {
		k = ix.opts.MaxK
	}

	query, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		slog.Warn("query_embedding_failed", slog.String("error", err.Error()))
		return nil
	}

	hits, err := ix.backend.Search(ctx, query, k)
	if err != nil {
		slog.Warn("query_search_failed", slog.String("error", err.Error()))
		return nil
	}

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		rec, ok, err := ix.meta.Get(int64(hit.Row))
		if err != nil || !ok {
			slog.Warn("query_record_missing", slog.Int("row", hit.Row))
			continue
		}
		results = append(results, Result{Score: hit.Distance, Record: rec})
	}
	return results
}

// ensureFitted re-fits the sparse vectorizer from the persisted corpus after
// a restart. No-op in dense mode or when already fitted.
func (ix *Index) ensureFitted(ctx context.Context) error {
	if ix.mode != embed.ModeSparse {
		return nil
	}
	if ix.lexical().Fitted() {
		return nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.lexical().Fitted() || len(ix.corpus) == 0 {
		return nil
	}

	vectors := ix.lexical().FitTransform(ix.corpus)
	if ix.backend.Count() == len(vectors) && ix.backend.Dimensions() == len(vectors[0]) {
		// Persisted rows were produced by an identical fit; nothing to do.
		return nil
	}
	return ix.backend.Rebuild(ctx, vectors)
}

// RemoveByIDs deletes the given record ids via full rebuild. Returns the
// number of records removed; ids matching nothing remove zero.
func (ix *Index) RemoveByIDs(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, ragerrors.MissingDeleteTarget()
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return 0, fmt.Errorf("index is closed")
	}

	drop := make(map[int64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	return ix.removeLocked(ctx, func(rec store.Record) bool { return drop[rec.ID] })
}

// RemoveBySource deletes every record whose source matches. Returns the
// number of records removed; a source matching nothing removes zero.
func (ix *Index) RemoveBySource(ctx context.Context, source string) (int, error) {
	if source == "" {
		return 0, ragerrors.MissingDeleteTarget()
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return 0, fmt.Errorf("index is closed")
	}
	return ix.removeLocked(ctx, func(rec store.Record) bool { return rec.Source == source })
}

// removeLocked is the shared rebuild-on-delete path. Caller holds the
// exclusive lock. Nothing is mutated until every kept record has been
// validated and re-embedded, so any failure leaves the prior state intact.
func (ix *Index) removeLocked(ctx context.Context, shouldDrop func(store.Record) bool) (int, error) {
	records, err := ix.meta.List(0)
	if err != nil {
		return 0, err
	}

	kept := make([]store.Record, 0, len(records))
	removed := 0
	for _, rec := range records {
		if shouldDrop(rec) {
			removed++
		} else {
			kept = append(kept, rec)
		}
	}
	if removed == 0 {
		// A target matching nothing is not an error; report zero removals
		// and leave the index untouched.
		return 0, nil
	}

	// Rebuild requires re-embedding, so every kept record must carry its
	// text. Abort before touching anything otherwise.
	texts := make([]string, len(kept))
	for i, rec := range kept {
		if rec.Text == "" {
			return 0, ragerrors.Rebuild(
				fmt.Sprintf("record %d has no stored text; cannot rebuild", rec.ID), nil)
		}
		texts[i] = rec.Text
	}

	var vectors [][]float32
	if ix.mode == embed.ModeSparse {
		if len(texts) > 0 {
			vectors = ix.lexical().FitTransform(texts)
		} else {
			ix.lexical().Fit(nil)
		}
	} else if len(texts) > 0 {
		vectors, err = ix.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return 0, ragerrors.Rebuild("re-embedding kept texts failed", err)
		}
	}

	if err := ix.backend.Rebuild(ctx, vectors); err != nil {
		return 0, ragerrors.Rebuild("vector backend rebuild failed", err)
	}
	if err := ix.meta.ReplaceAll(renumber(kept)); err != nil {
		return 0, ragerrors.Rebuild("metadata replace failed", err)
	}
	if ix.mode == embed.ModeSparse {
		ix.corpus = texts
	}

	if err := ix.persist(); err != nil {
		return 0, err
	}

	slog.Info("removed",
		slog.Int("removed", removed),
		slog.Int("remaining", len(kept)))
	return removed, nil
}

// Metas lists stored records ascending by id. limit <= 0 lists everything.
func (ix *Index) Metas(limit int) ([]store.Record, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.meta.List(limit)
}

// GroupedSource is the per-source view of the index.
type GroupedSource struct {
	Source string `json:"source"`
	Count  int    `json:"count"`
}

// GroupedBySource summarizes the index per source document, sorted by source.
func (ix *Index) GroupedBySource() ([]GroupedSource, error) {
	records, err := ix.Metas(0)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, rec := range records {
		counts[rec.Source]++
	}
	groups := make([]GroupedSource, 0, len(counts))
	for source, n := range counts {
		groups = append(groups, GroupedSource{Source: source, Count: n})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Source < groups[j].Source })
	return groups, nil
}

// Count returns the number of indexed chunks.
func (ix *Index) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.backend.Count()
}

// Mode returns the active embedding strategy.
func (ix *Index) Mode() embed.Mode {
	return ix.mode
}

// Dimensions returns the current vector dimension.
func (ix *Index) Dimensions() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.backend.Dimensions()
}

// ModelName returns the active embedding model identifier.
func (ix *Index) ModelName() string {
	return ix.embedder.ModelName()
}

// persist rewrites all artifacts. Caller holds the exclusive lock (or is in
// single-threaded Open). No-op for in-memory indexes.
func (ix *Index) persist() error {
	if ix.opts.InMemory {
		return nil
	}

	if err := ix.backend.Save(ix.vectorsPath()); err != nil {
		return ragerrors.New(ragerrors.ErrCodeArtifactWrite, "save vectors", err)
	}

	if err := ix.meta.SetState(store.StateKeyDimension,
		strconv.Itoa(ix.backend.Dimensions())); err != nil {
		return ragerrors.New(ragerrors.ErrCodeArtifactWrite, "save dimension sentinel", err)
	}
	if err := ix.meta.SetState(store.StateKeyMode, string(ix.mode)); err != nil {
		return ragerrors.New(ragerrors.ErrCodeArtifactWrite, "save mode", err)
	}
	if err := ix.meta.SetState(store.StateKeyModel, ix.embedder.ModelName()); err != nil {
		return ragerrors.New(ragerrors.ErrCodeArtifactWrite, "save model", err)
	}

	if ix.mode == embed.ModeSparse {
		if err := ix.saveCorpus(); err != nil {
			return ragerrors.New(ragerrors.ErrCodeArtifactWrite, "save corpus", err)
		}
	}
	return nil
}

// saveCorpus writes corpus.json atomically (temp file + rename).
func (ix *Index) saveCorpus() error {
	path := filepath.Join(ix.opts.DataDir, corpusFile)
	data, err := json.Marshal(ix.corpus)
	if err != nil {
		return fmt.Errorf("encode corpus: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write corpus: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename corpus: %w", err)
	}
	return nil
}

// Close releases the backend, metadata store, embedder, and directory lock.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return nil
	}
	ix.closed = true

	var firstErr error
	if err := ix.backend.Close(); err != nil {
		firstErr = err
	}
	if err := ix.meta.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := ix.embedder.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if ix.lock != nil {
		if err := ix.lock.Unlock(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// newRecord builds a record from a text and its optional meta map. The
// "source" and "chunk" keys map to dedicated fields; everything else lands
// in Extra.
func newRecord(id int64, text string, meta map[string]string) store.Record {
	rec := store.Record{ID: id, Source: "inline", Text: text}
	if meta == nil {
		return rec
	}

	var extra map[string]string
	for k, v := range meta {
		switch k {
		case "source":
			rec.Source = v
		case "chunk":
			if n, err := strconv.Atoi(v); err == nil {
				rec.ChunkIdx = n
			}
		default:
			if extra == nil {
				extra = make(map[string]string)
			}
			extra[k] = v
		}
	}
	rec.Extra = extra
	return rec
}

// metaAt returns metas[i] or nil when metas is nil.
func metaAt(metas []map[string]string, i int) map[string]string {
	if metas == nil {
		return nil
	}
	return metas[i]
}

// renumber reassigns contiguous ids 0..K-1 preserving order.
func renumber(records []store.Record) []store.Record {
	out := make([]store.Record, len(records))
	for i, rec := range records {
		rec.ID = int64(i)
		out[i] = rec
	}
	return out
}
