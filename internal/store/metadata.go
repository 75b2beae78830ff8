package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// Index state keys. State lives in its own table so it can never leak into
// record listings or counts.
const (
	// StateKeyDimension is the embedding dimension the stored vectors were
	// built with. Compared against the active embedder at startup to detect
	// drift.
	StateKeyDimension = "dim"

	// StateKeyMode records the embedding strategy ("dense" or "sparse").
	StateKeyMode = "mode"

	// StateKeyModel records the embedding model identifier.
	StateKeyModel = "model"

	// StateKeyBackend records the vector backend name.
	StateKeyBackend = "backend"
)

// Record is one indexed chunk. ID equals the chunk's row in the vector
// backend; ids are contiguous 0..K-1 at all times.
type Record struct {
	ID       int64             `json:"id"`
	Source   string            `json:"source"`
	ChunkIdx int               `json:"chunk_idx"`
	Text     string            `json:"text"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// MetadataStore persists chunk records and index state in SQLite.
type MetadataStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// validateMetadataIntegrity checks a SQLite metadata file before opening.
func validateMetadataIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // will be created
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// NewMetadataStore opens (or creates) the metadata database at path.
// An empty path creates an in-memory store for testing.
func NewMetadataStore(path string) (*MetadataStore, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}

		if validErr := validateMetadataIntegrity(path); validErr != nil {
			slog.Warn("metadata_store_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))

			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, fmt.Errorf("metadata store corrupted at %s and cannot remove: %w (original error: %v)",
					path, removeErr, validErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")

			slog.Info("metadata_store_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, please reindex"))
		}

		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer prevents lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL mode must be set via PRAGMA for modernc.org/sqlite.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	m := &MetadataStore{db: db, path: path}
	if err := m.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return m, nil
}

func (m *MetadataStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id        INTEGER PRIMARY KEY,
		source    TEXT NOT NULL,
		chunk_idx INTEGER NOT NULL DEFAULT 0,
		text      TEXT NOT NULL,
		extra     TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_records_source ON records(source);

	CREATE TABLE IF NOT EXISTS index_state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := m.db.Exec(schema)
	return err
}

// PutRecords inserts records with their assigned ids in one transaction.
func (m *MetadataStore) PutRecords(records []Record) error {
	if len(records) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT INTO records (id, source, chunk_idx, text, extra)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, rec := range records {
		extra, err := marshalExtra(rec.Extra)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(rec.ID, rec.Source, rec.ChunkIdx, rec.Text, extra); err != nil {
			return fmt.Errorf("insert record %d: %w", rec.ID, err)
		}
	}

	return tx.Commit()
}

// ReplaceAll atomically swaps the full record set. Used after a rebuild, when
// the kept records have been renumbered to 0..K-1.
func (m *MetadataStore) ReplaceAll(records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM records`); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}

	for _, rec := range records {
		extra, err := marshalExtra(rec.Extra)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT INTO records (id, source, chunk_idx, text, extra)
			VALUES (?, ?, ?, ?, ?)`,
			rec.ID, rec.Source, rec.ChunkIdx, rec.Text, extra); err != nil {
			return fmt.Errorf("insert record %d: %w", rec.ID, err)
		}
	}

	return tx.Commit()
}

// Get returns the record with the given id.
func (m *MetadataStore) Get(id int64) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Record{}, false, fmt.Errorf("store is closed")
	}

	row := m.db.QueryRow(`SELECT id, source, chunk_idx, text, extra FROM records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// List returns records ordered by id. A limit <= 0 returns everything.
// Index state never appears here.
func (m *MetadataStore) List(limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("store is closed")
	}

	query := `SELECT id, source, chunk_idx, text, extra FROM records ORDER BY id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := m.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// IDsBySource returns the ids of all records for the given source.
func (m *MetadataStore) IDsBySource(source string) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := m.db.Query(`SELECT id FROM records WHERE source = ? ORDER BY id`, source)
	if err != nil {
		return nil, fmt.Errorf("query by source: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Count returns the number of records, excluding index state.
func (m *MetadataStore) Count() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, fmt.Errorf("store is closed")
	}

	var n int
	if err := m.db.QueryRow(`SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// GetState returns the value for an index state key.
func (m *MetadataStore) GetState(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return "", false, fmt.Errorf("store is closed")
	}

	var value string
	err := m.db.QueryRow(`SELECT value FROM index_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get state %s: %w", key, err)
	}
	return value, true, nil
}

// SetState upserts an index state key.
func (m *MetadataStore) SetState(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := m.db.Exec(`INSERT INTO index_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}

// Path returns the database file path ("" for in-memory).
func (m *MetadataStore) Path() string {
	return m.path
}

// Close closes the database.
func (m *MetadataStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var rec Record
	var extra sql.NullString
	if err := s.Scan(&rec.ID, &rec.Source, &rec.ChunkIdx, &rec.Text, &extra); err != nil {
		return Record{}, err
	}
	if extra.Valid && extra.String != "" {
		if err := json.Unmarshal([]byte(extra.String), &rec.Extra); err != nil {
			return Record{}, fmt.Errorf("decode extra for record %d: %w", rec.ID, err)
		}
	}
	return rec, nil
}

func marshalExtra(extra map[string]string) (any, error) {
	if len(extra) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("encode extra: %w", err)
	}
	return string(data), nil
}
