// Package featindex is the block index of a feature file, stored in SQLite.
//
// The index maps each reference to the chunks that may hold its features,
// keyed by the smallest start and largest end of that reference's records
// within the chunk. A chunk holding several references appears once per
// reference. The index carries the file ID of the data file it describes so
// that a stale index is detected at load time.
package featindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/natefinch/atomic"

	"github.com/calvinalkan/featstore/pkg/feature"
)

const schemaVersion = 1

var (
	// ErrSchemaVersion reports an index written by an incompatible version.
	ErrSchemaVersion = errors.New("featindex: unsupported schema version")

	// ErrCorrupt reports an index whose contents are inconsistent.
	ErrCorrupt = errors.New("featindex: corrupt index")
)

// ChunkEntry records the extent of one reference's records within a chunk.
type ChunkEntry struct {
	RefID    int
	MinStart int64
	MaxEnd   int64
	Offset   int64 // frame offset in the data file
	Length   int64 // frame length in bytes
	Records  int   // records of RefID in the chunk
}

// Manifest is everything [Create] writes.
type Manifest struct {
	FileID     uuid.UUID
	References []feature.Reference
	Chunks     []ChunkEntry
}

// Index is an open, read-only block index. Reference metadata is held in
// memory; chunk lookups query SQLite. Safe for concurrent use.
type Index struct {
	db     *sql.DB
	fileID uuid.UUID
	refs   []feature.Reference
	byName map[string]int // regularized name -> ref id
}

// Options configures [Open].
type Options struct {
	// Regularize canonicalizes reference names for [Index.RefID]. Defaults
	// to [feature.RegularizeName].
	Regularize func(string) string
}

// Create writes a new index at path, replacing any existing file
// atomically.
func Create(ctx context.Context, path string, m Manifest) (err error) {
	if path == "" {
		return errors.New("featindex: path is empty")
	}

	tmp := fmt.Sprintf("%s.tmp-%d", path, os.Getpid())
	_ = os.Remove(tmp)

	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	db, err := openSQLite(ctx, tmp, false)
	if err != nil {
		return err
	}

	err = writeManifest(ctx, db, m)

	closeErr := db.Close()
	if err != nil {
		return err
	}

	if closeErr != nil {
		return fmt.Errorf("close sqlite: %w", closeErr)
	}

	if err := atomic.ReplaceFile(tmp, path); err != nil {
		return fmt.Errorf("replace index: %w", err)
	}

	return nil
}

// Open opens the index at path read-only and loads its reference table.
func Open(ctx context.Context, path string, opts Options) (*Index, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("featindex: %w", err)
	}

	regularize := opts.Regularize
	if regularize == nil {
		regularize = feature.RegularizeName
	}

	db, err := openSQLite(ctx, path, true)
	if err != nil {
		return nil, err
	}

	ix := &Index{db: db, byName: map[string]int{}}

	if err := ix.load(ctx, regularize); err != nil {
		_ = db.Close()

		return nil, err
	}

	return ix, nil
}

func (ix *Index) load(ctx context.Context, regularize func(string) string) error {
	version, err := userVersion(ctx, ix.db)
	if err != nil {
		return err
	}

	if version != schemaVersion {
		return fmt.Errorf("%w: got %d, want %d", ErrSchemaVersion, version, schemaVersion)
	}

	var rawID []byte

	err = ix.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = 'file_id'").Scan(&rawID)
	if err != nil {
		return fmt.Errorf("%w: read file id: %w", ErrCorrupt, err)
	}

	ix.fileID, err = uuid.FromBytes(rawID)
	if err != nil {
		return fmt.Errorf("%w: file id: %w", ErrCorrupt, err)
	}

	rows, err := ix.db.QueryContext(ctx, "SELECT id, name, length FROM refs ORDER BY id")
	if err != nil {
		return fmt.Errorf("query refs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ref feature.Reference

		if err := rows.Scan(&ref.ID, &ref.Name, &ref.Length); err != nil {
			return fmt.Errorf("scan ref: %w", err)
		}

		canonical := regularize(ref.Name)
		if prev, dup := ix.byName[canonical]; dup {
			return fmt.Errorf("%w: references %d and %d both regularize to %q", ErrCorrupt, prev, ref.ID, canonical)
		}

		ix.byName[canonical] = ref.ID
		ix.refs = append(ix.refs, ref)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate refs: %w", err)
	}

	return nil
}

// FileID returns the ID of the data file the index was built for.
func (ix *Index) FileID() uuid.UUID { return ix.fileID }

// RefID looks up a regularized reference name.
func (ix *Index) RefID(canonical string) (int, bool) {
	id, ok := ix.byName[canonical]

	return id, ok
}

// References returns the reference table ordered by id. The slice is shared;
// callers must not modify it.
func (ix *Index) References() []feature.Reference { return ix.refs }

// ResolveChunks returns the chunks with records on refID that may overlap
// [start, end], ordered by offset. Size is the frame length.
func (ix *Index) ResolveChunks(ctx context.Context, refID int, start, end int64) ([]feature.Chunk, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT chunk_offset, chunk_length FROM chunks
		WHERE ref_id = ? AND min_start <= ? AND max_end >= ?
		ORDER BY chunk_offset`, refID, end, start)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []feature.Chunk

	for rows.Next() {
		var id feature.ChunkID

		if err := rows.Scan(&id.Offset, &id.Length); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}

		chunks = append(chunks, feature.Chunk{ID: id, Size: id.Length})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}

	return chunks, nil
}

// Close closes the database handle.
func (ix *Index) Close() error {
	return ix.db.Close()
}

func writeManifest(ctx context.Context, db *sql.DB, m Manifest) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin txn: %w", err)
	}

	committed := false

	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := createSchema(ctx, tx); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "INSERT INTO meta (key, value) VALUES ('file_id', ?)", m.FileID[:]); err != nil {
		return fmt.Errorf("insert file id: %w", err)
	}

	insertRef, err := tx.PrepareContext(ctx, "INSERT INTO refs (id, name, canonical, length) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare ref insert: %w", err)
	}

	defer func() { _ = insertRef.Close() }()

	for _, ref := range m.References {
		_, err := insertRef.ExecContext(ctx, ref.ID, ref.Name, feature.RegularizeName(ref.Name), ref.Length)
		if err != nil {
			return fmt.Errorf("insert ref %s: %w", ref.Name, err)
		}
	}

	insertChunk, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (ref_id, min_start, max_end, chunk_offset, chunk_length, records)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}

	defer func() { _ = insertChunk.Close() }()

	entries := append([]ChunkEntry(nil), m.Chunks...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Offset < entries[j].Offset })

	for _, c := range entries {
		_, err := insertChunk.ExecContext(ctx, c.RefID, c.MinStart, c.MaxEnd, c.Offset, c.Length, c.Records)
		if err != nil {
			return fmt.Errorf("insert chunk ref=%d @%d: %w", c.RefID, c.Offset, err)
		}
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit txn: %w", err)
	}

	committed = true

	return nil
}

func createSchema(ctx context.Context, tx *sql.Tx) error {
	statements := []string{
		`CREATE TABLE meta (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL
		) WITHOUT ROWID`,
		`CREATE TABLE refs (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			canonical TEXT NOT NULL,
			length INTEGER NOT NULL
		)`,
		`CREATE TABLE chunks (
			ref_id INTEGER NOT NULL REFERENCES refs(id),
			min_start INTEGER NOT NULL,
			max_end INTEGER NOT NULL,
			chunk_offset INTEGER NOT NULL,
			chunk_length INTEGER NOT NULL,
			records INTEGER NOT NULL,
			PRIMARY KEY (ref_id, chunk_offset)
		) WITHOUT ROWID`,
		"CREATE INDEX idx_chunks_ref_start ON chunks(ref_id, min_start)",
	}

	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %q: %w", stmt, err)
		}
	}

	return nil
}
