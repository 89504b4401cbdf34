package featindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

func openSQLite(ctx context.Context, path string, readOnly bool) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("open sqlite: path is empty")
	}

	dsn := path
	if readOnly {
		dsn = "file:" + path + "?mode=ro"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	err = db.PingContext(ctx)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	err = applyPragmas(ctx, db, readOnly)
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	return db, nil
}

// applyPragmas tunes for a write-once, read-many file. Builds write without
// a journal because a failed build discards the temp file anyway.
func applyPragmas(ctx context.Context, db *sql.DB, readOnly bool) error {
	statements := []string{
		"PRAGMA query_only = ON",
		"PRAGMA mmap_size = 268435456",
		"PRAGMA cache_size = -20000",
		"PRAGMA temp_store = MEMORY",
	}

	if !readOnly {
		statements = []string{
			"PRAGMA journal_mode = OFF",
			"PRAGMA synchronous = FULL",
			"PRAGMA temp_store = MEMORY",
		}
	}

	for _, stmt := range statements {
		_, err := db.ExecContext(ctx, stmt)
		if err != nil {
			return fmt.Errorf("apply pragma %q: %w", stmt, err)
		}
	}

	return nil
}

func userVersion(ctx context.Context, db *sql.DB) (int, error) {
	row := db.QueryRowContext(ctx, "PRAGMA user_version")

	var version int

	err := row.Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read user_version: %w", err)
	}

	return version, nil
}
