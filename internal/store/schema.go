package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - version, rule_run and target_output tables
//
// Any other value on disk causes a destructive reset.
const SchemaVersion = 1

// VersionMagic keys the single row of the version table. Its presence also
// distinguishes a cache file from an unrelated SQLite database.
const VersionMagic = 76388

// sidecarSuffixes are the files SQLite may keep next to the main database.
var sidecarSuffixes = []string{"-wal", "-shm", "-journal"}

// openOrReset opens path and verifies its version marker. An incompatible
// database is closed, deleted and recreated from scratch.
func openOrReset(ctx context.Context, path string, o options) (*sql.DB, error) {
	logger := o.logger.With("path", path)

	db, err := connect(ctx, path, o.busyTimeout)
	switch {
	case err == nil:
		version, err := readVersion(ctx, db)
		if err == nil && version == SchemaVersion {
			if err := applyReadyPragmas(ctx, db, path); err != nil {
				db.Close()
				return nil, &DBError{Op: OpOpen, Path: path, Err: err}
			}
			return db, nil
		}
		logIncompatible(logger, version, err)
	case isUnreadable(err):
		// The driver reads the header while connecting, so a file that is
		// not a database at all fails here rather than at the version check.
		logger.Warn("cache file unreadable, resetting", "reason", err)
	default:
		return nil, &DBError{Op: OpOpen, Path: path, Err: err}
	}

	if path != MemoryPath {
		if db != nil {
			db.Close()
		}
		if err := removeStoreFiles(path); err != nil {
			return nil, err
		}
		db, err = connect(ctx, path, o.busyTimeout)
		if err != nil {
			return nil, &DBError{Op: OpRecreate, Path: path, Err: err}
		}
	}

	if err := createSchema(ctx, db); err != nil {
		db.Close()
		return nil, &DBError{Op: OpRecreate, Path: path, Err: err}
	}
	if err := applyReadyPragmas(ctx, db, path); err != nil {
		db.Close()
		return nil, &DBError{Op: OpRecreate, Path: path, Err: err}
	}

	logger.Info("cache ready", "schema_version", SchemaVersion)
	return db, nil
}

// logIncompatible reports why a readable database is being reset.
// A new file has no version table, so that case is not a warning.
func logIncompatible(logger *slog.Logger, version int, err error) {
	switch {
	case err == nil:
		logger.Warn("cache schema version mismatch, resetting",
			"found_version", version,
			"want_version", SchemaVersion)
	case errors.Is(err, sql.ErrNoRows):
		logger.Warn("cache version marker missing, resetting")
	default:
		logger.Info("cache not initialized, creating", "reason", err)
	}
}

// isUnreadable reports whether err means the file exists but is not a
// usable SQLite database.
func isUnreadable(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrNotADB || sqliteErr.Code == sqlite3.ErrCorrupt
}

// readVersion returns the schema version recorded in the marker row.
// Any error means the database is not a compatible cache.
func readVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	err := db.QueryRowContext(ctx,
		"SELECT value FROM version WHERE magic = ?", VersionMagic,
	).Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// createSchema creates all tables and the version marker as one unit.
func createSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO version(magic, value) VALUES(?, ?)", VersionMagic, SchemaVersion,
	); err != nil {
		return fmt.Errorf("insert version marker: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// removeStoreFiles deletes the database file and its SQLite sidecars.
// Files that are already gone are not an error.
func removeStoreFiles(path string) error {
	paths := []string{path}
	for _, suffix := range sidecarSuffixes {
		paths = append(paths, path+suffix)
	}

	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return &DBError{Op: OpDelete, Path: path, Err: err}
		}
	}
	return nil
}

// Reset unconditionally discards the cache at path and recreates it empty.
// The file must not be open elsewhere in this process.
func Reset(ctx context.Context, path string, opts ...Option) error {
	if path != MemoryPath {
		if err := removeStoreFiles(path); err != nil {
			return err
		}
	}

	s, err := Open(ctx, path, opts...)
	if err != nil {
		return err
	}
	if err := s.Close(); err != nil {
		return fmt.Errorf("close cache: %w", err)
	}
	return nil
}
