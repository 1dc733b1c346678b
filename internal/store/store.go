package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// MemoryPath opens a private in-memory cache. Nothing is deleted on reset.
const MemoryPath = ":memory:"

const defaultBusyTimeout = 5 * time.Second

// Store is an open, schema-compatible build cache.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

type options struct {
	logger      *slog.Logger
	busyTimeout time.Duration
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger used for reset and diagnostic messages.
// Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithBusyTimeout sets how long SQLite waits on a locked database before
// giving up with a busy error. Default: 5 seconds.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) {
		o.busyTimeout = d
	}
}

// Open creates or opens the cache at path and returns it ready for use.
//
// If the file is missing, unreadable as a cache, or carries a different
// schema version, it is deleted and recreated empty. Failures to open,
// delete or recreate are returned as *DBError.
//
// The caller must Close the store; With does that automatically.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	o := options{
		logger:      slog.Default(),
		busyTimeout: defaultBusyTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	db, err := openOrReset(ctx, path, o)
	if err != nil {
		return nil, err
	}

	return &Store{db: db, logger: o.logger}, nil
}

// With opens the cache at path, passes it to fn and closes it when fn
// returns, panics included. A close failure is joined with fn's error.
func With(ctx context.Context, path string, fn func(*Store) error, opts ...Option) (err error) {
	s, err := Open(ctx, path, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := s.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close cache: %w", closeErr))
		}
	}()

	return fn(s)
}

// Close releases the underlying connection.
// Calling Close more than once is safe.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	db := s.db
	s.db = nil
	return db.Close()
}

// conn returns the live handle or ErrClosed.
func (s *Store) conn() (*sql.DB, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	return s.db, nil
}

// connect opens path and configures the connection pool for SQLite.
func connect(ctx context.Context, path string, busyTimeout time.Duration) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	// SQLite only supports one writer at a time, so limit connections.
	// This also pins a :memory: database to a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	// busy_timeout never reads the file, so it is safe to apply before
	// the schema check.
	pragma := fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds())
	if err := execPragmas(ctx, db, []string{pragma}); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// applyReadyPragmas configures a database that passed the schema check.
// An in-memory database has no journal file to put in WAL mode.
func applyReadyPragmas(ctx context.Context, db *sql.DB, path string) error {
	pragmas := []string{"PRAGMA foreign_keys = ON"}
	if path != MemoryPath {
		pragmas = append(pragmas,
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = NORMAL",
		)
	}
	return execPragmas(ctx, db, pragmas)
}

func execPragmas(ctx context.Context, db *sql.DB, pragmas []string) error {
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
