package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
)

// quietLogger suppresses reset logs in tests.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// createTestStore creates a new file-backed store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := Open(context.Background(), path, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// out builds an Output for test tables.
func out(target string, fingerprint ...byte) Output {
	return Output{Target: TargetID(target), Fingerprint: fingerprint}
}
