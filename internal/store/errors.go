package store

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// DBErrorOp identifies which step of opening the cache failed.
type DBErrorOp string

const (
	// OpOpen indicates the backing file could not be opened or created.
	OpOpen DBErrorOp = "open"

	// OpDelete indicates an incompatible cache file could not be removed.
	OpDelete DBErrorOp = "delete"

	// OpRecreate indicates the fresh schema could not be written after a reset.
	OpRecreate DBErrorOp = "recreate"
)

// DBError reports a failure to bring a cache file into the ready state.
// Schema mismatches are not errors; they trigger a reset instead.
type DBError struct {
	Op   DBErrorOp
	Path string
	Err  error
}

// Error implements the error interface.
func (e *DBError) Error() string {
	switch e.Op {
	case OpDelete:
		return fmt.Sprintf("cannot delete incompatible cache at %s: %v", e.Path, e.Err)
	case OpRecreate:
		return fmt.Sprintf("cannot recreate cache at %s: %v", e.Path, e.Err)
	default:
		return fmt.Sprintf("cannot open/create cache at %s: %v", e.Path, e.Err)
	}
}

func (e *DBError) Unwrap() error {
	return e.Err
}

// IsDBError returns true if err is or wraps a *DBError.
func IsDBError(err error) bool {
	var dbErr *DBError
	return errors.As(err, &dbErr)
}

var (
	// ErrClosed is returned by operations on a Store after Close.
	ErrClosed = errors.New("store is closed")

	// ErrEmptyFingerprint is returned when a rule fingerprint has no bytes.
	ErrEmptyFingerprint = errors.New("empty rule fingerprint")

	// ErrConstraint marks a uniqueness or foreign key violation caused by the
	// caller, such as the same target listed twice in one RecordRun call.
	ErrConstraint = errors.New("constraint violation")
)

// IsBusy reports whether err is SQLite lock contention that outlived the
// busy timeout. The operation had no effect and may be retried.
func IsBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

// classify tags constraint failures with ErrConstraint, keeping the driver
// error in the chain.
func classify(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %w", ErrConstraint, err)
	}
	return err
}
