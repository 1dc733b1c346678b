package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/roach88/isengard/internal/store"
)

// withStore opens the cache at path for the duration of fn.
// Failures to bring the cache up map to ExitCommandError, or ExitBusy when
// another process holds the lock.
func withStore(cmd *cobra.Command, opts *RootOptions, path string, fn func(context.Context, *store.Store) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	err := store.With(ctx, path, func(s *store.Store) error {
		return fn(ctx, s)
	}, storeOptions(opts, cmd)...)

	var exitErr *ExitError
	if store.IsDBError(err) && !errors.As(err, &exitErr) {
		return storeExitError(ExitCommandError, "failed to open cache", err)
	}
	return err
}

// storeOptions translates the global flags into store options.
func storeOptions(opts *RootOptions, cmd *cobra.Command) []store.Option {
	return []store.Option{
		store.WithLogger(newLogger(opts, cmd.ErrOrStderr())),
		store.WithBusyTimeout(opts.BusyTimeout),
	}
}

// storeExitError wraps a store failure with code, or with ExitBusy when the
// cache was locked so callers can tell a retryable failure apart.
func storeExitError(code int, message string, err error) *ExitError {
	if store.IsBusy(err) {
		return WrapExitError(ExitBusy, message+" (cache is busy, retry)", err)
	}
	return WrapExitError(code, message, err)
}

// errorCode picks the JSON error code for a command failure.
func errorCode(err error) string {
	var exitErr *ExitError
	switch {
	case store.IsBusy(err):
		return CodeBusy
	case store.IsDBError(err):
		return CodeCacheOpen
	case !errors.As(err, &exitErr):
		return CodeFailed
	case exitErr.Code == ExitCommandError:
		return CodeInvalidInput
	case exitErr.Err == nil:
		return CodeNotFound
	default:
		return CodeFailed
	}
}

// reportError writes a command failure through the formatter when the
// output format is JSON and marks it reported. Text mode leaves printing
// to main.
func reportError(opts *RootOptions, cmd *cobra.Command, err error) error {
	if err == nil || opts.Format != "json" {
		return err
	}

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		exitErr = WrapExitError(ExitFailure, "command failed", err)
	}

	var details interface{}
	if exitErr.Err != nil {
		details = exitErr.Err.Error()
	}
	_ = newFormatter(opts, cmd).Error(errorCode(err), exitErr.Message, details)

	exitErr.Reported = true
	return exitErr
}

// addDatabaseFlag registers the required --db flag on cmd.
func addDatabaseFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVar(target, "db", "", "path to the cache database (required)")
	_ = cmd.MarkFlagRequired("db")
}
