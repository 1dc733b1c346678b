package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/isengard/internal/store"
)

// LookupOptions holds flags for the lookup command.
type LookupOptions struct {
	*RootOptions
	Database string
}

// LookupResult reports whether a rule fingerprint has a recorded run.
type LookupResult struct {
	Fingerprint string `json:"fingerprint"`
	Found       bool   `json:"found"`
	RunID       int64  `json:"run_id,omitempty"`
}

// WriteText implements Text.
func (r LookupResult) WriteText(w io.Writer) error {
	if !r.Found {
		_, err := fmt.Fprintf(w, "%s: not found\n", r.Fingerprint)
		return err
	}
	_, err := fmt.Fprintf(w, "%s: run %d\n", r.Fingerprint, r.RunID)
	return err
}

// NewLookupCommand creates the lookup command.
func NewLookupCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LookupOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "lookup FINGERPRINT",
		Short: "Find the run recorded for a rule fingerprint",
		Long: `Find the run recorded for a hex-encoded rule fingerprint.

Examples:
  isengard lookup --db ./.isengard.db 01
  isengard lookup --db ./.isengard.db 0xdeadbeef --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return reportError(opts.RootOptions, cmd, runLookup(opts, cmd, args[0]))
		},
	}

	addDatabaseFlag(cmd, &opts.Database)

	return cmd
}

func runLookup(opts *LookupOptions, cmd *cobra.Command, arg string) error {
	fingerprint, err := decodeHex(arg)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid fingerprint", err)
	}

	return withStore(cmd, opts.RootOptions, opts.Database, func(ctx context.Context, s *store.Store) error {
		id, ok, err := s.FetchPreviousRun(ctx, fingerprint)
		if err != nil {
			return storeExitError(ExitFailure, "failed to look up run", err)
		}

		return newFormatter(opts.RootOptions, cmd).Success(LookupResult{
			Fingerprint: arg,
			Found:       ok,
			RunID:       int64(id),
		})
	})
}

// ShowOptions holds flags for the show command.
type ShowOptions struct {
	*RootOptions
	Database string
	Target   string // optional - single target only
}

// ShowResult lists the outputs recorded for a run.
type ShowResult struct {
	RunID   int64         `json:"run_id"`
	Outputs []OutputEntry `json:"outputs"`
}

// WriteText implements Text.
func (r ShowResult) WriteText(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "run %d: %d outputs\n", r.RunID, len(r.Outputs)); err != nil {
		return err
	}
	for _, o := range r.Outputs {
		if _, err := fmt.Fprintf(w, "%s %s\n", o.Target, o.Fingerprint); err != nil {
			return err
		}
	}
	return nil
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "List the output fingerprints of a run",
		Long: `List the output fingerprints recorded for a run, ordered by target.

Examples:
  isengard show --db ./.isengard.db 1
  isengard show --db ./.isengard.db 1 --target //a:build`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return reportError(opts.RootOptions, cmd, runShow(opts, cmd, args[0]))
		},
	}

	addDatabaseFlag(cmd, &opts.Database)
	cmd.Flags().StringVar(&opts.Target, "target", "", "show a single target")

	return cmd
}

func runShow(opts *ShowOptions, cmd *cobra.Command, arg string) error {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid run id", err)
	}
	run := store.RunID(id)

	return withStore(cmd, opts.RootOptions, opts.Database, func(ctx context.Context, s *store.Store) error {
		var outputs []store.Output
		if opts.Target != "" {
			fp, ok, err := s.FetchOutputFingerprint(ctx, run, store.TargetID(opts.Target))
			if err != nil {
				return storeExitError(ExitFailure, "failed to fetch output", err)
			}
			if !ok {
				return NewExitError(ExitFailure,
					fmt.Sprintf("no output %q recorded for run %d", opts.Target, id))
			}
			outputs = []store.Output{{Target: store.TargetID(opts.Target), Fingerprint: fp}}
		} else {
			outputs, err = s.ListOutputs(ctx, run)
			if err != nil {
				return storeExitError(ExitFailure, "failed to list outputs", err)
			}
		}

		return newFormatter(opts.RootOptions, cmd).Success(ShowResult{
			RunID:   id,
			Outputs: toEntries(outputs),
		})
	})
}
