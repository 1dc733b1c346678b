package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/isengard/internal/store"
)

// ResetOptions holds flags for the reset command.
type ResetOptions struct {
	*RootOptions
	Database string
}

// ResetResult reports a discarded cache.
type ResetResult struct {
	Path string `json:"path"`
}

// WriteText implements Text.
func (r ResetResult) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "reset %s\n", r.Path)
	return err
}

// NewResetCommand creates the reset command.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Discard every recorded run",
		Long: `Delete the cache file and recreate it empty.

Every rule will be rebuilt on the next build. No other process may have
the cache open.

Examples:
  isengard reset --db ./.isengard.db`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return reportError(opts.RootOptions, cmd, runReset(opts, cmd))
		},
	}

	addDatabaseFlag(cmd, &opts.Database)

	return cmd
}

func runReset(opts *ResetOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	err := store.Reset(ctx, opts.Database, storeOptions(opts.RootOptions, cmd)...)
	if err != nil {
		return storeExitError(ExitCommandError, "failed to reset cache", err)
	}

	return newFormatter(opts.RootOptions, cmd).Success(ResetResult{Path: opts.Database})
}
