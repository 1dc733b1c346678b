package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/isengard/internal/store"
)

// InfoOptions holds flags for the info command.
type InfoOptions struct {
	*RootOptions
	Database string
}

// InfoResult summarizes a cache file.
type InfoResult struct {
	Path          string `json:"path"`
	SchemaVersion int    `json:"schema_version"`
	Runs          int    `json:"runs"`
	Outputs       int    `json:"outputs"`
}

// WriteText implements Text.
func (r InfoResult) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "cache:   %s\nschema:  v%d\nruns:    %d\noutputs: %d\n",
		r.Path, r.SchemaVersion, r.Runs, r.Outputs)
	return err
}

// NewInfoCommand creates the info command.
func NewInfoCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InfoOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show schema version and row counts",
		Long: `Show the schema version and the number of recorded runs and outputs.

Opening an incompatible or missing cache resets it, so info on a fresh
path reports an empty cache.

Examples:
  isengard info --db ./.isengard.db
  isengard info --db ./.isengard.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return reportError(opts.RootOptions, cmd, runInfo(opts, cmd))
		},
	}

	addDatabaseFlag(cmd, &opts.Database)

	return cmd
}

func runInfo(opts *InfoOptions, cmd *cobra.Command) error {
	return withStore(cmd, opts.RootOptions, opts.Database, func(ctx context.Context, s *store.Store) error {
		st, err := s.Stats(ctx)
		if err != nil {
			return storeExitError(ExitFailure, "failed to read cache stats", err)
		}

		return newFormatter(opts.RootOptions, cmd).Success(InfoResult{
			Path:          opts.Database,
			SchemaVersion: st.SchemaVersion,
			Runs:          st.Runs,
			Outputs:       st.Outputs,
		})
	})
}
