package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/isengard/internal/store"
)

// RecordOptions holds flags for the record command.
type RecordOptions struct {
	*RootOptions
	Database string
}

// RecordResult reports the run a manifest was recorded under.
type RecordResult struct {
	RunID   int64 `json:"run_id"`
	Outputs int   `json:"outputs"`
}

// WriteText implements Text.
func (r RecordResult) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "recorded run %d with %d outputs\n", r.RunID, r.Outputs)
	return err
}

// NewRecordCommand creates the record command.
func NewRecordCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "record MANIFEST",
		Short: "Record a rule run from a YAML manifest",
		Long: `Record a rule run and replace its output set from a YAML manifest.

Manifest format (fingerprints are hex):

  fingerprint: "01"
  outputs:
    - target: "//a:build"
      fingerprint: "aa"

Recording a fingerprint again reuses its run ID and replaces every
previously recorded output.

Examples:
  isengard record --db ./.isengard.db run.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return reportError(opts.RootOptions, cmd, runRecord(opts, cmd, args[0]))
		},
	}

	addDatabaseFlag(cmd, &opts.Database)

	return cmd
}

func runRecord(opts *RecordOptions, cmd *cobra.Command, manifestPath string) error {
	manifest, err := LoadManifest(manifestPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load manifest", err)
	}
	fingerprint, outputs, err := manifest.Decode()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid manifest", err)
	}

	return withStore(cmd, opts.RootOptions, opts.Database, func(ctx context.Context, s *store.Store) error {
		id, err := s.RecordRun(ctx, fingerprint, outputs)
		if err != nil {
			return storeExitError(ExitFailure, "failed to record run", err)
		}

		f := newFormatter(opts.RootOptions, cmd)
		f.VerboseLog("recorded %s as run %d", manifest.Fingerprint, id)
		return f.Success(RecordResult{RunID: int64(id), Outputs: len(outputs)})
	})
}
