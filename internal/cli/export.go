package cli

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/isengard/internal/store"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Database string
}

// ExportFile is the YAML snapshot written by export.
type ExportFile struct {
	SchemaVersion int        `yaml:"schema_version" json:"schema_version"`
	Runs          []RunEntry `yaml:"runs" json:"runs"`
}

// RunEntry is one exported run.
type RunEntry struct {
	ID          int64         `yaml:"id" json:"id"`
	Fingerprint string        `yaml:"fingerprint" json:"fingerprint"`
	Outputs     []OutputEntry `yaml:"outputs" json:"outputs"`
}

// ExportResult reports where a snapshot was written.
type ExportResult struct {
	Path string `json:"path"`
	Runs int    `json:"runs"`
}

// WriteText implements Text.
func (r ExportResult) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "exported %d runs to %s\n", r.Runs, r.Path)
	return err
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export OUTPUT",
		Short: "Write every run and its outputs to a YAML file",
		Long: `Write every recorded run and its outputs to a YAML snapshot.

The output file is replaced atomically, so readers never see a partial
snapshot.

Examples:
  isengard export --db ./.isengard.db cache.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return reportError(opts.RootOptions, cmd, runExport(opts, cmd, args[0]))
		},
	}

	addDatabaseFlag(cmd, &opts.Database)

	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command, outPath string) error {
	return withStore(cmd, opts.RootOptions, opts.Database, func(ctx context.Context, s *store.Store) error {
		snapshot, err := buildSnapshot(ctx, s)
		if err != nil {
			return storeExitError(ExitFailure, "failed to read cache", err)
		}

		data, err := yaml.Marshal(snapshot)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to encode snapshot", err)
		}
		if err := atomic.WriteFile(outPath, bytes.NewReader(data)); err != nil {
			return WrapExitError(ExitCommandError, "failed to write snapshot", err)
		}

		return newFormatter(opts.RootOptions, cmd).Success(ExportResult{
			Path: outPath,
			Runs: len(snapshot.Runs),
		})
	})
}

// buildSnapshot collects every run in the store into an ExportFile.
func buildSnapshot(ctx context.Context, s *store.Store) (*ExportFile, error) {
	st, err := s.Stats(ctx)
	if err != nil {
		return nil, err
	}
	runs, err := s.Runs(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := &ExportFile{SchemaVersion: st.SchemaVersion, Runs: make([]RunEntry, 0, len(runs))}
	for _, r := range runs {
		snapshot.Runs = append(snapshot.Runs, RunEntry{
			ID:          int64(r.ID),
			Fingerprint: hex.EncodeToString(r.Fingerprint),
			Outputs:     toEntries(r.Outputs),
		})
	}
	return snapshot, nil
}
