package cli

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/isengard/internal/store"
)

// RunManifest describes one rule run to record. Fingerprints are hex.
//
//	fingerprint: "01"
//	outputs:
//	  - target: "//a:build"
//	    fingerprint: "aa"
type RunManifest struct {
	Fingerprint string        `yaml:"fingerprint" json:"fingerprint"`
	Outputs     []OutputEntry `yaml:"outputs" json:"outputs"`
}

// OutputEntry is the hex-encoded form of a store.Output.
type OutputEntry struct {
	Target      string `yaml:"target" json:"target"`
	Fingerprint string `yaml:"fingerprint" json:"fingerprint"`
}

// LoadManifest reads and parses a run manifest YAML file.
// Unknown fields are rejected to catch typos.
func LoadManifest(path string) (*RunManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	var m RunManifest
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if m.Fingerprint == "" {
		return nil, fmt.Errorf("invalid manifest: fingerprint is required")
	}
	for i, o := range m.Outputs {
		if o.Target == "" {
			return nil, fmt.Errorf("invalid manifest: outputs[%d]: target is required", i)
		}
	}

	return &m, nil
}

// Decode converts the manifest into the values RecordRun takes.
func (m *RunManifest) Decode() ([]byte, []store.Output, error) {
	fingerprint, err := decodeHex(m.Fingerprint)
	if err != nil {
		return nil, nil, fmt.Errorf("fingerprint: %w", err)
	}

	outputs := make([]store.Output, 0, len(m.Outputs))
	for _, o := range m.Outputs {
		digest, err := decodeHex(o.Fingerprint)
		if err != nil {
			return nil, nil, fmt.Errorf("output %q: %w", o.Target, err)
		}
		outputs = append(outputs, store.Output{
			Target:      store.TargetID(o.Target),
			Fingerprint: digest,
		})
	}
	return fingerprint, outputs, nil
}

// decodeHex parses a hex fingerprint, accepting an optional 0x prefix.
func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return b, nil
}

// toEntries hex-encodes outputs for display and export.
func toEntries(outputs []store.Output) []OutputEntry {
	entries := make([]OutputEntry, 0, len(outputs))
	for _, o := range outputs {
		entries = append(entries, OutputEntry{
			Target:      string(o.Target),
			Fingerprint: hex.EncodeToString(o.Fingerprint),
		})
	}
	return entries
}
