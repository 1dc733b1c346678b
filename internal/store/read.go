package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Run is a recorded rule run together with its output set.
type Run struct {
	ID          RunID
	Fingerprint []byte
	Outputs     []Output
}

// Stats summarizes the content of a cache.
type Stats struct {
	SchemaVersion int
	Runs          int
	Outputs       int
}

// FetchPreviousRun looks up the run recorded for fingerprint.
// ok is false if the fingerprint was never recorded.
func (s *Store) FetchPreviousRun(ctx context.Context, fingerprint []byte) (id RunID, ok bool, err error) {
	db, err := s.conn()
	if err != nil {
		return 0, false, fmt.Errorf("fetch previous run: %w", err)
	}

	err = db.QueryRowContext(ctx,
		"SELECT _id FROM rule_run WHERE fingerprint = ?", fingerprint,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("fetch previous run: %w", err)
	}
	return id, true, nil
}

// FetchOutputFingerprint returns the fingerprint recorded for target in run.
// ok is false if the run is unknown or did not produce target.
func (s *Store) FetchOutputFingerprint(ctx context.Context, run RunID, target TargetID) (fingerprint []byte, ok bool, err error) {
	db, err := s.conn()
	if err != nil {
		return nil, false, fmt.Errorf("fetch output fingerprint: %w", err)
	}

	err = db.QueryRowContext(ctx,
		"SELECT fingerprint FROM target_output WHERE run = ? AND target = ?",
		run, string(target),
	).Scan(&fingerprint)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("fetch output fingerprint: %w", err)
	}
	return fingerprint, true, nil
}

// ListOutputs returns every output recorded for run, ordered by target.
//
// Returns an empty slice (not nil) if the run is unknown or has no outputs.
func (s *Store) ListOutputs(ctx context.Context, run RunID) ([]Output, error) {
	db, err := s.conn()
	if err != nil {
		return nil, fmt.Errorf("list outputs: %w", err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT target, fingerprint
		FROM target_output
		WHERE run = ?
		ORDER BY target COLLATE BINARY ASC
	`, run)
	if err != nil {
		return nil, fmt.Errorf("list outputs: %w", err)
	}
	defer rows.Close()

	outputs := []Output{}
	for rows.Next() {
		var out Output
		if err := rows.Scan(&out.Target, &out.Fingerprint); err != nil {
			return nil, fmt.Errorf("scan output: %w", err)
		}
		outputs = append(outputs, out)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outputs: %w", err)
	}

	return outputs, nil
}

// Runs returns every recorded run with its outputs, ordered by run ID.
// Used for exporting a cache; the build engine never needs it.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	db, err := s.conn()
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT r._id, r.fingerprint, o.target, o.fingerprint
		FROM rule_run r
		LEFT JOIN target_output o ON o.run = r._id
		ORDER BY r._id ASC, o.target COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var (
			id           RunID
			fingerprint  []byte
			target       sql.NullString
			outputDigest []byte
		)
		if err := rows.Scan(&id, &fingerprint, &target, &outputDigest); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}

		if len(runs) == 0 || runs[len(runs)-1].ID != id {
			runs = append(runs, Run{ID: id, Fingerprint: fingerprint, Outputs: []Output{}})
		}
		if target.Valid {
			last := &runs[len(runs)-1]
			last.Outputs = append(last.Outputs, Output{
				Target:      TargetID(target.String),
				Fingerprint: outputDigest,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, nil
}

// Stats returns the schema version and row counts of the cache.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	db, err := s.conn()
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}

	var st Stats
	err = db.QueryRowContext(ctx, `
		SELECT
			(SELECT value FROM version WHERE magic = ?),
			(SELECT COUNT(*) FROM rule_run),
			(SELECT COUNT(*) FROM target_output)
	`, VersionMagic).Scan(&st.SchemaVersion, &st.Runs, &st.Outputs)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}
