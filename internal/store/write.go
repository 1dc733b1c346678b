package store

import (
	"context"
	"fmt"
)

// RunID identifies a recorded rule run. It is stable for the lifetime of the
// run's row and is reused whenever the same fingerprint is recorded again.
type RunID int64

// TargetID is the canonical name of a build output, unique within a run.
type TargetID string

// Output pairs a target with the fingerprint of the content it produced.
type Output struct {
	Target      TargetID
	Fingerprint []byte
}

// RecordRun stores fingerprint as a rule run and replaces that run's output
// set with outputs. It returns the run's ID, which is the existing one when
// the fingerprint was recorded before.
//
// The upsert, the deletion of the previous outputs and the insertion of the
// new ones happen in a single transaction. Listing the same target twice in
// outputs fails with ErrConstraint and leaves the store untouched.
func (s *Store) RecordRun(ctx context.Context, fingerprint []byte, outputs []Output) (RunID, error) {
	if len(fingerprint) == 0 {
		return 0, fmt.Errorf("record run: %w", ErrEmptyFingerprint)
	}
	db, err := s.conn()
	if err != nil {
		return 0, fmt.Errorf("record run: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("record run: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	// Step 1: Claim the fingerprint. A conflict leaves the existing row and
	// its ID untouched.
	result, err := tx.ExecContext(ctx, `
		INSERT INTO rule_run(fingerprint) VALUES(?)
		ON CONFLICT(fingerprint) DO NOTHING
	`, fingerprint)
	if err != nil {
		return 0, fmt.Errorf("record run: upsert run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("record run: rows affected: %w", err)
	}

	// Step 2: Resolve the run ID.
	var id RunID
	if rowsAffected > 0 {
		lastID, err := result.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("record run: last insert id: %w", err)
		}
		id = RunID(lastID)
	} else {
		err = tx.QueryRowContext(ctx,
			"SELECT _id FROM rule_run WHERE fingerprint = ?", fingerprint,
		).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("record run: select existing: %w", err)
		}
	}

	// Step 3: Drop the previous output set.
	if _, err := tx.ExecContext(ctx, "DELETE FROM target_output WHERE run = ?", id); err != nil {
		return 0, fmt.Errorf("record run: delete outputs: %w", err)
	}

	// Step 4: Insert the new output set.
	if len(outputs) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			"INSERT INTO target_output(run, target, fingerprint) VALUES(?, ?, ?)")
		if err != nil {
			return 0, fmt.Errorf("record run: prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, out := range outputs {
			if _, err := stmt.ExecContext(ctx, id, string(out.Target), out.Fingerprint); err != nil {
				return 0, fmt.Errorf("record run: insert output %q: %w", out.Target, classify(err))
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("record run: commit: %w", err)
	}

	s.logger.Debug("run recorded",
		"run_id", int64(id),
		"new_run", rowsAffected > 0,
		"outputs", len(outputs))

	return id, nil
}
