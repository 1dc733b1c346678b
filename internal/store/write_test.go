package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRun_Scenario(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	r1, err := s.RecordRun(ctx, []byte{0x01}, []Output{out("//a:build", 0xAA)})
	require.NoError(t, err)

	fp, ok, err := s.FetchOutputFingerprint(ctx, r1, "//a:build")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{0xAA}, fp)

	r2, err := s.RecordRun(ctx, []byte{0x01}, []Output{
		out("//a:build", 0xBB),
		out("//a:test", 0xCC),
	})
	require.NoError(t, err)
	assert.Equal(t, r1, r2, "same fingerprint must reuse the run ID")

	fp, ok, err = s.FetchOutputFingerprint(ctx, r1, "//a:build")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{0xBB}, fp)

	fp, ok, err = s.FetchOutputFingerprint(ctx, r1, "//a:test")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{0xCC}, fp)
}

func TestRecordRun_DistinctFingerprintsDistinctIDs(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	seen := map[RunID][]byte{}
	for i := 0; i < 20; i++ {
		fingerprint := []byte(fmt.Sprintf("rule-%02d", i))
		id, err := s.RecordRun(ctx, fingerprint, nil)
		require.NoError(t, err)

		prev, dup := seen[id]
		require.False(t, dup, "run ID %d reused for %q and %q", id, prev, fingerprint)
		seen[id] = fingerprint
	}
}

func TestRecordRun_FetchPreviousRunRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	fingerprint := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	id, err := s.RecordRun(ctx, fingerprint, []Output{out("//pkg:lib", 0x10)})
	require.NoError(t, err)

	got, ok, err := s.FetchPreviousRun(ctx, fingerprint)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, got)
}

func TestRecordRun_ReplacesOutputSetWithoutResidue(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	id, err := s.RecordRun(ctx, []byte{0x02}, []Output{
		out("//a:one", 0x01),
		out("//a:two", 0x02),
		out("//a:three", 0x03),
	})
	require.NoError(t, err)

	_, err = s.RecordRun(ctx, []byte{0x02}, []Output{out("//a:two", 0x22)})
	require.NoError(t, err)

	outputs, err := s.ListOutputs(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []Output{out("//a:two", 0x22)}, outputs)

	_, ok, err := s.FetchOutputFingerprint(ctx, id, "//a:one")
	require.NoError(t, err)
	assert.False(t, ok, "output from previous recording must be gone")
}

func TestRecordRun_EmptyOutputsClearsRun(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	id, err := s.RecordRun(ctx, []byte{0x03}, []Output{out("//a:build", 0xAA)})
	require.NoError(t, err)

	again, err := s.RecordRun(ctx, []byte{0x03}, nil)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	outputs, err := s.ListOutputs(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, outputs)
}

func TestRecordRun_OutputsIsolatedPerRun(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	r1, err := s.RecordRun(ctx, []byte{0x01}, []Output{out("//a:build", 0xAA)})
	require.NoError(t, err)
	r2, err := s.RecordRun(ctx, []byte{0x02}, []Output{out("//a:build", 0xBB)})
	require.NoError(t, err)

	// Re-recording r2 must not touch r1's outputs
	_, err = s.RecordRun(ctx, []byte{0x02}, nil)
	require.NoError(t, err)

	fp, ok, err := s.FetchOutputFingerprint(ctx, r1, "//a:build")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte{0xAA}, fp)

	_, ok, err = s.FetchOutputFingerprint(ctx, r2, "//a:build")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordRun_DuplicateTargetRollsBack(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	id, err := s.RecordRun(ctx, []byte{0x04}, []Output{out("//a:build", 0xAA)})
	require.NoError(t, err)

	_, err = s.RecordRun(ctx, []byte{0x04}, []Output{
		out("//a:build", 0xBB),
		out("//a:build", 0xCC),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConstraint)
	assert.False(t, IsBusy(err))

	// The previous output set is intact
	outputs, err := s.ListOutputs(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []Output{out("//a:build", 0xAA)}, outputs)
}

func TestRecordRun_DuplicateTargetNewRunRollsBack(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	_, err := s.RecordRun(ctx, []byte{0x05}, []Output{
		out("//a:build", 0xBB),
		out("//a:build", 0xCC),
	})
	require.ErrorIs(t, err, ErrConstraint)

	// The run row from the failed call was rolled back too
	_, ok, err := s.FetchPreviousRun(ctx, []byte{0x05})
	require.NoError(t, err)
	assert.False(t, ok)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Runs)
	assert.Equal(t, 0, st.Outputs)
}

func TestRecordRun_EmptyFingerprint(t *testing.T) {
	s := createTestStore(t)

	_, err := s.RecordRun(context.Background(), nil, []Output{out("//a:build", 0xAA)})
	assert.ErrorIs(t, err, ErrEmptyFingerprint)
}

func TestRecordRun_EmptyOutputFingerprintAllowed(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	id, err := s.RecordRun(ctx, []byte{0x06}, []Output{
		{Target: "//a:empty", Fingerprint: []byte{}},
	})
	require.NoError(t, err)

	_, ok, err := s.FetchOutputFingerprint(ctx, id, "//a:empty")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRecordRun_ConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	// Create the schema up front so both writers see a ready file
	require.NoError(t, With(ctx, path, func(*Store) error { return nil }, WithLogger(quietLogger())))

	// Two independent stores stand in for two processes sharing the file
	fingerprints := [][]byte{{0xA1}, {0xB2}}
	ids := make([]RunID, len(fingerprints))
	errs := make([]error, len(fingerprints))

	var wg sync.WaitGroup
	for i, fingerprint := range fingerprints {
		wg.Add(1)
		go func(i int, fingerprint []byte) {
			defer wg.Done()

			s, err := Open(ctx, path, WithLogger(quietLogger()))
			if err != nil {
				errs[i] = err
				return
			}
			defer s.Close()

			outputs := []Output{out(fmt.Sprintf("//w%d:build", i), byte(i))}
			for attempt := 0; attempt < 10; attempt++ {
				ids[i], errs[i] = s.RecordRun(ctx, fingerprint, outputs)
				if !IsBusy(errs[i]) {
					return
				}
				time.Sleep(10 * time.Millisecond)
			}
		}(i, fingerprint)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "writer %d", i)
	}
	assert.NotEqual(t, ids[0], ids[1])

	err := With(ctx, path, func(s *Store) error {
		st, err := s.Stats(ctx)
		if err != nil {
			return err
		}
		assert.Equal(t, 2, st.Runs)
		assert.Equal(t, 2, st.Outputs)

		for i, fingerprint := range fingerprints {
			id, ok, err := s.FetchPreviousRun(ctx, fingerprint)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, ids[i], id)
		}
		return nil
	}, WithLogger(quietLogger()))
	require.NoError(t, err)
}

func TestRecordRun_ReadersSeeOldOrNewOutputs(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	setA := []Output{out("//a:build", 0xA1), out("//a:test", 0xA2)}
	setB := []Output{out("//a:build", 0xB1), out("//a:lint", 0xB2), out("//a:test", 0xB3)}

	writer, err := Open(ctx, path, WithLogger(quietLogger()))
	require.NoError(t, err)
	defer writer.Close()

	id, err := writer.RecordRun(ctx, []byte{0x07}, setA)
	require.NoError(t, err)

	reader, err := Open(ctx, path, WithLogger(quietLogger()))
	require.NoError(t, err)
	defer reader.Close()

	done := make(chan struct{})
	readErr := make(chan error, 1)
	go func() {
		defer close(readErr)
		for {
			select {
			case <-done:
				return
			default:
			}

			outputs, err := reader.ListOutputs(ctx, id)
			if IsBusy(err) {
				continue
			}
			if err != nil {
				readErr <- err
				return
			}
			if !assert.ObjectsAreEqual(setA, outputs) && !assert.ObjectsAreEqual(setB, outputs) {
				readErr <- fmt.Errorf("reader saw a partial output set: %v", outputs)
				return
			}
		}
	}()

	for i := 0; i < 50; i++ {
		outputs := setB
		if i%2 == 1 {
			outputs = setA
		}
		for {
			_, err = writer.RecordRun(ctx, []byte{0x07}, outputs)
			if !IsBusy(err) {
				break
			}
			time.Sleep(time.Millisecond)
		}
		require.NoError(t, err, "write %d", i)
	}
	close(done)

	require.NoError(t, <-readErr)
}

func TestRecordRun_LockedDatabaseIsBusy(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	holder, err := Open(ctx, path, WithLogger(quietLogger()))
	require.NoError(t, err)
	defer holder.Close()

	// An uncommitted write keeps the database locked for other connections
	tx, err := holder.db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, "INSERT INTO rule_run(fingerprint) VALUES(?)", []byte{0xFF})
	require.NoError(t, err)

	s, err := Open(ctx, path, WithLogger(quietLogger()), WithBusyTimeout(50*time.Millisecond))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.RecordRun(ctx, []byte{0x08}, []Output{out("//a:build", 0xAA)})
	require.Error(t, err)
	assert.True(t, IsBusy(err), "got %v", err)
	assert.False(t, IsDBError(err))
}
