package crashstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vburojevic/crashwatch/internal/domain"
)

func testLocation(t *testing.T) domain.Location {
	t.Helper()
	return domain.Location{RootDir: t.TempDir(), ExtensionID: "amazonwebservices.test"}
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxTries: 3, Delay: time.Millisecond}
}

func drainAll(t *testing.T, s Store) ([]domain.CrashRecord, ScanStats) {
	t.Helper()
	var got []domain.CrashRecord
	stats, err := s.ScanAndDrain(context.Background(), func(rec domain.CrashRecord) error {
		got = append(got, rec)
		return nil
	})
	require.NoError(t, err)
	return got, stats
}

func TestFileStoreDeclareCreatesDirAndDocument(t *testing.T) {
	loc := testLocation(t)
	s := NewFileStore(loc)

	require.NoError(t, s.Declare(context.Background(), domain.CrashRecord{SessionID: "s1", LastHeartbeat: 8000}))

	data, err := os.ReadFile(filepath.Join(loc.Dir(), "s1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"sessionId":"s1","lastHeartbeat":8000}`, string(data))
}

func TestFileStoreDeclareOverwrites(t *testing.T) {
	s := NewFileStore(testLocation(t))
	ctx := context.Background()

	require.NoError(t, s.Declare(ctx, domain.CrashRecord{SessionID: "s1", LastHeartbeat: 1}))
	require.NoError(t, s.Declare(ctx, domain.CrashRecord{SessionID: "s1", LastHeartbeat: 2}))

	recs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.EqualValues(t, 2, recs[0].LastHeartbeat)
}

func TestFileStoreDeclareRejectsBadSessionID(t *testing.T) {
	s := NewFileStore(testLocation(t))
	err := s.Declare(context.Background(), domain.CrashRecord{SessionID: "../escape", LastHeartbeat: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidSessionID)
}

func TestFileStoreScanAndDrain(t *testing.T) {
	t.Run("missing directory yields nothing", func(t *testing.T) {
		s := NewFileStore(testLocation(t))
		got, stats := drainAll(t, s)
		assert.Empty(t, got)
		assert.Zero(t, stats.Malformed)
	})

	t.Run("drains every valid record once", func(t *testing.T) {
		loc := testLocation(t)
		s := NewFileStore(loc, WithRetry(fastRetry()))
		ctx := context.Background()
		require.NoError(t, s.Declare(ctx, domain.CrashRecord{SessionID: "a", LastHeartbeat: 1}))
		require.NoError(t, s.Declare(ctx, domain.CrashRecord{SessionID: "b", LastHeartbeat: 2}))

		got, stats := drainAll(t, s)
		assert.ElementsMatch(t, []domain.CrashRecord{
			{SessionID: "a", LastHeartbeat: 1},
			{SessionID: "b", LastHeartbeat: 2},
		}, got)
		assert.Equal(t, 2, stats.Yielded)

		_, err := os.Stat(filepath.Join(loc.Dir(), "a"))
		assert.True(t, os.IsNotExist(err))

		again, _ := drainAll(t, s)
		assert.Empty(t, again)
	})

	t.Run("malformed and non-file entries are skipped", func(t *testing.T) {
		loc := testLocation(t)
		s := NewFileStore(loc, WithRetry(fastRetry()))
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			require.NoError(t, s.Declare(ctx, domain.CrashRecord{SessionID: fmt.Sprintf("ok-%d", i), LastHeartbeat: int64(i)}))
		}
		dir := loc.Dir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "truncated"), []byte(`{"sessionId":"trunc","lastHea`), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "wrongtype"), []byte(`{"sessionId":42,"lastHeartbeat":1}`), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "onExit"), nil, 0o644))
		require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))

		got, stats := drainAll(t, s)
		assert.Len(t, got, 3)
		// the onExit marker is skipped without counting
		assert.Equal(t, 2, stats.Malformed)

		// malformed content stays where it was
		_, err := os.Stat(filepath.Join(dir, "truncated"))
		assert.NoError(t, err)
	})

	t.Run("in-flight temp files are ignored", func(t *testing.T) {
		loc := testLocation(t)
		s := NewFileStore(loc)
		require.NoError(t, os.MkdirAll(loc.Dir(), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(loc.Dir(), ".s9.123.tmp"), []byte(`{"sessionId":"s9","lastHeartbeat":1}`), 0o644))

		got, stats := drainAll(t, s)
		assert.Empty(t, got)
		assert.Zero(t, stats.Malformed)
	})
}

func TestFileStoreDeleteRetries(t *testing.T) {
	loc := testLocation(t)
	s := NewFileStore(loc, WithRetry(fastRetry()))
	require.NoError(t, s.Declare(context.Background(), domain.CrashRecord{SessionID: "s1", LastHeartbeat: 5}))

	var attempts int
	s.removeFile = func(path string) error {
		attempts++
		if attempts < 3 {
			return errors.New("file is locked")
		}
		return os.Remove(path)
	}

	got, _ := drainAll(t, s)
	require.Len(t, got, 1)
	assert.Equal(t, 3, attempts)
	_, err := os.Stat(filepath.Join(loc.Dir(), "s1"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileStoreDeleteFailureStillReports(t *testing.T) {
	loc := testLocation(t)
	s := NewFileStore(loc, WithRetry(fastRetry()))
	require.NoError(t, s.Declare(context.Background(), domain.CrashRecord{SessionID: "s1", LastHeartbeat: 5}))
	s.removeFile = func(string) error { return errors.New("permission denied") }

	got, _ := drainAll(t, s)
	require.Len(t, got, 1)

	// still on disk, so a later scan reports it again
	again, _ := drainAll(t, s)
	assert.Len(t, again, 1)
}

func TestFileStoreYieldErrorRestoresRecord(t *testing.T) {
	loc := testLocation(t)
	s := NewFileStore(loc, WithRetry(fastRetry()))
	ctx := context.Background()
	require.NoError(t, s.Declare(ctx, domain.CrashRecord{SessionID: "s1", LastHeartbeat: 5}))

	sendErr := errors.New("transport closed")
	_, err := s.ScanAndDrain(ctx, func(domain.CrashRecord) error { return sendErr })
	require.ErrorIs(t, err, sendErr)

	recs, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.CrashRecord{{SessionID: "s1", LastHeartbeat: 5}}, recs)
}

func TestFileStoreConcurrentDrainersReportOnce(t *testing.T) {
	loc := testLocation(t)
	ctx := context.Background()
	writer := NewFileStore(loc)
	const n = 40
	for i := 0; i < n; i++ {
		require.NoError(t, writer.Declare(ctx, domain.CrashRecord{SessionID: fmt.Sprintf("s%02d", i), LastHeartbeat: int64(i)}))
	}

	var reported atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			drainer := NewFileStore(loc, WithRetry(fastRetry()))
			_, err := drainer.ScanAndDrain(ctx, func(domain.CrashRecord) error {
				reported.Add(1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, n, reported.Load())
}

func TestFileStorePlistRecords(t *testing.T) {
	loc := testLocation(t)
	codec, err := CodecFor(FormatPlist)
	require.NoError(t, err)
	s := NewFileStore(loc, WithCodec(codec))
	ctx := context.Background()

	require.NoError(t, s.Declare(ctx, domain.CrashRecord{SessionID: "p1", LastHeartbeat: 1700000000123}))
	data, err := os.ReadFile(filepath.Join(loc.Dir(), "p1"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "<plist")

	// a JSON-configured detector still reads it
	got, _ := drainAll(t, NewFileStore(loc))
	assert.Equal(t, []domain.CrashRecord{{SessionID: "p1", LastHeartbeat: 1700000000123}}, got)
}

func TestFileStoreWriteMarker(t *testing.T) {
	loc := testLocation(t)
	s := NewFileStore(loc)
	require.NoError(t, s.WriteMarker(context.Background(), domain.ReasonDisconnect, []byte(`["SIGHUP"]`)))

	data, err := os.ReadFile(filepath.Join(loc.Dir(), "process.onDisconnect"))
	require.NoError(t, err)
	assert.Equal(t, `["SIGHUP"]`, string(data))

	require.NoError(t, s.WriteMarker(context.Background(), domain.ReasonExit, nil))
	require.NoError(t, s.Declare(context.Background(), domain.CrashRecord{SessionID: "s1", LastHeartbeat: 5}))

	// markers are neither records nor malformed entries
	got, stats := drainAll(t, s)
	assert.Equal(t, []domain.CrashRecord{{SessionID: "s1", LastHeartbeat: 5}}, got)
	assert.Zero(t, stats.Malformed)
	assert.FileExists(t, filepath.Join(loc.Dir(), "process.onDisconnect"))
	assert.FileExists(t, filepath.Join(loc.Dir(), "onExit"))
}

func TestFileStoreDeclareRejectsMarkerName(t *testing.T) {
	loc := testLocation(t)
	s := NewFileStore(loc)
	require.NoError(t, s.WriteMarker(context.Background(), domain.ReasonShutdown, nil))

	err := s.Declare(context.Background(), domain.CrashRecord{SessionID: "onShutdown", LastHeartbeat: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidSessionID)
}
