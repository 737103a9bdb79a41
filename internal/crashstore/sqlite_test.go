package crashstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vburojevic/crashwatch/internal/domain"
)

func newTestSQLiteStore(t *testing.T, loc domain.Location) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(loc, fastRetry())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreDeclareAndDrain(t *testing.T) {
	loc := testLocation(t)
	s := newTestSQLiteStore(t, loc)
	ctx := context.Background()

	require.NoError(t, s.Declare(ctx, domain.CrashRecord{SessionID: "s1", LastHeartbeat: 1}))
	require.NoError(t, s.Declare(ctx, domain.CrashRecord{SessionID: "s1", LastHeartbeat: 8000}))
	require.NoError(t, s.Declare(ctx, domain.CrashRecord{SessionID: "s2", LastHeartbeat: 9000}))

	recs, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.CrashRecord{
		{SessionID: "s1", LastHeartbeat: 8000},
		{SessionID: "s2", LastHeartbeat: 9000},
	}, recs)

	got, stats := drainAll(t, s)
	assert.Len(t, got, 2)
	assert.Equal(t, 2, stats.Yielded)

	again, _ := drainAll(t, s)
	assert.Empty(t, again)
}

func TestSQLiteStoreYieldErrorRestoresRecord(t *testing.T) {
	s := newTestSQLiteStore(t, testLocation(t))
	ctx := context.Background()
	require.NoError(t, s.Declare(ctx, domain.CrashRecord{SessionID: "s1", LastHeartbeat: 5}))

	sendErr := errors.New("send failed")
	_, err := s.ScanAndDrain(ctx, func(domain.CrashRecord) error { return sendErr })
	require.ErrorIs(t, err, sendErr)

	recs, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestSQLiteStoreSharedByTwoDrainers(t *testing.T) {
	loc := testLocation(t)
	ctx := context.Background()
	a := newTestSQLiteStore(t, loc)
	b := newTestSQLiteStore(t, loc)

	const n = 20
	for i := 0; i < n; i++ {
		require.NoError(t, a.Declare(ctx, domain.CrashRecord{SessionID: fmt.Sprintf("s%02d", i), LastHeartbeat: int64(i)}))
	}

	var reported atomic.Int64
	var wg sync.WaitGroup
	for _, s := range []*SQLiteStore{a, b} {
		wg.Add(1)
		go func(s *SQLiteStore) {
			defer wg.Done()
			_, err := s.ScanAndDrain(ctx, func(domain.CrashRecord) error {
				reported.Add(1)
				return nil
			})
			assert.NoError(t, err)
		}(s)
	}
	wg.Wait()
	assert.EqualValues(t, n, reported.Load())
}

func TestSQLiteStoreWriteMarker(t *testing.T) {
	s := newTestSQLiteStore(t, testLocation(t))
	require.NoError(t, s.WriteMarker(context.Background(), domain.ReasonShutdown, nil))

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM shutdown_markers WHERE reason = ?`, "onShutdown").Scan(&count))
	assert.Equal(t, 1, count)
}
