package detector

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestParentWatcherClosesWhenParentExits(t *testing.T) {
	mock := clock.NewMock()
	w := NewParentWatcher(4242, mock, time.Second, zaptest.NewLogger(t))
	var probes atomic.Int32
	w.exists = func(_ context.Context, pid int32) (bool, error) {
		assert.EqualValues(t, 4242, pid)
		return probes.Add(1) < 3, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gone := w.Start(ctx)

	for i := 0; i < 3; i++ {
		select {
		case <-gone:
			t.Fatalf("closed after %d probes", probes.Load())
		default:
		}
		require.Eventually(t, func() bool { return probes.Load() == int32(i) }, time.Second, time.Millisecond)
		mock.Add(time.Second)
	}

	select {
	case <-gone:
	case <-time.After(time.Second):
		t.Fatal("parent exit not detected")
	}
}

func TestParentWatcherStopsWithContext(t *testing.T) {
	mock := clock.NewMock()
	w := NewParentWatcher(1, mock, time.Second, zaptest.NewLogger(t))
	w.exists = func(context.Context, int32) (bool, error) { return true, nil }

	ctx, cancel := context.WithCancel(context.Background())
	gone := w.Start(ctx)
	cancel()
	mock.Add(time.Minute)

	select {
	case <-gone:
		t.Fatal("live parent reported gone")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestParentWatcherDefaultsToProcessTable(t *testing.T) {
	w := NewParentWatcher(1, nil, time.Second, nil)
	require.NotNil(t, w.exists)
}
