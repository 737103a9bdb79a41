package detector

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// PidExistsFunc reports whether a process is alive
type PidExistsFunc func(ctx context.Context, pid int32) (bool, error)

// ParentWatcher polls the host process so the detector notices a host that
// died without closing the transport
type ParentWatcher struct {
	pid      int32
	clock    clock.Clock
	interval time.Duration
	exists   PidExistsFunc
	logger   *zap.Logger
}

// NewParentWatcher watches pid every interval
func NewParentWatcher(pid int, c clock.Clock, interval time.Duration, logger *zap.Logger) *ParentWatcher {
	if c == nil {
		c = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ParentWatcher{
		pid:      int32(pid),
		clock:    c,
		interval: interval,
		exists:   process.PidExistsWithContext,
		logger:   logger,
	}
}

// Start begins polling. The returned channel is closed once the parent is gone.
func (w *ParentWatcher) Start(ctx context.Context) <-chan struct{} {
	gone := make(chan struct{})
	ticker := w.clock.Ticker(w.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				alive, err := w.exists(ctx, w.pid)
				if err != nil {
					w.logger.Debug("parent liveness probe failed", zap.Int32("pid", w.pid), zap.Error(err))
					continue
				}
				if !alive {
					w.logger.Info("parent process exited", zap.Int32("pid", w.pid))
					close(gone)
					return
				}
			}
		}
	}()
	return gone
}

// ParentGoneDetail is the marker payload written when the parent disappears
func ParentGoneDetail() []byte {
	return disconnectDetail("parent process exited")
}

// TransportClosedDetail is the marker payload written when the host closes the transport
func TransportClosedDetail() []byte {
	return disconnectDetail("transport closed")
}
