// Package detector watches host sessions for missed heartbeats, declares
// crashes into a durable store and relays declared crashes back to a host.
package detector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/vburojevic/crashwatch/internal/crashstore"
	"github.com/vburojevic/crashwatch/internal/domain"
	"github.com/vburojevic/crashwatch/internal/metrics"
	"github.com/vburojevic/crashwatch/internal/protocol"
	"github.com/vburojevic/crashwatch/internal/session"
	"go.uber.org/zap"
)

// ErrShutdown is returned for Start after the detector shut down
var ErrShutdown = errors.New("detector is shut down")

const storeOpTimeout = 5 * time.Second

// Notifier delivers crash telemetry to the host
type Notifier interface {
	NotifyCrash(ctx context.Context, p protocol.TelemetryParams) error
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(ctx context.Context, p protocol.TelemetryParams) error

func (f NotifierFunc) NotifyCrash(ctx context.Context, p protocol.TelemetryParams) error {
	return f(ctx, p)
}

// Options configures a Detector
type Options struct {
	Interval  time.Duration // heartbeat interval; the deadline is twice this
	Clock     clock.Clock
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	OpenStore crashstore.Opener
	Notifier  Notifier
}

// Detector owns the sessions of one detector process
type Detector struct {
	interval  time.Duration
	deadline  time.Duration
	clock     clock.Clock
	logger    *zap.Logger
	metrics   *metrics.Metrics
	openStore crashstore.Opener
	notifier  Notifier
	registry  *session.Registry

	storesMu sync.Mutex
	stores   map[domain.Location]crashstore.Store

	ctx       context.Context
	cancel    context.CancelFunc
	relayOnce sync.Once
	relayWG   sync.WaitGroup

	shutdownOnce sync.Once
	shutdown     atomic.Bool
}

// New creates a detector. Nothing is armed until the first Start.
func New(opts Options) *Detector {
	if opts.Interval <= 0 {
		opts.Interval = protocol.HeartbeatInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNop()
	}
	if opts.OpenStore == nil {
		opts.OpenStore = func(loc domain.Location) (crashstore.Store, error) {
			return crashstore.NewFileStore(loc), nil
		}
	}
	if opts.Notifier == nil {
		opts.Notifier = NotifierFunc(func(context.Context, protocol.TelemetryParams) error { return nil })
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Detector{
		interval:  opts.Interval,
		deadline:  protocol.DetectionDeadline(opts.Interval),
		clock:     opts.Clock,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		openStore: opts.OpenStore,
		notifier:  opts.Notifier,
		registry:  session.NewRegistry(),
		stores:    make(map[domain.Location]crashstore.Store),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Deadline returns the detection deadline
func (d *Detector) Deadline() time.Duration { return d.deadline }

// Sessions returns the watched sessions
func (d *Detector) Sessions() []*session.Session { return d.registry.All() }

// Start begins watching a session and arms the relay on first use
func (d *Detector) Start(p protocol.StartParams) error {
	if d.shutdown.Load() {
		return ErrShutdown
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid start: %w", err)
	}

	loc := p.Location()
	store, err := d.store(loc)
	if err != nil {
		return err
	}

	sess := session.New(session.Config{
		ID:           p.SessionID,
		Location:     loc,
		Clock:        d.clock,
		Deadline:     d.deadline,
		Declare:      d.declareInto(store),
		OnTransition: d.logTransition,
	})
	if err := d.registry.Add(sess); err != nil {
		return err
	}
	if err := sess.Start(); err != nil {
		d.registry.Remove(p.SessionID)
		return err
	}
	d.metrics.ActiveSessions.Inc()
	d.startRelay()

	d.logger.Info("crash detector started",
		zap.String("session_id", p.SessionID),
		zap.String("crash_dir", loc.Dir()),
		zap.Int("pid", os.Getpid()),
		zap.Int("sessions", d.registry.Len()),
		zap.Duration("deadline", d.deadline))
	return nil
}

// Heartbeat refreshes a session's deadline
func (d *Detector) Heartbeat(sessionID string) error {
	sess, err := d.registry.Get(sessionID)
	if err != nil {
		return err
	}
	if err := sess.Heartbeat(); err != nil {
		return err
	}
	d.metrics.HeartbeatsTotal.Inc()
	return nil
}

// Shutdown disarms every session and the relay, then writes a marker naming
// reason into each crash directory. Declared crashes stay on disk. Only the
// first call has any effect.
func (d *Detector) Shutdown(ctx context.Context, reason domain.ShutdownReason, detail []byte) error {
	var errs []error
	d.shutdownOnce.Do(func() {
		d.shutdown.Store(true)
		d.registry.StopAll()
		d.cancel()
		d.relayWG.Wait()
		d.metrics.ActiveSessions.Set(0)

		d.logger.Info("crash detector stopping", zap.String("reason", string(reason)))
		for _, loc := range d.registry.Locations() {
			store, err := d.store(loc)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if err := store.WriteMarker(ctx, reason, detail); err != nil {
				errs = append(errs, fmt.Errorf("marker %s in %s: %w", reason, loc.Dir(), err))
			}
		}

		d.storesMu.Lock()
		defer d.storesMu.Unlock()
		for loc, store := range d.stores {
			if err := store.Close(); err != nil {
				errs = append(errs, err)
			}
			delete(d.stores, loc)
		}
	})
	return errors.Join(errs...)
}

func (d *Detector) store(loc domain.Location) (crashstore.Store, error) {
	d.storesMu.Lock()
	defer d.storesMu.Unlock()

	if s, ok := d.stores[loc]; ok {
		return s, nil
	}
	s, err := d.openStore(loc)
	if err != nil {
		return nil, fmt.Errorf("failed to open crash store at %s: %w", loc.Dir(), err)
	}
	d.stores[loc] = s
	return s, nil
}

// declareInto runs under the session lock, so it must not touch the session
func (d *Detector) declareInto(store crashstore.Store) session.DeclareFunc {
	return func(rec domain.CrashRecord) error {
		ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
		defer cancel()
		if err := store.Declare(ctx, rec); err != nil {
			d.metrics.DeclareFailures.Inc()
			d.logger.Error("failed to declare crash",
				zap.String("session_id", rec.SessionID),
				zap.Error(err))
			return err
		}
		d.metrics.CrashesDeclared.Inc()
		d.logger.Warn("crash declared",
			zap.String("session_id", rec.SessionID),
			zap.Time("last_heartbeat", rec.LastHeartbeatTime()))
		return nil
	}
}

func (d *Detector) logTransition(t *domain.SessionTransition) {
	if t.To == session.StateCrashed.String() {
		d.metrics.ActiveSessions.Dec()
	}
	d.logger.Debug("session transition",
		zap.String("session_id", t.SessionID),
		zap.String("from", t.From),
		zap.String("to", t.To),
		zap.String("reason", t.Reason),
		zap.Int64("last_heartbeat", t.LastHeartbeat))
}
