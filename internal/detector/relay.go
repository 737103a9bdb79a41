package detector

import (
	"context"
	"errors"
	"fmt"

	"github.com/vburojevic/crashwatch/internal/domain"
	"github.com/vburojevic/crashwatch/internal/protocol"
	"github.com/vburojevic/crashwatch/internal/session"
	"go.uber.org/zap"
)

// startRelay arms the recurring scan. The ticker is created before the
// goroutine so its schedule starts at the first Start.
func (d *Detector) startRelay() {
	d.relayOnce.Do(func() {
		ticker := d.clock.Ticker(d.deadline)
		d.relayWG.Add(1)
		go func() {
			defer d.relayWG.Done()
			defer ticker.Stop()
			for {
				select {
				case <-d.ctx.Done():
					return
				case <-ticker.C:
					// failures are logged by Scan; the next tick retries
					_ = d.Scan(d.ctx)
				}
			}
		}()
	})
}

// Scan drains every crash directory known to this detector and notifies the
// host once per drained record
func (d *Detector) Scan(ctx context.Context) error {
	d.sampleHeartbeatAge()
	d.redeclarePending()

	var errs []error
	for _, loc := range d.registry.Locations() {
		if err := d.scanLocation(ctx, loc); err != nil {
			d.metrics.ScanErrors.Inc()
			d.logger.Warn("crash scan failed",
				zap.String("crash_dir", loc.Dir()),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	d.metrics.ScansTotal.Inc()
	return errors.Join(errs...)
}

func (d *Detector) scanLocation(ctx context.Context, loc domain.Location) error {
	store, err := d.store(loc)
	if err != nil {
		return err
	}
	stats, err := store.ScanAndDrain(ctx, func(rec domain.CrashRecord) error {
		p := protocol.TelemetryFromRecord(rec)
		if err := d.notifier.NotifyCrash(ctx, p); err != nil {
			return fmt.Errorf("failed to notify crash of %s: %w", rec.SessionID, err)
		}
		d.metrics.NotificationsSent.Inc()
		d.logger.Info("crash reported",
			zap.String("session_id", p.SessionID),
			zap.Int64("last_heartbeat", p.LastHeartbeat))
		return nil
	})
	d.metrics.MalformedRecords.Add(float64(stats.Malformed))
	d.metrics.ContendedRecords.Add(float64(stats.Skipped))
	if stats.Malformed > 0 {
		d.logger.Debug("skipped unparsable crash dir entries",
			zap.String("crash_dir", loc.Dir()),
			zap.Int("count", stats.Malformed))
	}
	return err
}

// redeclarePending retries crash records whose write failed at expiry so the
// scan below can report them
func (d *Detector) redeclarePending() {
	for _, s := range d.registry.All() {
		retried, err := s.RedeclarePending()
		if retried && err == nil {
			d.logger.Info("crash declared on retry", zap.String("session_id", s.ID()))
		}
	}
}

func (d *Detector) sampleHeartbeatAge() {
	for _, s := range d.registry.All() {
		state, last := s.Snapshot()
		if state != session.StateArmed {
			d.metrics.HeartbeatAge.DeleteLabelValues(s.ID())
			continue
		}
		d.metrics.HeartbeatAge.WithLabelValues(s.ID()).Set(d.clock.Since(last).Seconds())
	}
}
