// Package host implements the host side of the crash protocol: it starts a
// session on a detector, keeps it alive with heartbeats and receives crash
// telemetry for sessions that stalled.
package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/vburojevic/crashwatch/internal/protocol"
	"github.com/vburojevic/crashwatch/internal/transport"
	"go.uber.org/zap"
)

// Options configures a Client
type Options struct {
	Interval     time.Duration
	Clock        clock.Clock
	Logger       *zap.Logger
	DedupeWindow time.Duration
}

// Client talks to one detector over conn
type Client struct {
	conn     transport.Conn
	interval time.Duration
	clock    clock.Clock
	logger   *zap.Logger
	dedupe   *Dedupe
}

// TelemetryHandler receives crash notifications that passed deduplication
type TelemetryHandler func(ctx context.Context, p protocol.TelemetryParams) error

// NewClient creates a client
func NewClient(conn transport.Conn, opts Options) *Client {
	if opts.Interval <= 0 {
		opts.Interval = protocol.HeartbeatInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{
		conn:     conn,
		interval: opts.Interval,
		clock:    opts.Clock,
		logger:   opts.Logger,
		dedupe:   NewDedupe(opts.DedupeWindow, opts.Clock),
	}
}

// Start asks the detector to watch a session
func (c *Client) Start(ctx context.Context, p protocol.StartParams) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := c.conn.Send(ctx, protocol.MethodStart, p); err != nil {
		return fmt.Errorf("failed to send start: %w", err)
	}
	c.logger.Info("session started",
		zap.String("session_id", p.SessionID),
		zap.String("location", p.Location().String()))
	return nil
}

// Heartbeat sends one proof of life
func (c *Client) Heartbeat(ctx context.Context) error {
	if err := c.conn.Send(ctx, protocol.MethodHeartbeat, nil); err != nil {
		return fmt.Errorf("failed to send heartbeat: %w", err)
	}
	return nil
}

// Stop tells the detector the host is shutting down cleanly
func (c *Client) Stop(ctx context.Context) error {
	if err := c.conn.Send(ctx, protocol.MethodStop, nil); err != nil {
		return fmt.Errorf("failed to send stop: %w", err)
	}
	return nil
}

// RunHeartbeats sends a heartbeat every interval until ctx is done or a send
// fails. The returned channel yields the terminal error and is then closed;
// a cancelled context yields nil.
func (c *Client) RunHeartbeats(ctx context.Context) <-chan error {
	ticker := c.clock.Ticker(c.interval)
	done := make(chan error, 1)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				done <- nil
				return
			case <-ticker.C:
				if err := c.Heartbeat(ctx); err != nil {
					if ctx.Err() != nil {
						done <- nil
						return
					}
					done <- err
					return
				}
			}
		}
	}()
	return done
}

// Listen receives notifications until the detector goes away or ctx is
// done. Duplicate telemetry is dropped before fn is called; an error from fn
// ends the loop.
func (c *Client) Listen(ctx context.Context, fn TelemetryHandler) error {
	for {
		msg, err := c.conn.Receive(ctx)
		if err != nil {
			switch {
			case errors.Is(err, transport.ErrMalformedMessage):
				c.logger.Warn("dropping malformed message", zap.Error(err))
				continue
			case errors.Is(err, io.EOF), errors.Is(err, transport.ErrClosed):
				return nil
			default:
				return err
			}
		}

		if msg.Method != protocol.MethodTelemetry {
			c.logger.Warn("ignoring unexpected notification", zap.String("method", msg.Method))
			continue
		}
		var p protocol.TelemetryParams
		if err := msg.Decode(&p); err != nil {
			c.logger.Warn("dropping telemetry", zap.Error(err))
			continue
		}

		res := c.dedupe.Check(p)
		if !res.ShouldEmit {
			c.logger.Debug("duplicate crash telemetry",
				zap.String("session_id", p.SessionID),
				zap.Int("count", res.Count))
			continue
		}
		if err := fn(ctx, p); err != nil {
			return err
		}
	}
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}
