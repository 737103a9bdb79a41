package detector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/vburojevic/crashwatch/internal/domain"
	"github.com/vburojevic/crashwatch/internal/protocol"
	"github.com/vburojevic/crashwatch/internal/session"
	"github.com/vburojevic/crashwatch/internal/transport"
	"go.uber.org/zap"
)

// Server dispatches notifications from one host connection to a Detector
type Server struct {
	detector *Detector
	conn     transport.Conn
	logger   *zap.Logger
	bound    string // session started on this connection
}

// NewServer creates a server for conn
func NewServer(d *Detector, conn transport.Conn) *Server {
	return &Server{
		detector: d,
		conn:     conn,
		logger:   d.logger,
	}
}

// ConnNotifier relays crash telemetry over a connection
func ConnNotifier(conn transport.Conn) Notifier {
	return NotifierFunc(func(ctx context.Context, p protocol.TelemetryParams) error {
		return conn.Send(ctx, protocol.MethodTelemetry, p)
	})
}

// Serve handles notifications until Stop arrives, the peer disconnects or
// ctx is cancelled. It returns the shutdown reason to record; protocol misuse
// is logged and never ends the loop.
func (s *Server) Serve(ctx context.Context) (domain.ShutdownReason, error) {
	for {
		msg, err := s.conn.Receive(ctx)
		if err != nil {
			switch {
			case errors.Is(err, transport.ErrMalformedMessage):
				s.logger.Warn("dropping malformed message", zap.Error(err))
				continue
			case errors.Is(err, io.EOF), errors.Is(err, transport.ErrClosed):
				s.logger.Info("host disconnected")
				return domain.ReasonDisconnect, nil
			case ctx.Err() != nil:
				return "", ctx.Err()
			default:
				s.logger.Warn("transport failed", zap.Error(err))
				return domain.ReasonDisconnect, err
			}
		}

		stop, err := s.handle(msg)
		if err != nil {
			s.detector.metrics.ProtocolErrors.WithLabelValues(msg.Method).Inc()
			s.logger.Warn("notification rejected",
				zap.String("method", msg.Method),
				zap.Error(err))
		}
		if stop {
			s.logger.Info("received stop notification")
			return domain.ReasonExit, nil
		}
	}
}

func (s *Server) handle(msg transport.Message) (bool, error) {
	switch msg.Method {
	case protocol.MethodStart:
		var p protocol.StartParams
		if err := msg.Decode(&p); err != nil {
			return false, err
		}
		if s.bound != "" {
			return false, fmt.Errorf("%w: connection already watches %s", session.ErrAlreadyStarted, s.bound)
		}
		if err := s.detector.Start(p); err != nil {
			return false, err
		}
		s.bound = p.SessionID
		return false, nil

	case protocol.MethodHeartbeat:
		var p protocol.HeartbeatParams
		if err := msg.Decode(&p); err != nil {
			return false, err
		}
		id := p.SessionID
		if id == "" {
			id = s.bound
		}
		if id == "" {
			return false, fmt.Errorf("%w: heartbeat before start", session.ErrNotStarted)
		}
		s.logger.Debug("received heartbeat", zap.String("session_id", id))
		return false, s.detector.Heartbeat(id)

	case protocol.MethodStop:
		return true, nil

	default:
		return false, fmt.Errorf("unknown method %q", msg.Method)
	}
}

// disconnectDetail is the marker payload for ReasonDisconnect
func disconnectDetail(cause string) []byte {
	b, _ := json.Marshal([]string{cause})
	return b
}
