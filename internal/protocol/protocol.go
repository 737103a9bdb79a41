// Package protocol defines the notifications exchanged between a host and
// its crash detector.
package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/vburojevic/crashwatch/internal/domain"
)

// Notification method names
const (
	// MethodStart tells the detector to start listening for heartbeats
	MethodStart = "crash/server/start"
	// MethodHeartbeat is a proof of life from the host
	MethodHeartbeat = "crash/server/heartbeat"
	// MethodStop signals a graceful shutdown
	MethodStop = "crash/server/stop"
	// MethodTelemetry tells the host to emit a crash telemetry event
	MethodTelemetry = "crash/client/telemetry"
)

// HeartbeatInterval is how often hosts send heartbeats
const HeartbeatInterval = 5 * time.Second

// DetectionDeadline returns how long a session may stay silent before it is
// declared crashed. One missed heartbeat is tolerated.
func DetectionDeadline(interval time.Duration) time.Duration {
	return 2 * interval
}

// StartParams is the payload of MethodStart
type StartParams struct {
	SessionID   string `json:"sessionId"`
	RootDir     string `json:"rootDir"`
	ExtensionID string `json:"extensionId"`
}

// Location returns where crash records for this session are stored
func (p StartParams) Location() domain.Location {
	return domain.Location{RootDir: p.RootDir, ExtensionID: p.ExtensionID}
}

// Validate checks that all fields needed to watch a session are present
func (p StartParams) Validate() error {
	if err := domain.ValidateSessionID(p.SessionID); err != nil {
		return err
	}
	if p.RootDir == "" {
		return errors.New("rootDir is required")
	}
	if p.ExtensionID == "" {
		return errors.New("extensionId is required")
	}
	return nil
}

// HeartbeatParams is the optional payload of MethodHeartbeat. An empty
// SessionID addresses the session started on the same connection.
type HeartbeatParams struct {
	SessionID string `json:"sessionId,omitempty"`
}

// TelemetryParams is the payload of MethodTelemetry
type TelemetryParams struct {
	SessionID     string `json:"sessionId"`
	LastHeartbeat int64  `json:"lastHeartbeat"` // epoch milliseconds
}

// TelemetryFromRecord converts a drained crash record into a notification
func TelemetryFromRecord(rec domain.CrashRecord) TelemetryParams {
	return TelemetryParams{SessionID: rec.SessionID, LastHeartbeat: rec.LastHeartbeat}
}

// String renders the notification for logs and text output
func (p TelemetryParams) String() string {
	return fmt.Sprintf("session %s crashed (last heartbeat %s)",
		p.SessionID, time.UnixMilli(p.LastHeartbeat).UTC().Format(time.RFC3339))
}
