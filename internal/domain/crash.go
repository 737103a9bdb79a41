package domain

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// CrashDirName is the directory under <rootDir>/<extensionId> holding crash records
const CrashDirName = "crashedSessions"

// ErrInvalidSessionID is returned for session ids that cannot name a record
var ErrInvalidSessionID = errors.New("invalid session id")

// Location identifies a crash directory shared by every detector that uses
// the same root directory and extension id
type Location struct {
	RootDir     string `json:"rootDir"`
	ExtensionID string `json:"extensionId"`
}

// Dir returns <rootDir>/<extensionId>/crashedSessions
func (l Location) Dir() string {
	return filepath.Join(l.RootDir, l.ExtensionID, CrashDirName)
}

func (l Location) String() string {
	return l.Dir()
}

// CrashRecord is durable evidence that a session stopped sending heartbeats
type CrashRecord struct {
	SessionID     string `json:"sessionId" plist:"sessionId"`
	LastHeartbeat int64  `json:"lastHeartbeat" plist:"lastHeartbeat"` // epoch milliseconds
}

// NewCrashRecord creates a record for a session last seen at lastHeartbeat
func NewCrashRecord(sessionID string, lastHeartbeat time.Time) CrashRecord {
	return CrashRecord{
		SessionID:     sessionID,
		LastHeartbeat: lastHeartbeat.UnixMilli(),
	}
}

// LastHeartbeatTime returns LastHeartbeat as a time.Time
func (r CrashRecord) LastHeartbeatTime() time.Time {
	return time.UnixMilli(r.LastHeartbeat)
}

// ValidateSessionID rejects ids that cannot be a record file name: empty ids,
// path separators, dot names (used for in-flight writes) and shutdown marker
// names
func ValidateSessionID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return fmt.Errorf("%w: empty", ErrInvalidSessionID)
	case strings.ContainsAny(id, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidSessionID, id)
	case strings.HasPrefix(id, "."):
		return fmt.Errorf("%w: %q starts with a dot", ErrInvalidSessionID, id)
	case IsShutdownMarker(id):
		return fmt.Errorf("%w: %q is reserved for shutdown markers", ErrInvalidSessionID, id)
	}
	return nil
}

// ShutdownReason names the signal that ended a detector. It doubles as the
// marker file name written into the crash directory.
type ShutdownReason string

const (
	// ReasonExit is written when the host sends Stop
	ReasonExit ShutdownReason = "onExit"
	// ReasonShutdown is written when the process receives SIGINT/SIGTERM
	ReasonShutdown ShutdownReason = "onShutdown"
	// ReasonDisconnect is written when the transport or the parent process goes away
	ReasonDisconnect ShutdownReason = "process.onDisconnect"
)

// IsShutdownMarker reports whether name is the file name of a shutdown marker
func IsShutdownMarker(name string) bool {
	switch ShutdownReason(name) {
	case ReasonExit, ReasonShutdown, ReasonDisconnect:
		return true
	}
	return false
}
