// Package output renders CLI results as NDJSON or human readable text.
package output

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/vburojevic/crashwatch/internal/crashstore"
	"github.com/vburojevic/crashwatch/internal/domain"
	"github.com/vburojevic/crashwatch/internal/protocol"
)

// SchemaVersion is bumped on breaking changes to any NDJSON line
const SchemaVersion = 1

// Crash is emitted for every crash telemetry notification a host receives
type Crash struct {
	Type          string `json:"type"`
	SchemaVersion int    `json:"schemaVersion"`
	SessionID     string `json:"session_id"`
	LastHeartbeat int64  `json:"last_heartbeat"`
	LastSeen      string `json:"last_seen"`
}

// Record is one crash record found on disk
type Record struct {
	Type          string `json:"type"`
	SchemaVersion int    `json:"schemaVersion"`
	Location      string `json:"location"`
	SessionID     string `json:"session_id"`
	LastHeartbeat int64  `json:"last_heartbeat"`
	LastSeen      string `json:"last_seen"`
	Drained       bool   `json:"drained,omitempty"`
}

// DrainSummary closes the output of a drain
type DrainSummary struct {
	Type          string `json:"type"`
	SchemaVersion int    `json:"schemaVersion"`
	Location      string `json:"location"`
	Drained       int    `json:"drained"`
	Malformed     int    `json:"malformed"`
	Skipped       int    `json:"skipped"`
}

// Ready is emitted once a supervised detector watches the session
type Ready struct {
	Type          string `json:"type"`
	SchemaVersion int    `json:"schemaVersion"`
	Timestamp     string `json:"timestamp"`
	SessionID     string `json:"session_id"`
	Location      string `json:"location"`
	Interval      string `json:"heartbeat_interval"`
}

// Info is a free-form status line
type Info struct {
	Type          string `json:"type"`
	SchemaVersion int    `json:"schemaVersion"`
	Message       string `json:"message"`
	SessionID     string `json:"session_id,omitempty"`
}

// Error is emitted instead of a result when a command fails
type Error struct {
	Type          string `json:"type"`
	SchemaVersion int    `json:"schemaVersion"`
	Code          string `json:"code"`
	Message       string `json:"message"`
	Hint          string `json:"hint,omitempty"`
}

// NDJSONWriter writes one JSON document per line. Safe for concurrent use.
type NDJSONWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewNDJSONWriter creates a writer on w
func NewNDJSONWriter(w io.Writer) *NDJSONWriter {
	return &NDJSONWriter{enc: json.NewEncoder(w)}
}

func (w *NDJSONWriter) encode(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(v)
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}

// WriteCrash writes a received crash notification
func (w *NDJSONWriter) WriteCrash(p protocol.TelemetryParams) error {
	return w.encode(&Crash{
		Type:          "crash",
		SchemaVersion: SchemaVersion,
		SessionID:     p.SessionID,
		LastHeartbeat: p.LastHeartbeat,
		LastSeen:      formatMillis(p.LastHeartbeat),
	})
}

// WriteRecord writes a stored crash record
func (w *NDJSONWriter) WriteRecord(loc domain.Location, rec domain.CrashRecord, drained bool) error {
	return w.encode(&Record{
		Type:          "record",
		SchemaVersion: SchemaVersion,
		Location:      loc.String(),
		SessionID:     rec.SessionID,
		LastHeartbeat: rec.LastHeartbeat,
		LastSeen:      formatMillis(rec.LastHeartbeat),
		Drained:       drained,
	})
}

// WriteDrainSummary writes the totals of a drain
func (w *NDJSONWriter) WriteDrainSummary(loc domain.Location, stats crashstore.ScanStats) error {
	return w.encode(&DrainSummary{
		Type:          "drain_summary",
		SchemaVersion: SchemaVersion,
		Location:      loc.String(),
		Drained:       stats.Yielded,
		Malformed:     stats.Malformed,
		Skipped:       stats.Skipped,
	})
}

// WriteReady announces a watched session
func (w *NDJSONWriter) WriteReady(ts time.Time, sessionID string, loc domain.Location, interval time.Duration) error {
	return w.encode(&Ready{
		Type:          "ready",
		SchemaVersion: SchemaVersion,
		Timestamp:     ts.UTC().Format(time.RFC3339Nano),
		SessionID:     sessionID,
		Location:      loc.String(),
		Interval:      interval.String(),
	})
}

// WriteInfo writes a status line
func (w *NDJSONWriter) WriteInfo(message, sessionID string) error {
	return w.encode(&Info{
		Type:          "info",
		SchemaVersion: SchemaVersion,
		Message:       message,
		SessionID:     sessionID,
	})
}

// WriteError writes a failure with an optional hint
func (w *NDJSONWriter) WriteError(code, message string, hint ...string) error {
	e := &Error{
		Type:          "error",
		SchemaVersion: SchemaVersion,
		Code:          code,
		Message:       message,
	}
	if len(hint) > 0 {
		e.Hint = hint[0]
	}
	return w.encode(e)
}

// WriteValue writes any document as one line
func (w *NDJSONWriter) WriteValue(v interface{}) error {
	return w.encode(v)
}
