// Package metrics exposes detector counters in Prometheus format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the detector's collectors
type Metrics struct {
	HeartbeatsTotal   prometheus.Counter
	CrashesDeclared   prometheus.Counter
	DeclareFailures   prometheus.Counter
	NotificationsSent prometheus.Counter
	MalformedRecords  prometheus.Counter
	ContendedRecords  prometheus.Counter
	ScansTotal        prometheus.Counter
	ScanErrors        prometheus.Counter
	ProtocolErrors    *prometheus.CounterVec
	ActiveSessions    prometheus.Gauge
	HeartbeatAge      *prometheus.GaugeVec
}

// New registers the detector collectors with reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HeartbeatsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "crashwatch_heartbeats_total",
			Help: "Heartbeats received from hosts",
		}),
		CrashesDeclared: f.NewCounter(prometheus.CounterOpts{
			Name: "crashwatch_crashes_declared_total",
			Help: "Crash records written after a missed detection deadline",
		}),
		DeclareFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "crashwatch_declare_failures_total",
			Help: "Crash records that could not be written",
		}),
		NotificationsSent: f.NewCounter(prometheus.CounterOpts{
			Name: "crashwatch_notifications_sent_total",
			Help: "Crash telemetry notifications relayed to the host",
		}),
		MalformedRecords: f.NewCounter(prometheus.CounterOpts{
			Name: "crashwatch_malformed_records_total",
			Help: "Crash directory entries skipped because they did not parse",
		}),
		ContendedRecords: f.NewCounter(prometheus.CounterOpts{
			Name: "crashwatch_contended_records_total",
			Help: "Crash records consumed by a concurrent drainer first",
		}),
		ScansTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "crashwatch_scans_total",
			Help: "Relay scans completed",
		}),
		ScanErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "crashwatch_scan_errors_total",
			Help: "Relay scans that failed",
		}),
		ProtocolErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crashwatch_protocol_errors_total",
			Help: "Notifications rejected as protocol misuse",
		}, []string{"method"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "crashwatch_active_sessions",
			Help: "Sessions currently armed",
		}),
		HeartbeatAge: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crashwatch_seconds_since_last_heartbeat",
			Help: "Age of the last heartbeat per session, sampled on each relay tick",
		}, []string{"session_id"}),
	}
}

// NewNop returns collectors registered with a private registry
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
