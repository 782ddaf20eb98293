// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DatagramsTotal counts datagrams read from the handler socket
	DatagramsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cjdnsniff_datagrams_total",
			Help: "Total number of datagrams received from the distributor",
		},
		[]string{"content_type"},
	)

	// BytesTotal counts received payload bytes
	BytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cjdnsniff_bytes_total",
			Help: "Total number of bytes received from the distributor",
		},
		[]string{"content_type"},
	)

	// MessagesTotal counts decoded messages by payload kind
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cjdnsniff_messages_total",
			Help: "Total number of decoded messages",
		},
		[]string{"content_type", "kind"},
	)

	// DecodeErrorsTotal counts datagrams that could not be decoded
	DecodeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cjdnsniff_decode_errors_total",
			Help: "Total number of frame decode errors",
		},
		[]string{"content_type", "stage"},
	)

	// SentTotal counts frames written back to the daemon
	SentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cjdnsniff_sent_total",
			Help: "Total number of frames sent to the daemon",
		},
		[]string{"content_type", "result"},
	)

	// NegotiationsTotal counts port negotiations by outcome
	NegotiationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cjdnsniff_negotiations_total",
			Help: "Total number of port negotiations",
		},
		[]string{"content_type", "outcome"},
	)

	// BindConflictsTotal counts advertised ports found bound by another process
	BindConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cjdnsniff_bind_conflicts_total",
			Help: "Total number of advertised handler ports already in use",
		},
		[]string{"content_type"},
	)

	// AdminCallSeconds measures admin RPC latency
	AdminCallSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cjdnsniff_admin_call_seconds",
			Help:    "Latency of admin RPC calls in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16), // 100µs to ~3s
		},
		[]string{"fn"},
	)

	// SessionState tracks the current session state
	SessionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cjdnsniff_session_state",
			Help: "Current session state (0=connecting, 1=active, 2=disconnecting, 3=closed)",
		},
		[]string{"content_type"},
	)
)

// Negotiation outcomes
const (
	OutcomeReused     = "reused"
	OutcomeRegistered = "registered"
	OutcomeFailed     = "failed"
)
