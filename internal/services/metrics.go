package services

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the panel's custom Prometheus metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// WebSocket metrics
	WebSocketConnections prometheus.Gauge
	WebSocketMessages    *prometheus.CounterVec

	// External command metrics
	CommandRuns    *prometheus.CounterVec
	CommandLatency prometheus.Histogram

	// Persistence
	SessionsSaved prometheus.Counter
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// InitMetrics registers the metrics with the default registry. Subsequent calls return
// the instance created by the first one.
func InitMetrics(connManager *ConnectionManager, registry *SessionRegistry) *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			WebSocketConnections: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "flowdeck_websocket_connections_active",
				Help: "Number of active panel WebSocket connections",
			}),

			// direction: "inbound" or "outbound"
			WebSocketMessages: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "flowdeck_websocket_messages_total",
				Help: "Total number of panel WebSocket messages by type",
			}, []string{"type", "direction"}),

			CommandRuns: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "flowdeck_command_runs_total",
				Help: "External CLI invocations by result",
			}, []string{"result"}),

			CommandLatency: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "flowdeck_command_duration_seconds",
				Help:    "External CLI invocation duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
			}),

			SessionsSaved: promauto.NewCounter(prometheus.CounterOpts{
				Name: "flowdeck_sessions_saved_total",
				Help: "Session files written",
			}),
		}

		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "flowdeck_sessions_live",
				Help: "Sessions held in the live registry",
			},
			func() float64 {
				if registry != nil {
					return float64(registry.SessionCount())
				}
				return 0
			},
		))

		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "flowdeck_websocket_connections_current",
				Help: "Current number of panel connections (from connection manager)",
			},
			func() float64 {
				if connManager != nil {
					return float64(connManager.Count())
				}
				return 0
			},
		))
	})

	return globalMetrics
}

// GetMetrics returns the global metrics instance (nil before InitMetrics)
func GetMetrics() *Metrics {
	return globalMetrics
}

// RecordWebSocketConnect records a new WebSocket connection
func (m *Metrics) RecordWebSocketConnect() {
	if m == nil {
		return
	}
	m.WebSocketConnections.Inc()
}

// RecordWebSocketDisconnect records a WebSocket disconnection
func (m *Metrics) RecordWebSocketDisconnect() {
	if m == nil {
		return
	}
	m.WebSocketConnections.Dec()
}

// RecordWebSocketMessage records a WebSocket message
func (m *Metrics) RecordWebSocketMessage(msgType, direction string) {
	if m == nil {
		return
	}
	m.WebSocketMessages.WithLabelValues(msgType, direction).Inc()
}

// RecordCommand records one external CLI invocation
func (m *Metrics) RecordCommand(result string, seconds float64) {
	if m == nil {
		return
	}
	m.CommandRuns.WithLabelValues(result).Inc()
	m.CommandLatency.Observe(seconds)
}

// RecordSessionSaved records a session file write
func (m *Metrics) RecordSessionSaved() {
	if m == nil {
		return
	}
	m.SessionsSaved.Inc()
}
