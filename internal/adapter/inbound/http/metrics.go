// Package http provides the Prometheus metrics surface and the health
// endpoint served alongside the MCP transport.
package http

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/seclens/seclens/internal/domain/tool"
)

// Metrics holds all Prometheus metrics for seclens.
// Pass to components that need to record metrics.
type Metrics struct {
	DispatchesTotal  *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	RequestsTotal    *prometheus.CounterVec
	ActiveSessions   prometheus.Gauge
	SessionSweeps    *prometheus.CounterVec
	ExpiredRequests  prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		DispatchesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "seclens",
				Name:      "dispatches_total",
				Help:      "Total tool dispatches by tool and taxonomy code",
			},
			[]string{"tool", "code"}, // code=ok or a taxonomy code
		),
		DispatchDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "seclens",
				Name:      "dispatch_duration_seconds",
				Help:      "Tool dispatch duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "seclens",
				Name:      "requests_total",
				Help:      "Total MCP requests by method and status",
			},
			[]string{"method", "status"}, // status=ok/error
		),
		ActiveSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "seclens",
				Name:      "active_sessions",
				Help:      "Number of active sessions",
			},
		),
		SessionSweeps: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "seclens",
				Name:      "session_sweeps_total",
				Help:      "Sessions deactivated and deleted by the sweeper",
			},
			[]string{"action"}, // action=deactivated/deleted
		),
		ExpiredRequests: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "seclens",
				Name:      "expired_exception_requests_total",
				Help:      "PENDING exception requests expired by the sweeper",
			},
		),
	}
}

// Observer returns a dispatch observer that feeds the dispatch metrics.
func (m *Metrics) Observer() tool.Observer {
	return func(toolName string, code tool.Code, elapsed time.Duration) {
		label := "ok"
		if code != "" {
			label = string(code)
		}
		m.DispatchesTotal.WithLabelValues(toolName, label).Inc()
		m.DispatchDuration.WithLabelValues(toolName).Observe(elapsed.Seconds())
	}
}
