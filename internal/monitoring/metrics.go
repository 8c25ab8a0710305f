package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the Prometheus instruments used across the API. It
// satisfies the engine's Metrics interface.
type Metrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	transactionsTotal *prometheus.CounterVec
	riskLevelTotal    *prometheus.CounterVec
	reversalsTotal    *prometheus.CounterVec

	lockConflictsTotal prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payments_api_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payments_api_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		transactionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payments_api_transactions_total",
				Help: "Transactions by type and terminal status",
			},
			[]string{"type", "status"},
		),
		riskLevelTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payments_api_risk_level_total",
				Help: "Risk evaluations by resulting level",
			},
			[]string{"level"},
		),
		reversalsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payments_api_reversals_total",
				Help: "Reversal workflow transitions by resulting status",
			},
			[]string{"status"},
		),
		lockConflictsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "payments_api_lock_conflicts_total",
				Help: "Account lock acquisitions that timed out",
			},
		),
	}
}

func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

func (m *Metrics) RecordTransaction(txType, status string) {
	m.transactionsTotal.WithLabelValues(txType, status).Inc()
}

func (m *Metrics) RecordRiskLevel(level string) {
	m.riskLevelTotal.WithLabelValues(level).Inc()
}

func (m *Metrics) RecordReversal(status string) {
	m.reversalsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordLockConflict() {
	m.lockConflictsTotal.Inc()
}
