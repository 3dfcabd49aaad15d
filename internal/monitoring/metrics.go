package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the pipeline's Prometheus instrumentation. A registerer is
// injected so tests can use an isolated registry.
type Metrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	routedTotal    *prometheus.CounterVec
	outcomesTotal  *prometheus.CounterVec
	queueDepth     *prometheus.GaugeVec
	drainDuration  *prometheus.HistogramVec
	settlementTime prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "processing_api_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "processing_api_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		routedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "processing_api_transactions_routed_total",
				Help: "Transactions routed into a queue, by queue and type",
			},
			[]string{"queue", "type"},
		),
		outcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "processing_api_transaction_outcomes_total",
				Help: "Terminal transaction outcomes, by status and type",
			},
			[]string{"status", "type"},
		),
		queueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "processing_api_queue_depth",
				Help: "Current number of queued transactions",
			},
			[]string{"queue"},
		),
		drainDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "processing_api_drain_duration_seconds",
				Help:    "Duration of a single queue drain pass",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"queue"},
		),
		settlementTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "processing_api_settlement_seconds",
				Help:    "Time from submission to completed settlement",
				Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 300},
			},
		),
	}
}

func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

func (m *Metrics) RecordRouting(queue, txType string) {
	m.routedTotal.WithLabelValues(queue, txType).Inc()
}

func (m *Metrics) RecordOutcome(status, txType string) {
	m.outcomesTotal.WithLabelValues(status, txType).Inc()
}

func (m *Metrics) SetQueueDepth(queue string, depth int) {
	m.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

func (m *Metrics) ObserveDrain(queue string, duration time.Duration) {
	m.drainDuration.WithLabelValues(queue).Observe(duration.Seconds())
}

func (m *Metrics) ObserveSettlement(duration time.Duration) {
	m.settlementTime.Observe(duration.Seconds())
}
