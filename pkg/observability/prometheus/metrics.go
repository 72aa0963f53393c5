package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fluxorio/kvpipe/pkg/pipeline"
)

// NewRegistry returns a fresh registry for one run, and a registerer on it
// that labels every metric with service="kvpipe"
func NewRegistry() (*prometheus.Registry, prometheus.Registerer) {
	reg := prometheus.NewRegistry()
	return reg, prometheus.WrapRegistererWith(prometheus.Labels{"service": "kvpipe"}, reg)
}

// Metrics holds all Prometheus metrics. It implements pipeline.Observer.
type Metrics struct {
	// Pipeline metrics
	SubmittedTotal     prometheus.Counter
	ParseFailuresTotal prometheus.Counter
	AppliedTotal       *prometheus.CounterVec
	ApplyDuration      *prometheus.HistogramVec
	WorkerExitsTotal   *prometheus.CounterVec
	QueuePending       prometheus.Gauge

	// HTTP ingestion metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
}

var _ pipeline.Observer = (*Metrics)(nil)

// NewMetrics creates a new metrics collection. A nil registerer gets a
// private registry, so repeated calls never collide.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		_, registerer = NewRegistry()
	}
	factory := promauto.With(registerer)

	return &Metrics{
		SubmittedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "kvpipe_submitted_total",
				Help: "Total number of lines accepted by the submission queue",
			},
		),
		ParseFailuresTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "kvpipe_parse_failures_total",
				Help: "Total number of lines rejected by the parser",
			},
		),
		AppliedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kvpipe_applied_total",
				Help: "Total number of commands applied by the state owner",
			},
			[]string{"op", "result"},
		),
		ApplyDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kvpipe_apply_duration_seconds",
				Help:    "Time spent applying a command to the store",
				Buckets: prometheus.ExponentialBuckets(0.000001, 4, 10),
			},
			[]string{"op"},
		),
		WorkerExitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kvpipe_worker_exits_total",
				Help: "Worker terminations by exit kind",
			},
			[]string{"exit"},
		),
		QueuePending: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "kvpipe_queue_pending",
				Help: "Units waiting in the submission queue",
			},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kvpipe_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kvpipe_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kvpipe_http_request_size_bytes",
				Help:    "HTTP request body size in bytes",
				Buckets: prometheus.ExponentialBuckets(64, 4, 8),
			},
			[]string{"method", "path"},
		),
	}
}

func (m *Metrics) Submitted(pipeline.WorkUnit) {
	m.SubmittedTotal.Inc()
}

func (m *Metrics) ParseFailed(pipeline.ParseFailure) {
	m.ParseFailuresTotal.Inc()
}

func (m *Metrics) Applied(o pipeline.Outcome) {
	op := o.Command.Kind.String()
	result := "ok"
	if o.Err != nil {
		result = "error"
	}
	m.AppliedTotal.WithLabelValues(op, result).Inc()
	m.ApplyDuration.WithLabelValues(op).Observe(o.Elapsed.Seconds())
}

func (m *Metrics) WorkerExited(s pipeline.WorkerStatus) {
	m.WorkerExitsTotal.WithLabelValues(s.Exit.String()).Inc()
}

// UpdateQueue sets the pending gauge, typically from Pool.Pending on scrape
func (m *Metrics) UpdateQueue(pending int) {
	m.QueuePending.Set(float64(pending))
}

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(method, path, status string, seconds float64, requestSize int) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(seconds)
	m.HTTPRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
}
