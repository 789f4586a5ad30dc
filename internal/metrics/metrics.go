package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the evaluation service's Prometheus collectors. Each instance
// owns its registry so tests and multiple pipelines do not collide on the
// default one.
type Metrics struct {
	registry *prometheus.Registry

	// Pipeline metrics
	FusionDuration     *prometheus.HistogramVec // labels: config
	EvaluationDuration *prometheus.HistogramVec // labels: config
	QueriesEvaluated   *prometheus.CounterVec   // labels: config, scored
	MetricMean         *prometheus.GaugeVec     // labels: config, metric
	RunsCompleted      *prometheus.CounterVec   // labels: config, status

	// Retrieval metrics
	RetrievalDuration *prometheus.HistogramVec // labels: method
	RetrievalErrors   *prometheus.CounterVec   // labels: method
	BreakerState      *prometheus.GaugeVec     // labels: name

	// Bus metrics
	BusEventsPublished *prometheus.CounterVec   // labels: topic
	BusEventLatency    *prometheus.HistogramVec // labels: topic
	BusErrors          *prometheus.CounterVec   // labels: topic

	// HTTP metrics
	HTTPRequests         *prometheus.CounterVec   // labels: method, path, status
	HTTPDuration         *prometheus.HistogramVec // labels: method, path
	HTTPRequestsInFlight prometheus.Gauge
}

// New creates a metrics instance registered on a fresh registry, including
// the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		FusionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rice_eval_fusion_duration_seconds",
			Help:    "Time spent fusing all queries of one configuration",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"config"}),
		EvaluationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rice_eval_evaluation_duration_seconds",
			Help:    "Time spent scoring all queries of one configuration",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"config"}),
		QueriesEvaluated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rice_eval_queries_evaluated_total",
			Help: "Queries evaluated, split by whether judgments existed",
		}, []string{"config", "scored"}),
		MetricMean: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rice_eval_metric_mean",
			Help: "Mean metric value of the latest report per configuration",
		}, []string{"config", "metric"}),
		RunsCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rice_eval_runs_total",
			Help: "Evaluation runs per configuration and outcome",
		}, []string{"config", "status"}),

		RetrievalDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rice_eval_retrieval_duration_seconds",
			Help:    "Latency of one retriever search call",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		RetrievalErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rice_eval_retrieval_errors_total",
			Help: "Failed retriever search calls",
		}, []string{"method"}),
		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rice_eval_circuit_state",
			Help: "Circuit breaker state (0=closed,1=half-open,2=open)",
		}, []string{"name"}),

		BusEventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rice_eval_bus_events_published_total",
			Help: "Events published on the bus",
		}, []string{"topic"}),
		BusEventLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rice_eval_bus_publish_duration_seconds",
			Help:    "Bus publish latency",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"topic"}),
		BusErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rice_eval_bus_errors_total",
			Help: "Failed bus publishes",
		}, []string{"topic"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rice_eval_http_requests_total",
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "path", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rice_eval_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "path"}),
		HTTPRequestsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "rice_eval_http_requests_in_flight",
			Help: "HTTP requests currently being served",
		}),
	}
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveFusion records how long fusing one configuration took.
func (m *Metrics) ObserveFusion(config string, d time.Duration) {
	m.FusionDuration.WithLabelValues(config).Observe(d.Seconds())
}

// ObserveEvaluation records how long scoring one configuration took.
func (m *Metrics) ObserveEvaluation(config string, d time.Duration) {
	m.EvaluationDuration.WithLabelValues(config).Observe(d.Seconds())
}

// RecordQueries counts scored and unscored queries for a configuration.
func (m *Metrics) RecordQueries(config string, scored, unscored int) {
	m.QueriesEvaluated.WithLabelValues(config, "true").Add(float64(scored))
	m.QueriesEvaluated.WithLabelValues(config, "false").Add(float64(unscored))
}

// SetMetricMean publishes the latest mean of one metric.
func (m *Metrics) SetMetricMean(config, metric string, mean float64) {
	m.MetricMean.WithLabelValues(config, metric).Set(mean)
}

// RecordRun counts a finished run. err == nil is recorded as "ok".
func (m *Metrics) RecordRun(config string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.RunsCompleted.WithLabelValues(config, status).Inc()
}

// RecordRetrieval records one retriever call.
func (m *Metrics) RecordRetrieval(method string, d time.Duration, err error) {
	m.RetrievalDuration.WithLabelValues(method).Observe(d.Seconds())
	if err != nil {
		m.RetrievalErrors.WithLabelValues(method).Inc()
	}
}

// SetBreakerState sets the numeric state of a named circuit breaker.
func (m *Metrics) SetBreakerState(name string, state int) {
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordBusPublish records a bus publish. It satisfies bus.MetricsRecorder.
func (m *Metrics) RecordBusPublish(topic string, latency time.Duration, err error) {
	m.BusEventLatency.WithLabelValues(topic).Observe(latency.Seconds())
	if err != nil {
		m.BusErrors.WithLabelValues(topic).Inc()
		return
	}
	m.BusEventsPublished.WithLabelValues(topic).Inc()
}

// RecordHTTP records one served request.
func (m *Metrics) RecordHTTP(method, path string, status int, d time.Duration) {
	m.HTTPRequests.WithLabelValues(method, path, statusCode(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
