package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/multiscrape/internal/fallback"
	"github.com/sells-group/multiscrape/internal/model"
)

// Metrics holds the Prometheus collectors for fallback runs and the HTTP
// API. It implements fallback.Recorder.
type Metrics struct {
	AttemptsTotal       *prometheus.CounterVec
	ProviderOutcomes    *prometheus.CounterVec
	ProviderLatency     *prometheus.HistogramVec
	RunsTotal           *prometheus.CounterVec
	RunDuration         prometheus.Histogram
	RunResults          prometheus.Histogram
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestsTotal   *prometheus.CounterVec
	Registry            *prometheus.Registry
}

var _ fallback.Recorder = (*Metrics)(nil)

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "multiscrape_attempts_total",
			Help: "Provider call attempts by outcome",
		}, []string{"provider", "outcome"}),
		ProviderOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "multiscrape_provider_outcomes_total",
			Help: "Per-run provider outcomes (success, empty, error, skipped, breaker_open)",
		}, []string{"provider", "outcome"}),
		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "multiscrape_provider_duration_seconds",
			Help:    "Time spent on a provider including queueing and retries",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"provider"}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "multiscrape_runs_total",
			Help: "Fallback runs by result and winning provider",
		}, []string{"result", "provider"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "multiscrape_run_duration_seconds",
			Help:    "End-to-end fallback run latency",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		RunResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "multiscrape_run_results",
			Help:    "Records returned per successful run",
			Buckets: prometheus.LinearBuckets(0, 5, 11),
		}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		}, []string{"method", "path", "status"}),
		Registry: reg,
	}

	reg.MustRegister(
		m.AttemptsTotal,
		m.ProviderOutcomes,
		m.ProviderLatency,
		m.RunsTotal,
		m.RunDuration,
		m.RunResults,
		m.HTTPRequestDuration,
		m.HTTPRequestsTotal,
	)
	return m
}

// ObserveAttempt counts one provider call.
func (m *Metrics) ObserveAttempt(a model.Attempt) {
	m.AttemptsTotal.WithLabelValues(a.Provider, string(a.Outcome)).Inc()
}

// ObserveProvider counts a provider's outcome within a run.
func (m *Metrics) ObserveProvider(provider, outcome string, elapsed time.Duration) {
	m.ProviderOutcomes.WithLabelValues(provider, outcome).Inc()
	if outcome != fallback.OutcomeSkipped && outcome != fallback.OutcomeBreakerOpen {
		m.ProviderLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
	}
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(res model.RunResult) {
	result := "exhausted"
	if res.Success {
		result = "success"
		m.RunResults.Observe(float64(res.Meta.ResultCount))
	}
	m.RunsTotal.WithLabelValues(result, res.Provider).Inc()
	m.RunDuration.Observe(float64(res.Meta.ElapsedMs) / 1000)
}

// ObserveHTTPRequest records one API request.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, elapsed time.Duration) {
	code := strconv.Itoa(status)
	m.HTTPRequestDuration.WithLabelValues(method, path, code).Observe(elapsed.Seconds())
	m.HTTPRequestsTotal.WithLabelValues(method, path, code).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// StatsSource reports live per-provider state.
type StatsSource interface {
	Stats() map[string]fallback.ProviderStats
}

// RegisterStats exposes src's limiter and breaker state as gauges read at
// scrape time.
func (m *Metrics) RegisterStats(src StatsSource) error {
	return m.Registry.Register(&statsCollector{src: src})
}

var (
	runningDesc = prometheus.NewDesc("multiscrape_limiter_running",
		"Calls currently running per provider", []string{"provider"}, nil)
	queuedDesc = prometheus.NewDesc("multiscrape_limiter_queued",
		"Calls waiting for a limiter slot per provider", []string{"provider"}, nil)
	reservoirDesc = prometheus.NewDesc("multiscrape_limiter_reservoir",
		"Calls left in the current window per provider", []string{"provider"}, nil)
	configuredDesc = prometheus.NewDesc("multiscrape_provider_configured",
		"1 when the provider has credentials", []string{"provider"}, nil)
	breakerDesc = prometheus.NewDesc("multiscrape_breaker_open",
		"1 when the provider's circuit breaker is open", []string{"provider"}, nil)
)

type statsCollector struct {
	src StatsSource
}

func (c *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- runningDesc
	ch <- queuedDesc
	ch <- reservoirDesc
	ch <- configuredDesc
	ch <- breakerDesc
}

func (c *statsCollector) Collect(ch chan<- prometheus.Metric) {
	for name, s := range c.src.Stats() {
		ch <- prometheus.MustNewConstMetric(runningDesc, prometheus.GaugeValue, float64(s.Running), name)
		ch <- prometheus.MustNewConstMetric(queuedDesc, prometheus.GaugeValue, float64(s.Queued), name)
		ch <- prometheus.MustNewConstMetric(reservoirDesc, prometheus.GaugeValue, float64(s.Reservoir), name)
		ch <- prometheus.MustNewConstMetric(configuredDesc, prometheus.GaugeValue, boolGauge(s.Configured), name)
		ch <- prometheus.MustNewConstMetric(breakerDesc, prometheus.GaugeValue, boolGauge(s.Breaker == "open"), name)
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
