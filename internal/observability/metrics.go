package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the API, the consumers and the retry worker.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal       *prometheus.CounterVec
	httpRequestDuration     *prometheus.HistogramVec
	eventsConsumedTotal     *prometheus.CounterVec
	eventProcessingRetries  *prometheus.CounterVec
	deadLetterFailuresTotal *prometheus.CounterVec
	retriesInitiatedTotal   *prometheus.CounterVec
	retriesCompletedTotal   *prometheus.CounterVec
	resubmitDuration        *prometheus.HistogramVec
	workerInflight          *prometheus.GaugeVec
	mutationsTotal          *prometheus.CounterVec
	queriesRejectedTotal    *prometheus.CounterVec
}

const namespace = "exception_collector"

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		eventsConsumedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_consumed_total",
				Help:      "Inbound failure events acknowledged, by topic and outcome (ingested or dead_lettered).",
			},
			[]string{"topic", "outcome"},
		),
		eventProcessingRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "event_processing_retries_total",
				Help:      "Processing attempts of inbound events that failed and were retried with backoff.",
			},
			[]string{"topic"},
		),
		deadLetterFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dead_letter_publish_failures_total",
				Help:      "Records that could not be published to their dead-letter topic and were left unacknowledged.",
			},
			[]string{"topic"},
		),
		retriesInitiatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_initiated_total",
				Help:      "Retry attempts created, by interface type.",
			},
			[]string{"interface"},
		),
		retriesCompletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_completed_total",
				Help:      "Retry attempts completed, by interface type and final attempt status.",
			},
			[]string{"interface", "status"},
		),
		resubmitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resubmit_duration_seconds",
				Help:      "Duration of resubmission calls to the owning interface.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"interface"},
		),
		workerInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "retry_worker_inflight",
				Help:      "Current number of in-flight resubmissions grouped by interface.",
			},
			[]string{"interface"},
		),
		mutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mutations_total",
				Help:      "Mutation requests by operation and outcome (success or error code).",
			},
			[]string{"operation", "outcome"},
		),
		queriesRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_rejected_total",
				Help:      "Read queries rejected before execution, by reason.",
			},
			[]string{"reason"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.eventsConsumedTotal,
		m.eventProcessingRetries,
		m.deadLetterFailuresTotal,
		m.retriesInitiatedTotal,
		m.retriesCompletedTotal,
		m.resubmitDuration,
		m.workerInflight,
		m.mutationsTotal,
		m.queriesRejectedTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncEventConsumed(topic string, outcome string) {
	if m == nil {
		return
	}
	m.eventsConsumedTotal.WithLabelValues(normalizeLabel(topic), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncEventRetry(topic string) {
	if m == nil {
		return
	}
	m.eventProcessingRetries.WithLabelValues(normalizeLabel(topic)).Inc()
}

func (m *Metrics) IncDeadLetterFailure(topic string) {
	if m == nil {
		return
	}
	m.deadLetterFailuresTotal.WithLabelValues(normalizeLabel(topic)).Inc()
}

func (m *Metrics) IncRetryInitiated(interfaceType string) {
	if m == nil {
		return
	}
	m.retriesInitiatedTotal.WithLabelValues(normalizeLabel(interfaceType)).Inc()
}

func (m *Metrics) IncRetryCompleted(interfaceType string, status string) {
	if m == nil {
		return
	}
	m.retriesCompletedTotal.WithLabelValues(normalizeLabel(interfaceType), normalizeLabel(status)).Inc()
}

func (m *Metrics) ObserveResubmitDuration(interfaceType string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.resubmitDuration.WithLabelValues(normalizeLabel(interfaceType)).Observe(seconds)
}

func (m *Metrics) IncWorkerInFlight(interfaceType string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeLabel(interfaceType)).Inc()
}

func (m *Metrics) DecWorkerInFlight(interfaceType string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeLabel(interfaceType)).Dec()
}

// IncMutation records a mutation outcome; outcome is "success" or the error code.
func (m *Metrics) IncMutation(operation string, outcome string) {
	if m == nil {
		return
	}
	m.mutationsTotal.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncQueryRejected(reason string) {
	if m == nil {
		return
	}
	m.queriesRejectedTotal.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
