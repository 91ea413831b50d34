package observability

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsDomainCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.IncEventConsumed("OrderRejected", "ingested")
	metrics.IncEventConsumed("OrderRejected", "dead_lettered")
	metrics.IncEventRetry("OrderRejected")
	metrics.IncDeadLetterFailure("OrderRejected")
	metrics.IncRetryInitiated("ORDER")
	metrics.IncRetryCompleted("ORDER", "FAILED")
	metrics.ObserveResubmitDuration("order", 120*time.Millisecond)
	metrics.IncWorkerInFlight("order")
	metrics.DecWorkerInFlight("order")
	metrics.IncMutation("retry", "RETRY_PENDING_RETRY_EXISTS")
	metrics.IncQueryRejected("too_complex")

	if got := testutil.ToFloat64(metrics.eventsConsumedTotal.WithLabelValues("orderrejected", "ingested")); got != 1 {
		t.Fatalf("events_consumed_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.eventProcessingRetries.WithLabelValues("orderrejected")); got != 1 {
		t.Fatalf("event_processing_retries_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.retriesInitiatedTotal.WithLabelValues("order")); got != 1 {
		t.Fatalf("retries_initiated_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.retriesCompletedTotal.WithLabelValues("order", "failed")); got != 1 {
		t.Fatalf("retries_completed_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.workerInflight.WithLabelValues("order")); got != 0 {
		t.Fatalf("retry_worker_inflight = %v, want 0", got)
	}
	if got := testutil.ToFloat64(metrics.mutationsTotal.WithLabelValues("retry", "retry_pending_retry_exists")); got != 1 {
		t.Fatalf("mutations_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.queriesRejectedTotal.WithLabelValues("too_complex")); got != 1 {
		t.Fatalf("queries_rejected_total = %v, want 1", got)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	t.Parallel()

	var metrics *Metrics
	metrics.IncEventConsumed("OrderRejected", "ingested")
	metrics.IncMutation("retry", "success")
	if metrics.Handler() == nil {
		t.Fatal("Handler() should fall back to the default handler")
	}
}

func TestMetricsHTTPMiddlewareRecordsRequest(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/readyz", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "/readyz", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/readyz", "200")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}

func TestMetricsHTTPMiddlewareRecordsErrorStatus(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("boom")
	})

	req := httptest.NewRequest("GET", "/boom", nil)
	_, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/boom", "500")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}
