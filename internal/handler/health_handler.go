package handler

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/exception-collector/internal/domain"
	"github.com/kursadbilgin/exception-collector/internal/mutation"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = 2 * time.Second

var errConsumersStopped = errors.New("no kafka consumer is running")

// Pinger is a dependency whose reachability gates readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RunningReporter reports whether a background consumer is still running.
type RunningReporter interface {
	Running() bool
}

type StatsSource interface {
	Snapshot() map[mutation.Operation]mutation.OperationStats
}

type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[domain.ExceptionStatus]int64, error)
}

// HealthDeps lists what the health endpoints inspect. Broker, Consumers,
// Mutations and Counts are optional.
type HealthDeps struct {
	DB        *sql.DB
	Redis     *redis.Client
	Broker    Pinger
	Consumers RunningReporter
	Mutations StatsSource
	Counts    StatusCounter
}

func RegisterHealthRoutes(app fiber.Router, deps HealthDeps) {
	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler(deps))
	app.Get("/health", HealthHandler(deps))
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	}
}

func ReadyzHandler(deps HealthDeps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), readinessTimeout)
		defer cancel()

		checks, ready := deps.check(ctx)

		status := "ready"
		statusCode := fiber.StatusOK
		if !ready {
			status = "not_ready"
			statusCode = fiber.StatusServiceUnavailable
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"checks": checks,
		})
	}
}

// HealthHandler aggregates dependency checks with recent mutation outcomes
// and exception counts. It answers 200 whenever the process is up; status
// reports DOWN when a dependency is unreachable.
func HealthHandler(deps HealthDeps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), readinessTimeout)
		defer cancel()

		checks, ready := deps.check(ctx)
		body := fiber.Map{
			"status": "UP",
			"checks": checks,
		}
		if !ready {
			body["status"] = "DOWN"
		}

		if deps.Mutations != nil {
			body["mutations"] = deps.Mutations.Snapshot()
		}
		if deps.Counts != nil {
			if counts, err := deps.Counts.CountByStatus(ctx); err == nil {
				body["exceptions"] = counts
			}
		}

		return c.Status(fiber.StatusOK).JSON(body)
	}
}

func (d HealthDeps) check(ctx context.Context) (fiber.Map, bool) {
	checks := fiber.Map{}
	ready := true
	record := func(name string, err error) {
		checks[name] = "ok"
		if err != nil {
			checks[name] = "down"
			ready = false
		}
	}

	if d.DB != nil {
		record("postgres", d.DB.PingContext(ctx))
	}
	if d.Redis != nil {
		record("redis", d.Redis.Ping(ctx).Err())
	}
	if d.Broker != nil {
		record("rabbitmq", d.Broker.Ping(ctx))
	}
	if d.Consumers != nil {
		var err error
		if !d.Consumers.Running() {
			err = errConsumersStopped
		}
		record("kafka", err)
	}
	return checks, ready
}
