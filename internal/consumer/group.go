package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shopify/sarama"
	"github.com/kursadbilgin/exception-collector/internal/event"
	"github.com/kursadbilgin/exception-collector/internal/observability"
	"go.uber.org/zap"
)

const (
	DefaultConcurrency     = 3
	DefaultShutdownTimeout = 30 * time.Second

	runningPollInterval = 100 * time.Millisecond
)

// GroupFactory opens a consumer group client for groupID.
type GroupFactory func(groupID string) (sarama.ConsumerGroup, error)

type GroupConfig struct {
	GroupPrefix string
	Topics      []string
	Concurrency int
	Policy      RetryPolicy
}

// Group runs Concurrency containers for each inbound topic.
type Group struct {
	cfg        GroupConfig
	factory    GroupFactory
	ingester   Ingester
	dlt        DeadLetterPublisher
	metrics    *observability.Metrics
	logger     *zap.Logger
	containers []*Container
}

func NewGroup(cfg GroupConfig, factory GroupFactory, ingester Ingester, dlt DeadLetterPublisher, logger *zap.Logger) *Group {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if len(cfg.Topics) == 0 {
		cfg.Topics = event.Topics()
	}
	return &Group{
		cfg:      cfg,
		factory:  factory,
		ingester: ingester,
		dlt:      dlt,
		logger:   logger,
	}
}

func (g *Group) SetMetrics(metrics *observability.Metrics) {
	if g == nil {
		return
	}
	g.metrics = metrics
}

// Start opens every member and waits until each has joined its group or ctx
// is done.
func (g *Group) Start(ctx context.Context) error {
	for _, topic := range g.cfg.Topics {
		groupID := GroupID(g.cfg.GroupPrefix, topic)
		for i := 0; i < g.cfg.Concurrency; i++ {
			cg, err := g.factory(groupID)
			if err != nil {
				for _, c := range g.containers {
					c.Stop()
				}
				_ = g.closeAll()
				return fmt.Errorf("failed to create consumer group %q: %w", groupID, err)
			}

			handler := NewHandler(topic, g.ingester, g.dlt, g.cfg.Policy, g.logger)
			handler.SetMetrics(g.metrics)

			container := NewContainer(topic, cg, handler, g.logger.With(zap.Int("member", i)))
			g.containers = append(g.containers, container)
			container.Start(ctx)
		}
		g.logger.Info("topic consumers started",
			zap.String("topic", topic),
			zap.String("groupId", groupID),
			zap.Int("concurrency", g.cfg.Concurrency),
		)
	}

	for _, c := range g.containers {
		select {
		case <-c.handler.Ready():
		case <-c.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Containers exposes the running members for health reporting.
func (g *Group) Containers() []*Container {
	return g.containers
}

// Running reports whether at least one member is still consuming.
func (g *Group) Running() bool {
	for _, c := range g.containers {
		if c.Running() {
			return true
		}
	}
	return false
}

// Shutdown signals every member, then waits up to timeout per member for its
// in-flight record to finish before closing the group clients.
func (g *Group) Shutdown(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	for _, c := range g.containers {
		c.Stop()
	}

	var stuck int
	for _, c := range g.containers {
		if !waitStopped(c, timeout) {
			stuck++
			g.logger.Warn("consumer did not stop before timeout",
				zap.String("topic", c.topic),
				zap.Duration("timeout", timeout),
			)
		}
	}

	closeErr := g.closeAll()
	if stuck > 0 {
		return errors.Join(fmt.Errorf("%d consumer(s) still running after %s", stuck, timeout), closeErr)
	}
	return closeErr
}

func (g *Group) closeAll() error {
	var errs []error
	for _, c := range g.containers {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close consumer %s: %w", c.topic, err))
		}
	}
	return errors.Join(errs...)
}

func waitStopped(c *Container, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for c.Running() {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(runningPollInterval)
	}
	return true
}
