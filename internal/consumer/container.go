package consumer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// Container is one consumer-group member bound to a single topic.
type Container struct {
	topic   string
	group   sarama.ConsumerGroup
	handler *Handler
	logger  *zap.Logger

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex
}

func NewContainer(topic string, group sarama.ConsumerGroup, handler *Handler, logger *zap.Logger) *Container {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Container{
		topic:   topic,
		group:   group,
		handler: handler,
		logger:  logger.With(zap.String("topic", topic)),
	}
}

// Start launches the consume loop and returns immediately.
func (c *Container) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running.Load() {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running.Store(true)

	done := c.done
	go c.drainErrors(loopCtx)
	go func() {
		defer close(done)
		defer c.running.Store(false)
		defer cancel()
		_ = c.consumeLoop(loopCtx)
	}()
}

// Stop cancels the consume loop and with it the session context. A record
// still being processed is abandoned without acknowledgment and is
// redelivered to the next owner of its partition. Use Running or Done to
// observe when the loop has exited.
func (c *Container) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Container) Running() bool {
	return c.running.Load()
}

// Done is closed when the consume loop has exited.
func (c *Container) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *Container) Close() error {
	return c.group.Close()
}

// consumeLoop calls Consume until ctx is canceled. A rebalance ends the
// session and Consume must be called again to receive the new claims.
func (c *Container) consumeLoop(ctx context.Context) error {
	b := receiveBackOff()
	for {
		err := c.group.Consume(ctx, []string{c.topic}, c.handler)
		if ctx.Err() != nil {
			c.logger.Info("consumer stopped")
			return ctx.Err()
		}
		if err == nil {
			b.Reset()
			continue
		}

		if errors.Is(err, sarama.ErrClosedConsumerGroup) {
			c.logger.Info("consumer group closed")
			return err
		}

		wait := b.NextBackOff()
		c.logger.Error("consume session failed, retrying", zap.Duration("backoff", wait), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Container) drainErrors(ctx context.Context) {
	errs := c.group.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			c.logger.Error("consumer group error", zap.Error(err))
		}
	}
}
