package consumer

import (
	"context"
	"fmt"
	"sync"

	"github.com/Shopify/sarama"
	"github.com/cenkalti/backoff/v4"
	"github.com/kursadbilgin/exception-collector/internal/event"
	"github.com/kursadbilgin/exception-collector/internal/observability"
	"go.uber.org/zap"
)

const (
	outcomeIngested     = "ingested"
	outcomeDeadLettered = "dead_lettered"
)

// Ingester persists a decoded event.
type Ingester interface {
	Ingest(ctx context.Context, evt event.Event) error
}

// Handler processes the records of one topic. Records of a claim are handled
// strictly in order; an offset is committed only after the record was
// ingested or handed to the dead-letter topic.
type Handler struct {
	topic    string
	ingester Ingester
	dlt      DeadLetterPublisher
	policy   RetryPolicy
	metrics  *observability.Metrics
	logger   *zap.Logger

	ready       chan bool
	readyCloser sync.Once
}

var _ sarama.ConsumerGroupHandler = (*Handler)(nil)

func NewHandler(topic string, ingester Ingester, dlt DeadLetterPublisher, policy RetryPolicy, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		topic:    topic,
		ingester: ingester,
		dlt:      dlt,
		policy:   policy.normalized(),
		logger:   logger.With(zap.String("topic", topic)),
		ready:    make(chan bool),
	}
}

func (h *Handler) SetMetrics(metrics *observability.Metrics) {
	if h == nil {
		return
	}
	h.metrics = metrics
}

// Ready is closed once the first session has been set up.
func (h *Handler) Ready() <-chan bool {
	return h.ready
}

func (h *Handler) Setup(session sarama.ConsumerGroupSession) error {
	h.readyCloser.Do(func() {
		close(h.ready)
	})
	h.logger.Info("consumer session started",
		zap.String("memberId", session.MemberID()),
		zap.Int32("generationId", session.GenerationID()),
	)
	return nil
}

func (h *Handler) Cleanup(session sarama.ConsumerGroupSession) error {
	h.logger.Info("consumer session ended", zap.String("memberId", session.MemberID()))
	return nil
}

func (h *Handler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	h.logger.Info("partition claimed", zap.Int32("partition", claim.Partition()))

	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.handleMessage(session, msg); err != nil {
				return err
			}
		case <-session.Context().Done():
			return nil
		}
	}
}

// handleMessage returns an error only when the record must stay
// unacknowledged so the broker redelivers it.
func (h *Handler) handleMessage(session sarama.ConsumerGroupSession, msg *sarama.ConsumerMessage) error {
	ctx := session.Context()
	ack := newAcknowledgment(session, msg)
	logger := h.logger.With(
		zap.Int32("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	)

	err := h.process(ctx, msg, logger)
	if err == nil {
		ack.Acknowledge()
		h.metrics.IncEventConsumed(msg.Topic, outcomeIngested)
		return nil
	}

	if ctx.Err() != nil {
		logger.Info("processing interrupted by shutdown, record will be redelivered", zap.Error(err))
		return ctx.Err()
	}

	if dltErr := h.dlt.Publish(ctx, msg, err); dltErr != nil {
		h.metrics.IncDeadLetterFailure(msg.Topic)
		logger.Error("dead-letter publish failed, record left unacknowledged",
			zap.Error(dltErr),
			zap.NamedError("cause", err),
		)
		return fmt.Errorf("dead-letter record %s/%d/%d: %w", msg.Topic, msg.Partition, msg.Offset, dltErr)
	}

	ack.Acknowledge()
	h.metrics.IncEventConsumed(msg.Topic, outcomeDeadLettered)
	logger.Warn("record dead-lettered",
		zap.String("dlt", DLTName(msg.Topic)),
		zap.Bool("nonRetryable", IsNonRetryable(err)),
		zap.Error(err),
	)
	return nil
}

// process decodes and ingests msg. Non-retryable failures return
// immediately; the rest are retried per the policy.
func (h *Handler) process(ctx context.Context, msg *sarama.ConsumerMessage, logger *zap.Logger) error {
	evt, err := event.Decode(msg.Topic, msg.Value)
	if err != nil {
		return err
	}

	attempt := 0
	operation := func() error {
		attempt++
		err := h.ingest(ctx, evt)
		if err == nil {
			return nil
		}
		if IsNonRetryable(err) {
			return backoff.Permanent(err)
		}
		if attempt < h.policy.MaxAttempts {
			h.metrics.IncEventRetry(msg.Topic)
			logger.Warn("processing failed, retrying",
				zap.Int("attempt", attempt),
				zap.Int("maxAttempts", h.policy.MaxAttempts),
				zap.Error(err),
			)
		}
		return err
	}

	return backoff.Retry(operation, h.policy.newBackOff(ctx))
}

func (h *Handler) ingest(ctx context.Context, evt event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()
	return h.ingester.Ingest(ctx, evt)
}

// acknowledgment commits one record at most once.
type acknowledgment struct {
	session sarama.ConsumerGroupSession
	msg     *sarama.ConsumerMessage
	once    sync.Once
}

func newAcknowledgment(session sarama.ConsumerGroupSession, msg *sarama.ConsumerMessage) *acknowledgment {
	return &acknowledgment{session: session, msg: msg}
}

// Acknowledge marks and commits the record offset. Later calls are no-ops and
// return false.
func (a *acknowledgment) Acknowledge() bool {
	acked := false
	a.once.Do(func() {
		a.session.MarkMessage(a.msg, "")
		a.session.Commit()
		acked = true
	})
	return acked
}
