package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/exception-collector/internal/domain"
	"github.com/kursadbilgin/exception-collector/internal/observability"
	"github.com/kursadbilgin/exception-collector/internal/provider"
	"github.com/kursadbilgin/exception-collector/internal/queue"
	"github.com/kursadbilgin/exception-collector/internal/ratelimit"
	"github.com/kursadbilgin/exception-collector/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minWorkerConcurrency = 1
	workerCompletedBy    = "retry-worker"
)

// RetryCompleter records the outcome of a pending retry attempt.
type RetryCompleter interface {
	CompleteRetry(ctx context.Context, transactionID string, attemptNumber int, outcome domain.RetryOutcome) (*domain.RetryAttempt, error)
}

// RetryWorker consumes the retry queues, resubmits each pending attempt to
// its interface and records the result.
type RetryWorker struct {
	store       repository.Store
	completer   RetryCompleter
	consumer    queue.Consumer
	resubmitter provider.Resubmitter
	rateLimiter ratelimit.RateLimiter
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
	now         func() time.Time
}

func NewRetryWorker(
	store repository.Store,
	completer RetryCompleter,
	consumer queue.Consumer,
	resubmitter provider.Resubmitter,
	rateLimiter ratelimit.RateLimiter,
	concurrency int,
	logger *zap.Logger,
) (*RetryWorker, error) {
	if store == nil || completer == nil {
		return nil, fmt.Errorf("store and retry completer are required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("queue consumer is required")
	}
	if resubmitter == nil {
		return nil, fmt.Errorf("resubmitter is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryWorker{
		store:       store,
		completer:   completer,
		consumer:    consumer,
		resubmitter: resubmitter,
		rateLimiter: rateLimiter,
		logger:      logger,
		concurrency: concurrency,
		now:         time.Now,
	}, nil
}

func (w *RetryWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Start consumes the retry queues until context cancellation. Workers are
// spread round-robin over the queues.
func (w *RetryWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	queueNames := queue.WorkQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no retry queues configured")
	}

	workers := max(w.concurrency, len(queueNames))

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("retry worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			err := w.consumer.Consume(groupCtx, queueName, w.processMessage)
			if err != nil {
				w.logger.Error("retry worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("retry worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}

// processMessage returns an error only when the outcome could not be
// recorded, so the message is redelivered.
func (w *RetryWorker) processMessage(ctx context.Context, msg queue.RetryMessage) error {
	ctx = observability.WithTransactionID(ctx, msg.TransactionID)
	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}
	logger := observability.WithContextLogger(w.logger, ctx).With(zap.Int("attemptNumber", msg.AttemptNumber))

	e, attempt, err := w.loadPending(ctx, msg)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("exception not found for retry message, skipping")
			return nil
		}
		return fmt.Errorf("failed to load retry attempt: %w", err)
	}

	// Nil means the attempt was completed, cancelled or timed out meanwhile.
	if attempt == nil {
		logger.Info("retry attempt is no longer pending, skipping")
		return nil
	}

	interfaceName := strings.ToLower(e.InterfaceType.String())
	w.metrics.IncWorkerInFlight(interfaceName)
	defer w.metrics.DecWorkerInFlight(interfaceName)

	if w.rateLimiter != nil {
		if err := w.rateLimiter.Wait(ctx, interfaceName); err != nil {
			return fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	start := w.now()
	resp, resubmitErr := w.resubmitter.Resubmit(ctx, provider.ResubmitRequest{
		TransactionID:   e.TransactionID,
		AttemptNumber:   attempt.AttemptNumber,
		InterfaceType:   e.InterfaceType,
		Operation:       e.Operation,
		ExternalID:      e.ExternalID,
		CorrelationID:   e.CorrelationID,
		OriginalPayload: e.OriginalPayload,
	})
	w.metrics.ObserveResubmitDuration(interfaceName, w.now().Sub(start))

	outcome := resubmitOutcome(resp, resubmitErr)
	if _, err := w.completer.CompleteRetry(ctx, e.TransactionID, attempt.AttemptNumber, outcome); err != nil {
		return fmt.Errorf("failed to complete retry attempt: %w", err)
	}

	if resubmitErr != nil {
		logger.Warn("resubmission failed",
			zap.Bool("transient", provider.IsTransient(resubmitErr)),
			zap.Error(resubmitErr),
		)
		return nil
	}
	logger.Info("resubmission succeeded", zap.Int("statusCode", outcome.ResponseCode))
	return nil
}

func (w *RetryWorker) loadPending(ctx context.Context, msg queue.RetryMessage) (*domain.InterfaceException, *domain.RetryAttempt, error) {
	e, err := w.store.GetByTransactionID(ctx, msg.TransactionID)
	if err != nil {
		return nil, nil, err
	}

	byException, err := w.store.ListByExceptionIDs(ctx, []int64{e.ID})
	if err != nil {
		return nil, nil, err
	}
	for _, a := range byException[e.ID] {
		if a.AttemptNumber == msg.AttemptNumber && a.IsPending() {
			attempt := a
			return e, &attempt, nil
		}
	}
	return e, nil, nil
}

func resubmitOutcome(resp *provider.ResubmitResponse, err error) domain.RetryOutcome {
	outcome := domain.RetryOutcome{CompletedBy: workerCompletedBy}

	if err == nil {
		outcome.Success = true
		outcome.Message = "resubmission accepted"
		if resp != nil {
			outcome.ResponseCode = resp.StatusCode
			if resp.RequestID != "" {
				outcome.ErrorDetails = map[string]any{"requestId": resp.RequestID}
			}
		}
		return outcome
	}

	outcome.Message = err.Error()
	var providerErr *provider.ProviderError
	if errors.As(err, &providerErr) {
		outcome.ResponseCode = providerErr.StatusCode
		outcome.ErrorDetails = providerErr.Details()
		return outcome
	}
	outcome.ErrorDetails = map[string]any{"cause": err.Error()}
	return outcome
}
