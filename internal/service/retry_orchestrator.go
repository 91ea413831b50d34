package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/exception-collector/internal/domain"
	"github.com/kursadbilgin/exception-collector/internal/errcode"
	"github.com/kursadbilgin/exception-collector/internal/observability"
	"github.com/kursadbilgin/exception-collector/internal/queue"
	"github.com/kursadbilgin/exception-collector/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// MaxBulkRetrySize is the largest bulk retry accepted from anyone.
	MaxBulkRetrySize = 100
	// MaxOperatorBulkRetrySize is the largest bulk retry a non-admin may send.
	MaxOperatorBulkRetrySize = 10

	bulkRetryConcurrency = 4
)

// RetryRequest starts one retry attempt.
type RetryRequest struct {
	TransactionID string
	Priority      domain.RetryPriority
	Reason        string
	Requester     domain.Principal
}

type BulkRetryRequest struct {
	TransactionIDs []string
	Priority       domain.RetryPriority
	Reason         string
	Requester      domain.Principal
}

// BulkRetryItem is the outcome for one transaction of a bulk retry. Err is
// nil on success.
type BulkRetryItem struct {
	TransactionID string
	Attempt       *domain.RetryAttempt
	Err           error
}

// RetryOrchestrator starts, completes and cancels retry attempts. Every
// state change happens inside a transaction holding the exception row lock,
// so at most one attempt per exception is ever pending.
type RetryOrchestrator struct {
	store     repository.Store
	publisher queue.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

func NewRetryOrchestrator(store repository.Store, publisher queue.Publisher, logger *zap.Logger) (*RetryOrchestrator, error) {
	if store == nil {
		return nil, fmt.Errorf("exception store is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryOrchestrator{
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func (o *RetryOrchestrator) SetMetrics(metrics *observability.Metrics) {
	if o == nil {
		return
	}
	o.metrics = metrics
}

// ValidateRetry reports why a retry of transactionID would be refused, or nil
// when it would currently be accepted. It reads without locking; InitiateRetry
// repeats the checks under the lock.
func (o *RetryOrchestrator) ValidateRetry(ctx context.Context, transactionID string, requester domain.Principal) error {
	if err := requireMutator(requester); err != nil {
		return err
	}

	e, err := o.store.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return lockedError(err)
	}

	latest, err := o.latestAttempt(ctx, e.ID)
	if err != nil {
		return err
	}
	return RetryEligibility(e, latest)
}

// InitiateRetry creates the next PENDING attempt and dispatches it to the
// retry queue of the exception's interface.
func (o *RetryOrchestrator) InitiateRetry(ctx context.Context, req RetryRequest) (*domain.RetryAttempt, error) {
	if err := requireMutator(req.Requester); err != nil {
		return nil, err
	}
	if !req.Priority.IsValid() {
		req.Priority = domain.PriorityNormal
	}

	var attempt *domain.RetryAttempt
	var exception domain.InterfaceException
	err := o.store.WithLockedException(ctx, req.TransactionID, func(tx repository.ExceptionTx) error {
		e := tx.Exception()
		latest, err := tx.LatestAttempt()
		if err != nil {
			return err
		}
		if err := RetryEligibility(e, latest); err != nil {
			return err
		}

		number := 1
		if latest != nil {
			number = latest.AttemptNumber + 1
		}

		now := o.now().UTC()
		a := &domain.RetryAttempt{
			ExceptionID:   e.ID,
			AttemptNumber: number,
			Status:        domain.RetryPending,
			Priority:      req.Priority,
			Reason:        strings.TrimSpace(req.Reason),
			InitiatedBy:   req.Requester.Username,
			InitiatedAt:   now,
		}
		if err := tx.CreateAttempt(a); err != nil {
			return err
		}

		e.RetryCount++
		e.LastRetryAt = &now
		if err := tx.UpdateException(e); err != nil {
			return err
		}

		attempt = a
		exception = *e
		return nil
	})
	if err != nil {
		return nil, lockedError(err)
	}

	o.metrics.IncRetryInitiated(exception.InterfaceType.String())
	logger := observability.WithContextLogger(o.logger, ctx).With(
		zap.String("transactionId", req.TransactionID),
		zap.Int("attemptNumber", attempt.AttemptNumber),
	)

	msg := queue.RetryMessage{
		TransactionID: exception.TransactionID,
		AttemptNumber: attempt.AttemptNumber,
		InterfaceType: exception.InterfaceType,
		Priority:      attempt.Priority,
		InitiatedBy:   attempt.InitiatedBy,
		CorrelationID: exception.CorrelationID,
	}
	if cid, ok := observability.CorrelationIDFromContext(ctx); ok {
		msg.CorrelationID = cid
	}

	queueName := queue.QueueName(exception.InterfaceType)
	if err := o.publisher.Publish(ctx, queueName, msg); err != nil {
		logger.Error("failed to dispatch retry, releasing pending attempt",
			zap.String("queue", queueName),
			zap.Error(err),
		)
		outcome := domain.RetryOutcome{
			Success:      false,
			Message:      "retry dispatch failed",
			ErrorDetails: map[string]any{"cause": err.Error(), "queue": queueName},
			CompletedBy:  req.Requester.Username,
		}
		if _, completeErr := o.CompleteRetry(context.WithoutCancel(ctx), req.TransactionID, attempt.AttemptNumber, outcome); completeErr != nil {
			logger.Error("failed to release pending attempt after dispatch error", zap.Error(completeErr))
		}
		return nil, errcode.Wrap(errcode.CodeServiceUnavailable, err)
	}

	logger.Info("retry initiated",
		zap.String("queue", queueName),
		zap.String("priority", attempt.Priority.String()),
		zap.String("by", attempt.InitiatedBy),
	)
	return attempt, nil
}

// CompleteRetry records the outcome of a pending attempt and drives the
// exception transition. Completing an attempt that is no longer pending is a
// no-op that returns the attempt unchanged.
func (o *RetryOrchestrator) CompleteRetry(
	ctx context.Context,
	transactionID string,
	attemptNumber int,
	outcome domain.RetryOutcome,
) (*domain.RetryAttempt, error) {
	var completed *domain.RetryAttempt
	var interfaceType domain.InterfaceType
	changed := false

	err := o.store.WithLockedException(ctx, transactionID, func(tx repository.ExceptionTx) error {
		a, err := tx.GetAttempt(attemptNumber)
		if err != nil {
			return err
		}
		completed = a
		if !a.IsPending() {
			return nil
		}

		now := o.now().UTC()
		a.CompletedAt = &now
		a.ResultSuccess = &outcome.Success
		if msg := strings.TrimSpace(outcome.Message); msg != "" {
			a.ResultMessage = &msg
		}
		if outcome.ResponseCode > 0 {
			code := outcome.ResponseCode
			a.ResultResponseCode = &code
		}
		a.ResultErrorDetails = outcome.ErrorDetails
		a.Status = domain.RetryFailed
		if outcome.Success {
			a.Status = domain.RetrySuccess
		}
		if err := tx.UpdateAttempt(a); err != nil {
			return err
		}

		e := tx.Exception()
		interfaceType = e.InterfaceType
		changed = true
		if e.Status.IsTerminal() {
			return nil
		}

		from := e.Status
		by := outcome.CompletedBy
		if by == "" {
			by = a.InitiatedBy
		}

		if outcome.Success {
			method := domain.ResolutionRetrySuccess
			e.Status = domain.StatusResolved
			e.ResolvedAt = &now
			e.ResolvedBy = &a.InitiatedBy
			e.ResolutionMethod = &method
		} else if e.HasRetryBudget() {
			e.Status = domain.StatusRetriedFailed
		} else {
			e.Status = domain.StatusEscalated
		}

		if err := tx.UpdateException(e); err != nil {
			return err
		}
		if from == e.Status {
			return nil
		}
		reason := fmt.Sprintf("retry attempt %d %s", a.AttemptNumber, strings.ToLower(a.Status.String()))
		return tx.RecordStatusChange(statusChange(e, from, by, reason))
	})
	if err != nil {
		return nil, lockedError(err)
	}

	if changed {
		o.metrics.IncRetryCompleted(interfaceType.String(), completed.Status.String())
		o.logger.Info("retry completed",
			zap.String("transactionId", transactionID),
			zap.Int("attemptNumber", attemptNumber),
			zap.String("status", completed.Status.String()),
		)
	}
	return completed, nil
}

// CancelRetry cancels the pending attempt. The retry count is not given back.
func (o *RetryOrchestrator) CancelRetry(ctx context.Context, transactionID, reason string, requester domain.Principal) (*domain.RetryAttempt, error) {
	if err := requireMutator(requester); err != nil {
		return nil, err
	}

	var cancelled *domain.RetryAttempt
	err := o.store.WithLockedException(ctx, transactionID, func(tx repository.ExceptionTx) error {
		latest, err := tx.LatestAttempt()
		if err != nil {
			return err
		}
		if err := CancelEligibility(tx.Exception(), latest); err != nil {
			return err
		}

		now := o.now().UTC()
		latest.Status = domain.RetryCancelled
		latest.CompletedAt = &now
		latest.CancelledBy = &requester.Username
		latest.CancelReason = optionalString(reason)
		if err := tx.UpdateAttempt(latest); err != nil {
			return err
		}
		cancelled = latest
		return nil
	})
	if err != nil {
		return nil, lockedError(err)
	}

	o.logger.Info("retry cancelled",
		zap.String("transactionId", transactionID),
		zap.Int("attemptNumber", cancelled.AttemptNumber),
		zap.String("by", requester.Username),
	)
	return cancelled, nil
}

// ValidateBulkRetry checks the shape of a bulk retry without touching the
// store.
func ValidateBulkRetry(transactionIDs []string, requester domain.Principal) error {
	if err := requireMutator(requester); err != nil {
		return err
	}
	if len(transactionIDs) == 0 {
		return errcode.New(errcode.CodeEmptyBatch, "").WithField("transactionIds")
	}

	seen := make(map[string]struct{}, len(transactionIDs))
	for _, id := range transactionIDs {
		key := strings.TrimSpace(id)
		if _, dup := seen[key]; dup {
			return errcode.Newf(errcode.CodeDuplicateIDs, "duplicate transaction id %q", key).WithField("transactionIds")
		}
		seen[key] = struct{}{}
	}

	if len(transactionIDs) > MaxBulkRetrySize {
		return errcode.Newf(errcode.CodeBulkSizeExceeded, "bulk retry accepts at most %d transactions", MaxBulkRetrySize).
			WithDetail("size", len(transactionIDs))
	}
	if len(transactionIDs) > MaxOperatorBulkRetrySize && !requester.IsAdmin() {
		return errcode.Newf(errcode.CodeBulkSizeForbidden, "bulk retries above %d require the ADMIN role", MaxOperatorBulkRetrySize).
			WithDetail("size", len(transactionIDs))
	}
	return nil
}

// BulkRetry validates the batch, then initiates a retry per transaction.
// Item failures do not fail the batch.
func (o *RetryOrchestrator) BulkRetry(ctx context.Context, req BulkRetryRequest) ([]BulkRetryItem, error) {
	if err := ValidateBulkRetry(req.TransactionIDs, req.Requester); err != nil {
		return nil, err
	}

	items := make([]BulkRetryItem, len(req.TransactionIDs))
	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(bulkRetryConcurrency)

	for i, id := range req.TransactionIDs {
		i := i
		txID := strings.TrimSpace(id)
		g.Go(func() error {
			attempt, err := o.InitiateRetry(groupCtx, RetryRequest{
				TransactionID: txID,
				Priority:      req.Priority,
				Reason:        req.Reason,
				Requester:     req.Requester,
			})
			items[i] = BulkRetryItem{TransactionID: txID, Attempt: attempt, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return items, nil
}

func (o *RetryOrchestrator) latestAttempt(ctx context.Context, exceptionID int64) (*domain.RetryAttempt, error) {
	byException, err := o.store.ListByExceptionIDs(ctx, []int64{exceptionID})
	if err != nil {
		return nil, fmt.Errorf("failed to load retry attempts: %w", err)
	}
	attempts := byException[exceptionID]
	if len(attempts) == 0 {
		return nil, nil
	}
	latest := attempts[0]
	for _, a := range attempts[1:] {
		if a.AttemptNumber > latest.AttemptNumber {
			latest = a
		}
	}
	return &latest, nil
}
