package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/exception-collector/internal/domain"
	"github.com/kursadbilgin/exception-collector/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultReapInterval   = 30 * time.Second
	defaultPendingTimeout = 10 * time.Minute
	defaultReapLimit      = 100
	reaperCompletedBy     = "retry-reaper"
)

// RetryReaper fails attempts that stayed PENDING longer than the timeout, so
// a lost worker or message cannot block an exception forever.
type RetryReaper struct {
	attempts  repository.AttemptRepository
	completer RetryCompleter
	logger    *zap.Logger
	interval  time.Duration
	timeout   time.Duration
	limit     int
	now       func() time.Time
}

func NewRetryReaper(
	attempts repository.AttemptRepository,
	completer RetryCompleter,
	interval time.Duration,
	timeout time.Duration,
	logger *zap.Logger,
) (*RetryReaper, error) {
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if completer == nil {
		return nil, fmt.Errorf("retry completer is required")
	}
	if interval <= 0 {
		interval = defaultReapInterval
	}
	if timeout <= 0 {
		timeout = defaultPendingTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryReaper{
		attempts:  attempts,
		completer: completer,
		logger:    logger,
		interval:  interval,
		timeout:   timeout,
		limit:     defaultReapLimit,
		now:       time.Now,
	}, nil
}

func (r *RetryReaper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Reap once at startup so attempts orphaned by a previous run are released immediately.
	if _, err := r.reap(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("retry reaper initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.reap(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.Error("retry reaper scan failed", zap.Error(err))
			}
		}
	}
}

// reap returns how many attempts it timed out.
func (r *RetryReaper) reap(ctx context.Context) (int, error) {
	cutoff := r.now().UTC().Add(-r.timeout)
	stale, err := r.attempts.ListStalePending(ctx, cutoff, r.limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale attempts: %w", err)
	}

	reaped := 0
	for _, s := range stale {
		outcome := domain.RetryOutcome{
			Success: false,
			Message: "retry timed out",
			ErrorDetails: map[string]any{
				"initiatedAt": s.Attempt.InitiatedAt.Format(time.RFC3339),
				"timeout":     r.timeout.String(),
			},
			CompletedBy: reaperCompletedBy,
		}

		a, err := r.completer.CompleteRetry(ctx, s.TransactionID, s.Attempt.AttemptNumber, outcome)
		if err != nil {
			r.logger.Error("failed to time out pending attempt",
				zap.String("transactionId", s.TransactionID),
				zap.Int("attemptNumber", s.Attempt.AttemptNumber),
				zap.Error(err),
			)
			continue
		}
		if a.Status == domain.RetryFailed {
			reaped++
		}
	}

	if reaped > 0 {
		r.logger.Warn("timed out pending retry attempts", zap.Int("count", reaped))
	}
	return reaped, nil
}
