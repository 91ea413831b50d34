package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/exception-collector/internal/domain"
	"github.com/kursadbilgin/exception-collector/internal/errcode"
	"github.com/kursadbilgin/exception-collector/internal/event"
	"github.com/kursadbilgin/exception-collector/internal/observability"
	"github.com/kursadbilgin/exception-collector/internal/repository"
	"go.uber.org/zap"
)

// ExceptionService owns ingestion and the manual acknowledge/resolve
// lifecycle of exception records.
type ExceptionService struct {
	store             repository.Store
	defaultMaxRetries int
	logger            *zap.Logger
	now               func() time.Time
}

func NewExceptionService(store repository.Store, defaultMaxRetries int, logger *zap.Logger) (*ExceptionService, error) {
	if store == nil {
		return nil, fmt.Errorf("exception store is required")
	}
	if defaultMaxRetries <= 0 {
		defaultMaxRetries = domain.DefaultMaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ExceptionService{
		store:             store,
		defaultMaxRetries: defaultMaxRetries,
		logger:            logger,
		now:               time.Now,
	}, nil
}

// Ingest stores a decoded inbound event. Redelivery of the same event, or
// any later event for the same transaction, updates the existing record.
func (s *ExceptionService) Ingest(ctx context.Context, evt event.Event) error {
	params := evt.UpsertParams()
	ctx = observability.WithTransactionID(ctx, params.TransactionID)
	if params.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, params.CorrelationID)
	}

	e, err := s.Record(ctx, params)
	if err != nil {
		return err
	}

	observability.WithContextLogger(s.logger, ctx).Info("exception recorded",
		zap.Int64("exceptionId", e.ID),
		zap.String("eventId", evt.Meta().EventID),
		zap.String("interfaceType", e.InterfaceType.String()),
		zap.String("status", e.Status.String()),
	)
	return nil
}

// Record validates params and upserts the exception keyed by transaction id.
func (s *ExceptionService) Record(ctx context.Context, params domain.UpsertParams) (*domain.InterfaceException, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if params.Timestamp.IsZero() {
		params.Timestamp = s.now().UTC()
	}

	e, err := s.store.Upsert(ctx, params, s.defaultMaxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert exception %q: %w", params.TransactionID, err)
	}
	return e, nil
}

func (s *ExceptionService) Get(ctx context.Context, transactionID string) (*domain.InterfaceException, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, fmt.Errorf("%w: transactionId is required", domain.ErrValidation)
	}
	return s.store.GetByTransactionID(ctx, transactionID)
}

func (s *ExceptionService) List(ctx context.Context, params repository.ListParams) (*repository.Page, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return s.store.List(ctx, params)
}

// Acknowledge moves the exception to ACKNOWLEDGED. Business rule violations
// are returned as *errcode.Error.
func (s *ExceptionService) Acknowledge(ctx context.Context, transactionID, reason, notes string, by domain.Principal) (*domain.InterfaceException, error) {
	if err := requireMutator(by); err != nil {
		return nil, err
	}

	var out *domain.InterfaceException
	err := s.store.WithLockedException(ctx, transactionID, func(tx repository.ExceptionTx) error {
		e := tx.Exception()
		if err := AcknowledgeEligibility(e); err != nil {
			return err
		}

		now := s.now().UTC()
		from := e.Status
		e.Status = domain.StatusAcknowledged
		e.AcknowledgedAt = &now
		e.AcknowledgedBy = &by.Username
		e.AcknowledgementNotes = optionalString(notes)

		if err := tx.UpdateException(e); err != nil {
			return err
		}
		if err := tx.RecordStatusChange(statusChange(e, from, by.Username, reason)); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, lockedError(err)
	}

	s.logger.Info("exception acknowledged",
		zap.String("transactionId", transactionID),
		zap.String("by", by.Username),
	)
	return out, nil
}

// Resolve moves the exception to RESOLVED with the given method.
func (s *ExceptionService) Resolve(
	ctx context.Context,
	transactionID string,
	method domain.ResolutionMethod,
	notes string,
	by domain.Principal,
) (*domain.InterfaceException, error) {
	if err := requireMutator(by); err != nil {
		return nil, err
	}
	if !method.IsValid() {
		return nil, errcode.New(errcode.CodeInvalidResolutionMethod, "").WithField("resolutionMethod")
	}

	var out *domain.InterfaceException
	err := s.store.WithLockedException(ctx, transactionID, func(tx repository.ExceptionTx) error {
		e := tx.Exception()
		if err := ResolveEligibility(e); err != nil {
			return err
		}

		now := s.now().UTC()
		from := e.Status
		e.Status = domain.StatusResolved
		e.ResolvedAt = &now
		e.ResolvedBy = &by.Username
		e.ResolutionMethod = &method
		e.ResolutionNotes = optionalString(notes)

		if err := tx.UpdateException(e); err != nil {
			return err
		}
		if err := tx.RecordStatusChange(statusChange(e, from, by.Username, method.String())); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, lockedError(err)
	}

	s.logger.Info("exception resolved",
		zap.String("transactionId", transactionID),
		zap.String("method", method.String()),
		zap.String("by", by.Username),
	)
	return out, nil
}

// lockedError maps store sentinels raised around a locked transaction onto
// their codes. Coded errors from the callback pass through unchanged.
func lockedError(err error) error {
	if _, ok := errcode.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return errcode.Wrap(errcode.CodeExceptionNotFound, err)
	case errors.Is(err, domain.ErrConflict):
		return errcode.Wrap(errcode.CodeConcurrentModification, err)
	}
	return err
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
