package mutation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/exception-collector/internal/domain"
	"github.com/kursadbilgin/exception-collector/internal/errcode"
	"github.com/kursadbilgin/exception-collector/internal/observability"
	"github.com/kursadbilgin/exception-collector/internal/ratelimit"
	"github.com/kursadbilgin/exception-collector/internal/service"
	"go.uber.org/zap"
)

// Lookup reads the state the pipeline checks before delegating.
type Lookup interface {
	GetByTransactionID(ctx context.Context, transactionID string) (*domain.InterfaceException, error)
	ListByExceptionIDs(ctx context.Context, exceptionIDs []int64) (map[int64][]domain.RetryAttempt, error)
}

type RetryService interface {
	ValidateRetry(ctx context.Context, transactionID string, requester domain.Principal) error
	InitiateRetry(ctx context.Context, req service.RetryRequest) (*domain.RetryAttempt, error)
	CancelRetry(ctx context.Context, transactionID, reason string, requester domain.Principal) (*domain.RetryAttempt, error)
	BulkRetry(ctx context.Context, req service.BulkRetryRequest) ([]service.BulkRetryItem, error)
}

type LifecycleService interface {
	Acknowledge(ctx context.Context, transactionID, reason, notes string, by domain.Principal) (*domain.InterfaceException, error)
	Resolve(ctx context.Context, transactionID string, method domain.ResolutionMethod, notes string, by domain.Principal) (*domain.InterfaceException, error)
}

// Engine runs each mutation through permission, rate limit, existence,
// state and field checks before delegating to the services. The services
// repeat the state checks under the row lock, so a check passing here is
// advisory only.
type Engine struct {
	lookup    Lookup
	retries   RetryService
	lifecycle LifecycleService
	limiter   ratelimit.RateLimiter
	stats     *Stats
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
}

func NewEngine(
	lookup Lookup,
	retries RetryService,
	lifecycle LifecycleService,
	limiter ratelimit.RateLimiter,
	logger *zap.Logger,
) (*Engine, error) {
	if lookup == nil {
		return nil, fmt.Errorf("exception lookup is required")
	}
	if retries == nil || lifecycle == nil {
		return nil, fmt.Errorf("retry and lifecycle services are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		lookup:    lookup,
		retries:   retries,
		lifecycle: lifecycle,
		limiter:   limiter,
		stats:     NewStats(DefaultStatsWindow),
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

func (e *Engine) SetMetrics(metrics *observability.Metrics) {
	if e == nil {
		return
	}
	e.metrics = metrics
}

func (e *Engine) Stats() *Stats {
	return e.stats
}

func (e *Engine) RetryException(ctx context.Context, in RetryInput, by domain.Principal) RetryExceptionResult {
	op := e.begin(OpRetry, by)
	out := RetryExceptionResult{TransactionID: strings.TrimSpace(in.TransactionID)}

	vr := e.check(ctx, by, precheck{
		transactionID: in.TransactionID,
		validate: func(ctx context.Context, transactionID string) error {
			return e.retries.ValidateRetry(ctx, transactionID, by)
		},
		fields: ValidateRetryInput(in),
	})
	if !vr.Valid {
		out.Result = op.reject(vr)
		return out
	}

	priority, _ := domain.ParseRetryPriorityFromString(in.Priority)
	attempt, err := e.retries.InitiateRetry(ctx, service.RetryRequest{
		TransactionID: out.TransactionID,
		Priority:      priority,
		Reason:        in.Reason,
		Requester:     by,
	})
	if err != nil {
		out.Result = op.fail(ctx, err)
		return out
	}

	out.Result = op.succeed()
	out.AttemptNumber = attempt.AttemptNumber
	out.RetryStatus = attempt.Status
	return out
}

func (e *Engine) AcknowledgeException(ctx context.Context, in AcknowledgeInput, by domain.Principal) AcknowledgeExceptionResult {
	op := e.begin(OpAcknowledge, by)
	out := AcknowledgeExceptionResult{TransactionID: strings.TrimSpace(in.TransactionID)}

	vr := e.check(ctx, by, precheck{
		transactionID: in.TransactionID,
		eligible: func(exc *domain.InterfaceException, _ *domain.RetryAttempt) error {
			return service.AcknowledgeEligibility(exc)
		},
		fields: ValidateAcknowledgeInput(in),
	})
	if !vr.Valid {
		out.Result = op.reject(vr)
		return out
	}

	exc, err := e.lifecycle.Acknowledge(ctx, out.TransactionID, in.Reason, in.Notes, by)
	if err != nil {
		out.Result = op.fail(ctx, err)
		return out
	}

	out.Result = op.succeed()
	out.AcknowledgedAt = exc.AcknowledgedAt
	return out
}

func (e *Engine) ResolveException(ctx context.Context, in ResolveInput, by domain.Principal) ResolveExceptionResult {
	op := e.begin(OpResolve, by)
	out := ResolveExceptionResult{TransactionID: strings.TrimSpace(in.TransactionID)}

	vr := e.check(ctx, by, precheck{
		transactionID: in.TransactionID,
		eligible: func(exc *domain.InterfaceException, _ *domain.RetryAttempt) error {
			return service.ResolveEligibility(exc)
		},
		fields: ValidateResolveInput(in),
	})
	if !vr.Valid {
		out.Result = op.reject(vr)
		return out
	}

	method, _ := domain.ParseResolutionMethodFromString(in.ResolutionMethod)
	exc, err := e.lifecycle.Resolve(ctx, out.TransactionID, method, in.ResolutionNotes, by)
	if err != nil {
		out.Result = op.fail(ctx, err)
		return out
	}

	out.Result = op.succeed()
	out.ResolutionMethod = exc.ResolutionMethod
	out.ResolvedAt = exc.ResolvedAt
	return out
}

func (e *Engine) CancelRetry(ctx context.Context, in CancelRetryInput, by domain.Principal) CancelRetryResult {
	op := e.begin(OpCancelRetry, by)
	out := CancelRetryResult{TransactionID: strings.TrimSpace(in.TransactionID)}

	vr := e.check(ctx, by, precheck{
		transactionID: in.TransactionID,
		needsLatest:   true,
		eligible:      service.CancelEligibility,
		fields:        ValidateCancelRetryInput(in),
	})
	if !vr.Valid {
		out.Result = op.reject(vr)
		return out
	}

	attempt, err := e.retries.CancelRetry(ctx, out.TransactionID, in.Reason, by)
	if err != nil {
		out.Result = op.fail(ctx, err)
		return out
	}

	out.Result = op.succeed()
	out.CancelledAttempt = newAttemptView(attempt)
	return out
}

// BulkRetry checks the batch shape before anything else so an oversized or
// forbidden batch never reaches the store.
func (e *Engine) BulkRetry(ctx context.Context, in BulkRetryInput, by domain.Principal) BulkRetryResult {
	op := e.begin(OpBulkRetry, by)
	out := BulkRetryResult{Items: []BulkRetryItemResult{}}

	vr := valid()
	if err := service.ValidateBulkRetry(in.TransactionIDs, by); err != nil {
		vr.Add(errcode.Sanitize(err))
		out.Result = op.reject(vr)
		return out
	}
	if err := e.allow(ctx, by); err != nil {
		vr.Add(err)
		out.Result = op.reject(vr)
		return out
	}
	if vr = ValidateBulkRetryInput(in); !vr.Valid {
		out.Result = op.reject(vr)
		return out
	}

	priority, _ := domain.ParseRetryPriorityFromString(in.Priority)
	items, err := e.retries.BulkRetry(ctx, service.BulkRetryRequest{
		TransactionIDs: in.TransactionIDs,
		Priority:       priority,
		Reason:         in.Reason,
		Requester:      by,
	})
	if err != nil {
		out.Result = op.fail(ctx, err)
		return out
	}

	at := e.now().UTC()
	for _, item := range items {
		r := BulkRetryItemResult{TransactionID: item.TransactionID, Errors: []Error{}}
		if item.Err != nil {
			r.Errors = append(r.Errors, NewError(errcode.Sanitize(item.Err), at))
			out.FailureCount++
		} else {
			r.Success = true
			r.AttemptNumber = item.Attempt.AttemptNumber
			out.SuccessCount++
		}
		out.Items = append(out.Items, r)
	}

	out.Result = op.succeed()
	return out
}

// precheck describes the existence and state stage of a mutation. When
// validate is set it replaces the lookup and eligible pair.
type precheck struct {
	transactionID string
	validate      func(ctx context.Context, transactionID string) error
	needsLatest   bool
	eligible      func(exc *domain.InterfaceException, latest *domain.RetryAttempt) error
	fields        ValidationResult
}

// check runs the stages in order and stops at the first failing one. Only
// the field stage reports more than one error.
func (e *Engine) check(ctx context.Context, by domain.Principal, pc precheck) ValidationResult {
	result := valid()

	if !by.CanMutate() {
		result.Add(errcode.New(errcode.CodeInsufficientPermissions, ""))
		return result
	}
	if err := e.allow(ctx, by); err != nil {
		result.Add(err)
		return result
	}

	if existenceCheckable(pc.transactionID) {
		if err := e.checkState(ctx, strings.TrimSpace(pc.transactionID), pc); err != nil {
			result.Add(err)
			return result
		}
	}

	return pc.fields
}

func (e *Engine) checkState(ctx context.Context, transactionID string, pc precheck) *errcode.Error {
	if pc.validate != nil {
		if err := pc.validate(ctx, transactionID); err != nil {
			return e.sanitize(ctx, err)
		}
		return nil
	}

	exc, err := e.lookup.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return e.sanitize(ctx, err)
	}

	var latest *domain.RetryAttempt
	if pc.needsLatest {
		latest, err = e.latestAttempt(ctx, exc.ID)
		if err != nil {
			return e.sanitize(ctx, err)
		}
	}
	if pc.eligible != nil {
		if err := pc.eligible(exc, latest); err != nil {
			return errcode.Sanitize(err)
		}
	}
	return nil
}

// allow applies the per-user mutation rate limit. A limiter failure lets the
// mutation through.
func (e *Engine) allow(ctx context.Context, by domain.Principal) *errcode.Error {
	if e.limiter == nil {
		return nil
	}

	ok, err := e.limiter.CheckAndIncrement(ctx, by.Username)
	if err != nil {
		observability.WithContextLogger(e.logger, ctx).Warn("mutation rate limiter unavailable",
			zap.String("user", by.Username),
			zap.Error(err),
		)
		return nil
	}
	if !ok {
		return errcode.New(errcode.CodeRateLimitExceeded, "").WithDetail("user", by.Username)
	}
	return nil
}

func (e *Engine) latestAttempt(ctx context.Context, exceptionID int64) (*domain.RetryAttempt, error) {
	byException, err := e.lookup.ListByExceptionIDs(ctx, []int64{exceptionID})
	if err != nil {
		return nil, err
	}

	var latest *domain.RetryAttempt
	for _, a := range byException[exceptionID] {
		if latest == nil || a.AttemptNumber > latest.AttemptNumber {
			a := a
			latest = &a
		}
	}
	return latest, nil
}

// sanitize converts err into a client-safe coded error and logs the cause
// of anything the client cannot act on.
func (e *Engine) sanitize(ctx context.Context, err error) *errcode.Error {
	coded := errcode.Sanitize(err)
	if coded.Code.IsServerError() {
		observability.WithContextLogger(e.logger, ctx).Error("mutation failed",
			zap.String("code", coded.Code.String()),
			zap.Error(err),
		)
	}
	return coded
}

type operation struct {
	engine *Engine
	name   Operation
	result Result
}

func (e *Engine) begin(name Operation, by domain.Principal) *operation {
	return &operation{
		engine: e,
		name:   name,
		result: Result{
			Errors:      []Error{},
			OperationID: e.newID(),
			PerformedBy: by.Username,
			Timestamp:   e.now().UTC(),
		},
	}
}

func (o *operation) succeed() Result {
	o.result.Success = true
	o.record("success")
	return o.result
}

// reject reports a failure found before any state was touched.
func (o *operation) reject(vr ValidationResult) Result {
	o.result.Errors = vr.Client(o.result.Timestamp)
	o.record("rejected")
	return o.result
}

// fail reports a failure raised by the delegated service.
func (o *operation) fail(ctx context.Context, err error) Result {
	o.result.Errors = []Error{NewError(o.engine.sanitize(ctx, err), o.result.Timestamp)}
	o.record("failed")
	return o.result
}

func (o *operation) record(outcome string) {
	o.engine.stats.Record(o.name, o.result.Success)
	o.engine.metrics.IncMutation(string(o.name), outcome)
	o.engine.logger.Debug("mutation finished",
		zap.String("operation", string(o.name)),
		zap.String("operationId", o.result.OperationID),
		zap.String("performedBy", o.result.PerformedBy),
		zap.String("outcome", outcome),
	)
}
