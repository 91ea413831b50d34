package query

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/exception-collector/internal/cache"
	"github.com/kursadbilgin/exception-collector/internal/domain"
	"github.com/kursadbilgin/exception-collector/internal/errcode"
	"github.com/kursadbilgin/exception-collector/internal/observability"
	"github.com/kursadbilgin/exception-collector/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var ErrQueryTimeout = errors.New("query timed out")

const DefaultTimeout = 5 * time.Second

// Store is everything the executor reads.
type Store interface {
	Source
	GetByTransactionID(ctx context.Context, transactionID string) (*domain.InterfaceException, error)
	List(ctx context.Context, params repository.ListParams) (*repository.Page, error)
	CountByStatus(ctx context.Context) (map[domain.ExceptionStatus]int64, error)
	CountByInterfaceType(ctx context.Context) (map[domain.InterfaceType]int64, error)
}

type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

type Response struct {
	Data   map[string]any  `json:"data"`
	Errors []ResponseError `json:"errors,omitempty"`
}

type ResponseError struct {
	Message    string         `json:"message"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

type Config struct {
	Limits    Limits
	Timeout   time.Duration
	CacheTTL  time.Duration
	BatchWait time.Duration
}

// Executor runs read-only documents. Analysis happens before any store call
// and execution is bounded by Config.Timeout.
type Executor struct {
	store   Store
	cache   cache.Cache
	cfg     Config
	group   singleflight.Group
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewExecutor builds an executor. c may be nil, which disables result
// caching, as does a zero CacheTTL.
func NewExecutor(store Store, c cache.Cache, cfg Config, logger *zap.Logger) (*Executor, error) {
	if store == nil {
		return nil, fmt.Errorf("query store is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.Limits = cfg.Limits.normalized()
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Executor{store: store, cache: c, cfg: cfg, logger: logger}, nil
}

func (x *Executor) SetMetrics(metrics *observability.Metrics) {
	if x == nil {
		return
	}
	x.metrics = metrics
}

// Execute returns an error for documents rejected before execution and for
// timeouts; failures while resolving fields are reported in Response.Errors.
func (x *Executor) Execute(ctx context.Context, req Request) (*Response, error) {
	analysis, err := Analyze(req.Query, req.OperationName, req.Variables, x.cfg.Limits)
	if err != nil {
		x.metrics.IncQueryRejected(rejectReason(err))
		return nil, err
	}

	if x.cache == nil || x.cfg.CacheTTL <= 0 {
		return x.run(ctx, analysis)
	}

	key := cacheKey(req)
	if raw, ok, err := x.cache.Get(ctx, key); err != nil {
		x.logger.Warn("query cache read failed", zap.Error(err))
	} else if ok {
		var resp Response
		if err := json.Unmarshal(raw, &resp); err == nil {
			return &resp, nil
		}
	}

	// Callers sharing one execution must not be cut short by whichever of
	// them started it.
	shared := context.WithoutCancel(ctx)
	v, err, _ := x.group.Do(key, func() (any, error) {
		resp, err := x.run(shared, analysis)
		if err != nil {
			return nil, err
		}
		if len(resp.Errors) == 0 {
			if raw, err := json.Marshal(resp); err == nil {
				if err := x.cache.Set(shared, key, raw, x.cfg.CacheTTL); err != nil {
					x.logger.Warn("query cache write failed", zap.Error(err))
				}
			}
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Response), nil
}

func (x *Executor) run(ctx context.Context, analysis *Analysis) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, x.cfg.Timeout)
	defer cancel()

	r := &resolver{
		store:   x.store,
		loaders: NewLoaders(x.store, x.cfg.BatchWait),
		walker:  walker{doc: analysis.Document, vars: analysis.Variables},
	}

	data, err := r.root(ctx, analysis.Operation.SelectionSet)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			x.metrics.IncQueryRejected("timeout")
			return nil, fmt.Errorf("%w after %s", ErrQueryTimeout, x.cfg.Timeout)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &Response{Errors: []ResponseError{x.responseError(ctx, err)}}, nil
	}
	return &Response{Data: data}, nil
}

// responseError keeps validation messages, which are ours, and replaces
// anything else with the code's canned message.
func (x *Executor) responseError(ctx context.Context, err error) ResponseError {
	code := errcode.Classify(err)
	msg := code.Message()
	if errors.Is(err, domain.ErrValidation) {
		msg = err.Error()
	}
	if code.IsServerError() {
		observability.WithContextLogger(x.logger, ctx).Error("query execution failed", zap.Error(err))
	}
	return ResponseError{
		Message: msg,
		Extensions: map[string]any{
			"code":           code,
			"classification": code.Classification(),
		},
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrQueryTooDeep):
		return "depth"
	case errors.Is(err, ErrQueryTooComplex):
		return "cost"
	}
	return "invalid"
}

// cacheKey hashes the query shape together with its variables. Map keys are
// marshaled in sorted order so equal variables hash equally.
func cacheKey(req Request) string {
	vars, _ := json.Marshal(req.Variables)
	h := sha256.New()
	h.Write([]byte(req.Query))
	h.Write([]byte{0})
	h.Write([]byte(req.OperationName))
	h.Write([]byte{0})
	h.Write(vars)
	return hex.EncodeToString(h.Sum(nil))
}
