package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/kursadbilgin/exception-collector/internal/domain"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Filter narrows an exception listing. Empty slices match everything.
type Filter struct {
	InterfaceTypes  []domain.InterfaceType
	Statuses        []domain.ExceptionStatus
	Severities      []domain.Severity
	CustomerIDs     []string
	From            *time.Time
	To              *time.Time
	SearchTerm      string
	ExcludeResolved bool
}

// Matches applies the filter to a single exception the same way List does.
func (f Filter) Matches(e *domain.InterfaceException) bool {
	if len(f.InterfaceTypes) > 0 && !slices.Contains(f.InterfaceTypes, e.InterfaceType) {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, e.Status) {
		return false
	}
	if len(f.Severities) > 0 && !slices.Contains(f.Severities, e.Severity) {
		return false
	}
	if len(f.CustomerIDs) > 0 && !slices.Contains(f.CustomerIDs, e.CustomerID) {
		return false
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Timestamp.After(*f.To) {
		return false
	}
	if f.ExcludeResolved && e.Status == domain.StatusResolved {
		return false
	}
	if term := strings.ToLower(strings.TrimSpace(f.SearchTerm)); term != "" {
		for _, field := range []string{e.TransactionID, e.ExternalID, e.ExceptionReason, e.CustomerID} {
			if strings.Contains(strings.ToLower(field), term) {
				return true
			}
		}
		return false
	}
	return true
}

type ListParams struct {
	Filter   Filter
	Sort     Sort
	After    *Cursor
	PageSize int
}

// NormalizedPageSize clamps the requested size into [1, MaxPageSize].
func (p ListParams) NormalizedPageSize() int {
	if p.PageSize < 1 {
		return DefaultPageSize
	}
	return min(p.PageSize, MaxPageSize)
}

// Validate rejects a cursor minted under a different sort field.
func (p ListParams) Validate() error {
	if p.After != nil && p.After.SortField != p.Sort.Normalized().Field {
		return fmt.Errorf("%w: cursor does not match sort field %q", domain.ErrValidation, p.Sort.Normalized().Field)
	}
	if p.Filter.From != nil && p.Filter.To != nil && p.Filter.From.After(*p.Filter.To) {
		return fmt.Errorf("%w: dateRange.from is after dateRange.to", domain.ErrValidation)
	}
	return nil
}

type Page struct {
	Items       []domain.InterfaceException
	HasNextPage bool
	TotalCount  int64
}

// StaleAttempt is a pending attempt together with the transaction it belongs to.
type StaleAttempt struct {
	TransactionID string
	Attempt       domain.RetryAttempt
}

type ExceptionRepository interface {
	Upsert(ctx context.Context, params domain.UpsertParams, defaultMaxRetries int) (*domain.InterfaceException, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*domain.InterfaceException, error)
	GetByIDs(ctx context.Context, ids []int64) ([]domain.InterfaceException, error)
	GetPayloads(ctx context.Context, ids []int64) (map[int64]json.RawMessage, error)
	List(ctx context.Context, params ListParams) (*Page, error)
	CountByStatus(ctx context.Context) (map[domain.ExceptionStatus]int64, error)
	CountByInterfaceType(ctx context.Context) (map[domain.InterfaceType]int64, error)
	StatusHistory(ctx context.Context, exceptionIDs []int64) (map[int64][]domain.StatusChange, error)
	Ping(ctx context.Context) error
}

type AttemptRepository interface {
	ListByExceptionIDs(ctx context.Context, exceptionIDs []int64) (map[int64][]domain.RetryAttempt, error)
	ListStalePending(ctx context.Context, initiatedBefore time.Time, limit int) ([]StaleAttempt, error)
}

// ExceptionTx is the unit of work handed out by WithLockedException. The
// exception row stays locked until the callback returns.
type ExceptionTx interface {
	Exception() *domain.InterfaceException
	LatestAttempt() (*domain.RetryAttempt, error)
	GetAttempt(attemptNumber int) (*domain.RetryAttempt, error)
	CreateAttempt(a *domain.RetryAttempt) error
	UpdateAttempt(a *domain.RetryAttempt) error
	UpdateException(e *domain.InterfaceException) error
	RecordStatusChange(c *domain.StatusChange) error
}

// Store is the full exception store. WithLockedException returns
// domain.ErrNotFound when no exception has the given transaction id; any
// error returned by fn rolls the transaction back and is returned unchanged.
type Store interface {
	ExceptionRepository
	AttemptRepository
	WithLockedException(ctx context.Context, transactionID string, fn func(tx ExceptionTx) error) error
}
