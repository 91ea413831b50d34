package query

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kursadbilgin/exception-collector/internal/domain"
)

// Source is the part of the store the loaders batch over.
type Source interface {
	GetByIDs(ctx context.Context, ids []int64) ([]domain.InterfaceException, error)
	GetPayloads(ctx context.Context, ids []int64) (map[int64]json.RawMessage, error)
	ListByExceptionIDs(ctx context.Context, exceptionIDs []int64) (map[int64][]domain.RetryAttempt, error)
	StatusHistory(ctx context.Context, exceptionIDs []int64) (map[int64][]domain.StatusChange, error)
}

// Loaders is the per-request bundle. Build a new one for every request.
type Loaders struct {
	Exceptions    *Loader[int64, domain.InterfaceException]
	Payloads      *Loader[int64, json.RawMessage]
	RetryHistory  *Loader[int64, []domain.RetryAttempt]
	StatusHistory *Loader[int64, []domain.StatusChange]
}

func NewLoaders(src Source, wait time.Duration) *Loaders {
	return &Loaders{
		Exceptions: NewLoader[int64, domain.InterfaceException](func(ctx context.Context, ids []int64) (map[int64]domain.InterfaceException, error) {
			items, err := src.GetByIDs(ctx, ids)
			if err != nil {
				return nil, err
			}
			out := make(map[int64]domain.InterfaceException, len(items))
			for _, e := range items {
				out[e.ID] = e
			}
			return out, nil
		}, wait, DefaultMaxBatch),
		Payloads:      NewLoader[int64, json.RawMessage](src.GetPayloads, wait, DefaultMaxBatch),
		RetryHistory:  NewLoader[int64, []domain.RetryAttempt](src.ListByExceptionIDs, wait, DefaultMaxBatch),
		StatusHistory: NewLoader[int64, []domain.StatusChange](src.StatusHistory, wait, DefaultMaxBatch),
	}
}
