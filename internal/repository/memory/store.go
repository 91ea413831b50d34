// Package memory is an in-process Store. The service, mutation, query and
// handler tests run against it in place of Postgres.
package memory

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/kursadbilgin/exception-collector/internal/domain"
	"github.com/kursadbilgin/exception-collector/internal/repository"
)

type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

type Store struct {
	mu         sync.RWMutex
	exceptions map[string]*domain.InterfaceException
	byID       map[int64]string
	attempts   map[int64][]domain.RetryAttempt
	changes    map[int64][]domain.StatusChange
	nextID     int64
	nextAttID  int64
	nextChgID  int64

	// txMu serializes locked transactions the way a row lock would.
	txMu sync.Mutex
	now  func() time.Time
}

var _ repository.Store = (*Store)(nil)

func NewStore(opts ...Option) *Store {
	s := &Store{
		exceptions: make(map[string]*domain.InterfaceException),
		byID:       make(map[int64]string),
		attempts:   make(map[int64][]domain.RetryAttempt),
		changes:    make(map[int64][]domain.StatusChange),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Len returns the number of stored exceptions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.exceptions)
}

func (s *Store) Upsert(_ context.Context, params domain.UpsertParams, defaultMaxRetries int) (*domain.InterfaceException, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if defaultMaxRetries <= 0 {
		defaultMaxRetries = domain.DefaultMaxRetries
	}

	now := s.now().UTC()
	timestamp := params.Timestamp
	if timestamp.IsZero() {
		timestamp = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.exceptions[params.TransactionID]
	if !ok {
		s.nextID++
		e = &domain.InterfaceException{
			ID:            s.nextID,
			TransactionID: params.TransactionID,
			Status:        domain.StatusNew,
			MaxRetries:    defaultMaxRetries,
			CreatedAt:     now,
		}
		s.exceptions[params.TransactionID] = e
		s.byID[e.ID] = params.TransactionID
	}

	e.InterfaceType = params.InterfaceType
	e.Operation = params.Operation
	e.ExternalID = params.ExternalID
	e.ExceptionReason = params.Reason
	e.Severity = params.Severity
	e.Category = params.Category
	e.Retryable = params.Retryable
	e.CustomerID = params.CustomerID
	e.LocationCode = params.LocationCode
	e.CorrelationID = params.CorrelationID
	e.OriginalPayload = slices.Clone(params.OriginalPayload)
	e.Timestamp = timestamp
	e.ProcessedAt = now
	e.UpdatedAt = now

	out := *e
	return &out, nil
}

func (s *Store) GetByTransactionID(_ context.Context, transactionID string) (*domain.InterfaceException, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.exceptions[transactionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *e
	return &out, nil
}

func (s *Store) GetByIDs(_ context.Context, ids []int64) ([]domain.InterfaceException, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.InterfaceException, 0, len(ids))
	for _, id := range ids {
		if txID, ok := s.byID[id]; ok {
			out = append(out, *s.exceptions[txID])
		}
	}
	return out, nil
}

func (s *Store) GetPayloads(_ context.Context, ids []int64) (map[int64]json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int64]json.RawMessage, len(ids))
	for _, id := range ids {
		if txID, ok := s.byID[id]; ok {
			out[id] = slices.Clone(s.exceptions[txID].OriginalPayload)
		}
	}
	return out, nil
}

func (s *Store) List(_ context.Context, params repository.ListParams) (*repository.Page, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	matched := make([]domain.InterfaceException, 0, len(s.exceptions))
	for _, e := range s.exceptions {
		if params.Filter.Matches(e) {
			matched = append(matched, *e)
		}
	}
	s.mu.RUnlock()

	sort := params.Sort.Normalized()
	slices.SortFunc(matched, func(a, b domain.InterfaceException) int {
		return sort.Compare(&a, &b)
	})

	page := &repository.Page{TotalCount: int64(len(matched))}
	if params.After != nil {
		start := len(matched)
		for i := range matched {
			if sort.IsAfter(&matched[i], *params.After) {
				start = i
				break
			}
		}
		matched = matched[start:]
	}

	pageSize := params.NormalizedPageSize()
	if len(matched) > pageSize {
		page.HasNextPage = true
		matched = matched[:pageSize]
	}
	page.Items = matched
	return page, nil
}

func (s *Store) CountByStatus(_ context.Context) (map[domain.ExceptionStatus]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[domain.ExceptionStatus]int64)
	for _, e := range s.exceptions {
		counts[e.Status]++
	}
	return counts, nil
}

func (s *Store) CountByInterfaceType(_ context.Context) (map[domain.InterfaceType]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[domain.InterfaceType]int64)
	for _, e := range s.exceptions {
		counts[e.InterfaceType]++
	}
	return counts, nil
}

func (s *Store) StatusHistory(_ context.Context, exceptionIDs []int64) (map[int64][]domain.StatusChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int64][]domain.StatusChange, len(exceptionIDs))
	for _, id := range exceptionIDs {
		if changes, ok := s.changes[id]; ok {
			out[id] = slices.Clone(changes)
		}
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) ListByExceptionIDs(_ context.Context, exceptionIDs []int64) (map[int64][]domain.RetryAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int64][]domain.RetryAttempt, len(exceptionIDs))
	for _, id := range exceptionIDs {
		if attempts, ok := s.attempts[id]; ok {
			out[id] = cloneAttempts(attempts)
		}
	}
	return out, nil
}

func (s *Store) ListStalePending(_ context.Context, initiatedBefore time.Time, limit int) ([]repository.StaleAttempt, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var stale []repository.StaleAttempt
	for id, attempts := range s.attempts {
		for _, a := range attempts {
			if a.Status == domain.RetryPending && a.InitiatedAt.Before(initiatedBefore) {
				stale = append(stale, repository.StaleAttempt{TransactionID: s.byID[id], Attempt: a})
			}
		}
	}

	slices.SortFunc(stale, func(a, b repository.StaleAttempt) int {
		return a.Attempt.InitiatedAt.Compare(b.Attempt.InitiatedAt)
	})
	if len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

// WithLockedException stages every write made through the tx and applies
// them only when fn returns nil.
func (s *Store) WithLockedException(ctx context.Context, transactionID string, fn func(tx repository.ExceptionTx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	e, ok := s.exceptions[transactionID]
	if !ok {
		s.mu.RUnlock()
		return domain.ErrNotFound
	}
	tx := &memoryTx{
		store:     s,
		exception: cloneException(e),
		attempts:  cloneAttempts(s.attempts[e.ID]),
	}
	s.mu.RUnlock()

	if err := fn(tx); err != nil {
		return err
	}

	s.commit(tx)
	return nil
}

func (s *Store) commit(tx *memoryTx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := tx.exception.ID
	if tx.exceptionDirty {
		stored := s.exceptions[s.byID[id]]
		stored.Status = tx.exception.Status
		stored.RetryCount = tx.exception.RetryCount
		stored.LastRetryAt = tx.exception.LastRetryAt
		stored.AcknowledgedAt = tx.exception.AcknowledgedAt
		stored.AcknowledgedBy = tx.exception.AcknowledgedBy
		stored.AcknowledgementNotes = tx.exception.AcknowledgementNotes
		stored.ResolvedAt = tx.exception.ResolvedAt
		stored.ResolvedBy = tx.exception.ResolvedBy
		stored.ResolutionMethod = tx.exception.ResolutionMethod
		stored.ResolutionNotes = tx.exception.ResolutionNotes
		stored.UpdatedAt = tx.exception.UpdatedAt
	}

	for i := range tx.attempts {
		if tx.attempts[i].ID == 0 {
			s.nextAttID++
			tx.attempts[i].ID = s.nextAttID
		}
	}
	s.attempts[id] = tx.attempts

	for _, c := range tx.changes {
		s.nextChgID++
		c.ID = s.nextChgID
		s.changes[id] = append(s.changes[id], c)
	}
}

type memoryTx struct {
	store          *Store
	exception      *domain.InterfaceException
	exceptionDirty bool
	attempts       []domain.RetryAttempt
	changes        []domain.StatusChange
}

func (t *memoryTx) Exception() *domain.InterfaceException {
	return t.exception
}

func (t *memoryTx) LatestAttempt() (*domain.RetryAttempt, error) {
	if len(t.attempts) == 0 {
		return nil, nil
	}
	latest := t.attempts[len(t.attempts)-1]
	return &latest, nil
}

func (t *memoryTx) GetAttempt(attemptNumber int) (*domain.RetryAttempt, error) {
	for _, a := range t.attempts {
		if a.AttemptNumber == attemptNumber {
			out := a
			return &out, nil
		}
	}
	return nil, domain.ErrNotFound
}

// CreateAttempt mirrors the unique indexes of the SQL schema: attempt numbers
// are unique per exception and only one attempt may be pending.
func (t *memoryTx) CreateAttempt(a *domain.RetryAttempt) error {
	for _, existing := range t.attempts {
		if existing.AttemptNumber == a.AttemptNumber || (existing.IsPending() && a.IsPending()) {
			return domain.ErrConflict
		}
	}
	a.ExceptionID = t.exception.ID
	t.attempts = append(t.attempts, *a)
	return nil
}

func (t *memoryTx) UpdateAttempt(a *domain.RetryAttempt) error {
	for i := range t.attempts {
		if t.attempts[i].AttemptNumber == a.AttemptNumber {
			t.attempts[i] = *a
			return nil
		}
	}
	return domain.ErrNotFound
}

func (t *memoryTx) UpdateException(e *domain.InterfaceException) error {
	e.UpdatedAt = t.store.now().UTC()
	t.exception = e
	t.exceptionDirty = true
	return nil
}

func (t *memoryTx) RecordStatusChange(c *domain.StatusChange) error {
	c.ExceptionID = t.exception.ID
	if c.ChangedAt.IsZero() {
		c.ChangedAt = t.store.now().UTC()
	}
	t.changes = append(t.changes, *c)
	return nil
}

func cloneException(e *domain.InterfaceException) *domain.InterfaceException {
	out := *e
	out.OriginalPayload = slices.Clone(e.OriginalPayload)
	return &out
}

func cloneAttempts(in []domain.RetryAttempt) []domain.RetryAttempt {
	out := make([]domain.RetryAttempt, len(in))
	for i, a := range in {
		a.ResultErrorDetails = maps.Clone(a.ResultErrorDetails)
		out[i] = a
	}
	return out
}
