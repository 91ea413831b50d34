package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/exception-collector/internal/domain"
	"github.com/kursadbilgin/exception-collector/internal/provider"
	"github.com/kursadbilgin/exception-collector/internal/queue"
	"github.com/kursadbilgin/exception-collector/internal/repository/memory"
)

var (
	operator = domain.Principal{Username: "olivia", Roles: []domain.Role{domain.RoleOperations}}
	admin    = domain.Principal{Username: "adam", Roles: []domain.Role{domain.RoleAdmin}}
	viewer   = domain.Principal{Username: "vera", Roles: []domain.Role{domain.RoleViewer}}
)

type fakePublisher struct {
	mu        sync.Mutex
	published []queue.RetryMessage
	queues    []string
	publishFn func(ctx context.Context, queueName string, msg queue.RetryMessage) error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.RetryMessage) error {
	if f.publishFn != nil {
		if err := f.publishFn(ctx, queueName, msg); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, msg)
	f.queues = append(f.queues, queueName)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error { return nil }

type fakeResubmitter struct {
	mu         sync.Mutex
	requests   []provider.ResubmitRequest
	resubmitFn func(ctx context.Context, req provider.ResubmitRequest) (*provider.ResubmitResponse, error)
}

func (f *fakeResubmitter) Resubmit(ctx context.Context, req provider.ResubmitRequest) (*provider.ResubmitResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.resubmitFn != nil {
		return f.resubmitFn(ctx, req)
	}
	return &provider.ResubmitResponse{StatusCode: 200}, nil
}

type fakeRateLimiter struct {
	waitFn func(ctx context.Context, key string) error
}

func (f *fakeRateLimiter) CheckAndIncrement(ctx context.Context, key string) (bool, error) {
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, key string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, key)
	}
	return nil
}

type fakeCompleter struct {
	mu         sync.Mutex
	calls      []domain.RetryOutcome
	completeFn func(ctx context.Context, transactionID string, attemptNumber int, outcome domain.RetryOutcome) (*domain.RetryAttempt, error)
}

func (f *fakeCompleter) CompleteRetry(ctx context.Context, transactionID string, attemptNumber int, outcome domain.RetryOutcome) (*domain.RetryAttempt, error) {
	f.mu.Lock()
	f.calls = append(f.calls, outcome)
	f.mu.Unlock()
	if f.completeFn != nil {
		return f.completeFn(ctx, transactionID, attemptNumber, outcome)
	}
	return &domain.RetryAttempt{AttemptNumber: attemptNumber, Status: domain.RetryFailed}, nil
}

func fixedClock() func() time.Time {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return now }
}

func upsertParams(txID string) domain.UpsertParams {
	return domain.UpsertParams{
		TransactionID:   txID,
		InterfaceType:   domain.InterfaceOrder,
		Operation:       "CREATE_ORDER",
		ExternalID:      "EXT-" + txID,
		Reason:          "Product out of stock",
		Severity:        domain.SeverityMedium,
		Category:        domain.CategoryBusinessRule,
		Retryable:       true,
		CustomerID:      "CUST-1",
		OriginalPayload: json.RawMessage(`{"transactionId":"` + txID + `"}`),
		Timestamp:       time.Date(2026, 5, 1, 11, 0, 0, 0, time.UTC),
	}
}

// seed stores one exception per params and returns the store.
func seed(t *testing.T, maxRetries int, params ...domain.UpsertParams) *memory.Store {
	t.Helper()

	store := memory.NewStore(memory.WithClock(fixedClock()))
	for _, p := range params {
		if _, err := store.Upsert(context.Background(), p, maxRetries); err != nil {
			t.Fatalf("Upsert(%s) error = %v", p.TransactionID, err)
		}
	}
	return store
}

func newOrchestrator(t *testing.T, store *memory.Store, publisher *fakePublisher) *RetryOrchestrator {
	t.Helper()

	o, err := NewRetryOrchestrator(store, publisher, nil)
	if err != nil {
		t.Fatalf("NewRetryOrchestrator() error = %v", err)
	}
	o.now = fixedClock()
	return o
}
