package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/exception-collector/internal/domain"
	"github.com/kursadbilgin/exception-collector/internal/provider"
	"github.com/kursadbilgin/exception-collector/internal/queue"
	"github.com/kursadbilgin/exception-collector/internal/repository/memory"
)

type workerFixture struct {
	store        *memory.Store
	orchestrator *RetryOrchestrator
	resubmitter  *fakeResubmitter
	limiter      *fakeRateLimiter
	worker       *RetryWorker
}

func newWorkerFixture(t *testing.T, completer RetryCompleter) *workerFixture {
	t.Helper()

	f := &workerFixture{
		store:       seed(t, 3, upsertParams("TXN-1")),
		resubmitter: &fakeResubmitter{},
		limiter:     &fakeRateLimiter{},
	}
	f.orchestrator = newOrchestrator(t, f.store, &fakePublisher{})
	if completer == nil {
		completer = f.orchestrator
	}

	w, err := NewRetryWorker(f.store, completer, &fakeConsumer{}, f.resubmitter, f.limiter, 2, nil)
	if err != nil {
		t.Fatalf("NewRetryWorker() error = %v", err)
	}
	f.worker = w
	return f
}

func (f *workerFixture) initiate(t *testing.T) queue.RetryMessage {
	t.Helper()

	a, err := f.orchestrator.InitiateRetry(context.Background(), RetryRequest{TransactionID: "TXN-1", Requester: operator})
	if err != nil {
		t.Fatalf("InitiateRetry() error = %v", err)
	}
	return queue.RetryMessage{
		TransactionID: "TXN-1",
		AttemptNumber: a.AttemptNumber,
		InterfaceType: domain.InterfaceOrder,
		Priority:      a.Priority,
		InitiatedBy:   a.InitiatedBy,
	}
}

func (f *workerFixture) attempt(t *testing.T, n int) domain.RetryAttempt {
	t.Helper()

	e, err := f.store.GetByTransactionID(context.Background(), "TXN-1")
	if err != nil {
		t.Fatalf("GetByTransactionID() error = %v", err)
	}
	attempts, _ := f.store.ListByExceptionIDs(context.Background(), []int64{e.ID})
	for _, a := range attempts[e.ID] {
		if a.AttemptNumber == n {
			return a
		}
	}
	t.Fatalf("attempt %d not found", n)
	return domain.RetryAttempt{}
}

func TestWorkerResubmitsAndResolves(t *testing.T) {
	t.Parallel()

	f := newWorkerFixture(t, nil)
	f.resubmitter.resubmitFn = func(ctx context.Context, req provider.ResubmitRequest) (*provider.ResubmitResponse, error) {
		return &provider.ResubmitResponse{StatusCode: http.StatusAccepted, RequestID: "req-7"}, nil
	}
	var limiterKey string
	f.limiter.waitFn = func(ctx context.Context, key string) error {
		limiterKey = key
		return nil
	}

	msg := f.initiate(t)
	if err := f.worker.processMessage(context.Background(), msg); err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}

	if len(f.resubmitter.requests) != 1 {
		t.Fatalf("resubmissions = %d, want 1", len(f.resubmitter.requests))
	}
	req := f.resubmitter.requests[0]
	if req.TransactionID != "TXN-1" || req.AttemptNumber != 1 || req.Operation != "CREATE_ORDER" || len(req.OriginalPayload) == 0 {
		t.Fatalf("resubmit request = %+v", req)
	}
	if limiterKey != "order" {
		t.Fatalf("rate limiter key = %q, want order", limiterKey)
	}

	a := f.attempt(t, 1)
	if a.Status != domain.RetrySuccess || *a.ResultResponseCode != http.StatusAccepted {
		t.Fatalf("attempt = %+v, want SUCCESS with 202", a)
	}
	if a.ResultErrorDetails["requestId"] != "req-7" {
		t.Fatalf("ResultErrorDetails = %v", a.ResultErrorDetails)
	}

	e, _ := f.store.GetByTransactionID(context.Background(), "TXN-1")
	if e.Status != domain.StatusResolved {
		t.Fatalf("exception status = %s, want RESOLVED", e.Status)
	}
}

func TestWorkerRecordsResubmitFailure(t *testing.T) {
	t.Parallel()

	f := newWorkerFixture(t, nil)
	f.resubmitter.resubmitFn = func(ctx context.Context, req provider.ResubmitRequest) (*provider.ResubmitResponse, error) {
		return nil, &provider.ProviderError{
			InterfaceType: domain.InterfaceOrder,
			StatusCode:    http.StatusUnprocessableEntity,
			Message:       "product still unavailable",
		}
	}

	msg := f.initiate(t)
	if err := f.worker.processMessage(context.Background(), msg); err != nil {
		t.Fatalf("processMessage() error = %v, want nil so the message is acked", err)
	}

	a := f.attempt(t, 1)
	if a.Status != domain.RetryFailed || *a.ResultResponseCode != http.StatusUnprocessableEntity {
		t.Fatalf("attempt = %+v, want FAILED with 422", a)
	}

	e, _ := f.store.GetByTransactionID(context.Background(), "TXN-1")
	if e.Status != domain.StatusRetriedFailed {
		t.Fatalf("exception status = %s, want RETRIED_FAILED", e.Status)
	}
}

func TestWorkerReturnsErrorWhenOutcomeNotRecorded(t *testing.T) {
	t.Parallel()

	completer := &fakeCompleter{
		completeFn: func(ctx context.Context, transactionID string, attemptNumber int, outcome domain.RetryOutcome) (*domain.RetryAttempt, error) {
			return nil, errors.New("database unavailable")
		},
	}
	f := newWorkerFixture(t, completer)

	msg := f.initiate(t)
	if err := f.worker.processMessage(context.Background(), msg); err == nil {
		t.Fatal("processMessage() error = nil, want error so the message is redelivered")
	}
	if len(completer.calls) != 1 || completer.calls[0].CompletedBy != workerCompletedBy {
		t.Fatalf("completer calls = %+v", completer.calls)
	}
}

func TestWorkerSkipsStaleMessages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		prepare func(t *testing.T, f *workerFixture) queue.RetryMessage
	}{
		{
			name: "unknown transaction",
			prepare: func(t *testing.T, f *workerFixture) queue.RetryMessage {
				return queue.RetryMessage{TransactionID: "TXN-404", AttemptNumber: 1, InterfaceType: domain.InterfaceOrder}
			},
		},
		{
			name: "cancelled attempt",
			prepare: func(t *testing.T, f *workerFixture) queue.RetryMessage {
				msg := f.initiate(t)
				if _, err := f.orchestrator.CancelRetry(context.Background(), "TXN-1", "", operator); err != nil {
					t.Fatalf("CancelRetry() error = %v", err)
				}
				return msg
			},
		},
		{
			name: "unknown attempt number",
			prepare: func(t *testing.T, f *workerFixture) queue.RetryMessage {
				msg := f.initiate(t)
				msg.AttemptNumber = 9
				return msg
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newWorkerFixture(t, nil)
			msg := tt.prepare(t, f)

			if err := f.worker.processMessage(context.Background(), msg); err != nil {
				t.Fatalf("processMessage() error = %v, want nil", err)
			}
			if len(f.resubmitter.requests) != 0 {
				t.Fatalf("resubmissions = %d, want 0", len(f.resubmitter.requests))
			}
		})
	}
}

func TestWorkerRateLimiterErrorRedelivers(t *testing.T) {
	t.Parallel()

	f := newWorkerFixture(t, nil)
	f.limiter.waitFn = func(ctx context.Context, key string) error {
		return context.DeadlineExceeded
	}

	msg := f.initiate(t)
	if err := f.worker.processMessage(context.Background(), msg); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("processMessage() error = %v, want DeadlineExceeded", err)
	}
	if a := f.attempt(t, 1); a.Status != domain.RetryPending {
		t.Fatalf("attempt status = %s, want PENDING", a.Status)
	}
}

func TestWorkerStartConsumesEveryQueue(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	consumed := map[string]int{}
	consumer := &fakeConsumer{
		consumeFn: func(ctx context.Context, queueName string, handler queue.MessageHandler) error {
			mu.Lock()
			consumed[queueName]++
			mu.Unlock()
			<-ctx.Done()
			return nil
		},
	}

	store := seed(t, 3)
	w, err := NewRetryWorker(store, &fakeCompleter{}, consumer, &fakeResubmitter{}, nil, 1, nil)
	if err != nil {
		t.Fatalf("NewRetryWorker() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(consumed)
		mu.Unlock()
		if n == len(queue.WorkQueueNames()) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("consumed queues = %d, want %d", n, len(queue.WorkQueueNames()))
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}
}

func TestResubmitOutcome(t *testing.T) {
	t.Parallel()

	plain := resubmitOutcome(nil, errors.New("dial tcp: connection refused"))
	if plain.Success || plain.ErrorDetails["cause"] == nil || plain.CompletedBy != workerCompletedBy {
		t.Fatalf("resubmitOutcome() = %+v", plain)
	}

	ok := resubmitOutcome(&provider.ResubmitResponse{StatusCode: http.StatusOK}, nil)
	if !ok.Success || ok.ResponseCode != http.StatusOK || ok.ErrorDetails != nil {
		t.Fatalf("resubmitOutcome() = %+v", ok)
	}
}
