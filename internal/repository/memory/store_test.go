package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/exception-collector/internal/domain"
	"github.com/kursadbilgin/exception-collector/internal/repository"
)

func upsertParams(txID, reason string) domain.UpsertParams {
	return domain.UpsertParams{
		TransactionID: txID,
		InterfaceType: domain.InterfaceOrder,
		Operation:     "CREATE_ORDER",
		Reason:        reason,
		Severity:      domain.SeverityMedium,
		Category:      domain.CategoryBusinessRule,
		Retryable:     true,
		CustomerID:    "CUST-1",
	}
}

func TestUpsertSameTransactionKeepsOneRecord(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()

	first, err := store.Upsert(ctx, upsertParams("TXN-1", "A"), 5)
	if err != nil {
		t.Fatalf("Upsert() unexpected error = %v", err)
	}
	second, err := store.Upsert(ctx, upsertParams("TXN-1", "B"), 5)
	if err != nil {
		t.Fatalf("Upsert() unexpected error = %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("second upsert created id %d, want %d", second.ID, first.ID)
	}
	if store.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", store.Len())
	}

	got, err := store.GetByTransactionID(ctx, "TXN-1")
	if err != nil {
		t.Fatalf("GetByTransactionID() unexpected error = %v", err)
	}
	if got.ExceptionReason != "B" {
		t.Fatalf("ExceptionReason = %q, want %q", got.ExceptionReason, "B")
	}
	if got.Status != domain.StatusNew || got.RetryCount != 0 || got.MaxRetries != 5 {
		t.Fatalf("unexpected lifecycle fields: %+v", got)
	}
}

func TestUpsertConcurrentSameTransaction(t *testing.T) {
	t.Parallel()

	store := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = store.Upsert(context.Background(), upsertParams("TXN-C", fmt.Sprintf("reason-%d", i)), 5)
		}(i)
	}
	wg.Wait()

	if store.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", store.Len())
	}
}

func TestUpsertDoesNotResetLifecycle(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	if _, err := store.Upsert(ctx, upsertParams("TXN-1", "A"), 5); err != nil {
		t.Fatalf("Upsert() unexpected error = %v", err)
	}

	err := store.WithLockedException(ctx, "TXN-1", func(tx repository.ExceptionTx) error {
		e := tx.Exception()
		e.Status = domain.StatusAcknowledged
		e.RetryCount = 2
		return tx.UpdateException(e)
	})
	if err != nil {
		t.Fatalf("WithLockedException() unexpected error = %v", err)
	}

	got, err := store.Upsert(ctx, upsertParams("TXN-1", "B"), 5)
	if err != nil {
		t.Fatalf("Upsert() unexpected error = %v", err)
	}
	if got.Status != domain.StatusAcknowledged || got.RetryCount != 2 {
		t.Fatalf("upsert overwrote lifecycle: status=%s retryCount=%d", got.Status, got.RetryCount)
	}
}

func TestWithLockedExceptionRollsBackOnError(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	if _, err := store.Upsert(ctx, upsertParams("TXN-1", "A"), 5); err != nil {
		t.Fatalf("Upsert() unexpected error = %v", err)
	}

	boom := errors.New("boom")
	err := store.WithLockedException(ctx, "TXN-1", func(tx repository.ExceptionTx) error {
		if err := tx.CreateAttempt(&domain.RetryAttempt{AttemptNumber: 1, Status: domain.RetryPending}); err != nil {
			return err
		}
		e := tx.Exception()
		e.RetryCount++
		if err := tx.UpdateException(e); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithLockedException() error = %v, want boom", err)
	}

	got, _ := store.GetByTransactionID(ctx, "TXN-1")
	if got.RetryCount != 0 {
		t.Fatalf("RetryCount = %d, want 0 after rollback", got.RetryCount)
	}
	attempts, _ := store.ListByExceptionIDs(ctx, []int64{got.ID})
	if len(attempts[got.ID]) != 0 {
		t.Fatalf("attempts = %d, want 0 after rollback", len(attempts[got.ID]))
	}
}

func TestWithLockedExceptionNotFound(t *testing.T) {
	t.Parallel()

	err := NewStore().WithLockedException(context.Background(), "missing", func(repository.ExceptionTx) error {
		t.Fatal("callback must not run for a missing exception")
		return nil
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("WithLockedException() error = %v, want ErrNotFound", err)
	}
}

func TestCreateAttemptRejectsSecondPending(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	if _, err := store.Upsert(ctx, upsertParams("TXN-1", "A"), 5); err != nil {
		t.Fatalf("Upsert() unexpected error = %v", err)
	}

	err := store.WithLockedException(ctx, "TXN-1", func(tx repository.ExceptionTx) error {
		if err := tx.CreateAttempt(&domain.RetryAttempt{AttemptNumber: 1, Status: domain.RetryPending}); err != nil {
			return err
		}
		return tx.CreateAttempt(&domain.RetryAttempt{AttemptNumber: 2, Status: domain.RetryPending})
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("WithLockedException() error = %v, want ErrConflict", err)
	}
}

func TestListPaginatesWithCursor(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		p := upsertParams(fmt.Sprintf("TXN-%d", i), "reason")
		p.Timestamp = base.Add(time.Duration(i) * time.Minute)
		if _, err := store.Upsert(ctx, p, 5); err != nil {
			t.Fatalf("Upsert() unexpected error = %v", err)
		}
	}

	sort := repository.Sort{Field: repository.SortTimestamp, Direction: repository.SortDesc}
	page, err := store.List(ctx, repository.ListParams{Sort: sort, PageSize: 2})
	if err != nil {
		t.Fatalf("List() unexpected error = %v", err)
	}
	if len(page.Items) != 2 || !page.HasNextPage || page.TotalCount != 5 {
		t.Fatalf("first page = %d items, hasNext=%v, total=%d", len(page.Items), page.HasNextPage, page.TotalCount)
	}
	if page.Items[0].TransactionID != "TXN-4" || page.Items[1].TransactionID != "TXN-3" {
		t.Fatalf("first page order = %s, %s", page.Items[0].TransactionID, page.Items[1].TransactionID)
	}

	cursor := repository.CursorFor(&page.Items[1], repository.SortTimestamp)
	decoded, err := repository.DecodeCursor(cursor.Encode())
	if err != nil {
		t.Fatalf("DecodeCursor() unexpected error = %v", err)
	}

	next, err := store.List(ctx, repository.ListParams{Sort: sort, PageSize: 2, After: decoded})
	if err != nil {
		t.Fatalf("List() unexpected error = %v", err)
	}
	if len(next.Items) != 2 || next.Items[0].TransactionID != "TXN-2" {
		t.Fatalf("second page = %+v", next.Items)
	}
}

func TestListFiltersAndExcludesResolved(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	for _, txID := range []string{"TXN-A", "TXN-B"} {
		if _, err := store.Upsert(ctx, upsertParams(txID, "stock shortage"), 5); err != nil {
			t.Fatalf("Upsert() unexpected error = %v", err)
		}
	}
	_ = store.WithLockedException(ctx, "TXN-B", func(tx repository.ExceptionTx) error {
		e := tx.Exception()
		e.Status = domain.StatusResolved
		return tx.UpdateException(e)
	})

	page, err := store.List(ctx, repository.ListParams{
		Filter: repository.Filter{SearchTerm: "STOCK", ExcludeResolved: true},
	})
	if err != nil {
		t.Fatalf("List() unexpected error = %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].TransactionID != "TXN-A" {
		t.Fatalf("List() = %+v, want only TXN-A", page.Items)
	}
}

func TestListStalePending(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(WithClock(func() time.Time { return now }))
	ctx := context.Background()
	if _, err := store.Upsert(ctx, upsertParams("TXN-1", "A"), 5); err != nil {
		t.Fatalf("Upsert() unexpected error = %v", err)
	}
	_ = store.WithLockedException(ctx, "TXN-1", func(tx repository.ExceptionTx) error {
		return tx.CreateAttempt(&domain.RetryAttempt{
			AttemptNumber: 1,
			Status:        domain.RetryPending,
			InitiatedAt:   now.Add(-time.Hour),
		})
	})

	stale, err := store.ListStalePending(ctx, now.Add(-10*time.Minute), 10)
	if err != nil {
		t.Fatalf("ListStalePending() unexpected error = %v", err)
	}
	if len(stale) != 1 || stale[0].TransactionID != "TXN-1" || stale[0].Attempt.ID == 0 {
		t.Fatalf("ListStalePending() = %+v", stale)
	}

	none, _ := store.ListStalePending(ctx, now.Add(-2*time.Hour), 10)
	if len(none) != 0 {
		t.Fatalf("ListStalePending() = %d, want 0", len(none))
	}
}
