package retry

import (
	"context"
	"errors"
	"testing"
)

// fakeRetriable lets tests drive Do's attempt-counting logic without
// depending on core.RegistryError.
type fakeRetriable struct {
	retriable      bool
	maxFree        int
	budgetEligible bool
}

func (f fakeRetriable) Error() string        { return "fake retriable error" }
func (f fakeRetriable) Retriable() bool      { return f.retriable }
func (f fakeRetriable) MaxFreeAttempts() int { return f.maxFree }
func (f fakeRetriable) BudgetEligible() bool { return f.budgetEligible }

func TestDo_SucceedsWithoutRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), NewBudget(6), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one call, got %d", calls)
	}
}

func TestDo_NonRetriableErrorReturnsImmediately(t *testing.T) {
	want := errors.New("not retriable")
	calls := 0
	err := Do(context.Background(), NewBudget(6), func() error {
		calls++
		return want
	})
	if err != want {
		t.Fatalf("expected error to propagate unchanged, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one call, got %d", calls)
	}
}

func TestDo_NetworkErrorGetsExactlyOneRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), NewBudget(6), func() error {
		calls++
		return fakeRetriable{retriable: true, maxFree: 2, budgetEligible: false}
	})
	if err == nil {
		t.Fatal("expected error after exhausting the free retry")
	}
	if calls != 2 {
		t.Fatalf("expected exactly two attempts (one retry), got %d", calls)
	}
}

func TestDo_RateLimitedGetsMinimumThreeAttempts(t *testing.T) {
	calls := 0
	budget := NewBudget(0) // no budget spend needed to reach the free minimum
	err := Do(context.Background(), budget, func() error {
		calls++
		if calls == 3 {
			return nil
		}
		return fakeRetriable{retriable: true, maxFree: 3, budgetEligible: true}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected exactly three attempts, got %d", calls)
	}
}

func TestDo_RateLimitedDrawsFromBudgetBeyondFreeAttempts(t *testing.T) {
	calls := 0
	budget := NewBudget(1)
	err := Do(context.Background(), budget, func() error {
		calls++
		return fakeRetriable{retriable: true, maxFree: 3, budgetEligible: true}
	})
	if err == nil {
		t.Fatal("expected error once the budget is exhausted")
	}
	// 3 free attempts plus 1 more drawn from the budget of 1.
	if calls != 4 {
		t.Fatalf("expected exactly four attempts, got %d", calls)
	}
}

func TestDo_NetworkErrorNeverDrawsFromBudget(t *testing.T) {
	calls := 0
	budget := NewBudget(6)
	err := Do(context.Background(), budget, func() error {
		calls++
		return fakeRetriable{retriable: true, maxFree: 2, budgetEligible: false}
	})
	if err == nil {
		t.Fatal("expected error after the one free retry")
	}
	if calls != 2 {
		t.Fatalf("expected exactly two attempts, got %d", calls)
	}
	if budget.remaining != 6 {
		t.Fatalf("expected budget untouched, got %d remaining", budget.remaining)
	}
}

func TestDo_ContextCancelledDuringBackoffStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, NewBudget(6), func() error {
		calls++
		if calls == 1 {
			cancel()
		}
		return fakeRetriable{retriable: true, maxFree: 3, budgetEligible: true}
	})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one attempt before cancellation stopped retrying, got %d", calls)
	}
}
