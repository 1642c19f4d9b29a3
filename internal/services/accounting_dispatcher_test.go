package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/printfield/api/internal/domain"
)

type recordingLedger struct {
	mu       sync.Mutex
	incomes  []RecordOrderIncomeCommand
	expenses []RecordReprintExpenseCommand
	fail     error
}

func (r *recordingLedger) RecordOrderIncome(_ context.Context, cmd RecordOrderIncomeCommand) (LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return LedgerEntry{}, r.fail
	}
	r.incomes = append(r.incomes, cmd)
	return LedgerEntry{ID: "led_1"}, nil
}

func (r *recordingLedger) RecordReprintExpense(_ context.Context, cmd RecordReprintExpenseCommand) (LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return LedgerEntry{}, r.fail
	}
	r.expenses = append(r.expenses, cmd)
	return LedgerEntry{ID: "led_2"}, nil
}

func (r *recordingLedger) ListEntries(context.Context, LedgerListFilter) (domain.CursorPage[LedgerEntry], error) {
	return domain.CursorPage[LedgerEntry]{}, nil
}

func TestAccountingDispatcherRunsTasks(t *testing.T) {
	ledger := &recordingLedger{}
	dispatcher, err := NewAccountingDispatcher(AccountingDispatcherDeps{Ledger: ledger})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	ctx := context.Background()
	dispatcher.EnqueueOrderIncome(ctx, RecordOrderIncomeCommand{OrderID: "ord_1", Amount: 5000})
	dispatcher.EnqueueReprintExpense(ctx, RecordReprintExpenseCommand{OriginalOrderID: "ord_1", ReprintOrderID: "ord_2", Amount: 1200})
	dispatcher.Close()

	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	if len(ledger.incomes) != 1 || ledger.incomes[0].OrderID != "ord_1" {
		t.Fatalf("expected income recorded, got %+v", ledger.incomes)
	}
	if len(ledger.expenses) != 1 || ledger.expenses[0].ReprintOrderID != "ord_2" {
		t.Fatalf("expected expense recorded, got %+v", ledger.expenses)
	}
}

func TestAccountingDispatcherSwallowsFailures(t *testing.T) {
	ledger := &recordingLedger{fail: errors.New("ledger store down")}
	var mu sync.Mutex
	var logged []string

	dispatcher, err := NewAccountingDispatcher(AccountingDispatcherDeps{
		Ledger: ledger,
		Logger: func(_ context.Context, event string, _ map[string]any) {
			mu.Lock()
			logged = append(logged, event)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	// Enqueue never reports the failure back to the caller.
	dispatcher.EnqueueOrderIncome(context.Background(), RecordOrderIncomeCommand{OrderID: "ord_1", Amount: 100})
	dispatcher.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(logged) != 1 || logged[0] != "accounting.task.failed" {
		t.Fatalf("expected one failure log, got %v", logged)
	}
}

func TestAccountingDispatcherDropsWhenClosed(t *testing.T) {
	ledger := &recordingLedger{}
	var mu sync.Mutex
	var logged []string

	dispatcher, err := NewAccountingDispatcher(AccountingDispatcherDeps{
		Ledger: ledger,
		Logger: func(_ context.Context, event string, _ map[string]any) {
			mu.Lock()
			logged = append(logged, event)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	dispatcher.Close()

	dispatcher.EnqueueOrderIncome(context.Background(), RecordOrderIncomeCommand{OrderID: "ord_1", Amount: 100})

	mu.Lock()
	defer mu.Unlock()
	if len(logged) != 1 || logged[0] != "accounting.task.dropped" {
		t.Fatalf("expected drop log, got %v", logged)
	}

	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	if len(ledger.incomes) != 0 {
		t.Fatal("no income should be recorded after close")
	}
}

func TestLedgerServiceRecordsEntries(t *testing.T) {
	ctx := context.Background()
	var inserted []domain.LedgerEntry
	repo := &stubLedgerRepo{
		insertFn: func(_ context.Context, entry domain.LedgerEntry) error {
			inserted = append(inserted, entry)
			return nil
		},
	}

	svc, err := NewLedgerService(LedgerServiceDeps{
		Ledger:      repo,
		Clock:       fixedClock(time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)),
		IDGenerator: sequentialIDs("x"),
	})
	if err != nil {
		t.Fatalf("new ledger service: %v", err)
	}

	income, err := svc.RecordOrderIncome(ctx, RecordOrderIncomeCommand{OrderID: "ord_1", Amount: 5000, Currency: "gbp"})
	if err != nil {
		t.Fatalf("record income: %v", err)
	}
	if income.Kind != domain.LedgerKindIncome || income.Currency != "GBP" {
		t.Fatalf("unexpected income entry %+v", income)
	}
	if income.OrderRef == nil || *income.OrderRef != "ord_1" {
		t.Fatalf("expected order ref, got %+v", income.OrderRef)
	}

	expense, err := svc.RecordReprintExpense(ctx, RecordReprintExpenseCommand{
		OriginalOrderID: "ord_1",
		ReprintOrderID:  "ord_2",
		IssueID:         "iss_1",
		Amount:          1200,
	})
	if err != nil {
		t.Fatalf("record expense: %v", err)
	}
	if expense.Kind != domain.LedgerKindExpense || expense.Category != ledgerCategoryReprintExpense {
		t.Fatalf("unexpected expense entry %+v", expense)
	}
	if expense.IssueRef == nil || *expense.IssueRef != "iss_1" {
		t.Fatalf("expected issue ref, got %+v", expense.IssueRef)
	}

	if _, err := svc.RecordOrderIncome(ctx, RecordOrderIncomeCommand{OrderID: "ord_1", Amount: 0}); !errors.Is(err, ErrLedgerInvalidInput) {
		t.Fatalf("expected ErrLedgerInvalidInput, got %v", err)
	}

	if len(inserted) != 2 {
		t.Fatalf("expected two entries persisted, got %d", len(inserted))
	}
}
