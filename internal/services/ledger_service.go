package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/printfield/api/internal/domain"
	"github.com/printfield/api/internal/repositories"
)

const (
	ledgerIDPrefix = "led_"

	ledgerCategoryOrderIncome    = "order_income"
	ledgerCategoryReprintExpense = "reprint_material"
)

var (
	// ErrLedgerInvalidInput signals the caller provided invalid data.
	ErrLedgerInvalidInput = errors.New("ledger: invalid input")
)

// LedgerServiceDeps bundles collaborators required to construct the ledger service.
type LedgerServiceDeps struct {
	Ledger      repositories.LedgerRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type ledgerService struct {
	ledger repositories.LedgerRepository
	clock  func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)
}

// NewLedgerService wires dependencies into a concrete LedgerService implementation.
func NewLedgerService(deps LedgerServiceDeps) (LedgerService, error) {
	if deps.Ledger == nil {
		return nil, errors.New("ledger service: ledger repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &ledgerService{
		ledger: deps.Ledger,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *ledgerService) RecordOrderIncome(ctx context.Context, cmd RecordOrderIncomeCommand) (LedgerEntry, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return LedgerEntry{}, fmt.Errorf("%w: order id is required", ErrLedgerInvalidInput)
	}
	if cmd.Amount <= 0 {
		return LedgerEntry{}, fmt.Errorf("%w: amount must be positive", ErrLedgerInvalidInput)
	}

	now := s.clock()
	occurredAt := cmd.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = now
	}

	entry := domain.LedgerEntry{
		ID:          s.nextLedgerID(),
		Kind:        domain.LedgerKindIncome,
		Category:    ledgerCategoryOrderIncome,
		Amount:      cmd.Amount,
		Currency:    normaliseCurrency(cmd.Currency),
		Description: strings.TrimSpace(cmd.Description),
		OrderRef:    valuePtr(orderID),
		OccurredAt:  occurredAt,
		CreatedAt:   now,
	}

	if err := s.ledger.Insert(ctx, entry); err != nil {
		return LedgerEntry{}, err
	}

	s.logger(ctx, "ledger.income.recorded", map[string]any{
		"entryId": entry.ID,
		"orderId": orderID,
		"amount":  entry.Amount,
	})

	return entry, nil
}

func (s *ledgerService) RecordReprintExpense(ctx context.Context, cmd RecordReprintExpenseCommand) (LedgerEntry, error) {
	originalOrderID := strings.TrimSpace(cmd.OriginalOrderID)
	reprintOrderID := strings.TrimSpace(cmd.ReprintOrderID)
	if originalOrderID == "" || reprintOrderID == "" {
		return LedgerEntry{}, fmt.Errorf("%w: original and reprint order ids are required", ErrLedgerInvalidInput)
	}
	if cmd.Amount < 0 {
		return LedgerEntry{}, fmt.Errorf("%w: amount must not be negative", ErrLedgerInvalidInput)
	}

	now := s.clock()
	occurredAt := cmd.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = now
	}

	description := strings.TrimSpace(cmd.Reason)
	if description == "" {
		description = fmt.Sprintf("Reprint of order %s", originalOrderID)
	}

	entry := domain.LedgerEntry{
		ID:          s.nextLedgerID(),
		Kind:        domain.LedgerKindExpense,
		Category:    ledgerCategoryReprintExpense,
		Amount:      cmd.Amount,
		Currency:    normaliseCurrency(cmd.Currency),
		Description: description,
		OrderRef:    valuePtr(reprintOrderID),
		OccurredAt:  occurredAt,
		CreatedAt:   now,
	}
	if issueID := strings.TrimSpace(cmd.IssueID); issueID != "" {
		entry.IssueRef = valuePtr(issueID)
	}

	if err := s.ledger.Insert(ctx, entry); err != nil {
		return LedgerEntry{}, err
	}

	s.logger(ctx, "ledger.expense.recorded", map[string]any{
		"entryId":         entry.ID,
		"originalOrderId": originalOrderID,
		"reprintOrderId":  reprintOrderID,
		"amount":          entry.Amount,
	})

	return entry, nil
}

func (s *ledgerService) ListEntries(ctx context.Context, filter LedgerListFilter) (domain.CursorPage[LedgerEntry], error) {
	repoFilter := repositories.LedgerListFilter{
		Kind:       filter.Kind,
		OrderRef:   strings.TrimSpace(filter.OrderRef),
		IssueRef:   strings.TrimSpace(filter.IssueRef),
		DateRange:  domain.RangeQuery[time.Time]{From: filter.From, To: filter.To},
		Pagination: filter.Pagination,
	}
	return s.ledger.List(ctx, repoFilter)
}

func (s *ledgerService) nextLedgerID() string {
	return ledgerIDPrefix + s.newID()
}

func normaliseCurrency(currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return "GBP"
	}
	return currency
}
