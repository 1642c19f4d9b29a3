package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/printfield/api/internal/domain"
	"github.com/printfield/api/internal/payments"
	"github.com/printfield/api/internal/repositories"
)

// repoError is a categorised repository failure for exercising error mapping.
type repoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *repoError) Error() string       { return e.msg }
func (e *repoError) IsNotFound() bool    { return e.notFound }
func (e *repoError) IsConflict() bool    { return e.conflict }
func (e *repoError) IsUnavailable() bool { return e.unavailable }

func notFoundErr(kind, id string) error {
	return &repoError{msg: fmt.Sprintf("%s %s not found", kind, id), notFound: true}
}

func conflictErr(msg string) error {
	return &repoError{msg: msg, conflict: true}
}

type stubOrderRepo struct {
	insertFn       func(context.Context, domain.Order) error
	updateFn       func(context.Context, domain.Order) error
	updateStatusFn func(context.Context, string, domain.OrderStatus, domain.OrderStatus, repositories.OrderStatusUpdate) error
	findFn         func(context.Context, string) (domain.Order, error)
	listFn         func(context.Context, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) Update(ctx context.Context, order domain.Order) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) UpdateStatus(ctx context.Context, orderID string, expected, target domain.OrderStatus, update repositories.OrderStatusUpdate) error {
	if s.updateStatusFn != nil {
		return s.updateStatusFn(ctx, orderID, expected, target, update)
	}
	return nil
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, orderID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

type stubItemRepo struct {
	insertFn      func(context.Context, domain.OrderItem) error
	findFn        func(context.Context, string) (domain.OrderItem, error)
	listByOrderFn func(context.Context, string) ([]domain.OrderItem, error)
}

func (s *stubItemRepo) Insert(ctx context.Context, item domain.OrderItem) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, item)
	}
	return nil
}

func (s *stubItemRepo) FindByID(ctx context.Context, itemID string) (domain.OrderItem, error) {
	if s.findFn != nil {
		return s.findFn(ctx, itemID)
	}
	return domain.OrderItem{}, errors.New("not implemented")
}

func (s *stubItemRepo) ListByOrder(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	if s.listByOrderFn != nil {
		return s.listByOrderFn(ctx, orderID)
	}
	return nil, nil
}

func (s *stubItemRepo) DeleteByOrder(context.Context, string) error {
	return nil
}

type stubPaymentRepo struct {
	updateFn      func(context.Context, domain.Payment) error
	findByOrderFn func(context.Context, string) (domain.Payment, error)
}

func (s *stubPaymentRepo) Insert(context.Context, domain.Payment) error {
	return nil
}

func (s *stubPaymentRepo) Update(ctx context.Context, payment domain.Payment) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, payment)
	}
	return nil
}

func (s *stubPaymentRepo) FindByID(context.Context, string) (domain.Payment, error) {
	return domain.Payment{}, errors.New("not implemented")
}

func (s *stubPaymentRepo) FindByOrder(ctx context.Context, orderID string) (domain.Payment, error) {
	if s.findByOrderFn != nil {
		return s.findByOrderFn(ctx, orderID)
	}
	return domain.Payment{}, notFoundErr("payment for order", orderID)
}

type stubIssueRepo struct {
	insertFn        func(context.Context, domain.Issue) error
	updateFn        func(context.Context, domain.Issue) error
	deleteFn        func(context.Context, string) error
	findFn          func(context.Context, string) (domain.Issue, error)
	findByItemFn    func(context.Context, string) (domain.Issue, error)
	listFn          func(context.Context, repositories.IssueListFilter) (domain.CursorPage[domain.Issue], error)
	countFn         func(context.Context, repositories.IssueCountFilter) (int, error)
	countByStatusFn func(context.Context, repositories.IssueCountFilter) (map[domain.IssueStatus]int, error)
}

func (s *stubIssueRepo) Insert(ctx context.Context, issue domain.Issue) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, issue)
	}
	return nil
}

func (s *stubIssueRepo) Update(ctx context.Context, issue domain.Issue) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, issue)
	}
	return nil
}

func (s *stubIssueRepo) Delete(ctx context.Context, issueID string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, issueID)
	}
	return nil
}

func (s *stubIssueRepo) FindByID(ctx context.Context, issueID string) (domain.Issue, error) {
	if s.findFn != nil {
		return s.findFn(ctx, issueID)
	}
	return domain.Issue{}, errors.New("not implemented")
}

func (s *stubIssueRepo) FindByOrderItem(ctx context.Context, orderItemID string) (domain.Issue, error) {
	if s.findByItemFn != nil {
		return s.findByItemFn(ctx, orderItemID)
	}
	return domain.Issue{}, notFoundErr("issue for item", orderItemID)
}

func (s *stubIssueRepo) List(ctx context.Context, filter repositories.IssueListFilter) (domain.CursorPage[domain.Issue], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Issue]{}, nil
}

func (s *stubIssueRepo) Count(ctx context.Context, filter repositories.IssueCountFilter) (int, error) {
	if s.countFn != nil {
		return s.countFn(ctx, filter)
	}
	return 0, nil
}

func (s *stubIssueRepo) CountByStatus(ctx context.Context, filter repositories.IssueCountFilter) (map[domain.IssueStatus]int, error) {
	if s.countByStatusFn != nil {
		return s.countByStatusFn(ctx, filter)
	}
	return map[domain.IssueStatus]int{}, nil
}

type stubMessageRepo struct {
	insertFn        func(context.Context, domain.IssueMessage) error
	listFn          func(context.Context, string) ([]domain.IssueMessage, error)
	markReadFn      func(context.Context, string, domain.MessageSender, time.Time) error
	countUnreadFn   func(context.Context, []string, domain.MessageSender) (int, error)
	deleteByIssueFn func(context.Context, string) error
}

func (s *stubMessageRepo) Insert(ctx context.Context, message domain.IssueMessage) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, message)
	}
	return nil
}

func (s *stubMessageRepo) ListByIssue(ctx context.Context, issueID string) ([]domain.IssueMessage, error) {
	if s.listFn != nil {
		return s.listFn(ctx, issueID)
	}
	return nil, nil
}

func (s *stubMessageRepo) MarkRead(ctx context.Context, issueID string, sender domain.MessageSender, at time.Time) error {
	if s.markReadFn != nil {
		return s.markReadFn(ctx, issueID, sender, at)
	}
	return nil
}

func (s *stubMessageRepo) CountUnread(ctx context.Context, issueIDs []string, sender domain.MessageSender) (int, error) {
	if s.countUnreadFn != nil {
		return s.countUnreadFn(ctx, issueIDs, sender)
	}
	return 0, nil
}

func (s *stubMessageRepo) DeleteByIssue(ctx context.Context, issueID string) error {
	if s.deleteByIssueFn != nil {
		return s.deleteByIssueFn(ctx, issueID)
	}
	return nil
}

type stubLedgerRepo struct {
	insertFn func(context.Context, domain.LedgerEntry) error
	listFn   func(context.Context, repositories.LedgerListFilter) (domain.CursorPage[domain.LedgerEntry], error)
}

func (s *stubLedgerRepo) Insert(ctx context.Context, entry domain.LedgerEntry) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, entry)
	}
	return nil
}

func (s *stubLedgerRepo) List(ctx context.Context, filter repositories.LedgerListFilter) (domain.CursorPage[domain.LedgerEntry], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.LedgerEntry]{}, nil
}

type stubCounterRepo struct {
	nextFn func(context.Context, string, int64) (int64, error)
}

func (s *stubCounterRepo) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if s.nextFn != nil {
		return s.nextFn(ctx, counterID, step)
	}
	return 1, nil
}

type stubGateway struct {
	refundFn  func(context.Context, payments.RefundRequest) (payments.RefundResult, error)
	resolveFn func(context.Context, string) (payments.ResolvedPayment, error)
}

func (s *stubGateway) Refund(ctx context.Context, req payments.RefundRequest) (payments.RefundResult, error) {
	if s.refundFn != nil {
		return s.refundFn(ctx, req)
	}
	return payments.RefundResult{}, errors.New("not implemented")
}

func (s *stubGateway) ResolvePaymentReference(ctx context.Context, ref string) (payments.ResolvedPayment, error) {
	if s.resolveFn != nil {
		return s.resolveFn(ctx, ref)
	}
	return payments.ResolvedPayment{}, errors.New("not implemented")
}

func (s *stubGateway) LookupPayment(context.Context, string) (payments.PaymentDetails, error) {
	return payments.PaymentDetails{}, errors.New("not implemented")
}

type captureAccounting struct {
	incomes  []RecordOrderIncomeCommand
	expenses []RecordReprintExpenseCommand
}

func (c *captureAccounting) EnqueueOrderIncome(_ context.Context, cmd RecordOrderIncomeCommand) {
	c.incomes = append(c.incomes, cmd)
}

func (c *captureAccounting) EnqueueReprintExpense(_ context.Context, cmd RecordReprintExpenseCommand) {
	c.expenses = append(c.expenses, cmd)
}

type captureOrderEvents struct {
	events []OrderEvent
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.events = append(c.events, event)
	return nil
}

type captureIssueEvents struct {
	events []IssueEvent
}

func (c *captureIssueEvents) PublishIssueEvent(_ context.Context, event IssueEvent) error {
	c.events = append(c.events, event)
	return nil
}

func fixedClock(now time.Time) func() time.Time {
	return func() time.Time { return now }
}

func sequentialIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s%04d", prefix, n)
	}
}
