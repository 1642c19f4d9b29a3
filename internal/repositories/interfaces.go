package repositories

import (
	"context"
	"time"

	domain "github.com/printfield/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	OrderItems() OrderItemRepository
	Payments() PaymentRepository
	Issues() IssueRepository
	IssueMessages() IssueMessageRepository
	Ledger() LedgerRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderStatusUpdate carries the optional fields persisted alongside a status change.
type OrderStatusUpdate struct {
	PaidAt       *time.Time
	ShippedAt    *time.Time
	DeliveredAt  *time.Time
	CancelledAt  *time.Time
	RefundedAt   *time.Time
	CancelReason *string
	UpdatedBy    *string
	Metadata     map[string]any
	UpdatedAt    time.Time
}

// OrderRepository persists order headers and provides query helpers.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	// UpdateStatus persists the new status only when the stored status still
	// equals expected. A stale expectation surfaces as a conflict error so
	// concurrent admin actions cannot silently overwrite each other.
	UpdateStatus(ctx context.Context, orderID string, expected, target domain.OrderStatus, update OrderStatusUpdate) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// OrderItemRepository persists order line items. Items are owned by their
// order and deleted with it.
type OrderItemRepository interface {
	Insert(ctx context.Context, item domain.OrderItem) error
	FindByID(ctx context.Context, itemID string) (domain.OrderItem, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.OrderItem, error)
	DeleteByOrder(ctx context.Context, orderID string) error
}

// PaymentRepository stores the zero-or-one payment record per order.
type PaymentRepository interface {
	Insert(ctx context.Context, payment domain.Payment) error
	Update(ctx context.Context, payment domain.Payment) error
	FindByID(ctx context.Context, paymentID string) (domain.Payment, error)
	FindByOrder(ctx context.Context, orderID string) (domain.Payment, error)
}

// IssueRepository persists issues and the aggregate queries behind dashboards.
type IssueRepository interface {
	Insert(ctx context.Context, issue domain.Issue) error
	Update(ctx context.Context, issue domain.Issue) error
	Delete(ctx context.Context, issueID string) error
	FindByID(ctx context.Context, issueID string) (domain.Issue, error)
	FindByOrderItem(ctx context.Context, orderItemID string) (domain.Issue, error)
	List(ctx context.Context, filter IssueListFilter) (domain.CursorPage[domain.Issue], error)
	Count(ctx context.Context, filter IssueCountFilter) (int, error)
	CountByStatus(ctx context.Context, filter IssueCountFilter) (map[domain.IssueStatus]int, error)
}

// IssueMessageRepository stores the threaded conversation attached to issues.
type IssueMessageRepository interface {
	Insert(ctx context.Context, message domain.IssueMessage) error
	ListByIssue(ctx context.Context, issueID string) ([]domain.IssueMessage, error)
	// MarkRead stamps ReadAt on every unread message of the given sender type.
	MarkRead(ctx context.Context, issueID string, sender domain.MessageSender, at time.Time) error
	CountUnread(ctx context.Context, issueIDs []string, sender domain.MessageSender) (int, error)
	DeleteByIssue(ctx context.Context, issueID string) error
}

// LedgerRepository appends best-effort accounting entries.
type LedgerRepository interface {
	Insert(ctx context.Context, entry domain.LedgerEntry) error
	List(ctx context.Context, filter LedgerListFilter) (domain.CursorPage[domain.LedgerEntry], error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (map[string]error, error)
}

// Filter DTOs shared across repositories ------------------------------------

type OrderListFilter struct {
	CustomerID string
	Status     []domain.OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

type IssueListFilter struct {
	CustomerID    string
	OrderID       string
	Status        []domain.IssueStatus
	Concluded     *bool
	CarrierFault  *domain.CarrierFault
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Pagination    domain.Pagination
}

type IssueCountFilter struct {
	CustomerID   string
	Status       []domain.IssueStatus
	Concluded    *bool
	CarrierFault *domain.CarrierFault
}

type LedgerListFilter struct {
	Kind       []domain.LedgerKind
	OrderRef   string
	IssueRef   string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}
