package services

import (
	"context"
	"time"

	domain "github.com/printfield/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	SortOrder          = domain.SortOrder
	Address            = domain.Address
	PrintSpec          = domain.PrintSpec
	Order              = domain.Order
	OrderAudit         = domain.OrderAudit
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	ItemLineage        = domain.ItemLineage
	Payment            = domain.Payment
	PaymentStatus      = domain.PaymentStatus
	Issue              = domain.Issue
	IssueStatus        = domain.IssueStatus
	IssueResolution    = domain.IssueResolution
	IssueConclusion    = domain.IssueConclusion
	IssueMessage       = domain.IssueMessage
	MessageSender      = domain.MessageSender
	CarrierFault       = domain.CarrierFault
	LedgerEntry        = domain.LedgerEntry
	LedgerKind         = domain.LedgerKind
	CustomerIssueStats = domain.CustomerIssueStats
	AdminIssueStats    = domain.AdminIssueStats
)

// OrderService encapsulates order reads and validated status mutation flows.
type OrderService interface {
	GetOrder(ctx context.Context, orderID string, opts OrderReadOptions) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (OrderStatusTransitionResult, error)
	RequestCancellation(ctx context.Context, cmd RequestCancellationCommand) (Order, error)
	ResolveCancellation(ctx context.Context, cmd ResolveCancellationCommand) (Order, error)
}

// IssueService drives the issue lifecycle from submission through conclusion.
type IssueService interface {
	Submit(ctx context.Context, cmd SubmitIssueCommand) (Issue, error)
	GetIssue(ctx context.Context, issueID string, opts IssueReadOptions) (IssueDetail, error)
	ListIssues(ctx context.Context, filter IssueListFilter) (domain.CursorPage[Issue], error)
	Review(ctx context.Context, cmd ReviewIssueCommand) (Issue, error)
	Process(ctx context.Context, cmd ProcessIssueCommand) (ProcessIssueResult, error)
	Conclude(ctx context.Context, cmd ConcludeIssueCommand) (Issue, error)
	Reopen(ctx context.Context, cmd ReopenIssueCommand) (Issue, error)
	Withdraw(ctx context.Context, cmd WithdrawIssueCommand) error
	SetCarrierFault(ctx context.Context, cmd SetCarrierFaultCommand) (Issue, error)
}

// IssueMessageService manages the threaded conversation attached to an issue.
type IssueMessageService interface {
	SendCustomerMessage(ctx context.Context, cmd SendIssueMessageCommand) (IssueMessage, error)
	SendAdminMessage(ctx context.Context, cmd SendIssueMessageCommand) (IssueMessage, error)
	Appeal(ctx context.Context, cmd AppealIssueCommand) (Issue, error)
	ListMessages(ctx context.Context, issueID string) ([]IssueMessage, error)
	MarkMessagesRead(ctx context.Context, issueID string, sender MessageSender) error
}

// IssueStatsService serves read-side aggregations for dashboards.
type IssueStatsService interface {
	CustomerStats(ctx context.Context, customerID string) (CustomerIssueStats, error)
	AdminStats(ctx context.Context) (AdminIssueStats, error)
	NeedsAttentionCount(ctx context.Context) (int, error)
}

// LedgerService records best-effort accounting entries for order and issue events.
type LedgerService interface {
	RecordOrderIncome(ctx context.Context, cmd RecordOrderIncomeCommand) (LedgerEntry, error)
	RecordReprintExpense(ctx context.Context, cmd RecordReprintExpenseCommand) (LedgerEntry, error)
	ListEntries(ctx context.Context, filter LedgerListFilter) (domain.CursorPage[LedgerEntry], error)
}

// AccountingDispatcher fires accounting side effects without blocking the
// caller. Failures are logged, never surfaced.
type AccountingDispatcher interface {
	EnqueueOrderIncome(ctx context.Context, cmd RecordOrderIncomeCommand)
	EnqueueReprintExpense(ctx context.Context, cmd RecordReprintExpenseCommand)
}

// Command and option types -------------------------------------------------

// OrderReadOptions toggles expansion of related records on order reads.
type OrderReadOptions struct {
	IncludeItems   bool
	IncludePayment bool
	// CustomerID, when set, enforces that the order belongs to that customer.
	CustomerID string
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	CustomerID string
	Status     []OrderStatus
	From       *time.Time
	To         *time.Time
	Pagination Pagination
}

// OrderStatusTransitionCommand mutates an order's status through the state machine.
type OrderStatusTransitionCommand struct {
	OrderID string
	Target  OrderStatus
	// Force bypasses the transition table entirely. Admin overrides only.
	Force bool
	// ExpectedStatus, when set, makes the write conditional on the stored
	// status still matching; a mismatch surfaces as a conflict.
	ExpectedStatus *OrderStatus
	ActorID        string
	CancelReason   *string
	Metadata       map[string]any
}

// OrderStatusTransitionResult reports the statuses either side of a transition.
type OrderStatusTransitionResult struct {
	Order          Order
	PreviousStatus OrderStatus
	NewStatus      OrderStatus
}

// RequestCancellationCommand is the customer-initiated cancellation request.
type RequestCancellationCommand struct {
	OrderID    string
	CustomerID string
	Reason     string
}

// ResolveCancellationCommand is the admin decision on a pending cancellation request.
type ResolveCancellationCommand struct {
	OrderID string
	AdminID string
	// Approve finalizes the cancellation; otherwise the order is restored to RestoreTo.
	Approve   bool
	RestoreTo OrderStatus
	Reason    *string
}

// SubmitIssueCommand opens an issue against a single order item.
type SubmitIssueCommand struct {
	OrderItemID string
	CustomerID  string
	Reason      string
	Description string
	ImageURLs   []string
}

// IssueReadOptions toggles expansion and actor scoping on issue reads.
type IssueReadOptions struct {
	IncludeMessages bool
	// CustomerID, when set, enforces ownership.
	CustomerID string
	// Reader, when set, marks the counterpart's messages read on fetch.
	Reader MessageSender
}

// IssueDetail bundles an issue with its expanded relations.
type IssueDetail struct {
	Issue    Issue
	Messages []IssueMessage
}

// IssueListFilter narrows issue listings.
type IssueListFilter struct {
	CustomerID   string
	OrderID      string
	Status       []IssueStatus
	Concluded    *bool
	CarrierFault *CarrierFault
	From         *time.Time
	To           *time.Time
	Pagination   Pagination
}

// ReviewAction enumerates admin review decisions.
type ReviewAction string

const (
	ReviewActionApproveReprint ReviewAction = "approve_reprint"
	ReviewActionApproveRefund  ReviewAction = "approve_refund"
	ReviewActionRequestInfo    ReviewAction = "request_info"
	ReviewActionReject         ReviewAction = "reject"
)

// ReviewIssueCommand applies an admin decision to a reviewable issue.
type ReviewIssueCommand struct {
	IssueID string
	AdminID string
	Action  ReviewAction
	// Message is required for request_info and reject.
	Message string
	// FinalRejection consumes the customer's appeal and concludes the issue.
	FinalRejection bool
	// RefundType selects full or partial refund on approve_refund; defaults to full.
	RefundType *IssueResolution
}

// ProcessIssueCommand executes an approved issue resolution.
type ProcessIssueCommand struct {
	IssueID string
	AdminID string
	// RefundType overrides the resolution recorded at review time.
	RefundType *IssueResolution
	Notes      string
}

// ProcessIssueResult reports the outcome of executing an approved resolution.
type ProcessIssueResult struct {
	Issue Issue
	// ReprintOrder is set on the reprint path.
	ReprintOrder *Order
	// RefundRef and RefundAmount are set on the refund path.
	RefundRef    *string
	RefundAmount *int64
}

// ConcludeIssueCommand locks an issue against further mutation.
type ConcludeIssueCommand struct {
	IssueID string
	AdminID string
	Reason  string
}

// ReopenIssueCommand lifts the conclusion lock.
type ReopenIssueCommand struct {
	IssueID string
	AdminID string
	Reason  string
}

// WithdrawIssueCommand deletes a customer's own issue while still withdrawable.
type WithdrawIssueCommand struct {
	IssueID    string
	CustomerID string
}

// SetCarrierFaultCommand records carrier attribution on an issue.
type SetCarrierFaultCommand struct {
	IssueID      string
	AdminID      string
	CarrierFault CarrierFault
}

// SendIssueMessageCommand appends one message to an issue thread.
type SendIssueMessageCommand struct {
	IssueID   string
	SenderID  string
	Content   string
	ImageURLs []string
}

// AppealIssueCommand contests a non-final rejection, returning the issue to review.
type AppealIssueCommand struct {
	IssueID    string
	CustomerID string
	Reason     string
	ImageURLs  []string
}

// RecordOrderIncomeCommand records income for a paid order.
type RecordOrderIncomeCommand struct {
	OrderID     string
	Amount      int64
	Currency    string
	Description string
	OccurredAt  time.Time
}

// RecordReprintExpenseCommand records the estimated material cost of a reprint.
type RecordReprintExpenseCommand struct {
	OriginalOrderID string
	ReprintOrderID  string
	IssueID         string
	Amount          int64
	Currency        string
	Reason          string
	OccurredAt      time.Time
}

// LedgerListFilter narrows ledger listings.
type LedgerListFilter struct {
	Kind       []LedgerKind
	OrderRef   string
	IssueRef   string
	From       *time.Time
	To         *time.Time
	Pagination Pagination
}
