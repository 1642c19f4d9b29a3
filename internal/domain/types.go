package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Address represents postal address structures shared by customer and order layers.
type Address struct {
	Recipient  string
	Line1      string
	Line2      *string
	City       string
	County     *string
	PostalCode string
	Country    string
	Phone      *string
}

// PrintSpec captures the print configuration an order was placed with.
type PrintSpec struct {
	DesignRef   string
	PrintSize   string
	Material    string
	Orientation string
}

// Order captures order headers returned to handlers/services.
type Order struct {
	ID              string
	OrderNumber     string
	CustomerID      string
	Status          OrderStatus
	Currency        string
	TotalAmount     int64
	ShippingAddress *Address
	PrintSpec       PrintSpec
	Metadata        map[string]any
	Audit           OrderAudit
	CreatedAt       time.Time
	UpdatedAt       time.Time
	PlacedAt        *time.Time
	PaidAt          *time.Time
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	CancelledAt     *time.Time
	RefundedAt      *time.Time
	CancelReason    *string
	Items           []OrderItem
	Payment         *Payment
}

// OrderAudit records the actors responsible for creating/updating the order.
type OrderAudit struct {
	CreatedBy *string
	UpdatedBy *string
}

// ItemLineage marks an order item as a reprint of another order's item.
type ItemLineage struct {
	OriginalOrderID string
	OriginalItemID  string
	IssueID         string
}

// OrderItem is one line of an order. Items are owned by their order and are
// removed with it.
type OrderItem struct {
	ID            string
	OrderID       string
	ProductRef    string
	VariantRef    string
	DesignRef     string
	Quantity      int
	UnitPrice     int64
	Total         int64
	Customization map[string]any
	Lineage       *ItemLineage
	Metadata      map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsReprint reports whether the item was produced as a reprint for an issue.
func (i OrderItem) IsReprint() bool {
	return i.Lineage != nil
}

// PaymentStatus enumerates the lifecycle states of a payment record.
type PaymentStatus string

const (
	// PaymentStatusPending indicates the payment awaits gateway confirmation.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusCompleted indicates the gateway captured the payment.
	PaymentStatusCompleted PaymentStatus = "completed"
	// PaymentStatusRefunded indicates the payment was fully refunded.
	PaymentStatusRefunded PaymentStatus = "refunded"
	// PaymentStatusFailed indicates the gateway reported a terminal failure.
	PaymentStatusFailed PaymentStatus = "failed"
)

// Payment is the zero-or-one payment record attached to an order. GatewayRef
// may hold either a payment-intent id or a checkout-session id; historical
// records stored both forms, so the reference is resolved at refund time.
type Payment struct {
	ID         string
	OrderID    string
	Provider   string
	GatewayRef string
	Status     PaymentStatus
	Amount     int64
	Currency   string
	PaidAt     *time.Time
	RefundedAt *time.Time
	RefundRef  *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IssueResolution enumerates the resolution paths an approved issue can take.
type IssueResolution string

const (
	// IssueResolutionReprint resolves the issue by producing a free replacement.
	IssueResolutionReprint IssueResolution = "reprint"
	// IssueResolutionFullRefund refunds the original order total.
	IssueResolutionFullRefund IssueResolution = "full_refund"
	// IssueResolutionPartialRefund refunds the affected item total only.
	IssueResolutionPartialRefund IssueResolution = "partial_refund"
)

// CarrierFault is the tri-state carrier attribution recorded on an issue.
type CarrierFault string

const (
	// CarrierFaultYes attributes the damage/loss to the carrier.
	CarrierFaultYes CarrierFault = "carrier_fault"
	// CarrierFaultNo rules the carrier out.
	CarrierFaultNo CarrierFault = "not_carrier_fault"
	// CarrierFaultUnknown is the default before triage.
	CarrierFaultUnknown CarrierFault = "unknown"
)

// IssueConclusion is the terminal lock on an issue, independent of status.
type IssueConclusion struct {
	IsConcluded bool
	At          *time.Time
	By          *string
	Reason      *string
}

// Issue is a customer-reported problem with exactly one order item.
type Issue struct {
	ID              string
	OrderItemID     string
	OrderID         string
	CustomerID      string
	Reason          string
	Description     string
	ImageURLs       []string
	Status          IssueStatus
	ResolvedType    *IssueResolution
	RejectionReason *string
	RejectionFinal  bool
	CarrierFault    CarrierFault
	ReprintOrderID  *string
	ReprintItemID   *string
	RefundAmount    *int64
	RefundRef       *string
	Conclusion      IssueConclusion
	OriginalIssueID *string
	ReviewedAt      *time.Time
	ProcessedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// MessageSender identifies which party authored an issue message.
type MessageSender string

const (
	// MessageSenderCustomer marks messages written by the order's customer.
	MessageSenderCustomer MessageSender = "customer"
	// MessageSenderAdmin marks messages written by back-office staff.
	MessageSenderAdmin MessageSender = "admin"
)

// IssueMessage is one entry of the threaded conversation on an issue. The
// message log doubles as the audit trail for every review decision.
type IssueMessage struct {
	ID          string
	IssueID     string
	Sender      MessageSender
	SenderID    string
	Content     string
	ImageURLs   []string
	ReadAt      *time.Time
	EmailSent   bool
	EmailSentAt *time.Time
	CreatedAt   time.Time
}

// LedgerKind distinguishes income from expense entries.
type LedgerKind string

const (
	// LedgerKindIncome records money in.
	LedgerKindIncome LedgerKind = "income"
	// LedgerKindExpense records money out.
	LedgerKindExpense LedgerKind = "expense"
)

// LedgerEntry is a best-effort accounting record; it is never authoritative
// for order or issue state.
type LedgerEntry struct {
	ID          string
	Kind        LedgerKind
	Category    string
	Amount      int64
	Currency    string
	Description string
	OrderRef    *string
	IssueRef    *string
	OccurredAt  time.Time
	CreatedAt   time.Time
}

// CustomerIssueStats aggregates a customer's issues for their dashboard.
type CustomerIssueStats struct {
	Total          int
	Pending        int
	Resolved       int
	UnreadMessages int
}

// AdminIssueStats aggregates issue counts for the back-office dashboard.
type AdminIssueStats struct {
	ByStatus     map[IssueStatus]int
	CarrierFault int
}
