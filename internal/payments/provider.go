package payments

import (
	"context"
	"errors"
	"time"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or PSP confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the PSP reports the payment as successfully captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the PSP reports a failure and no further action is possible.
	StatusFailed Status = "failed"
	// StatusRefunded indicates the payment has been refunded (partially or fully).
	StatusRefunded Status = "refunded"
)

// ErrUnknownReferenceFormat is returned when a stored gateway reference is
// neither a payment-intent id nor a checkout-session id.
var ErrUnknownReferenceFormat = errors.New("payments: unknown payment reference format")

// ErrNoPaymentIntent is returned when a checkout session carries no payment intent.
var ErrNoPaymentIntent = errors.New("payments: checkout session has no payment intent")

// RefundRequest defines a PSP refund attempt. Amount is in minor currency
// units; nil refunds the full remaining amount.
type RefundRequest struct {
	IntentID       string
	Amount         *int64
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string
}

// RefundResult reports the refund reference and amount confirmed by the PSP.
type RefundResult struct {
	RefundID string
	Amount   int64
	Currency string
	Status   string
}

// ResolvedPayment is the outcome of resolving a stored gateway reference to a
// concrete payment intent.
type ResolvedPayment struct {
	IntentID string
	Paid     bool
}

// PaymentDetails normalises PSP specific fields for storage.
type PaymentDetails struct {
	Provider   string
	IntentID   string
	Status     Status
	Amount     int64
	Currency   string
	Captured   bool
	CapturedAt *time.Time
	RefundedAt *time.Time
}

// Provider defines the contract for PSP adapters to implement. Expected
// gateway failures come back as wrapped errors; nothing panics.
type Provider interface {
	// Refund issues a refund against a payment intent.
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
	// ResolvePaymentReference accepts either a payment-intent id or a
	// checkout-session id and resolves it to the underlying intent,
	// reporting whether the payment actually completed.
	ResolvePaymentReference(ctx context.Context, ref string) (ResolvedPayment, error)
	// LookupPayment retrieves normalised payment details for reconciliation.
	LookupPayment(ctx context.Context, intentID string) (PaymentDetails, error)
}
