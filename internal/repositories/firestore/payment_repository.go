package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/printfield/api/internal/domain"
	pfirestore "github.com/printfield/api/internal/platform/firestore"
	"github.com/printfield/api/internal/repositories"
)

const paymentsCollection = "payments"

// PaymentRepository stores the zero-or-one payment record per order.
type PaymentRepository struct {
	provider *pfirestore.Provider
}

// NewPaymentRepository constructs a Firestore-backed payment repository.
func NewPaymentRepository(provider *pfirestore.Provider) (*PaymentRepository, error) {
	if provider == nil {
		return nil, errors.New("payment repository requires firestore provider")
	}
	return &PaymentRepository{provider: provider}, nil
}

// Insert creates the payment document.
func (r *PaymentRepository) Insert(ctx context.Context, payment domain.Payment) error {
	coll, err := r.collection(ctx)
	if err != nil {
		return err
	}
	id := strings.TrimSpace(payment.ID)
	if id == "" {
		return errors.New("payment repository: payment id is required")
	}
	if strings.TrimSpace(payment.OrderID) == "" {
		return errors.New("payment repository: order id is required")
	}
	if err := createDoc(ctx, coll.Doc(id), newPaymentDocument(payment)); err != nil {
		return pfirestore.WrapError("payments.insert", err)
	}
	return nil
}

// Update overwrites the payment document with the provided state.
func (r *PaymentRepository) Update(ctx context.Context, payment domain.Payment) error {
	coll, err := r.collection(ctx)
	if err != nil {
		return err
	}
	id := strings.TrimSpace(payment.ID)
	if id == "" {
		return errors.New("payment repository: payment id is required")
	}
	if err := setDoc(ctx, coll.Doc(id), newPaymentDocument(payment)); err != nil {
		return pfirestore.WrapError("payments.update", err)
	}
	return nil
}

// FindByID fetches a single payment.
func (r *PaymentRepository) FindByID(ctx context.Context, paymentID string) (domain.Payment, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.Payment{}, err
	}
	id := strings.TrimSpace(paymentID)
	if id == "" {
		return domain.Payment{}, errors.New("payment repository: payment id is required")
	}
	snap, err := getDoc(ctx, coll.Doc(id))
	if err != nil {
		return domain.Payment{}, pfirestore.WrapError("payments.get", err)
	}
	return decodePaymentSnapshot(snap)
}

// FindByOrder fetches the payment attached to the order. A missing record is
// reported as not found.
func (r *PaymentRepository) FindByOrder(ctx context.Context, orderID string) (domain.Payment, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.Payment{}, err
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Payment{}, errors.New("payment repository: order id is required")
	}

	snaps, err := queryDocs(ctx, coll.Where("orderId", "==", id).Limit(1))
	if err != nil {
		return domain.Payment{}, pfirestore.WrapError("payments.findByOrder", err)
	}
	if len(snaps) == 0 {
		return domain.Payment{}, pfirestore.WrapError("payments.findByOrder",
			status.Errorf(codes.NotFound, "no payment for order %s", id))
	}
	return decodePaymentSnapshot(snaps[0])
}

func (r *PaymentRepository) collection(ctx context.Context) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("payment repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(paymentsCollection), nil
}

func decodePaymentSnapshot(snap *firestore.DocumentSnapshot) (domain.Payment, error) {
	var doc paymentDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Payment{}, fmt.Errorf("decode payment %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

type paymentDocument struct {
	OrderID    string     `firestore:"orderId"`
	Provider   string     `firestore:"provider"`
	GatewayRef string     `firestore:"gatewayRef"`
	Status     string     `firestore:"status"`
	Amount     int64      `firestore:"amount"`
	Currency   string     `firestore:"currency"`
	PaidAt     *time.Time `firestore:"paidAt,omitempty"`
	RefundedAt *time.Time `firestore:"refundedAt,omitempty"`
	RefundRef  *string    `firestore:"refundRef,omitempty"`
	CreatedAt  time.Time  `firestore:"createdAt"`
	UpdatedAt  time.Time  `firestore:"updatedAt"`
}

func newPaymentDocument(payment domain.Payment) paymentDocument {
	return paymentDocument{
		OrderID:    payment.OrderID,
		Provider:   payment.Provider,
		GatewayRef: payment.GatewayRef,
		Status:     string(payment.Status),
		Amount:     payment.Amount,
		Currency:   payment.Currency,
		PaidAt:     cloneOptionalTime(payment.PaidAt),
		RefundedAt: cloneOptionalTime(payment.RefundedAt),
		RefundRef:  cloneOptionalString(payment.RefundRef),
		CreatedAt:  payment.CreatedAt.UTC(),
		UpdatedAt:  payment.UpdatedAt.UTC(),
	}
}

func (d paymentDocument) toDomain(id string) domain.Payment {
	return domain.Payment{
		ID:         id,
		OrderID:    d.OrderID,
		Provider:   d.Provider,
		GatewayRef: d.GatewayRef,
		Status:     domain.PaymentStatus(d.Status),
		Amount:     d.Amount,
		Currency:   d.Currency,
		PaidAt:     cloneOptionalTime(d.PaidAt),
		RefundedAt: cloneOptionalTime(d.RefundedAt),
		RefundRef:  cloneOptionalString(d.RefundRef),
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

// Ensure interface compliance.
var _ repositories.PaymentRepository = (*PaymentRepository)(nil)
