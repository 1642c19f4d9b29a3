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

const ordersCollection = "orders"

// OrderRepository persists order headers in Firestore. Line items and payment
// records live in their own collections and are composed by the service layer.
type OrderRepository struct {
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{provider: provider}, nil
}

// Insert creates the order document, failing when the ID is already taken.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	coll, err := r.collection(ctx)
	if err != nil {
		return err
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	if err := createDoc(ctx, coll.Doc(id), newOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update overwrites the order document with the provided state.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	coll, err := r.collection(ctx)
	if err != nil {
		return err
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	if err := setDoc(ctx, coll.Doc(id), newOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.update", err)
	}
	return nil
}

// UpdateStatus persists the status transition guarded by the expected current
// status. When no transaction is active on the context the compare happens in
// a repository-owned transaction; a stale expectation surfaces as a conflict.
// Inside an ambient transaction the caller has already validated the
// transition before any write, so the update is applied directly - Firestore
// rejects reads issued after writes within a transaction.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, expected, target domain.OrderStatus, update repositories.OrderStatusUpdate) error {
	coll, err := r.collection(ctx)
	if err != nil {
		return err
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}

	ref := coll.Doc(id)
	updates := orderStatusUpdates(target, update)

	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		return pfirestore.WrapError("orders.updateStatus", tx.Update(ref, updates))
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		if domain.OrderStatus(doc.Status) != expected {
			return status.Errorf(codes.FailedPrecondition, "order %s is %s, expected %s", id, doc.Status, expected)
		}
		return tx.Update(ref, updates)
	})
	if err != nil {
		return pfirestore.WrapError("orders.updateStatus", err)
	}
	return nil
}

// FindByID fetches a single order header.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	snap, err := getDoc(ctx, coll.Doc(id))
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.get", err)
	}
	return decodeOrderSnapshot(snap)
}

// List returns a page of orders newest first, optionally scoped to a customer,
// a status set, and a creation date range.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	query := coll.Query
	if customer := strings.TrimSpace(filter.CustomerID); customer != "" {
		query = query.Where("customerId", "==", customer)
	}
	if len(filter.Status) > 0 {
		query = query.Where("status", "in", statusStrings(filter.Status))
	}
	if filter.DateRange.From != nil {
		query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)

	cursor, err := decodeTimeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	if cursor != nil {
		query = query.StartAfter(cursor...)
	}

	pageSize := pageSizeOrDefault(filter.Pagination.PageSize)
	query = query.Limit(pageSize + 1)

	snaps, err := queryDocs(ctx, query)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
	}

	page := domain.CursorPage[domain.Order]{}
	for i, snap := range snaps {
		if i == pageSize {
			last := page.Items[len(page.Items)-1]
			token, err := encodeTimeToken(last.CreatedAt, last.ID)
			if err != nil {
				return domain.CursorPage[domain.Order]{}, err
			}
			page.NextPageToken = token
			break
		}
		order, err := decodeOrderSnapshot(snap)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.Items = append(page.Items, order)
	}
	return page, nil
}

func (r *OrderRepository) collection(ctx context.Context) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("order repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(ordersCollection), nil
}

func orderStatusUpdates(target domain.OrderStatus, update repositories.OrderStatusUpdate) []firestore.Update {
	updatedAt := update.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	updates := []firestore.Update{
		{Path: "status", Value: string(target)},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	}
	if update.PaidAt != nil {
		updates = append(updates, firestore.Update{Path: "paidAt", Value: update.PaidAt.UTC()})
	}
	if update.ShippedAt != nil {
		updates = append(updates, firestore.Update{Path: "shippedAt", Value: update.ShippedAt.UTC()})
	}
	if update.DeliveredAt != nil {
		updates = append(updates, firestore.Update{Path: "deliveredAt", Value: update.DeliveredAt.UTC()})
	}
	if update.CancelledAt != nil {
		updates = append(updates, firestore.Update{Path: "cancelledAt", Value: update.CancelledAt.UTC()})
	}
	if update.RefundedAt != nil {
		updates = append(updates, firestore.Update{Path: "refundedAt", Value: update.RefundedAt.UTC()})
	}
	if update.CancelReason != nil {
		updates = append(updates, firestore.Update{Path: "cancelReason", Value: *update.CancelReason})
	}
	if update.UpdatedBy != nil {
		updates = append(updates, firestore.Update{Path: "updatedBy", Value: *update.UpdatedBy})
	}
	for key, value := range update.Metadata {
		updates = append(updates, firestore.Update{Path: "metadata." + key, Value: value})
	}
	return updates
}

func statusStrings[S ~string](values []S) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		out = append(out, string(value))
	}
	return out
}

func decodeOrderSnapshot(snap *firestore.DocumentSnapshot) (domain.Order, error) {
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

type orderDocument struct {
	OrderNumber     string                `firestore:"orderNumber"`
	CustomerID      string                `firestore:"customerId"`
	Status          string                `firestore:"status"`
	Currency        string                `firestore:"currency"`
	TotalAmount     int64                 `firestore:"totalAmount"`
	ShippingAddress *orderAddressDocument `firestore:"shippingAddress,omitempty"`
	PrintSpec       printSpecDocument     `firestore:"printSpec"`
	Metadata        map[string]any        `firestore:"metadata,omitempty"`
	CreatedBy       *string               `firestore:"createdBy,omitempty"`
	UpdatedBy       *string               `firestore:"updatedBy,omitempty"`
	CreatedAt       time.Time             `firestore:"createdAt"`
	UpdatedAt       time.Time             `firestore:"updatedAt"`
	PlacedAt        *time.Time            `firestore:"placedAt,omitempty"`
	PaidAt          *time.Time            `firestore:"paidAt,omitempty"`
	ShippedAt       *time.Time            `firestore:"shippedAt,omitempty"`
	DeliveredAt     *time.Time            `firestore:"deliveredAt,omitempty"`
	CancelledAt     *time.Time            `firestore:"cancelledAt,omitempty"`
	RefundedAt      *time.Time            `firestore:"refundedAt,omitempty"`
	CancelReason    *string               `firestore:"cancelReason,omitempty"`
}

type orderAddressDocument struct {
	Recipient  string  `firestore:"recipient"`
	Line1      string  `firestore:"line1"`
	Line2      *string `firestore:"line2,omitempty"`
	City       string  `firestore:"city"`
	County     *string `firestore:"county,omitempty"`
	PostalCode string  `firestore:"postalCode"`
	Country    string  `firestore:"country"`
	Phone      *string `firestore:"phone,omitempty"`
}

type printSpecDocument struct {
	DesignRef   string `firestore:"designRef"`
	PrintSize   string `firestore:"printSize"`
	Material    string `firestore:"material"`
	Orientation string `firestore:"orientation"`
}

func newOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber: order.OrderNumber,
		CustomerID:  order.CustomerID,
		Status:      string(order.Status),
		Currency:    order.Currency,
		TotalAmount: order.TotalAmount,
		PrintSpec: printSpecDocument{
			DesignRef:   order.PrintSpec.DesignRef,
			PrintSize:   order.PrintSpec.PrintSize,
			Material:    order.PrintSpec.Material,
			Orientation: order.PrintSpec.Orientation,
		},
		Metadata:     cloneMetadata(order.Metadata),
		CreatedBy:    cloneOptionalString(order.Audit.CreatedBy),
		UpdatedBy:    cloneOptionalString(order.Audit.UpdatedBy),
		CreatedAt:    order.CreatedAt.UTC(),
		UpdatedAt:    order.UpdatedAt.UTC(),
		PlacedAt:     cloneOptionalTime(order.PlacedAt),
		PaidAt:       cloneOptionalTime(order.PaidAt),
		ShippedAt:    cloneOptionalTime(order.ShippedAt),
		DeliveredAt:  cloneOptionalTime(order.DeliveredAt),
		CancelledAt:  cloneOptionalTime(order.CancelledAt),
		RefundedAt:   cloneOptionalTime(order.RefundedAt),
		CancelReason: cloneOptionalString(order.CancelReason),
	}
	if order.ShippingAddress != nil {
		doc.ShippingAddress = &orderAddressDocument{
			Recipient:  order.ShippingAddress.Recipient,
			Line1:      order.ShippingAddress.Line1,
			Line2:      cloneOptionalString(order.ShippingAddress.Line2),
			City:       order.ShippingAddress.City,
			County:     cloneOptionalString(order.ShippingAddress.County),
			PostalCode: order.ShippingAddress.PostalCode,
			Country:    order.ShippingAddress.Country,
			Phone:      cloneOptionalString(order.ShippingAddress.Phone),
		}
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	order := domain.Order{
		ID:          id,
		OrderNumber: d.OrderNumber,
		CustomerID:  d.CustomerID,
		Status:      domain.OrderStatus(d.Status),
		Currency:    d.Currency,
		TotalAmount: d.TotalAmount,
		PrintSpec: domain.PrintSpec{
			DesignRef:   d.PrintSpec.DesignRef,
			PrintSize:   d.PrintSpec.PrintSize,
			Material:    d.PrintSpec.Material,
			Orientation: d.PrintSpec.Orientation,
		},
		Metadata: cloneMetadata(d.Metadata),
		Audit: domain.OrderAudit{
			CreatedBy: cloneOptionalString(d.CreatedBy),
			UpdatedBy: cloneOptionalString(d.UpdatedBy),
		},
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
		PlacedAt:     cloneOptionalTime(d.PlacedAt),
		PaidAt:       cloneOptionalTime(d.PaidAt),
		ShippedAt:    cloneOptionalTime(d.ShippedAt),
		DeliveredAt:  cloneOptionalTime(d.DeliveredAt),
		CancelledAt:  cloneOptionalTime(d.CancelledAt),
		RefundedAt:   cloneOptionalTime(d.RefundedAt),
		CancelReason: cloneOptionalString(d.CancelReason),
	}
	if d.ShippingAddress != nil {
		order.ShippingAddress = &domain.Address{
			Recipient:  d.ShippingAddress.Recipient,
			Line1:      d.ShippingAddress.Line1,
			Line2:      cloneOptionalString(d.ShippingAddress.Line2),
			City:       d.ShippingAddress.City,
			County:     cloneOptionalString(d.ShippingAddress.County),
			PostalCode: d.ShippingAddress.PostalCode,
			Country:    d.ShippingAddress.Country,
			Phone:      cloneOptionalString(d.ShippingAddress.Phone),
		}
	}
	return order
}

// Ensure interface compliance.
var _ repositories.OrderRepository = (*OrderRepository)(nil)
