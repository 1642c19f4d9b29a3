package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/printfield/api/internal/domain"
	pfirestore "github.com/printfield/api/internal/platform/firestore"
	"github.com/printfield/api/internal/repositories"
)

const orderItemsCollection = "order_items"

// OrderItemRepository persists order line items in a flat collection keyed by
// item ID and indexed by the owning order.
type OrderItemRepository struct {
	provider *pfirestore.Provider
}

// NewOrderItemRepository constructs a Firestore-backed order item repository.
func NewOrderItemRepository(provider *pfirestore.Provider) (*OrderItemRepository, error) {
	if provider == nil {
		return nil, errors.New("order item repository requires firestore provider")
	}
	return &OrderItemRepository{provider: provider}, nil
}

// Insert creates the item document.
func (r *OrderItemRepository) Insert(ctx context.Context, item domain.OrderItem) error {
	coll, err := r.collection(ctx)
	if err != nil {
		return err
	}
	id := strings.TrimSpace(item.ID)
	if id == "" {
		return errors.New("order item repository: item id is required")
	}
	if strings.TrimSpace(item.OrderID) == "" {
		return errors.New("order item repository: order id is required")
	}
	if err := createDoc(ctx, coll.Doc(id), newOrderItemDocument(item)); err != nil {
		return pfirestore.WrapError("orderItems.insert", err)
	}
	return nil
}

// FindByID fetches a single item.
func (r *OrderItemRepository) FindByID(ctx context.Context, itemID string) (domain.OrderItem, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.OrderItem{}, err
	}
	id := strings.TrimSpace(itemID)
	if id == "" {
		return domain.OrderItem{}, errors.New("order item repository: item id is required")
	}
	snap, err := getDoc(ctx, coll.Doc(id))
	if err != nil {
		return domain.OrderItem{}, pfirestore.WrapError("orderItems.get", err)
	}
	return decodeOrderItemSnapshot(snap)
}

// ListByOrder returns every item of the order in creation order.
func (r *OrderItemRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return nil, err
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return nil, errors.New("order item repository: order id is required")
	}

	query := coll.Where("orderId", "==", id).OrderBy("createdAt", firestore.Asc)
	snaps, err := queryDocs(ctx, query)
	if err != nil {
		return nil, pfirestore.WrapError("orderItems.listByOrder", err)
	}

	items := make([]domain.OrderItem, 0, len(snaps))
	for _, snap := range snaps {
		item, err := decodeOrderItemSnapshot(snap)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// DeleteByOrder removes all items belonging to the order.
func (r *OrderItemRepository) DeleteByOrder(ctx context.Context, orderID string) error {
	coll, err := r.collection(ctx)
	if err != nil {
		return err
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return errors.New("order item repository: order id is required")
	}

	snaps, err := queryDocs(ctx, coll.Where("orderId", "==", id))
	if err != nil {
		return pfirestore.WrapError("orderItems.deleteByOrder", err)
	}
	for _, snap := range snaps {
		if err := deleteDoc(ctx, snap.Ref); err != nil {
			return pfirestore.WrapError("orderItems.deleteByOrder", err)
		}
	}
	return nil
}

func (r *OrderItemRepository) collection(ctx context.Context) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("order item repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(orderItemsCollection), nil
}

func decodeOrderItemSnapshot(snap *firestore.DocumentSnapshot) (domain.OrderItem, error) {
	var doc orderItemDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.OrderItem{}, fmt.Errorf("decode order item %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

type orderItemDocument struct {
	OrderID       string               `firestore:"orderId"`
	ProductRef    string               `firestore:"productRef"`
	VariantRef    string               `firestore:"variantRef,omitempty"`
	DesignRef     string               `firestore:"designRef,omitempty"`
	Quantity      int                  `firestore:"quantity"`
	UnitPrice     int64                `firestore:"unitPrice"`
	Total         int64                `firestore:"total"`
	Customization map[string]any       `firestore:"customization,omitempty"`
	Lineage       *itemLineageDocument `firestore:"lineage,omitempty"`
	Metadata      map[string]any       `firestore:"metadata,omitempty"`
	CreatedAt     time.Time            `firestore:"createdAt"`
	UpdatedAt     time.Time            `firestore:"updatedAt"`
}

type itemLineageDocument struct {
	OriginalOrderID string `firestore:"originalOrderId"`
	OriginalItemID  string `firestore:"originalItemId"`
	IssueID         string `firestore:"issueId"`
}

func newOrderItemDocument(item domain.OrderItem) orderItemDocument {
	doc := orderItemDocument{
		OrderID:       item.OrderID,
		ProductRef:    item.ProductRef,
		VariantRef:    item.VariantRef,
		DesignRef:     item.DesignRef,
		Quantity:      item.Quantity,
		UnitPrice:     item.UnitPrice,
		Total:         item.Total,
		Customization: cloneMetadata(item.Customization),
		Metadata:      cloneMetadata(item.Metadata),
		CreatedAt:     item.CreatedAt.UTC(),
		UpdatedAt:     item.UpdatedAt.UTC(),
	}
	if item.Lineage != nil {
		doc.Lineage = &itemLineageDocument{
			OriginalOrderID: item.Lineage.OriginalOrderID,
			OriginalItemID:  item.Lineage.OriginalItemID,
			IssueID:         item.Lineage.IssueID,
		}
	}
	return doc
}

func (d orderItemDocument) toDomain(id string) domain.OrderItem {
	item := domain.OrderItem{
		ID:            id,
		OrderID:       d.OrderID,
		ProductRef:    d.ProductRef,
		VariantRef:    d.VariantRef,
		DesignRef:     d.DesignRef,
		Quantity:      d.Quantity,
		UnitPrice:     d.UnitPrice,
		Total:         d.Total,
		Customization: cloneMetadata(d.Customization),
		Metadata:      cloneMetadata(d.Metadata),
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
	if d.Lineage != nil {
		item.Lineage = &domain.ItemLineage{
			OriginalOrderID: d.Lineage.OriginalOrderID,
			OriginalItemID:  d.Lineage.OriginalItemID,
			IssueID:         d.Lineage.IssueID,
		}
	}
	return item
}

// Ensure interface compliance.
var _ repositories.OrderItemRepository = (*OrderItemRepository)(nil)
