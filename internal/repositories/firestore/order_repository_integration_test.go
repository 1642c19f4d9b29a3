//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/printfield/api/internal/domain"
	"github.com/printfield/api/internal/repositories"
)

func TestOrderRepositoryIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "order-test")

	registry, err := NewRegistry(provider)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	base := time.Date(2026, time.February, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		order := domain.Order{
			ID:          fmt.Sprintf("ord_%02d", i),
			OrderNumber: fmt.Sprintf("PF-2026-%04d", i+1),
			CustomerID:  "cus_1",
			Status:      domain.OrderStatusPending,
			Currency:    "GBP",
			TotalAmount: int64(1000 + i),
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
			UpdatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		if err := registry.Orders().Insert(ctx, order); err != nil {
			t.Fatalf("insert order %d: %v", i, err)
		}
	}

	found, err := registry.Orders().FindByID(ctx, "ord_00")
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	if found.OrderNumber != "PF-2026-0001" || found.Status != domain.OrderStatusPending {
		t.Fatalf("unexpected order %+v", found)
	}

	// Newest first with a cursor continuing where the first page stopped.
	page, err := registry.Orders().List(ctx, repositories.OrderListFilter{
		CustomerID: "cus_1",
		Pagination: domain.Pagination{PageSize: 3},
	})
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(page.Items) != 3 || page.NextPageToken == "" {
		t.Fatalf("expected 3 items and a next token, got %d %q", len(page.Items), page.NextPageToken)
	}
	if page.Items[0].ID != "ord_04" {
		t.Fatalf("expected newest order first, got %s", page.Items[0].ID)
	}

	rest, err := registry.Orders().List(ctx, repositories.OrderListFilter{
		CustomerID: "cus_1",
		Pagination: domain.Pagination{PageSize: 3, PageToken: page.NextPageToken},
	})
	if err != nil {
		t.Fatalf("list orders page 2: %v", err)
	}
	if len(rest.Items) != 2 || rest.NextPageToken != "" {
		t.Fatalf("expected final page of 2, got %d %q", len(rest.Items), rest.NextPageToken)
	}

	// Guarded status transition succeeds once, then conflicts on the stale expectation.
	paidAt := base.Add(time.Hour)
	update := repositories.OrderStatusUpdate{PaidAt: &paidAt, UpdatedAt: paidAt}
	if err := registry.Orders().UpdateStatus(ctx, "ord_00", domain.OrderStatusPending, domain.OrderStatusPaymentConfirmed, update); err != nil {
		t.Fatalf("update status: %v", err)
	}

	err = registry.Orders().UpdateStatus(ctx, "ord_00", domain.OrderStatusPending, domain.OrderStatusPaymentConfirmed, update)
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict for stale expectation, got %T %v", err, err)
	}

	// Writes grouped through RunInTx land atomically.
	err = registry.RunInTx(ctx, func(ctx context.Context) error {
		item := domain.OrderItem{
			ID:         "item_1",
			OrderID:    "ord_00",
			ProductRef: "poster",
			Quantity:   1,
			UnitPrice:  1000,
			Total:      1000,
			CreatedAt:  base,
			UpdatedAt:  base,
		}
		if err := registry.OrderItems().Insert(ctx, item); err != nil {
			return err
		}
		return registry.Payments().Insert(ctx, domain.Payment{
			ID:         "pay_1",
			OrderID:    "ord_00",
			Provider:   "stripe",
			GatewayRef: "pi_123",
			Status:     domain.PaymentStatusCompleted,
			Amount:     1000,
			Currency:   "GBP",
			CreatedAt:  base,
			UpdatedAt:  base,
		})
	})
	if err != nil {
		t.Fatalf("run in tx: %v", err)
	}

	items, err := registry.OrderItems().ListByOrder(ctx, "ord_00")
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(items) != 1 || items[0].ID != "item_1" {
		t.Fatalf("unexpected items %+v", items)
	}

	payment, err := registry.Payments().FindByOrder(ctx, "ord_00")
	if err != nil {
		t.Fatalf("find payment: %v", err)
	}
	if payment.GatewayRef != "pi_123" {
		t.Fatalf("unexpected payment %+v", payment)
	}

	// Missing payment lookups classify as not found.
	_, err = registry.Payments().FindByOrder(ctx, "ord_01")
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found, got %T %v", err, err)
	}
}
