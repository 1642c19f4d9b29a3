package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/printfield/api/internal/domain"
	"github.com/printfield/api/internal/repositories"
)

func newTestOrderService(t *testing.T, deps OrderServiceDeps) OrderService {
	t.Helper()
	if deps.Clock == nil {
		deps.Clock = fixedClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	}
	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	return svc
}

func TestTransitionStatusValidPath(t *testing.T) {
	ctx := context.Background()
	var capturedExpected, capturedTarget domain.OrderStatus
	var capturedUpdate repositories.OrderStatusUpdate
	events := &captureOrderEvents{}

	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, OrderNumber: "PF-2026-000001", Status: domain.OrderStatusShipped}, nil
		},
		updateStatusFn: func(_ context.Context, _ string, expected, target domain.OrderStatus, update repositories.OrderStatusUpdate) error {
			capturedExpected = expected
			capturedTarget = target
			capturedUpdate = update
			return nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders, Events: events})

	result, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID: "ord_1",
		Target:  domain.OrderStatusDelivered,
		ActorID: "admin_1",
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if result.PreviousStatus != domain.OrderStatusShipped || result.NewStatus != domain.OrderStatusDelivered {
		t.Fatalf("unexpected result %+v", result)
	}
	if capturedExpected != domain.OrderStatusShipped || capturedTarget != domain.OrderStatusDelivered {
		t.Fatalf("unexpected conditional write: expected=%s target=%s", capturedExpected, capturedTarget)
	}
	if capturedUpdate.DeliveredAt == nil {
		t.Fatal("expected deliveredAt stamp")
	}
	if len(events.events) != 1 || events.events[0].Type != orderEventStatusChanged {
		t.Fatalf("expected one status change event, got %+v", events.events)
	}
}

func TestTransitionStatusForceBypassesTable(t *testing.T) {
	ctx := context.Background()
	var written domain.OrderStatus

	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, Status: domain.OrderStatusPending}, nil
		},
		updateStatusFn: func(_ context.Context, _ string, _, target domain.OrderStatus, _ repositories.OrderStatusUpdate) error {
			written = target
			return nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	result, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID: "ord_1",
		Target:  domain.OrderStatusShipped,
		Force:   true,
		ActorID: "admin_1",
	})
	if err != nil {
		t.Fatalf("forced transition: %v", err)
	}
	if written != domain.OrderStatusShipped || result.NewStatus != domain.OrderStatusShipped {
		t.Fatalf("expected forced write of shipped, got %s", written)
	}
}

func TestTransitionStatusInvalidPair(t *testing.T) {
	ctx := context.Background()
	updated := false

	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, Status: domain.OrderStatusPending}, nil
		},
		updateStatusFn: func(context.Context, string, domain.OrderStatus, domain.OrderStatus, repositories.OrderStatusUpdate) error {
			updated = true
			return nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	_, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: "ord_1", Target: domain.OrderStatusShipped})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}
	if updated {
		t.Fatal("repository must not be written on invalid transition")
	}
}

func TestTransitionStatusExpectedMismatch(t *testing.T) {
	ctx := context.Background()
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, Status: domain.OrderStatusConfirmed}, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	expected := domain.OrderStatusPending
	_, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID:        "ord_1",
		Target:         domain.OrderStatusPrinting,
		ExpectedStatus: &expected,
	})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict, got %v", err)
	}
}

func TestTransitionStatusRepoConflictSurfaces(t *testing.T) {
	ctx := context.Background()
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, Status: domain.OrderStatusConfirmed}, nil
		},
		updateStatusFn: func(context.Context, string, domain.OrderStatus, domain.OrderStatus, repositories.OrderStatusUpdate) error {
			return conflictErr("status changed concurrently")
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	_, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: "ord_1", Target: domain.OrderStatusPrinting})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict, got %v", err)
	}
}

func TestTransitionStatusNoOp(t *testing.T) {
	ctx := context.Background()
	updated := false
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, Status: domain.OrderStatusPrinting}, nil
		},
		updateStatusFn: func(context.Context, string, domain.OrderStatus, domain.OrderStatus, repositories.OrderStatusUpdate) error {
			updated = true
			return nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	result, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: "ord_1", Target: domain.OrderStatusPrinting})
	if err != nil {
		t.Fatalf("no-op transition: %v", err)
	}
	if updated {
		t.Fatal("no-op must not write")
	}
	if result.PreviousStatus != result.NewStatus {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestTransitionStatusRecordsIncomeOnPaymentConfirmed(t *testing.T) {
	ctx := context.Background()
	accounting := &captureAccounting{}

	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, OrderNumber: "PF-2026-000002", Status: domain.OrderStatusPending, TotalAmount: 5000, Currency: "GBP"}, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders, Accounting: accounting})

	_, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: "ord_2", Target: domain.OrderStatusPaymentConfirmed})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if len(accounting.incomes) != 1 {
		t.Fatalf("expected one income entry, got %d", len(accounting.incomes))
	}
	if accounting.incomes[0].Amount != 5000 || accounting.incomes[0].OrderID != "ord_2" {
		t.Fatalf("unexpected income command %+v", accounting.incomes[0])
	}
}

func TestRequestCancellation(t *testing.T) {
	ctx := context.Background()
	var target domain.OrderStatus

	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, CustomerID: "cus_1", Status: domain.OrderStatusConfirmed}, nil
		},
		updateStatusFn: func(_ context.Context, _ string, _, tgt domain.OrderStatus, _ repositories.OrderStatusUpdate) error {
			target = tgt
			return nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	order, err := svc.RequestCancellation(ctx, RequestCancellationCommand{OrderID: "ord_1", CustomerID: "cus_1", Reason: "changed my mind"})
	if err != nil {
		t.Fatalf("request cancellation: %v", err)
	}
	if target != domain.OrderStatusCancellationRequested || order.Status != domain.OrderStatusCancellationRequested {
		t.Fatalf("expected cancellation_requested, wrote %s", target)
	}

	if _, err := svc.RequestCancellation(ctx, RequestCancellationCommand{OrderID: "ord_1", CustomerID: "cus_2"}); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden for wrong customer, got %v", err)
	}
}

func TestRequestCancellationBlockedAfterPrinting(t *testing.T) {
	ctx := context.Background()
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, CustomerID: "cus_1", Status: domain.OrderStatusPrinting}, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	_, err := svc.RequestCancellation(ctx, RequestCancellationCommand{OrderID: "ord_1", CustomerID: "cus_1"})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}
}

func TestResolveCancellation(t *testing.T) {
	ctx := context.Background()
	var target domain.OrderStatus
	var update repositories.OrderStatusUpdate

	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, CustomerID: "cus_1", Status: domain.OrderStatusCancellationRequested}, nil
		},
		updateStatusFn: func(_ context.Context, _ string, _, tgt domain.OrderStatus, u repositories.OrderStatusUpdate) error {
			target = tgt
			update = u
			return nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	if _, err := svc.ResolveCancellation(ctx, ResolveCancellationCommand{OrderID: "ord_1", AdminID: "admin_1", Approve: true}); err != nil {
		t.Fatalf("approve cancellation: %v", err)
	}
	if target != domain.OrderStatusCancelled || update.CancelledAt == nil {
		t.Fatalf("expected finalized cancellation, wrote %s", target)
	}

	if _, err := svc.ResolveCancellation(ctx, ResolveCancellationCommand{OrderID: "ord_1", AdminID: "admin_1", RestoreTo: domain.OrderStatusConfirmed}); err != nil {
		t.Fatalf("restore order: %v", err)
	}
	if target != domain.OrderStatusConfirmed {
		t.Fatalf("expected restore to confirmed, wrote %s", target)
	}

	_, err := svc.ResolveCancellation(ctx, ResolveCancellationCommand{OrderID: "ord_1", AdminID: "admin_1", RestoreTo: domain.OrderStatusShipped})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState for illegal restore, got %v", err)
	}
}

func TestGetOrderOwnershipAndIncludes(t *testing.T) {
	ctx := context.Background()
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, CustomerID: "cus_1", Status: domain.OrderStatusDelivered}, nil
		},
	}
	items := &stubItemRepo{
		listByOrderFn: func(_ context.Context, orderID string) ([]domain.OrderItem, error) {
			return []domain.OrderItem{{ID: "itm_1", OrderID: orderID}}, nil
		},
	}
	paymentsRepo := &stubPaymentRepo{}

	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders, Items: items, Payments: paymentsRepo})

	order, err := svc.GetOrder(ctx, "ord_1", OrderReadOptions{CustomerID: "cus_1", IncludeItems: true, IncludePayment: true})
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if len(order.Items) != 1 {
		t.Fatalf("expected items expanded, got %+v", order.Items)
	}
	if order.Payment != nil {
		t.Fatal("expected nil payment for order without one")
	}

	if _, err := svc.GetOrder(ctx, "ord_1", OrderReadOptions{CustomerID: "cus_2"}); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden, got %v", err)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	ctx := context.Background()
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{}, notFoundErr("order", orderID)
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	if _, err := svc.GetOrder(ctx, "ord_missing", OrderReadOptions{}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}
