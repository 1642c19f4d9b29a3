package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/printfield/api/internal/domain"
	"github.com/printfield/api/internal/repositories"
)

const (
	orderEventStatusChanged         = "order.status.changed"
	orderEventCancellationRequested = "order.cancellation.requested"
	orderEventCancellationFinalized = "order.cancellation.finalized"
	orderEventCancellationWithdrawn = "order.cancellation.withdrawn"

	orderIDPrefix = "ord_"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates the stored status changed under the caller's feet.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderForbidden indicates the actor does not own the order.
	ErrOrderForbidden = errors.New("order: forbidden")
)

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders     repositories.OrderRepository
	Items      repositories.OrderItemRepository
	Payments   repositories.PaymentRepository
	UnitOfWork repositories.UnitOfWork
	Accounting AccountingDispatcher
	Clock      func() time.Time
	Events     OrderEventPublisher
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	items      repositories.OrderItemRepository
	payments   repositories.PaymentRepository
	unitOfWork repositories.UnitOfWork
	accounting AccountingDispatcher
	clock      func() time.Time
	events     OrderEventPublisher
	logger     func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		items:      deps.Items,
		payments:   deps.Payments,
		unitOfWork: unit,
		accounting: deps.Accounting,
		clock: func() time.Time {
			return clock().UTC()
		},
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string, opts OrderReadOptions) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if owner := strings.TrimSpace(opts.CustomerID); owner != "" && order.CustomerID != owner {
		return Order{}, fmt.Errorf("%w: order %s", ErrOrderForbidden, orderID)
	}

	if opts.IncludeItems && s.items != nil {
		items, err := s.items.ListByOrder(ctx, orderID)
		if err != nil {
			return Order{}, s.mapRepositoryError(err)
		}
		order.Items = items
	}

	if opts.IncludePayment && s.payments != nil {
		payment, err := s.payments.FindByOrder(ctx, orderID)
		switch {
		case err == nil:
			order.Payment = &payment
		case isRepoNotFound(err):
			// Reprint orders legitimately carry no payment record.
		default:
			return Order{}, s.mapRepositoryError(err)
		}
	}

	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	repoFilter := repositories.OrderListFilter{
		CustomerID: strings.TrimSpace(filter.CustomerID),
		Status:     filter.Status,
		DateRange:  domain.RangeQuery[time.Time]{From: filter.From, To: filter.To},
		Pagination: filter.Pagination,
	}

	page, err := s.orders.List(ctx, repoFilter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (OrderStatusTransitionResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return OrderStatusTransitionResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if !domain.IsValidOrderStatus(cmd.Target) {
		return OrderStatusTransitionResult{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Target)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return OrderStatusTransitionResult{}, s.mapRepositoryError(err)
	}

	previous := order.Status
	if cmd.ExpectedStatus != nil && previous != *cmd.ExpectedStatus {
		return OrderStatusTransitionResult{}, fmt.Errorf("%w: expected status %s, found %s", ErrOrderConflict, *cmd.ExpectedStatus, previous)
	}

	if previous == cmd.Target {
		return OrderStatusTransitionResult{Order: order, PreviousStatus: previous, NewStatus: previous}, nil
	}

	if !cmd.Force {
		if err := domain.ValidateOrderTransition(previous, cmd.Target); err != nil {
			return OrderStatusTransitionResult{}, fmt.Errorf("%w: %v", ErrOrderInvalidState, err)
		}
	}

	now := s.now()
	update := s.buildStatusUpdate(cmd.Target, now)
	update.CancelReason = cmd.CancelReason
	update.Metadata = cmd.Metadata
	if actor := strings.TrimSpace(cmd.ActorID); actor != "" {
		update.UpdatedBy = valuePtr(actor)
	}

	if err := s.orders.UpdateStatus(ctx, orderID, previous, cmd.Target, update); err != nil {
		return OrderStatusTransitionResult{}, s.mapRepositoryError(err)
	}

	order = s.applyStatusUpdate(order, cmd.Target, update)

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: string(previous),
		CurrentStatus:  string(cmd.Target),
		ActorID:        cmd.ActorID,
		OccurredAt:     now,
		Metadata:       cmd.Metadata,
	})

	if cmd.Target == domain.OrderStatusPaymentConfirmed && s.accounting != nil {
		s.accounting.EnqueueOrderIncome(ctx, RecordOrderIncomeCommand{
			OrderID:     order.ID,
			Amount:      order.TotalAmount,
			Currency:    order.Currency,
			Description: fmt.Sprintf("Order %s payment confirmed", order.OrderNumber),
			OccurredAt:  now,
		})
	}

	return OrderStatusTransitionResult{Order: order, PreviousStatus: previous, NewStatus: cmd.Target}, nil
}

func (s *orderService) RequestCancellation(ctx context.Context, cmd RequestCancellationCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	customerID := strings.TrimSpace(cmd.CustomerID)
	if orderID == "" || customerID == "" {
		return Order{}, fmt.Errorf("%w: order id and customer id are required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.CustomerID != customerID {
		return Order{}, fmt.Errorf("%w: order %s", ErrOrderForbidden, orderID)
	}
	if !domain.CanCustomerRequestCancellation(order.Status) {
		return Order{}, fmt.Errorf("%w: cancellation cannot be requested from %s", ErrOrderInvalidState, order.Status)
	}

	previous := order.Status
	now := s.now()
	update := repositories.OrderStatusUpdate{UpdatedAt: now, UpdatedBy: valuePtr(customerID)}
	if reason := strings.TrimSpace(cmd.Reason); reason != "" {
		update.CancelReason = valuePtr(reason)
	}
	update.Metadata = map[string]any{"previousStatus": string(previous)}

	if err := s.orders.UpdateStatus(ctx, orderID, previous, domain.OrderStatusCancellationRequested, update); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	order = s.applyStatusUpdate(order, domain.OrderStatusCancellationRequested, update)

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventCancellationRequested,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: string(previous),
		CurrentStatus:  string(order.Status),
		ActorID:        customerID,
		OccurredAt:     now,
	})

	return order, nil
}

func (s *orderService) ResolveCancellation(ctx context.Context, cmd ResolveCancellationCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	adminID := strings.TrimSpace(cmd.AdminID)
	if orderID == "" || adminID == "" {
		return Order{}, fmt.Errorf("%w: order id and admin id are required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.Status != domain.OrderStatusCancellationRequested {
		return Order{}, fmt.Errorf("%w: no cancellation pending on %s order", ErrOrderInvalidState, order.Status)
	}

	target := domain.OrderStatusCancelled
	eventType := orderEventCancellationFinalized
	if !cmd.Approve {
		target = cmd.RestoreTo
		eventType = orderEventCancellationWithdrawn
		if err := domain.ValidateOrderTransition(order.Status, target); err != nil {
			return Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidState, err)
		}
	}

	now := s.now()
	update := s.buildStatusUpdate(target, now)
	update.UpdatedBy = valuePtr(adminID)
	update.CancelReason = cmd.Reason

	if err := s.orders.UpdateStatus(ctx, orderID, domain.OrderStatusCancellationRequested, target, update); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	previous := order.Status
	order = s.applyStatusUpdate(order, target, update)

	s.publishEvent(ctx, OrderEvent{
		Type:           eventType,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: string(previous),
		CurrentStatus:  string(target),
		ActorID:        adminID,
		OccurredAt:     now,
	})

	return order, nil
}

func (s *orderService) buildStatusUpdate(target domain.OrderStatus, now time.Time) repositories.OrderStatusUpdate {
	update := repositories.OrderStatusUpdate{UpdatedAt: now}
	switch target {
	case domain.OrderStatusPaymentConfirmed:
		update.PaidAt = &now
	case domain.OrderStatusShipped:
		update.ShippedAt = &now
	case domain.OrderStatusDelivered:
		update.DeliveredAt = &now
	case domain.OrderStatusCancelled:
		update.CancelledAt = &now
	case domain.OrderStatusRefunded:
		update.RefundedAt = &now
	}
	return update
}

func (s *orderService) applyStatusUpdate(order Order, target domain.OrderStatus, update repositories.OrderStatusUpdate) Order {
	order.Status = target
	order.UpdatedAt = update.UpdatedAt
	if update.PaidAt != nil {
		order.PaidAt = update.PaidAt
	}
	if update.ShippedAt != nil {
		order.ShippedAt = update.ShippedAt
	}
	if update.DeliveredAt != nil {
		order.DeliveredAt = update.DeliveredAt
	}
	if update.CancelledAt != nil {
		order.CancelledAt = update.CancelledAt
	}
	if update.RefundedAt != nil {
		order.RefundedAt = update.RefundedAt
	}
	if update.CancelReason != nil {
		order.CancelReason = update.CancelReason
	}
	if update.UpdatedBy != nil {
		order.Audit.UpdatedBy = update.UpdatedBy
	}
	return order
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish_failed", map[string]any{
			"orderId": event.OrderID,
			"type":    event.Type,
			"error":   err.Error(),
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func valuePtr[T any](v T) *T {
	return &v
}

func newOrderID() string {
	return orderIDPrefix + ulid.Make().String()
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}
