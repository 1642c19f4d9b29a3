package domain

import (
	"fmt"
	"slices"
	"strings"
)

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order was created but payment has not confirmed.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaymentConfirmed indicates the gateway confirmed payment.
	OrderStatusPaymentConfirmed OrderStatus = "payment_confirmed"
	// OrderStatusConfirmed indicates the order was accepted for production.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusPrinting indicates the order is being printed.
	OrderStatusPrinting OrderStatus = "printing"
	// OrderStatusShipped indicates the order was handed to the carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the carrier reported delivery. Delivered
	// orders remain refundable, so it is not terminal for refund purposes.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancellationRequested indicates the customer asked to cancel
	// and an admin decision is pending.
	OrderStatusCancellationRequested OrderStatus = "cancellation_requested"
	// OrderStatusCancelled is terminal.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded is terminal.
	OrderStatusRefunded OrderStatus = "refunded"
)

// orderTransitions is the adjacency list of legal status edges. An admin
// resolving a cancellation request may restore any prior state or finalize.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:          {OrderStatusPaymentConfirmed, OrderStatusCancelled},
	OrderStatusPaymentConfirmed: {OrderStatusConfirmed, OrderStatusCancellationRequested, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusConfirmed:        {OrderStatusPrinting, OrderStatusCancellationRequested, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusPrinting:         {OrderStatusShipped, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusShipped:          {OrderStatusDelivered, OrderStatusRefunded},
	OrderStatusDelivered:        {OrderStatusRefunded},
	OrderStatusCancellationRequested: {
		OrderStatusCancelled, OrderStatusConfirmed, OrderStatusPaymentConfirmed, OrderStatusPending, OrderStatusRefunded,
	},
	OrderStatusCancelled: {},
	OrderStatusRefunded:  {},
}

// IsValidOrderStatus reports whether the value is a known order status.
func IsValidOrderStatus(status OrderStatus) bool {
	_, ok := orderTransitions[status]
	return ok
}

// IsTerminalOrderStatus reports whether no further transitions are possible.
func IsTerminalOrderStatus(status OrderStatus) bool {
	next, ok := orderTransitions[status]
	return ok && len(next) == 0
}

// IsActiveOrderStatus reports whether the order is still progressing.
func IsActiveOrderStatus(status OrderStatus) bool {
	return IsValidOrderStatus(status) && !IsTerminalOrderStatus(status)
}

// CanTransitionOrder reports whether current → target is legal. Identical
// current and target is always allowed as a no-op.
func CanTransitionOrder(current, target OrderStatus) bool {
	if current == target {
		return true
	}
	next, ok := orderTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

// LegalOrderTransitions returns a copy of the transitions allowed from the
// given status.
func LegalOrderTransitions(status OrderStatus) []OrderStatus {
	next, ok := orderTransitions[status]
	if !ok {
		return nil
	}
	return slices.Clone(next)
}

// ValidateOrderTransition returns nil when current → target is legal and a
// descriptive error otherwise. Terminal states reject every target but the
// no-op.
func ValidateOrderTransition(current, target OrderStatus) error {
	if current == target {
		return nil
	}
	if !IsValidOrderStatus(current) {
		return fmt.Errorf("unknown order status %q", current)
	}
	if !IsValidOrderStatus(target) {
		return fmt.Errorf("unknown order status %q", target)
	}
	if IsTerminalOrderStatus(current) {
		return fmt.Errorf("order status %q is terminal", current)
	}
	if !CanTransitionOrder(current, target) {
		return fmt.Errorf("cannot transition order from %q to %q; legal transitions: %s",
			current, target, joinStatuses(orderTransitions[current]))
	}
	return nil
}

// CanCustomerRequestCancellation reports whether the customer may still ask
// to cancel. Once printing starts, cancellation needs staff intervention.
func CanCustomerRequestCancellation(status OrderStatus) bool {
	switch status {
	case OrderStatusPending, OrderStatusPaymentConfirmed, OrderStatusConfirmed:
		return true
	default:
		return false
	}
}

// CanBeRefunded reports whether the order is in a refund-eligible state.
func CanBeRefunded(status OrderStatus) bool {
	switch status {
	case OrderStatusPaymentConfirmed, OrderStatusConfirmed, OrderStatusPrinting, OrderStatusShipped, OrderStatusDelivered:
		return true
	default:
		return false
	}
}

func joinStatuses[S ~string](statuses []S) string {
	parts := make([]string, 0, len(statuses))
	for _, s := range statuses {
		parts = append(parts, string(s))
	}
	return strings.Join(parts, ", ")
}
