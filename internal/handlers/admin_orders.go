package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/printfield/api/internal/domain"
	"github.com/printfield/api/internal/platform/auth"
	"github.com/printfield/api/internal/platform/httpx"
	"github.com/printfield/api/internal/platform/pagination"
	"github.com/printfield/api/internal/platform/textutil"
	"github.com/printfield/api/internal/services"
)

const maxAdminOrderBodySize = 16 * 1024

type transitionOrderRequest struct {
	Target         string         `json:"target"`
	Force          bool           `json:"force"`
	ExpectedStatus string         `json:"expected_status"`
	CancelReason   *string        `json:"cancel_reason"`
	Metadata       map[string]any `json:"metadata"`
}

type transitionOrderResponse struct {
	Order          orderPayload `json:"order"`
	PreviousStatus string       `json:"previous_status"`
	NewStatus      string       `json:"new_status"`
}

type resolveCancellationRequest struct {
	Approve   bool    `json:"approve"`
	RestoreTo string  `json:"restore_to"`
	Reason    *string `json:"reason"`
}

func (h *AdminHandlers) requireAdmin(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	query, err := pagination.FromRequest(r, pagination.Options{AllowedFilters: []string{"status"}})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	statuses := make([]domain.OrderStatus, 0)
	for _, raw := range query.Filters["status"] {
		status := domain.OrderStatus(raw)
		if !domain.IsValidOrderStatus(status) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown order status "+raw, http.StatusBadRequest))
			return
		}
		statuses = append(statuses, status)
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		CustomerID: strings.TrimSpace(r.URL.Query().Get("customer_id")),
		Status:     statuses,
		From:       query.CreatedAfter,
		To:         query.CreatedBefore,
		Pagination: services.Pagination{
			PageSize:  query.PageSize,
			PageToken: query.PageToken,
		},
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}

	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *AdminHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID, services.OrderReadOptions{
		IncludeItems:   true,
		IncludePayment: true,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var payload transitionOrderRequest
	if err := decodeJSONBody(r, maxAdminOrderBodySize, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	target := domain.OrderStatus(strings.ToLower(strings.TrimSpace(payload.Target)))
	if !domain.IsValidOrderStatus(target) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown target status "+payload.Target, http.StatusBadRequest))
		return
	}

	// Force transitions are reserved for full admins; staff follow the table.
	if payload.Force && !identity.HasRole(auth.RoleAdmin) {
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_role", "force transitions require the admin role", http.StatusForbidden))
		return
	}

	cmd := services.OrderStatusTransitionCommand{
		OrderID:      orderID,
		Target:       target,
		Force:        payload.Force,
		ActorID:      strings.TrimSpace(identity.UID),
		CancelReason: cloneStringPointer(payload.CancelReason),
		Metadata:     textutil.NormalizeMetadata(payload.Metadata),
	}
	if raw := strings.ToLower(strings.TrimSpace(payload.ExpectedStatus)); raw != "" {
		expected := domain.OrderStatus(raw)
		if !domain.IsValidOrderStatus(expected) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown expected status "+payload.ExpectedStatus, http.StatusBadRequest))
			return
		}
		cmd.ExpectedStatus = &expected
	}

	result, err := h.orders.TransitionStatus(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, transitionOrderResponse{
		Order:          buildOrderPayload(result.Order),
		PreviousStatus: string(result.PreviousStatus),
		NewStatus:      string(result.NewStatus),
	})
}

func (h *AdminHandlers) resolveCancellation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var payload resolveCancellationRequest
	if err := decodeJSONBody(r, maxAdminOrderBodySize, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	cmd := services.ResolveCancellationCommand{
		OrderID: orderID,
		AdminID: strings.TrimSpace(identity.UID),
		Approve: payload.Approve,
		Reason:  cloneStringPointer(payload.Reason),
	}
	if raw := strings.ToLower(strings.TrimSpace(payload.RestoreTo)); raw != "" {
		restore := domain.OrderStatus(raw)
		if !domain.IsValidOrderStatus(restore) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown restore status "+payload.RestoreTo, http.StatusBadRequest))
			return
		}
		cmd.RestoreTo = restore
	}

	order, err := h.orders.ResolveCancellation(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}
