package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/printfield/api/internal/platform/httpx"
	"github.com/printfield/api/internal/services"
)

// Order payloads --------------------------------------------------------------

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
	Currency    string `json:"currency"`
	TotalAmount int64  `json:"total_amount"`
	CreatedAt   string `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID              string             `json:"id"`
	OrderNumber     string             `json:"order_number"`
	CustomerID      string             `json:"customer_id"`
	Status          string             `json:"status"`
	Currency        string             `json:"currency"`
	TotalAmount     int64              `json:"total_amount"`
	ShippingAddress *addressPayload    `json:"shipping_address,omitempty"`
	PrintSpec       printSpecPayload   `json:"print_spec"`
	Metadata        map[string]any     `json:"metadata,omitempty"`
	Audit           *orderAuditPayload `json:"audit,omitempty"`
	CreatedAt       string             `json:"created_at"`
	UpdatedAt       string             `json:"updated_at,omitempty"`
	PlacedAt        string             `json:"placed_at,omitempty"`
	PaidAt          string             `json:"paid_at,omitempty"`
	ShippedAt       string             `json:"shipped_at,omitempty"`
	DeliveredAt     string             `json:"delivered_at,omitempty"`
	CancelledAt     string             `json:"cancelled_at,omitempty"`
	RefundedAt      string             `json:"refunded_at,omitempty"`
	CancelReason    *string            `json:"cancel_reason,omitempty"`
	Items           []orderItemPayload `json:"items"`
	Payment         *paymentPayload    `json:"payment,omitempty"`
}

type addressPayload struct {
	Recipient  string  `json:"recipient"`
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	County     *string `json:"county,omitempty"`
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country"`
	Phone      *string `json:"phone,omitempty"`
}

type printSpecPayload struct {
	DesignRef   string `json:"design_ref,omitempty"`
	PrintSize   string `json:"print_size,omitempty"`
	Material    string `json:"material,omitempty"`
	Orientation string `json:"orientation,omitempty"`
}

type orderAuditPayload struct {
	CreatedBy *string `json:"created_by,omitempty"`
	UpdatedBy *string `json:"updated_by,omitempty"`
}

type orderItemPayload struct {
	ID            string              `json:"id"`
	OrderID       string              `json:"order_id"`
	ProductRef    string              `json:"product_ref"`
	VariantRef    string              `json:"variant_ref,omitempty"`
	DesignRef     string              `json:"design_ref,omitempty"`
	Quantity      int                 `json:"quantity"`
	UnitPrice     int64               `json:"unit_price"`
	Total         int64               `json:"total"`
	Customization map[string]any      `json:"customization,omitempty"`
	Lineage       *itemLineagePayload `json:"lineage,omitempty"`
	Metadata      map[string]any      `json:"metadata,omitempty"`
	CreatedAt     string              `json:"created_at"`
}

type itemLineagePayload struct {
	OriginalOrderID string `json:"original_order_id"`
	OriginalItemID  string `json:"original_item_id"`
	IssueID         string `json:"issue_id"`
}

type paymentPayload struct {
	ID         string  `json:"id"`
	OrderID    string  `json:"order_id"`
	Provider   string  `json:"provider"`
	Status     string  `json:"status"`
	Amount     int64   `json:"amount"`
	Currency   string  `json:"currency"`
	PaidAt     string  `json:"paid_at,omitempty"`
	RefundedAt string  `json:"refunded_at,omitempty"`
	RefundRef  *string `json:"refund_ref,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:          strings.TrimSpace(order.ID),
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		Status:      strings.TrimSpace(string(order.Status)),
		Currency:    strings.ToUpper(strings.TrimSpace(order.Currency)),
		TotalAmount: order.TotalAmount,
		CreatedAt:   formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:           strings.TrimSpace(order.ID),
		OrderNumber:  strings.TrimSpace(order.OrderNumber),
		CustomerID:   strings.TrimSpace(order.CustomerID),
		Status:       strings.TrimSpace(string(order.Status)),
		Currency:     strings.ToUpper(strings.TrimSpace(order.Currency)),
		TotalAmount:  order.TotalAmount,
		PrintSpec:    buildPrintSpecPayload(order.PrintSpec),
		Metadata:     cloneMap(order.Metadata),
		CreatedAt:    formatTime(order.CreatedAt),
		UpdatedAt:    formatTime(order.UpdatedAt),
		PlacedAt:     formatTime(pointerTime(order.PlacedAt)),
		PaidAt:       formatTime(pointerTime(order.PaidAt)),
		ShippedAt:    formatTime(pointerTime(order.ShippedAt)),
		DeliveredAt:  formatTime(pointerTime(order.DeliveredAt)),
		CancelledAt:  formatTime(pointerTime(order.CancelledAt)),
		RefundedAt:   formatTime(pointerTime(order.RefundedAt)),
		CancelReason: cloneStringPointer(order.CancelReason),
		Items:        make([]orderItemPayload, 0, len(order.Items)),
	}

	if order.ShippingAddress != nil {
		addr := buildAddressPayload(*order.ShippingAddress)
		payload.ShippingAddress = &addr
	}

	if order.Audit.CreatedBy != nil || order.Audit.UpdatedBy != nil {
		payload.Audit = &orderAuditPayload{
			CreatedBy: cloneStringPointer(order.Audit.CreatedBy),
			UpdatedBy: cloneStringPointer(order.Audit.UpdatedBy),
		}
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, buildOrderItemPayload(item))
	}

	if order.Payment != nil {
		payment := buildPaymentPayload(*order.Payment)
		payload.Payment = &payment
	}

	return payload
}

func buildAddressPayload(addr services.Address) addressPayload {
	return addressPayload{
		Recipient:  addr.Recipient,
		Line1:      addr.Line1,
		Line2:      cloneStringPointer(addr.Line2),
		City:       addr.City,
		County:     cloneStringPointer(addr.County),
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      cloneStringPointer(addr.Phone),
	}
}

func buildPrintSpecPayload(spec services.PrintSpec) printSpecPayload {
	return printSpecPayload{
		DesignRef:   spec.DesignRef,
		PrintSize:   spec.PrintSize,
		Material:    spec.Material,
		Orientation: spec.Orientation,
	}
}

func buildOrderItemPayload(item services.OrderItem) orderItemPayload {
	payload := orderItemPayload{
		ID:            strings.TrimSpace(item.ID),
		OrderID:       strings.TrimSpace(item.OrderID),
		ProductRef:    strings.TrimSpace(item.ProductRef),
		VariantRef:    strings.TrimSpace(item.VariantRef),
		DesignRef:     strings.TrimSpace(item.DesignRef),
		Quantity:      item.Quantity,
		UnitPrice:     item.UnitPrice,
		Total:         item.Total,
		Customization: cloneMap(item.Customization),
		Metadata:      cloneMap(item.Metadata),
		CreatedAt:     formatTime(item.CreatedAt),
	}
	if item.Lineage != nil {
		payload.Lineage = &itemLineagePayload{
			OriginalOrderID: item.Lineage.OriginalOrderID,
			OriginalItemID:  item.Lineage.OriginalItemID,
			IssueID:         item.Lineage.IssueID,
		}
	}
	return payload
}

func buildPaymentPayload(payment services.Payment) paymentPayload {
	return paymentPayload{
		ID:         strings.TrimSpace(payment.ID),
		OrderID:    strings.TrimSpace(payment.OrderID),
		Provider:   strings.TrimSpace(payment.Provider),
		Status:     strings.TrimSpace(string(payment.Status)),
		Amount:     payment.Amount,
		Currency:   strings.ToUpper(strings.TrimSpace(payment.Currency)),
		PaidAt:     formatTime(pointerTime(payment.PaidAt)),
		RefundedAt: formatTime(pointerTime(payment.RefundedAt)),
		RefundRef:  cloneStringPointer(payment.RefundRef),
		CreatedAt:  formatTime(payment.CreatedAt),
	}
}

// Issue payloads --------------------------------------------------------------

type issueListResponse struct {
	Items         []issuePayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type issueResponse struct {
	Issue    issuePayload          `json:"issue"`
	Messages []issueMessagePayload `json:"messages,omitempty"`
}

type issuePayload struct {
	ID              string                  `json:"id"`
	OrderItemID     string                  `json:"order_item_id"`
	OrderID         string                  `json:"order_id"`
	CustomerID      string                  `json:"customer_id"`
	Reason          string                  `json:"reason"`
	Description     string                  `json:"description,omitempty"`
	ImageURLs       []string                `json:"image_urls,omitempty"`
	Status          string                  `json:"status"`
	ResolvedType    *string                 `json:"resolved_type,omitempty"`
	RejectionReason *string                 `json:"rejection_reason,omitempty"`
	RejectionFinal  bool                    `json:"rejection_final,omitempty"`
	CarrierFault    string                  `json:"carrier_fault"`
	ReprintOrderID  *string                 `json:"reprint_order_id,omitempty"`
	ReprintItemID   *string                 `json:"reprint_item_id,omitempty"`
	RefundAmount    *int64                  `json:"refund_amount,omitempty"`
	RefundRef       *string                 `json:"refund_ref,omitempty"`
	Conclusion      *issueConclusionPayload `json:"conclusion,omitempty"`
	OriginalIssueID *string                 `json:"original_issue_id,omitempty"`
	ReviewedAt      string                  `json:"reviewed_at,omitempty"`
	ProcessedAt     string                  `json:"processed_at,omitempty"`
	CreatedAt       string                  `json:"created_at"`
	UpdatedAt       string                  `json:"updated_at,omitempty"`
}

type issueConclusionPayload struct {
	At     string  `json:"at,omitempty"`
	By     *string `json:"by,omitempty"`
	Reason *string `json:"reason,omitempty"`
}

type issueMessagePayload struct {
	ID        string   `json:"id"`
	IssueID   string   `json:"issue_id"`
	Sender    string   `json:"sender"`
	SenderID  string   `json:"sender_id"`
	Content   string   `json:"content"`
	ImageURLs []string `json:"image_urls,omitempty"`
	ReadAt    string   `json:"read_at,omitempty"`
	CreatedAt string   `json:"created_at"`
}

func buildIssuePayload(issue services.Issue) issuePayload {
	payload := issuePayload{
		ID:              strings.TrimSpace(issue.ID),
		OrderItemID:     strings.TrimSpace(issue.OrderItemID),
		OrderID:         strings.TrimSpace(issue.OrderID),
		CustomerID:      strings.TrimSpace(issue.CustomerID),
		Reason:          issue.Reason,
		Description:     issue.Description,
		ImageURLs:       issue.ImageURLs,
		Status:          strings.TrimSpace(string(issue.Status)),
		RejectionReason: cloneStringPointer(issue.RejectionReason),
		RejectionFinal:  issue.RejectionFinal,
		CarrierFault:    string(issue.CarrierFault),
		ReprintOrderID:  cloneStringPointer(issue.ReprintOrderID),
		ReprintItemID:   cloneStringPointer(issue.ReprintItemID),
		RefundAmount:    issue.RefundAmount,
		RefundRef:       cloneStringPointer(issue.RefundRef),
		OriginalIssueID: cloneStringPointer(issue.OriginalIssueID),
		ReviewedAt:      formatTime(pointerTime(issue.ReviewedAt)),
		ProcessedAt:     formatTime(pointerTime(issue.ProcessedAt)),
		CreatedAt:       formatTime(issue.CreatedAt),
		UpdatedAt:       formatTime(issue.UpdatedAt),
	}
	if issue.ResolvedType != nil {
		resolved := string(*issue.ResolvedType)
		payload.ResolvedType = &resolved
	}
	if issue.Conclusion.IsConcluded {
		payload.Conclusion = &issueConclusionPayload{
			At:     formatTime(pointerTime(issue.Conclusion.At)),
			By:     cloneStringPointer(issue.Conclusion.By),
			Reason: cloneStringPointer(issue.Conclusion.Reason),
		}
	}
	return payload
}

func buildIssueMessagePayload(message services.IssueMessage) issueMessagePayload {
	return issueMessagePayload{
		ID:        strings.TrimSpace(message.ID),
		IssueID:   strings.TrimSpace(message.IssueID),
		Sender:    string(message.Sender),
		SenderID:  strings.TrimSpace(message.SenderID),
		Content:   message.Content,
		ImageURLs: message.ImageURLs,
		ReadAt:    formatTime(pointerTime(message.ReadAt)),
		CreatedAt: formatTime(message.CreatedAt),
	}
}

func buildIssueMessagePayloads(messages []services.IssueMessage) []issueMessagePayload {
	if len(messages) == 0 {
		return nil
	}
	payloads := make([]issueMessagePayload, 0, len(messages))
	for _, message := range messages {
		payloads = append(payloads, buildIssueMessagePayload(message))
	}
	return payloads
}

// Error mapping ---------------------------------------------------------------

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound), errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func writeLedgerError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrLedgerInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("ledger_error", "failed to process ledger request", http.StatusInternalServerError))
	}
}

func writeIssueError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrIssueInvalidInput), errors.Is(err, services.ErrMessageInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrIssueNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("issue_not_found", "issue not found", http.StatusNotFound))
	case errors.Is(err, services.ErrIssueForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "issue does not belong to the caller", http.StatusForbidden))
	case errors.Is(err, services.ErrIssueNoPayment):
		httpx.WriteError(ctx, w, httpx.NewError("issue_no_payment", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrIssuePaymentNotCompleted):
		httpx.WriteError(ctx, w, httpx.NewError("issue_payment_not_completed", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrIssuePaymentUnpaid):
		httpx.WriteError(ctx, w, httpx.NewError("issue_payment_unpaid", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrIssueAlreadyRefunded):
		httpx.WriteError(ctx, w, httpx.NewError("issue_already_refunded", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrIssueRefundAmountInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("issue_refund_amount_invalid", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrIssueConflict), errors.Is(err, services.ErrMessageIssueClosed), errors.Is(err, services.ErrAppealNotAllowed):
		httpx.WriteError(ctx, w, httpx.NewError("issue_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrIssueGateway):
		httpx.WriteError(ctx, w, httpx.NewError("payment_gateway_error", "payment gateway failure", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("issue_error", "failed to process issue request", http.StatusInternalServerError))
	}
}
