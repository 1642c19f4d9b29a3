package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/printfield/api/internal/domain"
	"github.com/printfield/api/internal/platform/httpx"
	"github.com/printfield/api/internal/platform/pagination"
	"github.com/printfield/api/internal/services"
)

type reviewIssueRequest struct {
	Action         string  `json:"action"`
	Message        string  `json:"message"`
	FinalRejection bool    `json:"final_rejection"`
	RefundType     *string `json:"refund_type"`
}

type processIssueRequest struct {
	RefundType *string `json:"refund_type"`
	Notes      string  `json:"notes"`
}

type processIssueResponse struct {
	Issue        issuePayload  `json:"issue"`
	ReprintOrder *orderPayload `json:"reprint_order,omitempty"`
	RefundRef    *string       `json:"refund_ref,omitempty"`
	RefundAmount *int64        `json:"refund_amount,omitempty"`
}

type concludeIssueRequest struct {
	Reason string `json:"reason"`
}

type carrierFaultRequest struct {
	CarrierFault string `json:"carrier_fault"`
}

type adminIssueStatsResponse struct {
	ByStatus       map[string]int `json:"by_status"`
	CarrierFault   int            `json:"carrier_fault"`
	NeedsAttention int            `json:"needs_attention"`
}

var validReviewActions = map[services.ReviewAction]struct{}{
	services.ReviewActionApproveReprint: {},
	services.ReviewActionApproveRefund:  {},
	services.ReviewActionRequestInfo:    {},
	services.ReviewActionReject:         {},
}

func parseRefundType(raw *string) (*domain.IssueResolution, error) {
	if raw == nil {
		return nil, nil
	}
	value := domain.IssueResolution(strings.ToLower(strings.TrimSpace(*raw)))
	switch value {
	case domain.IssueResolutionFullRefund, domain.IssueResolutionPartialRefund:
		return &value, nil
	default:
		return nil, errBadRefundType
	}
}

var errBadRefundType = &badRequestError{message: "refund_type must be full_refund or partial_refund"}

type badRequestError struct{ message string }

func (e *badRequestError) Error() string { return e.message }

func (h *AdminHandlers) listIssues(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.issues == nil {
		httpx.WriteError(ctx, w, httpx.NewError("issue_service_unavailable", "issue service unavailable", http.StatusServiceUnavailable))
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

	statuses := make([]domain.IssueStatus, 0)
	for _, raw := range query.Filters["status"] {
		status := domain.IssueStatus(raw)
		if !domain.IsValidIssueStatus(status) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown issue status "+raw, http.StatusBadRequest))
			return
		}
		statuses = append(statuses, status)
	}

	filter := services.IssueListFilter{
		CustomerID: strings.TrimSpace(r.URL.Query().Get("customer_id")),
		OrderID:    strings.TrimSpace(r.URL.Query().Get("order_id")),
		Status:     statuses,
		From:       query.CreatedAfter,
		To:         query.CreatedBefore,
		Pagination: services.Pagination{
			PageSize:  query.PageSize,
			PageToken: query.PageToken,
		},
	}

	if raw := strings.TrimSpace(r.URL.Query().Get("concluded")); raw != "" {
		concluded, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "concluded must be a boolean", http.StatusBadRequest))
			return
		}
		filter.Concluded = &concluded
	}

	if raw := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("carrier_fault"))); raw != "" {
		fault := domain.CarrierFault(raw)
		switch fault {
		case domain.CarrierFaultYes, domain.CarrierFaultNo, domain.CarrierFaultUnknown:
			filter.CarrierFault = &fault
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown carrier fault value "+raw, http.StatusBadRequest))
			return
		}
	}

	page, err := h.issues.ListIssues(ctx, filter)
	if err != nil {
		writeIssueError(ctx, w, err)
		return
	}

	items := make([]issuePayload, 0, len(page.Items))
	for _, issue := range page.Items {
		items = append(items, buildIssuePayload(issue))
	}

	writeJSONResponse(w, http.StatusOK, issueListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *AdminHandlers) getIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.issues == nil {
		httpx.WriteError(ctx, w, httpx.NewError("issue_service_unavailable", "issue service unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	issueID := strings.TrimSpace(chi.URLParam(r, "issueID"))
	if issueID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "issue id is required", http.StatusBadRequest))
		return
	}

	detail, err := h.issues.GetIssue(ctx, issueID, services.IssueReadOptions{
		IncludeMessages: true,
		Reader:          domain.MessageSenderAdmin,
	})
	if err != nil {
		writeIssueError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, issueResponse{
		Issue:    buildIssuePayload(detail.Issue),
		Messages: buildIssueMessagePayloads(detail.Messages),
	})
}

func (h *AdminHandlers) sendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.messages == nil {
		httpx.WriteError(ctx, w, httpx.NewError("issue_service_unavailable", "issue service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	issueID := strings.TrimSpace(chi.URLParam(r, "issueID"))
	if issueID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "issue id is required", http.StatusBadRequest))
		return
	}

	var payload sendIssueMessageRequest
	if err := decodeJSONBody(r, maxIssueBodySize, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	message, err := h.messages.SendAdminMessage(ctx, services.SendIssueMessageCommand{
		IssueID:   issueID,
		SenderID:  strings.TrimSpace(identity.UID),
		Content:   payload.Content,
		ImageURLs: payload.ImageURLs,
	})
	if err != nil {
		writeIssueError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, issueMessageResponse{Message: buildIssueMessagePayload(message)})
}

func (h *AdminHandlers) reviewIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.issues == nil {
		httpx.WriteError(ctx, w, httpx.NewError("issue_service_unavailable", "issue service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	issueID := strings.TrimSpace(chi.URLParam(r, "issueID"))
	if issueID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "issue id is required", http.StatusBadRequest))
		return
	}

	var payload reviewIssueRequest
	if err := decodeJSONBody(r, maxIssueBodySize, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	action := services.ReviewAction(strings.ToLower(strings.TrimSpace(payload.Action)))
	if _, valid := validReviewActions[action]; !valid {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown review action "+payload.Action, http.StatusBadRequest))
		return
	}

	refundType, err := parseRefundType(payload.RefundType)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	issue, err := h.issues.Review(ctx, services.ReviewIssueCommand{
		IssueID:        issueID,
		AdminID:        strings.TrimSpace(identity.UID),
		Action:         action,
		Message:        strings.TrimSpace(payload.Message),
		FinalRejection: payload.FinalRejection,
		RefundType:     refundType,
	})
	if err != nil {
		writeIssueError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, issueResponse{Issue: buildIssuePayload(issue)})
}

func (h *AdminHandlers) processIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.issues == nil {
		httpx.WriteError(ctx, w, httpx.NewError("issue_service_unavailable", "issue service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	issueID := strings.TrimSpace(chi.URLParam(r, "issueID"))
	if issueID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "issue id is required", http.StatusBadRequest))
		return
	}

	// Process takes an optional body; an empty one means run the recorded resolution.
	var payload processIssueRequest
	if err := decodeJSONBody(r, maxIssueBodySize, &payload); err != nil && !errors.Is(err, errEmptyBody) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	refundType, err := parseRefundType(payload.RefundType)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.issues.Process(ctx, services.ProcessIssueCommand{
		IssueID:    issueID,
		AdminID:    strings.TrimSpace(identity.UID),
		RefundType: refundType,
		Notes:      strings.TrimSpace(payload.Notes),
	})
	if err != nil {
		writeIssueError(ctx, w, err)
		return
	}

	response := processIssueResponse{
		Issue:        buildIssuePayload(result.Issue),
		RefundRef:    cloneStringPointer(result.RefundRef),
		RefundAmount: result.RefundAmount,
	}
	if result.ReprintOrder != nil {
		reprint := buildOrderPayload(*result.ReprintOrder)
		response.ReprintOrder = &reprint
	}
	writeJSONResponse(w, http.StatusOK, response)
}

func (h *AdminHandlers) concludeIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.issues == nil {
		httpx.WriteError(ctx, w, httpx.NewError("issue_service_unavailable", "issue service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	issueID := strings.TrimSpace(chi.URLParam(r, "issueID"))
	if issueID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "issue id is required", http.StatusBadRequest))
		return
	}

	var payload concludeIssueRequest
	if err := decodeJSONBody(r, maxIssueBodySize, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	issue, err := h.issues.Conclude(ctx, services.ConcludeIssueCommand{
		IssueID: issueID,
		AdminID: strings.TrimSpace(identity.UID),
		Reason:  strings.TrimSpace(payload.Reason),
	})
	if err != nil {
		writeIssueError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, issueResponse{Issue: buildIssuePayload(issue)})
}

func (h *AdminHandlers) reopenIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.issues == nil {
		httpx.WriteError(ctx, w, httpx.NewError("issue_service_unavailable", "issue service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	issueID := strings.TrimSpace(chi.URLParam(r, "issueID"))
	if issueID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "issue id is required", http.StatusBadRequest))
		return
	}

	var payload concludeIssueRequest
	if err := decodeJSONBody(r, maxIssueBodySize, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	issue, err := h.issues.Reopen(ctx, services.ReopenIssueCommand{
		IssueID: issueID,
		AdminID: strings.TrimSpace(identity.UID),
		Reason:  strings.TrimSpace(payload.Reason),
	})
	if err != nil {
		writeIssueError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, issueResponse{Issue: buildIssuePayload(issue)})
}

func (h *AdminHandlers) setCarrierFault(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.issues == nil {
		httpx.WriteError(ctx, w, httpx.NewError("issue_service_unavailable", "issue service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	issueID := strings.TrimSpace(chi.URLParam(r, "issueID"))
	if issueID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "issue id is required", http.StatusBadRequest))
		return
	}

	var payload carrierFaultRequest
	if err := decodeJSONBody(r, maxIssueBodySize, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	fault := domain.CarrierFault(strings.ToLower(strings.TrimSpace(payload.CarrierFault)))
	switch fault {
	case domain.CarrierFaultYes, domain.CarrierFaultNo, domain.CarrierFaultUnknown:
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown carrier fault value "+payload.CarrierFault, http.StatusBadRequest))
		return
	}

	issue, err := h.issues.SetCarrierFault(ctx, services.SetCarrierFaultCommand{
		IssueID:      issueID,
		AdminID:      strings.TrimSpace(identity.UID),
		CarrierFault: fault,
	})
	if err != nil {
		writeIssueError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, issueResponse{Issue: buildIssuePayload(issue)})
}

func (h *AdminHandlers) issueStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stats == nil {
		httpx.WriteError(ctx, w, httpx.NewError("issue_service_unavailable", "issue stats unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	stats, err := h.stats.AdminStats(ctx)
	if err != nil {
		writeIssueError(ctx, w, err)
		return
	}

	needsAttention, err := h.stats.NeedsAttentionCount(ctx)
	if err != nil {
		writeIssueError(ctx, w, err)
		return
	}

	byStatus := make(map[string]int, len(stats.ByStatus))
	for status, count := range stats.ByStatus {
		byStatus[string(status)] = count
	}

	writeJSONResponse(w, http.StatusOK, adminIssueStatsResponse{
		ByStatus:       byStatus,
		CarrierFault:   stats.CarrierFault,
		NeedsAttention: needsAttention,
	})
}
