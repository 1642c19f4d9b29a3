package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/printfield/api/internal/domain"
	"github.com/printfield/api/internal/platform/auth"
	"github.com/printfield/api/internal/platform/httpx"
	"github.com/printfield/api/internal/platform/pagination"
	"github.com/printfield/api/internal/services"
)

const maxIssueBodySize = 32 * 1024

type submitIssueRequest struct {
	OrderItemID string   `json:"order_item_id"`
	Reason      string   `json:"reason"`
	Description string   `json:"description"`
	ImageURLs   []string `json:"image_urls"`
}

type sendIssueMessageRequest struct {
	Content   string   `json:"content"`
	ImageURLs []string `json:"image_urls"`
}

type appealIssueRequest struct {
	Reason    string   `json:"reason"`
	ImageURLs []string `json:"image_urls"`
}

type issueMessageResponse struct {
	Message issueMessagePayload `json:"message"`
}

type issueMessageListResponse struct {
	Items []issueMessagePayload `json:"items"`
}

type customerIssueStatsResponse struct {
	Total          int `json:"total"`
	Pending        int `json:"pending"`
	Resolved       int `json:"resolved"`
	UnreadMessages int `json:"unread_messages"`
}

// IssueHandlers exposes the customer-facing issue surface: submission, the
// message thread, appeals and withdrawal.
type IssueHandlers struct {
	authn    *auth.Authenticator
	issues   services.IssueService
	messages services.IssueMessageService
	stats    services.IssueStatsService
}

// NewIssueHandlers constructs a new IssueHandlers instance.
func NewIssueHandlers(authn *auth.Authenticator, issues services.IssueService, messages services.IssueMessageService, stats services.IssueStatsService) *IssueHandlers {
	return &IssueHandlers{
		authn:    authn,
		issues:   issues,
		messages: messages,
		stats:    stats,
	}
}

// Routes registers the /issues endpoints.
func (h *IssueHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(auth.RoleCustomer, auth.RoleStaff, auth.RoleAdmin))
	}
	r.Post("/", h.submitIssue)
	r.Get("/", h.listIssues)
	r.Get("/stats", h.customerStats)
	r.Get("/{issueID}", h.getIssue)
	r.Get("/{issueID}/messages", h.listMessages)
	r.Post("/{issueID}/messages", h.sendMessage)
	r.Post("/{issueID}:appeal", h.appealIssue)
	r.Post("/{issueID}:withdraw", h.withdrawIssue)
}

func (h *IssueHandlers) requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func (h *IssueHandlers) submitIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.issues == nil {
		httpx.WriteError(ctx, w, httpx.NewError("issue_service_unavailable", "issue service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	var payload submitIssueRequest
	if err := decodeJSONBody(r, maxIssueBodySize, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	issue, err := h.issues.Submit(ctx, services.SubmitIssueCommand{
		OrderItemID: strings.TrimSpace(payload.OrderItemID),
		CustomerID:  strings.TrimSpace(identity.UID),
		Reason:      strings.TrimSpace(payload.Reason),
		Description: strings.TrimSpace(payload.Description),
		ImageURLs:   payload.ImageURLs,
	})
	if err != nil {
		writeIssueError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, issueResponse{Issue: buildIssuePayload(issue)})
}

func (h *IssueHandlers) listIssues(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.issues == nil {
		httpx.WriteError(ctx, w, httpx.NewError("issue_service_unavailable", "issue service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := h.requireIdentity(w, r)
	if !ok {
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

	page, err := h.issues.ListIssues(ctx, services.IssueListFilter{
		CustomerID: strings.TrimSpace(identity.UID),
		Status:     statuses,
		From:       query.CreatedAfter,
		To:         query.CreatedBefore,
		Pagination: services.Pagination{
			PageSize:  query.PageSize,
			PageToken: query.PageToken,
		},
	})
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

func (h *IssueHandlers) getIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.issues == nil {
		httpx.WriteError(ctx, w, httpx.NewError("issue_service_unavailable", "issue service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	issueID := strings.TrimSpace(chi.URLParam(r, "issueID"))
	if issueID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "issue id is required", http.StatusBadRequest))
		return
	}

	detail, err := h.issues.GetIssue(ctx, issueID, services.IssueReadOptions{
		IncludeMessages: true,
		CustomerID:      strings.TrimSpace(identity.UID),
		Reader:          domain.MessageSenderCustomer,
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

func (h *IssueHandlers) listMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.issues == nil || h.messages == nil {
		httpx.WriteError(ctx, w, httpx.NewError("issue_service_unavailable", "issue service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	issueID := strings.TrimSpace(chi.URLParam(r, "issueID"))
	if issueID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "issue id is required", http.StatusBadRequest))
		return
	}

	// Ownership is enforced by the read; the thread itself is not scoped.
	if _, err := h.issues.GetIssue(ctx, issueID, services.IssueReadOptions{
		CustomerID: strings.TrimSpace(identity.UID),
	}); err != nil {
		writeIssueError(ctx, w, err)
		return
	}

	messages, err := h.messages.ListMessages(ctx, issueID)
	if err != nil {
		writeIssueError(ctx, w, err)
		return
	}

	items := buildIssueMessagePayloads(messages)
	if items == nil {
		items = []issueMessagePayload{}
	}
	writeJSONResponse(w, http.StatusOK, issueMessageListResponse{Items: items})
}

func (h *IssueHandlers) sendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.messages == nil {
		httpx.WriteError(ctx, w, httpx.NewError("issue_service_unavailable", "issue service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := h.requireIdentity(w, r)
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

	message, err := h.messages.SendCustomerMessage(ctx, services.SendIssueMessageCommand{
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

func (h *IssueHandlers) appealIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.messages == nil {
		httpx.WriteError(ctx, w, httpx.NewError("issue_service_unavailable", "issue service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	issueID := strings.TrimSpace(chi.URLParam(r, "issueID"))
	if issueID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "issue id is required", http.StatusBadRequest))
		return
	}

	var payload appealIssueRequest
	if err := decodeJSONBody(r, maxIssueBodySize, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	issue, err := h.messages.Appeal(ctx, services.AppealIssueCommand{
		IssueID:    issueID,
		CustomerID: strings.TrimSpace(identity.UID),
		Reason:     strings.TrimSpace(payload.Reason),
		ImageURLs:  payload.ImageURLs,
	})
	if err != nil {
		writeIssueError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, issueResponse{Issue: buildIssuePayload(issue)})
}

func (h *IssueHandlers) withdrawIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.issues == nil {
		httpx.WriteError(ctx, w, httpx.NewError("issue_service_unavailable", "issue service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	issueID := strings.TrimSpace(chi.URLParam(r, "issueID"))
	if issueID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "issue id is required", http.StatusBadRequest))
		return
	}

	if err := h.issues.Withdraw(ctx, services.WithdrawIssueCommand{
		IssueID:    issueID,
		CustomerID: strings.TrimSpace(identity.UID),
	}); err != nil {
		writeIssueError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *IssueHandlers) customerStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stats == nil {
		httpx.WriteError(ctx, w, httpx.NewError("issue_service_unavailable", "issue stats unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	stats, err := h.stats.CustomerStats(ctx, strings.TrimSpace(identity.UID))
	if err != nil {
		writeIssueError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, customerIssueStatsResponse{
		Total:          stats.Total,
		Pending:        stats.Pending,
		Resolved:       stats.Resolved,
		UnreadMessages: stats.UnreadMessages,
	})
}
