package handlers

import (
	"net/http"
	"strings"

	domain "github.com/printfield/api/internal/domain"
	"github.com/printfield/api/internal/platform/httpx"
	"github.com/printfield/api/internal/platform/pagination"
	"github.com/printfield/api/internal/services"
)

type ledgerListResponse struct {
	Items         []ledgerEntryPayload `json:"items"`
	NextPageToken string               `json:"next_page_token,omitempty"`
}

type ledgerEntryPayload struct {
	ID          string  `json:"id"`
	Kind        string  `json:"kind"`
	Category    string  `json:"category"`
	Amount      int64   `json:"amount"`
	Currency    string  `json:"currency"`
	Description string  `json:"description,omitempty"`
	OrderRef    *string `json:"order_ref,omitempty"`
	IssueRef    *string `json:"issue_ref,omitempty"`
	OccurredAt  string  `json:"occurred_at"`
	CreatedAt   string  `json:"created_at"`
}

func buildLedgerEntryPayload(entry services.LedgerEntry) ledgerEntryPayload {
	return ledgerEntryPayload{
		ID:          strings.TrimSpace(entry.ID),
		Kind:        string(entry.Kind),
		Category:    entry.Category,
		Amount:      entry.Amount,
		Currency:    strings.ToUpper(strings.TrimSpace(entry.Currency)),
		Description: entry.Description,
		OrderRef:    cloneStringPointer(entry.OrderRef),
		IssueRef:    cloneStringPointer(entry.IssueRef),
		OccurredAt:  formatTime(entry.OccurredAt),
		CreatedAt:   formatTime(entry.CreatedAt),
	}
}

func (h *AdminHandlers) listLedger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.ledger == nil {
		httpx.WriteError(ctx, w, httpx.NewError("ledger_service_unavailable", "ledger service unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	query, err := pagination.FromRequest(r, pagination.Options{AllowedFilters: []string{"kind"}})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	kinds := make([]domain.LedgerKind, 0)
	for _, raw := range query.Filters["kind"] {
		kind := domain.LedgerKind(raw)
		switch kind {
		case domain.LedgerKindIncome, domain.LedgerKindExpense:
			kinds = append(kinds, kind)
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown ledger kind "+raw, http.StatusBadRequest))
			return
		}
	}

	page, err := h.ledger.ListEntries(ctx, services.LedgerListFilter{
		Kind:     kinds,
		OrderRef: strings.TrimSpace(r.URL.Query().Get("order_ref")),
		IssueRef: strings.TrimSpace(r.URL.Query().Get("issue_ref")),
		From:     query.CreatedAfter,
		To:       query.CreatedBefore,
		Pagination: services.Pagination{
			PageSize:  query.PageSize,
			PageToken: query.PageToken,
		},
	})
	if err != nil {
		writeLedgerError(ctx, w, err)
		return
	}

	items := make([]ledgerEntryPayload, 0, len(page.Items))
	for _, entry := range page.Items {
		items = append(items, buildLedgerEntryPayload(entry))
	}

	writeJSONResponse(w, http.StatusOK, ledgerListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}
