package handlers

import (
	"github.com/go-chi/chi/v5"

	"github.com/printfield/api/internal/platform/auth"
	"github.com/printfield/api/internal/services"
)

// AdminHandlers exposes the back-office surface: full order control, issue
// review and processing, dashboards and the accounting ledger.
type AdminHandlers struct {
	authn    *auth.Authenticator
	orders   services.OrderService
	issues   services.IssueService
	messages services.IssueMessageService
	stats    services.IssueStatsService
	ledger   services.LedgerService
}

// AdminDeps bundles the services the admin surface depends on.
type AdminDeps struct {
	Authenticator *auth.Authenticator
	Orders        services.OrderService
	Issues        services.IssueService
	Messages      services.IssueMessageService
	Stats         services.IssueStatsService
	Ledger        services.LedgerService
}

// NewAdminHandlers constructs a new AdminHandlers instance.
func NewAdminHandlers(deps AdminDeps) *AdminHandlers {
	return &AdminHandlers{
		authn:    deps.Authenticator,
		orders:   deps.Orders,
		issues:   deps.Issues,
		messages: deps.Messages,
		stats:    deps.Stats,
		ledger:   deps.Ledger,
	}
}

// Routes registers the /admin endpoints. All routes require a staff or admin role.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(auth.RoleStaff, auth.RoleAdmin))
	}

	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Post("/orders/{orderID}:transition", h.transitionOrder)
	r.Post("/orders/{orderID}:resolve-cancellation", h.resolveCancellation)

	r.Get("/issues", h.listIssues)
	r.Get("/issues/stats", h.issueStats)
	r.Get("/issues/{issueID}", h.getIssue)
	r.Post("/issues/{issueID}/messages", h.sendMessage)
	r.Post("/issues/{issueID}:review", h.reviewIssue)
	r.Post("/issues/{issueID}:process", h.processIssue)
	r.Post("/issues/{issueID}:conclude", h.concludeIssue)
	r.Post("/issues/{issueID}:reopen", h.reopenIssue)
	r.Post("/issues/{issueID}:carrier-fault", h.setCarrierFault)

	r.Get("/ledger", h.listLedger)
}
