package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/printfield/api/internal/domain"
	"github.com/printfield/api/internal/payments"
	"github.com/printfield/api/internal/repositories"
)

const (
	issueEventSubmitted = "issue.submitted"
	issueEventReviewed  = "issue.reviewed"
	issueEventProcessed = "issue.processed"
	issueEventConcluded = "issue.concluded"
	issueEventReopened  = "issue.reopened"
	issueEventWithdrawn = "issue.withdrawn"

	issueIDPrefix        = "iss_"
	issueMessageIDPrefix = "ism_"
	orderItemIDPrefix    = "itm_"

	refundIdempotencyPrefix = "issue_"
	refundReasonCustomer    = "requested_by_customer"
)

var (
	// ErrIssueInvalidInput signals the caller provided invalid data.
	ErrIssueInvalidInput = errors.New("issue: invalid input")
	// ErrIssueNotFound indicates the issue or a referenced record is absent.
	ErrIssueNotFound = errors.New("issue: not found")
	// ErrIssueForbidden indicates the actor does not own the issue.
	ErrIssueForbidden = errors.New("issue: forbidden")
	// ErrIssueConflict indicates the issue is not in a state that permits the action.
	ErrIssueConflict = errors.New("issue: conflict")
	// ErrIssueGateway indicates the payment gateway call failed; state was rolled back.
	ErrIssueGateway = errors.New("issue: payment gateway failure")

	// ErrIssueNoPayment indicates no payment with a gateway reference could be
	// located for the order or, for reprints, its original order.
	ErrIssueNoPayment = errors.New("issue: no payment on record")
	// ErrIssuePaymentNotCompleted indicates the payment never completed.
	ErrIssuePaymentNotCompleted = errors.New("issue: payment not completed")
	// ErrIssuePaymentUnpaid indicates the gateway reports the payment as unpaid.
	ErrIssuePaymentUnpaid = errors.New("issue: payment not paid at gateway")
	// ErrIssueAlreadyRefunded indicates the payment was refunded previously.
	ErrIssueAlreadyRefunded = errors.New("issue: payment already refunded")
	// ErrIssueRefundAmountInvalid indicates a computed refund amount of zero or less.
	ErrIssueRefundAmountInvalid = errors.New("issue: refund amount must be positive")
)

// IssueEventPublisher publishes issue domain events for downstream consumers.
type IssueEventPublisher interface {
	PublishIssueEvent(ctx context.Context, event IssueEvent) error
}

// IssueEvent captures metadata for emitted issue domain events.
type IssueEvent struct {
	Type           string
	IssueID        string
	OrderID        string
	OrderItemID    string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// IssueServiceDeps bundles collaborators required to construct the issue service.
type IssueServiceDeps struct {
	Issues      repositories.IssueRepository
	Messages    repositories.IssueMessageRepository
	Orders      repositories.OrderRepository
	Items       repositories.OrderItemRepository
	Payments    repositories.PaymentRepository
	Counters    repositories.CounterRepository
	Gateway     payments.Provider
	UnitOfWork  repositories.UnitOfWork
	Accounting  AccountingDispatcher
	Events      IssueEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
	// ReprintCostEstimate prices the ledger expense for a reprint. The default
	// books half the retail line total; finance reconciles the real cost later.
	ReprintCostEstimate func(item OrderItem) int64
}

type issueService struct {
	issues      repositories.IssueRepository
	messages    repositories.IssueMessageRepository
	orders      repositories.OrderRepository
	items       repositories.OrderItemRepository
	payments    repositories.PaymentRepository
	counters    repositories.CounterRepository
	gateway     payments.Provider
	unitOfWork  repositories.UnitOfWork
	accounting  AccountingDispatcher
	events      IssueEventPublisher
	clock       func() time.Time
	newID       func() string
	logger      func(context.Context, string, map[string]any)
	reprintCost func(item OrderItem) int64
}

// NewIssueService wires dependencies into a concrete IssueService implementation.
func NewIssueService(deps IssueServiceDeps) (IssueService, error) {
	if deps.Issues == nil {
		return nil, errors.New("issue service: issue repository is required")
	}
	if deps.Messages == nil {
		return nil, errors.New("issue service: message repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("issue service: order repository is required")
	}
	if deps.Items == nil {
		return nil, errors.New("issue service: order item repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("issue service: payment repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("issue service: payment gateway is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	estimate := deps.ReprintCostEstimate
	if estimate == nil {
		estimate = func(item OrderItem) int64 {
			return item.Total / 2
		}
	}

	return &issueService{
		issues:     deps.Issues,
		messages:   deps.Messages,
		orders:     deps.Orders,
		items:      deps.Items,
		payments:   deps.Payments,
		counters:   deps.Counters,
		gateway:    deps.Gateway,
		unitOfWork: unit,
		accounting: deps.Accounting,
		events:     deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:       idGen,
		logger:      logger,
		reprintCost: estimate,
	}, nil
}

func (s *issueService) Submit(ctx context.Context, cmd SubmitIssueCommand) (Issue, error) {
	itemID := strings.TrimSpace(cmd.OrderItemID)
	customerID := strings.TrimSpace(cmd.CustomerID)
	reason := strings.TrimSpace(cmd.Reason)
	if itemID == "" || customerID == "" {
		return Issue{}, fmt.Errorf("%w: order item id and customer id are required", ErrIssueInvalidInput)
	}
	if reason == "" {
		return Issue{}, fmt.Errorf("%w: reason is required", ErrIssueInvalidInput)
	}

	item, err := s.items.FindByID(ctx, itemID)
	if err != nil {
		return Issue{}, s.mapRepositoryError(err)
	}
	order, err := s.orders.FindByID(ctx, item.OrderID)
	if err != nil {
		return Issue{}, s.mapRepositoryError(err)
	}
	if order.CustomerID != customerID {
		return Issue{}, fmt.Errorf("%w: order item %s", ErrIssueForbidden, itemID)
	}

	if existing, err := s.issues.FindByOrderItem(ctx, itemID); err == nil {
		if !existing.Conclusion.IsConcluded {
			return Issue{}, fmt.Errorf("%w: item already has an open issue %s", ErrIssueConflict, existing.ID)
		}
	} else if !isRepoNotFound(err) {
		return Issue{}, s.mapRepositoryError(err)
	}

	now := s.now()
	status := domain.IssueStatusSubmitted
	if len(cmd.ImageURLs) > 0 {
		status = domain.IssueStatusAwaitingReview
	}

	issue := domain.Issue{
		ID:           s.nextIssueID(),
		OrderItemID:  itemID,
		OrderID:      order.ID,
		CustomerID:   customerID,
		Reason:       reason,
		Description:  strings.TrimSpace(cmd.Description),
		ImageURLs:    cmd.ImageURLs,
		Status:       status,
		CarrierFault: domain.CarrierFaultUnknown,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		return s.issues.Insert(txCtx, issue)
	})
	if err != nil {
		return Issue{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, IssueEvent{
		Type:          issueEventSubmitted,
		IssueID:       issue.ID,
		OrderID:       issue.OrderID,
		OrderItemID:   issue.OrderItemID,
		CurrentStatus: string(issue.Status),
		ActorID:       customerID,
		OccurredAt:    now,
	})

	return issue, nil
}

func (s *issueService) GetIssue(ctx context.Context, issueID string, opts IssueReadOptions) (IssueDetail, error) {
	issueID = strings.TrimSpace(issueID)
	if issueID == "" {
		return IssueDetail{}, fmt.Errorf("%w: issue id is required", ErrIssueInvalidInput)
	}

	issue, err := s.issues.FindByID(ctx, issueID)
	if err != nil {
		return IssueDetail{}, s.mapRepositoryError(err)
	}
	if owner := strings.TrimSpace(opts.CustomerID); owner != "" && issue.CustomerID != owner {
		return IssueDetail{}, fmt.Errorf("%w: issue %s", ErrIssueForbidden, issueID)
	}

	detail := IssueDetail{Issue: issue}

	// Fetching the detail view counts as reading the counterpart's messages.
	if opts.Reader != "" {
		counterpart := domain.MessageSenderCustomer
		if opts.Reader == domain.MessageSenderCustomer {
			counterpart = domain.MessageSenderAdmin
		}
		if err := s.messages.MarkRead(ctx, issueID, counterpart, s.now()); err != nil {
			s.logger(ctx, "issue.messages.mark_read_failed", map[string]any{
				"issueId": issueID,
				"error":   err.Error(),
			})
		}
	}

	if opts.IncludeMessages {
		messages, err := s.messages.ListByIssue(ctx, issueID)
		if err != nil {
			return IssueDetail{}, s.mapRepositoryError(err)
		}
		detail.Messages = messages
	}

	return detail, nil
}

func (s *issueService) ListIssues(ctx context.Context, filter IssueListFilter) (domain.CursorPage[Issue], error) {
	repoFilter := repositories.IssueListFilter{
		CustomerID:    strings.TrimSpace(filter.CustomerID),
		OrderID:       strings.TrimSpace(filter.OrderID),
		Status:        filter.Status,
		Concluded:     filter.Concluded,
		CarrierFault:  filter.CarrierFault,
		CreatedAfter:  filter.From,
		CreatedBefore: filter.To,
		Pagination:    filter.Pagination,
	}

	page, err := s.issues.List(ctx, repoFilter)
	if err != nil {
		return domain.CursorPage[Issue]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *issueService) Review(ctx context.Context, cmd ReviewIssueCommand) (Issue, error) {
	issueID := strings.TrimSpace(cmd.IssueID)
	adminID := strings.TrimSpace(cmd.AdminID)
	if issueID == "" || adminID == "" {
		return Issue{}, fmt.Errorf("%w: issue id and admin id are required", ErrIssueInvalidInput)
	}

	message := strings.TrimSpace(cmd.Message)
	switch cmd.Action {
	case ReviewActionApproveReprint, ReviewActionApproveRefund:
	case ReviewActionRequestInfo, ReviewActionReject:
		if message == "" {
			return Issue{}, fmt.Errorf("%w: a message is required for %s", ErrIssueInvalidInput, cmd.Action)
		}
	default:
		return Issue{}, fmt.Errorf("%w: unknown review action %q", ErrIssueInvalidInput, cmd.Action)
	}

	issue, err := s.issues.FindByID(ctx, issueID)
	if err != nil {
		return Issue{}, s.mapRepositoryError(err)
	}
	if issue.Conclusion.IsConcluded {
		return Issue{}, fmt.Errorf("%w: issue is concluded", ErrIssueConflict)
	}
	if !domain.IsReviewableIssueStatus(issue.Status) {
		return Issue{}, fmt.Errorf("%w: issue in status %s is not reviewable", ErrIssueConflict, issue.Status)
	}

	now := s.now()
	previous := issue.Status

	switch cmd.Action {
	case ReviewActionApproveReprint:
		issue.Status = domain.IssueStatusApprovedReprint
		issue.ResolvedType = valuePtr(domain.IssueResolutionReprint)
	case ReviewActionApproveRefund:
		resolution := domain.IssueResolutionFullRefund
		if cmd.RefundType != nil {
			switch *cmd.RefundType {
			case domain.IssueResolutionFullRefund, domain.IssueResolutionPartialRefund:
				resolution = *cmd.RefundType
			default:
				return Issue{}, fmt.Errorf("%w: invalid refund type %q", ErrIssueInvalidInput, *cmd.RefundType)
			}
		}
		issue.Status = domain.IssueStatusApprovedRefund
		issue.ResolvedType = valuePtr(resolution)
	case ReviewActionRequestInfo:
		issue.Status = domain.IssueStatusInfoRequested
	case ReviewActionReject:
		issue.Status = domain.IssueStatusRejected
		issue.RejectionReason = valuePtr(message)
		if cmd.FinalRejection {
			issue.RejectionFinal = true
			issue.Conclusion = domain.IssueConclusion{
				IsConcluded: true,
				At:          &now,
				By:          valuePtr(adminID),
				Reason:      valuePtr("final rejection"),
			}
		}
	}

	issue.ReviewedAt = &now
	issue.UpdatedAt = now

	note := message
	if note == "" {
		note = defaultReviewNote(cmd.Action)
	}
	adminMessage := s.buildAdminMessage(issue.ID, adminID, note, now)

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.issues.Update(txCtx, issue); err != nil {
			return err
		}
		return s.messages.Insert(txCtx, adminMessage)
	})
	if err != nil {
		return Issue{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, IssueEvent{
		Type:           issueEventReviewed,
		IssueID:        issue.ID,
		OrderID:        issue.OrderID,
		OrderItemID:    issue.OrderItemID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(issue.Status),
		ActorID:        adminID,
		OccurredAt:     now,
		Metadata:       map[string]any{"action": string(cmd.Action)},
	})

	return issue, nil
}

func (s *issueService) Process(ctx context.Context, cmd ProcessIssueCommand) (ProcessIssueResult, error) {
	issueID := strings.TrimSpace(cmd.IssueID)
	adminID := strings.TrimSpace(cmd.AdminID)
	if issueID == "" || adminID == "" {
		return ProcessIssueResult{}, fmt.Errorf("%w: issue id and admin id are required", ErrIssueInvalidInput)
	}

	issue, err := s.issues.FindByID(ctx, issueID)
	if err != nil {
		return ProcessIssueResult{}, s.mapRepositoryError(err)
	}
	if issue.Conclusion.IsConcluded {
		return ProcessIssueResult{}, fmt.Errorf("%w: issue is concluded", ErrIssueConflict)
	}
	if !domain.IsProcessableIssueStatus(issue.Status) {
		return ProcessIssueResult{}, fmt.Errorf("%w: issue in status %s cannot be processed", ErrIssueConflict, issue.Status)
	}

	item, err := s.items.FindByID(ctx, issue.OrderItemID)
	if err != nil {
		return ProcessIssueResult{}, s.mapRepositoryError(err)
	}
	order, err := s.orders.FindByID(ctx, issue.OrderID)
	if err != nil {
		return ProcessIssueResult{}, s.mapRepositoryError(err)
	}

	if issue.Status == domain.IssueStatusApprovedReprint {
		return s.processReprint(ctx, issue, item, order, adminID, cmd.Notes)
	}
	return s.processRefund(ctx, issue, item, order, adminID, cmd)
}

func (s *issueService) processReprint(ctx context.Context, issue Issue, item OrderItem, original Order, adminID, notes string) (ProcessIssueResult, error) {
	now := s.now()

	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return ProcessIssueResult{}, err
	}

	// The replacement is free: price fields zeroed, print spec and delivery
	// details copied verbatim from the original order.
	reprint := domain.Order{
		ID:              newOrderID(),
		OrderNumber:     number,
		CustomerID:      original.CustomerID,
		Status:          domain.OrderStatusConfirmed,
		Currency:        original.Currency,
		TotalAmount:     0,
		ShippingAddress: original.ShippingAddress,
		PrintSpec:       original.PrintSpec,
		Audit:           domain.OrderAudit{CreatedBy: valuePtr(adminID), UpdatedBy: valuePtr(adminID)},
		CreatedAt:       now,
		UpdatedAt:       now,
		PlacedAt:        &now,
	}

	reprintItem := domain.OrderItem{
		ID:            orderItemIDPrefix + s.newID(),
		OrderID:       reprint.ID,
		ProductRef:    item.ProductRef,
		VariantRef:    item.VariantRef,
		DesignRef:     item.DesignRef,
		Quantity:      item.Quantity,
		UnitPrice:     0,
		Total:         0,
		Customization: item.Customization,
		Lineage: &domain.ItemLineage{
			OriginalOrderID: item.OrderID,
			OriginalItemID:  item.ID,
			IssueID:         issue.ID,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	previous := issue.Status
	issue.Status = domain.IssueStatusCompleted
	issue.ReprintOrderID = &reprint.ID
	issue.ReprintItemID = &reprintItem.ID
	issue.ProcessedAt = &now
	issue.UpdatedAt = now
	issue.Conclusion = domain.IssueConclusion{
		IsConcluded: true,
		At:          &now,
		By:          valuePtr(adminID),
		Reason:      valuePtr("resolved by reprint"),
	}

	note := strings.TrimSpace(notes)
	if note == "" {
		note = fmt.Sprintf("A free replacement has been ordered (order %s).", reprint.OrderNumber)
	}
	adminMessage := s.buildAdminMessage(issue.ID, adminID, note, now)

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Insert(txCtx, reprint); err != nil {
			return err
		}
		if err := s.items.Insert(txCtx, reprintItem); err != nil {
			return err
		}
		if err := s.issues.Update(txCtx, issue); err != nil {
			return err
		}
		return s.messages.Insert(txCtx, adminMessage)
	})
	if err != nil {
		return ProcessIssueResult{}, s.mapRepositoryError(err)
	}

	if s.accounting != nil {
		s.accounting.EnqueueReprintExpense(ctx, RecordReprintExpenseCommand{
			OriginalOrderID: item.OrderID,
			ReprintOrderID:  reprint.ID,
			IssueID:         issue.ID,
			Amount:          s.reprintCost(item),
			Currency:        original.Currency,
			Reason:          fmt.Sprintf("Reprint for issue %s", issue.ID),
			OccurredAt:      now,
		})
	}

	s.publishEvent(ctx, IssueEvent{
		Type:           issueEventProcessed,
		IssueID:        issue.ID,
		OrderID:        issue.OrderID,
		OrderItemID:    issue.OrderItemID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(issue.Status),
		ActorID:        adminID,
		OccurredAt:     now,
		Metadata:       map[string]any{"reprintOrderId": reprint.ID},
	})

	reprint.Items = []domain.OrderItem{reprintItem}
	return ProcessIssueResult{Issue: issue, ReprintOrder: &reprint}, nil
}

func (s *issueService) processRefund(ctx context.Context, issue Issue, item OrderItem, order Order, adminID string, cmd ProcessIssueCommand) (ProcessIssueResult, error) {
	payment, paymentOrder, err := s.locatePayment(ctx, item, order)
	if err != nil {
		return ProcessIssueResult{}, err
	}
	if strings.TrimSpace(payment.GatewayRef) == "" {
		return ProcessIssueResult{}, fmt.Errorf("%w: payment %s has no gateway reference", ErrIssueNoPayment, payment.ID)
	}
	if payment.Status != domain.PaymentStatusCompleted {
		return ProcessIssueResult{}, fmt.Errorf("%w: payment %s is %s", ErrIssuePaymentNotCompleted, payment.ID, payment.Status)
	}

	resolved, err := s.gateway.ResolvePaymentReference(ctx, payment.GatewayRef)
	if err != nil {
		return ProcessIssueResult{}, fmt.Errorf("%w: resolve %s: %v", ErrIssueGateway, payment.GatewayRef, err)
	}
	if !resolved.Paid {
		return ProcessIssueResult{}, fmt.Errorf("%w: %s", ErrIssuePaymentUnpaid, resolved.IntentID)
	}
	if payment.RefundedAt != nil || payment.RefundRef != nil {
		return ProcessIssueResult{}, fmt.Errorf("%w: payment %s", ErrIssueAlreadyRefunded, payment.ID)
	}

	resolution := domain.IssueResolutionFullRefund
	if issue.ResolvedType != nil {
		resolution = *issue.ResolvedType
	}
	if cmd.RefundType != nil {
		switch *cmd.RefundType {
		case domain.IssueResolutionFullRefund, domain.IssueResolutionPartialRefund:
			resolution = *cmd.RefundType
		default:
			return ProcessIssueResult{}, fmt.Errorf("%w: invalid refund type %q", ErrIssueInvalidInput, *cmd.RefundType)
		}
	}

	amount := paymentOrder.TotalAmount
	if resolution == domain.IssueResolutionPartialRefund {
		refundItem := item
		if item.Lineage != nil && paymentOrder.ID != order.ID {
			// A reprint line is zero-priced; the partial amount comes from the
			// originally paid line recorded in the lineage.
			original, err := s.items.FindByID(ctx, item.Lineage.OriginalItemID)
			if err != nil {
				return ProcessIssueResult{}, s.mapRepositoryError(err)
			}
			refundItem = original
		}
		amount = refundItem.Total
	}
	if amount <= 0 {
		return ProcessIssueResult{}, fmt.Errorf("%w: computed %d", ErrIssueRefundAmountInvalid, amount)
	}

	// Phase one: flag the issue as processing before the external call so the
	// in-flight refund is visible. A crash between the two writes is recovered
	// by re-invoking Process, which re-validates against the payment record.
	now := s.now()
	previous := issue.Status
	issue.Status = domain.IssueStatusProcessing
	issue.UpdatedAt = now
	if err := s.issues.Update(ctx, issue); err != nil {
		return ProcessIssueResult{}, s.mapRepositoryError(err)
	}

	result, refundErr := s.gateway.Refund(ctx, payments.RefundRequest{
		IntentID:       resolved.IntentID,
		Amount:         &amount,
		Reason:         refundReasonCustomer,
		IdempotencyKey: refundIdempotencyPrefix + issue.ID,
		Metadata: map[string]string{
			"issueId": issue.ID,
			"orderId": paymentOrder.ID,
		},
	})
	if refundErr != nil {
		return ProcessIssueResult{}, s.rollbackRefund(ctx, issue, previous, adminID, refundErr)
	}

	issue.Status = domain.IssueStatusCompleted
	issue.ResolvedType = valuePtr(resolution)
	issue.RefundAmount = &amount
	issue.RefundRef = valuePtr(result.RefundID)
	issue.ProcessedAt = &now
	issue.UpdatedAt = now
	issue.Conclusion = domain.IssueConclusion{
		IsConcluded: true,
		At:          &now,
		By:          valuePtr(adminID),
		Reason:      valuePtr("resolved by refund"),
	}

	payment.RefundedAt = &now
	payment.RefundRef = valuePtr(result.RefundID)
	payment.UpdatedAt = now
	fullRefund := resolution == domain.IssueResolutionFullRefund
	if fullRefund {
		payment.Status = domain.PaymentStatusRefunded
	}

	note := strings.TrimSpace(cmd.Notes)
	if note == "" {
		note = fmt.Sprintf("A refund of %s has been issued to your original payment method.", formatAmount(amount, paymentOrder.Currency))
	}
	adminMessage := s.buildAdminMessage(issue.ID, adminID, note, now)

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.issues.Update(txCtx, issue); err != nil {
			return err
		}
		if err := s.payments.Update(txCtx, payment); err != nil {
			return err
		}
		if fullRefund && domain.CanBeRefunded(paymentOrder.Status) {
			update := repositories.OrderStatusUpdate{RefundedAt: &now, UpdatedBy: valuePtr(adminID), UpdatedAt: now}
			if err := s.orders.UpdateStatus(txCtx, paymentOrder.ID, paymentOrder.Status, domain.OrderStatusRefunded, update); err != nil {
				return err
			}
		}
		return s.messages.Insert(txCtx, adminMessage)
	})
	if err != nil {
		// The gateway already moved the money; surfacing the write failure with
		// the refund reference lets an operator reconcile by hand.
		s.logger(ctx, "issue.refund.commit_failed", map[string]any{
			"issueId":  issue.ID,
			"refundId": result.RefundID,
			"error":    err.Error(),
		})
		return ProcessIssueResult{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, IssueEvent{
		Type:           issueEventProcessed,
		IssueID:        issue.ID,
		OrderID:        issue.OrderID,
		OrderItemID:    issue.OrderItemID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(issue.Status),
		ActorID:        adminID,
		OccurredAt:     now,
		Metadata: map[string]any{
			"refundId":     result.RefundID,
			"refundAmount": amount,
		},
	})

	return ProcessIssueResult{
		Issue:        issue,
		RefundRef:    valuePtr(result.RefundID),
		RefundAmount: &amount,
	}, nil
}

// locatePayment finds the payment backing the issue's order. A reprint order
// carries no payment of its own; refund eligibility flows from the original
// order recorded in the item's lineage.
func (s *issueService) locatePayment(ctx context.Context, item OrderItem, order Order) (Payment, Order, error) {
	payment, err := s.payments.FindByOrder(ctx, order.ID)
	if err == nil {
		return payment, order, nil
	}
	if !isRepoNotFound(err) {
		return Payment{}, Order{}, s.mapRepositoryError(err)
	}

	if item.Lineage == nil {
		return Payment{}, Order{}, fmt.Errorf("%w: order %s", ErrIssueNoPayment, order.ID)
	}

	original, err := s.orders.FindByID(ctx, item.Lineage.OriginalOrderID)
	if err != nil {
		return Payment{}, Order{}, s.mapRepositoryError(err)
	}
	payment, err = s.payments.FindByOrder(ctx, original.ID)
	if err != nil {
		if isRepoNotFound(err) {
			return Payment{}, Order{}, fmt.Errorf("%w: original order %s", ErrIssueNoPayment, original.ID)
		}
		return Payment{}, Order{}, s.mapRepositoryError(err)
	}
	return payment, original, nil
}

// rollbackRefund reverts the optimistic processing write after a gateway
// failure, leaving the issue retryable at approved_refund.
func (s *issueService) rollbackRefund(ctx context.Context, issue Issue, previous domain.IssueStatus, adminID string, gatewayErr error) error {
	now := s.now()
	issue.Status = previous
	issue.UpdatedAt = now

	failure := s.buildAdminMessage(issue.ID, adminID, fmt.Sprintf("Refund attempt failed: %v. The issue remains approved and can be retried.", gatewayErr), now)

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.issues.Update(txCtx, issue); err != nil {
			return err
		}
		return s.messages.Insert(txCtx, failure)
	})
	if err != nil {
		s.logger(ctx, "issue.refund.rollback_failed", map[string]any{
			"issueId": issue.ID,
			"error":   err.Error(),
		})
	}

	return fmt.Errorf("%w: %v", ErrIssueGateway, gatewayErr)
}

func (s *issueService) Conclude(ctx context.Context, cmd ConcludeIssueCommand) (Issue, error) {
	issueID := strings.TrimSpace(cmd.IssueID)
	adminID := strings.TrimSpace(cmd.AdminID)
	if issueID == "" || adminID == "" {
		return Issue{}, fmt.Errorf("%w: issue id and admin id are required", ErrIssueInvalidInput)
	}

	issue, err := s.issues.FindByID(ctx, issueID)
	if err != nil {
		return Issue{}, s.mapRepositoryError(err)
	}
	if issue.Conclusion.IsConcluded {
		return Issue{}, fmt.Errorf("%w: issue is already concluded", ErrIssueConflict)
	}

	now := s.now()
	reason := strings.TrimSpace(cmd.Reason)
	issue.Conclusion = domain.IssueConclusion{
		IsConcluded: true,
		At:          &now,
		By:          valuePtr(adminID),
	}
	if reason != "" {
		issue.Conclusion.Reason = valuePtr(reason)
	}
	issue.UpdatedAt = now

	note := reason
	if note == "" {
		note = "This issue has been closed."
	}
	adminMessage := s.buildAdminMessage(issue.ID, adminID, note, now)

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.issues.Update(txCtx, issue); err != nil {
			return err
		}
		return s.messages.Insert(txCtx, adminMessage)
	})
	if err != nil {
		return Issue{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, IssueEvent{
		Type:          issueEventConcluded,
		IssueID:       issue.ID,
		OrderID:       issue.OrderID,
		OrderItemID:   issue.OrderItemID,
		CurrentStatus: string(issue.Status),
		ActorID:       adminID,
		OccurredAt:    now,
	})

	return issue, nil
}

func (s *issueService) Reopen(ctx context.Context, cmd ReopenIssueCommand) (Issue, error) {
	issueID := strings.TrimSpace(cmd.IssueID)
	adminID := strings.TrimSpace(cmd.AdminID)
	if issueID == "" || adminID == "" {
		return Issue{}, fmt.Errorf("%w: issue id and admin id are required", ErrIssueInvalidInput)
	}

	issue, err := s.issues.FindByID(ctx, issueID)
	if err != nil {
		return Issue{}, s.mapRepositoryError(err)
	}
	if !issue.Conclusion.IsConcluded {
		return Issue{}, fmt.Errorf("%w: issue is not concluded", ErrIssueConflict)
	}

	now := s.now()
	issue.Conclusion = domain.IssueConclusion{}
	issue.UpdatedAt = now

	note := strings.TrimSpace(cmd.Reason)
	if note == "" {
		note = "This issue has been reopened."
	}
	adminMessage := s.buildAdminMessage(issue.ID, adminID, note, now)

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.issues.Update(txCtx, issue); err != nil {
			return err
		}
		return s.messages.Insert(txCtx, adminMessage)
	})
	if err != nil {
		return Issue{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, IssueEvent{
		Type:          issueEventReopened,
		IssueID:       issue.ID,
		OrderID:       issue.OrderID,
		OrderItemID:   issue.OrderItemID,
		CurrentStatus: string(issue.Status),
		ActorID:       adminID,
		OccurredAt:    now,
	})

	return issue, nil
}

func (s *issueService) Withdraw(ctx context.Context, cmd WithdrawIssueCommand) error {
	issueID := strings.TrimSpace(cmd.IssueID)
	customerID := strings.TrimSpace(cmd.CustomerID)
	if issueID == "" || customerID == "" {
		return fmt.Errorf("%w: issue id and customer id are required", ErrIssueInvalidInput)
	}

	issue, err := s.issues.FindByID(ctx, issueID)
	if err != nil {
		return s.mapRepositoryError(err)
	}
	if issue.CustomerID != customerID {
		return fmt.Errorf("%w: issue %s", ErrIssueForbidden, issueID)
	}
	if !domain.IsWithdrawableIssueStatus(issue.Status) {
		return fmt.Errorf("%w: issue in status %s can no longer be withdrawn", ErrIssueConflict, issue.Status)
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.messages.DeleteByIssue(txCtx, issueID); err != nil {
			return err
		}
		return s.issues.Delete(txCtx, issueID)
	})
	if err != nil {
		return s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, IssueEvent{
		Type:           issueEventWithdrawn,
		IssueID:        issue.ID,
		OrderID:        issue.OrderID,
		OrderItemID:    issue.OrderItemID,
		PreviousStatus: string(issue.Status),
		ActorID:        customerID,
		OccurredAt:     s.now(),
	})

	return nil
}

func (s *issueService) SetCarrierFault(ctx context.Context, cmd SetCarrierFaultCommand) (Issue, error) {
	issueID := strings.TrimSpace(cmd.IssueID)
	adminID := strings.TrimSpace(cmd.AdminID)
	if issueID == "" || adminID == "" {
		return Issue{}, fmt.Errorf("%w: issue id and admin id are required", ErrIssueInvalidInput)
	}
	switch cmd.CarrierFault {
	case domain.CarrierFaultYes, domain.CarrierFaultNo, domain.CarrierFaultUnknown:
	default:
		return Issue{}, fmt.Errorf("%w: invalid carrier fault %q", ErrIssueInvalidInput, cmd.CarrierFault)
	}

	issue, err := s.issues.FindByID(ctx, issueID)
	if err != nil {
		return Issue{}, s.mapRepositoryError(err)
	}
	if issue.Conclusion.IsConcluded {
		return Issue{}, fmt.Errorf("%w: issue is concluded", ErrIssueConflict)
	}

	issue.CarrierFault = cmd.CarrierFault
	issue.UpdatedAt = s.now()

	if err := s.issues.Update(ctx, issue); err != nil {
		return Issue{}, s.mapRepositoryError(err)
	}
	return issue, nil
}

func (s *issueService) buildAdminMessage(issueID, adminID, content string, now time.Time) domain.IssueMessage {
	return domain.IssueMessage{
		ID:        issueMessageIDPrefix + s.newID(),
		IssueID:   issueID,
		Sender:    domain.MessageSenderAdmin,
		SenderID:  adminID,
		Content:   content,
		CreatedAt: now,
	}
}

func (s *issueService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	if s.counters == nil {
		return fmt.Sprintf("PF-%d-%s", now.Year(), strings.ToUpper(s.newID()[:8])), nil
	}
	seq, err := s.counters.Next(ctx, "orders", 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("PF-%d-%06d", now.Year(), seq), nil
}

func (s *issueService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrIssueNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrIssueConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("issue: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *issueService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *issueService) now() time.Time {
	return s.clock()
}

func (s *issueService) nextIssueID() string {
	return issueIDPrefix + s.newID()
}

func (s *issueService) publishEvent(ctx context.Context, event IssueEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishIssueEvent(ctx, event); err != nil {
		s.logger(ctx, "issue.event.publish_failed", map[string]any{
			"issueId": event.IssueID,
			"type":    event.Type,
			"error":   err.Error(),
		})
	}
}

func defaultReviewNote(action ReviewAction) string {
	switch action {
	case ReviewActionApproveReprint:
		return "Your issue has been approved. A free replacement will be produced."
	case ReviewActionApproveRefund:
		return "Your issue has been approved for a refund."
	default:
		return "Your issue has been reviewed."
	}
}

func formatAmount(minor int64, currency string) string {
	return fmt.Sprintf("%s %d.%02d", normaliseCurrency(currency), minor/100, minor%100)
}
