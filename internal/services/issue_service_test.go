package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/printfield/api/internal/domain"
	"github.com/printfield/api/internal/payments"
	"github.com/printfield/api/internal/repositories"
)

var testNow = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

func newTestIssueService(t *testing.T, deps IssueServiceDeps) IssueService {
	t.Helper()
	if deps.Issues == nil {
		deps.Issues = &stubIssueRepo{}
	}
	if deps.Messages == nil {
		deps.Messages = &stubMessageRepo{}
	}
	if deps.Orders == nil {
		deps.Orders = &stubOrderRepo{}
	}
	if deps.Items == nil {
		deps.Items = &stubItemRepo{}
	}
	if deps.Payments == nil {
		deps.Payments = &stubPaymentRepo{}
	}
	if deps.Gateway == nil {
		deps.Gateway = &stubGateway{}
	}
	if deps.Clock == nil {
		deps.Clock = fixedClock(testNow)
	}
	if deps.IDGenerator == nil {
		deps.IDGenerator = sequentialIDs("id")
	}
	svc, err := NewIssueService(deps)
	if err != nil {
		t.Fatalf("new issue service: %v", err)
	}
	return svc
}

func TestSubmitIssue(t *testing.T) {
	ctx := context.Background()
	var inserted domain.Issue

	items := &stubItemRepo{
		findFn: func(_ context.Context, itemID string) (domain.OrderItem, error) {
			return domain.OrderItem{ID: itemID, OrderID: "ord_1"}, nil
		},
	}
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, CustomerID: "cus_1"}, nil
		},
	}
	issues := &stubIssueRepo{
		insertFn: func(_ context.Context, issue domain.Issue) error {
			inserted = issue
			return nil
		},
	}

	svc := newTestIssueService(t, IssueServiceDeps{Issues: issues, Orders: orders, Items: items})

	issue, err := svc.Submit(ctx, SubmitIssueCommand{
		OrderItemID: "itm_1",
		CustomerID:  "cus_1",
		Reason:      "damaged",
		ImageURLs:   []string{"https://img/1.jpg"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if issue.Status != domain.IssueStatusAwaitingReview {
		t.Fatalf("expected awaiting_review with evidence attached, got %s", issue.Status)
	}
	if inserted.CarrierFault != domain.CarrierFaultUnknown {
		t.Fatalf("expected carrier fault unknown, got %s", inserted.CarrierFault)
	}

	issue, err = svc.Submit(ctx, SubmitIssueCommand{OrderItemID: "itm_2", CustomerID: "cus_1", Reason: "damaged"})
	if err != nil {
		t.Fatalf("submit without images: %v", err)
	}
	if issue.Status != domain.IssueStatusSubmitted {
		t.Fatalf("expected submitted without evidence, got %s", issue.Status)
	}

	if _, err := svc.Submit(ctx, SubmitIssueCommand{OrderItemID: "itm_1", CustomerID: "cus_2", Reason: "damaged"}); !errors.Is(err, ErrIssueForbidden) {
		t.Fatalf("expected ErrIssueForbidden for wrong customer, got %v", err)
	}
}

func TestSubmitIssueDuplicateOpenIssue(t *testing.T) {
	ctx := context.Background()
	items := &stubItemRepo{
		findFn: func(_ context.Context, itemID string) (domain.OrderItem, error) {
			return domain.OrderItem{ID: itemID, OrderID: "ord_1"}, nil
		},
	}
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, CustomerID: "cus_1"}, nil
		},
	}
	issues := &stubIssueRepo{
		findByItemFn: func(_ context.Context, itemID string) (domain.Issue, error) {
			return domain.Issue{ID: "iss_existing", OrderItemID: itemID, Status: domain.IssueStatusAwaitingReview}, nil
		},
	}

	svc := newTestIssueService(t, IssueServiceDeps{Issues: issues, Orders: orders, Items: items})

	_, err := svc.Submit(ctx, SubmitIssueCommand{OrderItemID: "itm_1", CustomerID: "cus_1", Reason: "damaged"})
	if !errors.Is(err, ErrIssueConflict) {
		t.Fatalf("expected ErrIssueConflict for open duplicate, got %v", err)
	}
}

func TestReviewNotReviewableHasNoSideEffect(t *testing.T) {
	ctx := context.Background()
	messageInserts := 0
	issueUpdates := 0

	issues := &stubIssueRepo{
		findFn: func(_ context.Context, issueID string) (domain.Issue, error) {
			return domain.Issue{ID: issueID, Status: domain.IssueStatusApprovedReprint}, nil
		},
		updateFn: func(context.Context, domain.Issue) error {
			issueUpdates++
			return nil
		},
	}
	messages := &stubMessageRepo{
		insertFn: func(context.Context, domain.IssueMessage) error {
			messageInserts++
			return nil
		},
	}

	svc := newTestIssueService(t, IssueServiceDeps{Issues: issues, Messages: messages})

	_, err := svc.Review(ctx, ReviewIssueCommand{IssueID: "iss_1", AdminID: "admin_1", Action: ReviewActionApproveReprint})
	if !errors.Is(err, ErrIssueConflict) {
		t.Fatalf("expected ErrIssueConflict, got %v", err)
	}
	if messageInserts != 0 || issueUpdates != 0 {
		t.Fatalf("expected no writes, got %d updates and %d messages", issueUpdates, messageInserts)
	}
}

func TestReviewUnknownActionRejected(t *testing.T) {
	svc := newTestIssueService(t, IssueServiceDeps{})
	_, err := svc.Review(context.Background(), ReviewIssueCommand{IssueID: "iss_1", AdminID: "admin_1", Action: ReviewAction("escalate")})
	if !errors.Is(err, ErrIssueInvalidInput) {
		t.Fatalf("expected ErrIssueInvalidInput, got %v", err)
	}
}

func TestReviewRequestInfoRequiresMessage(t *testing.T) {
	svc := newTestIssueService(t, IssueServiceDeps{})
	_, err := svc.Review(context.Background(), ReviewIssueCommand{IssueID: "iss_1", AdminID: "admin_1", Action: ReviewActionRequestInfo})
	if !errors.Is(err, ErrIssueInvalidInput) {
		t.Fatalf("expected ErrIssueInvalidInput, got %v", err)
	}
}

func TestReviewFinalRejectionConcludesAtomically(t *testing.T) {
	ctx := context.Background()
	var updated domain.Issue
	var message domain.IssueMessage

	issues := &stubIssueRepo{
		findFn: func(_ context.Context, issueID string) (domain.Issue, error) {
			return domain.Issue{ID: issueID, Status: domain.IssueStatusAwaitingReview}, nil
		},
		updateFn: func(_ context.Context, issue domain.Issue) error {
			updated = issue
			return nil
		},
	}
	messages := &stubMessageRepo{
		insertFn: func(_ context.Context, m domain.IssueMessage) error {
			message = m
			return nil
		},
	}

	svc := newTestIssueService(t, IssueServiceDeps{Issues: issues, Messages: messages})

	issue, err := svc.Review(ctx, ReviewIssueCommand{
		IssueID:        "iss_1",
		AdminID:        "admin_1",
		Action:         ReviewActionReject,
		Message:        "Damage was caused after delivery.",
		FinalRejection: true,
	})
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if issue.Status != domain.IssueStatusRejected || !issue.RejectionFinal {
		t.Fatalf("expected final rejection, got %+v", issue)
	}
	if !updated.Conclusion.IsConcluded || updated.Conclusion.By == nil || *updated.Conclusion.By != "admin_1" {
		t.Fatalf("expected conclusion in same write, got %+v", updated.Conclusion)
	}
	if message.Sender != domain.MessageSenderAdmin || message.Content != "Damage was caused after delivery." {
		t.Fatalf("expected audit admin message, got %+v", message)
	}
}

func TestReviewApproveRefundPartial(t *testing.T) {
	ctx := context.Background()
	issues := &stubIssueRepo{
		findFn: func(_ context.Context, issueID string) (domain.Issue, error) {
			return domain.Issue{ID: issueID, Status: domain.IssueStatusInfoRequested}, nil
		},
	}

	svc := newTestIssueService(t, IssueServiceDeps{Issues: issues})

	partial := domain.IssueResolutionPartialRefund
	issue, err := svc.Review(ctx, ReviewIssueCommand{
		IssueID:    "iss_1",
		AdminID:    "admin_1",
		Action:     ReviewActionApproveRefund,
		RefundType: &partial,
	})
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if issue.Status != domain.IssueStatusApprovedRefund {
		t.Fatalf("expected approved_refund, got %s", issue.Status)
	}
	if issue.ResolvedType == nil || *issue.ResolvedType != domain.IssueResolutionPartialRefund {
		t.Fatalf("expected partial refund resolution, got %+v", issue.ResolvedType)
	}
}

func TestProcessReprint(t *testing.T) {
	ctx := context.Background()
	var createdOrders []domain.Order
	var createdItems []domain.OrderItem
	var updatedIssue domain.Issue
	var adminMessages []domain.IssueMessage
	accounting := &captureAccounting{}

	address := &domain.Address{Recipient: "A Customer", Line1: "1 High St", City: "Leeds", PostalCode: "LS1 1AA", Country: "GB"}
	issues := &stubIssueRepo{
		findFn: func(_ context.Context, issueID string) (domain.Issue, error) {
			resolved := domain.IssueResolutionReprint
			return domain.Issue{
				ID:           issueID,
				OrderItemID:  "itm_1",
				OrderID:      "ord_1",
				CustomerID:   "cus_1",
				Status:       domain.IssueStatusApprovedReprint,
				ResolvedType: &resolved,
			}, nil
		},
		updateFn: func(_ context.Context, issue domain.Issue) error {
			updatedIssue = issue
			return nil
		},
	}
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{
				ID:              orderID,
				CustomerID:      "cus_1",
				Status:          domain.OrderStatusDelivered,
				Currency:        "GBP",
				TotalAmount:     5000,
				ShippingAddress: address,
				PrintSpec:       domain.PrintSpec{DesignRef: "dsn_1", PrintSize: "A3", Material: "matte", Orientation: "portrait"},
			}, nil
		},
		insertFn: func(_ context.Context, order domain.Order) error {
			createdOrders = append(createdOrders, order)
			return nil
		},
	}
	items := &stubItemRepo{
		findFn: func(_ context.Context, itemID string) (domain.OrderItem, error) {
			return domain.OrderItem{
				ID:         itemID,
				OrderID:    "ord_1",
				ProductRef: "prd_1",
				VariantRef: "var_1",
				DesignRef:  "dsn_1",
				Quantity:   1,
				UnitPrice:  5000,
				Total:      5000,
			}, nil
		},
		insertFn: func(_ context.Context, item domain.OrderItem) error {
			createdItems = append(createdItems, item)
			return nil
		},
	}
	messages := &stubMessageRepo{
		insertFn: func(_ context.Context, m domain.IssueMessage) error {
			adminMessages = append(adminMessages, m)
			return nil
		},
	}

	svc := newTestIssueService(t, IssueServiceDeps{
		Issues:     issues,
		Messages:   messages,
		Orders:     orders,
		Items:      items,
		Counters:   &stubCounterRepo{},
		Accounting: accounting,
	})

	result, err := svc.Process(ctx, ProcessIssueCommand{IssueID: "iss_1", AdminID: "admin_1"})
	if err != nil {
		t.Fatalf("process reprint: %v", err)
	}

	if len(createdOrders) != 1 || len(createdItems) != 1 {
		t.Fatalf("expected exactly one order and one item, got %d/%d", len(createdOrders), len(createdItems))
	}
	reprint := createdOrders[0]
	if reprint.TotalAmount != 0 {
		t.Fatalf("reprint order must be free, got total %d", reprint.TotalAmount)
	}
	if reprint.CustomerID != "cus_1" || reprint.PrintSpec.DesignRef != "dsn_1" || reprint.ShippingAddress != address {
		t.Fatalf("reprint must copy customer, spec and address: %+v", reprint)
	}
	item := createdItems[0]
	if item.UnitPrice != 0 || item.Total != 0 {
		t.Fatalf("reprint item must be free, got %+v", item)
	}
	if item.Lineage == nil || item.Lineage.OriginalOrderID != "ord_1" || item.Lineage.OriginalItemID != "itm_1" || item.Lineage.IssueID != "iss_1" {
		t.Fatalf("expected reprint lineage, got %+v", item.Lineage)
	}
	if !item.IsReprint() {
		t.Fatal("expected item to report as reprint")
	}

	if updatedIssue.Status != domain.IssueStatusCompleted || !updatedIssue.Conclusion.IsConcluded {
		t.Fatalf("expected completed+concluded issue, got %+v", updatedIssue)
	}
	if updatedIssue.ReprintOrderID == nil || *updatedIssue.ReprintOrderID != reprint.ID {
		t.Fatalf("expected reprint order link, got %+v", updatedIssue.ReprintOrderID)
	}
	if len(adminMessages) != 1 {
		t.Fatalf("expected one admin message, got %d", len(adminMessages))
	}
	if result.ReprintOrder == nil || result.ReprintOrder.ID != reprint.ID {
		t.Fatalf("expected reprint order in result, got %+v", result.ReprintOrder)
	}

	if len(accounting.expenses) != 1 {
		t.Fatalf("expected one reprint expense, got %d", len(accounting.expenses))
	}
	expense := accounting.expenses[0]
	if expense.OriginalOrderID != "ord_1" || expense.ReprintOrderID != reprint.ID || expense.IssueID != "iss_1" {
		t.Fatalf("unexpected expense command %+v", expense)
	}
}

func refundFixture(t *testing.T, overrides func(deps *IssueServiceDeps)) (IssueService, *refundState) {
	t.Helper()
	state := &refundState{
		issue: domain.Issue{
			ID:          "iss_1",
			OrderItemID: "itm_1",
			OrderID:     "ord_1",
			CustomerID:  "cus_1",
			Status:      domain.IssueStatusApprovedRefund,
		},
		payment: domain.Payment{
			ID:         "pay_1",
			OrderID:    "ord_1",
			Provider:   "stripe",
			GatewayRef: "pi_123",
			Status:     domain.PaymentStatusCompleted,
			Amount:     5000,
			Currency:   "GBP",
		},
		order: domain.Order{
			ID:          "ord_1",
			CustomerID:  "cus_1",
			Status:      domain.OrderStatusDelivered,
			Currency:    "GBP",
			TotalAmount: 5000,
		},
	}
	resolved := domain.IssueResolutionFullRefund
	state.issue.ResolvedType = &resolved

	deps := IssueServiceDeps{
		Issues: &stubIssueRepo{
			findFn: func(_ context.Context, _ string) (domain.Issue, error) {
				return state.issue, nil
			},
			updateFn: func(_ context.Context, issue domain.Issue) error {
				state.issue = issue
				state.issueWrites++
				return nil
			},
		},
		Messages: &stubMessageRepo{
			insertFn: func(_ context.Context, m domain.IssueMessage) error {
				state.messages = append(state.messages, m)
				return nil
			},
		},
		Orders: &stubOrderRepo{
			findFn: func(_ context.Context, orderID string) (domain.Order, error) {
				if orderID == state.order.ID {
					return state.order, nil
				}
				return domain.Order{}, notFoundErr("order", orderID)
			},
			updateStatusFn: func(_ context.Context, orderID string, _, target domain.OrderStatus, _ repositories.OrderStatusUpdate) error {
				if orderID == state.order.ID {
					state.order.Status = target
				}
				return nil
			},
		},
		Items: &stubItemRepo{
			findFn: func(_ context.Context, itemID string) (domain.OrderItem, error) {
				return domain.OrderItem{ID: itemID, OrderID: "ord_1", Total: 2000}, nil
			},
		},
		Payments: &stubPaymentRepo{
			findByOrderFn: func(_ context.Context, orderID string) (domain.Payment, error) {
				if orderID == state.payment.OrderID {
					return state.payment, nil
				}
				return domain.Payment{}, notFoundErr("payment for order", orderID)
			},
			updateFn: func(_ context.Context, payment domain.Payment) error {
				state.payment = payment
				state.paymentWrites++
				return nil
			},
		},
		Gateway: &stubGateway{
			resolveFn: func(_ context.Context, ref string) (payments.ResolvedPayment, error) {
				return payments.ResolvedPayment{IntentID: ref, Paid: true}, nil
			},
			refundFn: func(_ context.Context, req payments.RefundRequest) (payments.RefundResult, error) {
				state.refundRequests = append(state.refundRequests, req)
				return payments.RefundResult{RefundID: "re_1", Amount: *req.Amount, Currency: "GBP", Status: "succeeded"}, nil
			},
		},
	}
	if overrides != nil {
		overrides(&deps)
	}
	return newTestIssueService(t, deps), state
}

type refundState struct {
	issue          domain.Issue
	payment        domain.Payment
	order          domain.Order
	messages       []domain.IssueMessage
	refundRequests []payments.RefundRequest
	issueWrites    int
	paymentWrites  int
}

func TestProcessRefundFullSuccess(t *testing.T) {
	svc, state := refundFixture(t, nil)

	result, err := svc.Process(context.Background(), ProcessIssueCommand{IssueID: "iss_1", AdminID: "admin_1"})
	if err != nil {
		t.Fatalf("process refund: %v", err)
	}

	if state.issue.Status != domain.IssueStatusCompleted || !state.issue.Conclusion.IsConcluded {
		t.Fatalf("expected completed+concluded issue, got %+v", state.issue)
	}
	if state.issue.RefundAmount == nil || *state.issue.RefundAmount != 5000 {
		t.Fatalf("expected refund amount 5000, got %+v", state.issue.RefundAmount)
	}
	if state.issue.RefundRef == nil || *state.issue.RefundRef != "re_1" {
		t.Fatalf("expected refund ref re_1, got %+v", state.issue.RefundRef)
	}
	if state.payment.Status != domain.PaymentStatusRefunded || state.payment.RefundedAt == nil {
		t.Fatalf("expected refunded payment, got %+v", state.payment)
	}
	if state.order.Status != domain.OrderStatusRefunded {
		t.Fatalf("expected refunded order, got %s", state.order.Status)
	}
	if len(state.refundRequests) != 1 {
		t.Fatalf("expected one gateway call, got %d", len(state.refundRequests))
	}
	req := state.refundRequests[0]
	if req.IdempotencyKey != "issue_iss_1" {
		t.Fatalf("expected idempotency key issue_iss_1, got %s", req.IdempotencyKey)
	}
	if req.IntentID != "pi_123" || req.Amount == nil || *req.Amount != 5000 {
		t.Fatalf("unexpected refund request %+v", req)
	}
	if result.RefundAmount == nil || *result.RefundAmount != 5000 {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(state.messages) != 1 || state.messages[0].Sender != domain.MessageSenderAdmin {
		t.Fatalf("expected confirming admin message, got %+v", state.messages)
	}
}

func TestProcessRefundPartialKeepsOrderStatus(t *testing.T) {
	svc, state := refundFixture(t, nil)
	partial := domain.IssueResolutionPartialRefund

	_, err := svc.Process(context.Background(), ProcessIssueCommand{IssueID: "iss_1", AdminID: "admin_1", RefundType: &partial})
	if err != nil {
		t.Fatalf("process partial refund: %v", err)
	}
	if state.issue.RefundAmount == nil || *state.issue.RefundAmount != 2000 {
		t.Fatalf("expected item total 2000 refunded, got %+v", state.issue.RefundAmount)
	}
	if state.order.Status != domain.OrderStatusDelivered {
		t.Fatalf("partial refund must not change order status, got %s", state.order.Status)
	}
	if state.payment.Status == domain.PaymentStatusRefunded {
		t.Fatal("partial refund must not mark payment fully refunded")
	}
	if state.payment.RefundedAt == nil {
		t.Fatal("expected refundedAt stamp on payment")
	}
}

func TestProcessRefundUnpaidAbortsWithoutMutation(t *testing.T) {
	svc, state := refundFixture(t, func(deps *IssueServiceDeps) {
		deps.Gateway = &stubGateway{
			resolveFn: func(_ context.Context, ref string) (payments.ResolvedPayment, error) {
				return payments.ResolvedPayment{IntentID: ref, Paid: false}, nil
			},
		}
	})

	_, err := svc.Process(context.Background(), ProcessIssueCommand{IssueID: "iss_1", AdminID: "admin_1"})
	if !errors.Is(err, ErrIssuePaymentUnpaid) {
		t.Fatalf("expected ErrIssuePaymentUnpaid, got %v", err)
	}
	if state.issueWrites != 0 || state.paymentWrites != 0 {
		t.Fatalf("expected no writes, got %d issue and %d payment writes", state.issueWrites, state.paymentWrites)
	}
	if state.issue.Status != domain.IssueStatusApprovedRefund {
		t.Fatalf("expected untouched status, got %s", state.issue.Status)
	}
}

func TestProcessRefundGatewayFailureRollsBack(t *testing.T) {
	svc, state := refundFixture(t, func(deps *IssueServiceDeps) {
		deps.Gateway = &stubGateway{
			resolveFn: func(_ context.Context, ref string) (payments.ResolvedPayment, error) {
				return payments.ResolvedPayment{IntentID: ref, Paid: true}, nil
			},
			refundFn: func(context.Context, payments.RefundRequest) (payments.RefundResult, error) {
				return payments.RefundResult{}, errors.New("card network unavailable")
			},
		}
	})

	_, err := svc.Process(context.Background(), ProcessIssueCommand{IssueID: "iss_1", AdminID: "admin_1"})
	if !errors.Is(err, ErrIssueGateway) {
		t.Fatalf("expected ErrIssueGateway, got %v", err)
	}
	if state.issue.Status != domain.IssueStatusApprovedRefund {
		t.Fatalf("expected rollback to approved_refund, got %s", state.issue.Status)
	}
	if state.paymentWrites != 0 {
		t.Fatal("payment must not be touched on gateway failure")
	}
	if len(state.messages) != 1 {
		t.Fatalf("expected exactly one failure message, got %d", len(state.messages))
	}
	if !strings.Contains(state.messages[0].Content, "card network unavailable") {
		t.Fatalf("expected failure detail in message, got %q", state.messages[0].Content)
	}
}

func TestProcessRefundAlreadyRefunded(t *testing.T) {
	svc, state := refundFixture(t, nil)
	ref := "re_0"
	state.payment.RefundRef = &ref

	_, err := svc.Process(context.Background(), ProcessIssueCommand{IssueID: "iss_1", AdminID: "admin_1"})
	if !errors.Is(err, ErrIssueAlreadyRefunded) {
		t.Fatalf("expected ErrIssueAlreadyRefunded, got %v", err)
	}
	if state.issueWrites != 0 {
		t.Fatal("expected no issue writes")
	}
}

func TestProcessRefundPaymentNotCompleted(t *testing.T) {
	svc, state := refundFixture(t, nil)
	state.payment.Status = domain.PaymentStatusPending

	_, err := svc.Process(context.Background(), ProcessIssueCommand{IssueID: "iss_1", AdminID: "admin_1"})
	if !errors.Is(err, ErrIssuePaymentNotCompleted) {
		t.Fatalf("expected ErrIssuePaymentNotCompleted, got %v", err)
	}
}

func TestProcessRefundFollowsReprintLineage(t *testing.T) {
	svc, state := refundFixture(t, func(deps *IssueServiceDeps) {
		// The issue sits on a reprint order that has no payment of its own;
		// the original order carries the refundable payment.
		deps.Issues = &stubIssueRepo{
			findFn: func(_ context.Context, issueID string) (domain.Issue, error) {
				resolved := domain.IssueResolutionFullRefund
				return domain.Issue{
					ID:           issueID,
					OrderItemID:  "itm_re",
					OrderID:      "ord_re",
					CustomerID:   "cus_1",
					Status:       domain.IssueStatusApprovedRefund,
					ResolvedType: &resolved,
				}, nil
			},
			updateFn: func(context.Context, domain.Issue) error { return nil },
		}
		deps.Items = &stubItemRepo{
			findFn: func(_ context.Context, itemID string) (domain.OrderItem, error) {
				return domain.OrderItem{
					ID:      itemID,
					OrderID: "ord_re",
					Total:   0,
					Lineage: &domain.ItemLineage{OriginalOrderID: "ord_1", OriginalItemID: "itm_1", IssueID: "iss_0"},
				}, nil
			},
		}
		deps.Orders = &stubOrderRepo{
			findFn: func(_ context.Context, orderID string) (domain.Order, error) {
				switch orderID {
				case "ord_re":
					return domain.Order{ID: orderID, CustomerID: "cus_1", Status: domain.OrderStatusDelivered, Currency: "GBP", TotalAmount: 0}, nil
				case "ord_1":
					return domain.Order{ID: orderID, CustomerID: "cus_1", Status: domain.OrderStatusDelivered, Currency: "GBP", TotalAmount: 5000}, nil
				}
				return domain.Order{}, notFoundErr("order", orderID)
			},
		}
	})

	_, err := svc.Process(context.Background(), ProcessIssueCommand{IssueID: "iss_1", AdminID: "admin_1"})
	if err != nil {
		t.Fatalf("process refund via lineage: %v", err)
	}
	if len(state.refundRequests) != 1 {
		t.Fatalf("expected one gateway call, got %d", len(state.refundRequests))
	}
	req := state.refundRequests[0]
	if req.IntentID != "pi_123" {
		t.Fatalf("expected original order's intent, got %s", req.IntentID)
	}
	if req.Amount == nil || *req.Amount != 5000 {
		t.Fatalf("expected original order total 5000, got %+v", req.Amount)
	}
}

func TestProcessRefundPartialOnReprintUsesOriginalItemTotal(t *testing.T) {
	svc, state := refundFixture(t, func(deps *IssueServiceDeps) {
		deps.Issues = &stubIssueRepo{
			findFn: func(_ context.Context, issueID string) (domain.Issue, error) {
				resolved := domain.IssueResolutionPartialRefund
				return domain.Issue{
					ID:           issueID,
					OrderItemID:  "itm_re",
					OrderID:      "ord_re",
					CustomerID:   "cus_1",
					Status:       domain.IssueStatusApprovedRefund,
					ResolvedType: &resolved,
				}, nil
			},
			updateFn: func(context.Context, domain.Issue) error { return nil },
		}
		// The reprint line is zero-priced; the paid line lives on the
		// original order.
		deps.Items = &stubItemRepo{
			findFn: func(_ context.Context, itemID string) (domain.OrderItem, error) {
				switch itemID {
				case "itm_re":
					return domain.OrderItem{
						ID:      itemID,
						OrderID: "ord_re",
						Total:   0,
						Lineage: &domain.ItemLineage{OriginalOrderID: "ord_1", OriginalItemID: "itm_1", IssueID: "iss_0"},
					}, nil
				case "itm_1":
					return domain.OrderItem{ID: itemID, OrderID: "ord_1", Total: 2000}, nil
				}
				return domain.OrderItem{}, notFoundErr("item", itemID)
			},
		}
		deps.Orders = &stubOrderRepo{
			findFn: func(_ context.Context, orderID string) (domain.Order, error) {
				switch orderID {
				case "ord_re":
					return domain.Order{ID: orderID, CustomerID: "cus_1", Status: domain.OrderStatusDelivered, Currency: "GBP", TotalAmount: 0}, nil
				case "ord_1":
					return domain.Order{ID: orderID, CustomerID: "cus_1", Status: domain.OrderStatusDelivered, Currency: "GBP", TotalAmount: 5000}, nil
				}
				return domain.Order{}, notFoundErr("order", orderID)
			},
		}
	})

	_, err := svc.Process(context.Background(), ProcessIssueCommand{IssueID: "iss_1", AdminID: "admin_1"})
	if err != nil {
		t.Fatalf("process partial refund via lineage: %v", err)
	}
	if len(state.refundRequests) != 1 {
		t.Fatalf("expected one gateway call, got %d", len(state.refundRequests))
	}
	req := state.refundRequests[0]
	if req.Amount == nil || *req.Amount != 2000 {
		t.Fatalf("expected original item total 2000, got %+v", req.Amount)
	}
}

func TestWithdrawIssue(t *testing.T) {
	ctx := context.Background()
	deleted := false
	messagesDeleted := false

	issues := &stubIssueRepo{
		findFn: func(_ context.Context, issueID string) (domain.Issue, error) {
			return domain.Issue{ID: issueID, CustomerID: "cus_1", Status: domain.IssueStatusAwaitingReview}, nil
		},
		deleteFn: func(context.Context, string) error {
			deleted = true
			return nil
		},
	}
	messages := &stubMessageRepo{
		deleteByIssueFn: func(context.Context, string) error {
			messagesDeleted = true
			return nil
		},
	}

	svc := newTestIssueService(t, IssueServiceDeps{Issues: issues, Messages: messages})

	if err := svc.Withdraw(ctx, WithdrawIssueCommand{IssueID: "iss_1", CustomerID: "cus_1"}); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !deleted || !messagesDeleted {
		t.Fatal("expected issue and messages deleted")
	}

	if err := svc.Withdraw(ctx, WithdrawIssueCommand{IssueID: "iss_1", CustomerID: "cus_2"}); !errors.Is(err, ErrIssueForbidden) {
		t.Fatalf("expected ErrIssueForbidden, got %v", err)
	}
}

func TestWithdrawBlockedAfterApproval(t *testing.T) {
	ctx := context.Background()
	deleted := false

	issues := &stubIssueRepo{
		findFn: func(_ context.Context, issueID string) (domain.Issue, error) {
			return domain.Issue{ID: issueID, CustomerID: "cus_1", Status: domain.IssueStatusApprovedReprint}, nil
		},
		deleteFn: func(context.Context, string) error {
			deleted = true
			return nil
		},
	}

	svc := newTestIssueService(t, IssueServiceDeps{Issues: issues})

	err := svc.Withdraw(ctx, WithdrawIssueCommand{IssueID: "iss_1", CustomerID: "cus_1"})
	if !errors.Is(err, ErrIssueConflict) {
		t.Fatalf("expected ErrIssueConflict, got %v", err)
	}
	if deleted {
		t.Fatal("issue row must remain untouched")
	}
}

func TestConcludeAndReopenGuards(t *testing.T) {
	ctx := context.Background()
	stored := domain.Issue{ID: "iss_1", Status: domain.IssueStatusCompleted}

	issues := &stubIssueRepo{
		findFn: func(context.Context, string) (domain.Issue, error) {
			return stored, nil
		},
		updateFn: func(_ context.Context, issue domain.Issue) error {
			stored = issue
			return nil
		},
	}

	svc := newTestIssueService(t, IssueServiceDeps{Issues: issues})

	issue, err := svc.Conclude(ctx, ConcludeIssueCommand{IssueID: "iss_1", AdminID: "admin_1", Reason: "handled offline"})
	if err != nil {
		t.Fatalf("conclude: %v", err)
	}
	if !issue.Conclusion.IsConcluded {
		t.Fatal("expected conclusion")
	}

	if _, err := svc.Conclude(ctx, ConcludeIssueCommand{IssueID: "iss_1", AdminID: "admin_1"}); !errors.Is(err, ErrIssueConflict) {
		t.Fatalf("expected ErrIssueConflict on double conclude, got %v", err)
	}

	issue, err = svc.Reopen(ctx, ReopenIssueCommand{IssueID: "iss_1", AdminID: "admin_1"})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if issue.Conclusion.IsConcluded {
		t.Fatal("expected conclusion lifted")
	}

	if _, err := svc.Reopen(ctx, ReopenIssueCommand{IssueID: "iss_1", AdminID: "admin_1"}); !errors.Is(err, ErrIssueConflict) {
		t.Fatalf("expected ErrIssueConflict on reopening open issue, got %v", err)
	}
}
