package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/printfield/api/internal/domain"
)

func newTestMessageService(t *testing.T, deps IssueMessageServiceDeps) IssueMessageService {
	t.Helper()
	if deps.Issues == nil {
		deps.Issues = &stubIssueRepo{}
	}
	if deps.Messages == nil {
		deps.Messages = &stubMessageRepo{}
	}
	if deps.Clock == nil {
		deps.Clock = fixedClock(time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC))
	}
	if deps.IDGenerator == nil {
		deps.IDGenerator = sequentialIDs("msg")
	}
	svc, err := NewIssueMessageService(deps)
	if err != nil {
		t.Fatalf("new issue message service: %v", err)
	}
	return svc
}

func TestSendCustomerMessageRequeuesInfoRequested(t *testing.T) {
	ctx := context.Background()
	var updated *domain.Issue
	var inserted domain.IssueMessage

	issues := &stubIssueRepo{
		findFn: func(_ context.Context, issueID string) (domain.Issue, error) {
			return domain.Issue{ID: issueID, CustomerID: "cus_1", Status: domain.IssueStatusInfoRequested}, nil
		},
		updateFn: func(_ context.Context, issue domain.Issue) error {
			updated = &issue
			return nil
		},
	}
	messages := &stubMessageRepo{
		insertFn: func(_ context.Context, m domain.IssueMessage) error {
			inserted = m
			return nil
		},
	}

	svc := newTestMessageService(t, IssueMessageServiceDeps{Issues: issues, Messages: messages})

	message, err := svc.SendCustomerMessage(ctx, SendIssueMessageCommand{
		IssueID:  "iss_1",
		SenderID: "cus_1",
		Content:  "Here are the extra photos you asked for.",
	})
	if err != nil {
		t.Fatalf("send customer message: %v", err)
	}
	if updated == nil || updated.Status != domain.IssueStatusAwaitingReview {
		t.Fatalf("expected re-queue to awaiting_review, got %+v", updated)
	}
	if message.Sender != domain.MessageSenderCustomer || inserted.IssueID != "iss_1" {
		t.Fatalf("unexpected message %+v", message)
	}
}

func TestSendCustomerMessageDoesNotTouchOtherStatuses(t *testing.T) {
	ctx := context.Background()
	updates := 0

	issues := &stubIssueRepo{
		findFn: func(_ context.Context, issueID string) (domain.Issue, error) {
			return domain.Issue{ID: issueID, CustomerID: "cus_1", Status: domain.IssueStatusAwaitingReview}, nil
		},
		updateFn: func(context.Context, domain.Issue) error {
			updates++
			return nil
		},
	}

	svc := newTestMessageService(t, IssueMessageServiceDeps{Issues: issues})

	if _, err := svc.SendCustomerMessage(ctx, SendIssueMessageCommand{IssueID: "iss_1", SenderID: "cus_1", Content: "any update?"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if updates != 0 {
		t.Fatal("status must not change outside info_requested")
	}
}

func TestSendCustomerMessageBlockedWhenConcluded(t *testing.T) {
	ctx := context.Background()
	issues := &stubIssueRepo{
		findFn: func(_ context.Context, issueID string) (domain.Issue, error) {
			return domain.Issue{
				ID:         issueID,
				CustomerID: "cus_1",
				Status:     domain.IssueStatusRejected,
				Conclusion: domain.IssueConclusion{IsConcluded: true},
			}, nil
		},
	}

	svc := newTestMessageService(t, IssueMessageServiceDeps{Issues: issues})

	_, err := svc.SendCustomerMessage(ctx, SendIssueMessageCommand{IssueID: "iss_1", SenderID: "cus_1", Content: "hello?"})
	if !errors.Is(err, ErrMessageIssueClosed) {
		t.Fatalf("expected ErrMessageIssueClosed, got %v", err)
	}
}

func TestSendAdminMessageBlockedOnResolved(t *testing.T) {
	ctx := context.Background()
	for _, status := range []domain.IssueStatus{domain.IssueStatusCompleted, domain.IssueStatusClosed} {
		issues := &stubIssueRepo{
			findFn: func(_ context.Context, issueID string) (domain.Issue, error) {
				return domain.Issue{ID: issueID, Status: status}, nil
			},
		}
		svc := newTestMessageService(t, IssueMessageServiceDeps{Issues: issues})

		_, err := svc.SendAdminMessage(ctx, SendIssueMessageCommand{IssueID: "iss_1", SenderID: "admin_1", Content: "update"})
		if !errors.Is(err, ErrMessageIssueClosed) {
			t.Fatalf("status %s: expected ErrMessageIssueClosed, got %v", status, err)
		}
	}
}

func TestMessageContentSanitized(t *testing.T) {
	ctx := context.Background()
	var inserted domain.IssueMessage

	issues := &stubIssueRepo{
		findFn: func(_ context.Context, issueID string) (domain.Issue, error) {
			return domain.Issue{ID: issueID, CustomerID: "cus_1", Status: domain.IssueStatusAwaitingReview}, nil
		},
	}
	messages := &stubMessageRepo{
		insertFn: func(_ context.Context, m domain.IssueMessage) error {
			inserted = m
			return nil
		},
	}

	svc := newTestMessageService(t, IssueMessageServiceDeps{Issues: issues, Messages: messages})

	_, err := svc.SendCustomerMessage(ctx, SendIssueMessageCommand{
		IssueID:  "iss_1",
		SenderID: "cus_1",
		Content:  `broken print <script>alert("x")</script>`,
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if strings.Contains(inserted.Content, "<script>") {
		t.Fatalf("expected scripts stripped, got %q", inserted.Content)
	}
	if !strings.Contains(inserted.Content, "broken print") {
		t.Fatalf("expected text preserved, got %q", inserted.Content)
	}
}

func TestAppealResetsStatusOnce(t *testing.T) {
	ctx := context.Background()
	stored := domain.Issue{ID: "iss_1", CustomerID: "cus_1", Status: domain.IssueStatusRejected}
	reviewedAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	stored.ReviewedAt = &reviewedAt
	var appealMessage domain.IssueMessage

	issues := &stubIssueRepo{
		findFn: func(context.Context, string) (domain.Issue, error) {
			return stored, nil
		},
		updateFn: func(_ context.Context, issue domain.Issue) error {
			stored = issue
			return nil
		},
	}
	messages := &stubMessageRepo{
		insertFn: func(_ context.Context, m domain.IssueMessage) error {
			appealMessage = m
			return nil
		},
	}

	svc := newTestMessageService(t, IssueMessageServiceDeps{Issues: issues, Messages: messages})

	issue, err := svc.Appeal(ctx, AppealIssueCommand{IssueID: "iss_1", CustomerID: "cus_1", Reason: "the damage is clearly visible"})
	if err != nil {
		t.Fatalf("appeal: %v", err)
	}
	if issue.Status != domain.IssueStatusAwaitingReview {
		t.Fatalf("expected awaiting_review, got %s", issue.Status)
	}
	if issue.ReviewedAt != nil {
		t.Fatal("expected reviewedAt cleared")
	}
	if !strings.HasPrefix(appealMessage.Content, "**Appeal:**") {
		t.Fatalf("expected appeal prefix, got %q", appealMessage.Content)
	}

	// Rejected again without a final flag: a second appeal still succeeds.
	stored.Status = domain.IssueStatusRejected
	if _, err := svc.Appeal(ctx, AppealIssueCommand{IssueID: "iss_1", CustomerID: "cus_1", Reason: "please look again"}); err != nil {
		t.Fatalf("second appeal on non-final rejection: %v", err)
	}

	// Once the rejection is final the appeal is consumed for good.
	stored.Status = domain.IssueStatusRejected
	stored.RejectionFinal = true
	if _, err := svc.Appeal(ctx, AppealIssueCommand{IssueID: "iss_1", CustomerID: "cus_1", Reason: "one more try"}); !errors.Is(err, ErrAppealNotAllowed) {
		t.Fatalf("expected ErrAppealNotAllowed, got %v", err)
	}
}

func TestAppealGuards(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name  string
		issue domain.Issue
		want  error
	}{
		{
			name:  "not rejected",
			issue: domain.Issue{ID: "iss_1", CustomerID: "cus_1", Status: domain.IssueStatusAwaitingReview},
			want:  ErrAppealNotAllowed,
		},
		{
			name: "concluded",
			issue: domain.Issue{
				ID: "iss_1", CustomerID: "cus_1", Status: domain.IssueStatusRejected,
				Conclusion: domain.IssueConclusion{IsConcluded: true},
			},
			want: ErrAppealNotAllowed,
		},
		{
			name:  "wrong customer",
			issue: domain.Issue{ID: "iss_1", CustomerID: "cus_other", Status: domain.IssueStatusRejected},
			want:  ErrIssueForbidden,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			issues := &stubIssueRepo{
				findFn: func(context.Context, string) (domain.Issue, error) {
					return tc.issue, nil
				},
			}
			svc := newTestMessageService(t, IssueMessageServiceDeps{Issues: issues})

			_, err := svc.Appeal(ctx, AppealIssueCommand{IssueID: "iss_1", CustomerID: "cus_1", Reason: "please reconsider"})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestMarkMessagesRead(t *testing.T) {
	ctx := context.Background()
	var markedSender domain.MessageSender

	messages := &stubMessageRepo{
		markReadFn: func(_ context.Context, _ string, sender domain.MessageSender, _ time.Time) error {
			markedSender = sender
			return nil
		},
	}

	svc := newTestMessageService(t, IssueMessageServiceDeps{Messages: messages})

	if err := svc.MarkMessagesRead(ctx, "iss_1", domain.MessageSenderAdmin); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if markedSender != domain.MessageSenderAdmin {
		t.Fatalf("expected admin messages marked, got %s", markedSender)
	}

	if err := svc.MarkMessagesRead(ctx, "iss_1", domain.MessageSender("bot")); !errors.Is(err, ErrMessageInvalidInput) {
		t.Fatalf("expected ErrMessageInvalidInput, got %v", err)
	}
}
