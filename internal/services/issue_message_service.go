package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/printfield/api/internal/domain"
	"github.com/printfield/api/internal/repositories"
)

const appealPrefix = "**Appeal:** "

var (
	// ErrMessageInvalidInput signals the caller provided invalid data.
	ErrMessageInvalidInput = errors.New("issue message: invalid input")
	// ErrMessageIssueClosed indicates the issue no longer accepts messages.
	ErrMessageIssueClosed = errors.New("issue message: issue closed for messages")
	// ErrAppealNotAllowed indicates the issue is not in an appealable state.
	ErrAppealNotAllowed = errors.New("issue message: appeal not allowed")
)

// Message content is user supplied and rendered in both dashboards; strip
// every HTML construct before persisting.
var messageSanitizer = bluemonday.StrictPolicy()

// IssueMessageServiceDeps bundles collaborators required to construct the message service.
type IssueMessageServiceDeps struct {
	Issues      repositories.IssueRepository
	Messages    repositories.IssueMessageRepository
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type issueMessageService struct {
	issues     repositories.IssueRepository
	messages   repositories.IssueMessageRepository
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewIssueMessageService wires dependencies into a concrete IssueMessageService implementation.
func NewIssueMessageService(deps IssueMessageServiceDeps) (IssueMessageService, error) {
	if deps.Issues == nil {
		return nil, errors.New("issue message service: issue repository is required")
	}
	if deps.Messages == nil {
		return nil, errors.New("issue message service: message repository is required")
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

	return &issueMessageService{
		issues:     deps.Issues,
		messages:   deps.Messages,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *issueMessageService) SendCustomerMessage(ctx context.Context, cmd SendIssueMessageCommand) (IssueMessage, error) {
	issue, content, err := s.prepare(ctx, cmd)
	if err != nil {
		return IssueMessage{}, err
	}
	if issue.CustomerID != strings.TrimSpace(cmd.SenderID) {
		return IssueMessage{}, fmt.Errorf("%w: issue %s", ErrIssueForbidden, issue.ID)
	}
	if issue.Conclusion.IsConcluded {
		return IssueMessage{}, fmt.Errorf("%w: issue is concluded", ErrMessageIssueClosed)
	}

	now := s.clock()
	message := s.buildMessage(issue.ID, domain.MessageSenderCustomer, cmd.SenderID, content, cmd.ImageURLs, now)

	// A customer reply to an information request re-queues the issue for
	// review in the same write.
	requeue := issue.Status == domain.IssueStatusInfoRequested
	if requeue {
		issue.Status = domain.IssueStatusAwaitingReview
		issue.UpdatedAt = now
	}

	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		if requeue {
			if err := s.issues.Update(txCtx, issue); err != nil {
				return err
			}
		}
		return s.messages.Insert(txCtx, message)
	})
	if err != nil {
		return IssueMessage{}, s.mapRepositoryError(err)
	}

	if requeue {
		s.logger(ctx, "issue.requeued_for_review", map[string]any{"issueId": issue.ID})
	}

	return message, nil
}

func (s *issueMessageService) SendAdminMessage(ctx context.Context, cmd SendIssueMessageCommand) (IssueMessage, error) {
	issue, content, err := s.prepare(ctx, cmd)
	if err != nil {
		return IssueMessage{}, err
	}
	if issue.Status == domain.IssueStatusCompleted || issue.Status == domain.IssueStatusClosed {
		return IssueMessage{}, fmt.Errorf("%w: issue is %s", ErrMessageIssueClosed, issue.Status)
	}

	now := s.clock()
	message := s.buildMessage(issue.ID, domain.MessageSenderAdmin, cmd.SenderID, content, cmd.ImageURLs, now)

	if err := s.messages.Insert(ctx, message); err != nil {
		return IssueMessage{}, s.mapRepositoryError(err)
	}
	return message, nil
}

func (s *issueMessageService) Appeal(ctx context.Context, cmd AppealIssueCommand) (Issue, error) {
	issueID := strings.TrimSpace(cmd.IssueID)
	customerID := strings.TrimSpace(cmd.CustomerID)
	reason := strings.TrimSpace(cmd.Reason)
	if issueID == "" || customerID == "" {
		return Issue{}, fmt.Errorf("%w: issue id and customer id are required", ErrMessageInvalidInput)
	}
	if reason == "" {
		return Issue{}, fmt.Errorf("%w: an appeal reason is required", ErrMessageInvalidInput)
	}

	issue, err := s.issues.FindByID(ctx, issueID)
	if err != nil {
		return Issue{}, s.mapRepositoryError(err)
	}
	if issue.CustomerID != customerID {
		return Issue{}, fmt.Errorf("%w: issue %s", ErrIssueForbidden, issueID)
	}
	if issue.Status != domain.IssueStatusRejected {
		return Issue{}, fmt.Errorf("%w: only rejected issues can be appealed", ErrAppealNotAllowed)
	}
	if issue.Conclusion.IsConcluded {
		return Issue{}, fmt.Errorf("%w: issue is concluded", ErrAppealNotAllowed)
	}
	if issue.RejectionFinal {
		return Issue{}, fmt.Errorf("%w: the rejection is final", ErrAppealNotAllowed)
	}

	now := s.clock()
	message := s.buildMessage(issueID, domain.MessageSenderCustomer, customerID,
		appealPrefix+sanitizeMessageContent(reason), cmd.ImageURLs, now)

	issue.Status = domain.IssueStatusAwaitingReview
	issue.ReviewedAt = nil
	issue.UpdatedAt = now

	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.issues.Update(txCtx, issue); err != nil {
			return err
		}
		return s.messages.Insert(txCtx, message)
	})
	if err != nil {
		return Issue{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "issue.appealed", map[string]any{"issueId": issueID})
	return issue, nil
}

func (s *issueMessageService) ListMessages(ctx context.Context, issueID string) ([]IssueMessage, error) {
	issueID = strings.TrimSpace(issueID)
	if issueID == "" {
		return nil, fmt.Errorf("%w: issue id is required", ErrMessageInvalidInput)
	}

	messages, err := s.messages.ListByIssue(ctx, issueID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return messages, nil
}

func (s *issueMessageService) MarkMessagesRead(ctx context.Context, issueID string, sender MessageSender) error {
	issueID = strings.TrimSpace(issueID)
	if issueID == "" {
		return fmt.Errorf("%w: issue id is required", ErrMessageInvalidInput)
	}
	switch sender {
	case domain.MessageSenderCustomer, domain.MessageSenderAdmin:
	default:
		return fmt.Errorf("%w: unknown sender type %q", ErrMessageInvalidInput, sender)
	}

	if err := s.messages.MarkRead(ctx, issueID, sender, s.clock()); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *issueMessageService) prepare(ctx context.Context, cmd SendIssueMessageCommand) (Issue, string, error) {
	issueID := strings.TrimSpace(cmd.IssueID)
	senderID := strings.TrimSpace(cmd.SenderID)
	if issueID == "" || senderID == "" {
		return Issue{}, "", fmt.Errorf("%w: issue id and sender id are required", ErrMessageInvalidInput)
	}

	content := sanitizeMessageContent(cmd.Content)
	if content == "" {
		return Issue{}, "", fmt.Errorf("%w: message content is required", ErrMessageInvalidInput)
	}

	issue, err := s.issues.FindByID(ctx, issueID)
	if err != nil {
		return Issue{}, "", s.mapRepositoryError(err)
	}
	return issue, content, nil
}

func (s *issueMessageService) buildMessage(issueID string, sender MessageSender, senderID, content string, imageURLs []string, now time.Time) domain.IssueMessage {
	return domain.IssueMessage{
		ID:        issueMessageIDPrefix + s.newID(),
		IssueID:   issueID,
		Sender:    sender,
		SenderID:  strings.TrimSpace(senderID),
		Content:   content,
		ImageURLs: imageURLs,
		CreatedAt: now,
	}
}

func (s *issueMessageService) mapRepositoryError(err error) error {
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
			return fmt.Errorf("issue message: repository unavailable: %w", err)
		}
	}

	return err
}

func sanitizeMessageContent(content string) string {
	return strings.TrimSpace(messageSanitizer.Sanitize(content))
}
