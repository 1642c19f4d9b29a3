package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/printfield/api/internal/domain"
	"github.com/printfield/api/internal/repositories"
)

// IssueStatsServiceDeps bundles collaborators required to construct the stats service.
type IssueStatsServiceDeps struct {
	Issues   repositories.IssueRepository
	Messages repositories.IssueMessageRepository
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type issueStatsService struct {
	issues   repositories.IssueRepository
	messages repositories.IssueMessageRepository
	logger   func(context.Context, string, map[string]any)
}

// NewIssueStatsService wires dependencies into a concrete IssueStatsService implementation.
func NewIssueStatsService(deps IssueStatsServiceDeps) (IssueStatsService, error) {
	if deps.Issues == nil {
		return nil, errors.New("issue stats service: issue repository is required")
	}
	if deps.Messages == nil {
		return nil, errors.New("issue stats service: message repository is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &issueStatsService{
		issues:   deps.Issues,
		messages: deps.Messages,
		logger:   logger,
	}, nil
}

func (s *issueStatsService) CustomerStats(ctx context.Context, customerID string) (CustomerIssueStats, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return CustomerIssueStats{}, fmt.Errorf("%w: customer id is required", ErrIssueInvalidInput)
	}

	counts, err := s.issues.CountByStatus(ctx, repositories.IssueCountFilter{CustomerID: customerID})
	if err != nil {
		return CustomerIssueStats{}, err
	}

	stats := CustomerIssueStats{}
	for status, count := range counts {
		stats.Total += count
		if domain.IsPendingIssueStatus(status) {
			stats.Pending += count
		}
		if domain.IsResolvedIssueStatus(status) {
			stats.Resolved += count
		}
	}

	issueIDs, err := s.collectIssueIDs(ctx, customerID)
	if err != nil {
		return CustomerIssueStats{}, err
	}
	if len(issueIDs) > 0 {
		unread, err := s.messages.CountUnread(ctx, issueIDs, domain.MessageSenderAdmin)
		if err != nil {
			return CustomerIssueStats{}, err
		}
		stats.UnreadMessages = unread
	}

	return stats, nil
}

func (s *issueStatsService) AdminStats(ctx context.Context) (AdminIssueStats, error) {
	counts, err := s.issues.CountByStatus(ctx, repositories.IssueCountFilter{})
	if err != nil {
		return AdminIssueStats{}, err
	}

	byStatus := make(map[domain.IssueStatus]int, len(domain.AllIssueStatuses()))
	for _, status := range domain.AllIssueStatuses() {
		byStatus[status] = counts[status]
	}

	fault := domain.CarrierFaultYes
	carrierFault, err := s.issues.Count(ctx, repositories.IssueCountFilter{CarrierFault: &fault})
	if err != nil {
		return AdminIssueStats{}, err
	}

	return AdminIssueStats{
		ByStatus:     byStatus,
		CarrierFault: carrierFault,
	}, nil
}

func (s *issueStatsService) NeedsAttentionCount(ctx context.Context) (int, error) {
	concluded := false
	return s.issues.Count(ctx, repositories.IssueCountFilter{
		Status:    domain.NeedsAttentionIssueStatuses(),
		Concluded: &concluded,
	})
}

// collectIssueIDs pages through a customer's issues to scope the unread count.
func (s *issueStatsService) collectIssueIDs(ctx context.Context, customerID string) ([]string, error) {
	var ids []string
	filter := repositories.IssueListFilter{
		CustomerID: customerID,
		Pagination: domain.Pagination{PageSize: 100},
	}
	for {
		page, err := s.issues.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		for _, issue := range page.Items {
			ids = append(ids, issue.ID)
		}
		if page.NextPageToken == "" {
			return ids, nil
		}
		filter.Pagination.PageToken = page.NextPageToken
	}
}
