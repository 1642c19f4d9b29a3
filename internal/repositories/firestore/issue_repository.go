package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	firestorepb "cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/printfield/api/internal/domain"
	pfirestore "github.com/printfield/api/internal/platform/firestore"
	"github.com/printfield/api/internal/repositories"
)

const issuesCollection = "issues"

// IssueRepository persists issues and serves the aggregate queries behind the
// customer and back-office dashboards.
type IssueRepository struct {
	provider *pfirestore.Provider
}

// NewIssueRepository constructs a Firestore-backed issue repository.
func NewIssueRepository(provider *pfirestore.Provider) (*IssueRepository, error) {
	if provider == nil {
		return nil, errors.New("issue repository requires firestore provider")
	}
	return &IssueRepository{provider: provider}, nil
}

// Insert creates the issue document.
func (r *IssueRepository) Insert(ctx context.Context, issue domain.Issue) error {
	coll, err := r.collection(ctx)
	if err != nil {
		return err
	}
	id := strings.TrimSpace(issue.ID)
	if id == "" {
		return errors.New("issue repository: issue id is required")
	}
	if err := createDoc(ctx, coll.Doc(id), newIssueDocument(issue)); err != nil {
		return pfirestore.WrapError("issues.insert", err)
	}
	return nil
}

// Update overwrites the issue document with the provided state.
func (r *IssueRepository) Update(ctx context.Context, issue domain.Issue) error {
	coll, err := r.collection(ctx)
	if err != nil {
		return err
	}
	id := strings.TrimSpace(issue.ID)
	if id == "" {
		return errors.New("issue repository: issue id is required")
	}
	if err := setDoc(ctx, coll.Doc(id), newIssueDocument(issue)); err != nil {
		return pfirestore.WrapError("issues.update", err)
	}
	return nil
}

// Delete removes the issue document.
func (r *IssueRepository) Delete(ctx context.Context, issueID string) error {
	coll, err := r.collection(ctx)
	if err != nil {
		return err
	}
	id := strings.TrimSpace(issueID)
	if id == "" {
		return errors.New("issue repository: issue id is required")
	}
	if err := deleteDoc(ctx, coll.Doc(id)); err != nil {
		return pfirestore.WrapError("issues.delete", err)
	}
	return nil
}

// FindByID fetches a single issue.
func (r *IssueRepository) FindByID(ctx context.Context, issueID string) (domain.Issue, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.Issue{}, err
	}
	id := strings.TrimSpace(issueID)
	if id == "" {
		return domain.Issue{}, errors.New("issue repository: issue id is required")
	}
	snap, err := getDoc(ctx, coll.Doc(id))
	if err != nil {
		return domain.Issue{}, pfirestore.WrapError("issues.get", err)
	}
	return decodeIssueSnapshot(snap)
}

// FindByOrderItem returns the most recent issue filed against the item. A
// missing record is reported as not found.
func (r *IssueRepository) FindByOrderItem(ctx context.Context, orderItemID string) (domain.Issue, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.Issue{}, err
	}
	id := strings.TrimSpace(orderItemID)
	if id == "" {
		return domain.Issue{}, errors.New("issue repository: order item id is required")
	}

	query := coll.Where("orderItemId", "==", id).OrderBy("createdAt", firestore.Desc).Limit(1)
	snaps, err := queryDocs(ctx, query)
	if err != nil {
		return domain.Issue{}, pfirestore.WrapError("issues.findByOrderItem", err)
	}
	if len(snaps) == 0 {
		return domain.Issue{}, pfirestore.WrapError("issues.findByOrderItem",
			status.Errorf(codes.NotFound, "no issue for order item %s", id))
	}
	return decodeIssueSnapshot(snaps[0])
}

// List returns a page of issues newest first.
func (r *IssueRepository) List(ctx context.Context, filter repositories.IssueListFilter) (domain.CursorPage[domain.Issue], error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.CursorPage[domain.Issue]{}, err
	}

	query := applyIssueFilters(coll.Query, filter.CustomerID, filter.Status, filter.Concluded, filter.CarrierFault)
	if orderID := strings.TrimSpace(filter.OrderID); orderID != "" {
		query = query.Where("orderId", "==", orderID)
	}
	if filter.CreatedAfter != nil {
		query = query.Where("createdAt", ">=", filter.CreatedAfter.UTC())
	}
	if filter.CreatedBefore != nil {
		query = query.Where("createdAt", "<=", filter.CreatedBefore.UTC())
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)

	cursor, err := decodeTimeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Issue]{}, err
	}
	if cursor != nil {
		query = query.StartAfter(cursor...)
	}

	pageSize := pageSizeOrDefault(filter.Pagination.PageSize)
	query = query.Limit(pageSize + 1)

	snaps, err := queryDocs(ctx, query)
	if err != nil {
		return domain.CursorPage[domain.Issue]{}, pfirestore.WrapError("issues.list", err)
	}

	page := domain.CursorPage[domain.Issue]{}
	for i, snap := range snaps {
		if i == pageSize {
			last := page.Items[len(page.Items)-1]
			token, err := encodeTimeToken(last.CreatedAt, last.ID)
			if err != nil {
				return domain.CursorPage[domain.Issue]{}, err
			}
			page.NextPageToken = token
			break
		}
		issue, err := decodeIssueSnapshot(snap)
		if err != nil {
			return domain.CursorPage[domain.Issue]{}, err
		}
		page.Items = append(page.Items, issue)
	}
	return page, nil
}

// Count returns the number of issues matching the filter using a server-side
// aggregation so dashboards never page through the collection.
func (r *IssueRepository) Count(ctx context.Context, filter repositories.IssueCountFilter) (int, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return 0, err
	}

	query := applyIssueFilters(coll.Query, filter.CustomerID, filter.Status, filter.Concluded, filter.CarrierFault)
	results, err := query.NewAggregationQuery().WithCount("total").Get(ctx)
	if err != nil {
		return 0, pfirestore.WrapError("issues.count", err)
	}
	value, ok := results["total"].(*firestorepb.Value)
	if !ok {
		return 0, fmt.Errorf("issue repository: unexpected aggregation result %T", results["total"])
	}
	return int(value.GetIntegerValue()), nil
}

// CountByStatus tallies matching issues per status. Only the status field is
// fetched from Firestore.
func (r *IssueRepository) CountByStatus(ctx context.Context, filter repositories.IssueCountFilter) (map[domain.IssueStatus]int, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return nil, err
	}

	query := applyIssueFilters(coll.Query, filter.CustomerID, filter.Status, filter.Concluded, filter.CarrierFault)
	snaps, err := queryDocs(ctx, query.Select("status"))
	if err != nil {
		return nil, pfirestore.WrapError("issues.countByStatus", err)
	}

	counts := make(map[domain.IssueStatus]int)
	for _, snap := range snaps {
		raw, err := snap.DataAt("status")
		if err != nil {
			return nil, pfirestore.WrapError("issues.countByStatus", err)
		}
		if value, ok := raw.(string); ok {
			counts[domain.IssueStatus(value)]++
		}
	}
	return counts, nil
}

func applyIssueFilters(query firestore.Query, customerID string, statuses []domain.IssueStatus, concluded *bool, carrierFault *domain.CarrierFault) firestore.Query {
	if customer := strings.TrimSpace(customerID); customer != "" {
		query = query.Where("customerId", "==", customer)
	}
	if len(statuses) > 0 {
		query = query.Where("status", "in", statusStrings(statuses))
	}
	if concluded != nil {
		query = query.Where("conclusion.isConcluded", "==", *concluded)
	}
	if carrierFault != nil {
		query = query.Where("carrierFault", "==", string(*carrierFault))
	}
	return query
}

func (r *IssueRepository) collection(ctx context.Context) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("issue repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(issuesCollection), nil
}

func decodeIssueSnapshot(snap *firestore.DocumentSnapshot) (domain.Issue, error) {
	var doc issueDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Issue{}, fmt.Errorf("decode issue %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

type issueDocument struct {
	OrderItemID     string                  `firestore:"orderItemId"`
	OrderID         string                  `firestore:"orderId"`
	CustomerID      string                  `firestore:"customerId"`
	Reason          string                  `firestore:"reason"`
	Description     string                  `firestore:"description,omitempty"`
	ImageURLs       []string                `firestore:"imageUrls,omitempty"`
	Status          string                  `firestore:"status"`
	ResolvedType    *string                 `firestore:"resolvedType,omitempty"`
	RejectionReason *string                 `firestore:"rejectionReason,omitempty"`
	RejectionFinal  bool                    `firestore:"rejectionFinal"`
	CarrierFault    string                  `firestore:"carrierFault"`
	ReprintOrderID  *string                 `firestore:"reprintOrderId,omitempty"`
	ReprintItemID   *string                 `firestore:"reprintItemId,omitempty"`
	RefundAmount    *int64                  `firestore:"refundAmount,omitempty"`
	RefundRef       *string                 `firestore:"refundRef,omitempty"`
	Conclusion      issueConclusionDocument `firestore:"conclusion"`
	OriginalIssueID *string                 `firestore:"originalIssueId,omitempty"`
	ReviewedAt      *time.Time              `firestore:"reviewedAt,omitempty"`
	ProcessedAt     *time.Time              `firestore:"processedAt,omitempty"`
	CreatedAt       time.Time               `firestore:"createdAt"`
	UpdatedAt       time.Time               `firestore:"updatedAt"`
}

type issueConclusionDocument struct {
	IsConcluded bool       `firestore:"isConcluded"`
	At          *time.Time `firestore:"at,omitempty"`
	By          *string    `firestore:"by,omitempty"`
	Reason      *string    `firestore:"reason,omitempty"`
}

func newIssueDocument(issue domain.Issue) issueDocument {
	doc := issueDocument{
		OrderItemID:     issue.OrderItemID,
		OrderID:         issue.OrderID,
		CustomerID:      issue.CustomerID,
		Reason:          issue.Reason,
		Description:     issue.Description,
		ImageURLs:       append([]string(nil), issue.ImageURLs...),
		Status:          string(issue.Status),
		RejectionReason: cloneOptionalString(issue.RejectionReason),
		RejectionFinal:  issue.RejectionFinal,
		CarrierFault:    string(issue.CarrierFault),
		ReprintOrderID:  cloneOptionalString(issue.ReprintOrderID),
		ReprintItemID:   cloneOptionalString(issue.ReprintItemID),
		RefundAmount:    cloneOptionalInt64(issue.RefundAmount),
		RefundRef:       cloneOptionalString(issue.RefundRef),
		Conclusion: issueConclusionDocument{
			IsConcluded: issue.Conclusion.IsConcluded,
			At:          cloneOptionalTime(issue.Conclusion.At),
			By:          cloneOptionalString(issue.Conclusion.By),
			Reason:      cloneOptionalString(issue.Conclusion.Reason),
		},
		OriginalIssueID: cloneOptionalString(issue.OriginalIssueID),
		ReviewedAt:      cloneOptionalTime(issue.ReviewedAt),
		ProcessedAt:     cloneOptionalTime(issue.ProcessedAt),
		CreatedAt:       issue.CreatedAt.UTC(),
		UpdatedAt:       issue.UpdatedAt.UTC(),
	}
	if issue.ResolvedType != nil {
		resolved := string(*issue.ResolvedType)
		doc.ResolvedType = &resolved
	}
	return doc
}

func (d issueDocument) toDomain(id string) domain.Issue {
	issue := domain.Issue{
		ID:              id,
		OrderItemID:     d.OrderItemID,
		OrderID:         d.OrderID,
		CustomerID:      d.CustomerID,
		Reason:          d.Reason,
		Description:     d.Description,
		ImageURLs:       append([]string(nil), d.ImageURLs...),
		Status:          domain.IssueStatus(d.Status),
		RejectionReason: cloneOptionalString(d.RejectionReason),
		RejectionFinal:  d.RejectionFinal,
		CarrierFault:    domain.CarrierFault(d.CarrierFault),
		ReprintOrderID:  cloneOptionalString(d.ReprintOrderID),
		ReprintItemID:   cloneOptionalString(d.ReprintItemID),
		RefundAmount:    cloneOptionalInt64(d.RefundAmount),
		RefundRef:       cloneOptionalString(d.RefundRef),
		Conclusion: domain.IssueConclusion{
			IsConcluded: d.Conclusion.IsConcluded,
			At:          cloneOptionalTime(d.Conclusion.At),
			By:          cloneOptionalString(d.Conclusion.By),
			Reason:      cloneOptionalString(d.Conclusion.Reason),
		},
		OriginalIssueID: cloneOptionalString(d.OriginalIssueID),
		ReviewedAt:      cloneOptionalTime(d.ReviewedAt),
		ProcessedAt:     cloneOptionalTime(d.ProcessedAt),
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
	if d.ResolvedType != nil {
		resolved := domain.IssueResolution(*d.ResolvedType)
		issue.ResolvedType = &resolved
	}
	return issue
}

// Ensure interface compliance.
var _ repositories.IssueRepository = (*IssueRepository)(nil)
