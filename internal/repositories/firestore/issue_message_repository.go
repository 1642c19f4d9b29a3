package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	firestorepb "cloud.google.com/go/firestore/apiv1/firestorepb"

	domain "github.com/printfield/api/internal/domain"
	pfirestore "github.com/printfield/api/internal/platform/firestore"
	"github.com/printfield/api/internal/repositories"
)

const issueMessagesCollection = "issue_messages"

// Firestore cannot query for a missing field, so messages carry an explicit
// read flag alongside the readAt timestamp.

// IssueMessageRepository stores the threaded conversation attached to issues.
type IssueMessageRepository struct {
	provider *pfirestore.Provider
}

// NewIssueMessageRepository constructs a Firestore-backed message repository.
func NewIssueMessageRepository(provider *pfirestore.Provider) (*IssueMessageRepository, error) {
	if provider == nil {
		return nil, errors.New("issue message repository requires firestore provider")
	}
	return &IssueMessageRepository{provider: provider}, nil
}

// Insert appends a message to the issue thread.
func (r *IssueMessageRepository) Insert(ctx context.Context, message domain.IssueMessage) error {
	coll, err := r.collection(ctx)
	if err != nil {
		return err
	}
	id := strings.TrimSpace(message.ID)
	if id == "" {
		return errors.New("issue message repository: message id is required")
	}
	if strings.TrimSpace(message.IssueID) == "" {
		return errors.New("issue message repository: issue id is required")
	}
	if err := createDoc(ctx, coll.Doc(id), newIssueMessageDocument(message)); err != nil {
		return pfirestore.WrapError("issueMessages.insert", err)
	}
	return nil
}

// ListByIssue returns the full thread oldest first.
func (r *IssueMessageRepository) ListByIssue(ctx context.Context, issueID string) ([]domain.IssueMessage, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return nil, err
	}
	id := strings.TrimSpace(issueID)
	if id == "" {
		return nil, errors.New("issue message repository: issue id is required")
	}

	query := coll.Where("issueId", "==", id).OrderBy("createdAt", firestore.Asc)
	snaps, err := queryDocs(ctx, query)
	if err != nil {
		return nil, pfirestore.WrapError("issueMessages.listByIssue", err)
	}

	messages := make([]domain.IssueMessage, 0, len(snaps))
	for _, snap := range snaps {
		message, err := decodeIssueMessageSnapshot(snap)
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, nil
}

// MarkRead stamps readAt on every unread message of the given sender type.
func (r *IssueMessageRepository) MarkRead(ctx context.Context, issueID string, sender domain.MessageSender, at time.Time) error {
	coll, err := r.collection(ctx)
	if err != nil {
		return err
	}
	id := strings.TrimSpace(issueID)
	if id == "" {
		return errors.New("issue message repository: issue id is required")
	}

	query := coll.Where("issueId", "==", id).
		Where("sender", "==", string(sender)).
		Where("read", "==", false)
	snaps, err := queryDocs(ctx, query)
	if err != nil {
		return pfirestore.WrapError("issueMessages.markRead", err)
	}

	updates := []firestore.Update{
		{Path: "read", Value: true},
		{Path: "readAt", Value: at.UTC()},
	}
	for _, snap := range snaps {
		if err := updateDoc(ctx, snap.Ref, updates); err != nil {
			return pfirestore.WrapError("issueMessages.markRead", err)
		}
	}
	return nil
}

// CountUnread counts unread messages of the given sender type across the
// supplied issues. Issue IDs are chunked to satisfy the "in" operand limit.
func (r *IssueMessageRepository) CountUnread(ctx context.Context, issueIDs []string, sender domain.MessageSender) (int, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return 0, err
	}
	if len(issueIDs) == 0 {
		return 0, nil
	}

	total := 0
	for _, chunk := range chunkStrings(issueIDs, 10) {
		query := coll.Where("issueId", "in", chunk).
			Where("sender", "==", string(sender)).
			Where("read", "==", false)
		results, err := query.NewAggregationQuery().WithCount("unread").Get(ctx)
		if err != nil {
			return 0, pfirestore.WrapError("issueMessages.countUnread", err)
		}
		value, ok := results["unread"].(*firestorepb.Value)
		if !ok {
			return 0, fmt.Errorf("issue message repository: unexpected aggregation result %T", results["unread"])
		}
		total += int(value.GetIntegerValue())
	}
	return total, nil
}

// DeleteByIssue removes the whole thread of the issue.
func (r *IssueMessageRepository) DeleteByIssue(ctx context.Context, issueID string) error {
	coll, err := r.collection(ctx)
	if err != nil {
		return err
	}
	id := strings.TrimSpace(issueID)
	if id == "" {
		return errors.New("issue message repository: issue id is required")
	}

	snaps, err := queryDocs(ctx, coll.Where("issueId", "==", id))
	if err != nil {
		return pfirestore.WrapError("issueMessages.deleteByIssue", err)
	}
	for _, snap := range snaps {
		if err := deleteDoc(ctx, snap.Ref); err != nil {
			return pfirestore.WrapError("issueMessages.deleteByIssue", err)
		}
	}
	return nil
}

func (r *IssueMessageRepository) collection(ctx context.Context) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("issue message repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(issueMessagesCollection), nil
}

func decodeIssueMessageSnapshot(snap *firestore.DocumentSnapshot) (domain.IssueMessage, error) {
	var doc issueMessageDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.IssueMessage{}, fmt.Errorf("decode issue message %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

type issueMessageDocument struct {
	IssueID     string     `firestore:"issueId"`
	Sender      string     `firestore:"sender"`
	SenderID    string     `firestore:"senderId"`
	Content     string     `firestore:"content"`
	ImageURLs   []string   `firestore:"imageUrls,omitempty"`
	Read        bool       `firestore:"read"`
	ReadAt      *time.Time `firestore:"readAt,omitempty"`
	EmailSent   bool       `firestore:"emailSent"`
	EmailSentAt *time.Time `firestore:"emailSentAt,omitempty"`
	CreatedAt   time.Time  `firestore:"createdAt"`
}

func newIssueMessageDocument(message domain.IssueMessage) issueMessageDocument {
	return issueMessageDocument{
		IssueID:     message.IssueID,
		Sender:      string(message.Sender),
		SenderID:    message.SenderID,
		Content:     message.Content,
		ImageURLs:   append([]string(nil), message.ImageURLs...),
		Read:        message.ReadAt != nil,
		ReadAt:      cloneOptionalTime(message.ReadAt),
		EmailSent:   message.EmailSent,
		EmailSentAt: cloneOptionalTime(message.EmailSentAt),
		CreatedAt:   message.CreatedAt.UTC(),
	}
}

func (d issueMessageDocument) toDomain(id string) domain.IssueMessage {
	return domain.IssueMessage{
		ID:          id,
		IssueID:     d.IssueID,
		Sender:      domain.MessageSender(d.Sender),
		SenderID:    d.SenderID,
		Content:     d.Content,
		ImageURLs:   append([]string(nil), d.ImageURLs...),
		ReadAt:      cloneOptionalTime(d.ReadAt),
		EmailSent:   d.EmailSent,
		EmailSentAt: cloneOptionalTime(d.EmailSentAt),
		CreatedAt:   d.CreatedAt,
	}
}

// Ensure interface compliance.
var _ repositories.IssueMessageRepository = (*IssueMessageRepository)(nil)
