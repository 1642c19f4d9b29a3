package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/printfield/api/internal/domain"
	pfirestore "github.com/printfield/api/internal/platform/firestore"
	"github.com/printfield/api/internal/repositories"
)

const ledgerCollection = "ledger_entries"

// LedgerRepository appends best-effort accounting entries.
type LedgerRepository struct {
	entries *pfirestore.BaseRepository[ledgerDocument]
}

// NewLedgerRepository constructs a Firestore-backed ledger repository.
func NewLedgerRepository(provider *pfirestore.Provider) (*LedgerRepository, error) {
	if provider == nil {
		return nil, errors.New("ledger repository requires firestore provider")
	}
	return &LedgerRepository{
		entries: pfirestore.NewBaseRepository[ledgerDocument](provider, ledgerCollection, nil, nil),
	}, nil
}

// Insert writes the ledger entry.
func (r *LedgerRepository) Insert(ctx context.Context, entry domain.LedgerEntry) error {
	if r == nil || r.entries == nil {
		return errors.New("ledger repository not initialised")
	}
	id := strings.TrimSpace(entry.ID)
	if id == "" {
		return errors.New("ledger repository: entry id is required")
	}
	_, err := r.entries.Set(ctx, id, newLedgerDocument(entry))
	return err
}

// List returns a page of entries newest first by occurrence time.
func (r *LedgerRepository) List(ctx context.Context, filter repositories.LedgerListFilter) (domain.CursorPage[domain.LedgerEntry], error) {
	if r == nil || r.entries == nil {
		return domain.CursorPage[domain.LedgerEntry]{}, errors.New("ledger repository not initialised")
	}

	cursor, err := decodeTimeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.LedgerEntry]{}, err
	}
	pageSize := pageSizeOrDefault(filter.Pagination.PageSize)

	docs, err := r.entries.Query(ctx, func(query firestore.Query) firestore.Query {
		if len(filter.Kind) > 0 {
			query = query.Where("kind", "in", statusStrings(filter.Kind))
		}
		if ref := strings.TrimSpace(filter.OrderRef); ref != "" {
			query = query.Where("orderRef", "==", ref)
		}
		if ref := strings.TrimSpace(filter.IssueRef); ref != "" {
			query = query.Where("issueRef", "==", ref)
		}
		if filter.DateRange.From != nil {
			query = query.Where("occurredAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			query = query.Where("occurredAt", "<=", filter.DateRange.To.UTC())
		}
		query = query.OrderBy("occurredAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if cursor != nil {
			query = query.StartAfter(cursor...)
		}
		return query.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.LedgerEntry]{}, err
	}

	page := domain.CursorPage[domain.LedgerEntry]{}
	for i, doc := range docs {
		if i == pageSize {
			last := page.Items[len(page.Items)-1]
			token, err := encodeTimeToken(last.OccurredAt, last.ID)
			if err != nil {
				return domain.CursorPage[domain.LedgerEntry]{}, err
			}
			page.NextPageToken = token
			break
		}
		page.Items = append(page.Items, doc.Data.toDomain(doc.ID))
	}
	return page, nil
}

type ledgerDocument struct {
	Kind        string    `firestore:"kind"`
	Category    string    `firestore:"category"`
	Amount      int64     `firestore:"amount"`
	Currency    string    `firestore:"currency"`
	Description string    `firestore:"description,omitempty"`
	OrderRef    *string   `firestore:"orderRef,omitempty"`
	IssueRef    *string   `firestore:"issueRef,omitempty"`
	OccurredAt  time.Time `firestore:"occurredAt"`
	CreatedAt   time.Time `firestore:"createdAt"`
}

func newLedgerDocument(entry domain.LedgerEntry) ledgerDocument {
	return ledgerDocument{
		Kind:        string(entry.Kind),
		Category:    entry.Category,
		Amount:      entry.Amount,
		Currency:    entry.Currency,
		Description: entry.Description,
		OrderRef:    cloneOptionalString(entry.OrderRef),
		IssueRef:    cloneOptionalString(entry.IssueRef),
		OccurredAt:  entry.OccurredAt.UTC(),
		CreatedAt:   entry.CreatedAt.UTC(),
	}
}

func (d ledgerDocument) toDomain(id string) domain.LedgerEntry {
	return domain.LedgerEntry{
		ID:          id,
		Kind:        domain.LedgerKind(d.Kind),
		Category:    d.Category,
		Amount:      d.Amount,
		Currency:    d.Currency,
		Description: d.Description,
		OrderRef:    cloneOptionalString(d.OrderRef),
		IssueRef:    cloneOptionalString(d.IssueRef),
		OccurredAt:  d.OccurredAt,
		CreatedAt:   d.CreatedAt,
	}
}

// Ensure interface compliance.
var _ repositories.LedgerRepository = (*LedgerRepository)(nil)
