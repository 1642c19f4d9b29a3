package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/printfield/api/internal/platform/firestore"
	"github.com/printfield/api/internal/platform/pagination"
)

// Mutation helpers consult the context for an ambient transaction so the same
// repository code serves standalone calls and Registry.RunInTx blocks alike.

func createDoc(ctx context.Context, ref *firestore.DocumentRef, data any) error {
	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		return tx.Create(ref, data)
	}
	_, err := ref.Create(ctx, data)
	return err
}

func setDoc(ctx context.Context, ref *firestore.DocumentRef, data any) error {
	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		return tx.Set(ref, data)
	}
	_, err := ref.Set(ctx, data)
	return err
}

func updateDoc(ctx context.Context, ref *firestore.DocumentRef, updates []firestore.Update) error {
	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		return tx.Update(ref, updates)
	}
	_, err := ref.Update(ctx, updates)
	return err
}

func deleteDoc(ctx context.Context, ref *firestore.DocumentRef) error {
	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		return tx.Delete(ref)
	}
	_, err := ref.Delete(ctx)
	return err
}

func getDoc(ctx context.Context, ref *firestore.DocumentRef) (*firestore.DocumentSnapshot, error) {
	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		return tx.Get(ref)
	}
	return ref.Get(ctx)
}

func queryDocs(ctx context.Context, query firestore.Query) ([]*firestore.DocumentSnapshot, error) {
	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		return tx.Documents(query).GetAll()
	}
	iter := query.Documents(ctx)
	defer iter.Stop()
	return iter.GetAll()
}

// List queries order by a timestamp field descending with the document ID as a
// tie-breaker; page tokens carry both so cursors survive equal timestamps.

func encodeTimeToken(ts time.Time, id string) (string, error) {
	return pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{ts.UTC().Format(time.RFC3339Nano), id},
	})
}

func decodeTimeToken(token string) ([]any, error) {
	cursor, err := pagination.DecodeToken(token)
	if err != nil {
		return nil, err
	}
	if len(cursor.StartAfter) == 0 {
		return nil, nil
	}
	if len(cursor.StartAfter) != 2 {
		return nil, fmt.Errorf("%w: unexpected cursor shape", pagination.ErrInvalidPageToken)
	}
	raw, ok := cursor.StartAfter[0].(string)
	if !ok {
		return nil, fmt.Errorf("%w: cursor timestamp must be a string", pagination.ErrInvalidPageToken)
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: cursor timestamp is not RFC3339", pagination.ErrInvalidPageToken)
	}
	id, ok := cursor.StartAfter[1].(string)
	if !ok {
		return nil, fmt.Errorf("%w: cursor id must be a string", pagination.ErrInvalidPageToken)
	}
	return []any{ts, id}, nil
}

func pageSizeOrDefault(size int) int {
	if size <= 0 {
		return pagination.DefaultPageSize
	}
	return size
}

func cloneOptionalString(value *string) *string {
	if value == nil {
		return nil
	}
	cloned := *value
	return &cloned
}

func cloneOptionalTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	cloned := value.UTC()
	return &cloned
}

func cloneOptionalInt64(value *int64) *int64 {
	if value == nil {
		return nil
	}
	cloned := *value
	return &cloned
}

func cloneMetadata(values map[string]any) map[string]any {
	if len(values) == 0 {
		return nil
	}
	cloned := make(map[string]any, len(values))
	for key, value := range values {
		cloned[key] = value
	}
	return cloned
}

// chunkStrings splits values for Firestore "in" queries, which accept at most
// ten operands per clause.
func chunkStrings(values []string, size int) [][]string {
	if size <= 0 || len(values) == 0 {
		return nil
	}
	chunks := make([][]string, 0, (len(values)+size-1)/size)
	for start := 0; start < len(values); start += size {
		end := start + size
		if end > len(values) {
			end = len(values)
		}
		chunks = append(chunks, values[start:end])
	}
	return chunks
}
