package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/printfield/api/internal/platform/firestore"
	"github.com/printfield/api/internal/repositories"
)

// Registry wires every Firestore-backed repository onto a shared provider and
// implements the unit-of-work boundary used by the service layer.
type Registry struct {
	provider *pfirestore.Provider

	orders   *OrderRepository
	items    *OrderItemRepository
	payments *PaymentRepository
	issues   *IssueRepository
	messages *IssueMessageRepository
	ledger   *LedgerRepository
	counters *CounterRepository
	health   repositories.HealthRepository
}

// NewRegistry constructs the full repository set.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	registry := &Registry{provider: provider}

	var err error
	if registry.orders, err = NewOrderRepository(provider); err != nil {
		return nil, err
	}
	if registry.items, err = NewOrderItemRepository(provider); err != nil {
		return nil, err
	}
	if registry.payments, err = NewPaymentRepository(provider); err != nil {
		return nil, err
	}
	if registry.issues, err = NewIssueRepository(provider); err != nil {
		return nil, err
	}
	if registry.messages, err = NewIssueMessageRepository(provider); err != nil {
		return nil, err
	}
	if registry.ledger, err = NewLedgerRepository(provider); err != nil {
		return nil, err
	}
	if registry.counters, err = NewCounterRepository(provider); err != nil {
		return nil, err
	}

	registry.health, err = repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{Name: "firestore", Check: registry.ping},
	})
	if err != nil {
		return nil, err
	}

	return registry, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// RunInTx executes fn inside a Firestore transaction. The transaction is
// carried on the context so repository mutations within fn join it. Nested
// calls reuse the ambient transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.provider == nil {
		return errors.New("registry not initialised")
	}
	if fn == nil {
		return errors.New("registry: transaction function is nil")
	}
	if _, ok := pfirestore.TransactionFromContext(ctx); ok {
		return fn(ctx)
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	return pfirestore.RunTransaction(ctx, client, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(pfirestore.WithTransaction(ctx, tx))
	})
}

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) OrderItems() repositories.OrderItemRepository { return r.items }

func (r *Registry) Payments() repositories.PaymentRepository { return r.payments }

func (r *Registry) Issues() repositories.IssueRepository { return r.issues }

func (r *Registry) IssueMessages() repositories.IssueMessageRepository { return r.messages }

func (r *Registry) Ledger() repositories.LedgerRepository { return r.ledger }

func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

func (r *Registry) Health() repositories.HealthRepository { return r.health }

// ping verifies connectivity with a cheap point read. A missing document is a
// healthy answer from the backend.
func (r *Registry) ping(ctx context.Context) error {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	if _, err := client.Collection(countersCollection).Doc("healthcheck").Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return err
	}
	return nil
}

// Ensure interface compliance.
var _ repositories.Registry = (*Registry)(nil)
