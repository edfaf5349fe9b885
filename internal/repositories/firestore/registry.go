package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/oakmart/storefront-api/internal/platform/firestore"
	"github.com/oakmart/storefront-api/internal/repositories"
)

// Registry assembles the Firestore-backed repository set behind the
// repositories.Registry interface.
type Registry struct {
	provider *pfirestore.Provider

	quotes        *QuoteRepository
	orders        *OrderRepository
	addresses     *AddressRepository
	intentRecords *IntentRecordRepository
	rollbacks     *RollbackRepository
	health        repositories.HealthRepository
}

// NewRegistry wires every repository over a shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	quotes, err := NewQuoteRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build quote repository: %w", err)
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build order repository: %w", err)
	}
	addresses, err := NewAddressRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build address repository: %w", err)
	}
	intentRecords, err := NewIntentRecordRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build intent record repository: %w", err)
	}
	rollbacks, err := NewRollbackRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build rollback repository: %w", err)
	}
	health, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{
			Name: "firestore",
			Check: func(ctx context.Context) error {
				_, err := provider.Client(ctx)
				return err
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build health repository: %w", err)
	}

	return &Registry{
		provider:      provider,
		quotes:        quotes,
		orders:        orders,
		addresses:     addresses,
		intentRecords: intentRecords,
		rollbacks:     rollbacks,
		health:        health,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

func (r *Registry) Quotes() repositories.QuoteRepository { return r.quotes }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) Addresses() repositories.AddressRepository { return r.addresses }

func (r *Registry) IntentRecords() repositories.IntentRecordRepository { return r.intentRecords }

func (r *Registry) Rollbacks() repositories.RollbackRepository { return r.rollbacks }

func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx groups repository operations in one Firestore transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		return fn(ctx)
	})
}

var _ repositories.Registry = (*Registry)(nil)
