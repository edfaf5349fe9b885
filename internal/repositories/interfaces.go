package repositories

import (
	"context"

	domain "github.com/oakmart/storefront-api/internal/domain"
	"github.com/oakmart/storefront-api/internal/payments"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Quotes() QuoteRepository
	Orders() OrderRepository
	Addresses() AddressRepository
	IntentRecords() IntentRecordRepository
	Rollbacks() RollbackRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// QuoteRepository persists carts up to the moment they become orders.
type QuoteRepository interface {
	FindByID(ctx context.Context, quoteID string) (domain.Quote, error)
	// Save persists the quote, returning the stored copy. The reserved order
	// number must survive the round trip so retried checkouts keep it.
	Save(ctx context.Context, quote domain.Quote) (domain.Quote, error)
}

// OrderRepository persists placed orders and their payment annotations.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByIncrementID(ctx context.Context, incrementID string) (domain.Order, error)
}

// AddressRepository reloads persisted addresses referenced by quotes.
type AddressRepository interface {
	Get(ctx context.Context, addressID string) (domain.Address, error)
}

// IntentRecordRepository stores the association between payment intents and
// orders, written before confirmation so webhook processing can locate the
// order by intent id.
type IntentRecordRepository interface {
	Save(ctx context.Context, record payments.IntentRecord) error
	FindByIntentID(ctx context.Context, intentID string) (payments.IntentRecord, error)
	DeleteByIntentID(ctx context.Context, intentID string) error
}

// RollbackRepository stores pending payment compensation entries for the
// reconciliation job.
type RollbackRepository interface {
	Save(ctx context.Context, record payments.RollbackRecord) error
	ListPending(ctx context.Context, limit int) ([]payments.RollbackRecord, error)
	Delete(ctx context.Context, id string) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
