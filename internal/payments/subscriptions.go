package payments

import (
	"context"

	"github.com/oakmart/storefront-api/internal/domain"
)

// SubscriptionOutcome reports what the subscription engine did for an order.
type SubscriptionOutcome struct {
	// SubscriptionsTotal is the major-unit amount billed through subscriptions,
	// already removed from the one-off intent amount.
	SubscriptionsTotal float64
	// PISecrets maps subscription-created intent ids to their client secrets.
	// These intents may independently require customer authentication.
	PISecrets map[string]string
	// CreatedSubscriptions lists the provider subscription ids created.
	CreatedSubscriptions []string
	// CustomerID is the provider customer the subscriptions were attached to.
	CustomerID string
}

// SubscriptionAdapter is the boundary to the recurring-billing engine. The
// payment lifecycle never inspects subscription products directly; it asks the
// adapter what portion of the cart is recurring and lets it create the
// provider-side subscriptions at order time.
type SubscriptionAdapter interface {
	// HasSubscriptions reports whether any cart line is a recurring product.
	HasSubscriptions(items []domain.QuoteItem) bool
	// SubscriptionsTotal returns the major-unit recurring portion of the cart,
	// to be subtracted from the one-off charge before rounding.
	SubscriptionsTotal(ctx context.Context, quote *domain.Quote, order *domain.Order) (float64, error)
	// CreateSubscriptions provisions provider subscriptions for the order's
	// recurring lines and returns any intents they spawned.
	CreateSubscriptions(ctx context.Context, order *domain.Order, payment *domain.Payment) (SubscriptionOutcome, error)
}

// NopSubscriptionAdapter is the default adapter for merchants without
// recurring products.
type NopSubscriptionAdapter struct{}

func (NopSubscriptionAdapter) HasSubscriptions([]domain.QuoteItem) bool { return false }

func (NopSubscriptionAdapter) SubscriptionsTotal(context.Context, *domain.Quote, *domain.Order) (float64, error) {
	return 0, nil
}

func (NopSubscriptionAdapter) CreateSubscriptions(context.Context, *domain.Order, *domain.Payment) (SubscriptionOutcome, error) {
	return SubscriptionOutcome{}, nil
}
