package services

import (
	"context"
	"time"

	domain "github.com/oakmart/storefront-api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Quote              = domain.Quote
	Order              = domain.Order
	Address            = domain.Address
	Payment            = domain.Payment
	CheckoutContext    = domain.CheckoutContext
	SystemHealthReport = domain.SystemHealthReport
)

// PlaceOrderStatus describes how a checkout attempt concluded.
type PlaceOrderStatus string

const (
	// PlaceOrderConfirmed means the order is placed and its payment settled.
	PlaceOrderConfirmed PlaceOrderStatus = "confirmed"
	// PlaceOrderAuthenticationRequired means the customer must complete a
	// card challenge before the order can be finalised.
	PlaceOrderAuthenticationRequired PlaceOrderStatus = "authentication_required"
	// PlaceOrderRedirect means the order is placed and the customer must visit
	// a dedicated page to authenticate subscription payments.
	PlaceOrderRedirect PlaceOrderStatus = "redirect"
	// PlaceOrderRecurring means a recurring billing run placed the order and
	// no payment work remains for this request.
	PlaceOrderRecurring PlaceOrderStatus = "recurring"
)

// PlaceOrderCommand carries a checkout attempt into the service.
type PlaceOrderCommand struct {
	QuoteID     string
	Checkout    CheckoutContext
	PaymentData map[string]string
}

// FinalizeOrderCommand resumes checkout after the customer authenticated.
type FinalizeOrderCommand struct {
	QuoteID     string
	Checkout    CheckoutContext
	PaymentData map[string]string
}

// PlaceOrderResult is the outcome of a checkout attempt.
type PlaceOrderResult struct {
	Status           PlaceOrderStatus
	OrderIncrementID string
	PaymentIntentID  string
	// ClientSecrets lists the intents awaiting authentication when Status is
	// PlaceOrderAuthenticationRequired.
	ClientSecrets []string
	RedirectPath  string
}

// CheckoutService coordinates order placement around the payment intent lifecycle.
type CheckoutService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlaceOrderResult, error)
	FinalizeAuthenticatedOrder(ctx context.Context, cmd FinalizeOrderCommand) (PlaceOrderResult, error)
	MarkAuthenticationFailed(ctx context.Context, intentID string) error
}

// SystemService aggregates utility endpoints such as health checks.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// PaymentEventMessage is the payload published when a payment reaches a
// terminal state.
type PaymentEventMessage struct {
	Type             string    `json:"type"`
	OrderIncrementID string    `json:"orderIncrementId,omitempty"`
	QuoteID          string    `json:"quoteId,omitempty"`
	PaymentIntentID  string    `json:"paymentIntentId,omitempty"`
	Amount           int64     `json:"amount,omitempty"`
	Currency         string    `json:"currency,omitempty"`
	OccurredAt       time.Time `json:"occurredAt"`
}

// Payment event types published by the checkout service.
const (
	PaymentEventOrderPlaced          = "checkout.order_placed"
	PaymentEventAuthenticationFailed = "checkout.authentication_failed"
)

// PaymentEventPublisher fans payment lifecycle events out to downstream
// consumers (fulfilment, notifications). Implementations return the broker's
// message id.
type PaymentEventPublisher interface {
	PublishPaymentEvent(ctx context.Context, message PaymentEventMessage) (string, error)
}
