package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/oakmart/storefront-api/internal/domain"
	"github.com/oakmart/storefront-api/internal/payments"
	"github.com/oakmart/storefront-api/internal/repositories"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutQuoteNotFound indicates the quote does not exist.
	ErrCheckoutQuoteNotFound = errors.New("checkout: quote not found")
	// ErrCheckoutConflict indicates a concurrent modification prevented completing checkout.
	ErrCheckoutConflict = errors.New("checkout: conflict")
	// ErrCheckoutPaymentNotSettled indicates finalisation ran before the
	// payment reached a settled state.
	ErrCheckoutPaymentNotSettled = errors.New("checkout: payment not settled")
)

// PaymentLifecycle is the slice of payments.Manager the checkout service
// drives. The manager is built per attempt, so the service holds a factory
// rather than an instance.
type PaymentLifecycle interface {
	ConfirmAndAssociateWithOrder(ctx context.Context, quote *domain.Quote, order *domain.Order, checkout domain.CheckoutContext) (payments.ConfirmResult, error)
	ProcessAuthenticatedOrder(ctx context.Context, order *domain.Order, intent *payments.Intent) error
	LoadFromCache(ctx context.Context, cartID string) (*payments.Intent, error)
	LoadFromPayment(ctx context.Context, payment *domain.Payment) (*payments.Intent, error)
	Destroy(ctx context.Context, cartID string, intent *payments.Intent, cancelRemote bool) error
}

// PaymentLifecycleFactory builds a fresh lifecycle manager for one attempt.
type PaymentLifecycleFactory func() (PaymentLifecycle, error)

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Quotes        repositories.QuoteRepository
	Orders        repositories.OrderRepository
	IntentRecords repositories.IntentRecordRepository
	Payments      PaymentLifecycleFactory
	Events        PaymentEventPublisher
	// OrderNumbers reserves order increment ids. Defaults to ULID generation.
	OrderNumbers func() string
	Clock        func() time.Time
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	quotes        repositories.QuoteRepository
	orders        repositories.OrderRepository
	intentRecords repositories.IntentRecordRepository
	payments      PaymentLifecycleFactory
	events        PaymentEventPublisher
	orderNumbers  func() string
	now           func() time.Time
	logger        func(ctx context.Context, event string, fields map[string]any)
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Quotes == nil {
		return nil, errors.New("checkout service: quote repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment lifecycle factory is required")
	}

	orderNumbers := deps.OrderNumbers
	if orderNumbers == nil {
		orderNumbers = func() string { return ulid.Make().String() }
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		quotes:        deps.Quotes,
		orders:        deps.Orders,
		intentRecords: deps.IntentRecords,
		payments:      deps.Payments,
		events:        deps.Events,
		orderNumbers:  orderNumbers,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// PlaceOrder runs one checkout attempt end to end: reserve an order number,
// confirm the payment intent, finalise and persist the order. Attempts that
// need customer authentication return without persisting the order; the client
// completes the challenge and calls FinalizeAuthenticatedOrder.
func (s *checkoutService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlaceOrderResult, error) {
	quoteID := strings.TrimSpace(cmd.QuoteID)
	if quoteID == "" {
		return PlaceOrderResult{}, ErrCheckoutInvalidInput
	}

	payment := domain.NewPayment(cmd.PaymentData)

	// Recurring billing runs place their orders through the subscription
	// engine; the request only notifies us.
	if payment.AdditionalInformation(domain.PaymentInfoRecurringSubscription) == "1" {
		return PlaceOrderResult{Status: PlaceOrderRecurring}, nil
	}

	quote, err := s.quotes.FindByID(ctx, quoteID)
	if err != nil {
		return PlaceOrderResult{}, s.translateRepositoryError(err)
	}
	quote, err = s.ensureOrderNumber(ctx, quote)
	if err != nil {
		return PlaceOrderResult{}, err
	}

	order := buildOrder(quote, payment, s.now())

	manager, err := s.payments()
	if err != nil {
		return PlaceOrderResult{}, fmt.Errorf("checkout: build payment lifecycle: %w", err)
	}

	result, err := manager.ConfirmAndAssociateWithOrder(ctx, &quote, &order, cmd.Checkout)
	if err != nil {
		var authErr *payments.AuthenticationRequiredError
		if errors.As(err, &authErr) {
			s.logger(ctx, "checkout.authentication_required", map[string]any{
				"quote_id":           quote.ID,
				"order_increment_id": order.IncrementID,
				"intents":            len(authErr.ClientSecrets),
			})
			return PlaceOrderResult{
				Status:           PlaceOrderAuthenticationRequired,
				OrderIncrementID: order.IncrementID,
				ClientSecrets:    authErr.ClientSecrets,
			}, nil
		}
		return PlaceOrderResult{}, err
	}

	if result.Intent != nil {
		if err := manager.ProcessAuthenticatedOrder(ctx, &order, result.Intent); err != nil {
			return PlaceOrderResult{}, err
		}
	}
	if err := s.persistPlacedOrder(ctx, quote, order); err != nil {
		return PlaceOrderResult{}, err
	}
	s.publishOrderPlaced(ctx, quote, order, result.Intent)

	placed := PlaceOrderResult{
		Status:           PlaceOrderConfirmed,
		OrderIncrementID: order.IncrementID,
	}
	if result.Intent != nil {
		placed.PaymentIntentID = result.Intent.ID
	}
	if result.RedirectPath != "" {
		placed.Status = PlaceOrderRedirect
		placed.RedirectPath = result.RedirectPath
	}
	return placed, nil
}

// FinalizeAuthenticatedOrder completes an attempt that paused for customer
// authentication. The intent must be settled by now; anything else fails.
func (s *checkoutService) FinalizeAuthenticatedOrder(ctx context.Context, cmd FinalizeOrderCommand) (PlaceOrderResult, error) {
	quoteID := strings.TrimSpace(cmd.QuoteID)
	if quoteID == "" {
		return PlaceOrderResult{}, ErrCheckoutInvalidInput
	}

	quote, err := s.quotes.FindByID(ctx, quoteID)
	if err != nil {
		return PlaceOrderResult{}, s.translateRepositoryError(err)
	}
	if strings.TrimSpace(quote.ReservedOrderID) == "" {
		return PlaceOrderResult{}, ErrCheckoutInvalidInput
	}

	payment := domain.NewPayment(cmd.PaymentData)

	manager, err := s.payments()
	if err != nil {
		return PlaceOrderResult{}, fmt.Errorf("checkout: build payment lifecycle: %w", err)
	}

	intent, err := manager.LoadFromCache(ctx, quote.ID)
	if err != nil {
		return PlaceOrderResult{}, err
	}
	if intent == nil {
		intent, err = manager.LoadFromPayment(ctx, payment)
		if err != nil {
			return PlaceOrderResult{}, err
		}
	}
	if intent == nil {
		return PlaceOrderResult{}, payments.ErrIntentNotFound
	}
	if !intent.IsSuccessful() {
		s.logger(ctx, "checkout.finalize_unsettled", map[string]any{
			"quote_id":          quote.ID,
			"payment_intent_id": intent.ID,
			"status":            string(intent.Status),
		})
		return PlaceOrderResult{}, ErrCheckoutPaymentNotSettled
	}

	order := buildOrder(quote, payment, s.now())
	order.Payment.SetAdditionalInformation(domain.PaymentInfoAuthenticationPending, "")

	if err := manager.ProcessAuthenticatedOrder(ctx, &order, intent); err != nil {
		return PlaceOrderResult{}, err
	}
	if err := s.persistPlacedOrder(ctx, quote, order); err != nil {
		return PlaceOrderResult{}, err
	}
	if err := manager.Destroy(ctx, quote.ID, nil, false); err != nil {
		s.logger(ctx, "checkout.pointer_cleanup_failed", map[string]any{
			"quote_id": quote.ID, "error": err.Error(),
		})
	}
	s.publishOrderPlaced(ctx, quote, order, intent)

	return PlaceOrderResult{
		Status:           PlaceOrderConfirmed,
		OrderIncrementID: order.IncrementID,
		PaymentIntentID:  intent.ID,
	}, nil
}

// MarkAuthenticationFailed reacts to a provider webhook reporting a failed
// authentication: the intent-to-order record is dropped and the cart pointer
// cleared so the next attempt starts with a fresh intent.
func (s *checkoutService) MarkAuthenticationFailed(ctx context.Context, intentID string) error {
	id := strings.TrimSpace(intentID)
	if id == "" {
		return ErrCheckoutInvalidInput
	}
	if s.intentRecords == nil {
		return nil
	}

	record, err := s.intentRecords.FindByIntentID(ctx, id)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			// Unknown intent; nothing to clean up.
			return nil
		}
		return s.translateRepositoryError(err)
	}

	if record.QuoteID != "" {
		manager, err := s.payments()
		if err != nil {
			return fmt.Errorf("checkout: build payment lifecycle: %w", err)
		}
		if err := manager.Destroy(ctx, record.QuoteID, nil, false); err != nil {
			s.logger(ctx, "checkout.pointer_cleanup_failed", map[string]any{
				"quote_id": record.QuoteID, "error": err.Error(),
			})
		}
	}
	if err := s.intentRecords.DeleteByIntentID(ctx, id); err != nil {
		return s.translateRepositoryError(err)
	}

	s.publishEvent(ctx, PaymentEventMessage{
		Type:             PaymentEventAuthenticationFailed,
		OrderIncrementID: record.OrderIncrementID,
		QuoteID:          record.QuoteID,
		PaymentIntentID:  id,
		OccurredAt:       s.now(),
	})
	return nil
}

// ensureOrderNumber reserves an order increment id on the quote and persists
// the reservation so a retried attempt reuses the same number.
func (s *checkoutService) ensureOrderNumber(ctx context.Context, quote domain.Quote) (domain.Quote, error) {
	if strings.TrimSpace(quote.ReservedOrderID) != "" {
		return quote, nil
	}
	quote.ReservedOrderID = s.orderNumbers()
	saved, err := s.quotes.Save(ctx, quote)
	if err != nil {
		return domain.Quote{}, s.translateRepositoryError(err)
	}
	return saved, nil
}

func (s *checkoutService) persistPlacedOrder(ctx context.Context, quote domain.Quote, order domain.Order) error {
	if err := s.orders.Insert(ctx, order); err != nil {
		return s.translateRepositoryError(err)
	}
	return nil
}

func (s *checkoutService) publishOrderPlaced(ctx context.Context, quote domain.Quote, order domain.Order, intent *payments.Intent) {
	message := PaymentEventMessage{
		Type:             PaymentEventOrderPlaced,
		OrderIncrementID: order.IncrementID,
		QuoteID:          quote.ID,
		OccurredAt:       s.now(),
	}
	if intent != nil {
		message.PaymentIntentID = intent.ID
		message.Amount = intent.Amount
		message.Currency = intent.Currency
	}
	s.publishEvent(ctx, message)
}

func (s *checkoutService) publishEvent(ctx context.Context, message PaymentEventMessage) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishPaymentEvent(ctx, message); err != nil {
		s.logger(ctx, "checkout.event_publish_failed", map[string]any{
			"event_type": message.Type, "error": err.Error(),
		})
	}
}

func (s *checkoutService) translateRepositoryError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCheckoutQuoteNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCheckoutConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
		}
	}
	return err
}

// buildOrder snapshots the quote into an order aggregate carrying the payment bag.
func buildOrder(quote domain.Quote, payment *domain.Payment, now time.Time) domain.Order {
	order := domain.Order{
		IncrementID:      quote.ReservedOrderID,
		QuoteID:          quote.ID,
		CustomerID:       quote.CustomerID,
		CustomerEmail:    quote.CustomerEmail,
		CurrencyCode:     quote.CurrencyCode,
		BaseCurrencyCode: quote.BaseCurrencyCode,
		GrandTotal:       quote.GrandTotal,
		BaseGrandTotal:   quote.BaseGrandTotal,
		ShippingAmount:   quote.ShippingAmount,
		IsVirtual:        quote.IsVirtual,
		Payment:          payment,
		CanSendNewEmail:  true,
		CreatedAt:        now,
	}
	if quote.ShippingAddress != nil {
		addr := *quote.ShippingAddress
		order.ShippingAddress = &addr
	}
	for _, item := range quote.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ID:             item.ID,
			ProductID:      item.ProductID,
			ProductType:    item.ProductType,
			SKU:            item.SKU,
			Name:           item.Name,
			QtyOrdered:     item.Qty,
			Price:          item.Price,
			TaxAmount:      item.TaxAmount,
			DiscountAmount: item.DiscountAmount,
			Subscription:   item.Subscription,
		})
	}
	return order
}

var _ CheckoutService = (*checkoutService)(nil)
