package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/oakmart/storefront-api/internal/domain"
	"github.com/oakmart/storefront-api/internal/payments"
)

type fakeQuoteRepo struct {
	quotes  map[string]domain.Quote
	saved   []domain.Quote
	finds   int
	findErr error
}

func (f *fakeQuoteRepo) FindByID(_ context.Context, quoteID string) (domain.Quote, error) {
	f.finds++
	if f.findErr != nil {
		return domain.Quote{}, f.findErr
	}
	quote, ok := f.quotes[quoteID]
	if !ok {
		return domain.Quote{}, notFoundError{}
	}
	return quote, nil
}

func (f *fakeQuoteRepo) Save(_ context.Context, quote domain.Quote) (domain.Quote, error) {
	f.saved = append(f.saved, quote)
	if f.quotes == nil {
		f.quotes = map[string]domain.Quote{}
	}
	f.quotes[quote.ID] = quote
	return quote, nil
}

type fakeOrderRepo struct {
	inserted  []domain.Order
	insertErr error
}

func (f *fakeOrderRepo) Insert(_ context.Context, order domain.Order) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, order)
	return nil
}

func (f *fakeOrderRepo) Update(_ context.Context, order domain.Order) error { return nil }

func (f *fakeOrderRepo) FindByIncrementID(_ context.Context, incrementID string) (domain.Order, error) {
	for _, order := range f.inserted {
		if order.IncrementID == incrementID {
			return order, nil
		}
	}
	return domain.Order{}, notFoundError{}
}

type fakeIntentRecordRepo struct {
	records map[string]payments.IntentRecord
	deleted []string
}

func (f *fakeIntentRecordRepo) Save(_ context.Context, record payments.IntentRecord) error {
	if f.records == nil {
		f.records = map[string]payments.IntentRecord{}
	}
	f.records[record.IntentID] = record
	return nil
}

func (f *fakeIntentRecordRepo) FindByIntentID(_ context.Context, intentID string) (payments.IntentRecord, error) {
	record, ok := f.records[intentID]
	if !ok {
		return payments.IntentRecord{}, notFoundError{}
	}
	return record, nil
}

func (f *fakeIntentRecordRepo) DeleteByIntentID(_ context.Context, intentID string) error {
	f.deleted = append(f.deleted, intentID)
	delete(f.records, intentID)
	return nil
}

type notFoundError struct{}

func (notFoundError) Error() string       { return "not found" }
func (notFoundError) IsNotFound() bool    { return true }
func (notFoundError) IsConflict() bool    { return false }
func (notFoundError) IsUnavailable() bool { return false }

type fakeLifecycle struct {
	confirmResult payments.ConfirmResult
	confirmErr    error
	confirms      int

	processed  []*payments.Intent
	processErr error

	cacheIntent   *payments.Intent
	paymentIntent *payments.Intent

	destroyed []string
}

func (f *fakeLifecycle) ConfirmAndAssociateWithOrder(_ context.Context, _ *domain.Quote, order *domain.Order, _ domain.CheckoutContext) (payments.ConfirmResult, error) {
	f.confirms++
	if f.confirmErr != nil {
		return payments.ConfirmResult{}, f.confirmErr
	}
	if f.confirmResult.Intent != nil && order.Payment != nil {
		order.Payment.SetAdditionalInformation(domain.PaymentInfoIntentID, f.confirmResult.Intent.ID)
	}
	return f.confirmResult, nil
}

func (f *fakeLifecycle) ProcessAuthenticatedOrder(_ context.Context, order *domain.Order, intent *payments.Intent) error {
	if f.processErr != nil {
		return f.processErr
	}
	f.processed = append(f.processed, intent)
	if order.Payment != nil {
		order.Payment.TransactionID = intent.ID
	}
	return nil
}

func (f *fakeLifecycle) LoadFromCache(_ context.Context, _ string) (*payments.Intent, error) {
	return f.cacheIntent, nil
}

func (f *fakeLifecycle) LoadFromPayment(_ context.Context, _ *domain.Payment) (*payments.Intent, error) {
	return f.paymentIntent, nil
}

func (f *fakeLifecycle) Destroy(_ context.Context, cartID string, _ *payments.Intent, _ bool) error {
	f.destroyed = append(f.destroyed, cartID)
	return nil
}

type fakePublisher struct {
	messages   []PaymentEventMessage
	publishErr error
}

func (f *fakePublisher) PublishPaymentEvent(_ context.Context, message PaymentEventMessage) (string, error) {
	if f.publishErr != nil {
		return "", f.publishErr
	}
	f.messages = append(f.messages, message)
	return "msg-1", nil
}

type serviceHarness struct {
	quotes    *fakeQuoteRepo
	orders    *fakeOrderRepo
	records   *fakeIntentRecordRepo
	lifecycle *fakeLifecycle
	publisher *fakePublisher
}

func newServiceHarness() *serviceHarness {
	return &serviceHarness{
		quotes:    &fakeQuoteRepo{quotes: map[string]domain.Quote{}},
		orders:    &fakeOrderRepo{},
		records:   &fakeIntentRecordRepo{},
		lifecycle: &fakeLifecycle{},
		publisher: &fakePublisher{},
	}
}

func (h *serviceHarness) build(t *testing.T) CheckoutService {
	t.Helper()
	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Quotes:        h.quotes,
		Orders:        h.orders,
		IntentRecords: h.records,
		Payments: func() (PaymentLifecycle, error) {
			return h.lifecycle, nil
		},
		Events:       h.publisher,
		OrderNumbers: func() string { return "100000042" },
		Clock:        func() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}
	return svc
}

func sampleQuote() domain.Quote {
	return domain.Quote{
		ID:              "cart-7",
		ReservedOrderID: "100000007",
		CustomerEmail:   "jane@example.com",
		CurrencyCode:    "USD",
		GrandTotal:      50,
		ShippingAddress: &domain.Address{ID: "addr-1", FirstName: "Jane", LastName: "Doe"},
		Items: []domain.QuoteItem{
			{ID: "item-1", SKU: "WIDGET", Name: "Widget", Qty: 2, Price: 25},
		},
	}
}

func settledIntent() *payments.Intent {
	return &payments.Intent{
		ID:       "pi_settled",
		Status:   payments.StatusSucceeded,
		Amount:   5000,
		Currency: "usd",
	}
}

func TestPlaceOrderConfirmsAndPersists(t *testing.T) {
	h := newServiceHarness()
	h.quotes.quotes["cart-7"] = sampleQuote()
	h.lifecycle.confirmResult = payments.ConfirmResult{Intent: settledIntent()}
	svc := h.build(t)

	result, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{QuoteID: "cart-7"})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if result.Status != PlaceOrderConfirmed {
		t.Fatalf("status = %s, want confirmed", result.Status)
	}
	if result.OrderIncrementID != "100000007" {
		t.Fatalf("increment id = %s", result.OrderIncrementID)
	}
	if result.PaymentIntentID != "pi_settled" {
		t.Fatalf("intent id = %s", result.PaymentIntentID)
	}
	if len(h.orders.inserted) != 1 {
		t.Fatalf("inserted %d orders, want 1", len(h.orders.inserted))
	}
	order := h.orders.inserted[0]
	if order.IncrementID != "100000007" || order.QuoteID != "cart-7" {
		t.Fatalf("order keys = %s / %s", order.IncrementID, order.QuoteID)
	}
	if len(order.Items) != 1 || order.Items[0].QtyOrdered != 2 {
		t.Fatalf("order items not copied from quote: %+v", order.Items)
	}
	if len(h.lifecycle.processed) != 1 {
		t.Fatalf("ProcessAuthenticatedOrder called %d times", len(h.lifecycle.processed))
	}
	if len(h.publisher.messages) != 1 {
		t.Fatalf("published %d events, want 1", len(h.publisher.messages))
	}
	event := h.publisher.messages[0]
	if event.Type != PaymentEventOrderPlaced || event.PaymentIntentID != "pi_settled" || event.Amount != 5000 {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestPlaceOrderReservesOrderNumber(t *testing.T) {
	h := newServiceHarness()
	quote := sampleQuote()
	quote.ReservedOrderID = ""
	h.quotes.quotes["cart-7"] = quote
	h.lifecycle.confirmResult = payments.ConfirmResult{Intent: settledIntent()}
	svc := h.build(t)

	result, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{QuoteID: "cart-7"})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if result.OrderIncrementID != "100000042" {
		t.Fatalf("increment id = %s, want reserved 100000042", result.OrderIncrementID)
	}
	if len(h.quotes.saved) != 1 || h.quotes.saved[0].ReservedOrderID != "100000042" {
		t.Fatalf("reservation not persisted: %+v", h.quotes.saved)
	}
}

func TestPlaceOrderRecurringShortCircuit(t *testing.T) {
	h := newServiceHarness()
	svc := h.build(t)

	result, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		QuoteID:     "cart-7",
		PaymentData: map[string]string{domain.PaymentInfoRecurringSubscription: "1"},
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if result.Status != PlaceOrderRecurring {
		t.Fatalf("status = %s, want recurring", result.Status)
	}
	if h.quotes.finds != 0 {
		t.Fatalf("quote looked up %d times, want 0", h.quotes.finds)
	}
	if h.lifecycle.confirms != 0 {
		t.Fatalf("payment confirmed %d times, want 0", h.lifecycle.confirms)
	}
}

func TestPlaceOrderAuthenticationRequired(t *testing.T) {
	h := newServiceHarness()
	h.quotes.quotes["cart-7"] = sampleQuote()
	h.lifecycle.confirmErr = &payments.AuthenticationRequiredError{
		ClientSecrets: []string{"pi_x_secret_1", "pi_y_secret_2"},
	}
	svc := h.build(t)

	result, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{QuoteID: "cart-7"})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if result.Status != PlaceOrderAuthenticationRequired {
		t.Fatalf("status = %s, want authentication_required", result.Status)
	}
	if len(result.ClientSecrets) != 2 {
		t.Fatalf("client secrets = %v", result.ClientSecrets)
	}
	if len(h.orders.inserted) != 0 {
		t.Fatalf("order persisted before authentication completed")
	}
	if len(h.publisher.messages) != 0 {
		t.Fatalf("event published before authentication completed")
	}
}

func TestPlaceOrderPaymentErrorPassthrough(t *testing.T) {
	h := newServiceHarness()
	h.quotes.quotes["cart-7"] = sampleQuote()
	h.lifecycle.confirmErr = payments.NewPaymentError(errors.New("card_declined"))
	svc := h.build(t)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{QuoteID: "cart-7"})
	var paymentErr *payments.PaymentError
	if !errors.As(err, &paymentErr) {
		t.Fatalf("error = %v, want PaymentError", err)
	}
	if len(h.orders.inserted) != 0 {
		t.Fatalf("order persisted despite payment failure")
	}
}

func TestPlaceOrderSubscriptionOnly(t *testing.T) {
	h := newServiceHarness()
	h.quotes.quotes["cart-7"] = sampleQuote()
	h.lifecycle.confirmResult = payments.ConfirmResult{SubscriptionOnly: true}
	svc := h.build(t)

	result, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{QuoteID: "cart-7"})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if result.Status != PlaceOrderConfirmed {
		t.Fatalf("status = %s, want confirmed", result.Status)
	}
	if result.PaymentIntentID != "" {
		t.Fatalf("intent id = %s, want empty", result.PaymentIntentID)
	}
	if len(h.lifecycle.processed) != 0 {
		t.Fatalf("ProcessAuthenticatedOrder called for subscription-only order")
	}
	if len(h.orders.inserted) != 1 {
		t.Fatalf("order not persisted")
	}
}

func TestPlaceOrderMultishippingRedirect(t *testing.T) {
	h := newServiceHarness()
	h.quotes.quotes["cart-7"] = sampleQuote()
	h.lifecycle.confirmResult = payments.ConfirmResult{
		SubscriptionOnly: true,
		RedirectPath:     "/stripe/multishipping/authorize",
	}
	svc := h.build(t)

	result, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		QuoteID:  "cart-7",
		Checkout: domain.CheckoutContext{MultiShipping: true},
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if result.Status != PlaceOrderRedirect {
		t.Fatalf("status = %s, want redirect", result.Status)
	}
	if result.RedirectPath != "/stripe/multishipping/authorize" {
		t.Fatalf("redirect path = %s", result.RedirectPath)
	}
	if len(h.orders.inserted) != 1 {
		t.Fatalf("order not persisted before redirect")
	}
}

func TestPlaceOrderQuoteNotFound(t *testing.T) {
	h := newServiceHarness()
	svc := h.build(t)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{QuoteID: "missing"})
	if !errors.Is(err, ErrCheckoutQuoteNotFound) {
		t.Fatalf("error = %v, want ErrCheckoutQuoteNotFound", err)
	}
}

func TestFinalizeAuthenticatedOrder(t *testing.T) {
	h := newServiceHarness()
	h.quotes.quotes["cart-7"] = sampleQuote()
	h.lifecycle.cacheIntent = settledIntent()
	svc := h.build(t)

	result, err := svc.FinalizeAuthenticatedOrder(context.Background(), FinalizeOrderCommand{
		QuoteID: "cart-7",
		PaymentData: map[string]string{
			domain.PaymentInfoIntentID: "pi_settled",
		},
	})
	if err != nil {
		t.Fatalf("FinalizeAuthenticatedOrder: %v", err)
	}
	if result.Status != PlaceOrderConfirmed || result.PaymentIntentID != "pi_settled" {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(h.orders.inserted) != 1 {
		t.Fatalf("order not persisted")
	}
	if len(h.lifecycle.destroyed) != 1 || h.lifecycle.destroyed[0] != "cart-7" {
		t.Fatalf("pointer not cleared: %v", h.lifecycle.destroyed)
	}
	if len(h.publisher.messages) != 1 || h.publisher.messages[0].Type != PaymentEventOrderPlaced {
		t.Fatalf("unexpected events %+v", h.publisher.messages)
	}
}

func TestFinalizeFallsBackToPaymentIntent(t *testing.T) {
	h := newServiceHarness()
	h.quotes.quotes["cart-7"] = sampleQuote()
	h.lifecycle.paymentIntent = settledIntent()
	svc := h.build(t)

	result, err := svc.FinalizeAuthenticatedOrder(context.Background(), FinalizeOrderCommand{
		QuoteID:     "cart-7",
		PaymentData: map[string]string{domain.PaymentInfoIntentID: "pi_settled"},
	})
	if err != nil {
		t.Fatalf("FinalizeAuthenticatedOrder: %v", err)
	}
	if result.PaymentIntentID != "pi_settled" {
		t.Fatalf("intent id = %s", result.PaymentIntentID)
	}
}

func TestFinalizeRejectsUnsettledIntent(t *testing.T) {
	h := newServiceHarness()
	h.quotes.quotes["cart-7"] = sampleQuote()
	h.lifecycle.cacheIntent = &payments.Intent{
		ID:     "pi_pending",
		Status: payments.StatusRequiresAction,
	}
	svc := h.build(t)

	_, err := svc.FinalizeAuthenticatedOrder(context.Background(), FinalizeOrderCommand{QuoteID: "cart-7"})
	if !errors.Is(err, ErrCheckoutPaymentNotSettled) {
		t.Fatalf("error = %v, want ErrCheckoutPaymentNotSettled", err)
	}
	if len(h.orders.inserted) != 0 {
		t.Fatalf("order persisted for unsettled payment")
	}
}

func TestFinalizeMissingIntent(t *testing.T) {
	h := newServiceHarness()
	h.quotes.quotes["cart-7"] = sampleQuote()
	svc := h.build(t)

	_, err := svc.FinalizeAuthenticatedOrder(context.Background(), FinalizeOrderCommand{QuoteID: "cart-7"})
	if !errors.Is(err, payments.ErrIntentNotFound) {
		t.Fatalf("error = %v, want ErrIntentNotFound", err)
	}
}

func TestMarkAuthenticationFailed(t *testing.T) {
	h := newServiceHarness()
	h.records.records = map[string]payments.IntentRecord{
		"pi_failed": {
			IntentID:         "pi_failed",
			QuoteID:          "cart-7",
			OrderIncrementID: "100000007",
		},
	}
	svc := h.build(t)

	if err := svc.MarkAuthenticationFailed(context.Background(), "pi_failed"); err != nil {
		t.Fatalf("MarkAuthenticationFailed: %v", err)
	}
	if len(h.records.deleted) != 1 || h.records.deleted[0] != "pi_failed" {
		t.Fatalf("record not deleted: %v", h.records.deleted)
	}
	if len(h.lifecycle.destroyed) != 1 || h.lifecycle.destroyed[0] != "cart-7" {
		t.Fatalf("pointer not cleared: %v", h.lifecycle.destroyed)
	}
	if len(h.publisher.messages) != 1 {
		t.Fatalf("published %d events, want 1", len(h.publisher.messages))
	}
	event := h.publisher.messages[0]
	if event.Type != PaymentEventAuthenticationFailed || event.OrderIncrementID != "100000007" {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestMarkAuthenticationFailedUnknownIntent(t *testing.T) {
	h := newServiceHarness()
	svc := h.build(t)

	if err := svc.MarkAuthenticationFailed(context.Background(), "pi_unknown"); err != nil {
		t.Fatalf("MarkAuthenticationFailed: %v", err)
	}
	if len(h.records.deleted) != 0 || len(h.publisher.messages) != 0 {
		t.Fatalf("cleanup ran for unknown intent")
	}
}
