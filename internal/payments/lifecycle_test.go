package payments

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/oakmart/storefront-api/internal/domain"
	"github.com/oakmart/storefront-api/internal/platform/intentstore"
)

type fakeIntentClient struct {
	intents map[string]*Intent

	creates  int
	updates  int
	confirms int
	cancels  int

	confirmErr    error
	confirmStatus IntentStatus
	lastConfirm   ConfirmParams
}

func newFakeIntentClient() *fakeIntentClient {
	return &fakeIntentClient{
		intents:       make(map[string]*Intent),
		confirmStatus: StatusSucceeded,
	}
}

func (f *fakeIntentClient) seed(intent *Intent) *Intent {
	f.intents[intent.ID] = intent
	return intent
}

func (f *fakeIntentClient) Create(_ context.Context, params Params) (*Intent, error) {
	f.creates++
	intent := &Intent{
		ID:                 fmt.Sprintf("pi_%d", f.creates),
		Status:             StatusRequiresConfirmation,
		CaptureMethod:      params.CaptureMethod,
		Amount:             params.Amount,
		Currency:           params.Currency,
		ClientSecret:       fmt.Sprintf("pi_%d_secret", f.creates),
		Description:        params.Description,
		PaymentMethodTypes: params.PaymentMethodTypes,
		CustomerID:         params.CustomerID,
		PaymentMethodID:    params.PaymentMethodID,
		Metadata:           params.Metadata,
		Shipping:           params.Shipping,
		Level3:             params.Level3,
	}
	f.intents[intent.ID] = intent
	return intent, nil
}

func (f *fakeIntentClient) Retrieve(_ context.Context, id string) (*Intent, error) {
	intent, ok := f.intents[id]
	if !ok {
		return nil, errors.New("no such payment_intent: " + id)
	}
	return intent, nil
}

func (f *fakeIntentClient) Update(_ context.Context, id string, params UpdateParams) (*Intent, error) {
	f.updates++
	intent, ok := f.intents[id]
	if !ok {
		return nil, errors.New("no such payment_intent: " + id)
	}
	if params.Amount != nil {
		intent.Amount = *params.Amount
	}
	if params.Currency != nil {
		intent.Currency = *params.Currency
	}
	if params.Description != nil {
		intent.Description = *params.Description
	}
	if len(params.Metadata) > 0 {
		if intent.Metadata == nil {
			intent.Metadata = make(map[string]string)
		}
		for k, v := range params.Metadata {
			intent.Metadata[k] = v
		}
	}
	if params.Shipping != nil {
		intent.Shipping = params.Shipping
	} else if params.ClearShipping {
		intent.Shipping = nil
	}
	if params.Level3 != nil {
		intent.Level3 = params.Level3
	}
	return intent, nil
}

func (f *fakeIntentClient) Confirm(_ context.Context, id string, params ConfirmParams) (*Intent, error) {
	f.confirms++
	f.lastConfirm = params
	intent, ok := f.intents[id]
	if !ok {
		return nil, errors.New("no such payment_intent: " + id)
	}
	if f.confirmErr != nil {
		intent.Charges = append(intent.Charges, Charge{ID: "ch_failed", Amount: intent.Amount, Captured: false})
		return nil, f.confirmErr
	}
	intent.Status = f.confirmStatus
	captured := f.confirmStatus == StatusSucceeded
	if captured || f.confirmStatus == StatusRequiresCapture {
		intent.Charges = append(intent.Charges, Charge{ID: "ch_1", Amount: intent.Amount, Captured: captured})
	}
	return intent, nil
}

func (f *fakeIntentClient) Cancel(_ context.Context, id string) (*Intent, error) {
	f.cancels++
	intent, ok := f.intents[id]
	if !ok {
		return nil, errors.New("no such payment_intent: " + id)
	}
	intent.Status = StatusCanceled
	return intent, nil
}

type fakeRollbackStore struct {
	records []RollbackRecord
}

func (f *fakeRollbackStore) Save(_ context.Context, record RollbackRecord) error {
	f.records = append(f.records, record)
	return nil
}

type fakeRecordStore struct {
	records []IntentRecord
}

func (f *fakeRecordStore) SaveIntentRecord(_ context.Context, record IntentRecord) error {
	f.records = append(f.records, record)
	return nil
}

type managerHarness struct {
	client   *fakeIntentClient
	pointers *intentstore.MemoryStore
	rollback *fakeRollbackStore
	records  *fakeRecordStore
	subs     *fakeSubscriptions
	cfg      ManagerConfig
}

func (h *managerHarness) build(t *testing.T) *Manager {
	t.Helper()
	builderDeps := ParamBuilderDeps{}
	var subs SubscriptionAdapter
	if h.subs != nil {
		subs = h.subs
		builderDeps.Subscriptions = h.subs
	}
	builder, err := NewParamBuilder(builderDeps)
	if err != nil {
		t.Fatalf("NewParamBuilder: %v", err)
	}
	recorder, err := NewRollbackRecorder(RollbackRecorderDeps{Store: h.rollback})
	if err != nil {
		t.Fatalf("NewRollbackRecorder: %v", err)
	}
	manager, err := NewManager(ManagerDeps{
		Client:        h.client,
		Pointers:      h.pointers,
		Params:        builder,
		Subscriptions: subs,
		Rollback:      recorder,
		Records:       h.records,
		Config:        h.cfg,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return manager
}

func newHarness() *managerHarness {
	return &managerHarness{
		client:   newFakeIntentClient(),
		pointers: intentstore.NewMemoryStore(),
		rollback: &fakeRollbackStore{},
		records:  &fakeRecordStore{},
	}
}

func TestCreateReusesLiveIntentAcrossAttempts(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	params := baselineParams()
	params.CaptureMethod = CaptureMethodAutomatic

	first, err := h.build(t).Create(ctx, "cart-1", params)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// A fresh manager simulates the next request for the same cart.
	second, err := h.build(t).Create(ctx, "cart-1", params)
	if err != nil {
		t.Fatalf("Create (second attempt): %v", err)
	}
	if h.client.creates != 1 {
		t.Fatalf("remote creates = %d, want 1", h.client.creates)
	}
	if first.ID != second.ID {
		t.Fatalf("intent ids diverged: %s vs %s", first.ID, second.ID)
	}
}

func TestCreateMemoisesWithinAttempt(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	manager := h.build(t)
	params := baselineParams()
	params.CaptureMethod = CaptureMethodAutomatic

	if _, err := manager.Create(ctx, "cart-1", params); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := manager.LoadFromCache(ctx, "cart-1"); err != nil {
		t.Fatalf("LoadFromCache: %v", err)
	}
	// Create already memoised the intent; no retrieve should have hit the fake
	// since the fake counts only creates, verify via pointer reuse instead.
	if h.client.creates != 1 {
		t.Fatalf("remote creates = %d, want 1", h.client.creates)
	}
}

func TestCreateReplacesCanceledIntent(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	stale := h.client.seed(&Intent{ID: "pi_stale", Status: StatusCanceled, Amount: 5000, Currency: "usd"})
	if err := h.pointers.Put(ctx, intentstore.Pointer{CartID: "cart-1", IntentID: stale.ID}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	params := baselineParams()
	params.CaptureMethod = CaptureMethodAutomatic
	intent, err := h.build(t).Create(ctx, "cart-1", params)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if intent.ID == stale.ID {
		t.Fatal("canceled intent was reused")
	}
	if h.client.cancels != 0 {
		t.Fatal("already-canceled intent must not be canceled again")
	}
}

func TestCreateReplacesIntentOnAmountDriftDuringAuthentication(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	stale := h.client.seed(&Intent{
		ID: "pi_stale", Status: StatusRequiresAction,
		Amount: 1000, Currency: "usd",
	})
	if err := h.pointers.Put(ctx, intentstore.Pointer{CartID: "cart-1", IntentID: stale.ID}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	params := baselineParams()
	params.CaptureMethod = CaptureMethodAutomatic
	intent, err := h.build(t).Create(ctx, "cart-1", params)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if intent.ID == stale.ID {
		t.Fatal("amount-drifted intent was reused")
	}
	if h.client.cancels != 1 {
		t.Fatalf("cancels = %d, want 1 (stale intent abandoned)", h.client.cancels)
	}
}

func TestCreateReplacesIntentAfterAuthenticationFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	stale := h.client.seed(&Intent{
		ID: "pi_stale", Status: StatusRequiresConfirmation,
		Amount: 5000, Currency: "usd",
		LastPaymentError: &IntentError{Code: ErrorCodeAuthenticationFailure},
	})
	if err := h.pointers.Put(ctx, intentstore.Pointer{CartID: "cart-1", IntentID: stale.ID}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	params := baselineParams()
	params.CaptureMethod = CaptureMethodAutomatic
	intent, err := h.build(t).Create(ctx, "cart-1", params)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if intent.ID == stale.ID {
		t.Fatal("intent with failed authentication was reused")
	}
}

func TestCreateSkipsZeroAmount(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	cached := h.client.seed(&Intent{
		ID: "pi_live", Status: StatusRequiresConfirmation,
		Amount: 5000, Currency: "usd",
	})
	if err := h.pointers.Put(ctx, intentstore.Pointer{CartID: "cart-1", IntentID: cached.ID}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	params := baselineParams()
	params.Amount = 0
	intent, err := h.build(t).Create(ctx, "cart-1", params)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if intent != nil {
		t.Fatalf("intent = %+v, want nil for a zero amount", intent)
	}
	if h.client.creates != 0 {
		t.Fatalf("remote creates = %d, want 0", h.client.creates)
	}
	if h.client.cancels != 0 {
		t.Fatal("cached intent must not be canceled by a zero-amount attempt")
	}
	if _, err := h.pointers.Get(ctx, "cart-1"); err != nil {
		t.Fatal("cart pointer must survive a zero-amount attempt")
	}
}

func TestUpdateFromSkipsIdenticalParams(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	intent := h.client.seed(baselineIntent())

	manager := h.build(t)
	if _, err := manager.UpdateFrom(ctx, "cart-1", intent, baselineParams()); err != nil {
		t.Fatalf("UpdateFrom: %v", err)
	}
	if h.client.updates != 0 {
		t.Fatalf("updates = %d, want 0", h.client.updates)
	}
}

func TestUpdateFromNeverTouchesSettledIntent(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	intent := h.client.seed(baselineIntent())
	intent.Status = StatusSucceeded

	params := baselineParams()
	params.Amount = 9999
	manager := h.build(t)
	if _, err := manager.UpdateFrom(ctx, "cart-1", intent, params); err != nil {
		t.Fatalf("UpdateFrom: %v", err)
	}
	if h.client.updates != 0 {
		t.Fatal("settled intent must not be updated")
	}
}

func placedOrder() (*domain.Quote, *domain.Order) {
	quote := testQuote()
	order := &domain.Order{
		IncrementID:   "100000123",
		QuoteID:       quote.ID,
		CustomerEmail: quote.CustomerEmail,
		CurrencyCode:  quote.CurrencyCode,
		GrandTotal:    quote.GrandTotal,
		Payment:       domain.NewPayment(nil),
		Items: []domain.OrderItem{
			{SKU: "WIDGET", Name: "Widget", QtyOrdered: 2, Price: 25},
		},
	}
	return quote, order
}

func TestConfirmAndAssociateSucceeds(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	quote, order := placedOrder()

	result, err := h.build(t).ConfirmAndAssociateWithOrder(ctx, quote, order, domain.CheckoutContext{Area: domain.AreaStorefront})
	if err != nil {
		t.Fatalf("ConfirmAndAssociateWithOrder: %v", err)
	}
	if result.Intent == nil || result.Intent.Status != StatusSucceeded {
		t.Fatalf("result = %+v, want succeeded intent", result)
	}
	if got := order.Payment.AdditionalInformation(domain.PaymentInfoIntentID); got != result.Intent.ID {
		t.Fatalf("payment bag intent id = %q", got)
	}
	if len(h.records.records) != 1 {
		t.Fatalf("intent records = %d, want 1", len(h.records.records))
	}
	record := h.records.records[0]
	if record.OrderIncrementID != "100000123" || record.QuoteID != quote.ID {
		t.Fatalf("record = %+v", record)
	}
	// The captured charge leaves a refund-rollback trail.
	if len(h.rollback.records) != 1 || h.rollback.records[0].Type != RollbackCharge {
		t.Fatalf("rollback records = %+v", h.rollback.records)
	}
	if _, err := h.pointers.Get(ctx, quote.ID); !errors.Is(err, intentstore.ErrNotFound) {
		t.Fatal("cart pointer must be dropped after settlement")
	}
}

func TestConfirmFailureMasksProviderErrorAndPreparesRollback(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.client.confirmErr = errors.New("Your card was declined.")
	quote, order := placedOrder()

	_, err := h.build(t).ConfirmAndAssociateWithOrder(ctx, quote, order, domain.CheckoutContext{Area: domain.AreaStorefront})
	var paymentErr *PaymentError
	if !errors.As(err, &paymentErr) {
		t.Fatalf("error = %v, want *PaymentError", err)
	}
	if paymentErr.Error() != "Your card was declined." {
		t.Fatalf("message = %q", paymentErr.Error())
	}
	if len(h.rollback.records) != 1 || h.rollback.records[0].Type != RollbackAuthorization {
		t.Fatalf("rollback records = %+v, want one authorization entry", h.rollback.records)
	}
}

func TestConfirmAttachesTokenWhenIntentLacksPaymentMethod(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	seeded := h.client.seed(&Intent{
		ID: "pi_wallet", Status: StatusRequiresConfirmation,
		Amount: 5000, Currency: "usd", ClientSecret: "pi_wallet_secret",
		CaptureMethod:      CaptureMethodAutomatic,
		PaymentMethodTypes: []string{"card"},
	})
	quote, order := placedOrder()
	if err := h.pointers.Put(ctx, intentstore.Pointer{CartID: quote.ID, IntentID: seeded.ID}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	order.Payment.SetAdditionalInformation(domain.PaymentInfoToken, "pm_123")

	result, err := h.build(t).ConfirmAndAssociateWithOrder(ctx, quote, order, domain.CheckoutContext{Area: domain.AreaStorefront})
	if err != nil {
		t.Fatalf("ConfirmAndAssociateWithOrder: %v", err)
	}
	if result.Intent == nil || result.Intent.ID != "pi_wallet" {
		t.Fatalf("result intent = %+v, want pi_wallet", result.Intent)
	}
	if got := h.client.lastConfirm.PaymentMethodID; got != "pm_123" {
		t.Fatalf("confirm payment method = %q, want pm_123", got)
	}
}

func TestConfirmLeavesAttachedPaymentMethodAlone(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	seeded := h.client.seed(&Intent{
		ID: "pi_card", Status: StatusRequiresConfirmation,
		Amount: 5000, Currency: "usd", ClientSecret: "pi_card_secret",
		CaptureMethod:      CaptureMethodAutomatic,
		PaymentMethodTypes: []string{"card"},
		PaymentMethodID:    "pm_attached",
	})
	quote, order := placedOrder()
	if err := h.pointers.Put(ctx, intentstore.Pointer{CartID: quote.ID, IntentID: seeded.ID}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	order.Payment.SetAdditionalInformation(domain.PaymentInfoToken, "pm_other")

	if _, err := h.build(t).ConfirmAndAssociateWithOrder(ctx, quote, order, domain.CheckoutContext{Area: domain.AreaStorefront}); err != nil {
		t.Fatalf("ConfirmAndAssociateWithOrder: %v", err)
	}
	if got := h.client.lastConfirm.PaymentMethodID; got != "" {
		t.Fatalf("confirm payment method = %q, want empty for an intent that already has one", got)
	}
}

func TestConfirmFailureStillWritesIntentRecord(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.client.confirmErr = errors.New("Your card was declined.")
	quote, order := placedOrder()

	_, err := h.build(t).ConfirmAndAssociateWithOrder(ctx, quote, order, domain.CheckoutContext{Area: domain.AreaStorefront})
	var paymentErr *PaymentError
	if !errors.As(err, &paymentErr) {
		t.Fatalf("error = %v, want *PaymentError", err)
	}
	// The record precedes the confirm call; a declined payment must still be
	// traceable from its intent id.
	if len(h.records.records) != 1 {
		t.Fatalf("intent records = %d, want 1", len(h.records.records))
	}
	if h.records.records[0].OrderIncrementID != "100000123" {
		t.Fatalf("record = %+v", h.records.records[0])
	}
}

func TestConfirmRequiresActionOnStorefront(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.client.confirmStatus = StatusRequiresAction
	quote, order := placedOrder()

	_, err := h.build(t).ConfirmAndAssociateWithOrder(ctx, quote, order, domain.CheckoutContext{Area: domain.AreaStorefront})
	var authErr *AuthenticationRequiredError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want *AuthenticationRequiredError", err)
	}
	if len(authErr.ClientSecrets) != 1 || authErr.ClientSecrets[0] != "pi_1_secret" {
		t.Fatalf("client secrets = %v", authErr.ClientSecrets)
	}
}

func TestConfirmRequiresActionInAdminIsHardError(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.client.confirmStatus = StatusRequiresAction
	quote, order := placedOrder()

	_, err := h.build(t).ConfirmAndAssociateWithOrder(ctx, quote, order, domain.CheckoutContext{Area: domain.AreaAdmin})
	if !errors.Is(err, ErrAuthenticationNotPossible) {
		t.Fatalf("error = %v, want ErrAuthenticationNotPossible", err)
	}
}

func TestConfirmSubscriptionOnlyOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.subs = &fakeSubscriptions{total: 50}
	quote, order := placedOrder()
	quote.Items[0].Subscription = true
	order.Items[0].Subscription = true

	result, err := h.build(t).ConfirmAndAssociateWithOrder(ctx, quote, order, domain.CheckoutContext{Area: domain.AreaStorefront})
	if err != nil {
		t.Fatalf("ConfirmAndAssociateWithOrder: %v", err)
	}
	if !result.SubscriptionOnly || result.Intent != nil {
		t.Fatalf("result = %+v, want subscription-only with nil intent", result)
	}
	if h.client.creates != 0 {
		t.Fatal("no one-off intent may be created for a fully recurring order")
	}
}

func TestConfirmMultishippingSubscriptionRedirect(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.subs = &fakeSubscriptions{
		total:   50,
		outcome: SubscriptionOutcome{PISecrets: map[string]string{"pi_sub": "pi_sub_secret"}},
	}
	h.cfg = ManagerConfig{MultishippingAuthorizationPath: "/multishipping/authorize"}
	quote, order := placedOrder()
	quote.Items[0].Subscription = true
	order.Items[0].Subscription = true

	result, err := h.build(t).ConfirmAndAssociateWithOrder(ctx, quote, order, domain.CheckoutContext{
		Area: domain.AreaStorefront, MultiShipping: true,
	})
	if err != nil {
		t.Fatalf("ConfirmAndAssociateWithOrder: %v", err)
	}
	if result.RedirectPath != "/multishipping/authorize" {
		t.Fatalf("redirect path = %q", result.RedirectPath)
	}
}

func TestConfirmMultishippingRequiresActionRedirects(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.cfg = ManagerConfig{MultishippingAuthorizationPath: "/multishipping/authorize"}
	h.client.confirmStatus = StatusRequiresAction
	seeded := h.client.seed(&Intent{
		ID: "pi_ms", Status: StatusRequiresConfirmation,
		Amount: 5000, Currency: "usd", ClientSecret: "pi_ms_secret",
		CaptureMethod:      CaptureMethodAutomatic,
		PaymentMethodTypes: []string{"card"},
	})
	quote, order := placedOrder()
	order.Payment.SetAdditionalInformation(domain.PaymentInfoIntentID, seeded.ID)

	result, err := h.build(t).ConfirmAndAssociateWithOrder(ctx, quote, order, domain.CheckoutContext{
		Area: domain.AreaStorefront, MultiShipping: true,
	})
	if err != nil {
		t.Fatalf("ConfirmAndAssociateWithOrder: %v", err)
	}
	if result.RedirectPath != "/multishipping/authorize" {
		t.Fatalf("redirect path = %q", result.RedirectPath)
	}
	if result.Intent != nil {
		t.Fatalf("result intent = %+v, want nil until authentication completes", result.Intent)
	}
	if order.Payment.AdditionalInformation(domain.PaymentInfoAuthenticationPending) != "1" {
		t.Fatal("authentication-pending flag missing from payment bag")
	}
}

func TestConfirmSubscriptionSecretsRequireAuthentication(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.subs = &fakeSubscriptions{
		total:   50,
		outcome: SubscriptionOutcome{PISecrets: map[string]string{"pi_sub": "pi_sub_secret"}},
	}
	quote, order := placedOrder()
	quote.Items[0].Subscription = true
	order.Items[0].Subscription = true

	_, err := h.build(t).ConfirmAndAssociateWithOrder(ctx, quote, order, domain.CheckoutContext{Area: domain.AreaStorefront})
	var authErr *AuthenticationRequiredError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want *AuthenticationRequiredError", err)
	}
	if len(authErr.ClientSecrets) != 1 || authErr.ClientSecrets[0] != "pi_sub_secret" {
		t.Fatalf("client secrets = %v", authErr.ClientSecrets)
	}
	if order.Payment.AdditionalInformation(domain.PaymentInfoAuthenticationPending) != "1" {
		t.Fatal("authentication-pending flag missing from payment bag")
	}
}

func TestConfirmMultishippingLoadsFromPayment(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	seeded := h.client.seed(&Intent{
		ID: "pi_ms", Status: StatusRequiresConfirmation,
		Amount: 5000, Currency: "usd", ClientSecret: "pi_ms_secret",
		CaptureMethod:      CaptureMethodAutomatic,
		PaymentMethodTypes: []string{"card"},
	})
	quote, order := placedOrder()
	order.Payment.SetAdditionalInformation(domain.PaymentInfoIntentID, seeded.ID)

	result, err := h.build(t).ConfirmAndAssociateWithOrder(ctx, quote, order, domain.CheckoutContext{
		Area: domain.AreaStorefront, MultiShipping: true,
	})
	if err != nil {
		t.Fatalf("ConfirmAndAssociateWithOrder: %v", err)
	}
	if result.Intent == nil || result.Intent.ID != "pi_ms" {
		t.Fatalf("result intent = %+v, want pi_ms", result.Intent)
	}
	if h.client.creates != 0 {
		t.Fatal("multi-shipping must not create a new intent")
	}
}

func TestConfirmMultishippingMissingIntent(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	quote, order := placedOrder()

	_, err := h.build(t).ConfirmAndAssociateWithOrder(ctx, quote, order, domain.CheckoutContext{
		Area: domain.AreaStorefront, MultiShipping: true,
	})
	if !errors.Is(err, ErrIntentNotFound) {
		t.Fatalf("error = %v, want ErrIntentNotFound", err)
	}
}

func TestProcessAuthenticatedOrderCaptured(t *testing.T) {
	h := newHarness()
	manager := h.build(t)
	_, order := placedOrder()
	intent := &Intent{
		ID: "pi_1", Status: StatusSucceeded, Amount: 5000, Currency: "usd",
		Charges: []Charge{{
			ID: "ch_1", Amount: 5000, Captured: true,
			Outcome: &ChargeOutcome{Type: "authorized"},
			Card:    &CardDetails{Brand: "visa", Last4: "4242", ExpMonth: 12, ExpYear: 2030},
		}},
	}

	if err := manager.ProcessAuthenticatedOrder(context.Background(), order, intent); err != nil {
		t.Fatalf("ProcessAuthenticatedOrder: %v", err)
	}
	if order.Payment.TransactionID != "pi_1" || order.Payment.TransactionClosed {
		t.Fatalf("payment = %+v, want open transaction", order.Payment)
	}
	if len(order.Invoices) != 1 || order.Invoices[0].State != domain.InvoiceStatePaid {
		t.Fatalf("invoices = %+v", order.Invoices)
	}
	if order.Payment.AdditionalInformation(domain.PaymentInfoSourceInfo) == "" {
		t.Fatal("card source info missing")
	}
}

func TestProcessAuthenticatedOrderManualReview(t *testing.T) {
	h := newHarness()
	manager := h.build(t)
	_, order := placedOrder()
	intent := &Intent{
		ID: "pi_1", Status: StatusSucceeded, Amount: 5000, Currency: "usd",
		Charges: []Charge{{ID: "ch_1", Captured: true, Outcome: &ChargeOutcome{Type: "manual_review"}}},
	}

	if err := manager.ProcessAuthenticatedOrder(context.Background(), order, intent); err != nil {
		t.Fatalf("ProcessAuthenticatedOrder: %v", err)
	}
	if !order.Payment.FraudDetected || !order.Payment.TransactionPending {
		t.Fatal("manual review must flag the payment for review")
	}
}

func TestProcessAuthenticatedOrderAuthorizedOpensInvoice(t *testing.T) {
	h := newHarness()
	manager := h.build(t)
	_, order := placedOrder()
	intent := &Intent{ID: "pi_1", Status: StatusRequiresCapture, Amount: 5000, Currency: "usd"}

	if err := manager.ProcessAuthenticatedOrder(context.Background(), order, intent); err != nil {
		t.Fatalf("ProcessAuthenticatedOrder: %v", err)
	}
	if len(order.Invoices) != 1 || order.Invoices[0].State != domain.InvoiceStateOpen {
		t.Fatalf("invoices = %+v, want one open invoice", order.Invoices)
	}
	if order.Payment.TransactionClosed {
		t.Fatal("authorized transaction must stay open")
	}
}

func TestProcessAuthenticatedOrderRejectsUnsettledIntent(t *testing.T) {
	h := newHarness()
	manager := h.build(t)
	_, order := placedOrder()
	intent := &Intent{ID: "pi_1", Status: StatusRequiresAction}

	if err := manager.ProcessAuthenticatedOrder(context.Background(), order, intent); err == nil {
		t.Fatal("unsettled intent must be rejected")
	}
}

func TestProcessAuthenticatedOrderInstallmentNote(t *testing.T) {
	h := newHarness()
	manager := h.build(t)
	_, order := placedOrder()
	intent := &Intent{
		ID: "pi_1", Status: StatusSucceeded, Amount: 5000, Currency: "mxn",
		SelectedPlan: &InstallmentPlan{Type: "fixed_count", Interval: "month", Count: 3},
	}

	if err := manager.ProcessAuthenticatedOrder(context.Background(), order, intent); err != nil {
		t.Fatalf("ProcessAuthenticatedOrder: %v", err)
	}
	if len(order.StatusHistory) == 0 {
		t.Fatal("installment note missing from order history")
	}
}

func TestProcessAuthenticatedOrderMarksSubscriptionItemsInvoiced(t *testing.T) {
	h := newHarness()
	manager := h.build(t)
	_, order := placedOrder()
	order.Items = append(order.Items, domain.OrderItem{SKU: "PLAN", QtyOrdered: 1, Subscription: true})
	intent := &Intent{ID: "pi_1", Status: StatusSucceeded, Amount: 5000, Currency: "usd"}

	if err := manager.ProcessAuthenticatedOrder(context.Background(), order, intent); err != nil {
		t.Fatalf("ProcessAuthenticatedOrder: %v", err)
	}
	if order.Items[1].QtyInvoiced != 1 {
		t.Fatal("subscription line must be marked invoiced")
	}
	if order.Items[0].QtyInvoiced != 0 {
		t.Fatal("one-off line must not be marked invoiced here")
	}
}

func TestDestroyCancelsOnlyUnsettledIntents(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name        string
		status      IntentStatus
		wantCancels int
	}{
		{"requires confirmation", StatusRequiresConfirmation, 1},
		{"succeeded", StatusSucceeded, 0},
		{"requires capture", StatusRequiresCapture, 0},
		{"canceled", StatusCanceled, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness()
			intent := h.client.seed(&Intent{ID: "pi_x", Status: tc.status, Amount: 5000, Currency: "usd"})
			if err := h.pointers.Put(ctx, intentstore.Pointer{CartID: "cart-1", IntentID: intent.ID}); err != nil {
				t.Fatalf("Put: %v", err)
			}

			if err := h.build(t).Destroy(ctx, "cart-1", intent, true); err != nil {
				t.Fatalf("Destroy: %v", err)
			}
			if h.client.cancels != tc.wantCancels {
				t.Fatalf("cancels = %d, want %d", h.client.cancels, tc.wantCancels)
			}
			if _, err := h.pointers.Get(ctx, "cart-1"); !errors.Is(err, intentstore.ErrNotFound) {
				t.Fatal("pointer must be gone")
			}
		})
	}
}
