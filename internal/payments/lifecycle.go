package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oakmart/storefront-api/internal/domain"
	"github.com/oakmart/storefront-api/internal/platform/intentstore"
)

// Sentinel errors surfaced by the lifecycle manager.
var (
	// ErrAuthenticationNotPossible is returned when a payment demands customer
	// authentication in a context where no customer is present, such as an
	// administrative order without a MOTO exemption.
	ErrAuthenticationNotPossible = errors.New("payments: payment requires customer authentication which cannot be completed in this context")
	// ErrIntentNotFound is returned when a payment references an intent id the
	// provider no longer knows.
	ErrIntentNotFound = errors.New("payments: payment intent not found")
)

// PaymentError carries a customer-presentable failure message. The provider's
// error structure is deliberately not preserved; only the message survives.
type PaymentError struct {
	msg string
}

func (e *PaymentError) Error() string { return e.msg }

// NewPaymentError wraps a provider failure into a presentable error.
func NewPaymentError(err error) *PaymentError {
	return &PaymentError{msg: ProviderErrorMessage(err)}
}

// AuthenticationRequiredError signals that the customer must complete a
// challenge before the order can be finalised. ClientSecrets lists every
// intent awaiting authentication, one per payment plus any subscription
// intents.
type AuthenticationRequiredError struct {
	ClientSecrets []string
}

func (e *AuthenticationRequiredError) Error() string {
	return "payments: authentication required"
}

// IntentRecord is the persisted association between an intent and the order
// it paid for, written before confirmation so webhooks can find the order.
type IntentRecord struct {
	IntentID         string
	QuoteID          string
	OrderIncrementID string
	CustomerID       string
	PaymentMethodID  string
	UpdatedAt        time.Time
}

// IntentRecordStore persists intent records.
type IntentRecordStore interface {
	SaveIntentRecord(ctx context.Context, record IntentRecord) error
}

// ManagerConfig carries the settings that steer confirmation behaviour.
type ManagerConfig struct {
	// MOTOExemptionsEnabled allows administrative orders to confirm with the
	// mail-order/telephone-order exemption instead of 3-D Secure.
	MOTOExemptionsEnabled bool
	// MultishippingAuthorizationPath is the storefront route that collects
	// authentication for multi-shipping subscription payments.
	MultishippingAuthorizationPath string
}

// ManagerDeps wires a lifecycle manager.
type ManagerDeps struct {
	Client        IntentClient
	Cards         CardClient
	SetupIntents  SetupIntentClient
	Pointers      intentstore.Store
	Params        *ParamBuilder
	Subscriptions SubscriptionAdapter
	Rollback      *RollbackRecorder
	Records       IntentRecordStore
	Config        ManagerConfig
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

// Manager owns the payment-intent lifecycle for one checkout attempt. It is
// constructed per attempt; the memoisation map inside it never outlives the
// request, so concurrent checkouts cannot observe each other's intents.
type Manager struct {
	client        IntentClient
	cards         CardClient
	setupIntents  SetupIntentClient
	pointers      intentstore.Store
	params        *ParamBuilder
	subscriptions SubscriptionAdapter
	rollback      *RollbackRecorder
	records       IntentRecordStore
	cfg           ManagerConfig
	clock         func() time.Time
	logger        func(ctx context.Context, event string, fields map[string]any)

	// loaded memoises retrieved intents by cart id for the attempt's duration.
	loaded map[string]*Intent
}

// NewManager validates dependencies and returns a manager.
func NewManager(deps ManagerDeps) (*Manager, error) {
	if deps.Client == nil {
		return nil, fmt.Errorf("payments: manager requires an intent client")
	}
	if deps.Pointers == nil {
		return nil, fmt.Errorf("payments: manager requires a pointer store")
	}
	if deps.Params == nil {
		return nil, fmt.Errorf("payments: manager requires a param builder")
	}
	if deps.Subscriptions == nil {
		deps.Subscriptions = NopSubscriptionAdapter{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Manager{
		client:        deps.Client,
		cards:         deps.Cards,
		setupIntents:  deps.SetupIntents,
		pointers:      deps.Pointers,
		params:        deps.Params,
		subscriptions: deps.Subscriptions,
		rollback:      deps.Rollback,
		records:       deps.Records,
		cfg:           deps.Config,
		clock:         clock,
		logger:        logger,
		loaded:        make(map[string]*Intent),
	}, nil
}

// LoadFromCache returns the cart's live intent, or nil when the cart has none.
// Pointers to ids that no longer parse as intent ids are dropped silently.
func (m *Manager) LoadFromCache(ctx context.Context, cartID string) (*Intent, error) {
	if cartID == "" {
		return nil, nil
	}
	if intent, ok := m.loaded[cartID]; ok {
		return intent, nil
	}
	pointer, err := m.pointers.Get(ctx, cartID)
	if errors.Is(err, intentstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("payments: load intent pointer: %w", err)
	}
	if !IsIntentID(pointer.IntentID) {
		if err := m.pointers.Delete(ctx, cartID); err != nil {
			m.logger(ctx, "payments.stale_pointer_delete_failed", map[string]any{
				"cart_id": cartID, "error": err.Error(),
			})
		}
		return nil, nil
	}
	intent, err := m.client.Retrieve(ctx, pointer.IntentID)
	if err != nil {
		return nil, fmt.Errorf("payments: retrieve intent %s: %w", pointer.IntentID, err)
	}
	m.loaded[cartID] = intent
	return intent, nil
}

// LoadFromPayment returns the intent named by the payment's information bag.
// Multi-shipping checkouts use this path exclusively; the cart pointer is not
// trustworthy when one cart produced several payments.
func (m *Manager) LoadFromPayment(ctx context.Context, payment *domain.Payment) (*Intent, error) {
	id := payment.AdditionalInformation(domain.PaymentInfoIntentID)
	if !IsIntentID(id) {
		return nil, nil
	}
	intent, err := m.client.Retrieve(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("payments: retrieve intent %s: %w", id, err)
	}
	return intent, nil
}

// Create returns a live intent matching params for the cart, reusing and
// updating the cached one when it is still valid, replacing it when not.
func (m *Manager) Create(ctx context.Context, cartID string, params Params) (*Intent, error) {
	// Nothing payable, nothing to create. Any cached intent is left untouched.
	if params.Amount <= 0 {
		return nil, nil
	}
	existing, err := m.LoadFromCache(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if !m.isInvalid(ctx, existing, params) {
			return m.UpdateFrom(ctx, cartID, existing, params)
		}
		// Fail closed: a partially unusable intent is abandoned and replaced
		// rather than patched.
		if err := m.Destroy(ctx, cartID, existing, true); err != nil {
			return nil, err
		}
	}

	intent, err := m.client.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("payments: create intent: %w", err)
	}
	now := m.clock().UTC()
	if err := m.pointers.Put(ctx, intentstore.Pointer{
		CartID:    cartID,
		IntentID:  intent.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(intentstore.DefaultTTL),
	}); err != nil {
		return nil, fmt.Errorf("payments: save intent pointer: %w", err)
	}
	m.loaded[cartID] = intent
	return intent, nil
}

// isInvalid reports whether the cached intent can no longer serve the attempt.
func (m *Manager) isInvalid(ctx context.Context, intent *Intent, params Params) bool {
	reason := ""
	switch {
	case intent.LastPaymentError != nil && intent.LastPaymentError.Code == ErrorCodeAuthenticationFailure:
		reason = "authentication_failed"
	case intent.Status == StatusCanceled:
		reason = "canceled"
	case intent.Status == StatusRequiresAction && intent.Amount != params.Amount:
		// The customer may already be mid-challenge for the old amount; the
		// intent cannot be amended underneath them.
		reason = "amount_changed_during_authentication"
	case intent.CustomerID != "" && params.CustomerID != "" && intent.CustomerID != params.CustomerID:
		reason = "foreign_customer"
	case intent.CaptureMethod != "" && params.CaptureMethod != "" && intent.CaptureMethod != params.CaptureMethod:
		reason = "capture_method_changed"
	}
	if reason == "" {
		return false
	}
	m.logger(ctx, "payments.intent_invalid", map[string]any{
		"payment_intent_id": intent.ID,
		"reason":            reason,
	})
	return true
}

// UpdateFrom pushes the allow-listed differences between params and the live
// intent. Settled intents and identical params are left untouched.
func (m *Manager) UpdateFrom(ctx context.Context, cartID string, intent *Intent, params Params) (*Intent, error) {
	if intent.IsSuccessful() || intent.Status == StatusCanceled {
		return intent, nil
	}
	if !DifferentFrom(params, intent) {
		return intent, nil
	}
	update := FilteredUpdateParams(params, intent)
	if update.Empty() {
		return intent, nil
	}
	updated, err := m.client.Update(ctx, intent.ID, update)
	if err != nil {
		return nil, fmt.Errorf("payments: update intent %s: %w", intent.ID, err)
	}
	if cartID != "" {
		m.loaded[cartID] = updated
	}
	return updated, nil
}

// Destroy forgets the cart's intent and, when cancelRemote is set, cancels the
// remote resource. Settled intents are never canceled remotely.
func (m *Manager) Destroy(ctx context.Context, cartID string, intent *Intent, cancelRemote bool) error {
	delete(m.loaded, cartID)
	if cartID != "" {
		if err := m.pointers.Delete(ctx, cartID); err != nil {
			return fmt.Errorf("payments: delete intent pointer: %w", err)
		}
	}
	if intent == nil || !cancelRemote {
		return nil
	}
	if intent.IsSuccessful() || intent.Status == StatusCanceled {
		return nil
	}
	if _, err := m.client.Cancel(ctx, intent.ID); err != nil {
		return fmt.Errorf("payments: cancel intent %s: %w", intent.ID, err)
	}
	return nil
}

// RefreshCache re-retrieves the cart's intent, replacing the memoised copy.
func (m *Manager) RefreshCache(ctx context.Context, cartID string) (*Intent, error) {
	delete(m.loaded, cartID)
	return m.LoadFromCache(ctx, cartID)
}

// ConfirmResult reports how a checkout attempt concluded.
type ConfirmResult struct {
	// Intent is the final intent; nil for subscription-only orders.
	Intent *Intent
	// RedirectPath is set for multi-shipping subscription payments that must
	// authenticate on a dedicated page.
	RedirectPath string
	// SubscriptionOnly marks orders fully billed through subscriptions.
	SubscriptionOnly bool
}

// ConfirmAndAssociateWithOrder runs the full confirmation flow for a placed
// order: leftover setup intents are canceled, subscriptions provisioned,
// the intent created or reused, confirmed, and its association with the order
// persisted. Rollback records are prepared around the confirm call whether it
// succeeds or fails.
func (m *Manager) ConfirmAndAssociateWithOrder(ctx context.Context, quote *domain.Quote, order *domain.Order, checkout domain.CheckoutContext) (ConfirmResult, error) {
	payment := order.Payment
	if payment == nil {
		payment = domain.NewPayment(nil)
		order.Payment = payment
	}

	m.cancelLeftoverSetupIntent(ctx, payment)

	params, err := m.params.Build(ctx, quote, order, payment)
	if err != nil {
		return ConfirmResult{}, err
	}

	outcome, err := m.subscriptions.CreateSubscriptions(ctx, order, payment)
	if err != nil {
		return ConfirmResult{}, fmt.Errorf("payments: create subscriptions: %w", err)
	}
	if outcome.CustomerID != "" {
		payment.SetAdditionalInformation(domain.PaymentInfoCustomerStripeID, outcome.CustomerID)
		params.CustomerID = outcome.CustomerID
	}

	// The param builder already removed the recurring portion from the amount.
	if params.Amount <= 0 {
		return m.concludeSubscriptionOnly(ctx, order, checkout, outcome)
	}

	intent, err := m.resolveIntent(ctx, quote, payment, checkout, params)
	if err != nil {
		return ConfirmResult{}, err
	}

	// The record goes down before confirm so a crash mid-confirm still lets
	// webhook processing find the order by intent id.
	m.detachDuplicateCard(ctx, params, intent)
	m.saveRecord(ctx, quote, order, intent)

	intent, err = m.confirmIntent(ctx, intent, payment, checkout, order)
	if err != nil {
		return ConfirmResult{}, err
	}

	payment.SetAdditionalInformation(domain.PaymentInfoIntentID, intent.ID)
	payment.SetAdditionalInformation(domain.PaymentInfoClientSecret, intent.ClientSecret)

	if intent.RequiresAction() {
		if checkout.MultiShipping {
			// Multiple payments may need the same challenge; a dedicated page
			// collects it instead of surfacing secrets per payment.
			payment.SetAdditionalInformation(domain.PaymentInfoAuthenticationPending, "1")
			return ConfirmResult{RedirectPath: m.cfg.MultishippingAuthorizationPath}, nil
		}
		return ConfirmResult{}, m.authenticationRequired(checkout, intent, outcome)
	}

	// The intent is settled; drop the cart pointer so a new cart starts clean.
	cartID := order.QuoteID
	if cartID == "" && quote != nil {
		cartID = quote.ID
	}
	if err := m.Destroy(ctx, cartID, nil, false); err != nil {
		m.logger(ctx, "payments.pointer_cleanup_failed", map[string]any{
			"cart_id": cartID, "error": err.Error(),
		})
	}

	return ConfirmResult{Intent: intent}, nil
}

// resolveIntent finds or creates the intent for the attempt. Multi-shipping
// orders trust only the payment's stored intent id.
func (m *Manager) resolveIntent(ctx context.Context, quote *domain.Quote, payment *domain.Payment, checkout domain.CheckoutContext, params Params) (*Intent, error) {
	if checkout.MultiShipping {
		intent, err := m.LoadFromPayment(ctx, payment)
		if err != nil {
			return nil, err
		}
		if intent == nil {
			return nil, ErrIntentNotFound
		}
		return m.UpdateFrom(ctx, "", intent, params)
	}
	cartID := ""
	if quote != nil {
		cartID = quote.ID
	}
	return m.Create(ctx, cartID, params)
}

// confirmIntent confirms when the intent still needs it, preparing rollback
// records around the call in both the success and failure paths.
func (m *Manager) confirmIntent(ctx context.Context, intent *Intent, payment *domain.Payment, checkout domain.CheckoutContext, order *domain.Order) (*Intent, error) {
	if intent.IsSuccessful() || intent.RequiresAction() {
		m.prepareRollback(ctx, intent, order.IncrementID)
		return intent, nil
	}

	confirmed, confirmErr := m.client.Confirm(ctx, intent.ID, m.confirmParamsFor(intent, payment, checkout))

	// Whatever happened, re-read the intent so rollback sees any charge the
	// provider recorded before failing.
	final := confirmed
	if final == nil {
		if refreshed, err := m.client.Retrieve(ctx, intent.ID); err == nil {
			final = refreshed
		} else {
			final = intent
		}
	}
	m.prepareRollback(ctx, final, order.IncrementID)

	if confirmErr != nil {
		m.logger(ctx, "payments.confirm_failed", map[string]any{
			"payment_intent_id": intent.ID,
			"error_code":        ProviderErrorCode(confirmErr),
		})
		return nil, NewPaymentError(confirmErr)
	}
	return confirmed, nil
}

// confirmParamsFor assembles the confirmation options from the payment bag
// and the checkout context.
func (m *Manager) confirmParamsFor(intent *Intent, payment *domain.Payment, checkout domain.CheckoutContext) ConfirmParams {
	params := ConfirmParams{
		MOTO: checkout.IsAdmin() && m.cfg.MOTOExemptionsEnabled,
	}
	if planJSON := payment.AdditionalInformation(domain.PaymentInfoSelectedPlan); planJSON != "" {
		var plan InstallmentPlan
		if err := json.Unmarshal([]byte(planJSON), &plan); err == nil && plan.Count > 0 {
			params.InstallmentPlan = &plan
		}
	}
	// Wallet and installment flows can leave the intent without a payment
	// method; updates never carry one, so it must be attached here or the
	// confirm cannot succeed. Multi-shipping always re-attaches.
	if checkout.MultiShipping || intent.PaymentMethodID == "" {
		if token := payment.AdditionalInformation(domain.PaymentInfoToken); IsPaymentMethodID(token) {
			params.PaymentMethodID = token
		}
	}
	return params
}

// concludeSubscriptionOnly finishes orders whose total is fully billed through
// subscriptions. Subscription intents may still demand authentication.
func (m *Manager) concludeSubscriptionOnly(ctx context.Context, order *domain.Order, checkout domain.CheckoutContext, outcome SubscriptionOutcome) (ConfirmResult, error) {
	if len(outcome.PISecrets) == 0 {
		return ConfirmResult{SubscriptionOnly: true}, nil
	}
	if checkout.MultiShipping && len(outcome.PISecrets) == 1 {
		return ConfirmResult{
			SubscriptionOnly: true,
			RedirectPath:     m.cfg.MultishippingAuthorizationPath,
		}, nil
	}
	if checkout.IsAdmin() && !m.cfg.MOTOExemptionsEnabled {
		return ConfirmResult{}, ErrAuthenticationNotPossible
	}
	secrets := make([]string, 0, len(outcome.PISecrets))
	for _, secret := range outcome.PISecrets {
		secrets = append(secrets, secret)
	}
	if order.Payment != nil {
		order.Payment.SetAdditionalInformation(domain.PaymentInfoAuthenticationPending, "1")
	}
	return ConfirmResult{}, &AuthenticationRequiredError{ClientSecrets: secrets}
}

func (m *Manager) authenticationRequired(checkout domain.CheckoutContext, intent *Intent, outcome SubscriptionOutcome) error {
	if checkout.IsAdmin() {
		return ErrAuthenticationNotPossible
	}
	secrets := []string{intent.ClientSecret}
	for _, secret := range outcome.PISecrets {
		secrets = append(secrets, secret)
	}
	return &AuthenticationRequiredError{ClientSecrets: secrets}
}

func (m *Manager) cancelLeftoverSetupIntent(ctx context.Context, payment *domain.Payment) {
	id := payment.AdditionalInformation(domain.PaymentInfoSetupIntentID)
	if id == "" || m.setupIntents == nil {
		return
	}
	if err := m.setupIntents.CancelSetupIntent(ctx, id); err != nil {
		m.logger(ctx, "payments.setup_intent_cancel_failed", map[string]any{
			"setup_intent_id": id, "error": err.Error(),
		})
	}
	payment.SetAdditionalInformation(domain.PaymentInfoSetupIntentID, "")
}

// detachDuplicateCard keeps saved-card lists clean: saving a card the customer
// already had on file detaches the older duplicate.
func (m *Manager) detachDuplicateCard(ctx context.Context, params Params, intent *Intent) {
	if !params.SavePaymentMethod || m.cards == nil || intent.CustomerID == "" || intent.PaymentMethodID == "" {
		return
	}
	duplicate, err := m.cards.FindDuplicateCard(ctx, intent.CustomerID, intent.PaymentMethodID)
	if err != nil || duplicate == "" {
		return
	}
	if err := m.cards.Detach(ctx, duplicate); err != nil {
		m.logger(ctx, "payments.duplicate_card_detach_failed", map[string]any{
			"payment_method_id": duplicate, "error": err.Error(),
		})
	}
}

func (m *Manager) prepareRollback(ctx context.Context, intent *Intent, orderIncrementID string) {
	if m.rollback == nil || intent == nil {
		return
	}
	if err := m.rollback.Prepare(ctx, intent, orderIncrementID); err != nil {
		m.logger(ctx, "payments.rollback_prepare_failed", map[string]any{
			"payment_intent_id": intent.ID, "error": err.Error(),
		})
	}
}

func (m *Manager) saveRecord(ctx context.Context, quote *domain.Quote, order *domain.Order, intent *Intent) {
	if m.records == nil {
		return
	}
	record := IntentRecord{
		IntentID:         intent.ID,
		OrderIncrementID: order.IncrementID,
		CustomerID:       intent.CustomerID,
		PaymentMethodID:  intent.PaymentMethodID,
		UpdatedAt:        m.clock().UTC(),
	}
	if quote != nil {
		record.QuoteID = quote.ID
	} else {
		record.QuoteID = order.QuoteID
	}
	if err := m.records.SaveIntentRecord(ctx, record); err != nil {
		m.logger(ctx, "payments.intent_record_save_failed", map[string]any{
			"payment_intent_id": intent.ID, "error": err.Error(),
		})
	}
}

// ProcessAuthenticatedOrder finalises the order after a successful payment:
// transaction ids, fraud flags, invoices and operator notes. The intent must
// be settled (captured or authorized) when this is called.
func (m *Manager) ProcessAuthenticatedOrder(ctx context.Context, order *domain.Order, intent *Intent) error {
	if !intent.IsSuccessful() {
		return fmt.Errorf("payments: intent %s is not settled (status %s)", intent.ID, intent.Status)
	}
	payment := order.Payment
	if payment == nil {
		payment = domain.NewPayment(nil)
		order.Payment = payment
	}

	payment.TransactionID = intent.ID
	payment.LastTransID = intent.ID
	// The transaction stays open even when captured; refunds and later capture
	// operations close it.
	payment.TransactionClosed = false
	payment.TransactionPending = false
	payment.SetAdditionalInformation(domain.PaymentInfoIntentID, intent.ID)
	if intent.CustomerID != "" {
		payment.SetAdditionalInformation(domain.PaymentInfoCustomerStripeID, intent.CustomerID)
	}

	if charge := latestCharge(intent); charge != nil {
		if charge.Outcome != nil {
			payment.SetAdditionalInformation(domain.PaymentInfoOutcomeType, charge.Outcome.Type)
			if charge.Outcome.Type == "manual_review" {
				payment.FraudDetected = true
				payment.TransactionPending = true
			}
		}
		if charge.Card != nil {
			if encoded, err := json.Marshal(charge.Card); err == nil {
				payment.SetAdditionalInformation(domain.PaymentInfoSourceInfo, string(encoded))
			}
		}
	}

	invoice := domain.Invoice{
		TransactionID: intent.ID,
		Amount:        intent.Amount,
		Currency:      intent.Currency,
	}
	switch intent.Status {
	case StatusSucceeded:
		invoice.State = domain.InvoiceStatePaid
	case StatusRequiresCapture:
		invoice.State = domain.InvoiceStateOpen
		invoice.CaptureOffline = false
	}
	order.Invoices = append(order.Invoices, invoice)

	if intent.SelectedPlan != nil {
		order.AddStatusComment(fmt.Sprintf(
			"Payment in %d installments (%s %s).",
			intent.SelectedPlan.Count, intent.SelectedPlan.Interval, intent.SelectedPlan.Type,
		))
	}
	markSubscriptionItemsInvoiced(order)
	return nil
}

// markSubscriptionItemsInvoiced records recurring lines as invoiced; their
// money moves through the subscription engine, not this order's intent.
func markSubscriptionItemsInvoiced(order *domain.Order) {
	for i := range order.Items {
		if order.Items[i].Subscription {
			order.Items[i].QtyInvoiced = order.Items[i].QtyOrdered
		}
	}
}

func latestCharge(intent *Intent) *Charge {
	if len(intent.Charges) == 0 {
		return nil
	}
	return &intent.Charges[len(intent.Charges)-1]
}

// IsPaymentMethodID reports whether the token is a provider payment-method id.
func IsPaymentMethodID(token string) bool {
	return len(token) > 3 && token[:3] == "pm_"
}
