package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/paymentmethod"
)

// Narrow views of the stripe-go client so tests can substitute fakes without
// standing up the full SDK surface.
type paymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Update(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Confirm(id string, params *stripe.PaymentIntentConfirmParams) (*stripe.PaymentIntent, error)
	Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
}

type paymentMethodAPI interface {
	Get(id string, params *stripe.PaymentMethodParams) (*stripe.PaymentMethod, error)
	List(params *stripe.PaymentMethodListParams) *paymentmethod.Iter
	Detach(id string, params *stripe.PaymentMethodDetachParams) (*stripe.PaymentMethod, error)
}

type setupIntentAPI interface {
	Cancel(id string, params *stripe.SetupIntentCancelParams) (*stripe.SetupIntent, error)
}

// StripeClient implements IntentClient, CardClient and SetupIntentClient over
// the Stripe API.
type StripeClient struct {
	intents       paymentIntentAPI
	methods       paymentMethodAPI
	setupIntents  setupIntentAPI
	logger        func(ctx context.Context, event string, fields map[string]any)
	level3Enabled bool
}

// StripeClientDeps wires the client.
type StripeClientDeps struct {
	API           *client.API
	Logger        func(ctx context.Context, event string, fields map[string]any)
	Level3Enabled bool
}

// NewStripeClient validates dependencies and returns a client.
func NewStripeClient(deps StripeClientDeps) (*StripeClient, error) {
	if deps.API == nil {
		return nil, fmt.Errorf("payments: stripe client requires an API handle")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &StripeClient{
		intents:       deps.API.PaymentIntents,
		methods:       deps.API.PaymentMethods,
		setupIntents:  deps.API.SetupIntents,
		logger:        logger,
		level3Enabled: deps.Level3Enabled,
	}, nil
}

// Create provisions a new remote intent from the given params.
func (s *StripeClient) Create(ctx context.Context, params Params) (*Intent, error) {
	req := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(params.Amount),
		Currency:           stripe.String(params.Currency),
		CaptureMethod:      stripe.String(params.CaptureMethod),
		ConfirmationMethod: stripe.String(params.ConfirmationMethod),
	}
	req.Context = ctx
	req.AddExpand("latest_charge")
	if len(params.PaymentMethodTypes) > 0 {
		req.PaymentMethodTypes = stripe.StringSlice(params.PaymentMethodTypes)
	}
	if params.Description != "" {
		req.Description = stripe.String(params.Description)
	}
	if params.StatementDescriptor != "" {
		req.StatementDescriptor = stripe.String(params.StatementDescriptor)
	}
	if params.ReceiptEmail != "" {
		req.ReceiptEmail = stripe.String(params.ReceiptEmail)
	}
	if params.CustomerID != "" {
		req.Customer = stripe.String(params.CustomerID)
	}
	if params.PaymentMethodID != "" {
		req.PaymentMethod = stripe.String(params.PaymentMethodID)
	}
	if params.SavePaymentMethod {
		req.SetupFutureUsage = stripe.String(string(stripe.PaymentIntentSetupFutureUsageOnSession))
	}
	for k, v := range params.Metadata {
		req.AddMetadata(k, v)
	}
	if params.Shipping != nil {
		req.Shipping = shippingParams(params.Shipping)
	}
	if s.level3Enabled && params.Level3 != nil {
		addLevel3Extras(&req.Params, params.Level3)
	}
	pi, err := s.intents.New(req)
	if err != nil {
		return nil, err
	}
	s.logger(ctx, "stripe.payment_intent_created", map[string]any{
		"payment_intent_id": pi.ID,
		"amount":            pi.Amount,
		"currency":          string(pi.Currency),
	})
	return intentFromStripe(pi), nil
}

// Retrieve fetches the remote intent with its latest charge expanded.
func (s *StripeClient) Retrieve(ctx context.Context, id string) (*Intent, error) {
	req := &stripe.PaymentIntentParams{}
	req.Context = ctx
	req.AddExpand("latest_charge")
	pi, err := s.intents.Get(id, req)
	if err != nil {
		return nil, err
	}
	return intentFromStripe(pi), nil
}

// Update applies an allow-listed update to the remote intent.
func (s *StripeClient) Update(ctx context.Context, id string, params UpdateParams) (*Intent, error) {
	req := &stripe.PaymentIntentParams{}
	req.Context = ctx
	req.AddExpand("latest_charge")
	if params.Amount != nil {
		req.Amount = stripe.Int64(*params.Amount)
	}
	if params.Currency != nil {
		req.Currency = stripe.String(*params.Currency)
	}
	if params.Description != nil {
		req.Description = stripe.String(*params.Description)
	}
	for k, v := range params.Metadata {
		req.AddMetadata(k, v)
	}
	switch {
	case params.Shipping != nil:
		req.Shipping = shippingParams(params.Shipping)
	case params.ClearShipping:
		// The typed params cannot express a null; an empty extra clears the
		// shipping record remotely.
		req.AddExtra("shipping", "")
	}
	if s.level3Enabled && params.Level3 != nil {
		addLevel3Extras(&req.Params, params.Level3)
	}
	pi, err := s.intents.Update(id, req)
	if err != nil {
		return nil, err
	}
	return intentFromStripe(pi), nil
}

// Confirm confirms the remote intent, applying MOTO, installment plan and
// explicit payment-method options.
func (s *StripeClient) Confirm(ctx context.Context, id string, params ConfirmParams) (*Intent, error) {
	req := &stripe.PaymentIntentConfirmParams{}
	req.Context = ctx
	req.AddExpand("latest_charge")
	if params.PaymentMethodID != "" {
		req.PaymentMethod = stripe.String(params.PaymentMethodID)
	}
	if params.MOTO || params.InstallmentPlan != nil {
		card := &stripe.PaymentIntentPaymentMethodOptionsCardParams{}
		if params.MOTO {
			card.MOTO = stripe.Bool(true)
		}
		if plan := params.InstallmentPlan; plan != nil {
			card.Installments = &stripe.PaymentIntentPaymentMethodOptionsCardInstallmentsParams{
				Enabled: stripe.Bool(true),
				Plan: &stripe.PaymentIntentPaymentMethodOptionsCardInstallmentsPlanParams{
					Count:    stripe.Int64(plan.Count),
					Interval: stripe.String(plan.Interval),
					Type:     stripe.String(plan.Type),
				},
			}
		}
		req.PaymentMethodOptions = &stripe.PaymentIntentPaymentMethodOptionsParams{Card: card}
	}
	pi, err := s.intents.Confirm(id, req)
	if err != nil {
		return nil, err
	}
	s.logger(ctx, "stripe.payment_intent_confirmed", map[string]any{
		"payment_intent_id": pi.ID,
		"status":            string(pi.Status),
	})
	return intentFromStripe(pi), nil
}

// Cancel abandons the remote intent.
func (s *StripeClient) Cancel(ctx context.Context, id string) (*Intent, error) {
	req := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
	}
	req.Context = ctx
	pi, err := s.intents.Cancel(id, req)
	if err != nil {
		return nil, err
	}
	s.logger(ctx, "stripe.payment_intent_canceled", map[string]any{
		"payment_intent_id": pi.ID,
	})
	return intentFromStripe(pi), nil
}

// FindDuplicateCard looks for a saved card on the customer with the same
// fingerprint as the given payment method.
func (s *StripeClient) FindDuplicateCard(ctx context.Context, customerID, paymentMethodID string) (string, error) {
	getParams := &stripe.PaymentMethodParams{}
	getParams.Context = ctx
	method, err := s.methods.Get(paymentMethodID, getParams)
	if err != nil {
		return "", err
	}
	if method.Card == nil || method.Card.Fingerprint == "" {
		return "", nil
	}
	listParams := &stripe.PaymentMethodListParams{
		Customer: stripe.String(customerID),
		Type:     stripe.String(string(stripe.PaymentMethodTypeCard)),
	}
	listParams.Context = ctx
	iter := s.methods.List(listParams)
	for iter.Next() {
		candidate := iter.PaymentMethod()
		if candidate.ID == paymentMethodID {
			continue
		}
		if candidate.Card != nil && candidate.Card.Fingerprint == method.Card.Fingerprint {
			return candidate.ID, nil
		}
	}
	return "", iter.Err()
}

// Detach removes a saved payment method from its customer.
func (s *StripeClient) Detach(ctx context.Context, paymentMethodID string) error {
	req := &stripe.PaymentMethodDetachParams{}
	req.Context = ctx
	_, err := s.methods.Detach(paymentMethodID, req)
	return err
}

// CancelSetupIntent abandons a setup intent left over from a previous attempt.
func (s *StripeClient) CancelSetupIntent(ctx context.Context, id string) error {
	req := &stripe.SetupIntentCancelParams{}
	req.Context = ctx
	_, err := s.setupIntents.Cancel(id, req)
	return err
}

func shippingParams(detail *ShippingDetail) *stripe.ShippingDetailsParams {
	params := &stripe.ShippingDetailsParams{
		Name: stripe.String(detail.Name),
		Address: &stripe.AddressParams{
			City:       stripe.String(detail.Address.City),
			Country:    stripe.String(detail.Address.Country),
			Line1:      stripe.String(detail.Address.Line1),
			PostalCode: stripe.String(detail.Address.PostalCode),
			State:      stripe.String(detail.Address.State),
		},
	}
	if detail.Address.Line2 != "" {
		params.Address.Line2 = stripe.String(detail.Address.Line2)
	}
	if detail.Phone != "" {
		params.Phone = stripe.String(detail.Phone)
	}
	if detail.Carrier != "" {
		params.Carrier = stripe.String(detail.Carrier)
	}
	if detail.TrackingNumber != "" {
		params.TrackingNumber = stripe.String(detail.TrackingNumber)
	}
	return params
}

// addLevel3Extras form-encodes level-3 data. The typed payment-intent params
// do not expose these fields, so they travel as extra form values.
func addLevel3Extras(params *stripe.Params, data *Level3Data) {
	params.AddExtra("level3[merchant_reference]", data.MerchantReference)
	if data.CustomerReference != "" {
		params.AddExtra("level3[customer_reference]", data.CustomerReference)
	}
	if data.ShippingAddressZip != "" {
		params.AddExtra("level3[shipping_address_zip]", data.ShippingAddressZip)
	}
	if data.ShippingFromZip != "" {
		params.AddExtra("level3[shipping_from_zip]", data.ShippingFromZip)
	}
	params.AddExtra("level3[shipping_amount]", strconv.FormatInt(data.ShippingAmount, 10))
	for i, item := range data.LineItems {
		prefix := fmt.Sprintf("level3[line_items][%d]", i)
		params.AddExtra(prefix+"[product_code]", item.ProductCode)
		params.AddExtra(prefix+"[product_description]", item.ProductDescription)
		params.AddExtra(prefix+"[unit_cost]", strconv.FormatInt(item.UnitCost, 10))
		params.AddExtra(prefix+"[quantity]", strconv.FormatInt(item.Quantity, 10))
		params.AddExtra(prefix+"[tax_amount]", strconv.FormatInt(item.TaxAmount, 10))
		params.AddExtra(prefix+"[discount_amount]", strconv.FormatInt(item.DiscountAmount, 10))
	}
}

func intentFromStripe(pi *stripe.PaymentIntent) *Intent {
	if pi == nil {
		return nil
	}
	intent := &Intent{
		ID:            pi.ID,
		Status:        IntentStatus(pi.Status),
		CaptureMethod: string(pi.CaptureMethod),
		Amount:        pi.Amount,
		Currency:      string(pi.Currency),
		ClientSecret:  pi.ClientSecret,
		Description:   pi.Description,
		Metadata:      pi.Metadata,
	}
	for _, t := range pi.PaymentMethodTypes {
		intent.PaymentMethodTypes = append(intent.PaymentMethodTypes, t)
	}
	if pi.PaymentMethod != nil {
		intent.PaymentMethodID = pi.PaymentMethod.ID
	}
	if pi.Customer != nil {
		intent.CustomerID = pi.Customer.ID
	}
	if pi.SetupFutureUsage != "" {
		intent.SavePaymentMethod = true
	}
	if pi.Shipping != nil {
		intent.Shipping = shippingFromStripe(pi.Shipping)
	}
	if pi.LastPaymentError != nil {
		intent.LastPaymentError = &IntentError{
			Code:    string(pi.LastPaymentError.Code),
			Message: pi.LastPaymentError.Msg,
		}
	}
	if pi.LatestCharge != nil {
		intent.Charges = append(intent.Charges, chargeFromStripe(pi.LatestCharge))
		if pi.LatestCharge.Level3 != nil {
			intent.Level3 = level3FromStripe(pi.LatestCharge.Level3)
		}
	}
	if pi.PaymentMethodOptions != nil && pi.PaymentMethodOptions.Card != nil {
		if inst := pi.PaymentMethodOptions.Card.Installments; inst != nil {
			for _, plan := range inst.AvailablePlans {
				intent.AvailablePlans = append(intent.AvailablePlans, installmentPlanFromStripe(plan))
			}
			if inst.Plan != nil {
				selected := installmentPlanFromStripe(inst.Plan)
				intent.SelectedPlan = &selected
			}
		}
	}
	return intent
}

func shippingFromStripe(shipping *stripe.ShippingDetails) *ShippingDetail {
	detail := &ShippingDetail{
		Name:           shipping.Name,
		Phone:          shipping.Phone,
		Carrier:        shipping.Carrier,
		TrackingNumber: shipping.TrackingNumber,
	}
	if shipping.Address != nil {
		detail.Address = AddressDetail{
			City:       shipping.Address.City,
			Country:    shipping.Address.Country,
			Line1:      shipping.Address.Line1,
			Line2:      shipping.Address.Line2,
			PostalCode: shipping.Address.PostalCode,
			State:      shipping.Address.State,
		}
	}
	return detail
}

func chargeFromStripe(charge *stripe.Charge) Charge {
	out := Charge{
		ID:       charge.ID,
		Amount:   charge.Amount,
		Captured: charge.Captured,
		Refunded: charge.Refunded,
	}
	if charge.Outcome != nil {
		out.Outcome = &ChargeOutcome{Type: charge.Outcome.Type}
	}
	if charge.PaymentMethodDetails != nil && charge.PaymentMethodDetails.Card != nil {
		card := charge.PaymentMethodDetails.Card
		out.Card = &CardDetails{
			Brand:    string(card.Brand),
			Last4:    card.Last4,
			ExpMonth: card.ExpMonth,
			ExpYear:  card.ExpYear,
		}
	}
	return out
}

func level3FromStripe(level3 *stripe.ChargeLevel3) *Level3Data {
	data := &Level3Data{
		MerchantReference:  level3.MerchantReference,
		CustomerReference:  level3.CustomerReference,
		ShippingAddressZip: level3.ShippingAddressZip,
		ShippingFromZip:    level3.ShippingFromZip,
		ShippingAmount:     level3.ShippingAmount,
	}
	for _, item := range level3.LineItems {
		data.LineItems = append(data.LineItems, Level3LineItem{
			ProductCode:        item.ProductCode,
			ProductDescription: item.ProductDescription,
			UnitCost:           item.UnitCost,
			Quantity:           item.Quantity,
			TaxAmount:          item.TaxAmount,
			DiscountAmount:     item.DiscountAmount,
		})
	}
	return data
}

func installmentPlanFromStripe(plan *stripe.PaymentIntentPaymentMethodOptionsCardInstallmentsPlan) InstallmentPlan {
	return InstallmentPlan{
		Type:     string(plan.Type),
		Interval: string(plan.Interval),
		Count:    plan.Count,
	}
}

// ProviderErrorMessage extracts the human-readable message from a provider
// error without exposing its structure.
func ProviderErrorMessage(err error) string {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Msg != "" {
		return stripeErr.Msg
	}
	return err.Error()
}

// ProviderErrorCode returns the provider error code, or "" for other errors.
func ProviderErrorCode(err error) string {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return string(stripeErr.Code)
	}
	return ""
}
