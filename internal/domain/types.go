package domain

import (
	"strings"
	"time"
)

// CheckoutArea distinguishes the surface a checkout attempt originates from.
type CheckoutArea string

const (
	// AreaStorefront marks customer-facing checkout requests.
	AreaStorefront CheckoutArea = "storefront"
	// AreaAdmin marks administrative order placement, where interactive card
	// authentication cannot be completed.
	AreaAdmin CheckoutArea = "admin"
)

// CheckoutContext carries the contextual guards that steer the payment flow.
type CheckoutContext struct {
	Area CheckoutArea
	// APIRequest is true for programmatic (headless) checkouts, which use the
	// TTL-backed intent pointer store instead of browser-session storage.
	APIRequest bool
	// MultiShipping is true when one cart produces multiple orders, each with
	// its own payment that may require independent authentication.
	MultiShipping bool
}

// IsAdmin reports whether the attempt runs in the administrative area.
func (c CheckoutContext) IsAdmin() bool {
	return c.Area == AreaAdmin
}

// Address is the postal address snapshot shared by quotes and orders.
type Address struct {
	ID         string
	FirstName  string
	LastName   string
	Street     []string
	City       string
	Region     string
	PostalCode string
	CountryID  string
	Telephone  string
}

// Name returns the recipient name or an empty string when the address is anonymous.
func (a *Address) Name() string {
	if a == nil {
		return ""
	}
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

// QuoteItem is a single cart line at quote time.
type QuoteItem struct {
	ID             string
	ProductID      string
	ProductType    string
	SKU            string
	Name           string
	Qty            int64
	Price          float64
	TaxAmount      float64
	DiscountAmount float64
	// Subscription marks recurring products whose totals are billed through
	// the subscription engine rather than the one-off payment intent.
	Subscription bool
}

// Quote is the mutable pre-order cart aggregate.
type Quote struct {
	ID                string
	ReservedOrderID   string
	CustomerID        string
	CustomerEmail     string
	CurrencyCode      string
	BaseCurrencyCode  string
	GrandTotal        float64
	BaseGrandTotal    float64
	ShippingAmount    float64
	IsVirtual         bool
	ShippingAddress   *Address
	ShippingAddressID string
	Items             []QuoteItem
	UpdatedAt         time.Time
}

// HasTotal reports whether the quote carries a computable grand total.
func (q *Quote) HasTotal() bool {
	return q != nil && q.GrandTotal > 0
}

// OrderItem mirrors a quote item at order placement time.
type OrderItem struct {
	ID             string
	ProductID      string
	ProductType    string
	SKU            string
	Name           string
	QtyOrdered     int64
	QtyInvoiced    int64
	Price          float64
	TaxAmount      float64
	DiscountAmount float64
	Subscription   bool
}

// InvoiceState describes the lifecycle of an order invoice.
type InvoiceState string

const (
	// InvoiceStateOpen marks invoices awaiting a later capture.
	InvoiceStateOpen InvoiceState = "open"
	// InvoiceStatePaid marks fully captured invoices.
	InvoiceStatePaid InvoiceState = "paid"
)

// Invoice is the billing document attached to an order after payment.
type Invoice struct {
	TransactionID  string
	Amount         int64
	Currency       string
	CaptureOffline bool
	State          InvoiceState
}

// Order is the placed-order aggregate handed to the payment layer.
type Order struct {
	IncrementID      string
	QuoteID          string
	CustomerID       string
	CustomerEmail    string
	CurrencyCode     string
	BaseCurrencyCode string
	GrandTotal       float64
	BaseGrandTotal   float64
	ShippingAmount   float64
	IsVirtual        bool
	ShippingAddress  *Address
	Items            []OrderItem
	Payment          *Payment
	Invoices         []Invoice
	StatusHistory    []string
	CanSendNewEmail  bool
	CreatedAt        time.Time
}

// AddStatusComment appends an operator-visible note to the order history.
func (o *Order) AddStatusComment(comment string) {
	if o == nil || strings.TrimSpace(comment) == "" {
		return
	}
	o.StatusHistory = append(o.StatusHistory, comment)
}

// Payment is the order's payment record. Besides the typed transaction flags
// it carries a free-form additional-information bag, which is how intent ids,
// client secrets, tokens and plan selections travel between checkout steps.
type Payment struct {
	TransactionID      string
	LastTransID        string
	TransactionClosed  bool
	TransactionPending bool
	FraudDetected      bool

	additionalInformation map[string]string
}

// NewPayment constructs a Payment with an optional pre-populated information bag.
func NewPayment(info map[string]string) *Payment {
	p := &Payment{}
	for k, v := range info {
		p.SetAdditionalInformation(k, v)
	}
	return p
}

// AdditionalInformation reads a key from the payment information bag.
func (p *Payment) AdditionalInformation(key string) string {
	if p == nil || p.additionalInformation == nil {
		return ""
	}
	return p.additionalInformation[key]
}

// SetAdditionalInformation writes a key into the payment information bag.
// An empty value removes the key.
func (p *Payment) SetAdditionalInformation(key, value string) *Payment {
	if p == nil {
		return p
	}
	if p.additionalInformation == nil {
		p.additionalInformation = make(map[string]string)
	}
	if value == "" {
		delete(p.additionalInformation, key)
		return p
	}
	p.additionalInformation[key] = value
	return p
}

// AdditionalInformationMap returns a copy of the information bag for persistence.
func (p *Payment) AdditionalInformationMap() map[string]string {
	if p == nil || len(p.additionalInformation) == 0 {
		return nil
	}
	out := make(map[string]string, len(p.additionalInformation))
	for k, v := range p.additionalInformation {
		out[k] = v
	}
	return out
}

// Well-known additional-information keys shared across the checkout flow.
const (
	PaymentInfoIntentID              = "payment_intent_id"
	PaymentInfoClientSecret          = "payment_intent_client_secret"
	PaymentInfoToken                 = "token"
	PaymentInfoSaveCard              = "save_card"
	PaymentInfoSelectedPlan          = "selected_plan"
	PaymentInfoCustomerStripeID      = "customer_stripe_id"
	PaymentInfoSubscriptionStart     = "subscription_start"
	PaymentInfoRecurringSubscription = "is_recurring_subscription"
	PaymentInfoAuthenticationPending = "authentication_pending"
	PaymentInfoSetupIntentID         = "setup_intent_id"
	PaymentInfoSourceInfo            = "source_info"
	PaymentInfoOutcomeType           = "stripe_outcome_type"
)
