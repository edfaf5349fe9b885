package payments

import (
	"context"
	"strings"
)

// IntentStatus enumerates the remote payment-intent states this system reacts to.
type IntentStatus string

const (
	// StatusRequiresConfirmation indicates the intent was created but not yet confirmed.
	StatusRequiresConfirmation IntentStatus = "requires_confirmation"
	// StatusRequiresAction indicates the customer must complete 3-D Secure authentication.
	StatusRequiresAction IntentStatus = "requires_action"
	// StatusRequiresCapture indicates the authorization succeeded and awaits a manual capture.
	StatusRequiresCapture IntentStatus = "requires_capture"
	// StatusProcessing indicates the provider is still settling the payment.
	StatusProcessing IntentStatus = "processing"
	// StatusSucceeded indicates the payment was captured.
	StatusSucceeded IntentStatus = "succeeded"
	// StatusCanceled indicates the intent can never be confirmed again.
	StatusCanceled IntentStatus = "canceled"
)

// Capture methods supported by the provider.
const (
	CaptureMethodManual    = "manual"
	CaptureMethodAutomatic = "automatic"
)

// ErrorCodeAuthenticationFailure is the provider error code recorded on an
// intent after a failed 3-D Secure challenge. Such intents are unusable.
const ErrorCodeAuthenticationFailure = "payment_intent_authentication_failure"

// IntentIDPrefix is the well-known identifier prefix of payment-intent resources.
const IntentIDPrefix = "pi_"

// AddressDetail is the postal portion of a shipping record on a remote intent.
type AddressDetail struct {
	City       string
	Country    string
	Line1      string
	Line2      string
	PostalCode string
	State      string
}

// ShippingDetail mirrors the remote intent shipping sub-record.
type ShippingDetail struct {
	Name           string
	Phone          string
	Carrier        string
	TrackingNumber string
	Address        AddressDetail
}

// Level3LineItem is one extended line-item detail entry.
type Level3LineItem struct {
	ProductCode        string
	ProductDescription string
	UnitCost           int64
	Quantity           int64
	TaxAmount          int64
	DiscountAmount     int64
}

// Level3Data carries extended transaction detail used for card-network
// interchange qualification.
type Level3Data struct {
	MerchantReference  string
	CustomerReference  string
	ShippingAddressZip string
	ShippingFromZip    string
	ShippingAmount     int64
	LineItems          []Level3LineItem
}

// IntentError is the last payment error recorded on a remote intent.
type IntentError struct {
	Code    string
	Message string
}

// CardDetails summarises the card used on a charge, for order notes.
type CardDetails struct {
	Brand    string
	Last4    string
	ExpMonth int64
	ExpYear  int64
}

// ChargeOutcome carries the provider's risk assessment of a charge.
type ChargeOutcome struct {
	Type string
}

// Charge is one charge attempt recorded against an intent.
type Charge struct {
	ID       string
	Amount   int64
	Captured bool
	Refunded bool
	Outcome  *ChargeOutcome
	Card     *CardDetails
}

// InstallmentPlan describes one card installment option.
type InstallmentPlan struct {
	Type     string
	Interval string
	Count    int64
}

// Intent is the strongly typed snapshot of the remote payment-intent resource.
// All remote state this system reads is surfaced here as explicit fields; the
// provider SDK object never leaks past the client boundary.
type Intent struct {
	ID                 string
	Status             IntentStatus
	CaptureMethod      string
	Amount             int64
	Currency           string
	ClientSecret       string
	Description        string
	PaymentMethodID    string
	PaymentMethodTypes []string
	CustomerID         string
	Shipping           *ShippingDetail
	Metadata           map[string]string
	Level3             *Level3Data
	Charges            []Charge
	LastPaymentError   *IntentError
	AvailablePlans     []InstallmentPlan
	SelectedPlan       *InstallmentPlan
	SavePaymentMethod  bool
}

// IsSuccessful reports whether the intent reached a state that must not be
// confirmed or updated again.
func (in *Intent) IsSuccessful() bool {
	if in == nil {
		return false
	}
	return in.Status == StatusSucceeded || in.Status == StatusRequiresCapture
}

// RequiresAction reports whether the customer still owes an authentication step.
func (in *Intent) RequiresAction() bool {
	return in != nil && in.Status == StatusRequiresAction
}

// IsIntentID reports whether id looks like a payment-intent identifier.
func IsIntentID(id string) bool {
	return strings.HasPrefix(id, IntentIDPrefix)
}

// ConfirmParams are the options applied at confirmation time.
type ConfirmParams struct {
	// MOTO requests the mail-order/telephone-order SCA exemption, used for
	// administrative orders on accounts with exemptions enabled.
	MOTO bool
	// InstallmentPlan selects one of the intent's available installment plans.
	InstallmentPlan *InstallmentPlan
	// PaymentMethodID attaches a payment method explicitly; needed for wallet
	// payments and installment flows where only the quote existed at create time.
	PaymentMethodID string
}

// UpdateParams is the allow-listed subset of fields an update call may carry.
// Nil pointer fields are omitted from the request; ClearShipping sends an
// explicit null so the remote record is cleared rather than left stale.
type UpdateParams struct {
	Amount        *int64
	Currency      *string
	Description   *string
	Metadata      map[string]string
	Shipping      *ShippingDetail
	ClearShipping bool
	Level3        *Level3Data
}

// Empty reports whether the update carries no fields at all.
func (u UpdateParams) Empty() bool {
	return u.Amount == nil && u.Currency == nil && u.Description == nil &&
		len(u.Metadata) == 0 && u.Shipping == nil && !u.ClearShipping && u.Level3 == nil
}

// IntentClient is the narrow remote-resource contract the lifecycle manager
// drives. Implementations wrap the provider SDK; tests substitute fakes.
type IntentClient interface {
	Create(ctx context.Context, params Params) (*Intent, error)
	Retrieve(ctx context.Context, id string) (*Intent, error)
	Update(ctx context.Context, id string, params UpdateParams) (*Intent, error)
	Confirm(ctx context.Context, id string, params ConfirmParams) (*Intent, error)
	Cancel(ctx context.Context, id string) (*Intent, error)
}

// CardClient manages saved payment methods on the provider side.
type CardClient interface {
	// FindDuplicateCard returns the id of an already-saved card with the same
	// fingerprint as the given payment method, or "" when none exists.
	FindDuplicateCard(ctx context.Context, customerID, paymentMethodID string) (string, error)
	// Detach removes a saved payment method from its customer.
	Detach(ctx context.Context, paymentMethodID string) error
}

// SetupIntentClient cancels setup intents left over from previous attempts.
type SetupIntentClient interface {
	CancelSetupIntent(ctx context.Context, id string) error
}
