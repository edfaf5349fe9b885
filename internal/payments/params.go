package payments

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/currency"

	"github.com/oakmart/storefront-api/internal/domain"
	"github.com/oakmart/storefront-api/internal/platform/textutil"
)

// Params is the full request snapshot derived from a cart or order. It is the
// input to both intent creation and the diff engine, so building it is the
// single place where money, shipping and level-3 data are normalised.
type Params struct {
	Amount              int64
	Currency            string
	CaptureMethod       string
	ConfirmationMethod  string
	PaymentMethodTypes  []string
	Description         string
	Metadata            map[string]string
	Shipping            *ShippingDetail
	StatementDescriptor string
	ReceiptEmail        string
	CustomerID          string
	PaymentMethodID     string
	SavePaymentMethod   bool
	Level3              *Level3Data
}

// zeroDecimalCurrencies are the ISO codes charged in whole units rather than
// hundredths. Amounts in these currencies use a unit multiplier of 1.
var zeroDecimalCurrencies = map[string]struct{}{
	"bif": {}, "clp": {}, "djf": {}, "gnf": {}, "jpy": {}, "kmf": {},
	"krw": {}, "mga": {}, "pyg": {}, "rwf": {}, "ugx": {}, "vnd": {},
	"vuv": {}, "xaf": {}, "xof": {}, "xpf": {},
}

// UnitMultiplier returns the factor between major currency units and the minor
// units the provider expects.
func UnitMultiplier(currencyCode string) float64 {
	if _, ok := zeroDecimalCurrencies[strings.ToLower(currencyCode)]; ok {
		return 1
	}
	return 100
}

// MinorUnits converts a major-unit amount into the provider's minor units,
// rounding half away from zero.
func MinorUnits(amount float64, currencyCode string) int64 {
	return int64(math.Round(amount * UnitMultiplier(currencyCode)))
}

// MajorUnits converts provider minor units back to a major-unit amount.
func MajorUnits(amount int64, currencyCode string) float64 {
	return float64(amount) / UnitMultiplier(currencyCode)
}

// AddressLoader reloads a persisted address when the in-memory copy is
// incomplete. Quote addresses can lose their recipient name during guest
// checkout; the stored row still has it.
type AddressLoader interface {
	LoadAddress(ctx context.Context, addressID string) (*domain.Address, error)
}

// ParamBuilderConfig carries the merchant-level settings that shape every
// created intent.
type ParamBuilderConfig struct {
	// CaptureMethod is "automatic" or "manual".
	CaptureMethod string
	// PaymentMethodTypes restricts the methods offered on new intents. Empty
	// means card only.
	PaymentMethodTypes []string
	// StatementDescriptor appears on customer card statements, truncated to 22
	// characters after sanitisation.
	StatementDescriptor string
	// SendReceipts attaches the customer email so the provider mails receipts.
	SendReceipts bool
	// Level3Enabled includes extended line-item data on eligible accounts.
	Level3Enabled bool
	// ShippingFromZip is the merchant origin postal code used in level-3 data.
	ShippingFromZip string
	// MetadataTemplate is merged into every intent's metadata.
	MetadataTemplate map[string]string
}

// ParamBuilderDeps wires the builder's collaborators.
type ParamBuilderDeps struct {
	Config        ParamBuilderConfig
	Addresses     AddressLoader
	Subscriptions SubscriptionAdapter
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

// ParamBuilder derives provider request parameters from carts and orders.
type ParamBuilder struct {
	cfg           ParamBuilderConfig
	addresses     AddressLoader
	subscriptions SubscriptionAdapter
	logger        func(ctx context.Context, event string, fields map[string]any)
}

// NewParamBuilder validates dependencies and returns a builder.
func NewParamBuilder(deps ParamBuilderDeps) (*ParamBuilder, error) {
	if deps.Config.CaptureMethod == "" {
		deps.Config.CaptureMethod = CaptureMethodAutomatic
	}
	if deps.Config.CaptureMethod != CaptureMethodAutomatic && deps.Config.CaptureMethod != CaptureMethodManual {
		return nil, fmt.Errorf("payments: unsupported capture method %q", deps.Config.CaptureMethod)
	}
	if deps.Subscriptions == nil {
		deps.Subscriptions = NopSubscriptionAdapter{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &ParamBuilder{
		cfg:           deps.Config,
		addresses:     deps.Addresses,
		subscriptions: deps.Subscriptions,
		logger:        logger,
	}, nil
}

// ErrNoAmount is returned when neither the order nor the quote carries a
// positive grand total.
var ErrNoAmount = errors.New("payments: cart has no payable amount")

// Build derives Params for the given quote, preferring the order's figures
// when an order already exists. The payment record supplies the tokenised
// payment method, the save-card choice and the provider customer id.
func (b *ParamBuilder) Build(ctx context.Context, quote *domain.Quote, order *domain.Order, payment *domain.Payment) (Params, error) {
	if quote == nil && order == nil {
		return Params{}, ErrNoAmount
	}

	amount, currencyCode := b.amountAndCurrency(quote, order)
	if amount <= 0 {
		return Params{}, ErrNoAmount
	}
	code, err := normalizeCurrency(currencyCode)
	if err != nil {
		return Params{}, err
	}

	minor := MinorUnits(amount, code)
	minor, err = b.adjustForSubscriptions(ctx, minor, code, quote, order)
	if err != nil {
		return Params{}, err
	}
	if minor <= 0 {
		// Fully covered by subscription billing. The caller decides whether a
		// one-off intent is needed at all.
		minor = 0
	}

	params := Params{
		Amount:             minor,
		Currency:           code,
		CaptureMethod:      b.cfg.CaptureMethod,
		ConfirmationMethod: "manual",
		PaymentMethodTypes: b.paymentMethodTypes(),
		Metadata:           b.metadata(quote, order),
	}

	if desc := b.description(quote, order); desc != "" {
		params.Description = desc
	}
	if sd := SanitizeStatementDescriptor(b.cfg.StatementDescriptor); sd != "" {
		params.StatementDescriptor = sd
	}
	if b.cfg.SendReceipts {
		params.ReceiptEmail = customerEmail(quote, order)
	}

	params.Shipping = b.shipping(ctx, quote, order)

	if b.cfg.Level3Enabled {
		params.Level3 = b.level3(quote, order, code)
	}

	if payment != nil {
		if token := payment.AdditionalInformation(domain.PaymentInfoToken); strings.HasPrefix(token, "pm_") {
			params.PaymentMethodID = token
		}
		params.SavePaymentMethod = payment.AdditionalInformation(domain.PaymentInfoSaveCard) == "1"
		params.CustomerID = payment.AdditionalInformation(domain.PaymentInfoCustomerStripeID)
	}

	return params, nil
}

func (b *ParamBuilder) amountAndCurrency(quote *domain.Quote, order *domain.Order) (float64, string) {
	if order != nil {
		return order.GrandTotal, order.CurrencyCode
	}
	return quote.GrandTotal, quote.CurrencyCode
}

// adjustForSubscriptions removes recurring product totals from the one-off
// charge. The subtraction happens in major units so rounding is applied once,
// on the final figure.
func (b *ParamBuilder) adjustForSubscriptions(ctx context.Context, minor int64, code string, quote *domain.Quote, order *domain.Order) (int64, error) {
	var items []domain.QuoteItem
	switch {
	case order != nil:
		items = orderItemsAsQuoteItems(order.Items)
	case quote != nil:
		items = quote.Items
	}
	if !b.subscriptions.HasSubscriptions(items) {
		return minor, nil
	}
	total, err := b.subscriptions.SubscriptionsTotal(ctx, quote, order)
	if err != nil {
		return 0, fmt.Errorf("payments: subscriptions total: %w", err)
	}
	if total <= 0 {
		return minor, nil
	}
	adjusted := int64(math.Round((MajorUnits(minor, code) - total) * UnitMultiplier(code)))
	b.logger(ctx, "payments.amount_adjusted_for_subscriptions", map[string]any{
		"amount":              minor,
		"subscriptions_total": total,
		"adjusted":            adjusted,
	})
	return adjusted, nil
}

func (b *ParamBuilder) paymentMethodTypes() []string {
	if len(b.cfg.PaymentMethodTypes) == 0 {
		return []string{"card"}
	}
	out := make([]string, len(b.cfg.PaymentMethodTypes))
	copy(out, b.cfg.PaymentMethodTypes)
	return out
}

func (b *ParamBuilder) metadata(quote *domain.Quote, order *domain.Order) map[string]string {
	md := make(map[string]string, len(b.cfg.MetadataTemplate)+2)
	for k, v := range b.cfg.MetadataTemplate {
		md[k] = v
	}
	if order != nil && order.IncrementID != "" {
		md["order_number"] = order.IncrementID
	}
	if quote != nil && quote.ID != "" {
		md["cart_id"] = quote.ID
	}
	return textutil.NormalizeStringMap(md)
}

func (b *ParamBuilder) description(quote *domain.Quote, order *domain.Order) string {
	if order != nil && order.IncrementID != "" {
		return "Order #" + order.IncrementID
	}
	if quote != nil && quote.ReservedOrderID != "" {
		return "Order #" + quote.ReservedOrderID
	}
	return ""
}

// shipping resolves the shipping detail for the request. Virtual carts have
// none. A nameless address is reloaded from storage once; if the name is still
// missing the detail is omitted rather than sent incomplete.
func (b *ParamBuilder) shipping(ctx context.Context, quote *domain.Quote, order *domain.Order) *ShippingDetail {
	var (
		addr    *domain.Address
		virtual bool
	)
	switch {
	case order != nil:
		addr, virtual = order.ShippingAddress, order.IsVirtual
	case quote != nil:
		addr, virtual = quote.ShippingAddress, quote.IsVirtual
	}
	if virtual || addr == nil {
		return nil
	}
	if addr.Name() == "" && addr.ID != "" && b.addresses != nil {
		loaded, err := b.addresses.LoadAddress(ctx, addr.ID)
		if err != nil {
			b.logger(ctx, "payments.address_reload_failed", map[string]any{
				"address_id": addr.ID,
				"error":      err.Error(),
			})
		} else if loaded != nil {
			addr = loaded
		}
	}
	if addr.Name() == "" {
		return nil
	}
	return shippingFromAddress(addr)
}

func shippingFromAddress(addr *domain.Address) *ShippingDetail {
	detail := &ShippingDetail{
		Name:  addr.Name(),
		Phone: addr.Telephone,
		Address: AddressDetail{
			City:       addr.City,
			Country:    addr.CountryID,
			PostalCode: addr.PostalCode,
			State:      addr.Region,
		},
	}
	if len(addr.Street) > 0 {
		detail.Address.Line1 = addr.Street[0]
	}
	if len(addr.Street) > 1 {
		detail.Address.Line2 = strings.Join(addr.Street[1:], " ")
	}
	return detail
}

func (b *ParamBuilder) level3(quote *domain.Quote, order *domain.Order, code string) *Level3Data {
	data := &Level3Data{ShippingFromZip: b.cfg.ShippingFromZip}
	switch {
	case order != nil:
		data.MerchantReference = order.IncrementID
		data.CustomerReference = order.CustomerID
		data.ShippingAmount = MinorUnits(order.ShippingAmount, code)
		if order.ShippingAddress != nil {
			data.ShippingAddressZip = order.ShippingAddress.PostalCode
		}
		for _, item := range order.Items {
			data.LineItems = append(data.LineItems, Level3LineItem{
				ProductCode:        level3ProductCode(item.SKU),
				ProductDescription: level3Description(item.Name),
				UnitCost:           MinorUnits(item.Price, code),
				Quantity:           item.QtyOrdered,
				TaxAmount:          MinorUnits(item.TaxAmount, code),
				DiscountAmount:     MinorUnits(item.DiscountAmount, code),
			})
		}
	case quote != nil:
		data.MerchantReference = quote.ReservedOrderID
		data.CustomerReference = quote.CustomerID
		data.ShippingAmount = MinorUnits(quote.ShippingAmount, code)
		if quote.ShippingAddress != nil {
			data.ShippingAddressZip = quote.ShippingAddress.PostalCode
		}
		for _, item := range quote.Items {
			data.LineItems = append(data.LineItems, Level3LineItem{
				ProductCode:        level3ProductCode(item.SKU),
				ProductDescription: level3Description(item.Name),
				UnitCost:           MinorUnits(item.Price, code),
				Quantity:           item.Qty,
				TaxAmount:          MinorUnits(item.TaxAmount, code),
				DiscountAmount:     MinorUnits(item.DiscountAmount, code),
			})
		}
	}
	if len(data.LineItems) == 0 {
		return nil
	}
	return data
}

// Card networks cap level-3 product fields at 12 and 26 characters.
func level3ProductCode(sku string) string {
	return truncate(sku, 12)
}

func level3Description(name string) string {
	return truncate(name, 26)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// SanitizeStatementDescriptor strips the characters card networks reject and
// enforces the 22-character limit.
func SanitizeStatementDescriptor(descriptor string) string {
	replacer := strings.NewReplacer("<", "", ">", "", `\`, "", "'", "", `"`, "", "*", "")
	cleaned := strings.TrimSpace(replacer.Replace(descriptor))
	return truncate(cleaned, 22)
}

func normalizeCurrency(code string) (string, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", fmt.Errorf("payments: invalid currency %q: %w", code, err)
	}
	return strings.ToLower(unit.String()), nil
}

func customerEmail(quote *domain.Quote, order *domain.Order) string {
	if order != nil && order.CustomerEmail != "" {
		return order.CustomerEmail
	}
	if quote != nil {
		return quote.CustomerEmail
	}
	return ""
}

func orderItemsAsQuoteItems(items []domain.OrderItem) []domain.QuoteItem {
	out := make([]domain.QuoteItem, 0, len(items))
	for _, item := range items {
		out = append(out, domain.QuoteItem{
			ID:             item.ID,
			ProductID:      item.ProductID,
			ProductType:    item.ProductType,
			SKU:            item.SKU,
			Name:           item.Name,
			Qty:            item.QtyOrdered,
			Price:          item.Price,
			TaxAmount:      item.TaxAmount,
			DiscountAmount: item.DiscountAmount,
			Subscription:   item.Subscription,
		})
	}
	return out
}
