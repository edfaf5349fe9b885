package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/oakmart/storefront-api/internal/domain"
	pfirestore "github.com/oakmart/storefront-api/internal/platform/firestore"
	"github.com/oakmart/storefront-api/internal/repositories"
)

const orderCollection = "orders"

// OrderRepository persists placed orders keyed by their increment id.
type OrderRepository struct {
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{provider: provider}, nil
}

// Insert writes a new order document.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	return r.write(ctx, order, "orders.insert")
}

// Update overwrites the order document with its current state.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	return r.write(ctx, order, "orders.update")
}

func (r *OrderRepository) write(ctx context.Context, order domain.Order, op string) error {
	id := strings.TrimSpace(order.IncrementID)
	if id == "" {
		return errors.New("order repository: increment id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	if _, err := client.Collection(orderCollection).Doc(id).Set(ctx, orderFromDomain(order)); err != nil {
		return pfirestore.WrapError(op, err)
	}
	return nil
}

// FindByIncrementID loads one order document.
func (r *OrderRepository) FindByIncrementID(ctx context.Context, incrementID string) (domain.Order, error) {
	id := strings.TrimSpace(incrementID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: increment id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	snap, err := client.Collection(orderCollection).Doc(id).Get(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.findByIncrementID", err)
	}
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

type orderDocument struct {
	QuoteID          string              `firestore:"quote_id,omitempty"`
	CustomerID       string              `firestore:"customer_id,omitempty"`
	CustomerEmail    string              `firestore:"customer_email,omitempty"`
	CurrencyCode     string              `firestore:"currency_code"`
	BaseCurrencyCode string              `firestore:"base_currency_code,omitempty"`
	GrandTotal       float64             `firestore:"grand_total"`
	BaseGrandTotal   float64             `firestore:"base_grand_total,omitempty"`
	ShippingAmount   float64             `firestore:"shipping_amount,omitempty"`
	IsVirtual        bool                `firestore:"is_virtual"`
	ShippingAddress  *addressDocument    `firestore:"shipping_address,omitempty"`
	Items            []orderItemDocument `firestore:"items"`
	Payment          *paymentDocument    `firestore:"payment,omitempty"`
	Invoices         []invoiceDocument   `firestore:"invoices,omitempty"`
	StatusHistory    []string            `firestore:"status_history,omitempty"`
	CanSendNewEmail  bool                `firestore:"can_send_new_email,omitempty"`
	CreatedAt        time.Time           `firestore:"created_at"`
}

type orderItemDocument struct {
	ID             string  `firestore:"id,omitempty"`
	ProductID      string  `firestore:"product_id,omitempty"`
	ProductType    string  `firestore:"product_type,omitempty"`
	SKU            string  `firestore:"sku"`
	Name           string  `firestore:"name"`
	QtyOrdered     int64   `firestore:"qty_ordered"`
	QtyInvoiced    int64   `firestore:"qty_invoiced,omitempty"`
	Price          float64 `firestore:"price"`
	TaxAmount      float64 `firestore:"tax_amount,omitempty"`
	DiscountAmount float64 `firestore:"discount_amount,omitempty"`
	Subscription   bool    `firestore:"subscription,omitempty"`
}

type paymentDocument struct {
	TransactionID      string            `firestore:"transaction_id,omitempty"`
	LastTransID        string            `firestore:"last_trans_id,omitempty"`
	TransactionClosed  bool              `firestore:"transaction_closed,omitempty"`
	TransactionPending bool              `firestore:"transaction_pending,omitempty"`
	FraudDetected      bool              `firestore:"fraud_detected,omitempty"`
	AdditionalInfo     map[string]string `firestore:"additional_info,omitempty"`
}

type invoiceDocument struct {
	TransactionID  string `firestore:"transaction_id"`
	Amount         int64  `firestore:"amount"`
	Currency       string `firestore:"currency"`
	CaptureOffline bool   `firestore:"capture_offline,omitempty"`
	State          string `firestore:"state"`
}

func orderFromDomain(order domain.Order) orderDocument {
	doc := orderDocument{
		QuoteID:          order.QuoteID,
		CustomerID:       order.CustomerID,
		CustomerEmail:    order.CustomerEmail,
		CurrencyCode:     order.CurrencyCode,
		BaseCurrencyCode: order.BaseCurrencyCode,
		GrandTotal:       order.GrandTotal,
		BaseGrandTotal:   order.BaseGrandTotal,
		ShippingAmount:   order.ShippingAmount,
		IsVirtual:        order.IsVirtual,
		StatusHistory:    order.StatusHistory,
		CanSendNewEmail:  order.CanSendNewEmail,
		CreatedAt:        order.CreatedAt,
	}
	if order.ShippingAddress != nil {
		addr := addressFromDomain(*order.ShippingAddress)
		doc.ShippingAddress = &addr
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument(item))
	}
	if order.Payment != nil {
		doc.Payment = &paymentDocument{
			TransactionID:      order.Payment.TransactionID,
			LastTransID:        order.Payment.LastTransID,
			TransactionClosed:  order.Payment.TransactionClosed,
			TransactionPending: order.Payment.TransactionPending,
			FraudDetected:      order.Payment.FraudDetected,
			AdditionalInfo:     order.Payment.AdditionalInformationMap(),
		}
	}
	for _, invoice := range order.Invoices {
		doc.Invoices = append(doc.Invoices, invoiceDocument{
			TransactionID:  invoice.TransactionID,
			Amount:         invoice.Amount,
			Currency:       invoice.Currency,
			CaptureOffline: invoice.CaptureOffline,
			State:          string(invoice.State),
		})
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	order := domain.Order{
		IncrementID:      id,
		QuoteID:          d.QuoteID,
		CustomerID:       d.CustomerID,
		CustomerEmail:    d.CustomerEmail,
		CurrencyCode:     d.CurrencyCode,
		BaseCurrencyCode: d.BaseCurrencyCode,
		GrandTotal:       d.GrandTotal,
		BaseGrandTotal:   d.BaseGrandTotal,
		ShippingAmount:   d.ShippingAmount,
		IsVirtual:        d.IsVirtual,
		StatusHistory:    d.StatusHistory,
		CanSendNewEmail:  d.CanSendNewEmail,
		CreatedAt:        d.CreatedAt,
	}
	if d.ShippingAddress != nil {
		addr := d.ShippingAddress.toDomain(d.ShippingAddress.ID)
		order.ShippingAddress = &addr
	}
	for _, item := range d.Items {
		order.Items = append(order.Items, domain.OrderItem(item))
	}
	if d.Payment != nil {
		payment := domain.NewPayment(d.Payment.AdditionalInfo)
		payment.TransactionID = d.Payment.TransactionID
		payment.LastTransID = d.Payment.LastTransID
		payment.TransactionClosed = d.Payment.TransactionClosed
		payment.TransactionPending = d.Payment.TransactionPending
		payment.FraudDetected = d.Payment.FraudDetected
		order.Payment = payment
	}
	for _, invoice := range d.Invoices {
		order.Invoices = append(order.Invoices, domain.Invoice{
			TransactionID:  invoice.TransactionID,
			Amount:         invoice.Amount,
			Currency:       invoice.Currency,
			CaptureOffline: invoice.CaptureOffline,
			State:          domain.InvoiceState(invoice.State),
		})
	}
	return order
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
