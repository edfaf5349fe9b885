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

const quoteCollection = "quotes"

// QuoteRepository persists carts in Firestore.
type QuoteRepository struct {
	provider *pfirestore.Provider
}

// NewQuoteRepository constructs a Firestore-backed quote repository.
func NewQuoteRepository(provider *pfirestore.Provider) (*QuoteRepository, error) {
	if provider == nil {
		return nil, errors.New("quote repository requires firestore provider")
	}
	return &QuoteRepository{provider: provider}, nil
}

// FindByID loads the quote document.
func (r *QuoteRepository) FindByID(ctx context.Context, quoteID string) (domain.Quote, error) {
	id := strings.TrimSpace(quoteID)
	if id == "" {
		return domain.Quote{}, errors.New("quote repository: quote id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Quote{}, err
	}
	snap, err := client.Collection(quoteCollection).Doc(id).Get(ctx)
	if err != nil {
		return domain.Quote{}, pfirestore.WrapError("quotes.findByID", err)
	}
	var doc quoteDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Quote{}, fmt.Errorf("decode quote %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

// Save persists the quote. The reserved order number is written back so a
// retried checkout places the order under the same increment id.
func (r *QuoteRepository) Save(ctx context.Context, quote domain.Quote) (domain.Quote, error) {
	id := strings.TrimSpace(quote.ID)
	if id == "" {
		return domain.Quote{}, errors.New("quote repository: quote id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Quote{}, err
	}
	quote.UpdatedAt = time.Now().UTC()
	if _, err := client.Collection(quoteCollection).Doc(id).Set(ctx, quoteFromDomain(quote)); err != nil {
		return domain.Quote{}, pfirestore.WrapError("quotes.save", err)
	}
	return quote, nil
}

type quoteDocument struct {
	ReservedOrderID   string              `firestore:"reserved_order_id,omitempty"`
	CustomerID        string              `firestore:"customer_id,omitempty"`
	CustomerEmail     string              `firestore:"customer_email,omitempty"`
	CurrencyCode      string              `firestore:"currency_code"`
	BaseCurrencyCode  string              `firestore:"base_currency_code,omitempty"`
	GrandTotal        float64             `firestore:"grand_total"`
	BaseGrandTotal    float64             `firestore:"base_grand_total,omitempty"`
	ShippingAmount    float64             `firestore:"shipping_amount,omitempty"`
	IsVirtual         bool                `firestore:"is_virtual"`
	ShippingAddress   *addressDocument    `firestore:"shipping_address,omitempty"`
	ShippingAddressID string              `firestore:"shipping_address_id,omitempty"`
	Items             []quoteItemDocument `firestore:"items"`
	UpdatedAt         time.Time           `firestore:"updated_at"`
}

type quoteItemDocument struct {
	ID             string  `firestore:"id,omitempty"`
	ProductID      string  `firestore:"product_id,omitempty"`
	ProductType    string  `firestore:"product_type,omitempty"`
	SKU            string  `firestore:"sku"`
	Name           string  `firestore:"name"`
	Qty            int64   `firestore:"qty"`
	Price          float64 `firestore:"price"`
	TaxAmount      float64 `firestore:"tax_amount,omitempty"`
	DiscountAmount float64 `firestore:"discount_amount,omitempty"`
	Subscription   bool    `firestore:"subscription,omitempty"`
}

func quoteFromDomain(quote domain.Quote) quoteDocument {
	doc := quoteDocument{
		ReservedOrderID:   quote.ReservedOrderID,
		CustomerID:        quote.CustomerID,
		CustomerEmail:     quote.CustomerEmail,
		CurrencyCode:      quote.CurrencyCode,
		BaseCurrencyCode:  quote.BaseCurrencyCode,
		GrandTotal:        quote.GrandTotal,
		BaseGrandTotal:    quote.BaseGrandTotal,
		ShippingAmount:    quote.ShippingAmount,
		IsVirtual:         quote.IsVirtual,
		ShippingAddressID: quote.ShippingAddressID,
		UpdatedAt:         quote.UpdatedAt,
	}
	if quote.ShippingAddress != nil {
		addr := addressFromDomain(*quote.ShippingAddress)
		doc.ShippingAddress = &addr
	}
	for _, item := range quote.Items {
		doc.Items = append(doc.Items, quoteItemDocument(item))
	}
	return doc
}

func (d quoteDocument) toDomain(id string) domain.Quote {
	quote := domain.Quote{
		ID:                id,
		ReservedOrderID:   d.ReservedOrderID,
		CustomerID:        d.CustomerID,
		CustomerEmail:     d.CustomerEmail,
		CurrencyCode:      d.CurrencyCode,
		BaseCurrencyCode:  d.BaseCurrencyCode,
		GrandTotal:        d.GrandTotal,
		BaseGrandTotal:    d.BaseGrandTotal,
		ShippingAmount:    d.ShippingAmount,
		IsVirtual:         d.IsVirtual,
		ShippingAddressID: d.ShippingAddressID,
		UpdatedAt:         d.UpdatedAt,
	}
	if d.ShippingAddress != nil {
		addr := d.ShippingAddress.toDomain(d.ShippingAddress.ID)
		quote.ShippingAddress = &addr
	}
	for _, item := range d.Items {
		quote.Items = append(quote.Items, domain.QuoteItem(item))
	}
	return quote
}

var _ repositories.QuoteRepository = (*QuoteRepository)(nil)
