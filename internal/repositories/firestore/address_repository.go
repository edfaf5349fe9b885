package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/oakmart/storefront-api/internal/domain"
	pfirestore "github.com/oakmart/storefront-api/internal/platform/firestore"
	"github.com/oakmart/storefront-api/internal/repositories"
)

const addressCollection = "addresses"

// AddressRepository loads persisted customer addresses. Quote documents embed
// an address snapshot; this repository serves the fallback path where the
// snapshot lost its recipient name and the stored row still has it.
type AddressRepository struct {
	provider *pfirestore.Provider
}

// NewAddressRepository constructs a Firestore-backed address repository.
func NewAddressRepository(provider *pfirestore.Provider) (*AddressRepository, error) {
	if provider == nil {
		return nil, errors.New("address repository requires firestore provider")
	}
	return &AddressRepository{provider: provider}, nil
}

// Get loads one address document by id.
func (r *AddressRepository) Get(ctx context.Context, addressID string) (domain.Address, error) {
	id := strings.TrimSpace(addressID)
	if id == "" {
		return domain.Address{}, errors.New("address repository: address id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Address{}, err
	}
	snap, err := client.Collection(addressCollection).Doc(id).Get(ctx)
	if err != nil {
		return domain.Address{}, pfirestore.WrapError("addresses.get", err)
	}
	var doc addressDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Address{}, fmt.Errorf("decode address %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

type addressDocument struct {
	ID         string   `firestore:"id,omitempty"`
	FirstName  string   `firestore:"first_name,omitempty"`
	LastName   string   `firestore:"last_name,omitempty"`
	Street     []string `firestore:"street,omitempty"`
	City       string   `firestore:"city,omitempty"`
	Region     string   `firestore:"region,omitempty"`
	PostalCode string   `firestore:"postal_code,omitempty"`
	CountryID  string   `firestore:"country_id,omitempty"`
	Telephone  string   `firestore:"telephone,omitempty"`
}

func addressFromDomain(addr domain.Address) addressDocument {
	return addressDocument{
		ID:         addr.ID,
		FirstName:  addr.FirstName,
		LastName:   addr.LastName,
		Street:     addr.Street,
		City:       addr.City,
		Region:     addr.Region,
		PostalCode: addr.PostalCode,
		CountryID:  addr.CountryID,
		Telephone:  addr.Telephone,
	}
}

func (d addressDocument) toDomain(id string) domain.Address {
	if id == "" {
		id = d.ID
	}
	return domain.Address{
		ID:         id,
		FirstName:  d.FirstName,
		LastName:   d.LastName,
		Street:     d.Street,
		City:       d.City,
		Region:     d.Region,
		PostalCode: d.PostalCode,
		CountryID:  d.CountryID,
		Telephone:  d.Telephone,
	}
}

var _ repositories.AddressRepository = (*AddressRepository)(nil)
