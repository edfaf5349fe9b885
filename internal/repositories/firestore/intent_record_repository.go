package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	pfirestore "github.com/oakmart/storefront-api/internal/platform/firestore"
	"github.com/oakmart/storefront-api/internal/payments"
	"github.com/oakmart/storefront-api/internal/repositories"
)

const intentRecordCollection = "payment_intents"

// IntentRecordRepository persists the intent-to-order association in Firestore.
type IntentRecordRepository struct {
	base *pfirestore.BaseRepository[intentRecordDocument]
}

// NewIntentRecordRepository constructs a Firestore-backed intent record repository.
func NewIntentRecordRepository(provider *pfirestore.Provider) (*IntentRecordRepository, error) {
	if provider == nil {
		return nil, errors.New("intent record repository requires firestore provider")
	}
	return &IntentRecordRepository{
		base: pfirestore.NewBaseRepository[intentRecordDocument](provider, intentRecordCollection, nil, nil),
	}, nil
}

// Save upserts the record keyed by intent id.
func (r *IntentRecordRepository) Save(ctx context.Context, record payments.IntentRecord) error {
	id := strings.TrimSpace(record.IntentID)
	if id == "" {
		return errors.New("intent record repository: intent id is required")
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}
	_, err := r.base.Set(ctx, id, intentRecordDocument{
		IntentID:         record.IntentID,
		QuoteID:          record.QuoteID,
		OrderIncrementID: record.OrderIncrementID,
		CustomerID:       record.CustomerID,
		PaymentMethodID:  record.PaymentMethodID,
		UpdatedAt:        record.UpdatedAt,
	})
	return err
}

// SaveIntentRecord satisfies the payments.IntentRecordStore contract.
func (r *IntentRecordRepository) SaveIntentRecord(ctx context.Context, record payments.IntentRecord) error {
	return r.Save(ctx, record)
}

// FindByIntentID loads the record for an intent, typically during webhook handling.
func (r *IntentRecordRepository) FindByIntentID(ctx context.Context, intentID string) (payments.IntentRecord, error) {
	id := strings.TrimSpace(intentID)
	if id == "" {
		return payments.IntentRecord{}, errors.New("intent record repository: intent id is required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return payments.IntentRecord{}, err
	}
	return payments.IntentRecord{
		IntentID:         doc.Data.IntentID,
		QuoteID:          doc.Data.QuoteID,
		OrderIncrementID: doc.Data.OrderIncrementID,
		CustomerID:       doc.Data.CustomerID,
		PaymentMethodID:  doc.Data.PaymentMethodID,
		UpdatedAt:        doc.Data.UpdatedAt,
	}, nil
}

// DeleteByIntentID removes the record. Deleting an absent record is not an error.
func (r *IntentRecordRepository) DeleteByIntentID(ctx context.Context, intentID string) error {
	id := strings.TrimSpace(intentID)
	if id == "" {
		return errors.New("intent record repository: intent id is required")
	}
	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		wrapped := pfirestore.WrapError("paymentIntents.delete", err)
		var repoErr repositories.RepositoryError
		if errors.As(wrapped, &repoErr) && repoErr.IsNotFound() {
			return nil
		}
		return wrapped
	}
	return nil
}

type intentRecordDocument struct {
	IntentID         string    `firestore:"intent_id"`
	QuoteID          string    `firestore:"quote_id,omitempty"`
	OrderIncrementID string    `firestore:"order_increment_id,omitempty"`
	CustomerID       string    `firestore:"customer_id,omitempty"`
	PaymentMethodID  string    `firestore:"payment_method_id,omitempty"`
	UpdatedAt        time.Time `firestore:"updated_at"`
}

var _ repositories.IntentRecordRepository = (*IntentRecordRepository)(nil)
var _ payments.IntentRecordStore = (*IntentRecordRepository)(nil)
