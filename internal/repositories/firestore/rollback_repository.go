package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	pfirestore "github.com/oakmart/storefront-api/internal/platform/firestore"
	"github.com/oakmart/storefront-api/internal/payments"
	"github.com/oakmart/storefront-api/internal/repositories"
)

const rollbackCollection = "payment_rollbacks"

// RollbackRepository stores pending payment compensation entries.
type RollbackRepository struct {
	provider *pfirestore.Provider
}

// NewRollbackRepository constructs a Firestore-backed rollback repository.
func NewRollbackRepository(provider *pfirestore.Provider) (*RollbackRepository, error) {
	if provider == nil {
		return nil, errors.New("rollback repository requires firestore provider")
	}
	return &RollbackRepository{provider: provider}, nil
}

// Save writes one compensation entry.
func (r *RollbackRepository) Save(ctx context.Context, record payments.RollbackRecord) error {
	id := strings.TrimSpace(record.ID)
	if id == "" {
		return errors.New("rollback repository: record id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if _, err := client.Collection(rollbackCollection).Doc(id).Set(ctx, rollbackDocument{
		Type:             string(record.Type),
		Reference:        record.Reference,
		Amount:           record.Amount,
		Currency:         record.Currency,
		OrderIncrementID: record.OrderIncrementID,
		CreatedAt:        record.CreatedAt,
	}); err != nil {
		return pfirestore.WrapError("paymentRollbacks.save", err)
	}
	return nil
}

// ListPending returns the oldest entries first so the reconciliation job
// drains them in order.
func (r *RollbackRepository) ListPending(ctx context.Context, limit int) ([]payments.RollbackRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	iter := client.Collection(rollbackCollection).OrderBy("created_at", firestore.Asc).Limit(limit).Documents(ctx)
	defer iter.Stop()

	var records []payments.RollbackRecord
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("paymentRollbacks.listPending", err)
		}
		var doc rollbackDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode rollback %s: %w", snap.Ref.ID, err)
		}
		records = append(records, payments.RollbackRecord{
			ID:               snap.Ref.ID,
			Type:             payments.RollbackType(doc.Type),
			Reference:        doc.Reference,
			Amount:           doc.Amount,
			Currency:         doc.Currency,
			OrderIncrementID: doc.OrderIncrementID,
			CreatedAt:        doc.CreatedAt,
		})
	}
	return records, nil
}

// Delete removes a drained entry.
func (r *RollbackRepository) Delete(ctx context.Context, id string) error {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return errors.New("rollback repository: record id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	if _, err := client.Collection(rollbackCollection).Doc(trimmed).Delete(ctx); err != nil {
		return pfirestore.WrapError("paymentRollbacks.delete", err)
	}
	return nil
}

type rollbackDocument struct {
	Type             string    `firestore:"type"`
	Reference        string    `firestore:"reference"`
	Amount           int64     `firestore:"amount,omitempty"`
	Currency         string    `firestore:"currency,omitempty"`
	OrderIncrementID string    `firestore:"order_increment_id,omitempty"`
	CreatedAt        time.Time `firestore:"created_at"`
}

var _ repositories.RollbackRepository = (*RollbackRepository)(nil)
var _ payments.RollbackStore = (*RollbackRepository)(nil)
