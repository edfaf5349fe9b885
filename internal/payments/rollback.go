package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// RollbackType distinguishes how a recorded payment is undone.
type RollbackType string

const (
	// RollbackCharge marks a captured charge that must be refunded.
	RollbackCharge RollbackType = "charge"
	// RollbackAuthorization marks an uncaptured intent that must be canceled.
	RollbackAuthorization RollbackType = "authorization"
)

// RollbackRecord is one pending compensation entry. A reconciliation job
// drains the collection and issues the refund or cancellation.
type RollbackRecord struct {
	ID               string
	Type             RollbackType
	Reference        string
	Amount           int64
	Currency         string
	OrderIncrementID string
	CreatedAt        time.Time
}

// RollbackStore persists rollback records.
type RollbackStore interface {
	Save(ctx context.Context, record RollbackRecord) error
}

// RollbackRecorderDeps wires the recorder.
type RollbackRecorderDeps struct {
	Store  RollbackStore
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

// RollbackRecorder writes compensation entries for an intent's charges. It is
// invoked around confirmation regardless of outcome, so a crash between the
// provider call and order persistence still leaves a trail to act on.
type RollbackRecorder struct {
	store  RollbackStore
	clock  func() time.Time
	logger func(ctx context.Context, event string, fields map[string]any)
}

// NewRollbackRecorder validates dependencies and returns a recorder.
func NewRollbackRecorder(deps RollbackRecorderDeps) (*RollbackRecorder, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("payments: rollback recorder requires a store")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &RollbackRecorder{store: deps.Store, clock: clock, logger: logger}, nil
}

// Prepare records compensation entries for every charge on the intent.
// Captured charges become refund entries. The first uncaptured charge becomes
// a single cancel entry for the whole intent, since canceling the intent
// releases every outstanding authorization at once.
func (r *RollbackRecorder) Prepare(ctx context.Context, intent *Intent, orderIncrementID string) error {
	if intent == nil {
		return nil
	}
	now := r.clock().UTC()
	for _, charge := range intent.Charges {
		if charge.Refunded {
			continue
		}
		record := RollbackRecord{
			ID:               ulid.Make().String(),
			Amount:           charge.Amount,
			Currency:         intent.Currency,
			OrderIncrementID: orderIncrementID,
			CreatedAt:        now,
		}
		if charge.Captured {
			record.Type = RollbackCharge
			record.Reference = charge.ID
		} else {
			record.Type = RollbackAuthorization
			record.Reference = intent.ID
		}
		if err := r.store.Save(ctx, record); err != nil {
			return fmt.Errorf("payments: save rollback record: %w", err)
		}
		r.logger(ctx, "payments.rollback_prepared", map[string]any{
			"type":      string(record.Type),
			"reference": record.Reference,
			"order":     orderIncrementID,
		})
		if record.Type == RollbackAuthorization {
			break
		}
	}
	return nil
}
