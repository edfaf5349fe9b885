package payments

import (
	"context"
	"testing"
	"time"
)

func TestRollbackPrepareCapturedCharge(t *testing.T) {
	store := &fakeRollbackStore{}
	recorder, err := NewRollbackRecorder(RollbackRecorderDeps{
		Store: store,
		Clock: func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewRollbackRecorder: %v", err)
	}

	intent := &Intent{
		ID: "pi_1", Currency: "usd",
		Charges: []Charge{{ID: "ch_1", Amount: 5000, Captured: true}},
	}
	if err := recorder.Prepare(context.Background(), intent, "100000123"); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if len(store.records) != 1 {
		t.Fatalf("records = %d, want 1", len(store.records))
	}
	record := store.records[0]
	if record.Type != RollbackCharge || record.Reference != "ch_1" {
		t.Fatalf("record = %+v, want charge/ch_1", record)
	}
	if record.ID == "" {
		t.Fatal("record id missing")
	}
	if record.OrderIncrementID != "100000123" {
		t.Fatalf("order = %q", record.OrderIncrementID)
	}
}

func TestRollbackPrepareUncapturedChargeCancelsIntentOnce(t *testing.T) {
	store := &fakeRollbackStore{}
	recorder, err := NewRollbackRecorder(RollbackRecorderDeps{Store: store})
	if err != nil {
		t.Fatalf("NewRollbackRecorder: %v", err)
	}

	intent := &Intent{
		ID: "pi_1", Currency: "usd",
		Charges: []Charge{
			{ID: "ch_1", Amount: 5000, Captured: false},
			{ID: "ch_2", Amount: 5000, Captured: false},
		},
	}
	if err := recorder.Prepare(context.Background(), intent, "100000123"); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	// One cancel entry covers every outstanding authorization on the intent.
	if len(store.records) != 1 {
		t.Fatalf("records = %d, want 1", len(store.records))
	}
	if store.records[0].Type != RollbackAuthorization || store.records[0].Reference != "pi_1" {
		t.Fatalf("record = %+v", store.records[0])
	}
}

func TestRollbackPrepareSkipsRefundedCharges(t *testing.T) {
	store := &fakeRollbackStore{}
	recorder, err := NewRollbackRecorder(RollbackRecorderDeps{Store: store})
	if err != nil {
		t.Fatalf("NewRollbackRecorder: %v", err)
	}

	intent := &Intent{
		ID: "pi_1", Currency: "usd",
		Charges: []Charge{{ID: "ch_1", Amount: 5000, Captured: true, Refunded: true}},
	}
	if err := recorder.Prepare(context.Background(), intent, "100000123"); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if len(store.records) != 0 {
		t.Fatalf("records = %+v, want none", store.records)
	}
}
