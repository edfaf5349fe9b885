package intentstore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStorePutOverwrites(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.Put(ctx, Pointer{CartID: "cart-1", IntentID: "pi_1"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Put(ctx, Pointer{CartID: "cart-1", IntentID: "pi_2"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	pointer, err := store.Get(ctx, "cart-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if pointer.IntentID != "pi_2" {
		t.Fatalf("intent id = %q, want pi_2 (latest wins)", pointer.IntentID)
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Get(context.Background(), "cart-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreExpiredPointerIsAbsent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	expired := Pointer{
		CartID:    "cart-1",
		IntentID:  "pi_1",
		CreatedAt: time.Now().Add(-13 * time.Hour),
		ExpiresAt: time.Now().Add(-time.Hour),
	}
	if err := store.Put(ctx, expired); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := store.Get(ctx, "cart-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound for expired pointer", err)
	}
}

func TestMemoryStoreDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.Put(ctx, Pointer{CartID: "cart-1", IntentID: "pi_1"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Delete(ctx, "cart-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, "cart-1"); err != nil {
		t.Fatalf("Delete (second): %v", err)
	}
	if _, err := store.Get(ctx, "cart-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreCleanupExpired(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()

	pointers := []Pointer{
		{CartID: "cart-1", IntentID: "pi_1", ExpiresAt: now.Add(-time.Hour)},
		{CartID: "cart-2", IntentID: "pi_2", ExpiresAt: now.Add(-time.Minute)},
		{CartID: "cart-3", IntentID: "pi_3", ExpiresAt: now.Add(time.Hour)},
	}
	for _, pointer := range pointers {
		if err := store.Put(ctx, pointer); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	removed, err := store.CleanupExpired(ctx, now, 0)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if _, err := store.Get(ctx, "cart-3"); err != nil {
		t.Fatalf("live pointer lost: %v", err)
	}
}
