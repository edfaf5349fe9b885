// Package intentstore persists the pointer from a cart to its live payment
// intent. Browser checkouts keep the pointer in process memory for the session
// lifetime; headless API checkouts use the Firestore store, where pointers
// expire after twelve hours so abandoned carts do not pin intents forever.
package intentstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// DefaultTTL is how long an API-context pointer stays valid.
const DefaultTTL = 12 * time.Hour

// ErrNotFound is returned when no live pointer exists for a cart.
var ErrNotFound = errors.New("intentstore: no intent for cart")

// Pointer links a cart to its current payment intent.
type Pointer struct {
	CartID    string
	IntentID  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store persists cart-to-intent pointers. A cart has at most one pointer;
// Put always overwrites.
type Store interface {
	Get(ctx context.Context, cartID string) (Pointer, error)
	Put(ctx context.Context, pointer Pointer) error
	Delete(ctx context.Context, cartID string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

func docKey(cartID string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(cartID)))
	return hex.EncodeToString(sum[:])
}
