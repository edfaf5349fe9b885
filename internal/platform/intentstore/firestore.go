package intentstore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultCollection = "payment_intent_pointers"

// FirestoreOption customises the FirestoreStore behaviour.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection name used to store pointers.
func WithCollection(name string) FirestoreOption {
	return func(store *FirestoreStore) {
		if name != "" {
			store.collection = name
		}
	}
}

// WithTTL overrides the pointer lifetime.
func WithTTL(ttl time.Duration) FirestoreOption {
	return func(store *FirestoreStore) {
		if ttl > 0 {
			store.ttl = ttl
		}
	}
}

// FirestoreStore implements Store backed by Google Cloud Firestore. It serves
// API-context checkouts where no browser session exists to hold the pointer.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	ttl        time.Duration
}

// NewFirestoreStore constructs a Firestore-backed pointer store.
func NewFirestoreStore(client *firestore.Client, opts ...FirestoreOption) *FirestoreStore {
	store := &FirestoreStore{
		client:     client,
		collection: defaultCollection,
		ttl:        DefaultTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

// Get returns the live pointer for the cart, treating expired documents as
// absent.
func (s *FirestoreStore) Get(ctx context.Context, cartID string) (Pointer, error) {
	snap, err := s.client.Collection(s.collection).Doc(docKey(cartID)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return Pointer{}, ErrNotFound
		}
		return Pointer{}, err
	}

	var record firestorePointer
	if err := snap.DataTo(&record); err != nil {
		return Pointer{}, err
	}
	pointer := record.toPointer()
	if !pointer.ExpiresAt.IsZero() && !time.Now().UTC().Before(pointer.ExpiresAt) {
		return Pointer{}, ErrNotFound
	}
	return pointer, nil
}

// Put overwrites the cart's pointer, stamping the expiry from the store TTL
// when the pointer does not carry one.
func (s *FirestoreStore) Put(ctx context.Context, pointer Pointer) error {
	now := time.Now().UTC()
	if pointer.CreatedAt.IsZero() {
		pointer.CreatedAt = now
	}
	if pointer.ExpiresAt.IsZero() {
		pointer.ExpiresAt = now.Add(s.ttl)
	}
	_, err := s.client.Collection(s.collection).Doc(docKey(pointer.CartID)).Set(ctx, firestorePointer{
		CartID:    pointer.CartID,
		IntentID:  pointer.IntentID,
		CreatedAt: pointer.CreatedAt,
		ExpiresAt: pointer.ExpiresAt,
	})
	return err
}

// Delete removes the cart's pointer. Deleting an absent pointer is not an error.
func (s *FirestoreStore) Delete(ctx context.Context, cartID string) error {
	_, err := s.client.Collection(s.collection).Doc(docKey(cartID)).Delete(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}

// CleanupExpired removes expired pointers up to the provided limit.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()
	if limit <= 0 {
		limit = 100
	}

	query := s.client.Collection(s.collection).Where("expires_at", "<=", now).Limit(limit)
	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	batch := s.client.Batch()
	for _, doc := range docs {
		batch.Delete(doc.Ref)
	}
	if _, err := batch.Commit(ctx); err != nil {
		return 0, err
	}

	return len(docs), nil
}

type firestorePointer struct {
	CartID    string    `firestore:"cart_id"`
	IntentID  string    `firestore:"intent_id"`
	CreatedAt time.Time `firestore:"created_at"`
	ExpiresAt time.Time `firestore:"expires_at"`
}

func (r firestorePointer) toPointer() Pointer {
	return Pointer{
		CartID:    r.CartID,
		IntentID:  r.IntentID,
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
	}
}
