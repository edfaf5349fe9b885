package intentstore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps pointers in process memory. It backs browser-session
// checkouts and tests; entries without an expiry live until deleted.
type MemoryStore struct {
	mu       sync.Mutex
	pointers map[string]Pointer
}

// NewMemoryStore constructs an empty memory-backed pointer store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pointers: make(map[string]Pointer)}
}

// Get implements the Store interface.
func (s *MemoryStore) Get(_ context.Context, cartID string) (Pointer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pointer, ok := s.pointers[docKey(cartID)]
	if !ok {
		return Pointer{}, ErrNotFound
	}
	if !pointer.ExpiresAt.IsZero() && !time.Now().UTC().Before(pointer.ExpiresAt) {
		delete(s.pointers, docKey(cartID))
		return Pointer{}, ErrNotFound
	}
	return pointer, nil
}

// Put implements the Store interface.
func (s *MemoryStore) Put(_ context.Context, pointer Pointer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pointers[docKey(pointer.CartID)] = pointer
	return nil
}

// Delete implements the Store interface.
func (s *MemoryStore) Delete(_ context.Context, cartID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pointers, docKey(cartID))
	return nil
}

// CleanupExpired implements the Store interface.
func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.pointers) {
		limit = len(s.pointers)
	}

	removed := 0
	for key, pointer := range s.pointers {
		if pointer.ExpiresAt.IsZero() || now.Before(pointer.ExpiresAt) {
			continue
		}
		delete(s.pointers, key)
		removed++
		if removed >= limit {
			break
		}
	}

	return removed, nil
}
