package store

import (
	"context"
	"sync"
	"time"

	"github.com/relier-id/relier/core"
	"github.com/relier-id/relier/ports"
)

// MemoryAssociationStore is an in-memory implementation of the
// AssociationStore interface. Expired entries are purged lazily on
// access.
type MemoryAssociationStore struct {
	mu     sync.Mutex
	assocs map[string]map[string]*core.Association // endpoint -> handle -> association
	now    func() time.Time
}

// NewMemoryAssociationStore creates a new in-memory association store
func NewMemoryAssociationStore() *MemoryAssociationStore {
	return &MemoryAssociationStore{
		assocs: make(map[string]map[string]*core.Association),
		now:    time.Now,
	}
}

// Save persists an association
func (s *MemoryAssociationStore) Save(ctx context.Context, assoc *core.Association) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byHandle, ok := s.assocs[assoc.Endpoint]
	if !ok {
		byHandle = make(map[string]*core.Association)
		s.assocs[assoc.Endpoint] = byHandle
	}
	copied := *assoc
	byHandle[assoc.Handle] = &copied
	return nil
}

// Lookup returns the association for (endpoint, handle). Expired entries
// are removed and reported as not found.
func (s *MemoryAssociationStore) Lookup(ctx context.Context, endpoint, handle string) (*core.Association, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	assoc, ok := s.assocs[endpoint][handle]
	if !ok {
		return nil, core.ErrAssociationNotFound
	}
	if assoc.Expired(s.now()) {
		delete(s.assocs[endpoint], handle)
		return nil, core.ErrAssociationNotFound
	}
	copied := *assoc
	return &copied, nil
}

// Latest returns the association for the endpoint with the furthest
// expiry still in the future.
func (s *MemoryAssociationStore) Latest(ctx context.Context, endpoint string) (*core.Association, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var best *core.Association
	for handle, assoc := range s.assocs[endpoint] {
		if assoc.Expired(now) {
			delete(s.assocs[endpoint], handle)
			continue
		}
		if best == nil || assoc.ExpiresAt.After(best.ExpiresAt) {
			best = assoc
		}
	}
	if best == nil {
		return nil, core.ErrAssociationNotFound
	}
	copied := *best
	return &copied, nil
}

// Invalidate removes an association
func (s *MemoryAssociationStore) Invalidate(ctx context.Context, endpoint, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.assocs[endpoint], handle)
	return nil
}

// Clear removes all data from the store
// This is useful for testing to reset the store between tests
func (s *MemoryAssociationStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assocs = make(map[string]map[string]*core.Association)
}

// MemoryNonceStore is an in-memory implementation of the NonceStore
// interface. Entries older than the replay window are evicted lazily on
// each call, bounding storage without a background task.
type MemoryNonceStore struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
	now    func() time.Time
}

// NewMemoryNonceStore creates a new in-memory nonce store with the given
// replay window
func NewMemoryNonceStore(window time.Duration) *MemoryNonceStore {
	return &MemoryNonceStore{
		window: window,
		seen:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// CheckAndRecord atomically tests and records a nonce for an endpoint
func (s *MemoryNonceStore) CheckAndRecord(ctx context.Context, endpoint, nonce string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-s.window)
	for key, seenAt := range s.seen {
		if seenAt.Before(cutoff) {
			delete(s.seen, key)
		}
	}

	key := endpoint + "\x00" + nonce
	if _, ok := s.seen[key]; ok {
		return false, nil
	}
	s.seen[key] = now
	return true, nil
}

// Len returns the number of recorded nonces, for tests
func (s *MemoryNonceStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.seen)
}

var (
	_ ports.AssociationStore = (*MemoryAssociationStore)(nil)
	_ ports.NonceStore       = (*MemoryNonceStore)(nil)
)
