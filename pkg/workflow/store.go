package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

var (
	// ErrSessionNotFound is returned by Load for unknown sessions.
	ErrSessionNotFound = errors.New("session not found")
	// ErrStaleState rejects a save whose expected version is no longer current.
	ErrStaleState = errors.New("stale session state")
)

// Store persists session state between turns. Save must reject the write with
// ErrStaleState unless the stored version equals expectedVersion; a missing session
// counts as version 0.
type Store interface {
	Load(ctx context.Context, id string) (SessionState, error)
	Save(ctx context.Context, s SessionState, expectedVersion int) error
	Delete(ctx context.Context, id string) error
}

// MemoryStore keeps sessions in an expiring in-process cache.
type MemoryStore struct {
	mu    sync.Mutex
	cache *cache.Cache
}

// NewMemoryStore creates a store whose sessions expire after ttl of inactivity.
// A ttl of zero keeps sessions forever.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	expiry, cleanup := ttl, 10*time.Minute
	if ttl <= 0 {
		expiry, cleanup = cache.NoExpiration, 0
	}
	return &MemoryStore{cache: cache.New(expiry, cleanup)}
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, id string) (SessionState, error) {
	x, found := m.cache.Get(id)
	if !found {
		return SessionState{}, ErrSessionNotFound
	}
	s, _ := x.(SessionState)
	return s.Clone(), nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, s SessionState, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := 0
	if x, found := m.cache.Get(s.ID); found {
		current = x.(SessionState).Version
	}
	if current != expectedVersion {
		return ErrStaleState
	}
	m.cache.Set(s.ID, s.Clone(), cache.DefaultExpiration)
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.cache.Delete(id)
	return nil
}
