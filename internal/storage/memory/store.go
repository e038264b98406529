// Package memory provides in-memory store implementations, used by
// tests and single-instance development runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/orbitalai/lumara-gateway/internal/domain"
	"github.com/orbitalai/lumara-gateway/internal/storage"
)

// Store is an in-memory implementation of IdentityStore, SettingsStore,
// and CounterStore.
type Store struct {
	mu         sync.Mutex
	identities map[string]*domain.Identity
	settings   map[string]*domain.ModelSettings
	counters   map[string]*windowCounter

	// now is swappable so tests can move the clock.
	now func() time.Time
}

type windowCounter struct {
	count       int
	windowStart time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		identities: make(map[string]*domain.Identity),
		settings:   make(map[string]*domain.ModelSettings),
		counters:   make(map[string]*windowCounter),
		now:        time.Now,
	}
}

// SetClock replaces the store's time source. Test hook.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.identities[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *identity
	return &cp, nil
}

func (s *Store) Create(ctx context.Context, identity *domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.identities[identity.ID]; exists {
		return nil
	}
	cp := *identity
	s.identities[identity.ID] = &cp
	return nil
}

func (s *Store) IncrementAnonymousCount(ctx context.Context, id string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.identities[id]
	if !ok {
		return 0, storage.ErrNotFound
	}
	identity.AnonymousRequestCount += delta
	if identity.AnonymousRequestCount < 0 {
		identity.AnonymousRequestCount = 0
	}
	return identity.AnonymousRequestCount, nil
}

func (s *Store) MarkPersistent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.identities[id]
	if !ok {
		return storage.ErrNotFound
	}
	identity.IsAnonymous = false
	return nil
}

func (s *Store) SetTier(ctx context.Context, id string, tier domain.Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.identities[id]
	if !ok {
		return storage.ErrNotFound
	}
	identity.Tier = tier
	return nil
}

func (s *Store) SetThrottleUnlocked(ctx context.Context, id string, unlocked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.identities[id]
	if !ok {
		return storage.ErrNotFound
	}
	identity.ThrottleUnlocked = unlocked
	return nil
}

func (s *Store) Link(ctx context.Context, oldID, newID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.identities[oldID]
	if !ok {
		return storage.ErrNotFound
	}

	// Both documents change under one lock; a partial link is never
	// observable.
	linked := *old
	linked.ID = newID
	linked.IsAnonymous = false
	linked.AnonymousRequestCount = 0
	linked.LinkedTo = ""
	s.identities[newID] = &linked

	old.LinkedTo = newID
	return nil
}

func (s *Store) GetSettings(ctx context.Context, identityID string) (*domain.ModelSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, ok := s.settings[identityID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *settings
	return &cp, nil
}

func (s *Store) PutSettings(ctx context.Context, identityID string, settings *domain.ModelSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *settings
	s.settings[identityID] = &cp
	return nil
}

func (s *Store) IncrementWindow(ctx context.Context, key string, window time.Duration) (int, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c, ok := s.counters[key]
	if !ok {
		c = &windowCounter{}
		s.counters[key] = c
	}

	// The window resets lazily, only when observed stale at access time.
	if !ok || now.Sub(c.windowStart) >= window {
		c.count = 0
		c.windowStart = now
	}

	c.count++
	resetIn := window - now.Sub(c.windowStart)
	return c.count, resetIn, nil
}

func (s *Store) IncrementTotal(ctx context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok {
		c = &windowCounter{}
		s.counters[key] = c
	}
	c.count++
	return c.count, nil
}

func (s *Store) Decrement(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || c.count == 0 {
		return nil
	}
	c.count--
	return nil
}

var (
	_ storage.IdentityStore = (*Store)(nil)
	_ storage.CounterStore  = (*Store)(nil)
)

// Settings returns the store's SettingsStore view. The memory store
// implements Get for identities, so the settings accessors carry a
// prefix; this adapter maps them onto the interface.
func (s *Store) Settings() storage.SettingsStore {
	return settingsView{s}
}

type settingsView struct {
	s *Store
}

func (v settingsView) Get(ctx context.Context, identityID string) (*domain.ModelSettings, error) {
	return v.s.GetSettings(ctx, identityID)
}

func (v settingsView) Put(ctx context.Context, identityID string, settings *domain.ModelSettings) error {
	return v.s.PutSettings(ctx, identityID, settings)
}
