package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// SettingsStore defines the storage operations the Settings manager needs.
// Implemented by storage.Store.
type SettingsStore interface {
	SetSetting(key, value string) error
	DeleteSetting(key string) error
	GetAllSettings() (map[string]string, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Settings provides cached access to durable, non-secret settings in SQLite.
type Settings struct {
	store SettingsStore
	clock Clock
	ttl   time.Duration

	mu       sync.RWMutex
	cached   map[string]string
	cachedAt time.Time
}

// NewSettings creates a Settings manager with a 60-second cache TTL.
func NewSettings(store SettingsStore) *Settings {
	return NewSettingsWithClock(store, realClock{}, 60*time.Second)
}

// NewSettingsWithClock creates a Settings manager with a custom clock (for testing).
func NewSettingsWithClock(store SettingsStore, clock Clock, ttl time.Duration) *Settings {
	return &Settings{store: store, clock: clock, ttl: ttl}
}

func (s *Settings) all() (map[string]string, error) {
	s.mu.RLock()
	if s.cached != nil && s.clock.Now().Before(s.cachedAt.Add(s.ttl)) {
		m := s.cached
		s.mu.RUnlock()
		return m, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock.
	if s.cached != nil && s.clock.Now().Before(s.cachedAt.Add(s.ttl)) {
		return s.cached, nil
	}

	m, err := s.store.GetAllSettings()
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	s.cached = m
	s.cachedAt = s.clock.Now()
	return m, nil
}

// Get returns the value of key and whether it is set.
func (s *Settings) Get(key string) (string, bool, error) {
	m, err := s.all()
	if err != nil {
		return "", false, err
	}
	v, ok := m[key]
	return v, ok, nil
}

// Set persists key and invalidates the cache.
func (s *Settings) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.SetSetting(key, value); err != nil {
		return fmt.Errorf("setting %q: %w", key, err)
	}
	s.cached = nil
	return nil
}

func (s *Settings) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.DeleteSetting(key); err != nil {
		return fmt.Errorf("deleting %q: %w", key, err)
	}
	s.cached = nil
	return nil
}

// SetJSON stores v marshalled as JSON.
func (s *Settings) SetJSON(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshalling value for key %q: %w", key, err)
	}
	return s.Set(key, string(b))
}

// GetJSON unmarshals the JSON value of key into out. It reports false when
// the key is not set.
func (s *Settings) GetJSON(key string, out any) (bool, error) {
	v, ok, err := s.Get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(v), out); err != nil {
		return false, fmt.Errorf("malformed setting %q: %w", key, err)
	}
	return true, nil
}
