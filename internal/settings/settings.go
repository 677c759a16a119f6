// Package settings manages the process-wide mutable configuration the
// settings API exposes: evaluation cadence, cooldown and market toggles.
// Values persist in the store's settings table and survive restarts;
// running tasks read them per use, so updates apply eventually, never
// mid-minute.
package settings

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// Settings is the runtime-mutable configuration.
type Settings struct {
	CheckIntervalSeconds int  `json:"check_interval_seconds"` // 60..3600
	CooldownMinutes      int  `json:"cooldown_minutes"`       // 1..1440
	ParseSpot            bool `json:"parse_spot"`
	ParseFutures         bool `json:"parse_futures"`
}

// Update carries a partial settings change; nil fields stay untouched.
type Update struct {
	CheckIntervalSeconds *int  `json:"check_interval_seconds,omitempty"`
	CooldownMinutes      *int  `json:"cooldown_minutes,omitempty"`
	ParseSpot            *bool `json:"parse_spot,omitempty"`
	ParseFutures         *bool `json:"parse_futures,omitempty"`
}

// Store is the persistence surface, implemented by the sqlite store.
type Store interface {
	Setting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Manager holds the current settings behind a lock.
type Manager struct {
	store Store

	mu      sync.RWMutex
	current Settings
}

// NewManager creates a manager seeded with defaults. Call Load to apply
// persisted overrides.
func NewManager(store Store, defaults Settings) *Manager {
	return &Manager{store: store, current: defaults}
}

const (
	keyCheckInterval = "check_interval_seconds"
	keyCooldown      = "cooldown_minutes"
	keyParseSpot     = "parse_spot"
	keyParseFutures  = "parse_futures"
)

// Load overlays persisted values onto the defaults. Missing keys keep
// their default; malformed values are ignored.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, err := m.store.Setting(ctx, keyCheckInterval); err != nil {
		return err
	} else if n, perr := strconv.Atoi(v); perr == nil && validCheckInterval(n) {
		m.current.CheckIntervalSeconds = n
	}
	if v, err := m.store.Setting(ctx, keyCooldown); err != nil {
		return err
	} else if n, perr := strconv.Atoi(v); perr == nil && validCooldown(n) {
		m.current.CooldownMinutes = n
	}
	if v, err := m.store.Setting(ctx, keyParseSpot); err != nil {
		return err
	} else if b, perr := strconv.ParseBool(v); perr == nil {
		m.current.ParseSpot = b
	}
	if v, err := m.store.Setting(ctx, keyParseFutures); err != nil {
		return err
	} else if b, perr := strconv.ParseBool(v); perr == nil {
		m.current.ParseFutures = b
	}
	return nil
}

// Get returns a copy of the current settings.
func (m *Manager) Get() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// CooldownMinutes returns the active cooldown. Read by the filter engine
// per evaluation.
func (m *Manager) CooldownMinutes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.CooldownMinutes
}

// CheckIntervalSeconds returns the active evaluation cadence.
func (m *Manager) CheckIntervalSeconds() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.CheckIntervalSeconds
}

// Apply validates and persists a partial update, then returns the new
// settings. Validation failures leave everything untouched.
func (m *Manager) Apply(ctx context.Context, u Update) (Settings, error) {
	if u.CheckIntervalSeconds != nil && !validCheckInterval(*u.CheckIntervalSeconds) {
		return Settings{}, fmt.Errorf("check_interval_seconds: must be 60..3600, got %d", *u.CheckIntervalSeconds)
	}
	if u.CooldownMinutes != nil && !validCooldown(*u.CooldownMinutes) {
		return Settings{}, fmt.Errorf("cooldown_minutes: must be 1..1440, got %d", *u.CooldownMinutes)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.current
	if u.CheckIntervalSeconds != nil {
		next.CheckIntervalSeconds = *u.CheckIntervalSeconds
	}
	if u.CooldownMinutes != nil {
		next.CooldownMinutes = *u.CooldownMinutes
	}
	if u.ParseSpot != nil {
		next.ParseSpot = *u.ParseSpot
	}
	if u.ParseFutures != nil {
		next.ParseFutures = *u.ParseFutures
	}

	if err := m.persist(ctx, next); err != nil {
		return Settings{}, err
	}
	m.current = next
	return next, nil
}

func (m *Manager) persist(ctx context.Context, s Settings) error {
	pairs := []struct{ key, value string }{
		{keyCheckInterval, strconv.Itoa(s.CheckIntervalSeconds)},
		{keyCooldown, strconv.Itoa(s.CooldownMinutes)},
		{keyParseSpot, strconv.FormatBool(s.ParseSpot)},
		{keyParseFutures, strconv.FormatBool(s.ParseFutures)},
	}
	for _, p := range pairs {
		if err := m.store.SetSetting(ctx, p.key, p.value); err != nil {
			return err
		}
	}
	return nil
}

func validCheckInterval(n int) bool { return n >= 60 && n <= 3600 }
func validCooldown(n int) bool      { return n >= 1 && n <= 1440 }
