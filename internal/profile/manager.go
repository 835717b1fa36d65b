package profile

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/kalambet/tutord/internal/routing"
)

// ProfileStore is the slice of storage.Store the manager reads and writes.
type ProfileStore interface {
	SetProfileKey(key, value string) error
	ProfileKeys() (map[string]string, error)
}

// Clock supplies the current time, overridable in tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Manager caches the flat profile rows and presents them as a structured
// Profile. All methods are safe for concurrent use.
type Manager struct {
	store ProfileStore
	clock Clock
	ttl   time.Duration

	mu       sync.RWMutex
	cached   *Profile
	cachedAt time.Time
}

// NewManager creates a Manager over store with a 60-second cache TTL.
func NewManager(store ProfileStore) *Manager {
	return NewManagerWithClock(store, realClock{}, time.Minute)
}

// NewManagerWithClock creates a Manager with a custom clock and TTL (for tests).
func NewManagerWithClock(store ProfileStore, clock Clock, ttl time.Duration) *Manager {
	return &Manager{store: store, clock: clock, ttl: ttl}
}

// Current assembles a structured Profile from the stored keys, serving
// from cache while it is fresh. An empty store yields a zero Profile.
func (m *Manager) Current() (Profile, error) {
	m.mu.RLock()
	p, ok := m.freshLocked()
	m.mu.RUnlock()
	if ok {
		return p, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another caller may have refreshed while we waited for the lock.
	if p, ok := m.freshLocked(); ok {
		return p, nil
	}

	keys, err := m.store.ProfileKeys()
	if err != nil {
		return Profile{}, fmt.Errorf("loading profile keys: %w", err)
	}
	built := profileFromKeys(keys)
	m.cached = &built
	m.cachedAt = m.clock.Now()
	return built.clone(), nil
}

// freshLocked returns a copy of the cached profile while it is inside the
// TTL. Callers hold m.mu in either mode.
func (m *Manager) freshLocked() (Profile, bool) {
	if m.cached == nil || m.clock.Now().Sub(m.cachedAt) >= m.ttl {
		return Profile{}, false
	}
	return m.cached.clone(), true
}

// SetField persists one profile key and drops the cache. Non-string values
// are stored as JSON.
func (m *Manager) SetField(key string, value any) error {
	str, err := encodeFieldValue(value)
	if err != nil {
		return fmt.Errorf("encoding value for key %q: %w", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.SetProfileKey(key, str); err != nil {
		return fmt.Errorf("setting profile key %q: %w", key, err)
	}
	m.cached = nil
	return nil
}

func encodeFieldValue(value any) (string, error) {
	if s, ok := value.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(value)
	return string(b), err
}

// CostPreference implements the router's preference source. Unset or
// malformed values read as balanced.
func (m *Manager) CostPreference() routing.CostPreference {
	p, err := m.Current()
	if err != nil {
		slog.Warn("profile unavailable, assuming balanced cost preference", "error", err)
		return routing.PreferBalanced
	}
	if p.Routing.CostPreference == "" {
		return routing.PreferBalanced
	}
	pref, err := routing.ParseCostPreference(p.Routing.CostPreference)
	if err != nil {
		slog.Warn("malformed profile key, skipping", "key", "routing.cost_preference", "error", err)
		return routing.PreferBalanced
	}
	return pref
}

// GetSummary renders the profile as a few short sentences for injection
// into a system prompt, capped at maxSummaryChars.
func (m *Manager) GetSummary() (string, error) {
	p, err := m.Current()
	if err != nil {
		return "", fmt.Errorf("getting profile for summary: %w", err)
	}
	return summarize(p), nil
}

// maxSummaryChars keeps the summary near 500 tokens at ~4 chars per token.
const maxSummaryChars = 2000

func summarize(p Profile) string {
	var parts []string

	switch {
	case p.Learner.Name != "" && p.Learner.GradeLevel != "":
		parts = append(parts, fmt.Sprintf("Learner: %s (grade %s).", p.Learner.Name, p.Learner.GradeLevel))
	case p.Learner.Name != "":
		parts = append(parts, fmt.Sprintf("Learner: %s.", p.Learner.Name))
	case p.Learner.GradeLevel != "":
		parts = append(parts, fmt.Sprintf("Learner is in grade %s.", p.Learner.GradeLevel))
	}

	if len(p.Learner.Subjects) > 0 {
		parts = append(parts, fmt.Sprintf("Studying: %s.", strings.Join(p.Learner.Subjects, ", ")))
	}

	if p.Study.ExplanationStyle != "" {
		parts = append(parts, fmt.Sprintf("Prefers %s explanations.", p.Study.ExplanationStyle))
	}
	if p.Study.Language != "" {
		parts = append(parts, fmt.Sprintf("Answer in %s.", p.Study.Language))
	}
	if p.Study.SessionLength != "" {
		parts = append(parts, fmt.Sprintf("Sessions run about %s.", p.Study.SessionLength))
	}

	if len(parts) == 0 {
		return "Learner profile: not yet configured."
	}
	return truncateAtWord(strings.Join(parts, " "), maxSummaryChars)
}

// truncateAtWord cuts s to at most max bytes without splitting a UTF-8
// rune, preferring the last word boundary before the cut.
func truncateAtWord(s string, max int) string {
	if len(s) <= max {
		return s
	}
	end := max
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	if idx := strings.LastIndex(s[:end], " "); idx > 0 {
		return s[:idx]
	}
	return s[:end]
}

// clone returns a copy that shares no mutable state with p.
func (p *Profile) clone() Profile {
	cp := *p
	cp.Learner.Subjects = slices.Clone(p.Learner.Subjects)
	return cp
}

// profileFromKeys assembles a Profile from the flat dot-notation rows:
// "learner.name", "study.language", "routing.cost_preference". List
// values are stored as JSON arrays.
func profileFromKeys(keys map[string]string) Profile {
	var p Profile
	p.Learner.Name = keys["learner.name"]
	p.Learner.GradeLevel = keys["learner.grade_level"]
	decodeListKey(keys, "learner.subjects", &p.Learner.Subjects)

	p.Study.ExplanationStyle = keys["study.explanation_style"]
	p.Study.Language = keys["study.language"]
	p.Study.SessionLength = keys["study.session_length"]

	p.Routing.CostPreference = keys["routing.cost_preference"]
	return p
}

// decodeListKey decodes a JSON array value into target, skipping with a
// warning when the stored value is malformed.
func decodeListKey(keys map[string]string, key string, target any) {
	v, ok := keys[key]
	if !ok {
		return
	}
	if err := json.Unmarshal([]byte(v), target); err != nil {
		slog.Warn("malformed profile key, skipping", "key", key, "error", err)
	}
}
