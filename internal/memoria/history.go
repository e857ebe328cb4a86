package memoria

import (
	"sync"
	"time"
)

// SuggestionRecord marks one emitted suggestion.
type SuggestionRecord struct {
	SuggestionHash string
	EmittedAt      time.Time
}

// History tracks emitted suggestions so semantically identical ones are not
// re-emitted within the cooldown window. The in-memory implementation lives
// here; a SQLite-backed one is in internal/store.
type History interface {
	// SeenWithin reports whether the hash was emitted within the window.
	SeenWithin(hash string, window time.Duration) (bool, error)

	// Record appends an emission. Called only after a successful dispatch.
	Record(hash string, at time.Time) error

	Close() error
}

// MemoryHistory is the default in-process History.
type MemoryHistory struct {
	mu      sync.Mutex
	emitted map[string]time.Time
}

// NewMemoryHistory creates an empty in-memory history.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{emitted: make(map[string]time.Time)}
}

// SeenWithin implements History.
func (h *MemoryHistory) SeenWithin(hash string, window time.Duration) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	at, ok := h.emitted[hash]
	if !ok {
		return false, nil
	}
	return time.Since(at) < window, nil
}

// Record implements History. Stale entries are pruned opportunistically so
// the map stays bounded over long sessions.
func (h *MemoryHistory) Record(hash string, at time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.emitted[hash] = at

	if len(h.emitted) > 1024 {
		cutoff := time.Now().Add(-24 * time.Hour)
		for k, v := range h.emitted {
			if v.Before(cutoff) {
				delete(h.emitted, k)
			}
		}
	}
	return nil
}

// Close implements History.
func (h *MemoryHistory) Close() error { return nil }
