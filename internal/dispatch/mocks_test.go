package dispatch

import (
	"context"
	"sync"
	"time"
)

// recordingSink captures what the dispatcher emits.
type recordingSink struct {
	mu            sync.Mutex
	notifications []Notification
	spoken        []string
	err           error
}

func (s *recordingSink) Notify(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.notifications = append(s.notifications, n)
	return nil
}

func (s *recordingSink) Speak(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.spoken = append(s.spoken, text)
	return nil
}

func (s *recordingSink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.notifications) + len(s.spoken)
}

// fakeHistory tracks emissions in memory and optionally records feedback.
type fakeHistory struct {
	mu       sync.Mutex
	seen     map[string]time.Time
	feedback map[string]bool
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{seen: make(map[string]time.Time), feedback: make(map[string]bool)}
}

func (h *fakeHistory) SeenWithin(hash string, window time.Duration) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	at, ok := h.seen[hash]
	return ok && time.Since(at) <= window, nil
}

func (h *fakeHistory) Record(hash string, at time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen[hash] = at
	return nil
}

func (h *fakeHistory) RecordFeedback(hash string, accepted bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.feedback[hash] = accepted
	return nil
}

func (h *fakeHistory) Close() error { return nil }
