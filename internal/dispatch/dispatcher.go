// Package dispatch renders accepted decisions through the configured sink
// and prevents repetitive nagging via the suggestion history.
package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"codewatch/internal/engine"
	"codewatch/internal/logging"
	"codewatch/internal/memoria"
)

// Notification is the payload handed to the notification channel.
type Notification struct {
	Title    string
	Message  string
	Severity string
}

// Sink is the output channel boundary. Exactly one of Notify or Speak is
// invoked per accepted decision, chosen by the voice setting.
type Sink interface {
	Notify(ctx context.Context, n Notification) error
	Speak(ctx context.Context, text string) error
}

// FeedbackRecorder is implemented by histories that persist user responses.
type FeedbackRecorder interface {
	RecordFeedback(hash string, accepted bool) error
}

// Dispatcher renders accepted decisions.
type Dispatcher struct {
	mu       sync.Mutex
	sink     Sink
	history  memoria.History
	voice    bool
	cooldown time.Duration
}

// New creates a dispatcher.
func New(sink Sink, history memoria.History, voice bool, cooldown time.Duration) *Dispatcher {
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	return &Dispatcher{sink: sink, history: history, voice: voice, cooldown: cooldown}
}

// SetPolicy atomically replaces the voice/cooldown policy after a settings
// change. Called from the scheduler's single-writer funnel.
func (d *Dispatcher) SetPolicy(voice bool, cooldown time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.voice = voice
	if cooldown > 0 {
		d.cooldown = cooldown
	}
}

// Dispatch renders the decision if it clears duplicate suppression.
// Returns whether anything reached the sink.
//
// Decisions with ShouldSpeak false never touch the sink. A sink failure
// drops the decision without updating history, so the next accepted decision
// is not wrongly suppressed as a duplicate.
func (d *Dispatcher) Dispatch(ctx context.Context, dec engine.Decision) (bool, error) {
	if !dec.ShouldSpeak || dec.Suggestion == "" {
		return false, nil
	}

	d.mu.Lock()
	voice, cooldown := d.voice, d.cooldown
	d.mu.Unlock()

	hash := HashSuggestion(dec.Suggestion)
	seen, err := d.history.SeenWithin(hash, cooldown)
	if err != nil {
		logging.Get(logging.CategoryDispatch).Warn("history lookup failed, dispatching anyway: %v", err)
	}
	if seen {
		logging.DispatchDebug("suppressed duplicate suggestion %s", hash[:12])
		return false, nil
	}

	if voice {
		err = d.sink.Speak(ctx, dec.Suggestion)
	} else {
		err = d.sink.Notify(ctx, Notification{
			Title:    "codewatch",
			Message:  dec.Suggestion,
			Severity: "info",
		})
	}
	if err != nil {
		// Dropped, not recorded: a later identical suggestion may retry.
		logging.Get(logging.CategoryDispatch).Error("sink failed, decision dropped: %v", err)
		return false, fmt.Errorf("dispatch failed: %w", err)
	}

	if err := d.history.Record(hash, time.Now()); err != nil {
		logging.Get(logging.CategoryDispatch).Warn("failed to record emission: %v", err)
	}
	logging.Dispatch("emitted suggestion %s (voice=%v, confidence=%.2f)", hash[:12], voice, dec.Confidence)
	return true, nil
}

// Feedback records the user's accept/dismiss response for a previously
// emitted suggestion. Signature only: the core records but does not adapt.
func (d *Dispatcher) Feedback(suggestion string, accepted bool) error {
	hash := HashSuggestion(suggestion)
	if fr, ok := d.history.(FeedbackRecorder); ok {
		return fr.RecordFeedback(hash, accepted)
	}
	logging.DispatchDebug("feedback for %s: accepted=%v (not persisted)", hash[:12], accepted)
	return nil
}

// HashSuggestion hashes the normalized suggestion text. Normalization
// (lowercase, collapsed whitespace) makes cosmetic rewordings collide.
func HashSuggestion(suggestion string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(suggestion), " "))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
