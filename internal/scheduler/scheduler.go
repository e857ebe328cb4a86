// Package scheduler owns the observation trigger timeline: when to run a
// cycle, single-flight execution, debouncing, trigger coalescing, and the
// backoff applied after provider failures.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"codewatch/internal/config"
	"codewatch/internal/dispatch"
	"codewatch/internal/engine"
	"codewatch/internal/logging"
	"codewatch/internal/memoria"
	"codewatch/internal/session"
	"codewatch/internal/snapshot"
)

// State is the scheduler's position in its cycle lifecycle.
type State int

const (
	// StateIdle - no trigger outstanding.
	StateIdle State = iota
	// StatePending - a coalesced trigger is waiting for its debounce window.
	StatePending
	// StateRunning - a cycle is executing. At most one per scheduler.
	StateRunning
	// StateCooldown - a cycle just completed; bursts are absorbed here.
	StateCooldown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCooldown:
		return "cooldown"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

const (
	// cooldownDuration absorbs trigger bursts after every completed cycle.
	cooldownDuration = 1 * time.Second
	// priorityGap rate-limits interval bypasses by priority triggers.
	priorityGap = 2 * time.Second
	// maxBackoff caps the interval multiplier after provider failures.
	maxBackoff = 8
)

// CycleResult summarizes one observation cycle.
type CycleResult struct {
	CycleID     string
	Trigger     TriggerKind
	Decision    engine.Decision
	Fingerprint string
	FromCache   bool
	Accepted    bool // cleared confidence gating
	Emitted     bool // reached a sink
	Skipped     bool // no active session
	Err         error
}

// Scheduler drives trigger -> aggregate -> decide -> dispatch. All mutation
// of the cache, history, and settings happens on the scheduler's goroutine
// (or under its run lock for the synchronous test hook), satisfying the
// single-writer discipline.
type Scheduler struct {
	sess       session.Session
	dispatcher *dispatch.Dispatcher
	cache      *memoria.DecisionCache

	// newEngine rebuilds the engine after a settings change.
	newEngine func(config.Settings) (*engine.Engine, error)

	// runMu enforces single-flight between the loop and TriggerNow.
	runMu sync.Mutex

	mu              sync.Mutex
	settings        config.Settings
	eng             *engine.Engine
	state           State
	pending         *TriggerKind
	lastCompleted   time.Time
	lastPriorityRun time.Time
	cooldownUntil   time.Time
	backoffMult     uint64

	triggerCh  chan TriggerKind
	settingsCh chan config.Settings
	stopCh     chan struct{}
	stopOnce   sync.Once

	now func() time.Time
}

// New creates a scheduler. newEngine is invoked once immediately and again
// whenever settings are replaced.
func New(sess session.Session, st config.Settings, cache *memoria.DecisionCache,
	dispatcher *dispatch.Dispatcher, newEngine func(config.Settings) (*engine.Engine, error)) (*Scheduler, error) {

	eng, err := newEngine(st)
	if err != nil {
		return nil, fmt.Errorf("failed to build engine: %w", err)
	}

	return &Scheduler{
		sess:        sess,
		dispatcher:  dispatcher,
		cache:       cache,
		newEngine:   newEngine,
		settings:    st,
		eng:         eng,
		state:       StateIdle,
		backoffMult: 1,
		triggerCh:   make(chan TriggerKind, 1),
		settingsCh:  make(chan config.Settings, 1),
		stopCh:      make(chan struct{}),
		now:         time.Now,
	}, nil
}

// Trigger delivers an event to the scheduler. Last-write-wins: if a trigger
// is already queued it is replaced, never queued behind.
func (s *Scheduler) Trigger(ev TriggerKind) {
	for {
		select {
		case s.triggerCh <- ev:
			return
		default:
			select {
			case <-s.triggerCh:
			default:
			}
		}
	}
}

// UpdateSettings funnels a new effective snapshot through the scheduler
// goroutine. Last-write-wins, same as triggers.
func (s *Scheduler) UpdateSettings(st config.Settings) {
	for {
		select {
		case s.settingsCh <- st:
			return
		default:
			select {
			case <-s.settingsCh:
			default:
			}
		}
	}
}

// State returns the current lifecycle state. Cooldown decays to Idle
// lazily once its window has passed.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateCooldown && s.now().After(s.cooldownUntil) {
		s.state = StateIdle
	}
	return s.state
}

// Stop terminates the run loop. Idempotent.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Run drives the trigger timeline until the context is cancelled or Stop is
// called. It is the single background worker per observer handle.
func (s *Scheduler) Run(ctx context.Context) error {
	log := logging.Get(logging.CategoryScheduler)
	log.Info("scheduler started (interval=%v)", s.currentSettings().Interval())

	for {
		wake := s.nextWake()
		timer := time.NewTimer(time.Until(wake))

		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-s.stopCh:
			timer.Stop()
			return nil
		case ev := <-s.triggerCh:
			timer.Stop()
			s.accept(ev)
		case st := <-s.settingsCh:
			timer.Stop()
			s.applySettings(st)
		case <-timer.C:
			ev := s.promote()
			if ev == nil {
				continue
			}
			res := s.runCycle(ctx, *ev)
			if res.Err != nil {
				log.Warn("cycle %s failed: %v", res.CycleID, res.Err)
			}
		}
	}
}

// accept coalesces a trigger into the pending slot. Disabled proactive
// triggers are dropped here.
func (s *Scheduler) accept(ev TriggerKind) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.triggerEnabled(ev) {
		logging.SchedulerDebug("trigger %s disabled, dropped", ev)
		return
	}

	if s.pending != nil {
		logging.SchedulerDebug("trigger %s coalesced over %s", ev, *s.pending)
	}
	evCopy := ev
	s.pending = &evCopy
	if s.state == StateIdle {
		s.state = StatePending
	}
}

func (s *Scheduler) triggerEnabled(ev TriggerKind) bool {
	switch ev {
	case TriggerTimer:
		return true
	case TriggerOnError:
		return s.settings.ProactiveTriggers.OnError
	case TriggerOnWarning:
		return s.settings.ProactiveTriggers.OnWarning
	case TriggerOnGitConflict:
		return s.settings.ProactiveTriggers.OnGitConflict
	default:
		return false
	}
}

func (s *Scheduler) applySettings(st config.Settings) {
	eng, err := s.newEngine(st)
	if err != nil {
		logging.Get(logging.CategoryScheduler).Warn("settings update kept previous engine: %v", err)
		eng = nil
	}

	s.mu.Lock()
	s.settings = st
	if eng != nil {
		s.eng = eng
	}
	s.mu.Unlock()

	s.dispatcher.SetPolicy(st.VoiceEnabled, st.Cooldown())
	logging.Scheduler("settings applied (interval=%v, minConfidence=%.2f)", st.Interval(), st.MinConfidence)
}

// nextWake computes when the scheduler should next act: the debounce
// deadline of the pending trigger, or the next periodic observation.
func (s *Scheduler) nextWake() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !s.settings.Enabled {
		return now.Add(24 * time.Hour) // parked until a settings change wakes us
	}

	interval := s.settings.Interval() * time.Duration(s.backoffMult)
	periodic := s.lastCompleted.Add(interval)
	if s.lastCompleted.IsZero() {
		periodic = now.Add(s.settings.Interval())
	}

	var due time.Time
	if s.pending != nil && s.pending.Priority() {
		due = s.lastPriorityRun.Add(priorityGap)
		if due.Before(now) {
			due = now
		}
	} else {
		due = periodic
	}

	if due.Before(s.cooldownUntil) {
		due = s.cooldownUntil
	}
	return due
}

// promote takes the pending trigger, or synthesizes the periodic timer
// trigger when none is pending and the interval has elapsed.
func (s *Scheduler) promote() *TriggerKind {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.settings.Enabled {
		return nil
	}
	if s.pending != nil {
		ev := *s.pending
		s.pending = nil
		return &ev
	}

	ev := TriggerTimer
	return &ev
}

// runCycle executes one observation cycle: aggregate, cache check, decide,
// gate, dispatch. Failures complete the state machine identically to
// successes; there is no retry within a cycle.
func (s *Scheduler) runCycle(ctx context.Context, ev TriggerKind) CycleResult {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	res := CycleResult{
		CycleID: uuid.NewString(),
		Trigger: ev,
	}

	s.mu.Lock()
	s.state = StateRunning
	st := s.settings
	eng := s.eng
	s.mu.Unlock()

	logging.SchedulerDebug("cycle %s started (trigger=%s)", res.CycleID, ev)
	defer s.finishCycle(&res, ev)

	obs, err := snapshot.Collect(s.sess, st)
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			logging.SchedulerDebug("cycle %s skipped: no active session", res.CycleID)
			res.Skipped = true
			return res
		}
		res.Err = err
		return res
	}
	res.Fingerprint = obs.Fingerprint

	dec, fromCache := s.cache.Get(obs.Fingerprint)
	if !fromCache {
		dec, err = eng.Decide(ctx, obs)
		if err != nil {
			// Provider failure: no-op decision, backoff the next timer wait.
			s.bumpBackoff()
			res.Decision = dec
			res.Err = err
			return res
		}
		s.cache.Put(obs.Fingerprint, dec)
		s.resetBackoff()
	}
	res.Decision = dec
	res.FromCache = fromCache

	// Confidence gating.
	if !dec.ShouldSpeak || dec.Confidence < st.MinConfidence {
		logging.SchedulerDebug("cycle %s gated out (shouldSpeak=%v confidence=%.2f min=%.2f)",
			res.CycleID, dec.ShouldSpeak, dec.Confidence, st.MinConfidence)
		return res
	}
	res.Accepted = true

	// Optional staleness policy: suppress dispatch if the session has
	// materially changed since this cycle sampled it.
	if st.StalenessCheck && !fromCache {
		if fresh, ferr := snapshot.Collect(s.sess, st); ferr == nil && fresh.Fingerprint != obs.Fingerprint {
			logging.SchedulerDebug("cycle %s stale, dispatch suppressed", res.CycleID)
			return res
		}
	}

	emitted, derr := s.dispatcher.Dispatch(ctx, dec)
	res.Emitted = emitted
	if derr != nil {
		res.Err = derr
	}
	return res
}

func (s *Scheduler) finishCycle(res *CycleResult, ev TriggerKind) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.lastCompleted = now
	if ev.Priority() {
		s.lastPriorityRun = now
	}
	s.cooldownUntil = now.Add(cooldownDuration)
	if s.pending != nil {
		s.state = StatePending
	} else {
		s.state = StateCooldown
	}
	logging.SchedulerDebug("cycle %s finished (emitted=%v, state=%s)", res.CycleID, res.Emitted, s.state)
}

func (s *Scheduler) bumpBackoff() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backoffMult *= 2
	if s.backoffMult > maxBackoff {
		s.backoffMult = maxBackoff
	}
	logging.Scheduler("provider failure, timer backoff x%d", s.backoffMult)
}

func (s *Scheduler) resetBackoff() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backoffMult != 1 {
		logging.Scheduler("provider recovered, backoff reset")
	}
	s.backoffMult = 1
}

func (s *Scheduler) currentSettings() config.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// TriggerNow runs one cycle synchronously, bypassing the debounce timer.
// Single-flight still holds: a concurrent loop cycle and TriggerNow cannot
// overlap. Intended for tests and the CLI's once mode.
func (s *Scheduler) TriggerNow(ctx context.Context, ev TriggerKind) CycleResult {
	s.mu.Lock()
	enabled := s.triggerEnabled(ev)
	s.mu.Unlock()
	if !enabled {
		return CycleResult{Trigger: ev, Skipped: true}
	}
	return s.runCycle(ctx, ev)
}
