package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"codewatch/internal/config"
	"codewatch/internal/dispatch"
	"codewatch/internal/engine"
	"codewatch/internal/memoria"
)

func TestMain(m *testing.M) {
	// go.opencensus.io (pulled in transitively) starts a worker goroutine in
	// package init that never exits; it is not owned by the code under test.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

type fixture struct {
	sched    *Scheduler
	sess     *fakeSession
	provider *scriptedProvider
	sink     *recordingSink
	settings config.Settings
}

func newFixture(t *testing.T, mutate func(*config.Settings)) *fixture {
	t.Helper()

	st := config.DefaultSettings()
	st.CooldownSeconds = 60
	if mutate != nil {
		mutate(&st)
	}

	sess := newFakeSession()
	provider := &scriptedProvider{response: speakResponse}
	sink := &recordingSink{}
	d := dispatch.New(sink, memoria.NewMemoryHistory(), st.VoiceEnabled, st.Cooldown())
	cache := memoria.NewDecisionCache(st.CacheCapacity, st.CacheTTL())

	sched, err := New(sess, st, cache, d, func(s config.Settings) (*engine.Engine, error) {
		return engine.New(provider, s.ModelID, s.ProviderTimeout()), nil
	})
	require.NoError(t, err)

	return &fixture{sched: sched, sess: sess, provider: provider, sink: sink, settings: st}
}

func TestTriggerNow_EmitsAcceptedSuggestion(t *testing.T) {
	f := newFixture(t, nil)

	res := f.sched.TriggerNow(context.Background(), TriggerTimer)
	require.NoError(t, res.Err)
	assert.False(t, res.Skipped)
	assert.True(t, res.Accepted)
	assert.True(t, res.Emitted)
	assert.True(t, res.Decision.ShouldSpeak)
	assert.NotEmpty(t, res.CycleID)
	assert.NotEmpty(t, res.Fingerprint)

	require.Equal(t, 1, f.sink.total())
	assert.Contains(t, f.sink.notifications[0].Message, "add a null check")
}

func TestTriggerNow_ConfidenceGating(t *testing.T) {
	f := newFixture(t, nil)
	f.provider.response = `{"shouldSpeak": true, "confidence": 0.4, "suggestion": "maybe rename this", "reasoning": "style"}`

	res := f.sched.TriggerNow(context.Background(), TriggerTimer)
	require.NoError(t, res.Err)
	assert.False(t, res.Accepted)
	assert.False(t, res.Emitted)
	assert.Zero(t, f.sink.total())
}

func TestTriggerNow_SilentDecision(t *testing.T) {
	f := newFixture(t, nil)
	f.provider.response = silentResponse

	res := f.sched.TriggerNow(context.Background(), TriggerTimer)
	require.NoError(t, res.Err)
	assert.False(t, res.Accepted)
	assert.Zero(t, f.sink.total())
}

func TestTriggerNow_NoSessionSkips(t *testing.T) {
	f := newFixture(t, nil)
	f.sess.noSession = true

	res := f.sched.TriggerNow(context.Background(), TriggerTimer)
	require.NoError(t, res.Err)
	assert.True(t, res.Skipped)
	assert.Zero(t, f.provider.calls.Load())
}

func TestTriggerNow_DisabledTriggerDropped(t *testing.T) {
	f := newFixture(t, func(st *config.Settings) {
		st.ProactiveTriggers.OnWarning = false
	})

	res := f.sched.TriggerNow(context.Background(), TriggerOnWarning)
	assert.True(t, res.Skipped)
	assert.Zero(t, f.provider.calls.Load())
}

func TestCycle_CacheHitSkipsProvider(t *testing.T) {
	f := newFixture(t, nil)

	first := f.sched.TriggerNow(context.Background(), TriggerTimer)
	require.NoError(t, first.Err)
	assert.False(t, first.FromCache)

	second := f.sched.TriggerNow(context.Background(), TriggerTimer)
	require.NoError(t, second.Err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, int64(1), f.provider.calls.Load())

	// The cached decision was already emitted once; the duplicate is
	// suppressed by history, not re-dispatched.
	assert.False(t, second.Emitted)
	assert.Equal(t, 1, f.sink.total())
}

func TestCycle_EditChangesFingerprint(t *testing.T) {
	f := newFixture(t, nil)

	first := f.sched.TriggerNow(context.Background(), TriggerTimer)
	f.sess.editLine(4, "\tname := r.User.FullName()")
	second := f.sched.TriggerNow(context.Background(), TriggerTimer)

	assert.NotEqual(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, int64(2), f.provider.calls.Load())
}

func TestCycle_ProviderFailureBacksOff(t *testing.T) {
	f := newFixture(t, nil)
	f.provider.err = errors.New("rate limited")
	f.provider.response = ""

	res := f.sched.TriggerNow(context.Background(), TriggerTimer)
	require.Error(t, res.Err)
	assert.Equal(t, engine.NoOp(), res.Decision)
	assert.Zero(t, f.sink.total())

	f.sched.mu.Lock()
	assert.Equal(t, uint64(2), f.sched.backoffMult)
	f.sched.mu.Unlock()

	// Repeated failures double up to the cap.
	for i := 0; i < 4; i++ {
		f.sched.TriggerNow(context.Background(), TriggerTimer)
	}
	f.sched.mu.Lock()
	assert.Equal(t, uint64(maxBackoff), f.sched.backoffMult)
	f.sched.mu.Unlock()

	// A clean round trip resets the multiplier.
	f.provider.err = nil
	f.provider.response = silentResponse
	f.sess.editLine(4, "\tname := recover()")
	res = f.sched.TriggerNow(context.Background(), TriggerTimer)
	require.NoError(t, res.Err)
	f.sched.mu.Lock()
	assert.Equal(t, uint64(1), f.sched.backoffMult)
	f.sched.mu.Unlock()
}

func TestCycle_MalformedResponseIsQuiet(t *testing.T) {
	f := newFixture(t, nil)
	f.provider.response = "sure, here is my analysis without any json"

	res := f.sched.TriggerNow(context.Background(), TriggerTimer)
	require.NoError(t, res.Err, "parse failures never bubble as cycle errors")
	assert.Equal(t, engine.NoOp(), res.Decision)
	assert.Zero(t, f.sink.total())

	f.sched.mu.Lock()
	assert.Equal(t, uint64(1), f.sched.backoffMult, "parse failures do not back off")
	f.sched.mu.Unlock()
}

func TestTriggerNow_SingleFlight(t *testing.T) {
	f := newFixture(t, nil)
	f.provider.delay = 30 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.sched.TriggerNow(context.Background(), TriggerTimer)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), f.provider.maxObserved.Load(), "cycles must never overlap")
}

func TestAccept_CoalescesLastWriteWins(t *testing.T) {
	f := newFixture(t, nil)

	f.sched.accept(TriggerOnError)
	f.sched.accept(TriggerOnGitConflict)

	f.sched.mu.Lock()
	require.NotNil(t, f.sched.pending)
	assert.Equal(t, TriggerOnGitConflict, *f.sched.pending)
	assert.Equal(t, StatePending, f.sched.state)
	f.sched.mu.Unlock()
}

func TestAccept_DropsDisabledTrigger(t *testing.T) {
	f := newFixture(t, func(st *config.Settings) {
		st.ProactiveTriggers.OnError = false
	})

	f.sched.accept(TriggerOnError)

	f.sched.mu.Lock()
	assert.Nil(t, f.sched.pending)
	assert.Equal(t, StateIdle, f.sched.state)
	f.sched.mu.Unlock()
}

func TestTrigger_ChannelReplacesQueuedEvent(t *testing.T) {
	f := newFixture(t, nil)

	f.sched.Trigger(TriggerOnError)
	f.sched.Trigger(TriggerOnGitConflict)

	select {
	case ev := <-f.sched.triggerCh:
		assert.Equal(t, TriggerOnGitConflict, ev)
	default:
		t.Fatal("expected a queued trigger")
	}
	select {
	case ev := <-f.sched.triggerCh:
		t.Fatalf("unexpected second trigger %s", ev)
	default:
	}
}

func TestNextWake_CooldownFloor(t *testing.T) {
	f := newFixture(t, nil)

	base := time.Now()
	f.sched.now = func() time.Time { return base }
	f.sched.mu.Lock()
	f.sched.lastCompleted = base
	f.sched.cooldownUntil = base.Add(cooldownDuration)
	ev := TriggerOnError
	f.sched.pending = &ev
	f.sched.lastPriorityRun = base.Add(-time.Hour)
	f.sched.mu.Unlock()

	wake := f.sched.nextWake()
	assert.False(t, wake.Before(base.Add(cooldownDuration)),
		"priority trigger must still wait out the cooldown")
}

func TestNextWake_PriorityBypassesInterval(t *testing.T) {
	f := newFixture(t, nil)

	base := time.Now()
	f.sched.now = func() time.Time { return base }
	f.sched.mu.Lock()
	f.sched.lastCompleted = base.Add(-time.Second)
	f.sched.lastPriorityRun = base.Add(-time.Hour)
	f.sched.cooldownUntil = base
	ev := TriggerOnError
	f.sched.pending = &ev
	f.sched.mu.Unlock()

	wake := f.sched.nextWake()
	assert.True(t, wake.Before(base.Add(time.Second)),
		"priority trigger runs well before the %v interval", f.settings.Interval())
}

func TestNextWake_PriorityRateLimited(t *testing.T) {
	f := newFixture(t, nil)

	base := time.Now()
	f.sched.now = func() time.Time { return base }
	f.sched.mu.Lock()
	f.sched.lastPriorityRun = base.Add(-priorityGap / 2)
	ev := TriggerOnError
	f.sched.pending = &ev
	f.sched.mu.Unlock()

	wake := f.sched.nextWake()
	assert.False(t, wake.Before(base.Add(priorityGap/2)),
		"back-to-back priority runs must keep the minimum gap")
}

func TestNextWake_DisabledParks(t *testing.T) {
	f := newFixture(t, func(st *config.Settings) {
		st.Enabled = false
	})

	wake := f.sched.nextWake()
	assert.True(t, wake.After(time.Now().Add(time.Hour)))
}

func TestState_CooldownDecaysToIdle(t *testing.T) {
	f := newFixture(t, nil)

	base := time.Now()
	now := base
	var mu sync.Mutex
	f.sched.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	f.sched.TriggerNow(context.Background(), TriggerTimer)
	assert.Equal(t, StateCooldown, f.sched.State())

	mu.Lock()
	now = base.Add(cooldownDuration + time.Second)
	mu.Unlock()
	assert.Equal(t, StateIdle, f.sched.State())
}

func TestUpdateSettings_RebuildsPolicy(t *testing.T) {
	f := newFixture(t, nil)

	st := f.settings
	st.VoiceEnabled = true
	f.sched.applySettings(st)

	res := f.sched.TriggerNow(context.Background(), TriggerTimer)
	require.NoError(t, res.Err)
	assert.True(t, res.Emitted)
	assert.Len(t, f.sink.spoken, 1)
	assert.Empty(t, f.sink.notifications)
}

func TestRun_StopTerminatesLoop(t *testing.T) {
	f := newFixture(t, nil)

	done := make(chan error, 1)
	go func() { done <- f.sched.Run(context.Background()) }()

	f.sched.Stop()
	f.sched.Stop() // idempotent

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestRun_ContextCancelTerminatesLoop(t *testing.T) {
	f := newFixture(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sched.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_CoalescedTimerTriggersOneCall(t *testing.T) {
	f := newFixture(t, func(st *config.Settings) {
		st.IntervalSeconds = 1
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.sched.Run(ctx) }()

	// Two timer triggers inside one interval, with an edit in between.
	f.sched.Trigger(TriggerTimer)
	f.sess.editLine(5, "\treturn sanitize(name)")
	f.sched.Trigger(TriggerTimer)

	require.Eventually(t, func() bool {
		return f.provider.calls.Load() >= 1
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(1), f.provider.calls.Load(),
		"coalesced triggers collapse into one provider call per interval")
	assert.Contains(t, f.provider.lastPrompt(), "sanitize(name)",
		"the cycle samples the session as of the later trigger")

	cancel()
	<-done
}

func TestRun_PriorityTriggerRunsPromptly(t *testing.T) {
	f := newFixture(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.sched.Run(ctx) }()

	f.sess.mu.Lock()
	f.sess.diagnostics = append(f.sess.diagnostics, fakeDiag())
	f.sess.mu.Unlock()
	f.sched.Trigger(TriggerOnError)

	require.Eventually(t, func() bool {
		return f.provider.calls.Load() >= 1
	}, 3*time.Second, 10*time.Millisecond, "priority trigger should run without waiting the interval")

	cancel()
	<-done
}
