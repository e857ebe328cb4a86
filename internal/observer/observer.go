// Package observer ties the pipeline together behind an explicit handle:
// Initialize builds one observer per editing session, Run drives its
// background worker, TriggerNow is the synchronous test hook, and Shutdown
// releases everything on all exit paths. No process-wide state.
package observer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"codewatch/internal/config"
	"codewatch/internal/dispatch"
	"codewatch/internal/engine"
	"codewatch/internal/logging"
	"codewatch/internal/memoria"
	"codewatch/internal/perception"
	"codewatch/internal/scheduler"
	"codewatch/internal/session"
	"codewatch/internal/store"
)

// Options configures Initialize. Zero values select sensible defaults;
// Session, Sink, and Provider are injection points for hosts and tests.
type Options struct {
	// ConfigPath is the observer config file. Optional.
	ConfigPath string

	// Workspace is the project root (git status, logs, history DB).
	Workspace string

	// Layers are extra override layers applied after the config file.
	Layers []config.Layer

	// Session overrides the default filesystem-backed session.
	Session session.Session

	// Sink overrides the default desktop sink.
	Sink dispatch.Sink

	// Provider overrides provider selection from settings.
	Provider perception.Provider

	// WatchConfig enables hot-reload of the config file.
	WatchConfig bool
}

// Observer is the handle owning one session's observation loop.
type Observer struct {
	settings   config.Settings
	sess       session.Session
	sched      *scheduler.Scheduler
	dispatcher *dispatch.Dispatcher
	history    memoria.History
	watcher    *config.Watcher

	shutdownOnce sync.Once
}

// Initialize resolves settings and wires the pipeline. The background
// worker does not start until Run.
func Initialize(opts Options) (*Observer, error) {
	var layers []config.Layer
	if opts.ConfigPath != "" {
		fileLayer, err := config.LoadLayer(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
		layers = append(layers, fileLayer)
	}
	layers = append(layers, opts.Layers...)
	st := config.Resolve(layers...)

	if err := logging.Initialize(opts.Workspace, st.Logging.DebugMode, st.Logging.Level); err != nil {
		// Logging failure degrades to no-op loggers, never blocks startup.
		fmt.Printf("warning: logging unavailable: %v\n", err)
	}

	sess := opts.Session
	if sess == nil {
		sess = session.NewLocalSession(opts.Workspace)
	}

	sink := opts.Sink
	if sink == nil {
		sink = dispatch.NewExecSink()
	}

	var history memoria.History
	if st.HistoryPath != "" {
		hs, err := store.NewHistoryStore(st.HistoryPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open history store: %w", err)
		}
		history = hs
	} else {
		history = memoria.NewMemoryHistory()
	}

	dispatcher := dispatch.New(sink, history, st.VoiceEnabled, st.Cooldown())
	cache := memoria.NewDecisionCache(st.CacheCapacity, st.CacheTTL())

	newEngine := func(s config.Settings) (*engine.Engine, error) {
		provider := opts.Provider
		if provider == nil {
			var err error
			provider, err = perception.NewFromSettings(context.Background(), s)
			if err != nil {
				return nil, err
			}
		}
		return engine.New(provider, s.ModelID, s.ProviderTimeout()), nil
	}

	sched, err := scheduler.New(sess, st, cache, dispatcher, newEngine)
	if err != nil {
		history.Close()
		return nil, err
	}

	o := &Observer{
		settings:   st,
		sess:       sess,
		sched:      sched,
		dispatcher: dispatcher,
		history:    history,
	}

	if opts.WatchConfig && opts.ConfigPath != "" {
		w, err := config.NewWatcher(opts.ConfigPath, opts.Layers, sched.UpdateSettings)
		if err != nil {
			logging.Get(logging.CategoryConfig).Warn("config watcher unavailable: %v", err)
		} else {
			o.watcher = w
		}
	}

	logging.Get(logging.CategoryBoot).Info("observer initialized (enabled=%v, provider=%s, model=%s)",
		st.Enabled, st.Provider.Name, st.ModelID)
	return o, nil
}

// Run drives the background worker until ctx is cancelled or Shutdown is
// called. Blocking; callers usually run it in a goroutine.
func (o *Observer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return o.sched.Run(ctx)
	})

	if o.watcher != nil {
		if err := o.watcher.Start(ctx); err != nil {
			logging.Get(logging.CategoryConfig).Warn("config watch failed: %v", err)
		}
	}

	if hs, ok := o.history.(*store.HistoryStore); ok {
		g.Go(func() error {
			ticker := time.NewTicker(1 * time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if _, err := hs.Prune(7 * 24 * time.Hour); err != nil {
						logging.Get(logging.CategoryStore).Warn("prune failed: %v", err)
					}
				}
			}
		})
	}

	return g.Wait()
}

// Trigger delivers an event to the scheduler (coalescing applies).
func (o *Observer) Trigger(ev scheduler.TriggerKind) {
	o.sched.Trigger(ev)
}

// TriggerNow runs one cycle synchronously, bypassing the timer. Test hook
// and `once` mode.
func (o *Observer) TriggerNow(ctx context.Context, ev scheduler.TriggerKind) (engine.Decision, error) {
	res := o.sched.TriggerNow(ctx, ev)
	return res.Decision, res.Err
}

// UpdateSettings funnels a replacement snapshot through the scheduler.
func (o *Observer) UpdateSettings(st config.Settings) {
	o.sched.UpdateSettings(st)
}

// Feedback records the user's accept/dismiss response for a suggestion.
func (o *Observer) Feedback(suggestion string, accepted bool) error {
	return o.dispatcher.Feedback(suggestion, accepted)
}

// Settings returns the snapshot resolved at Initialize.
func (o *Observer) Settings() config.Settings {
	return o.settings
}

// Shutdown releases the background worker, the watcher, and the history
// store. Idempotent; safe on all exit paths.
func (o *Observer) Shutdown() {
	o.shutdownOnce.Do(func() {
		o.sched.Stop()
		if o.watcher != nil {
			o.watcher.Stop()
		}
		if err := o.history.Close(); err != nil {
			logging.Get(logging.CategoryStore).Warn("history close failed: %v", err)
		}
		logging.Get(logging.CategoryBoot).Info("observer shut down")
		logging.CloseAll()
	})
}
