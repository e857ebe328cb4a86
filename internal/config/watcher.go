package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"codewatch/internal/logging"
)

// Watcher watches the observer config file for changes and re-resolves the
// effective settings when it is rewritten. Editors save with rename-and-write
// as often as plain writes, so the parent directory is watched rather than
// the file itself.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	path        string
	extraLayers []Layer
	onChange    func(Settings)
	debounceDur time.Duration
	lastEvent   time.Time
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
}

// NewWatcher creates a watcher for the given config file path. onChange is
// invoked with the freshly resolved snapshot after every settled change;
// extraLayers are re-applied on top of the file layer in listed order.
func NewWatcher(path string, extraLayers []Layer, onChange func(Settings)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:     fw,
		path:        path,
		extraLayers: extraLayers,
		onChange:    onChange,
		debounceDur: 500 * time.Millisecond, // Absorb rapid editor saves
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; the watch loop runs in a goroutine.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	// Mark running only once the watch is in place: a failed Add must leave
	// the watcher stoppable without waiting on a loop that never started.
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		w.mu.Unlock()
		return err
	}
	w.running = true
	w.mu.Unlock()

	go w.loop(ctx)
	logging.Get(logging.CategoryConfig).Info("watching %s for settings changes", w.path)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.doneCh)
	log := logging.Get(logging.CategoryConfig)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			w.mu.Lock()
			if time.Since(w.lastEvent) < w.debounceDur {
				w.mu.Unlock()
				continue
			}
			w.lastEvent = time.Now()
			w.mu.Unlock()

			layer, err := LoadLayer(w.path)
			if err != nil {
				log.Warn("settings reload failed, keeping previous snapshot: %v", err)
				continue
			}
			layers := append([]Layer{layer}, w.extraLayers...)
			resolved := Resolve(layers...)
			log.Info("settings reloaded from %s", w.path)
			w.onChange(resolved)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("watch error: %v", err)
		}
	}
}

// Stop shuts the watcher down and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	w.watcher.Close()
	<-w.doneCh
}
