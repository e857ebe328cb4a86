package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "observer.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("observerMode:\n  intervalSeconds: 30\n"), 0644))

	var mu sync.Mutex
	var got []Settings
	w, err := NewWatcher(cfgPath, nil, func(st Settings) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, st)
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(cfgPath, []byte("observerMode:\n  intervalSeconds: 15\n"), 0644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, 3*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, uint64(15), got[len(got)-1].IntervalSeconds)
}

func TestWatcher_ExtraLayersReapplied(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "observer.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("observerMode:\n  minConfidence: 0.5\n"), 0644))

	conf := 0.95
	override := Layer{MinConfidence: &conf}

	var mu sync.Mutex
	var got []Settings
	w, err := NewWatcher(cfgPath, []Layer{override}, func(st Settings) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, st)
	})
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(cfgPath, []byte("observerMode:\n  minConfidence: 0.6\n"), 0644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, 3*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.InDelta(t, 0.95, got[len(got)-1].MinConfidence, 0.001,
		"session layer stays on top of the reloaded file layer")
}

func TestWatcher_StopAfterFailedStart(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "missing", "observer.yaml")

	w, err := NewWatcher(cfgPath, nil, func(Settings) {})
	require.NoError(t, err)
	require.Error(t, w.Start(context.Background()), "watching a nonexistent directory must fail")

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked after failed Start")
	}
}

func TestWatcher_StopIsIdempotentBeforeStart(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "observer.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(""), 0644))

	w, err := NewWatcher(cfgPath, nil, func(Settings) {})
	require.NoError(t, err)
	w.Stop()
	w.Stop()
}
