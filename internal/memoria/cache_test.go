package memoria

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codewatch/internal/engine"
)

func speakDecision(s string) engine.Decision {
	return engine.Decision{ShouldSpeak: true, Confidence: 0.9, Suggestion: s}
}

func TestDecisionCache_HitMiss(t *testing.T) {
	c := NewDecisionCache(4, time.Minute)

	_, ok := c.Get("fp1")
	assert.False(t, ok)

	c.Put("fp1", speakDecision("one"))
	got, ok := c.Get("fp1")
	require.True(t, ok)
	assert.Equal(t, "one", got.Suggestion)
}

func TestDecisionCache_TTLExpiry(t *testing.T) {
	c := NewDecisionCache(4, 50*time.Millisecond)

	now := time.Now()
	c.now = func() time.Time { return now }
	c.Put("fp1", speakDecision("one"))

	// Within TTL.
	_, ok := c.Get("fp1")
	assert.True(t, ok)

	// Past TTL.
	c.now = func() time.Time { return now.Add(100 * time.Millisecond) }
	_, ok = c.Get("fp1")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry removed")
}

func TestDecisionCache_LRUEviction(t *testing.T) {
	c := NewDecisionCache(3, time.Minute)

	for i := 1; i <= 3; i++ {
		c.Put(fmt.Sprintf("fp%d", i), speakDecision(fmt.Sprintf("s%d", i)))
	}

	// Touch fp1 so fp2 becomes the eviction candidate.
	_, ok := c.Get("fp1")
	require.True(t, ok)

	c.Put("fp4", speakDecision("s4"))

	_, ok = c.Get("fp2")
	assert.False(t, ok, "least recently used entry evicted")
	_, ok = c.Get("fp1")
	assert.True(t, ok)
	_, ok = c.Get("fp4")
	assert.True(t, ok)
	assert.Equal(t, 3, c.Len())
}

func TestDecisionCache_Overwrite(t *testing.T) {
	c := NewDecisionCache(4, time.Minute)

	c.Put("fp1", speakDecision("old"))
	c.Put("fp1", speakDecision("new"))

	got, ok := c.Get("fp1")
	require.True(t, ok)
	assert.Equal(t, "new", got.Suggestion)
	assert.Equal(t, 1, c.Len())
}

func TestMemoryHistory_Cooldown(t *testing.T) {
	h := NewMemoryHistory()

	seen, err := h.SeenWithin("hash1", 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, h.Record("hash1", time.Now()))

	seen, err = h.SeenWithin("hash1", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestMemoryHistory_WindowExpired(t *testing.T) {
	h := NewMemoryHistory()
	require.NoError(t, h.Record("hash1", time.Now().Add(-10*time.Minute)))

	seen, err := h.SeenWithin("hash1", 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, seen, "emission outside the window does not suppress")
}
