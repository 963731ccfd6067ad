package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(ttl time.Duration, size int) (*Cache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	return newCache(ttl, size, clock.Now), clock
}

func TestCache_RememberAndLookup(t *testing.T) {
	cache, _ := newTestCache(time.Minute, 10)

	_, ok := cache.Lookup(Key("conv-1", "alice", "tmp-1"))
	assert.False(t, ok)

	cache.Remember(Key("conv-1", "alice", "tmp-1"), "msg-1")
	got, ok := cache.Lookup(Key("conv-1", "alice", "tmp-1"))
	require.True(t, ok)
	assert.Equal(t, "msg-1", got)
}

func TestCache_Expiry(t *testing.T) {
	cache, clock := newTestCache(time.Minute, 10)
	cache.Remember("k", "msg-1")

	clock.Advance(59 * time.Second)
	_, ok := cache.Lookup("k")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = cache.Lookup("k")
	assert.False(t, ok)
	assert.Zero(t, cache.Len(), "expired entry is dropped on lookup")
}

func TestCache_RememberRestartsTTL(t *testing.T) {
	cache, clock := newTestCache(time.Minute, 10)
	cache.Remember("k", "first")
	clock.Advance(40 * time.Second)
	cache.Remember("k", "second")
	clock.Advance(40 * time.Second)

	got, ok := cache.Lookup("k")
	require.True(t, ok)
	assert.Equal(t, "second", got)
	assert.Equal(t, 1, cache.Len())
}

func TestCache_Forget(t *testing.T) {
	cache, _ := newTestCache(time.Minute, 10)
	cache.Remember("k", "v")
	cache.Forget("k")
	cache.Forget("missing")

	_, ok := cache.Lookup("k")
	assert.False(t, ok)
	assert.Zero(t, cache.Len())
}

func TestCache_EvictsOldestAtCapacity(t *testing.T) {
	cache, _ := newTestCache(time.Minute, 3)
	cache.Remember("a", "1")
	cache.Remember("b", "2")
	cache.Remember("c", "3")
	cache.Remember("a", "1") // b is now oldest
	cache.Remember("d", "4")

	_, ok := cache.Lookup("b")
	assert.False(t, ok)
	for _, k := range []string{"a", "c", "d"} {
		_, ok := cache.Lookup(k)
		assert.True(t, ok, "key %s", k)
	}
}

func TestCache_SweepDropsOnlyExpired(t *testing.T) {
	cache, clock := newTestCache(time.Minute, 10)
	cache.Remember("old-1", "x")
	cache.Remember("old-2", "y")
	clock.Advance(2 * time.Minute)
	cache.Remember("fresh", "z")

	assert.Equal(t, 2, cache.sweep())
	assert.Equal(t, 1, cache.Len())
	_, ok := cache.Lookup("fresh")
	assert.True(t, ok)
}

func TestCache_Concurrent(t *testing.T) {
	cache := New(5*time.Minute, 1000)
	defer cache.Close()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Go(func() {
			key := fmt.Sprintf("key-%d", i)
			cache.Remember(key, key)
			got, ok := cache.Lookup(key)
			assert.True(t, ok)
			assert.Equal(t, key, got)
		})
	}
	wg.Wait()
	assert.Equal(t, 50, cache.Len())
}

func TestCache_CloseTwice(t *testing.T) {
	cache := New(time.Minute, 10)
	cache.Close()
	cache.Close()
}

func TestKey_ScopesBySenderAndConversation(t *testing.T) {
	assert.NotEqual(t, Key("conv-1", "a", "c1"), Key("conv-1", "b", "c1"))
	assert.NotEqual(t, Key("conv-1", "a", "c1"), Key("conv-2", "a", "c1"))
	assert.Equal(t, Key("conv-1", "a", "c1"), Key("conv-1", "a", "c1"))
}
