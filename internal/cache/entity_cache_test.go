package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestGetPutInvalidate(t *testing.T) {
	c := New[string](10, time.Minute)

	_, ok := c.Get("product:workshop:1")
	assert.False(t, ok)

	c.Put("product:workshop:1", "Intro to Go", 0)
	v, ok := c.Get("product:workshop:1")
	assert.True(t, ok)
	assert.Equal(t, "Intro to Go", v)

	c.Invalidate("product:workshop:1")
	_, ok = c.Get("product:workshop:1")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(2), stats.Misses)
}

func TestEntriesExpire(t *testing.T) {
	clock := newClock()
	c := New[int](10, 5*time.Minute, WithClock(clock.Now))

	c.Put("a", 1, 0)
	c.Put("b", 2, 10*time.Minute)

	clock.Advance(5 * time.Minute)

	_, ok := c.Get("a")
	assert.False(t, ok, "entry at its ttl boundary is expired")
	v, ok := c.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestPutRefreshesExpiry(t *testing.T) {
	clock := newClock()
	c := New[int](10, time.Minute, WithClock(clock.Now))

	c.Put("k", 1, 0)
	clock.Advance(50 * time.Second)
	c.Put("k", 2, 0)
	clock.Advance(50 * time.Second)

	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestBoundedEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[int](2, time.Minute)

	c.Put("a", 1, 0)
	c.Put("b", 2, 0)
	c.Get("a")
	c.Put("c", 3, 0)

	_, okA := c.Get("a")
	_, okB := c.Get("b")
	_, okC := c.Get("c")
	assert.True(t, okA)
	assert.False(t, okB)
	assert.True(t, okC)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, uint64(1), c.Stats().Evictions)
}

func TestBoundedPrefersExpiredVictim(t *testing.T) {
	clock := newClock()
	c := New[int](2, time.Minute, WithClock(clock.Now))

	c.Put("fresh", 1, time.Hour)
	c.Put("stale", 2, time.Second)
	c.Get("stale")
	clock.Advance(2 * time.Second)
	c.Put("new", 3, 0)

	_, ok := c.Get("fresh")
	assert.True(t, ok)
	_, ok = c.Get("new")
	assert.True(t, ok)
}

func TestInvalidatePrefix(t *testing.T) {
	c := New[int](0, time.Minute)
	c.Put("purchases:user:1", 1, 0)
	c.Put("purchases:user:2", 2, 0)
	c.Put("product:course:9", 3, 0)

	n := c.InvalidatePrefix("purchases:")

	assert.Equal(t, 2, n)
	assert.Equal(t, 1, c.Len())
}

func TestPurgeDropsExpired(t *testing.T) {
	clock := newClock()
	c := New[int](0, time.Minute, WithClock(clock.Now))
	c.Put("a", 1, time.Second)
	c.Put("b", 2, time.Hour)
	clock.Advance(time.Minute)

	assert.Equal(t, 1, c.Purge())
	assert.Equal(t, 1, c.Len())
}

func TestInstancesAreIsolated(t *testing.T) {
	first := New[int](0, time.Minute)
	second := New[int](0, time.Minute)

	first.Put("k", 1, 0)

	_, ok := second.Get("k")
	assert.False(t, ok)
}

func TestConcurrentAccess(t *testing.T) {
	c := New[int](50, time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := string(rune('a' + (n+j)%26))
				c.Put(key, j, 0)
				c.Get(key)
				if j%10 == 0 {
					c.Invalidate(key)
				}
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 50)
}
