// ABOUTME: Tests for the fire-once claim cache
// ABOUTME: Covers claim/release, expiry, eviction order, sweeping and concurrent claims

package dedupe

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock lets tests move time without sleeping.
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
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(ttl, size)
	c.now = clock.Now
	return c, clock
}

func TestCache_ClaimOnce(t *testing.T) {
	c, _ := newTestCache(time.Minute, 10)
	defer c.Close()

	assert.True(t, c.Claim("group-1"))
	assert.False(t, c.Claim("group-1"), "second claim must lose")
	assert.True(t, c.Held("group-1"))
	assert.False(t, c.Held("group-2"))
}

func TestCache_ReleaseAllowsRetry(t *testing.T) {
	c, _ := newTestCache(time.Minute, 10)
	defer c.Close()

	assert.True(t, c.Claim("group-1"))
	c.Release("group-1")
	assert.False(t, c.Held("group-1"))
	assert.True(t, c.Claim("group-1"))

	c.Release("never-claimed")
}

func TestCache_ClaimExpires(t *testing.T) {
	c, clock := newTestCache(time.Minute, 10)
	defer c.Close()

	assert.True(t, c.Claim("group-1"))
	clock.Advance(59 * time.Second)
	assert.False(t, c.Claim("group-1"))

	clock.Advance(2 * time.Second)
	assert.False(t, c.Held("group-1"))
	assert.True(t, c.Claim("group-1"))
}

func TestCache_EvictsOldest(t *testing.T) {
	c, clock := newTestCache(time.Hour, 3)
	defer c.Close()

	for _, k := range []string{"a", "b", "c"} {
		assert.True(t, c.Claim(k))
		clock.Advance(time.Second)
	}
	assert.True(t, c.Claim("d"))

	assert.False(t, c.Held("a"), "oldest claim should be evicted")
	assert.True(t, c.Held("b"))
	assert.True(t, c.Held("d"))
	assert.Equal(t, 3, c.Len())
}

func TestCache_SweepRemovesExpired(t *testing.T) {
	c, clock := newTestCache(time.Minute, 10)
	defer c.Close()

	c.Claim("old-1")
	c.Claim("old-2")
	clock.Advance(2 * time.Minute)
	c.Claim("fresh")

	c.sweep()

	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Held("fresh"))
}

func TestCache_ConcurrentClaimHasOneWinner(t *testing.T) {
	c := New(time.Minute, 100)
	defer c.Close()

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Claim("contested") {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestCache_CloseTwice(t *testing.T) {
	c := New(time.Minute, 10)
	c.Close()
	c.Close()
}
