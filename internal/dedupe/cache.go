// ABOUTME: TTL and size bounded key set for fire-once operations
// ABOUTME: Claim is atomic so concurrent callers cannot both win the same key

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type claim struct {
	at      time.Time
	element *list.Element
}

// Cache holds claimed keys for ttl. When full, the oldest claim is evicted.
type Cache struct {
	mu      sync.Mutex
	claims  map[string]*claim
	order   *list.List // oldest claim at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache and starts its background sweeper. Call Close when done.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1024
	}
	c := &Cache{
		claims:  make(map[string]*claim),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Claim marks key as taken and reports true, or reports false when the key
// is already held and not expired.
func (c *Cache) Claim(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cl, ok := c.claims[key]; ok {
		if c.now().Sub(cl.at) < c.ttl {
			return false
		}
		c.order.Remove(cl.element)
		delete(c.claims, key)
	}

	if len(c.claims) >= c.maxSize {
		c.evictOldest()
	}
	c.claims[key] = &claim{at: c.now(), element: c.order.PushBack(key)}
	return true
}

// Held reports whether key is claimed and not expired.
func (c *Cache) Held(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cl, ok := c.claims[key]
	return ok && c.now().Sub(cl.at) < c.ttl
}

// Release drops a claim so the operation may be attempted again.
func (c *Cache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cl, ok := c.claims[key]; ok {
		c.order.Remove(cl.element)
		delete(c.claims, key)
	}
}

// Len returns the number of stored claims, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.claims)
}

// evictOldest must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.claims, key)
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep removes expired claims. Claims are ordered by time, so it stops at
// the first live one.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for e := c.order.Front(); e != nil; {
		key, _ := e.Value.(string)
		cl := c.claims[key]
		if cl != nil && now.Sub(cl.at) < c.ttl {
			return
		}
		next := e.Next()
		c.order.Remove(e)
		delete(c.claims, key)
		e = next
	}
}

// Close stops the sweeper. It is safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
