// ABOUTME: TTL cache remembering which message a client retry key already produced
// ABOUTME: Lets a resent message return the original instead of persisting a duplicate

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// sweepInterval is how often expired keys are dropped in the background.
const sweepInterval = time.Minute

type entry struct {
	key      string
	value    string
	storedAt time.Time
}

// Cache maps idempotency keys to the id of the message they produced.
//
// Entries live for ttl. order holds entries oldest first: Remember always
// stores at the back with the current time, so expiry and capacity
// eviction both pop from the front.
type Cache struct {
	mu      sync.Mutex
	byKey   map[string]*list.Element
	order   *list.List
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// New starts a cache and its background sweeper. Call Close to stop it.
func New(ttl time.Duration, maxSize int) *Cache {
	c := newCache(ttl, maxSize, time.Now)
	go c.sweepLoop()
	return c
}

func newCache(ttl time.Duration, maxSize int, now func() time.Time) *Cache {
	return &Cache{
		byKey:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: max(maxSize, 1),
		now:     now,
		stop:    make(chan struct{}),
	}
}

// Key scopes a client-supplied id to one sender in one conversation.
func Key(conversationID, senderID, clientID string) string {
	return conversationID + "\x00" + senderID + "\x00" + clientID
}

// Lookup returns the remembered value for key unless it has expired.
func (c *Cache) Lookup(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.byKey[key]
	if !ok {
		return "", false
	}
	e := el.Value.(*entry)
	if c.expired(e) {
		c.remove(el)
		return "", false
	}
	return e.value, true
}

// Remember stores value under key. Re-remembering a key restarts its TTL.
func (c *Cache) Remember(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.byKey[key]; ok {
		c.remove(el)
	}
	for c.order.Len() >= c.maxSize {
		c.remove(c.order.Front())
	}
	c.byKey[key] = c.order.PushBack(&entry{key: key, value: value, storedAt: c.now()})
}

// Forget drops key, used when the remembered message no longer exists.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.byKey[key]; ok {
		c.remove(el)
	}
}

// Len counts stored entries, including expired ones not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Close stops the sweeper. Safe to call more than once.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache) expired(e *entry) bool {
	return c.now().Sub(e.storedAt) >= c.ttl
}

// remove unlinks el. mu must be held.
func (c *Cache) remove(el *list.Element) {
	e := c.order.Remove(el).(*entry)
	delete(c.byKey, e.key)
}

// sweep drops expired entries from the front and returns how many went.
func (c *Cache) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for el := c.order.Front(); el != nil && c.expired(el.Value.(*entry)); el = c.order.Front() {
		c.remove(el)
		n++
	}
	return n
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}
