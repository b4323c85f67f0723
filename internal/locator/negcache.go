package locator

import (
	"sync"
	"time"
)

// negativeCache remembers identifiers that were confirmed absent so repeated
// lookups for them do not each trigger a control plane refresh. Entries
// expire after ttl so identifiers created later are eventually found.
type negativeCache struct {
	ttl     time.Duration
	maxSize int

	mu    sync.Mutex
	items map[string]*negItem
	head  *negItem // newest
	tail  *negItem // oldest
}

type negItem struct {
	key        string
	insertedAt time.Time
	prev       *negItem
	next       *negItem
}

func newNegativeCache(ttl time.Duration, maxSize int) *negativeCache {
	return &negativeCache{ttl: ttl, maxSize: maxSize, items: map[string]*negItem{}}
}

// Contains reports whether key has an unexpired entry. Expired entries are
// dropped on the way.
func (c *negativeCache) Contains(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key]
	if !ok {
		return false
	}
	if now.Sub(it.insertedAt) >= c.ttl {
		c.removeLocked(it)
		return false
	}
	return true
}

// Insert upserts key. Concurrent inserts for the same key are harmless; the
// last one wins.
func (c *negativeCache) Insert(key string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if it, ok := c.items[key]; ok {
		it.insertedAt = now
		c.moveToFront(it)
		return
	}

	for c.maxSize > 0 && len(c.items) >= c.maxSize && c.tail != nil {
		c.removeLocked(c.tail)
	}

	it := &negItem{key: key, insertedAt: now}
	c.items[key] = it
	c.addToFront(it)
}

func (c *negativeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *negativeCache) removeLocked(it *negItem) {
	c.unlink(it)
	delete(c.items, it.key)
}

func (c *negativeCache) addToFront(it *negItem) {
	it.prev = nil
	it.next = c.head
	if c.head != nil {
		c.head.prev = it
	}
	c.head = it
	if c.tail == nil {
		c.tail = it
	}
}

func (c *negativeCache) unlink(it *negItem) {
	if it.prev != nil {
		it.prev.next = it.next
	} else {
		c.head = it.next
	}
	if it.next != nil {
		it.next.prev = it.prev
	} else {
		c.tail = it.prev
	}
	it.prev, it.next = nil, nil
}

func (c *negativeCache) moveToFront(it *negItem) {
	if c.head == it {
		return
	}
	c.unlink(it)
	c.addToFront(it)
}
