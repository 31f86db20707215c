// Package idempotency owns the client-side duplicate-effect guard.
//
// Ownership boundary:
// - msg_id -> outcome records, bounded LRU with fixed TTL
//
// Records outlive the commands that produced them so a response arriving
// late, after a local retry already fired, is still recognized.
package idempotency

import (
	"container/list"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrInvalidCache = errors.New("idempotency: invalid cache config")

// Outcome is the terminal result recorded for a msg_id.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// Record is one stored outcome. RecordedAt anchors the fixed TTL: expiry is
// measured from insertion, never refreshed on lookup.
type Record struct {
	Outcome    Outcome
	RecordedAt time.Time
}

type entry struct {
	msgID string
	rec   Record
}

// Cache is a bounded, internally synchronized outcome store. At most one
// record exists per msg_id; the least-recently-used entry is evicted when
// the cache is at capacity.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	now      func() time.Time

	order *list.List // front = most recently used
	items map[string]*list.Element
}

func New(capacity int, ttl time.Duration) (*Cache, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity must be positive", ErrInvalidCache)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: ttl must be positive", ErrInvalidCache)
	}
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
	}, nil
}

// Record stores outcome under msgID, replacing any existing record for the
// same key. Re-recording restarts the TTL from now.
func (c *Cache) Record(msgID string, outcome Outcome) {
	if msgID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.items[msgID]; ok {
		el.Value.(*entry).rec = Record{Outcome: outcome, RecordedAt: now}
		c.order.MoveToFront(el)
		return
	}

	c.sweepExpiredLocked(now)
	if len(c.items) >= c.capacity {
		c.evictOldestLocked()
	}
	el := c.order.PushFront(&entry{msgID: msgID, rec: Record{Outcome: outcome, RecordedAt: now}})
	c.items[msgID] = el
}

// Lookup returns the recorded outcome for msgID, if present and unexpired.
// A hit refreshes recency order only; the TTL clock is not touched.
func (c *Cache) Lookup(msgID string) (Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[msgID]
	if !ok {
		return "", false
	}
	e := el.Value.(*entry)
	if c.now().Sub(e.rec.RecordedAt) >= c.ttl {
		c.order.Remove(el)
		delete(c.items, msgID)
		return "", false
	}
	c.order.MoveToFront(el)
	return e.rec.Outcome, true
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Cache) sweepExpiredLocked(now time.Time) {
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		e := el.Value.(*entry)
		if now.Sub(e.rec.RecordedAt) >= c.ttl {
			c.order.Remove(el)
			delete(c.items, e.msgID)
		}
		el = prev
	}
}

func (c *Cache) evictOldestLocked() {
	el := c.order.Back()
	if el == nil {
		return
	}
	e := el.Value.(*entry)
	c.order.Remove(el)
	delete(c.items, e.msgID)
}
