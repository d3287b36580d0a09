// Package cache holds the small in-process TTL/LRU cache used by the edge
// router in front of the resolver.
package cache

import (
	"container/list"
	"sync"
	"time"
)

type entry[K comparable, V any] struct {
	key      K
	value    V
	storedAt time.Time
}

// TTL is a size-bounded LRU whose entries expire ttl after they were stored.
// Safe for concurrent use.
type TTL[K comparable, V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	size    int
	now     func() time.Time
	order   *list.List
	entries map[K]*list.Element
}

type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// NewTTL creates a cache. size <= 0 means unbounded.
func NewTTL[K comparable, V any](ttl time.Duration, size int, opts ...Option) *TTL[K, V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &TTL[K, V]{
		ttl:     ttl,
		size:    size,
		now:     o.now,
		order:   list.New(),
		entries: make(map[K]*list.Element),
	}
}

// Get returns the value for key if it was stored less than ttl ago.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	e := el.Value.(*entry[K, V])
	if c.now().Sub(e.storedAt) >= c.ttl {
		c.remove(el)
		return zero, false
	}
	c.order.MoveToFront(el)
	return e.value, true
}

func (c *TTL[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry[K, V])
		e.value = value
		e.storedAt = c.now()
		c.order.MoveToFront(el)
		return
	}

	c.entries[key] = c.order.PushFront(&entry[K, V]{key: key, value: value, storedAt: c.now()})
	if c.size > 0 && c.order.Len() > c.size {
		c.remove(c.order.Back())
	}
}

func (c *TTL[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.remove(el)
	}
}

// Len counts stored entries, expired ones included until they are touched.
func (c *TTL[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *TTL[K, V]) remove(el *list.Element) {
	c.order.Remove(el)
	delete(c.entries, el.Value.(*entry[K, V]).key)
}
