// Package cache provides a small keyed LRU cache. It backs the proxy layer's
// schema and result memoization; the engine itself does not use it.
package cache

import "sync"

// LRU is a bounded, thread-safe LRU cache from string keys to string values.
type LRU struct {
	mu  sync.Mutex
	cap int

	// Doubly-linked list for recency ordering (most recent at head).
	head, tail *entry
	items      map[string]*entry
}

type entry struct {
	key   string
	value string
	prev  *entry
	next  *entry
}

// New creates a cache holding at most cap entries. Capacity must be >= 1.
func New(cap int) *LRU {
	if cap < 1 {
		cap = 1
	}
	return &LRU{
		cap:   cap,
		items: make(map[string]*entry, cap),
	}
}

// Get returns the cached value and promotes the entry.
func (c *LRU) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok {
		return "", false
	}
	c.moveToFront(e)
	return e.value, true
}

// Put inserts or updates the value, evicting the least recently used entry
// when over capacity.
func (c *LRU) Put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}
	e := &entry{key: key, value: value}
	c.items[key] = e
	c.pushFront(e)
	if len(c.items) > c.cap {
		c.evict()
	}
}

// Len returns the number of cached entries.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *LRU) pushFront(e *entry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *LRU) moveToFront(e *entry) {
	if c.head == e {
		return
	}
	c.remove(e)
	c.pushFront(e)
}

func (c *LRU) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

func (c *LRU) evict() {
	if c.tail == nil {
		return
	}
	e := c.tail
	c.remove(e)
	delete(c.items, e.key)
}
