package cache

import (
	"container/list"
	"sync"
)

// ByteLRU is a string-to-string cache bounded by total byte size rather
// than entry count. The cost of an entry is len(key)+len(value). When an
// insert pushes the total over the budget, least recently used entries are
// evicted until it fits again.
type ByteLRU struct {
	mu    sync.Mutex
	max   int64
	size  int64
	order *list.List // front is most recently used
	items map[string]*list.Element
}

type byteLRUEntry struct {
	key   string
	value string
}

// NewByteLRU creates a ByteLRU with the given byte budget.
func NewByteLRU(maxBytes int64) *ByteLRU {
	return &ByteLRU{
		max:   maxBytes,
		order: list.New(),
		items: make(map[string]*list.Element),
	}
}

// Get looks up key, marking it most recently used on a hit.
func (c *ByteLRU) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return "", false
	}
	c.order.MoveToFront(el)
	return el.Value.(*byteLRUEntry).value, true
}

// Set stores key=value, evicting old entries as needed. An entry larger
// than the whole budget is dropped on the spot.
func (c *ByteLRU) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		e := el.Value.(*byteLRUEntry)
		c.size += int64(len(value)) - int64(len(e.value))
		e.value = value
		c.order.MoveToFront(el)
	} else {
		el := c.order.PushFront(&byteLRUEntry{key: key, value: value})
		c.items[key] = el
		c.size += int64(len(key) + len(value))
	}
	for c.size > c.max && c.order.Len() > 0 {
		c.evictOldest()
	}
}

func (c *ByteLRU) evictOldest() {
	el := c.order.Back()
	if el == nil {
		return
	}
	e := el.Value.(*byteLRUEntry)
	c.order.Remove(el)
	delete(c.items, e.key)
	c.size -= int64(len(e.key) + len(e.value))
}

// Len reports the number of entries.
func (c *ByteLRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Size reports the total retained bytes.
func (c *ByteLRU) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}
