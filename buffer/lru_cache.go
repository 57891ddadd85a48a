package buffer

import (
	"errors"
	"heapdb/disk/pages"
	"sync"
)

var ErrCacheFull = errors.New("cache is at capacity")

const nilIdx = -1

type lruNode struct {
	key  pages.PageID
	page *pages.HeapPage
	prev int
	next int
}

// LruCache maps page ids to pages and keeps them in recency order. Nodes live in a preallocated arena and link to
// each other by index, released slots go to a free list. head is the most recently used node, tail the least.
//
// The cache never evicts on its own. Callers make room with EvictOneExcluding before putting a new key into a
// full cache, so they decide which pages may leave.
type LruCache struct {
	mu       sync.Mutex
	nodes    []lruNode
	index    map[pages.PageID]int
	free     []int
	head     int
	tail     int
	capacity int
}

func NewLruCache(capacity int) *LruCache {
	if capacity <= 0 {
		panic("lru cache capacity must be positive")
	}

	free := make([]int, capacity)
	for i := range free {
		// pop from the end hands out slot 0 first
		free[i] = capacity - 1 - i
	}

	return &LruCache{
		nodes:    make([]lruNode, capacity),
		index:    make(map[pages.PageID]int, capacity),
		free:     free,
		head:     nilIdx,
		tail:     nilIdx,
		capacity: capacity,
	}
}

// Get returns the page and marks it most recently used.
func (c *LruCache) Get(pid pages.PageID) (*pages.HeapPage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, ok := c.index[pid]
	if !ok {
		return nil, false
	}

	c.moveToFront(idx)
	return c.nodes[idx].page, true
}

// Peek returns the page without touching recency.
func (c *LruCache) Peek(pid pages.PageID) (*pages.HeapPage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, ok := c.index[pid]
	if !ok {
		return nil, false
	}
	return c.nodes[idx].page, true
}

// Put inserts or overwrites pid and marks it most recently used. Inserting a new key into a full cache returns
// ErrCacheFull.
func (c *LruCache) Put(pid pages.PageID, page *pages.HeapPage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if idx, ok := c.index[pid]; ok {
		c.nodes[idx].page = page
		c.moveToFront(idx)
		return nil
	}

	if len(c.free) == 0 {
		return ErrCacheFull
	}

	idx := c.free[len(c.free)-1]
	c.free = c.free[:len(c.free)-1]
	c.nodes[idx] = lruNode{key: pid, page: page, prev: nilIdx, next: nilIdx}
	c.index[pid] = idx
	c.pushFront(idx)
	return nil
}

// Discard removes pid and reports whether it was present.
func (c *LruCache) Discard(pid pages.PageID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, ok := c.index[pid]
	if !ok {
		return false
	}
	c.remove(idx)
	return true
}

// EvictOneExcluding removes the least recently used page for which skip returns false.
func (c *LruCache) EvictOneExcluding(skip func(pages.PageID, *pages.HeapPage) bool) (pages.PageID, *pages.HeapPage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for idx := c.tail; idx != nilIdx; idx = c.nodes[idx].prev {
		n := c.nodes[idx]
		if skip != nil && skip(n.key, n.page) {
			continue
		}

		c.remove(idx)
		return n.key, n.page, true
	}

	return pages.PageID{}, nil, false
}

// ForEachFromLRU visits pages from least to most recently used until visit returns false. visit must not call
// back into the cache.
func (c *LruCache) ForEachFromLRU(visit func(pages.PageID, *pages.HeapPage) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for idx := c.tail; idx != nilIdx; idx = c.nodes[idx].prev {
		if !visit(c.nodes[idx].key, c.nodes[idx].page) {
			return
		}
	}
}

// Keys returns the cached page ids from least to most recently used.
func (c *LruCache) Keys() []pages.PageID {
	res := make([]pages.PageID, 0, c.capacity)
	c.ForEachFromLRU(func(pid pages.PageID, _ *pages.HeapPage) bool {
		res = append(res, pid)
		return true
	})
	return res
}

func (c *LruCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

func (c *LruCache) Cap() int {
	return c.capacity
}

func (c *LruCache) moveToFront(idx int) {
	if c.head == idx {
		return
	}
	c.unlink(idx)
	c.pushFront(idx)
}

func (c *LruCache) pushFront(idx int) {
	c.nodes[idx].prev = nilIdx
	c.nodes[idx].next = c.head
	if c.head != nilIdx {
		c.nodes[c.head].prev = idx
	}
	c.head = idx
	if c.tail == nilIdx {
		c.tail = idx
	}
}

func (c *LruCache) unlink(idx int) {
	n := &c.nodes[idx]
	if n.prev != nilIdx {
		c.nodes[n.prev].next = n.next
	} else {
		c.head = n.next
	}
	if n.next != nilIdx {
		c.nodes[n.next].prev = n.prev
	} else {
		c.tail = n.prev
	}
	n.prev, n.next = nilIdx, nilIdx
}

func (c *LruCache) remove(idx int) {
	c.unlink(idx)
	delete(c.index, c.nodes[idx].key)
	c.nodes[idx] = lruNode{prev: nilIdx, next: nilIdx}
	c.free = append(c.free, idx)
}
