// Package cache implements a generic, size-budgeted, LRU+TTL container
// whose members are arbitrary Entry implementations. It is the shared
// substrate underneath every cache façade in this module: each façade
// supplies its own Entry type (carrying response headers, a body
// allocation, and so on) and otherwise delegates admission, eviction and
// tag invalidation here.
package cache

import (
	"sync"
	"time"

	"github.com/sandrolain/respcache/logging"
)

// MatchFunc disambiguates entries that share a key, e.g. picking the one
// whose recorded Vary matches the current request.
type MatchFunc func(Entry) bool

// Handler observes admission and eviction, e.g. to update statistics or
// drive a secondary index a façade needs beyond the tag index kept here.
type Handler interface {
	OnItemAdded(Entry)
	OnItemRemoved(Entry)
}

// NopHandler is a Handler that does nothing; the default when none is given.
type NopHandler struct{}

func (NopHandler) OnItemAdded(Entry)   {}
func (NopHandler) OnItemRemoved(Entry) {}

type node struct {
	entry        Entry
	key          string
	lastAccessed time.Time
	removed      bool
	leases       int
	prev, next   *node // LRU list, oldest at head
}

// Now is the clock used for LRU bookkeeping and TTL comparisons. It exists
// as a seam so tests can control expiry without sleeping; production code
// leaves it at the default, time.Now.
type Now func() time.Time

// Cache is a key-indexed, size-budgeted, LRU+TTL container. The zero value
// is not usable; construct with New.
type Cache struct {
	mu      sync.Mutex
	maxSize int64
	size    int64
	handler Handler
	now     Now

	items map[string][]*node
	tags  map[string]map[*node]struct{}
	byPtr map[Entry]*node

	lruHead, lruTail *node

	stopCleanup chan struct{}
}

// Option configures a Cache at construction.
type Option func(*Cache)

// WithHandler installs a Handler notified on admission and eviction.
func WithHandler(h Handler) Option {
	return func(c *Cache) { c.handler = h }
}

// WithClock overrides the time source, for deterministic tests.
func WithClock(now Now) Option {
	return func(c *Cache) { c.now = now }
}

// New constructs a Cache with the given byte budget and starts its
// background expiry sweep (roughly every interval; the spec calls for
// ≈60s). A non-positive interval starts no sweep. Call Close to stop the
// sweep.
func New(maxSize int64, interval time.Duration, opts ...Option) *Cache {
	c := &Cache{
		maxSize: maxSize,
		handler: NopHandler{},
		now:     time.Now,
		items:   make(map[string][]*node),
		tags:    make(map[string]map[*node]struct{}),
		byPtr:   make(map[Entry]*node),
	}
	for _, opt := range opts {
		opt(c)
	}
	if interval > 0 {
		c.stopCleanup = make(chan struct{})
		go c.cleanupLoop(interval)
	}
	return c
}

// Close stops the background expiry sweep. It does not flush the cache.
func (c *Cache) Close() {
	if c.stopCleanup != nil {
		close(c.stopCleanup)
	}
}

func (c *Cache) cleanupLoop(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.expireAll()
		case <-c.stopCleanup:
			return
		}
	}
}

// Size reports the sum of CacheSize() over every live entry.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// MaxSize reports the configured budget.
func (c *Cache) MaxSize() int64 { return c.maxSize }

func (c *Cache) isExpired(n *node, now time.Time) bool {
	return !now.Before(n.entry.CacheExpires()) || !n.entry.Validate()
}

// Get returns the live, non-expired entry for key, or (nil, false). An
// expired entry encountered here is evicted synchronously, matching the
// "evict on touch" rule entries are specified to follow.
func (c *Cache) Get(key string) (Entry, bool) {
	return c.GetMatch(key, nil)
}

// GetMatch is Get, but skips entries for which match returns false. A nil
// match accepts the first (only) entry under the key.
func (c *Cache) GetMatch(key string, match MatchFunc) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	nodes := c.items[key]
	for i := 0; i < len(nodes); i++ {
		n := nodes[i]
		if c.isExpired(n, now) {
			c.evictNode(n)
			nodes = append(nodes[:i], nodes[i+1:]...)
			if len(nodes) == 0 {
				delete(c.items, key)
			} else {
				c.items[key] = nodes
			}
			i--
			continue
		}
		if match != nil && !match(n.entry) {
			continue
		}
		c.touch(n, now)
		return n.entry, true
	}
	return nil, false
}

// touch moves n to the LRU tail and updates its access time. Caller holds
// c.mu.
func (c *Cache) touch(n *node, now time.Time) {
	n.lastAccessed = now
	c.unlinkLRU(n)
	c.appendLRU(n)
}

func (c *Cache) appendLRU(n *node) {
	n.prev, n.next = c.lruTail, nil
	if c.lruTail != nil {
		c.lruTail.next = n
	} else {
		c.lruHead = n
	}
	c.lruTail = n
}

func (c *Cache) unlinkLRU(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else if c.lruHead == n {
		c.lruHead = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else if c.lruTail == n {
		c.lruTail = n.prev
	}
	n.prev, n.next = nil, nil
}

// Add inserts item without replacing any existing entry under key. If the
// item alone exceeds the cache's budget, it is destroyed immediately and
// Add returns false.
func (c *Cache) Add(key string, item Entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.add(key, item)
}

func (c *Cache) add(key string, item Entry) bool {
	size := item.CacheSize()
	if size > c.maxSize {
		item.Destroy()
		return false
	}
	c.needRoom(size)

	now := c.now()
	n := &node{entry: item, key: key, lastAccessed: now}
	c.items[key] = append(c.items[key], n)
	c.byPtr[item] = n
	if tag := item.CacheTag(); tag != "" {
		set, ok := c.tags[tag]
		if !ok {
			set = make(map[*node]struct{})
			c.tags[tag] = set
		}
		set[n] = struct{}{}
	}
	c.appendLRU(n)
	c.size += size
	c.handler.OnItemAdded(item)
	return true
}

// Put inserts item, replacing every existing entry under key.
func (c *Cache) Put(key string, item Entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeKey(key, nil)
	return c.add(key, item)
}

// PutMatch replaces the entries under key for which match returns true
// (every one of them, if several match), or behaves like Add if none
// matches.
func (c *Cache) PutMatch(key string, item Entry, match MatchFunc) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeKey(key, match)
	return c.add(key, item)
}

// Remove deletes every entry under key.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeKey(key, nil)
}

// RemoveMatch deletes entries under key for which match returns true.
func (c *Cache) RemoveMatch(key string, match MatchFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeKey(key, match)
}

func (c *Cache) removeKey(key string, match MatchFunc) {
	nodes := c.items[key]
	if len(nodes) == 0 {
		return
	}
	kept := nodes[:0]
	for _, n := range nodes {
		if match == nil || match(n.entry) {
			c.evictNode(n)
		} else {
			kept = append(kept, n)
		}
	}
	if len(kept) == 0 {
		delete(c.items, key)
	} else {
		c.items[key] = kept
	}
}

// RemoveEntry deletes a specific entry, identified by pointer identity.
func (c *Cache) RemoveEntry(item Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.byPtr[item]
	if !ok {
		return
	}
	c.evictNode(n)
	c.pruneFromKeySlice(n)
}

// RemoveAllMatch deletes every entry in the cache for which match returns
// true, across all keys.
func (c *Cache) RemoveAllMatch(match MatchFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.items {
		c.removeKey(key, match)
	}
}

// FlushTag removes every entry carrying the given tag. Idempotent: flushing
// a tag with nothing left under it is a no-op.
func (c *Cache) FlushTag(tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.tags[tag]
	if !ok {
		return
	}
	nodes := make([]*node, 0, len(set))
	for n := range set {
		nodes = append(nodes, n)
	}
	for _, n := range nodes {
		c.evictNode(n)
		c.pruneFromKeySlice(n)
	}
}

// Flush evicts every entry in the cache. Idempotent.
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.items {
		c.removeKey(key, nil)
	}
}

// pruneFromKeySlice removes n from c.items[n.key] after evictNode has
// already unlinked it from the LRU list, tag index and byPtr map.
func (c *Cache) pruneFromKeySlice(n *node) {
	nodes := c.items[n.key]
	for i, cand := range nodes {
		if cand == n {
			nodes = append(nodes[:i], nodes[i+1:]...)
			break
		}
	}
	if len(nodes) == 0 {
		delete(c.items, n.key)
	} else {
		c.items[n.key] = nodes
	}
}

// evictNode unlinks n from every index and either destroys it immediately
// or, if leases are outstanding, marks it removed and defers Destroy until
// the last lease is released. Caller holds c.mu and is responsible for
// removing n from c.items itself (evictNode only updates the LRU list, tag
// index and byPtr map, since several call sites rebuild the key slice in
// one pass).
func (c *Cache) evictNode(n *node) {
	if n.removed {
		return
	}
	c.unlinkLRU(n)
	if tag := n.entry.CacheTag(); tag != "" {
		if set, ok := c.tags[tag]; ok {
			delete(set, n)
			if len(set) == 0 {
				delete(c.tags, tag)
			}
		}
	}
	delete(c.byPtr, n.entry)
	c.size -= n.entry.CacheSize()
	n.removed = true
	c.handler.OnItemRemoved(n.entry)
	if n.leases == 0 {
		n.entry.Destroy()
	}
}

// Acquire pins item so it survives a concurrent Remove/evict. Returns a
// zero Lease if item is not currently tracked by this cache.
func (c *Cache) Acquire(item Entry) Lease {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.byPtr[item]
	if !ok {
		return Lease{}
	}
	n.leases++
	return Lease{cache: c, n: n}
}

func (c *Cache) releaseLease(n *node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n.leases--
	if n.leases <= 0 && n.removed {
		n.entry.Destroy()
	}
}

// needRoom evicts from the LRU head until adding size more bytes would fit
// the budget. Caller holds c.mu.
func (c *Cache) needRoom(size int64) {
	for c.size+size > c.maxSize && c.lruHead != nil {
		n := c.lruHead
		c.evictNode(n)
		c.pruneFromKeySlice(n)
	}
}

// expireAll is the periodic cleanup sweep: it evicts every entry whose TTL
// has passed. Matches the "fires every ≈60s" cleanup timer.
func (c *Cache) expireAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for key, nodes := range c.items {
		kept := nodes[:0]
		for _, n := range nodes {
			if c.isExpired(n, now) {
				c.evictNode(n)
				logging.Get().Debug("cache: expired entry", "key", key)
			} else {
				kept = append(kept, n)
			}
		}
		if len(kept) == 0 {
			delete(c.items, key)
		} else {
			c.items[key] = kept
		}
	}
}

// ToSteady converts a wall-clock deadline to a steady-clock deadline given
// the current readings of both clocks. If wallDeadline is already in the
// past, the result is steadyNow minus a token duration so it reads as
// immediately expired.
func ToSteady(steadyNow, wallNow, wallDeadline time.Time) time.Time {
	if !wallDeadline.After(wallNow) {
		return steadyNow.Add(-time.Nanosecond)
	}
	return steadyNow.Add(wallDeadline.Sub(wallNow))
}
