package cache

// Lease pins an entry so it survives eviction while held. Acquire one via
// Cache.Acquire before retaining a pointer to an entry across a suspension
// point (a suspended upstream call, a deferred write); release it exactly
// once when done.
//
// While any lease is outstanding on an entry, Remove unlinks the entry from
// the hash table, the LRU list and the tag index but defers Destroy until
// the last lease drops — the same "removed but not yet destroyed" state the
// original shared-anchor pattern encodes with a boolean flag and a refcount.
type Lease struct {
	cache *Cache
	n     *node
}

// Release drops the lease. Safe to call at most once; a zero Lease (never
// Acquire'd) is a no-op.
func (l Lease) Release() {
	if l.n == nil {
		return
	}
	l.cache.releaseLease(l.n)
}

// Valid reports whether this lease still refers to a node (i.e. was
// produced by a successful Acquire).
func (l Lease) Valid() bool { return l.n != nil }
