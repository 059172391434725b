package cache

import "time"

// Entry is the substrate every cached object embeds or implements. A cache
// holds no opinion on what an Entry actually stores; it only needs enough to
// budget, order, and eventually destroy it.
type Entry interface {
	// CacheKey returns the opaque string this entry is stored under.
	// Several entries may share a key (e.g. Vary-distinguished HTTP
	// responses); GetMatch/PutMatch disambiguate with a predicate.
	CacheKey() string

	// CacheSize is the byte footprint charged against the cache's budget.
	CacheSize() int64

	// CacheTag returns the group-invalidation tag, or "" if none.
	CacheTag() string

	// CacheExpires returns the steady-clock deadline after which the
	// entry is no longer servable.
	CacheExpires() time.Time

	// Validate reports additional staleness beyond the TTL. Most entries
	// simply return true.
	Validate() bool

	// Destroy releases any resources (typically a rubber.Allocation)
	// owned by the entry. Called at most once, after the last lease on
	// the entry (if any) has been released.
	Destroy()
}

// ExpirySetter is implemented by entries whose expiry can be refreshed in
// place, as happens when a 304 revalidation extends a stored response's
// lifetime without replacing its body.
type ExpirySetter interface {
	SetCacheExpires(time.Time)
}
