// Package config collects the operator-visible knobs for the caching
// subsystem into one struct, following the zero-value-backfill pattern the
// backend packages in this dependency family use for their own Config
// types: construct with DefaultConfig, then override only the fields that
// matter.
package config

import "time"

// Config holds every operator-tunable option named in the external
// interfaces surface. Hard-coded values (cacheable size limit, store
// timeout) are still exposed as fields so tests can override them, but
// DefaultConfig seeds them at the values the original treats as
// non-configurable.
type Config struct {
	// HTTPCacheSize is the byte budget for the HTTP response cache
	// (bodies + metadata).
	HTTPCacheSize int64

	// ObeyNoCache, when true, honours Cache-Control: no-cache / Pragma:
	// no-cache on incoming requests.
	ObeyNoCache bool

	// FilterCacheSize is the byte budget for the filter-output cache.
	FilterCacheSize int64

	// EncodingCacheSize is the byte budget for the encoded-body cache.
	EncodingCacheSize int64

	// CompressInterval is the compaction interval for a cache's Rubber
	// region. No cache façade in this module reads it or compacts on a
	// timer; Rubber.Compress runs only when called directly.
	CompressInterval time.Duration

	// ExpireInterval is how often the TTL sweep runs.
	ExpireInterval time.Duration

	// CacheableSizeLimit is the hard per-item body size ceiling.
	CacheableSizeLimit int64

	// StoreTimeout bounds how long a cache will wait for a miss's body
	// to finish arriving before abandoning the store.
	StoreTimeout time.Duration

	// EncodingCacheDefaultExpires is the TTL applied to encoding-cache
	// entries, which carry no Cache-Control of their own.
	EncodingCacheDefaultExpires time.Duration

	// AutoFlushCache, when true, flushes an entry's whole tag on any
	// successful modifying response in addition to purging its own key.
	AutoFlushCache bool

	// EagerCache, when true (filter cache only), injects a content-hash
	// header on a stored response when upstream didn't provide one.
	EagerCache bool
}

// DefaultConfig returns the configuration the original hard-codes where it
// doesn't expose a knob.
func DefaultConfig() Config {
	return Config{
		HTTPCacheSize:               64 * 1024 * 1024,
		ObeyNoCache:                 false,
		FilterCacheSize:             64 * 1024 * 1024,
		EncodingCacheSize:           16 * 1024 * 1024,
		CompressInterval:            10 * time.Minute,
		ExpireInterval:              60 * time.Second,
		CacheableSizeLimit:          512 * 1024,
		StoreTimeout:                60 * time.Second,
		EncodingCacheDefaultExpires: 7 * 24 * time.Hour,
		AutoFlushCache:              false,
		EagerCache:                  false,
	}
}
