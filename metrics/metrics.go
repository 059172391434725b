// Package metrics defines the interface the cache façades use to report
// hit/miss/store activity and Rubber occupancy, so a concrete metrics
// backend (Prometheus, OpenTelemetry, ...) can be swapped in without
// touching the cache packages themselves.
package metrics

import "time"

// Collector receives activity from a cache façade (HttpCache, FilterCache,
// EncodingCache) identified by cache name, and Rubber occupancy from the
// allocator backing it.
type Collector interface {
	// RecordLookup records a Get/GetMatch outcome.
	// result is one of "hit", "miss", "stale", "bypass".
	RecordLookup(cache, result string, duration time.Duration)

	// RecordStore records a completed or abandoned store.
	// result is one of "stored", "too_large", "out_of_memory", "error", "skipped".
	RecordStore(cache, result string, duration time.Duration)

	// RecordInvalidation records a purge, either a single key or a tag flush.
	// scope is "key" or "tag".
	RecordInvalidation(cache, scope string)

	// RecordRubberOccupancy records a Rubber region's current brutto and
	// netto byte counts.
	RecordRubberOccupancy(cache string, brutto, netto uint64)

	// RecordCacheEntries records the current entry count held by a cache.
	RecordCacheEntries(cache string, count int64)
}

// NoOpCollector implements Collector with no-op methods. It is the default
// when a façade is constructed without an explicit collector.
type NoOpCollector struct{}

func (NoOpCollector) RecordLookup(cache, result string, duration time.Duration)     {}
func (NoOpCollector) RecordStore(cache, result string, duration time.Duration)      {}
func (NoOpCollector) RecordInvalidation(cache, scope string)                        {}
func (NoOpCollector) RecordRubberOccupancy(cache string, brutto, netto uint64)      {}
func (NoOpCollector) RecordCacheEntries(cache string, count int64)                  {}

// Default is the collector used when a façade isn't given one explicitly.
var Default Collector = NoOpCollector{}

var _ Collector = NoOpCollector{}
