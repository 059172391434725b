// Package encodingcache is the simplest of the three cache façades: a
// content-fingerprint-keyed store of raw bytes (a transcoded or compressed
// body) with no headers or status attached. A hit returns a readable
// stream over the stored allocation; a miss tees the caller's body into
// the cache while still handing the original bytes back unmodified.
package encodingcache

import (
	"bytes"
	"errors"
	"io"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/sandrolain/respcache/cache"
	"github.com/sandrolain/respcache/encodingcache/codec"
	"github.com/sandrolain/respcache/istream"
	"github.com/sandrolain/respcache/metrics"
	"github.com/sandrolain/respcache/rubber"
	"github.com/sandrolain/respcache/rubbersink"
)

var errStoreTimeout = errors.New("encodingcache: store timed out waiting for body")

// BuildKey derives the opaque content fingerprint an encoded body is stored
// under: the codec name pins variants of the same source under distinct
// entries so a gzip and a brotli copy of one response never collide.
func BuildKey(codecName, sourceFingerprint string) string {
	raw := codecName + "|" + sourceFingerprint
	return raw + "#" + strconv.FormatUint(xxhash.Sum64String(raw), 16)
}

// EncodeAndPut runs body through c, producing the encoded bytes from data
// and storing them under BuildKey(c.Name(), sourceFingerprint). It returns
// the encoded bytes directly since, unlike Put, there is no live client
// stream to tee: the caller already holds the full source body in memory.
func EncodeAndPut(cache *Cache, c codec.Codec, sourceFingerprint string, data []byte) ([]byte, error) {
	encoded, err := c.Encode(data)
	if err != nil {
		return nil, err
	}
	key := BuildKey(c.Name(), sourceFingerprint)
	if _, err := io.Copy(io.Discard, cache.Put(key, bytes.NewReader(encoded))); err != nil {
		return nil, err
	}
	return encoded, nil
}

// Stats reports cumulative activity for one Cache.
type Stats struct {
	Hits, Misses, Stores, Skips int64
	Brutto, Netto               uint64
}

type item struct {
	key     string
	alloc   rubber.Allocation
	expires time.Time
}

func (i *item) CacheKey() string          { return i.key }
func (i *item) CacheSize() int64          { return int64(i.alloc.Size()) }
func (i *item) CacheTag() string          { return "" }
func (i *item) CacheExpires() time.Time   { return i.expires }
func (i *item) Validate() bool            { return i.alloc.Valid() }
func (i *item) Destroy()                  { i.alloc.Release() }

// Cache stores encoded bodies under an opaque content fingerprint.
type Cache struct {
	name           string
	store          *cache.Cache
	rubber         *rubber.Rubber
	maxItemSize    uint64
	defaultExpires time.Duration
	storeTimeout   time.Duration
	metrics        metrics.Collector
	now            func() time.Time

	hits, misses, stores, skips int64
}

// New creates an encoding cache backed by its own Rubber region.
// maxItemSize bounds a single stored body; defaultExpires is the TTL every
// entry carries, since encoded payloads have no Cache-Control of their own.
func New(name string, cacheSize int64, rubberSize uint64, maxItemSize uint64, defaultExpires, expireInterval, storeTimeout time.Duration, collector metrics.Collector) (*Cache, error) {
	r, err := rubber.New(rubberSize, name)
	if err != nil {
		return nil, err
	}
	if collector == nil {
		collector = metrics.Default
	}
	return &Cache{
		name:           name,
		store:          cache.New(cacheSize, expireInterval),
		rubber:         r,
		maxItemSize:    maxItemSize,
		defaultExpires: defaultExpires,
		storeTimeout:   storeTimeout,
		metrics:        collector,
		now:            time.Now,
	}, nil
}

// Close stops the cache's cleanup goroutine.
func (c *Cache) Close() { c.store.Close() }

// leasedReader reads a stored body while holding the lease that keeps the
// backing allocation alive until Close releases it.
type leasedReader struct {
	r     *bytes.Reader
	lease cache.Lease
}

func (l *leasedReader) Read(p []byte) (int, error) { return l.r.Read(p) }

func (l *leasedReader) Close() error {
	l.lease.Release()
	return nil
}

// Get returns a readable stream over the cached body for key, if present
// and unexpired.
func (c *Cache) Get(key string) (io.ReadCloser, bool) {
	start := c.now()
	entry, ok := c.store.Get(key)
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		c.metrics.RecordLookup(c.name, "miss", c.now().Sub(start))
		return nil, false
	}
	it := entry.(*item)
	lease := c.store.Acquire(it)
	data := it.alloc.Read()
	atomic.AddInt64(&c.hits, 1)
	c.metrics.RecordLookup(c.name, "hit", c.now().Sub(start))
	return &leasedReader{r: bytes.NewReader(data), lease: lease}, true
}

type storeOutcome struct {
	alloc    rubber.Allocation
	size     uint64
	tooLarge bool
	oom      bool
	err      error
}

type storeHandler struct {
	outcome storeOutcome
}

func (h *storeHandler) RubberDone(alloc rubber.Allocation, size uint64) {
	h.outcome = storeOutcome{alloc: alloc, size: size}
}
func (h *storeHandler) RubberOutOfMemory() { h.outcome = storeOutcome{oom: true} }
func (h *storeHandler) RubberTooLarge()    { h.outcome = storeOutcome{tooLarge: true} }
func (h *storeHandler) RubberError(err error) { h.outcome = storeOutcome{err: err} }

// Put tees body: the returned reader yields the exact bytes of body to the
// caller, while a background goroutine stores a copy under key. The store
// is abandoned silently (and does not affect the returned reader) if it
// exceeds maxItemSize, if the Rubber region is exhausted, or if it takes
// longer than the configured store timeout.
func (c *Cache) Put(key string, body io.Reader) io.Reader {
	pr, pw := io.Pipe()
	tee := io.TeeReader(body, pw)

	go func() {
		defer pw.Close()
		timer := time.AfterFunc(c.storeTimeout, func() {
			pr.CloseWithError(errStoreTimeout)
		})
		defer timer.Stop()
		c.storeFromReader(key, pr)
	}()

	return tee
}

func (c *Cache) storeFromReader(key string, r io.Reader) {
	start := c.now()
	src := istream.NewReaderSource(r, -1)
	h := &storeHandler{}
	sink := rubbersink.New(c.rubber, src, c.maxItemSize, h)
	if sink != nil {
		sink.Read()
	}

	switch {
	case h.outcome.err != nil:
		atomic.AddInt64(&c.skips, 1)
		c.metrics.RecordStore(c.name, "error", c.now().Sub(start))
		return
	case h.outcome.tooLarge:
		atomic.AddInt64(&c.skips, 1)
		c.metrics.RecordStore(c.name, "too_large", c.now().Sub(start))
		return
	case h.outcome.oom:
		atomic.AddInt64(&c.skips, 1)
		c.metrics.RecordStore(c.name, "out_of_memory", c.now().Sub(start))
		return
	}

	it := &item{key: key, alloc: h.outcome.alloc, expires: c.now().Add(c.defaultExpires)}
	if !c.store.Put(key, it) {
		it.Destroy()
		atomic.AddInt64(&c.skips, 1)
		c.metrics.RecordStore(c.name, "skipped", c.now().Sub(start))
		return
	}
	atomic.AddInt64(&c.stores, 1)
	c.metrics.RecordStore(c.name, "stored", c.now().Sub(start))
	c.metrics.RecordCacheEntries(c.name, 1)
}

// Stats reports cumulative hit/miss/store/skip counts and current Rubber
// occupancy.
func (c *Cache) Stats() Stats {
	brutto, netto := c.rubber.GetBruttoSize(), c.rubber.GetNettoSize()
	c.metrics.RecordRubberOccupancy(c.name, brutto, netto)
	return Stats{
		Hits:   atomic.LoadInt64(&c.hits),
		Misses: atomic.LoadInt64(&c.misses),
		Stores: atomic.LoadInt64(&c.stores),
		Skips:  atomic.LoadInt64(&c.skips),
		Brutto: brutto,
		Netto:  netto,
	}
}
