// Package filtercache caches the body produced by a deterministic
// request-to-body filter (an upstream transform with no side effects),
// keyed by the identity of its input rather than by URI. Unlike HttpCache
// it has no conditional-request machinery and no Vary matching: a filter's
// output depends only on its declared key, never on arbitrary request
// headers.
package filtercache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sandrolain/respcache/cache"
	"github.com/sandrolain/respcache/istream"
	"github.com/sandrolain/respcache/metrics"
	"github.com/sandrolain/respcache/rubber"
	"github.com/sandrolain/respcache/rubbersink"
)

var errStoreTimeout = errors.New("filtercache: store timed out waiting for body")

// ContentHashHeader is the header EagerCache injects on a stored response
// that didn't already carry a content identity header from upstream.
const ContentHashHeader = "X-Content-Hash"

// BuildKey assembles the filter cache key: source_etag | user | address_id.
// user defaults to empty when the caller has no identity to distinguish.
func BuildKey(sourceETag, user, addressID string) string {
	return strings.Join([]string{sourceETag, user, addressID}, "|")
}

// Stats reports cumulative activity for one Cache.
type Stats struct {
	Hits, Misses, Stores, Skips int64
	Brutto, Netto               uint64
}

type item struct {
	key     string
	status  int
	header  http.Header
	alloc   rubber.Allocation
	tag     string
	expires time.Time
}

func (i *item) CacheKey() string        { return i.key }
func (i *item) CacheSize() int64        { return int64(i.alloc.Size()) }
func (i *item) CacheTag() string        { return i.tag }
func (i *item) CacheExpires() time.Time { return i.expires }
func (i *item) Validate() bool          { return i.alloc.Valid() }
func (i *item) Destroy()                { i.alloc.Release() }

// Result is what Get hands back on a hit.
type Result struct {
	Status int
	Header http.Header
	Body   io.ReadCloser
}

// Cache stores filter output bodies under a source/user/address key.
type Cache struct {
	name         string
	store        *cache.Cache
	rubber       *rubber.Rubber
	maxItemSize  uint64
	storeTimeout time.Duration
	eagerCache   bool
	metrics      metrics.Collector
	now          func() time.Time

	hits, misses, stores, skips int64
}

// Config configures a filter cache instance.
type Config struct {
	Name            string
	CacheSize       int64
	RubberSize      uint64
	MaxItemSize     uint64
	ExpireInterval  time.Duration
	StoreTimeout    time.Duration
	EagerCache      bool
	Metrics         metrics.Collector
}

// New creates a filter cache.
func New(cfg Config) (*Cache, error) {
	r, err := rubber.New(cfg.RubberSize, cfg.Name)
	if err != nil {
		return nil, err
	}
	collector := cfg.Metrics
	if collector == nil {
		collector = metrics.Default
	}
	return &Cache{
		name:         cfg.Name,
		store:        cache.New(cfg.CacheSize, cfg.ExpireInterval),
		rubber:       r,
		maxItemSize:  cfg.MaxItemSize,
		storeTimeout: cfg.StoreTimeout,
		eagerCache:   cfg.EagerCache,
		metrics:      collector,
		now:          time.Now,
	}, nil
}

// Close stops the cache's cleanup goroutine.
func (c *Cache) Close() { c.store.Close() }

type leasedBody struct {
	r     *bytes.Reader
	lease cache.Lease
}

func (l *leasedBody) Read(p []byte) (int, error) { return l.r.Read(p) }
func (l *leasedBody) Close() error                { l.lease.Release(); return nil }

// Get looks up key, returning the cached status, headers, and body.
func (c *Cache) Get(key string) (Result, bool) {
	start := c.now()
	entry, ok := c.store.Get(key)
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		c.metrics.RecordLookup(c.name, "miss", c.now().Sub(start))
		return Result{}, false
	}
	it := entry.(*item)
	lease := c.store.Acquire(it)
	atomic.AddInt64(&c.hits, 1)
	c.metrics.RecordLookup(c.name, "hit", c.now().Sub(start))
	return Result{
		Status: it.status,
		Header: it.header.Clone(),
		Body:   &leasedBody{r: bytes.NewReader(it.alloc.Read()), lease: lease},
	}, true
}

type storeOutcome struct {
	alloc    rubber.Allocation
	tooLarge bool
	oom      bool
	err      error
}

type storeHandler struct{ outcome storeOutcome }

func (h *storeHandler) RubberDone(alloc rubber.Allocation, size uint64) {
	h.outcome = storeOutcome{alloc: alloc}
}
func (h *storeHandler) RubberOutOfMemory()    { h.outcome = storeOutcome{oom: true} }
func (h *storeHandler) RubberTooLarge()       { h.outcome = storeOutcome{tooLarge: true} }
func (h *storeHandler) RubberError(err error) { h.outcome = storeOutcome{err: err} }

// Put tees body: the caller's reader continues to see the filter's exact
// output, while a background goroutine stores a copy keyed by key. If
// EagerCache is set and header carries no ContentHashHeader, one is
// computed from the stored copy once it is fully captured and attached to
// the stored item only; the live stream header was already sent and is
// never retroactively modified.
func (c *Cache) Put(key, tag string, status int, header http.Header, expires time.Time, body io.Reader) io.Reader {
	pr, pw := io.Pipe()
	tee := io.TeeReader(body, pw)

	go func() {
		defer pw.Close()
		timer := time.AfterFunc(c.storeTimeout, func() {
			pr.CloseWithError(errStoreTimeout)
		})
		defer timer.Stop()
		c.storeFromReader(key, tag, status, header.Clone(), expires, pr)
	}()

	return tee
}

func (c *Cache) storeFromReader(key, tag string, status int, header http.Header, expires time.Time, r io.Reader) {
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

	if c.eagerCache && header.Get(ContentHashHeader) == "" {
		sum := sha256.Sum256(h.outcome.alloc.Read())
		header.Set(ContentHashHeader, hex.EncodeToString(sum[:]))
	}

	it := &item{key: key, status: status, header: header, alloc: h.outcome.alloc, tag: tag, expires: expires}
	if !c.store.Put(key, it) {
		it.Destroy()
		atomic.AddInt64(&c.skips, 1)
		c.metrics.RecordStore(c.name, "skipped", c.now().Sub(start))
		return
	}
	atomic.AddInt64(&c.stores, 1)
	c.metrics.RecordStore(c.name, "stored", c.now().Sub(start))
}

// FlushTag drops every stored item carrying tag.
func (c *Cache) FlushTag(tag string) {
	c.store.FlushTag(tag)
	c.metrics.RecordInvalidation(c.name, "tag")
}

// Remove purges key, if present.
func (c *Cache) Remove(key string) {
	c.store.Remove(key)
	c.metrics.RecordInvalidation(c.name, "key")
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
