// Package httpcache is the RFC-9111-flavoured orchestrator: it ties the
// generic cache (cache.Cache), the Rubber allocator, the rubber-sink, and
// the pure RFC evaluators together into a single request/response cache in
// front of a resourceloader.Loader. It is the largest of the three
// façades and the only one with conditional-request and revalidation
// logic.
package httpcache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/sandrolain/respcache/cache"
	"github.com/sandrolain/respcache/istream"
	"github.com/sandrolain/respcache/metrics"
	"github.com/sandrolain/respcache/resourceloader"
	"github.com/sandrolain/respcache/rfc"
	"github.com/sandrolain/respcache/rubber"
	"github.com/sandrolain/respcache/rubbersink"
)

// TagHeader, if present on an upstream response, names the group a stored
// entry joins. FlushTag and auto_flush_cache both operate on this group.
const TagHeader = "X-Cache-Tag"

const maxKeySize = 8 * 1024

var (
	errStoreTimeout = errors.New("httpcache: store timed out waiting for body")
	errCacheClosed  = errors.New("httpcache: cache closed")
)

// Config configures one HttpCache instance.
type Config struct {
	Name               string
	CacheSize          int64
	RubberSize         uint64
	CacheableSizeLimit int64
	ObeyNoCache        bool
	AutoFlushCache     bool
	ExpireInterval     time.Duration
	StoreTimeout       time.Duration

	// StaleRetention extends how long an entry is kept past its freshness
	// expiry so a subsequent request can still revalidate it instead of
	// missing outright. Zero means an entry is evicted the instant it goes
	// stale, disabling revalidation.
	StaleRetention time.Duration

	// ExtraCacheableStatuses augments the default 200/204 cacheable set.
	ExtraCacheableStatuses map[int]bool

	Metrics metrics.Collector
}

type item struct {
	key             string
	status          int
	header          http.Header
	etag            string
	lastModified    time.Time
	hasLastModified bool
	vary            map[string]string
	alloc           rubber.Allocation
	tag             string
	freshUntil      time.Time
	retainUntil     time.Time
	storedAt        time.Time
}

func (i *item) CacheKey() string          { return i.key }
func (i *item) CacheTag() string          { return i.tag }
func (i *item) CacheExpires() time.Time   { return i.retainUntil }
func (i *item) Validate() bool            { return i.alloc.Valid() }
func (i *item) Destroy()                  { i.alloc.Release() }
func (i *item) SetCacheExpires(t time.Time) { i.retainUntil = t }

func (i *item) CacheSize() int64 {
	size := int64(i.alloc.Size())
	for k, vs := range i.header {
		size += int64(len(k))
		for _, v := range vs {
			size += int64(len(v))
		}
	}
	return size
}

func matchVary(requestHeader http.Header) cache.MatchFunc {
	return func(e cache.Entry) bool {
		it, ok := e.(*item)
		return ok && rfc.VaryFits(it.vary, requestHeader)
	}
}

// Cache is an RFC-9111-style cache in front of a resourceloader.Loader.
type Cache struct {
	cfg    Config
	store  *cache.Cache
	rubber *rubber.Rubber
	loader resourceloader.Loader
	metric metrics.Collector
	now    func() time.Time

	mu       sync.Mutex
	inflight map[string]func()
}

// New creates an HttpCache backed by its own Rubber region, sitting in
// front of loader.
func New(cfg Config, loader resourceloader.Loader) (*Cache, error) {
	r, err := rubber.New(cfg.RubberSize, cfg.Name)
	if err != nil {
		return nil, err
	}
	collector := cfg.Metrics
	if collector == nil {
		collector = metrics.Default
	}
	return &Cache{
		cfg:      cfg,
		store:    cache.New(cfg.CacheSize, cfg.ExpireInterval),
		rubber:   r,
		loader:   loader,
		metric:   collector,
		now:      time.Now,
		inflight: make(map[string]func()),
	}, nil
}

// Close cancels every in-flight store and stops the cleanup goroutine.
func (c *Cache) Close() {
	c.mu.Lock()
	for _, abort := range c.inflight {
		abort()
	}
	c.inflight = make(map[string]func())
	c.mu.Unlock()
	c.store.Close()
}

// FlushTag drops every stored entry carrying tag.
func (c *Cache) FlushTag(tag string) {
	c.store.FlushTag(tag)
	c.metric.RecordInvalidation(c.cfg.Name, "tag")
}

func (c *Cache) buildKey(addr resourceloader.Address, bodyETag string) (string, bool) {
	if addr.Uncacheable() {
		return "", false
	}
	var b strings.Builder
	b.WriteString(addr.Kind)
	b.WriteByte('|')
	b.WriteString(addr.URI)
	if addr.Kind == resourceloader.KindHTTP {
		if addr.HTTPS {
			b.WriteString("|https")
		}
		if addr.DocRoot != "" {
			b.WriteString("|")
			b.WriteString(addr.DocRoot)
		}
	}
	if bodyETag != "" {
		b.WriteString("|")
		b.WriteString(bodyETag)
	}
	raw := b.String()
	key := raw + "#" + strconv.FormatUint(xxhash.Sum64String(raw), 16)
	if len(key) > maxKeySize {
		return "", false
	}
	return key, true
}

func (c *Cache) retentionDeadline(fresh time.Time) time.Time {
	if c.cfg.StaleRetention <= 0 {
		return fresh
	}
	return fresh.Add(c.cfg.StaleRetention)
}

func syntheticResponse(status int, header http.Header) *resourceloader.Response {
	if header == nil {
		header = http.Header{}
	}
	return &resourceloader.Response{Status: status, Header: header, Body: io.NopCloser(bytes.NewReader(nil))}
}

type leasedBody struct {
	r     *bytes.Reader
	lease cache.Lease
}

func (l *leasedBody) Read(p []byte) (int, error) { return l.r.Read(p) }
func (l *leasedBody) Close() error                { l.lease.Release(); return nil }

func (c *Cache) serveStored(it *item, lease cache.Lease) *resourceloader.Response {
	header := it.header.Clone()
	header.Set("Age", rfc.FormatAge(rfc.Age(it.header, it.storedAt, it.storedAt, c.now())))
	return &resourceloader.Response{
		Status: it.status,
		Header: header,
		Body:   &leasedBody{r: bytes.NewReader(it.alloc.Read()), lease: lease},
	}
}

// Fetch serves method/addr from cache when possible, otherwise consults
// loader and, for a cacheable GET/HEAD miss, stores the response while
// still streaming it to the caller.
func (c *Cache) Fetch(ctx context.Context, method string, addr resourceloader.Address, header http.Header, body []byte) (*resourceloader.Response, error) {
	if rfc.RequestInvalidate(method) {
		return c.fetchInvalidating(ctx, method, addr, header, body)
	}

	reqInfo, cacheable := rfc.RequestEvaluate(method, header, len(body) > 0, c.cfg.ObeyNoCache)
	key, keyable := c.buildKey(addr, "")
	if !cacheable || !keyable {
		c.metric.RecordLookup(c.cfg.Name, "bypass", 0)
		return c.loader.SendRequest(ctx, method, addr, header, body)
	}

	if !reqInfo.NoCache {
		if entry, ok := c.store.GetMatch(key, matchVary(header)); ok {
			return c.handleHit(ctx, method, addr, header, body, reqInfo, entry.(*item))
		}
	}

	if reqInfo.OnlyIfCached {
		c.metric.RecordLookup(c.cfg.Name, "miss", 0)
		return syntheticResponse(http.StatusGatewayTimeout, nil), nil
	}

	c.metric.RecordLookup(c.cfg.Name, "miss", 0)
	resp, err := c.loader.SendRequest(ctx, method, addr, header, body)
	if err != nil {
		return nil, err
	}
	return c.storeAndRespond(resp, key, header)
}

func (c *Cache) handleHit(ctx context.Context, method string, addr resourceloader.Address, header http.Header, body []byte, reqInfo rfc.RequestInfo, it *item) (*resourceloader.Response, error) {
	lease := c.store.Acquire(it)

	switch rfc.EvaluateConditional(reqInfo, it.etag, it.lastModified, it.hasLastModified) {
	case rfc.ConditionalPreconditionFailed:
		lease.Release()
		c.metric.RecordLookup(c.cfg.Name, "hit", 0)
		return syntheticResponse(http.StatusPreconditionFailed, nil), nil
	case rfc.ConditionalNotModified:
		lease.Release()
		c.metric.RecordLookup(c.cfg.Name, "hit", 0)
		return syntheticResponse(http.StatusNotModified, it.header.Clone()), nil
	}

	if c.now().Before(it.freshUntil) {
		c.metric.RecordLookup(c.cfg.Name, "hit", 0)
		return c.serveStored(it, lease), nil
	}

	if reqInfo.OnlyIfCached {
		lease.Release()
		c.metric.RecordLookup(c.cfg.Name, "miss", 0)
		return syntheticResponse(http.StatusGatewayTimeout, nil), nil
	}

	return c.revalidate(ctx, method, addr, header, body, it, lease)
}

func (c *Cache) revalidate(ctx context.Context, method string, addr resourceloader.Address, header http.Header, body []byte, it *item, lease cache.Lease) (*resourceloader.Response, error) {
	revHeader := header.Clone()
	if it.hasLastModified {
		revHeader.Set("If-Modified-Since", it.lastModified.UTC().Format(http.TimeFormat))
	}
	if it.etag != "" {
		revHeader.Set("If-None-Match", it.etag)
	}

	resp, err := c.loader.SendRequest(ctx, method, addr, revHeader, body)
	if err != nil {
		lease.Release()
		c.metric.RecordLookup(c.cfg.Name, "miss", 0)
		return nil, err
	}

	switch {
	case resp.Status == http.StatusNotModified:
		if info, ok := rfc.ResponseEvaluate(http.StatusOK, resp.Header, 0, c.cfg.CacheableSizeLimit, c.now(), c.cfg.ExtraCacheableStatuses); ok {
			it.freshUntil = info.Expires
			var setter cache.ExpirySetter = it
			setter.SetCacheExpires(c.retentionDeadline(info.Expires))
			if info.ETag != "" {
				it.etag = info.ETag
			}
			if info.HasLastModified {
				it.lastModified = info.LastModified
				it.hasLastModified = true
			}
		}
		c.metric.RecordLookup(c.cfg.Name, "hit", 0)
		return c.serveStored(it, lease), nil

	case resp.Status >= 200 && resp.Status < 300:
		if rfc.PreferCached(it.etag, resp.Header.Get("ETag")) {
			c.metric.RecordLookup(c.cfg.Name, "hit", 0)
			return c.serveStored(it, lease), nil
		}
		lease.Release()
		c.store.RemoveEntry(it)
		c.metric.RecordLookup(c.cfg.Name, "miss", 0)
		return c.storeAndRespond(resp, it.key, header)

	default:
		lease.Release()
		c.metric.RecordLookup(c.cfg.Name, "miss", 0)
		return resp, nil
	}
}

func (c *Cache) fetchInvalidating(ctx context.Context, method string, addr resourceloader.Address, header http.Header, body []byte) (*resourceloader.Response, error) {
	if key, ok := c.buildKey(addr, ""); ok {
		c.store.Remove(key)
		c.metric.RecordInvalidation(c.cfg.Name, "key")
	}

	resp, err := c.loader.SendRequest(ctx, method, addr, header, body)
	if err != nil {
		return nil, err
	}
	if c.cfg.AutoFlushCache && resp.Status >= 200 && resp.Status < 300 {
		if tag := resp.Header.Get(TagHeader); tag != "" {
			c.FlushTag(tag)
		}
	}
	return resp, nil
}

type teeReadCloser struct {
	io.Reader
	io.Closer
}

// storeAndRespond evaluates resp for cacheability and, if eligible, tees
// its body into a background store while handing the original bytes back
// to the caller unmodified. A non-cacheable response passes through as-is.
func (c *Cache) storeAndRespond(resp *resourceloader.Response, key string, requestHeader http.Header) (*resourceloader.Response, error) {
	if resp.Body == nil {
		return resp, nil
	}

	info, ok := rfc.ResponseEvaluate(resp.Status, resp.Header, -1, c.cfg.CacheableSizeLimit, c.now(), c.cfg.ExtraCacheableStatuses)
	if !ok {
		c.metric.RecordStore(c.cfg.Name, "skipped", 0)
		return resp, nil
	}

	varyRecorded := rfc.CopyVary(requestHeader, info.Vary)
	tag := resp.Header.Get(TagHeader)
	status, header := resp.Status, resp.Header.Clone()

	pr, pw := io.Pipe()
	tee := io.TeeReader(resp.Body, pw)
	abort := func() { pr.CloseWithError(errCacheClosed) }

	c.mu.Lock()
	c.inflight[key] = abort
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.inflight, key)
			c.mu.Unlock()
		}()
		defer pw.Close()
		timer := time.AfterFunc(c.cfg.StoreTimeout, func() { pr.CloseWithError(errStoreTimeout) })
		defer timer.Stop()
		c.storeFromReader(key, tag, status, header, info, varyRecorded, pr)
	}()

	return &resourceloader.Response{
		Status: resp.Status,
		Header: resp.Header,
		Body:   teeReadCloser{Reader: tee, Closer: resp.Body},
	}, nil
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

func (c *Cache) storeFromReader(key, tag string, status int, header http.Header, info rfc.ResponseInfo, varyRecorded map[string]string, r io.Reader) {
	start := c.now()
	src := istream.NewReaderSource(r, -1)
	h := &storeHandler{}
	sink := rubbersink.New(c.rubber, src, uint64(c.cfg.CacheableSizeLimit), h)
	if sink != nil {
		sink.Read()
	}

	switch {
	case h.outcome.err != nil:
		c.metric.RecordStore(c.cfg.Name, "error", c.now().Sub(start))
		return
	case h.outcome.tooLarge:
		c.metric.RecordStore(c.cfg.Name, "too_large", c.now().Sub(start))
		return
	case h.outcome.oom:
		c.metric.RecordStore(c.cfg.Name, "out_of_memory", c.now().Sub(start))
		return
	}

	storedAt := c.now()
	it := &item{
		key:             key,
		status:          status,
		header:          header,
		etag:            info.ETag,
		lastModified:    info.LastModified,
		hasLastModified: info.HasLastModified,
		vary:            varyRecorded,
		alloc:           h.outcome.alloc,
		tag:             tag,
		freshUntil:      info.Expires,
		retainUntil:     c.retentionDeadline(info.Expires),
		storedAt:        storedAt,
	}
	if !c.store.Put(key, it) {
		it.Destroy()
		c.metric.RecordStore(c.cfg.Name, "skipped", c.now().Sub(start))
		return
	}
	c.metric.RecordStore(c.cfg.Name, "stored", c.now().Sub(start))
}

// Stats reports current Rubber occupancy for this cache's region.
func (c *Cache) Stats() (brutto, netto uint64) {
	brutto, netto = c.rubber.GetBruttoSize(), c.rubber.GetNettoSize()
	c.metric.RecordRubberOccupancy(c.cfg.Name, brutto, netto)
	return brutto, netto
}
