package httpcache

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandrolain/respcache/resourceloader"
)

type scriptedResponse struct {
	status int
	header http.Header
	body   string
}

type fakeLoader struct {
	mu        sync.Mutex
	responses []scriptedResponse
	calls     int
	lastReq   http.Header
}

func (f *fakeLoader) SendRequest(ctx context.Context, method string, addr resourceloader.Address, header http.Header, body []byte) (*resourceloader.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastReq = header.Clone()
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	r := f.responses[idx]
	return &resourceloader.Response{
		Status: r.status,
		Header: r.header.Clone(),
		Body:   io.NopCloser(strings.NewReader(r.body)),
	}, nil
}

func newTestCache(t *testing.T, loader resourceloader.Loader) *Cache {
	t.Helper()
	c, err := New(Config{
		Name:               "http-test",
		CacheSize:          1 << 20,
		RubberSize:         1 << 20,
		CacheableSizeLimit: 512 * 1024,
		StoreTimeout:       time.Second,
		StaleRetention:     time.Hour,
	}, loader)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func drain(t *testing.T, r io.Reader) string {
	t.Helper()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

func waitForStore(c *Cache, addr resourceloader.Address) bool {
	key, ok := c.buildKey(addr, "")
	if !ok {
		return false
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, found := c.store.GetMatch(key, nil); found {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func TestPlainGetHitServesWithoutContactingUpstream(t *testing.T) {
	loader := &fakeLoader{responses: []scriptedResponse{
		{status: 200, header: http.Header{"Cache-Control": {"max-age=60"}}, body: "abc"},
	}}
	c := newTestCache(t, loader)
	addr := resourceloader.Address{Kind: resourceloader.KindHTTP, URI: "/a"}

	resp, err := c.Fetch(context.Background(), http.MethodGet, addr, http.Header{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "abc", drain(t, resp.Body))
	require.True(t, waitForStore(c, addr))

	resp2, err := c.Fetch(context.Background(), http.MethodGet, addr, http.Header{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "abc", drain(t, resp2.Body))
	assert.Equal(t, 1, loader.calls)
}

func TestVaryMismatchMissesAndRefetches(t *testing.T) {
	loader := &fakeLoader{responses: []scriptedResponse{
		{status: 200, header: http.Header{"Cache-Control": {"max-age=60"}, "Vary": {"Accept-Language"}}, body: "en-body"},
		{status: 200, header: http.Header{"Cache-Control": {"max-age=60"}, "Vary": {"Accept-Language"}}, body: "fr-body"},
	}}
	c := newTestCache(t, loader)
	addr := resourceloader.Address{Kind: resourceloader.KindHTTP, URI: "/vary"}

	resp, err := c.Fetch(context.Background(), http.MethodGet, addr, http.Header{"Accept-Language": {"en"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "en-body", drain(t, resp.Body))
	require.True(t, waitForStore(c, addr))

	resp2, err := c.Fetch(context.Background(), http.MethodGet, addr, http.Header{"Accept-Language": {"fr"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "fr-body", drain(t, resp2.Body))
	assert.Equal(t, 2, loader.calls)
}

func TestTooLargeBodySkipsStoreAndForwardsUnchanged(t *testing.T) {
	big := strings.Repeat("x", 600*1024)
	loader := &fakeLoader{responses: []scriptedResponse{
		{status: 200, header: http.Header{"Cache-Control": {"max-age=60"}}, body: big},
	}}
	c := newTestCache(t, loader)
	addr := resourceloader.Address{Kind: resourceloader.KindHTTP, URI: "/big"}

	resp, err := c.Fetch(context.Background(), http.MethodGet, addr, http.Header{}, nil)
	require.NoError(t, err)
	assert.Equal(t, big, drain(t, resp.Body))

	time.Sleep(20 * time.Millisecond)
	_, found := c.store.GetMatch(mustKey(t, c, addr), nil)
	assert.False(t, found)
}

func mustKey(t *testing.T, c *Cache, addr resourceloader.Address) string {
	t.Helper()
	key, ok := c.buildKey(addr, "")
	require.True(t, ok)
	return key
}

func TestInvalidationOnPutPurgesKey(t *testing.T) {
	loader := &fakeLoader{responses: []scriptedResponse{
		{status: 200, header: http.Header{"Cache-Control": {"max-age=60"}}, body: "abc"},
		{status: 200, header: http.Header{}, body: "updated"},
		{status: 200, header: http.Header{"Cache-Control": {"max-age=60"}}, body: "def"},
	}}
	c := newTestCache(t, loader)
	addr := resourceloader.Address{Kind: resourceloader.KindHTTP, URI: "/a"}

	resp, err := c.Fetch(context.Background(), http.MethodGet, addr, http.Header{}, nil)
	require.NoError(t, err)
	drain(t, resp.Body)
	require.True(t, waitForStore(c, addr))

	_, err = c.Fetch(context.Background(), http.MethodPut, addr, http.Header{}, []byte("new body"))
	require.NoError(t, err)

	_, found := c.store.GetMatch(mustKey(t, c, addr), nil)
	assert.False(t, found, "PUT should have purged the key")

	resp3, err := c.Fetch(context.Background(), http.MethodGet, addr, http.Header{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "def", drain(t, resp3.Body))
	assert.Equal(t, 3, loader.calls)
}

func TestTagFlushRemovesOnlyTaggedEntries(t *testing.T) {
	loader := &fakeLoader{responses: []scriptedResponse{
		{status: 200, header: http.Header{"Cache-Control": {"max-age=60"}, TagHeader: {"T"}}, body: "t1"},
		{status: 200, header: http.Header{"Cache-Control": {"max-age=60"}, TagHeader: {"U"}}, body: "u1"},
	}}
	c := newTestCache(t, loader)
	addrT := resourceloader.Address{Kind: resourceloader.KindHTTP, URI: "/t"}
	addrU := resourceloader.Address{Kind: resourceloader.KindHTTP, URI: "/u"}

	rT, err := c.Fetch(context.Background(), http.MethodGet, addrT, http.Header{}, nil)
	require.NoError(t, err)
	drain(t, rT.Body)
	rU, err := c.Fetch(context.Background(), http.MethodGet, addrU, http.Header{}, nil)
	require.NoError(t, err)
	drain(t, rU.Body)

	require.True(t, waitForStore(c, addrT))
	require.True(t, waitForStore(c, addrU))

	c.FlushTag("T")

	_, foundT := c.store.GetMatch(mustKey(t, c, addrT), nil)
	_, foundU := c.store.GetMatch(mustKey(t, c, addrU), nil)
	assert.False(t, foundT)
	assert.True(t, foundU)
}

func TestPipeAddressBypassesCache(t *testing.T) {
	loader := &fakeLoader{responses: []scriptedResponse{
		{status: 200, header: http.Header{"Cache-Control": {"max-age=60"}}, body: "p1"},
		{status: 200, header: http.Header{"Cache-Control": {"max-age=60"}}, body: "p2"},
	}}
	c := newTestCache(t, loader)
	addr := resourceloader.Address{Kind: resourceloader.KindPipe, URI: "/pipe"}

	r1, err := c.Fetch(context.Background(), http.MethodGet, addr, http.Header{}, nil)
	require.NoError(t, err)
	drain(t, r1.Body)
	r2, err := c.Fetch(context.Background(), http.MethodGet, addr, http.Header{}, nil)
	require.NoError(t, err)
	drain(t, r2.Body)

	assert.Equal(t, 2, loader.calls, "pipe addresses must never be cached")
}
