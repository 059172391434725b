package filtercache

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(Config{
		Name:           "filter-test",
		CacheSize:      1 << 20,
		RubberSize:     1 << 20,
		MaxItemSize:    64 * 1024,
		ExpireInterval: 0,
		StoreTimeout:   time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func waitForStore(c *Cache, key string) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := c.Get(key); ok {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func TestBuildKeyJoinsComponents(t *testing.T) {
	assert.Equal(t, `"v1"|alice|addr-1`, BuildKey(`"v1"`, "alice", "addr-1"))
	assert.Equal(t, `"v1"||addr-1`, BuildKey(`"v1"`, "", "addr-1"))
}

func TestPutThenGetRoundTrips(t *testing.T) {
	c := newTestCache(t)
	key := BuildKey(`"v1"`, "", "addr-1")
	header := http.Header{"Content-Type": {"text/plain"}}

	out := c.Put(key, "", http.StatusOK, header, time.Now().Add(time.Hour), strings.NewReader("filtered body"))
	data, err := io.ReadAll(out)
	require.NoError(t, err)
	assert.Equal(t, "filtered body", string(data))

	require.True(t, waitForStore(c, key))
	res, ok := c.Get(key)
	require.True(t, ok)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, "filtered body", string(body))
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "text/plain", res.Header.Get("Content-Type"))
}

func TestEagerCacheInjectsContentHashWhenAbsent(t *testing.T) {
	c, err := New(Config{
		Name: "filter-eager", CacheSize: 1 << 20, RubberSize: 1 << 20,
		MaxItemSize: 64 * 1024, StoreTimeout: time.Second, EagerCache: true,
	})
	require.NoError(t, err)
	defer c.Close()

	key := "k"
	_, err = io.ReadAll(c.Put(key, "", http.StatusOK, http.Header{}, time.Now().Add(time.Hour), strings.NewReader("payload")))
	require.NoError(t, err)

	require.True(t, waitForStore(c, key))
	res, _ := c.Get(key)
	defer res.Body.Close()
	assert.NotEmpty(t, res.Header.Get(ContentHashHeader))
}

func TestFlushTagRemovesTaggedEntriesOnly(t *testing.T) {
	c := newTestCache(t)
	keyA := BuildKey("a", "", "1")
	keyB := BuildKey("b", "", "1")

	_, _ = io.ReadAll(c.Put(keyA, "T", http.StatusOK, http.Header{}, time.Now().Add(time.Hour), strings.NewReader("a")))
	_, _ = io.ReadAll(c.Put(keyB, "U", http.StatusOK, http.Header{}, time.Now().Add(time.Hour), strings.NewReader("b")))
	require.True(t, waitForStore(c, keyA))
	require.True(t, waitForStore(c, keyB))

	c.FlushTag("T")
	_, okA := c.Get(keyA)
	_, okB := c.Get(keyB)
	assert.False(t, okA)
	assert.True(t, okB)
}

func TestGetMissesUnknownKey(t *testing.T) {
	c := newTestCache(t)
	_, ok := c.Get("nope")
	assert.False(t, ok)
}
