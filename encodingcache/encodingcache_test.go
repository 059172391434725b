package encodingcache

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandrolain/respcache/encodingcache/codec"
	"github.com/sandrolain/respcache/metrics"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New("encoding-test", 1<<20, 1<<20, 64*1024, 7*24*time.Hour, 0, time.Second, metrics.Default)
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

func TestPutTeesBodyToCallerUnchanged(t *testing.T) {
	c := newTestCache(t)
	body := strings.NewReader("gzip-compressed-bytes")

	out := c.Put("fp1", body)
	got, err := io.ReadAll(out)
	require.NoError(t, err)
	assert.Equal(t, "gzip-compressed-bytes", string(got))
}

func TestGetHitsAfterStoreCompletes(t *testing.T) {
	c := newTestCache(t)
	_, err := io.ReadAll(c.Put("fp2", strings.NewReader("payload")))
	require.NoError(t, err)

	require.True(t, waitForStore(c, "fp2"))
	rc, ok := c.Get("fp2")
	require.True(t, ok)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestGetMissesUnknownKey(t *testing.T) {
	c := newTestCache(t)
	_, ok := c.Get("nope")
	assert.False(t, ok)
}

func TestStoreTooLargeIsSilentlyAbandoned(t *testing.T) {
	c, err := New("encoding-test-small", 1<<20, 1<<20, 4, 7*24*time.Hour, 0, time.Second, metrics.Default)
	require.NoError(t, err)
	defer c.Close()

	out := c.Put("big", strings.NewReader("this body is way bigger than four bytes"))
	data, err := io.ReadAll(out)
	require.NoError(t, err)
	assert.Equal(t, "this body is way bigger than four bytes", string(data))

	time.Sleep(20 * time.Millisecond)
	_, ok := c.Get("big")
	assert.False(t, ok)
}

func TestStatsReportsRubberOccupancy(t *testing.T) {
	c := newTestCache(t)
	_, err := io.ReadAll(c.Put("fp3", strings.NewReader("x")))
	require.NoError(t, err)
	require.True(t, waitForStore(c, "fp3"))

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Stores)
	assert.Greater(t, stats.Netto, uint64(0))
}

func TestEncodeAndPutStoresGzipUnderDistinctKeyFromSource(t *testing.T) {
	c := newTestCache(t)
	source := strings.Repeat("compressible ", 50)

	encoded, err := EncodeAndPut(c, codec.Gzip{}, "src-1", []byte(source))
	require.NoError(t, err)
	assert.Less(t, len(encoded), len(source))

	key := BuildKey("gzip", "src-1")
	require.True(t, waitForStore(c, key))
	rc, ok := c.Get(key)
	require.True(t, ok)
	defer rc.Close()
	stored, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, encoded, stored)

	decoded, err := codec.Gzip{}.Decode(stored)
	require.NoError(t, err)
	assert.Equal(t, source, string(decoded))
}

func TestBuildKeyVariesByCodec(t *testing.T) {
	assert.NotEqual(t, BuildKey("gzip", "src"), BuildKey("br", "src"))
}
