package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEntry struct {
	key       string
	size      int64
	tag       string
	expires   time.Time
	valid     bool
	destroyed bool
}

func newTestEntry(key string, size int64, ttl time.Duration) *testEntry {
	return &testEntry{key: key, size: size, expires: time.Now().Add(ttl), valid: true}
}

func (e *testEntry) CacheKey() string             { return e.key }
func (e *testEntry) CacheSize() int64             { return e.size }
func (e *testEntry) CacheTag() string             { return e.tag }
func (e *testEntry) CacheExpires() time.Time      { return e.expires }
func (e *testEntry) SetCacheExpires(t time.Time)  { e.expires = t }
func (e *testEntry) Validate() bool               { return e.valid }
func (e *testEntry) Destroy()                     { e.destroyed = true }

func TestPutGetRoundTrip(t *testing.T) {
	c := New(1024, 0)
	defer c.Close()

	e := newTestEntry("k", 10, time.Hour)
	require.True(t, c.Put("k", e))

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Same(t, e, got)
}

func TestPutReplacesExisting(t *testing.T) {
	c := New(1024, 0)
	defer c.Close()

	e1 := newTestEntry("k", 10, time.Hour)
	e2 := newTestEntry("k", 10, time.Hour)
	c.Put("k", e1)
	c.Put("k", e2)

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Same(t, e2, got)
	assert.True(t, e1.destroyed)
}

func TestRemoveThenGetMisses(t *testing.T) {
	c := New(1024, 0)
	defer c.Close()

	e := newTestEntry("k", 10, time.Hour)
	c.Put("k", e)
	c.Remove("k")

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestExpiryEvictsOnGet(t *testing.T) {
	c := New(1024, 0)
	defer c.Close()

	e := newTestEntry("k", 10, -time.Second) // already expired
	c.Add("k", e)

	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.True(t, e.destroyed)
}

func TestAddTooLargeDestroysImmediately(t *testing.T) {
	c := New(100, 0)
	defer c.Close()

	e := newTestEntry("k", 200, time.Hour)
	ok := c.Add("k", e)
	assert.False(t, ok)
	assert.True(t, e.destroyed)
}

func TestNeedRoomEvictsLRUHead(t *testing.T) {
	c := New(20, 0)
	defer c.Close()

	e1 := newTestEntry("a", 10, time.Hour)
	e2 := newTestEntry("b", 10, time.Hour)
	e3 := newTestEntry("c", 10, time.Hour)

	c.Add("a", e1)
	c.Add("b", e2)
	c.Add("c", e3) // evicts a (oldest)

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.True(t, e1.destroyed)

	_, ok = c.Get("b")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.LessOrEqual(t, c.Size(), c.MaxSize())
}

func TestGetTouchMovesToTailProtectingFromEviction(t *testing.T) {
	c := New(20, 0)
	defer c.Close()

	e1 := newTestEntry("a", 10, time.Hour)
	e2 := newTestEntry("b", 10, time.Hour)
	c.Add("a", e1)
	c.Add("b", e2)

	_, _ = c.Get("a") // a becomes most-recently-used

	e3 := newTestEntry("c", 10, time.Hour)
	c.Add("c", e3) // must evict b, not a

	_, ok := c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestFlushTagRemovesOnlyTaggedEntries(t *testing.T) {
	c := New(1024, 0)
	defer c.Close()

	e1 := newTestEntry("a", 10, time.Hour)
	e1.tag = "T"
	e2 := newTestEntry("b", 10, time.Hour)
	e2.tag = "T"
	e3 := newTestEntry("d", 10, time.Hour)
	e3.tag = "U"

	c.Add("a", e1)
	c.Add("b", e2)
	c.Add("d", e3)

	before := c.Size()
	c.FlushTag("T")
	assert.Equal(t, before-20, c.Size())

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("d")
	assert.True(t, ok)

	// idempotent
	c.FlushTag("T")
	assert.Equal(t, before-20, c.Size())
}

func TestLeaseDefersDestroyUntilReleased(t *testing.T) {
	c := New(1024, 0)
	defer c.Close()

	e := newTestEntry("k", 10, time.Hour)
	c.Put("k", e)

	lease := c.Acquire(e)
	require.True(t, lease.Valid())

	c.Remove("k")
	assert.False(t, e.destroyed, "destroy must wait for the lease to release")

	_, ok := c.Get("k")
	assert.False(t, ok, "a removed-but-leased entry is invisible to Get")

	lease.Release()
	assert.True(t, e.destroyed)
}

func TestPutMatchReplacesOnlyMatchingEntry(t *testing.T) {
	c := New(1024, 0)
	defer c.Close()

	enUS := newTestEntry("k", 10, time.Hour)
	frFR := newTestEntry("k", 10, time.Hour)
	c.Add("k", enUS)
	c.Add("k", frFR)

	replacement := newTestEntry("k", 10, time.Hour)
	c.PutMatch("k", replacement, func(e Entry) bool { return e == enUS })

	assert.True(t, enUS.destroyed)
	assert.False(t, frFR.destroyed)

	got, ok := c.GetMatch("k", func(e Entry) bool { return e == frFR })
	require.True(t, ok)
	assert.Same(t, frFR, got)
}

func TestToSteadyPastDeadlineIsImmediatelyExpired(t *testing.T) {
	steadyNow := time.Now()
	wallNow := time.Now()
	past := wallNow.Add(-time.Hour)

	deadline := ToSteady(steadyNow, wallNow, past)
	assert.True(t, deadline.Before(steadyNow))
}

func TestToSteadyFutureDeadlinePreservesOffset(t *testing.T) {
	steadyNow := time.Now()
	wallNow := time.Now()
	future := wallNow.Add(time.Minute)

	deadline := ToSteady(steadyNow, wallNow, future)
	assert.WithinDuration(t, steadyNow.Add(time.Minute), deadline, time.Millisecond)
}
