// Package cachetest holds a small conformance suite any cache.Cache
// configuration is expected to satisfy, independent of which façade builds
// the Entry it stores.
package cachetest

import (
	"testing"
	"time"

	"github.com/sandrolain/respcache/cache"
)

// Entry is a minimal cache.Entry used to drive the conformance checks
// without depending on any façade's own item type.
type Entry struct {
	Key       string
	Size      int64
	Tag       string
	Expires   time.Time
	destroyed bool
}

func (e *Entry) CacheKey() string        { return e.Key }
func (e *Entry) CacheSize() int64        { return e.Size }
func (e *Entry) CacheTag() string        { return e.Tag }
func (e *Entry) CacheExpires() time.Time { return e.Expires }
func (e *Entry) Validate() bool          { return !e.destroyed }
func (e *Entry) Destroy()                { e.destroyed = true }

// Destroyed reports whether Destroy has been called, for assertions in
// callers that retain a reference to the Entry after evicting it.
func (e *Entry) Destroyed() bool { return e.destroyed }

// Exercise runs a put/get/tag-flush/expire-on-touch round trip against an
// empty, freshly constructed cache.Cache. It fails t on the first violation.
func Exercise(t *testing.T, c *cache.Cache) {
	t.Helper()

	e1 := &Entry{Key: "a", Size: 10, Tag: "group", Expires: time.Now().Add(time.Hour)}
	if !c.Put("a", e1) {
		t.Fatal("Put of a fresh key should succeed")
	}
	got, ok := c.Get("a")
	if !ok {
		t.Fatal("Get should find the entry just Put")
	}
	if got.CacheKey() != "a" {
		t.Fatalf("Get returned entry for key %q, want %q", got.CacheKey(), "a")
	}

	e2 := &Entry{Key: "b", Size: 10, Tag: "group", Expires: time.Now().Add(time.Hour)}
	c.Put("b", e2)

	c.FlushTag("group")
	if _, ok := c.Get("a"); ok {
		t.Fatal("FlushTag should have evicted every tagged entry")
	}
	if _, ok := c.Get("b"); ok {
		t.Fatal("FlushTag should have evicted every tagged entry")
	}
	if !e1.Destroyed() || !e2.Destroyed() {
		t.Fatal("FlushTag should Destroy every entry it evicts")
	}

	e3 := &Entry{Key: "c", Size: 10, Expires: time.Now().Add(-time.Minute)}
	c.Put("c", e3)
	if _, ok := c.Get("c"); ok {
		t.Fatal("Get of an already-expired entry should report a miss")
	}
	if !e3.Destroyed() {
		t.Fatal("Get should Destroy an expired entry it evicts on touch")
	}
}
