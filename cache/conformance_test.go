package cache_test

import (
	"testing"

	"github.com/sandrolain/respcache/cache"
	"github.com/sandrolain/respcache/cachetest"
)

func TestConformance(t *testing.T) {
	c := cache.New(1<<20, 0)
	defer c.Close()
	cachetest.Exercise(t, c)
}
