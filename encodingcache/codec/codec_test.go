package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, c Codec, data []byte) {
	t.Helper()
	encoded, err := c.Encode(data)
	require.NoError(t, err)
	decoded, err := c.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
}

func TestGzipRoundTrips(t *testing.T) {
	roundTrip(t, Gzip{}, []byte("the quick brown fox jumps over the lazy dog"))
}

func TestBrotliRoundTrips(t *testing.T) {
	roundTrip(t, Brotli{}, []byte("the quick brown fox jumps over the lazy dog"))
}

func TestSnappyRoundTrips(t *testing.T) {
	roundTrip(t, Snappy{}, []byte("the quick brown fox jumps over the lazy dog"))
}

func TestByNameResolvesKnownCodecs(t *testing.T) {
	for _, name := range []string{"gzip", "br", "snappy"} {
		c, ok := ByName(name)
		require.True(t, ok, name)
		assert.Equal(t, name, c.Name())
	}
}

func TestByNameRejectsUnknown(t *testing.T) {
	_, ok := ByName("identity")
	assert.False(t, ok)
}
