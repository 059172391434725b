package rubbersink

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sandrolain/respcache/istream"
	"github.com/sandrolain/respcache/rubber"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandler struct {
	done      bool
	doneSize  uint64
	doneAlloc rubber.Allocation
	tooLarge  bool
	oom       bool
	err       error
}

func (h *fakeHandler) RubberDone(a rubber.Allocation, size uint64) {
	h.done = true
	h.doneAlloc = a
	h.doneSize = size
}
func (h *fakeHandler) RubberOutOfMemory() { h.oom = true }
func (h *fakeHandler) RubberTooLarge()    { h.tooLarge = true }
func (h *fakeHandler) RubberError(err error) { h.err = err }

func TestSinkCapturesFullBody(t *testing.T) {
	r, err := rubber.New(4096, "test")
	require.NoError(t, err)

	body := []byte("hello world")
	src := istream.NewReaderSource(bytes.NewReader(body), int64(len(body)))
	h := &fakeHandler{}

	s := New(r, src, 1024, h)
	require.NotNil(t, s)
	s.Read()

	require.True(t, h.done)
	assert.Equal(t, uint64(len(body)), h.doneSize)
	assert.Equal(t, body, h.doneAlloc.Read())
}

func TestSinkTooLargeFromDeclaredSize(t *testing.T) {
	r, err := rubber.New(4096, "test")
	require.NoError(t, err)

	src := istream.NewReaderSource(bytes.NewReader(make([]byte, 2000)), 2000)
	h := &fakeHandler{}

	s := New(r, src, 1024, h)
	assert.Nil(t, s)
	assert.True(t, h.tooLarge)
}

func TestSinkTooLargeFromOverrun(t *testing.T) {
	r, err := rubber.New(4096, "test")
	require.NoError(t, err)

	// unknown size source that writes more than the soft max.
	src := istream.NewReaderSource(bytes.NewReader(make([]byte, 2000)), -1)
	h := &fakeHandler{}

	s := New(r, src, 1024, h)
	require.NotNil(t, s)
	s.Read()

	assert.True(t, h.tooLarge)
	assert.False(t, h.done)
}

func TestSinkOutOfMemory(t *testing.T) {
	r, err := rubber.New(16, "test")
	require.NoError(t, err)
	// exhaust the region first.
	require.NotZero(t, r.Add(16))

	src := istream.NewReaderSource(bytes.NewReader([]byte("x")), 1)
	h := &fakeHandler{}

	s := New(r, src, 64, h)
	assert.Nil(t, s)
	assert.True(t, h.oom)
}

func TestSinkPropagatesSourceError(t *testing.T) {
	r, err := rubber.New(4096, "test")
	require.NoError(t, err)

	src := istream.NewReaderSource(erroringReader{}, -1)
	h := &fakeHandler{}

	s := New(r, src, 1024, h)
	require.NotNil(t, s)
	s.Read()

	assert.Error(t, h.err)
}

func TestSinkEmptyBodyReleasesAllocation(t *testing.T) {
	r, err := rubber.New(4096, "test")
	require.NoError(t, err)

	src := istream.NewReaderSource(bytes.NewReader(nil), 0)
	h := &fakeHandler{}

	s := New(r, src, 1024, h)
	require.NotNil(t, s)
	s.Read()

	require.True(t, h.done)
	assert.Equal(t, uint64(0), h.doneSize)
	assert.Zero(t, r.GetNettoSize())
}

func TestCancelReleasesPartialAllocation(t *testing.T) {
	r, err := rubber.New(4096, "test")
	require.NoError(t, err)

	src := istream.NewReaderSource(bytes.NewReader([]byte("abc")), -1)
	h := &fakeHandler{}

	s := New(r, src, 1024, h)
	require.NotNil(t, s)
	s.Cancel()

	assert.Zero(t, r.GetNettoSize())
	assert.False(t, h.done)
}

type erroringReader struct{}

func (erroringReader) Read(p []byte) (int, error) { return 0, errors.New("boom") }
