// Package rubbersink adapts an istream.Source into a single rubber
// allocation, bounded by a configured size limit. It is the C3 component:
// the only thing that ever writes bytes into a cache's Rubber region.
package rubbersink

import (
	"github.com/sandrolain/respcache/istream"
	"github.com/sandrolain/respcache/rubber"
)

// Handler receives exactly one of these calls, terminating the sink.
type Handler interface {
	// RubberDone reports a successful capture. alloc is shrunk to size
	// and handed to the caller, who now owns it.
	RubberDone(alloc rubber.Allocation, size uint64)

	// RubberOutOfMemory reports that the initial allocation failed.
	RubberOutOfMemory()

	// RubberTooLarge reports that the source exceeded the configured
	// limit, either by a declared size or by writing past the allocated
	// window.
	RubberTooLarge()

	// RubberError reports that the source itself failed.
	RubberError(err error)
}

// Sink consumes an istream.Source, depositing its bytes into one
// rubber.Allocation.
type Sink struct {
	r       *rubber.Rubber
	maxSize uint64
	handler Handler
	source  istream.Source

	alloc    rubber.Allocation
	written  uint64
	done     bool
	canceled bool
}

// New estimates an initial allocation window from source (a declared exact
// size if known, the soft maxSize otherwise) and binds sink as the
// source's consumer. If the source's partial estimate already exceeds
// maxSize, it reports TooLarge without allocating.
//
// Returns nil if the sink concluded synchronously (TooLarge or
// OutOfMemory already reported); callers should check for that before
// calling Read.
func New(r *rubber.Rubber, source istream.Source, maxSize uint64, handler Handler) *Sink {
	s := &Sink{r: r, maxSize: maxSize, handler: handler, source: source}

	if avail := source.Available(true); avail >= 0 && uint64(avail) > maxSize {
		handler.RubberTooLarge()
		return nil
	}

	window := maxSize
	if size, known := source.KnownSize(); known {
		if uint64(size) > maxSize {
			handler.RubberTooLarge()
			return nil
		}
		window = uint64(size)
	}

	if window == 0 {
		window = maxSize
	}

	id := r.Add(window)
	if id == 0 {
		handler.RubberOutOfMemory()
		return nil
	}
	s.alloc = rubber.NewAllocation(r, id)

	if binder, ok := source.(interface{ Bind(istream.Sink) }); ok {
		binder.Bind(s)
	}
	return s
}

// Read pulls more bytes from the source. May invoke the handler
// re-entrantly, as istream's contract allows.
func (s *Sink) Read() {
	if s.done || s.canceled {
		return
	}
	s.source.Read()
}

// Cancel destroys the sink before completion, releasing its partial
// allocation. Idempotent.
func (s *Sink) Cancel() {
	if s.done || s.canceled {
		return
	}
	s.canceled = true
	s.alloc.Release()
	s.source.Close()
}

func (s *Sink) OnData(p []byte) int {
	if s.done || s.canceled {
		return 0
	}
	dst := s.alloc.Write()
	if s.written+uint64(len(p)) > uint64(len(dst)) {
		s.fail(func() { s.handler.RubberTooLarge() })
		return 0
	}
	n := copy(dst[s.written:], p)
	s.written += uint64(n)
	return n
}

// OnDirect is declined: the rubber sink always copies through OnData. A
// genuine zero-copy path would read straight from fd into the rubber
// buffer via a raw read syscall, which is an optimisation this module
// doesn't need to implement to be behaviourally complete.
func (s *Sink) OnDirect(fd int) bool { return false }

func (s *Sink) OnEof() {
	if s.done || s.canceled {
		return
	}
	s.done = true
	if s.written == 0 {
		s.alloc.Release()
		s.handler.RubberDone(rubber.Allocation{}, 0)
		return
	}
	s.alloc.Shrink(s.written)
	final := s.alloc
	s.alloc = rubber.Allocation{}
	s.handler.RubberDone(final, s.written)
}

func (s *Sink) OnError(err error) {
	s.fail(func() { s.handler.RubberError(err) })
}

func (s *Sink) fail(report func()) {
	if s.done || s.canceled {
		return
	}
	s.done = true
	s.alloc.Release()
	s.source.Close()
	report()
}
