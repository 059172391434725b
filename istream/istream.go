// Package istream models the contract this module consumes from the wider
// streaming framework it does not implement: a lazy, cancellable byte
// source with an optional zero-copy path. Everything here is interfaces —
// the concrete producers (bodies coming off an HTTP/AJP/FastCGI/WAS
// connection) live outside this module's scope.
package istream

import "io"

// Source is a lazy byte producer. Unlike io.Reader, a Source is push-driven:
// a Sink registers itself and the Source calls back into it as bytes become
// available, which is what lets a single upstream body be teed to two
// independent consumers without either one blocking the other.
type Source interface {
	// Available reports how many bytes the source can produce without
	// blocking. If partial is false, the source may also consider bytes
	// it knows about but hasn't buffered yet. -1 means unknown.
	Available(partial bool) int64

	// KnownSize reports the exact total size if the source can state it
	// up front (e.g. a Content-Length body), and whether that is known.
	KnownSize() (size int64, known bool)

	// Read asks the source to push more bytes to its registered Sink via
	// OnData/OnDirect, eventually terminating with OnEof or OnError. Read
	// may invoke the sink re-entrantly before returning.
	Read()

	// Close may be called at any point before a terminal event fires. It
	// is idempotent.
	Close()
}

// DirectReader is implemented by a Source that can hand a Sink a raw file
// descriptor for zero-copy consumption instead of calling OnData. Sinks may
// decline by returning false from OnDirect and falling back to OnData.
type DirectReader interface {
	// DirectFD returns the underlying descriptor, if the source currently
	// has one ready to read from directly.
	DirectFD() (fd int, ok bool)
}

// Sink consumes a Source. Exactly one of OnEof or OnError fires, exactly
// once, terminating the stream.
type Sink interface {
	// OnData delivers bytes pulled from the source. A zero-length slice
	// is a valid "soft block" notification and must not be treated as
	// EOF. The return value is the number of bytes the sink actually
	// consumed; a short count means the sink applied backpressure.
	OnData(p []byte) int

	// OnDirect offers a raw descriptor for zero-copy reads. Returning
	// false declines the offer; the source then falls back to OnData.
	OnDirect(fd int) (accepted bool)

	// OnEof fires when the source is exhausted with no error.
	OnEof()

	// OnError fires when the source failed. No further callbacks follow.
	OnError(err error)
}

// ReaderSource adapts a plain io.Reader (with a known or unknown size) into
// a Source, for the common case where the upstream body is already exposed
// as a Go reader rather than a push-style producer. It has no zero-copy
// path.
type ReaderSource struct {
	r        io.Reader
	size     int64
	sizeKnown bool
	sink     Sink
	buf      []byte
	closed   bool
}

// NewReaderSource wraps r. If size is negative, the size is reported as
// unknown.
func NewReaderSource(r io.Reader, size int64) *ReaderSource {
	return &ReaderSource{
		r:         r,
		size:      size,
		sizeKnown: size >= 0,
		buf:       make([]byte, 64*1024),
	}
}

// Bind attaches the sink that will receive callbacks from Read.
func (s *ReaderSource) Bind(sink Sink) { s.sink = sink }

func (s *ReaderSource) Available(partial bool) int64 {
	if s.sizeKnown {
		return s.size
	}
	return -1
}

func (s *ReaderSource) KnownSize() (int64, bool) { return s.size, s.sizeKnown }

func (s *ReaderSource) Read() {
	if s.closed || s.sink == nil {
		return
	}
	for {
		n, err := s.r.Read(s.buf)
		if n > 0 {
			s.sink.OnData(s.buf[:n])
			if s.closed {
				return
			}
		}
		if err == io.EOF {
			s.sink.OnEof()
			return
		}
		if err != nil {
			s.sink.OnError(err)
			return
		}
		if n == 0 {
			return
		}
	}
}

func (s *ReaderSource) Close() {
	s.closed = true
	if rc, ok := s.r.(io.Closer); ok {
		_ = rc.Close()
	}
}
