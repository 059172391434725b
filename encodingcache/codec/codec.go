// Package codec supplies the encode/decode transforms whose output
// encodingcache.Cache stores. Each Codec is a pure byte-to-byte transform;
// the cache itself is agnostic to which one produced a given entry.
package codec

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/golang/snappy"
)

// Codec names a reversible encoding and its compression level, used to
// build the content fingerprint a Cache entry is keyed under.
type Codec interface {
	Name() string
	Encode(data []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
}

// Gzip implements Codec with compress/gzip at the given level (use
// gzip.DefaultCompression for the stdlib default).
type Gzip struct{ Level int }

func (g Gzip) Name() string { return "gzip" }

func (g Gzip) Encode(data []byte) ([]byte, error) {
	level := g.Level
	if level == 0 {
		level = gzip.DefaultCompression
	}
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("gzip: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	return buf.Bytes(), nil
}

func (g Gzip) Decode(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Brotli implements Codec with andybalholm/brotli at the given level
// (0-11; 0 selects the package default of 6).
type Brotli struct{ Level int }

func (b Brotli) Name() string { return "br" }

func (b Brotli) Encode(data []byte) ([]byte, error) {
	level := b.Level
	if level == 0 {
		level = 6
	}
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, level)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("brotli: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("brotli: %w", err)
	}
	return buf.Bytes(), nil
}

func (b Brotli) Decode(data []byte) ([]byte, error) {
	r := brotli.NewReader(bytes.NewReader(data))
	return io.ReadAll(r)
}

// Snappy implements Codec with golang/snappy block compression.
type Snappy struct{}

func (Snappy) Name() string { return "snappy" }

func (Snappy) Encode(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (Snappy) Decode(data []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("snappy: %w", err)
	}
	return out, nil
}

// ByName resolves the codec identifier used in Accept-Encoding / Content-Encoding
// negotiation to a Codec. ok is false for an unsupported or identity encoding.
func ByName(name string) (c Codec, ok bool) {
	switch name {
	case "gzip":
		return Gzip{}, true
	case "br":
		return Brotli{}, true
	case "snappy":
		return Snappy{}, true
	default:
		return nil, false
	}
}
