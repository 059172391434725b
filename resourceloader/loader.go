// Package resourceloader models the collaborator that actually produces
// upstream responses on a cache miss or revalidation. Its real
// implementation — issuing HTTP/AJP/FastCGI/WAS requests, connection
// pooling, TLS — lives entirely outside this module's scope; only the
// contract the caches depend on is declared here.
package resourceloader

import (
	"context"
	"io"
	"net/http"
)

// Address identifies an upstream resource. Kind distinguishes transport
// families; the cache façades treat "pipe" and "local-pipe" kinds as
// uncacheable regardless of headers, matching the exclusion the original
// resource-address model applies to non-idempotent local collaborators.
type Address struct {
	Kind string
	URI  string

	// HTTPS and DocRoot distinguish otherwise-identical local-HTTP
	// addresses so that disjoint virtual hosts don't collide in the
	// cache key without relying on the upstream to emit Vary.
	HTTPS   bool
	DocRoot string
}

const (
	KindHTTP  = "http"
	KindPipe  = "pipe"
	KindLocal = "local"
)

// Uncacheable reports whether an address's kind bypasses caching
// unconditionally.
func (a Address) Uncacheable() bool {
	return a.Kind == KindPipe || a.Kind == KindLocal
}

// Response is what a Loader hands back on success: a status, headers, and a
// lazily-readable body. Callers that need to tee the body into a cache do
// so by wrapping Body, not by consuming it here.
type Response struct {
	Status int
	Header http.Header
	Body   io.ReadCloser
}

// Loader sends a request to an upstream resource and returns its response.
// Implementations are expected to be fully asynchronous with respect to the
// body; only the headers need to have arrived by the time SendRequest
// returns.
type Loader interface {
	SendRequest(ctx context.Context, method string, addr Address, header http.Header, body []byte) (*Response, error)
}
