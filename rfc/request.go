package rfc

import (
	"net/http"
	"strings"
	"time"
)

// cacheableMethods are the HTTP methods request_evaluate considers for
// storage and lookup; everything else either bypasses the cache entirely
// or, if unsafe, invalidates it (see RequestInvalidate).
var cacheableMethods = map[string]bool{
	http.MethodGet:  true,
	http.MethodHead: true,
}

// RequestInfo is request_evaluate's result: the parts of a request relevant
// to cache lookup and conditional handling.
type RequestInfo struct {
	IfMatch              []string
	IfNoneMatch          []string
	IfModifiedSince      time.Time
	HasIfModifiedSince   bool
	IfUnmodifiedSince    time.Time
	HasIfUnmodifiedSince bool
	OnlyIfCached         bool
	NoCache              bool
}

// RequestEvaluate inspects method and header and returns a RequestInfo when
// the request is a candidate for cache lookup. It returns ok=false when the
// method isn't cacheable, or when the request carries a body (the original
// contract rejects bodies outright: a GET/HEAD with a body isn't a normal
// cache lookup candidate). obeyNoCache gates whether Cache-Control: no-cache
// / Pragma: no-cache on the request is honoured at all.
func RequestEvaluate(method string, header http.Header, hasBody bool, obeyNoCache bool) (RequestInfo, bool) {
	if !cacheableMethods[method] || hasBody {
		return RequestInfo{}, false
	}

	cc := parseCacheControl(header)
	info := RequestInfo{
		OnlyIfCached: cc.has("only-if-cached"),
	}

	if obeyNoCache {
		if cc.has("no-cache") {
			info.NoCache = true
		} else if len(cc) == 0 && strings.EqualFold(header.Get("Pragma"), "no-cache") {
			info.NoCache = true
		}
	}

	if v := header.Values("If-Match"); len(v) > 0 {
		info.IfMatch = splitETags(v)
	}
	if v := header.Values("If-None-Match"); len(v) > 0 {
		info.IfNoneMatch = splitETags(v)
	}
	if v := header.Get("If-Modified-Since"); v != "" {
		if t, err := http.ParseTime(v); err == nil {
			info.IfModifiedSince, info.HasIfModifiedSince = t, true
		}
	}
	if v := header.Get("If-Unmodified-Since"); v != "" {
		if t, err := http.ParseTime(v); err == nil {
			info.IfUnmodifiedSince, info.HasIfUnmodifiedSince = t, true
		}
	}

	return info, true
}

// RequestInvalidate reports whether method is an unsafe method whose
// completion should purge any stored entry for its target key.
func RequestInvalidate(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

func splitETags(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range splitComma(v) {
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func splitComma(s string) []string {
	var out []string
	start := 0
	depth := 0
	for i, r := range s {
		switch r {
		case '"':
			depth ^= 1
		case ',':
			if depth == 0 {
				out = append(out, trimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	out = append(out, trimSpace(s[start:]))
	return out
}

func trimSpace(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == ' ' || s[len(s)-1] == '\t') {
		s = s[:len(s)-1]
	}
	return s
}
