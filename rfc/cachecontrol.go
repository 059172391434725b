// Package rfc implements the pure, cache-free decision functions an
// RFC 9111 client cache needs: is this request cacheable, is this response
// cacheable, does a stored Vary subset still fit, which of a stale hit or a
// fresh revalidation response should be served, and which requests
// invalidate a stored entry. None of these functions touch a Cache or a
// Rubber region; they operate purely on headers, status codes and clocks,
// which is what makes them exhaustively unit-testable in isolation.
package rfc

import (
	"net/http"
	"strconv"
	"strings"
)

// directives is a parsed Cache-Control header: directive name (lower-case)
// to its argument, or "" if the directive takes none.
type directives map[string]string

func parseCacheControl(h http.Header) directives {
	d := make(directives)
	for _, line := range h.Values("Cache-Control") {
		for _, part := range strings.Split(line, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if i := strings.IndexByte(part, '='); i >= 0 {
				name := strings.ToLower(strings.TrimSpace(part[:i]))
				val := strings.Trim(strings.TrimSpace(part[i+1:]), `"`)
				d[name] = val
			} else {
				d[strings.ToLower(part)] = ""
			}
		}
	}
	return d
}

func (d directives) has(name string) bool {
	_, ok := d[name]
	return ok
}

func (d directives) seconds(name string) (int64, bool) {
	v, ok := d[name]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
