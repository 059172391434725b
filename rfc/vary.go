package rfc

import (
	"net/http"
	"strings"
)

// CopyVary captures the subset of requestHeaders named by varyString (the
// response's raw Vary header value), byte-exact, ready to be recorded on a
// stored entry alongside its vary string.
func CopyVary(requestHeaders http.Header, varyString string) map[string]string {
	names := varyNames(varyString)
	if len(names) == 0 {
		return nil
	}
	captured := make(map[string]string, len(names))
	for _, name := range names {
		captured[name] = requestHeaders.Get(name)
	}
	return captured
}

// VaryFits reports whether every header named in the entry's recorded Vary
// set still has the same value in the current request. Lookup of the
// header name is case-insensitive (net/http.Header does this), but values
// are compared byte-exact.
func VaryFits(recordedVary map[string]string, requestHeaders http.Header) bool {
	for name, want := range recordedVary {
		if requestHeaders.Get(name) != want {
			return false
		}
	}
	return true
}

func varyNames(varyString string) []string {
	if varyString == "" {
		return nil
	}
	var names []string
	for _, part := range strings.Split(varyString, ",") {
		name := http.CanonicalHeaderKey(strings.TrimSpace(part))
		if name == "" || name == "*" {
			continue
		}
		names = append(names, name)
	}
	return names
}

// PreferCached decides whether a revalidation 2xx response should still
// serve the cached body: true when the new response's entity tag matches
// the one recorded with the stored entry. An empty storedETag never
// matches (nothing to compare against), so the caller should fall back to
// treating this as a miss.
func PreferCached(storedETag, newETag string) bool {
	return storedETag != "" && storedETag == newETag
}
