package rfc

import (
	"net/http"
	"time"
)

// cacheableStatuses are the response statuses response_evaluate accepts by
// default. 200 and 204 are the only ones the original policy names
// unconditionally; other non-error statuses can be opted in by a façade via
// ExtraCacheableStatuses.
var cacheableStatuses = map[int]bool{
	http.StatusOK:        true,
	http.StatusNoContent: true,
}

// ResponseInfo is response_evaluate's result: the parts of a response a
// cache needs to store and later judge freshness and Vary fit against.
type ResponseInfo struct {
	Expires         time.Time
	ETag            string
	LastModified    time.Time
	HasLastModified bool
	Vary            string
}

// ResponseEvaluate decides whether a response is cacheable and, if so,
// computes its expiry. now is the wall-clock time the response was
// received (used to correct for clock skew against the response's own Date
// header, per the Expires-adjustment rule). maxBodySize is the hard cache
// budget for a single stored body; a larger bodySize makes the response
// uncacheable. extraStatuses lets a caller (httpcache, through its
// Config.ExtraCacheableStatuses) widen the default 200/204 set.
func ResponseEvaluate(status int, header http.Header, bodySize int64, maxBodySize int64, now time.Time, extraStatuses map[int]bool) (ResponseInfo, bool) {
	if !cacheableStatuses[status] && !extraStatuses[status] {
		return ResponseInfo{}, false
	}

	cc := parseCacheControl(header)
	if cc.has("no-store") {
		return ResponseInfo{}, false
	}

	if bodySize > maxBodySize {
		return ResponseInfo{}, false
	}

	expires, ok := computeExpiry(cc, header, now)
	if !ok {
		return ResponseInfo{}, false
	}

	info := ResponseInfo{
		Expires: expires,
		ETag:    header.Get("ETag"),
		Vary:    header.Get("Vary"),
	}
	if lm := header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			info.LastModified, info.HasLastModified = t, true
		}
	}

	return info, true
}

// computeExpiry implements the response's expiry rule: max-age wins over
// Expires when both are present; Expires alone is adjusted by the skew
// between the response's own Date header and now, so a clock-skewed origin
// doesn't produce a nonsensical deadline. Absent both, the response has no
// cached expiry and is rejected.
func computeExpiry(cc directives, header http.Header, now time.Time) (time.Time, bool) {
	if secs, ok := cc.seconds("max-age"); ok {
		return now.Add(time.Duration(secs) * time.Second), true
	}

	expiresHeader := header.Get("Expires")
	if expiresHeader == "" {
		return time.Time{}, false
	}
	expires, err := http.ParseTime(expiresHeader)
	if err != nil {
		return time.Time{}, false
	}

	if dateHeader := header.Get("Date"); dateHeader != "" {
		if date, err := http.ParseTime(dateHeader); err == nil {
			skew := now.Sub(date)
			return expires.Add(skew), true
		}
	}
	return expires, true
}
