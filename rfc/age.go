package rfc

import (
	"net/http"
	"strconv"
	"time"
)

// Age implements RFC 9111 §4.2.3's age calculation: the apparent age from
// the response's own Date header, corrected for request/response transit
// delay, plus the time the entry has spent resident in the cache.
func Age(header http.Header, requestTime, responseTime, now time.Time) time.Duration {
	var apparentAge time.Duration
	if dateHeader := header.Get("Date"); dateHeader != "" {
		if date, err := http.ParseTime(dateHeader); err == nil {
			if d := responseTime.Sub(date); d > 0 {
				apparentAge = d
			}
		}
	}

	var ageValue time.Duration
	if raw := header.Get("Age"); raw != "" {
		if secs, err := strconv.ParseInt(raw, 10, 64); err == nil && secs >= 0 {
			ageValue = time.Duration(secs) * time.Second
		}
	}

	responseDelay := responseTime.Sub(requestTime)
	correctedAgeValue := ageValue + responseDelay

	correctedInitialAge := apparentAge
	if correctedAgeValue > correctedInitialAge {
		correctedInitialAge = correctedAgeValue
	}

	residentTime := now.Sub(responseTime)
	return correctedInitialAge + residentTime
}

// FormatAge renders an Age duration as the integer-seconds string the Age
// header requires, floored and never negative.
func FormatAge(age time.Duration) string {
	secs := int64(age / time.Second)
	if secs < 0 {
		secs = 0
	}
	return strconv.FormatInt(secs, 10)
}
