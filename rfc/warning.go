package rfc

import "fmt"

// Warning codes from RFC 9111 §5.5, attached to a synthesized response that
// may be stale or heuristically dated.
const (
	WarningResponseIsStale          = 110
	WarningRevalidationFailed       = 111
	WarningDisconnectedOperation    = 112
	WarningHeuristicExpiration      = 113
)

// FormatWarning renders a Warning header value: code, agent, and quoted
// text, per the header's ABNF.
func FormatWarning(code int, agent, text string) string {
	return fmt.Sprintf("%d %s %q", code, agent, text)
}
