// Package sanitizer scrubs client-supplied metadata before it is persisted.
// Session listings render the stored user-agent string back to the browser,
// so anything that survives here must be inert.
package sanitizer

import (
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// maxUserAgentLength bounds what one session row stores. Real user agents
// rarely exceed 300 characters; longer values are almost always junk.
const maxUserAgentLength = 512

// strict strips every HTML element and attribute
var strict = bluemonday.StrictPolicy()

// CleanUserAgent returns a version of the user-agent header that is safe to
// store and to render in a session listing: markup removed, control
// characters dropped, length bounded.
func CleanUserAgent(ua string) string {
	if ua == "" {
		return ""
	}

	cleaned := strict.Sanitize(ua)

	cleaned = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, cleaned)

	cleaned = strings.TrimSpace(cleaned)

	if len(cleaned) > maxUserAgentLength {
		cleaned = cleaned[:maxUserAgentLength]
	}

	return cleaned
}

// CleanIPAddress trims an address string to what fits the column. Addresses
// come from proxy headers, so they are untrusted input like everything else.
func CleanIPAddress(ip string) string {
	ip = strings.TrimSpace(ip)
	if len(ip) > 64 {
		ip = ip[:64]
	}
	return ip
}
