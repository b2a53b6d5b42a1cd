package observability

import (
	"strings"
	"unicode"
)

const maxFieldLength = 256

// scrub drops control characters (keeping common whitespace) and bounds the
// length so attacker-controlled values cannot inject into log output.
func scrub(value string, limit int) string {
	if limit <= 0 {
		limit = maxFieldLength
	}
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\t':
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	if len(cleaned) > limit {
		cleaned = cleaned[:limit]
	}
	return cleaned
}

// SanitizeRoute bounds a route pattern for logging.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return scrub(route, 180)
}

// SanitizeMethod bounds an HTTP method for logging.
func SanitizeMethod(method string) string {
	return scrub(method, 10)
}

// SanitizeUserID bounds identifiers before they reach logs.
func SanitizeUserID(uid string) string {
	if uid == "" {
		return ""
	}
	return scrub(uid, 64)
}
