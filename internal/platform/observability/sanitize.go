package observability

import (
	"strings"
	"unicode"
)

const (
	defaultStringLimit = 256
	maskedSegment      = "***"
)

// sensitiveSegments name path segments whose successor is a bearer value. A pickup code alone
// releases an order at the counter, so it never reaches the logs.
var sensitiveSegments = map[string]struct{}{
	"pickup": {},
}

func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultStringLimit
	}

	cleaned := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsControl(r) {
			continue
		}
		cleaned = append(cleaned, r)
		if len(cleaned) == limit {
			break
		}
	}
	return string(cleaned)
}

// SanitizeRoute strips control characters from a chi route pattern.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

// SanitizePath strips control characters from a raw request path and masks pickup codes.
func SanitizePath(path string) string {
	if path == "" {
		return "/"
	}
	segments := strings.Split(path, "/")
	for i := 1; i < len(segments); i++ {
		if _, ok := sensitiveSegments[strings.ToLower(segments[i-1])]; ok && segments[i] != "" {
			segments[i] = maskedSegment
		}
	}
	return sanitizeString(strings.Join(segments, "/"), 180)
}

func SanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}

// SanitizeUserID bounds actor identifiers before they are logged.
func SanitizeUserID(uid string) string {
	return sanitizeString(uid, 64)
}
