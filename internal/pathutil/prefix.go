package pathutil

import (
	"net/url"
	"strings"
)

// NormalizePrefix returns a leading-slash prefix without a trailing slash.
func NormalizePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "/"
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if len(prefix) > 1 {
		prefix = strings.TrimRight(prefix, "/")
	}
	return prefix
}

// HasPathPrefix reports whether path equals prefix or is nested under it.
func HasPathPrefix(path, prefix string) bool {
	prefix = NormalizePrefix(prefix)
	if prefix == "/" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// Segment returns the single unescaped path segment under prefix, so
// "/api/dashboard/models/gpt-4o" under "/api/dashboard/models" yields
// "gpt-4o". Nested or empty remainders are rejected.
func Segment(rawPath, prefix string) (string, bool) {
	prefix = NormalizePrefix(prefix)
	if !strings.HasPrefix(rawPath, prefix+"/") {
		return "", false
	}
	rest := strings.TrimSuffix(strings.TrimPrefix(rawPath, prefix+"/"), "/")
	if rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	segment, err := url.PathUnescape(rest)
	if err != nil || strings.TrimSpace(segment) == "" {
		return "", false
	}
	return segment, true
}
