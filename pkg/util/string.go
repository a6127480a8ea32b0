package util

import (
	"strings"
	"unicode/utf8"
)

// MaskSecret keeps only the last four characters of a secret, e.g. "****1234".
// Secrets of four characters or fewer are fully masked.
func MaskSecret(secret string) string {
	n := utf8.RuneCountInString(secret)
	if n <= 4 {
		return "****"
	}
	runes := []rune(secret)
	return "****" + string(runes[n-4:])
}

// Truncate shortens s to at most max runes, appending "..." when cut.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

// NormalizePlatform lowercases a platform identifier and maps common aliases.
func NormalizePlatform(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "x", "twitter/x", "x.com":
		return "twitter"
	case "bsky", "bsky.app":
		return "bluesky"
	}
	return name
}
