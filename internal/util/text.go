package util

import (
	"regexp"
	"strings"
)

var whitespace = regexp.MustCompile(`\s+`)

// NormalizeWhitespace trims and collapses whitespace to single spaces.
func NormalizeWhitespace(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// NormalizeMarker turns user input such as " :+1: " into the bare reaction name "+1".
func NormalizeMarker(s string) string {
	return strings.Trim(NormalizeWhitespace(s), ":")
}
