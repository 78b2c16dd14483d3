// Package versionutil normalizes version strings reported by binaries and
// relays.
package versionutil

import "strings"

// EnsureVPrefix returns s with a leading "v" if it doesn't already have one.
func EnsureVPrefix(s string) string {
	if s != "" && !strings.HasPrefix(s, "v") {
		return "v" + s
	}
	return s
}

// Normalize trims s and adds a "v" prefix when it starts with a digit, so
// "1.2.3" and "v1.2.3" are stored alike. Other values such as "dev" are kept.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || s[0] < '0' || s[0] > '9' {
		return s
	}
	return EnsureVPrefix(s)
}
