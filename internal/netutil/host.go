// Package netutil provides shared host and label normalization helpers.
package netutil

import (
	"net"
	"net/http"
	"strings"
)

// MaxLabelLength is the longest DNS label allowed as a subdomain.
const MaxLabelLength = 63

// NormalizeHost lower-cases and strips schemes, paths, ports and trailing
// dots from host values.
func NormalizeHost(raw string) string {
	host := strings.ToLower(strings.TrimSpace(raw))
	if host == "" {
		return ""
	}
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	host = strings.TrimPrefix(host, "wss://")
	host = strings.TrimPrefix(host, "ws://")
	if idx := strings.Index(host, "/"); idx >= 0 {
		host = host[:idx]
	}

	if h, p, err := net.SplitHostPort(host); err == nil && p != "" {
		host = h
	} else if strings.Count(host, ":") == 1 {
		left, right, ok := strings.Cut(host, ":")
		if ok && isDigits(right) {
			host = left
		}
	}

	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	return strings.TrimSuffix(host, ".")
}

// IsDNSLabel reports whether v is a lower-case DNS label: 1..63 characters
// of [a-z0-9-], not starting or ending with a hyphen.
func IsDNSLabel(v string) bool {
	if v == "" || len(v) > MaxLabelLength {
		return false
	}
	if v[0] == '-' || v[len(v)-1] == '-' {
		return false
	}
	for i := 0; i < len(v); i++ {
		c := v[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-':
		default:
			return false
		}
	}
	return true
}

// RemoteIP returns the peer address of r without its port.
func RemoteIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if h, _, err := net.SplitHostPort(addr); err == nil {
		return h
	}
	return addr
}

func isDigits(v string) bool {
	if v == "" {
		return false
	}
	for _, r := range v {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
