package server

import (
	"log/slog"
	"strings"
)

// tlsErrorLogWriter routes http.Server error lines into slog, demoting
// handshake noise from scanners and bare IP probes to debug.
type tlsErrorLogWriter struct {
	log *slog.Logger
}

func newTLSErrorLogWriter(logger *slog.Logger) *tlsErrorLogWriter {
	return &tlsErrorLogWriter{log: logger}
}

func (w *tlsErrorLogWriter) Write(p []byte) (n int, err error) {
	line := strings.TrimSpace(string(p))
	if line == "" {
		return len(p), nil
	}
	if w.logTLSHandshakeLine(line) {
		return len(p), nil
	}
	w.log.Warn("api server error", "err", line)
	return len(p), nil
}

func (w *tlsErrorLogWriter) logTLSHandshakeLine(line string) bool {
	const marker = "TLS handshake error from "
	idx := strings.Index(line, marker)
	if idx < 0 {
		return false
	}
	payload := line[idx+len(marker):]
	addr, reason, ok := strings.Cut(payload, ": ")
	if !ok {
		w.log.Debug("tls handshake dropped", "detail", payload)
		return true
	}
	addr = strings.TrimSpace(addr)
	reason = strings.TrimSpace(reason)
	if isLikelyScannerTLSReason(reason) {
		w.log.Debug("tls handshake rejected", "remote_addr", addr, "reason", reason)
		return true
	}
	w.log.Warn("tls handshake failed", "remote_addr", addr, "reason", reason)
	return true
}

func isLikelyScannerTLSReason(reason string) bool {
	reason = strings.ToLower(strings.TrimSpace(reason))
	if reason == "" {
		return false
	}
	for _, s := range []string{
		"missing server name",
		"unsupported application protocols",
		"offered only unsupported versions",
		"no cipher suite supported by both client and server",
		"host not allowed",
		"connection reset by peer",
		"i/o timeout",
		"first record does not look like a tls handshake",
		"http request to an https server",
	} {
		if strings.Contains(reason, s) {
			return true
		}
	}
	return reason == "eof"
}
