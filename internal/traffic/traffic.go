// Package traffic turns raw captured request entries reported by a relay
// into stored request records.
package traffic

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/koltyakov/tunnelplane/internal/domain"
)

// TruncationThreshold is the body size above which a record is flagged as
// truncated. The relay cuts bodies before sending; this only records it.
const TruncationThreshold = 64 * 1024

// Store persists decoded records for a session.
type Store interface {
	AddRequests(ctx context.Context, sessionID string, records []domain.HTTPRequestRecord) (int, error)
}

// Recorder decodes and persists captured traffic batches.
type Recorder struct {
	store Store
	log   *slog.Logger
}

func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, log: logger}
}

// Record decodes every entry and stores them for sessionID. A malformed
// header blob never fails the batch.
func (r *Recorder) Record(ctx context.Context, sessionID string, entries []domain.RequestLogEntry) (int, error) {
	records := make([]domain.HTTPRequestRecord, 0, len(entries))
	for i, e := range entries {
		rec, malformed := Decode(e)
		rec.SessionID = sessionID
		if len(malformed) > 0 {
			r.log.Debug("malformed traffic entry fields replaced", "session_id", sessionID, "index", i, "fields", strings.Join(malformed, ","))
		}
		records = append(records, rec)
	}
	return r.store.AddRequests(ctx, sessionID, records)
}

// Decode converts one raw entry into a record and reports which encoded
// fields could not be decoded.
func Decode(e domain.RequestLogEntry) (domain.HTTPRequestRecord, []string) {
	var malformed []string

	reqHeaders, ok := decodeHeaders(e.RequestHeaders)
	if !ok {
		malformed = append(malformed, "request_headers")
	}
	rec := domain.HTTPRequestRecord{
		Method:               strings.ToUpper(strings.TrimSpace(e.Method)),
		Path:                 e.Path,
		QueryString:          e.QueryString,
		RequestHeaders:       reqHeaders,
		ResponseStatus:       e.ResponseStatus,
		DurationMS:           e.DurationMS,
		Timestamp:            time.Unix(e.Timestamp, 0).UTC(),
		OriginalRequestSize:  e.OriginalRequestSize,
		OriginalResponseSize: e.OriginalResponseSize,
	}
	rec.BodyTruncated = exceeds(e.OriginalRequestSize) || exceeds(e.OriginalResponseSize)

	if e.ResponseHeaders != "" {
		h, ok := decodeHeaders(e.ResponseHeaders)
		if !ok {
			malformed = append(malformed, "response_headers")
		}
		rec.ResponseHeaders = h
	}
	if b, ok := decodeBody(e.RequestBody); ok {
		rec.RequestBody = b
	} else {
		malformed = append(malformed, "request_body")
	}
	if b, ok := decodeBody(e.ResponseBody); ok {
		rec.ResponseBody = b
	} else {
		malformed = append(malformed, "response_body")
	}
	return rec, malformed
}

func exceeds(size *int64) bool {
	return size != nil && *size > TruncationThreshold
}

func decodeHeaders(raw string) (map[string]string, bool) {
	out := map[string]string{}
	if raw == "" {
		return out, true
	}
	b, err := decodeBase64(raw)
	if err != nil {
		return out, false
	}
	if err := json.Unmarshal(b, &out); err != nil || out == nil {
		return map[string]string{}, false
	}
	return out, true
}

// decodeBody leaves absent bodies nil. Undecodable bodies are dropped.
func decodeBody(raw string) ([]byte, bool) {
	if raw == "" {
		return nil, true
	}
	b, err := decodeBase64(raw)
	if err != nil {
		return nil, false
	}
	if len(b) == 0 {
		return nil, true
	}
	return b, true
}

// decodeBase64 accepts standard and URL alphabets, padded or not.
func decodeBase64(raw string) ([]byte, error) {
	raw = strings.TrimRight(strings.TrimSpace(raw), "=")
	if strings.ContainsAny(raw, "-_") {
		return base64.RawURLEncoding.DecodeString(raw)
	}
	return base64.RawStdEncoding.DecodeString(raw)
}
