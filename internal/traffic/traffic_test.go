package traffic

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/koltyakov/tunnelplane/internal/domain"
)

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func i64(v int64) *int64 { return &v }

func TestDecodeTruncationFlag(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		reqSize *int64
		resSize *int64
		want    bool
	}{
		{"no_sizes", nil, nil, false},
		{"small_request", i64(1000), nil, false},
		{"large_request", i64(100000), nil, true},
		{"large_response", nil, i64(65537), true},
		{"exactly_threshold", i64(65536), i64(65536), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec, _ := Decode(domain.RequestLogEntry{
				Method:               "get",
				RequestHeaders:       b64(`{}`),
				ResponseStatus:       200,
				OriginalRequestSize:  tc.reqSize,
				OriginalResponseSize: tc.resSize,
			})
			if rec.BodyTruncated != tc.want {
				t.Fatalf("bodyTruncated=%v, want %v", rec.BodyTruncated, tc.want)
			}
		})
	}
}

func TestDecodeConvertsTimestampToMilliseconds(t *testing.T) {
	t.Parallel()

	rec, _ := Decode(domain.RequestLogEntry{Method: "GET", ResponseStatus: 200, Timestamp: 1700000000})
	if got := rec.Timestamp.UnixMilli(); got != 1700000000000 {
		t.Fatalf("got %d ms", got)
	}
	if rec.Timestamp.Location() != time.UTC {
		t.Fatalf("expected UTC timestamp, got %v", rec.Timestamp.Location())
	}
	if rec.Method != "GET" {
		t.Fatalf("expected upper-cased method, got %q", rec.Method)
	}
}

func TestDecodeHeadersAndBodies(t *testing.T) {
	t.Parallel()

	rec, malformed := Decode(domain.RequestLogEntry{
		Method:          "POST",
		RequestHeaders:  b64(`{"content-type":"application/json"}`),
		RequestBody:     b64(`{"a":1}`),
		ResponseStatus:  201,
		ResponseHeaders: base64.RawURLEncoding.EncodeToString([]byte(`{"x-id":"42"}`)),
	})
	if len(malformed) != 0 {
		t.Fatalf("unexpected malformed fields %v", malformed)
	}
	if rec.RequestHeaders["content-type"] != "application/json" {
		t.Fatalf("unexpected request headers %v", rec.RequestHeaders)
	}
	if rec.ResponseHeaders["x-id"] != "42" {
		t.Fatalf("unexpected response headers %v", rec.ResponseHeaders)
	}
	if string(rec.RequestBody) != `{"a":1}` {
		t.Fatalf("unexpected body %q", rec.RequestBody)
	}
	if rec.ResponseBody != nil {
		t.Fatalf("expected absent response body to stay nil, got %q", rec.ResponseBody)
	}
}

func TestDecodeMalformedHeadersBecomeEmpty(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"bad_base64": "!!not-base64!!",
		"bad_json":   b64(`{"unterminated"`),
		"non_string": b64(`{"a":1}`),
		"json_null":  b64(`null`),
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			rec, malformed := Decode(domain.RequestLogEntry{Method: "GET", RequestHeaders: raw, ResponseStatus: 200})
			if rec.RequestHeaders == nil || len(rec.RequestHeaders) != 0 {
				t.Fatalf("expected empty header map, got %v", rec.RequestHeaders)
			}
			if len(malformed) != 1 || malformed[0] != "request_headers" {
				t.Fatalf("expected request_headers reported malformed, got %v", malformed)
			}
		})
	}
}

type fakeStore struct {
	sessionID string
	records   []domain.HTTPRequestRecord
}

func (f *fakeStore) AddRequests(_ context.Context, sessionID string, records []domain.HTTPRequestRecord) (int, error) {
	f.sessionID = sessionID
	f.records = append(f.records, records...)
	return len(records), nil
}

func TestRecordKeepsBatchWithBadEntry(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	rec := NewRecorder(store, nil)
	n, err := rec.Record(context.Background(), "ses_1", []domain.RequestLogEntry{
		{Method: "GET", Path: "/ok", RequestHeaders: b64(`{"a":"b"}`), ResponseStatus: 200},
		{Method: "GET", Path: "/bad", RequestHeaders: "%%%", ResponseStatus: 500},
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || len(store.records) != 2 {
		t.Fatalf("expected 2 stored records, got n=%d len=%d", n, len(store.records))
	}
	if store.sessionID != "ses_1" || store.records[1].SessionID != "ses_1" {
		t.Fatalf("expected session id propagated, got %+v", store.records[1])
	}
	if len(store.records[1].RequestHeaders) != 0 {
		t.Fatalf("expected empty headers for bad entry, got %v", store.records[1].RequestHeaders)
	}
}
