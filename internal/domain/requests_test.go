package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestRelayRegisterRequestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		req     RelayRegisterRequest
		wantErr string
	}{
		{"ok", RelayRegisterRequest{WSPort: 8081, HTTPPort: 8080, BaseDomain: " Example.COM "}, ""},
		{"bad_ws_port", RelayRegisterRequest{WSPort: 0, HTTPPort: 8080, BaseDomain: "example.com"}, "ws_port"},
		{"bad_http_port", RelayRegisterRequest{WSPort: 1, HTTPPort: 70000, BaseDomain: "example.com"}, "http_port"},
		{"missing_base", RelayRegisterRequest{WSPort: 1, HTTPPort: 2}, "base_domain"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			req := tc.req
			err := req.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if req.BaseDomain != "example.com" {
					t.Fatalf("expected normalized base domain, got %q", req.BaseDomain)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error mentioning %q, got %v", tc.wantErr, err)
			}
			if !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestCreateSessionRequestValidate(t *testing.T) {
	t.Parallel()

	req := CreateSessionRequest{UserID: " u1 ", Subdomain: " My-App ", LocalPort: 3000}
	if err := req.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.UserID != "u1" || req.Subdomain != "my-app" {
		t.Fatalf("expected normalized fields, got %+v", req)
	}

	bad := CreateSessionRequest{UserID: "u1", Subdomain: "x", LocalPort: 0}
	if err := bad.Validate(); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid local_port, got %v", err)
	}
}

func TestSessionBytesRequestRejectsNegative(t *testing.T) {
	t.Parallel()

	if err := (SessionBytesRequest{BytesIn: -1}).Validate(); err == nil {
		t.Fatal("expected negative bytes_in to be rejected")
	}
	if err := (SessionBytesRequest{BytesIn: 1, BytesOut: 2}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequestBatchValidate(t *testing.T) {
	t.Parallel()

	entry := RequestLogEntry{Method: "GET", Path: "/", RequestHeaders: "e30", ResponseStatus: 200, Timestamp: 1}

	if err := (RequestBatch{}).Validate(100); err == nil {
		t.Fatal("expected missing requests to be rejected")
	}
	if err := (RequestBatch{Requests: []RequestLogEntry{}}).Validate(100); err != nil {
		t.Fatalf("expected empty batch to be accepted, got %v", err)
	}

	tooMany := make([]RequestLogEntry, 101)
	for i := range tooMany {
		tooMany[i] = entry
	}
	if err := (RequestBatch{Requests: tooMany}).Validate(100); err == nil {
		t.Fatal("expected oversized batch to be rejected")
	}

	badStatus := entry
	badStatus.ResponseStatus = 99
	err := (RequestBatch{Requests: []RequestLogEntry{entry, badStatus}}).Validate(100)
	if err == nil || !strings.Contains(err.Error(), "requests[1]: response_status") {
		t.Fatalf("expected indexed status error, got %v", err)
	}
	if strings.Count(err.Error(), "invalid request") != 1 {
		t.Fatalf("expected a single sentinel prefix, got %q", err.Error())
	}
}

func TestRequestLogEntryTimestampRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ts   int64
		ok   bool
	}{
		{name: "epoch", ts: 0, ok: true},
		{name: "seconds", ts: 1_700_000_000, ok: true},
		{name: "last second of 9999", ts: MaxRequestTimestamp, ok: true},
		{name: "negative", ts: -1},
		{name: "milliseconds", ts: 1_700_000_000_000},
		{name: "overflowing", ts: 9_300_000_000_000_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := RequestLogEntry{Method: "GET", Path: "/", RequestHeaders: "e30", ResponseStatus: 200, Timestamp: tt.ts}
			err := e.Validate()
			if tt.ok && err != nil {
				t.Fatalf("expected timestamp %d to be accepted, got %v", tt.ts, err)
			}
			if !tt.ok && (err == nil || !strings.Contains(err.Error(), "timestamp")) {
				t.Fatalf("expected timestamp %d to be rejected, got %v", tt.ts, err)
			}
		})
	}
}
