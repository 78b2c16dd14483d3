package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/koltyakov/tunnelplane/internal/domain"
)

func TestCursorRoundTrip(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, 3, 14, 15, 9, 26, 535_000_000, time.UTC)
	c := Cursor{ID: "ses_abc", Timestamp: ts}

	got, err := Decode(Encode(c))
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != c.ID || !got.Timestamp.Equal(c.Timestamp) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, c)
	}
}

func TestCursorIsURLSafe(t *testing.T) {
	t.Parallel()

	raw := Encode(Cursor{ID: "???>>>", Timestamp: time.Unix(0, 0)})
	for _, ch := range raw {
		if ch == '+' || ch == '/' || ch == '=' {
			t.Fatalf("cursor %q contains non url-safe character %q", raw, ch)
		}
	}
}

func TestDecodeAcceptsISOWithOffset(t *testing.T) {
	t.Parallel()

	raw := base64.RawURLEncoding.EncodeToString([]byte(`{"id":"r1","t":"2024-01-01T02:00:00.000+02:00"}`))
	c, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC); !c.Timestamp.Equal(want) {
		t.Fatalf("got %v, want %v", c.Timestamp, want)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	t.Parallel()

	enc := func(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }
	cases := map[string]string{
		"empty":        "",
		"not_base64":   "!!!",
		"not_json":     enc("hello"),
		"missing_id":   enc(`{"t":"2024-01-01T00:00:00Z"}`),
		"bad_time":     enc(`{"id":"x","t":"yesterday"}`),
		"numeric_time": enc(`{"id":"x","t":1700000000}`),
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode(raw); !errors.Is(err, domain.ErrInvalidCursor) {
				t.Fatalf("expected ErrInvalidCursor, got %v", err)
			}
		})
	}
}

func TestParseOptional(t *testing.T) {
	t.Parallel()

	c, err := ParseOptional("  ")
	if err != nil || c != nil {
		t.Fatalf("expected nil cursor for empty input, got %v, %v", c, err)
	}
	if _, err := ParseOptional("junk!"); !errors.Is(err, domain.ErrInvalidCursor) {
		t.Fatalf("expected ErrInvalidCursor, got %v", err)
	}
}

func TestParseLimit(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{"", DefaultSessionLimit, false},
		{"1", 1, false},
		{"100", 100, false},
		{"0", 0, true},
		{"101", 0, true},
		{"ten", 0, true},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("raw=%q", tc.raw), func(t *testing.T) {
			t.Parallel()
			got, err := ParseLimit(tc.raw, DefaultSessionLimit)
			if tc.wantErr {
				if !errors.Is(err, domain.ErrInvalidRequest) {
					t.Fatalf("expected ErrInvalidRequest, got %v", err)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Fatalf("got %d, %v; want %d", got, err, tc.want)
			}
		})
	}
}
