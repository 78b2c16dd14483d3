// Package pagination encodes opaque cursors for reverse-chronological
// listings ordered by (timestamp DESC, id DESC).
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/koltyakov/tunnelplane/internal/domain"
)

// Limits applied to list endpoints.
const (
	DefaultSessionLimit = 20
	DefaultLogLimit     = 50
	MaxLimit            = 100
)

// timeLayout keeps millisecond precision, matching what the store persists.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Cursor identifies the last item of a page by its ordering key.
type Cursor struct {
	ID        string
	Timestamp time.Time
}

type wireCursor struct {
	ID string `json:"id"`
	T  string `json:"t"`
}

// Encode returns the opaque base64url form of c.
func Encode(c Cursor) string {
	raw, _ := json.Marshal(wireCursor{ID: c.ID, T: c.Timestamp.UTC().Format(timeLayout)})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// Decode parses a cursor produced by [Encode]. Any malformed input yields
// an error matching [domain.ErrInvalidCursor].
func Decode(raw string) (Cursor, error) {
	raw = strings.TrimRight(strings.TrimSpace(raw), "=")
	if raw == "" {
		return Cursor{}, domain.ErrInvalidCursor
	}
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return Cursor{}, domain.ErrInvalidCursor
	}
	var w wireCursor
	if err := json.Unmarshal(b, &w); err != nil {
		return Cursor{}, domain.ErrInvalidCursor
	}
	if strings.TrimSpace(w.ID) == "" {
		return Cursor{}, domain.ErrInvalidCursor
	}
	ts, err := time.Parse(time.RFC3339Nano, w.T)
	if err != nil {
		return Cursor{}, domain.ErrInvalidCursor
	}
	return Cursor{ID: w.ID, Timestamp: ts.UTC()}, nil
}

// ParseOptional decodes raw when non-empty. A nil cursor means "first page".
func ParseOptional(raw string) (*Cursor, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	c, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ParseLimit parses a limit query value, applying def when empty.
func ParseLimit(raw string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > MaxLimit {
		return 0, domain.Invalidf("limit must be an integer between 1 and %d", MaxLimit)
	}
	return n, nil
}
