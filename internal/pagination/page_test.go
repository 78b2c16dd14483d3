package pagination

import (
	"fmt"
	"testing"
	"time"
)

type row struct {
	id string
	ts time.Time
}

func rowKey(r row) Cursor { return Cursor{ID: r.id, Timestamp: r.ts} }

func makeRows(n int) []row {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]row, n)
	for i := range out {
		out[i] = row{id: fmt.Sprintf("r%03d", n-i), ts: base.Add(-time.Duration(i) * time.Second)}
	}
	return out
}

func TestNewPageWithExtraRow(t *testing.T) {
	t.Parallel()

	rows := makeRows(21)
	p := NewPage(rows, 20, rowKey)
	if len(p.Items) != 20 {
		t.Fatalf("expected 20 items, got %d", len(p.Items))
	}
	if !p.HasMore || p.NextCursor == nil {
		t.Fatalf("expected hasMore with cursor, got %+v", p)
	}
	c, err := Decode(*p.NextCursor)
	if err != nil {
		t.Fatal(err)
	}
	if c.ID != rows[19].id || !c.Timestamp.Equal(rows[19].ts) {
		t.Fatalf("expected cursor of last kept row, got %+v", c)
	}
}

func TestNewPageWithoutExtraRow(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 1, 20} {
		p := NewPage(makeRows(n), 20, rowKey)
		if len(p.Items) != n || p.HasMore || p.NextCursor != nil {
			t.Fatalf("n=%d: unexpected page %+v", n, p)
		}
		if p.Items == nil {
			t.Fatalf("n=%d: expected non-nil items slice", n)
		}
	}
}
