package pagination

// Page is the list envelope returned to dashboards.
type Page[T any] struct {
	Items      []T     `json:"items"`
	HasMore    bool    `json:"hasMore"`
	NextCursor *string `json:"nextCursor"`
}

// NewPage trims a limit+1 result set down to limit items. When the extra row
// is present, the cursor of the last kept item becomes NextCursor.
func NewPage[T any](rows []T, limit int, key func(T) Cursor) Page[T] {
	p := Page[T]{Items: rows}
	if p.Items == nil {
		p.Items = []T{}
	}
	if limit > 0 && len(rows) > limit {
		p.Items = rows[:limit]
		p.HasMore = true
		next := Encode(key(p.Items[limit-1]))
		p.NextCursor = &next
	}
	return p
}
