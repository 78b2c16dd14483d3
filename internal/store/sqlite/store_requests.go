package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/koltyakov/tunnelplane/internal/domain"
	"github.com/koltyakov/tunnelplane/internal/pagination"
)

const insertRequestQuery = `
INSERT INTO http_requests(id, session_id, method, path, query_string, request_headers, request_body,
	response_status, response_headers, response_body, duration_ms, captured_at, body_truncated,
	original_request_size, original_response_size)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const requestColumns = `
	rowid, id, session_id, method, path, query_string, request_headers, request_body,
	response_status, response_headers, response_body, duration_ms, captured_at, body_truncated,
	original_request_size, original_response_size`

// AddRequests appends captured records to a session and counts them against
// the owner's current-month request total. Records are accepted for closed
// sessions too, since relays flush their buffers after disconnect.
func (s *Store) AddRequests(ctx context.Context, sessionID string, records []domain.HTTPRequestRecord) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var userID string
	err = tx.QueryRowContext(ctx, `SELECT user_id FROM tunnel_sessions WHERE id = ?`, sessionID).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &domain.NotFoundError{Kind: "session", ID: sessionID}
	}
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	stmt, err := tx.PrepareContext(ctx, insertRequestQuery)
	if err != nil {
		return 0, err
	}
	defer func() { _ = stmt.Close() }()

	for _, rec := range records {
		id, err := newID("req")
		if err != nil {
			return 0, err
		}
		reqHeaders, err := encodeHeaders(rec.RequestHeaders)
		if err != nil {
			return 0, err
		}
		var respHeaders any
		if rec.ResponseHeaders != nil {
			if respHeaders, err = encodeHeaders(rec.ResponseHeaders); err != nil {
				return 0, err
			}
		}
		if _, err := stmt.ExecContext(ctx,
			id, sessionID, strings.ToUpper(rec.Method), rec.Path, nullableString(rec.QueryString), reqHeaders, nullableBytes(rec.RequestBody),
			rec.ResponseStatus, respHeaders, nullableBytes(rec.ResponseBody), rec.DurationMS, storedTime(rec.Timestamp), boolToInt(rec.BodyTruncated),
			nullableInt64(rec.OriginalRequestSize), nullableInt64(rec.OriginalResponseSize)); err != nil {
			return 0, err
		}
	}

	if err := s.accumulateUsageTx(ctx, tx, userID, s.clock(), Usage{Requests: int64(len(records))}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(records), nil
}

// ListRequests pages through a session's captured requests newest first,
// optionally filtered by HTTP method.
func (s *Store) ListRequests(ctx context.Context, sessionID, method string, cursor *pagination.Cursor, limit int) (pagination.Page[domain.HTTPRequestRecord], error) {
	if limit <= 0 {
		limit = pagination.DefaultLogLimit
	}
	query := `SELECT ` + requestColumns + `
FROM http_requests
WHERE session_id = ?`
	args := []any{sessionID}
	if method = strings.ToUpper(strings.TrimSpace(method)); method != "" {
		query += ` AND method = ?`
		args = append(args, method)
	}
	if cursor != nil {
		ts := storedTime(cursor.Timestamp)
		query += ` AND (captured_at < ? OR (captured_at = ? AND id < ?))`
		args = append(args, ts, ts, cursor.ID)
	}
	query += `
ORDER BY captured_at DESC, id DESC
LIMIT ?`
	args = append(args, limit+1)

	out, _, err := s.queryRequests(ctx, query, args...)
	if err != nil {
		return pagination.Page[domain.HTTPRequestRecord]{}, err
	}
	return pagination.NewPage(out, limit, requestCursor), nil
}

// LatestRequestSeq returns the insertion sequence of the newest record of a
// session, or zero when it has none.
func (s *Store) LatestRequestSeq(ctx context.Context, sessionID string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(rowid), 0) FROM http_requests WHERE session_id = ?`, sessionID).Scan(&seq)
	return seq, err
}

// ListRequestsAfter returns records stored after insertion sequence afterSeq
// in insertion order, along with the sequence of the last one returned.
func (s *Store) ListRequestsAfter(ctx context.Context, sessionID string, afterSeq int64, limit int) ([]domain.HTTPRequestRecord, int64, error) {
	if limit <= 0 {
		limit = pagination.DefaultLogLimit
	}
	out, last, err := s.queryRequests(ctx, `SELECT `+requestColumns+`
FROM http_requests
WHERE session_id = ? AND rowid > ?
ORDER BY rowid ASC
LIMIT ?`, sessionID, afterSeq, limit)
	if err != nil {
		return nil, afterSeq, err
	}
	if len(out) == 0 {
		last = afterSeq
	}
	return out, last, nil
}

func (s *Store) queryRequests(ctx context.Context, query string, args ...any) ([]domain.HTTPRequestRecord, int64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.HTTPRequestRecord
	var lastSeq int64
	for rows.Next() {
		rec, seq, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
		lastSeq = seq
	}
	return out, lastSeq, rows.Err()
}

func scanRequest(row rowScanner) (domain.HTTPRequestRecord, int64, error) {
	var rec domain.HTTPRequestRecord
	var seq int64
	var query, respHeaders sql.NullString
	var reqHeaders string
	var origReq, origResp sql.NullInt64
	if err := row.Scan(
		&seq, &rec.ID, &rec.SessionID, &rec.Method, &rec.Path, &query, &reqHeaders, &rec.RequestBody,
		&rec.ResponseStatus, &respHeaders, &rec.ResponseBody, &rec.DurationMS, &rec.Timestamp, &rec.BodyTruncated,
		&origReq, &origResp,
	); err != nil {
		return domain.HTTPRequestRecord{}, 0, err
	}
	rec.QueryString = query.String
	rec.Timestamp = rec.Timestamp.UTC()
	rec.OriginalRequestSize = int64Ptr(origReq)
	rec.OriginalResponseSize = int64Ptr(origResp)
	rec.RequestHeaders = decodeHeaders(reqHeaders)
	if respHeaders.Valid {
		rec.ResponseHeaders = decodeHeaders(respHeaders.String)
	}
	return rec, seq, nil
}

func requestCursor(rec domain.HTTPRequestRecord) pagination.Cursor {
	return pagination.Cursor{ID: rec.ID, Timestamp: rec.Timestamp}
}

func encodeHeaders(h map[string]string) (string, error) {
	if h == nil {
		return "{}", nil
	}
	b, err := json.Marshal(h)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeHeaders(raw string) map[string]string {
	h := map[string]string{}
	if raw == "" {
		return h
	}
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		return map[string]string{}
	}
	return h
}
