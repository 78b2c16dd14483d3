package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/koltyakov/tunnelplane/internal/domain"
	"github.com/koltyakov/tunnelplane/internal/pagination"
)

const sessionColumns = `
	s.id, s.user_id, s.domain_id, d.hostname, d.base_domain, s.local_port, s.relay_id,
	s.client_ip, s.client_version, s.status, s.connected_at, s.last_seen_at, s.disconnected_at,
	s.bytes_in, s.bytes_out`

const sessionFrom = `
FROM tunnel_sessions s
JOIN domains d ON d.id = s.domain_id`

// CreateSession records a session the relay just accepted. The domain is
// looked up by hostname, preferring the relay's registered base domain.
func (s *Store) CreateSession(ctx context.Context, relayID string, in domain.CreateSessionRequest) (domain.TunnelSession, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.TunnelSession{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, in.UserID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TunnelSession{}, &domain.NotFoundError{Kind: "user", ID: in.UserID}
	}
	if err != nil {
		return domain.TunnelSession{}, err
	}

	var relayBase string
	err = tx.QueryRowContext(ctx, `SELECT base_domain FROM relay_servers WHERE relay_id = ?`, relayID).Scan(&relayBase)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.TunnelSession{}, err
	}

	hostname := strings.ToLower(strings.TrimSpace(in.Subdomain))
	d, err := scanDomain(tx.QueryRowContext(ctx, `
SELECT `+domainColumns+`
FROM domains
WHERE hostname = ?
ORDER BY (base_domain = ?) DESC, (user_id = ?) DESC, created_at ASC
LIMIT 1`, hostname, relayBase, in.UserID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TunnelSession{}, &domain.NotFoundError{Kind: "domain", ID: hostname}
	}
	if err != nil {
		return domain.TunnelSession{}, err
	}

	id, err := newID("ses")
	if err != nil {
		return domain.TunnelSession{}, err
	}
	now := s.clock()
	sess := domain.TunnelSession{
		ID:            id,
		UserID:        in.UserID,
		DomainID:      d.ID,
		Hostname:      d.Hostname,
		BaseDomain:    d.BaseDomain,
		PublicURL:     publicURL(d),
		LocalPort:     in.LocalPort,
		RelayID:       relayID,
		ClientIP:      in.ClientIP,
		ClientVersion: in.ClientVersion,
		Status:        domain.SessionStatusActive,
		ConnectedAt:   now,
		LastSeenAt:    now,
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO tunnel_sessions(id, user_id, domain_id, local_port, relay_id, client_ip, client_version, status, connected_at, last_seen_at, disconnected_at, bytes_in, bytes_out)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, 0, 0)`,
		sess.ID, sess.UserID, sess.DomainID, sess.LocalPort, sess.RelayID,
		nullableString(sess.ClientIP), nullableString(sess.ClientVersion), sess.Status, now, now); err != nil {
		return domain.TunnelSession{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TunnelSession{}, err
	}
	return sess, nil
}

// UpdateSessionStats records interim counters from the relay. Counters never
// decrease and closed sessions are left untouched.
func (s *Store) UpdateSessionStats(ctx context.Context, sessionID string, bytesIn, bytesOut int64) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE tunnel_sessions
SET bytes_in = MAX(bytes_in, ?), bytes_out = MAX(bytes_out, ?), last_seen_at = ?
WHERE id = ? AND status = 'active'`, bytesIn, bytesOut, s.clock(), sessionID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM tunnel_sessions WHERE id = ?`, sessionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.NotFoundError{Kind: "session", ID: sessionID}
	}
	return err
}

// CloseSession finalizes an active session and adds its usage to the owner's
// monthly quota in the same transaction. It reports whether this call did the
// transition; closing an already closed session is a no-op.
func (s *Store) CloseSession(ctx context.Context, sessionID string, bytesIn, bytesOut int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	closed, err := s.closeSessionTx(ctx, tx, sessionID, bytesIn, bytesOut)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return closed, nil
}

func (s *Store) closeSessionTx(ctx context.Context, tx *sql.Tx, sessionID string, bytesIn, bytesOut int64) (bool, error) {
	var userID, status string
	var connectedAt time.Time
	var storedIn, storedOut int64
	err := tx.QueryRowContext(ctx, `
SELECT user_id, status, connected_at, bytes_in, bytes_out
FROM tunnel_sessions WHERE id = ?`, sessionID).Scan(&userID, &status, &connectedAt, &storedIn, &storedOut)
	if errors.Is(err, sql.ErrNoRows) {
		return false, &domain.NotFoundError{Kind: "session", ID: sessionID}
	}
	if err != nil {
		return false, err
	}
	if status != domain.SessionStatusActive {
		return false, nil
	}

	finalIn, finalOut := max(storedIn, bytesIn), max(storedOut, bytesOut)
	now := s.clock()
	res, err := tx.ExecContext(ctx, `
UPDATE tunnel_sessions
SET status = 'closed', disconnected_at = ?, last_seen_at = ?, bytes_in = ?, bytes_out = ?
WHERE id = ? AND status = 'active'`, now, now, finalIn, finalOut, sessionID)
	if err != nil {
		return false, err
	}
	if affected, err := res.RowsAffected(); err != nil || affected == 0 {
		return false, err
	}
	usage := SessionUsage(finalIn, finalOut, connectedAt.UTC(), &now)
	if err := s.accumulateUsageTx(ctx, tx, userID, now, usage); err != nil {
		return false, err
	}
	return true, nil
}

// CloseStaleSessions closes up to limit active sessions not seen since
// cutoff, using their last reported counters. It returns the closed ids.
func (s *Store) CloseStaleSessions(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
SELECT id FROM tunnel_sessions
WHERE status = 'active' AND last_seen_at < ?
ORDER BY last_seen_at ASC
LIMIT ?`, storedTime(cutoff), limit)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	closed := make([]string, 0, len(ids))
	for _, id := range ids {
		ok, err := s.closeSessionTx(ctx, tx, id, 0, 0)
		if err != nil {
			return nil, err
		}
		if ok {
			closed = append(closed, id)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return closed, nil
}

// GetSession returns a session owned by userID. Sessions of other users are
// reported as not found.
func (s *Store) GetSession(ctx context.Context, userID, sessionID string) (domain.SessionDetail, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+sessionColumns+`,
	(SELECT COUNT(1) FROM http_requests r WHERE r.session_id = s.id)`+sessionFrom+`
WHERE s.id = ? AND s.user_id = ?`, sessionID, userID)
	var detail domain.SessionDetail
	sess, err := scanSession(row, &detail.RequestCount)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SessionDetail{}, &domain.NotFoundError{Kind: "session", ID: sessionID}
	}
	if err != nil {
		return domain.SessionDetail{}, err
	}
	detail.TunnelSession = sess
	return detail, nil
}

func (s *Store) CountSessionRequests(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM http_requests WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

// ListSessions pages through the user's sessions newest first. status may be
// empty, "active", or "closed".
func (s *Store) ListSessions(ctx context.Context, userID, status string, cursor *pagination.Cursor, limit int) (pagination.Page[domain.TunnelSession], error) {
	switch status {
	case "", domain.SessionStatusActive, domain.SessionStatusClosed:
	default:
		return pagination.Page[domain.TunnelSession]{}, domain.Invalidf("status must be %q or %q", domain.SessionStatusActive, domain.SessionStatusClosed)
	}
	if limit <= 0 {
		limit = pagination.DefaultSessionLimit
	}

	query := `SELECT ` + sessionColumns + sessionFrom + `
WHERE s.user_id = ?`
	args := []any{userID}
	if status != "" {
		query += ` AND s.status = ?`
		args = append(args, status)
	}
	if cursor != nil {
		ts := storedTime(cursor.Timestamp)
		query += ` AND (s.connected_at < ? OR (s.connected_at = ? AND s.id < ?))`
		args = append(args, ts, ts, cursor.ID)
	}
	query += `
ORDER BY s.connected_at DESC, s.id DESC
LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return pagination.Page[domain.TunnelSession]{}, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.TunnelSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return pagination.Page[domain.TunnelSession]{}, err
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return pagination.Page[domain.TunnelSession]{}, err
	}
	return pagination.NewPage(out, limit, sessionCursor), nil
}

func sessionCursor(sess domain.TunnelSession) pagination.Cursor {
	return pagination.Cursor{ID: sess.ID, Timestamp: sess.ConnectedAt}
}

func scanSession(row rowScanner, extra ...any) (domain.TunnelSession, error) {
	var sess domain.TunnelSession
	var clientIP, clientVersion sql.NullString
	var disconnected sql.NullTime
	dest := []any{
		&sess.ID, &sess.UserID, &sess.DomainID, &sess.Hostname, &sess.BaseDomain, &sess.LocalPort, &sess.RelayID,
		&clientIP, &clientVersion, &sess.Status, &sess.ConnectedAt, &sess.LastSeenAt, &disconnected,
		&sess.BytesIn, &sess.BytesOut,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return domain.TunnelSession{}, err
	}
	sess.ClientIP = clientIP.String
	sess.ClientVersion = clientVersion.String
	sess.ConnectedAt = sess.ConnectedAt.UTC()
	sess.LastSeenAt = sess.LastSeenAt.UTC()
	sess.DisconnectedAt = timePtr(disconnected)
	sess.PublicURL = publicURL(domain.Domain{Hostname: sess.Hostname, BaseDomain: sess.BaseDomain})
	return sess, nil
}

func publicURL(d domain.Domain) string {
	return "https://" + d.FQDN()
}
