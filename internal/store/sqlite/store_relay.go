package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/koltyakov/tunnelplane/internal/domain"
)

const relayColumns = `id, relay_id, ws_port, http_port, base_domain, ip_address, version, status, last_heartbeat_at, active_sessions`

// RegisterRelay inserts or refreshes the relay identified by relayID and
// marks it online.
func (s *Store) RegisterRelay(ctx context.Context, relayID string, in domain.RelayRegisterRequest) (domain.RelayServer, error) {
	id, err := newID("rly")
	if err != nil {
		return domain.RelayServer{}, err
	}
	now := s.clock()
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO relay_servers(id, relay_id, ws_port, http_port, base_domain, ip_address, version, status, last_heartbeat_at, active_sessions, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
ON CONFLICT(relay_id) DO UPDATE SET
	ws_port = excluded.ws_port,
	http_port = excluded.http_port,
	base_domain = excluded.base_domain,
	ip_address = excluded.ip_address,
	version = excluded.version,
	status = excluded.status,
	last_heartbeat_at = excluded.last_heartbeat_at`,
		id, relayID, in.WSPort, in.HTTPPort, in.BaseDomain, nullableString(in.IPAddress), nullableString(in.Version),
		domain.RelayStatusOnline, now, now); err != nil {
		return domain.RelayServer{}, err
	}
	return s.GetRelay(ctx, relayID)
}

// RelayHeartbeat refreshes liveness for a registered relay.
func (s *Store) RelayHeartbeat(ctx context.Context, relayID string, activeSessions int) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE relay_servers
SET last_heartbeat_at = ?, active_sessions = ?, status = ?
WHERE relay_id = ?`, s.clock(), activeSessions, domain.RelayStatusOnline, relayID)
	return requireAffected(res, err, "relay", relayID)
}

func (s *Store) GetRelay(ctx context.Context, relayID string) (domain.RelayServer, error) {
	r, err := scanRelay(s.db.QueryRowContext(ctx, `SELECT `+relayColumns+` FROM relay_servers WHERE relay_id = ?`, relayID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RelayServer{}, &domain.NotFoundError{Kind: "relay", ID: relayID}
	}
	return r, err
}

func (s *Store) ListRelays(ctx context.Context) ([]domain.RelayServer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+relayColumns+` FROM relay_servers ORDER BY relay_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.RelayServer
	for rows.Next() {
		r, err := scanRelay(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRelay(row rowScanner) (domain.RelayServer, error) {
	var r domain.RelayServer
	var ip, version sql.NullString
	if err := row.Scan(&r.ID, &r.RelayID, &r.WSPort, &r.HTTPPort, &r.BaseDomain, &ip, &version, &r.Status, &r.LastHeartbeatAt, &r.ActiveSessions); err != nil {
		return domain.RelayServer{}, err
	}
	r.IPAddress = ip.String
	r.Version = version.String
	r.LastHeartbeatAt = r.LastHeartbeatAt.UTC()
	return r, nil
}
