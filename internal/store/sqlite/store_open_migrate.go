// Package sqlite implements the tunnelplane data store backed by a SQLite
// database. It owns users, plans, CLI tokens, domains, tunnel sessions,
// captured requests, usage quotas, and the relay registry.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/koltyakov/tunnelplane/internal/subdomain"
)

// Store wraps a SQLite database connection for all tunnelplane persistence
// operations.
type Store struct {
	db  *sql.DB
	now func() time.Time
	gen *subdomain.Generator

	resolveTokenStmt   *sql.Stmt
	isHostnameBusyStmt *sql.Stmt
	activeSessionsStmt *sql.Stmt
}

const defaultMaxOpenConns = 10
const defaultMaxIdleConns = 10

// allocateRetries bounds how often a unique-constraint race during
// allocation is retried before surfacing as a conflict.
const allocateRetries = 3

const resolveTokenQuery = `
SELECT u.id
FROM cli_tokens t
JOIN users u ON u.id = t.user_id
WHERE t.token_hash = ? AND t.revoked_at IS NULL AND u.is_active = 1`

const isHostnameBusyQuery = `
SELECT 1
FROM tunnel_sessions s
JOIN domains d ON d.id = s.domain_id
WHERE d.hostname = ? AND d.base_domain = ? AND s.status = 'active'
LIMIT 1`

const activeSessionsByUserQuery = `SELECT COUNT(1) FROM tunnel_sessions WHERE user_id = ? AND status = 'active'`

// OpenOptions controls SQLite connection pool sizing.
type OpenOptions struct {
	MaxOpenConns int
	MaxIdleConns int
}

// Open creates or opens the SQLite database at path, runs migrations, and
// enables WAL mode for improved concurrent read performance.
func Open(path string) (*Store, error) {
	return OpenWithOptions(path, OpenOptions{})
}

// OpenWithOptions creates or opens the SQLite database at path with tunable
// connection pool settings, runs migrations, and enables WAL mode.
func OpenWithOptions(path string, opts OpenOptions) (*Store, error) {
	if err := ensureParentDir(path); err != nil {
		return nil, err
	}
	// Append per-connection PRAGMAs to the DSN so every pooled connection gets them.
	// Immediate transactions serialize writers on busy_timeout instead of
	// failing a read-then-write upgrade.
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path + sep + "_pragma=foreign_keys(1)&_pragma=synchronous(normal)&_pragma=busy_timeout(5000)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	maxOpenConns := opts.MaxOpenConns
	if maxOpenConns <= 0 {
		maxOpenConns = defaultMaxOpenConns
	}
	maxIdleConns := opts.MaxIdleConns
	if maxIdleConns <= 0 {
		maxIdleConns = defaultMaxIdleConns
	}
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)

	// journal_mode is persistent and database-wide; set it once here.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite setup (journal_mode): %w", err)
	}
	s := &Store{
		db:  db,
		now: time.Now,
		gen: subdomain.NewGenerator(),
	}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.prepareStatements(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	stmtErr := s.closePreparedStatements()
	return errors.Join(stmtErr, s.db.Close())
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) prepareStatements(ctx context.Context) error {
	var err error
	if s.resolveTokenStmt, err = s.db.PrepareContext(ctx, resolveTokenQuery); err != nil {
		return fmt.Errorf("prepare resolve token query: %w", err)
	}
	if s.isHostnameBusyStmt, err = s.db.PrepareContext(ctx, isHostnameBusyQuery); err != nil {
		closeErr := s.closePreparedStatements()
		return errors.Join(fmt.Errorf("prepare hostname busy query: %w", err), closeErr)
	}
	if s.activeSessionsStmt, err = s.db.PrepareContext(ctx, activeSessionsByUserQuery); err != nil {
		closeErr := s.closePreparedStatements()
		return errors.Join(fmt.Errorf("prepare active sessions query: %w", err), closeErr)
	}
	return nil
}

func (s *Store) closePreparedStatements() error {
	var err error
	err = errors.Join(err, closeStmt(&s.resolveTokenStmt))
	err = errors.Join(err, closeStmt(&s.isHostnameBusyStmt))
	err = errors.Join(err, closeStmt(&s.activeSessionsStmt))
	return err
}

func closeStmt(stmt **sql.Stmt) error {
	if stmt == nil || *stmt == nil {
		return nil
	}
	err := (*stmt).Close()
	*stmt = nil
	return err
}

// Migrate creates all required tables and indexes if they do not already exist.
func (s *Store) Migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS plans (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	base_domain TEXT NOT NULL,
	max_tunnels INTEGER NOT NULL,
	max_bandwidth_mb INTEGER NOT NULL,
	session_limit_minutes INTEGER NULL,
	allow_reserved_subdomain INTEGER NOT NULL DEFAULT 0,
	sort_order INTEGER NOT NULL DEFAULT 0,
	is_active INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	plan_id TEXT NOT NULL REFERENCES plans(id),
	is_active INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS cli_tokens (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id),
	name TEXT NOT NULL,
	token_hash TEXT NOT NULL UNIQUE,
	created_at DATETIME NOT NULL,
	revoked_at DATETIME NULL
);
CREATE TABLE IF NOT EXISTS domains (
	id TEXT PRIMARY KEY,
	hostname TEXT NOT NULL,
	base_domain TEXT NOT NULL,
	user_id TEXT NOT NULL REFERENCES users(id),
	is_reserved INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	UNIQUE(hostname, base_domain)
);
CREATE TABLE IF NOT EXISTS tunnel_sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id),
	domain_id TEXT NOT NULL REFERENCES domains(id),
	local_port INTEGER NOT NULL,
	relay_id TEXT NOT NULL,
	client_ip TEXT NULL,
	client_version TEXT NULL,
	status TEXT NOT NULL,
	connected_at DATETIME NOT NULL,
	last_seen_at DATETIME NOT NULL,
	disconnected_at DATETIME NULL,
	bytes_in INTEGER NOT NULL DEFAULT 0,
	bytes_out INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS http_requests (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES tunnel_sessions(id),
	method TEXT NOT NULL,
	path TEXT NOT NULL,
	query_string TEXT NULL,
	request_headers TEXT NOT NULL,
	request_body BLOB NULL,
	response_status INTEGER NOT NULL,
	response_headers TEXT NULL,
	response_body BLOB NULL,
	duration_ms INTEGER NOT NULL,
	captured_at DATETIME NOT NULL,
	body_truncated INTEGER NOT NULL DEFAULT 0,
	original_request_size INTEGER NULL,
	original_response_size INTEGER NULL
);
CREATE TABLE IF NOT EXISTS usage_quotas (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id),
	year INTEGER NOT NULL,
	month INTEGER NOT NULL,
	bandwidth_used_mb REAL NOT NULL DEFAULT 0,
	request_count INTEGER NOT NULL DEFAULT 0,
	tunnel_minutes REAL NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL,
	UNIQUE(user_id, year, month)
);
CREATE TABLE IF NOT EXISTS relay_servers (
	id TEXT PRIMARY KEY,
	relay_id TEXT NOT NULL UNIQUE,
	ws_port INTEGER NOT NULL,
	http_port INTEGER NOT NULL,
	base_domain TEXT NOT NULL,
	ip_address TEXT NULL,
	version TEXT NULL,
	status TEXT NOT NULL,
	last_heartbeat_at DATETIME NOT NULL,
	active_sessions INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS server_settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cli_tokens_hash ON cli_tokens(token_hash);
CREATE INDEX IF NOT EXISTS idx_domains_user ON domains(user_id);
CREATE INDEX IF NOT EXISTS idx_tunnel_sessions_status ON tunnel_sessions(status);
CREATE INDEX IF NOT EXISTS idx_tunnel_sessions_domain_status ON tunnel_sessions(domain_id, status);
CREATE INDEX IF NOT EXISTS idx_tunnel_sessions_user_connected ON tunnel_sessions(user_id, connected_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_tunnel_sessions_status_seen ON tunnel_sessions(status, last_seen_at);
CREATE INDEX IF NOT EXISTS idx_http_requests_session_captured ON http_requests(session_id, captured_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_relay_servers_status ON relay_servers(status);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}
