package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/koltyakov/tunnelplane/internal/domain"
)

const pepperSettingKey = "token_pepper"

func (s *Store) CreateCLIToken(ctx context.Context, userID, name, tokenHash string) (domain.CLIToken, error) {
	if _, err := s.GetUser(ctx, userID); err != nil {
		return domain.CLIToken{}, err
	}
	id, err := newID("tok")
	if err != nil {
		return domain.CLIToken{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "cli"
	}
	t := domain.CLIToken{
		ID:        id,
		UserID:    userID,
		Name:      name,
		TokenHash: tokenHash,
		CreatedAt: s.clock(),
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO cli_tokens(id, user_id, name, token_hash, created_at, revoked_at)
VALUES(?, ?, ?, ?, ?, NULL)`, t.ID, t.UserID, t.Name, t.TokenHash, t.CreatedAt)
	return t, err
}

// ListCLITokens returns the tokens of userID, or of every user when userID
// is empty.
func (s *Store) ListCLITokens(ctx context.Context, userID string) ([]domain.CLIToken, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, name, token_hash, created_at, revoked_at
FROM cli_tokens
WHERE ? = '' OR user_id = ?
ORDER BY created_at DESC, id DESC`, userID, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.CLIToken
	for rows.Next() {
		var t domain.CLIToken
		var revoked sql.NullTime
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &t.TokenHash, &t.CreatedAt, &revoked); err != nil {
			return nil, err
		}
		t.CreatedAt = t.CreatedAt.UTC()
		t.RevokedAt = timePtr(revoked)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) RevokeCLIToken(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE cli_tokens SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`, s.clock(), id)
	return requireAffected(res, err, "token", id)
}

// ResolveTokenUserID maps a token hash to the id of an active user. Unknown,
// revoked, or disabled credentials return sql.ErrNoRows.
func (s *Store) ResolveTokenUserID(ctx context.Context, tokenHash string) (string, error) {
	var id string
	stmt := s.resolveTokenStmt
	if stmt == nil {
		err := s.db.QueryRowContext(ctx, resolveTokenQuery, tokenHash).Scan(&id)
		return id, err
	}
	err := stmt.QueryRowContext(ctx, tokenHash).Scan(&id)
	return id, err
}

func (s *Store) GetServerPepper(ctx context.Context) (string, bool, error) {
	var current string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM server_settings WHERE key = ?`, pepperSettingKey).Scan(&current)
	if err == nil {
		return current, true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	return "", false, err
}

// ResolveServerPepper returns the stored token pepper, persisting suggested
// on first use. A suggested value that differs from the stored one is an error
// because every existing token hash would stop matching.
func (s *Store) ResolveServerPepper(ctx context.Context, suggested string) (string, error) {
	suggested = strings.TrimSpace(suggested)

	current, ok, err := s.GetServerPepper(ctx)
	if err != nil {
		return "", err
	}
	if ok {
		if suggested != "" && suggested != current {
			return "", errors.New("provided token pepper does not match database")
		}
		return current, nil
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO server_settings(key, value) VALUES(?, ?)`, pepperSettingKey, suggested); err != nil {
		return "", err
	}
	return suggested, nil
}
