package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/koltyakov/tunnelplane/internal/domain"
)

const planColumns = `id, name, base_domain, max_tunnels, max_bandwidth_mb, session_limit_minutes, allow_reserved_subdomain, sort_order, is_active`

// DefaultPlans returns the plan tiers seeded on startup for baseDomain.
func DefaultPlans(baseDomain string) []domain.Plan {
	sandboxMinutes := 60
	return []domain.Plan{
		{ID: domain.PlanSandbox, Name: "Sandbox", BaseDomain: baseDomain, MaxTunnels: 1, MaxBandwidthMB: 1000, SessionLimitMinutes: &sandboxMinutes, SortOrder: 0, IsActive: true},
		{ID: domain.PlanStarter, Name: "Starter", BaseDomain: baseDomain, MaxTunnels: 3, MaxBandwidthMB: 10000, AllowReservedSubdomain: true, SortOrder: 1, IsActive: true},
		{ID: domain.PlanPro, Name: "Pro", BaseDomain: baseDomain, MaxTunnels: 10, MaxBandwidthMB: 100000, AllowReservedSubdomain: true, SortOrder: 2, IsActive: true},
	}
}

// SeedPlans inserts the default plans when missing. Existing rows are left
// untouched so operators can edit limits in place.
func (s *Store) SeedPlans(ctx context.Context, baseDomain string) error {
	baseDomain = strings.ToLower(strings.TrimSpace(baseDomain))
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range DefaultPlans(baseDomain) {
		var limit any
		if p.SessionLimitMinutes != nil {
			limit = *p.SessionLimitMinutes
		}
		if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO plans(`+planColumns+`)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.Name, p.BaseDomain, p.MaxTunnels, p.MaxBandwidthMB, limit,
			boolToInt(p.AllowReservedSubdomain), p.SortOrder, boolToInt(p.IsActive)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) GetPlan(ctx context.Context, id string) (domain.Plan, error) {
	p, err := scanPlan(s.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Plan{}, &domain.NotFoundError{Kind: "plan", ID: id}
	}
	return p, err
}

func (s *Store) ListPlans(ctx context.Context) ([]domain.Plan, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+planColumns+` FROM plans ORDER BY sort_order, id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PlanForUser returns an active user together with their plan.
func (s *Store) PlanForUser(ctx context.Context, userID string) (domain.User, domain.Plan, error) {
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return domain.User{}, domain.Plan{}, err
	}
	if !u.IsActive {
		return domain.User{}, domain.Plan{}, domain.ErrUnauthorized
	}
	p, err := s.GetPlan(ctx, u.PlanID)
	if err != nil {
		return domain.User{}, domain.Plan{}, err
	}
	return u, p, nil
}

func (s *Store) CreateUser(ctx context.Context, email, name, planID string) (domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return domain.User{}, domain.Invalidf("email is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = email
	}
	if planID == "" {
		planID = domain.PlanSandbox
	}
	if _, err := s.GetPlan(ctx, planID); err != nil {
		return domain.User{}, err
	}
	id, err := newID("usr")
	if err != nil {
		return domain.User{}, err
	}
	u := domain.User{
		ID:        id,
		Email:     email,
		Name:      name,
		PlanID:    planID,
		IsActive:  true,
		CreatedAt: s.clock(),
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO users(id, email, name, plan_id, is_active, created_at)
VALUES(?, ?, ?, ?, 1, ?)`, u.ID, u.Email, u.Name, u.PlanID, u.CreatedAt)
	if isUniqueViolation(err) {
		return domain.User{}, domain.Invalidf("email %q is already registered", email)
	}
	return u, err
}

func (s *Store) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := s.db.QueryRowContext(ctx, `
SELECT id, email, name, plan_id, is_active, created_at
FROM users WHERE id = ?`, id).Scan(&u.ID, &u.Email, &u.Name, &u.PlanID, &u.IsActive, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, &domain.NotFoundError{Kind: "user", ID: id}
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, email, name, plan_id, is_active, created_at
FROM users
ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.PlanID, &u.IsActive, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.CreatedAt = u.CreatedAt.UTC()
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) SetUserPlan(ctx context.Context, userID, planID string) error {
	if _, err := s.GetPlan(ctx, planID); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET plan_id = ? WHERE id = ?`, planID, userID)
	return requireAffected(res, err, "user", userID)
}

func (s *Store) SetUserActive(ctx context.Context, userID string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET is_active = ? WHERE id = ?`, boolToInt(active), userID)
	return requireAffected(res, err, "user", userID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (domain.Plan, error) {
	var p domain.Plan
	var limit sql.NullInt64
	if err := row.Scan(&p.ID, &p.Name, &p.BaseDomain, &p.MaxTunnels, &p.MaxBandwidthMB, &limit,
		&p.AllowReservedSubdomain, &p.SortOrder, &p.IsActive); err != nil {
		return domain.Plan{}, err
	}
	if limit.Valid {
		n := int(limit.Int64)
		p.SessionLimitMinutes = &n
	}
	return p, nil
}

func requireAffected(res sql.Result, err error, kind, id string) error {
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &domain.NotFoundError{Kind: kind, ID: id}
	}
	return nil
}
