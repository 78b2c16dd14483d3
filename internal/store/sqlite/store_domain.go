package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/koltyakov/tunnelplane/internal/domain"
	"github.com/koltyakov/tunnelplane/internal/subdomain"
)

const (
	reasonReserved = "is reserved"
	reasonInUse    = "is currently in use"
	reasonRace     = "was claimed concurrently"
)

// claimRaceError marks a unique-constraint failure while inserting a domain
// row, so the allocation can be retried from scratch.
type claimRaceError struct {
	hostname string
	err      error
}

func (e *claimRaceError) Error() string { return "claim " + e.hostname + ": " + e.err.Error() }
func (e *claimRaceError) Unwrap() error { return e.err }

// AllocateSubdomain resolves the name a user may tunnel under and makes sure
// a domain row for it exists and is owned by the user. An empty requested
// name gets a generated adjective-noun name.
func (s *Store) AllocateSubdomain(ctx context.Context, userID, requested, baseDomain string) (domain.Domain, error) {
	baseDomain = strings.ToLower(strings.TrimSpace(baseDomain))
	name := ""
	if strings.TrimSpace(requested) != "" {
		var err error
		if name, err = subdomain.Normalize(requested); err != nil {
			return domain.Domain{}, err
		}
	}

	var race *claimRaceError
	for range allocateRetries {
		d, err := s.allocateOnce(ctx, userID, name, baseDomain)
		if err == nil {
			return d, nil
		}
		if !errors.As(err, &race) {
			return domain.Domain{}, err
		}
	}
	return domain.Domain{}, &domain.ConflictError{Subdomain: race.hostname, Reason: reasonRace}
}

func (s *Store) allocateOnce(ctx context.Context, userID, name, baseDomain string) (domain.Domain, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Domain{}, err
	}
	defer func() { _ = tx.Rollback() }()

	hostname := name
	if hostname == "" {
		hostname, err = s.gen.Pick(ctx, func(ctx context.Context, candidate string) (bool, error) {
			return s.generatedNameFreeTx(ctx, tx, candidate, baseDomain)
		})
		if err != nil {
			return domain.Domain{}, err
		}
	} else if err := s.checkRequestedTx(ctx, tx, userID, hostname, baseDomain); err != nil {
		return domain.Domain{}, err
	}

	d, err := s.ensureDomainTx(ctx, tx, userID, hostname, baseDomain)
	if err != nil {
		return domain.Domain{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Domain{}, err
	}
	return d, nil
}

// checkRequestedTx rejects a name reserved by another user or bound to an
// active session of anyone.
func (s *Store) checkRequestedTx(ctx context.Context, tx *sql.Tx, userID, hostname, baseDomain string) error {
	existing, err := findDomainTx(ctx, tx, hostname, baseDomain)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if err == nil && existing.IsReserved && existing.UserID != userID {
		return &domain.ConflictError{Subdomain: hostname, Reason: reasonReserved}
	}
	busy, err := s.hostnameBusyTx(ctx, tx, hostname, baseDomain)
	if err != nil {
		return err
	}
	if busy {
		return &domain.ConflictError{Subdomain: hostname, Reason: reasonInUse}
	}
	return nil
}

// generatedNameFreeTx accepts candidates nobody has reserved and no active
// session uses.
func (s *Store) generatedNameFreeTx(ctx context.Context, tx *sql.Tx, hostname, baseDomain string) (bool, error) {
	existing, err := findDomainTx(ctx, tx, hostname, baseDomain)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}
	if err == nil && existing.IsReserved {
		return false, nil
	}
	busy, err := s.hostnameBusyTx(ctx, tx, hostname, baseDomain)
	if err != nil {
		return false, err
	}
	return !busy, nil
}

func (s *Store) hostnameBusyTx(ctx context.Context, tx *sql.Tx, hostname, baseDomain string) (bool, error) {
	var one int
	var err error
	if s.isHostnameBusyStmt != nil {
		err = tx.StmtContext(ctx, s.isHostnameBusyStmt).QueryRowContext(ctx, hostname, baseDomain).Scan(&one)
	} else {
		err = tx.QueryRowContext(ctx, isHostnameBusyQuery, hostname, baseDomain).Scan(&one)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ensureDomainTx creates the (hostname, baseDomain) row for userID or takes
// over an unreserved row owned by someone else. Reserved rows owned by
// userID are returned unchanged.
func (s *Store) ensureDomainTx(ctx context.Context, tx *sql.Tx, userID, hostname, baseDomain string) (domain.Domain, error) {
	existing, err := findDomainTx(ctx, tx, hostname, baseDomain)
	if err == nil {
		switch {
		case existing.UserID == userID:
			return existing, nil
		case existing.IsReserved:
			return domain.Domain{}, &domain.ConflictError{Subdomain: hostname, Reason: reasonReserved}
		}
		if err := reassignIfUnreservedTx(ctx, tx, existing.ID, userID); err != nil {
			return domain.Domain{}, err
		}
		existing.UserID = userID
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Domain{}, err
	}

	id, err := newID("dom")
	if err != nil {
		return domain.Domain{}, err
	}
	d := domain.Domain{
		ID:         id,
		Hostname:   hostname,
		BaseDomain: baseDomain,
		UserID:     userID,
		CreatedAt:  s.clock(),
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO domains(id, hostname, base_domain, user_id, is_reserved, created_at)
VALUES(?, ?, ?, ?, 0, ?)`, d.ID, d.Hostname, d.BaseDomain, d.UserID, d.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return domain.Domain{}, &claimRaceError{hostname: hostname, err: err}
		}
		return domain.Domain{}, err
	}
	return d, nil
}

// ReassignIfUnreserved moves a domain to userID when it is neither reserved
// nor bound to an active session. Otherwise it yields a conflict naming the
// reason.
func (s *Store) ReassignIfUnreserved(ctx context.Context, domainID, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := reassignIfUnreservedTx(ctx, tx, domainID, userID); err != nil {
		return err
	}
	return tx.Commit()
}

func reassignIfUnreservedTx(ctx context.Context, tx *sql.Tx, domainID, userID string) error {
	res, err := tx.ExecContext(ctx, `
UPDATE domains SET user_id = ?
WHERE id = ? AND is_reserved = 0
  AND NOT EXISTS (SELECT 1 FROM tunnel_sessions WHERE domain_id = domains.id AND status = 'active')`, userID, domainID)
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
	var hostname string
	var reserved bool
	err = tx.QueryRowContext(ctx, `SELECT hostname, is_reserved FROM domains WHERE id = ?`, domainID).Scan(&hostname, &reserved)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.NotFoundError{Kind: "domain", ID: domainID}
	}
	if err != nil {
		return err
	}
	if reserved {
		return &domain.ConflictError{Subdomain: hostname, Reason: reasonReserved}
	}
	return &domain.ConflictError{Subdomain: hostname, Reason: reasonInUse}
}

// ReserveDomain pins hostname to userID so it is never reassigned. The
// user's plan must allow reserved subdomains.
func (s *Store) ReserveDomain(ctx context.Context, userID, hostname, baseDomain string) (domain.Domain, error) {
	_, plan, err := s.PlanForUser(ctx, userID)
	if err != nil {
		return domain.Domain{}, err
	}
	if !plan.AllowReservedSubdomain {
		return domain.Domain{}, domain.ErrReservationNotAllowed
	}
	hostname, err = subdomain.Normalize(hostname)
	if err != nil {
		return domain.Domain{}, err
	}
	baseDomain = strings.ToLower(strings.TrimSpace(baseDomain))
	if baseDomain == "" {
		baseDomain = plan.BaseDomain
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Domain{}, err
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := findDomainTx(ctx, tx, hostname, baseDomain)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.Domain{}, err
	}
	if err == nil && existing.UserID != userID {
		busy, err := s.hostnameBusyTx(ctx, tx, hostname, baseDomain)
		if err != nil {
			return domain.Domain{}, err
		}
		if busy {
			return domain.Domain{}, &domain.ConflictError{Subdomain: hostname, Reason: reasonInUse}
		}
	}
	d, err := s.ensureDomainTx(ctx, tx, userID, hostname, baseDomain)
	if err != nil {
		var race *claimRaceError
		if errors.As(err, &race) {
			return domain.Domain{}, &domain.ConflictError{Subdomain: hostname, Reason: reasonRace}
		}
		return domain.Domain{}, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE domains SET is_reserved = 1 WHERE id = ?`, d.ID); err != nil {
		return domain.Domain{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Domain{}, err
	}
	d.IsReserved = true
	return d, nil
}

// ReleaseDomain clears the reservation flag. Ownership stays with the user
// until another allocation claims the name. An empty baseDomain means the
// user's plan domain.
func (s *Store) ReleaseDomain(ctx context.Context, userID, hostname, baseDomain string) error {
	hostname = strings.ToLower(strings.TrimSpace(hostname))
	baseDomain = strings.ToLower(strings.TrimSpace(baseDomain))
	if baseDomain == "" {
		u, err := s.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		plan, err := s.GetPlan(ctx, u.PlanID)
		if err != nil {
			return err
		}
		baseDomain = plan.BaseDomain
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE domains SET is_reserved = 0
WHERE hostname = ? AND base_domain = ? AND user_id = ? AND is_reserved = 1`, hostname, baseDomain, userID)
	return requireAffected(res, err, "reserved domain", hostname)
}

func (s *Store) GetDomain(ctx context.Context, hostname, baseDomain string) (domain.Domain, error) {
	hostname = strings.ToLower(strings.TrimSpace(hostname))
	baseDomain = strings.ToLower(strings.TrimSpace(baseDomain))
	d, err := scanDomain(s.db.QueryRowContext(ctx, `SELECT `+domainColumns+` FROM domains WHERE hostname = ? AND base_domain = ?`, hostname, baseDomain))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Domain{}, &domain.NotFoundError{Kind: "domain", ID: hostname}
	}
	return d, err
}

const domainColumns = `id, hostname, base_domain, user_id, is_reserved, created_at`

func findDomainTx(ctx context.Context, tx *sql.Tx, hostname, baseDomain string) (domain.Domain, error) {
	return scanDomain(tx.QueryRowContext(ctx, `SELECT `+domainColumns+` FROM domains WHERE hostname = ? AND base_domain = ?`, hostname, baseDomain))
}

func scanDomain(row rowScanner) (domain.Domain, error) {
	var d domain.Domain
	var created time.Time
	if err := row.Scan(&d.ID, &d.Hostname, &d.BaseDomain, &d.UserID, &d.IsReserved, &created); err != nil {
		return domain.Domain{}, err
	}
	d.CreatedAt = created.UTC()
	return d, nil
}
