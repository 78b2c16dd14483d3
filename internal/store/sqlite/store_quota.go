package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/koltyakov/tunnelplane/internal/domain"
)

const bytesPerMB = 1024 * 1024

const upsertUsageQuery = `
INSERT INTO usage_quotas(id, user_id, year, month, bandwidth_used_mb, request_count, tunnel_minutes, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id, year, month) DO UPDATE SET
	bandwidth_used_mb = bandwidth_used_mb + excluded.bandwidth_used_mb,
	request_count = request_count + excluded.request_count,
	tunnel_minutes = tunnel_minutes + excluded.tunnel_minutes,
	updated_at = excluded.updated_at`

// Usage is an additive contribution to a monthly quota row.
type Usage struct {
	BandwidthMB   float64
	Requests      int64
	TunnelMinutes float64
}

// SessionUsage converts final session counters into quota units. Minutes are
// only counted when both timestamps are known.
func SessionUsage(bytesIn, bytesOut int64, connectedAt time.Time, disconnectedAt *time.Time) Usage {
	u := Usage{BandwidthMB: float64(bytesIn+bytesOut) / bytesPerMB}
	if !connectedAt.IsZero() && disconnectedAt != nil {
		if d := disconnectedAt.Sub(connectedAt); d > 0 {
			u.TunnelMinutes = d.Minutes()
		}
	}
	return u
}

// AccumulateUsage adds u to the user's quota row for the calendar month of
// at (UTC), creating the row on first use.
func (s *Store) AccumulateUsage(ctx context.Context, userID string, at time.Time, u Usage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.accumulateUsageTx(ctx, tx, userID, at, u); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) accumulateUsageTx(ctx context.Context, tx *sql.Tx, userID string, at time.Time, u Usage) error {
	id, err := newID("usg")
	if err != nil {
		return err
	}
	at = at.UTC()
	_, err = tx.ExecContext(ctx, upsertUsageQuery,
		id, userID, at.Year(), int(at.Month()), u.BandwidthMB, u.Requests, u.TunnelMinutes, s.clock())
	return err
}

// UsageForMonth returns the quota row for (year, month), or zeros when the
// user has no usage recorded for that month.
func (s *Store) UsageForMonth(ctx context.Context, userID string, year, month int) (domain.UsageQuota, error) {
	q := domain.UsageQuota{UserID: userID, Year: year, Month: month}
	err := s.db.QueryRowContext(ctx, `
SELECT bandwidth_used_mb, request_count, tunnel_minutes
FROM usage_quotas
WHERE user_id = ? AND year = ? AND month = ?`, userID, year, month).Scan(&q.BandwidthUsedMB, &q.RequestCount, &q.TunnelMinutes)
	if errors.Is(err, sql.ErrNoRows) {
		return q, nil
	}
	if err != nil {
		return domain.UsageQuota{}, err
	}
	return q, nil
}

// Stats summarizes the user's active sessions and current-month usage.
func (s *Store) Stats(ctx context.Context, userID string) (domain.UsageStats, error) {
	var active int64
	var err error
	if s.activeSessionsStmt != nil {
		err = s.activeSessionsStmt.QueryRowContext(ctx, userID).Scan(&active)
	} else {
		err = s.db.QueryRowContext(ctx, activeSessionsByUserQuery, userID).Scan(&active)
	}
	if err != nil {
		return domain.UsageStats{}, err
	}
	now := s.clock()
	q, err := s.UsageForMonth(ctx, userID, now.Year(), int(now.Month()))
	if err != nil {
		return domain.UsageStats{}, err
	}
	return domain.UsageStats{
		ActiveSessions: active,
		TotalRequests:  q.RequestCount,
		BandwidthMB:    q.BandwidthUsedMB,
		TunnelMinutes:  q.TunnelMinutes,
	}, nil
}
