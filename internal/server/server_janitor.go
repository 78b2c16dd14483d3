package server

import (
	"context"
	"time"

	"github.com/koltyakov/tunnelplane/internal/metrics"
)

const staleSweepTimeout = 30 * time.Second

type limiterCleaner interface {
	Cleanup()
}

func (s *Server) runJanitor(ctx context.Context) {
	cleanupTicker := time.NewTicker(s.cfg.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cleanupTicker.C:
			s.closeStaleSessions(ctx)
			if c, ok := s.limiter.(limiterCleaner); ok {
				c.Cleanup()
			}
		}
	}
}

// closeStaleSessions closes sessions the relay stopped reporting on. With a
// shared locker only one replica sweeps per interval.
func (s *Server) closeStaleSessions(ctx context.Context) int {
	locked, err := s.locker.TryLock(ctx, staleSweepLock, s.cfg.CleanupInterval)
	if err != nil {
		s.log.Warn("stale session sweep lock failed", "err", err)
		return 0
	}
	if !locked {
		s.log.Debug("stale session sweep running elsewhere")
		return 0
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.locker.Unlock(unlockCtx, staleSweepLock); err != nil {
			s.log.Warn("stale session sweep unlock failed", "err", err)
		}
	}()

	sweepCtx, cancel := context.WithTimeout(ctx, staleSweepTimeout)
	defer cancel()
	cutoff := s.now().Add(-s.cfg.StaleSessionTimeout)
	ids, err := s.store.CloseStaleSessions(sweepCtx, cutoff, staleSweepBatch)
	if err != nil {
		s.log.Error("failed to close stale sessions", "err", err)
	}
	for _, id := range ids {
		s.log.Warn("relay stopped reporting; session closed", "session_id", id, "cutoff", cutoff.UTC().Format(time.RFC3339))
	}
	if len(ids) > 0 {
		s.metrics.SessionsClosed.WithLabelValues(metrics.CloseReasonStale).Add(float64(len(ids)))
	}
	return len(ids)
}
