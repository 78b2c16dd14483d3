package server

import (
	"errors"
	"net/http"

	"github.com/koltyakov/tunnelplane/internal/domain"
	"github.com/koltyakov/tunnelplane/internal/pagination"
)

// handleTicket allocates a subdomain for the caller and returns a signed
// ticket the CLI presents to the relay. The body is optional.
func (s *Server) handleTicket(w http.ResponseWriter, r *http.Request, userID string) {
	var req domain.TicketRequest
	if err := decodeJSONBody(w, r, maxUserBodyBytes, &req); err != nil && !errors.Is(err, errEmptyBody) {
		s.writeError(w, r, err)
		return
	}

	ctx := r.Context()
	allowed, err := s.limiter.Allow(ctx, userID)
	if err != nil {
		// Fail open: a limiter outage must not take ticket issuance down.
		s.log.Warn("ticket rate limiter unavailable", "user_id", userID, "err", err)
		allowed = true
	}
	if !allowed {
		s.metrics.RateLimited.Inc()
		s.writeError(w, r, domain.ErrRateLimitExceeded)
		return
	}

	_, plan, err := s.store.PlanForUser(ctx, userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.store.AllocateSubdomain(ctx, userID, req.Subdomain, plan.BaseDomain)
	if err != nil {
		if errors.Is(err, domain.ErrSubdomainConflict) {
			s.metrics.SubdomainConflicts.Inc()
			s.log.Info("subdomain conflict", "user_id", userID, "requested", req.Subdomain, "err", err)
		}
		s.writeError(w, r, err)
		return
	}
	resp, payload, err := s.issuer.Issue(userID, plan, d.Hostname)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.metrics.TicketsIssued.Inc()
	s.log.Info("ticket issued", "user_id", userID, "plan", plan.ID, "subdomain", d.Hostname, "ticket_id", payload.TicketID)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request, userID string) {
	q := r.URL.Query()
	cursor, err := pagination.ParseOptional(q.Get("cursor"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := pagination.ParseLimit(q.Get("limit"), pagination.DefaultSessionLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, err := s.store.ListSessions(r.Context(), userID, q.Get("status"), cursor, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, userID string) {
	detail, err := s.store.GetSession(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request, userID string) {
	sessionID := r.PathValue("id")
	q := r.URL.Query()
	cursor, err := pagination.ParseOptional(q.Get("cursor"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := pagination.ParseLimit(q.Get("limit"), pagination.DefaultLogLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// Ownership check; foreign sessions look the same as missing ones.
	if _, err := s.store.GetSession(r.Context(), userID, sessionID); err != nil {
		s.writeError(w, r, err)
		return
	}
	page, err := s.store.ListRequests(r.Context(), sessionID, q.Get("method"), cursor, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, userID string) {
	stats, err := s.store.Stats(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
