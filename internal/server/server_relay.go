package server

import (
	"net/http"

	"github.com/koltyakov/tunnelplane/internal/domain"
	"github.com/koltyakov/tunnelplane/internal/metrics"
	"github.com/koltyakov/tunnelplane/internal/netutil"
	"github.com/koltyakov/tunnelplane/internal/versionutil"
)

const maxRelayControlBodyBytes = 64 * 1024

func (s *Server) handleRelayRegister(w http.ResponseWriter, r *http.Request, relayID string) {
	var req domain.RelayRegisterRequest
	if err := decodeJSONBody(w, r, maxRelayControlBodyBytes, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.IPAddress == "" {
		req.IPAddress = netutil.RemoteIP(r)
	}
	req.Version = versionutil.Normalize(req.Version)

	relay, err := s.store.RegisterRelay(r.Context(), relayID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.Info("relay registered", "relay_id", relayID, "base_domain", relay.BaseDomain, "ip", relay.IPAddress, "version", relay.Version)
	writeJSON(w, http.StatusOK, domain.RelayRegisterResponse{RelayID: relay.RelayID, Status: relay.Status})
}

func (s *Server) handleRelayHeartbeat(w http.ResponseWriter, r *http.Request, relayID string) {
	var req domain.RelayHeartbeatRequest
	if err := decodeJSONBody(w, r, maxRelayControlBodyBytes, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.RelayHeartbeat(r.Context(), relayID, req.ActiveSessions); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.metrics.RelayHeartbeats.Inc()
	writeJSON(w, http.StatusOK, domain.StatusResponse{Status: "ok"})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request, relayID string) {
	var req domain.CreateSessionRequest
	if err := decodeJSONBody(w, r, maxRelayControlBodyBytes, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.ClientVersion = versionutil.Normalize(req.ClientVersion)

	sess, err := s.store.CreateSession(r.Context(), relayID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.metrics.SessionsOpened.Inc()
	s.log.Info("session opened", "session_id", sess.ID, "user_id", sess.UserID, "host", sess.PublicURL, "relay_id", relayID)
	writeJSON(w, http.StatusCreated, domain.CreateSessionResponse{SessionID: sess.ID})
}

func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request, _ string) {
	var req domain.SessionBytesRequest
	if err := decodeJSONBody(w, r, maxRelayControlBodyBytes, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.UpdateSessionStats(r.Context(), r.PathValue("id"), req.BytesIn, req.BytesOut); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request, relayID string) {
	var req domain.SessionBytesRequest
	if err := decodeJSONBody(w, r, maxRelayControlBodyBytes, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	sessionID := r.PathValue("id")
	closed, err := s.store.CloseSession(r.Context(), sessionID, req.BytesIn, req.BytesOut)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if closed {
		s.metrics.SessionsClosed.WithLabelValues(metrics.CloseReasonRelay).Inc()
		s.log.Info("session closed", "session_id", sessionID, "relay_id", relayID, "bytes_in", req.BytesIn, "bytes_out", req.BytesOut)
	} else {
		s.log.Debug("session already closed", "session_id", sessionID, "relay_id", relayID)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStoreRequests(w http.ResponseWriter, r *http.Request, _ string) {
	var batch domain.RequestBatch
	if err := decodeJSONBody(w, r, s.cfg.MaxBodyBytes, &batch); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := batch.Validate(s.cfg.MaxRequestBatch); err != nil {
		s.writeError(w, r, err)
		return
	}
	stored, err := s.recorder.Record(r.Context(), r.PathValue("id"), batch.Requests)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.metrics.RequestsStored.Add(float64(stored))
	writeJSON(w, http.StatusOK, domain.StoreRequestsResponse{Stored: stored})
}
