package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/koltyakov/tunnelplane/internal/auth"
	"github.com/koltyakov/tunnelplane/internal/domain"
)

const (
	headerRelaySecret = "X-Relay-Secret"
	headerRelayID     = "X-Relay-Id"

	maxUserBodyBytes = 16 * 1024
)

// Error codes carried in ErrorResponse.ErrorCode.
const (
	codeNotFound         = "not_found"
	codeConflict         = "subdomain_conflict"
	codeInvalidCursor    = "invalid_cursor"
	codeInvalidRequest   = "invalid_request"
	codeUnauthorized     = "unauthorized"
	codeRateLimited      = "rate_limited"
	codeReservation      = "reservation_not_allowed"
	codeRequestTooLarge  = "request_too_large"
	codeInternal         = "internal_error"
	codeStoreUnavailable = "store_unavailable"
)

var errEmptyBody = fmt.Errorf("%w: request body is empty", domain.ErrInvalidRequest)

func (s *Server) withUser(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := s.authenticate(r)
		if !ok {
			writeErrorCode(w, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
			return
		}
		next(w, r, userID)
	}
}

// authenticate resolves a bearer CLI token to its owning user.
func (s *Server) authenticate(r *http.Request) (string, bool) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
	if token == "" {
		return "", false
	}
	userID, err := s.store.ResolveTokenUserID(r.Context(), auth.HashToken(token, s.cfg.TokenPepper))
	if err != nil {
		return "", false
	}
	return userID, true
}

func (s *Server) withRelay(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		secret := r.Header.Get(headerRelaySecret)
		if secret == "" || !auth.ConstantTimeEquals(secret, s.cfg.RelaySecret) {
			writeErrorCode(w, http.StatusUnauthorized, codeUnauthorized, "invalid relay secret")
			return
		}
		relayID := strings.TrimSpace(r.Header.Get(headerRelayID))
		if relayID == "" {
			writeErrorCode(w, http.StatusBadRequest, codeInvalidRequest, "missing "+headerRelayID+" header")
			return
		}
		next(w, r, relayID)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.log.Warn("health check failed", "err", err)
		writeErrorCode(w, http.StatusServiceUnavailable, codeStoreUnavailable, "store unavailable")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// writeError maps domain errors to HTTP statuses. Unexpected errors are
// logged and reported as a bare internal error.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeErrorCode(w, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, domain.ErrSubdomainConflict):
		writeErrorCode(w, http.StatusConflict, codeConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidCursor):
		writeErrorCode(w, http.StatusBadRequest, codeInvalidCursor, err.Error())
	case errors.Is(err, domain.ErrInvalidRequest):
		writeErrorCode(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeErrorCode(w, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrRateLimitExceeded):
		writeErrorCode(w, http.StatusTooManyRequests, codeRateLimited, err.Error())
	case errors.Is(err, domain.ErrReservationNotAllowed):
		writeErrorCode(w, http.StatusForbidden, codeReservation, err.Error())
	case errors.As(err, &tooLarge):
		writeErrorCode(w, http.StatusRequestEntityTooLarge, codeRequestTooLarge, "request body too large")
	default:
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeErrorCode(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

func writeErrorCode(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, domain.ErrorResponse{Error: msg, ErrorCode: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n"))
}

// decodeJSONBody reads exactly one JSON object, rejecting unknown fields.
// Syntax and shape problems are reported as invalid requests.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	defer func() { _ = r.Body.Close() }()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return bodyError(err)
	}
	var extra any
	if err := dec.Decode(&extra); err != io.EOF {
		if err == nil {
			return domain.Invalidf("request body must contain a single JSON object")
		}
		return bodyError(err)
	}
	return nil
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return err
	}
	if errors.Is(err, io.EOF) {
		return errEmptyBody
	}
	return domain.Invalidf("malformed JSON body: %v", err)
}
