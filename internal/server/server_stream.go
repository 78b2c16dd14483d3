package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/koltyakov/tunnelplane/internal/domain"
)

const (
	tailBatchSize    = 100
	tailWriteTimeout = 10 * time.Second
	tailReadLimit    = 512
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// logSummary is the live-tail view of a captured request. Bodies and
// headers are fetched through the paged logs endpoint.
type logSummary struct {
	ID             string    `json:"id"`
	Method         string    `json:"method"`
	Path           string    `json:"path"`
	QueryString    string    `json:"queryString,omitempty"`
	ResponseStatus int       `json:"responseStatus"`
	DurationMS     int64     `json:"durationMs"`
	Timestamp      time.Time `json:"timestamp"`
	BodyTruncated  bool      `json:"bodyTruncated"`
}

func summarize(rec domain.HTTPRequestRecord) logSummary {
	return logSummary{
		ID:             rec.ID,
		Method:         rec.Method,
		Path:           rec.Path,
		QueryString:    rec.QueryString,
		ResponseStatus: rec.ResponseStatus,
		DurationMS:     rec.DurationMS,
		Timestamp:      rec.Timestamp,
		BodyTruncated:  rec.BodyTruncated,
	}
}

// handleStreamLogs upgrades to a websocket and pushes summaries of requests
// captured after the upgrade until either side goes away.
func (s *Server) handleStreamLogs(w http.ResponseWriter, r *http.Request, userID string) {
	sessionID := r.PathValue("id")
	if _, err := s.store.GetSession(r.Context(), userID, sessionID); err != nil {
		s.writeError(w, r, err)
		return
	}
	last, err := s.store.LatestRequestSeq(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("log stream upgrade failed", "session_id", sessionID, "err", err)
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go discardIncoming(conn, cancel)

	s.log.Debug("log stream opened", "session_id", sessionID, "user_id", userID)
	err = s.tailRequests(ctx, conn, sessionID, last)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"),
			time.Now().Add(time.Second))
	default:
		s.log.Warn("log stream failed", "session_id", sessionID, "err", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "internal error"),
			time.Now().Add(time.Second))
	}
	s.log.Debug("log stream closed", "session_id", sessionID)
}

func (s *Server) tailRequests(ctx context.Context, conn *websocket.Conn, sessionID string, last int64) error {
	ticker := time.NewTicker(s.tailInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		for {
			recs, next, err := s.store.ListRequestsAfter(ctx, sessionID, last, tailBatchSize)
			if err != nil {
				return err
			}
			for _, rec := range recs {
				_ = conn.SetWriteDeadline(time.Now().Add(tailWriteTimeout))
				if err := conn.WriteJSON(summarize(rec)); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					return err
				}
			}
			last = next
			if len(recs) < tailBatchSize {
				break
			}
		}
	}
}

// discardIncoming drains client frames so control messages are processed,
// and cancels the stream once the client disconnects.
func discardIncoming(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(tailReadLimit)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
