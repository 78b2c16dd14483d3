package domain

import "strings"

// TicketRequest is the JSON body a CLI sends to obtain a relay ticket.
type TicketRequest struct {
	Subdomain string `json:"subdomain,omitempty"`
}

// TicketResponse is returned on successful ticket issuance.
type TicketResponse struct {
	Ticket    string `json:"ticket"`
	RelayURL  string `json:"relay_url"`
	ExpiresIn int    `json:"expires_in"`
}

// RelayRegisterRequest is sent by a relay on startup.
type RelayRegisterRequest struct {
	WSPort     int    `json:"ws_port"`
	HTTPPort   int    `json:"http_port"`
	BaseDomain string `json:"base_domain"`
	IPAddress  string `json:"ip_address,omitempty"`
	Version    string `json:"version,omitempty"`
}

func (r *RelayRegisterRequest) Validate() error {
	if !validPort(r.WSPort) {
		return Invalidf("ws_port must be between 1 and 65535")
	}
	if !validPort(r.HTTPPort) {
		return Invalidf("http_port must be between 1 and 65535")
	}
	r.BaseDomain = strings.ToLower(strings.TrimSpace(r.BaseDomain))
	if r.BaseDomain == "" {
		return Invalidf("base_domain is required")
	}
	return nil
}

// RelayRegisterResponse acknowledges a relay registration.
type RelayRegisterResponse struct {
	RelayID string `json:"relay_id"`
	Status  string `json:"status"`
}

// RelayHeartbeatRequest reports relay liveness.
type RelayHeartbeatRequest struct {
	ActiveSessions int `json:"active_sessions"`
}

func (r RelayHeartbeatRequest) Validate() error {
	if r.ActiveSessions < 0 {
		return Invalidf("active_sessions must be >= 0")
	}
	return nil
}

// StatusResponse is a generic {"status": ...} acknowledgement.
type StatusResponse struct {
	Status string `json:"status"`
}

// CreateSessionRequest opens a session ledger entry.
type CreateSessionRequest struct {
	UserID        string `json:"user_id"`
	Subdomain     string `json:"subdomain"`
	LocalPort     int    `json:"local_port"`
	ClientIP      string `json:"client_ip,omitempty"`
	ClientVersion string `json:"client_version,omitempty"`
}

func (r *CreateSessionRequest) Validate() error {
	r.UserID = strings.TrimSpace(r.UserID)
	if r.UserID == "" {
		return Invalidf("user_id is required")
	}
	r.Subdomain = strings.ToLower(strings.TrimSpace(r.Subdomain))
	if r.Subdomain == "" {
		return Invalidf("subdomain is required")
	}
	if !validPort(r.LocalPort) {
		return Invalidf("local_port must be between 1 and 65535")
	}
	return nil
}

// CreateSessionResponse returns the id of the new session.
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

// SessionBytesRequest carries cumulative byte counters for stats and close.
type SessionBytesRequest struct {
	BytesIn  int64 `json:"bytes_in"`
	BytesOut int64 `json:"bytes_out"`
}

func (r SessionBytesRequest) Validate() error {
	if r.BytesIn < 0 || r.BytesOut < 0 {
		return Invalidf("bytes_in and bytes_out must be >= 0")
	}
	return nil
}

// MaxRequestTimestamp is the last second of year 9999 UTC. Relays report
// capture times in Unix seconds; larger values are almost always
// milliseconds sent by mistake.
const MaxRequestTimestamp int64 = 253402300799

// RequestLogEntry is one raw captured request as sent by the relay. Header
// and body blobs are base64 encoded.
type RequestLogEntry struct {
	Method               string `json:"method"`
	Path                 string `json:"path"`
	QueryString          string `json:"query_string,omitempty"`
	RequestHeaders       string `json:"request_headers"`
	RequestBody          string `json:"request_body,omitempty"`
	ResponseStatus       int    `json:"response_status"`
	ResponseHeaders      string `json:"response_headers,omitempty"`
	ResponseBody         string `json:"response_body,omitempty"`
	DurationMS           int64  `json:"duration_ms"`
	Timestamp            int64  `json:"timestamp"`
	OriginalRequestSize  *int64 `json:"original_request_size,omitempty"`
	OriginalResponseSize *int64 `json:"original_response_size,omitempty"`
}

func (e RequestLogEntry) Validate() error {
	if strings.TrimSpace(e.Method) == "" {
		return Invalidf("method is required")
	}
	if e.ResponseStatus < 100 || e.ResponseStatus > 599 {
		return Invalidf("response_status must be between 100 and 599")
	}
	if e.DurationMS < 0 {
		return Invalidf("duration_ms must be >= 0")
	}
	if e.Timestamp < 0 || e.Timestamp > MaxRequestTimestamp {
		return Invalidf("timestamp must be unix seconds between 0 and %d", MaxRequestTimestamp)
	}
	if e.OriginalRequestSize != nil && *e.OriginalRequestSize < 0 {
		return Invalidf("original_request_size must be >= 0")
	}
	if e.OriginalResponseSize != nil && *e.OriginalResponseSize < 0 {
		return Invalidf("original_response_size must be >= 0")
	}
	return nil
}

// RequestBatch is the append-requests body.
type RequestBatch struct {
	Requests []RequestLogEntry `json:"requests"`
}

// Validate checks every entry and bounds the batch to maxEntries.
func (b RequestBatch) Validate(maxEntries int) error {
	if b.Requests == nil {
		return Invalidf("requests is required")
	}
	if maxEntries > 0 && len(b.Requests) > maxEntries {
		return Invalidf("requests must contain at most %d entries", maxEntries)
	}
	for i, e := range b.Requests {
		if err := e.Validate(); err != nil {
			return Invalidf("requests[%d]: %v", i, stripInvalidPrefix(err))
		}
	}
	return nil
}

// StoreRequestsResponse reports how many records were persisted.
type StoreRequestsResponse struct {
	Stored int `json:"stored"`
}

// ErrorResponse is the JSON body returned by the server for structured errors.
type ErrorResponse struct {
	Error     string `json:"error"`
	ErrorCode string `json:"error_code,omitempty"`
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}

func stripInvalidPrefix(err error) string {
	return strings.TrimPrefix(err.Error(), ErrInvalidRequest.Error()+": ")
}
