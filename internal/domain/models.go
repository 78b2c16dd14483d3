// Package domain defines the core data types shared across the tunnelplane
// server, store, ticket, and traffic layers.
package domain

import (
	"strings"
	"time"
)

// Session status constants. A session only ever moves from active to closed.
const (
	SessionStatusActive = "active"
	SessionStatusClosed = "closed"
)

// Relay status constants.
const (
	RelayStatusOnline  = "online"
	RelayStatusOffline = "offline"
)

// Default plan keys seeded at startup.
const (
	PlanSandbox = "sandbox"
	PlanStarter = "starter"
	PlanPro     = "pro"
)

// User is an account that can request tickets and own domains.
type User struct {
	ID        string
	Email     string
	Name      string
	PlanID    string
	IsActive  bool
	CreatedAt time.Time
}

// CLIToken is a hashed bearer credential issued to a user.
type CLIToken struct {
	ID        string
	UserID    string
	Name      string
	TokenHash string
	CreatedAt time.Time
	RevokedAt *time.Time
}

// Plan is a string-keyed tier with the limits carried in tickets.
type Plan struct {
	ID                     string `json:"id"`
	Name                   string `json:"name"`
	BaseDomain             string `json:"baseDomain"`
	MaxTunnels             int    `json:"maxTunnels"`
	MaxBandwidthMB         int    `json:"maxBandwidthMb"`
	SessionLimitMinutes    *int   `json:"sessionLimitMinutes"`
	AllowReservedSubdomain bool   `json:"allowReservedSubdomain"`
	SortOrder              int    `json:"sortOrder"`
	IsActive               bool   `json:"isActive"`
}

// Domain is a (hostname, base domain) pair owned by exactly one user.
type Domain struct {
	ID         string
	Hostname   string
	BaseDomain string
	UserID     string
	IsReserved bool
	CreatedAt  time.Time
}

// FQDN returns the public host name, e.g. "my-app.example.com".
func (d Domain) FQDN() string {
	if d.BaseDomain == "" {
		return d.Hostname
	}
	return d.Hostname + "." + strings.TrimPrefix(d.BaseDomain, ".")
}

// TunnelSession is one live or historical CLI to relay connection.
type TunnelSession struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId"`
	DomainID       string     `json:"domainId"`
	Hostname       string     `json:"subdomain"`
	BaseDomain     string     `json:"baseDomain"`
	PublicURL      string     `json:"publicUrl"`
	LocalPort      int        `json:"localPort"`
	RelayID        string     `json:"relayId"`
	ClientIP       string     `json:"clientIp,omitempty"`
	ClientVersion  string     `json:"clientVersion,omitempty"`
	Status         string     `json:"status"`
	ConnectedAt    time.Time  `json:"connectedAt"`
	LastSeenAt     time.Time  `json:"lastSeenAt"`
	DisconnectedAt *time.Time `json:"disconnectedAt"`
	BytesIn        int64      `json:"bytesIn"`
	BytesOut       int64      `json:"bytesOut"`
}

// SessionDetail is a session together with its captured request count.
type SessionDetail struct {
	TunnelSession
	RequestCount int64 `json:"requestCount"`
}

// HTTPRequestRecord is one captured request/response pair. Records are
// append-only.
type HTTPRequestRecord struct {
	ID                   string            `json:"id"`
	SessionID            string            `json:"sessionId"`
	Method               string            `json:"method"`
	Path                 string            `json:"path"`
	QueryString          string            `json:"queryString,omitempty"`
	RequestHeaders       map[string]string `json:"requestHeaders"`
	RequestBody          []byte            `json:"requestBody,omitempty"`
	ResponseStatus       int               `json:"responseStatus"`
	ResponseHeaders      map[string]string `json:"responseHeaders,omitempty"`
	ResponseBody         []byte            `json:"responseBody,omitempty"`
	DurationMS           int64             `json:"durationMs"`
	Timestamp            time.Time         `json:"timestamp"`
	BodyTruncated        bool              `json:"bodyTruncated"`
	OriginalRequestSize  *int64            `json:"originalRequestSize,omitempty"`
	OriginalResponseSize *int64            `json:"originalResponseSize,omitempty"`
}

// UsageQuota is the per-user, per-calendar-month usage rollup.
type UsageQuota struct {
	UserID          string
	Year            int
	Month           int
	BandwidthUsedMB float64
	RequestCount    int64
	TunnelMinutes   float64
}

// UsageStats is the dashboard summary for the current month.
type UsageStats struct {
	ActiveSessions int64   `json:"activeSessions"`
	TotalRequests  int64   `json:"totalRequests"`
	BandwidthMB    float64 `json:"bandwidthMb"`
	TunnelMinutes  float64 `json:"tunnelMinutes"`
}

// RelayServer is a registered relay process.
type RelayServer struct {
	ID              string
	RelayID         string
	WSPort          int
	HTTPPort        int
	BaseDomain      string
	IPAddress       string
	Version         string
	Status          string
	LastHeartbeatAt time.Time
	ActiveSessions  int
}
