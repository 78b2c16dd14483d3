// Package config parses tunnelplane settings from flags with TUNNELPLANE_*
// environment variables as defaults.
package config

import (
	"errors"
	"flag"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/koltyakov/tunnelplane/internal/netutil"
)

// EnvPrefix is the prefix of every environment variable read by tunnelplane.
const EnvPrefix = "TUNNELPLANE_"

type ServerConfig struct {
	Listen       string
	ListenHTTP   string
	TLSMode      string
	TLSHost      string
	CertCacheDir string
	PprofListen  string

	DBPath         string
	DBMaxOpenConns int
	DBMaxIdleConns int

	BaseDomain   string
	RelayURL     string
	TicketSecret string
	RelaySecret  string
	TokenPepper  string

	LogLevel            string
	MaxBodyBytes        int64
	MaxRequestBatch     int
	StaleSessionTimeout time.Duration
	CleanupInterval     time.Duration
	TicketRateLimit     int
	TicketRateWindow    time.Duration
	RedisAddr           string
}

// AdminConfig carries what offline admin commands need to reach the store.
type AdminConfig struct {
	DBPath       string
	BaseDomain   string
	TokenPepper  string
	TicketSecret string
}

const (
	TLSModeOff  = "off"
	TLSModeAuto = "auto"
)

const minTicketSecretLen = 16

const defaultListen = ":8080"
const defaultHTTPChallengeListen = ":80"
const defaultDBPath = "./tunnelplane.db"
const defaultCertCacheDir = "./cert"
const defaultDBMaxOpenConns = 10
const defaultDBMaxIdleConns = 10
const defaultMaxBodyBytes = 32 * 1024 * 1024
const defaultMaxRequestBatch = 100
const defaultStaleSessionTimeout = 3 * time.Minute
const defaultCleanupInterval = time.Minute
const defaultTicketRateLimit = 30
const defaultTicketRateWindow = time.Minute

// AdminDefaults reads admin settings from the environment.
func AdminDefaults() AdminConfig {
	return AdminConfig{
		DBPath:       envOrDefault(EnvPrefix+"DB_PATH", defaultDBPath),
		BaseDomain:   normalizeDomainHost(envOrDefault(EnvPrefix+"DOMAIN", "")),
		TokenPepper:  envOrDefault(EnvPrefix+"TOKEN_PEPPER", ""),
		TicketSecret: envOrDefault(EnvPrefix+"TICKET_SECRET", ""),
	}
}

func ParseServerFlags(args []string) (ServerConfig, error) {
	cfg := ServerConfig{
		Listen:              envOrDefault(EnvPrefix+"LISTEN", defaultListen),
		ListenHTTP:          envOrDefault(EnvPrefix+"LISTEN_HTTP_CHALLENGE", defaultHTTPChallengeListen),
		TLSMode:             envOrDefault(EnvPrefix+"TLS_MODE", TLSModeOff),
		TLSHost:             envOrDefault(EnvPrefix+"TLS_HOST", ""),
		CertCacheDir:        envOrDefault(EnvPrefix+"CERT_CACHE_DIR", defaultCertCacheDir),
		PprofListen:         envOrDefault(EnvPrefix+"PPROF_LISTEN", ""),
		DBPath:              envOrDefault(EnvPrefix+"DB_PATH", defaultDBPath),
		DBMaxOpenConns:      envIntOrDefault(EnvPrefix+"DB_MAX_OPEN_CONNS", defaultDBMaxOpenConns),
		DBMaxIdleConns:      envIntOrDefault(EnvPrefix+"DB_MAX_IDLE_CONNS", defaultDBMaxIdleConns),
		BaseDomain:          envOrDefault(EnvPrefix+"DOMAIN", ""),
		RelayURL:            envOrDefault(EnvPrefix+"RELAY_URL", ""),
		TicketSecret:        envOrDefault(EnvPrefix+"TICKET_SECRET", ""),
		RelaySecret:         envOrDefault(EnvPrefix+"RELAY_SECRET", ""),
		TokenPepper:         envOrDefault(EnvPrefix+"TOKEN_PEPPER", ""),
		LogLevel:            envOrDefault(EnvPrefix+"LOG_LEVEL", "info"),
		MaxBodyBytes:        int64(envIntOrDefault(EnvPrefix+"MAX_BODY_BYTES", defaultMaxBodyBytes)),
		MaxRequestBatch:     envIntOrDefault(EnvPrefix+"MAX_REQUEST_BATCH", defaultMaxRequestBatch),
		StaleSessionTimeout: envDurationOrDefault(EnvPrefix+"STALE_SESSION_TIMEOUT", defaultStaleSessionTimeout),
		CleanupInterval:     envDurationOrDefault(EnvPrefix+"CLEANUP_INTERVAL", defaultCleanupInterval),
		TicketRateLimit:     envIntOrDefault(EnvPrefix+"TICKET_RATE_LIMIT", defaultTicketRateLimit),
		TicketRateWindow:    envDurationOrDefault(EnvPrefix+"TICKET_RATE_WINDOW", defaultTicketRateWindow),
		RedisAddr:           envOrDefault(EnvPrefix+"REDIS_ADDR", ""),
	}

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.StringVar(&cfg.Listen, "listen", cfg.Listen, "API listen address")
	fs.StringVar(&cfg.ListenHTTP, "http-challenge-listen", cfg.ListenHTTP, "HTTP-01 challenge listen address (tls-mode=auto)")
	fs.StringVar(&cfg.TLSMode, "tls-mode", cfg.TLSMode, "TLS mode: off|auto")
	fs.StringVar(&cfg.TLSHost, "tls-host", cfg.TLSHost, "Host name for the ACME certificate (default: base domain)")
	fs.StringVar(&cfg.CertCacheDir, "cert-cache-dir", cfg.CertCacheDir, "TLS cert cache dir")
	fs.StringVar(&cfg.PprofListen, "pprof-listen", cfg.PprofListen, "Optional pprof listen address, e.g. 127.0.0.1:6060")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	fs.IntVar(&cfg.DBMaxOpenConns, "db-max-open-conns", cfg.DBMaxOpenConns, "SQLite max open connections")
	fs.IntVar(&cfg.DBMaxIdleConns, "db-max-idle-conns", cfg.DBMaxIdleConns, "SQLite max idle connections")
	fs.StringVar(&cfg.BaseDomain, "domain", cfg.BaseDomain, "Public base domain for tunnels, e.g. example.com")
	fs.StringVar(&cfg.RelayURL, "relay-url", cfg.RelayURL, "Relay WebSocket URL returned with tickets")
	fs.StringVar(&cfg.TicketSecret, "ticket-secret", cfg.TicketSecret, "HMAC secret shared with relays for ticket signing")
	fs.StringVar(&cfg.RelaySecret, "relay-secret", cfg.RelaySecret, "Shared secret relays present on /v1/relay endpoints")
	fs.StringVar(&cfg.TokenPepper, "token-pepper", cfg.TokenPepper, "CLI token hash pepper override")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error")
	fs.Int64Var(&cfg.MaxBodyBytes, "max-body-bytes", cfg.MaxBodyBytes, "Maximum relay request body size")
	fs.IntVar(&cfg.MaxRequestBatch, "max-request-batch", cfg.MaxRequestBatch, "Maximum captured requests per relay batch")
	fs.DurationVar(&cfg.StaleSessionTimeout, "stale-session-timeout", cfg.StaleSessionTimeout, "Close active sessions not seen for this long")
	fs.DurationVar(&cfg.CleanupInterval, "cleanup-interval", cfg.CleanupInterval, "Janitor interval")
	fs.IntVar(&cfg.TicketRateLimit, "ticket-rate-limit", cfg.TicketRateLimit, "Tickets per user per rate window")
	fs.DurationVar(&cfg.TicketRateWindow, "ticket-rate-window", cfg.TicketRateWindow, "Ticket rate window")
	fs.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "Optional Redis address for shared rate limits and janitor locking")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if err := cfg.normalize(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (cfg *ServerConfig) normalize() error {
	cfg.BaseDomain = normalizeDomainHost(cfg.BaseDomain)
	if cfg.BaseDomain == "" {
		return errors.New("missing --domain or TUNNELPLANE_DOMAIN")
	}
	cfg.RelayURL = strings.TrimSpace(cfg.RelayURL)
	if cfg.RelayURL == "" {
		return errors.New("missing --relay-url or TUNNELPLANE_RELAY_URL")
	}
	if u, err := url.Parse(cfg.RelayURL); err != nil || u.Host == "" || !validRelayScheme(u.Scheme) {
		return errors.New("relay url must be an absolute ws://, wss://, http:// or https:// URL")
	}
	if len(cfg.TicketSecret) < minTicketSecretLen {
		return errors.New("ticket secret must be at least 16 bytes (--ticket-secret or TUNNELPLANE_TICKET_SECRET)")
	}
	if strings.TrimSpace(cfg.RelaySecret) == "" {
		return errors.New("missing --relay-secret or TUNNELPLANE_RELAY_SECRET")
	}

	cfg.TLSMode = strings.ToLower(strings.TrimSpace(cfg.TLSMode))
	if cfg.TLSMode == "" {
		cfg.TLSMode = TLSModeOff
	}
	switch cfg.TLSMode {
	case TLSModeOff:
	case TLSModeAuto:
		cfg.TLSHost = normalizeDomainHost(cfg.TLSHost)
		if cfg.TLSHost == "" {
			cfg.TLSHost = cfg.BaseDomain
		}
	default:
		return errors.New("tls mode must be one of: off, auto")
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("log level must be one of: debug, info, warn, error")
	}

	if cfg.DBMaxOpenConns <= 0 {
		return errors.New("db max open conns must be > 0")
	}
	if cfg.DBMaxIdleConns <= 0 {
		return errors.New("db max idle conns must be > 0")
	}
	if cfg.DBMaxIdleConns > cfg.DBMaxOpenConns {
		return errors.New("db max idle conns must be <= db max open conns")
	}
	if cfg.MaxBodyBytes <= 0 {
		return errors.New("max body bytes must be > 0")
	}
	if cfg.MaxRequestBatch <= 0 {
		return errors.New("max request batch must be > 0")
	}
	if cfg.StaleSessionTimeout <= 0 {
		return errors.New("stale session timeout must be > 0")
	}
	if cfg.CleanupInterval <= 0 {
		return errors.New("cleanup interval must be > 0")
	}
	if cfg.TicketRateLimit <= 0 {
		return errors.New("ticket rate limit must be > 0")
	}
	if cfg.TicketRateWindow <= 0 {
		return errors.New("ticket rate window must be > 0")
	}
	cfg.RedisAddr = strings.TrimSpace(cfg.RedisAddr)
	return nil
}

func validRelayScheme(scheme string) bool {
	switch strings.ToLower(scheme) {
	case "ws", "wss", "http", "https":
		return true
	}
	return false
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDurationOrDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func normalizeDomainHost(v string) string {
	return netutil.NormalizeHost(v)
}
