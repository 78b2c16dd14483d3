package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/sync/errgroup"

	"github.com/koltyakov/tunnelplane/internal/config"
	"github.com/koltyakov/tunnelplane/internal/coord"
	"github.com/koltyakov/tunnelplane/internal/debughttp"
	"github.com/koltyakov/tunnelplane/internal/metrics"
	"github.com/koltyakov/tunnelplane/internal/netutil"
	"github.com/koltyakov/tunnelplane/internal/store/sqlite"
	"github.com/koltyakov/tunnelplane/internal/ticket"
	"github.com/koltyakov/tunnelplane/internal/traffic"
)

const (
	shutdownTimeout     = 5 * time.Second
	defaultTailInterval = time.Second
	staleSweepLock      = "stale-sessions"
	staleSweepBatch     = 500
)

// Server is the control plane HTTP API: ticket issuance for CLI clients,
// the relay-facing session ledger, and dashboard queries.
type Server struct {
	cfg      config.ServerConfig
	store    *sqlite.Store
	log      *slog.Logger
	metrics  *metrics.Metrics
	limiter  coord.Limiter
	locker   coord.Locker
	issuer   *ticket.Issuer
	recorder *traffic.Recorder

	now          func() time.Time
	tailInterval time.Duration
}

// Option customizes a Server built by New.
type Option func(*Server)

// WithLimiter replaces the in-process ticket rate limiter.
func WithLimiter(l coord.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithLocker sets the lock guarding the stale-session sweep across replicas.
func WithLocker(l coord.Locker) Option {
	return func(s *Server) { s.locker = l }
}

// WithMetrics shares a metrics registry with the caller.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New builds a Server. cfg.TokenPepper must already be resolved against the
// store.
func New(cfg config.ServerConfig, store *sqlite.Store, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:          cfg,
		store:        store,
		log:          logger,
		issuer:       ticket.NewIssuer(cfg.TicketSecret, cfg.RelayURL),
		recorder:     traffic.NewRecorder(store, logger),
		now:          time.Now,
		tailInterval: defaultTailInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.limiter == nil {
		s.limiter = coord.NewWindowLimiter(cfg.TicketRateLimit, cfg.TicketRateWindow)
	}
	if s.locker == nil {
		s.locker = coord.NoopLocker{}
	}
	return s
}

// Handler returns the routed API wrapped with request metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/tunnels/ticket", s.withUser(s.handleTicket))
	mux.HandleFunc("GET /v1/tunnels/sessions", s.withUser(s.handleListSessions))
	mux.HandleFunc("GET /v1/tunnels/sessions/{id}", s.withUser(s.handleGetSession))
	mux.HandleFunc("GET /v1/tunnels/sessions/{id}/logs", s.withUser(s.handleListLogs))
	mux.HandleFunc("GET /v1/tunnels/sessions/{id}/logs/stream", s.withUser(s.handleStreamLogs))
	mux.HandleFunc("GET /v1/tunnels/stats", s.withUser(s.handleStats))

	mux.HandleFunc("POST /v1/relay/register", s.withRelay(s.handleRelayRegister))
	mux.HandleFunc("POST /v1/relay/heartbeat", s.withRelay(s.handleRelayHeartbeat))
	mux.HandleFunc("POST /v1/relay/sessions", s.withRelay(s.handleCreateSession))
	mux.HandleFunc("PATCH /v1/relay/sessions/{id}/stats", s.withRelay(s.handleSessionStats))
	mux.HandleFunc("PATCH /v1/relay/sessions/{id}/close", s.withRelay(s.handleCloseSession))
	mux.HandleFunc("POST /v1/relay/sessions/{id}/requests", s.withRelay(s.handleStoreRequests))

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", s.metrics.Handler())

	return s.metrics.Middleware(mux)
}

// Run serves the API until ctx is cancelled. With TLS mode auto it also
// runs the ACME HTTP-01 challenge listener.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.runJanitor(ctx)
		return nil
	})
	if s.cfg.PprofListen != "" {
		g.Go(func() error {
			return debughttp.Serve(ctx, s.cfg.PprofListen, s.log)
		})
	}

	apiServer := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	var challengeServer *http.Server
	if s.cfg.TLSMode == config.TLSModeAuto {
		manager := s.certManager()
		tlsConfig := manager.TLSConfig()
		tlsConfig.MinVersion = tls.VersionTLS12
		apiServer.TLSConfig = tlsConfig
		apiServer.ErrorLog = log.New(newTLSErrorLogWriter(s.log), "", 0)

		challengeServer = &http.Server{
			Addr:              s.cfg.ListenHTTP,
			Handler:           manager.HTTPHandler(http.NotFoundHandler()),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			s.log.Info("starting ACME challenge server", "addr", s.cfg.ListenHTTP)
			if err := challengeServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("challenge server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		s.log.Info("starting control plane", "addr", s.cfg.Listen, "tls", s.cfg.TLSMode, "domain", s.cfg.BaseDomain)
		var err error
		if apiServer.TLSConfig != nil {
			err = apiServer.ListenAndServeTLS("", "")
		} else {
			err = apiServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		err := shutdownServer(apiServer, shutdownTimeout)
		if challengeServer != nil {
			err = errors.Join(err, shutdownServer(challengeServer, shutdownTimeout))
		}
		return err
	})

	return g.Wait()
}

func (s *Server) certManager() *autocert.Manager {
	allowed := netutil.NormalizeHost(s.cfg.TLSHost)
	return &autocert.Manager{
		Cache:  autocert.DirCache(s.cfg.CertCacheDir),
		Prompt: autocert.AcceptTOS,
		HostPolicy: func(_ context.Context, host string) error {
			if netutil.NormalizeHost(host) == allowed {
				return nil
			}
			return errors.New("host not allowed")
		},
	}
}

func shutdownServer(server *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
