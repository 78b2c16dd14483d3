package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/koltyakov/tunnelplane/internal/auth"
	"github.com/koltyakov/tunnelplane/internal/config"
	"github.com/koltyakov/tunnelplane/internal/coord"
	ilog "github.com/koltyakov/tunnelplane/internal/log"
	"github.com/koltyakov/tunnelplane/internal/server"
	"github.com/koltyakov/tunnelplane/internal/store/sqlite"
)

const ticketLimiterName = "ticket"

func runServer(ctx context.Context, args []string) int {
	cfg, err := config.ParseServerFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "server config error:", err)
		return 2
	}
	logger := ilog.New(cfg.LogLevel)

	store, err := sqlite.OpenWithOptions(cfg.DBPath, sqlite.OpenOptions{
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "db error:", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	if err := store.SeedPlans(ctx, cfg.BaseDomain); err != nil {
		fmt.Fprintln(os.Stderr, "db error:", err)
		return 1
	}
	pepper, err := resolveServerPepper(ctx, store, cfg.TokenPepper)
	if err != nil {
		fmt.Fprintln(os.Stderr, "server config error:", err)
		return 2
	}
	cfg.TokenPepper = pepper

	var opts []server.Option
	if cfg.RedisAddr != "" {
		client, err := coord.NewRedisClient(ctx, cfg.RedisAddr)
		if err != nil {
			fmt.Fprintln(os.Stderr, "redis error:", err)
			return 1
		}
		defer func() { _ = client.Close() }()
		opts = append(opts,
			server.WithLimiter(coord.NewRedisLimiter(client, ticketLimiterName, cfg.TicketRateLimit, cfg.TicketRateWindow)),
			server.WithLocker(coord.NewRedisLocker(client, uuid.NewString())),
		)
		logger.Info("using redis for rate limits and janitor lock", "addr", cfg.RedisAddr)
	}

	s := server.New(cfg, store, logger, opts...)
	if err := s.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "server error:", err)
		return 1
	}
	return 0
}

// resolveServerPepper returns the token pepper stored with the database,
// storing configured (or a fresh random one) on first use.
func resolveServerPepper(ctx context.Context, store *sqlite.Store, configured string) (string, error) {
	configured = strings.TrimSpace(configured)
	if configured != "" {
		return store.ResolveServerPepper(ctx, configured)
	}

	current, exists, err := store.GetServerPepper(ctx)
	if err != nil {
		return "", err
	}
	if exists {
		return current, nil
	}
	generated, err := auth.GeneratePepper()
	if err != nil {
		return "", err
	}
	return store.ResolveServerPepper(ctx, generated)
}
