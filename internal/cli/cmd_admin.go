package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/koltyakov/tunnelplane/internal/auth"
	"github.com/koltyakov/tunnelplane/internal/config"
	"github.com/koltyakov/tunnelplane/internal/store/sqlite"
)

const adminUsage = `usage: tunnelplane admin <command> [flags]

  user create --email EMAIL [--name NAME] [--plan PLAN]
  user list
  user plan --id USER_ID --plan PLAN
  user disable --id USER_ID [--enable]
  token create --user USER_ID [--name NAME]
  token list [--user USER_ID]
  token revoke --id TOKEN_ID
  domain reserve --user USER_ID --name SUBDOMAIN [--base DOMAIN]
  domain release --user USER_ID --name SUBDOMAIN [--base DOMAIN]
  plan list`

type adminCommand func(ctx context.Context, cfg *config.AdminConfig, fs *flag.FlagSet, args []string, out io.Writer) int

func runAdmin(ctx context.Context, args []string, out io.Writer) int {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, adminUsage)
		return 2
	}
	group, action := args[0], args[1]
	commands := map[string]map[string]adminCommand{
		"user": {
			"create":  runUserCreate,
			"list":    runUserList,
			"plan":    runUserPlan,
			"disable": runUserDisable,
		},
		"token": {
			"create": runTokenCreate,
			"list":   runTokenList,
			"revoke": runTokenRevoke,
		},
		"domain": {
			"reserve": runDomainReserve,
			"release": runDomainRelease,
		},
		"plan": {
			"list": runPlanList,
		},
	}
	cmd, ok := commands[group][action]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown admin command: %s %s\n%s\n", group, action, adminUsage)
		return 2
	}

	cfg := config.AdminDefaults()
	fs := flag.NewFlagSet("admin-"+group+"-"+action, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "sqlite db path")
	fs.StringVar(&cfg.BaseDomain, "domain", cfg.BaseDomain, "base domain used when seeding plans")
	fs.StringVar(&cfg.TokenPepper, "token-pepper", cfg.TokenPepper, "token hash pepper override")
	return cmd(ctx, &cfg, fs, args[2:], out)
}

// withStore parses args, opens the store, and seeds plans when a base domain
// is known, then runs fn.
func withStore(ctx context.Context, cfg *config.AdminConfig, fs *flag.FlagSet, args []string, fn func(store *sqlite.Store) int) int {
	if err := fs.Parse(args); err != nil {
		return 2
	}
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db error:", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	if base := strings.TrimSpace(cfg.BaseDomain); base != "" {
		if err := store.SeedPlans(ctx, base); err != nil {
			fmt.Fprintln(os.Stderr, "db error:", err)
			return 1
		}
	}
	return fn(store)
}

func requireFlag(name, value string) bool {
	if strings.TrimSpace(value) == "" {
		fmt.Fprintf(os.Stderr, "missing --%s\n", name)
		return false
	}
	return true
}

func adminFail(what string, err error) int {
	fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
	return 1
}

func runUserCreate(ctx context.Context, cfg *config.AdminConfig, fs *flag.FlagSet, args []string, out io.Writer) int {
	var email, name, plan string
	fs.StringVar(&email, "email", "", "user email")
	fs.StringVar(&name, "name", "", "display name (defaults to email)")
	fs.StringVar(&plan, "plan", "", "plan id (defaults to sandbox)")
	return withStore(ctx, cfg, fs, args, func(store *sqlite.Store) int {
		if !requireFlag("email", email) {
			return 2
		}
		u, err := store.CreateUser(ctx, email, name, plan)
		if err != nil {
			return adminFail("create user", err)
		}
		fmt.Fprintln(out, "id:", u.ID)
		fmt.Fprintln(out, "email:", u.Email)
		fmt.Fprintln(out, "plan:", u.PlanID)
		return 0
	})
}

func runUserList(ctx context.Context, cfg *config.AdminConfig, fs *flag.FlagSet, args []string, out io.Writer) int {
	return withStore(ctx, cfg, fs, args, func(store *sqlite.Store) int {
		users, err := store.ListUsers(ctx)
		if err != nil {
			return adminFail("list users", err)
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tEMAIL\tPLAN\tACTIVE\tCREATED")
		for _, u := range users {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", u.ID, u.Email, u.PlanID, u.IsActive, u.CreatedAt.Format(time.RFC3339))
		}
		_ = tw.Flush()
		return 0
	})
}

func runUserPlan(ctx context.Context, cfg *config.AdminConfig, fs *flag.FlagSet, args []string, out io.Writer) int {
	var id, plan string
	fs.StringVar(&id, "id", "", "user id")
	fs.StringVar(&plan, "plan", "", "plan id")
	return withStore(ctx, cfg, fs, args, func(store *sqlite.Store) int {
		if !requireFlag("id", id) || !requireFlag("plan", plan) {
			return 2
		}
		if err := store.SetUserPlan(ctx, id, plan); err != nil {
			return adminFail("set plan", err)
		}
		fmt.Fprintf(out, "user %s moved to plan %s\n", id, plan)
		return 0
	})
}

func runUserDisable(ctx context.Context, cfg *config.AdminConfig, fs *flag.FlagSet, args []string, out io.Writer) int {
	var id string
	var enable bool
	fs.StringVar(&id, "id", "", "user id")
	fs.BoolVar(&enable, "enable", false, "re-enable instead of disabling")
	return withStore(ctx, cfg, fs, args, func(store *sqlite.Store) int {
		if !requireFlag("id", id) {
			return 2
		}
		if err := store.SetUserActive(ctx, id, enable); err != nil {
			return adminFail("update user", err)
		}
		fmt.Fprintf(out, "user %s active=%s\n", id, strconv.FormatBool(enable))
		return 0
	})
}

func runTokenCreate(ctx context.Context, cfg *config.AdminConfig, fs *flag.FlagSet, args []string, out io.Writer) int {
	var userID, name string
	fs.StringVar(&userID, "user", "", "owning user id")
	fs.StringVar(&name, "name", "cli", "token label")
	return withStore(ctx, cfg, fs, args, func(store *sqlite.Store) int {
		if !requireFlag("user", userID) {
			return 2
		}
		if _, err := store.GetUser(ctx, userID); err != nil {
			return adminFail("create token", err)
		}
		pepper, err := resolveServerPepper(ctx, store, cfg.TokenPepper)
		if err != nil {
			return adminFail("create token", err)
		}
		plain, err := auth.GenerateToken()
		if err != nil {
			return adminFail("generate token", err)
		}
		rec, err := store.CreateCLIToken(ctx, userID, name, auth.HashToken(plain, pepper))
		if err != nil {
			return adminFail("create token", err)
		}
		fmt.Fprintln(out, "id:", rec.ID)
		fmt.Fprintln(out, "name:", rec.Name)
		fmt.Fprintln(out, "token:", plain)
		return 0
	})
}

func runTokenList(ctx context.Context, cfg *config.AdminConfig, fs *flag.FlagSet, args []string, out io.Writer) int {
	var userID string
	fs.StringVar(&userID, "user", "", "filter by user id")
	return withStore(ctx, cfg, fs, args, func(store *sqlite.Store) int {
		tokens, err := store.ListCLITokens(ctx, userID)
		if err != nil {
			return adminFail("list tokens", err)
		}
		for _, t := range tokens {
			fmt.Fprintf(out, "%s\t%s\t%s\trevoked=%t\tcreated=%s\n", t.ID, t.UserID, t.Name, t.RevokedAt != nil, t.CreatedAt.Format("2006-01-02T15:04:05Z"))
		}
		return 0
	})
}

func runTokenRevoke(ctx context.Context, cfg *config.AdminConfig, fs *flag.FlagSet, args []string, out io.Writer) int {
	var id string
	fs.StringVar(&id, "id", "", "token id")
	return withStore(ctx, cfg, fs, args, func(store *sqlite.Store) int {
		if !requireFlag("id", id) {
			return 2
		}
		if err := store.RevokeCLIToken(ctx, id); err != nil {
			return adminFail("revoke token", err)
		}
		fmt.Fprintln(out, "revoked:", id)
		return 0
	})
}

func runDomainReserve(ctx context.Context, cfg *config.AdminConfig, fs *flag.FlagSet, args []string, out io.Writer) int {
	var userID, name, base string
	fs.StringVar(&userID, "user", "", "owning user id")
	fs.StringVar(&name, "name", "", "subdomain to reserve")
	fs.StringVar(&base, "base", "", "base domain (defaults to the user's plan domain)")
	return withStore(ctx, cfg, fs, args, func(store *sqlite.Store) int {
		if !requireFlag("user", userID) || !requireFlag("name", name) {
			return 2
		}
		d, err := store.ReserveDomain(ctx, userID, name, base)
		if err != nil {
			return adminFail("reserve domain", err)
		}
		fmt.Fprintln(out, "reserved:", d.FQDN())
		return 0
	})
}

func runDomainRelease(ctx context.Context, cfg *config.AdminConfig, fs *flag.FlagSet, args []string, out io.Writer) int {
	var userID, name, base string
	fs.StringVar(&userID, "user", "", "owning user id")
	fs.StringVar(&name, "name", "", "subdomain to release")
	fs.StringVar(&base, "base", "", "base domain (defaults to the user's plan domain)")
	return withStore(ctx, cfg, fs, args, func(store *sqlite.Store) int {
		if !requireFlag("user", userID) || !requireFlag("name", name) {
			return 2
		}
		if err := store.ReleaseDomain(ctx, userID, name, base); err != nil {
			return adminFail("release domain", err)
		}
		fmt.Fprintln(out, "released:", name)
		return 0
	})
}

func runPlanList(ctx context.Context, cfg *config.AdminConfig, fs *flag.FlagSet, args []string, out io.Writer) int {
	return withStore(ctx, cfg, fs, args, func(store *sqlite.Store) int {
		plans, err := store.ListPlans(ctx)
		if err != nil {
			return adminFail("list plans", err)
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tDOMAIN\tTUNNELS\tBANDWIDTH_MB\tSESSION_MIN\tRESERVE")
		for _, p := range plans {
			limit := "-"
			if p.SessionLimitMinutes != nil {
				limit = strconv.Itoa(*p.SessionLimitMinutes)
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%t\n", p.ID, p.BaseDomain, p.MaxTunnels, p.MaxBandwidthMB, limit, p.AllowReservedSubdomain)
		}
		_ = tw.Flush()
		return 0
	})
}
