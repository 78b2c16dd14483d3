package cli

import (
	"fmt"
	"io"

	"github.com/koltyakov/tunnelplane/internal/versionutil"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `tunnelplane - tunnel control plane

Issues relay tickets to CLI clients, allocates subdomains, and keeps the
session and usage ledger reported by relays.

Usage:
  tunnelplane server [flags]                       Start the control plane API
  tunnelplane admin user create --email EMAIL      Create a user (--plan, --name)
  tunnelplane admin user list                      List users
  tunnelplane admin user plan --id ID --plan PLAN  Move a user to another plan
  tunnelplane admin user disable --id ID           Disable a user (--enable to undo)
  tunnelplane admin token create --user ID         Create a CLI token
  tunnelplane admin token list [--user ID]         List CLI tokens
  tunnelplane admin token revoke --id ID           Revoke a CLI token
  tunnelplane admin domain reserve --user ID --name NAME
  tunnelplane admin domain release --user ID --name NAME
  tunnelplane admin plan list                      List plans
  tunnelplane ticket inspect <ticket>              Decode and verify a ticket
  tunnelplane version                              Print version
  tunnelplane help                                 Show this help

Quick Start:
  1. tunnelplane server --domain example.com --relay-url wss://relay.example.com \
       --ticket-secret $SECRET --relay-secret $RELAY_SECRET
  2. tunnelplane admin user create --email dev@example.com --domain example.com
  3. tunnelplane admin token create --user <id>

Environment Variables:
  TUNNELPLANE_DOMAIN              Base domain for allocated subdomains
  TUNNELPLANE_RELAY_URL           Relay URL returned with tickets
  TUNNELPLANE_TICKET_SECRET       Secret shared with relays for ticket HMAC
  TUNNELPLANE_RELAY_SECRET        Secret relays send in X-Relay-Secret
  TUNNELPLANE_DB_PATH             SQLite database path (default: ./tunnelplane.db)
  TUNNELPLANE_TLS_MODE            TLS mode: off|auto (default: off)
  TUNNELPLANE_REDIS_ADDR          Redis for shared rate limits and janitor lock
  TUNNELPLANE_LOG_LEVEL           Log level: debug|info|warn|error (default: info)

Values are also read from TUNNELPLANE_* keys in ./.env.`)
}

func printVersion(w io.Writer) {
	fmt.Fprintln(w, "tunnelplane", versionutil.Normalize(Version))
}
