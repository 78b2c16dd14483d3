package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/koltyakov/tunnelplane/internal/config"
	"github.com/koltyakov/tunnelplane/internal/ticket"
)

func runTicket(args []string, out io.Writer) int {
	if len(args) == 0 || args[0] != "inspect" {
		fmt.Fprintln(os.Stderr, "usage: tunnelplane ticket inspect [--secret SECRET] <ticket>")
		return 2
	}
	return runTicketInspect(args[1:], out, time.Now())
}

// runTicketInspect decodes a ticket and, when a secret is known, verifies it
// the way a relay would.
func runTicketInspect(args []string, out io.Writer, now time.Time) int {
	fs := flag.NewFlagSet("ticket-inspect", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	secret := config.AdminDefaults().TicketSecret
	fs.StringVar(&secret, "secret", secret, "ticket signing secret (verifies the signature)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "ticket inspect error: expected exactly one ticket argument")
		return 2
	}
	raw := strings.TrimSpace(fs.Arg(0))

	p, sig, err := ticket.Decode(raw)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ticket inspect error:", err)
		return 1
	}
	exp := time.Unix(p.Exp, 0).UTC()
	fmt.Fprintln(out, "user_id:", p.UserID)
	fmt.Fprintln(out, "plan:", p.Plan)
	fmt.Fprintln(out, "max_tunnels:", p.MaxTunnels)
	fmt.Fprintln(out, "subdomain:", p.Subdomain)
	fmt.Fprintln(out, "ticket_id:", p.TicketID)
	fmt.Fprintf(out, "expires: %s (%s)\n", exp.Format(time.RFC3339), describeExpiry(exp, now))
	if sig == "" {
		fmt.Fprintln(out, "signature: missing")
	}

	if secret == "" {
		fmt.Fprintln(out, "signature: not checked (no secret)")
		return 0
	}
	if _, err := ticket.Verify([]byte(secret), raw, now); err != nil {
		fmt.Fprintln(out, "signature: rejected:", err)
		return 1
	}
	fmt.Fprintln(out, "signature: valid")
	return 0
}

func describeExpiry(exp, now time.Time) string {
	d := exp.Sub(now).Round(time.Second)
	if d < 0 {
		return "expired " + (-d).String() + " ago"
	}
	return "in " + d.String()
}
