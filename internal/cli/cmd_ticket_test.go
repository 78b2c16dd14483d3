package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/koltyakov/tunnelplane/internal/ticket"
)

func TestTicketInspect(t *testing.T) {
	clearEnvVarsForTest(t)

	now := time.Unix(1_700_000_000, 0)
	secret := "0123456789abcdef0123"
	raw, err := ticket.Encode([]byte(secret), ticket.Payload{
		UserID:     "usr_1",
		Plan:       "starter",
		MaxTunnels: 3,
		Subdomain:  "my-app",
		TicketID:   "tkt-1",
		Exp:        now.Add(time.Minute).Unix(),
	})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		args     []string
		now      time.Time
		wantCode int
		wantOut  []string
	}{
		{
			name:     "valid",
			args:     []string{"--secret", secret, raw},
			now:      now,
			wantCode: 0,
			wantOut:  []string{"user_id: usr_1", "plan: starter", "max_tunnels: 3", "subdomain: my-app", "(in 1m0s)", "signature: valid"},
		},
		{
			name:     "wrong secret",
			args:     []string{"--secret", "other-secret-value-000", raw},
			now:      now,
			wantCode: 1,
			wantOut:  []string{"signature: rejected"},
		},
		{
			name:     "expired",
			args:     []string{"--secret", secret, raw},
			now:      now.Add(2 * time.Minute),
			wantCode: 1,
			wantOut:  []string{"expired 1m0s ago", "signature: rejected"},
		},
		{
			name:     "no secret",
			args:     []string{raw},
			now:      now,
			wantCode: 0,
			wantOut:  []string{"ticket_id: tkt-1", "signature: not checked (no secret)"},
		},
		{
			name:     "garbage",
			args:     []string{"--secret", secret, "%%%"},
			now:      now,
			wantCode: 1,
		},
		{
			name:     "missing argument",
			args:     []string{"--secret", secret},
			now:      now,
			wantCode: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if code := runTicketInspect(tt.args, &out, tt.now); code != tt.wantCode {
				t.Fatalf("expected exit %d, got %d\n%s", tt.wantCode, code, out.String())
			}
			for _, want := range tt.wantOut {
				if !strings.Contains(out.String(), want) {
					t.Fatalf("expected %q in output:\n%s", want, out.String())
				}
			}
		})
	}
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	if code := Run([]string{"bogus"}); code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
	if code := Run(nil); code != 2 {
		t.Fatalf("expected exit 2 without args, got %d", code)
	}
}
