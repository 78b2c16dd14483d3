package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/koltyakov/tunnelplane/internal/config"
)

func clearEnvVarsForTest(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"TUNNELPLANE_DOMAIN",
		"TUNNELPLANE_RELAY_URL",
		"TUNNELPLANE_TICKET_SECRET",
		"TUNNELPLANE_RELAY_SECRET",
		"TUNNELPLANE_DB_PATH",
		"TUNNELPLANE_TLS_MODE",
		"TUNNELPLANE_TLS_HOST",
		"TUNNELPLANE_TOKEN_PEPPER",
		"TUNNELPLANE_LOG_LEVEL",
		"TUNNELPLANE_REDIS_ADDR",
		"OTHER_VAR",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadEnvFromDotEnvLoadsMissingVars(t *testing.T) {
	clearEnvVarsForTest(t)
	envPath := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envPath, []byte("TUNNELPLANE_DOMAIN=from-file.example.com\nOTHER_VAR=skip\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	loadEnvFromDotEnv(envPath)

	if got := os.Getenv("TUNNELPLANE_DOMAIN"); got != "from-file.example.com" {
		t.Fatalf("expected TUNNELPLANE_DOMAIN loaded from file, got %q", got)
	}
	if got := os.Getenv("OTHER_VAR"); got != "" {
		t.Fatalf("expected unprefixed var not to be loaded, got %q", got)
	}
}

func TestLoadEnvFromDotEnvKeepsExistingEnv(t *testing.T) {
	clearEnvVarsForTest(t)
	t.Setenv("TUNNELPLANE_DOMAIN", "from-env.example.com")
	envPath := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envPath, []byte("TUNNELPLANE_DOMAIN=from-file.example.com\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	loadEnvFromDotEnv(envPath)

	if got := os.Getenv("TUNNELPLANE_DOMAIN"); got != "from-env.example.com" {
		t.Fatalf("expected existing env to win, got %q", got)
	}
}

func TestServerConfigPrefersCLIFlagsOverDotEnv(t *testing.T) {
	clearEnvVarsForTest(t)
	envPath := filepath.Join(t.TempDir(), ".env")
	content := "TUNNELPLANE_DOMAIN=from-file.example.com\n" +
		"TUNNELPLANE_DB_PATH=./from-file.db\n" +
		"TUNNELPLANE_RELAY_URL='wss://relay.example.com'\n" +
		"export TUNNELPLANE_TICKET_SECRET=\"0123456789abcdef0123\"\n" +
		"TUNNELPLANE_RELAY_SECRET=relay\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	loadEnvFromDotEnv(envPath)
	cfg, err := config.ParseServerFlags([]string{"--domain", "from-cli.example.com", "--db", "./from-cli.db"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BaseDomain != "from-cli.example.com" {
		t.Fatalf("expected CLI domain to win, got %q", cfg.BaseDomain)
	}
	if cfg.DBPath != "./from-cli.db" {
		t.Fatalf("expected CLI db path to win, got %q", cfg.DBPath)
	}
	if cfg.RelayURL != "wss://relay.example.com" || cfg.TicketSecret != "0123456789abcdef0123" {
		t.Fatalf("expected quoted .env values to be unwrapped, got %q / %q", cfg.RelayURL, cfg.TicketSecret)
	}
}

func TestParseEnvAssignment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line      string
		wantKey   string
		wantValue string
		wantOK    bool
	}{
		{line: "export TUNNELPLANE_DOMAIN=example.com", wantKey: "TUNNELPLANE_DOMAIN", wantValue: "example.com", wantOK: true},
		{line: `TUNNELPLANE_RELAY_SECRET="a b"`, wantKey: "TUNNELPLANE_RELAY_SECRET", wantValue: "a b", wantOK: true},
		{line: "KEY=a=b", wantKey: "KEY", wantValue: "a=b", wantOK: true},
		{line: "# comment"},
		{line: "   "},
		{line: "NOEQUALS"},
		{line: "BAD KEY=x"},
	}
	for _, tt := range tests {
		key, value, ok := parseEnvAssignment(tt.line)
		if ok != tt.wantOK || key != tt.wantKey || value != tt.wantValue {
			t.Fatalf("parseEnvAssignment(%q) = (%q, %q, %v), want (%q, %q, %v)", tt.line, key, value, ok, tt.wantKey, tt.wantValue, tt.wantOK)
		}
	}
}
