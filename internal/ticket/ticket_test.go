package ticket

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/koltyakov/tunnelplane/internal/domain"
)

const testSecret = "test-secret-key-for-hmac-signing"

func newTestIssuer(now time.Time) *Issuer {
	iss := NewIssuer(testSecret, "wss://relay.example.com")
	iss.now = func() time.Time { return now }
	iss.newID = func() string { return "00000000-0000-4000-8000-000000000001" }
	return iss
}

func TestIssueMatchesKnownAnswer(t *testing.T) {
	t.Parallel()

	iss := newTestIssuer(time.Unix(1700000000, 0))
	resp, p, err := iss.Issue("u1", domain.Plan{ID: "sandbox", MaxTunnels: 1}, "my-app")
	if err != nil {
		t.Fatal(err)
	}

	const want = "eyJ1c2VyX2lkIjoidTEiLCJwbGFuIjoic2FuZGJveCIsIm1heF90dW5uZWxzIjoxLCJzdWJkb21haW4iOiJteS1hcHAiLCJ0aWNrZXRfaWQiOiIwMDAwMDAwMC0wMDAwLTQwMDAtODAwMC0wMDAwMDAwMDAwMDEiLCJleHAiOjE3MDAwMDAwNjAsInNpZyI6ImEwM2E4YTVkZmI5NzFkMjc0MTBhNWYyN2JkNTc3NzA3Y2Y3N2VmOTU2YTIxY2Y3MjYzZTUyZTdhMWZmMzcyNTUifQ"
	if resp.Ticket != want {
		t.Fatalf("ticket mismatch:\n got %s\nwant %s", resp.Ticket, want)
	}
	if resp.RelayURL != "wss://relay.example.com" || resp.ExpiresIn != 60 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if p.Exp != 1700000060 {
		t.Fatalf("expected exp=1700000060, got %d", p.Exp)
	}
}

func TestSignatureRecomputes(t *testing.T) {
	t.Parallel()

	iss := NewIssuer(testSecret, "wss://relay")
	resp, _, err := iss.Issue("user-42", domain.Plan{ID: "pro", MaxTunnels: 5}, "calm-otter")
	if err != nil {
		t.Fatal(err)
	}
	p, sig, err := Decode(resp.Ticket)
	if err != nil {
		t.Fatal(err)
	}
	again, err := Sign([]byte(testSecret), p)
	if err != nil {
		t.Fatal(err)
	}
	if again != sig {
		t.Fatalf("recomputed signature %s != embedded %s", again, sig)
	}
}

func TestSignDoesNotEscapeHTML(t *testing.T) {
	t.Parallel()

	sig, err := Sign([]byte("k"), Payload{UserID: "u<1>&", Plan: "pro", MaxTunnels: 5, TicketID: "t", Exp: 10})
	if err != nil {
		t.Fatal(err)
	}
	if want := "1fbd5b2b7a82be0035ef9df095f9906aef91e7224811257b06028f667bfdcf96"; sig != want {
		t.Fatalf("got %s, want %s", sig, want)
	}
}

func TestExpiryWindow(t *testing.T) {
	t.Parallel()

	before := time.Now().Unix()
	_, p, err := NewIssuer(testSecret, "wss://relay").Issue("u1", domain.Plan{ID: "sandbox", MaxTunnels: 1}, "a-b")
	after := time.Now().Unix()
	if err != nil {
		t.Fatal(err)
	}
	if p.Exp <= before+59 || p.Exp > after+60 {
		t.Fatalf("exp %d outside (%d, %d]", p.Exp, before+59, after+60)
	}
}

func TestTicketIDIsUUID(t *testing.T) {
	t.Parallel()

	_, p, err := NewIssuer(testSecret, "wss://relay").Issue("u1", domain.Plan{ID: "sandbox", MaxTunnels: 1}, "a-b")
	if err != nil {
		t.Fatal(err)
	}
	re := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	if !re.MatchString(p.TicketID) {
		t.Fatalf("ticket_id %q is not a v4 uuid", p.TicketID)
	}
}

func TestEmptySubdomainOmitted(t *testing.T) {
	t.Parallel()

	resp, _, err := newTestIssuer(time.Unix(1700000000, 0)).Issue("u1", domain.Plan{ID: "sandbox", MaxTunnels: 1}, "")
	if err != nil {
		t.Fatal(err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(resp.Ticket)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "subdomain") {
		t.Fatalf("expected subdomain to be omitted, got %s", raw)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatal(err)
	}
	if len(fields) != 6 {
		t.Fatalf("expected 6 fields, got %d: %s", len(fields), raw)
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()

	issuedAt := time.Unix(1700000000, 0)
	resp, _, err := newTestIssuer(issuedAt).Issue("u1", domain.Plan{ID: "sandbox", MaxTunnels: 1}, "my-app")
	if err != nil {
		t.Fatal(err)
	}

	if p, err := Verify([]byte(testSecret), resp.Ticket, issuedAt.Add(60*time.Second)); err != nil || p.Subdomain != "my-app" {
		t.Fatalf("expected valid ticket at exp boundary, got %+v, %v", p, err)
	}
	if _, err := Verify([]byte(testSecret), resp.Ticket, issuedAt.Add(61*time.Second)); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if _, err := Verify([]byte("other-secret"), resp.Ticket, issuedAt); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
	if _, err := Verify([]byte(testSecret), "%%%", issuedAt); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for malformed ticket, got %v", err)
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	t.Parallel()

	issuedAt := time.Unix(1700000000, 0)
	resp, _, err := newTestIssuer(issuedAt).Issue("u1", domain.Plan{ID: "sandbox", MaxTunnels: 1}, "my-app")
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := base64.RawURLEncoding.DecodeString(resp.Ticket)
	tampered := strings.Replace(string(raw), `"max_tunnels":1`, `"max_tunnels":9`, 1)
	ticket := base64.RawURLEncoding.EncodeToString([]byte(tampered))

	if _, err := Verify([]byte(testSecret), ticket, issuedAt); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestVerifyRequiresSignature(t *testing.T) {
	t.Parallel()

	raw := `{"user_id":"u1","plan":"sandbox","max_tunnels":1,"ticket_id":"t","exp":9999999999}`
	ticket := base64.RawURLEncoding.EncodeToString([]byte(raw))
	if _, err := Verify([]byte(testSecret), ticket, time.Unix(0, 0)); !errors.Is(err, ErrMissingSig) {
		t.Fatalf("expected ErrMissingSig, got %v", err)
	}
}
