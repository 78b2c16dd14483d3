// Package ticket builds and verifies the signed, short-lived tickets a CLI
// presents to a relay.
//
// A ticket is the base64url (no padding) encoding of a compact JSON object:
//
//	{"user_id":..,"plan":..,"max_tunnels":..,"subdomain":..,"ticket_id":..,"exp":..,"sig":..}
//
// sig is the lowercase hex HMAC-SHA-256 of the same object serialized
// without the sig field. Field order and escaping are part of the contract:
// relays re-serialize the payload and must produce identical bytes.
package ticket

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/koltyakov/tunnelplane/internal/domain"
)

// DefaultTTL is how long an issued ticket stays valid.
const DefaultTTL = 60 * time.Second

// Verification failures. All of them match [domain.ErrUnauthorized].
var (
	ErrMalformed    = fmt.Errorf("%w: malformed ticket", domain.ErrUnauthorized)
	ErrMissingSig   = fmt.Errorf("%w: ticket missing signature", domain.ErrUnauthorized)
	ErrExpired      = fmt.Errorf("%w: ticket expired", domain.ErrUnauthorized)
	ErrBadSignature = fmt.Errorf("%w: invalid ticket signature", domain.ErrUnauthorized)
)

// Payload is the signed portion of a ticket. Field order is significant.
type Payload struct {
	UserID     string `json:"user_id"`
	Plan       string `json:"plan"`
	MaxTunnels int    `json:"max_tunnels"`
	Subdomain  string `json:"subdomain,omitempty"`
	TicketID   string `json:"ticket_id"`
	Exp        int64  `json:"exp"`
}

type signedPayload struct {
	Payload
	Sig string `json:"sig,omitempty"`
}

// Issuer signs tickets with a secret shared only with relays.
type Issuer struct {
	secret   []byte
	relayURL string
	ttl      time.Duration
	now      func() time.Time
	newID    func() string
}

// NewIssuer returns an Issuer using [DefaultTTL].
func NewIssuer(secret, relayURL string) *Issuer {
	return &Issuer{
		secret:   []byte(secret),
		relayURL: relayURL,
		ttl:      DefaultTTL,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Issue builds and signs a ticket binding userID, the plan limits, and the
// allocated subdomain.
func (i *Issuer) Issue(userID string, plan domain.Plan, subdomain string) (domain.TicketResponse, Payload, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.TicketResponse{}, Payload{}, errors.New("ticket: empty user id")
	}
	p := Payload{
		UserID:     userID,
		Plan:       plan.ID,
		MaxTunnels: plan.MaxTunnels,
		Subdomain:  subdomain,
		TicketID:   i.newID(),
		Exp:        i.now().Add(i.ttl).Unix(),
	}
	encoded, err := Encode(i.secret, p)
	if err != nil {
		return domain.TicketResponse{}, Payload{}, err
	}
	return domain.TicketResponse{
		Ticket:    encoded,
		RelayURL:  i.relayURL,
		ExpiresIn: int(i.ttl / time.Second),
	}, p, nil
}

// Encode signs p and returns the opaque ticket string.
func Encode(secret []byte, p Payload) (string, error) {
	sig, err := Sign(secret, p)
	if err != nil {
		return "", err
	}
	raw, err := marshalCompact(signedPayload{Payload: p, Sig: sig})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Sign returns the hex HMAC-SHA-256 of the canonical payload bytes.
func Sign(secret []byte, p Payload) (string, error) {
	raw, err := marshalCompact(p)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(raw)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Decode parses a ticket without checking its signature or expiry.
func Decode(ticket string) (Payload, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(ticket))
	if err != nil {
		return Payload{}, "", ErrMalformed
	}
	var sp signedPayload
	if err := json.Unmarshal(raw, &sp); err != nil {
		return Payload{}, "", ErrMalformed
	}
	return sp.Payload, sp.Sig, nil
}

// Verify runs the relay-side check: decode, require a signature, reject
// expired tickets, then recompute and compare the signature.
func Verify(secret []byte, ticket string, now time.Time) (Payload, error) {
	p, sig, err := Decode(ticket)
	if err != nil {
		return Payload{}, err
	}
	if sig == "" {
		return Payload{}, ErrMissingSig
	}
	if now.Unix() > p.Exp {
		return p, ErrExpired
	}
	expected, err := Sign(secret, p)
	if err != nil {
		return Payload{}, err
	}
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return Payload{}, ErrBadSignature
	}
	return p, nil
}

func marshalCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
