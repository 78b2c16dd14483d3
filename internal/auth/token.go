// Package auth provides CLI token generation, hashing, and constant-time
// comparison used by the server and the admin commands.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
)

// TokenPrefix marks tunnelplane CLI tokens so they are recognizable in
// config files and secret scanners.
const TokenPrefix = "tp_"

// GenerateToken returns a cryptographically random, URL-safe CLI token.
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return TokenPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// GeneratePepper returns a random pepper for first-time server setup.
func GeneratePepper() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// HashToken returns a deterministic SHA-256 hex digest of token + pepper.
// Only the digest is stored.
func HashToken(token, pepper string) string {
	sum := sha256.Sum256([]byte(token + ":" + pepper))
	return hex.EncodeToString(sum[:])
}

// ConstantTimeEquals compares two secrets without leaking where they differ.
func ConstantTimeEquals(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
