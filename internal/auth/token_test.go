package auth

import (
	"strings"
	"testing"
)

func TestHashTokenDeterministic(t *testing.T) {
	t.Parallel()

	a := HashToken("abc", "pepper")
	b := HashToken("abc", "pepper")
	if a != b {
		t.Fatalf("expected deterministic hash")
	}
	if HashToken("abc", "other") == a {
		t.Fatalf("expected pepper to change the hash")
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha256, got %d chars", len(a))
	}
}

func TestGenerateTokenIsPrefixedAndUnique(t *testing.T) {
	t.Parallel()

	a, err := GenerateToken()
	if err != nil {
		t.Fatal(err)
	}
	b, err := GenerateToken()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(a, TokenPrefix) {
		t.Fatalf("expected %q prefix, got %q", TokenPrefix, a)
	}
	if a == b {
		t.Fatal("expected distinct tokens")
	}
}

func TestConstantTimeEquals(t *testing.T) {
	t.Parallel()

	if !ConstantTimeEquals("abc", "abc") {
		t.Fatalf("expected equal values")
	}
	if ConstantTimeEquals("abc", "abd") {
		t.Fatalf("expected non-equal values")
	}
	if ConstantTimeEquals("abc", "abcd") {
		t.Fatalf("expected length mismatch to fail")
	}
}
