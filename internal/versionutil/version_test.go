package versionutil

import "testing"

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"1.2.3":    "v1.2.3",
		" v1.2.3 ": "v1.2.3",
		"dev":      "dev",
		"":         "",
	}
	for in, want := range tests {
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%q): got %q, want %q", in, got, want)
		}
	}
}

func TestEnsureVPrefix(t *testing.T) {
	t.Parallel()

	if got := EnsureVPrefix("0.9.0"); got != "v0.9.0" {
		t.Fatalf("got %q", got)
	}
	if got := EnsureVPrefix(""); got != "" {
		t.Fatalf("expected empty input to stay empty, got %q", got)
	}
}
