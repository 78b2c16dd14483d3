package subdomain

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/koltyakov/tunnelplane/internal/domain"
)

var wordPair = regexp.MustCompile(`^[a-z]+-[a-z]+$`)

func TestWordListsSize(t *testing.T) {
	t.Parallel()

	if len(adjectives) != 16 || len(nouns) != 16 {
		t.Fatalf("expected 16x16 word lists, got %dx%d", len(adjectives), len(nouns))
	}
	seen := map[string]bool{}
	for _, w := range append(adjectives[:], nouns[:]...) {
		if seen[w] {
			t.Fatalf("duplicate word %q", w)
		}
		seen[w] = true
	}
}

func TestRandomShape(t *testing.T) {
	t.Parallel()

	for range 200 {
		if name := Random(); !wordPair.MatchString(name) {
			t.Fatalf("unexpected candidate %q", name)
		}
	}
}

func TestFallbackOutsideWordSpace(t *testing.T) {
	t.Parallel()

	got := Fallback(time.Unix(1700012345, 0))
	if got != "tunnel-12345" {
		t.Fatalf("got %q", got)
	}
	if wordPair.MatchString(got) {
		t.Fatalf("fallback %q collides with word-list shape", got)
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	if got, err := Normalize("  My-App "); err != nil || got != "my-app" {
		t.Fatalf("got %q, %v", got, err)
	}
	for _, bad := range []string{"", "-x", "a.b", "has space"} {
		if _, err := Normalize(bad); !errors.Is(err, domain.ErrInvalidRequest) {
			t.Fatalf("Normalize(%q): expected ErrInvalidRequest, got %v", bad, err)
		}
	}
}

func TestPickSkipsUnavailable(t *testing.T) {
	t.Parallel()

	names := []string{"calm-otter", "brave-tiger", "sunny-river"}
	i := 0
	g := &Generator{
		Candidate: func() string { n := names[i]; i++; return n },
		Now:       time.Now,
	}
	got, err := g.Pick(context.Background(), func(_ context.Context, name string) (bool, error) {
		return name == "sunny-river", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != "sunny-river" {
		t.Fatalf("got %q", got)
	}
}

func TestPickFallsBackAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	calls := 0
	g := &Generator{
		Candidate: func() string { return "calm-otter" },
		Now:       func() time.Time { return time.Unix(99, 0) },
	}
	got, err := g.Pick(context.Background(), func(context.Context, string) (bool, error) {
		calls++
		return false, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != MaxAttempts {
		t.Fatalf("expected %d attempts, got %d", MaxAttempts, calls)
	}
	if got != "tunnel-99" {
		t.Fatalf("got %q", got)
	}
}

func TestPickPropagatesErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	_, err := NewGenerator().Pick(context.Background(), func(context.Context, string) (bool, error) {
		return false, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
