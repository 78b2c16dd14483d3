// Package subdomain normalizes requested names and generates random
// adjective-noun candidates.
package subdomain

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/koltyakov/tunnelplane/internal/domain"
	"github.com/koltyakov/tunnelplane/internal/netutil"
)

// MaxAttempts bounds the random candidate loop before falling back to a
// timestamp-derived name.
const MaxAttempts = 50

var adjectives = [...]string{
	"amber", "brave", "calm", "clever", "eager", "gentle", "happy", "jolly",
	"lively", "lucky", "mellow", "nimble", "quiet", "rapid", "sunny", "witty",
}

var nouns = [...]string{
	"badger", "comet", "falcon", "forest", "harbor", "lantern", "maple", "meadow",
	"otter", "panda", "pebble", "river", "rocket", "summit", "tiger", "willow",
}

// Normalize lower-cases raw and checks it is a valid DNS label.
func Normalize(raw string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if !netutil.IsDNSLabel(name) {
		return "", domain.Invalidf("subdomain %q must be 1-%d characters of a-z, 0-9 or '-'", raw, netutil.MaxLabelLength)
	}
	return name, nil
}

// Random returns one adjective-noun candidate.
func Random() string {
	return adjectives[rand.IntN(len(adjectives))] + "-" + nouns[rand.IntN(len(nouns))]
}

// Fallback returns a name outside the word-list space, e.g. "tunnel-12345".
func Fallback(now time.Time) string {
	return fmt.Sprintf("tunnel-%d", now.Unix()%100000)
}

// Generator picks free names using a caller supplied availability check.
type Generator struct {
	Candidate func() string
	Now       func() time.Time
}

// NewGenerator returns a Generator backed by [Random] and the wall clock.
func NewGenerator() *Generator {
	return &Generator{Candidate: Random, Now: time.Now}
}

// Pick tries up to [MaxAttempts] random candidates and returns the first one
// for which available reports true. On exhaustion it returns [Fallback].
func (g *Generator) Pick(ctx context.Context, available func(ctx context.Context, name string) (bool, error)) (string, error) {
	for range MaxAttempts {
		name := g.Candidate()
		ok, err := available(ctx, name)
		if err != nil {
			return "", err
		}
		if ok {
			return name, nil
		}
	}
	return Fallback(g.Now()), nil
}
