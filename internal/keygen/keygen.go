package keygen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"
)

// MinRandomBytes is the smallest random tail accepted by NewGenerator.
const MinRandomBytes = 6

// timestampLayout is an ISO-8601 UTC layout; ':' and '.' are replaced before use.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// Generator derives unique storage keys from original file names.
type Generator struct {
	now         func() time.Time
	random      io.Reader
	randomBytes int
}

// Option customizes a Generator.
type Option func(*Generator)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithRandom replaces the random source (crypto/rand by default).
func WithRandom(r io.Reader) Option {
	return func(g *Generator) { g.random = r }
}

// WithRandomBytes sets the length of the random tail. Values below MinRandomBytes are raised.
func WithRandomBytes(n int) Option {
	return func(g *Generator) { g.randomBytes = n }
}

// NewGenerator creates a Generator using the wall clock and crypto/rand.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		now:         time.Now,
		random:      rand.Reader,
		randomBytes: MinRandomBytes,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.randomBytes < MinRandomBytes {
		g.randomBytes = MinRandomBytes
	}
	return g
}

// MakeKey returns {Normalize(name)}_{timestamp}_{hex}{Extension(name)}.
func (g *Generator) MakeKey(originalName string) (string, error) {
	suffix, err := g.randomSuffix()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_%s_%s%s", Normalize(originalName), Timestamp(g.now()), suffix, Extension(originalName)), nil
}

func (g *Generator) randomSuffix() (string, error) {
	buf := make([]byte, g.randomBytes)
	if _, err := io.ReadFull(g.random, buf); err != nil {
		return "", fmt.Errorf("reading random suffix: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Timestamp renders t in UTC as a sortable string without ':' or '.'.
func Timestamp(t time.Time) string {
	s := t.UTC().Format(timestampLayout)
	s = strings.ReplaceAll(s, ":", "-")
	return strings.ReplaceAll(s, ".", "-")
}

// pathSeparators never appear in an extension; a key must stay one path segment.
const pathSeparators = `/\`

// StripExtension removes the final ".ext" when ext is non-empty and holds no path separator.
func StripExtension(name string) string {
	i := strings.LastIndex(name, ".")
	if i < 0 || i == len(name)-1 {
		return name
	}
	if strings.ContainsAny(name[i+1:], pathSeparators) {
		return name
	}
	return name[:i]
}

// Extension returns everything from the last '.' on, or "" when there is none.
// A tail holding '/' or '\' is part of the name, not an extension, so it yields "".
func Extension(name string) string {
	i := strings.LastIndex(name, ".")
	if i < 0 || strings.ContainsAny(name[i:], pathSeparators) {
		return ""
	}
	return name[i:]
}

// Normalize strips the extension and maps every rune outside [A-Za-z0-9-_] to '_'.
// The result never contains '.', so Normalize is idempotent.
func Normalize(name string) string {
	base := StripExtension(name)
	var b strings.Builder
	b.Grow(len(base))
	for _, r := range base {
		if isKeyRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func isKeyRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_':
		return true
	}
	return false
}
