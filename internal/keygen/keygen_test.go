package keygen

import (
	"bytes"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"Empty string", "", ""},
		{"Simple png", "cat.png", "cat"},
		{"Only last extension stripped", "a.b.png", "a_b"},
		{"Spaces and punctuation", "My Image (1).jpg", "My_Image__1_"},
		{"Dashes and underscores kept", "sdxl-base_v1.png", "sdxl-base_v1"},
		{"Unicode runes", "ねこ.png", "__"},
		{"No extension", "README", "README"},
		{"Trailing dot", "archive.", "archive_"},
		{"Hidden file", ".png", ""},
		{"Slash in extension", "dir.v2/file", "dir_v2_file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.input))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"", "a.b.png", "x y z", "a..b", "...", "name.tar.gz", "ok-name_1", "é.webp", "a/b.c/d"}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestStripExtension(t *testing.T) {
	assert.Equal(t, "a.b", StripExtension("a.b.png"))
	assert.Equal(t, "photo", StripExtension("photo.JPG"))
	assert.Equal(t, "noext", StripExtension("noext"))
	assert.Equal(t, "trailing.", StripExtension("trailing."))
}

func TestExtension(t *testing.T) {
	assert.Equal(t, ".png", Extension("a.b.png"))
	assert.Equal(t, ".JPG", Extension("photo.JPG"))
	assert.Equal(t, "", Extension("noext"))
	assert.Equal(t, ".", Extension("trailing."))
	assert.Equal(t, "", Extension("x.y/../../evil"))
	assert.Equal(t, "", Extension(`x.y\\evil`))
	assert.Equal(t, "x.y/../../evil", StripExtension("x.y/../../evil"))
}

func TestMakeKeyNeverContainsPathSeparators(t *testing.T) {
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 6_000_000, time.UTC)
	g := NewGenerator(
		WithClock(func() time.Time { return fixed }),
		WithRandom(bytes.NewReader(make([]byte, 6))),
	)

	key, err := g.MakeKey("x.y/../../evil")
	require.NoError(t, err)
	assert.Equal(t, "x_y_______evil_2025-01-02T03-04-05-006Z_000000000000", key)

	for _, name := range []string{"a.b/c", `a.b\\c.png`, "../../etc/passwd", "dir/file.png"} {
		key, err := NewGenerator().MakeKey(name)
		require.NoError(t, err)
		assert.NotContains(t, key, "/", "name %q", name)
		assert.NotContains(t, key, `\\`, "name %q", name)
	}
}

func TestTimestamp(t *testing.T) {
	ts := time.Date(2025, 3, 4, 5, 6, 7, 890_000_000, time.UTC)
	assert.Equal(t, "2025-03-04T05-06-07-890Z", Timestamp(ts))
	assert.NotContains(t, Timestamp(time.Now()), ":")
	assert.NotContains(t, Timestamp(time.Now()), ".")
}

func TestMakeKeyFormat(t *testing.T) {
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 6_000_000, time.UTC)
	g := NewGenerator(
		WithClock(func() time.Time { return fixed }),
		WithRandom(bytes.NewReader([]byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01})),
	)

	key, err := g.MakeKey("My Cat.v2.png")
	require.NoError(t, err)
	assert.Equal(t, "My_Cat_v2_2025-01-02T03-04-05-006Z_deadbeef0001.png", key)
}

func TestMakeKeyRandomSuffixLength(t *testing.T) {
	pattern := regexp.MustCompile(`^cat_[0-9T\-Z]+_([0-9a-f]+)\.png$`)

	key, err := NewGenerator().MakeKey("cat.png")
	require.NoError(t, err)
	m := pattern.FindStringSubmatch(key)
	require.NotNil(t, m, "key %q does not match expected shape", key)
	assert.Len(t, m[1], 12)

	key, err = NewGenerator(WithRandomBytes(2)).MakeKey("cat.png")
	require.NoError(t, err)
	m = pattern.FindStringSubmatch(key)
	require.NotNil(t, m)
	assert.Len(t, m[1], 12, "random tail must never drop below the minimum")

	key, err = NewGenerator(WithRandomBytes(16)).MakeKey("cat.png")
	require.NoError(t, err)
	m = pattern.FindStringSubmatch(key)
	require.NotNil(t, m)
	assert.Len(t, m[1], 32)
}

func TestMakeKeyUniqueness(t *testing.T) {
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	g := NewGenerator(WithClock(func() time.Time { return fixed }))

	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		key, err := g.MakeKey("same name.png")
		require.NoError(t, err)
		seen[key] = struct{}{}
	}
	assert.Len(t, seen, 1000)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestMakeKeyRandomFailure(t *testing.T) {
	_, err := NewGenerator(WithRandom(failingReader{})).MakeKey("cat.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entropy exhausted")
}
