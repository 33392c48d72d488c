package helpers

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBytesToSize(t *testing.T) {
	tests := []struct {
		name  string
		bytes uint64
		want  string
	}{
		{"Zero bytes", 0, "0B"},
		{"Bytes", 500, "500.00B"},
		{"Kilobytes", 1024, "1.00KB"},
		{"Kilobytes fractional", 1536, "1.50KB"},
		{"Megabytes", 1024 * 1024, "1.00MB"},
		{"Gigabytes", 1024 * 1024 * 1024, "1.00GB"},
		{"Terabytes", 1024 * 1024 * 1024 * 1024, "1.00TB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BytesToSize(tt.bytes)
			if got != tt.want {
				t.Errorf("BytesToSize(%d) = %q, want %q", tt.bytes, got, tt.want)
			}
		})
	}
}

func TestContentHash(t *testing.T) {
	a := ContentHash([]byte("this is test content for hashing"))
	b := ContentHash([]byte("this is test content for hashing!"))

	if len(a) != 64 {
		t.Fatalf("ContentHash length = %d, want 64", len(a))
	}
	if a != strings.ToUpper(a) {
		t.Errorf("ContentHash should be upper-case, got %s", a)
	}
	if a == b {
		t.Errorf("different content produced the same hash %s", a)
	}
}

func TestCheckHash(t *testing.T) {
	data := []byte("image bytes")
	sum := ContentHash(data)

	tests := []struct {
		name     string
		expected string
		want     bool
	}{
		{"Exact match", sum, true},
		{"Lower-case match", strings.ToLower(sum), true},
		{"Padded match", "  " + sum + "\n", true},
		{"Mismatch", ContentHash([]byte("other")), false},
		{"Empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CheckHash(data, tt.expected); got != tt.want {
				t.Errorf("CheckHash(%q) = %t, want %t", tt.expected, got, tt.want)
			}
		})
	}
}

func TestListingHash(t *testing.T) {
	h1 := ListingHash([]string{"a.png", "b.png"})
	h2 := ListingHash([]string{"b.png", "a.png"})
	if len(h1) != 16 {
		t.Errorf("ListingHash length = %d, want 16", len(h1))
	}
	if h1 == h2 {
		t.Errorf("ListingHash must depend on order")
	}
	if h1 != ListingHash([]string{"a.png", "b.png"}) {
		t.Errorf("ListingHash must be deterministic")
	}
}

func TestCheckAndMakeDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "thumbs")
	if !CheckAndMakeDir(dir) {
		t.Fatalf("CheckAndMakeDir(%s) = false", dir)
	}
	if !CheckAndMakeDir(dir) {
		t.Errorf("CheckAndMakeDir should succeed on an existing directory")
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "gallery.json")

	if err := WriteFileAtomic(path, []byte(`["a.png"]`)); err != nil {
		t.Fatalf("WriteFileAtomic() error = %v", err)
	}
	if err := WriteFileAtomic(path, []byte(`["b.png"]`)); err != nil {
		t.Fatalf("WriteFileAtomic() overwrite error = %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != `["b.png"]` {
		t.Errorf("file content = %s, want [\"b.png\"]", got)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the final file, found %d entries", len(entries))
	}
}
