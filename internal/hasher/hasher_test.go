package hasher

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Known SHA-256 of the ASCII string "hello".
const helloSHA256 = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

func TestHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hello.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	got, err := Hash(path)
	if err != nil {
		t.Fatalf("Hash() error: %v", err)
	}
	if got != helloSHA256 {
		t.Errorf("Hash() = %s, want %s", got, helloSHA256)
	}
}

func TestHashMissingFile(t *testing.T) {
	if _, err := Hash(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("Hash() on missing file should return an error")
	}
}

func TestHashReaderMatchesHash(t *testing.T) {
	got, err := HashReader(strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("HashReader() error: %v", err)
	}
	if got != helloSHA256 {
		t.Errorf("HashReader() = %s, want %s", got, helloSHA256)
	}
}

func TestHashEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	got, err := Hash(path)
	if err != nil {
		t.Fatalf("Hash() error: %v", err)
	}
	// SHA-256 of the empty input.
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got != want {
		t.Errorf("Hash() = %s, want %s", got, want)
	}
}
