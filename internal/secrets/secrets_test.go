// ABOUTME: Tests for the credential stores
// ABOUTME: Both stores share one behavioural test

package secrets

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	if _, err := s.Get(TypeBasic, "ada"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Set(Credentials{Type: TypeBasic, Username: "ada", Secret: "pw"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(Credentials{Type: TypeReaderAPIKey, Username: "ada", Secret: "token"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := s.Get(TypeBasic, "ada")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Secret != "pw" {
		t.Errorf("expected secret pw, got %q", got.Secret)
	}

	if err := s.Delete(TypeBasic, "ada"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(TypeBasic, "ada"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if got, err := s.Get(TypeReaderAPIKey, "ada"); err != nil || got.Secret != "token" {
		t.Errorf("other credential type should survive, got %+v %v", got, err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	exerciseStore(t, NewFileStore(path))

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Mode().Perm() != FilePerms {
		t.Errorf("expected mode %o, got %o", FilePerms, info.Mode().Perm())
	}

	reopened := NewFileStore(path)
	if got, err := reopened.Get(TypeReaderAPIKey, "ada"); err != nil || got.Secret != "token" {
		t.Errorf("credentials not persisted: %+v %v", got, err)
	}
}
