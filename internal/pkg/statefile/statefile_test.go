package statefile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadOrCreateUUIDIsStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.conf")

	first, err := LoadOrCreateUUID(path)
	if err != nil {
		t.Fatalf("first LoadOrCreateUUID: %v", err)
	}
	if first == "" {
		t.Fatal("got empty UUID")
	}

	second, err := LoadOrCreateUUID(path)
	if err != nil {
		t.Fatalf("second LoadOrCreateUUID: %v", err)
	}
	if got, want := second, first; got != want {
		t.Errorf("second call = %q, want the stored %q", got, want)
	}
}

func TestLoadOrCreateUUIDRecreatesOnCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.conf")
	if err := os.WriteFile(path, []byte("not json"), 0600); err != nil {
		t.Fatal(err)
	}

	id, err := LoadOrCreateUUID(path)
	if err != nil {
		t.Fatalf("LoadOrCreateUUID: %v", err)
	}
	if id == "" {
		t.Error("got empty UUID from corrupt file")
	}
}

func TestDefaultPath(t *testing.T) {
	path, err := DefaultPath("nexia", "user@example.com")
	if err != nil {
		t.Fatalf("DefaultPath: %v", err)
	}
	if got, want := filepath.Base(path), ".nexia_config_user@example.com.conf"; got != want {
		t.Errorf("file name = %q, want %q", got, want)
	}
	if !strings.Contains(path, string(filepath.Separator)) {
		t.Errorf("path %q is not absolute-ish", path)
	}
}
