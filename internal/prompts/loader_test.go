package prompts

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestLoadBuiltin(t *testing.T) {
	l := NewLoader("", "")
	text, err := l.Load("default")
	if err != nil {
		t.Fatalf("Load(default): %v", err)
	}
	if text == "" {
		t.Error("Load(default) returned empty template")
	}
}

func TestLoadUnknownRole(t *testing.T) {
	l := NewLoader("", "")
	if _, err := l.Load("pirate"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load(pirate) = %v, want ErrNotFound", err)
	}
}

func TestLoadRejectsPathTraversal(t *testing.T) {
	l := NewLoader(t.TempDir(), "")
	for _, role := range []string{"../secret", "a/b", `a\b`, "role.txt", ""} {
		if _, err := l.Load(role); !errors.Is(err, ErrNotFound) {
			t.Errorf("Load(%q) = %v, want ErrNotFound", role, err)
		}
	}
}

func TestLoadWithFallback(t *testing.T) {
	l := NewLoader("", "")

	text, resolved, err := l.LoadWithFallback("pirate")
	if err != nil {
		t.Fatalf("LoadWithFallback(pirate): %v", err)
	}
	if resolved != DefaultRole {
		t.Errorf("resolved role = %q, want %q", resolved, DefaultRole)
	}

	defaultText, _, err := l.LoadWithFallback("")
	if err != nil {
		t.Fatalf("LoadWithFallback(\"\"): %v", err)
	}
	if text != defaultText {
		t.Error("fallback text differs from default role text")
	}
}

func TestConfiguredFallbackRole(t *testing.T) {
	l := NewLoader("", "tutor")

	tutorText, err := l.Load("tutor")
	if err != nil {
		t.Fatalf("Load(tutor): %v", err)
	}

	// Both an unknown and an empty role must resolve to the configured
	// fallback, not the built-in default.
	for _, role := range []string{"pirate", ""} {
		text, resolved, err := l.LoadWithFallback(role)
		if err != nil {
			t.Fatalf("LoadWithFallback(%q): %v", role, err)
		}
		if resolved != "tutor" {
			t.Errorf("LoadWithFallback(%q) resolved %q, want configured fallback %q", role, resolved, "tutor")
		}
		if text != tutorText {
			t.Errorf("LoadWithFallback(%q) returned wrong template text", role)
		}
	}
}

func TestOverrideDirectoryWins(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "default.txt"), []byte("custom prompt\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(dir, "")
	text, err := l.Load("default")
	if err != nil {
		t.Fatalf("Load(default): %v", err)
	}
	if text != "custom prompt" {
		t.Errorf("Load(default) = %q, want override content", text)
	}
}

func TestLoadCaches(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cached.txt")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(dir, "")
	if _, err := l.Load("cached"); err != nil {
		t.Fatalf("Load(cached): %v", err)
	}

	// A change on disk must not be visible through the cache.
	if err := os.WriteFile(path, []byte("v2"), 0o644); err != nil {
		t.Fatal(err)
	}
	text, err := l.Load("cached")
	if err != nil {
		t.Fatalf("Load(cached) second call: %v", err)
	}
	if text != "v1" {
		t.Errorf("Load(cached) = %q, want cached v1", text)
	}
}

func TestAvailable(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "pirate.txt"), []byte("arr"), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(dir, "")
	roles, err := l.Available()
	if err != nil {
		t.Fatalf("Available: %v", err)
	}

	for _, want := range []string{"assistant", "default", "pirate", "tutor"} {
		if !slices.Contains(roles, want) {
			t.Errorf("Available() = %v, missing %q", roles, want)
		}
	}
	if !slices.IsSorted(roles) {
		t.Errorf("Available() = %v, want sorted", roles)
	}
}
