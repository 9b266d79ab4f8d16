// Package prompts resolves persona roles to system prompt templates.
package prompts

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

//go:embed templates/*.txt
var builtinFS embed.FS

// DefaultRole is the fallback key used when a requested role has no template.
const DefaultRole = "default"

// ErrNotFound is returned when neither the requested role nor any override
// provides a template. Callers normally recover via LoadWithFallback.
var ErrNotFound = errors.New("prompt not found")

// Loader reads role-keyed prompt templates from an optional override
// directory, falling back to the built-in set. Loaded templates are cached
// for the lifetime of the Loader. Safe for concurrent use.
type Loader struct {
	dir      string // optional override directory; "" means built-ins only
	fallback string // role served when the requested one has no template

	mu    sync.RWMutex
	cache map[string]string
}

// NewLoader creates a Loader. dir may be empty to use only the embedded
// templates; fallbackRole may be empty to fall back to DefaultRole.
func NewLoader(dir, fallbackRole string) *Loader {
	if fallbackRole == "" {
		fallbackRole = DefaultRole
	}
	return &Loader{dir: dir, fallback: fallbackRole, cache: make(map[string]string)}
}

// Load returns the trimmed template text for role, or ErrNotFound.
func (l *Loader) Load(role string) (string, error) {
	l.mu.RLock()
	cached, ok := l.cache[role]
	l.mu.RUnlock()
	if ok {
		return cached, nil
	}

	text, err := l.read(role)
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	l.cache[role] = text
	l.mu.Unlock()
	return text, nil
}

// LoadWithFallback returns the template for role, falling back to the
// Loader's configured fallback role when the requested one is unknown. The
// second return value is the role actually resolved.
func (l *Loader) LoadWithFallback(role string) (string, string, error) {
	if role == "" {
		role = l.fallback
	}
	text, err := l.Load(role)
	if err == nil {
		return text, role, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", "", err
	}

	text, err = l.Load(l.fallback)
	if err != nil {
		return "", "", fmt.Errorf("loading fallback prompt: %w", err)
	}
	return text, l.fallback, nil
}

// Available lists the roles that have templates, override directory included,
// sorted and de-duplicated.
func (l *Loader) Available() ([]string, error) {
	seen := make(map[string]bool)

	entries, err := fs.ReadDir(builtinFS, "templates")
	if err != nil {
		return nil, fmt.Errorf("reading built-in templates: %w", err)
	}
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ".txt"); ok {
			seen[name] = true
		}
	}

	if l.dir != "" {
		entries, err := os.ReadDir(l.dir)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading prompt directory: %w", err)
		}
		for _, e := range entries {
			if name, ok := strings.CutSuffix(e.Name(), ".txt"); ok && !e.IsDir() {
				seen[name] = true
			}
		}
	}

	roles := make([]string, 0, len(seen))
	for name := range seen {
		roles = append(roles, name)
	}
	sort.Strings(roles)
	return roles, nil
}

func (l *Loader) read(role string) (string, error) {
	// Role names map to file names; reject anything that could escape the
	// prompt directory.
	if role == "" || strings.ContainsAny(role, "/\\.") {
		return "", fmt.Errorf("%w: %q", ErrNotFound, role)
	}

	if l.dir != "" {
		data, err := os.ReadFile(filepath.Join(l.dir, role+".txt"))
		if err == nil {
			return strings.TrimSpace(string(data)), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("reading prompt %q: %w", role, err)
		}
	}

	data, err := builtinFS.ReadFile("templates/" + role + ".txt")
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrNotFound, role)
	}
	return strings.TrimSpace(string(data)), nil
}
