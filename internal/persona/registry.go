package persona

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/adrg/xdg"
)

// DefaultDir returns the XDG-resolved persona directory,
// e.g. ~/.config/personaforge/personas on Linux.
func DefaultDir() string {
	return filepath.Join(xdg.ConfigHome, "personaforge", "personas")
}

// Registry manages persona documents stored in a single directory, one file
// per persona named <name>.yaml or <name>.toml. Loaded configs are cached;
// Get falls back to disk on a cache miss so personas dropped into the
// directory at runtime are picked up without a restart.
type Registry struct {
	dir string

	mu       sync.RWMutex
	personas map[string]*Config
	files    map[string]string // persona name -> file name on disk
}

// NewRegistry creates the directory when missing and loads every persona in
// it. A file that fails to parse aborts the load: a service that starts with
// a broken persona on disk would fail later in a worse place.
func NewRegistry(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create persona dir: %w", err)
	}
	r := &Registry{
		dir:      dir,
		personas: make(map[string]*Config),
		files:    make(map[string]string),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Dir returns the backing directory.
func (r *Registry) Dir() string { return r.dir }

// Reload re-reads every persona file from disk, replacing the cache.
func (r *Registry) Reload() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("read persona dir: %w", err)
	}

	personas := make(map[string]*Config)
	files := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		format, err := FormatForPath(entry.Name())
		if err != nil {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		cfg, err := r.loadFile(filepath.Join(r.dir, entry.Name()), format)
		if err != nil {
			return fmt.Errorf("load persona %q: %w", name, err)
		}
		personas[name] = cfg
		files[name] = entry.Name()
	}

	r.mu.Lock()
	r.personas = personas
	r.files = files
	r.mu.Unlock()
	return nil
}

func (r *Registry) loadFile(path string, format Format) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(data, format)
}

// List returns the cached persona names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.personas))
	for name := range r.personas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns a copy of the named persona, loading it from disk on a cache
// miss. Returns ErrNotFound when no file exists in either format.
func (r *Registry) Get(name string) (*Config, error) {
	if !validName(name) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	r.mu.RLock()
	cfg, ok := r.personas[name]
	r.mu.RUnlock()
	if ok {
		return cfg.Clone(), nil
	}

	for _, ext := range []string{".yaml", ".yml", ".toml"} {
		file := name + ext
		format, err := FormatForPath(file)
		if err != nil {
			continue
		}
		loaded, err := r.loadFile(filepath.Join(r.dir, file), format)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		r.mu.Lock()
		r.personas[name] = loaded
		r.files[name] = file
		r.mu.Unlock()
		return loaded.Clone(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Save validates and persists a persona, overwriting any existing file of the
// same name. The format defaults to the one the persona was loaded with, else
// YAML.
func (r *Registry) Save(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	file, ok := r.files[cfg.Name]
	if !ok {
		file = cfg.Name + ".yaml"
	}
	format, err := FormatForPath(file)
	if err != nil {
		return fmt.Errorf("persona %q: %w", cfg.Name, err)
	}
	data, err := Encode(cfg, format)
	if err != nil {
		return fmt.Errorf("encode persona %q: %w", cfg.Name, err)
	}
	if err := os.WriteFile(filepath.Join(r.dir, file), data, 0o644); err != nil {
		return fmt.Errorf("write persona %q: %w", cfg.Name, err)
	}
	r.personas[cfg.Name] = cfg.Clone()
	r.files[cfg.Name] = file
	return nil
}

// Delete removes a persona from disk and cache. A missing file means the
// cache is stale: the entry is dropped and the caller gets ErrNotFound
// rather than a false success.
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	file, ok := r.files[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err := os.Remove(filepath.Join(r.dir, file)); err != nil {
		if os.IsNotExist(err) {
			delete(r.personas, name)
			delete(r.files, name)
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("delete persona %q: %w", name, err)
	}
	delete(r.personas, name)
	delete(r.files, name)
	return nil
}

// validName reports whether name is a clean single path element, so lookups
// built from it can never reach outside the registry directory.
func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) {
		return false
	}
	return filepath.Base(name) == name
}
