package country

// registry.go implements the process-wide rule set cache.
//
// Each slug is read and parsed at most once. Concurrent first loads of the
// same slug share one read through singleflight. A missing document falls
// back to the default country; a malformed one is always an error.

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/addrintel/internal/platform/validator"
)

// DefaultSlug is the country used when no country is given or the requested
// one has no rule document.
const DefaultSlug = "south-africa"

// Load outcomes reported to a LoadRecorder.
const (
	OutcomeHit      = "hit"
	OutcomeLoaded   = "loaded"
	OutcomeFallback = "fallback"
	OutcomeError    = "error"
)

// LoadRecorder receives one event per Load call.
type LoadRecorder interface {
	ConfigLoad(slug, outcome string)
}

type decodeFunc func(data []byte, cfg *Config) error

// extensions lists supported document formats in lookup order.
var extensions = []struct {
	ext    string
	decode decodeFunc
}{
	{".json", decodeJSON},
	{".yaml", decodeYAML},
	{".yml", decodeYAML},
	{".toml", decodeTOML},
}

// Registry loads and caches rule sets from a file system.
type Registry struct {
	fsys        fs.FS
	defaultSlug string
	validate    *validator.Validator
	recorder    LoadRecorder

	group singleflight.Group

	mu    sync.RWMutex
	cache map[string]*Config
}

// Option configures a Registry.
type Option func(*Registry)

// WithRecorder reports load outcomes to rec.
func WithRecorder(rec LoadRecorder) Option {
	return func(r *Registry) { r.recorder = rec }
}

// WithValidator replaces the struct validator used on decoded documents.
func WithValidator(v *validator.Validator) Option {
	return func(r *Registry) { r.validate = v }
}

// NewRegistry creates a registry reading documents from the root of fsys.
// An empty defaultSlug means DefaultSlug.
func NewRegistry(fsys fs.FS, defaultSlug string, opts ...Option) *Registry {
	if defaultSlug = Normalize(defaultSlug); defaultSlug == "" {
		defaultSlug = DefaultSlug
	}
	r := &Registry{
		fsys:        fsys,
		defaultSlug: defaultSlug,
		validate:    validator.New(),
		cache:       make(map[string]*Config),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewDirRegistry creates a registry over a directory on disk.
func NewDirRegistry(dir, defaultSlug string, opts ...Option) *Registry {
	return NewRegistry(os.DirFS(dir), defaultSlug, opts...)
}

// Default returns the default slug.
func (r *Registry) Default() string {
	return r.defaultSlug
}

// Load returns the rule set for a country name, code or slug. An empty input
// or a country without a document resolves to the default country.
func (r *Registry) Load(input string) (*Config, error) {
	slug := Normalize(input)
	if slug == "" {
		slug = r.defaultSlug
	}

	cfg, err := r.loadSlug(slug)
	if err == nil {
		return cfg, nil
	}

	var nf *NotFoundError
	if !errors.As(err, &nf) || slug == r.defaultSlug {
		r.record(slug, OutcomeError)
		return nil, err
	}

	slog.Warn("country config not found, using default",
		"requested", input,
		"slug", slug,
		"default", r.defaultSlug,
	)
	r.record(slug, OutcomeFallback)

	cfg, err = r.loadSlug(r.defaultSlug)
	if err != nil {
		r.record(r.defaultSlug, OutcomeError)
		return nil, err
	}
	return cfg, nil
}

// loadSlug serves a slug from cache or reads it once.
func (r *Registry) loadSlug(slug string) (*Config, error) {
	r.mu.RLock()
	cfg, ok := r.cache[slug]
	r.mu.RUnlock()
	if ok {
		r.record(slug, OutcomeHit)
		return cfg, nil
	}

	v, err, _ := r.group.Do(slug, func() (any, error) {
		r.mu.RLock()
		cached, ok := r.cache[slug]
		r.mu.RUnlock()
		if ok {
			return cached, nil
		}

		loaded, err := r.read(slug)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.cache[slug] = loaded
		r.mu.Unlock()

		slog.Info("country config loaded", "slug", slug, "country", loaded.CountryName)
		r.record(slug, OutcomeLoaded)
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Config), nil
}

// read finds, decodes, validates and compiles the document for slug.
func (r *Registry) read(slug string) (*Config, error) {
	if strings.ContainsAny(slug, `/\`) || !fs.ValidPath(slug) {
		return nil, &NotFoundError{Slug: slug}
	}

	for _, e := range extensions {
		name := slug + e.ext
		data, err := fs.ReadFile(r.fsys, name)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read country config %s: %w", name, err)
		}

		cfg := &Config{}
		if err := e.decode(data, cfg); err != nil {
			return nil, &ParseError{Slug: slug, File: name, Err: err}
		}
		if err := r.validate.Struct(cfg); err != nil {
			return nil, &ParseError{Slug: slug, File: name, Err: errors.New(validator.Describe(err))}
		}
		if err := cfg.compile(); err != nil {
			return nil, &ParseError{Slug: slug, File: name, Err: err}
		}
		cfg.Slug = slug
		return cfg, nil
	}

	return nil, &NotFoundError{Slug: slug}
}

// Invalidate drops one slug from the cache so the next Load reads it again.
func (r *Registry) Invalidate(input string) {
	slug := Normalize(input)
	r.mu.Lock()
	delete(r.cache, slug)
	r.mu.Unlock()
}

// InvalidateAll empties the cache.
func (r *Registry) InvalidateAll() {
	r.mu.Lock()
	r.cache = make(map[string]*Config)
	r.mu.Unlock()
}

// Slugs lists the countries that have a rule document, sorted.
func (r *Registry) Slugs() ([]string, error) {
	entries, err := fs.ReadDir(r.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("list country configs: %w", err)
	}

	seen := make(map[string]bool)
	var slugs []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := path.Ext(name)
		if !supportedExt(ext) {
			continue
		}
		slug := strings.TrimSuffix(name, ext)
		if !seen[slug] {
			seen[slug] = true
			slugs = append(slugs, slug)
		}
	}
	sort.Strings(slugs)
	return slugs, nil
}

func supportedExt(ext string) bool {
	for _, e := range extensions {
		if e.ext == ext {
			return true
		}
	}
	return false
}

func (r *Registry) record(slug, outcome string) {
	if r.recorder != nil {
		r.recorder.ConfigLoad(slug, outcome)
	}
}

func decodeJSON(data []byte, cfg *Config) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after document")
	}
	return nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(cfg)
}

func decodeTOML(data []byte, cfg *Config) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(cfg)
}
