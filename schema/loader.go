package schema

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rlch/palm"
)

// Loader errors.
var (
	ErrSourceNotFound = errors.New("schema: source not found")
	ErrParseError     = errors.New("schema: parse error")
	ErrUnknownFormat  = errors.New("schema: unknown source format")
)

// Extensions recognised as model sources.
const (
	ExtDSL  = ".palm"
	ExtYAML = ".models.yaml"
	ExtYML  = ".models.yml"
)

// LoadError wraps a failure to load one source.
type LoadError struct {
	Path  string
	Cause error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.Path, e.Cause)
}

func (e *LoadError) Unwrap() error { return e.Cause }

// Source is one loaded file of model declarations.
type Source struct {
	// Path is the absolute path of the file.
	Path string

	defs []modelDef
}

// Names returns the declared model names in order.
func (s *Source) Names() []string {
	names := make([]string, len(s.defs))
	for i, d := range s.defs {
		names[i] = d.name
	}

	return names
}

// Models builds fresh models from the source. Each call returns new
// values, so the same source can populate several catalogs.
func (s *Source) Models() ([]*palm.Model, error) {
	return build(s.defs)
}

// Loader handles loading and caching of model sources.
type Loader struct {
	mu sync.Mutex
	// cache stores parsed sources by absolute path.
	cache map[string]*Source
}

// NewLoader creates a new source loader.
func NewLoader() *Loader {
	return &Loader{cache: make(map[string]*Source)}
}

// IsSource reports whether path names a model source file.
func IsSource(path string) bool {
	return formatOf(path) != ""
}

func formatOf(path string) string {
	base := strings.ToLower(filepath.Base(path))

	switch {
	case strings.HasSuffix(base, ExtYAML):
		return ExtYAML
	case strings.HasSuffix(base, ExtYML):
		return ExtYAML
	case strings.HasSuffix(base, ExtDSL):
		return ExtDSL
	default:
		return ""
	}
}

// Load loads a source file. Relative paths are resolved from the current
// working directory. Returns a cached source if already loaded.
func (l *Loader) Load(path string) (*Source, error) {
	absPath, err := resolvePath(path)
	if err != nil {
		return nil, &LoadError{Path: path, Cause: err}
	}

	l.mu.Lock()
	src, ok := l.cache[absPath]
	l.mu.Unlock()

	if ok {
		return src, nil
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, &LoadError{Path: absPath, Cause: err}
	}

	defs, err := parseSource(absPath, data)
	if err != nil {
		return nil, &LoadError{Path: absPath, Cause: err}
	}

	src = &Source{Path: absPath, defs: defs}

	l.mu.Lock()
	l.cache[absPath] = src
	l.mu.Unlock()

	return src, nil
}

// LoadAll loads every source under paths into a new catalog. Directories
// are searched with Discover. The catalog is not initialized.
func (l *Loader) LoadAll(paths ...string) (*palm.Catalog, error) {
	var files []string

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, &LoadError{Path: p, Cause: fmt.Errorf("%w: %w", ErrSourceNotFound, err)}
		}

		if !info.IsDir() {
			files = append(files, p)

			continue
		}

		found, err := Discover(p)
		if err != nil {
			return nil, err
		}

		files = append(files, found...)
	}

	catalog := palm.NewCatalog()

	for _, f := range files {
		src, err := l.Load(f)
		if err != nil {
			return nil, err
		}

		models, err := src.Models()
		if err != nil {
			return nil, &LoadError{Path: src.Path, Cause: err}
		}

		err = catalog.Register(models...)
		if err != nil {
			return nil, &LoadError{Path: src.Path, Cause: err}
		}
	}

	return catalog, nil
}

// Clear clears the source cache.
func (l *Loader) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cache = make(map[string]*Source)
}

// Cached returns all cached sources.
func (l *Loader) Cached() map[string]*Source {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := make(map[string]*Source, len(l.cache))
	maps.Copy(result, l.cache)

	return result
}

func resolvePath(path string) (string, error) {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(absPath); err != nil {
		return "", fmt.Errorf("%w: %s", ErrSourceNotFound, path)
	}

	return absPath, nil
}

func parseSource(path string, data []byte) ([]modelDef, error) {
	switch formatOf(path) {
	case ExtDSL:
		f, err := Parse(path, data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrParseError, err)
		}

		return defsFromFile(f)
	case ExtYAML:
		defs, err := defsFromYAML(path, data)
		if err != nil {
			var declErr *DeclError
			if errors.As(err, &declErr) {
				return nil, err
			}

			return nil, fmt.Errorf("%w: %w", ErrParseError, err)
		}

		return defs, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, filepath.Base(path))
	}
}
