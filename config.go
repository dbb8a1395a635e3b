package palm

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the .palm.yaml configuration file.
type Config struct {
	// Connections maps connection names to engine settings.
	Connections map[string]*ConnectionConfig `yaml:"connections"`

	// Models lists files or directories holding model declarations,
	// relative to the config file.
	Models []string `yaml:"models,omitempty"`

	Translate TranslateConfig `yaml:"translate,omitempty"`

	// dir is the directory of the loaded file.
	dir string
}

// ConnectionConfig holds the settings of one engine connection.
type ConnectionConfig struct {
	// Name is the connection name, filled from the Connections key.
	Name     string         `yaml:"-"`
	Engine   string         `yaml:"engine"`
	URI      string         `yaml:"uri,omitempty"`
	Username string         `yaml:"username,omitempty"`
	Password string         `yaml:"password,omitempty"`
	Database string         `yaml:"database,omitempty"`
	Options  map[string]any `yaml:"options,omitempty"`
}

// TranslateConfig tunes the translation pipeline.
type TranslateConfig struct {
	MaxIterations int           `yaml:"max_iterations,omitempty"`
	Timeout       time.Duration `yaml:"timeout,omitempty"`
	// Confirm is one of "ask", "approve" or "deny".
	Confirm        string `yaml:"confirm,omitempty"`
	StrictDeferred bool   `yaml:"strict_deferred,omitempty"`
	Concurrency    int    `yaml:"concurrency,omitempty"`
}

// PipelineOptions converts the settings into pipeline options. Confirm is
// resolved by the caller.
func (t TranslateConfig) PipelineOptions() []PipelineOption {
	opts := []PipelineOption{WithStrictDeferred(t.StrictDeferred)}

	if t.MaxIterations > 0 {
		opts = append(opts, WithMaxIterations(t.MaxIterations))
	}

	if t.Timeout > 0 {
		opts = append(opts, WithTimeout(t.Timeout))
	}

	if t.Concurrency > 0 {
		opts = append(opts, WithConcurrency(t.Concurrency))
	}

	return opts
}

// DefaultConfigNames are the filenames we search for.
var DefaultConfigNames = []string{".palm.yaml", ".palm.yml", "palm.yaml", "palm.yml"}

// LoadConfig finds and loads the nearest .palm.yaml walking up from dir.
func LoadConfig(dir string) (*Config, error) {
	path, err := FindConfig(dir)
	if err != nil {
		return nil, err
	}

	return LoadConfigFile(path)
}

// FindConfig searches for a config file starting from dir and walking up.
func FindConfig(dir string) (string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}

	for dir := absDir; ; {
		for _, name := range DefaultConfigNames {
			path := filepath.Join(dir, name)

			_, err := os.Stat(path)
			if err == nil {
				return path, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrConfigNotFound
		}

		dir = parent
	}
}

// LoadConfigFile loads a config from a specific path.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	cfg.dir = filepath.Dir(abs)

	return cfg, nil
}

// ParseConfig decodes a config document and validates its connections.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config

	err := yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, err
	}

	for name, conn := range cfg.Connections {
		if conn == nil {
			conn = &ConnectionConfig{}
			cfg.Connections[name] = conn
		}

		conn.Name = name

		if conn.Engine == "" {
			return nil, fmt.Errorf("connection %q: %w: no engine set", name, ErrUnknownEngine)
		}
	}

	return &cfg, nil
}

// ConnectionNames returns the configured connection names, sorted.
func (c *Config) ConnectionNames() []string {
	names := make([]string, 0, len(c.Connections))
	for name := range c.Connections {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

// ModelPaths returns the model sources resolved against the config
// directory. With none configured the config directory itself is used.
func (c *Config) ModelPaths() []string {
	base := c.dir
	if base == "" {
		base = "."
	}

	if len(c.Models) == 0 {
		return []string{base}
	}

	out := make([]string, len(c.Models))
	for i, p := range c.Models {
		if filepath.IsAbs(p) {
			out[i] = p
		} else {
			out[i] = filepath.Join(base, p)
		}
	}

	return out
}

// Engines creates one engine per configured connection, sorted by
// connection name.
func (c *Config) Engines() ([]Engine, error) {
	out := make([]Engine, 0, len(c.Connections))

	for _, name := range c.ConnectionNames() {
		conn := c.Connections[name]

		eng, err := NewEngine(conn.Engine, *conn)
		if err != nil {
			return nil, fmt.Errorf("connection %q: %w", name, err)
		}

		out = append(out, eng)
	}

	return out, nil
}
