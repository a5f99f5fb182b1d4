package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/maps"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the default environment variable prefix.
const DefaultEnvPrefix = "REDLINE_"

// envSectionSeparator separates sections in environment variable names, so
// that keys may keep their own underscores:
// REDLINE_SERVER__READ_BUFFER_SIZE -> server.read_buffer_size.
const envSectionSeparator = "__"

// Loader loads configuration from multiple sources.
// Later sources override earlier ones: file, environment, overrides.
type Loader struct {
	k         *koanf.Koanf
	envPrefix string
	filePath  string
	overrides map[string]any
}

// Option is a function that configures the Loader.
type Option func(*Loader)

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// WithConfigFile sets the configuration file path.
func WithConfigFile(path string) Option {
	return func(l *Loader) {
		l.filePath = path
	}
}

// WithOverrides sets values that take precedence over every other source,
// keyed by dotted path (e.g. "server.addr"). Used for command-line flags.
func WithOverrides(values map[string]any) Option {
	return func(l *Loader) {
		l.overrides = values
	}
}

// NewLoader creates a new configuration loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{envPrefix: DefaultEnvPrefix}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// FilePath returns the configuration file path, if any.
func (l *Loader) FilePath() string {
	return l.filePath
}

// Load reads every source and unmarshals the result over Default().
// The returned configuration has been verified.
func (l *Loader) Load() (*Config, error) {
	l.k = koanf.New(".")

	if l.filePath != "" {
		if err := l.k.Load(file.Provider(l.filePath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", l.filePath, err)
		}
	}

	prefix := l.envPrefix
	transform := func(s string) string {
		s = strings.TrimPrefix(s, prefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, envSectionSeparator, ".")
	}
	if err := l.k.Load(env.Provider(prefix, ".", transform), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	if len(l.overrides) > 0 {
		if err := l.k.Load(mapProvider(l.overrides), nil); err != nil {
			return nil, fmt.Errorf("load overrides: %w", err)
		}
	}

	cfg := Default()
	if err := l.k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// mapProvider is a koanf provider over a map of dotted keys.
type mapProvider map[string]any

// ReadBytes is not supported; koanf uses Read for map providers.
func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("map provider does not support ReadBytes")
}

// Read returns the overrides as a nested map.
func (m mapProvider) Read() (map[string]any, error) {
	flat := make(map[string]any, len(m))
	for k, v := range m {
		flat[k] = v
	}
	return maps.Unflatten(flat, "."), nil
}
