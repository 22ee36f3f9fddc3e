package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	golobby "github.com/golobby/config/v3"
	"github.com/golobby/config/v3/pkg/feeder"
)

var (
	ErrUnsupportedFormat = errors.New("config: unsupported file format")
	ErrInvalidConfig     = errors.New("config: invalid configuration")
)

// Source describes one input the loader read.
type Source struct {
	Name       string     `json:"name"`
	Type       string     `json:"type"`
	Location   string     `json:"location"`
	Loaded     bool       `json:"loaded"`
	LastLoaded *time.Time `json:"last_loaded,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Loader reads a configuration file and layers environment overrides on
// top of it.
type Loader struct {
	envPrefix string
	sources   []*Source
}

// NewLoader creates a loader using the MODHOST environment prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: EnvPrefix}
}

// WithEnvPrefix changes the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Load reads path, applies environment overrides, fills defaults and
// validates the result. The format follows the file extension: .yaml, .yml
// or .toml.
func (l *Loader) Load(path string) (*Config, error) {
	fileFeeder, format, err := fileFeederFor(path)
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg := &Config{baseDir: filepath.Dir(abs)}
	fileSource := &Source{Name: "file", Type: format, Location: abs}
	envSource := &Source{Name: "environment", Type: "env", Location: l.envPrefix + "_*"}
	l.sources = []*Source{fileSource, envSource}

	c := golobby.New().
		AddFeeder(fileFeeder).
		AddFeeder(NewPrefixedEnvFeeder(l.envPrefix)).
		AddStruct(cfg)
	if err := c.Feed(); err != nil {
		fileSource.Error = err.Error()
		return nil, fmt.Errorf("config: feed %s: %w", path, err)
	}
	now := time.Now()
	fileSource.Loaded, fileSource.LastLoaded = true, &now
	envSource.Loaded, envSource.LastLoaded = true, &now

	if err := ApplyDefaults(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Sources returns the inputs of the last Load.
func (l *Loader) Sources() []*Source {
	out := make([]*Source, len(l.sources))
	copy(out, l.sources)
	return out
}

// Load reads a configuration file with the default loader.
func Load(path string) (*Config, error) {
	return NewLoader().Load(path)
}

func fileFeederFor(path string) (golobby.Feeder, string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return feeder.Yaml{Path: path}, "yaml", nil
	case ".toml":
		return feeder.Toml{Path: path}, "toml", nil
	default:
		return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, path)
	}
}
