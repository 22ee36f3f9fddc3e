// Package config reads the modhost server configuration from YAML or TOML
// files, with MODHOST_* environment overrides, and applies it to a registry.
package config

import (
	"time"
)

// Config is the root of a modhost configuration file.
type Config struct {
	Server     ServerConfig      `yaml:"server" toml:"server"`
	Reload     ReloadConfig      `yaml:"reload" toml:"reload"`
	Modules    []ModuleConfig    `yaml:"modules,omitempty" toml:"modules,omitempty"`
	Validators []ValidatorConfig `yaml:"validators,omitempty" toml:"validators,omitempty"`
	Auth       []AuthConfig      `yaml:"auth,omitempty" toml:"auth,omitempty"`
	Domains    []DomainConfig    `yaml:"domains,omitempty" toml:"domains,omitempty"`

	// baseDir is the directory of the file the config was loaded from.
	// Relative module paths resolve against it.
	baseDir string
}

// ServerConfig configures the HTTP front end.
type ServerConfig struct {
	Listen       string        `yaml:"listen" toml:"listen" env:"LISTEN" default:":8080"`
	ReadTimeout  time.Duration `yaml:"readTimeout" toml:"readTimeout" default:"15s"`
	WriteTimeout time.Duration `yaml:"writeTimeout" toml:"writeTimeout" default:"30s"`
	Metrics      bool          `yaml:"metrics" toml:"metrics" env:"METRICS"`
	MetricsPath  string        `yaml:"metricsPath" toml:"metricsPath" default:"/metrics"`
	// ReloadPath exposes POST-triggered reload passes when set.
	ReloadPath string `yaml:"reloadPath" toml:"reloadPath" env:"RELOAD_PATH"`
}

// ReloadConfig selects what triggers reload passes.
type ReloadConfig struct {
	// Schedule is a cron expression, e.g. "@every 30s".
	Schedule string `yaml:"schedule" toml:"schedule" env:"RELOAD_SCHEDULE"`
	// Watch reloads when a module file is written.
	Watch    bool          `yaml:"watch" toml:"watch" env:"RELOAD_WATCH"`
	Debounce time.Duration `yaml:"debounce" toml:"debounce" default:"250ms"`
	// Signal reloads on SIGHUP.
	Signal bool `yaml:"signal" toml:"signal" env:"RELOAD_SIGNAL"`
}

// ModuleConfig declares a module to load.
type ModuleConfig struct {
	Path   string `yaml:"path" toml:"path" required:"true"`
	Onload string `yaml:"onload" toml:"onload"`
}

// ValidatorConfig declares a regex or function validator.
type ValidatorConfig struct {
	Name     string `yaml:"name" toml:"name" required:"true"`
	Pattern  string `yaml:"pattern" toml:"pattern"`
	Function string `yaml:"function" toml:"function"`
}

// AuthConfig declares an authorization policy.
type AuthConfig struct {
	Name      string `yaml:"name" toml:"name" required:"true"`
	Type      string `yaml:"type" toml:"type" required:"true"`
	Value     string `yaml:"value" toml:"value"`
	Validator string `yaml:"validator" toml:"validator" required:"true"`
	Redirect  string `yaml:"redirect" toml:"redirect"`
}

// DomainConfig declares a virtual host and its handlers in match order.
type DomainConfig struct {
	Name     string          `yaml:"name" toml:"name" required:"true"`
	Handlers []HandlerConfig `yaml:"handlers,omitempty" toml:"handlers,omitempty"`
}

// HandlerConfig declares one handler.
type HandlerConfig struct {
	Path     string        `yaml:"path" toml:"path" required:"true"`
	Mode     string        `yaml:"mode" toml:"mode"`
	Function string        `yaml:"function" toml:"function" required:"true"`
	Auth     string        `yaml:"auth,omitempty" toml:"auth,omitempty"`
	Params   []ParamConfig `yaml:"params,omitempty" toml:"params,omitempty"`
}

// ParamConfig declares a request argument a handler accepts.
type ParamConfig struct {
	Name      string `yaml:"name" toml:"name" required:"true"`
	Validator string `yaml:"validator" toml:"validator"`
}

// BaseDir returns the directory relative module paths resolve against.
func (c *Config) BaseDir() string { return c.baseDir }
