package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Sample returns an example configuration with defaults applied.
func Sample() *Config {
	cfg := &Config{
		Reload: ReloadConfig{Watch: true, Signal: true},
		Modules: []ModuleConfig{
			{Path: "modules/app.star", Onload: "on_load"},
		},
		Validators: []ValidatorConfig{
			{Name: "v_id", Pattern: "^[0-9]+$"},
			{Name: "v_session", Function: "check_session"},
		},
		Auth: []AuthConfig{
			{Name: "session", Type: "cookie", Value: "sid", Validator: "v_session", Redirect: "/login"},
		},
		Domains: []DomainConfig{{
			Name: "*",
			Handlers: []HandlerConfig{
				{Path: "/", Function: "index"},
				{Path: "^/users/[0-9]+$", Mode: "dynamic", Function: "user", Auth: "session",
					Params: []ParamConfig{{Name: "id", Validator: "v_id"}}},
			},
		}},
	}
	_ = ApplyDefaults(cfg)
	return cfg
}

// Marshal renders cfg as "yaml" or "toml".
func Marshal(cfg *Config, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "yaml", "yml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal to YAML: %w", err)
		}
		return data, nil
	case "toml":
		var buf strings.Builder
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, fmt.Errorf("failed to marshal to TOML: %w", err)
		}
		return []byte(buf.String()), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}
