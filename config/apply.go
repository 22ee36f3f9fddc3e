package config

import (
	"fmt"
	"path/filepath"

	"github.com/GoCodeAlone/modhost"
)

// Apply builds the registry from cfg: modules first, then validators,
// authorization policies, domains and finally handlers in declaration
// order. It stops at the first error.
func Apply(cfg *Config, reg *modhost.Registry) error {
	for _, m := range cfg.Modules {
		if _, err := reg.Load(cfg.ModulePath(m), m.Onload); err != nil {
			return fmt.Errorf("module %s: %w", m.Path, err)
		}
	}

	for _, v := range cfg.Validators {
		if _, err := reg.AddValidator(v.Name, v.Pattern, v.Function); err != nil {
			return err
		}
	}

	for _, a := range cfg.Auth {
		_, err := reg.AddAuthPolicy(modhost.AuthSpec{
			Name:      a.Name,
			Type:      modhost.AuthType(a.Type),
			Value:     a.Value,
			Validator: a.Validator,
			Redirect:  a.Redirect,
		})
		if err != nil {
			return err
		}
	}

	for _, d := range cfg.Domains {
		if _, err := reg.AddDomain(d.Name); err != nil {
			return err
		}
	}

	for _, d := range cfg.Domains {
		for _, h := range d.Handlers {
			mode, err := modhost.ParseMatchMode(h.Mode)
			if err != nil {
				return err
			}
			spec := modhost.HandlerSpec{
				Domain:   d.Name,
				Path:     h.Path,
				Mode:     mode,
				Function: h.Function,
				Auth:     h.Auth,
			}
			for _, p := range h.Params {
				spec.Params = append(spec.Params, modhost.ParamSpec{Name: p.Name, Validator: p.Validator})
			}
			if _, err := reg.AddHandler(spec); err != nil {
				return fmt.Errorf("handler %s%s: %w", d.Name, h.Path, err)
			}
		}
	}
	return nil
}

// ModulePath resolves a module path against the config file's directory.
func (c *Config) ModulePath(m ModuleConfig) string {
	if filepath.IsAbs(m.Path) || c.baseDir == "" {
		return m.Path
	}
	return filepath.Join(c.baseDir, m.Path)
}

// ModulePaths returns the resolved paths of all configured modules.
func (c *Config) ModulePaths() []string {
	out := make([]string, 0, len(c.Modules))
	for _, m := range c.Modules {
		out = append(out, c.ModulePath(m))
	}
	return out
}
