package config

import (
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/GoCodeAlone/modhost"
)

// Validate checks the configuration for problems that can be found without
// loading any module: required fields, runtime kinds, match modes, schedule
// syntax and references between sections. All problems are reported
// together.
func (c *Config) Validate() error {
	var errs []error
	if err := CheckRequired(c); err != nil {
		errs = append(errs, err)
	}

	if c.Reload.Schedule != "" {
		if _, err := cron.ParseStandard(c.Reload.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("reload.schedule: %w", err))
		}
	}

	for _, m := range c.Modules {
		if m.Path == "" {
			continue
		}
		if _, err := modhost.KindForPath(m.Path); err != nil {
			errs = append(errs, fmt.Errorf("module %s: %w", m.Path, err))
		}
	}

	validators := make(map[string]bool, len(c.Validators))
	for _, v := range c.Validators {
		if validators[v.Name] {
			errs = append(errs, fmt.Errorf("validator %s: %w", v.Name, modhost.ErrValidatorExists))
		}
		validators[v.Name] = true
		if (v.Pattern == "") == (v.Function == "") {
			errs = append(errs, fmt.Errorf("validator %s: %w", v.Name, modhost.ErrInvalidValidator))
		}
	}

	policies := make(map[string]bool, len(c.Auth))
	for _, a := range c.Auth {
		if policies[a.Name] {
			errs = append(errs, fmt.Errorf("auth %s: %w", a.Name, modhost.ErrAuthExists))
		}
		policies[a.Name] = true
		switch modhost.AuthType(a.Type) {
		case modhost.AuthCookie, modhost.AuthHeader, modhost.AuthRequest:
		default:
			errs = append(errs, fmt.Errorf("auth %s: %w: %q", a.Name, modhost.ErrInvalidAuthType, a.Type))
		}
		if a.Validator != "" && !validators[a.Validator] {
			errs = append(errs, fmt.Errorf("auth %s: %w: %s", a.Name, modhost.ErrValidatorNotFound, a.Validator))
		}
	}

	domains := make(map[string]bool, len(c.Domains))
	for _, d := range c.Domains {
		if domains[d.Name] {
			errs = append(errs, fmt.Errorf("domain %s: %w", d.Name, modhost.ErrDomainExists))
		}
		domains[d.Name] = true
		for _, h := range d.Handlers {
			if _, err := modhost.ParseMatchMode(h.Mode); err != nil {
				errs = append(errs, fmt.Errorf("handler %s%s: %w", d.Name, h.Path, err))
			}
			if h.Auth != "" && !policies[h.Auth] {
				errs = append(errs, fmt.Errorf("handler %s%s: %w: %s", d.Name, h.Path, modhost.ErrAuthNotFound, h.Auth))
			}
			for _, p := range h.Params {
				if p.Validator != "" && !validators[p.Validator] {
					errs = append(errs, fmt.Errorf("handler %s%s param %s: %w: %s", d.Name, h.Path, p.Name, modhost.ErrValidatorNotFound, p.Validator))
				}
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
