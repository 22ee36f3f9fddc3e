package modhost

import (
	"context"
	"fmt"
	"net/http"
)

// AuthType selects where an authorization policy finds its credential.
type AuthType string

const (
	// AuthCookie validates the value of the cookie named by Value.
	AuthCookie AuthType = "cookie"
	// AuthHeader validates the value of the header named by Value.
	AuthHeader AuthType = "header"
	// AuthRequest hands the whole request to a function validator.
	AuthRequest AuthType = "request"
)

// AuthPolicy is a named authorization block that handlers may require.
type AuthPolicy struct {
	Name      string
	Type      AuthType
	Value     string
	Validator *Validator
	// Redirect, when set, is where unauthorized requests are sent instead
	// of receiving 403.
	Redirect string
}

// AuthSpec declares an authorization policy.
type AuthSpec struct {
	Name      string
	Type      AuthType
	Value     string
	Validator string
	Redirect  string
}

// Authorize reports whether req satisfies the policy.
func (a *AuthPolicy) Authorize(ctx context.Context, req *http.Request) bool {
	switch a.Type {
	case AuthCookie:
		c, err := req.Cookie(a.Value)
		if err != nil || c.Value == "" {
			return false
		}
		return a.Validator.Validate(ctx, c.Value)
	case AuthHeader:
		v := req.Header.Get(a.Value)
		if v == "" {
			return false
		}
		return a.Validator.Validate(ctx, v)
	case AuthRequest:
		return a.Validator.Check(ctx, req)
	default:
		return false
	}
}

// AddAuthPolicy declares an authorization policy over an existing validator.
func (r *Registry) AddAuthPolicy(spec AuthSpec) (*AuthPolicy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.auth[spec.Name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAuthExists, spec.Name)
	}

	switch spec.Type {
	case AuthCookie, AuthHeader:
		if spec.Value == "" {
			return nil, fmt.Errorf("%w: %s policy %s needs a value name", ErrInvalidAuthType, spec.Type, spec.Name)
		}
	case AuthRequest:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidAuthType, spec.Type)
	}

	v, ok := r.validators[spec.Validator]
	if !ok {
		return nil, fmt.Errorf("%w: %s for policy %s", ErrValidatorNotFound, spec.Validator, spec.Name)
	}
	if spec.Type == AuthRequest && v.funcName == "" {
		return nil, fmt.Errorf("%w: request policy %s needs a function validator", ErrInvalidAuthType, spec.Name)
	}

	a := &AuthPolicy{
		Name:      spec.Name,
		Type:      spec.Type,
		Value:     spec.Value,
		Validator: v,
		Redirect:  spec.Redirect,
	}
	r.auth[spec.Name] = a
	return a, nil
}

// AuthPolicy returns the named policy.
func (r *Registry) AuthPolicy(name string) (*AuthPolicy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.auth[name]
	return a, ok
}
