package modhost

import (
	"context"
	"fmt"
	"regexp"
)

// Validator accepts or rejects a request argument, either with a regular
// expression or by calling a function exported by a module. A function
// validator accepts when the function returns ResultOK.
type Validator struct {
	name     string
	pattern  *regexp.Regexp
	funcName string
	ref      *FunctionRef
}

// Name returns the validator name.
func (v *Validator) Name() string { return v.name }

// FuncName returns the function name of a function validator.
func (v *Validator) FuncName() string { return v.funcName }

// Validate checks a string argument.
func (v *Validator) Validate(ctx context.Context, value string) bool {
	return v.Check(ctx, value)
}

// Check runs the validator against arg. Regex validators only accept
// strings; function validators receive arg as their single argument.
func (v *Validator) Check(ctx context.Context, arg any) bool {
	if v.pattern != nil {
		s, ok := arg.(string)
		return ok && v.pattern.MatchString(s)
	}
	if v.ref == nil {
		return false
	}
	rc, err := v.ref.Invoke(ctx, arg)
	return err == nil && rc == ResultOK
}

func (v *Validator) release() {
	if v.ref != nil {
		v.ref.Release()
	}
}

// AddValidator declares a named validator. Exactly one of pattern and
// function must be set. The function must already be exported by a loaded
// module.
func (r *Registry) AddValidator(name, pattern, function string) (*Validator, error) {
	if (pattern == "") == (function == "") {
		return nil, fmt.Errorf("%w: %s", ErrInvalidValidator, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.validators[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrValidatorExists, name)
	}

	v := &Validator{name: name, funcName: function}
	if pattern != "" {
		re, err := regexp.CompilePOSIX(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: validator %s: %w", ErrInvalidPattern, name, err)
		}
		v.pattern = re
	} else {
		ref, err := r.findSymbol(function)
		if err != nil {
			return nil, fmt.Errorf("validator %s: %w", name, err)
		}
		v.ref = ref
	}

	r.validators[name] = v
	return v, nil
}

// Validator returns the named validator.
func (r *Registry) Validator(name string) (*Validator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.validators[name]
	return v, ok
}

// rebindValidators re-resolves function validators after a reload. A
// function that disappeared is fatal, the same as for handlers.
func (r *Registry) rebindValidators() error {
	for _, v := range r.validators {
		if v.funcName == "" {
			continue
		}
		ref, err := r.findSymbol(v.funcName)
		if err != nil {
			return r.fail("rebind", v.name, fmt.Errorf("no function for validator: %w", err))
		}
		v.release()
		v.ref = ref
	}
	return nil
}
