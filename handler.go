package modhost

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
)

// MatchMode selects how a handler's path pattern is compared.
type MatchMode int

const (
	// MatchStatic matches the request path byte for byte.
	MatchStatic MatchMode = iota
	// MatchDynamic matches with an extended regular expression.
	MatchDynamic
)

func (m MatchMode) String() string {
	switch m {
	case MatchStatic:
		return "static"
	case MatchDynamic:
		return "dynamic"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMatchMode parses "static" or "dynamic"; the empty string is static.
func ParseMatchMode(s string) (MatchMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "static":
		return MatchStatic, nil
	case "dynamic", "regex":
		return MatchDynamic, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidMatchMode, s)
	}
}

// Param binds a request argument name to the validator that must accept it.
type Param struct {
	Name      string
	Validator *Validator
}

// Arg is a request argument that passed validation.
type Arg struct {
	Name  string
	Value string
}

// Handler binds a path pattern in one domain to a resolved function.
type Handler struct {
	path     string
	mode     MatchMode
	pattern  *regexp.Regexp
	funcName string
	ref      *FunctionRef
	domain   *Domain
	auth     *AuthPolicy
	params   []Param
	errors   atomic.Uint64

	onFailure func(h *Handler, err error)
}

// Path returns the declared path pattern.
func (h *Handler) Path() string { return h.path }

// Mode returns the match mode.
func (h *Handler) Mode() MatchMode { return h.mode }

// FuncName returns the function name the handler was declared with.
func (h *Handler) FuncName() string { return h.funcName }

// Function returns the currently bound function reference. A reload swaps
// the reference under the registry gate, so the result is only stable inside
// Route or while nothing reloads concurrently.
func (h *Handler) Function() *FunctionRef { return h.ref }

// Domain returns the owning domain.
func (h *Handler) Domain() *Domain { return h.domain }

// Auth returns the authorization policy, or nil for unauthenticated handlers.
func (h *Handler) Auth() *AuthPolicy { return h.auth }

// Params returns the declared parameters in declaration order.
func (h *Handler) Params() []Param {
	out := make([]Param, len(h.params))
	copy(out, h.params)
	return out
}

// ErrorCount returns the number of failed invocations since the last reload.
func (h *Handler) ErrorCount() uint64 { return h.errors.Load() }

// Matches reports whether path selects this handler.
func (h *Handler) Matches(path string) bool {
	if h.mode == MatchDynamic {
		return h.pattern != nil && h.pattern.MatchString(path)
	}
	return h.path == path
}

// Invoke calls the bound function. A runtime error or a ResultError return
// counts as a failure: the error count grows and ResultError is reported.
func (h *Handler) Invoke(ctx context.Context, args ...any) (int, error) {
	rc, err := h.ref.Invoke(ctx, args...)
	if err != nil || rc == ResultError {
		h.errors.Add(1)
		if h.onFailure != nil {
			h.onFailure(h, err)
		}
		return ResultError, err
	}
	return rc, nil
}

// FilterArgs returns the arguments that match a declared parameter and pass
// its validator, in declaration order. Undeclared arguments are dropped.
func (h *Handler) FilterArgs(ctx context.Context, args map[string]string) []Arg {
	out := make([]Arg, 0, len(h.params))
	for _, p := range h.params {
		v, ok := args[p.Name]
		if !ok {
			continue
		}
		if p.Validator != nil && !p.Validator.Validate(ctx, v) {
			continue
		}
		out = append(out, Arg{Name: p.Name, Value: v})
	}
	return out
}

// Release drops the compiled pattern, the function reference and the
// parameter list. The handler must already be unreachable from its domain.
func (h *Handler) Release() {
	h.pattern = nil
	h.ref.Release()
	h.params = nil
}
