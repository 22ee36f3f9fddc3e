package modhost

import (
	"context"
	"fmt"
	"regexp"
)

// HandlerSpec declares a handler as the configuration layer supplies it.
type HandlerSpec struct {
	Domain   string
	Path     string
	Mode     MatchMode
	Function string
	Auth     string
	Params   []ParamSpec
}

// ParamSpec names a request argument and the validator guarding it.
type ParamSpec struct {
	Name      string
	Validator string
}

// AddDomain declares a virtual host. Names are unique.
func (r *Registry) AddDomain(name string) (*Domain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.domainIndex[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDomainExists, name)
	}
	d := &Domain{name: name}
	r.domains = append(r.domains, d)
	r.domainIndex[name] = d
	r.logger.Debug("Domain added", "domain", name)
	return d, nil
}

// Domains returns the declared domains in declaration order.
func (r *Registry) Domains() []*Domain {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Domain, len(r.domains))
	copy(out, r.domains)
	return out
}

// HandlerInfo is a copy of one handler's state, taken under the registry
// gate.
type HandlerInfo struct {
	Domain   string
	Path     string
	Mode     MatchMode
	Function string
	Module   string
	Auth     string
	Params   []string
	Errors   uint64
}

// DomainInfo lists one domain's handlers in match order.
type DomainInfo struct {
	Name     string
	Handlers []HandlerInfo
}

// HandlerSnapshot copies every domain's handler table while holding the
// read gate, so it is safe to call concurrently with AddHandler,
// RemoveHandler, reloads and UnloadAll.
func (r *Registry) HandlerSnapshot() []DomainInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]DomainInfo, 0, len(r.domains))
	for _, d := range r.domains {
		info := DomainInfo{Name: d.name, Handlers: make([]HandlerInfo, 0, len(d.handlers))}
		for _, h := range d.handlers {
			hi := HandlerInfo{
				Domain:   d.name,
				Path:     h.path,
				Mode:     h.mode,
				Function: h.funcName,
				Errors:   h.errors.Load(),
			}
			if h.ref != nil && h.ref.module != nil {
				hi.Module = h.ref.module.name
			}
			if h.auth != nil {
				hi.Auth = h.auth.Name
			}
			for _, p := range h.params {
				hi.Params = append(hi.Params, p.Name)
			}
			info.Handlers = append(info.Handlers, hi)
		}
		out = append(out, info)
	}
	return out
}

// LookupDomain finds the domain serving host. An exact name wins; otherwise
// wildcard domains are tried in declaration order. A port suffix is ignored.
func (r *Registry) LookupDomain(host string) (*Domain, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookupDomain(host)
}

func (r *Registry) lookupDomain(host string) (*Domain, bool) {
	host = stripPort(host)
	if d, ok := r.domainIndex[host]; ok {
		return d, true
	}
	for _, d := range r.domains {
		if d.wildcard() && d.hostMatches(host) {
			return d, true
		}
	}
	return nil, false
}

// AddHandler creates a handler and appends it to its domain's table.
//
// A function that no module exports, or an unknown authorization policy, is
// fatal: configuration and deployed code disagree. An unknown domain, a
// pattern that does not compile or an unknown validator is returned to the
// caller as an ordinary error.
func (r *Registry) AddHandler(spec HandlerSpec) (*Handler, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref, err := r.findSymbol(spec.Function)
	if err != nil {
		return nil, r.fail("handler", spec.Path, fmt.Errorf("%w: %q: %w", ErrHandlerFuncMissing, spec.Function, err))
	}

	h, err := r.buildHandler(spec, ref)
	if err != nil {
		ref.Release()
		return nil, err
	}

	h.domain.handlers = append(h.domain.handlers, h)
	r.logger.Debug("Handler added", "domain", spec.Domain, "path", spec.Path, "mode", spec.Mode, "function", spec.Function, "kind", ref.Kind())
	return h, nil
}

func (r *Registry) buildHandler(spec HandlerSpec, ref *FunctionRef) (*Handler, error) {
	d, ok := r.domainIndex[spec.Domain]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDomainNotFound, spec.Domain)
	}

	var auth *AuthPolicy
	if spec.Auth != "" {
		auth, ok = r.auth[spec.Auth]
		if !ok {
			return nil, r.fail("handler", spec.Path, fmt.Errorf("%w: %s", ErrAuthNotFound, spec.Auth))
		}
	}

	h := &Handler{
		path:      spec.Path,
		mode:      spec.Mode,
		funcName:  spec.Function,
		ref:       ref,
		domain:    d,
		auth:      auth,
		onFailure: r.handlerFailed,
	}

	switch spec.Mode {
	case MatchStatic:
	case MatchDynamic:
		re, err := regexp.CompilePOSIX(spec.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrInvalidPattern, spec.Path, err)
		}
		h.pattern = re
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidMatchMode, int(spec.Mode))
	}

	for _, p := range spec.Params {
		var v *Validator
		if p.Validator != "" {
			v, ok = r.validators[p.Validator]
			if !ok {
				return nil, fmt.Errorf("%w: %s for parameter %s", ErrValidatorNotFound, p.Validator, p.Name)
			}
		}
		h.params = append(h.params, Param{Name: p.Name, Validator: v})
	}
	return h, nil
}

// RemoveHandler unlinks h from its domain and releases it.
func (r *Registry) RemoveHandler(h *Handler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := h.domain
	for i, cur := range d.handlers {
		if cur == h {
			d.handlers = append(d.handlers[:i:i], d.handlers[i+1:]...)
			h.Release()
			return true
		}
	}
	return false
}

// Match finds the handler for requestPath in the domain serving host.
func (r *Registry) Match(host, requestPath string) (*Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.match(host, requestPath)
}

func (r *Registry) match(host, requestPath string) (*Handler, error) {
	d, ok := r.lookupDomain(host)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDomainNotFound, host)
	}
	h, ok := d.Match(requestPath)
	if !ok {
		return nil, fmt.Errorf("%w: %s%s", ErrNoMatch, d.name, requestPath)
	}
	return h, nil
}

// Route matches host and requestPath and runs fn with the handler while
// holding the dispatch side of the registry gate. Reload passes wait until
// fn returns.
func (r *Registry) Route(ctx context.Context, host, requestPath string, fn func(ctx context.Context, h *Handler) error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, err := r.match(host, requestPath)
	if err != nil {
		return err
	}
	return fn(ctx, h)
}

func (r *Registry) handlerFailed(h *Handler, err error) {
	ev := HandlerFailedEvent{
		Domain:     h.domain.name,
		Path:       h.path,
		Function:   h.funcName,
		ErrorCount: h.errors.Load(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	r.logger.Warn("Handler failed", "domain", ev.Domain, "path", ev.Path, "function", ev.Function, "errors", ev.ErrorCount, "error", err)
	r.emit(EventTypeHandlerFailed, ev)
}
