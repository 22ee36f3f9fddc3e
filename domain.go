package modhost

import (
	"path"
	"strings"
)

// Domain is a virtual host with an ordered handler table.
type Domain struct {
	name     string
	handlers []*Handler
}

// Name returns the virtual host name. It may contain shell-style wildcards.
func (d *Domain) Name() string { return d.name }

// Handlers returns the handlers in declaration order. The table is read
// without the registry gate: call it only from inside Route or while no
// goroutine can add, remove or reload handlers. Use
// Registry.HandlerSnapshot otherwise.
func (d *Domain) Handlers() []*Handler {
	out := make([]*Handler, len(d.handlers))
	copy(out, d.handlers)
	return out
}

// Match returns the first handler, in declaration order, whose pattern
// selects requestPath. Static entries get no precedence over dynamic ones
// declared before them.
func (d *Domain) Match(requestPath string) (*Handler, bool) {
	for _, h := range d.handlers {
		if h.Matches(requestPath) {
			return h, true
		}
	}
	return nil, false
}

func (d *Domain) wildcard() bool {
	return strings.ContainsAny(d.name, "*?[")
}

// hostMatches reports whether host is served by this domain.
func (d *Domain) hostMatches(host string) bool {
	if d.name == host {
		return true
	}
	if !d.wildcard() {
		return false
	}
	ok, err := path.Match(d.name, host)
	return err == nil && ok
}

// stripPort removes a trailing :port from a Host header value.
func stripPort(host string) string {
	if strings.HasPrefix(host, "[") {
		if i := strings.Index(host, "]"); i > 0 {
			return host[1:i]
		}
		return host
	}
	if i := strings.LastIndexByte(host, ':'); i >= 0 && !strings.Contains(host[:i], ":") {
		return host[:i]
	}
	return host
}
