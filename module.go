package modhost

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ModuleState is the observable lifecycle state of a Module.
type ModuleState int

const (
	StateUnloaded ModuleState = iota
	StateLoaded
	StateReloading
)

func (s ModuleState) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoaded:
		return "loaded"
	case StateReloading:
		return "reloading"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Module is one loaded unit of executable code. It exclusively owns its
// handle and releases it through its loader on unload or reload.
type Module struct {
	path    string
	name    string
	modTime time.Time
	kind    RuntimeKind
	loader  Loader
	handle  Handle
	state   ModuleState

	onload    string
	onloadRef *FunctionRef

	// deps maps each file the module read while opening to its mtime then.
	deps map[string]time.Time
}

// Path returns the backing file, or "" for statically linked modules.
func (m *Module) Path() string { return m.path }

// Name returns the module's base name without extension, or the name it
// was registered under when statically linked.
func (m *Module) Name() string { return m.name }

// ModTime returns the last observed modification time of the backing file.
func (m *Module) ModTime() time.Time { return m.modTime }

// Dependencies returns the other files the module read when it was last
// opened, sorted. Only loaders implementing DependencyReporter report any.
func (m *Module) Dependencies() []string {
	out := make([]string, 0, len(m.deps))
	for path := range m.deps {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// Kind returns the runtime kind fixed at load time.
func (m *Module) Kind() RuntimeKind { return m.kind }

// State returns the lifecycle state.
func (m *Module) State() ModuleState { return m.state }

// Onload returns the declared lifecycle hook name, if any.
func (m *Module) Onload() string { return m.onload }

// HasOnload reports whether a lifecycle hook is resolved.
func (m *Module) HasOnload() bool { return m.onloadRef != nil }

// Static reports whether the module is linked into the binary.
func (m *Module) Static() bool { return m.path == "" }

// resolve looks up name in this module only.
func (m *Module) resolve(name string) (*FunctionRef, error) {
	if m.handle == nil {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotLoaded, m.name)
	}
	c, ok := m.loader.Resolve(m.handle, name)
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrSymbolNotFound, name, m.name)
	}
	return newFunctionRef(name, m, c), nil
}

// open loads the code unit through the module's loader and records the
// mtimes of the files it depends on.
func (m *Module) open() error {
	h, err := m.loader.Open(m.path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrModuleOpen, err)
	}
	m.handle = h

	m.deps = nil
	if dr, ok := m.loader.(DependencyReporter); ok {
		paths := dr.Dependencies(h)
		m.deps = make(map[string]time.Time, len(paths))
		for _, path := range paths {
			var mtime time.Time
			if st, err := os.Stat(path); err == nil {
				mtime = st.ModTime()
			}
			m.deps[path] = mtime
		}
	}
	return nil
}

// changedDependency returns the first dependency whose mtime moved since the
// module was opened. A dependency that cannot be stat'ed is an error.
func (m *Module) changedDependency() (string, error) {
	for _, path := range m.Dependencies() {
		st, err := os.Stat(path)
		if err != nil {
			return "", fmt.Errorf("dependency %s: %w", path, err)
		}
		if !st.ModTime().Equal(m.deps[path]) {
			return path, nil
		}
	}
	return "", nil
}

// close releases the handle once; later calls do nothing.
func (m *Module) close() error {
	if m.onloadRef != nil {
		m.onloadRef.Release()
		m.onloadRef = nil
	}
	if m.handle == nil {
		return nil
	}
	h := m.handle
	m.handle = nil
	m.state = StateUnloaded
	return m.loader.Close(h)
}

func moduleName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
