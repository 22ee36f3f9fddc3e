package modhost

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// Registry owns the loaded modules, the domains with their handler tables,
// and the validators and authorization policies handlers refer to.
//
// It is a single-writer structure. Configuration and reload passes take the
// write side of an internal gate; request dispatch through Route holds the
// read side for the whole match-and-invoke sequence, so a reload never swaps
// a module handle or a handler's function underneath a running call.
type Registry struct {
	mu sync.RWMutex

	loaders map[RuntimeKind]Loader
	modules []*Module

	domains     []*Domain
	domainIndex map[string]*Domain

	validators map[string]*Validator
	auth       map[string]*AuthPolicy

	logger  Logger
	fatal   FatalHandler
	subject *subject
}

// NewRegistry creates an empty registry. Loaders for each runtime kind are
// supplied with WithLoader.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		loaders:     make(map[RuntimeKind]Loader),
		domainIndex: make(map[string]*Domain),
		validators:  make(map[string]*Validator),
		auth:        make(map[string]*AuthPolicy),
		logger:      discardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.fatal == nil {
		r.fatal = exitFatalHandler(r.logger)
	}
	r.subject = newSubject(r.logger)
	return r
}

// Logger returns the registry logger.
func (r *Registry) Logger() Logger { return r.logger }

// RegisterObserver subscribes observer to the given event types, or to all
// events when none are given.
func (r *Registry) RegisterObserver(observer Observer, eventTypes ...string) error {
	r.subject.register(observer, eventTypes...)
	return nil
}

// UnregisterObserver removes observer. Unknown observers are ignored.
func (r *Registry) UnregisterObserver(observer Observer) error {
	r.subject.unregister(observer)
	return nil
}

// GetObservers lists the registered observers.
func (r *Registry) GetObservers() []ObserverInfo {
	return r.subject.info()
}

// Load opens the module at path and appends it to the registry. The runtime
// kind comes from the file extension; an unknown extension is rejected
// without touching the registry. Failing to open the file, or a declared
// onload hook that the module does not export, is fatal.
func (r *Registry) Load(path, onload string) (*Module, error) {
	kind, err := KindForPath(path)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	loader, ok := r.loaders[kind]
	if !ok {
		return nil, r.fail("load", path, fmt.Errorf("%w: %s", ErrNoLoader, kind))
	}

	st, err := os.Stat(path)
	if err != nil {
		return nil, r.fail("load", path, err)
	}

	m := &Module{
		path:    path,
		name:    moduleName(path),
		modTime: st.ModTime(),
		kind:    kind,
		loader:  loader,
		onload:  onload,
	}
	if err := m.open(); err != nil {
		return nil, r.fail("load", path, err)
	}

	if err := r.attach(m); err != nil {
		return nil, err
	}
	r.logger.Info("Module loaded", "path", path, "kind", kind, "onload", onload)
	return m, nil
}

// LoadStatic registers a module linked into the binary. symbols maps export
// names to Go functions in one of the shapes CallNative accepts. Static
// modules have no path and are never reloaded.
func (r *Registry) LoadStatic(name string, symbols map[string]any, onload string) (*Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	table := make(map[string]any, len(symbols))
	for k, v := range symbols {
		table[k] = v
	}
	m := &Module{
		name:   name,
		kind:   RuntimeNative,
		loader: staticLoader{},
		handle: table,
		onload: onload,
	}
	if err := r.attach(m); err != nil {
		return nil, err
	}
	r.logger.Info("Static module registered", "name", name, "symbols", len(table))
	return m, nil
}

// attach resolves the onload hook of an opened module and appends it.
func (r *Registry) attach(m *Module) error {
	if m.onload != "" {
		ref, err := m.resolve(m.onload)
		if err != nil {
			_ = m.close()
			return r.fail("load", m.name, fmt.Errorf("%w: %q: %w", ErrOnloadNotPresent, m.onload, err))
		}
		m.onloadRef = ref
	}
	m.state = StateLoaded
	r.modules = append(r.modules, m)
	r.emit(EventTypeModuleLoaded, moduleEvent(m, ""))
	return nil
}

// Modules returns the loaded modules in load order.
func (r *Registry) Modules() []*Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Module, len(r.modules))
	copy(out, r.modules)
	return out
}

// Loaded reports whether any module is loaded.
func (r *Registry) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.modules) > 0
}

// FindSymbol scans modules in load order and returns the first callable
// named name. The first-loaded module exporting it wins.
func (r *Registry) FindSymbol(name string) (*FunctionRef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findSymbol(name)
}

func (r *Registry) findSymbol(name string) (*FunctionRef, error) {
	for _, m := range r.modules {
		ref, err := m.resolve(name)
		if err == nil {
			r.logger.Debug("Resolved symbol", "symbol", name, "module", m.name, "kind", m.kind)
			return ref, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, name)
}

// DispatchLifecycle calls the module's onload hook with action. It fails if
// the module has no hook, the call errors, or the hook does not report
// ResultOK.
func (r *Registry) DispatchLifecycle(ctx context.Context, m *Module, action Action) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dispatchLifecycle(ctx, m, action)
}

func (r *Registry) dispatchLifecycle(ctx context.Context, m *Module, action Action) error {
	if m.onloadRef == nil {
		return fmt.Errorf("%w: %s", ErrNoOnloadHook, m.name)
	}
	rc, err := m.onloadRef.Invoke(ctx, int(action))
	if err != nil {
		return err
	}
	if rc != ResultOK {
		return fmt.Errorf("%w: %s %s returned %d", ErrLifecycleFailed, m.name, action, rc)
	}
	return nil
}

// OnloadAll dispatches ActionLoad to every module with a lifecycle hook. It
// runs once configuration has been applied, before requests are served.
// Hook failures are logged; they do not unload the module.
func (r *Registry) OnloadAll(ctx context.Context) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.modules {
		if m.onloadRef == nil {
			continue
		}
		if err := r.dispatchLifecycle(ctx, m, ActionLoad); err != nil {
			r.logger.Warn("Module onload failed", "module", m.name, "error", err)
		}
	}
}

// UnloadAll releases every handler's function reference, every validator's
// function reference and every module handle. It is meant for process
// shutdown; domains stay declared but lose their handlers.
func (r *Registry) UnloadAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range r.domains {
		for _, h := range d.handlers {
			h.Release()
		}
		d.handlers = nil
	}
	for _, v := range r.validators {
		v.release()
	}
	for _, m := range r.modules {
		if err := m.close(); err != nil {
			r.logger.Warn("Module close failed", "module", m.name, "error", err)
		}
		r.emit(EventTypeModuleUnloaded, moduleEvent(m, "shutdown"))
	}
	r.modules = nil
}

// fail builds a FatalError, hands it to the fatal handler and returns it.
func (r *Registry) fail(op, path string, err error) error {
	fe := &FatalError{Op: op, Path: path, Err: err}
	r.logger.Error("Fatal registry error", "op", op, "path", path, "error", err)
	r.fatal(fe)
	return fe
}
