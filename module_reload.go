package modhost

import (
	"context"
	"fmt"
	"os"
	"time"
)

// ReloadReport summarizes one reload pass.
type ReloadReport struct {
	// Reloaded lists the paths of modules that were swapped.
	Reloaded []string
	// Skipped lists modules left untouched this pass, with the reason.
	Skipped []SkippedModule
	// Rebound is the number of handlers whose function was re-resolved.
	Rebound int
}

// SkippedModule is a module a reload pass could not process.
type SkippedModule struct {
	Path   string
	Reason string
}

// Changed reports whether the pass swapped any module.
func (rep ReloadReport) Changed() bool { return len(rep.Reloaded) > 0 }

// ReloadChanged re-stats every file-backed module, and every file it
// depends on, and reloads those whose modification time moved. A stat
// failure or an unload veto skips the module for this pass and leaves its
// handle and recorded mtimes untouched, so the next pass retries. Failing to reopen a module or to re-resolve its onload
// hook is fatal.
//
// When at least one module was swapped, every handler in every domain is
// re-resolved through FindSymbol and its error count reset, and function
// validators are re-resolved. A pass that finds nothing changed does no work.
func (r *Registry) ReloadChanged(ctx context.Context) (ReloadReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var report ReloadReport
	for _, m := range r.modules {
		if m.Static() {
			continue
		}

		st, err := os.Stat(m.path)
		if err != nil {
			r.logger.Warn("Cannot stat module, skipping reload", "path", m.path, "error", err)
			report.Skipped = append(report.Skipped, SkippedModule{Path: m.path, Reason: err.Error()})
			r.emit(EventTypeModuleReloadSkipped, moduleEvent(m, err.Error()))
			continue
		}
		if st.ModTime().Equal(m.modTime) {
			dep, err := m.changedDependency()
			if err != nil {
				r.logger.Warn("Cannot stat module dependency, skipping reload", "path", m.path, "error", err)
				report.Skipped = append(report.Skipped, SkippedModule{Path: m.path, Reason: err.Error()})
				r.emit(EventTypeModuleReloadSkipped, moduleEvent(m, err.Error()))
				continue
			}
			if dep == "" {
				continue
			}
			r.logger.Debug("Module dependency changed", "path", m.path, "dependency", dep)
		}

		if err := r.reloadModule(ctx, m, st.ModTime()); err != nil {
			if IsFatal(err) {
				return report, err
			}
			report.Skipped = append(report.Skipped, SkippedModule{Path: m.path, Reason: err.Error()})
			r.emit(EventTypeModuleReloadSkipped, moduleEvent(m, err.Error()))
			continue
		}
		report.Reloaded = append(report.Reloaded, m.path)
	}

	if !report.Changed() {
		return report, nil
	}

	n, err := r.rebindHandlers()
	report.Rebound = n
	if err != nil {
		return report, err
	}
	if err := r.rebindValidators(); err != nil {
		return report, err
	}
	return report, nil
}

func (r *Registry) reloadModule(ctx context.Context, m *Module, modTime time.Time) error {
	if m.onloadRef != nil {
		if err := r.dispatchLifecycle(ctx, m, ActionUnload); err != nil {
			r.logger.Warn("Not reloading module, unload hook refused", "path", m.path, "error", err)
			return fmt.Errorf("unload vetoed: %w", err)
		}
	}

	m.state = StateReloading
	if m.onloadRef != nil {
		m.onloadRef.Release()
		m.onloadRef = nil
	}

	old := m.handle
	m.handle = nil
	if err := m.loader.Close(old); err != nil {
		return r.fail("reload", m.path, fmt.Errorf("cannot close existing module: %w", err))
	}
	if err := m.open(); err != nil {
		return r.fail("reload", m.path, err)
	}
	m.modTime = modTime

	if m.onload != "" {
		ref, err := m.resolve(m.onload)
		if err != nil {
			return r.fail("reload", m.path, fmt.Errorf("%w: %q: %w", ErrOnloadNotPresent, m.onload, err))
		}
		m.onloadRef = ref
		if err := r.dispatchLifecycle(ctx, m, ActionLoad); err != nil {
			r.logger.Warn("Module onload failed after reload", "path", m.path, "error", err)
		}
	}

	m.state = StateLoaded
	r.logger.Info("Module reloaded", "path", m.path, "kind", m.kind)
	r.emit(EventTypeModuleReloaded, moduleEvent(m, ""))
	return nil
}

// rebindHandlers re-resolves every handler's function. The old reference is
// released only once its replacement exists, so a handler never becomes
// unbound while reachable.
func (r *Registry) rebindHandlers() (int, error) {
	n := 0
	for _, d := range r.domains {
		for _, h := range d.handlers {
			ref, err := r.findSymbol(h.funcName)
			if err != nil {
				return n, r.fail("rebind", h.path, fmt.Errorf("%w: %q: %w", ErrHandlerFuncMissing, h.funcName, err))
			}
			h.ref.Release()
			h.ref = ref
			h.errors.Store(0)
			n++
		}
	}
	return n, nil
}
