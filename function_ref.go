package modhost

import (
	"context"
	"fmt"
	"sync"
)

// FunctionRef is a resolved callable tagged with the runtime that produced
// it. It is invoked the same way for every runtime kind.
type FunctionRef struct {
	name     string
	kind     RuntimeKind
	module   *Module
	callable Callable
	loader   Loader

	releaseOnce sync.Once
	released    bool
}

func newFunctionRef(name string, m *Module, c Callable) *FunctionRef {
	return &FunctionRef{
		name:     name,
		kind:     m.kind,
		module:   m,
		callable: c,
		loader:   m.loader,
	}
}

// Name returns the symbol name the reference was resolved from.
func (f *FunctionRef) Name() string { return f.name }

// Kind returns the runtime kind of the module that exported the symbol.
func (f *FunctionRef) Kind() RuntimeKind { return f.kind }

// Module returns the module that exported the symbol.
func (f *FunctionRef) Module() *Module { return f.module }

// Invoke calls the referenced function. A runtime error or panic is
// converted into an ErrInvocation error together with ResultError.
func (f *FunctionRef) Invoke(ctx context.Context, args ...any) (rc int, err error) {
	if f == nil || f.released {
		return ResultError, fmt.Errorf("%w: function reference released", ErrInvocation)
	}

	defer func() {
		if r := recover(); r != nil {
			rc = ResultError
			err = fmt.Errorf("%w: %s: panic: %v", ErrInvocation, f.name, r)
		}
	}()

	rc, err = f.loader.Invoke(ctx, f.callable, args)
	if err != nil {
		return ResultError, fmt.Errorf("%w: %s: %w", ErrInvocation, f.name, err)
	}
	return rc, nil
}

// Release gives back the runtime's ownership claim on the callable. Native
// references need nothing; scripted references drop their hold on the
// interpreter object. Calling Release more than once is a no-op.
func (f *FunctionRef) Release() {
	if f == nil {
		return
	}
	f.releaseOnce.Do(func() {
		if r, ok := f.loader.(Releaser); ok {
			r.Release(f.callable)
		}
		f.callable = nil
		f.released = true
	})
}
