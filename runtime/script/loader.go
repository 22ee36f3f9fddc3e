// Package script runs Starlark files (.star) as modhost modules.
//
// Opening a module executes the file once and freezes its globals; a
// module's callables are its global functions and builtins. Every call runs
// on a fresh starlark.Thread, so frozen modules can serve concurrent
// requests.
//
// Scripts see a predeclared "modhost" module:
//
//	modhost.MODULE_LOAD, modhost.MODULE_UNLOAD    lifecycle action codes
//	modhost.RESULT_OK, RESULT_ERROR, RESULT_RETRY  result codes
//	modhost.log(msg)                               log through the host logger
//
// load("other.star", "sym") resolves paths relative to the loading file.
// Every file reached through load() is reported by Dependencies, so a
// registry reload pass reopens a module when one of its helpers changes.
// Each Open runs its own load() graph; helpers are not shared between
// modules.
package script

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/GoCodeAlone/modhost"
)

var (
	ErrForeignHandle = errors.New("script: foreign handle")
	ErrLoadCycle     = errors.New("script: load cycle")
	ErrResultType    = errors.New("script: unsupported return value")
)

// module is the handle of one executed script.
type module struct {
	path    string
	globals starlark.StringDict
	deps    []string
	closed  bool
}

// function is a resolved callable. It holds a reference on its module until
// released.
type function struct {
	name     string
	fn       starlark.Callable
	module   *module
	released bool
}

// Loader implements modhost.Loader for Starlark.
type Loader struct {
	logger      modhost.Logger
	predeclared starlark.StringDict

	mu          sync.Mutex
	open        int
	outstanding int
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger routes print() and modhost.log() output to logger.
func WithLogger(logger modhost.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithPredeclared exposes an extra global to every script.
func WithPredeclared(name string, value starlark.Value) Option {
	return func(l *Loader) {
		l.predeclared[name] = value
	}
}

// NewLoader creates a Starlark loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{predeclared: starlark.StringDict{}}
	for _, opt := range opts {
		opt(l)
	}
	l.predeclared["modhost"] = l.hostModule()
	return l
}

// Kind returns modhost.RuntimeScripted.
func (l *Loader) Kind() modhost.RuntimeKind { return modhost.RuntimeScripted }

// Open executes the script at path and freezes its globals.
func (l *Loader) Open(path string) (modhost.Handle, error) {
	root := filepath.Clean(path)
	cache := map[string]*loadEntry{root: {}}
	globals, err := l.exec(path, cache)
	if err != nil {
		return nil, err
	}

	deps := make([]string, 0, len(cache)-1)
	for target := range cache {
		if target != root {
			deps = append(deps, target)
		}
	}
	sort.Strings(deps)

	l.mu.Lock()
	l.open++
	l.mu.Unlock()
	return &module{path: path, globals: globals, deps: deps}, nil
}

// Dependencies lists the files the module reached through load().
func (l *Loader) Dependencies(h modhost.Handle) []string {
	m, ok := h.(*module)
	if !ok {
		return nil
	}
	return append([]string(nil), m.deps...)
}

type loadEntry struct {
	globals starlark.StringDict
	err     error
	done    bool
}

func (l *Loader) exec(path string, cache map[string]*loadEntry) (starlark.StringDict, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("script: %w", err)
	}

	thread := l.newThread(path)
	thread.Load = func(_ *starlark.Thread, name string) (starlark.StringDict, error) {
		target := filepath.Clean(name)
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(path), name)
		}
		if e, ok := cache[target]; ok {
			if !e.done {
				return nil, fmt.Errorf("%w: %s", ErrLoadCycle, target)
			}
			return e.globals, e.err
		}
		e := &loadEntry{}
		cache[target] = e
		e.globals, e.err = l.exec(target, cache)
		e.done = true
		return e.globals, e.err
	}

	globals, err := starlark.ExecFile(thread, path, src, l.predeclared)
	if err != nil {
		var evalErr *starlark.EvalError
		if errors.As(err, &evalErr) {
			return nil, fmt.Errorf("script: %s: %s", path, evalErr.Backtrace())
		}
		return nil, fmt.Errorf("script: %s: %w", path, err)
	}
	globals.Freeze()
	return globals, nil
}

// Close marks the module closed. Callables resolved earlier keep working
// until released, the same lifetime an interpreter reference would have.
func (l *Loader) Close(h modhost.Handle) error {
	m, ok := h.(*module)
	if !ok {
		return ErrForeignHandle
	}
	if m.closed {
		return fmt.Errorf("script: %s already closed", m.path)
	}
	m.closed = true
	m.globals = nil

	l.mu.Lock()
	l.open--
	l.mu.Unlock()
	return nil
}

// Resolve returns a global of the module if it is callable.
func (l *Loader) Resolve(h modhost.Handle, name string) (modhost.Callable, bool) {
	m, ok := h.(*module)
	if !ok || m.closed {
		return nil, false
	}
	v, ok := m.globals[name]
	if !ok {
		return nil, false
	}
	fn, ok := v.(starlark.Callable)
	if !ok {
		return nil, false
	}

	l.mu.Lock()
	l.outstanding++
	l.mu.Unlock()
	return &function{name: name, fn: fn, module: m}, true
}

// Release drops a callable's hold on its function value.
func (l *Loader) Release(c modhost.Callable) {
	f, ok := c.(*function)
	if !ok || f.released {
		return
	}
	f.released = true
	f.fn = nil
	f.module = nil

	l.mu.Lock()
	l.outstanding--
	l.mu.Unlock()
}

// Invoke calls the function on a new thread. Cancelling ctx cancels the
// Starlark execution.
func (l *Loader) Invoke(ctx context.Context, c modhost.Callable, args []any) (int, error) {
	f, ok := c.(*function)
	if !ok || f.released {
		return modhost.ResultError, fmt.Errorf("script: callable released or foreign")
	}

	tuple := make(starlark.Tuple, 0, len(args))
	for i, a := range args {
		v, err := ToValue(a)
		if err != nil {
			return modhost.ResultError, fmt.Errorf("script: %s argument %d: %w", f.name, i, err)
		}
		tuple = append(tuple, v)
	}

	thread := l.newThread(f.name)
	stop := context.AfterFunc(ctx, func() { thread.Cancel(ctx.Err().Error()) })
	defer stop()

	result, err := starlark.Call(thread, f.fn, tuple, nil)
	if err != nil {
		var evalErr *starlark.EvalError
		if errors.As(err, &evalErr) {
			return modhost.ResultError, fmt.Errorf("%s", evalErr.Backtrace())
		}
		return modhost.ResultError, err
	}
	return resultCode(result)
}

// Stats returns the number of open modules and unreleased callables.
func (l *Loader) Stats() (open, outstanding int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open, l.outstanding
}

func (l *Loader) newThread(name string) *starlark.Thread {
	return &starlark.Thread{
		Name: name,
		Print: func(t *starlark.Thread, msg string) {
			if l.logger != nil {
				l.logger.Info(msg, "script", t.Name)
			}
		},
	}
}

func (l *Loader) hostModule() *starlarkstruct.Module {
	return &starlarkstruct.Module{
		Name: "modhost",
		Members: starlark.StringDict{
			"MODULE_LOAD":   starlark.MakeInt(int(modhost.ActionLoad)),
			"MODULE_UNLOAD": starlark.MakeInt(int(modhost.ActionUnload)),
			"RESULT_OK":     starlark.MakeInt(modhost.ResultOK),
			"RESULT_ERROR":  starlark.MakeInt(modhost.ResultError),
			"RESULT_RETRY":  starlark.MakeInt(modhost.ResultRetry),
			"log":           starlark.NewBuiltin("log", l.builtinLog),
		},
	}
}

func (l *Loader) builtinLog(t *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var msg string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &msg); err != nil {
		return nil, err
	}
	if l.logger != nil {
		l.logger.Info(msg, "script", t.Name)
	}
	return starlark.None, nil
}

// resultCode normalizes a script's return value.
func resultCode(v starlark.Value) (int, error) {
	switch x := v.(type) {
	case starlark.NoneType:
		return modhost.ResultOK, nil
	case starlark.Bool:
		if x {
			return modhost.ResultOK, nil
		}
		return modhost.ResultError, nil
	case starlark.Int:
		n, ok := x.Int64()
		if !ok {
			return modhost.ResultError, fmt.Errorf("%w: integer out of range", ErrResultType)
		}
		return int(n), nil
	default:
		return modhost.ResultError, fmt.Errorf("%w: %s", ErrResultType, v.Type())
	}
}
