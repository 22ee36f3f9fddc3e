package modhost

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/require"
)

// fakeLoader serves .star files whose exported symbols are defined by the
// test. Each Open snapshots the current definition for that path, so a test
// can change what a module exports between reloads.
type fakeLoader struct {
	mu       sync.Mutex
	defs     map[string]map[string]any
	deps     map[string][]string
	failOpen map[string]error
	opens    int
	closes   int
	resolves int
	releases int
	gen      int
}

type fakeHandle struct {
	path    string
	gen     int
	symbols map[string]any
	deps    []string
	closed  bool
}

type fakeCallable struct {
	fn       any
	gen      int
	released bool
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{
		defs:     make(map[string]map[string]any),
		deps:     make(map[string][]string),
		failOpen: make(map[string]error),
	}
}

func (l *fakeLoader) define(path string, symbols map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.defs[path] = symbols
}

func (l *fakeLoader) Kind() RuntimeKind { return RuntimeScripted }

func (l *fakeLoader) Open(path string) (Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.failOpen[path]; err != nil {
		return nil, err
	}
	l.opens++
	l.gen++
	symbols := make(map[string]any)
	for k, v := range l.defs[path] {
		symbols[k] = v
	}
	return &fakeHandle{path: path, gen: l.gen, symbols: symbols, deps: l.deps[path]}, nil
}

// dependsOn makes later opens of path report deps as its dependencies.
func (l *fakeLoader) dependsOn(path string, deps ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deps[path] = deps
}

func (l *fakeLoader) Dependencies(h Handle) []string {
	return h.(*fakeHandle).deps
}

func (l *fakeLoader) Close(h Handle) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	fh := h.(*fakeHandle)
	if fh.closed {
		return fmt.Errorf("double close of %s", fh.path)
	}
	fh.closed = true
	l.closes++
	return nil
}

func (l *fakeLoader) Resolve(h Handle, name string) (Callable, bool) {
	fh := h.(*fakeHandle)
	fn, ok := fh.symbols[name]
	if !ok || !IsNativeCallable(fn) {
		return nil, false
	}
	l.mu.Lock()
	l.resolves++
	l.mu.Unlock()
	return &fakeCallable{fn: fn, gen: fh.gen}, true
}

func (l *fakeLoader) Invoke(ctx context.Context, c Callable, args []any) (int, error) {
	fc := c.(*fakeCallable)
	if fc.released {
		return ResultError, errors.New("callable used after release")
	}
	return CallNative(ctx, fc.fn, args)
}

func (l *fakeLoader) Release(c Callable) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fc := c.(*fakeCallable)
	if fc.released {
		panic("double release")
	}
	fc.released = true
	l.releases++
}

func (l *fakeLoader) counts() (opens, closes, resolves, releases int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opens, l.closes, l.resolves, l.releases
}

// fatalRecorder collects fatal errors instead of exiting.
type fatalRecorder struct {
	mu   sync.Mutex
	errs []*FatalError
}

func (f *fatalRecorder) handle(err *FatalError) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, err)
}

func (f *fatalRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.errs)
}

type testEnv struct {
	reg    *Registry
	loader *fakeLoader
	fatals *fatalRecorder
	dir    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	loader := newFakeLoader()
	fatals := &fatalRecorder{}
	reg := NewRegistry(WithLoader(loader), WithFatalHandler(fatals.handle))
	return &testEnv{reg: reg, loader: loader, fatals: fatals, dir: t.TempDir()}
}

// module writes a module file stamped with mtime and defines its symbols.
func (e *testEnv) module(t *testing.T, name string, mtime time.Time, symbols map[string]any) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte("# "+name), 0o600))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	e.loader.define(path, symbols)
	return path
}

func touch(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func constHandler(rc int) func(context.Context, []any) (int, error) {
	return func(context.Context, []any) (int, error) { return rc, nil }
}

func okHook(int) int { return ResultOK }

// eventRecorder is an Observer that keeps every event it receives.
type eventRecorder struct {
	mu     sync.Mutex
	events []cloudevents.Event
}

func (r *eventRecorder) OnEvent(_ context.Context, event cloudevents.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) ObserverID() string { return "recorder" }

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type())
	}
	return out
}

func (r *eventRecorder) has(eventType string) bool {
	for _, t := range r.types() {
		if t == eventType {
			return true
		}
	}
	return false
}

func touchErr(path string, mtime time.Time) error {
	return os.Chtimes(path, mtime, mtime)
}

func (r *eventRecorder) snapshot() []cloudevents.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]cloudevents.Event(nil), r.events...)
}
