// Package native loads Go plugins (.so files built with -buildmode=plugin)
// as modhost modules.
//
// The Go runtime cannot unload a plugin, and plugin.Open refuses a second
// plugin whose plugin path matches one already loaded. The loader keeps a
// table of every plugin it has opened, keyed by the sha256 of the file's
// bytes. Opening bytes it has seen before reuses the loaded symbol table, so
// a reload after a touch-only change never reaches plugin.Open. New bytes are
// staged as a private copy named after their digest and opened from there;
// the copy is removed once no handle refers to it.
//
// A rebuilt plugin only loads if its plugin path differs from every earlier
// generation. Build plugins from file arguments:
//
//	go build -buildmode=plugin -o app.so ./app/main.go
//
// which gives each build a plugin path derived from its content. Building a
// package path (go build -buildmode=plugin ./app) reuses the import path as
// the plugin path, and reopening such a rebuild fails with
// ErrPluginAlreadyLoaded. Memory of earlier generations stays mapped until
// the process exits.
package native

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"strings"
	"sync"

	"github.com/GoCodeAlone/modhost"
)

// ErrPluginAlreadyLoaded is returned by Open when the runtime already holds a
// different plugin with the same plugin path.
var ErrPluginAlreadyLoaded = errors.New("native: plugin path already loaded; build plugins from file arguments so each build gets its own plugin path")

// symbolTable is the part of *plugin.Plugin the loader needs.
type symbolTable interface {
	Lookup(symName string) (plugin.Symbol, error)
}

// loaded is one plugin the runtime has opened. It is never forgotten since
// the runtime cannot unload it.
type loaded struct {
	table  symbolTable
	staged string
	refs   int
}

type handle struct {
	table  symbolTable
	source string
	digest string
	closed bool
}

// Loader implements modhost.Loader for native plugins.
type Loader struct {
	stageDir string
	open     func(path string) (symbolTable, error)

	mu     sync.Mutex
	loaded map[string]*loaded
}

// Option configures a Loader.
type Option func(*Loader)

// WithStageDir sets where staged plugin copies are written. The default is a
// modhost-plugins directory under os.TempDir().
func WithStageDir(dir string) Option {
	return func(l *Loader) {
		l.stageDir = dir
	}
}

// NewLoader creates a native plugin loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		stageDir: filepath.Join(os.TempDir(), "modhost-plugins"),
		open:     openPlugin,
		loaded:   make(map[string]*loaded),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func openPlugin(path string) (symbolTable, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Kind returns modhost.RuntimeNative.
func (l *Loader) Kind() modhost.RuntimeKind { return modhost.RuntimeNative }

// Open loads the plugin at path. Bytes that were opened before reuse the
// existing symbol table.
func (l *Loader) Open(path string) (modhost.Handle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("native: %w", err)
	}
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	l.mu.Lock()
	defer l.mu.Unlock()

	if p, ok := l.loaded[digest]; ok {
		p.refs++
		return &handle{table: p.table, source: path, digest: digest}, nil
	}

	staged, err := l.stage(path, digest, data)
	if err != nil {
		return nil, err
	}
	table, err := l.open(staged)
	if err != nil {
		_ = os.Remove(staged)
		if strings.Contains(err.Error(), "plugin already loaded") {
			return nil, fmt.Errorf("%w: %s", ErrPluginAlreadyLoaded, path)
		}
		return nil, fmt.Errorf("native: open %s: %w", path, err)
	}
	l.loaded[digest] = &loaded{table: table, staged: staged, refs: 1}
	return &handle{table: table, source: path, digest: digest}, nil
}

// Close releases the handle. The staged copy is deleted when the last handle
// on those bytes closes; the symbol table stays cached for a later Open.
func (l *Loader) Close(h modhost.Handle) error {
	nh, ok := h.(*handle)
	if !ok {
		return fmt.Errorf("native: foreign handle %T", h)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if nh.closed {
		return nil
	}
	nh.closed = true
	nh.table = nil

	p, ok := l.loaded[nh.digest]
	if !ok {
		return nil
	}
	p.refs--
	if p.refs > 0 || p.staged == "" {
		return nil
	}
	staged := p.staged
	p.staged = ""
	if err := os.Remove(staged); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("native: remove staged copy: %w", err)
	}
	return nil
}

// Resolve looks up an exported function. Exported variables and functions
// of an unsupported shape are reported as not found.
func (l *Loader) Resolve(h modhost.Handle, name string) (modhost.Callable, bool) {
	nh, ok := h.(*handle)
	if !ok || nh.table == nil {
		return nil, false
	}
	sym, err := nh.table.Lookup(name)
	if err != nil || !modhost.IsNativeCallable(sym) {
		return nil, false
	}
	return sym, true
}

// Invoke calls a resolved symbol.
func (l *Loader) Invoke(ctx context.Context, c modhost.Callable, args []any) (int, error) {
	return modhost.CallNative(ctx, c, args)
}

// stage writes data to a private file named after its digest. The caller
// holds l.mu.
func (l *Loader) stage(path, digest string, data []byte) (string, error) {
	if err := os.MkdirAll(l.stageDir, 0o700); err != nil {
		return "", fmt.Errorf("native: stage dir: %w", err)
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	staged := filepath.Join(l.stageDir, fmt.Sprintf("%s-%d-%s.so", base, os.Getpid(), digest[:16]))
	if err := os.WriteFile(staged, data, 0o700); err != nil {
		_ = os.Remove(staged)
		return "", fmt.Errorf("native: copy %s: %w", path, err)
	}
	return staged, nil
}
