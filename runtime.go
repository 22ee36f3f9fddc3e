package modhost

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// RuntimeKind classifies the execution environment a module runs in.
type RuntimeKind int

const (
	// RuntimeNative modules are compiled Go plugins.
	RuntimeNative RuntimeKind = iota + 1
	// RuntimeScripted modules are Starlark files run by the embedded interpreter.
	RuntimeScripted
)

func (k RuntimeKind) String() string {
	switch k {
	case RuntimeNative:
		return "native"
	case RuntimeScripted:
		return "scripted"
	default:
		return fmt.Sprintf("runtime(%d)", int(k))
	}
}

// runtimeSuffixes is the fixed mapping from file extension to runtime kind.
var runtimeSuffixes = map[string]RuntimeKind{
	".so":   RuntimeNative,
	".star": RuntimeScripted,
}

// KindForPath determines the runtime kind of a module file from its extension.
func KindForPath(path string) (RuntimeKind, error) {
	ext := strings.ToLower(filepath.Ext(path))
	kind, ok := runtimeSuffixes[ext]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownRuntime, path)
	}
	return kind, nil
}

// Action is the code passed to a module's lifecycle hook.
type Action int

const (
	ActionLoad   Action = 1
	ActionUnload Action = 2
)

func (a Action) String() string {
	switch a {
	case ActionLoad:
		return "load"
	case ActionUnload:
		return "unload"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Normalized result codes returned by every invocation regardless of runtime.
const (
	ResultError = 0
	ResultOK    = 1
	ResultRetry = 2
)

// Handle is the opaque, loader-specific state of an opened code unit.
type Handle any

// Callable is the opaque, loader-specific form of a resolved symbol.
type Callable any

// NativeFunc is the preferred signature for request handlers exported by
// native plugins.
type NativeFunc func(ctx context.Context, args []any) (int, error)

// Loader opens, inspects and calls into code units of one runtime kind.
// The registry only ever talks to modules through this contract.
type Loader interface {
	// Kind reports which runtime this loader serves.
	Kind() RuntimeKind

	// Open loads the code unit at path.
	Open(path string) (Handle, error)

	// Close releases a handle returned by Open. The registry calls it
	// exactly once per successful Open.
	Close(h Handle) error

	// Resolve looks up a callable symbol. Symbols that exist but cannot be
	// called report false.
	Resolve(h Handle, name string) (Callable, bool)

	// Invoke calls a callable and returns its normalized result code.
	Invoke(ctx context.Context, c Callable, args []any) (int, error)
}

// DependencyReporter is implemented by loaders whose modules read other
// files while opening, such as scripts that load() helpers. ReloadChanged
// treats a modification of any dependency as a modification of the module.
type DependencyReporter interface {
	Dependencies(h Handle) []string
}

// Releaser is implemented by loaders whose callables hold an ownership claim
// on the underlying runtime object that must be given back.
type Releaser interface {
	Release(c Callable)
}
