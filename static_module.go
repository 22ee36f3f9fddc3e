package modhost

import (
	"context"
	"fmt"
)

// CallNative invokes a Go function value exported by a native or statically
// linked module. Supported shapes:
//
//	func(int) int                              lifecycle hooks
//	func(context.Context, []any) (int, error)  handlers, NativeFunc
//	func([]any) int                            handlers without context
//
// Plugin lookups of function variables yield pointers, so *T of each shape
// is accepted as well.
func CallNative(ctx context.Context, sym any, args []any) (int, error) {
	switch fn := sym.(type) {
	case NativeFunc:
		return fn(ctx, args)
	case func(context.Context, []any) (int, error):
		return fn(ctx, args)
	case *NativeFunc:
		return (*fn)(ctx, args)
	case *func(context.Context, []any) (int, error):
		return (*fn)(ctx, args)
	case func([]any) int:
		return fn(args), nil
	case *func([]any) int:
		return (*fn)(args), nil
	case func(int) int:
		return fn(intArg(args)), nil
	case *func(int) int:
		return (*fn)(intArg(args)), nil
	default:
		return ResultError, fmt.Errorf("%w: unsupported signature %T", ErrNotCallable, sym)
	}
}

// IsNativeCallable reports whether CallNative can invoke sym.
func IsNativeCallable(sym any) bool {
	switch sym.(type) {
	case NativeFunc, func(context.Context, []any) (int, error),
		*NativeFunc, *func(context.Context, []any) (int, error),
		func([]any) int, *func([]any) int,
		func(int) int, *func(int) int:
		return true
	}
	return false
}

func intArg(args []any) int {
	if len(args) == 0 {
		return 0
	}
	switch v := args[0].(type) {
	case int:
		return v
	case Action:
		return int(v)
	default:
		return 0
	}
}

// staticLoader serves modules linked into the binary. Their handle is the
// symbol table passed to LoadStatic.
type staticLoader struct{}

func (staticLoader) Kind() RuntimeKind { return RuntimeNative }

func (staticLoader) Open(path string) (Handle, error) {
	return nil, fmt.Errorf("%w: cannot open %q", ErrStaticModule, path)
}

func (staticLoader) Close(Handle) error { return nil }

func (staticLoader) Resolve(h Handle, name string) (Callable, bool) {
	symbols, ok := h.(map[string]any)
	if !ok {
		return nil, false
	}
	sym, ok := symbols[name]
	if !ok || !IsNativeCallable(sym) {
		return nil, false
	}
	return sym, true
}

func (staticLoader) Invoke(ctx context.Context, c Callable, args []any) (int, error) {
	return CallNative(ctx, c, args)
}
