package modhost

import (
	"errors"
	"fmt"
)

// Registry errors
var (
	// Module errors
	ErrUnknownRuntime   = errors.New("unrecognized module suffix")
	ErrNoLoader         = errors.New("no loader registered for runtime")
	ErrModuleOpen       = errors.New("module open failed")
	ErrModuleNotLoaded  = errors.New("module is not loaded")
	ErrOnloadNotPresent = errors.New("onload hook not present")
	ErrNoOnloadHook     = errors.New("module has no onload hook")
	ErrLifecycleFailed  = errors.New("lifecycle hook reported failure")
	ErrStaticModule     = errors.New("statically linked module")

	// Symbol resolution errors
	ErrSymbolNotFound = errors.New("symbol not found")
	ErrNotCallable    = errors.New("symbol is not callable")
	ErrInvocation     = errors.New("invocation failed")

	// Handler table errors
	ErrDomainNotFound     = errors.New("domain not found")
	ErrDomainExists       = errors.New("domain already exists")
	ErrInvalidPattern     = errors.New("invalid handler pattern")
	ErrInvalidMatchMode   = errors.New("invalid match mode")
	ErrNoMatch            = errors.New("no handler matches path")
	ErrAuthNotFound       = errors.New("authorization policy not found")
	ErrAuthExists         = errors.New("authorization policy already exists")
	ErrInvalidAuthType    = errors.New("invalid authorization policy type")
	ErrValidatorNotFound  = errors.New("validator not found")
	ErrValidatorExists    = errors.New("validator already exists")
	ErrInvalidValidator   = errors.New("validator needs exactly one of pattern or function")
	ErrHandlerFuncMissing = errors.New("handler function not found")

	// Fatal class, see FatalError
	ErrFatal = errors.New("fatal registry error")

	// Orchestrator errors
	ErrReloadQueueFull     = errors.New("reload queue is full")
	ErrOrchestratorStopped = errors.New("reload orchestrator stopped")
)

// FatalError marks a failure after which the registry cannot be trusted to be
// consistent. The registry hands it to its FatalHandler before returning it.
type FatalError struct {
	Op   string
	Path string
	Err  error
}

func (e *FatalError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes both the fatal marker and the underlying cause to errors.Is.
func (e *FatalError) Unwrap() []error {
	return []error{ErrFatal, e.Err}
}

// IsFatal reports whether err carries the fatal marker.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}
