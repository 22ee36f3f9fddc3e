package modhost

import (
	"os"
)

// Option configures a Registry.
type Option func(*Registry)

// FatalHandler receives errors after which the registry state can no longer
// be trusted. The default handler logs the error and exits the process.
type FatalHandler func(err *FatalError)

// WithLogger sets the registry logger.
func WithLogger(logger Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithLoader registers the loader serving its runtime kind, replacing any
// earlier loader of the same kind.
func WithLoader(loader Loader) Option {
	return func(r *Registry) {
		r.loaders[loader.Kind()] = loader
	}
}

// WithFatalHandler replaces the process-terminating default. Embedders that
// supervise the registry themselves, and tests, use it to observe fatal
// errors without exiting.
func WithFatalHandler(handler FatalHandler) Option {
	return func(r *Registry) {
		if handler != nil {
			r.fatal = handler
		}
	}
}

func exitFatalHandler(logger Logger) FatalHandler {
	return func(err *FatalError) {
		logger.Error("Fatal registry error, exiting", "op", err.Op, "path", err.Path, "error", err.Err)
		os.Exit(1)
	}
}
