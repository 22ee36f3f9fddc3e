// Package modhost is the module and handler registry of an embeddable HTTP
// server.
//
// A Registry loads modules of two runtime kinds, native Go plugins (.so) and
// Starlark scripts (.star), through one Loader contract per kind. Handlers
// bind URL path patterns in a Domain to functions those modules export; a
// request path selects the first handler, in declaration order, whose static
// path or regular expression matches.
//
// ReloadChanged re-stats every module file and swaps the ones that changed
// on disk, then re-resolves every handler, while the process keeps running.
// A ReloadOrchestrator serializes reload requests coming from file watchers,
// timers and signals.
//
// Basic use:
//
//	reg := modhost.NewRegistry(
//		modhost.WithLogger(slog.Default()),
//		modhost.WithLoader(native.NewLoader()),
//		modhost.WithLoader(script.NewLoader()),
//	)
//	reg.Load("app/handlers.star", "on_load")
//	reg.AddDomain("example.com")
//	reg.AddHandler(modhost.HandlerSpec{
//		Domain: "example.com", Path: "^/users/[0-9]+$",
//		Mode: modhost.MatchDynamic, Function: "user",
//	})
package modhost
