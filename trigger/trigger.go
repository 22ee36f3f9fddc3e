// Package trigger turns outside events (module files changing on disk, a
// cron schedule, SIGHUP) into reload requests.
package trigger

import (
	"io"
	"log/slog"

	"github.com/GoCodeAlone/modhost"
)

// Reloader accepts fire-and-forget reload requests.
// *modhost.ReloadOrchestrator implements it.
type Reloader interface {
	Trigger(trigger modhost.ReloadTrigger)
}

// ReloaderFunc adapts a function to Reloader.
type ReloaderFunc func(trigger modhost.ReloadTrigger)

// Trigger calls f.
func (f ReloaderFunc) Trigger(trigger modhost.ReloadTrigger) { f(trigger) }

func discardLogger() modhost.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
