package modhost

import (
	"context"
	"time"
)

// Event types emitted by the registry and the reload orchestrator.
const (
	EventTypeModuleLoaded        = "com.modhost.module.loaded"
	EventTypeModuleReloaded      = "com.modhost.module.reloaded"
	EventTypeModuleReloadSkipped = "com.modhost.module.reload_skipped"
	EventTypeModuleUnloaded      = "com.modhost.module.unloaded"

	EventTypeHandlerFailed = "com.modhost.handler.failed"

	EventTypeReloadStarted   = "com.modhost.reload.started"
	EventTypeReloadCompleted = "com.modhost.reload.completed"
	EventTypeReloadFailed    = "com.modhost.reload.failed"
)

// ModuleEvent is the payload of module.* events.
type ModuleEvent struct {
	Path   string `json:"path"`
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Reason string `json:"reason,omitempty"`
}

// HandlerFailedEvent is the payload of handler.failed events.
type HandlerFailedEvent struct {
	Domain     string `json:"domain"`
	Path       string `json:"path"`
	Function   string `json:"function"`
	ErrorCount uint64 `json:"errorCount"`
	Error      string `json:"error,omitempty"`
}

// ReloadEvent is the payload of reload.* events.
type ReloadEvent struct {
	ReloadID string        `json:"reloadId"`
	Trigger  string        `json:"trigger"`
	Reloaded []string      `json:"reloaded,omitempty"`
	Skipped  []string      `json:"skipped,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
}

func moduleEvent(m *Module, reason string) ModuleEvent {
	return ModuleEvent{Path: m.path, Name: m.name, Kind: m.kind.String(), Reason: reason}
}

// emit publishes without blocking the caller, which usually holds the
// registry lock.
func (r *Registry) emit(eventType string, data any) {
	event := NewCloudEvent(eventType, "", data, nil)
	go func() {
		if err := r.subject.notify(context.Background(), event); err != nil {
			r.logger.Error("Failed to notify observers", "event", eventType, "error", err)
		}
	}()
}
