package modhost

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ReloadTrigger names what asked for a reload pass.
type ReloadTrigger string

const (
	ReloadTriggerManual   ReloadTrigger = "manual"
	ReloadTriggerFile     ReloadTrigger = "file"
	ReloadTriggerSchedule ReloadTrigger = "schedule"
	ReloadTriggerSignal   ReloadTrigger = "signal"
)

// ReloadOrchestrator funnels reload requests from every trigger onto one
// worker goroutine, so passes never overlap and each one runs under the
// registry's write gate.
type ReloadOrchestrator struct {
	registry *Registry
	logger   Logger

	requestQueue chan reloadRequest
	stopOnce     sync.Once
	done         chan struct{}

	mu        sync.Mutex
	lastPass  time.Time
	lastError error
	passes    int
}

type reloadRequest struct {
	ctx      context.Context
	trigger  ReloadTrigger
	reloadID string
	response chan reloadResponse
}

type reloadResponse struct {
	report ReloadReport
	err    error
}

// ReloadOrchestratorConfig configures the orchestrator.
type ReloadOrchestratorConfig struct {
	// QueueSize bounds pending requests. Default: 16.
	QueueSize int
}

// NewReloadOrchestrator starts an orchestrator for registry.
func NewReloadOrchestrator(registry *Registry, config ReloadOrchestratorConfig) *ReloadOrchestrator {
	if config.QueueSize <= 0 {
		config.QueueSize = 16
	}
	o := &ReloadOrchestrator{
		registry:     registry,
		logger:       registry.Logger(),
		requestQueue: make(chan reloadRequest, config.QueueSize),
		done:         make(chan struct{}),
	}
	go o.processRequests()
	return o
}

// RequestReload queues a pass and waits for its report.
func (o *ReloadOrchestrator) RequestReload(ctx context.Context, trigger ReloadTrigger) (ReloadReport, error) {
	req := reloadRequest{
		ctx:      ctx,
		trigger:  trigger,
		reloadID: generateReloadID(),
		response: make(chan reloadResponse, 1),
	}

	select {
	case <-o.done:
		return ReloadReport{}, ErrOrchestratorStopped
	default:
	}

	select {
	case o.requestQueue <- req:
	case <-ctx.Done():
		return ReloadReport{}, ctx.Err()
	default:
		return ReloadReport{}, ErrReloadQueueFull
	}

	select {
	case resp := <-req.response:
		return resp.report, resp.err
	case <-o.done:
		return ReloadReport{}, ErrOrchestratorStopped
	case <-ctx.Done():
		return ReloadReport{}, ctx.Err()
	}
}

// Trigger queues a pass without waiting. When the queue is full the request
// is dropped: a pass already pending will observe the same change.
func (o *ReloadOrchestrator) Trigger(trigger ReloadTrigger) {
	select {
	case <-o.done:
		return
	default:
	}

	req := reloadRequest{
		ctx:      context.Background(),
		trigger:  trigger,
		reloadID: generateReloadID(),
		response: make(chan reloadResponse, 1),
	}
	select {
	case o.requestQueue <- req:
	default:
		o.logger.Debug("Reload already pending, dropping trigger", "trigger", trigger)
	}
}

// LastPass returns when the last pass finished, and its error.
func (o *ReloadOrchestrator) LastPass() (time.Time, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastPass, o.lastError
}

// Passes returns the number of completed passes.
func (o *ReloadOrchestrator) Passes() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.passes
}

func (o *ReloadOrchestrator) processRequests() {
	for {
		select {
		case req := <-o.requestQueue:
			o.handleReloadRequest(req)
		case <-o.done:
			return
		}
	}
}

func (o *ReloadOrchestrator) handleReloadRequest(req reloadRequest) {
	if err := req.ctx.Err(); err != nil {
		req.response <- reloadResponse{err: err}
		return
	}

	start := time.Now()
	o.registry.emit(EventTypeReloadStarted, ReloadEvent{ReloadID: req.reloadID, Trigger: string(req.trigger)})

	report, err := o.registry.ReloadChanged(req.ctx)
	duration := time.Since(start)

	o.mu.Lock()
	o.lastPass = time.Now()
	o.lastError = err
	o.passes++
	o.mu.Unlock()

	ev := ReloadEvent{
		ReloadID: req.reloadID,
		Trigger:  string(req.trigger),
		Reloaded: report.Reloaded,
		Duration: duration,
	}
	for _, s := range report.Skipped {
		ev.Skipped = append(ev.Skipped, s.Path)
	}

	if err != nil {
		ev.Error = err.Error()
		o.logger.Error("Reload pass failed", "reloadID", req.reloadID, "trigger", req.trigger, "error", err)
		o.registry.emit(EventTypeReloadFailed, ev)
	} else {
		if report.Changed() {
			o.logger.Info("Reload pass completed", "reloadID", req.reloadID, "trigger", req.trigger,
				"reloaded", len(report.Reloaded), "rebound", report.Rebound, "duration", duration)
		}
		o.registry.emit(EventTypeReloadCompleted, ev)
	}
	req.response <- reloadResponse{report: report, err: err}
}

// Stop ends the worker. Pending requests are abandoned; a pass already
// running finishes first.
func (o *ReloadOrchestrator) Stop(_ context.Context) error {
	o.stopOnce.Do(func() { close(o.done) })
	return nil
}

func generateReloadID() string {
	return fmt.Sprintf("reload-%d", time.Now().UnixNano())
}
