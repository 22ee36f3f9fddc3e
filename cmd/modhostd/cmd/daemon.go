package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/GoCodeAlone/modhost"
	"github.com/GoCodeAlone/modhost/config"
	"github.com/GoCodeAlone/modhost/httpd"
	"github.com/GoCodeAlone/modhost/metrics"
	"github.com/GoCodeAlone/modhost/runtime/native"
	"github.com/GoCodeAlone/modhost/runtime/script"
	"github.com/GoCodeAlone/modhost/trigger"
)

// daemon is one running modhostd instance.
type daemon struct {
	cfg    *config.Config
	logger modhost.Logger

	registry     *modhost.Registry
	orchestrator *modhost.ReloadOrchestrator
	server       *httpd.Server

	watcher  *trigger.FileWatcher
	schedule *trigger.Schedule
	signals  *trigger.SignalTrigger

	addr net.Addr
}

// newRegistry creates a registry with both runtime loaders. Native plugin
// copies are staged next to the configuration file.
func newRegistry(cfg *config.Config, logger modhost.Logger, opts ...modhost.Option) *modhost.Registry {
	stageDir := filepath.Join(cfg.BaseDir(), ".modhost")
	base := []modhost.Option{
		modhost.WithLogger(logger),
		modhost.WithLoader(native.NewLoader(native.WithStageDir(stageDir))),
		modhost.WithLoader(script.NewLoader(script.WithLogger(modhost.WithFields(logger, "component", "script")))),
	}
	return modhost.NewRegistry(append(base, opts...)...)
}

func newDaemon(cfg *config.Config, logger modhost.Logger, opts ...modhost.Option) *daemon {
	return &daemon{cfg: cfg, logger: logger, registry: newRegistry(cfg, logger, opts...)}
}

// start builds the registry, runs the onload pass, starts the reload
// triggers and begins serving.
func (d *daemon) start(ctx context.Context) error {
	var collector *metrics.Collector
	var gatherer *prometheus.Registry
	if d.cfg.Server.Metrics {
		collector = metrics.NewCollector(d.registry, "modhost")
		gatherer = prometheus.NewRegistry()
		gatherer.MustRegister(collector, collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if err := d.registry.RegisterObserver(collector); err != nil {
			return fmt.Errorf("register metrics observer: %w", err)
		}
	}

	if err := config.Apply(d.cfg, d.registry); err != nil {
		return err
	}
	d.registry.OnloadAll(ctx)

	d.orchestrator = modhost.NewReloadOrchestrator(d.registry, modhost.ReloadOrchestratorConfig{})
	if err := d.startTriggers(); err != nil {
		return err
	}

	opts := []httpd.Option{
		httpd.WithLogger(modhost.WithFields(d.logger, "component", "httpd")),
		httpd.WithTimeouts(d.cfg.Server.ReadTimeout, d.cfg.Server.WriteTimeout),
	}
	if d.cfg.Server.ReloadPath != "" {
		opts = append(opts, httpd.WithReload(d.cfg.Server.ReloadPath, d.orchestrator))
	}
	if collector != nil {
		opts = append(opts,
			httpd.WithMetrics(d.cfg.Server.MetricsPath, gatherer),
			httpd.WithRequestObserver(collector),
		)
	}
	d.server = httpd.New(d.registry, opts...)

	addr, err := d.server.Start(d.cfg.Server.Listen)
	if err != nil {
		return err
	}
	d.addr = addr
	return nil
}

func (d *daemon) startTriggers() error {
	reload := d.cfg.Reload
	if reload.Watch {
		w, err := trigger.NewFileWatcher(d.orchestrator,
			trigger.WithWatcherLogger(modhost.WithFields(d.logger, "component", "watcher")),
			trigger.WithDebounce(reload.Debounce),
		)
		if err != nil {
			return err
		}
		paths := d.cfg.ModulePaths()
		for _, m := range d.registry.Modules() {
			paths = append(paths, m.Dependencies()...)
		}
		for _, path := range paths {
			if err := w.Watch(path); err != nil {
				_ = w.Stop()
				return err
			}
		}
		w.StartAsync()
		d.watcher = w
	}
	if reload.Schedule != "" {
		s, err := trigger.NewSchedule(reload.Schedule, d.orchestrator, d.logger)
		if err != nil {
			return err
		}
		s.Start()
		d.schedule = s
	}
	if reload.Signal {
		d.signals = trigger.NewSignalTrigger(d.orchestrator, d.logger)
		d.signals.Start()
	}
	return nil
}

// stop shuts everything down in reverse order and unloads all modules.
func (d *daemon) stop(ctx context.Context) error {
	var errs []error
	if d.signals != nil {
		d.signals.Stop()
	}
	if d.schedule != nil {
		errs = append(errs, d.schedule.Stop(ctx))
	}
	if d.watcher != nil {
		errs = append(errs, d.watcher.Stop())
	}
	if d.server != nil {
		if err := d.server.Stop(ctx); err != nil && !errors.Is(err, httpd.ErrServerNotStarted) {
			errs = append(errs, err)
		}
	}
	if d.orchestrator != nil {
		errs = append(errs, d.orchestrator.Stop(ctx))
	}
	d.registry.UnloadAll()
	return errors.Join(errs...)
}
