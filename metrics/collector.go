// Package metrics exports registry activity to Prometheus.
//
// A Collector is both a prometheus.Collector and a modhost.Observer: event
// counters are fed by registry events, while module and handler state is
// read from the registry on every scrape.
//
//	c := metrics.NewCollector(reg, "modhost")
//	prometheus.MustRegister(c)
//	reg.RegisterObserver(c)
package metrics

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/GoCodeAlone/modhost"
)

// Collector implements prometheus.Collector for a registry.
type Collector struct {
	registry *modhost.Registry

	moduleEvents    *prometheus.CounterVec
	reloads         *prometheus.CounterVec
	reloadDuration  prometheus.Histogram
	handlerFailures *prometheus.CounterVec
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	modulesDesc       *prometheus.Desc
	handlersDesc      *prometheus.Desc
	handlerErrorsDesc *prometheus.Desc
}

// NewCollector creates a collector for registry. namespace prefixes every
// metric name and defaults to "modhost".
func NewCollector(registry *modhost.Registry, namespace string) *Collector {
	if namespace == "" {
		namespace = "modhost"
	}
	return &Collector{
		registry: registry,
		moduleEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "module_events_total",
			Help:      "Module lifecycle events by type.",
		}, []string{"event"}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reload_passes_total",
			Help:      "Reload passes by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		reloadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reload_pass_duration_seconds",
			Help:      "Duration of reload passes.",
			Buckets:   prometheus.DefBuckets,
		}),
		handlerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_failures_total",
			Help:      "Failed handler invocations.",
		}, []string{"domain", "function"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Dispatched HTTP requests by status code.",
		}, []string{"code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Time spent dispatching HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"code"}),
		modulesDesc: prometheus.NewDesc(
			namespace+"_modules_loaded",
			"Modules currently loaded, by runtime.",
			[]string{"runtime"}, nil,
		),
		handlersDesc: prometheus.NewDesc(
			namespace+"_handlers",
			"Handlers declared per domain.",
			[]string{"domain"}, nil,
		),
		handlerErrorsDesc: prometheus.NewDesc(
			namespace+"_handler_errors",
			"Current error count of each handler. Reset when its module reloads.",
			[]string{"domain", "path", "function"}, nil,
		),
	}
}

// Describe sends metric descriptors.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.moduleEvents.Describe(ch)
	c.reloads.Describe(ch)
	c.reloadDuration.Describe(ch)
	c.handlerFailures.Describe(ch)
	c.requests.Describe(ch)
	c.requestDuration.Describe(ch)
	ch <- c.modulesDesc
	ch <- c.handlersDesc
	ch <- c.handlerErrorsDesc
}

// Collect emits counters and a snapshot of the registry.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.moduleEvents.Collect(ch)
	c.reloads.Collect(ch)
	c.reloadDuration.Collect(ch)
	c.handlerFailures.Collect(ch)
	c.requests.Collect(ch)
	c.requestDuration.Collect(ch)

	byKind := map[string]int{}
	for _, m := range c.registry.Modules() {
		byKind[m.Kind().String()]++
	}
	for kind, n := range byKind {
		ch <- prometheus.MustNewConstMetric(c.modulesDesc, prometheus.GaugeValue, float64(n), kind)
	}

	for _, d := range c.registry.HandlerSnapshot() {
		ch <- prometheus.MustNewConstMetric(c.handlersDesc, prometheus.GaugeValue, float64(len(d.Handlers)), d.Name)
		for _, h := range d.Handlers {
			ch <- prometheus.MustNewConstMetric(c.handlerErrorsDesc, prometheus.GaugeValue,
				float64(h.Errors), d.Name, h.Path, h.Function)
		}
	}
}

// ObserveRequest records one dispatched request.
func (c *Collector) ObserveRequest(code int, duration time.Duration) {
	label := strconv.Itoa(code)
	c.requests.WithLabelValues(label).Inc()
	c.requestDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// ObserverID identifies the collector as a registry observer.
func (c *Collector) ObserverID() string { return "metrics" }

// OnEvent updates counters from registry events.
func (c *Collector) OnEvent(_ context.Context, event cloudevents.Event) error {
	switch event.Type() {
	case modhost.EventTypeModuleLoaded, modhost.EventTypeModuleReloaded,
		modhost.EventTypeModuleReloadSkipped, modhost.EventTypeModuleUnloaded:
		c.moduleEvents.WithLabelValues(shortType(event.Type())).Inc()

	case modhost.EventTypeHandlerFailed:
		var data modhost.HandlerFailedEvent
		if err := decode(event, &data); err != nil {
			return err
		}
		c.handlerFailures.WithLabelValues(data.Domain, data.Function).Inc()

	case modhost.EventTypeReloadCompleted, modhost.EventTypeReloadFailed:
		var data modhost.ReloadEvent
		if err := decode(event, &data); err != nil {
			return err
		}
		outcome := "unchanged"
		switch {
		case event.Type() == modhost.EventTypeReloadFailed:
			outcome = "failed"
		case len(data.Reloaded) > 0:
			outcome = "reloaded"
		}
		c.reloads.WithLabelValues(data.Trigger, outcome).Inc()
		c.reloadDuration.Observe(data.Duration.Seconds())
	}
	return nil
}

func decode(event cloudevents.Event, out any) error {
	if err := event.DataAs(out); err != nil {
		return fmt.Errorf("metrics: decode %s: %w", event.Type(), err)
	}
	return nil
}

func shortType(eventType string) string {
	return strings.TrimPrefix(eventType, "com.modhost.module.")
}
