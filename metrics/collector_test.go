package metrics

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/modhost"
)

func newRegistry(t *testing.T) *modhost.Registry {
	t.Helper()
	reg := modhost.NewRegistry(
		modhost.WithFatalHandler(func(err *modhost.FatalError) { t.Errorf("unexpected fatal error: %v", err) }),
	)
	_, err := reg.LoadStatic("builtin", map[string]any{
		"ok":   func([]any) int { return modhost.ResultOK },
		"fail": func([]any) int { return modhost.ResultError },
	}, "")
	require.NoError(t, err)
	_, err = reg.AddDomain("example.com")
	require.NoError(t, err)
	_, err = reg.AddHandler(modhost.HandlerSpec{Domain: "example.com", Path: "/", Function: "ok"})
	require.NoError(t, err)
	_, err = reg.AddHandler(modhost.HandlerSpec{Domain: "example.com", Path: "/broken", Function: "fail"})
	require.NoError(t, err)
	t.Cleanup(reg.UnloadAll)
	return reg
}

func TestCollectorRegistrySnapshot(t *testing.T) {
	reg := newRegistry(t)
	c := NewCollector(reg, "")

	h, err := reg.Match("example.com", "/broken")
	require.NoError(t, err)
	_, _ = h.Invoke(context.Background())

	expected := `
# HELP modhost_handler_errors Current error count of each handler. Reset when its module reloads.
# TYPE modhost_handler_errors gauge
modhost_handler_errors{domain="example.com",function="fail",path="/broken"} 1
modhost_handler_errors{domain="example.com",function="ok",path="/"} 0
# HELP modhost_handlers Handlers declared per domain.
# TYPE modhost_handlers gauge
modhost_handlers{domain="example.com"} 2
# HELP modhost_modules_loaded Modules currently loaded, by runtime.
# TYPE modhost_modules_loaded gauge
modhost_modules_loaded{runtime="native"} 1
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"modhost_handler_errors", "modhost_handlers", "modhost_modules_loaded"))
}

func TestCollectorScrapeDuringHandlerChurn(t *testing.T) {
	reg := newRegistry(t)
	c := NewCollector(reg, "")
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				h, err := reg.AddHandler(modhost.HandlerSpec{
					Domain:   "example.com",
					Path:     fmt.Sprintf("/churn/%d/%d", w, i),
					Function: "fail",
				})
				if !assert.NoError(t, err) {
					return
				}
				_, _ = h.Invoke(ctx)
				assert.True(t, reg.RemoveHandler(h))
			}
		}(w)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for scraping := true; scraping; {
		select {
		case <-done:
			scraping = false
		default:
		}
		assert.Positive(t, testutil.CollectAndCount(c, "modhost_handler_errors"))
	}

	assert.Equal(t, 2, testutil.CollectAndCount(c, "modhost_handler_errors"))
}

func TestCollectorObservesEvents(t *testing.T) {
	reg := newRegistry(t)
	c := NewCollector(reg, "modhost")
	require.NoError(t, reg.RegisterObserver(c))

	h, err := reg.Match("example.com", "/broken")
	require.NoError(t, err)
	_, _ = h.Invoke(context.Background())

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(c.handlerFailures.WithLabelValues("example.com", "fail")) == 1
	}, time.Second, 10*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, c.OnEvent(ctx, modhost.NewCloudEvent(modhost.EventTypeReloadCompleted, "test",
		modhost.ReloadEvent{Trigger: "file", Reloaded: []string{"app.star"}, Duration: time.Millisecond}, nil)))
	require.NoError(t, c.OnEvent(ctx, modhost.NewCloudEvent(modhost.EventTypeReloadCompleted, "test",
		modhost.ReloadEvent{Trigger: "schedule"}, nil)))
	require.NoError(t, c.OnEvent(ctx, modhost.NewCloudEvent(modhost.EventTypeReloadFailed, "test",
		modhost.ReloadEvent{Trigger: "signal", Error: "boom"}, nil)))
	require.NoError(t, c.OnEvent(ctx, modhost.NewCloudEvent(modhost.EventTypeModuleReloaded, "test",
		modhost.ModuleEvent{Path: "app.star"}, nil)))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.reloads.WithLabelValues("file", "reloaded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.reloads.WithLabelValues("schedule", "unchanged")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.reloads.WithLabelValues("signal", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.moduleEvents.WithLabelValues("reloaded")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.reloadDuration))
}

func TestCollectorObserveRequest(t *testing.T) {
	c := NewCollector(newRegistry(t), "")
	c.ObserveRequest(200, 5*time.Millisecond)
	c.ObserveRequest(200, 5*time.Millisecond)
	c.ObserveRequest(404, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.requests.WithLabelValues("200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requests.WithLabelValues("404")))

	preg := prometheus.NewRegistry()
	require.NoError(t, preg.Register(c))
	families, err := preg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestCollectorRejectsUndecodableEvent(t *testing.T) {
	c := NewCollector(newRegistry(t), "")
	event := modhost.NewCloudEvent(modhost.EventTypeHandlerFailed, "test", "not an object", nil)
	assert.Error(t, c.OnEvent(context.Background(), event))
}
