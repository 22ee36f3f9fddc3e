package modhost

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReloadChangedNoChange(t *testing.T) {
	env := newTestEnv(t)
	path := env.module(t, "app.star", baseTime, map[string]any{"index": constHandler(ResultOK)})
	_, err := env.reg.Load(path, "")
	require.NoError(t, err)
	_, err = env.reg.AddDomain("example.com")
	require.NoError(t, err)
	h, err := env.reg.AddHandler(HandlerSpec{Domain: "example.com", Path: "/", Function: "index"})
	require.NoError(t, err)
	ref := h.Function()

	for i := 0; i < 2; i++ {
		report, err := env.reg.ReloadChanged(context.Background())
		require.NoError(t, err)
		assert.False(t, report.Changed())
		assert.Zero(t, report.Rebound)
	}

	opens, closes, _, _ := env.loader.counts()
	assert.Equal(t, 1, opens)
	assert.Zero(t, closes)
	assert.Same(t, ref, h.Function(), "handler keeps its reference when nothing changed")
}

func TestReloadChangedSwapsModule(t *testing.T) {
	env := newTestEnv(t)
	var loads, unloads int
	hook := func(action int) int {
		switch Action(action) {
		case ActionLoad:
			loads++
		case ActionUnload:
			unloads++
		}
		return ResultOK
	}
	path := env.module(t, "app.star", baseTime, map[string]any{
		"on_load": hook,
		"index":   constHandler(ResultOK),
	})
	m, err := env.reg.Load(path, "on_load")
	require.NoError(t, err)
	_, err = env.reg.AddDomain("example.com")
	require.NoError(t, err)
	h, err := env.reg.AddHandler(HandlerSpec{Domain: "example.com", Path: "/", Function: "index"})
	require.NoError(t, err)

	h.ref.callable.(*fakeCallable).fn = constHandler(ResultError)
	_, _ = h.Invoke(context.Background())
	_, _ = h.Invoke(context.Background())
	require.Equal(t, uint64(2), h.ErrorCount())

	newTime := baseTime.Add(time.Minute)
	env.loader.define(path, map[string]any{
		"on_load": hook,
		"index":   constHandler(ResultRetry),
	})
	touch(t, path, newTime)

	old := h.Function()
	report, err := env.reg.ReloadChanged(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{path}, report.Reloaded)
	assert.Equal(t, 1, report.Rebound)

	assert.Equal(t, 1, unloads)
	assert.Equal(t, 1, loads)
	assert.True(t, m.ModTime().Equal(newTime))
	assert.Equal(t, StateLoaded, m.State())

	require.NotNil(t, h.Function())
	assert.NotSame(t, old, h.Function())
	assert.Zero(t, h.ErrorCount(), "error count resets after rebinding")

	rc, err := h.Invoke(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ResultRetry, rc, "handler runs the new generation")

	opens, closes, _, _ := env.loader.counts()
	assert.Equal(t, 2, opens)
	assert.Equal(t, 1, closes)
}

func TestReloadChangedUnloadVeto(t *testing.T) {
	env := newTestEnv(t)
	veto := func(action int) int {
		if Action(action) == ActionUnload {
			return ResultError
		}
		return ResultOK
	}
	path := env.module(t, "app.star", baseTime, map[string]any{"on_load": veto})
	m, err := env.reg.Load(path, "on_load")
	require.NoError(t, err)
	handleBefore := m.handle

	touch(t, path, baseTime.Add(time.Hour))
	report, err := env.reg.ReloadChanged(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Changed())
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, path, report.Skipped[0].Path)
	assert.Same(t, handleBefore, m.handle, "vetoed module keeps its handle")
	assert.True(t, m.ModTime().Equal(baseTime), "vetoed module keeps its mtime so the next pass retries")
	assert.Zero(t, env.fatals.count())

	report, err = env.reg.ReloadChanged(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Skipped, 1, "veto is consulted again on the next pass")
}

func TestReloadChangedWithoutHookAlwaysReloads(t *testing.T) {
	env := newTestEnv(t)
	path := env.module(t, "plain.star", baseTime, nil)
	m, err := env.reg.Load(path, "")
	require.NoError(t, err)

	touch(t, path, baseTime.Add(time.Second))
	report, err := env.reg.ReloadChanged(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Changed())
	assert.True(t, m.ModTime().Equal(baseTime.Add(time.Second)))
}

func TestReloadChangedStatFailureSkips(t *testing.T) {
	env := newTestEnv(t)
	path := env.module(t, "app.star", baseTime, nil)
	m, err := env.reg.Load(path, "")
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	report, err := env.reg.ReloadChanged(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Skipped, 1)
	assert.NotNil(t, m.handle)
	assert.True(t, m.ModTime().Equal(baseTime))
	assert.Zero(t, env.fatals.count())
}

func TestReloadChangedFatalCases(t *testing.T) {
	t.Run("reopen_fails", func(t *testing.T) {
		env := newTestEnv(t)
		path := env.module(t, "app.star", baseTime, nil)
		m, err := env.reg.Load(path, "")
		require.NoError(t, err)

		env.loader.failOpen[path] = errors.New("syntax error")
		touch(t, path, baseTime.Add(time.Minute))

		_, err = env.reg.ReloadChanged(context.Background())
		assert.True(t, IsFatal(err))
		assert.ErrorIs(t, err, ErrModuleOpen)
		assert.Equal(t, 1, env.fatals.count())
		assert.True(t, m.ModTime().Equal(baseTime), "mtime is committed only after a successful reopen")
	})

	t.Run("onload_hook_disappears", func(t *testing.T) {
		env := newTestEnv(t)
		path := env.module(t, "app.star", baseTime, map[string]any{"on_load": okHook})
		_, err := env.reg.Load(path, "on_load")
		require.NoError(t, err)

		env.loader.define(path, map[string]any{})
		touch(t, path, baseTime.Add(time.Minute))

		_, err = env.reg.ReloadChanged(context.Background())
		assert.ErrorIs(t, err, ErrOnloadNotPresent)
		assert.Equal(t, 1, env.fatals.count())
	})

	t.Run("handler_function_disappears", func(t *testing.T) {
		env := newTestEnv(t)
		path := env.module(t, "app.star", baseTime, map[string]any{"index": constHandler(ResultOK)})
		_, err := env.reg.Load(path, "")
		require.NoError(t, err)
		_, err = env.reg.AddDomain("example.com")
		require.NoError(t, err)
		h, err := env.reg.AddHandler(HandlerSpec{Domain: "example.com", Path: "/", Function: "index"})
		require.NoError(t, err)

		env.loader.define(path, map[string]any{"renamed": constHandler(ResultOK)})
		touch(t, path, baseTime.Add(time.Minute))

		_, err = env.reg.ReloadChanged(context.Background())
		assert.ErrorIs(t, err, ErrHandlerFuncMissing)
		assert.Equal(t, 1, env.fatals.count())
		assert.NotNil(t, h.Function(), "handler stays bound to its previous reference")
	})

	t.Run("validator_function_disappears", func(t *testing.T) {
		env := newTestEnv(t)
		path := env.module(t, "app.star", baseTime, map[string]any{"check": func([]any) int { return ResultOK }})
		_, err := env.reg.Load(path, "")
		require.NoError(t, err)
		_, err = env.reg.AddValidator("v", "", "check")
		require.NoError(t, err)

		env.loader.define(path, map[string]any{})
		touch(t, path, baseTime.Add(time.Minute))

		_, err = env.reg.ReloadChanged(context.Background())
		assert.True(t, IsFatal(err))
		assert.Equal(t, 1, env.fatals.count())
	})
}

func TestReloadChangedRebindsAcrossModules(t *testing.T) {
	env := newTestEnv(t)
	a := env.module(t, "a.star", baseTime, map[string]any{"a_fn": constHandler(ResultOK)})
	b := env.module(t, "b.star", baseTime, map[string]any{"b_fn": constHandler(ResultOK)})
	_, err := env.reg.Load(a, "")
	require.NoError(t, err)
	_, err = env.reg.Load(b, "")
	require.NoError(t, err)
	_, err = env.reg.AddDomain("one.example")
	require.NoError(t, err)
	_, err = env.reg.AddDomain("two.example")
	require.NoError(t, err)
	ha, err := env.reg.AddHandler(HandlerSpec{Domain: "one.example", Path: "/a", Function: "a_fn"})
	require.NoError(t, err)
	hb, err := env.reg.AddHandler(HandlerSpec{Domain: "two.example", Path: "/b", Function: "b_fn"})
	require.NoError(t, err)
	oldB := hb.Function()

	touch(t, a, baseTime.Add(time.Minute))
	report, err := env.reg.ReloadChanged(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Rebound, "every handler in every domain is re-resolved")
	assert.NotSame(t, oldB, hb.Function())
	assert.NotNil(t, ha.Function())

	_, _, resolves, releases := env.loader.counts()
	assert.Equal(t, resolves-2, releases, "only the live references remain unreleased")
}

func TestReloadChangedSkipsStaticModules(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.reg.LoadStatic("builtin", map[string]any{"status": constHandler(ResultOK)}, "")
	require.NoError(t, err)

	report, err := env.reg.ReloadChanged(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Changed())
	assert.Empty(t, report.Skipped)
}

func TestReloadChangedEmitsEvents(t *testing.T) {
	env := newTestEnv(t)
	rec := &eventRecorder{}
	require.NoError(t, env.reg.RegisterObserver(rec))

	path := env.module(t, "app.star", baseTime, nil)
	_, err := env.reg.Load(path, "")
	require.NoError(t, err)
	touch(t, path, baseTime.Add(time.Minute))
	_, err = env.reg.ReloadChanged(context.Background())
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return rec.has(EventTypeModuleLoaded) && rec.has(EventTypeModuleReloaded)
	}, time.Second, 10*time.Millisecond)
}

func TestReloadChangedFollowsDependencies(t *testing.T) {
	env := newTestEnv(t)
	lib := env.module(t, "lib.star", baseTime, nil)
	path := env.module(t, "app.star", baseTime, map[string]any{"index": constHandler(ResultOK)})
	env.loader.dependsOn(path, lib)

	m, err := env.reg.Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, []string{lib}, m.Dependencies())
	_, err = env.reg.AddDomain("example.com")
	require.NoError(t, err)
	_, err = env.reg.AddHandler(HandlerSpec{Domain: "example.com", Path: "/", Function: "index"})
	require.NoError(t, err)

	report, err := env.reg.ReloadChanged(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Changed())

	touch(t, lib, baseTime.Add(time.Minute))
	report, err = env.reg.ReloadChanged(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{path}, report.Reloaded)
	assert.Equal(t, 1, report.Rebound)
	assert.True(t, m.ModTime().Equal(baseTime), "the module file itself did not change")

	report, err = env.reg.ReloadChanged(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Changed(), "the new dependency mtime was recorded")

	opens, closes, _, _ := env.loader.counts()
	assert.Equal(t, 2, opens)
	assert.Equal(t, 1, closes)
}

func TestReloadChangedMissingDependencySkips(t *testing.T) {
	env := newTestEnv(t)
	lib := env.module(t, "lib.star", baseTime, nil)
	path := env.module(t, "app.star", baseTime, nil)
	env.loader.dependsOn(path, lib)
	m, err := env.reg.Load(path, "")
	require.NoError(t, err)
	require.NoError(t, os.Remove(lib))

	report, err := env.reg.ReloadChanged(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Skipped, 1)
	assert.Contains(t, report.Skipped[0].Reason, "lib.star")
	assert.NotNil(t, m.handle)
	assert.Zero(t, env.fatals.count())
}
