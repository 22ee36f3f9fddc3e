package script

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"

	"github.com/GoCodeAlone/modhost"
)

type recordingLogger struct {
	infos []string
}

func (l *recordingLogger) Info(msg string, args ...any)  { l.infos = append(l.infos, msg) }
func (l *recordingLogger) Error(msg string, args ...any) {}
func (l *recordingLogger) Warn(msg string, args ...any)  {}
func (l *recordingLogger) Debug(msg string, args ...any) {}

func writeScript(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))
	return path
}

const handlersScript = `
greeting = "hello"

def on_load(action):
    if action == modhost.MODULE_LOAD:
        return modhost.RESULT_OK
    return modhost.RESULT_ERROR

def echo(value):
    return value

def nothing():
    pass

def flag(ok):
    return ok

def boom():
    fail("boom")

def shout(msg):
    modhost.log(msg)
    print("printed " + msg)
`

func TestLoaderOpenResolveInvoke(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "handlers.star", handlersScript)
	l := NewLoader()
	ctx := context.Background()

	assert.Equal(t, modhost.RuntimeScripted, l.Kind())

	h, err := l.Open(path)
	require.NoError(t, err)

	t.Run("lifecycle_constants", func(t *testing.T) {
		c, ok := l.Resolve(h, "on_load")
		require.True(t, ok)
		defer l.Release(c)

		rc, err := l.Invoke(ctx, c, []any{int(modhost.ActionLoad)})
		require.NoError(t, err)
		assert.Equal(t, modhost.ResultOK, rc)

		rc, err = l.Invoke(ctx, c, []any{modhost.ActionUnload})
		require.NoError(t, err)
		assert.Equal(t, modhost.ResultError, rc)
	})

	t.Run("return_values_are_normalized", func(t *testing.T) {
		echo, ok := l.Resolve(h, "echo")
		require.True(t, ok)
		defer l.Release(echo)

		rc, err := l.Invoke(ctx, echo, []any{modhost.ResultRetry})
		require.NoError(t, err)
		assert.Equal(t, modhost.ResultRetry, rc)

		_, err = l.Invoke(ctx, echo, []any{"text"})
		assert.ErrorIs(t, err, ErrResultType)

		nothing, ok := l.Resolve(h, "nothing")
		require.True(t, ok)
		defer l.Release(nothing)
		rc, err = l.Invoke(ctx, nothing, nil)
		require.NoError(t, err)
		assert.Equal(t, modhost.ResultOK, rc)

		flag, ok := l.Resolve(h, "flag")
		require.True(t, ok)
		defer l.Release(flag)
		rc, _ = l.Invoke(ctx, flag, []any{true})
		assert.Equal(t, modhost.ResultOK, rc)
		rc, _ = l.Invoke(ctx, flag, []any{false})
		assert.Equal(t, modhost.ResultError, rc)
	})

	t.Run("script_error", func(t *testing.T) {
		c, ok := l.Resolve(h, "boom")
		require.True(t, ok)
		defer l.Release(c)

		rc, err := l.Invoke(ctx, c, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")
		assert.Equal(t, modhost.ResultError, rc)
	})

	t.Run("non_callable_globals_are_not_found", func(t *testing.T) {
		_, ok := l.Resolve(h, "greeting")
		assert.False(t, ok)
		_, ok = l.Resolve(h, "missing")
		assert.False(t, ok)
	})

	require.NoError(t, l.Close(h))
	open, outstanding := l.Stats()
	assert.Equal(t, 0, open)
	assert.Equal(t, 0, outstanding)
}

func TestLoaderLogging(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "handlers.star", handlersScript)
	logger := &recordingLogger{}
	l := NewLoader(WithLogger(logger))

	h, err := l.Open(path)
	require.NoError(t, err)
	c, ok := l.Resolve(h, "shout")
	require.True(t, ok)

	_, err = l.Invoke(context.Background(), c, []any{"hi"})
	require.NoError(t, err)
	assert.Equal(t, []string{"hi", "printed hi"}, logger.infos)

	l.Release(c)
	require.NoError(t, l.Close(h))
}

func TestLoaderReleaseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "handlers.star", handlersScript)
	l := NewLoader()

	h, err := l.Open(path)
	require.NoError(t, err)
	c, ok := l.Resolve(h, "echo")
	require.True(t, ok)

	_, outstanding := l.Stats()
	assert.Equal(t, 1, outstanding)

	l.Release(c)
	l.Release(c)
	_, outstanding = l.Stats()
	assert.Equal(t, 0, outstanding)

	_, err = l.Invoke(context.Background(), c, []any{1})
	assert.Error(t, err)
	require.NoError(t, l.Close(h))
}

func TestLoaderCloseKeepsResolvedCallables(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "handlers.star", handlersScript)
	l := NewLoader()

	h, err := l.Open(path)
	require.NoError(t, err)
	c, ok := l.Resolve(h, "echo")
	require.True(t, ok)
	require.NoError(t, l.Close(h))

	rc, err := l.Invoke(context.Background(), c, []any{modhost.ResultOK})
	require.NoError(t, err)
	assert.Equal(t, modhost.ResultOK, rc)

	_, ok = l.Resolve(h, "echo")
	assert.False(t, ok, "closed module resolves nothing")
	assert.Error(t, l.Close(h), "double close")
	l.Release(c)
}

func TestLoaderOpenErrors(t *testing.T) {
	dir := t.TempDir()
	l := NewLoader()

	t.Run("missing_file", func(t *testing.T) {
		_, err := l.Open(filepath.Join(dir, "nope.star"))
		assert.Error(t, err)
	})

	t.Run("syntax_error", func(t *testing.T) {
		path := writeScript(t, dir, "bad.star", "def broken(:\n")
		_, err := l.Open(path)
		assert.Error(t, err)
	})

	t.Run("runtime_error_at_top_level", func(t *testing.T) {
		path := writeScript(t, dir, "fails.star", "x = 1 // 0\n")
		_, err := l.Open(path)
		assert.Error(t, err)
	})

	open, _ := l.Stats()
	assert.Equal(t, 0, open)
}

func TestLoaderLoadStatement(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "lib.star", "def ok():\n    return modhost.RESULT_OK\n")
	path := writeScript(t, dir, "main.star", `load("lib.star", "ok")

def handler():
    return ok()
`)
	l := NewLoader()
	h, err := l.Open(path)
	require.NoError(t, err)

	c, ok := l.Resolve(h, "handler")
	require.True(t, ok)
	rc, err := l.Invoke(context.Background(), c, nil)
	require.NoError(t, err)
	assert.Equal(t, modhost.ResultOK, rc)
	l.Release(c)
	assert.Equal(t, []string{filepath.Join(dir, "lib.star")}, l.Dependencies(h))
	require.NoError(t, l.Close(h))

	t.Run("cycle", func(t *testing.T) {
		writeScript(t, dir, "a.star", `load("b.star", "b")`+"\n")
		writeScript(t, dir, "b.star", `load("a.star", "a")`+"\n")
		_, err := l.Open(filepath.Join(dir, "a.star"))
		assert.ErrorContains(t, err, "load cycle")
	})
}

func TestLoaderInvokeCancelled(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "spin.star", `
def spin():
    n = 0
    for i in range(1000000000):
        n += i
    return n
`)
	l := NewLoader()
	h, err := l.Open(path)
	require.NoError(t, err)
	c, ok := l.Resolve(h, "spin")
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	rc, err := l.Invoke(ctx, c, nil)
	assert.Error(t, err)
	assert.Equal(t, modhost.ResultError, rc)
	l.Release(c)
	require.NoError(t, l.Close(h))
}

func TestWithPredeclared(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "uses.star", "def check():\n    return LIMIT == 3\n")
	l := NewLoader(WithPredeclared("LIMIT", starlark.MakeInt(3)))

	h, err := l.Open(path)
	require.NoError(t, err)
	c, ok := l.Resolve(h, "check")
	require.True(t, ok)
	rc, err := l.Invoke(context.Background(), c, nil)
	require.NoError(t, err)
	assert.Equal(t, modhost.ResultOK, rc)
	l.Release(c)
	require.NoError(t, l.Close(h))
}

func TestLoaderDependencies(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "util.star", "X = 1\n")
	writeScript(t, dir, "lib.star", `load("util.star", "X")
Y = X + 1
`)
	path := writeScript(t, dir, "main.star", `load("lib.star", "Y")
load("util.star", "X")

def handler():
    return modhost.RESULT_OK
`)
	l := NewLoader()
	h, err := l.Open(path)
	require.NoError(t, err)
	defer l.Close(h)

	assert.Equal(t, []string{filepath.Join(dir, "lib.star"), filepath.Join(dir, "util.star")}, l.Dependencies(h))
	assert.Nil(t, l.Dependencies("not a handle"))

	standalone, err := l.Open(filepath.Join(dir, "util.star"))
	require.NoError(t, err)
	defer l.Close(standalone)
	assert.Empty(t, l.Dependencies(standalone))
}
