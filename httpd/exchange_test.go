package httpd

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/GoCodeAlone/modhost"
	"github.com/GoCodeAlone/modhost/runtime/script"
)

func TestExchangeNative(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com/x", nil)
	x := newExchange(req, []modhost.Arg{{Name: "id", Value: "7"}})

	v, ok := x.Arg("id")
	assert.True(t, ok)
	assert.Equal(t, "7", v)
	_, ok = x.Arg("missing")
	assert.False(t, ok)
	assert.Len(t, x.Args(), 1)
	assert.False(t, x.Responded())

	x.Respond(http.StatusAccepted, []byte("a"))
	x.Respond(http.StatusAccepted, []byte("b"))
	assert.True(t, x.Responded())

	rec := httptest.NewRecorder()
	x.writeTo(rec)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "ab", rec.Body.String())
}

func TestExchangeStarlark(t *testing.T) {
	req := httptest.NewRequest(http.MethodPut, "http://example.com/items?id=3", nil)
	req.Header.Set("X-Trace", "t-1")
	x := newExchange(req, []modhost.Arg{{Name: "id", Value: "3"}})

	v, err := x.StarlarkValue()
	require.NoError(t, err)
	value, ok := v.(*starlarkstruct.Struct)
	require.True(t, ok)

	src := `
out = [req.method, req.path, req.host, req.args["id"], req.header("X-Trace"), req.cookie("nope"), req.arg("other")]
req.set_header("X-Out", "1")
req.response(418, b"teapot")
`
	globals, err := starlark.ExecFile(&starlark.Thread{Name: "test"}, "exchange.star", src,
		starlark.StringDict{"req": value})
	require.NoError(t, err)
	assert.Equal(t, `["PUT", "/items", "example.com", "3", "t-1", None, None]`, globals["out"].String())

	rec := httptest.NewRecorder()
	x.writeTo(rec)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "teapot", rec.Body.String())
	assert.Equal(t, "1", rec.Header().Get("X-Out"))
}

func TestExchangeStarlarkErrors(t *testing.T) {
	x := newExchange(httptest.NewRequest(http.MethodGet, "http://example.com/", nil), nil)
	value, err := x.StarlarkValue()
	require.NoError(t, err)

	for _, src := range []string{
		`req.response(42)`,
		`req.response(200, 5)`,
		`req.set_header("only-name")`,
	} {
		_, err := starlark.ExecFile(&starlark.Thread{Name: "test"}, "bad.star", src, starlark.StringDict{"req": value})
		assert.Error(t, err, src)
	}
	assert.False(t, x.Responded())
}

func TestExchangeStarlarkArgsDict(t *testing.T) {
	x := newExchange(httptest.NewRequest(http.MethodGet, "http://example.com/search", nil), []modhost.Arg{
		{Name: "q", Value: "go"},
		{Name: "page", Value: "2"},
	})
	value, err := script.ToValue(x)
	require.NoError(t, err)

	src := `
keys = list(req.args.keys())
page = req.args.get("page")
missing = req.args.get("user", "anon")
n = len(req.args)
`
	globals, err := starlark.ExecFile(&starlark.Thread{Name: "test"}, "args.star", src, starlark.StringDict{"req": value})
	require.NoError(t, err)
	assert.Equal(t, `["q", "page"]`, globals["keys"].String())
	assert.Equal(t, starlark.String("2"), globals["page"])
	assert.Equal(t, starlark.String("anon"), globals["missing"])
	assert.Equal(t, starlark.MakeInt(2), globals["n"])

	empty, err := newExchange(httptest.NewRequest(http.MethodGet, "http://example.com/", nil), nil).StarlarkValue()
	require.NoError(t, err)
	args, err := empty.(*starlarkstruct.Struct).Attr("args")
	require.NoError(t, err)
	assert.Equal(t, "{}", args.String())
}
