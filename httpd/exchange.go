package httpd

import (
	"bytes"
	"fmt"
	"net/http"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/GoCodeAlone/modhost"
)

// Exchange is the request object handed to a handler function. Native
// handlers receive it as their single argument; scripts see it as a struct
// with method, path, host and args attributes plus response helpers.
type Exchange struct {
	Request *http.Request
	args    []modhost.Arg

	header http.Header
	status int
	body   bytes.Buffer
}

func newExchange(r *http.Request, args []modhost.Arg) *Exchange {
	return &Exchange{Request: r, args: args, header: make(http.Header)}
}

// Args returns the validated arguments in declaration order.
func (x *Exchange) Args() []modhost.Arg {
	out := make([]modhost.Arg, len(x.args))
	copy(out, x.args)
	return out
}

// Arg returns a validated argument by name.
func (x *Exchange) Arg(name string) (string, bool) {
	for _, a := range x.args {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// Header returns the response headers to be sent.
func (x *Exchange) Header() http.Header { return x.header }

// Respond sets the response status and appends body.
func (x *Exchange) Respond(status int, body []byte) {
	x.status = status
	x.body.Write(body)
}

// Responded reports whether the handler produced a response.
func (x *Exchange) Responded() bool { return x.status != 0 }

func (x *Exchange) writeTo(w http.ResponseWriter) {
	for k, vs := range x.header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	status := x.status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(x.body.Bytes())
}

// StarlarkValue presents the exchange to scripts. args is a dict of the
// validated arguments in declaration order.
func (x *Exchange) StarlarkValue() (starlark.Value, error) {
	args := starlark.NewDict(len(x.args))
	for _, a := range x.args {
		if err := args.SetKey(starlark.String(a.Name), starlark.String(a.Value)); err != nil {
			return nil, fmt.Errorf("request arg %q: %w", a.Name, err)
		}
	}

	return starlarkstruct.FromStringDict(starlark.String("request"), starlark.StringDict{
		"method":     starlark.String(x.Request.Method),
		"path":       starlark.String(x.Request.URL.Path),
		"host":       starlark.String(x.Request.Host),
		"args":       args,
		"arg":        starlark.NewBuiltin("arg", x.starlarkArg),
		"header":     starlark.NewBuiltin("header", x.starlarkHeader),
		"cookie":     starlark.NewBuiltin("cookie", x.starlarkCookie),
		"set_header": starlark.NewBuiltin("set_header", x.starlarkSetHeader),
		"response":   starlark.NewBuiltin("response", x.starlarkResponse),
	}), nil
}

func (x *Exchange) starlarkArg(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	if v, ok := x.Arg(name); ok {
		return starlark.String(v), nil
	}
	return starlark.None, nil
}

func (x *Exchange) starlarkHeader(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	return starlark.String(x.Request.Header.Get(name)), nil
}

func (x *Exchange) starlarkCookie(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	c, err := x.Request.Cookie(name)
	if err != nil {
		return starlark.None, nil
	}
	return starlark.String(c.Value), nil
}

func (x *Exchange) starlarkSetHeader(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, value string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &name, &value); err != nil {
		return nil, err
	}
	x.header.Set(name, value)
	return starlark.None, nil
}

func (x *Exchange) starlarkResponse(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		status int
		body   starlark.Value = starlark.String("")
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "status", &status, "body?", &body); err != nil {
		return nil, err
	}
	if status < 100 || status > 999 {
		return nil, fmt.Errorf("%s: invalid status %d", b.Name(), status)
	}
	switch v := body.(type) {
	case starlark.String:
		x.Respond(status, []byte(string(v)))
	case starlark.Bytes:
		x.Respond(status, []byte(string(v)))
	default:
		return nil, fmt.Errorf("%s: body must be str or bytes, not %s", b.Name(), body.Type())
	}
	return starlark.None, nil
}
