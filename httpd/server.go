// Package httpd serves registry handlers over HTTP.
//
// Every request that is not an admin route is routed through the registry:
// the host picks the domain, the path picks the first matching handler, the
// handler's authorization policy is checked, query and form values are
// filtered through the declared parameters, and the bound function is
// invoked with an *Exchange. Result codes map to statuses: ResultOK sends
// the handler's response (200 when it set none), ResultRetry sends 503 and
// anything else 500. Requests no handler matches get 404.
package httpd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GoCodeAlone/modhost"
)

var (
	ErrServerNotStarted = errors.New("httpd: server not started")
	ErrServerStarted    = errors.New("httpd: server already started")
)

// Reloader runs a reload pass on request.
// *modhost.ReloadOrchestrator implements it.
type Reloader interface {
	RequestReload(ctx context.Context, trigger modhost.ReloadTrigger) (modhost.ReloadReport, error)
}

// RequestObserver records dispatched requests. *metrics.Collector
// implements it.
type RequestObserver interface {
	ObserveRequest(code int, duration time.Duration)
}

// Server is the HTTP front of a registry.
type Server struct {
	registry *modhost.Registry
	logger   modhost.Logger
	router   *chi.Mux

	reloader   Reloader
	reloadPath string

	gatherer    prometheus.Gatherer
	metricsPath string
	observer    RequestObserver

	readTimeout     time.Duration
	writeTimeout    time.Duration
	shutdownTimeout time.Duration

	server *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger modhost.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithReload exposes POST path as a manual reload trigger.
func WithReload(path string, reloader Reloader) Option {
	return func(s *Server) {
		s.reloadPath = path
		s.reloader = reloader
	}
}

// WithMetrics serves gatherer at path.
func WithMetrics(path string, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metricsPath = path
		s.gatherer = gatherer
	}
}

// WithRequestObserver reports every dispatched request to observer.
func WithRequestObserver(observer RequestObserver) Option {
	return func(s *Server) {
		s.observer = observer
	}
}

// WithTimeouts sets the read and write timeouts of the listener.
func WithTimeouts(read, write time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = read
		s.writeTimeout = write
	}
}

// New creates a server for registry.
func New(registry *modhost.Registry, opts ...Option) *Server {
	s := &Server{
		registry:        registry,
		logger:          registry.Logger(),
		readTimeout:     15 * time.Second,
		writeTimeout:    30 * time.Second,
		shutdownTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.newRouter()
	return s
}

func (s *Server) newRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if s.gatherer != nil && s.metricsPath != "" {
		r.Method(http.MethodGet, s.metricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	if s.reloader != nil && s.reloadPath != "" {
		r.Post(s.reloadPath, s.handleReload)
	}
	r.Handle("/*", http.HandlerFunc(s.dispatch))
	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on addr and serves in the background. The bound address is
// returned, which matters when addr asks for port 0.
func (s *Server) Start(addr string) (net.Addr, error) {
	if s.server != nil {
		return nil, ErrServerStarted
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("httpd: listen %s: %w", addr, err)
	}
	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
	}
	go func() {
		s.logger.Info("Starting HTTP server", "address", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", "error", err)
		}
	}()
	return ln.Addr(), nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return ErrServerNotStarted
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("httpd: shutdown: %w", err)
	}
	s.server = nil
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
	defer func() {
		if s.observer != nil {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			s.observer.ObserveRequest(status, time.Since(start))
		}
	}()

	err := s.registry.Route(r.Context(), r.Host, r.URL.Path, func(ctx context.Context, h *modhost.Handler) error {
		return s.serveHandler(ctx, ww, r, h)
	})
	switch {
	case err == nil:
	case errors.Is(err, modhost.ErrNoMatch), errors.Is(err, modhost.ErrDomainNotFound):
		http.NotFound(ww, r)
	default:
		s.logger.Error("Dispatch failed", "host", r.Host, "path", r.URL.Path, "error", err)
		http.Error(ww, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (s *Server) serveHandler(ctx context.Context, w http.ResponseWriter, r *http.Request, h *modhost.Handler) error {
	x := newExchange(r, nil)
	if policy := h.Auth(); policy != nil && !authorize(ctx, policy, x) {
		if policy.Redirect != "" {
			http.Redirect(w, r, policy.Redirect, http.StatusFound)
			return nil
		}
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return nil
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return nil
	}
	values := make(map[string]string, len(r.Form))
	for k, vs := range r.Form {
		if len(vs) > 0 {
			values[k] = vs[0]
		}
	}

	x.args = h.FilterArgs(ctx, values)
	rc, err := h.Invoke(ctx, x)
	switch {
	case err != nil || rc == modhost.ResultError:
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	case rc == modhost.ResultRetry:
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
	case rc == modhost.ResultOK:
		x.writeTo(w)
	default:
		s.logger.Warn("Handler returned unknown result", "path", h.Path(), "function", h.FuncName(), "result", rc)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
	return nil
}

// authorize checks policy. Request policies hand the exchange, not the bare
// *http.Request, to their function validator so scripts can inspect it.
func authorize(ctx context.Context, policy *modhost.AuthPolicy, x *Exchange) bool {
	if policy.Type == modhost.AuthRequest {
		return policy.Validator.Check(ctx, x)
	}
	return policy.Authorize(ctx, x.Request)
}

type reloadResponse struct {
	Reloaded []string `json:"reloaded"`
	Skipped  []string `json:"skipped"`
	Rebound  int      `json:"rebound"`
	Error    string   `json:"error,omitempty"`
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	report, err := s.reloader.RequestReload(r.Context(), modhost.ReloadTriggerManual)
	resp := reloadResponse{Reloaded: report.Reloaded, Rebound: report.Rebound}
	if resp.Reloaded == nil {
		resp.Reloaded = []string{}
	}
	resp.Skipped = []string{}
	for _, sk := range report.Skipped {
		resp.Skipped = append(resp.Skipped, sk.Path)
	}
	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		status = http.StatusInternalServerError
		if errors.Is(err, modhost.ErrReloadQueueFull) {
			status = http.StatusServiceUnavailable
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
