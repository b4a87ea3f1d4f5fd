// Package server runs the HTTP listener with the common middleware chain,
// the health probe and the Prometheus endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthCheck reports an unhealthy dependency.
type HealthCheck func(ctx context.Context) error

type Server struct {
	cfg    Config
	logger *slog.Logger
	mux    *http.ServeMux

	mu      sync.Mutex
	checks  map[string]HealthCheck
	srv     *http.Server
	started bool
}

func New(cfg Config, logger *slog.Logger) *Server {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		logger: logger.With("component", "server"),
		mux:    http.NewServeMux(),
		checks: make(map[string]HealthCheck),
	}
	s.Handle("GET /metrics", promhttp.Handler())
	s.Handle("GET /healthz", http.HandlerFunc(s.health))
	return s
}

// Handle registers h for pattern. It must be called before Start.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sw, ok := w.(*statusWriter); ok {
			sw.route = pattern
		}
		h.ServeHTTP(w, r)
	}))
}

// AddHealthCheck registers a named dependency probe for /healthz.
func (s *Server) AddHealthCheck(name string, check HealthCheck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// Handler returns the mux wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mws := []Middleware{s.recover, requestID, s.logRequests, TimeoutMiddleware(s.cfg.RequestTimeout)}
	if s.cfg.EnableCORS {
		mws = append(mws, cors(s.cfg.AllowedOrigins))
	}
	return Chain(s.mux, mws...)
}

// Start serves until ctx is done or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	s.started = true
	s.srv = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	srv := s.srv
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	s.logger.Info("Stopping HTTP server")
	return srv.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	checks := make(map[string]HealthCheck, len(s.checks))
	for k, v := range s.checks {
		checks[k] = v
	}
	s.mu.Unlock()

	status := http.StatusOK
	body := map[string]string{}
	for name, check := range checks {
		if err := check(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body[name] = err.Error()
			continue
		}
		body[name] = "ok"
	}
	WriteJSON(w, status, map[string]any{"status": http.StatusText(status), "checks": body})
}
