// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package observability provides extension host metrics and the HTTP
// endpoints that serve them with health checks.
package observability

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// Endpoint paths.
const (
	PathMetrics   = "/metrics"
	PathLiveness  = "/healthz/liveness"
	PathReadiness = "/healthz/readiness"
)

// ReadinessChecker reports whether the coordinator has finished starting
// its hosts. A nil checker is always ready.
type ReadinessChecker func() bool

// Server serves /metrics and the health checks for one coordinator. Its
// registry is private to the server.
type Server struct {
	addr     string
	ready    ReadinessChecker
	registry *prometheus.Registry
	metrics  *Metrics
	release  func()
	logger   *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	http     *http.Server
}

// NewServer creates a server for addr ("host:port"; port 0 picks one).
func NewServer(addr string, ready ReadinessChecker) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	// A fresh registry has no other owners, so Shared cannot fail here.
	metrics, release, _ := Shared(registry, "observability-server")
	return &Server{
		addr:     addr,
		ready:    ready,
		registry: registry,
		metrics:  metrics,
		release:  release,
		logger:   slog.Default().With("component", "observability"),
	}
}

// Metrics returns the extension host metrics served on /metrics.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Registry returns the registry served on /metrics. Coordinators pass it
// to Shared to have their metrics exported.
func (s *Server) Registry() prometheus.Registerer { return s.registry }

// Handler returns the health and metrics routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(PathMetrics, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc(PathLiveness, func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, "ok")
	})
	mux.HandleFunc(PathReadiness, func(w http.ResponseWriter, _ *http.Request) {
		if s.ready != nil && !s.ready() {
			writeStatus(w, http.StatusServiceUnavailable, "not ready")
			return
		}
		writeStatus(w, http.StatusOK, "ok")
	})
	return mux
}

func writeStatus(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body + "\n"))
}

// Start listens on the configured address and serves in the background.
// Serve failures are delivered on the returned channel, which is closed
// once serving ends.
func (s *Server) Start() (<-chan error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.http != nil {
		return nil, oops.In("observability").Errorf("observability server already running")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, oops.In("observability").With("addr", s.addr).Hint("failed to listen").Wrap(err)
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	s.listener = ln
	s.http = srv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("observability server failed", "error", err)
			errCh <- err
		}
	}()

	s.logger.Info("observability server listening", "addr", ln.Addr().String())
	return errCh, nil
}

// Stop shuts the server down and releases its metrics. Stopping a server
// that is not running is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.http == nil {
		return nil
	}
	if err := s.http.Shutdown(ctx); err != nil {
		return oops.In("observability").Hint("failed to shut down observability server").Wrap(err)
	}
	s.http = nil
	s.listener = nil
	s.release()
	s.logger.Info("observability server stopped")
	return nil
}

// Addr returns the bound address, or "" when the server is not running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
