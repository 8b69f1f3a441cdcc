// Copyright (c) 2024 Bryan Frimin <bryan@frimin.fr>.
//
// Permission to use, copy, modify, and/or distribute this software
// for any purpose with or without fee is hereby granted, provided
// that the above copyright notice and this permission notice appear
// in all copies.
//
// THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL
// WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED
// WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE
// AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR
// CONSEQUENTIAL DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS
// OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF CONTRACT,
// NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN
// CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.

// Package adminserver exposes the daemon's inbound-only HTTP surface:
// liveness, Prometheus metrics, and a small JSON stats endpoint. It is
// entirely separate from the memcached-ASCII wire protocol the daemon
// speaks to its rate-limited clients.
package adminserver

import (
	"context"
	"io"
	stdlog "log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.gearno.de/ratelimitd/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// StatsSource reports a point-in-time view of the engine the daemon
// is serving, rendered by the /stats endpoint.
type StatsSource interface {
	Len() int
}

type (
	// Option configures a Server during construction.
	Option func(o *options)

	options struct {
		tracerProvider trace.TracerProvider
		logger         *log.Logger
		registerer     prometheus.Registerer
	}

	// Server is the admin HTTP surface: /healthz, /metrics, /stats.
	Server struct {
		http    *http.Server
		ready   atomic.Bool
		stats   StatsSource
		metrics *prometheus.Registry
	}
)

// WithLogger sets the logger used for admin HTTP telemetry.
func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		o.logger = l.Named("admin.server")
	}
}

// WithTracerProvider configures OpenTelemetry tracing for admin
// requests.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}

// WithRegisterer sets the Prometheus registerer that admin HTTP
// telemetry registers into. It defaults to the registry passed to
// NewServer; /metrics always gathers from that registry.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = r
	}
}

// NewServer builds the admin HTTP server for addr. stats is queried
// fresh on every /stats request; registry must be a *prometheus.Registry
// so /metrics can gather from it directly.
func NewServer(addr string, stats StatsSource, registry *prometheus.Registry, opts ...Option) *Server {
	o := &options{
		logger:         log.NewLogger(log.WithOutput(io.Discard)),
		tracerProvider: otel.GetTracerProvider(),
		registerer:     registry,
	}

	for _, opt := range opts {
		opt(o)
	}

	s := &Server{stats: stats, metrics: registry}

	router := chi.NewRouter()
	router.Get("/healthz", s.handleHealthz)
	router.Get("/stats", s.handleStats)
	router.Handle("/metrics", promhttp.HandlerFor(
		registry,
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
			ErrorHandling:     promhttp.ContinueOnError,
		},
	))

	logger := o.logger.With(log.String("admin_server_addr", addr))
	handler := newHandlerWrapper(router, logger, o.tracerProvider, o.registerer)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ErrorLog:          stdlog.New(logger.NewWriter(log.LevelError), "", 0),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       15 * time.Second,
	}

	return s
}

// MarkReady flips /healthz to report 200. Called once the daemon's
// listeners are accepting connections.
func (s *Server) MarkReady() {
	s.ready.Store(true)
}

// ListenAndServe starts the HTTP server, blocking until it stops.
// Callers should run it in its own goroutine and call Shutdown to
// stop it.
func (s *Server) ListenAndServe() error {
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		renderJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	renderJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, map[string]any{
		"tracked_keys": s.stats.Len(),
	})
}
