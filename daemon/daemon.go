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

// Package daemon wires the rate-limit engine and the wire protocol
// into a runnable TCP service: flag parsing, listener setup, the
// accept loop, and the admin HTTP surface.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.gearno.de/ratelimitd/adminserver"
	"go.gearno.de/ratelimitd/internal/otelutils"
	"go.gearno.de/ratelimitd/log"
	"go.gearno.de/ratelimitd/protocol"
	"go.gearno.de/ratelimitd/ratelimit"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"sigs.k8s.io/yaml"
)

// Daemon runs the rate-limit server described by a Config, from flag
// parsing through graceful shutdown.
type Daemon struct {
	name    string
	version string

	logger         *log.Logger
	registerer     *prometheus.Registry
	tracerProvider trace.TracerProvider

	config Config
}

// Option configures a Daemon during construction.
type Option func(d *Daemon)

// WithLogger sets the daemon's logger.
func WithLogger(l *log.Logger) Option {
	return func(d *Daemon) {
		d.logger = l.Named("daemon")
	}
}

// WithTracerProvider configures the daemon's OpenTelemetry tracer
// provider. Client-supplied rate-limit keys end up as span attributes
// and are not guaranteed to be valid UTF-8, so the provider is wrapped
// to sanitize them before they reach the exporter.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Daemon) {
		d.tracerProvider = otelutils.WrapTracerProvider(tp)
	}
}

// New creates a Daemon named name, reporting ver as its version.
func New(name, ver string, opts ...Option) *Daemon {
	d := &Daemon{
		name:           name,
		version:        ver,
		logger:         log.NewLogger(log.WithOutput(io.Discard)),
		registerer:     prometheus.NewRegistry(),
		tracerProvider: otelutils.WrapTracerProvider(otel.GetTracerProvider()),
		config:         defaultConfig(),
	}

	for _, o := range opts {
		o(d)
	}

	return d
}

// Run parses os.Args[1:] and runs the daemon until ctx is canceled or
// a signal arrives. A zero exit is reported as a nil error.
func (d *Daemon) Run(ctx context.Context) error {
	fs := flag.NewFlagSet(d.name, flag.ContinueOnError)

	sources := []string{}
	fs.Var(&repeatableFlag{&sources}, "s", "IP address/host to listen on (repeatable, default localhost)")
	port := fs.Int("p", 0, "TCP port to listen on")
	dynamic := fs.Bool("dynamic", false, "enable per-request dynamic policies")
	cleanupInterval := fs.Float64("cleanup-interval", 0, "cleanup sweep interval, in seconds")
	metricsAddr := fs.String("metrics-addr", "", "admin HTTP server listen address")
	cfgFile := fs.String("cfg-file", "", "path to a YAML configuration file")
	printCfg := fs.Bool("print-cfg", false, "print the effective configuration and exit")
	showVersion := fs.Bool("version", false, "print the version and exit")
	dumpFile := fs.String("dump-file", "", "path to write a rate-limit state snapshot to on shutdown")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	if *showVersion {
		fmt.Printf("%s %s\n", d.name, d.version)
		return nil
	}

	config := d.config
	if *cfgFile != "" {
		if err := loadConfigFile(*cfgFile, &config); err != nil {
			return fmt.Errorf("cannot load configuration from %q: %w", *cfgFile, err)
		}
	}

	if len(sources) > 0 {
		config.Sources = sources
	}
	if *port != 0 {
		config.Port = *port
	}
	if *dynamic {
		config.Dynamic = true
	}
	if *cleanupInterval != 0 {
		config.CleanupInterval = *cleanupInterval
	}
	if *metricsAddr != "" {
		config.MetricsAddr = *metricsAddr
	}
	if *dumpFile != "" {
		config.DumpFile = *dumpFile
	}

	if fs.NArg() < 1 {
		return errors.New("daemon: missing DEFINITION argument")
	}
	config.Definition = fs.Arg(0)

	if *printCfg {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "\t")
		return encoder.Encode(config)
	}

	definition, err := ParseDefinition(config.Definition)
	if err != nil {
		return err
	}

	policy, err := ratelimit.NewPolicy(definition.Count, definition.PeriodMs, ratelimit.Blocks(config.BlockSize))
	if err != nil {
		return fmt.Errorf("daemon: invalid definition: %w", err)
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	tracerProvider := d.tracerProvider
	if config.Tracing.Enabled {
		sdkTracerProvider, err := d.newTracerProvider(runCtx, config.Tracing)
		if err != nil {
			return fmt.Errorf("daemon: cannot start tracing exporter: %w", err)
		}
		tracerProvider = otelutils.WrapTracerProvider(sdkTracerProvider)

		wg.Add(1)
		go func() {
			defer wg.Done()
			<-runCtx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := sdkTracerProvider.Shutdown(shutdownCtx); err != nil {
				d.logger.Error("cannot shutdown trace exporter", log.Error(err))
			}
		}()
	}

	engine := ratelimit.New(
		policy,
		ratelimit.WithLogger(d.logger),
		ratelimit.WithTracerProvider(tracerProvider),
		ratelimit.WithRegisterer(d.registerer),
	)

	if err := engine.InstallCleanup(config.CleanupInterval); err != nil {
		return fmt.Errorf("daemon: cannot install cleanup: %w", err)
	}
	defer engine.RemoveCleanup()

	listeners := make([]net.Listener, 0, len(config.Sources))
	for _, host := range config.Sources {
		addr := fmt.Sprintf("%s:%d", host, config.Port)
		l, err := net.Listen("tcp", addr)
		if err != nil {
			for _, opened := range listeners {
				opened.Close()
			}
			return fmt.Errorf("daemon: cannot listen on %q: %w", addr, err)
		}
		listeners = append(listeners, l)
		d.logger.Info("listening", log.String("addr", addr))
	}

	admin := adminserver.NewServer(
		config.MetricsAddr,
		engine,
		d.registerer,
		adminserver.WithLogger(d.logger),
		adminserver.WithTracerProvider(tracerProvider),
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("admin server stopped unexpectedly", log.Error(err))
		}
	}()

	for _, l := range listeners {
		wg.Add(1)
		go func(l net.Listener) {
			defer wg.Done()
			d.acceptLoop(runCtx, l, engine, config.Dynamic)
		}(l)
	}

	admin.MarkReady()

	<-runCtx.Done()

	d.logger.Info("shutting down")

	for _, l := range listeners {
		l.Close()
	}
	admin.Shutdown()

	// We are rude and don't wait for client connections to close on
	// their own; the accept loops exit as soon as Accept fails on the
	// now-closed listeners.
	wg.Wait()

	if config.DumpFile != "" {
		if err := dumpSnapshot(config.DumpFile, engine); err != nil {
			d.logger.Error("cannot write dump file", log.Error(err))
		}
	}

	return nil
}

func (d *Daemon) acceptLoop(ctx context.Context, l net.Listener, engine *ratelimit.RateLimit, dynamic bool) {
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Warn("accept failed", log.Error(err))
			continue
		}

		go d.serveConn(ctx, conn, engine, dynamic)
	}
}

func (d *Daemon) serveConn(ctx context.Context, nc net.Conn, engine *ratelimit.RateLimit, dynamic bool) {
	defer nc.Close()

	c := protocol.New(
		nc,
		engine,
		protocol.WithLogger(d.logger),
		protocol.WithRegisterer(d.registerer),
		protocol.WithDynamic(dynamic),
	)

	buf := make([]byte, 4096)
	for {
		n, err := nc.Read(buf)
		if n > 0 {
			if feedErr := c.Feed(ctx, buf[:n]); feedErr != nil {
				d.logger.Warn("closing connection", log.String("conn_id", c.ID()), log.Error(feedErr))
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				d.logger.Debug("connection read error", log.String("conn_id", c.ID()), log.Error(err))
			}
			return
		}
	}
}

func loadConfigFile(filename string, config *Config) error {
	blob, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("cannot read file: %w", err)
	}

	blob, err = yaml.YAMLToJSON(blob)
	if err != nil {
		return fmt.Errorf("cannot convert yaml to json: %w", err)
	}

	return json.Unmarshal(blob, config)
}

func dumpSnapshot(filename string, engine *ratelimit.RateLimit) error {
	snap := engine.Snapshot()

	blob, err := json.MarshalIndent(snap, "", "\t")
	if err != nil {
		return fmt.Errorf("cannot encode snapshot: %w", err)
	}

	return os.WriteFile(filename, blob, 0o644)
}
