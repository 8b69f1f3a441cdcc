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

package ratelimit

import (
	"context"
	"io"
	"sync"
	"time"
	"weak"

	"github.com/prometheus/client_golang/prometheus"
	"go.gearno.de/ratelimitd/internal/version"
	"go.gearno.de/ratelimitd/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "go.gearno.de/ratelimitd/ratelimit"

type (
	// Option configures a RateLimit during construction.
	Option func(r *RateLimit)

	// Target is satisfied by both a root RateLimit and whatever
	// DynList resolves a key to, so callers (the protocol dispatcher)
	// never need to know which one they hold.
	Target interface {
		Hit(ctx context.Context, key string) bool
		NextHit(key string) (uint32, bool)
		Contains(key string) bool
		Remove(key string) bool
		Len() int
	}

	// RateLimit is a keyed store of per-key sliding-window hit
	// histories sharing one Policy.
	RateLimit struct {
		mu sync.Mutex

		policy Policy
		clock  func() int64

		entries map[string]*entry
		dlists  map[policyKey]weak.Pointer[RateLimit]
		cleanup *cleanupTask

		logger *log.Logger
		tracer trace.Tracer

		metrics        *engineMetrics
		policyLabel    string
		registerer     prometheus.Registerer
		tracerProvider trace.TracerProvider
	}

	policyKey struct {
		count    int
		periodMs int64
	}
)

var _ Target = (*RateLimit)(nil)

// WithLogger sets the logger used for cleanup and lifecycle events.
func WithLogger(l *log.Logger) Option {
	return func(r *RateLimit) {
		r.logger = l.Named("ratelimit")
	}
}

// WithTracerProvider configures OpenTelemetry tracing for Hit and
// Cleanup spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *RateLimit) {
		r.tracerProvider = tp
		r.tracer = tp.Tracer(
			tracerName,
			trace.WithInstrumentationVersion(version.New(0).Alpha(1)),
		)
	}
}

// WithRegisterer sets the Prometheus registerer metrics are exposed
// through.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(r *RateLimit) {
		r.registerer = reg
	}
}

// WithClock overrides the millisecond clock source. Intended for
// tests; production callers should leave this unset.
func WithClock(clock func() int64) Option {
	return func(r *RateLimit) {
		r.clock = clock
	}
}

// New creates a RateLimit enforcing policy. Policy must already have
// been validated with NewPolicy.
func New(policy Policy, options ...Option) *RateLimit {
	r := &RateLimit{
		policy:     policy,
		clock:      defaultClock,
		entries:    make(map[string]*entry),
		dlists:     make(map[policyKey]weak.Pointer[RateLimit]),
		logger:     log.NewLogger(log.WithOutput(io.Discard)),
		tracer:     otel.GetTracerProvider().Tracer(tracerName),
		registerer: prometheus.DefaultRegisterer,
	}

	for _, o := range options {
		o(r)
	}

	r.metrics = newEngineMetrics(r.registerer)
	r.policyLabel = policy.label()

	return r
}

func defaultClock() int64 {
	return time.Now().UnixMilli()
}

// Hit attempts to admit a hit for key, creating its Entry if absent.
// It reports whether the hit was admitted.
func (r *RateLimit) Hit(ctx context.Context, key string) bool {
	var span trace.Span
	if root := trace.SpanFromContext(ctx); root.IsRecording() {
		_, span = r.tracer.Start(
			ctx,
			"ratelimit.Hit",
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(
				attribute.String("ratelimit.key", key),
				attribute.String("ratelimit.policy", r.policyLabel),
			),
		)
		defer span.End()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		e = &entry{}
		r.entries[key] = e
	}

	admitted := e.hit(r.clock(), r.policy.Count, r.policy.PeriodMs, r.policy.BlockSize)

	if span != nil {
		span.SetAttributes(attribute.Bool("ratelimit.admitted", admitted))
	}

	r.metrics.observeHit(r.policyLabel, admitted)
	r.metrics.setEntries(r.policyLabel, len(r.entries))

	return admitted
}

// NextHit reports the number of milliseconds until the next Hit(key)
// would succeed, and whether key is currently tracked.
func (r *RateLimit) NextHit(key string) (uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return 0, false
	}

	return e.nextHit(r.clock(), r.policy.Count, r.policy.PeriodMs), true
}

// Contains reports whether key currently has a tracked Entry.
func (r *RateLimit) Contains(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.entries[key]
	return ok
}

// Remove drops key's Entry, reporting whether it was present.
func (r *RateLimit) Remove(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.entries[key]
	delete(r.entries, key)

	r.metrics.setEntries(r.policyLabel, len(r.entries))

	return ok
}

// Len reports the number of keys currently tracked.
func (r *RateLimit) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}

// Cleanup removes every Entry whose newest hit has aged out of the
// window, and sweeps dlists children that have no remaining live
// reference and are themselves empty. It returns the number of
// Entries removed.
func (r *RateLimit) Cleanup(ctx context.Context) int {
	var span trace.Span
	if root := trace.SpanFromContext(ctx); root.IsRecording() {
		_, span = r.tracer.Start(
			ctx,
			"ratelimit.Cleanup",
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(attribute.String("ratelimit.policy", r.policyLabel)),
		)
		defer span.End()
	}

	start := time.Now()

	r.mu.Lock()
	now := r.clock()
	removed := 0
	for key, e := range r.entries {
		if e.isExpired(now, r.policy.PeriodMs) {
			delete(r.entries, key)
			removed++
		}
	}

	for pk, weakChild := range r.dlists {
		child := weakChild.Value()
		if child == nil {
			delete(r.dlists, pk)
			continue
		}
		if child.Len() == 0 {
			delete(r.dlists, pk)
		}
	}

	entriesLeft := len(r.entries)
	r.mu.Unlock()

	r.metrics.observeCleanup(r.policyLabel, time.Since(start), removed)
	r.metrics.setEntries(r.policyLabel, entriesLeft)

	if span != nil {
		span.SetAttributes(attribute.Int("ratelimit.removed", removed))
		span.SetStatus(codes.Ok, "")
	}

	if removed > 0 {
		r.logger.Debug("cleanup removed expired entries",
			log.Int("removed", removed),
			log.String("policy", r.policyLabel),
		)
	}

	return removed
}
