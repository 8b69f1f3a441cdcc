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
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// engineMetrics is shared by a root RateLimit and every dynlist child
// it spawns, so every instance's operations land on the same
// Prometheus collectors, distinguished by the "policy" label.
type engineMetrics struct {
	hitsTotal       *prometheus.CounterVec
	entries         *prometheus.GaugeVec
	cleanupDuration *prometheus.HistogramVec
	cleanupRemoved  *prometheus.CounterVec
	dynlistChildren *prometheus.GaugeVec
}

func newEngineMetrics(reg prometheus.Registerer) *engineMetrics {
	m := &engineMetrics{
		hitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Subsystem: "ratelimit",
				Name:      "hits_total",
				Help:      "Total number of hit admission attempts.",
			},
			[]string{"policy", "allowed"},
		),
		entries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Subsystem: "ratelimit",
				Name:      "entries",
				Help:      "Number of keys currently tracked.",
			},
			[]string{"policy"},
		),
		cleanupDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Subsystem: "ratelimit",
				Name:      "cleanup_duration_seconds",
				Help:      "Duration of cleanup passes in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"policy"},
		),
		cleanupRemoved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Subsystem: "ratelimit",
				Name:      "cleanup_removed_total",
				Help:      "Total number of entries removed by cleanup.",
			},
			[]string{"policy"},
		),
		dynlistChildren: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Subsystem: "ratelimit",
				Name:      "dynlist_children",
				Help:      "Number of live dynlist child RateLimits.",
			},
			[]string{"policy"},
		),
	}

	m.hitsTotal = registerOrReuseCounterVec(reg, m.hitsTotal)
	m.entries = registerOrReuseGaugeVec(reg, m.entries)
	m.cleanupDuration = registerOrReuseHistogramVec(reg, m.cleanupDuration)
	m.cleanupRemoved = registerOrReuseCounterVec(reg, m.cleanupRemoved)
	m.dynlistChildren = registerOrReuseGaugeVec(reg, m.dynlistChildren)

	return m
}

func registerOrReuseCounterVec(reg prometheus.Registerer, c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(*prometheus.CounterVec)
		}
	}
	return c
}

func registerOrReuseGaugeVec(reg prometheus.Registerer, g *prometheus.GaugeVec) *prometheus.GaugeVec {
	if err := reg.Register(g); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(*prometheus.GaugeVec)
		}
	}
	return g
}

func registerOrReuseHistogramVec(reg prometheus.Registerer, h *prometheus.HistogramVec) *prometheus.HistogramVec {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(*prometheus.HistogramVec)
		}
	}
	return h
}

func (m *engineMetrics) observeHit(policy string, admitted bool) {
	m.hitsTotal.WithLabelValues(policy, boolLabel(admitted)).Inc()
}

func (m *engineMetrics) setEntries(policy string, n int) {
	m.entries.WithLabelValues(policy).Set(float64(n))
}

func (m *engineMetrics) observeCleanup(policy string, d time.Duration, removed int) {
	m.cleanupDuration.WithLabelValues(policy).Observe(d.Seconds())
	if removed > 0 {
		m.cleanupRemoved.WithLabelValues(policy).Add(float64(removed))
	}
}

func (m *engineMetrics) setDynlistChildren(policy string, n int) {
	m.dynlistChildren.WithLabelValues(policy).Set(float64(n))
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
