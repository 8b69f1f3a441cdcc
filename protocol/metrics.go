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

package protocol

import "github.com/prometheus/client_golang/prometheus"

// connMetrics is shared by every Conn the daemon accepts.
type connMetrics struct {
	commandsTotal *prometheus.CounterVec
}

func newConnMetrics(reg prometheus.Registerer) *connMetrics {
	m := &connMetrics{
		commandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Subsystem: "protocol",
				Name:      "commands_total",
				Help:      "Total number of wire protocol commands handled, by command and result.",
			},
			[]string{"command", "result"},
		),
	}

	if err := reg.Register(m.commandsTotal); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			m.commandsTotal = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}

	return m
}

func (m *connMetrics) observe(command, result string) {
	m.commandsTotal.WithLabelValues(command, result).Inc()
}
