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

// Package protocol implements a memcached-ASCII-protocol subset used
// to drive a ratelimit.Target over a plain TCP connection: incr, get,
// and delete, each with an optional trailing noreply.
package protocol

import (
	"context"
	"errors"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"go.gearno.de/crypto/uuid"
	"go.gearno.de/ratelimitd/log"
	"go.gearno.de/ratelimitd/ratelimit"
	"go.gearno.de/x/panicf"
)

// maxLineLen is the largest an unterminated line is allowed to grow
// before the connection is considered abusive and closed.
const maxLineLen = 8096

// ErrLineTooLong is returned by Feed when the buffered, not-yet-
// terminated fragment exceeds maxLineLen. The caller owns the
// transport and must close it.
var ErrLineTooLong = errors.New("protocol: line too long")

// Conn holds the framing state for a single accepted TCP connection.
// It is not safe for concurrent use; callers must serialize Feed
// calls, which is naturally true of a goroutine-per-connection
// acceptor.
type Conn struct {
	id        string
	transport io.Writer
	target    ratelimit.Target
	dynamic   bool

	buffer []byte

	logger  *log.Logger
	metrics *connMetrics
}

// Option configures a Conn during construction.
type Option func(c *Conn)

// WithLogger sets the logger used for per-command and lifecycle
// events. Every message is tagged with the connection id.
func WithLogger(l *log.Logger) Option {
	return func(c *Conn) {
		c.logger = l.Named("protocol").With(log.String("conn_id", c.id))
	}
}

// WithRegisterer sets the Prometheus registerer command metrics are
// exposed through.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Conn) {
		c.metrics = newConnMetrics(reg)
	}
}

// WithDynamic switches the connection into dynamic mode: every incr
// key is first resolved through the target's DynList method, which
// picks the RateLimit and residual key to hit. get and delete always
// act on the target itself.
func WithDynamic(dynamic bool) Option {
	return func(c *Conn) {
		c.dynamic = dynamic
	}
}

// New creates a Conn writing replies to transport and dispatching
// admission checks to target. The id is a v7 UUID used only to
// correlate log lines for this connection's lifetime.
func New(transport io.Writer, target ratelimit.Target, options ...Option) *Conn {
	id, err := uuid.NewV7()
	if err != nil {
		panicf.Panic("cannot generate connection id: %w", err)
	}

	c := &Conn{
		id:        id.String(),
		transport: transport,
		target:    target,
		logger:    log.NewLogger(log.WithOutput(io.Discard)),
		metrics:   newConnMetrics(prometheus.DefaultRegisterer),
	}

	for _, o := range options {
		o(c)
	}

	return c
}

// ID returns the connection's correlation id.
func (c *Conn) ID() string {
	return c.id
}

// Feed appends data to the connection's buffer, dispatching every
// complete (newline-terminated) line it contains. It returns
// ErrLineTooLong when the residual, not-yet-terminated fragment grows
// past maxLineLen; the caller must close the transport in that case,
// matching the source's "that's a very big line, cut connection"
// behaviour.
func (c *Conn) Feed(ctx context.Context, data []byte) error {
	c.buffer = append(c.buffer, data...)

	for {
		i := indexByte(c.buffer, '\n')
		if i < 0 {
			break
		}

		line := c.buffer[:i]
		c.buffer = c.buffer[i+1:]

		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}

		c.handleLine(ctx, string(line))
	}

	if len(c.buffer) > maxLineLen {
		c.logger.WarnCtx(ctx, "line too long, closing connection",
			log.Int("buffered", len(c.buffer)),
		)
		return ErrLineTooLong
	}

	return nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

func (c *Conn) write(b []byte) {
	// The wire protocol has no application-level acknowledgment for a
	// write failure; a broken transport surfaces on the next read as
	// EOF and the acceptor tears the connection down there.
	_, _ = c.transport.Write(b)
}
