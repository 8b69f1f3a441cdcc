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

import (
	"context"
	"strconv"
	"strings"

	"go.gearno.de/ratelimitd/log"
	"go.gearno.de/ratelimitd/ratelimit"
)

const (
	resultOK      = "ok"
	resultDenied  = "denied"
	resultError   = "error"
	resultRemoved = "removed"
	resultMissing = "missing"
)

// handleLine splits line into a command and its arguments on plain
// spaces and dispatches it, matching the source's naive
// `line.split(' ')` parsing: repeated spaces produce empty args, and
// callers relying on that shape get the same empty-string tokens here.
func (c *Conn) handleLine(ctx context.Context, line string) {
	fields := strings.Split(line, " ")
	command, args := fields[0], fields[1:]

	switch command {
	case "incr":
		c.handleIncr(ctx, args)
	case "get":
		c.handleGet(ctx, args)
	case "delete":
		c.handleDelete(ctx, args)
	default:
		c.logger.DebugCtx(ctx, "unknown command", log.String("command", command))
		c.metrics.observe(command, resultError)
		c.write([]byte("ERROR unknown command\r\n"))
	}
}

// handleIncr implements "incr KEY [noreply]". A missing key is itself
// treated as an unknown command, matching the spec's open-question
// resolution to reply ERROR and keep the connection open rather than
// closing it.
func (c *Conn) handleIncr(ctx context.Context, args []string) {
	if len(args) == 0 || args[0] == "" {
		c.metrics.observe("incr", resultError)
		c.write([]byte("ERROR unknown command\r\n"))
		return
	}

	key := args[0]
	noreply := len(args) > 1 && args[1] == "noreply"

	target := c.target
	if c.dynamic {
		target, key = target.(interface {
			DynList(string) (ratelimit.Target, string)
		}).DynList(key)
	}

	admitted := target.Hit(ctx, key)

	result := resultDenied
	reply := []byte("1\r\n")
	if admitted {
		result = resultOK
		reply = []byte("0\r\n")
	}

	c.metrics.observe("incr", result)
	c.logger.DebugCtx(ctx, "incr", log.String("key", key), log.Bool("admitted", admitted))

	if noreply {
		return
	}

	c.write(reply)
}

// handleGet implements "get KEY...": for every key currently tracked
// it writes a memcached VALUE line whose payload is the number of
// seconds (as a decimal, matching Python's `str(x / 1000)`) until the
// next hit would be admitted.
func (c *Conn) handleGet(ctx context.Context, keys []string) {
	for _, key := range keys {
		if key == "" {
			continue
		}

		nextHitMs, tracked := c.target.NextHit(key)
		if !tracked {
			continue
		}

		value := formatSeconds(nextHitMs)
		c.write([]byte("VALUE " + key + " 0 " + strconv.Itoa(len(value)) + "\r\n" + value + "\r\n"))
	}

	c.metrics.observe("get", resultOK)
	c.write([]byte("END\r\n"))
}

// handleDelete implements "delete KEY [noreply]".
func (c *Conn) handleDelete(ctx context.Context, args []string) {
	if len(args) == 0 || args[0] == "" {
		c.metrics.observe("delete", resultError)
		c.write([]byte("ERROR unknown command\r\n"))
		return
	}

	key := args[0]
	noreply := len(args) > 1 && args[1] == "noreply"

	removed := c.target.Remove(key)

	result := resultMissing
	reply := []byte("NOT_FOUND\r\n")
	if removed {
		result = resultRemoved
		reply = []byte("DELETED\r\n")
	}

	c.metrics.observe("delete", result)
	c.logger.DebugCtx(ctx, "delete", log.String("key", key), log.Bool("removed", removed))

	if noreply {
		return
	}

	c.write(reply)
}

// formatSeconds renders a millisecond duration the way Python's
// str(x / 1000) does: a plain decimal that always carries a fractional
// part, even for whole-second values (str(60000/1000) is "60.0", not
// "60"). strconv.FormatFloat with -1 precision drops the fractional
// part entirely for whole numbers, so one is appended back when
// missing.
func formatSeconds(ms uint32) string {
	s := strconv.FormatFloat(float64(ms)/1000, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
