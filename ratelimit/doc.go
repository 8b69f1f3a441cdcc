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

// Package ratelimit implements a keyed sliding-window rate limiter: a
// fixed "N hits per period" policy enforced independently for every
// key that hits it.
//
// # Algorithm
//
// Each key gets its own Entry: a ring of 32-bit hit offsets relative
// to a per-entry epoch. A hit is admitted when fewer than N offsets
// remain in the window after pruning the ones that have aged out; the
// ring grows in BlockSize increments instead of one slot at a time,
// and the epoch is rebased forward whenever an offset would no longer
// fit in 32 bits, so a long-running process never overflows.
//
// # Usage
//
//	policy, err := ratelimit.NewPolicy(5, 60_000, ratelimit.BlockFraction(0.2))
//	if err != nil {
//	    return err
//	}
//
//	rl := ratelimit.New(policy,
//	    ratelimit.WithLogger(logger),
//	    ratelimit.WithRegisterer(registry),
//	)
//	if err := rl.InstallCleanup(30); err != nil {
//	    return err
//	}
//	defer rl.RemoveCleanup()
//
//	if rl.Hit(ctx, "203.0.113.4") {
//	    // admitted
//	}
//
// # Dynamic policies
//
// DynList lets a single RateLimit expose a family of policies chosen
// by the caller at request time: a key of the form "5/1m:some-id" is
// routed to a lazily created child RateLimit enforcing 5 hits per
// minute, keyed by "some-id". Children are referenced weakly so they
// are reclaimed once nothing holds them and Cleanup observes they are
// empty.
//
// # Metrics and tracing
//
// Every RateLimit (root or dynlist child) shares one set of Prometheus
// collectors, labeled by policy, and opens OpenTelemetry spans for Hit
// and Cleanup when the caller's context already carries a recording
// span.
package ratelimit
