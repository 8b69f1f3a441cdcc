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
	"runtime"
	"strconv"
	"strings"
	"weak"
)

// DynList parses spec as "C/Ps:rest" (count C, period P with an
// optional m/h/d unit suffix, separated by ':' from the residual key)
// and returns the child RateLimit for that policy plus the residual
// key. On any parse failure it falls back to (r, spec) unchanged, so
// callers can use the result unconditionally.
func (r *RateLimit) DynList(spec string) (Target, string) {
	count, periodMs, rest, ok := parseDynSpec(spec)
	if !ok {
		return r, spec
	}

	return r.child(count, periodMs), rest
}

func parseDynSpec(spec string) (count int, periodMs int64, rest string, ok bool) {
	colon := strings.IndexByte(spec, ':')
	if colon < 0 {
		return 0, 0, "", false
	}

	policy, rest := spec[:colon], spec[colon+1:]

	slash := strings.IndexByte(policy, '/')
	if slash < 0 {
		return 0, 0, "", false
	}

	countStr, periodStr := policy[:slash], policy[slash+1:]

	unit := int64(1)
	if n := len(periodStr); n > 0 {
		switch periodStr[n-1] {
		case 'm':
			unit, periodStr = 60, periodStr[:n-1]
		case 'h':
			unit, periodStr = 3600, periodStr[:n-1]
		case 'd':
			unit, periodStr = 86400, periodStr[:n-1]
		}
	}

	c, err := strconv.ParseUint(countStr, 10, 31)
	if err != nil || c == 0 {
		return 0, 0, "", false
	}

	p, err := strconv.ParseUint(periodStr, 10, 31)
	if err != nil || p == 0 {
		return 0, 0, "", false
	}

	return int(c), int64(p) * unit * 1000, rest, true
}

// child looks up or lazily creates the child RateLimit for (count,
// periodMs), sharing this RateLimit's metrics, tracer, and logger. The
// map holds only a weak reference: once no connection or the
// dlists-sweeping cleanup keeps the strong pointer alive, the next
// lookup creates a fresh child.
func (r *RateLimit) child(count int, periodMs int64) *RateLimit {
	pk := policyKey{count: count, periodMs: periodMs}

	r.mu.Lock()
	defer r.mu.Unlock()

	if wp, ok := r.dlists[pk]; ok {
		if c := wp.Value(); c != nil {
			return c
		}
	}

	policy, err := NewPolicy(count, periodMs, Blocks(r.policy.BlockSize))
	if err != nil {
		// A spec that parsed cleanly but fails policy validation (e.g.
		// period over 45 days) gets a child enforcing the parent policy
		// on the residual key, rather than the (r, spec) fallback used
		// for parse failures.
		policy = r.policy
	}

	child := &RateLimit{
		policy:      policy,
		clock:       r.clock,
		entries:     make(map[string]*entry),
		dlists:      make(map[policyKey]weak.Pointer[RateLimit]),
		logger:      r.logger.Named("dynlist"),
		tracer:      r.tracer,
		metrics:     r.metrics,
		policyLabel: r.policyLabel + ">" + policy.label(),
		registerer:  r.registerer,
	}

	r.dlists[pk] = weak.Make(child)
	r.metrics.setDynlistChildren(r.policyLabel, len(r.dlists))
	runtime.AddCleanup(child, dropDeadChild, dlistCleanupArg{parent: r, key: pk})

	return child
}

// dlistCleanupArg carries the state a dlists-child finalizer needs
// without keeping the child itself reachable from the cleanup.
type dlistCleanupArg struct {
	parent *RateLimit
	key    policyKey
}

func dropDeadChild(a dlistCleanupArg) {
	a.parent.mu.Lock()
	defer a.parent.mu.Unlock()

	if wp, ok := a.parent.dlists[a.key]; ok && wp.Value() == nil {
		delete(a.parent.dlists, a.key)
	}
}
