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

const maxOffset = 1<<32 - 1

// entry is the per-key sliding-window hit history. Offsets are stored
// relative to epoch so each slot costs 4 bytes instead of the 8 a raw
// millisecond timestamp would need. The ring is addressed by head/len
// rather than by slicing, so front-eviction never has to shift memory.
type entry struct {
	epoch int64
	hits  []uint32
	head  int
	len   int
}

// hit attempts to admit a hit at nowMs against the n/periodMs policy,
// growing the ring by blockSize slots when it is full but still under
// n. It reports whether the hit was admitted.
func (e *entry) hit(nowMs int64, n int, periodMs int64, blockSize int) bool {
	t := e.rebase(nowMs, periodMs)
	t = e.prune(t, periodMs)

	if e.len == n {
		return false
	}

	if e.len == len(e.hits) {
		e.grow(blockSize)
	}

	idx := (e.head + e.len) % len(e.hits)
	e.hits[idx] = uint32(t)
	e.len++

	return true
}

// nextHit reports how many milliseconds must pass before hit(nowMs+d)
// would succeed, without mutating the entry. It returns 0 if hit would
// currently succeed.
func (e *entry) nextHit(nowMs int64, n int, periodMs int64) uint32 {
	if e.len == 0 {
		return 0
	}

	t := nowMs - e.epoch

	idx := e.head
	remaining := e.len
	for remaining > 0 && int64(e.hits[idx])+periodMs <= t {
		idx = (idx + 1) % len(e.hits)
		remaining--
	}

	if remaining < n {
		return 0
	}

	delta := int64(e.hits[idx]) + periodMs - t
	if delta < 0 {
		delta = 0
	}

	return uint32(delta)
}

// isExpired reports whether every hit in the entry has aged out of the
// window as of nowMs, i.e. whether cleanup may drop it.
func (e *entry) isExpired(nowMs int64, periodMs int64) bool {
	if e.len == 0 {
		return true
	}

	t := nowMs - e.epoch
	newest := (e.head + e.len - 1) % len(e.hits)

	return int64(e.hits[newest])+periodMs <= t
}

// rebase shifts epoch forward when t would no longer fit in a uint32
// offset, dropping any stored offset that falls before the new epoch.
// It returns t relative to the (possibly new) epoch.
func (e *entry) rebase(nowMs int64, periodMs int64) int64 {
	t := nowMs - e.epoch
	if t <= maxOffset-periodMs {
		return t
	}

	newEpoch := nowMs - periodMs
	shift := newEpoch - e.epoch

	head := e.head
	n := e.len
	write := 0
	for i := 0; i < n; i++ {
		idx := (head + i) % len(e.hits)
		shifted := int64(e.hits[idx]) - shift
		if shifted < 0 {
			continue
		}
		e.hits[write] = uint32(shifted)
		write++
	}

	e.head = 0
	e.len = write
	e.epoch = newEpoch

	return nowMs - e.epoch
}

// prune advances the logical head past any offset that has aged out
// of the window as of t, returning t unchanged (kept as a parameter
// for call-site symmetry with rebase).
func (e *entry) prune(t int64, periodMs int64) int64 {
	for e.len > 0 {
		if int64(e.hits[e.head])+periodMs > t {
			break
		}
		e.head = (e.head + 1) % len(e.hits)
		e.len--
	}

	return t
}

// grow reallocates the ring, compacting live entries to the front and
// adding blockSize free slots.
func (e *entry) grow(blockSize int) {
	newCap := len(e.hits) + blockSize
	newHits := make([]uint32, newCap)

	for i := 0; i < e.len; i++ {
		newHits[i] = e.hits[(e.head+i)%len(e.hits)]
	}

	e.hits = newHits
	e.head = 0
}
