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

// EntrySnapshot is the restorable state of a single Entry.
type EntrySnapshot struct {
	Epoch int64    `json:"epoch" yaml:"epoch"`
	Hits  []uint32 `json:"hits" yaml:"hits"`
}

// Snapshot is the restorable state of a RateLimit: its policy and
// every tracked Entry. The cleanup task handle is deliberately not
// part of the snapshot; Restore always starts with cleanup uninstalled,
// per the source's serialisation contract.
type Snapshot struct {
	Count     int                      `json:"count" yaml:"count"`
	PeriodMs  int64                    `json:"period_ms" yaml:"period_ms"`
	BlockSize int                      `json:"block_size" yaml:"block_size"`
	Entries   map[string]EntrySnapshot `json:"entries" yaml:"entries"`
}

// Snapshot captures the current policy and every tracked Entry. It
// does not include dynlist children or a cleanup task handle.
func (r *RateLimit) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make(map[string]EntrySnapshot, len(r.entries))
	for key, e := range r.entries {
		hits := make([]uint32, e.len)
		for i := 0; i < e.len; i++ {
			hits[i] = e.hits[(e.head+i)%len(e.hits)]
		}
		entries[key] = EntrySnapshot{Epoch: e.epoch, Hits: hits}
	}

	return Snapshot{
		Count:     r.policy.Count,
		PeriodMs:  r.policy.PeriodMs,
		BlockSize: r.policy.BlockSize,
		Entries:   entries,
	}
}

// Restore builds a RateLimit from a Snapshot. The cleanup task is
// never restored; callers must call InstallCleanup themselves.
func Restore(snap Snapshot, options ...Option) (*RateLimit, error) {
	policy, err := NewPolicy(snap.Count, snap.PeriodMs, Blocks(snap.BlockSize))
	if err != nil {
		return nil, err
	}

	r := New(policy, options...)

	r.mu.Lock()
	for key, es := range snap.Entries {
		hits := append([]uint32(nil), es.Hits...)
		r.entries[key] = &entry{epoch: es.Epoch, hits: hits, head: 0, len: len(hits)}
	}
	r.mu.Unlock()

	return r, nil
}
