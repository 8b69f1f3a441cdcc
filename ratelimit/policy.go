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
	"fmt"
	"math"
)

// BlockSize selects how an Entry's hit buffer grows: either a fixed
// number of slots per allocation (Blocks) or a fraction of Count,
// rounded up (BlockFraction). Mirrors the source's dynamic int-vs-float
// block_size parameter with an explicit Go type instead of a type
// switch on a bare number.
type BlockSize struct {
	fixed    int
	fraction float64
}

// Blocks grows an Entry's hit buffer by n slots per allocation.
func Blocks(n int) BlockSize {
	return BlockSize{fixed: n}
}

// BlockFraction grows an Entry's hit buffer by ceil(count*fraction)
// slots, where count is the policy's Count. fraction must be in (0, 1].
func BlockFraction(fraction float64) BlockSize {
	return BlockSize{fraction: fraction}
}

// maxPeriodMs is the largest period a policy may specify: 45 days.
const maxPeriodMs = 45 * 86400 * 1000

// ValidationError is returned when a Policy fails construction-time
// validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ratelimit: invalid %s: %s", e.Field, e.Message)
}

// label renders the policy as "count/periodMs" for metric labels and
// dynlist-child log naming.
func (p Policy) label() string {
	return fmt.Sprintf("%d/%d", p.Count, p.PeriodMs)
}

// Policy describes the fixed "N hits per period" shape shared by every
// Entry a RateLimit owns.
type Policy struct {
	// Count is the maximum number of hits admitted per PeriodMs.
	Count int

	// PeriodMs is the sliding window, in milliseconds.
	PeriodMs int64

	// BlockSize is the memory pre-allocation granularity for each
	// Entry's hit buffer, either a positive integer or, if set via
	// BlockFraction, derived from Count.
	BlockSize int
}

// NewPolicy validates and normalizes count, period (milliseconds), and
// blockSize into a Policy.
func NewPolicy(count int, periodMs int64, blockSize BlockSize) (Policy, error) {
	if count <= 0 {
		return Policy{}, &ValidationError{"count", "must be greater than 0"}
	}

	if periodMs <= 0 {
		return Policy{}, &ValidationError{"period", "must be greater than 0"}
	}

	if periodMs > maxPeriodMs {
		return Policy{}, &ValidationError{"period", "maximum period is 45 days"}
	}

	bs, err := normalizeBlockSize(count, blockSize)
	if err != nil {
		return Policy{}, err
	}

	return Policy{Count: count, PeriodMs: periodMs, BlockSize: bs}, nil
}

func normalizeBlockSize(count int, blockSize BlockSize) (int, error) {
	if blockSize.fraction != 0 {
		if blockSize.fraction <= 0 || blockSize.fraction > 1.0 {
			return 0, &ValidationError{"block_size", "fraction must be in (0, 1]"}
		}
		return int(math.Ceil(float64(count) * blockSize.fraction)), nil
	}

	if blockSize.fixed <= 0 {
		return 0, &ValidationError{"block_size", "must be greater than 0"}
	}

	return blockSize.fixed, nil
}
