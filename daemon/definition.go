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

package daemon

import (
	"fmt"
	"regexp"
	"strconv"
)

var definitionPattern = regexp.MustCompile(`^(\d+)/(\d+)([mhd])?$`)

// Definition is the parsed form of the CLI's positional "count/period"
// argument, e.g. "5/1m" for five hits per minute.
type Definition struct {
	Count    int
	PeriodMs int64
}

// ParseDefinition parses a "<count>/<period>[m|h|d]" string, where an
// absent unit suffix means seconds.
func ParseDefinition(value string) (Definition, error) {
	m := definitionPattern.FindStringSubmatch(value)
	if m == nil {
		return Definition{}, fmt.Errorf("daemon: invalid definition %q, want COUNT/PERIOD[m|h|d]", value)
	}

	count, err := strconv.Atoi(m[1])
	if err != nil {
		return Definition{}, fmt.Errorf("daemon: invalid count in %q: %w", value, err)
	}

	period, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return Definition{}, fmt.Errorf("daemon: invalid period in %q: %w", value, err)
	}

	switch m[3] {
	case "m":
		period *= 60
	case "h":
		period *= 3600
	case "d":
		period *= 86400
	}

	return Definition{Count: count, PeriodMs: period * 1000}, nil
}

func (d Definition) String() string {
	return fmt.Sprintf("%d/%d", d.Count, d.PeriodMs)
}
