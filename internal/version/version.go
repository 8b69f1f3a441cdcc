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

// Package version formats the instrumentation version string package
// tracers attach to their spans.
package version

import "fmt"

// Version is a major version used to tag OpenTelemetry instrumentation.
type Version int

// New returns the Version used to tag this module's tracers.
func New(major int) Version {
	return Version(major)
}

// Alpha formats an unstable, pre-1.0 instrumentation version.
func (v Version) Alpha(n int) string {
	return fmt.Sprintf("%d.0.0-alpha.%d", v, n)
}

// String formats a stable instrumentation version.
func (v Version) String() string {
	return fmt.Sprintf("%d.0.0", v)
}
