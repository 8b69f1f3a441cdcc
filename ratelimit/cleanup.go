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
	"context"
	"time"
	"weak"

	"go.gearno.de/ratelimitd/log"
)

// cleanupTask is the handle InstallCleanup stores on the RateLimit;
// stop cancels the background goroutine. The goroutine itself only ever holds a
// weak.Pointer back to the RateLimit it cleans, per the source's
// "weak back-reference from cleanup task" requirement: once the owner
// drops its last strong reference, the next tick observes a nil
// Value() and exits instead of resurrecting the object.
type cleanupTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// InstallCleanup starts a goroutine that calls Cleanup every
// intervalS seconds. Calling it again cancels the previous task.
// intervalS must be greater than 0.
func (r *RateLimit) InstallCleanup(intervalS float64) error {
	if intervalS <= 0 {
		return &ValidationError{"interval", "must be greater than 0"}
	}

	r.mu.Lock()
	previous := r.cleanup
	r.cleanup = nil
	r.mu.Unlock()

	if previous != nil {
		previous.stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	task := &cleanupTask{cancel: cancel, done: make(chan struct{})}
	weakSelf := weak.Make(r)

	r.mu.Lock()
	r.cleanup = task
	r.mu.Unlock()

	interval := time.Duration(intervalS * float64(time.Second))

	go runCleanupLoop(ctx, task.done, weakSelf, interval, r.logger)

	return nil
}

// RemoveCleanup cancels the active cleanup task, if any.
func (r *RateLimit) RemoveCleanup() {
	r.mu.Lock()
	task := r.cleanup
	r.cleanup = nil
	r.mu.Unlock()

	if task != nil {
		task.stop()
	}
}

func (t *cleanupTask) stop() {
	t.cancel()
	<-t.done
}

func runCleanupLoop(ctx context.Context, done chan<- struct{}, self weak.Pointer[RateLimit], interval time.Duration, logger *log.Logger) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r := self.Value()
			if r == nil {
				return
			}

			r.Cleanup(context.Background())
		}
	}
}
