// Package ratelimit provides a FIFO admission throttle for fixed-budget
// downstream APIs.
//
// The limiter guarantees at most maxConcurrent tasks in flight and at least
// minSpacing between task starts, process-wide. Tasks are released strictly
// in submission order. Spacing is measured from task start, not completion:
// a slow task does not slow the release of the next one beyond the
// concurrency cap.
//
// The same primitive protects any rate-limited provider; the courier uses it
// for webhook sends and the application reuses it for transactional email.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrClosed is returned by Do after the limiter has been closed.
var ErrClosed = errors.New("ratelimit: limiter closed")

// Limiter serializes task admission through a single FIFO queue.
type Limiter struct {
	queue     chan chan struct{}
	sem       chan struct{}
	spacer    *rate.Limiter
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a limiter that admits at most maxConcurrent tasks at once with
// at least minSpacing between task starts. maxConcurrent below 1 is treated
// as 1; minSpacing of 0 disables the spacing gate.
func New(maxConcurrent int, minSpacing time.Duration) *Limiter {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	spacing := rate.Inf
	if minSpacing > 0 {
		spacing = rate.Every(minSpacing)
	}

	l := &Limiter{
		queue:  make(chan chan struct{}, 64),
		sem:    make(chan struct{}, maxConcurrent),
		spacer: rate.NewLimiter(spacing, 1),
		done:   make(chan struct{}),
	}

	go l.dispatch()

	return l
}

// dispatch releases queued tasks one at a time: first a concurrency slot,
// then the spacing gate, so starts are spaced regardless of slot waits.
func (l *Limiter) dispatch() {
	for {
		select {
		case <-l.done:
			return
		case release := <-l.queue:
			select {
			case <-l.done:
				return
			case l.sem <- struct{}{}:
			}

			if err := l.spacer.Wait(context.Background()); err != nil {
				// Wait only fails on context cancellation; background
				// context never cancels.
				return
			}

			close(release)
		}
	}
}

// Do schedules fn and blocks until it has run. Admission is strictly FIFO;
// once a task is queued it cannot be withdrawn (ctx is passed through to fn
// but does not cancel admission). Returns fn's error, or ErrClosed if the
// limiter shut down before the task was released.
func (l *Limiter) Do(ctx context.Context, fn func(context.Context) error) error {
	release := make(chan struct{})

	select {
	case <-l.done:
		return ErrClosed
	case l.queue <- release:
	}

	select {
	case <-l.done:
		return ErrClosed
	case <-release:
	}

	defer func() { <-l.sem }()

	return fn(ctx)
}

// Close stops the limiter. Tasks already released run to completion; tasks
// still queued fail with ErrClosed.
func (l *Limiter) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}
