package delivery

import (
	"time"

	"github.com/supermarkhq/courier/queue"
)

// Decision is the outcome of evaluating a delivery attempt.
type Decision int

const (
	// Completed means the destination accepted the delivery (2xx).
	Completed Decision = iota

	// Retry means the delivery should be attempted again later.
	Retry

	// DeadLetter means the job exhausted its attempts and moves to the
	// dead-letter set.
	DeadLetter
)

// Result holds the outcome of a single delivery attempt.
type Result struct {
	StatusCode int
	Error      string
	Response   string
	LatencyMs  int

	// RetryAfter is the destination's retry hint from a 429 response,
	// zero when absent.
	RetryAfter time.Duration
}

// RetryPolicy configures the exponential backoff between attempts.
type RetryPolicy struct {
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// Multiplier scales the delay on each subsequent retry.
	Multiplier float64

	// MaxDelay caps the computed delay.
	MaxDelay time.Duration
}

// DefaultRetryPolicy mirrors the queue defaults: 2s base, doubling, capped
// at 15 minutes.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:  2 * time.Second,
		Multiplier: 2,
		MaxDelay:   15 * time.Minute,
	}
}

// Retrier decides what to do after a delivery attempt.
type Retrier struct {
	policy RetryPolicy
}

// NewRetrier creates a retrier with the given backoff policy.
func NewRetrier(policy RetryPolicy) *Retrier {
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = DefaultRetryPolicy().BaseDelay
	}
	if policy.Multiplier < 1 {
		policy.Multiplier = DefaultRetryPolicy().Multiplier
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = DefaultRetryPolicy().MaxDelay
	}
	return &Retrier{policy: policy}
}

// Decide determines what to do with a job after an attempt.
//
// Decision matrix:
//   - 2xx → Completed
//   - everything else → Retry while attempts remain, else DeadLetter
//
// Non-429 client errors are retried too: destination configuration goes
// stale (deleted channels, revoked webhooks) and may recover, and treating
// 4xx as retryable avoids provider-specific error taxonomies. The attempt
// cap bounds the damage either way.
func (r *Retrier) Decide(res Result, j *queue.Job) Decision {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return Completed
	}

	if j.AttemptCount < j.MaxAttempts {
		return Retry
	}
	return DeadLetter
}

// ComputeNextAttempt returns when the next attempt should run. A positive
// retryAfter (the 429 hint) overrides the backoff, still capped at MaxDelay.
func (r *Retrier) ComputeNextAttempt(attemptCount int, retryAfter time.Duration) time.Time {
	delay := retryAfter
	if delay <= 0 {
		delay = r.policy.BaseDelay
		for i := 1; i < attemptCount; i++ {
			delay = time.Duration(float64(delay) * r.policy.Multiplier)
			if delay >= r.policy.MaxDelay {
				break
			}
		}
	}
	if delay > r.policy.MaxDelay {
		delay = r.policy.MaxDelay
	}
	return time.Now().UTC().Add(delay)
}
