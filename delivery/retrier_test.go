package delivery

import (
	"testing"
	"time"

	"github.com/supermarkhq/courier/queue"
)

func TestDecide(t *testing.T) {
	r := NewRetrier(DefaultRetryPolicy())

	tests := []struct {
		name     string
		status   int
		attempts int
		max      int
		want     Decision
	}{
		{"200 ok", 200, 1, 3, Completed},
		{"204 no content", 204, 3, 3, Completed},
		{"500 first attempt", 500, 1, 3, Retry},
		{"500 attempts left", 500, 2, 3, Retry},
		{"500 exhausted", 500, 3, 3, DeadLetter},
		{"404 retries like a server error", 404, 1, 3, Retry},
		{"404 exhausted", 404, 3, 3, DeadLetter},
		{"429 retries", 429, 1, 3, Retry},
		{"network error retries", 0, 1, 3, Retry},
		{"network error exhausted", 0, 3, 3, DeadLetter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := &queue.Job{AttemptCount: tt.attempts, MaxAttempts: tt.max}
			got := r.Decide(Result{StatusCode: tt.status}, j)
			if got != tt.want {
				t.Fatalf("Decide(%d, attempt %d/%d) = %v, want %v",
					tt.status, tt.attempts, tt.max, got, tt.want)
			}
		})
	}
}

func TestComputeNextAttemptBackoff(t *testing.T) {
	r := NewRetrier(RetryPolicy{
		BaseDelay:  2 * time.Second,
		Multiplier: 2,
		MaxDelay:   15 * time.Minute,
	})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
	}

	for _, tt := range tests {
		before := time.Now().UTC()
		at := r.ComputeNextAttempt(tt.attempt, 0)
		delay := at.Sub(before)

		// Allow scheduling slop on top of the expected delay.
		if delay < tt.want || delay > tt.want+time.Second {
			t.Fatalf("attempt %d: delay %v, want ~%v", tt.attempt, delay, tt.want)
		}
	}
}

func TestComputeNextAttemptCapped(t *testing.T) {
	r := NewRetrier(RetryPolicy{
		BaseDelay:  2 * time.Second,
		Multiplier: 2,
		MaxDelay:   10 * time.Second,
	})

	at := r.ComputeNextAttempt(10, 0)
	delay := time.Until(at)
	if delay > 11*time.Second {
		t.Fatalf("delay %v exceeds cap", delay)
	}
}

func TestComputeNextAttemptHonorsRetryAfter(t *testing.T) {
	r := NewRetrier(DefaultRetryPolicy())

	at := r.ComputeNextAttempt(1, 30*time.Second)
	delay := time.Until(at)
	if delay < 29*time.Second || delay > 31*time.Second {
		t.Fatalf("delay %v, want ~30s from the Retry-After hint", delay)
	}

	// The hint is still capped.
	at = r.ComputeNextAttempt(1, time.Hour)
	if delay := time.Until(at); delay > 16*time.Minute {
		t.Fatalf("delay %v exceeds MaxDelay cap", delay)
	}
}
