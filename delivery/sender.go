package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/supermarkhq/courier/queue"
)

const maxResponseBody = 1024 // 1KB cap on response body storage

// Sender performs the HTTP delivery of a job.
type Sender struct {
	client *http.Client
}

// NewSender creates a sender with the given per-attempt HTTP timeout.
func NewSender(timeout time.Duration) *Sender {
	return &Sender{
		client: &http.Client{Timeout: timeout},
	}
}

// Send delivers a job's payload to its destination and returns the result.
// A timeout or connection error yields StatusCode 0.
func (s *Sender) Send(ctx context.Context, j *queue.Job) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.DestinationURL, bytes.NewReader(j.Payload))
	if err != nil {
		return Result{Error: fmt.Sprintf("create request: %v", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Supermark-Courier/1.0")
	req.Header.Set("X-Courier-Event-ID", j.EventID.String())
	req.Header.Set("X-Courier-Event-Type", string(j.EventType))
	req.Header.Set("X-Courier-Job-ID", j.ID.String())
	req.Header.Set("X-Courier-Signature", j.Signature)

	// Provider headers (e.g. bearer auth) last, so they win on collision.
	for k, v := range j.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return Result{
			Error:     err.Error(),
			LatencyMs: int(latency),
		}
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if readErr != nil {
		return Result{
			StatusCode: resp.StatusCode,
			Error:      fmt.Sprintf("read response: %v", readErr),
			LatencyMs:  int(latency),
		}
	}

	res := Result{
		StatusCode: resp.StatusCode,
		Response:   string(respBody),
		LatencyMs:  int(latency),
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		res.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	}
	return res
}

// parseRetryAfter interprets a Retry-After header as either delay-seconds or
// an HTTP-date. Returns 0 when absent or unparseable.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		d := time.Until(at)
		if d > 0 {
			return d
		}
	}
	return 0
}
