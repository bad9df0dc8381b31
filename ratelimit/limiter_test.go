package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDoRunsTask(t *testing.T) {
	l := New(1, 0)
	defer l.Close()

	ran := false
	err := l.Do(context.Background(), func(context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !ran {
		t.Fatal("task did not run")
	}
}

func TestDoReturnsTaskError(t *testing.T) {
	l := New(1, 0)
	defer l.Close()

	want := errors.New("boom")
	err := l.Do(context.Background(), func(context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected task error, got %v", err)
	}
}

func TestSpacingBetweenStarts(t *testing.T) {
	const spacing = 20 * time.Millisecond
	const tasks = 5

	l := New(1, spacing)
	defer l.Close()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < tasks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Do(context.Background(), func(context.Context) error {
				return nil
			})
		}()
	}
	wg.Wait()

	// 5 starts at >= 20ms apart cannot finish before 4 spacings elapse.
	elapsed := time.Since(start)
	if min := (tasks - 1) * spacing; elapsed < min {
		t.Fatalf("tasks started too fast: %v elapsed, want at least %v", elapsed, min)
	}
}

func TestConcurrencyCap(t *testing.T) {
	const cap = 2

	l := New(cap, 0)
	defer l.Close()

	var inFlight, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Do(context.Background(), func(context.Context) error {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				inFlight.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	if p := peak.Load(); p > cap {
		t.Fatalf("observed %d concurrent tasks, cap is %d", p, cap)
	}
}

func TestCloseFailsQueuedTasks(t *testing.T) {
	l := New(1, time.Hour) // spacing so long the second task never releases

	done := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			done <- l.Do(context.Background(), func(context.Context) error {
				return nil
			})
		}()
	}

	// Give the first task time to be admitted, then shut down.
	time.Sleep(20 * time.Millisecond)
	l.Close()

	sawClosed := false
	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			if errors.Is(err, ErrClosed) {
				sawClosed = true
			}
		case <-time.After(time.Second):
			t.Fatal("task did not return after Close")
		}
	}
	if !sawClosed {
		t.Fatal("expected at least one queued task to fail with ErrClosed")
	}
}
