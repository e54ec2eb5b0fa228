package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestTryTickSkipsWhileBusy(t *testing.T) {
	var skips atomic.Int64
	s := New(Options{Interval: time.Second, OnSkip: func(n int) { skips.Add(int64(n)) }}, zerolog.Nop())

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.TryTick(context.Background(), time.Now(), func(ctx context.Context, at time.Time) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ran := s.TryTick(context.Background(), time.Now(), func(ctx context.Context, at time.Time) error {
		t.Error("overlapping tick must not run")
		return nil
	})
	if ran {
		t.Fatal("second tick should be skipped")
	}

	close(release)
	wg.Wait()

	if s.Skipped() != 1 || skips.Load() != 1 {
		t.Fatalf("want 1 skip, got %d/%d", s.Skipped(), skips.Load())
	}
	if !s.TryTick(context.Background(), time.Now(), func(ctx context.Context, at time.Time) error { return nil }) {
		t.Fatal("guard should be released after the tick")
	}
}

func TestTryTickRecoversPanic(t *testing.T) {
	var gotErr error
	s := New(Options{Interval: time.Second, OnTick: func(_ time.Duration, err error) { gotErr = err }}, zerolog.Nop())

	ran := s.TryTick(context.Background(), time.Now(), func(ctx context.Context, at time.Time) error {
		panic("boom")
	})
	if !ran {
		t.Fatal("tick should have run")
	}
	if gotErr == nil {
		t.Fatal("panic should surface as an error")
	}
	if !s.TryTick(context.Background(), time.Now(), func(ctx context.Context, at time.Time) error { return nil }) {
		t.Fatal("guard must be released after a panic")
	}
}

func TestTickContextSurvivesCancellation(t *testing.T) {
	s := New(Options{Interval: time.Second}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s.TryTick(ctx, time.Now(), func(tickCtx context.Context, at time.Time) error {
		if tickCtx.Err() != nil {
			t.Fatal("tick context must not inherit cancellation")
		}
		return nil
	})
}

func TestTickBudgetBoundsTick(t *testing.T) {
	s := New(Options{Interval: time.Second, TickBudget: 10 * time.Millisecond}, zerolog.Nop())
	var err error
	s.TryTick(context.Background(), time.Now(), func(tickCtx context.Context, at time.Time) error {
		<-tickCtx.Done()
		err = tickCtx.Err()
		return err
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
}

func TestRunTicksUntilCancelled(t *testing.T) {
	s := New(Options{Interval: 5 * time.Millisecond}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	var count atomic.Int64
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context, at time.Time) error {
			if count.Add(1) == 3 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("want context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	if count.Load() < 3 {
		t.Fatalf("want at least 3 ticks, got %d", count.Load())
	}
}

func TestAlignedNextTick(t *testing.T) {
	s := New(Options{Interval: time.Minute, AlignToStart: true}, zerolog.Nop())
	now := time.Date(2026, 1, 1, 10, 0, 30, 0, time.UTC)
	if got := s.nextTick(now); !got.Equal(time.Date(2026, 1, 1, 10, 1, 0, 0, time.UTC)) {
		t.Fatalf("unexpected next tick %s", got)
	}
}
