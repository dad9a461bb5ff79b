package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestAlign(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 17, 42, 0, time.UTC)

	aligned := New(Options{Interval: time.Hour, AlignToStart: true}, zerolog.Nop())
	if got, want := aligned.align(now), time.Date(2026, 3, 15, 13, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("align(aligned) = %v, want %v", got, want)
	}

	// Exactly on a boundary still moves forward a full interval.
	boundary := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	if got, want := aligned.align(boundary), boundary.Add(time.Hour); !got.Equal(want) {
		t.Errorf("align(boundary) = %v, want %v", got, want)
	}

	free := New(Options{Interval: time.Hour}, zerolog.Nop())
	if got, want := free.align(now), now.Add(time.Hour); !got.Equal(want) {
		t.Errorf("align(unaligned) = %v, want %v", got, want)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := New(Options{Interval: 5 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	var ticks atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context, _ time.Time) error {
			if ticks.Add(1) >= 3 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop after cancellation")
	}
	if ticks.Load() < 3 {
		t.Errorf("ticks = %d, want at least 3", ticks.Load())
	}
}

func TestRunContinuesAfterTickError(t *testing.T) {
	s := New(Options{Interval: 5 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ticks atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context, _ time.Time) error {
			n := ticks.Add(1)
			if n >= 2 {
				cancel()
			}
			return context.DeadlineExceeded // any error; loop must keep going
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop after cancellation")
	}
	if ticks.Load() < 2 {
		t.Errorf("ticks = %d, want at least 2 despite tick errors", ticks.Load())
	}
}

func TestNewPanicsOnZeroInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("New should panic on non-positive interval")
		}
	}()
	New(Options{}, zerolog.Nop())
}
