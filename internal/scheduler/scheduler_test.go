package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"deviation-screener/internal/epoch"
)

func TestNextWakePrefersEpochBoundary(t *testing.T) {
	cal, err := epoch.NewCalendar("Europe/Istanbul", "19:00")
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	s := New(Options{Interval: 5 * time.Minute, Calendar: cal}, zerolog.Nop())

	now := time.Date(2025, 3, 10, 18, 58, 0, 0, cal.Location())
	want := time.Date(2025, 3, 10, 19, 0, 1, 0, cal.Location())
	if got := s.NextWake(now); !got.Equal(want) {
		t.Fatalf("next wake = %s, want %s", got, want)
	}

	now = time.Date(2025, 3, 10, 12, 0, 0, 0, cal.Location())
	if got := s.NextWake(now); !got.Equal(now.Add(5 * time.Minute)) {
		t.Fatalf("next wake = %s, want interval", got)
	}

	now = time.Date(2025, 3, 10, 23, 57, 0, 0, cal.Location())
	want = time.Date(2025, 3, 11, 0, 0, 1, 0, cal.Location())
	if got := s.NextWake(now); !got.Equal(want) {
		t.Fatalf("next wake = %s, want midnight %s", got, want)
	}
}

func TestRunTicksUntilCancelled(t *testing.T) {
	s := New(Options{Interval: 10 * time.Millisecond}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ticks int32
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context, time.Time) error {
			if atomic.AddInt32(&ticks, 1) == 3 {
				cancel()
			}
			return errors.New("tick errors are logged, not fatal")
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("scheduler did not stop")
	}
	if got := atomic.LoadInt32(&ticks); got < 3 {
		t.Fatalf("ticks = %d, want >= 3", got)
	}
}
