package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"deviation-screener/internal/market"
)

type fakeSource struct {
	mu       sync.Mutex
	inFlight int
	peak     int
	hold     time.Duration
	handler  func(ctx context.Context, inst market.Instrument) ([]market.RawSample, error)
}

func (f *fakeSource) FetchHistory(ctx context.Context, inst market.Instrument) ([]market.RawSample, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.peak {
		f.peak = f.inFlight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.hold > 0 {
		time.Sleep(f.hold)
	}
	if f.handler != nil {
		return f.handler(ctx, inst)
	}
	return []market.RawSample{{Time: time.Unix(0, 0), Price: 1}}, nil
}

func TestBatchRespectsConcurrencyLimit(t *testing.T) {
	src := &fakeSource{hold: 10 * time.Millisecond}
	b := NewBatch(src, BatchOptions{Concurrency: 3}, noopLogger())

	instruments := make([]market.Instrument, 0, 20)
	for i := 0; i < 20; i++ {
		instruments = append(instruments, market.Instrument(fmt.Sprintf("I%02d", i)))
	}

	var calls []int
	b.OnProgress(func(done, total int) {
		if total != 20 {
			t.Errorf("total should be 20, got %d", total)
		}
		calls = append(calls, done)
	})

	results := b.FetchAll(context.Background(), instruments)
	if len(results) != 20 {
		t.Fatalf("every instrument must resolve, got %d", len(results))
	}
	if src.peak > 3 {
		t.Fatalf("peak in-flight %d exceeds limit 3", src.peak)
	}
	if len(calls) != 20 || calls[19] != 20 {
		t.Fatalf("progress should count to 20, got %v", calls)
	}
	for i := 1; i < len(calls); i++ {
		if calls[i] != calls[i-1]+1 {
			t.Fatalf("progress must be monotonic: %v", calls)
		}
	}
}

func TestBatchIsolatesFailuresAndTimeouts(t *testing.T) {
	src := &fakeSource{handler: func(ctx context.Context, inst market.Instrument) ([]market.RawSample, error) {
		switch inst {
		case "SLOW":
			<-ctx.Done()
			return nil, ctx.Err()
		case "BAD":
			return nil, errors.New("malformed")
		case "EMPTY":
			return nil, nil
		}
		return []market.RawSample{{Time: time.Unix(0, 0), Price: 2}}, nil
	}}
	b := NewBatch(src, BatchOptions{Concurrency: 2, Timeout: 30 * time.Millisecond, Delay: time.Millisecond}, noopLogger())

	results := b.FetchAll(context.Background(), []market.Instrument{"AAA", "SLOW", "BAD", "EMPTY", "BBB"})
	if !results["AAA"].OK() || !results["BBB"].OK() {
		t.Fatalf("healthy instruments must succeed: %#v", results)
	}
	if !errors.Is(results["SLOW"].Err, context.DeadlineExceeded) {
		t.Fatalf("slow instrument should time out, got %v", results["SLOW"].Err)
	}
	if results["BAD"].OK() {
		t.Fatal("BAD should fail")
	}
	if !errors.Is(results["EMPTY"].Err, ErrEmptyPayload) {
		t.Fatalf("EMPTY should be ErrEmptyPayload, got %v", results["EMPTY"].Err)
	}
}

func TestBatchEmptyInput(t *testing.T) {
	b := NewBatch(&fakeSource{}, BatchOptions{}, noopLogger())
	if got := b.FetchAll(context.Background(), nil); len(got) != 0 {
		t.Fatalf("expected empty result, got %v", got)
	}
}
