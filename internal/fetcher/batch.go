package fetcher

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"deviation-screener/internal/market"
)

// ProgressFunc observes batch progress. It is called from a single goroutine.
type ProgressFunc func(done, total int)

// BatchOptions tune a batch fetch.
type BatchOptions struct {
	Concurrency int
	Timeout     time.Duration
	Delay       time.Duration
}

// Batch fans out history requests behind a counting semaphore.
type Batch struct {
	source   HistorySource
	opts     BatchOptions
	logger   zerolog.Logger
	progress ProgressFunc
}

// NewBatch constructs a batch fetcher.
func NewBatch(source HistorySource, opts BatchOptions, logger zerolog.Logger) *Batch {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 10
	}
	return &Batch{
		source: source,
		opts:   opts,
		logger: logger.With().Str("component", "batch_fetcher").Logger(),
	}
}

// OnProgress registers a progress observer.
func (b *Batch) OnProgress(fn ProgressFunc) {
	b.progress = fn
}

type batchItem struct {
	inst   market.Instrument
	result Result
}

// FetchAll resolves every instrument to a Result. At most Concurrency requests are in
// flight; a failing instrument never aborts its siblings.
func (b *Batch) FetchAll(ctx context.Context, instruments []market.Instrument) map[market.Instrument]Result {
	total := len(instruments)
	results := make(map[market.Instrument]Result, total)
	if total == 0 {
		return results
	}

	sem := semaphore.NewWeighted(int64(b.opts.Concurrency))
	out := make(chan batchItem, total)

	for _, inst := range instruments {
		go func(inst market.Instrument) {
			out <- batchItem{inst: inst, result: b.fetchOne(ctx, sem, inst)}
		}(inst)
	}

	failed := 0
	for done := 1; done <= total; done++ {
		item := <-out
		results[item.inst] = item.result
		if !item.result.OK() {
			failed++
			b.logger.Debug().Err(item.result.Err).Str("instrument", string(item.inst)).Msg("fetch failed")
		}
		if b.progress != nil {
			b.progress(done, total)
		}
	}

	b.logger.Info().Int("total", total).Int("ok", total-failed).Int("failed", failed).Msg("batch fetch complete")
	return results
}

func (b *Batch) fetchOne(ctx context.Context, sem *semaphore.Weighted, inst market.Instrument) Result {
	if err := sem.Acquire(ctx, 1); err != nil {
		return Result{Err: err}
	}
	defer sem.Release(1)

	fetchCtx := ctx
	if b.opts.Timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, b.opts.Timeout)
		defer cancel()
	}

	samples, err := b.source.FetchHistory(fetchCtx, inst)
	if err == nil && len(samples) == 0 {
		err = ErrEmptyPayload
	}

	b.pace(ctx)

	if err != nil {
		return Result{Err: err}
	}
	return Result{Samples: samples}
}

// pace holds the semaphore slot for the configured delay after each completed request.
func (b *Batch) pace(ctx context.Context) {
	if b.opts.Delay <= 0 {
		return
	}
	timer := time.NewTimer(b.opts.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
