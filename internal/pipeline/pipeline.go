package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"deviation-screener/internal/epoch"
	"deviation-screener/internal/fetcher"
	"deviation-screener/internal/market"
	"deviation-screener/internal/metrics"
	"deviation-screener/internal/series"
	"deviation-screener/internal/snapshot"
	"deviation-screener/internal/summary"
)

// ErrNoUsableData is returned when every instrument failed to fetch.
var ErrNoUsableData = errors.New("pipeline: no instrument produced data")

// Fetcher resolves instruments to raw histories.
type Fetcher interface {
	FetchAll(ctx context.Context, instruments []market.Instrument) map[market.Instrument]fetcher.Result
}

// Options tune analysis.
type Options struct {
	Series    series.Options
	Threshold float64
	Lookback  int
	WatchList []market.Instrument
}

// Refresher runs discovery, fetch, processing and aggregation for one epoch.
type Refresher struct {
	discovery fetcher.Discovery
	fetcher   Fetcher
	opts      Options
	clock     epoch.Clock
	logger    zerolog.Logger
}

// New constructs a Refresher.
func New(discovery fetcher.Discovery, f Fetcher, opts Options, clock epoch.Clock, logger zerolog.Logger) *Refresher {
	if clock == nil {
		clock = epoch.SystemClock{}
	}
	if opts.Lookback <= 0 {
		opts.Lookback = summary.DefaultLookback
	}
	return &Refresher{
		discovery: discovery,
		fetcher:   f,
		opts:      opts,
		clock:     clock,
		logger:    logger.With().Str("component", "pipeline").Logger(),
	}
}

// Refresh builds a snapshot for e. A discovery failure or a batch where nothing could be
// fetched fails the cycle; individual instrument failures only exclude that instrument.
func (r *Refresher) Refresh(ctx context.Context, e epoch.Epoch, previous *snapshot.Snapshot) (*snapshot.Snapshot, error) {
	instruments, err := r.discovery.Instruments(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover instruments: %w", err)
	}
	if len(instruments) == 0 {
		return nil, fetcher.ErrNoInstruments
	}
	r.logger.Info().Str("epoch", e.String()).Int("instruments", len(instruments)).Msg("refreshing snapshot")

	results := r.fetcher.FetchAll(ctx, instruments)

	data := make(map[market.Instrument]series.Series, len(results))
	failed := make([]market.Instrument, 0)
	for _, inst := range instruments {
		res, ok := results[inst]
		if !ok || !res.OK() {
			metrics.ObserveFetch("failed")
			failed = append(failed, inst)
			continue
		}
		metrics.ObserveFetch("ok")
		data[inst] = series.Process(r.opts.Series, res.Samples)
	}
	if len(data) == 0 {
		return nil, ErrNoUsableData
	}

	opportunities := summary.Opportunities(data, r.opts.Threshold)
	snap := &snapshot.Snapshot{
		Epoch:         e,
		BuiltAt:       r.clock.Now().UTC(),
		Instruments:   instruments,
		Series:        data,
		Tables:        summary.BuildTables(data, instruments, r.opts.WatchList, opportunities, r.opts.Lookback),
		Opportunities: opportunities,
		Failed:        failed,
	}
	switch {
	case previous == nil:
	case previous.Epoch.Equal(e):
		// rebuilt within the same epoch; keep the baseline of the epoch before
		snap.PreviousOpportunities = append([]market.Instrument(nil), previous.PreviousOpportunities...)
	default:
		snap.PreviousOpportunities = previous.OpportunitySet()
	}
	return snap, nil
}

// ProgressLogger returns a fetch progress observer that logs every step-th completion.
func ProgressLogger(logger zerolog.Logger, step int) fetcher.ProgressFunc {
	if step <= 0 {
		step = 50
	}
	started := time.Now()
	return func(done, total int) {
		if done%step == 0 || done == total {
			logger.Info().Int("done", done).Int("total", total).Dur("elapsed", time.Since(started)).Msg("fetch progress")
		}
	}
}
