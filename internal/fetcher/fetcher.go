package fetcher

import (
	"context"
	"errors"

	"deviation-screener/internal/market"
)

var (
	// ErrNoInstruments indicates discovery produced an empty list.
	ErrNoInstruments = errors.New("fetcher: no instruments discovered")
	// ErrEmptyPayload indicates the source answered without any samples.
	ErrEmptyPayload = errors.New("fetcher: empty data payload")
)

// Discovery yields the instrument universe for a refresh cycle.
type Discovery interface {
	Instruments(ctx context.Context) ([]market.Instrument, error)
}

// HistorySource retrieves the raw price history of a single instrument.
type HistorySource interface {
	FetchHistory(ctx context.Context, inst market.Instrument) ([]market.RawSample, error)
}

// Result is the per-instrument outcome of a batch fetch.
type Result struct {
	Samples []market.RawSample
	Err     error
}

// OK reports whether the fetch produced usable samples.
func (r Result) OK() bool {
	return r.Err == nil && len(r.Samples) > 0
}
