package summary

import (
	"deviation-screener/internal/market"
	"deviation-screener/internal/series"
)

// DefaultLookback is the trailing window for the deviation index min/max.
const DefaultLookback = 240

// Row summarises an instrument's latest sample.
type Row struct {
	Instrument       market.Instrument `json:"instrument"`
	Price            float64           `json:"price"`
	ChangePct        *float64          `json:"change_pct,omitempty"`
	RSI              *float64          `json:"rsi,omitempty"`
	EMA              *float64          `json:"ema,omitempty"`
	Ratio            *float64          `json:"ratio,omitempty"`
	RatioEMA         *float64          `json:"ratio_ema,omitempty"`
	Deviation        *float64          `json:"deviation,omitempty"`
	LowestDeviation  *float64          `json:"lowest_deviation,omitempty"`
	HighestDeviation *float64          `json:"highest_deviation,omitempty"`
}

// Tables groups the three summary views of a snapshot.
type Tables struct {
	All           []Row `json:"all"`
	Watch         []Row `json:"watch"`
	Opportunities []Row `json:"opportunities"`
}

// Build produces one row per listed instrument that has indicator data. Instruments with
// no data or a too-short history are skipped; list order is preserved.
func Build(data map[market.Instrument]series.Series, list []market.Instrument, lookback int) []Row {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	rows := make([]Row, 0, len(list))
	seen := make(map[market.Instrument]struct{}, len(list))
	for _, inst := range list {
		if _, dup := seen[inst]; dup {
			continue
		}
		seen[inst] = struct{}{}

		s, ok := data[inst]
		if !ok || !s.HasIndicators() {
			continue
		}
		last, _ := s.Latest()
		lo, hi := s.DeviationRange(lookback)
		rows = append(rows, Row{
			Instrument:       inst,
			Price:            last.Price,
			ChangePct:        last.ChangePct,
			RSI:              last.RSI,
			EMA:              last.EMA,
			Ratio:            last.Ratio,
			RatioEMA:         last.RatioEMA,
			Deviation:        last.Deviation,
			LowestDeviation:  lo,
			HighestDeviation: hi,
		})
	}
	return rows
}

// Opportunities lists instruments whose latest deviation index is below threshold, sorted.
func Opportunities(data map[market.Instrument]series.Series, threshold float64) []market.Instrument {
	out := make([]market.Instrument, 0)
	for inst, s := range data {
		if !s.HasIndicators() {
			continue
		}
		last, _ := s.Latest()
		if last.Deviation != nil && *last.Deviation < threshold {
			out = append(out, inst)
		}
	}
	return market.Sorted(out)
}

// BuildTables assembles the all / watch-list / opportunity views.
func BuildTables(data map[market.Instrument]series.Series, all, watch, opportunities []market.Instrument, lookback int) Tables {
	return Tables{
		All:           Build(data, all, lookback),
		Watch:         Build(data, watch, lookback),
		Opportunities: Build(data, opportunities, lookback),
	}
}
