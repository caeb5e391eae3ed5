package series

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"deviation-screener/internal/market"
)

// sentinelPrice is published by the source in place of a missing quote.
const sentinelPrice = 0.0001

// Options control cleaning and indicator windows.
type Options struct {
	MaxRows   int
	EMAPeriod int
	RSIPeriod int
}

// DefaultOptions mirrors the production configuration.
func DefaultOptions() Options {
	return Options{MaxRows: 4108, EMAPeriod: 200, RSIPeriod: 14}
}

// Row is one cleaned sample plus its derived indicator fields. Nil fields are absent.
type Row struct {
	Time      time.Time `json:"t"`
	Price     float64   `json:"p"`
	EMA       *float64  `json:"ema,omitempty"`
	RSI       *float64  `json:"rsi,omitempty"`
	Ratio     *float64  `json:"ratio,omitempty"`
	RatioEMA  *float64  `json:"ratio_ema,omitempty"`
	Deviation *float64  `json:"dev,omitempty"`
	ChangePct *float64  `json:"chg,omitempty"`
}

// Series is an instrument's cleaned, indicator-annotated history, oldest first.
type Series struct {
	Rows       []Row `json:"rows"`
	Indicators bool  `json:"indicators"`
}

// Len returns the number of samples.
func (s Series) Len() int {
	return len(s.Rows)
}

// HasIndicators reports whether derived fields were computed.
func (s Series) HasIndicators() bool {
	return s.Indicators && len(s.Rows) > 0
}

// Latest returns the newest row.
func (s Series) Latest() (Row, bool) {
	if len(s.Rows) == 0 {
		return Row{}, false
	}
	return s.Rows[len(s.Rows)-1], true
}

// DeviationRange returns the min and max deviation index over the trailing lookback rows,
// ignoring absent values.
func (s Series) DeviationRange(lookback int) (lo, hi *float64) {
	if lookback > len(s.Rows) {
		lookback = len(s.Rows)
	}
	for _, r := range s.Rows[len(s.Rows)-lookback:] {
		if r.Deviation == nil {
			continue
		}
		v := *r.Deviation
		if lo == nil || v < *lo {
			lo = ptr(v)
		}
		if hi == nil || v > *hi {
			hi = ptr(v)
		}
	}
	return lo, hi
}

// Process cleans raw samples and annotates them with indicators. It never fails: a series
// shorter than the EMA window is returned without derived fields.
func Process(opts Options, raw []market.RawSample) Series {
	if len(raw) == 0 {
		return Series{}
	}
	if opts.MaxRows > 0 && len(raw) > opts.MaxRows {
		raw = raw[len(raw)-opts.MaxRows:]
	}

	prices, ok := fillMissing(raw)
	rows := make([]Row, len(raw))
	for i, s := range raw {
		rows[i] = Row{Time: s.Time, Price: prices[i]}
	}

	if !ok || opts.EMAPeriod <= 0 || len(rows) < opts.EMAPeriod {
		return Series{Rows: rows}
	}

	annotate(opts, prices, rows)
	return Series{Rows: rows, Indicators: true}
}

func isMissing(p float64) bool {
	return p == 0 || p == sentinelPrice || math.IsNaN(p)
}

// fillMissing forward-fills then backward-fills missing prices. ok is false when every
// price was missing.
func fillMissing(raw []market.RawSample) ([]float64, bool) {
	prices := make([]float64, len(raw))
	last := math.NaN()
	for i, s := range raw {
		if !isMissing(s.Price) {
			last = s.Price
		}
		prices[i] = last
	}

	first := -1
	for i, p := range prices {
		if !math.IsNaN(p) {
			first = i
			break
		}
	}
	if first < 0 {
		for i := range prices {
			prices[i] = 0
		}
		return prices, false
	}
	for i := 0; i < first; i++ {
		prices[i] = prices[first]
	}
	return prices, true
}

func annotate(opts Options, prices []float64, rows []Row) {
	ema := EMA(prices, opts.EMAPeriod)
	rsi := RSI(prices, opts.RSIPeriod)

	ratio := make([]float64, len(prices))
	for i := range prices {
		ratio[i] = prices[i] / ema[i]
	}
	ratioEMA := EMA(ratio, opts.EMAPeriod)

	for i := range rows {
		rows[i].EMA = optional(ema[i])
		rows[i].RSI = optional(rsi[i])
		rows[i].Ratio = optional(ratio[i])
		rows[i].RatioEMA = optional(ratioEMA[i])
		rows[i].Deviation = optional(ratio[i] / ratioEMA[i])
		if i > 0 {
			rows[i].ChangePct = changePct(prices[i-1], prices[i])
		}
	}
}

func changePct(prev, cur float64) *float64 {
	if prev == 0 {
		return nil
	}
	pct := decimal.NewFromFloat(cur/prev - 1).Mul(decimal.NewFromInt(100)).RoundBank(2)
	return ptr(pct.InexactFloat64())
}

func optional(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return ptr(v)
}

func ptr(v float64) *float64 {
	return &v
}
