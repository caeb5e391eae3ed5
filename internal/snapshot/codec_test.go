package snapshot

import (
	"errors"
	"math"
	"testing"
	"time"

	"deviation-screener/internal/epoch"
	"deviation-screener/internal/market"
	"deviation-screener/internal/series"
	"deviation-screener/internal/summary"
)

func f(v float64) *float64 { return &v }

func sample() *Snapshot {
	ser := series.Series{Indicators: true, Rows: []series.Row{
		{Time: time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC), Price: 10.1},
		{Time: time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC), Price: 10.2, EMA: f(9.87654321), RSI: f(61.2), Ratio: f(1.0327), RatioEMA: f(1.1), Deviation: f(0.93881818), ChangePct: f(0.99)},
	}}
	data := map[market.Instrument]series.Series{"AAA": ser}
	opps := []market.Instrument{"AAA"}
	return &Snapshot{
		Epoch:                 epoch.Epoch{Date: "2026-10-17", Late: true},
		BuiltAt:               time.Date(2026, 10, 17, 16, 5, 0, 0, time.UTC),
		Instruments:           []market.Instrument{"AAA", "BBB"},
		Series:                data,
		Tables:                summary.BuildTables(data, []market.Instrument{"AAA", "BBB"}, nil, opps, 240),
		Opportunities:         opps,
		PreviousOpportunities: []market.Instrument{"CCC"},
		Failed:                []market.Instrument{"BBB"},
	}
}

func TestRoundTrip(t *testing.T) {
	in := sample()
	payload, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if !out.Epoch.Equal(in.Epoch) {
		t.Fatalf("epoch mismatch %s vs %s", out.Epoch, in.Epoch)
	}
	if !out.BuiltAt.Equal(in.BuiltAt) {
		t.Fatal("built_at mismatch")
	}
	if len(out.Failed) != 1 || out.Failed[0] != "BBB" || len(out.Instruments) != 2 {
		t.Fatalf("lists mismatch %#v", out)
	}

	got := out.Series["AAA"]
	want := in.Series["AAA"]
	if got.Len() != want.Len() || !got.HasIndicators() {
		t.Fatalf("series mismatch")
	}
	for i := range want.Rows {
		if !got.Rows[i].Time.Equal(want.Rows[i].Time) || math.Abs(got.Rows[i].Price-want.Rows[i].Price) > 1e-9 {
			t.Fatalf("row %d mismatch", i)
		}
		if (got.Rows[i].Deviation == nil) != (want.Rows[i].Deviation == nil) {
			t.Fatalf("row %d absent-field mismatch", i)
		}
		if want.Rows[i].Deviation != nil && math.Abs(*got.Rows[i].Deviation-*want.Rows[i].Deviation) > 1e-9 {
			t.Fatalf("row %d deviation mismatch", i)
		}
	}
	if len(out.Tables.All) != 1 || len(out.Tables.Opportunities) != 1 {
		t.Fatalf("tables mismatch %#v", out.Tables)
	}
	if math.Abs(*out.Tables.All[0].Deviation-0.93881818) > 1e-9 {
		t.Fatal("summary deviation mismatch")
	}
}

func TestDecodeCorrupt(t *testing.T) {
	cases := map[string][]byte{
		"garbage":  []byte("\x80\x04pickle"),
		"version":  []byte(`{"version":99,"epoch":"2026-10-17","snapshot":{"epoch":"2026-10-17"}}`),
		"missing":  []byte(`{"version":1,"epoch":"2026-10-17"}`),
		"mismatch": []byte(`{"version":1,"epoch":"2026-10-16","snapshot":{"epoch":"2026-10-17"}}`),
		"badepoch": []byte(`{"version":1,"epoch":"x","snapshot":{"epoch":"x"}}`),
	}
	for name, payload := range cases {
		if _, err := Decode(payload); !errors.Is(err, ErrCorrupt) {
			t.Fatalf("%s: expected ErrCorrupt, got %v", name, err)
		}
	}
}

func TestNewOpportunities(t *testing.T) {
	s := &Snapshot{Opportunities: []market.Instrument{"AAA", "BBB"}, PreviousOpportunities: []market.Instrument{"BBB"}}
	got := s.NewOpportunities()
	if len(got) != 1 || got[0] != "AAA" {
		t.Fatalf("unexpected delta %v", got)
	}
}
