package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"deviation-screener/internal/epoch"
	"deviation-screener/internal/fetcher"
	"deviation-screener/internal/market"
	"deviation-screener/internal/series"
	"deviation-screener/internal/snapshot"
	"deviation-screener/internal/summary"
)

type scriptedSource struct{}

// FetchHistory serves 4500 rising-then-flat samples for AAA and times out for BBB.
func (scriptedSource) FetchHistory(ctx context.Context, inst market.Instrument) ([]market.RawSample, error) {
	if inst == "BBB" {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	base := time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]market.RawSample, 4500)
	for i := range out {
		price := 10 + float64(i)*0.01
		if i >= 3000 {
			price = 10 + 2999*0.01
		}
		out[i] = market.RawSample{Time: base.AddDate(0, 0, i), Price: price}
	}
	return out, nil
}

type failingDiscovery struct{}

func (failingDiscovery) Instruments(context.Context) ([]market.Instrument, error) {
	return nil, fetcher.ErrNoInstruments
}

func fixedClock() epoch.Clock {
	return epoch.ClockFunc(func() time.Time { return time.Date(2026, 10, 18, 16, 30, 0, 0, time.UTC) })
}

func TestRefreshEndToEndPartialFailure(t *testing.T) {
	batch := fetcher.NewBatch(scriptedSource{}, fetcher.BatchOptions{Concurrency: 10, Timeout: 50 * time.Millisecond}, zerolog.Nop())
	r := New(fetcher.NewStaticDiscovery([]string{"AAA", "BBB"}), batch, Options{
		Series:    series.DefaultOptions(),
		Threshold: 0.9,
		Lookback:  summary.DefaultLookback,
		WatchList: []market.Instrument{"BBB"},
	}, fixedClock(), zerolog.Nop())

	e := epoch.Epoch{Date: "2026-10-18", Late: true}
	snap, err := r.Refresh(context.Background(), e, nil)
	if err != nil {
		t.Fatalf("partial failure must not fail the cycle: %v", err)
	}
	if len(snap.Series) != 1 {
		t.Fatalf("snapshot should contain only AAA, got %d series", len(snap.Series))
	}
	aaa, ok := snap.Lookup("AAA")
	if !ok || !aaa.HasIndicators() {
		t.Fatal("AAA must carry indicators")
	}
	last, _ := aaa.Latest()
	if last.Deviation == nil || last.RSI == nil || last.EMA == nil {
		t.Fatalf("AAA latest indicators must be present: %#v", last)
	}
	if len(snap.Tables.All) != 1 || snap.Tables.All[0].Instrument != "AAA" {
		t.Fatalf("summary for [AAA BBB] should list one row, got %#v", snap.Tables.All)
	}
	if len(snap.Tables.Watch) != 0 {
		t.Fatal("watch list of failed instrument should be empty")
	}
	if len(snap.Failed) != 1 || snap.Failed[0] != "BBB" {
		t.Fatalf("BBB should be recorded as failed, got %v", snap.Failed)
	}
	want := summary.Opportunities(map[market.Instrument]series.Series{"AAA": aaa}, 0.9)
	if len(want) != len(snap.Opportunities) {
		t.Fatalf("opportunity set must derive from AAA alone: %v vs %v", snap.Opportunities, want)
	}
	if !snap.Epoch.Equal(e) || snap.BuiltAt.IsZero() {
		t.Fatal("snapshot must be tagged with the refresh epoch")
	}
}

func TestRefreshDiscoveryFailure(t *testing.T) {
	batch := fetcher.NewBatch(scriptedSource{}, fetcher.BatchOptions{}, zerolog.Nop())
	r := New(failingDiscovery{}, batch, Options{Series: series.DefaultOptions()}, fixedClock(), zerolog.Nop())
	if _, err := r.Refresh(context.Background(), epoch.Epoch{Date: "2026-10-18"}, nil); !errors.Is(err, fetcher.ErrNoInstruments) {
		t.Fatalf("expected ErrNoInstruments, got %v", err)
	}
}

func TestRefreshAllFailed(t *testing.T) {
	batch := fetcher.NewBatch(scriptedSource{}, fetcher.BatchOptions{Timeout: 10 * time.Millisecond}, zerolog.Nop())
	r := New(fetcher.NewStaticDiscovery([]string{"BBB"}), batch, Options{Series: series.DefaultOptions()}, fixedClock(), zerolog.Nop())
	if _, err := r.Refresh(context.Background(), epoch.Epoch{Date: "2026-10-18"}, nil); !errors.Is(err, ErrNoUsableData) {
		t.Fatalf("expected ErrNoUsableData, got %v", err)
	}
}

func TestRefreshCarriesPreviousOpportunities(t *testing.T) {
	batch := fetcher.NewBatch(scriptedSource{}, fetcher.BatchOptions{}, zerolog.Nop())
	r := New(fetcher.NewStaticDiscovery([]string{"AAA"}), batch, Options{Series: series.DefaultOptions(), Threshold: 2}, fixedClock(), zerolog.Nop())
	prev := &snapshot.Snapshot{Opportunities: []market.Instrument{"ZZZ"}}
	snap, err := r.Refresh(context.Background(), epoch.Epoch{Date: "2026-10-18"}, prev)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(snap.PreviousOpportunities) != 1 || snap.PreviousOpportunities[0] != "ZZZ" {
		t.Fatalf("unexpected previous opportunities %v", snap.PreviousOpportunities)
	}
	if len(snap.Opportunities) != 1 || snap.Opportunities[0] != "AAA" {
		t.Fatalf("threshold 2 should flag AAA, got %v", snap.Opportunities)
	}
}

func TestRefreshSameEpochKeepsBaseline(t *testing.T) {
	batch := fetcher.NewBatch(scriptedSource{}, fetcher.BatchOptions{}, zerolog.Nop())
	r := New(fetcher.NewStaticDiscovery([]string{"AAA"}), batch, Options{Series: series.DefaultOptions(), Threshold: 2}, fixedClock(), zerolog.Nop())
	e := epoch.Epoch{Date: "2026-10-18", Late: true}
	prev := &snapshot.Snapshot{
		Epoch:                 e,
		Opportunities:         []market.Instrument{"AAA"},
		PreviousOpportunities: []market.Instrument{"YYY"},
	}
	snap, err := r.Refresh(context.Background(), e, prev)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(snap.PreviousOpportunities) != 1 || snap.PreviousOpportunities[0] != "YYY" {
		t.Fatalf("forced rebuild should keep the earlier baseline, got %v", snap.PreviousOpportunities)
	}
}
