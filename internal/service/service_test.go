package service

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"deviation-screener/internal/alerting"
	"deviation-screener/internal/cache"
	"deviation-screener/internal/epoch"
	"deviation-screener/internal/market"
	"deviation-screener/internal/snapshot"
	"deviation-screener/internal/summary"
)

type stubSource struct {
	res cache.Result
	err error
}

func (s stubSource) Get(context.Context) (cache.Result, error) { return s.res, s.err }

type stubNotifier struct {
	calls    int
	epoch    epoch.Epoch
	rows     []summary.Row
	previous []market.Instrument
}

func (n *stubNotifier) MaybeNotify(_ context.Context, e epoch.Epoch, rows []summary.Row, previous []market.Instrument) alerting.Outcome {
	n.calls++
	n.epoch = e
	n.rows = rows
	n.previous = previous
	return alerting.Outcome{Epoch: e, Status: alerting.StatusSent, Attempted: 1, Delivered: 1}
}

func snapshotFor(e epoch.Epoch) *snapshot.Snapshot {
	return &snapshot.Snapshot{
		Epoch:                 e,
		Opportunities:         []market.Instrument{"AAA"},
		PreviousOpportunities: []market.Instrument{"BBB"},
		Tables: summary.Tables{
			Opportunities: []summary.Row{{Instrument: "AAA", Price: 10}},
		},
	}
}

func TestCycleNotifiesOnCurrentSnapshot(t *testing.T) {
	e := epoch.Epoch{Date: "2025-03-10", Late: true}
	notifier := &stubNotifier{}
	svc := New(nil, stubSource{res: cache.Result{Snapshot: snapshotFor(e), Epoch: e, State: cache.StateFresh}}, notifier, zerolog.Nop())

	report, err := svc.Cycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if notifier.calls != 1 || !notifier.epoch.Equal(e) {
		t.Fatalf("notifier not called for current epoch: %+v", notifier)
	}
	if len(notifier.rows) != 1 || len(notifier.previous) != 1 || notifier.previous[0] != "BBB" {
		t.Fatalf("unexpected notify arguments rows=%v previous=%v", notifier.rows, notifier.previous)
	}
	if report.Notification == nil || report.Notification.Status != alerting.StatusSent {
		t.Fatalf("report missing notification outcome: %+v", report)
	}
}

func TestCycleSkipsStaleSnapshot(t *testing.T) {
	now := epoch.Epoch{Date: "2025-03-11"}
	old := epoch.Epoch{Date: "2025-03-10", Late: true}
	notifier := &stubNotifier{}
	res := cache.Result{Snapshot: snapshotFor(old), Epoch: now, State: cache.StateStale, Err: errors.New("discovery failed")}
	svc := New(nil, stubSource{res: res}, notifier, zerolog.Nop())

	report, err := svc.Cycle(context.Background())
	if err != nil {
		t.Fatalf("stale result must not fail the cycle: %v", err)
	}
	if notifier.calls != 0 || report.Notification != nil {
		t.Fatalf("stale snapshot should not notify")
	}
}

func TestCycleNoData(t *testing.T) {
	notifier := &stubNotifier{}
	svc := New(nil, stubSource{err: cache.ErrNoData}, notifier, zerolog.Nop())

	if _, err := svc.Cycle(context.Background()); !errors.Is(err, cache.ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
	if notifier.calls != 0 {
		t.Fatalf("notifier should not run without data")
	}
}

func TestCycleWithoutNotifier(t *testing.T) {
	e := epoch.Epoch{Date: "2025-03-10"}
	svc := New(nil, stubSource{res: cache.Result{Snapshot: snapshotFor(e), Epoch: e, State: cache.StateCached}}, nil, zerolog.Nop())
	report, err := svc.Cycle(context.Background())
	if err != nil || report.Notification != nil {
		t.Fatalf("unexpected report %+v err=%v", report, err)
	}
}

func TestRunRequiresScheduler(t *testing.T) {
	svc := New(nil, stubSource{}, nil, zerolog.Nop())
	if err := svc.Run(context.Background()); err == nil {
		t.Fatalf("expected error without scheduler")
	}
}
