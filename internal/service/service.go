package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"deviation-screener/internal/alerting"
	"deviation-screener/internal/cache"
	"deviation-screener/internal/epoch"
	"deviation-screener/internal/market"
	"deviation-screener/internal/scheduler"
	"deviation-screener/internal/summary"
)

// SnapshotSource is the subset of cache.Manager the service needs.
type SnapshotSource interface {
	Get(ctx context.Context) (cache.Result, error)
}

// Notifier is the subset of alerting.Notifier the service needs.
type Notifier interface {
	MaybeNotify(ctx context.Context, e epoch.Epoch, opportunities []summary.Row, previous []market.Instrument) alerting.Outcome
}

// CycleReport summarises one check cycle.
type CycleReport struct {
	Result       cache.Result
	Notification *alerting.Outcome
}

// Service couples the freshness check with notification dispatch.
type Service struct {
	scheduler *scheduler.Scheduler
	source    SnapshotSource
	notifier  Notifier
	logger    zerolog.Logger
}

// New constructs the screening service. notifier may be nil when alerting is disabled.
func New(sched *scheduler.Scheduler, source SnapshotSource, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{
		scheduler: sched,
		source:    source,
		notifier:  notifier,
		logger:    logger.With().Str("component", "service").Logger(),
	}
}

// Run begins the check loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, func(ctx context.Context, _ time.Time) error {
		_, err := s.Cycle(ctx)
		return err
	})
}

// Cycle 执行一次新鲜度检查，并在当前 epoch 的快照上尝试通知。
func (s *Service) Cycle(ctx context.Context) (CycleReport, error) {
	res, err := s.source.Get(ctx)
	report := CycleReport{Result: res}
	if err != nil {
		return report, fmt.Errorf("freshness check: %w", err)
	}

	evt := s.logger.Info()
	if res.State == cache.StateStale {
		evt = s.logger.Warn().AnErr("refresh_error", res.Err)
	}
	evt.Str("epoch", res.Epoch.String()).
		Str("state", res.State.String()).
		Str("snapshot_epoch", res.Snapshot.Epoch.String()).
		Int("instruments", len(res.Snapshot.Series)).
		Int("opportunities", len(res.Snapshot.Opportunities)).
		Msg("freshness check finished")

	if s.notifier == nil {
		return report, nil
	}
	if !res.Current() {
		s.logger.Debug().Str("epoch", res.Epoch.String()).Msg("snapshot is not from the current epoch; notification skipped")
		return report, nil
	}

	snap := res.Snapshot
	outcome := s.notifier.MaybeNotify(ctx, snap.Epoch, snap.Tables.Opportunities, snap.PreviousOpportunities)
	report.Notification = &outcome
	return report, nil
}
