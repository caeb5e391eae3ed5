package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"deviation-screener/internal/epoch"
	"deviation-screener/internal/metrics"
	"deviation-screener/internal/snapshot"
)

var (
	// ErrNoData is returned when no snapshot exists and a refresh could not produce one.
	ErrNoData = errors.New("cache: no data available")
	// ErrRefreshInProgress indicates another process holds the refresh lock.
	ErrRefreshInProgress = errors.New("cache: refresh in progress elsewhere")
)

// State describes how a Result was obtained.
type State int

const (
	// StateNoSnapshot means nothing could be served.
	StateNoSnapshot State = iota
	// StateCached means the stored snapshot already belonged to the current epoch.
	StateCached
	// StateFresh means a refresh ran and produced the returned snapshot.
	StateFresh
	// StateStale means the refresh failed and an older snapshot is served.
	StateStale
)

func (s State) String() string {
	switch s {
	case StateCached:
		return "cached"
	case StateFresh:
		return "fresh"
	case StateStale:
		return "stale"
	default:
		return "no_snapshot"
	}
}

// Refresher builds a new snapshot for an epoch. previous may be nil.
type Refresher interface {
	Refresh(ctx context.Context, e epoch.Epoch, previous *snapshot.Snapshot) (*snapshot.Snapshot, error)
}

// Locker serialises refreshes across processes.
type Locker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Result is the outcome of a freshness check.
type Result struct {
	Snapshot *snapshot.Snapshot
	Epoch    epoch.Epoch
	State    State
	// Err carries the refresh failure behind a stale result.
	Err error
}

// Current reports whether the snapshot belongs to the epoch of the check.
func (r Result) Current() bool {
	return r.Snapshot != nil && r.Snapshot.Epoch.Equal(r.Epoch)
}

// Options wire a Manager.
type Options struct {
	Calendar  *epoch.Calendar
	Clock     epoch.Clock
	Store     Store
	Refresher Refresher
	Locker    Locker
	LockKey   int64
}

// Manager decides whether the cached snapshot is still valid and refreshes it otherwise.
type Manager struct {
	calendar  *epoch.Calendar
	clock     epoch.Clock
	store     Store
	refresher Refresher
	locker    Locker
	lockKey   int64
	logger    zerolog.Logger

	group   singleflight.Group
	mu      sync.RWMutex
	current *snapshot.Snapshot
}

// NewManager constructs a Manager.
func NewManager(opts Options, logger zerolog.Logger) *Manager {
	clock := opts.Clock
	if clock == nil {
		clock = epoch.SystemClock{}
	}
	return &Manager{
		calendar:  opts.Calendar,
		clock:     clock,
		store:     opts.Store,
		refresher: opts.Refresher,
		locker:    opts.Locker,
		lockKey:   opts.LockKey,
		logger:    logger.With().Str("component", "cache").Logger(),
	}
}

// Calendar exposes the epoch calendar.
func (m *Manager) Calendar() *epoch.Calendar {
	return m.calendar
}

// Get returns a snapshot valid for the current epoch, refreshing when needed. When the
// refresh fails a previous snapshot is served as StateStale; without one ErrNoData is
// returned.
func (m *Manager) Get(ctx context.Context) (Result, error) {
	return m.get(ctx, false)
}

// Refresh forces a refresh regardless of the cached epoch.
func (m *Manager) Refresh(ctx context.Context) (Result, error) {
	return m.get(ctx, true)
}

// Current returns the last known snapshot without refreshing.
func (m *Manager) Current(ctx context.Context) *snapshot.Snapshot {
	return m.cached(ctx)
}

func (m *Manager) get(ctx context.Context, force bool) (Result, error) {
	now := m.calendar.Of(m.clock.Now())

	if !force {
		if snap := m.cached(ctx); snap != nil && snap.Epoch.Equal(now) {
			return Result{Snapshot: snap, Epoch: now, State: StateCached}, nil
		}
	}

	key := now.String()
	if force {
		key += "/force"
	}
	// the shared refresh outlives any single caller; each caller still honours its own ctx
	ch := m.group.DoChan(key, func() (any, error) {
		return m.refresh(context.WithoutCancel(ctx), now, force)
	})
	var err error
	select {
	case r := <-ch:
		if r.Err == nil {
			out := r.Val.(refreshOutcome)
			return Result{Snapshot: out.snap, Epoch: now, State: out.state}, nil
		}
		err = r.Err
	case <-ctx.Done():
		err = ctx.Err()
	}

	if prior := m.cached(ctx); prior != nil {
		m.logger.Warn().Err(err).Str("epoch", now.String()).Str("serving", prior.Epoch.String()).Msg("refresh failed; serving stale snapshot")
		return Result{Snapshot: prior, Epoch: now, State: StateStale, Err: err}, nil
	}
	m.logger.Error().Err(err).Str("epoch", now.String()).Msg("refresh failed and no snapshot is cached")
	return Result{Epoch: now, State: StateNoSnapshot, Err: err}, fmt.Errorf("%w: %v", ErrNoData, err)
}

type refreshOutcome struct {
	snap  *snapshot.Snapshot
	state State
}

func (m *Manager) refresh(ctx context.Context, now epoch.Epoch, force bool) (refreshOutcome, error) {
	if !force {
		if snap := m.memory(); snap != nil && snap.Epoch.Equal(now) {
			return refreshOutcome{snap: snap, state: StateCached}, nil
		}
		if snap := m.reload(ctx); snap != nil && snap.Epoch.Equal(now) {
			return refreshOutcome{snap: snap, state: StateCached}, nil
		}
	}

	if m.locker != nil && m.lockKey != 0 {
		unlock, acquired, err := m.locker.TryAdvisoryLock(ctx, m.lockKey)
		switch {
		case err != nil:
			m.logger.Warn().Err(err).Msg("refresh lock unavailable; refreshing without it")
		case !acquired:
			if snap := m.reload(ctx); snap != nil && snap.Epoch.Equal(now) {
				return refreshOutcome{snap: snap, state: StateCached}, nil
			}
			return refreshOutcome{}, ErrRefreshInProgress
		default:
			defer unlock()
			if !force {
				if snap := m.reload(ctx); snap != nil && snap.Epoch.Equal(now) {
					return refreshOutcome{snap: snap, state: StateCached}, nil
				}
			}
		}
	}

	previous := m.cached(ctx)
	started := time.Now()
	snap, err := m.refresher.Refresh(ctx, now, previous)
	elapsed := time.Since(started)
	if err == nil && snap == nil {
		err = errors.New("refresher returned no snapshot")
	}
	if err != nil {
		metrics.ObserveRefresh("failed", elapsed)
		return refreshOutcome{}, err
	}
	metrics.ObserveRefresh("ok", elapsed)
	metrics.SetSnapshotSize(len(snap.Series))

	m.persist(ctx, snap)
	m.publish(snap)
	m.logger.Info().Str("epoch", now.String()).
		Int("instruments", len(snap.Series)).
		Int("failed", len(snap.Failed)).
		Int("opportunities", len(snap.Opportunities)).
		Int("new_opportunities", len(snap.NewOpportunities())).
		Dur("elapsed", elapsed).
		Msg("snapshot refreshed")
	return refreshOutcome{snap: snap, state: StateFresh}, nil
}

func (m *Manager) persist(ctx context.Context, snap *snapshot.Snapshot) {
	if m.store == nil {
		return
	}
	payload, err := snapshot.Encode(snap)
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to encode snapshot")
		return
	}
	if err := m.store.Save(ctx, payload); err != nil {
		m.logger.Warn().Err(err).Msg("failed to persist snapshot; serving from memory")
	}
}

func (m *Manager) memory() *snapshot.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// publish replaces the in-memory snapshot unless it would move backwards in time.
func (m *Manager) publish(snap *snapshot.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && snap.Epoch.Before(m.current.Epoch) {
		return
	}
	m.current = snap
}

// cached returns the in-memory snapshot, falling back to the persisted blob.
func (m *Manager) cached(ctx context.Context) *snapshot.Snapshot {
	if snap := m.memory(); snap != nil {
		return snap
	}
	return m.reload(ctx)
}

// reload reads the persisted blob. Unreadable or corrupt blobs are treated as absent.
func (m *Manager) reload(ctx context.Context) *snapshot.Snapshot {
	if m.store == nil {
		return nil
	}
	payload, err := m.store.Load(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("cache store unreadable; treating as empty")
		return nil
	}
	if len(payload) == 0 {
		return nil
	}
	snap, err := snapshot.Decode(payload)
	if err != nil {
		m.logger.Warn().Err(err).Msg("cache payload corrupt; forcing refresh")
		return nil
	}
	m.publish(snap)
	return m.memory()
}
