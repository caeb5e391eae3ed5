package alerting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"deviation-screener/internal/epoch"
	"deviation-screener/internal/market"
	"deviation-screener/internal/metrics"
	"deviation-screener/internal/storage"
	"deviation-screener/internal/summary"
)

// Policy selects which opportunities a notification carries.
type Policy string

const (
	// PolicyFull sends the whole opportunity set each qualifying epoch.
	PolicyFull Policy = "full"
	// PolicyDelta sends only instruments missing from the last delivered opportunity set.
	PolicyDelta Policy = "delta"
)

// ParsePolicy resolves a configured policy name. Empty means full.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyFull:
		return PolicyFull, nil
	case PolicyDelta:
		return PolicyDelta, nil
	default:
		return "", fmt.Errorf("unknown notification policy %q", s)
	}
}

// Status describes how a notify attempt ended.
type Status string

const (
	StatusAlreadySent     Status = "already_sent"
	StatusInProgress      Status = "in_progress"
	StatusBeforeCutover   Status = "before_cutover"
	StatusNoOpportunities Status = "no_opportunities"
	StatusNoSubscribers   Status = "no_subscribers"
	StatusAllFailed       Status = "all_failed"
	StatusSent            Status = "sent"
)

// Outcome summarises one MaybeNotify call.
type Outcome struct {
	Epoch     epoch.Epoch
	Status    Status
	Attempted int
	Delivered int
	Failed    map[string]error
	Recorded  bool
}

// Options configure a Notifier.
type Options struct {
	Calendar    *epoch.Calendar
	Clock       epoch.Clock
	Subscribers storage.SubscriberStore
	Log         storage.NotificationLog
	Mailer      Mailer
	Policy      Policy
	Subject     string
	Threshold   float64
	// SendInterval is the minimum gap between two deliveries. Zero disables pacing.
	SendInterval time.Duration
	// Locker, when set with a non-zero LockKey, serialises notification across processes.
	Locker  storage.AdvisoryLocker
	LockKey int64
}

// Notifier dispatches at most one opportunity notification per epoch.
type Notifier struct {
	opts    Options
	limiter *rate.Limiter
	logger  zerolog.Logger

	mu sync.Mutex
}

// NewNotifier constructs a Notifier.
func NewNotifier(opts Options, logger zerolog.Logger) *Notifier {
	if opts.Clock == nil {
		opts.Clock = epoch.SystemClock{}
	}
	if opts.Policy == "" {
		opts.Policy = PolicyFull
	}
	if opts.Subject == "" {
		opts.Subject = "Deviation screener opportunities"
	}
	limit := rate.Inf
	if opts.SendInterval > 0 {
		limit = rate.Every(opts.SendInterval)
	}
	return &Notifier{
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With().Str("component", "notifier").Logger(),
	}
}

// MaybeNotify sends the opportunity rows of epoch e to every subscriber unless the epoch was
// already notified, the cutover has not passed, or there is nothing to send. The epoch is
// recorded once at least one delivery succeeds.
func (n *Notifier) MaybeNotify(ctx context.Context, e epoch.Epoch, opportunities []summary.Row, previous []market.Instrument) Outcome {
	n.mu.Lock()
	defer n.mu.Unlock()

	var out Outcome
	if unlock, ok := n.lock(ctx); ok {
		out = n.maybeNotify(ctx, e, opportunities, previous)
		unlock()
	} else {
		out = Outcome{Epoch: e, Status: StatusInProgress}
	}
	metrics.ObserveNotification(string(out.Status))

	evt := n.logger.Info()
	if out.Status == StatusAllFailed {
		evt = n.logger.Warn()
	}
	evt.Str("epoch", e.String()).
		Str("status", string(out.Status)).
		Int("attempted", out.Attempted).
		Int("delivered", out.Delivered).
		Bool("recorded", out.Recorded).
		Msg("notification attempt finished")
	return out
}

func (n *Notifier) maybeNotify(ctx context.Context, e epoch.Epoch, opportunities []summary.Row, previous []market.Instrument) Outcome {
	out := Outcome{Epoch: e}

	sent, err := n.opts.Log.NotificationExists(ctx, e)
	if err != nil {
		n.logger.Warn().Err(err).Str("epoch", e.String()).Msg("notification log unavailable; treating epoch as not yet sent")
	}
	if sent {
		out.Status = StatusAlreadySent
		return out
	}

	if !n.opts.Calendar.PastCutover(n.opts.Clock.Now()) {
		out.Status = StatusBeforeCutover
		return out
	}

	rows := n.selectRows(ctx, opportunities, previous)
	if len(rows) == 0 {
		out.Status = StatusNoOpportunities
		return out
	}

	recipients, err := n.opts.Subscribers.ListSubscribers(ctx)
	if err != nil {
		n.logger.Warn().Err(err).Msg("subscriber store unavailable; treating as empty")
		recipients = nil
	}
	if len(recipients) == 0 {
		out.Status = StatusNoSubscribers
		return out
	}

	body, err := renderBody(n.opts.Subject, e, n.opts.Threshold, rows)
	if err != nil {
		n.logger.Error().Err(err).Msg("cannot render notification")
		out.Status = StatusAllFailed
		return out
	}
	subject := fmt.Sprintf("%s (%s)", n.opts.Subject, e)

	out.Failed = make(map[string]error)
	for _, to := range recipients {
		out.Attempted++
		if err := n.deliver(ctx, to, subject, body); err != nil {
			out.Failed[to] = err
			metrics.ObserveDelivery(false)
			n.logger.Warn().Err(err).Str("to", to).Msg("delivery failed")
			continue
		}
		out.Delivered++
		metrics.ObserveDelivery(true)
	}

	if out.Delivered == 0 {
		out.Status = StatusAllFailed
		return out
	}
	out.Status = StatusSent

	rec := storage.NotificationRecord{
		Epoch:       e,
		Instruments: instrumentsOf(opportunities),
		Attempted:   out.Attempted,
		Delivered:   out.Delivered,
		CreatedAt:   n.opts.Clock.Now().UTC(),
	}
	if err := n.opts.Log.RecordNotification(ctx, rec); err != nil {
		n.logger.Warn().Err(err).Str("epoch", e.String()).Msg("cannot record notification; epoch may be notified again")
		return out
	}
	out.Recorded = true
	return out
}

// lock takes the cross-process notification lock. A lock error is logged and ignored; false
// means another process holds it.
func (n *Notifier) lock(ctx context.Context) (func(), bool) {
	noop := func() {}
	if n.opts.Locker == nil || n.opts.LockKey == 0 {
		return noop, true
	}
	unlock, acquired, err := n.opts.Locker.TryAdvisoryLock(ctx, n.opts.LockKey)
	switch {
	case err != nil:
		n.logger.Warn().Err(err).Msg("notification lock unavailable; notifying without it")
		return noop, true
	case !acquired:
		return nil, false
	default:
		return unlock, true
	}
}

func (n *Notifier) deliver(ctx context.Context, to, subject, body string) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for send slot: %w", err)
	}
	err := n.opts.Mailer.Send(ctx, to, subject, body)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("send to %s: %w", to, err)
}

func (n *Notifier) selectRows(ctx context.Context, opportunities []summary.Row, previous []market.Instrument) []summary.Row {
	if n.opts.Policy != PolicyDelta {
		return opportunities
	}
	baseline := n.baseline(ctx, previous)
	seen := make(map[market.Instrument]struct{}, len(baseline))
	for _, inst := range baseline {
		seen[inst] = struct{}{}
	}
	var rows []summary.Row
	for _, r := range opportunities {
		if _, ok := seen[r.Instrument]; !ok {
			rows = append(rows, r)
		}
	}
	return rows
}

// baseline is the opportunity set of the last recorded notification, so epochs whose
// deliveries all failed do not advance it. previous is used until a record exists.
func (n *Notifier) baseline(ctx context.Context, previous []market.Instrument) []market.Instrument {
	recs, err := n.opts.Log.ListRecentNotifications(ctx, 1)
	if err != nil {
		n.logger.Warn().Err(err).Msg("notification log unavailable; using previous snapshot as delta baseline")
		return previous
	}
	if len(recs) == 0 {
		return previous
	}
	return recs[0].Instruments
}

func instrumentsOf(rows []summary.Row) []market.Instrument {
	out := make([]market.Instrument, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Instrument)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
