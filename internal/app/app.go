package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"deviation-screener/internal/alerting"
	"deviation-screener/internal/cache"
	"deviation-screener/internal/config"
	"deviation-screener/internal/epoch"
	"deviation-screener/internal/fetcher"
	"deviation-screener/internal/market"
	"deviation-screener/internal/metrics"
	"deviation-screener/internal/pipeline"
	"deviation-screener/internal/scheduler"
	"deviation-screener/internal/series"
	"deviation-screener/internal/service"
	"deviation-screener/internal/storage"
	"deviation-screener/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives tables and command reports.
	Out   io.Writer
	Clock epoch.Clock
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logger.With().Str("component", "app").Logger(),
		Out:    os.Stdout,
		Clock:  epoch.SystemClock{},
	}
}

// backend bundles the persistence used by a command: PostgreSQL when a DSN is configured,
// otherwise in-memory subscribers plus file-backed notification log and snapshot cache.
type backend struct {
	subscribers storage.SubscriberStore
	log         storage.NotificationLog
	blob        cache.Store
	locker      cache.Locker
	persistent  bool
	close       func()
}

func (a *App) openBackend(ctx context.Context) (*backend, error) {
	if a.Config.Database.DSN == "" {
		return &backend{
			subscribers: storage.NewMemory(a.Config.Alerting.Subscribers),
			log:         storage.NewFileLog(cache.NewFileStore(a.Config.Cache.NotificationLogPath())),
			blob:        cache.NewFileStore(a.Config.Cache.Path),
			close:       func() {},
		}, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, err
	}
	applied, err := storage.ApplyMigrations(ctx, pool, a.Config.Database.MigrationsPath)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if len(applied) > 0 {
		a.Logger.Info().Strs("migrations", applied).Msg("database migrations applied")
	}

	store := storage.NewStore(pool)
	for _, raw := range a.Config.Alerting.Subscribers {
		if _, err := store.AddSubscriber(ctx, raw); err != nil {
			a.Logger.Warn().Err(err).Str("address", raw).Msg("cannot seed subscriber")
		}
	}
	return &backend{
		subscribers: store,
		log:         store,
		blob:        store,
		locker:      store,
		persistent:  true,
		close:       store.Close,
	}, nil
}

func (a *App) clock() epoch.Clock {
	if a.Clock == nil {
		return epoch.SystemClock{}
	}
	return a.Clock
}

func (a *App) calendar() (*epoch.Calendar, error) {
	return epoch.NewCalendar(a.Config.Market.Timezone, a.Config.Market.Cutover)
}

func (a *App) newDiscovery() fetcher.Discovery {
	src := a.Config.Source
	if len(src.Instruments) > 0 {
		return fetcher.NewStaticDiscovery(src.Instruments)
	}
	return fetcher.NewHTMLDiscovery(fetcher.DiscoveryOptions{
		URL:        src.DiscoveryURL,
		Timeout:    src.RequestTimeout,
		UserAgent:  src.UserAgent,
		TableClass: src.TableClass,
	}, a.Logger)
}

func (a *App) newRefresher() *pipeline.Refresher {
	src := a.Config.Source
	history := fetcher.NewHTTPHistory(fetcher.HistoryOptions{
		URLTemplate: src.HistoryURL,
		From:        src.From,
		To:          src.To,
		Timeout:     src.RequestTimeout,
		UserAgent:   src.UserAgent,
	}, a.Logger)

	batch := fetcher.NewBatch(history, fetcher.BatchOptions{
		Concurrency: src.Concurrency,
		Timeout:     src.RequestTimeout,
		Delay:       src.RequestDelay,
	}, a.Logger)
	batch.OnProgress(pipeline.ProgressLogger(a.Logger, 50))

	an := a.Config.Analysis
	return pipeline.New(a.newDiscovery(), batch, pipeline.Options{
		Series: series.Options{
			MaxRows:   an.MaxRows,
			EMAPeriod: an.EMAPeriod,
			RSIPeriod: an.RSIPeriod,
		},
		Threshold: an.Threshold,
		Lookback:  an.Lookback,
		WatchList: market.Instruments(an.WatchList),
	}, a.clock(), a.Logger)
}

func (a *App) newManager(b *backend) (*cache.Manager, error) {
	cal, err := a.calendar()
	if err != nil {
		return nil, err
	}
	opts := cache.Options{
		Calendar:  cal,
		Clock:     a.clock(),
		Store:     b.blob,
		Refresher: a.newRefresher(),
		Locker:    b.locker,
		LockKey:   a.Config.Scheduler.AdvisoryLockKey,
	}
	return cache.NewManager(opts, a.Logger), nil
}

func (a *App) newMailer() (alerting.Mailer, error) {
	cfg := a.Config.Alerting
	switch strings.ToLower(strings.TrimSpace(cfg.Transport)) {
	case "http":
		return alerting.NewHTTPMailer(cfg.HTTP.Endpoint, cfg.HTTP.Token, cfg.HTTP.From, cfg.HTTP.Timeout, a.Logger), nil
	case "smtp", "":
		return alerting.NewSMTPMailer(alerting.SMTPOptions{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			Timeout:  cfg.SMTP.Timeout,
			StartTLS: cfg.SMTP.StartTLS,
		}, a.Logger), nil
	default:
		return nil, fmt.Errorf("unknown mail transport %q", cfg.Transport)
	}
}

// newNotifier returns nil when alerting is disabled.
func (a *App) newNotifier(b *backend, cal *epoch.Calendar) (*alerting.Notifier, error) {
	if !a.Config.Alerting.Enabled {
		return nil, nil
	}
	policy, err := alerting.ParsePolicy(a.Config.Alerting.Policy)
	if err != nil {
		return nil, err
	}
	mailer, err := a.newMailer()
	if err != nil {
		return nil, err
	}
	return alerting.NewNotifier(alerting.Options{
		Calendar:     cal,
		Clock:        a.clock(),
		Subscribers:  b.subscribers,
		Log:          b.log,
		Mailer:       mailer,
		Policy:       policy,
		Subject:      a.Config.Alerting.Subject,
		Threshold:    a.Config.Analysis.Threshold,
		SendInterval: a.Config.Alerting.SendInterval,
		Locker:       b.locker,
		LockKey:      notifyLockKey(a.Config.Scheduler.AdvisoryLockKey),
	}, a.Logger), nil
}

// notifyLockKey derives the notification lock from the refresh lock key; zero disables both.
func notifyLockKey(refreshKey int64) int64 {
	if refreshKey == 0 {
		return 0
	}
	return refreshKey + 1
}

// wiring is everything a screening cycle needs.
type wiring struct {
	backend  *backend
	manager  *cache.Manager
	notifier *alerting.Notifier
}

func (a *App) wire(ctx context.Context) (*wiring, error) {
	b, err := a.openBackend(ctx)
	if err != nil {
		return nil, err
	}
	if !b.persistent {
		a.Logger.Debug().Str("cache", a.Config.Cache.Path).Str("log", a.Config.Cache.NotificationLogPath()).Msg("database.dsn not configured; using file cache and in-memory subscribers")
	}
	mgr, err := a.newManager(b)
	if err != nil {
		b.close()
		return nil, err
	}
	notifier, err := a.newNotifier(b, mgr.Calendar())
	if err != nil {
		b.close()
		return nil, err
	}
	return &wiring{backend: b, manager: mgr, notifier: notifier}, nil
}

func (w *wiring) service(sched *scheduler.Scheduler, logger zerolog.Logger) *service.Service {
	var notifier service.Notifier
	if w.notifier != nil {
		notifier = w.notifier
	}
	return service.New(sched, w.manager, notifier, logger)
}

// Run executes the long-running screening service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	w, err := a.wire(ctx)
	if err != nil {
		return err
	}
	defer w.backend.close()
	if !w.backend.persistent {
		a.Logger.Warn().Msg("database.dsn not configured; subscribers come from alerting.subscribers only")
	}
	if w.notifier == nil {
		a.Logger.Info().Msg("alerting disabled; running freshness checks only")
	}

	if addr := a.Config.Metrics.ListenAddr; addr != "" {
		stop := a.serveMetrics(addr)
		defer stop()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		Calendar:     w.manager.Calendar(),
		Clock:        a.clock(),
	}, a.Logger)

	svc := w.service(sched, a.Logger)

	a.Logger.Info().
		Str("version", version.Version).
		Str("timezone", a.Config.Market.Timezone).
		Str("cutover", a.Config.Market.Cutover).
		Msg("starting screening service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("screening service stopped")
	return nil
}

func (a *App) serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.Logger.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Msg("metrics listener failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// Refresh runs one screening cycle. force rebuilds the snapshot even when the cached one
// belongs to the current epoch.
func (a *App) Refresh(ctx context.Context, force bool) error {
	w, err := a.wire(ctx)
	if err != nil {
		return err
	}
	defer w.backend.close()

	if force {
		if _, err := w.manager.Refresh(ctx); err != nil {
			return err
		}
	}

	report, err := w.service(nil, a.Logger).Cycle(ctx)
	if err != nil {
		return err
	}

	res := report.Result
	fmt.Fprintf(a.Out, "epoch: %s\nstate: %s\nsnapshot: %s\ninstruments: %d\nfailed: %d\nopportunities: %d\n",
		res.Epoch, res.State, res.Snapshot.Epoch, len(res.Snapshot.Series), len(res.Snapshot.Failed), len(res.Snapshot.Opportunities))
	if res.Err != nil {
		fmt.Fprintf(a.Out, "refresh error: %v\n", res.Err)
	}
	if n := report.Notification; n != nil {
		fmt.Fprintf(a.Out, "notification: %s (%d/%d delivered)\n", n.Status, n.Delivered, n.Attempted)
	}
	return nil
}

// Notify performs one notification attempt on the snapshot of the current epoch.
func (a *App) Notify(ctx context.Context) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}
	w, err := a.wire(ctx)
	if err != nil {
		return err
	}
	defer w.backend.close()

	res, err := w.manager.Get(ctx)
	if err != nil {
		return err
	}
	if !res.Current() {
		return fmt.Errorf("no snapshot for epoch %s (serving %s); refusing to notify", res.Epoch, res.Snapshot.Epoch)
	}

	snap := res.Snapshot
	out := w.notifier.MaybeNotify(ctx, snap.Epoch, snap.Tables.Opportunities, snap.PreviousOpportunities)
	fmt.Fprintf(a.Out, "epoch: %s\nstatus: %s\ndelivered: %d/%d\nrecorded: %t\n", out.Epoch, out.Status, out.Delivered, out.Attempted, out.Recorded)
	for addr, ferr := range out.Failed {
		fmt.Fprintf(a.Out, "failed: %s: %v\n", addr, ferr)
	}
	return nil
}

// ExportOptions hold parameters for exporting one instrument's series.
type ExportOptions struct {
	Instrument string
	PNGPath    string
	CSVPath    string
	MaxPoints  int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Table   string
	CSVPath string
}
