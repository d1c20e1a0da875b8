package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"orbwatch/internal/alerting"
	"orbwatch/internal/config"
	"orbwatch/internal/extractor"
	"orbwatch/internal/fetcher"
	"orbwatch/internal/logging"
	"orbwatch/internal/scheduler"
	"orbwatch/internal/server"
	"orbwatch/internal/service"
	"orbwatch/internal/storage"
	"orbwatch/internal/timezone"
	"orbwatch/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	// base is the unscoped logger handed to components.
	base zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app"), base: logger}
}

func (a *App) newBrowser() *fetcher.Chrome {
	return fetcher.NewChrome(fetcher.ChromeOptions{
		BaseURL:         a.Config.Scraper.BaseURL,
		WaitSelector:    a.Config.Scraper.WaitSelector,
		WaitTimeout:     a.Config.Scraper.WaitTimeout,
		NavigateTimeout: a.Config.Scraper.NavigateTimeout,
		ExecPath:        a.Config.Browser.ExecPath,
		UserDataDir:     a.Config.Browser.UserDataDir,
		UserAgent:       a.Config.Browser.UserAgent,
		ExtraFlags:      a.Config.Browser.ExtraFlags,
	}, a.base)
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	notifiers := alerting.Multi{alerting.NewLogNotifier(a.base)}
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		notifiers = append(notifiers, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.base))
	}
	return notifiers
}

func (a *App) newScheduler() (*scheduler.Scheduler, error) {
	return scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		Cron:         a.Config.Scheduler.Cron,
		Location:     timezone.Location,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.base)
}

// newService wires the production pipeline. sched may be nil.
func (a *App) newService(sched *scheduler.Scheduler) *service.Service {
	return service.New(
		a.Config,
		sched,
		storage.NewPoolConnector(a.Config.Database, a.base),
		a.newBrowser(),
		extractor.New(extractor.Options{}, a.base),
		a.newNotifier(),
		a.base,
	)
}

// openStore opens and verifies the database, creating it when allowed.
func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.ConnString() == "" {
		return nil, nil, errors.New("database not configured: set database.dsn or DB_HOST")
	}

	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

// openHistory builds a lazily connecting store for the read API so the
// server starts even while the database is unavailable.
func (a *App) openHistory(ctx context.Context) (*storage.Store, error) {
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, err
	}
	store := storage.NewStore(pool, a.Config.Database.ConnString())
	if err := store.EnsureSchema(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("schema not ensured; history reads as empty until migrated")
	}
	return store, nil
}

func (a *App) newServer(history storage.HistoryReader, trigger server.Trigger) (*server.Server, error) {
	return server.New(server.Options{
		Address:         a.Config.API.Address,
		Window:          a.Config.API.Window,
		MaxWindow:       a.Config.API.MaxWindow,
		Currency:        a.Config.API.Currency,
		ShutdownTimeout: a.Config.API.ShutdownTimeout,
		ReleaseMode:     a.Config.API.ReleaseMode,
	}, history, trigger, a.base)
}

// Run executes the scheduler and, when enabled, the HTTP API side by side.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched, err := a.newScheduler()
	if err != nil {
		return err
	}
	svc := a.newService(sched)

	var srv *server.Server
	if a.Config.API.Enabled {
		history, err := a.openHistory(ctx)
		if err != nil {
			return err
		}
		defer history.Close()

		srv, err = a.newServer(history, svc)
		if err != nil {
			return err
		}
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return svc.Run(gctx)
	})
	if srv != nil {
		group.Go(func() error {
			return srv.Run(gctx)
		})
	}

	a.Logger.Info().
		Str("version", version.Version).
		Dur("interval", a.Config.Scheduler.Interval).
		Str("cron", a.Config.Scheduler.Cron).
		Bool("api", a.Config.API.Enabled).
		Msg("starting orbwatch")

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("orbwatch stopped")
	return nil
}

// Serve runs only the HTTP API; /api/update still triggers cycles.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	history, err := a.openHistory(ctx)
	if err != nil {
		return err
	}
	defer history.Close()

	srv, err := a.newServer(history, a.newService(nil))
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

// Scrape runs a single cycle and reports its outcome.
func (a *App) Scrape(ctx context.Context) (service.CycleResult, error) {
	result, err := a.newService(nil).RunCycle(ctx)
	if err != nil {
		return result, err
	}
	a.Logger.Info().
		Str("target", fetcher.TargetURL(a.Config.Scraper.BaseURL, a.Config.Scraper.View)).
		Int("inserted", result.Inserted).
		Int("failed", result.Failed).
		Bool("skipped", result.Skipped).
		Msg("scrape complete")
	return result, nil
}

// Migrate ensures the database and schema exist.
func (a *App) Migrate(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	a.Logger.Info().Msg("schema up to date")
	return nil
}

// ExportOptions hold parameters for exporting observations.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	Currency  string
	PNGPath   string
	CSVPath   string
	MaxPoints int
	Window    time.Duration
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit    int
	Currency string
}

// SeedOptions configure sample data generation.
type SeedOptions struct {
	CurrencyID   string
	CurrencyName string
	BasePrice    float64
	Days         int
	Step         time.Duration
	Seed         int64
	DryRun       bool
}
