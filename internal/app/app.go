// Package app assembles the components shared by the weinstein binaries
// from a loaded configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"weinstein/internal/analysis"
	"weinstein/internal/cache"
	"weinstein/internal/config"
	"weinstein/internal/dashboard"
	"weinstein/internal/domain"
	"weinstein/internal/gather/us"
	"weinstein/internal/portfolio"
	"weinstein/internal/store"
	"weinstein/internal/strategy"
	"weinstein/internal/strategy/builtins"
	"weinstein/internal/util"
)

// ErrNoCredentials is returned by Gatherer when no Alpaca keys are
// configured.
var ErrNoCredentials = errors.New("alpaca credentials not configured (set APCA_API_KEY_ID and APCA_API_SECRET_KEY)")

// NewLogger builds the process logger from cfg. With a log file configured,
// every line goes to both stderr and the file; the returned closer closes
// the file and is never nil.
func NewLogger(cfg config.Logging) (*slog.Logger, io.Closer, error) {
	if cfg.File == "" {
		return util.NewLoggerTo(os.Stderr, cfg.Level, cfg.Format), io.NopCloser(nil), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	return util.NewLoggerTo(io.MultiWriter(os.Stderr, f), cfg.Level, cfg.Format), f, nil
}

// App holds the wired components.
type App struct {
	Config      *config.Config
	Store       *store.SQLStore
	Archive     *store.ParquetArchive
	Cache       cache.Cache
	Classifiers *strategy.Registry
	Processor   *analysis.Processor
	Dashboard   *dashboard.Service
	Portfolio   *portfolio.Manager
	Log         *slog.Logger

	closers []io.Closer
}

// Open connects the store and cache described by cfg and wires the
// services on top of them.
func Open(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	st, err := store.Open(cfg.Storage.Driver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Storage.Driver, err)
	}
	a := &App{
		Config:  cfg,
		Store:   st,
		Archive: store.NewParquetArchive(cfg.Storage.DataDir),
		Log:     log,
		closers: []io.Closer{st},
	}

	switch cfg.Cache.Backend {
	case "redis":
		rc, err := cache.NewRedis(ctx, cache.RedisOptions{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			Prefix:   cfg.Cache.Redis.Prefix,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		a.Cache = rc
		a.closers = append(a.closers, rc)
	default:
		a.Cache = cache.NewMemory()
	}

	a.Classifiers = strategy.NewRegistry()
	builtins.Register(a.Classifiers, cfg.Analysis.SlopeThreshold, cfg.Analysis.EntryThreshold, cfg.Analysis.PriceBand)
	classifier, ok := a.Classifiers.Get(cfg.Analysis.Classifier)
	if !ok {
		a.Close()
		return nil, fmt.Errorf("unknown classifier %q (have %v)", cfg.Analysis.Classifier, a.Classifiers.List())
	}

	a.Processor = analysis.NewProcessor(st, classifier, analysis.Options{
		MAPeriod:       cfg.Analysis.MAPeriod,
		Benchmark:      cfg.Analysis.Benchmark,
		MaxBuyDistance: cfg.Analysis.MaxBuyDistance,
		Workers:        cfg.Analysis.Workers,
	}, log.With("component", "processor"))
	a.Dashboard = dashboard.NewService(st, a.Cache, dashboard.ServiceOptions{
		CacheTTL: cfg.Cache.TTL,
		Currency: cfg.Dashboard.Currency,
	}, log.With("component", "dashboard"))
	a.Portfolio = portfolio.NewManager(st, log.With("component", "portfolio"))

	log.Info("storage ready", "driver", cfg.Storage.Driver, "cache", cfg.Cache.Backend, "classifier", classifier.Name())
	return a, nil
}

// Gatherer returns the Alpaca daily-bar gatherer, or ErrNoCredentials.
func (a *App) Gatherer(progress func(done, total int)) (*us.DailyBarGatherer, error) {
	cfg := a.Config
	if cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "" {
		return nil, ErrNoCredentials
	}
	job := cfg.Gather.USDaily
	opts := us.Options{
		BatchSize:       job.BatchSize,
		MaxWorkers:      job.MaxWorkers,
		RateLimitPerMin: job.RateLimitPerMin,
		MaxRetries:      job.MaxRetries,
		RetryDelay:      2 * time.Second,
		Feed:            cfg.Alpaca.Feed,
		Progress:        progress,
	}
	if job.StartDate != "" {
		d, err := domain.ParseDate(job.StartDate)
		if err != nil {
			return nil, fmt.Errorf("gather start_date: %w", err)
		}
		opts.StartDate = d
	}
	src := us.NewBarSource(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL)
	g := us.NewDailyBarGatherer(src, a.Store, opts, a.Log)
	return g.WithCalendar(us.NewCalendarClient(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, "")), nil
}

// Backtester returns a backtester using the configured stop rules.
func (a *App) Backtester() *strategy.Backtester {
	b := a.Config.Backtest
	return strategy.NewBacktester(a.Store, strategy.BacktestOptions{
		InitialStopPct:  b.InitialStopPct,
		TrailingStopPct: b.TrailingStopPct,
		MaxDays:         b.MaxDays,
	})
}

// Close releases the cache and store connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
