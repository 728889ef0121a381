// Command weinstein-server serves the stage-analysis dashboard API over
// HTTP and gRPC and runs the weekly data update on a cron schedule.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"weinstein/internal/api"
	"weinstein/internal/app"
	"weinstein/internal/config"
	"weinstein/internal/httpapi"
	"weinstein/internal/scheduler"
	"weinstein/internal/util"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("failed to load .env: %v", err)
	}
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, logFile, err := app.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("failed to set up logging: %v", err)
	}
	defer logFile.Close()
	util.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	hub := api.NewHub(cfg.Server.CORSOrigins, logger.With("component", "ws"))

	deps := scheduler.Deps{
		Processor:   a.Processor,
		Broadcaster: hub,
		Cache:       a.Dashboard,
		Signals:     a.Store,
	}
	g, err := a.Gatherer(nil)
	switch {
	case err == nil:
		deps.Collector = g
	case errors.Is(err, app.ErrNoCredentials):
		logger.Warn("daily bar collection disabled", "reason", err)
	default:
		return err
	}

	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return fmt.Errorf("scheduler timezone: %w", err)
	}
	sched := scheduler.New(deps, loc, logger)
	if cfg.Scheduler.Enabled {
		if err := sched.Register(ctx, cfg.Scheduler.Spec); err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	dash := httpapi.NewDashboardServer(httpapi.Deps{
		Dashboard:   a.Dashboard,
		Portfolio:   a.Portfolio,
		Stocks:      a.Store,
		Updater:     sched,
		Signals:     hub,
		CORSOrigins: cfg.Server.CORSOrigins,
	}, cfg.Dashboard.DefaultWeeks, logger.With("component", "http"))

	opts := api.Options{HTTPAddr: cfg.Server.Addr()}
	if cfg.Server.GRPCPort > 0 {
		opts.GRPCAddr = cfg.Server.GRPCAddr()
	}
	stage := api.NewStageService(a.Dashboard, cfg.Dashboard.DefaultWeeks, logger.With("component", "grpc"))
	srv := api.NewServer(dash.Handler(), stage, hub, opts, logger)

	logger.Info("weinstein-server starting",
		"http", opts.HTTPAddr,
		"grpc", opts.GRPCAddr,
		"next_update", sched.Next(),
	)
	return srv.ListenAndServe(ctx)
}
