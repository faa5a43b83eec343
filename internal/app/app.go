package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/truefoundry/capacity-scheduler/internal/config"
	"github.com/truefoundry/capacity-scheduler/internal/engine"
	"github.com/truefoundry/capacity-scheduler/internal/server"
	"github.com/truefoundry/capacity-scheduler/pkg/logger"
	"go.uber.org/zap"
)

// PassMain runs a single evaluation pass and exits 1 when the schedules cannot be read
func PassMain() {
	os.Exit(runPass())
}

// ServeMain runs passes on the trigger schedule and serves the HTTP API until signalled
func ServeMain() {
	os.Exit(runServe())
}

func setup() (*config.Config, *zap.Logger, func()) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to process env: ", err)
	}
	zapLogger, err := logger.NewLogger(logger.Options{
		Env:           cfg.Env,
		Level:         cfg.LogLevel,
		SentryEnabled: cfg.SentryDsn != "",
	})
	if err != nil {
		log.Fatal("Failed to get logger: ", err)
	}

	if cfg.SentryDsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDsn,
			Environment:      cfg.SentryEnvironment,
			EnableTracing:    true,
			TracesSampleRate: 1.0,
		}); err != nil {
			zapLogger.Error("Sentry initialization failed", zap.Error(err))
		}
	}
	cleanup := func() {
		sentry.Flush(2 * time.Second)
		_ = zapLogger.Sync()
	}
	return cfg, zapLogger, cleanup
}

func runPass() int {
	cfg, logger, cleanup := setup()
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.PassTimeout)
	defer cancel()

	d, err := newDeps(ctx, logger, cfg)
	if err != nil {
		logger.Error("Failed to build dependencies", zap.Error(err))
		return 1
	}
	defer d.Close()

	report, err := d.runner(logger, cfg, nil).RunPass(engine.WithTrigger(ctx, "cli"))
	if err != nil {
		logger.Error("Pass failed", zap.Error(err))
		return 1
	}
	if err := json.NewEncoder(os.Stdout).Encode(report); err != nil {
		logger.Error("Failed to write report", zap.Error(err))
	}
	return 0
}

func runServe() int {
	cfg, logger, cleanup := setup()
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := newDeps(ctx, logger, cfg)
	if err != nil {
		logger.Error("Failed to build dependencies", zap.Error(err))
		return 1
	}
	defer d.Close()

	loc := d.window.Location
	interval, err := pollInterval(cfg.TriggerSchedule, loc, time.Now())
	if err != nil {
		logger.Error("Invalid trigger schedule", zap.Error(err))
		return 1
	}
	if cfg.FiringTolerance < interval {
		logger.Warn("firing tolerance is shorter than the poll interval, some events may never fire",
			zap.Duration("tolerance", cfg.FiringTolerance),
			zap.Duration("interval", interval))
	}

	runner := d.runner(logger, cfg, engine.NewLedger(2*cfg.FiringTolerance))
	trigger, err := newTrigger(logger, runner, cfg.TriggerSchedule, loc, cfg.PassTimeout)
	if err != nil {
		logger.Error("Failed to schedule passes", zap.Error(err))
		return 1
	}
	trigger.Start()
	logger.Info("pass trigger started", zap.String("schedule", cfg.TriggerSchedule), zap.String("timezone", loc.String()))

	srv := server.NewServer(&server.Params{
		Runner:      runner,
		Store:       d.store,
		Registry:    d.registry,
		Scaler:      d.scaler,
		Reaper:      d.reaper,
		PassTimeout: cfg.PassTimeout,
		Logger:      logger,
	})
	serveErr := srv.Start(ctx, cfg.ServerPort)

	<-trigger.Stop().Done()
	logger.Info("pass trigger stopped")
	if serveErr != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", serveErr)
		return 1
	}
	return 0
}
