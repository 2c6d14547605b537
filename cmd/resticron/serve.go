package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MacJediWizard/resticron/internal/api"
	"github.com/MacJediWizard/resticron/internal/api/handlers"
	"github.com/MacJediWizard/resticron/internal/backup"
	"github.com/MacJediWizard/resticron/internal/config"
	"github.com/MacJediWizard/resticron/internal/crypto"
	"github.com/MacJediWizard/resticron/internal/db"
	"github.com/MacJediWizard/resticron/internal/events"
	"github.com/MacJediWizard/resticron/internal/health"
	"github.com/MacJediWizard/resticron/internal/metrics"
	"github.com/MacJediWizard/resticron/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := serve(ctx, cfg, logger); err != nil {
				logger.Error().Err(err).Msg("server exited with error")
				return err
			}
			return nil
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	logger.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("starting resticron")

	if cfg.Database.Driver == string(db.DriverSQLite) {
		if err := os.MkdirAll(cfg.DataDir(), 0o750); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
	}

	database, err := db.New(ctx, db.DefaultConfig(db.Driver(cfg.Database.Driver), cfg.Database.DSN), logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	if cfg.Secrets.Key != "" {
		box, err := crypto.NewSecretBoxFromBase64(cfg.Secrets.Key)
		if err != nil {
			return fmt.Errorf("load secrets key: %w", err)
		}
		database.SetSecretBox(box)
	} else {
		logger.Warn().Msg("secrets.key not set, repository secrets are stored unencrypted")
	}

	if err := database.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewRepositoryCollector(database, logger),
	)
	runMetrics, err := metrics.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	executor := backup.NewResticWithBinary(cfg.Restic.Binary, logger)
	if version, ok := health.ResticVersion(ctx, cfg.Restic.Binary); ok {
		logger.Info().Str("restic", version).Msg("restic found")
	} else {
		logger.Warn().Str("binary", cfg.Restic.Binary).Msg("restic binary not found, backups will fail")
	}

	coordinator := backup.NewCoordinator(database, executor, logger)
	coordinator.SetMetrics(runMetrics)

	if cfg.Redis.URL != "" {
		publisher, err := events.NewPublisher(ctx, cfg.Redis.URL, logger)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer publisher.Close()
		coordinator.SetNotifier(publisher)
		logger.Info().Str("channel", events.Channel).Msg("publishing run events")
	}

	scheduler := backup.NewScheduler(database, coordinator, backup.SchedulerConfig{
		MaxConcurrentRuns: cfg.Scheduler.MaxConcurrentRuns,
		RunTimeout:        cfg.Scheduler.RunTimeout,
		ShutdownTimeout:   cfg.Scheduler.ShutdownTimeout,
		OrphanSweep:       cfg.Scheduler.OrphanSweep,
		OrphanThreshold:   cfg.Scheduler.OrphanThreshold,
	}, logger)
	scheduler.SetMetrics(runMetrics)

	svc := service.New(database, scheduler, executor, logger)

	gin.SetMode(gin.ReleaseMode)
	router, err := api.NewRouter(api.Config{
		RateLimitPerMinute: cfg.Server.RateLimit,
		Version: handlers.VersionInfo{
			Version:   Version,
			Commit:    Commit,
			BuildDate: BuildDate,
		},
	}, api.Dependencies{
		Service:   svc,
		Database:  database,
		Scheduler: scheduler,
		Host:      health.NewCollector(cfg.DataDir(), cfg.Restic.Binary),
		Checker:   health.NewChecker(health.DefaultThresholds()),
		Gatherer:  registry,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize router: %w", err)
	}

	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		// Runs get the full drain window; the HTTP server only needs a few seconds.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Scheduler.ShutdownTimeout+15*time.Second)
		defer cancel()

		httpCtx, httpCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer httpCancel()
		httpErr := srv.Shutdown(httpCtx)

		schedErr := scheduler.Stop(shutdownCtx)
		status := scheduler.ShutdownStatus()
		logger.Info().
			Str("state", string(status.State)).
			Int("abandoned", status.AbandonedCount).
			Msg("scheduler stopped")

		return errors.Join(httpErr, schedErr)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("server stopped gracefully")
	return nil
}
