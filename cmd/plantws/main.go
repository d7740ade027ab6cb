package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/plantwatch/ws/internal/config"
	obs "github.com/plantwatch/ws/internal/observability"
	"github.com/plantwatch/ws/plant"
	"github.com/plantwatch/ws/router"
	"github.com/plantwatch/ws/server"
	"github.com/plantwatch/ws/session"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run starts the server and blocks until it is stopped by a signal. It
// returns the process exit code.
func run(args []string) int {
	cfg, err := config.Load(args)
	if errors.Is(err, pflag.ErrHelp) {
		// Usage is already printed by the flag set.
		return 0
	}
	logger := obs.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return 2
	}
	logger.Info().
		Str("addr", cfg.Addr()).
		Int("workers", cfg.Workers).
		Dur("push_interval", cfg.PushInterval).
		Msg("starting plantws")

	metrics := obs.NewMetrics()

	repo, closeRepo, err := openRepository(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open repository")
		return 1
	}
	defer closeRepo()

	sessions := session.NewRegistry()
	rt := router.New(repo,
		router.WithLogger(logger),
		router.WithMetrics(metrics),
		router.WithReadTimeout(cfg.ReadTimeout),
		router.WithRegistry(sessions),
		router.WithSessionOptions(session.WithPushInterval(cfg.PushInterval)),
	)
	srv := server.New(rt,
		server.WithWorkers(cfg.Workers),
		server.WithLogger(logger),
		server.WithSessions(sessions),
	)

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serve := make(chan error, 1)
	go func() { serve <- srv.ListenAndServe(ctx, cfg.Addr()) }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err := <-serve:
		if err != nil && !errors.Is(err, server.ErrServerClosed) {
			logger.Error().Err(err).Msg("server error")
			return 1
		}
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer scancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}
	cancel()
	if metricsSrv != nil {
		metricsSrv.Shutdown(sctx)
	}
	logger.Info().Msg("plantws stopped")
	return 0
}

// openRepository returns the MySQL repository when a DSN is configured and
// an in-memory one with demo readings otherwise.
func openRepository(cfg config.Config, logger zerolog.Logger) (plant.Repository, func(), error) {
	if cfg.DBDSN == "" {
		logger.Warn().Msg("DB_DSN is not set, serving demo readings")
		return plant.NewStaticRepository(demoReadings(time.Now().UTC())...), func() {}, nil
	}
	db, err := plant.OpenMySQL(cfg.DBDSN)
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		// The repository degrades per request, keep serving.
		logger.Warn().Err(err).Msg("database is not reachable yet")
	}
	return plant.NewSQLRepository(db), func() { db.Close() }, nil
}

func demoReadings(now time.Time) []plant.Reading {
	return []plant.Reading{
		{DeviceID: 1, Temperature: 22.5, Humidity: 41, CapturedAt: now.Add(-2 * time.Minute)},
		{DeviceID: 2, Temperature: 19.8, Humidity: 55.5, CapturedAt: now.Add(-time.Minute)},
		{DeviceID: 15, Temperature: 24.1, Humidity: 38.2, CapturedAt: now},
	}
}
