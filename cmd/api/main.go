package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/angelmondragon/posflow/api/routes"
	"github.com/angelmondragon/posflow/internal/commits"
	"github.com/angelmondragon/posflow/internal/entities"
	"github.com/angelmondragon/posflow/pkg/config"
	"github.com/angelmondragon/posflow/pkg/db"
	"github.com/angelmondragon/posflow/pkg/db/models"
	"github.com/angelmondragon/posflow/pkg/logger"
	"github.com/angelmondragon/posflow/pkg/metrics"
	"github.com/angelmondragon/posflow/pkg/migrate"
	"github.com/angelmondragon/posflow/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := openDatabase(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		_ = dbClient.Close()
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	flowMetrics := metrics.NewFlowMetrics(registry)

	entityRepo := entities.NewRepository(dbClient.DB())
	entityService, err := entities.NewService(entityRepo)
	if err != nil {
		logg.Error(ctx, "failed to create entity service", err)
		os.Exit(1)
	}
	commitService, err := commits.NewService(commits.NewRepository(dbClient.DB()), entityRepo, dbClient)
	if err != nil {
		logg.Error(ctx, "failed to create commit service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "addr": addr})

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, entityService, commitService, flowMetrics,
			promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting commit gateway")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	exitCode := 0
	select {
	case err := <-serveErr:
		if err != nil {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			exitCode = 1
		}
	case <-ctx.Done():
		logg.Info(ctx, "shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = multierr.Combine(
		server.Shutdown(shutdownCtx),
		redisClient.Close(),
		dbClient.Close(),
	)
	if err != nil {
		logg.Error(ctx, "error during shutdown", err)
		exitCode = 1
	}
	logg.Info(ctx, "commit gateway stopped")
	os.Exit(exitCode)
}

// openDatabase connects to Postgres, or to a local SQLite file when
// POSFLOW_USE_SQLITE is set for development.
func openDatabase(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*db.Client, error) {
	if cfg.FeatureFlags.UseSQLite && !cfg.App.IsProd() {
		client, err := db.OpenSQLite(ctx, cfg.DB.DSN, logg)
		if err != nil {
			return nil, err
		}
		if err := client.DB().WithContext(ctx).AutoMigrate(&models.Customer{}, &models.Entity{}, &models.CommitRecord{}); err != nil {
			return nil, multierr.Append(err, client.Close())
		}
		return client, nil
	}

	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return nil, err
	}
	if err := migrate.MaybeRunDev(ctx, cfg, logg, client); err != nil {
		return nil, multierr.Append(err, client.Close())
	}
	return client, nil
}
