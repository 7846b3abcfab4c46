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

	"github.com/fernandofuc/tistis-platform-sub016/api/routes"
	"github.com/fernandofuc/tistis-platform-sub016/internal/breaker"
	"github.com/fernandofuc/tistis-platform-sub016/internal/orchestration"
	"github.com/fernandofuc/tistis-platform-sub016/internal/security"
	"github.com/fernandofuc/tistis-platform-sub016/internal/usage"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/config"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/db"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/logger"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/metrics"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/migrate"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "gateway"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "gateway",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gatewayMetrics := metrics.NewGatewayMetrics(prometheus.DefaultRegisterer)

	gate, err := security.NewGate(security.GateParams{
		Config:    cfg.Gate,
		RateLimit: cfg.RateLimit,
		Limiter:   redisClient,
		Logger:    logg,
		Metrics:   gatewayMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create security gate", err)
		os.Exit(1)
	}

	usageRepo := usage.NewRepository(dbClient.DB())
	meter, err := usage.NewMeter(usage.MeterParams{
		DB:      dbClient,
		Repo:    usageRepo,
		Logger:  logg,
		Metrics: gatewayMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create usage meter", err)
		os.Exit(1)
	}

	circuits, err := breaker.NewService(breaker.ServiceParams{
		Config:  cfg.Breaker,
		Store:   breaker.NewRepository(dbClient.DB()),
		Logger:  logg,
		Metrics: gatewayMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create circuit breaker", err)
		os.Exit(1)
	}

	engine, err := orchestration.NewClient(cfg.Orchestration, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create orchestration client", err)
		os.Exit(1)
	}

	handler := routes.NewRouter(routes.RouterParams{
		Config:    cfg,
		Logger:    logg,
		DB:        dbClient,
		Redis:     redisClient,
		Gate:      gate,
		Meter:     meter,
		Circuits:  circuits,
		Engine:    engine,
		Fallbacks: orchestration.NewFallbackProvider(cfg.Orchestration),
		UsageRepo: usageRepo,
		Gatherer:  prometheus.DefaultGatherer,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting gateway server")

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "gateway server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-shutdownCtx.Done():
		logg.Info(ctx, "shutdown signal received")
		drainCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(drainCtx); err != nil {
			logg.Error(ctx, "gateway shutdown error", err)
		}
	}

	logg.Info(ctx, "gateway shut down gracefully")
}
