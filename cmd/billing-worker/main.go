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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fernandofuc/tistis-platform-sub016/internal/billing"
	"github.com/fernandofuc/tistis-platform-sub016/internal/breaker"
	"github.com/fernandofuc/tistis-platform-sub016/internal/cron"
	"github.com/fernandofuc/tistis-platform-sub016/internal/usage"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/config"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/db"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/logger"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/metrics"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/migrate"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/redis"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/stripe"
)

const lockKeyFormat = "billing-worker:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "billing-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "billing-worker"

	logg = logger.New(logger.Options{
		ServiceName: "billing-worker",
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

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe client", err)
		os.Exit(1)
	}

	reconciler, err := billing.NewReconciler(billing.ReconcilerParams{
		Usage:      usage.NewRepository(dbClient.DB()),
		Tenants:    billing.NewTenantStore(dbClient.DB()),
		Provider:   stripeClient,
		Logger:     logg,
		Currency:   cfg.Billing.Currency,
		BatchLimit: cfg.Billing.BatchLimit,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create billing reconciler", err)
		os.Exit(1)
	}

	billingJob, err := cron.NewMonthlyBillingJob(cron.MonthlyBillingJobParams{
		Logger:     logg,
		Reconciler: reconciler,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create billing job", err)
		os.Exit(1)
	}

	janitorJob, err := cron.NewBreakerJanitorJob(cron.BreakerJanitorJobParams{
		Logger:         logg,
		Store:          breaker.NewRepository(dbClient.DB()),
		StuckOpenAfter: cfg.Breaker.JanitorStuckOpenFor,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create breaker janitor job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create worker lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(billingJob, janitorJob),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Billing.ReconcileInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create worker service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting billing worker")

	startMetricsListener(ctx, logg)

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "billing worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "billing worker shutting down gracefully")
}

// startMetricsListener exposes /metrics on a side port so the worker is
// scrapeable without joining the API surface.
func startMetricsListener(ctx context.Context, logg *logger.Logger) {
	port := os.Getenv("METRICS_PORT")
	if port == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(drainCtx)
	}()
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "metrics listener stopped unexpectedly", err)
		}
	}()
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
