// Command authcore-janitor runs the authcore maintenance tasks on a timer:
// it purges expired refresh tokens and expired revocation entries, and
// serves /metrics and /healthz for the process.
//
// Configuration is read from the environment (and an optional .env
// file). JWT_SECRET is required because the engine refuses to build
// without a signing key.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/credential/postgres"
	"github.com/MrEthical07/authcore/metrics/export/prometheus"
	"github.com/MrEthical07/authcore/notify/natsbus"
	"github.com/MrEthical07/authcore/scheduler"
)

func main() {
	_ = godotenv.Load()

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.slogLevel()}))

	if err := run(cfg, logger); err != nil {
		logger.Error("janitor stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.Environment,
			AttachStacktrace: true,
		}); err != nil {
			logger.Error("init sentry", slog.Any("error", err))
		}
		defer sentry.Flush(2 * time.Second)
	}

	db, err := postgres.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.Database.Migrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	engineCfg := authcore.DefaultConfig()
	engineCfg.JWT.Secret = []byte(cfg.JWT.Secret)
	engineCfg.JWT.Issuer = cfg.JWT.Issuer
	engineCfg.Cleanup.Interval = cfg.Cleanup.Interval
	engineCfg.Cleanup.Timeout = cfg.Cleanup.Timeout
	engineCfg.KeyPrefix = cfg.KeyPrefix

	builder := authcore.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithCredentialStore(postgres.NewStore(db)).
		WithLogger(logger)

	if cfg.NATS.URL != "" {
		nc, err := natsbus.Connect(cfg.NATS.URL, "authcore-janitor")
		if err != nil {
			return err
		}
		defer nc.Drain()
		builder = builder.WithAuditSink(natsbus.NewAuditSink(nc, cfg.NATS.Subject, logger))
	} else {
		builder = builder.WithAuditSink(authcore.NewSlogSink(logger))
	}

	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	sched := scheduler.New(logger, func(task string, err error) {
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("task", task)
			sentry.CaptureException(err)
		})
	})
	for _, task := range engine.CleanupTasks() {
		if err := sched.Register(task); err != nil {
			return err
		}
	}

	if cfg.Cleanup.RunOnStart {
		if err := sched.RunAll(ctx); err != nil {
			logger.WarnContext(ctx, "initial cleanup", slog.Any("error", err))
		}
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           newMux(engine, sched),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("janitor started", slog.String("metrics_addr", cfg.MetricsAddr), slog.Duration("interval", cfg.Cleanup.Interval))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type healthChecker interface {
	Health(ctx context.Context) authcore.HealthStatus
}

type taskStats interface {
	Stats() map[string]scheduler.Stats
}

func newMux(engine *authcore.Engine, sched taskStats) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", prometheus.NewPrometheusExporter(engine).Handler())
	mux.Handle("GET /healthz", healthHandler(engine, sched))
	return mux
}

func healthHandler(hc healthChecker, sched taskStats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := hc.Health(r.Context())
		status := http.StatusOK
		if !h.RedisAvailable {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{
			"redis":         h.RedisAvailable,
			"redis_latency": h.RedisLatency.String(),
			"tasks":         sched.Stats(),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
