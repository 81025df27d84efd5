package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ibra15-cyber/todo-backend/internal/api"
	"github.com/ibra15-cyber/todo-backend/internal/circuitbreaker"
	"github.com/ibra15-cyber/todo-backend/internal/config"
	"github.com/ibra15-cyber/todo-backend/internal/cron"
	"github.com/ibra15-cyber/todo-backend/internal/dedup"
	"github.com/ibra15-cyber/todo-backend/internal/engine"
	"github.com/ibra15-cyber/todo-backend/internal/expiry"
	"github.com/ibra15-cyber/todo-backend/internal/leaderelection"
	"github.com/ibra15-cyber/todo-backend/internal/logging"
	"github.com/ibra15-cyber/todo-backend/internal/metrics"
	"github.com/ibra15-cyber/todo-backend/internal/notifier"
	"github.com/ibra15-cyber/todo-backend/internal/reconciler"
	"github.com/ibra15-cyber/todo-backend/internal/router"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the expiry engine",
	RunE:  runServe,
}

// loadConfig loads, validates and applies the logging section.
func loadConfig() (config.Config, error) {
	cfg := config.Load()
	if err := config.Validate(cfg); err != nil {
		return cfg, invalidConfig(err)
	}
	logging.Setup(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logConfigWarnings(&cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	deps := engine.Deps{
		Store: b.store,
		Lock:  b.lock,
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		rs := dedup.NewRedisStore(client, cfg.DedupTTL)
		if err := rs.Ping(ctx); err != nil {
			log.Warn().Err(err).Str("component", "taskexpiry").Str("redis", cfg.RedisAddr).
				Msg("taskexpiry: redis unreachable, falling back to in-memory dedup")
		} else {
			deps.Dedup = rs
			log.Info().Str("component", "taskexpiry").Str("redis", cfg.RedisAddr).Msg("taskexpiry: shared dedup enabled")
		}
	}

	if cfg.NotifyWebhookURL != "" {
		deps.Sender = notifier.NewWebhookSender(cfg.NotifyWebhookURL, cfg.NotifyWebhookSecret, cfg.NotifyWebhookTimeout)
	}
	if cfg.CircuitBreakerThreshold > 0 {
		deps.Breaker = circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	}

	mux := http.NewServeMux()
	if cfg.MetricsEnabled {
		deps.Metrics = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		mux.Handle(cfg.MetricsPath, promhttp.Handler())
		log.Info().Str("component", "taskexpiry").Str("path", cfg.MetricsPath).Msg("taskexpiry: metrics enabled")
	}

	engineConfig, err := buildEngineConfig(cfg)
	if err != nil {
		return invalidConfig(err)
	}
	eng := engine.New(engineConfig, deps)

	apiHandler := api.NewHandler(b.store).WithNotifier(eng.Notifier())
	if b.db != nil {
		apiHandler = apiHandler.WithHealthChecker(b.db)
	}
	mux.Handle("/", apiHandler)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}
	go func() {
		log.Info().Str("component", "taskexpiry").Str("addr", cfg.HTTPAddr).Msg("taskexpiry: http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("component", "taskexpiry").Msg("taskexpiry: http server error")
			stop()
		}
	}()

	log.Info().
		Str("component", "taskexpiry").
		Str("version", version).
		Str("store", cfg.Store).
		Dur("tick", cfg.TickInterval).
		Str("http", cfg.HTTPAddr).
		Msg("taskexpiry: started")

	// Returns once ctx is done and the engine has drained, in order:
	// leader duties, executor, notifier.
	eng.Run(ctx, cfg.ExecutorDrainTimeout)

	log.Info().Str("component", "taskexpiry").Msg("taskexpiry: stopping http server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Str("component", "taskexpiry").Msg("taskexpiry: http server shutdown error")
	}

	log.Info().Str("component", "taskexpiry").Msg("taskexpiry: stopped")
	return nil
}

// buildEngineConfig maps the flat configuration onto the engine's components.
func buildEngineConfig(cfg config.Config) (engine.Config, error) {
	schedule, err := cron.NewParser().Parse(cfg.RehydrateSchedule, "")
	if err != nil {
		return engine.Config{}, err
	}

	rc := router.DefaultConfig()
	rc.Shards = cfg.RouterShards
	rc.QueueSize = cfg.RouterQueueSize
	rc.RetryMax = cfg.RouterRetryMax
	rc.DrainTimeout = cfg.RouterDrainTimeout

	return engine.Config{
		TickInterval:      cfg.TickInterval,
		FireBusBufferSize: cfg.FireBusBufferSize,
		DedupTTL:          cfg.DedupTTL,
		Router:            rc,
		Executor: expiry.Config{
			Workers:      cfg.ExecutorWorkers,
			MaxAttempts:  cfg.ExecutorMaxAttempts,
			OpTimeout:    cfg.DBOpTimeout,
			DrainTimeout: cfg.ExecutorDrainTimeout,
		},
		Notifier: notifier.Config{
			Workers:    cfg.NotifyWorkers,
			QueueSize:  cfg.NotifyQueueSize,
			RatePerSec: cfg.NotifyRatePerSec,
			RetryMax:   cfg.NotifyRetryMax,
		},
		Reconciler: reconciler.Config{
			Schedule:  schedule,
			BatchSize: cfg.RehydrateBatchSize,
		},
		Leader: leaderelection.Config{
			RetryInterval:     cfg.LeaderRetryInterval,
			HeartbeatInterval: cfg.LeaderHeartbeatInterval,
		},
	}, nil
}
