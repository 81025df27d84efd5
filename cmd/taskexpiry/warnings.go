package main

import (
	"github.com/rs/zerolog/log"

	"github.com/ibra15-cyber/todo-backend/internal/config"
)

// logConfigWarnings logs operator warnings for configurations that are valid
// but risky in production.
func logConfigWarnings(cfg *config.Config) {
	if cfg.Store == "memory" {
		log.Warn().Str("component", "taskexpiry").
			Msg("WARNING [P0]: STORE=memory. Tasks, triggers and the change feed live in process memory and are lost on restart. Use STORE=postgres outside development.")
	}

	if cfg.NotifyWebhookURL != "" && cfg.NotifyWebhookSecret == "" {
		log.Warn().Str("component", "taskexpiry").
			Msg("WARNING [P1]: NOTIFY_WEBHOOK_URL is set without NOTIFY_WEBHOOK_SECRET. Notifications are sent unsigned.")
	}

	if !cfg.MetricsEnabled {
		log.Warn().Str("component", "taskexpiry").
			Msg("WARNING [P1]: METRICS_ENABLED=false. Fire lag, expiry outcomes and dead letters are not observable.")
	}

	if cfg.NotifyWebhookURL == "" {
		log.Info().Str("component", "taskexpiry").
			Msg("INFO: NOTIFY_WEBHOOK_URL not set. Notifications are written to the log only.")
	} else if cfg.CircuitBreakerThreshold <= 0 {
		log.Info().Str("component", "taskexpiry").
			Msg("INFO: CIRCUIT_BREAKER_THRESHOLD=0. A failing webhook is retried on every notification.")
	}

	if cfg.Store == "postgres" && cfg.RedisAddr == "" {
		log.Info().Str("component", "taskexpiry").
			Msg("INFO: REDIS_ADDR not set. Change-event dedup is per instance; a new leader may re-apply events the previous leader already handled.")
	}
}
