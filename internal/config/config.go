package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds all configuration for the taskexpiry engine.
// Values come from defaults, then the optional CONFIG_FILE, then environment
// variables. Durations are kept as strings until Load parses them.
type Config struct {
	Store       string `yaml:"store" json:"store"` // "postgres" or "memory"
	DatabaseURL string `yaml:"database_url" json:"database_url"`
	DBMigrate   bool   `yaml:"db_migrate" json:"db_migrate"`
	RedisAddr   string `yaml:"redis_addr" json:"redis_addr,omitempty"`
	HTTPAddr    string `yaml:"http_addr" json:"http_addr"`

	DBOpTimeoutStr       string `yaml:"db_op_timeout" json:"db_op_timeout"`
	DBMaxOpenConns       int    `yaml:"db_max_open_conns" json:"db_max_open_conns"`
	DBMaxIdleConns       int    `yaml:"db_max_idle_conns" json:"db_max_idle_conns"`
	DBConnMaxLifetimeStr string `yaml:"db_conn_max_lifetime" json:"db_conn_max_lifetime"`
	DBConnMaxIdleTimeStr string `yaml:"db_conn_max_idle_time" json:"db_conn_max_idle_time"`

	HTTPShutdownTimeoutStr string `yaml:"http_shutdown_timeout" json:"http_shutdown_timeout"`

	TickIntervalStr     string `yaml:"tick_interval" json:"tick_interval"`
	FeedPollIntervalStr string `yaml:"feed_poll_interval" json:"feed_poll_interval"`
	FireBusBufferSize   int    `yaml:"fire_bus_buffer_size" json:"fire_bus_buffer_size"`
	DedupTTLStr         string `yaml:"dedup_ttl" json:"dedup_ttl"`

	RouterShards          int    `yaml:"router_shards" json:"router_shards"`
	RouterQueueSize       int    `yaml:"router_queue_size" json:"router_queue_size"`
	RouterRetryMax        int    `yaml:"router_retry_max" json:"router_retry_max"`
	RouterDrainTimeoutStr string `yaml:"router_drain_timeout" json:"router_drain_timeout"`

	ExecutorWorkers         int    `yaml:"executor_workers" json:"executor_workers"`
	ExecutorMaxAttempts     int    `yaml:"executor_max_attempts" json:"executor_max_attempts"`
	ExecutorDrainTimeoutStr string `yaml:"executor_drain_timeout" json:"executor_drain_timeout"`

	NotifyWebhookURL        string `yaml:"notify_webhook_url" json:"notify_webhook_url,omitempty"`
	NotifyWebhookSecret     string `yaml:"notify_webhook_secret" json:"notify_webhook_secret,omitempty"`
	NotifyWebhookTimeoutStr string `yaml:"notify_webhook_timeout" json:"notify_webhook_timeout"`
	NotifyWorkers           int    `yaml:"notify_workers" json:"notify_workers"`
	NotifyQueueSize         int    `yaml:"notify_queue_size" json:"notify_queue_size"`
	NotifyRatePerSec        int    `yaml:"notify_rate_per_sec" json:"notify_rate_per_sec"`
	NotifyRetryMax          int    `yaml:"notify_retry_max" json:"notify_retry_max"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int    `yaml:"circuit_breaker_threshold" json:"circuit_breaker_threshold"`
	CircuitBreakerCooldownStr string `yaml:"circuit_breaker_cooldown" json:"circuit_breaker_cooldown"`

	// RehydrateSchedule is a cron spec or descriptor such as "@every 5m".
	RehydrateSchedule  string `yaml:"rehydrate_schedule" json:"rehydrate_schedule"`
	RehydrateBatchSize int    `yaml:"rehydrate_batch_size" json:"rehydrate_batch_size"`

	// LeaderLockKey: all instances sharing the same database must use the same key.
	LeaderLockKey              int64  `yaml:"leader_lock_key" json:"leader_lock_key"`
	LeaderRetryIntervalStr     string `yaml:"leader_retry_interval" json:"leader_retry_interval"`
	LeaderHeartbeatIntervalStr string `yaml:"leader_heartbeat_interval" json:"leader_heartbeat_interval"`

	MetricsEnabled bool   `yaml:"metrics_enabled" json:"metrics_enabled"`
	MetricsPath    string `yaml:"metrics_path" json:"metrics_path"`

	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`

	// Parsed durations, filled by Load.
	DBOpTimeout             time.Duration `yaml:"-" json:"-"`
	DBConnMaxLifetime       time.Duration `yaml:"-" json:"-"`
	DBConnMaxIdleTime       time.Duration `yaml:"-" json:"-"`
	HTTPShutdownTimeout     time.Duration `yaml:"-" json:"-"`
	TickInterval            time.Duration `yaml:"-" json:"-"`
	FeedPollInterval        time.Duration `yaml:"-" json:"-"`
	DedupTTL                time.Duration `yaml:"-" json:"-"`
	RouterDrainTimeout      time.Duration `yaml:"-" json:"-"`
	ExecutorDrainTimeout    time.Duration `yaml:"-" json:"-"`
	NotifyWebhookTimeout    time.Duration `yaml:"-" json:"-"`
	CircuitBreakerCooldown  time.Duration `yaml:"-" json:"-"`
	LeaderRetryInterval     time.Duration `yaml:"-" json:"-"`
	LeaderHeartbeatInterval time.Duration `yaml:"-" json:"-"`

	// File is the overlay file that was applied, if any.
	File string `yaml:"-" json:"config_file,omitempty"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Store:                      "postgres",
		HTTPAddr:                   ":8080",
		DBOpTimeoutStr:             "5s",
		DBMaxOpenConns:             25,
		DBMaxIdleConns:             5,
		DBConnMaxLifetimeStr:       "30m",
		DBConnMaxIdleTimeStr:       "5m",
		HTTPShutdownTimeoutStr:     "10s",
		TickIntervalStr:            "1s",
		FeedPollIntervalStr:        "500ms",
		FireBusBufferSize:          100,
		DedupTTLStr:                "24h",
		RouterShards:               8,
		RouterQueueSize:            256,
		RouterRetryMax:             5,
		RouterDrainTimeoutStr:      "30s",
		ExecutorWorkers:            4,
		ExecutorMaxAttempts:        5,
		ExecutorDrainTimeoutStr:    "30s",
		NotifyWebhookTimeoutStr:    "10s",
		NotifyWorkers:              2,
		NotifyQueueSize:            512,
		NotifyRatePerSec:           10,
		NotifyRetryMax:             3,
		CircuitBreakerThreshold:    5,
		CircuitBreakerCooldownStr:  "2m",
		RehydrateSchedule:          "@every 5m",
		RehydrateBatchSize:         500,
		LeaderLockKey:              728379,
		LeaderRetryIntervalStr:     "5s",
		LeaderHeartbeatIntervalStr: "2s",
		MetricsPath:                "/metrics",
		LogLevel:                   "info",
		LogFormat:                  "json",
	}
}

// Load builds the configuration: defaults, then CONFIG_FILE, then the
// environment. A broken overlay file is logged and skipped; Validate reports
// malformed values.
func Load() Config {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			log.Error().Err(err).Str("component", "config").Str("path", path).Msg("config: overlay file ignored")
		} else {
			cfg.File = path
		}
	}

	applyEnv(&cfg)
	cfg.parseDurations()
	return cfg
}

func applyEnv(cfg *Config) {
	envString("STORE", &cfg.Store)
	envString("DATABASE_URL", &cfg.DatabaseURL)
	envBool("DB_AUTO_MIGRATE", &cfg.DBMigrate)
	envString("REDIS_ADDR", &cfg.RedisAddr)

	// Railway-style PORT is a fallback for HTTP_ADDR.
	if port := os.Getenv("PORT"); port != "" && os.Getenv("HTTP_ADDR") == "" {
		cfg.HTTPAddr = ":" + port
	}
	envString("HTTP_ADDR", &cfg.HTTPAddr)

	envString("DB_OP_TIMEOUT", &cfg.DBOpTimeoutStr)
	envInt("DB_MAX_OPEN_CONNS", &cfg.DBMaxOpenConns)
	envInt("DB_MAX_IDLE_CONNS", &cfg.DBMaxIdleConns)
	envString("DB_CONN_MAX_LIFETIME", &cfg.DBConnMaxLifetimeStr)
	envString("DB_CONN_MAX_IDLE_TIME", &cfg.DBConnMaxIdleTimeStr)
	envString("HTTP_SHUTDOWN_TIMEOUT", &cfg.HTTPShutdownTimeoutStr)

	envString("TICK_INTERVAL", &cfg.TickIntervalStr)
	envString("FEED_POLL_INTERVAL", &cfg.FeedPollIntervalStr)
	envInt("FIRE_BUS_BUFFER_SIZE", &cfg.FireBusBufferSize)
	envString("DEDUP_TTL", &cfg.DedupTTLStr)

	envInt("ROUTER_SHARDS", &cfg.RouterShards)
	envInt("ROUTER_QUEUE_SIZE", &cfg.RouterQueueSize)
	envInt("ROUTER_RETRY_MAX", &cfg.RouterRetryMax)
	envString("ROUTER_DRAIN_TIMEOUT", &cfg.RouterDrainTimeoutStr)

	envInt("EXECUTOR_WORKERS", &cfg.ExecutorWorkers)
	envInt("EXECUTOR_MAX_ATTEMPTS", &cfg.ExecutorMaxAttempts)
	envString("EXECUTOR_DRAIN_TIMEOUT", &cfg.ExecutorDrainTimeoutStr)

	envString("NOTIFY_WEBHOOK_URL", &cfg.NotifyWebhookURL)
	envString("NOTIFY_WEBHOOK_SECRET", &cfg.NotifyWebhookSecret)
	envString("NOTIFY_WEBHOOK_TIMEOUT", &cfg.NotifyWebhookTimeoutStr)
	envInt("NOTIFY_WORKERS", &cfg.NotifyWorkers)
	envInt("NOTIFY_QUEUE_SIZE", &cfg.NotifyQueueSize)
	envInt("NOTIFY_RATE_PER_SEC", &cfg.NotifyRatePerSec)
	envInt("NOTIFY_RETRY_MAX", &cfg.NotifyRetryMax)

	envInt("CIRCUIT_BREAKER_THRESHOLD", &cfg.CircuitBreakerThreshold)
	envString("CIRCUIT_BREAKER_COOLDOWN", &cfg.CircuitBreakerCooldownStr)

	envString("REHYDRATE_SCHEDULE", &cfg.RehydrateSchedule)
	envInt("REHYDRATE_BATCH_SIZE", &cfg.RehydrateBatchSize)

	if v := os.Getenv("LEADER_LOCK_KEY"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.LeaderLockKey = n
		} else {
			log.Warn().Str("component", "config").Str("value", v).Msg("config: invalid LEADER_LOCK_KEY, keeping previous value")
		}
	}
	envString("LEADER_RETRY_INTERVAL", &cfg.LeaderRetryIntervalStr)
	envString("LEADER_HEARTBEAT_INTERVAL", &cfg.LeaderHeartbeatIntervalStr)

	envBool("METRICS_ENABLED", &cfg.MetricsEnabled)
	envString("METRICS_PATH", &cfg.MetricsPath)
	envString("LOG_LEVEL", &cfg.LogLevel)
	envString("LOG_FORMAT", &cfg.LogFormat)
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1"
	}
}

// envInt accepts non-negative integers. Anything else is logged and the
// previous value kept.
func envInt(key string, dst *int) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		log.Warn().Str("component", "config").Str("key", key).Str("value", v).Int("kept", *dst).
			Msg("config: invalid integer, keeping previous value")
		return
	}
	*dst = n
}

// parseDurations fills the parsed duration fields; validation is handled
// separately by Validate().
func (c *Config) parseDurations() {
	for _, d := range c.durations() {
		if v, err := time.ParseDuration(*d.raw); err == nil {
			*d.parsed = v
		}
	}
}

type durationField struct {
	key    string
	raw    *string
	parsed *time.Duration
}

func (c *Config) durations() []durationField {
	return []durationField{
		{"DB_OP_TIMEOUT", &c.DBOpTimeoutStr, &c.DBOpTimeout},
		{"DB_CONN_MAX_LIFETIME", &c.DBConnMaxLifetimeStr, &c.DBConnMaxLifetime},
		{"DB_CONN_MAX_IDLE_TIME", &c.DBConnMaxIdleTimeStr, &c.DBConnMaxIdleTime},
		{"HTTP_SHUTDOWN_TIMEOUT", &c.HTTPShutdownTimeoutStr, &c.HTTPShutdownTimeout},
		{"TICK_INTERVAL", &c.TickIntervalStr, &c.TickInterval},
		{"FEED_POLL_INTERVAL", &c.FeedPollIntervalStr, &c.FeedPollInterval},
		{"DEDUP_TTL", &c.DedupTTLStr, &c.DedupTTL},
		{"ROUTER_DRAIN_TIMEOUT", &c.RouterDrainTimeoutStr, &c.RouterDrainTimeout},
		{"EXECUTOR_DRAIN_TIMEOUT", &c.ExecutorDrainTimeoutStr, &c.ExecutorDrainTimeout},
		{"NOTIFY_WEBHOOK_TIMEOUT", &c.NotifyWebhookTimeoutStr, &c.NotifyWebhookTimeout},
		{"CIRCUIT_BREAKER_COOLDOWN", &c.CircuitBreakerCooldownStr, &c.CircuitBreakerCooldown},
		{"LEADER_RETRY_INTERVAL", &c.LeaderRetryIntervalStr, &c.LeaderRetryInterval},
		{"LEADER_HEARTBEAT_INTERVAL", &c.LeaderHeartbeatIntervalStr, &c.LeaderHeartbeatInterval},
	}
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	c.DatabaseURL = maskSecret(c.DatabaseURL)
	c.NotifyWebhookSecret = maskSecret(c.NotifyWebhookSecret)
	return json.MarshalIndent(c, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(s, scheme) {
			return scheme + "***"
		}
	}
	return "***"
}
