package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ibra15-cyber/todo-backend/internal/cron"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch cfg.Store {
	case "", "postgres":
		if cfg.DatabaseURL == "" {
			add("DATABASE_URL", "required")
		}
	case "memory":
	default:
		add("STORE", "must be 'postgres' or 'memory', got %q", cfg.Store)
	}

	for _, d := range cfg.durations() {
		if *d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(*d.raw)
		if err != nil {
			add(d.key, "invalid duration: %v", err)
		} else if v <= 0 {
			add(d.key, "must be positive")
		}
	}

	if cfg.RehydrateSchedule != "" {
		if _, err := cron.NewParser().Parse(cfg.RehydrateSchedule, ""); err != nil {
			add("REHYDRATE_SCHEDULE", "%v", err)
		}
	}

	if cfg.NotifyWebhookURL != "" {
		u, err := url.Parse(cfg.NotifyWebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("NOTIFY_WEBHOOK_URL", "must be an absolute http(s) URL")
		}
	}

	if cfg.LogFormat != "" && cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		add("LOG_FORMAT", "must be 'json' or 'console', got %q", cfg.LogFormat)
	}

	if cfg.MetricsPath != "" && !strings.HasPrefix(cfg.MetricsPath, "/") {
		add("METRICS_PATH", "must start with '/'")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
