package config

import (
	"errors"
	"strings"
	"testing"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	cfg.DatabaseURL = "postgres://localhost/tasks"

	if err := Validate(cfg); err != nil {
		t.Errorf("valid config should not return error, got: %v", err)
	}
}

func TestValidate_MemoryStoreNeedsNoDatabase(t *testing.T) {
	cfg := Defaults()
	cfg.Store = "memory"

	if err := Validate(cfg); err != nil {
		t.Errorf("memory store should not require DATABASE_URL, got: %v", err)
	}
}

func TestValidate_MissingDatabaseURL(t *testing.T) {
	cfg := Config{TickIntervalStr: "1s"}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for missing DATABASE_URL")
	}
	if !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("error should mention DATABASE_URL: %q", err.Error())
	}
}

func TestValidate_InvalidDurations(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		field   string
		wantErr string
	}{
		{"tick non-parseable", func(c *Config) { c.TickIntervalStr = "invalid" }, "TICK_INTERVAL", "invalid duration"},
		{"tick negative", func(c *Config) { c.TickIntervalStr = "-1s" }, "TICK_INTERVAL", "must be positive"},
		{"tick zero", func(c *Config) { c.TickIntervalStr = "0s" }, "TICK_INTERVAL", "must be positive"},
		{"feed poll", func(c *Config) { c.FeedPollIntervalStr = "soon" }, "FEED_POLL_INTERVAL", "invalid duration"},
		{"dedup ttl", func(c *Config) { c.DedupTTLStr = "0" }, "DEDUP_TTL", "must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Store: "memory"}
			tt.mutate(&cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.field) || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should mention %s and %q", err.Error(), tt.field, tt.wantErr)
			}
		})
	}
}

func TestValidate_Enums(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"store", func(c *Config) { c.Store = "dynamo" }, "STORE"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "LOG_FORMAT"},
		{"schedule", func(c *Config) { c.RehydrateSchedule = "every five minutes" }, "REHYDRATE_SCHEDULE"},
		{"webhook", func(c *Config) { c.NotifyWebhookURL = "ftp://hooks" }, "NOTIFY_WEBHOOK_URL"},
		{"metrics path", func(c *Config) { c.MetricsPath = "metrics" }, "METRICS_PATH"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Store: "memory"}
			tt.mutate(&cfg)

			err := Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tt.field) {
				t.Errorf("expected error mentioning %s, got %v", tt.field, err)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Config{TickIntervalStr: "nope", LogFormat: "xml"}

	err := Validate(cfg)
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(verrs) != 3 {
		t.Errorf("expected 3 errors, got %d: %v", len(verrs), verrs)
	}
	if !strings.HasPrefix(err.Error(), "3 validation errors:") {
		t.Errorf("unexpected message: %q", err.Error())
	}
}
