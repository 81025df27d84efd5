package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{" error ", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSetup_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(Config{Level: "info", Format: "json", Output: &buf})

	logger.Debug().Msg("hidden")
	logger.Info().Str("task", "t1").Msg("scheduler: armed")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("expected a single JSON line, got %q: %v", buf.String(), err)
	}
	if line["message"] != "scheduler: armed" {
		t.Errorf("message = %v", line["message"])
	}
	if line["task"] != "t1" {
		t.Errorf("task = %v", line["task"])
	}
}

func TestComponent_AddsField(t *testing.T) {
	var buf bytes.Buffer
	Setup(Config{Level: "debug", Output: &buf})

	l := Component("router")
	l.Info().Msg("started")

	if !bytes.Contains(buf.Bytes(), []byte(`"component":"router"`)) {
		t.Errorf("component field missing: %s", buf.String())
	}
}
