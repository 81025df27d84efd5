package cron

import (
	"testing"
	"time"
)

func TestParser_ValidExpressions(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"every 5 minutes", "*/5 * * * *"},
		{"hourly", "0 * * * *"},
		{"nightly 2:30am", "30 2 * * *"},
		{"every descriptor", "@every 5m"},
		{"hourly descriptor", "@hourly"},
		{"daily descriptor", "@daily"},
		{"bare duration", "15m"},
		{"padded", "  @every 1h  "},
	}

	p := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched, err := p.Parse(tt.expr, "UTC")
			if err != nil {
				t.Errorf("Parse(%q) returned error: %v", tt.expr, err)
			}
			if sched == nil {
				t.Errorf("Parse(%q) returned nil schedule", tt.expr)
			}
		})
	}
}

func TestParser_InvalidExpressions(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"four fields", "* * * *"},
		{"six fields", "* * * * * *"},
		{"invalid minute 60", "60 * * * *"},
		{"empty", ""},
		{"bad every duration", "@every soon"},
		{"unknown descriptor", "@fortnightly"},
		{"zero interval", "0s"},
		{"negative interval", "-5m"},
		{"blank", "   "},
	}

	p := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := p.Parse(tt.expr, "UTC"); err == nil {
				t.Errorf("Parse(%q) should fail", tt.expr)
			}
		})
	}
}

func TestParser_InvalidTimezone(t *testing.T) {
	if _, err := NewParser().Parse("@hourly", "Invalid/Zone"); err == nil {
		t.Error("expected error for unknown timezone")
	}
}

func TestParser_EmptyTimezoneIsUTC(t *testing.T) {
	sched, err := NewParser().Parse("0 10 * * *", "")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	after := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	want := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	if next := sched.Next(after); !next.Equal(want) {
		t.Errorf("Next(%v) = %v, want %v", after, next, want)
	}
}

func TestParser_EveryDescriptor(t *testing.T) {
	sched, err := NewParser().Parse("@every 5m", "UTC")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	after := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	if next := sched.Next(after); !next.Equal(after.Add(5 * time.Minute)) {
		t.Errorf("Next(%v) = %v, want +5m", after, next)
	}
}

func TestParser_NextInTimezone(t *testing.T) {
	sched, err := NewParser().Parse("0 10 * * *", "Asia/Tokyo")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	// 10:00 JST is 01:00 UTC.
	ref := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	want := time.Date(2024, 6, 15, 1, 0, 0, 0, time.UTC)
	if next := sched.Next(ref); !next.Equal(want) {
		t.Errorf("Next(%v) = %v, want %v", ref, next.UTC(), want)
	}
}

func TestParser_BareDuration(t *testing.T) {
	sched, err := NewParser().Parse("250ms", "")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	after := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	if next := sched.Next(after); !next.Equal(after.Add(250 * time.Millisecond)) {
		t.Errorf("Next(%v) = %v, want +250ms", after, next)
	}
}
