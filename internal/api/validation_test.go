package api

import (
	"strings"
	"testing"
	"time"

	"github.com/ibra15-cyber/todo-backend/internal/domain"
)

func TestParseDeadline(t *testing.T) {
	want := time.Date(2025, 9, 29, 18, 56, 0, 0, time.UTC)

	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{"zulu with millis", "2025-09-29T18:56:00.000Z", want},
		{"zulu", "2025-09-29T18:56:00Z", want},
		{"utc offset", "2025-09-29T18:56:00+00:00", want},
		{"positive offset", "2025-09-29T20:56:00+02:00", want},
		{"negative offset", "2025-09-29T13:56:00-05:00", want},
		{"no zone", "2025-09-29T18:56:00", want},
		{"no seconds", "2025-09-29T18:56", want},
		{"space separator", "2025-09-29 18:56:00", want},
		{"date only", "2025-09-29", time.Date(2025, 9, 29, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDeadline(tt.input)
			if err != nil {
				t.Fatalf("parseDeadline(%q): %v", tt.input, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("parseDeadline(%q) = %v, want %v", tt.input, got, tt.want)
			}
			if got.Location() != time.UTC {
				t.Errorf("result should be UTC, got %v", got.Location())
			}
		})
	}
}

func TestParseDeadline_Invalid(t *testing.T) {
	for _, input := range []string{"", "tomorrow", "29/09/2025", "2025-13-01T00:00:00Z"} {
		if _, err := parseDeadline(input); err == nil {
			t.Errorf("parseDeadline(%q) should fail", input)
		}
	}
}

func TestValidateCreateTask(t *testing.T) {
	tests := []struct {
		name    string
		req     CreateTaskRequest
		wantErr string
	}{
		{"valid", CreateTaskRequest{Description: "buy milk", Deadline: "2025-09-29T18:56:00Z"}, ""},
		{"missing description", CreateTaskRequest{Deadline: "2025-09-29T18:56:00Z"}, "required"},
		{"missing deadline", CreateTaskRequest{Description: "buy milk"}, "required"},
		{"bad deadline", CreateTaskRequest{Description: "buy milk", Deadline: "soon"}, "invalid deadline"},
		{"too long", CreateTaskRequest{Description: strings.Repeat("x", maxDescriptionLength+1), Deadline: "2025-09-29"}, "exceeds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validateCreateTask(tt.req)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %v should contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestApplyUpdate(t *testing.T) {
	base := domain.Task{
		OwnerID:     "u1",
		TaskID:      "t1",
		Description: "old",
		Deadline:    time.Date(2025, 9, 29, 0, 0, 0, 0, time.UTC),
		Status:      domain.TaskStatusPending,
	}
	str := func(s string) *string { return &s }

	t.Run("no fields", func(t *testing.T) {
		if _, err := applyUpdate(base, UpdateTaskRequest{}); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("complete", func(t *testing.T) {
		got, err := applyUpdate(base, UpdateTaskRequest{Status: str("Completed")})
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != domain.TaskStatusCompleted || got.Description != "old" {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("expired is not settable", func(t *testing.T) {
		if _, err := applyUpdate(base, UpdateTaskRequest{Status: str("Expired")}); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("deadline and description", func(t *testing.T) {
		got, err := applyUpdate(base, UpdateTaskRequest{Description: str("new"), Deadline: str("2025-10-01T08:00:00+02:00")})
		if err != nil {
			t.Fatal(err)
		}
		if got.Description != "new" || !got.Deadline.Equal(time.Date(2025, 10, 1, 6, 0, 0, 0, time.UTC)) {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("empty description", func(t *testing.T) {
		if _, err := applyUpdate(base, UpdateTaskRequest{Description: str("  ")}); err == nil {
			t.Error("expected error")
		}
	})
}
