package api

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ibra15-cyber/todo-backend/internal/domain"
)

const maxDescriptionLength = 1024

// Deadlines without a zone are read as UTC.
var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseDeadline accepts RFC 3339 with "Z" or an offset, or a zoneless ISO
// timestamp, and returns the instant in UTC.
func parseDeadline(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("deadline is required")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range zonelessLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid deadline format %q, use ISO 8601", s)
}

func validateCreateTask(req CreateTaskRequest) (time.Time, error) {
	if strings.TrimSpace(req.Description) == "" || strings.TrimSpace(req.Deadline) == "" {
		return time.Time{}, errors.New("description and deadline are required")
	}
	if len(req.Description) > maxDescriptionLength {
		return time.Time{}, fmt.Errorf("description exceeds %d characters", maxDescriptionLength)
	}
	return parseDeadline(req.Deadline)
}

// applyUpdate returns task with the requested fields changed.
func applyUpdate(task domain.Task, req UpdateTaskRequest) (domain.Task, error) {
	if req.Description == nil && req.Status == nil && req.Deadline == nil {
		return task, errors.New("no fields to update")
	}

	if req.Description != nil {
		if strings.TrimSpace(*req.Description) == "" {
			return task, errors.New("description must not be empty")
		}
		if len(*req.Description) > maxDescriptionLength {
			return task, fmt.Errorf("description exceeds %d characters", maxDescriptionLength)
		}
		task.Description = *req.Description
	}

	if req.Status != nil {
		status := domain.TaskStatus(*req.Status)
		if status != domain.TaskStatusPending && status != domain.TaskStatusCompleted {
			return task, fmt.Errorf("status must be %q or %q", domain.TaskStatusPending, domain.TaskStatusCompleted)
		}
		task.Status = status
	}

	if req.Deadline != nil {
		deadline, err := parseDeadline(*req.Deadline)
		if err != nil {
			return task, err
		}
		task.Deadline = deadline
	}

	return task, nil
}
