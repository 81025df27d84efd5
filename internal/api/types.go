package api

import (
	"time"

	"github.com/ibra15-cyber/todo-backend/internal/domain"
)

type CreateTaskRequest struct {
	Description string `json:"description"`
	Deadline    string `json:"deadline"`
}

// UpdateTaskRequest carries optional fields; nil means unchanged.
type UpdateTaskRequest struct {
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
	Deadline    *string `json:"deadline,omitempty"`
}

type WelcomeRequest struct {
	Email string `json:"email,omitempty"`
}

type TaskResponse struct {
	TaskID      string `json:"task_id"`
	OwnerID     string `json:"owner_id"`
	Description string `json:"description"`
	Deadline    string `json:"deadline"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
	Version     string `json:"version"`
}

type ListTasksResponse struct {
	Tasks []TaskResponse `json:"tasks"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

func toTaskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		TaskID:      t.TaskID,
		OwnerID:     t.OwnerID,
		Description: t.Description,
		Deadline:    formatTime(t.Deadline),
		Status:      string(t.Status),
		CreatedAt:   formatTime(t.CreatedAt),
		UpdatedAt:   formatTime(t.UpdatedAt),
		Version:     t.Version,
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
