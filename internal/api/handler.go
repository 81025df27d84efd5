// Package api exposes the thin task handlers. Every mutation goes through the
// record store, so the expiry engine sees it on the change feed like any
// other write.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ibra15-cyber/todo-backend/internal/domain"
)

// OwnerHeader carries the authenticated owner ID set by the fronting proxy.
const OwnerHeader = "X-Owner-ID"

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

type Store interface {
	Get(ctx context.Context, key domain.TaskKey) (domain.Task, error)
	Put(ctx context.Context, task domain.Task, expectedVersion string) (domain.Task, error)
	Remove(ctx context.Context, key domain.TaskKey, expectedVersion string) error
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Task, error)
}

type Notifier interface {
	Notify(ctx context.Context, ownerID string, kind domain.NotificationKind, details map[string]string)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	store    Store
	notifier Notifier
	db       HealthChecker
	newID    func() string
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store, newID: uuid.NewString}
}

// WithNotifier enables the welcome endpoint.
func (h *Handler) WithNotifier(n Notifier) *Handler {
	h.notifier = n
	return h
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Max-Age", "86400")
		writeJSON(w, http.StatusOK, MessageResponse{Message: "CORS preflight handled"})
		return
	}

	path := strings.TrimSuffix(r.URL.Path, "/")
	if path == "/health" && r.Method == http.MethodGet {
		h.health(w, r)
		return
	}

	owner := strings.TrimSpace(r.Header.Get(OwnerHeader))
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "missing "+OwnerHeader)
		return
	}

	switch {
	case path == "/tasks" && r.Method == http.MethodPost:
		h.createTask(w, r, owner)

	case path == "/tasks" && r.Method == http.MethodGet:
		h.listTasks(w, r, owner)

	case path == "/owners/welcome" && r.Method == http.MethodPost:
		h.welcome(w, r, owner)

	case strings.HasPrefix(path, "/tasks/"):
		taskID := strings.TrimPrefix(path, "/tasks/")
		if taskID == "" || strings.Contains(taskID, "/") {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		key := domain.TaskKey{OwnerID: owner, TaskID: taskID}

		switch r.Method {
		case http.MethodGet:
			h.getTask(w, r, key)
		case http.MethodPatch, http.MethodPut:
			h.updateTask(w, r, key)
		case http.MethodDelete:
			h.deleteTask(w, r, key)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+OwnerHeader)
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"
	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, resp)
}

func (h *Handler) createTask(w http.ResponseWriter, r *http.Request, owner string) {
	var req CreateTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}

	deadline, err := validateCreateTask(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	task := domain.Task{
		OwnerID:     owner,
		TaskID:      h.newID(),
		Description: req.Description,
		Deadline:    deadline,
		Status:      domain.TaskStatusPending,
	}

	stored, err := h.store.Put(r.Context(), task, "")
	if err != nil {
		log.Error().Err(err).Str("component", "api").Str("key", task.Key().String()).Msg("api: create task failed")
		writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}

	writeJSON(w, http.StatusCreated, toTaskResponse(stored))
}

func (h *Handler) listTasks(w http.ResponseWriter, r *http.Request, owner string) {
	tasks, err := h.store.ListByOwner(r.Context(), owner)
	if err != nil {
		log.Error().Err(err).Str("component", "api").Str("owner", owner).Msg("api: list tasks failed")
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}

	resp := ListTasksResponse{Tasks: make([]TaskResponse, len(tasks))}
	for i, t := range tasks {
		resp.Tasks[i] = toTaskResponse(t)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getTask(w http.ResponseWriter, r *http.Request, key domain.TaskKey) {
	task, err := h.store.Get(r.Context(), key)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("component", "api").Str("key", key.String()).Msg("api: get task failed")
		writeError(w, http.StatusInternalServerError, "failed to get task")
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(task))
}

// updateTask is a read-modify-write guarded by the version that was read, so
// it cannot overwrite a concurrent expiry.
func (h *Handler) updateTask(w http.ResponseWriter, r *http.Request, key domain.TaskKey) {
	var req UpdateTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}

	current, err := h.store.Get(r.Context(), key)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("component", "api").Str("key", key.String()).Msg("api: update task read failed")
		writeError(w, http.StatusInternalServerError, "failed to update task")
		return
	}

	updated, err := applyUpdate(current, req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stored, err := h.store.Put(r.Context(), updated, current.Version)
	if errors.Is(err, domain.ErrVersionConflict) {
		writeError(w, http.StatusConflict, "task was modified concurrently")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("component", "api").Str("key", key.String()).Msg("api: update task failed")
		writeError(w, http.StatusInternalServerError, "failed to update task")
		return
	}

	writeJSON(w, http.StatusOK, toTaskResponse(stored))
}

func (h *Handler) deleteTask(w http.ResponseWriter, r *http.Request, key domain.TaskKey) {
	err := h.store.Remove(r.Context(), key, "")
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("component", "api").Str("key", key.String()).Msg("api: delete task failed")
		writeError(w, http.StatusInternalServerError, "failed to delete task")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// welcome is called by the identity provider after first sign-in. The
// notification is best effort and never fails the request.
func (h *Handler) welcome(w http.ResponseWriter, r *http.Request, owner string) {
	var req WelcomeRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}

	if h.notifier == nil {
		log.Warn().Str("component", "api").Str("owner", owner).Msg("api: welcome requested but no notifier configured")
	} else {
		details := map[string]string{}
		if req.Email != "" {
			details["email"] = req.Email
		}
		h.notifier.Notify(r.Context(), owner, domain.NotificationWelcome, details)
	}

	writeJSON(w, http.StatusAccepted, MessageResponse{Message: "welcome notification queued"})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Str("component", "api").Msg("api: json encode error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
