package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ibra15-cyber/todo-backend/internal/domain"
	"github.com/ibra15-cyber/todo-backend/internal/store/memory"
)

type mockNotifier struct {
	mu    sync.Mutex
	calls []domain.NotificationKind
	owner string
}

func (m *mockNotifier) Notify(ctx context.Context, ownerID string, kind domain.NotificationKind, details map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, kind)
	m.owner = ownerID
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	return m.err
}

func newTestHandler() (*Handler, *memory.Store) {
	store := memory.New()
	h := NewHandler(store)
	n := 0
	h.newID = func() string {
		n++
		return "task-" + string(rune('0'+n))
	}
	return h, store
}

func do(h http.Handler, method, path, owner, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	if owner != "" {
		req.Header.Set(OwnerHeader, owner)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Health(t *testing.T) {
	h, _ := newTestHandler()

	rec := do(h, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	h.WithHealthChecker(&mockHealthChecker{err: errors.New("connection refused")})
	rec = do(h, http.MethodGet, "/health?verbose=true", "", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "degraded" || !strings.Contains(resp.Components["database"], "connection refused") {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestHandler_RequiresOwner(t *testing.T) {
	h, _ := newTestHandler()

	rec := do(h, http.MethodGet, "/tasks", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestHandler_Preflight(t *testing.T) {
	h, _ := newTestHandler()

	rec := do(h, http.MethodOptions, "/tasks", "", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS origin header")
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), OwnerHeader) {
		t.Error("owner header should be allowed")
	}
}

func TestHandler_CreateTask(t *testing.T) {
	h, store := newTestHandler()

	rec := do(h, http.MethodPost, "/tasks", "u1", `{"description":"buy milk","deadline":"2025-09-29T18:56:00"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp TaskResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "Pending" || resp.Deadline != "2025-09-29T18:56:00Z" || resp.Version == "" {
		t.Errorf("unexpected response: %+v", resp)
	}

	task, err := store.Get(context.Background(), domain.TaskKey{OwnerID: "u1", TaskID: resp.TaskID})
	if err != nil {
		t.Fatalf("task not stored: %v", err)
	}
	if !task.Deadline.Equal(time.Date(2025, 9, 29, 18, 56, 0, 0, time.UTC)) {
		t.Errorf("stored deadline = %v", task.Deadline)
	}
}

func TestHandler_CreateTask_BadRequests(t *testing.T) {
	h, _ := newTestHandler()

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing deadline", `{"description":"x"}`},
		{"bad deadline", `{"description":"x","deadline":"next week"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(h, http.MethodPost, "/tasks", "u1", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestHandler_CreateTask_StoreError(t *testing.T) {
	h, store := newTestHandler()
	store.FailNext(memory.OpPut, errors.New("db down"), 1)

	rec := do(h, http.MethodPost, "/tasks", "u1", `{"description":"x","deadline":"2025-09-29"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestHandler_ListTasks_ScopedToOwner(t *testing.T) {
	h, _ := newTestHandler()
	do(h, http.MethodPost, "/tasks", "u1", `{"description":"a","deadline":"2025-09-29"}`)
	do(h, http.MethodPost, "/tasks", "u2", `{"description":"b","deadline":"2025-09-29"}`)

	rec := do(h, http.MethodGet, "/tasks", "u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp ListTasksResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Tasks) != 1 || resp.Tasks[0].Description != "a" {
		t.Errorf("unexpected tasks: %+v", resp.Tasks)
	}
}

func TestHandler_UpdateTask(t *testing.T) {
	h, store := newTestHandler()
	do(h, http.MethodPost, "/tasks", "u1", `{"description":"a","deadline":"2025-09-29"}`)

	rec := do(h, http.MethodPatch, "/tasks/task-1", "u1", `{"status":"Completed"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	task, _ := store.Get(context.Background(), domain.TaskKey{OwnerID: "u1", TaskID: "task-1"})
	if task.Status != domain.TaskStatusCompleted {
		t.Errorf("status = %s, want Completed", task.Status)
	}

	// PUT is accepted as an alias.
	rec = do(h, http.MethodPut, "/tasks/task-1", "u1", `{"description":"renamed"}`)
	if rec.Code != http.StatusOK {
		t.Errorf("PUT: expected 200, got %d", rec.Code)
	}
}

func TestHandler_UpdateTask_Errors(t *testing.T) {
	h, store := newTestHandler()
	do(h, http.MethodPost, "/tasks", "u1", `{"description":"a","deadline":"2025-09-29"}`)

	if rec := do(h, http.MethodPatch, "/tasks/missing", "u1", `{"status":"Completed"}`); rec.Code != http.StatusNotFound {
		t.Errorf("missing task: expected 404, got %d", rec.Code)
	}
	if rec := do(h, http.MethodPatch, "/tasks/task-1", "u2", `{"status":"Completed"}`); rec.Code != http.StatusNotFound {
		t.Errorf("other owner: expected 404, got %d", rec.Code)
	}
	if rec := do(h, http.MethodPatch, "/tasks/task-1", "u1", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("no fields: expected 400, got %d", rec.Code)
	}

	store.FailNext(memory.OpPut, domain.ErrVersionConflict, 1)
	if rec := do(h, http.MethodPatch, "/tasks/task-1", "u1", `{"status":"Completed"}`); rec.Code != http.StatusConflict {
		t.Errorf("conflict: expected 409, got %d", rec.Code)
	}
}

func TestHandler_GetAndDeleteTask(t *testing.T) {
	h, _ := newTestHandler()
	do(h, http.MethodPost, "/tasks", "u1", `{"description":"a","deadline":"2025-09-29"}`)

	if rec := do(h, http.MethodGet, "/tasks/task-1", "u1", ""); rec.Code != http.StatusOK {
		t.Errorf("get: expected 200, got %d", rec.Code)
	}
	if rec := do(h, http.MethodDelete, "/tasks/task-1", "u1", ""); rec.Code != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", rec.Code)
	}
	if rec := do(h, http.MethodDelete, "/tasks/task-1", "u1", ""); rec.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/tasks/task-1", "u1", ""); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: expected 404, got %d", rec.Code)
	}
}

func TestHandler_Welcome(t *testing.T) {
	h, _ := newTestHandler()
	n := &mockNotifier{}
	h.WithNotifier(n)

	rec := do(h, http.MethodPost, "/owners/welcome", "u1", `{"email":"u1@example.com"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.calls) != 1 || n.calls[0] != domain.NotificationWelcome || n.owner != "u1" {
		t.Errorf("unexpected notifications: %v owner=%q", n.calls, n.owner)
	}
}

func TestHandler_NotFound(t *testing.T) {
	h, _ := newTestHandler()

	if rec := do(h, http.MethodGet, "/jobs", "u1", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/tasks/a/b", "u1", ""); rec.Code != http.StatusNotFound {
		t.Errorf("nested path: expected 404, got %d", rec.Code)
	}
}
