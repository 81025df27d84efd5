// Package testutil provides shared test helpers for the expiry engine.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ibra15-cyber/todo-backend/internal/domain"
)

// FakeClock provides deterministic time for testing.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{current: t}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// TestContext returns a context with a 5-second timeout.
// The context is cancelled when the test completes.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// NewTaskKey returns a key with a fresh task ID for ownerID.
func NewTaskKey(ownerID string) domain.TaskKey {
	return domain.TaskKey{OwnerID: ownerID, TaskID: uuid.NewString()}
}

// PendingTask builds a Pending task for key due at deadline.
func PendingTask(key domain.TaskKey, deadline time.Time) domain.Task {
	return domain.Task{
		OwnerID:     key.OwnerID,
		TaskID:      key.TaskID,
		Description: "task " + key.TaskID,
		Deadline:    deadline.UTC(),
		Status:      domain.TaskStatusPending,
	}
}

// Eventually polls cond every 10ms until it holds or timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}
