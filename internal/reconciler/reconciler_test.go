package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ibra15-cyber/todo-backend/internal/domain"
	"github.com/ibra15-cyber/todo-backend/internal/scheduler"
	"github.com/ibra15-cyber/todo-backend/internal/store/memory"
)

type nopEmitter struct{}

func (nopEmitter) Emit(ctx context.Context, event domain.FireEvent) error { return nil }

// mockScheduler records ArmIfAbsent calls.
type mockScheduler struct {
	mu    sync.Mutex
	armed map[domain.TaskKey]time.Time
	err   error
}

func newMockScheduler() *mockScheduler {
	return &mockScheduler{armed: make(map[domain.TaskKey]time.Time)}
}

func (m *mockScheduler) Mark() uint64 { return 0 }

func (m *mockScheduler) CancelStale(ctx context.Context, keep map[domain.TaskKey]struct{}, mark uint64) (int, error) {
	return 0, nil
}

func (m *mockScheduler) Forget(mark uint64) int { return 0 }

func (m *mockScheduler) ArmIfAbsent(ctx context.Context, key domain.TaskKey, dueAt time.Time, version string, mark uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.armed[key]; ok {
		return false, nil
	}
	m.armed[key] = dueAt
	return true, nil
}

type mockPruner struct {
	cutoff time.Time
}

func (p *mockPruner) Prune(olderThan time.Time) int {
	p.cutoff = olderThan
	return 3
}

type failingStore struct{}

func (failingStore) ListPending(ctx context.Context, after domain.TaskKey, limit int) ([]domain.Task, error) {
	return nil, errors.New("connection refused")
}

var now = time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

func seed(t *testing.T, store *memory.Store, id string, deadline time.Time, status domain.TaskStatus) domain.Task {
	t.Helper()
	task, err := store.Put(context.Background(), domain.Task{
		OwnerID:  "u1",
		TaskID:   id,
		Deadline: deadline,
		Status:   status,
	}, "")
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
	return task
}

func newTestReconciler(store Store, sched Scheduler, batch int) *Reconciler {
	r := New(Config{BatchSize: batch}, store, sched)
	r.clock = func() time.Time { return now }
	return r
}

func TestRunOnce_ArmsPendingOnly(t *testing.T) {
	store := memory.New()
	seed(t, store, "future", now.Add(time.Hour), domain.TaskStatusPending)
	seed(t, store, "pastdue", now.Add(-time.Hour), domain.TaskStatusPending)
	seed(t, store, "done", now.Add(time.Hour), domain.TaskStatusCompleted)
	seed(t, store, "expired", now.Add(-time.Hour), domain.TaskStatusExpired)

	sched := newMockScheduler()
	res, err := newTestReconciler(store, sched, 10).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	if res.Scanned != 2 || res.Armed != 2 {
		t.Errorf("result = %+v, want 2 scanned and armed", res)
	}
	if got := sched.armed[domain.TaskKey{OwnerID: "u1", TaskID: "future"}]; !got.Equal(now.Add(time.Hour)) {
		t.Errorf("future task armed at %v, want its deadline", got)
	}
	if got := sched.armed[domain.TaskKey{OwnerID: "u1", TaskID: "pastdue"}]; !got.Equal(now) {
		t.Errorf("past-due task armed at %v, want now", got)
	}
}

func TestRunOnce_PagesThroughAllTasks(t *testing.T) {
	store := memory.New()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		seed(t, store, id, now.Add(time.Hour), domain.TaskStatusPending)
	}

	sched := newMockScheduler()
	res, err := newTestReconciler(store, sched, 2).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if res.Scanned != 5 || len(sched.armed) != 5 {
		t.Errorf("scanned %d, armed %d; want 5 each", res.Scanned, len(sched.armed))
	}
}

func TestRunOnce_IsIdempotent(t *testing.T) {
	store := memory.New()
	seed(t, store, "a", now.Add(time.Hour), domain.TaskStatusPending)

	sched := newMockScheduler()
	r := newTestReconciler(store, sched, 10)
	r.RunOnce(context.Background())
	res, _ := r.RunOnce(context.Background())

	if res.Armed != 0 {
		t.Errorf("second sweep armed %d, want 0", res.Armed)
	}
}

func TestRunOnce_StoreErrorAborts(t *testing.T) {
	_, err := newTestReconciler(failingStore{}, newMockScheduler(), 10).RunOnce(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestRunOnce_ArmErrorCounted(t *testing.T) {
	store := memory.New()
	seed(t, store, "a", now.Add(time.Hour), domain.TaskStatusPending)
	sched := newMockScheduler()
	sched.err = errors.New("trigger store unavailable")

	res, err := newTestReconciler(store, sched, 10).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("arm errors should not abort the sweep: %v", err)
	}
	if res.Failed != 1 {
		t.Errorf("failed = %d, want 1", res.Failed)
	}
}

func TestRunOnce_Prunes(t *testing.T) {
	pruner := &mockPruner{}
	r := newTestReconciler(memory.New(), newMockScheduler(), 10).WithPruner(pruner)
	r.config.PruneAge = 30 * time.Minute

	res, _ := r.RunOnce(context.Background())
	if res.Pruned != 3 {
		t.Errorf("pruned = %d, want 3", res.Pruned)
	}
	if !pruner.cutoff.Equal(now.Add(-30 * time.Minute)) {
		t.Errorf("cutoff = %v", pruner.cutoff)
	}
}

// TestRehydrationAfterRestart simulates losing the scheduler's memory and
// rebuilding the trigger set from the store alone.
func TestRehydrationAfterRestart(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	a := seed(t, store, "a", now.Add(time.Hour), domain.TaskStatusPending)
	b := seed(t, store, "b", now.Add(-time.Minute), domain.TaskStatusPending)
	seed(t, store, "c", now.Add(time.Hour), domain.TaskStatusCompleted)

	before := scheduler.New(scheduler.Config{TickInterval: time.Second}, nopEmitter{})
	before.Arm(ctx, a.Key(), a.Deadline, a.Version)
	before.Arm(ctx, b.Key(), now, b.Version)

	// Restart: a fresh scheduler with no restored state.
	after := scheduler.New(scheduler.Config{TickInterval: time.Second}, nopEmitter{})
	if _, err := newTestReconciler(store, after, 10).RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	if after.Len() != before.Len() {
		t.Fatalf("rehydrated %d triggers, want %d", after.Len(), before.Len())
	}
	for _, key := range []domain.TaskKey{a.Key(), b.Key()} {
		want, _ := before.Get(key)
		got, ok := after.Get(key)
		if !ok || !got.DueAt.Equal(want.DueAt) || got.PayloadVersion != want.PayloadVersion {
			t.Errorf("trigger %s = %+v, want %+v", key, got, want)
		}
	}
}

// completingStore completes one task and lets the event processor react
// after the page listing it has been read, before the sweep arms it.
type completingStore struct {
	*memory.Store
	target    domain.TaskKey
	afterList func(ctx context.Context)
	once      sync.Once
}

func (s *completingStore) ListPending(ctx context.Context, after domain.TaskKey, limit int) ([]domain.Task, error) {
	tasks, err := s.Store.ListPending(ctx, after, limit)
	if err != nil {
		return nil, err
	}
	for _, task := range tasks {
		if task.Key() == s.target {
			s.once.Do(func() { s.afterList(ctx) })
		}
	}
	return tasks, nil
}

func TestRunOnce_DoesNotReviveTaskFinishedMidSweep(t *testing.T) {
	mem := memory.New()
	ctx := context.Background()
	task := seed(t, mem, "a", now.Add(time.Hour), domain.TaskStatusPending)

	sched := scheduler.New(scheduler.Config{TickInterval: time.Second}, nopEmitter{}).WithStore(mem)
	store := &completingStore{Store: mem, target: task.Key()}
	store.afterList = func(ctx context.Context) {
		done := task
		done.Status = domain.TaskStatusCompleted
		if _, err := mem.Put(ctx, done, task.Version); err != nil {
			t.Errorf("complete task: %v", err)
		}
		// The processor's reaction to the Modify event.
		if err := sched.Cancel(ctx, task.Key()); err != nil {
			t.Errorf("cancel: %v", err)
		}
	}

	res, err := newTestReconciler(store, sched, 10).RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	if res.Armed != 0 {
		t.Errorf("armed = %d, want 0", res.Armed)
	}
	if _, ok := sched.Get(task.Key()); ok {
		t.Error("completed task must not have a live trigger")
	}
	rows, _ := mem.ListTriggers(ctx)
	if len(rows) != 0 {
		t.Errorf("persisted triggers = %+v, want none", rows)
	}
}

func TestRunOnce_ArmedMidSweepKeepsProcessorTrigger(t *testing.T) {
	mem := memory.New()
	ctx := context.Background()
	task := seed(t, mem, "a", now.Add(time.Hour), domain.TaskStatusPending)

	sched := scheduler.New(scheduler.Config{TickInterval: time.Second}, nopEmitter{})
	store := &completingStore{Store: mem, target: task.Key()}
	store.afterList = func(ctx context.Context) {
		sched.Arm(ctx, task.Key(), now.Add(2*time.Hour), "newer")
		sched.Cancel(ctx, task.Key())
		sched.Arm(ctx, task.Key(), now.Add(3*time.Hour), "newest")
	}

	if _, err := newTestReconciler(store, sched, 10).RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	got, ok := sched.Get(task.Key())
	if !ok || got.PayloadVersion != "newest" {
		t.Errorf("trigger = %+v, %v; want the processor's latest", got, ok)
	}
}

func TestRunOnce_ClearsTriggersOfFinishedTasks(t *testing.T) {
	mem := memory.New()
	ctx := context.Background()
	pending := seed(t, mem, "a", now.Add(time.Hour), domain.TaskStatusPending)
	done := seed(t, mem, "b", now.Add(time.Hour), domain.TaskStatusCompleted)

	// Rows left behind by a term that missed the Complete and Remove events.
	gone := domain.TaskKey{OwnerID: "u1", TaskID: "deleted"}
	for _, tr := range []domain.ScheduledTrigger{
		{Key: pending.Key(), DueAt: pending.Deadline, PayloadVersion: pending.Version},
		{Key: done.Key(), DueAt: done.Deadline, PayloadVersion: done.Version},
		{Key: gone, DueAt: now.Add(time.Hour), PayloadVersion: "v1"},
	} {
		mem.UpsertTrigger(ctx, tr)
	}

	sched := scheduler.New(scheduler.Config{TickInterval: time.Second}, nopEmitter{}).WithStore(mem)
	if n, err := sched.Restore(ctx); err != nil || n != 3 {
		t.Fatalf("Restore = %d, %v", n, err)
	}

	res, err := newTestReconciler(mem, sched, 10).RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if res.Cleared != 2 {
		t.Errorf("cleared = %d, want 2", res.Cleared)
	}
	if sched.Len() != 1 {
		t.Errorf("live triggers = %d, want 1", sched.Len())
	}
	if _, ok := sched.Get(pending.Key()); !ok {
		t.Error("pending task lost its trigger")
	}
	rows, _ := mem.ListTriggers(ctx)
	if len(rows) != 1 || rows[0].Key != pending.Key() {
		t.Errorf("persisted triggers = %+v, want only the pending task", rows)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	r := New(Config{Schedule: everyHour{}}, memory.New(), newMockScheduler())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

type everyHour struct{}

func (everyHour) Next(after time.Time) time.Time { return after.Add(time.Hour) }
