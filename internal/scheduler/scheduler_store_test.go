package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ibra15-cyber/todo-backend/internal/domain"
)

type mockTriggerStore struct {
	mu       sync.Mutex
	triggers map[domain.TaskKey]domain.ScheduledTrigger
}

func newMockTriggerStore() *mockTriggerStore {
	return &mockTriggerStore{triggers: make(map[domain.TaskKey]domain.ScheduledTrigger)}
}

func (m *mockTriggerStore) UpsertTrigger(ctx context.Context, t domain.ScheduledTrigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggers[t.Key] = t
	return nil
}

func (m *mockTriggerStore) DeleteTrigger(ctx context.Context, key domain.TaskKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.triggers, key)
	return nil
}

func (m *mockTriggerStore) ListTriggers(ctx context.Context) ([]domain.ScheduledTrigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ScheduledTrigger
	for _, t := range m.triggers {
		out = append(out, t)
	}
	return out, nil
}

func (m *mockTriggerStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.triggers)
}

type mockMetrics struct {
	mu     sync.Mutex
	ticks  int
	fired  int
	armed  int
	lagged int
}

func (m *mockMetrics) TickStarted() {
	m.mu.Lock()
	m.ticks++
	m.mu.Unlock()
}

func (m *mockMetrics) TickCompleted(d time.Duration, fired int, err error) {
	m.mu.Lock()
	m.fired += fired
	m.mu.Unlock()
}

func (m *mockMetrics) TriggersArmedUpdate(count int) {
	m.mu.Lock()
	m.armed = count
	m.mu.Unlock()
}

func (m *mockMetrics) FireLagObserve(lag time.Duration) {
	m.mu.Lock()
	m.lagged++
	m.mu.Unlock()
}

func TestScheduler_PersistsTriggers(t *testing.T) {
	now := base
	store := newMockTriggerStore()
	s := newTestScheduler(&mockEmitter{}, &now).WithStore(store)
	ctx := context.Background()

	s.Arm(ctx, key("t1"), base.Add(time.Minute), "v1")
	s.Arm(ctx, key("t2"), base.Add(time.Hour), "v1")
	if store.count() != 2 {
		t.Fatalf("persisted %d triggers, want 2", store.count())
	}

	s.Cancel(ctx, key("t2"))
	if store.count() != 1 {
		t.Errorf("cancel should delete the persisted trigger, have %d", store.count())
	}

	now = base.Add(time.Minute)
	s.processTick(ctx)
	if store.count() != 0 {
		t.Errorf("fired trigger should be deleted from the store, have %d", store.count())
	}
}

func TestScheduler_RestoreAfterRestart(t *testing.T) {
	now := base
	store := newMockTriggerStore()
	ctx := context.Background()

	first := newTestScheduler(&mockEmitter{}, &now).WithStore(store)
	first.Arm(ctx, key("t1"), base.Add(time.Minute), "v1")
	first.Arm(ctx, key("t2"), base.Add(time.Hour), "v1")

	emitter := &mockEmitter{}
	second := newTestScheduler(emitter, &now).WithStore(store)
	second.Arm(ctx, key("t2"), base.Add(2*time.Hour), "v2")

	n, err := second.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if n != 1 {
		t.Errorf("restored %d, want 1 (t2 already armed)", n)
	}
	if got, _ := second.Get(key("t2")); got.PayloadVersion != "v2" {
		t.Error("restore must not override a trigger armed after startup")
	}

	now = base.Add(time.Minute)
	second.processTick(ctx)
	if len(emitter.emitted()) != 1 {
		t.Error("restored trigger should fire")
	}
}

func TestScheduler_Metrics(t *testing.T) {
	now := base
	metrics := &mockMetrics{}
	s := newTestScheduler(&mockEmitter{}, &now).WithMetrics(metrics)
	ctx := context.Background()

	s.Arm(ctx, key("t1"), base, "v1")
	s.Arm(ctx, key("t2"), base.Add(time.Hour), "v1")
	if metrics.armed != 2 {
		t.Errorf("armed gauge = %d, want 2", metrics.armed)
	}

	now = base.Add(time.Second)
	s.processTick(ctx)

	if metrics.ticks != 1 || metrics.fired != 1 || metrics.lagged != 1 {
		t.Errorf("metrics = %+v", metrics)
	}
	if metrics.armed != 1 {
		t.Errorf("armed gauge = %d after fire, want 1", metrics.armed)
	}
}

func TestScheduler_CancelStaleDeletesRows(t *testing.T) {
	now := base
	store := newMockTriggerStore()
	store.UpsertTrigger(context.Background(), domain.ScheduledTrigger{Key: key("done"), DueAt: base.Add(time.Hour), PayloadVersion: "v1"})
	store.UpsertTrigger(context.Background(), domain.ScheduledTrigger{Key: key("open"), DueAt: base.Add(time.Hour), PayloadVersion: "v1"})
	s := newTestScheduler(&mockEmitter{}, &now).WithStore(store)
	ctx := context.Background()

	if _, err := s.Restore(ctx); err != nil {
		t.Fatal(err)
	}
	n, err := s.CancelStale(ctx, map[domain.TaskKey]struct{}{key("open"): {}}, s.Mark())
	if err != nil || n != 1 {
		t.Fatalf("CancelStale = %d, %v; want 1", n, err)
	}
	if store.count() != 1 {
		t.Errorf("persisted %d triggers, want 1", store.count())
	}
	if _, ok := store.triggers[key("done")]; ok {
		t.Error("stale row should be deleted")
	}
}
