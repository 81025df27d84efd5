package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ibra15-cyber/todo-backend/internal/domain"
)

// TriggerStore persists armed triggers so a restarted leader can restore them.
type TriggerStore interface {
	UpsertTrigger(ctx context.Context, trigger domain.ScheduledTrigger) error
	DeleteTrigger(ctx context.Context, key domain.TaskKey) error
	ListTriggers(ctx context.Context) ([]domain.ScheduledTrigger, error)
}

type EventEmitter interface {
	Emit(ctx context.Context, event domain.FireEvent) error
}

// MetricsSink defines the metrics interface for the scheduler.
// Implementations must be non-blocking and fire-and-forget.
type MetricsSink interface {
	TickStarted()
	TickCompleted(duration time.Duration, fired int, err error)
	TriggersArmedUpdate(count int)
	FireLagObserve(lag time.Duration)
}

type Config struct {
	TickInterval time.Duration
}

// Scheduler owns the registry of expiry triggers, at most one per task key.
type Scheduler struct {
	config  Config
	emitter EventEmitter
	store   TriggerStore // optional
	metrics MetricsSink  // optional
	clock   func() time.Time

	mu      sync.Mutex
	queue   triggerHeap
	entries map[domain.TaskKey]*entry

	// gen counts registry changes. touched holds the generation of the
	// last Arm or Cancel per key until a sweep forgets it.
	gen     uint64
	touched map[domain.TaskKey]uint64
}

func New(config Config, emitter EventEmitter) *Scheduler {
	return &Scheduler{
		config:  config,
		emitter: emitter,
		clock:   time.Now,
		entries: make(map[domain.TaskKey]*entry),
		touched: make(map[domain.TaskKey]uint64),
	}
}

// WithStore enables trigger persistence.
func (s *Scheduler) WithStore(store TriggerStore) *Scheduler {
	s.store = store
	return s
}

// WithMetrics attaches a metrics sink to the scheduler.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

// Restore loads persisted triggers. Triggers armed since startup win over
// their persisted copy.
func (s *Scheduler) Restore(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}
	triggers, err := s.store.ListTriggers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list triggers: %w", err)
	}

	restored := 0
	s.mu.Lock()
	for _, t := range triggers {
		if s.insertIfAbsentLocked(t) {
			restored++
		}
	}
	s.mu.Unlock()

	s.reportArmed()
	log.Info().Str("component", "scheduler").Int("restored", restored).Msg("scheduler: triggers restored")
	return restored, nil
}

// Arm sets the trigger for key, replacing any existing one.
func (s *Scheduler) Arm(ctx context.Context, key domain.TaskKey, dueAt time.Time, version string) error {
	t := domain.ScheduledTrigger{Key: key, DueAt: dueAt.UTC(), PayloadVersion: version}

	s.mu.Lock()
	if e, ok := s.entries[key]; ok {
		s.gen++
		e.trigger = t
		e.gen = s.gen
		heap.Fix(&s.queue, e.index)
	} else {
		s.pushLocked(t)
	}
	s.touched[key] = s.gen
	s.mu.Unlock()

	s.reportArmed()

	if s.store != nil {
		if err := s.store.UpsertTrigger(ctx, t); err != nil {
			return fmt.Errorf("persist trigger: %w", err)
		}
	}
	return nil
}

// Mark returns the current registry generation. A caller that reads task
// state after taking a mark passes it to ArmIfAbsent and CancelStale.
func (s *Scheduler) Mark() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// ArmIfAbsent arms key only when no trigger is live for it and key has not
// been armed or cancelled since mark. It reports whether a trigger was armed.
func (s *Scheduler) ArmIfAbsent(ctx context.Context, key domain.TaskKey, dueAt time.Time, version string, mark uint64) (bool, error) {
	t := domain.ScheduledTrigger{Key: key, DueAt: dueAt.UTC(), PayloadVersion: version}

	s.mu.Lock()
	armed := false
	if s.touched[key] <= mark {
		armed = s.insertIfAbsentLocked(t)
	}
	s.mu.Unlock()

	if !armed {
		return false, nil
	}
	s.reportArmed()

	if s.store != nil {
		if err := s.store.UpsertTrigger(ctx, t); err != nil {
			return true, fmt.Errorf("persist trigger: %w", err)
		}
	}
	return true, nil
}

// Cancel removes the trigger for key. Cancelling an absent key is a no-op.
// A fire already in flight is not recalled; the executor's conditional write
// guards against it.
func (s *Scheduler) Cancel(ctx context.Context, key domain.TaskKey) error {
	s.mu.Lock()
	s.removeLocked(key)
	s.mu.Unlock()

	s.reportArmed()

	if s.store != nil {
		if err := s.store.DeleteTrigger(ctx, key); err != nil {
			return fmt.Errorf("delete trigger: %w", err)
		}
	}
	return nil
}

// CancelStale cancels every live trigger set at or before mark whose key is
// not in keep, and deletes its persisted row. It returns how many it removed.
func (s *Scheduler) CancelStale(ctx context.Context, keep map[domain.TaskKey]struct{}, mark uint64) (int, error) {
	var stale []domain.TaskKey
	s.mu.Lock()
	for k, e := range s.entries {
		if _, ok := keep[k]; ok || e.gen > mark {
			continue
		}
		s.removeLocked(k)
		stale = append(stale, k)
	}
	s.mu.Unlock()

	if len(stale) == 0 {
		return 0, nil
	}
	s.reportArmed()

	if s.store == nil {
		return len(stale), nil
	}
	var failed int
	for _, k := range stale {
		if err := s.store.DeleteTrigger(ctx, k); err != nil {
			failed++
			log.Warn().Err(err).Str("component", "scheduler").Str("key", k.String()).
				Msg("scheduler: delete stale trigger failed")
			continue
		}
		// Re-armed between removal and delete: put the row back.
		if t, ok := s.Get(k); ok {
			if err := s.store.UpsertTrigger(ctx, t); err != nil {
				failed++
			}
		}
	}
	if failed > 0 {
		return len(stale), fmt.Errorf("%d of %d stale triggers not cleared from the store", failed, len(stale))
	}
	return len(stale), nil
}

// Forget drops the per-key change records at or before mark. Marks taken
// before the call must not be passed to ArmIfAbsent afterwards.
func (s *Scheduler) Forget(mark uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, g := range s.touched {
		if g <= mark {
			delete(s.touched, k)
			n++
		}
	}
	return n
}

// Get returns the live trigger for key.
func (s *Scheduler) Get(key domain.TaskKey) (domain.ScheduledTrigger, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return domain.ScheduledTrigger{}, false
	}
	return e.trigger, true
}

// Len returns the number of live triggers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	log.Info().Str("component", "scheduler").Dur("tick", s.config.TickInterval).Msg("scheduler: started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("component", "scheduler").Msg("scheduler: stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.processTick(ctx); err != nil {
				log.Error().Err(err).Str("component", "scheduler").Msg("scheduler: tick error")
			}
		}
	}
}

func (s *Scheduler) processTick(ctx context.Context) (err error) {
	start := time.Now()
	fired := 0

	if s.metrics != nil {
		s.metrics.TickStarted()
		defer func() {
			s.metrics.TickCompleted(time.Since(start), fired, err)
		}()
	}

	now := s.clock().UTC()
	due := s.popDue(now)

	var failed int
	for _, t := range due {
		if err := s.fire(ctx, t, now); err != nil {
			failed++
			log.Warn().Err(err).
				Str("component", "scheduler").
				Str("key", t.Key.String()).
				Msg("scheduler: emit failed, re-arming")
			s.mu.Lock()
			s.insertIfAbsentLocked(t)
			s.mu.Unlock()
			continue
		}
		fired++
	}

	s.reportArmed()

	if failed > 0 {
		return fmt.Errorf("%d of %d fires not emitted", failed, len(due))
	}
	return nil
}

func (s *Scheduler) popDue(now time.Time) []domain.ScheduledTrigger {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []domain.ScheduledTrigger
	for s.queue.due(now) {
		e := heap.Pop(&s.queue).(*entry)
		delete(s.entries, e.trigger.Key)
		due = append(due, e.trigger)
	}
	return due
}

func (s *Scheduler) fire(ctx context.Context, t domain.ScheduledTrigger, now time.Time) error {
	event := domain.FireEvent{
		ID:             uuid.New(),
		Key:            t.Key,
		DueAt:          t.DueAt,
		PayloadVersion: t.PayloadVersion,
		FiredAt:        now,
	}

	if err := s.emitter.Emit(ctx, event); err != nil {
		return fmt.Errorf("emit: %w", err)
	}

	if s.metrics != nil {
		s.metrics.FireLagObserve(now.Sub(t.DueAt))
	}

	// The key may have been re-armed while the fire was in flight.
	if s.store != nil {
		if _, rearmed := s.Get(t.Key); !rearmed {
			if err := s.store.DeleteTrigger(ctx, t.Key); err != nil {
				log.Warn().Err(err).Str("component", "scheduler").Str("key", t.Key.String()).
					Msg("scheduler: delete fired trigger failed")
			}
		}
	}

	log.Debug().
		Str("component", "scheduler").
		Str("key", t.Key.String()).
		Time("due_at", t.DueAt).
		Msg("scheduler: fired")
	return nil
}

func (s *Scheduler) insertIfAbsentLocked(t domain.ScheduledTrigger) bool {
	if _, ok := s.entries[t.Key]; ok {
		return false
	}
	s.pushLocked(t)
	return true
}

func (s *Scheduler) pushLocked(t domain.ScheduledTrigger) {
	s.gen++
	e := &entry{trigger: t, gen: s.gen}
	heap.Push(&s.queue, e)
	s.entries[t.Key] = e
}

// removeLocked drops the live trigger for key, if any, and records the change.
func (s *Scheduler) removeLocked(key domain.TaskKey) {
	s.gen++
	s.touched[key] = s.gen
	if e, ok := s.entries[key]; ok {
		heap.Remove(&s.queue, e.index)
		delete(s.entries, key)
	}
}

func (s *Scheduler) reportArmed() {
	if s.metrics != nil {
		s.metrics.TriggersArmedUpdate(s.Len())
	}
}
