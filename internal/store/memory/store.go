// Package memory is an in-process record store with an ordered change feed.
// It backs local development (STORE=memory) and the engine's tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ibra15-cyber/todo-backend/internal/domain"
)

// Op names an operation for fault injection.
type Op string

const (
	OpGet    Op = "get"
	OpPut    Op = "put"
	OpRemove Op = "remove"
	OpList   Op = "list"
)

type fault struct {
	err       error
	remaining int // <0 means forever
}

type Store struct {
	mu sync.Mutex

	tasks map[domain.TaskKey]domain.Task
	feed  []domain.ChangeEvent
	seq   int64

	// appended is closed and replaced on every feed append.
	appended chan struct{}

	cursors     map[string]int64
	triggers    map[domain.TaskKey]domain.ScheduledTrigger
	deadLetters []domain.DeadLetter
	faults      map[Op]*fault

	clock func() time.Time
}

func New() *Store {
	return &Store{
		tasks:    make(map[domain.TaskKey]domain.Task),
		appended: make(chan struct{}),
		cursors:  make(map[string]int64),
		triggers: make(map[domain.TaskKey]domain.ScheduledTrigger),
		faults:   make(map[Op]*fault),
		clock:    time.Now,
	}
}

// WithClock overrides the write timestamp source.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

// FailNext makes the next n calls of op return err. n < 0 fails until ClearFaults.
func (s *Store) FailNext(op Op, err error, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = &fault{err: err, remaining: n}
}

func (s *Store) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = make(map[Op]*fault)
}

func (s *Store) injected(op Op) error {
	f, ok := s.faults[op]
	if !ok || f.remaining == 0 {
		return nil
	}
	if f.remaining > 0 {
		f.remaining--
	}
	return f.err
}

func (s *Store) Get(ctx context.Context, key domain.TaskKey) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.injected(OpGet); err != nil {
		return domain.Task{}, err
	}
	task, ok := s.tasks[key]
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	return task, nil
}

// Put writes task. A non-empty expectedVersion makes the write conditional on
// the stored version; an empty one inserts or overwrites unconditionally.
func (s *Store) Put(ctx context.Context, task domain.Task, expectedVersion string) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.injected(OpPut); err != nil {
		return domain.Task{}, err
	}

	key := task.Key()
	current, exists := s.tasks[key]
	if expectedVersion != "" && (!exists || current.Version != expectedVersion) {
		return domain.Task{}, domain.ErrVersionConflict
	}

	now := s.clock().UTC()
	task.Version = uuid.NewString()
	task.UpdatedAt = now
	task.Deadline = task.Deadline.UTC()
	if exists {
		task.CreatedAt = current.CreatedAt
	} else if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	s.tasks[key] = task

	event := domain.ChangeEvent{Key: key, Type: domain.ChangeInsert, After: copyTask(task)}
	if exists {
		event.Type = domain.ChangeModify
		event.Before = copyTask(current)
	}
	s.appendLocked(event)
	return task, nil
}

func (s *Store) Remove(ctx context.Context, key domain.TaskKey, expectedVersion string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.injected(OpRemove); err != nil {
		return err
	}

	current, exists := s.tasks[key]
	if !exists {
		if expectedVersion != "" {
			return domain.ErrVersionConflict
		}
		return domain.ErrNotFound
	}
	if expectedVersion != "" && current.Version != expectedVersion {
		return domain.ErrVersionConflict
	}

	delete(s.tasks, key)
	s.appendLocked(domain.ChangeEvent{Key: key, Type: domain.ChangeRemove, Before: copyTask(current)})
	return nil
}

func (s *Store) appendLocked(event domain.ChangeEvent) {
	s.seq++
	event.Sequence = s.seq
	event.RecordedAt = s.clock().UTC()
	s.feed = append(s.feed, event)

	close(s.appended)
	s.appended = make(chan struct{})
}

// Redeliver appends a copy of an already published event, as a feed would
// after a consumer timeout.
func (s *Store) Redeliver(event domain.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feed = append(s.feed, event)
	close(s.appended)
	s.appended = make(chan struct{})
}

func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.injected(OpList); err != nil {
		return nil, err
	}

	var result []domain.Task
	for key, task := range s.tasks {
		if key.OwnerID == ownerID {
			result = append(result, task)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].TaskID < result[j].TaskID
	})
	return result, nil
}

// ListPending returns Pending tasks ordered by key, starting after the given key.
func (s *Store) ListPending(ctx context.Context, after domain.TaskKey, limit int) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.injected(OpList); err != nil {
		return nil, err
	}

	var result []domain.Task
	for key, task := range s.tasks {
		if task.Status != domain.TaskStatusPending {
			continue
		}
		if !after.IsZero() && !keyLess(after, key) {
			continue
		}
		result = append(result, task)
	}
	sort.Slice(result, func(i, j int) bool {
		return keyLess(result[i].Key(), result[j].Key())
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func keyLess(a, b domain.TaskKey) bool {
	if a.OwnerID != b.OwnerID {
		return a.OwnerID < b.OwnerID
	}
	return a.TaskID < b.TaskID
}

// Subscribe streams feed entries with an index greater than after, then
// blocks for new ones. The channel is closed when ctx is cancelled.
func (s *Store) Subscribe(ctx context.Context, after int64) <-chan domain.ChangeEvent {
	out := make(chan domain.ChangeEvent)

	go func() {
		defer close(out)

		next := s.startIndex(after)
		for {
			s.mu.Lock()
			pending := append([]domain.ChangeEvent(nil), s.feed[next:]...)
			wait := s.appended
			s.mu.Unlock()

			for _, event := range pending {
				select {
				case out <- event:
					next++
				case <-ctx.Done():
					return
				}
			}
			if len(pending) > 0 {
				continue
			}

			select {
			case <-wait:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

func (s *Store) startIndex(after int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, event := range s.feed {
		if event.Sequence > after {
			return i
		}
	}
	return len(s.feed)
}

func (s *Store) LoadCursor(ctx context.Context, consumer string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[consumer], nil
}

func (s *Store) SaveCursor(ctx context.Context, consumer string, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq > s.cursors[consumer] {
		s.cursors[consumer] = seq
	}
	return nil
}

func (s *Store) UpsertTrigger(ctx context.Context, trigger domain.ScheduledTrigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers[trigger.Key] = trigger
	return nil
}

func (s *Store) DeleteTrigger(ctx context.Context, key domain.TaskKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.triggers, key)
	return nil
}

func (s *Store) ListTriggers(ctx context.Context) ([]domain.ScheduledTrigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]domain.ScheduledTrigger, 0, len(s.triggers))
	for _, trigger := range s.triggers {
		result = append(result, trigger)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DueAt.Before(result[j].DueAt)
	})
	return result, nil
}

func (s *Store) InsertDeadLetter(ctx context.Context, dl domain.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadLetters = append(s.deadLetters, dl)
	return nil
}

// DeadLetters returns a copy of every dead letter recorded so far.
func (s *Store) DeadLetters() []domain.DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.DeadLetter(nil), s.deadLetters...)
}

func copyTask(t domain.Task) *domain.Task {
	return &t
}
