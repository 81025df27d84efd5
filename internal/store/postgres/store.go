package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ibra15-cyber/todo-backend/internal/domain"
)

// feedLockKey is the advisory lock taken by every transaction that appends
// to task_changes.
const feedLockKey int64 = 0x7461736b66656564 // "taskfeed"

// Store is the PostgreSQL record store. Every mutation appends its change
// event to task_changes in the same transaction.
type Store struct {
	db *sql.DB

	opTimeout    time.Duration
	pollInterval time.Duration
	batchSize    int
	clock        func() time.Time
}

// New creates a new PostgreSQL store with the given database connection.
func New(db *sql.DB) *Store {
	return &Store{
		db:           db,
		pollInterval: time.Second,
		batchSize:    256,
		clock:        time.Now,
	}
}

// WithOpTimeout bounds every store operation. Zero leaves operations bounded
// only by the caller's context.
func (s *Store) WithOpTimeout(d time.Duration) *Store {
	s.opTimeout = d
	return s
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// WithPollInterval sets how often Subscribe polls task_changes once caught up.
func (s *Store) WithPollInterval(d time.Duration) *Store {
	if d > 0 {
		s.pollInterval = d
	}
	return s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var status string
	err := row.Scan(
		&t.OwnerID,
		&t.TaskID,
		&t.Description,
		&t.Deadline,
		&status,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.Version,
	)
	if err != nil {
		return domain.Task{}, err
	}
	t.Status = domain.TaskStatus(status)
	t.Deadline = t.Deadline.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}

func (s *Store) Get(ctx context.Context, key domain.TaskKey) (domain.Task, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	task, err := scanTask(s.db.QueryRowContext(ctx, queryGetTask, key.OwnerID, key.TaskID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Task{}, fmt.Errorf("get task %s: %w", key, err)
	}
	return task, nil
}

// Put writes task and returns it with its new version. A non-empty
// expectedVersion makes the write conditional; a mismatch, a missing row or a
// concurrent insert of the same key returns domain.ErrVersionConflict.
func (s *Store) Put(ctx context.Context, task domain.Task, expectedVersion string) (domain.Task, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	key := task.Key()
	current, err := scanTask(tx.QueryRowContext(ctx, queryGetTaskForUpdate, key.OwnerID, key.TaskID))
	exists := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, fmt.Errorf("lock task %s: %w", key, err)
	}
	if expectedVersion != "" && (!exists || current.Version != expectedVersion) {
		return domain.Task{}, domain.ErrVersionConflict
	}

	now := s.clock().UTC()
	task.Version = uuid.NewString()
	task.UpdatedAt = now
	task.Deadline = task.Deadline.UTC()

	event := domain.ChangeEvent{Key: key, Type: domain.ChangeInsert}
	if exists {
		task.CreatedAt = current.CreatedAt
		event.Type = domain.ChangeModify
		event.Before = &current
		_, err = tx.ExecContext(ctx, queryUpdateTask,
			task.OwnerID,
			task.TaskID,
			task.Description,
			task.Deadline,
			string(task.Status),
			task.UpdatedAt,
			task.Version,
		)
	} else {
		if task.CreatedAt.IsZero() {
			task.CreatedAt = now
		}
		_, err = tx.ExecContext(ctx, queryInsertTask,
			task.OwnerID,
			task.TaskID,
			task.Description,
			task.Deadline,
			string(task.Status),
			task.CreatedAt,
			task.UpdatedAt,
			task.Version,
		)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Task{}, domain.ErrVersionConflict
		}
		return domain.Task{}, fmt.Errorf("write task %s: %w", key, err)
	}

	after := task
	event.After = &after
	if err := s.appendChange(ctx, tx, event, now); err != nil {
		return domain.Task{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

// Remove deletes the task. With a non-empty expectedVersion the delete is
// conditional, as in Put.
func (s *Store) Remove(ctx context.Context, key domain.TaskKey, expectedVersion string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	current, err := scanTask(tx.QueryRowContext(ctx, queryGetTaskForUpdate, key.OwnerID, key.TaskID))
	if errors.Is(err, sql.ErrNoRows) {
		if expectedVersion != "" {
			return domain.ErrVersionConflict
		}
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock task %s: %w", key, err)
	}
	if expectedVersion != "" && current.Version != expectedVersion {
		return domain.ErrVersionConflict
	}

	if _, err := tx.ExecContext(ctx, queryDeleteTask, key.OwnerID, key.TaskID); err != nil {
		return fmt.Errorf("delete task %s: %w", key, err)
	}

	event := domain.ChangeEvent{Key: key, Type: domain.ChangeRemove, Before: &current}
	if err := s.appendChange(ctx, tx, event, s.clock().UTC()); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) appendChange(ctx context.Context, tx *sql.Tx, event domain.ChangeEvent, at time.Time) error {
	before, err := encodeImage(event.Before)
	if err != nil {
		return err
	}
	after, err := encodeImage(event.After)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, queryLockFeed, feedLockKey); err != nil {
		return fmt.Errorf("lock change feed: %w", err)
	}
	_, err = tx.ExecContext(ctx, queryInsertChange,
		event.Key.OwnerID,
		event.Key.TaskID,
		string(event.Type),
		before,
		after,
		at,
	)
	if err != nil {
		return fmt.Errorf("append change %s: %w", event.Key, err)
	}
	return nil
}

func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]domain.Task, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListTasksByOwner, ownerID)
	if err != nil {
		return nil, err
	}
	return collectTasks(rows)
}

// ListPending returns Pending tasks ordered by key, starting after the given key.
func (s *Store) ListPending(ctx context.Context, after domain.TaskKey, limit int) ([]domain.Task, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListPendingTasks, after.OwnerID, after.TaskID, limit)
	if err != nil {
		return nil, err
	}
	return collectTasks(rows)
}

func collectTasks(rows *sql.Rows) ([]domain.Task, error) {
	defer rows.Close()

	var result []domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) UpsertTrigger(ctx context.Context, trigger domain.ScheduledTrigger) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryUpsertTrigger,
		trigger.Key.OwnerID,
		trigger.Key.TaskID,
		trigger.DueAt.UTC(),
		trigger.PayloadVersion,
	)
	return err
}

func (s *Store) DeleteTrigger(ctx context.Context, key domain.TaskKey) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryDeleteTrigger, key.OwnerID, key.TaskID)
	return err
}

func (s *Store) ListTriggers(ctx context.Context) ([]domain.ScheduledTrigger, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListTriggers)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ScheduledTrigger
	for rows.Next() {
		var t domain.ScheduledTrigger
		if err := rows.Scan(&t.Key.OwnerID, &t.Key.TaskID, &t.DueAt, &t.PayloadVersion); err != nil {
			return nil, err
		}
		t.DueAt = t.DueAt.UTC()
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) InsertDeadLetter(ctx context.Context, dl domain.DeadLetter) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var payload any
	if len(dl.Payload) > 0 {
		payload = dl.Payload
	}
	_, err := s.db.ExecContext(ctx, queryInsertDeadLetter,
		dl.ID,
		string(dl.Source),
		dl.Key.OwnerID,
		dl.Key.TaskID,
		dl.Sequence,
		payload,
		dl.Reason,
		dl.Attempts,
		dl.CreatedAt,
	)
	return err
}

func encodeImage(t *domain.Task) (any, error) {
	if t == nil {
		return nil, nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return b, nil
}

func decodeImage(b []byte) (*domain.Task, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var t domain.Task
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return &t, nil
}

// isUniqueViolation checks if the error is a PostgreSQL unique violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
