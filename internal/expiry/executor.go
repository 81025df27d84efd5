package expiry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ibra15-cyber/todo-backend/internal/domain"
)

type Outcome string

const (
	OutcomeExpired   Outcome = "expired"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeRetry     Outcome = "retry"
	OutcomeAbandoned Outcome = "abandoned"
)

var defaultBackoff = []time.Duration{
	0,
	500 * time.Millisecond,
	2 * time.Second,
	10 * time.Second,
	30 * time.Second,
}

const (
	defaultMaxAttempts = 5
	defaultOpTimeout   = 5 * time.Second

	// DrainTimeout is the maximum time to wait for buffered fire events during shutdown.
	DrainTimeout = 30 * time.Second
)

type Store interface {
	Get(ctx context.Context, key domain.TaskKey) (domain.Task, error)
	// Put must fail with domain.ErrVersionConflict when expectedVersion no
	// longer matches the stored version.
	Put(ctx context.Context, task domain.Task, expectedVersion string) (domain.Task, error)
}

type DeadLetterSink interface {
	InsertDeadLetter(ctx context.Context, dl domain.DeadLetter) error
}

type Notifier interface {
	Notify(ctx context.Context, ownerID string, kind domain.NotificationKind, details map[string]string)
}

// MetricsSink defines the interface for recording executor metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	ExpiryOutcome(outcome string)
	RetryAttempt()
	EventsInFlightIncr()
	EventsInFlightDecr()
	EventDeadLettered(source string)
}

type Config struct {
	Workers      int
	MaxAttempts  int
	OpTimeout    time.Duration
	DrainTimeout time.Duration
}

// Executor performs the conditional Pending to Expired transition for fired
// triggers.
type Executor struct {
	config     Config
	store      Store
	notifier   Notifier
	deadLetter DeadLetterSink
	metrics    MetricsSink // optional
	backoff    []time.Duration
	clock      func() time.Time
}

func New(config Config, store Store, notifier Notifier, deadLetter DeadLetterSink) *Executor {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaultMaxAttempts
	}
	if config.OpTimeout <= 0 {
		config.OpTimeout = defaultOpTimeout
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = DrainTimeout
	}
	return &Executor{
		config:     config,
		store:      store,
		notifier:   notifier,
		deadLetter: deadLetter,
		backoff:    defaultBackoff,
		clock:      time.Now,
	}
}

// WithMetrics attaches a metrics sink to the executor.
func (e *Executor) WithMetrics(sink MetricsSink) *Executor {
	e.metrics = sink
	return e
}

// WithBackoff overrides the retry schedule.
func (e *Executor) WithBackoff(backoff []time.Duration) *Executor {
	if len(backoff) > 0 {
		e.backoff = backoff
	}
	return e
}

// Run consumes fire events with Workers goroutines until ctx is cancelled,
// then drains what is still buffered.
func (e *Executor) Run(ctx context.Context, ch <-chan domain.FireEvent) {
	var wg sync.WaitGroup
	for i := 0; i < e.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.work(ctx, ch)
		}()
	}
	log.Info().Str("component", "executor").Int("workers", e.config.Workers).Msg("executor: started")
	wg.Wait()
	log.Info().Str("component", "executor").Msg("executor: stopped")
}

func (e *Executor) work(ctx context.Context, ch <-chan domain.FireEvent) {
	for {
		select {
		case <-ctx.Done():
			e.drain(ch)
			return
		case fire, ok := <-ch:
			if !ok {
				return
			}
			e.Handle(ctx, fire)
		}
	}
}

// drain handles remaining buffered events after shutdown using a background
// context, since the run context is already cancelled.
func (e *Executor) drain(ch <-chan domain.FireEvent) {
	drainCtx, cancel := context.WithTimeout(context.Background(), e.config.DrainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			log.Warn().Str("component", "executor").Int("processed", count).Msg("executor: drain timeout")
			return
		case fire, ok := <-ch:
			if !ok {
				return
			}
			e.Handle(drainCtx, fire)
			count++
		default:
			if count > 0 {
				log.Info().Str("component", "executor").Int("processed", count).Msg("executor: drain complete")
			}
			return
		}
	}
}

// Handle runs Attempt with bounded backoff. A fire that keeps failing is
// dead-lettered and reported as abandoned; the rehydration sweep re-arms the
// task if it is still pending.
func (e *Executor) Handle(ctx context.Context, fire domain.FireEvent) Outcome {
	if e.metrics != nil {
		e.metrics.EventsInFlightIncr()
		defer e.metrics.EventsInFlightDecr()
	}

	var lastErr error
	for attempt := 1; attempt <= e.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			if e.metrics != nil {
				e.metrics.RetryAttempt()
			}

			idx := attempt - 1
			if idx >= len(e.backoff) {
				idx = len(e.backoff) - 1
			}
			if err := sleep(ctx, e.backoff[idx]); err != nil {
				lastErr = err
				break
			}
		}

		outcome, err := e.Attempt(ctx, fire)
		if outcome != OutcomeRetry {
			e.record(outcome)
			return outcome
		}
		lastErr = err

		log.Warn().Err(err).
			Str("component", "executor").
			Str("key", fire.Key.String()).
			Int("attempt", attempt).
			Msg("executor: attempt failed")
	}

	e.abandon(ctx, fire, lastErr)
	e.record(OutcomeAbandoned)
	return OutcomeAbandoned
}

// Attempt makes one try at expiring the fired task.
func (e *Executor) Attempt(ctx context.Context, fire domain.FireEvent) (Outcome, error) {
	opCtx, cancel := context.WithTimeout(ctx, e.config.OpTimeout)
	defer cancel()

	task, err := e.store.Get(opCtx, fire.Key)
	if errors.Is(err, domain.ErrNotFound) {
		e.logSkip(fire, "task removed")
		return OutcomeSkipped, nil
	}
	if err != nil {
		return OutcomeRetry, fmt.Errorf("get task: %w", err)
	}

	if task.Status != domain.TaskStatusPending {
		e.logSkip(fire, "status "+string(task.Status))
		return OutcomeSkipped, nil
	}

	now := e.clock().UTC()
	if task.Deadline.After(now) {
		e.logSkip(fire, "deadline moved")
		return OutcomeSkipped, nil
	}

	// A version other than the armed one with the deadline still passed means
	// a write that the router filtered out, such as a description edit. The
	// conditional write below is then guarded by the version just read.
	if task.Version != fire.PayloadVersion {
		log.Debug().
			Str("component", "executor").
			Str("key", fire.Key.String()).
			Str("armed_version", fire.PayloadVersion).
			Str("current_version", task.Version).
			Msg("executor: version changed without rescheduling")
	}

	expected := task.Version
	task.Status = domain.TaskStatusExpired

	updated, err := e.store.Put(opCtx, task, expected)
	if errors.Is(err, domain.ErrVersionConflict) {
		e.logSkip(fire, "lost race")
		return OutcomeSkipped, nil
	}
	if err != nil {
		return OutcomeRetry, fmt.Errorf("put task: %w", err)
	}

	log.Info().
		Str("component", "executor").
		Str("key", fire.Key.String()).
		Time("deadline", updated.Deadline).
		Msg("executor: task expired")

	e.notifier.Notify(ctx, updated.OwnerID, domain.NotificationExpired, map[string]string{
		"task_id":     updated.TaskID,
		"description": updated.Description,
		"deadline":    updated.Deadline.UTC().Format(time.RFC3339),
	})
	return OutcomeExpired, nil
}

func (e *Executor) abandon(ctx context.Context, fire domain.FireEvent, cause error) {
	if cause == nil {
		cause = errors.New("retries exhausted")
	}

	payload, err := json.Marshal(fire)
	if err != nil {
		payload = []byte(`{}`)
	}

	dl := domain.DeadLetter{
		ID:        uuid.New(),
		Source:    domain.DeadLetterSourceExecutor,
		Key:       fire.Key,
		Payload:   payload,
		Reason:    cause.Error(),
		Attempts:  e.config.MaxAttempts,
		CreatedAt: e.clock().UTC(),
	}

	log.Error().Err(cause).
		Str("component", "executor").
		Str("key", fire.Key.String()).
		Int("attempts", e.config.MaxAttempts).
		Msg("executor: fire abandoned")

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.OpTimeout)
	defer cancel()
	if err := e.deadLetter.InsertDeadLetter(writeCtx, dl); err != nil {
		log.Error().Err(err).Str("component", "executor").Msg("executor: dead-letter write failed")
	}
	if e.metrics != nil {
		e.metrics.EventDeadLettered(string(domain.DeadLetterSourceExecutor))
	}
}

func (e *Executor) logSkip(fire domain.FireEvent, reason string) {
	log.Debug().
		Str("component", "executor").
		Str("key", fire.Key.String()).
		Str("reason", reason).
		Msg("executor: skipped")
}

func (e *Executor) record(outcome Outcome) {
	if e.metrics != nil {
		e.metrics.ExpiryOutcome(string(outcome))
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
