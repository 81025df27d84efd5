// Package reconciler rebuilds the trigger set from the record store.
//
// The scheduler's registry lives in memory. After a restart, a leader
// handover, or an abandoned fire, some Pending tasks may have no live
// trigger, and triggers restored from the store may belong to tasks that are
// no longer Pending. The reconciler periodically pages through every Pending
// task and arms a trigger for each one that lacks it, then cancels live
// triggers of tasks it did not see.
//
// Each page is read after taking a scheduler mark. ArmIfAbsent refuses keys
// the event processor armed or cancelled after that mark, so a sweep racing
// with live events cannot regress the schedule or revive a finished task.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ibra15-cyber/todo-backend/internal/domain"
)

// Store pages through Pending tasks in key order.
type Store interface {
	ListPending(ctx context.Context, after domain.TaskKey, limit int) ([]domain.Task, error)
}

type Scheduler interface {
	Mark() uint64
	ArmIfAbsent(ctx context.Context, key domain.TaskKey, dueAt time.Time, version string, mark uint64) (bool, error)
	CancelStale(ctx context.Context, keep map[domain.TaskKey]struct{}, mark uint64) (int, error)
	Forget(mark uint64) int
}

// Pruner forgets per-key sequence state older than a cutoff.
type Pruner interface {
	Prune(olderThan time.Time) int
}

type Schedule interface {
	Next(after time.Time) time.Time
}

// MetricsSink defines the metrics interface for the reconciler.
type MetricsSink interface {
	TriggersRehydrated(count int)
}

// Config holds reconciler configuration.
type Config struct {
	// Schedule decides when sweeps run after the initial one.
	Schedule Schedule

	// BatchSize is the page size used when listing Pending tasks.
	// Default: 500.
	BatchSize int

	// PruneAge is how long applied sequence numbers are remembered.
	// Default: 1 hour.
	PruneAge time.Duration
}

// Result summarises one sweep.
type Result struct {
	Scanned int
	Armed   int
	Failed  int
	Cleared int
	Pruned  int
}

type Reconciler struct {
	config    Config
	store     Store
	scheduler Scheduler
	pruner    Pruner      // optional
	metrics   MetricsSink // optional
	clock     func() time.Time
}

func New(config Config, store Store, scheduler Scheduler) *Reconciler {
	if config.BatchSize <= 0 {
		config.BatchSize = 500
	}
	if config.PruneAge <= 0 {
		config.PruneAge = time.Hour
	}
	return &Reconciler{
		config:    config,
		store:     store,
		scheduler: scheduler,
		clock:     time.Now,
	}
}

func (r *Reconciler) WithPruner(p Pruner) *Reconciler {
	r.pruner = p
	return r
}

// WithMetrics attaches a metrics sink to the reconciler.
func (r *Reconciler) WithMetrics(sink MetricsSink) *Reconciler {
	r.metrics = sink
	return r
}

// Run sweeps immediately, then whenever the schedule comes due, until ctx
// is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	log.Info().Str("component", "reconciler").Int("batch", r.config.BatchSize).Msg("reconciler: started")

	r.sweep(ctx)

	for {
		now := r.clock()
		next := r.config.Schedule.Next(now)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Str("component", "reconciler").Msg("reconciler: stopped")
			return
		case <-timer.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	res, err := r.RunOnce(ctx)
	if err != nil {
		// Store error: abort the sweep, the next one retries.
		log.Error().Err(err).Str("component", "reconciler").Int("armed", res.Armed).Msg("reconciler: sweep failed")
		return
	}
	if res.Armed > 0 || res.Failed > 0 || res.Cleared > 0 {
		log.Info().
			Str("component", "reconciler").
			Int("scanned", res.Scanned).
			Int("armed", res.Armed).
			Int("failed", res.Failed).
			Int("cleared", res.Cleared).
			Int("pruned", res.Pruned).
			Msg("reconciler: sweep complete")
	}
}

// RunOnce performs a single sweep over all Pending tasks. Past-due tasks are
// armed at now so they fire on the next scheduler tick. Once every page is
// read, triggers set before the sweep for tasks it did not list are
// cancelled.
func (r *Reconciler) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	now := r.clock().UTC()
	start := r.scheduler.Mark()
	seen := make(map[domain.TaskKey]struct{})

	var after domain.TaskKey
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		mark := r.scheduler.Mark()
		tasks, err := r.store.ListPending(ctx, after, r.config.BatchSize)
		if err != nil {
			return res, fmt.Errorf("list pending: %w", err)
		}

		for _, task := range tasks {
			res.Scanned++
			seen[task.Key()] = struct{}{}
			dueAt := task.Deadline.UTC()
			if dueAt.Before(now) {
				dueAt = now
			}

			armed, err := r.scheduler.ArmIfAbsent(ctx, task.Key(), dueAt, task.Version, mark)
			if err != nil {
				res.Failed++
				log.Warn().Err(err).Str("component", "reconciler").Str("key", task.Key().String()).
					Msg("reconciler: arm failed")
				continue
			}
			if armed {
				res.Armed++
				log.Debug().Str("component", "reconciler").Str("key", task.Key().String()).
					Time("due_at", dueAt).Msg("reconciler: trigger rehydrated")
			}
		}

		if len(tasks) < r.config.BatchSize {
			break
		}
		after = tasks[len(tasks)-1].Key()
	}

	cleared, err := r.scheduler.CancelStale(ctx, seen, start)
	res.Cleared = cleared
	if err != nil {
		res.Failed++
		log.Warn().Err(err).Str("component", "reconciler").Msg("reconciler: clear stale triggers failed")
	}
	r.scheduler.Forget(r.scheduler.Mark())

	if r.pruner != nil {
		res.Pruned = r.pruner.Prune(now.Add(-r.config.PruneAge))
	}
	if r.metrics != nil {
		r.metrics.TriggersRehydrated(res.Armed)
	}
	return res, nil
}
