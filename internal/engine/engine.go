// Package engine wires the expiry pipeline together and runs it.
//
// Every instance runs the expiry executor and the notifier. Only the elected
// leader consumes the change feed and owns the trigger registry; each term
// builds a fresh scheduler, restores persisted triggers and rehydrates from
// the record store, so a new leader never depends on its predecessor's
// memory.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ibra15-cyber/todo-backend/internal/cron"
	"github.com/ibra15-cyber/todo-backend/internal/dedup"
	"github.com/ibra15-cyber/todo-backend/internal/domain"
	"github.com/ibra15-cyber/todo-backend/internal/expiry"
	"github.com/ibra15-cyber/todo-backend/internal/leaderelection"
	"github.com/ibra15-cyber/todo-backend/internal/metrics"
	"github.com/ibra15-cyber/todo-backend/internal/notifier"
	"github.com/ibra15-cyber/todo-backend/internal/processor"
	"github.com/ibra15-cyber/todo-backend/internal/reconciler"
	"github.com/ibra15-cyber/todo-backend/internal/router"
	"github.com/ibra15-cyber/todo-backend/internal/scheduler"
	"github.com/ibra15-cyber/todo-backend/internal/transport/channel"
)

const defaultRehydrateSchedule = "@every 5m"

// Store is everything the engine needs from the record store.
type Store interface {
	expiry.Store
	router.Feed
	scheduler.TriggerStore
	reconciler.Store
	InsertDeadLetter(ctx context.Context, dl domain.DeadLetter) error
}

type Config struct {
	TickInterval      time.Duration
	FireBusBufferSize int
	DedupTTL          time.Duration

	Router     router.Config
	Executor   expiry.Config
	Notifier   notifier.Config
	Reconciler reconciler.Config
	Leader     leaderelection.Config
}

// Deps are the engine's collaborators. Only Store is required.
type Deps struct {
	Store   Store
	Dedup   dedup.Store         // default: in-memory, DedupTTL
	Sender  notifier.Sender     // default: notifier.LogSender
	Breaker notifier.Breaker    // optional
	Lock    leaderelection.Lock // default: leaderelection.LocalLock
	Metrics metrics.Sink        // default: metrics.NoopSink
}

type Engine struct {
	config Config
	deps   Deps

	bus      *channel.EventBus
	notifier *notifier.Notifier
	executor *expiry.Executor
	elector  *leaderelection.Elector

	mu   sync.Mutex
	term *term
}

// term holds the leader-only components of one leadership term.
type term struct {
	scheduler  *scheduler.Scheduler
	processor  *processor.Processor
	router     *router.Router
	reconciler *reconciler.Reconciler
	done       chan struct{}
}

func New(config Config, deps Deps) *Engine {
	if config.DedupTTL <= 0 {
		config.DedupTTL = 24 * time.Hour
	}
	if deps.Dedup == nil {
		deps.Dedup = dedup.NewMemoryStore(config.DedupTTL)
	}
	if deps.Sender == nil {
		deps.Sender = notifier.LogSender{}
	}
	if deps.Lock == nil {
		deps.Lock = leaderelection.LocalLock{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoopSink()
	}
	if config.TickInterval <= 0 {
		config.TickInterval = time.Second
	}
	if config.FireBusBufferSize <= 0 {
		config.FireBusBufferSize = 100
	}
	if config.Reconciler.Schedule == nil {
		sched, err := cron.NewParser().Parse(defaultRehydrateSchedule, "")
		if err != nil {
			panic("engine: default rehydrate schedule: " + err.Error())
		}
		config.Reconciler.Schedule = sched
	}
	if config.Leader.RetryInterval <= 0 {
		config.Leader.RetryInterval = 5 * time.Second
	}
	if config.Leader.HeartbeatInterval <= 0 {
		config.Leader.HeartbeatInterval = 2 * time.Second
	}

	e := &Engine{config: config, deps: deps}

	e.bus = channel.NewEventBus(config.FireBusBufferSize, channel.WithMetrics(deps.Metrics))

	e.notifier = notifier.New(config.Notifier, deps.Sender).WithMetrics(deps.Metrics)
	if deps.Breaker != nil {
		e.notifier = e.notifier.WithBreaker(deps.Breaker)
	}

	e.executor = expiry.New(config.Executor, deps.Store, e.notifier, deps.Store).WithMetrics(deps.Metrics)

	e.elector = leaderelection.New(config.Leader, deps.Lock, e.lead, e.demote).WithMetrics(deps.Metrics)
	return e
}

// Notifier returns the engine's notifier, for the welcome endpoint.
func (e *Engine) Notifier() *notifier.Notifier {
	return e.notifier
}

// Start begins accepting notifications. Run calls it too.
func (e *Engine) Start(ctx context.Context) {
	e.notifier.Start(ctx)
}

// Run campaigns for leadership and executes fired triggers until ctx is
// cancelled, then shuts down in order: leader duties, executor drain,
// notifier drain. drainTimeout bounds the notifier drain.
func (e *Engine) Run(ctx context.Context, drainTimeout time.Duration) {
	e.Start(context.Background())

	execCtx, cancelExec := context.WithCancel(context.Background())
	var execWG sync.WaitGroup
	execWG.Add(1)
	go func() {
		defer execWG.Done()
		e.executor.Run(execCtx, e.bus.Channel())
	}()

	log.Info().Str("component", "engine").Dur("tick", e.config.TickInterval).Msg("engine: started")

	// Returns after leader duties have stopped.
	e.elector.Run(ctx)

	log.Info().Str("component", "engine").Int("buffered", e.bus.Len()).Msg("engine: stopping executor (draining fire events)...")
	cancelExec()
	execWG.Wait()

	log.Info().Str("component", "engine").Msg("engine: stopping notifier...")
	stopCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	e.notifier.Stop(stopCtx)

	log.Info().Str("component", "engine").Msg("engine: stopped")
}

// Leading reports whether this instance currently holds leader duties.
func (e *Engine) Leading() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.term != nil
}

// Scheduler returns the current term's trigger registry, or nil when not leading.
func (e *Engine) Scheduler() *scheduler.Scheduler {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.term == nil {
		return nil
	}
	return e.term.scheduler
}

func (e *Engine) newTerm() *term {
	m := e.deps.Metrics

	sched := scheduler.New(scheduler.Config{TickInterval: e.config.TickInterval}, e.bus).
		WithStore(e.deps.Store).
		WithMetrics(m)
	proc := processor.New(sched).WithMetrics(m)

	return &term{
		scheduler: sched,
		processor: proc,
		router:    router.New(e.config.Router, proc, e.deps.Dedup, e.deps.Store).WithMetrics(m),
		reconciler: reconciler.New(e.config.Reconciler, e.deps.Store, sched).
			WithPruner(proc).
			WithMetrics(m),
		done: make(chan struct{}),
	}
}

// lead runs leader duties until ctx is cancelled.
func (e *Engine) lead(ctx context.Context) {
	e.mu.Lock()
	if ctx.Err() != nil {
		// demote already ran for this term.
		e.mu.Unlock()
		return
	}
	t := e.newTerm()
	e.term = t
	e.mu.Unlock()
	defer close(t.done)

	if n, err := t.scheduler.Restore(ctx); err != nil {
		log.Error().Err(err).Str("component", "engine").Msg("engine: restore triggers failed, relying on rehydration")
	} else {
		log.Info().Str("component", "engine").Int("restored", n).Msg("engine: leader duties starting")
	}

	t.router.Start()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		t.scheduler.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		t.reconciler.Run(ctx)
	}()

	e.consumeFeed(ctx, t.router)

	t.router.Stop()
	wg.Wait()
	log.Info().Str("component", "engine").Msg("engine: leader duties stopped")
}

// consumeFeed keeps the router attached to the change feed, resubscribing
// from the durable cursor after failures.
func (e *Engine) consumeFeed(ctx context.Context, r *router.Router) {
	backoff := time.Second
	for {
		err := r.Run(ctx, e.deps.Store)
		if ctx.Err() != nil {
			return
		}
		log.Error().Err(err).Str("component", "engine").Dur("retry_in", backoff).Msg("engine: feed consumption failed")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// demote blocks until the current term's duties have stopped.
func (e *Engine) demote() {
	e.mu.Lock()
	t := e.term
	e.term = nil
	e.mu.Unlock()

	if t != nil {
		<-t.done
	}
}
