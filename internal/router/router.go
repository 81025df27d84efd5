// Package router consumes the record store's change feed and delivers
// scheduling-relevant events to the processor, ordered per task key and
// parallel across keys.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ibra15-cyber/todo-backend/internal/dedup"
	"github.com/ibra15-cyber/todo-backend/internal/domain"
	"github.com/ibra15-cyber/todo-backend/internal/metrics"
	"github.com/ibra15-cyber/todo-backend/internal/processor"
)

// ErrQueueFull is returned when a shard queue stays full past the enqueue timeout.
var ErrQueueFull = errors.New("shard queue full")

type Processor interface {
	Process(ctx context.Context, event domain.ChangeEvent) (processor.Command, error)
}

type DeadLetterSink interface {
	InsertDeadLetter(ctx context.Context, dl domain.DeadLetter) error
}

// Feed is the restartable change feed of the record store.
type Feed interface {
	Subscribe(ctx context.Context, after int64) <-chan domain.ChangeEvent
	LoadCursor(ctx context.Context, consumer string) (int64, error)
	SaveCursor(ctx context.Context, consumer string, seq int64) error
}

// MetricsSink defines the metrics interface for the router.
// Implementations must be non-blocking and fire-and-forget.
type MetricsSink interface {
	EventRouted()
	EventDropped(reason string)
	EventDeadLettered(source string)
	RouteRetry()
	QueueDepthUpdate(depth int)
}

type Config struct {
	Shards         int
	QueueSize      int
	EnqueueTimeout time.Duration
	RetryMax       int
	RetryBase      time.Duration
	RetryMaxDelay  time.Duration
	DrainTimeout   time.Duration
	Consumer       string // cursor name
}

// DefaultConfig returns the router defaults.
func DefaultConfig() Config {
	return Config{
		Shards:         8,
		QueueSize:      256,
		EnqueueTimeout: time.Second,
		RetryMax:       5,
		RetryBase:      100 * time.Millisecond,
		RetryMaxDelay:  5 * time.Second,
		DrainTimeout:   10 * time.Second,
		Consumer:       "expiry-router",
	}
}

type Router struct {
	config     Config
	processor  Processor
	dedup      dedup.Store
	deadLetter DeadLetterSink
	metrics    MetricsSink // optional

	shards []chan domain.ChangeEvent
	wg     sync.WaitGroup
	once   sync.Once
	sleep  func(ctx context.Context, d time.Duration) error
	clock  func() time.Time
}

func New(config Config, proc Processor, dd dedup.Store, deadLetter DeadLetterSink) *Router {
	if config.Shards <= 0 {
		config.Shards = 1
	}
	r := &Router{
		config:     config,
		processor:  proc,
		dedup:      dd,
		deadLetter: deadLetter,
		shards:     make([]chan domain.ChangeEvent, config.Shards),
		sleep:      sleepCtx,
		clock:      time.Now,
	}
	for i := range r.shards {
		r.shards[i] = make(chan domain.ChangeEvent, config.QueueSize)
	}
	return r
}

// WithMetrics attaches a metrics sink to the router.
func (r *Router) WithMetrics(sink MetricsSink) *Router {
	r.metrics = sink
	return r
}

// Start launches one worker per shard. Workers exit once Stop closes the queues.
func (r *Router) Start() {
	for i, ch := range r.shards {
		r.wg.Add(1)
		go r.worker(i, ch)
	}
	log.Info().Str("component", "router").Int("shards", len(r.shards)).Msg("router: started")
}

// Stop closes the shard queues and waits for workers to drain them, bounded
// by DrainTimeout. Route must not be called after Stop.
func (r *Router) Stop() {
	r.once.Do(func() {
		for _, ch := range r.shards {
			close(ch)
		}
	})

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Str("component", "router").Msg("router: drained")
	case <-time.After(r.config.DrainTimeout):
		log.Warn().Str("component", "router").Int("remaining", r.depth()).Msg("router: drain timeout")
	}
}

// Run consumes the feed from the durable cursor until ctx is done. The cursor
// advances after each event is routed. Events lost between routing and
// processing are repaired by the rehydration sweep, which arms missing
// triggers and clears those of tasks no longer Pending.
func (r *Router) Run(ctx context.Context, feed Feed) error {
	after, err := feed.LoadCursor(ctx, r.config.Consumer)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	log.Info().Str("component", "router").Int64("cursor", after).Msg("router: consuming feed")

	events := feed.Subscribe(ctx, after)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return ctx.Err()
			}
			if err := r.Route(ctx, event); err != nil {
				return err
			}
			if event.Sequence > after {
				after = event.Sequence
				if err := feed.SaveCursor(ctx, r.config.Consumer, after); err != nil {
					log.Warn().Err(err).Str("component", "router").Msg("router: save cursor failed")
				}
			}
		}
	}
}

// Route filters, deduplicates and enqueues one event. It returns an error only
// when ctx is cancelled; every other failure ends in the dead-letter sink.
func (r *Router) Route(ctx context.Context, event domain.ChangeEvent) error {
	if err := validate(event); err != nil {
		r.deadLetterEvent(ctx, event, err, 0)
		return nil
	}

	if !relevant(event) {
		if r.metrics != nil {
			r.metrics.EventDropped(droppedIrrelevant)
		}
		return nil
	}

	id := event.DedupID()
	claimed, err := r.dedup.Claim(ctx, id)
	if err != nil {
		// Fail open: replays are idempotent downstream.
		log.Warn().Err(err).Str("component", "router").Str("id", id).Msg("router: dedup unavailable")
		claimed = true
	}
	if !claimed {
		if r.metrics != nil {
			r.metrics.EventDropped(droppedDuplicate)
		}
		return nil
	}

	shard := r.shards[r.shardFor(event.Key)]

	var lastErr error
	for attempt := 1; attempt <= r.attempts(); attempt++ {
		lastErr = r.enqueue(ctx, shard, event)
		if lastErr == nil {
			if r.metrics != nil {
				r.metrics.EventRouted()
				r.metrics.QueueDepthUpdate(r.depth())
			}
			return nil
		}
		if ctx.Err() != nil {
			r.release(id)
			return ctx.Err()
		}
		if attempt < r.attempts() {
			if r.metrics != nil {
				r.metrics.RouteRetry()
			}
			if err := r.sleep(ctx, r.backoff(attempt)); err != nil {
				r.release(id)
				return err
			}
		}
	}

	r.release(id)
	r.deadLetterEvent(ctx, event, lastErr, r.attempts())
	return nil
}

func (r *Router) enqueue(ctx context.Context, shard chan domain.ChangeEvent, event domain.ChangeEvent) error {
	timer := time.NewTimer(r.config.EnqueueTimeout)
	defer timer.Stop()

	select {
	case shard <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrQueueFull
	}
}

func (r *Router) worker(i int, ch <-chan domain.ChangeEvent) {
	defer r.wg.Done()
	for event := range ch {
		r.handle(event)
	}
	log.Debug().Str("component", "router").Int("shard", i).Msg("router: shard worker exited")
}

// handle processes one event with retries. Processing continues after Stop
// so queued events are drained rather than lost.
func (r *Router) handle(event domain.ChangeEvent) {
	ctx := context.Background()
	id := event.DedupID()

	var (
		lastErr  error
		attempts int
	)
	for attempt := 1; attempt <= r.attempts(); attempt++ {
		attempts = attempt
		err := r.process(ctx, event)
		if err == nil {
			return
		}
		lastErr = err

		if errors.Is(err, domain.ErrPoisonEvent) {
			break
		}

		log.Warn().Err(err).
			Str("component", "router").
			Str("key", event.Key.String()).
			Int64("seq", event.Sequence).
			Int("attempt", attempt).
			Msg("router: process failed")

		if attempt < r.attempts() {
			if r.metrics != nil {
				r.metrics.RouteRetry()
			}
			r.sleep(ctx, r.backoff(attempt))
		}
	}

	r.release(id)
	r.deadLetterEvent(ctx, event, lastErr, attempts)
}

func (r *Router) deadLetterEvent(ctx context.Context, event domain.ChangeEvent, cause error, attempts int) {
	payload, err := json.Marshal(event)
	if err != nil {
		payload = []byte(`{}`)
	}

	dl := domain.DeadLetter{
		ID:        uuid.New(),
		Source:    domain.DeadLetterSourceRouter,
		Key:       event.Key,
		Sequence:  event.Sequence,
		Payload:   payload,
		Reason:    cause.Error(),
		Attempts:  attempts,
		CreatedAt: r.clock().UTC(),
	}

	log.Error().Err(cause).
		Str("component", "router").
		Str("key", event.Key.String()).
		Int64("seq", event.Sequence).
		Int("attempts", attempts).
		Msg("router: event dead-lettered")

	// Dead letters outlive a cancelled caller.
	if err := r.deadLetter.InsertDeadLetter(context.WithoutCancel(ctx), dl); err != nil {
		log.Error().Err(err).Str("component", "router").Msg("router: dead-letter write failed")
	}
	if r.metrics != nil {
		r.metrics.EventDeadLettered(string(domain.DeadLetterSourceRouter))
	}
}

func (r *Router) release(id string) {
	if err := r.dedup.Release(context.Background(), id); err != nil {
		log.Warn().Err(err).Str("component", "router").Str("id", id).Msg("router: dedup release failed")
	}
}

// process runs the processor, turning a panic into a poison error so one bad
// event cannot take down its shard.
func (r *Router) process(ctx context.Context, event domain.ChangeEvent) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: panic: %v", domain.ErrPoisonEvent, p)
		}
	}()
	_, err = r.processor.Process(ctx, event)
	return err
}

func (r *Router) shardFor(key domain.TaskKey) int {
	h := fnv.New32a()
	h.Write([]byte(key.String()))
	return int(h.Sum32() % uint32(len(r.shards)))
}

func (r *Router) depth() int {
	n := 0
	for _, ch := range r.shards {
		n += len(ch)
	}
	return n
}

func (r *Router) attempts() int {
	if r.config.RetryMax < 1 {
		return 1
	}
	return r.config.RetryMax
}

func (r *Router) backoff(attempt int) time.Duration {
	d := r.config.RetryBase << (attempt - 1)
	if d <= 0 || d > r.config.RetryMaxDelay {
		return r.config.RetryMaxDelay
	}
	return d
}

func validate(event domain.ChangeEvent) error {
	switch {
	case event.Key.IsZero():
		return fmt.Errorf("%w: missing task key", domain.ErrPoisonEvent)
	case !event.Type.Valid():
		return fmt.Errorf("%w: unknown change type %q", domain.ErrPoisonEvent, event.Type)
	case event.Image() == nil:
		return fmt.Errorf("%w: %s event without image", domain.ErrPoisonEvent, event.Type)
	}
	return nil
}

// relevant reports whether the event can change the trigger set. Modify
// events that leave status and deadline untouched are not.
func relevant(event domain.ChangeEvent) bool {
	if event.Type != domain.ChangeModify || event.Before == nil || event.After == nil {
		return true
	}
	return event.Before.Status != event.After.Status ||
		!event.Before.Deadline.Equal(event.After.Deadline)
}

const (
	droppedIrrelevant = metrics.DropIrrelevant
	droppedDuplicate  = metrics.DropDuplicate
)

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
