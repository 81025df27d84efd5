// Package notifier delivers owner notifications asynchronously. Callers are
// never blocked and never see delivery failures: Notify enqueues onto a
// bounded queue and a small worker pool sends with rate limiting, circuit
// breaking and local retry.
package notifier

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/ibra15-cyber/todo-backend/internal/domain"
)

var errRetriesExhausted = errors.New("retries exhausted")

// Breaker short-circuits sends to a failing endpoint.
type Breaker interface {
	Allow(endpoint string) error
	RecordSuccess(endpoint string)
	RecordFailure(endpoint string)
}

// MetricsSink defines the interface for recording notifier metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	NotificationAttemptCompleted(statusClass string, duration time.Duration)
	NotificationOutcome(kind, outcome string)
}

type Config struct {
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

type Notifier struct {
	cfg     Config
	sender  Sender
	breaker Breaker     // optional
	metrics MetricsSink // optional
	limiter *rate.Limiter
	clock   func() time.Time

	mu        sync.Mutex
	accepting bool
	queue     chan domain.Notification
	sendWG    sync.WaitGroup
	workers   sync.WaitGroup
	cancel    context.CancelFunc
}

func New(cfg Config, sender Sender) *Notifier {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 512
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 10
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}

	return &Notifier{
		cfg:    cfg,
		sender: sender,
		// Burst equals the per-second rate so short spikes are not throttled.
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		clock:   time.Now,
	}
}

func (n *Notifier) WithBreaker(b Breaker) *Notifier {
	n.breaker = b
	return n
}

// WithMetrics attaches a metrics sink to the notifier.
func (n *Notifier) WithMetrics(sink MetricsSink) *Notifier {
	n.metrics = sink
	return n
}

// Start launches the worker pool. Calling Start on a running notifier is a no-op.
func (n *Notifier) Start(ctx context.Context) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.queue != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.queue = make(chan domain.Notification, n.cfg.QueueSize)
	n.accepting = true

	q := n.queue
	for i := 0; i < n.cfg.Workers; i++ {
		n.workers.Add(1)
		go func() {
			defer n.workers.Done()
			n.workerLoop(runCtx, q)
		}()
	}

	log.Info().
		Str("component", "notifier").
		Str("endpoint", n.sender.Endpoint()).
		Int("workers", n.cfg.Workers).
		Msg("notifier: started")
}

// Notify builds and enqueues a notification. It never blocks: when the
// notifier is stopped or its queue is full the notification is dropped.
func (n *Notifier) Notify(ctx context.Context, ownerID string, kind domain.NotificationKind, details map[string]string) {
	subject, message := BuildMessage(kind, details)
	note := domain.Notification{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Kind:      kind,
		Subject:   subject,
		Message:   message,
		Details:   details,
		CreatedAt: n.clock().UTC(),
	}

	n.mu.Lock()
	if !n.accepting {
		n.mu.Unlock()
		n.drop(note, "notifier stopped")
		return
	}
	q := n.queue
	n.sendWG.Add(1)
	n.mu.Unlock()
	defer n.sendWG.Done()

	select {
	case q <- note:
	default:
		n.drop(note, "queue full")
	}
}

// Stop stops intake and drains the queue best-effort until ctx is done.
func (n *Notifier) Stop(ctx context.Context) {
	n.mu.Lock()
	q := n.queue
	if q == nil || !n.accepting {
		n.mu.Unlock()
		return
	}
	n.accepting = false
	cancel := n.cancel
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		n.sendWG.Wait()
		close(q)
		n.workers.Wait()
	}()

	select {
	case <-done:
		log.Info().Str("component", "notifier").Msg("notifier: drained")
	case <-ctx.Done():
		cancel()
		log.Warn().Str("component", "notifier").Int("remaining", len(q)).Msg("notifier: drain timeout")
	}
}

func (n *Notifier) workerLoop(ctx context.Context, q <-chan domain.Notification) {
	for note := range q {
		n.deliver(ctx, note)
	}
}

func (n *Notifier) deliver(ctx context.Context, note domain.Notification) {
	endpoint := n.sender.Endpoint()
	attempts := 1 + n.cfg.RetryMax

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, n.retryDelay(attempt-1)); err != nil {
				lastErr = err
				break
			}
		}

		if n.breaker != nil {
			if err := n.breaker.Allow(endpoint); err != nil {
				lastErr = err
				break
			}
		}

		if err := n.limiter.Wait(ctx); err != nil {
			lastErr = err
			break
		}

		result := n.sender.Send(ctx, note)
		if n.metrics != nil {
			n.metrics.NotificationAttemptCompleted(classify(result), result.Duration)
		}

		if result.IsSuccess() {
			if n.breaker != nil {
				n.breaker.RecordSuccess(endpoint)
			}
			n.outcome(note, outcomeSent)
			log.Debug().
				Str("component", "notifier").
				Str("owner_id", note.OwnerID).
				Str("kind", string(note.Kind)).
				Int("attempt", attempt).
				Msg("notifier: sent")
			return
		}

		if n.breaker != nil {
			n.breaker.RecordFailure(endpoint)
		}
		lastErr = result.Error
		if lastErr == nil {
			lastErr = errors.New("status " + httpStatusText(result.StatusCode))
		}
		if !result.IsRetryable() {
			break
		}
	}

	if lastErr == nil {
		lastErr = errRetriesExhausted
	}
	log.Warn().Err(lastErr).
		Str("component", "notifier").
		Str("owner_id", note.OwnerID).
		Str("kind", string(note.Kind)).
		Msg("notifier: delivery failed")
	n.outcome(note, outcomeFailed)
}

func (n *Notifier) drop(note domain.Notification, reason string) {
	log.Warn().
		Str("component", "notifier").
		Str("owner_id", note.OwnerID).
		Str("kind", string(note.Kind)).
		Str("reason", reason).
		Msg("notifier: notification dropped")
	n.outcome(note, outcomeDropped)
}

func (n *Notifier) outcome(note domain.Notification, outcome string) {
	if n.metrics != nil {
		n.metrics.NotificationOutcome(string(note.Kind), outcome)
	}
}

func (n *Notifier) retryDelay(retry int) time.Duration {
	d := n.cfg.RetryBase << (retry - 1)
	if d <= 0 || d > n.cfg.RetryMaxDelay {
		return n.cfg.RetryMaxDelay
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
