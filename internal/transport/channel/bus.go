package channel

import (
	"context"
	"errors"
	"time"

	"github.com/ibra15-cyber/todo-backend/internal/domain"
)

// DefaultEmitTimeout bounds how long Emit waits for buffer space.
const DefaultEmitTimeout = 100 * time.Millisecond

var ErrBufferFull = errors.New("event bus buffer full")

// MetricsSink receives buffer statistics. Methods must not block.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	BufferSaturationUpdate(saturation float64)
	EmitError()
}

type Option func(*EventBus)

func WithEmitTimeout(d time.Duration) Option {
	return func(b *EventBus) {
		b.emitTimeout = d
	}
}

func WithMetrics(m MetricsSink) Option {
	return func(b *EventBus) {
		b.metrics = m
	}
}

// EventBus carries fire events from the trigger scheduler to the expiry executor.
type EventBus struct {
	ch          chan domain.FireEvent
	emitTimeout time.Duration
	metrics     MetricsSink
}

func NewEventBus(buffer int, opts ...Option) *EventBus {
	b := &EventBus{
		ch:          make(chan domain.FireEvent, buffer),
		emitTimeout: DefaultEmitTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics != nil {
		b.metrics.BufferCapacitySet(buffer)
	}
	return b
}

// Emit enqueues the event, failing with ErrBufferFull when no space frees up
// within the emit timeout.
func (b *EventBus) Emit(ctx context.Context, event domain.FireEvent) error {
	timer := time.NewTimer(b.emitTimeout)
	defer timer.Stop()

	select {
	case b.ch <- event:
		b.updateBufferMetrics()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		b.updateBufferMetrics()
		return ErrBufferFull
	}
}

// Channel is read by the executor workers.
func (b *EventBus) Channel() <-chan domain.FireEvent {
	return b.ch
}

// Len is the number of fire events waiting to be handled.
func (b *EventBus) Len() int {
	return len(b.ch)
}

func (b *EventBus) updateBufferMetrics() {
	if b.metrics == nil {
		return
	}
	size := len(b.ch)
	b.metrics.BufferSizeUpdate(size)
	if c := cap(b.ch); c > 0 {
		b.metrics.BufferSaturationUpdate(float64(size) / float64(c))
	}
}
