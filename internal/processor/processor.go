package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ibra15-cyber/todo-backend/internal/domain"
)

// TriggerScheduler is the subset of the scheduler the processor drives.
type TriggerScheduler interface {
	Arm(ctx context.Context, key domain.TaskKey, dueAt time.Time, version string) error
	Cancel(ctx context.Context, key domain.TaskKey) error
}

// MetricsSink records applied commands. Methods must not block.
type MetricsSink interface {
	CommandApplied(kind string)
}

type CommandKind string

const (
	CommandArm     CommandKind = "arm"
	CommandCancel  CommandKind = "cancel"
	CommandDiscard CommandKind = "discard"
)

// Command is the scheduler instruction derived from one change event.
type Command struct {
	Kind    CommandKind
	Key     domain.TaskKey
	DueAt   time.Time
	Version string
}

type seen struct {
	seq       int64
	appliedAt time.Time
}

// Processor turns change events into trigger commands. It never writes the
// record store; the scheduler is the only state it changes.
type Processor struct {
	scheduler TriggerScheduler
	metrics   MetricsSink
	clock     func() time.Time

	mu   sync.Mutex
	last map[domain.TaskKey]seen
}

func New(scheduler TriggerScheduler) *Processor {
	return &Processor{
		scheduler: scheduler,
		clock:     time.Now,
		last:      make(map[domain.TaskKey]seen),
	}
}

func (p *Processor) WithMetrics(sink MetricsSink) *Processor {
	p.metrics = sink
	return p
}

// Process derives and applies exactly one command for the event. Events older
// than the last applied sequence for their key are discarded without touching
// the scheduler. Replaying the latest event yields the same command again.
func (p *Processor) Process(ctx context.Context, event domain.ChangeEvent) (Command, error) {
	if event.Key.IsZero() || !event.Type.Valid() {
		return Command{}, fmt.Errorf("%w: key=%q type=%q", domain.ErrPoisonEvent, event.Key, event.Type)
	}

	p.mu.Lock()
	prev, ok := p.last[event.Key]
	p.mu.Unlock()

	if ok && event.Sequence < prev.seq {
		log.Debug().
			Str("component", "processor").
			Str("key", event.Key.String()).
			Int64("seq", event.Sequence).
			Int64("last_seq", prev.seq).
			Msg("processor: stale event discarded")
		p.record(CommandDiscard)
		return Command{Kind: CommandDiscard, Key: event.Key}, nil
	}

	cmd, err := p.decide(event)
	if err != nil {
		return Command{}, err
	}

	if err := p.apply(ctx, cmd); err != nil {
		return Command{}, err
	}

	p.mu.Lock()
	if cur, ok := p.last[event.Key]; !ok || event.Sequence >= cur.seq {
		p.last[event.Key] = seen{seq: event.Sequence, appliedAt: p.clock()}
	}
	p.mu.Unlock()

	p.record(cmd.Kind)
	return cmd, nil
}

func (p *Processor) decide(event domain.ChangeEvent) (Command, error) {
	if event.Type == domain.ChangeRemove {
		return Command{Kind: CommandCancel, Key: event.Key}, nil
	}

	task := event.After
	if task == nil {
		return Command{}, fmt.Errorf("%w: %s event without after-image", domain.ErrPoisonEvent, event.Type)
	}
	if task.Status.Terminal() {
		return Command{Kind: CommandCancel, Key: event.Key}, nil
	}

	// Past-due deadlines are armed at now and fire on the next tick.
	dueAt := task.Deadline.UTC()
	if now := p.clock().UTC(); dueAt.Before(now) {
		dueAt = now
	}
	return Command{Kind: CommandArm, Key: event.Key, DueAt: dueAt, Version: task.Version}, nil
}

func (p *Processor) apply(ctx context.Context, cmd Command) error {
	switch cmd.Kind {
	case CommandArm:
		if err := p.scheduler.Arm(ctx, cmd.Key, cmd.DueAt, cmd.Version); err != nil {
			return fmt.Errorf("arm %s: %w", cmd.Key, err)
		}
	case CommandCancel:
		if err := p.scheduler.Cancel(ctx, cmd.Key); err != nil {
			return fmt.Errorf("cancel %s: %w", cmd.Key, err)
		}
	}
	return nil
}

func (p *Processor) record(kind CommandKind) {
	if p.metrics != nil {
		p.metrics.CommandApplied(string(kind))
	}
}

// Prune forgets sequence numbers applied before olderThan and returns how many
// were dropped. A key with no remembered sequence accepts any event.
func (p *Processor) Prune(olderThan time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for key, s := range p.last {
		if s.appliedAt.Before(olderThan) {
			delete(p.last, key)
			n++
		}
	}
	return n
}

// LastSequence returns the last applied sequence for key.
func (p *Processor) LastSequence(key domain.TaskKey) (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.last[key]
	return s.seq, ok
}
