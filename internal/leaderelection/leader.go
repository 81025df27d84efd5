// Package leaderelection decides which engine instance owns the change feed
// and the trigger registry.
//
// Only the leader consumes the feed, runs the scheduler and performs
// rehydration sweeps; every instance serves the API and notifier. With
// Postgres the leader holds a session-scoped advisory lock on a dedicated
// connection. There is no renewal or TTL: if the connection dies, Postgres
// releases the lock server-side. The heartbeat ping only detects local
// connection death so the leader stops its duties promptly.
package leaderelection

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// MetricsSink defines the interface for recording leader election metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string) // reason: "shutdown", "conn_lost"
}

// Lock is a mutual-exclusion primitive shared by all instances.
type Lock interface {
	// TryAcquire returns a held session, or nil if another instance holds the lock.
	TryAcquire(ctx context.Context) (Session, error)
}

// Session is a held lock. Ping fails once the lock can no longer be trusted.
type Session interface {
	Ping(ctx context.Context) error
	Release() error
}

type Config struct {
	RetryInterval     time.Duration // follower: how often to attempt acquisition
	HeartbeatInterval time.Duration // leader: how often to ping the session
}

// Elector runs leader duties while its lock is held.
type Elector struct {
	config    Config
	lock      Lock
	onElected func(ctx context.Context)
	onDemoted func()
	metrics   MetricsSink // optional
}

// New creates an Elector.
//
// onElected is called in a new goroutine when the lock is acquired; its
// context is cancelled when leadership is lost. onDemoted is called
// synchronously after that and must block until leader duties have stopped.
// It must be idempotent.
func New(config Config, lock Lock, onElected func(ctx context.Context), onDemoted func()) *Elector {
	return &Elector{
		config:    config,
		lock:      lock,
		onElected: onElected,
		onDemoted: onDemoted,
	}
}

// WithMetrics attaches a metrics sink to the elector.
func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

// Run campaigns for leadership until ctx is cancelled.
func (e *Elector) Run(ctx context.Context) {
	log.Info().
		Str("component", "leader").
		Dur("retry", e.config.RetryInterval).
		Dur("heartbeat", e.config.HeartbeatInterval).
		Msg("leader: starting election loop")

	for {
		reason := e.runOnce(ctx)
		if ctx.Err() != nil {
			log.Info().Str("component", "leader").Msg("leader: election loop stopped")
			return
		}
		if reason != "" {
			log.Warn().Str("component", "leader").Str("reason", reason).
				Dur("retry", e.config.RetryInterval).Msg("leader: lost leadership")
		}

		timer := time.NewTimer(e.config.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Str("component", "leader").Msg("leader: election loop stopped")
			return
		case <-timer.C:
		}
	}
}

// runOnce tries to take the lock and holds it until it is lost. It returns
// the loss reason, or "" if the lock was not acquired.
func (e *Elector) runOnce(ctx context.Context) string {
	session, err := e.lock.TryAcquire(ctx)
	if err != nil {
		log.Warn().Err(err).Str("component", "leader").Msg("leader: lock attempt failed")
		return ""
	}
	if session == nil {
		log.Debug().Str("component", "leader").Msg("leader: lock held by another instance")
		return ""
	}

	log.Info().Str("component", "leader").Msg("leader: acquired lock")
	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(true)
		e.metrics.LeaderAcquired()
	}

	leaderCtx, cancelLeader := context.WithCancel(ctx)
	go e.onElected(leaderCtx)

	reason := e.hold(ctx, session)

	cancelLeader()
	e.onDemoted()

	if err := session.Release(); err != nil {
		log.Warn().Err(err).Str("component", "leader").Msg("leader: release failed")
	}
	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(false)
		e.metrics.LeaderLost(reason)
	}
	log.Info().Str("component", "leader").Str("reason", reason).Msg("leader: released lock")
	return reason
}

func (e *Elector) hold(ctx context.Context, session Session) string {
	ticker := time.NewTicker(e.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "shutdown"
		case <-ticker.C:
			if err := session.Ping(ctx); err != nil {
				if ctx.Err() != nil {
					return "shutdown"
				}
				log.Error().Err(err).Str("component", "leader").Msg("leader: session ping failed")
				return "conn_lost"
			}
		}
	}
}
