package metrics

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
type Sink interface {
	// Router metrics
	EventRouted()
	EventDropped(reason string)
	EventDeadLettered(source string)
	RouteRetry()
	QueueDepthUpdate(depth int)

	// Processor metrics
	CommandApplied(kind string)

	// Scheduler metrics
	TickStarted()
	TickCompleted(duration time.Duration, fired int, err error)
	TriggersArmedUpdate(count int)
	FireLagObserve(lag time.Duration)

	// Executor metrics
	ExpiryOutcome(outcome string)
	RetryAttempt()
	EventsInFlightIncr()
	EventsInFlightDecr()

	// EventBus metrics
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	BufferSaturationUpdate(saturation float64)
	EmitError()

	// Notifier metrics
	NotificationAttemptCompleted(statusClass string, duration time.Duration)
	NotificationOutcome(kind, outcome string)

	// Reconciler metrics
	TriggersRehydrated(count int)

	// Leader election metrics
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

// Drop reasons for EventDropped.
const (
	DropIrrelevant = "irrelevant"
	DropDuplicate  = "duplicate"
)

// Outcome constants for ExpiryOutcome and NotificationOutcome.
const (
	OutcomeExpired   = "expired"
	OutcomeSkipped   = "skipped"
	OutcomeAbandoned = "abandoned"

	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeDropped = "dropped"
)

// StatusClass constants for NotificationAttemptCompleted.
const (
	StatusClass2xx             = "2xx"
	StatusClass4xx             = "4xx"
	StatusClass5xx             = "5xx"
	StatusClassTimeout         = "timeout"
	StatusClassConnectionError = "connection_error"
	StatusClassOtherError      = "other_error"
)

// ClassifyStatus maps a status code and error to a bounded-cardinality status class.
func ClassifyStatus(statusCode int, err error) string {
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return StatusClassTimeout
		}
		var opErr *net.OpError
		var dnsErr *net.DNSError
		if errors.As(err, &opErr) || errors.As(err, &dnsErr) {
			return StatusClassConnectionError
		}

		// Errors that lost their type on the way up are matched by text.
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
			return StatusClassTimeout
		case strings.Contains(msg, "connection refused"),
			strings.Contains(msg, "no such host"),
			strings.Contains(msg, "network is unreachable"),
			strings.Contains(msg, "dial"):
			return StatusClassConnectionError
		}
		return StatusClassOtherError
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusClass2xx
	case statusCode >= 400 && statusCode < 500:
		return StatusClass4xx
	case statusCode >= 500:
		return StatusClass5xx
	default:
		return StatusClassOtherError
	}
}
