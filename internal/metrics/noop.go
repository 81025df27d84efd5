package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) EventRouted()                                                     {}
func (n *NoopSink) EventDropped(reason string)                                       {}
func (n *NoopSink) EventDeadLettered(source string)                                  {}
func (n *NoopSink) RouteRetry()                                                      {}
func (n *NoopSink) QueueDepthUpdate(depth int)                                       {}
func (n *NoopSink) CommandApplied(kind string)                                       {}
func (n *NoopSink) TickStarted()                                                     {}
func (n *NoopSink) TickCompleted(duration time.Duration, fired int, err error)       {}
func (n *NoopSink) TriggersArmedUpdate(count int)                                    {}
func (n *NoopSink) FireLagObserve(lag time.Duration)                                 {}
func (n *NoopSink) ExpiryOutcome(outcome string)                                     {}
func (n *NoopSink) RetryAttempt()                                                    {}
func (n *NoopSink) EventsInFlightIncr()                                              {}
func (n *NoopSink) EventsInFlightDecr()                                              {}
func (n *NoopSink) BufferSizeUpdate(size int)                                        {}
func (n *NoopSink) BufferCapacitySet(capacity int)                                   {}
func (n *NoopSink) BufferSaturationUpdate(saturation float64)                        {}
func (n *NoopSink) EmitError()                                                       {}
func (n *NoopSink) NotificationAttemptCompleted(statusClass string, d time.Duration) {}
func (n *NoopSink) NotificationOutcome(kind, outcome string)                         {}
func (n *NoopSink) TriggersRehydrated(count int)                                     {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                                {}
func (n *NoopSink) LeaderAcquired()                                                  {}
func (n *NoopSink) LeaderLost(reason string)                                         {}
