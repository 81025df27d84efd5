package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

const namespace = "taskexpiry"

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Router metrics
	eventsRoutedTotal       prometheus.Counter
	eventsDroppedTotal      *prometheus.CounterVec
	eventsDeadLetteredTotal *prometheus.CounterVec
	routeRetriesTotal       prometheus.Counter
	queueDepth              prometheus.Gauge

	// Processor metrics
	commandsTotal *prometheus.CounterVec

	// Scheduler metrics
	ticksTotal      prometheus.Counter
	tickErrorsTotal prometheus.Counter
	firedTotal      prometheus.Counter
	tickDuration    prometheus.Histogram
	triggersArmed   prometheus.Gauge
	fireLag         prometheus.Histogram

	// Executor metrics
	expiryOutcomesTotal *prometheus.CounterVec
	retryAttemptsTotal  prometheus.Counter
	eventsInFlight      prometheus.Gauge

	// EventBus metrics
	bufferSize       prometheus.Gauge
	bufferCapacity   prometheus.Gauge
	bufferSaturation prometheus.Gauge
	emitErrorsTotal  prometheus.Counter

	// Notifier metrics
	notificationAttemptsTotal *prometheus.CounterVec
	notificationDuration      prometheus.Histogram
	notificationOutcomesTotal *prometheus.CounterVec

	// Reconciler metrics
	rehydratedTotal prometheus.Counter

	// Leader election metrics
	isLeader          prometheus.Gauge
	leaderAcquisition prometheus.Counter
	leaderLossTotal   *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initRouterMetrics(reg)
	s.initSchedulerMetrics(reg)
	s.initExecutorMetrics(reg)
	s.initEventBusMetrics(reg)
	s.initNotifierMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initRouterMetrics(reg prometheus.Registerer) {
	s.eventsRoutedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "router", Name: "events_routed_total",
		Help: "Total number of change events enqueued for processing.",
	})
	s.eventsDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "router", Name: "events_dropped_total",
		Help: "Total number of change events dropped before processing.",
	}, []string{"reason"})
	s.eventsDeadLetteredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "router", Name: "dead_letters_total",
		Help: "Total number of events moved to the dead-letter path.",
	}, []string{"source"})
	s.routeRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "router", Name: "retries_total",
		Help: "Total number of routing and processing retries.",
	})
	s.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "router", Name: "queue_depth",
		Help: "Number of events waiting in the per-key shard queues.",
	})
	s.commandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "processor", Name: "commands_total",
		Help: "Total number of scheduler commands derived from change events.",
	}, []string{"kind"})

	s.register(reg, s.eventsRoutedTotal)
	s.register(reg, s.eventsDroppedTotal)
	s.register(reg, s.eventsDeadLetteredTotal)
	s.register(reg, s.routeRetriesTotal)
	s.register(reg, s.queueDepth)
	s.register(reg, s.commandsTotal)
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "scheduler", Name: "ticks_total",
		Help: "Total number of scheduler ticks processed.",
	})
	s.tickErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "scheduler", Name: "tick_errors_total",
		Help: "Total number of scheduler ticks that failed to emit a due trigger.",
	})
	s.firedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "scheduler", Name: "triggers_fired_total",
		Help: "Total number of expiry triggers fired.",
	})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "scheduler", Name: "tick_duration_seconds",
		Help:    "Duration of each scheduler tick in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})
	s.triggersArmed = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "scheduler", Name: "triggers_armed",
		Help: "Number of live expiry triggers in the registry.",
	})
	s.fireLag = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "scheduler", Name: "fire_lag_seconds",
		Help:    "Delay between a trigger's due time and its emission.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
	})
	s.rehydratedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "reconciler", Name: "triggers_rehydrated_total",
		Help: "Total number of triggers re-armed from the record store.",
	})

	s.register(reg, s.ticksTotal)
	s.register(reg, s.tickErrorsTotal)
	s.register(reg, s.firedTotal)
	s.register(reg, s.tickDuration)
	s.register(reg, s.triggersArmed)
	s.register(reg, s.fireLag)
	s.register(reg, s.rehydratedTotal)
}

func (s *PrometheusSink) initExecutorMetrics(reg prometheus.Registerer) {
	s.expiryOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "executor", Name: "outcomes_total",
		Help: "Total number of final expiry outcomes per fired trigger.",
	}, []string{"outcome"})
	s.retryAttemptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "executor", Name: "retry_attempts_total",
		Help: "Total number of expiry retry attempts (excludes first attempt).",
	})
	s.eventsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "executor", Name: "events_in_flight",
		Help: "Number of fire events currently being executed.",
	})

	s.register(reg, s.expiryOutcomesTotal)
	s.register(reg, s.retryAttemptsTotal)
	s.register(reg, s.eventsInFlight)
}

func (s *PrometheusSink) initEventBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "eventbus", Name: "buffer_size",
		Help: "Current number of fire events in the event bus buffer.",
	})
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "eventbus", Name: "buffer_capacity",
		Help: "Capacity of the event bus buffer.",
	})
	s.bufferSaturation = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "eventbus", Name: "buffer_saturation",
		Help: "Ratio of buffered events to capacity.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "eventbus", Name: "emit_errors_total",
		Help: "Total number of emit errors (buffer full).",
	})

	s.register(reg, s.bufferSize)
	s.register(reg, s.bufferCapacity)
	s.register(reg, s.bufferSaturation)
	s.register(reg, s.emitErrorsTotal)
}

func (s *PrometheusSink) initNotifierMetrics(reg prometheus.Registerer) {
	s.notificationAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "notifier", Name: "attempts_total",
		Help: "Total number of notification send attempts.",
	}, []string{"status_class"})
	s.notificationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "notifier", Name: "send_duration_seconds",
		Help:    "Notification send latency in seconds (excludes backoff wait).",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})
	s.notificationOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "notifier", Name: "outcomes_total",
		Help: "Total number of final notification outcomes.",
	}, []string{"kind", "outcome"})

	s.register(reg, s.notificationAttemptsTotal)
	s.register(reg, s.notificationDuration)
	s.register(reg, s.notificationOutcomesTotal)
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.isLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "leader", Name: "is_leader",
		Help: "1 while this instance owns feed consumption and the trigger registry.",
	})
	s.leaderAcquisition = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "leader", Name: "acquisitions_total",
		Help: "Total number of times leadership was acquired.",
	})
	s.leaderLossTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "leader", Name: "losses_total",
		Help: "Total number of leadership losses by reason.",
	}, []string{"reason"})

	s.register(reg, s.isLeader)
	s.register(reg, s.leaderAcquisition)
	s.register(reg, s.leaderLossTotal)
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector) {
	if err := reg.Register(c); err != nil {
		log.Warn().Err(err).Msg("metrics: failed to register collector")
	}
}

func (s *PrometheusSink) EventRouted() {
	s.eventsRoutedTotal.Inc()
}

func (s *PrometheusSink) EventDropped(reason string) {
	s.eventsDroppedTotal.WithLabelValues(reason).Inc()
}

func (s *PrometheusSink) EventDeadLettered(source string) {
	s.eventsDeadLetteredTotal.WithLabelValues(source).Inc()
}

func (s *PrometheusSink) RouteRetry() {
	s.routeRetriesTotal.Inc()
}

func (s *PrometheusSink) QueueDepthUpdate(depth int) {
	s.queueDepth.Set(float64(depth))
}

func (s *PrometheusSink) CommandApplied(kind string) {
	s.commandsTotal.WithLabelValues(kind).Inc()
}

func (s *PrometheusSink) TickStarted() {
	s.ticksTotal.Inc()
}

func (s *PrometheusSink) TickCompleted(duration time.Duration, fired int, err error) {
	s.tickDuration.Observe(duration.Seconds())
	s.firedTotal.Add(float64(fired))
	if err != nil {
		s.tickErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) TriggersArmedUpdate(count int) {
	s.triggersArmed.Set(float64(count))
}

func (s *PrometheusSink) FireLagObserve(lag time.Duration) {
	if lag < 0 {
		lag = 0
	}
	s.fireLag.Observe(lag.Seconds())
}

func (s *PrometheusSink) ExpiryOutcome(outcome string) {
	s.expiryOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) RetryAttempt() {
	s.retryAttemptsTotal.Inc()
}

func (s *PrometheusSink) EventsInFlightIncr() {
	s.eventsInFlight.Inc()
}

func (s *PrometheusSink) EventsInFlightDecr() {
	s.eventsInFlight.Dec()
}

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) BufferSaturationUpdate(saturation float64) {
	s.bufferSaturation.Set(saturation)
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

func (s *PrometheusSink) NotificationAttemptCompleted(statusClass string, duration time.Duration) {
	s.notificationAttemptsTotal.WithLabelValues(statusClass).Inc()
	s.notificationDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) NotificationOutcome(kind, outcome string) {
	s.notificationOutcomesTotal.WithLabelValues(kind, outcome).Inc()
}

func (s *PrometheusSink) TriggersRehydrated(count int) {
	s.rehydratedTotal.Add(float64(count))
}

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.isLeader.Set(1)
		return
	}
	s.isLeader.Set(0)
}

func (s *PrometheusSink) LeaderAcquired() {
	s.leaderAcquisition.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLossTotal.WithLabelValues(reason).Inc()
}
