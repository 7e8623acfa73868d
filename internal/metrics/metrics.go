package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the live collaboration synchronization core.
//
// Naming convention: namespace_subsystem_name
// - namespace: livesync (application-level grouping)
// - subsystem: eventscope, objectsync, rolecache, redis (feature-level grouping)
// - name: specific metric (events_total, tick_duration_seconds, ...)

var (
	// EventsSent tracks events submitted through an Event Scope (CounterVec - cumulative)
	EventsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livesync",
		Subsystem: "eventscope",
		Name:      "events_sent_total",
		Help:      "Total events submitted via EventScope.SendEvent",
	}, []string{"event"})

	// EventsDelivered tracks events that passed the inbound role gate and reached listeners
	EventsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livesync",
		Subsystem: "eventscope",
		Name:      "events_delivered_total",
		Help:      "Total inbound events delivered to local listeners",
	}, []string{"event"})

	// EventsRejected tracks inbound events dropped by the role gate (SharedEvent:invalidRole)
	EventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livesync",
		Subsystem: "eventscope",
		Name:      "events_rejected_total",
		Help:      "Total inbound events dropped by the role gate",
	}, []string{"event", "reason"})

	// EventsThrottled tracks outbound sends dropped by the per-client rate limiter
	EventsThrottled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livesync",
		Subsystem: "eventscope",
		Name:      "events_throttled_total",
		Help:      "Total outbound sends dropped by the rate limiter",
	}, []string{"event"})

	// ObjectsRegistered tracks the current number of registered live objects (Gauge - current state)
	ObjectsRegistered = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "livesync",
		Subsystem: "objectsync",
		Name:      "objects_registered",
		Help:      "Current number of registered live objects per container",
	}, []string{"container"})

	// SynchronizersActive tracks the current number of live per-container synchronizers
	SynchronizersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "livesync",
		Subsystem: "objectsync",
		Name:      "synchronizers_active",
		Help:      "Current number of per-container synchronizers in the process-wide registry",
	})

	// UpdatesSent tracks coalesced connect/update signals emitted by the synchronizer
	UpdatesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livesync",
		Subsystem: "objectsync",
		Name:      "updates_sent_total",
		Help:      "Total coalesced connect/update signals emitted",
	}, []string{"type"})

	// TickDuration tracks the time spent building one periodic update burst
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "livesync",
		Subsystem: "objectsync",
		Name:      "tick_duration_seconds",
		Help:      "Time spent building one periodic update burst",
		Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25},
	})

	// HandlerFailures tracks getState/applyRemoteState callbacks that panicked or errored
	HandlerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livesync",
		Subsystem: "objectsync",
		Name:      "handler_failures_total",
		Help:      "Total getState/applyRemoteState callback failures, isolated per object id",
	}, []string{"handler"})

	// NonRecordStateSkipped tracks inbound {id: state} entries dropped
	// because state failed the "is this a record" check: null, an array,
	// or a scalar, rather than a JSON object.
	NonRecordStateSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livesync",
		Subsystem: "objectsync",
		Name:      "non_record_state_skipped_total",
		Help:      "Total inbound id:state entries skipped because state was not a JSON object",
	}, []string{"type"})

	// RoleCacheLookups tracks role verifier lookups (CounterVec - cumulative)
	RoleCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livesync",
		Subsystem: "rolecache",
		Name:      "lookups_total",
		Help:      "Total role lookups, split by cache outcome",
	}, []string{"outcome"})

	// CircuitBreakerState tracks the current state of the redis signaler circuit breaker.
	// 0: Closed (Healthy), 1: Open (Failure), 2: Half-Open (Recovering)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "livesync",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	// CircuitBreakerFailures tracks the total number of requests rejected by the circuit breaker
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livesync",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by the circuit breaker",
	}, []string{"service"})

	// RateLimitExceeded tracks the total number of requests that exceeded the rate limit
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livesync",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total number of requests that exceeded the rate limit",
	}, []string{"key"})

	// RedisOperationsTotal tracks the total number of Redis operations (CounterVec)
	RedisOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livesync",
		Subsystem: "redis",
		Name:      "operations_total",
		Help:      "Total number of Redis operations",
	}, []string{"operation", "status"})

	// RedisOperationDuration tracks the duration of Redis operations (HistogramVec)
	RedisOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "livesync",
		Subsystem: "redis",
		Name:      "operation_duration_seconds",
		Help:      "Duration of Redis operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	// ActiveWebSocketConnections tracks the current number of active demo websocket connections
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "livesync",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections in the demo host",
	})

	// FramesRelayed counts raw frames the websocket Hub has fanned out
	// between peers, independent of any particular Event Scope or Object
	// Synchronizer instrumentation.
	FramesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livesync",
		Subsystem: "websocket",
		Name:      "frames_relayed_total",
		Help:      "Total frames relayed by the websocket Hub, by message type",
	}, []string{"type"})

	// TelemetryEvents tracks every event reported to a telemetry.Sink
	// (role rejections, handler panics, decode skips), by stable event
	// name, independent of which package reported it.
	TelemetryEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livesync",
		Subsystem: "telemetry",
		Name:      "events_total",
		Help:      "Total events reported to a telemetry.Sink, by stable event name",
	}, []string{"event"})
)
