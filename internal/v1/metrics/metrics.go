package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the room orchestrator.
//
// Naming convention: namespace_subsystem_name
// - namespace: room_orchestrator (application-level grouping)
// - subsystem: session, room, llm, poll, circuit_breaker, redis (feature-level grouping)
// - name: specific metric (connections_active, calls_in_flight, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, participants, calls in flight)
// - Counter: Cumulative events (messages stored, votes cast, errors)
// - Histogram: Latency distributions (LLM call duration, Redis op duration)

var (
	// ActiveWebSocketConnections tracks the current number of live Session
	// Handler connections (Gauge - current state)
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "room_orchestrator",
		Subsystem: "session",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket session connections",
	})

	// ActiveRooms tracks the current number of rooms known to the Store (Gauge - current state)
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "room_orchestrator",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of rooms",
	})

	// RoomParticipants tracks the number of online participants per room (GaugeVec with room_id label)
	RoomParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "room_orchestrator",
		Subsystem: "room",
		Name:      "participants_online",
		Help:      "Number of online participants in each room",
	}, []string{"room_id"})

	// MessagesStored tracks the total number of messages appended to the Store (CounterVec - cumulative)
	MessagesStored = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "room_orchestrator",
		Subsystem: "room",
		Name:      "messages_stored_total",
		Help:      "Total messages appended to the Store",
	}, []string{"sender_type"})

	// WebsocketEvents tracks the total number of client frames processed (CounterVec - cumulative)
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "room_orchestrator",
		Subsystem: "session",
		Name:      "frames_total",
		Help:      "Total client frames processed",
	}, []string{"frame_type", "status"})

	// MessageProcessingDuration tracks the time spent handling one client frame (HistogramVec - latency distribution)
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "room_orchestrator",
		Subsystem: "session",
		Name:      "frame_processing_seconds",
		Help:      "Time spent processing one client frame",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"frame_type"})

	// LLMCallsInFlight tracks the current number of in-progress Dispatcher
	// tasks calling out to a Chat Provider (GaugeVec - current state)
	LLMCallsInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "room_orchestrator",
		Subsystem: "llm",
		Name:      "calls_in_flight",
		Help:      "Current number of in-flight LLM Chat Provider calls",
	}, []string{"llm_id"})

	// LLMCallDuration tracks end-to-end Dispatcher call latency (HistogramVec - latency distribution)
	LLMCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "room_orchestrator",
		Subsystem: "llm",
		Name:      "call_duration_seconds",
		Help:      "Duration of one LLM Dispatcher call, from dispatch to llm_done",
		Buckets:   prometheus.DefBuckets,
	}, []string{"llm_id", "outcome"})

	// PollVotesCast tracks the total number of votes applied via Store.AddVote (CounterVec - cumulative)
	PollVotesCast = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "room_orchestrator",
		Subsystem: "poll",
		Name:      "votes_cast_total",
		Help:      "Total votes applied to polls",
	}, []string{"voter_type"})

	// CircuitBreakerState tracks the current state of each circuit breaker (GaugeVec)
	// 0: Closed (Healthy), 1: Open (Failure), 2: Half-Open (Recovering)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "room_orchestrator",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	// CircuitBreakerFailures tracks the total number of requests rejected by a circuit breaker
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "room_orchestrator",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by the circuit breaker",
	}, []string{"service"})

	// RedisOperationsTotal tracks the total number of Redis operations issued by store.RedisStore (CounterVec)
	RedisOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "room_orchestrator",
		Subsystem: "redis",
		Name:      "operations_total",
		Help:      "Total number of Redis operations",
	}, []string{"operation", "status"})

	// RedisOperationDuration tracks the duration of Redis operations (HistogramVec)
	RedisOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "room_orchestrator",
		Subsystem: "redis",
		Name:      "operation_duration_seconds",
		Help:      "Duration of Redis operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
