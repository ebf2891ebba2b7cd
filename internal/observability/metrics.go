package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Conversation metrics
	activeConversations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_client_active_conversations",
		Help: "Number of active conversations",
	})

	totalConversations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_client_conversations_total",
		Help: "Total number of conversations started",
	})

	conversationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_client_conversation_duration_seconds",
		Help:    "Duration of conversations in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	statusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_turn_transitions_total",
		Help: "Turn status transitions",
	}, []string{"from", "to"})

	// Transcription metrics
	transcriptionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_transcription_requests_total",
		Help: "Transcription requests by outcome",
	}, []string{"outcome"}) // success, error, cancelled

	transcriptionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_client_transcription_latency_seconds",
		Help:    "Transcription round-trip latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	segmentsDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_speech_segments_discarded_total",
		Help: "Speech segments dropped before transcription",
	}, []string{"reason"})

	// Synthesis metrics
	synthesisSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_synthesis_sessions_total",
		Help: "Synthesis sessions by close outcome",
	}, []string{"outcome"})

	synthesisHandshake = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_client_synthesis_handshake_seconds",
		Help:    "Time from dial to successful authentication",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
	})

	synthesisSentences = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_synthesis_sentences_total",
		Help: "Sentences sent to and finished by the synthesis service",
	}, []string{"event"}) // sent, finished

	timeToFirstAudio = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_client_time_to_first_audio_seconds",
		Help:    "Time from reply start until playback begins",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Playback metrics
	playbackChunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_playback_chunks_total",
		Help: "Audio units rendered by the playback engine",
	}, []string{"format"})

	playbackDecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_playback_decode_errors_total",
		Help: "Audio units skipped because they failed to decode",
	}, []string{"codec"})

	playbackCompletions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_client_playback_completions_total",
		Help: "Replies whose audio played to the end",
	})

	bargeIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_client_barge_ins_total",
		Help: "Start-of-speech interruptions",
	})

	bargeInCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_client_barge_in_cancelled_requests_total",
		Help: "Transcription requests aborted by barge-in",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_client_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"
)

// ConversationMetrics tracks metrics for a single conversation
type ConversationMetrics struct {
	conversationID string
	startTime      time.Time
	replyStartTime time.Time
	mu             sync.Mutex
}

// NewConversationMetrics creates a new metrics tracker for a conversation
func NewConversationMetrics(conversationID string) *ConversationMetrics {
	return &ConversationMetrics{
		conversationID: conversationID,
		startTime:      time.Now(),
	}
}

// RecordConversationStart records the start of a conversation
func (m *ConversationMetrics) RecordConversationStart() {
	m.mu.Lock()
	m.startTime = time.Now()
	m.mu.Unlock()
	activeConversations.Inc()
	totalConversations.Inc()
}

// RecordConversationEnd records the end of a conversation
func (m *ConversationMetrics) RecordConversationEnd() {
	m.mu.Lock()
	start := m.startTime
	m.mu.Unlock()
	activeConversations.Dec()
	conversationDuration.Observe(time.Since(start).Seconds())
}

// RecordReplyStart marks the moment reply text starts flowing to synthesis.
func (m *ConversationMetrics) RecordReplyStart() {
	m.mu.Lock()
	m.replyStartTime = time.Now()
	m.mu.Unlock()
}

// RecordFirstAudio observes time to first audio for the current reply.
func (m *ConversationMetrics) RecordFirstAudio() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.replyStartTime.IsZero() {
		return
	}
	timeToFirstAudio.Observe(time.Since(m.replyStartTime).Seconds())
	m.replyStartTime = time.Time{}
}

// RecordError records an error
func (m *ConversationMetrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *ConversationMetrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordStatusTransition counts a turn status change.
func RecordStatusTransition(from, to string) {
	statusTransitions.WithLabelValues(from, to).Inc()
}

// RecordTranscription records one transcription call outcome.
func RecordTranscription(outcome string, latency time.Duration) {
	transcriptionRequests.WithLabelValues(outcome).Inc()
	if outcome == "success" {
		transcriptionLatency.Observe(latency.Seconds())
	}
}

func RecordSegmentDiscarded(reason string) {
	segmentsDiscarded.WithLabelValues(reason).Inc()
}

func RecordSynthesisSession(outcome string) {
	synthesisSessions.WithLabelValues(outcome).Inc()
}

func ObserveSynthesisHandshake(d time.Duration) {
	synthesisHandshake.Observe(d.Seconds())
}

func RecordSentence(event string) {
	synthesisSentences.WithLabelValues(event).Inc()
}

func RecordPlaybackChunk(format string, bytes int) {
	playbackChunks.WithLabelValues(format).Inc()
	audioBytesProcessed.WithLabelValues("out").Add(float64(bytes))
}

func RecordDecodeError(codec string) {
	playbackDecodeErrors.WithLabelValues(codec).Inc()
}

func RecordPlaybackCompleted() {
	playbackCompletions.Inc()
}

// RecordBargeIn counts an interruption and the requests it aborted.
func RecordBargeIn(cancelled int) {
	bargeIns.Inc()
	bargeInCancelled.Add(float64(cancelled))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
