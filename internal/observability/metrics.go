package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "interview_gateway_active_sessions",
		Help: "Number of active interview sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "interview_gateway_sessions_total",
		Help: "Total number of interview sessions handled",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "interview_gateway_session_duration_seconds",
		Help:    "Duration of interview sessions in seconds",
		Buckets: []float64{10, 30, 60, 300, 600, 1200, 1800, 3600},
	})

	// STT metrics
	sttResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_stt_results_total",
		Help: "Total number of STT results received",
	}, []string{"kind"}) // kind: "partial" or "final"

	// LLM metrics
	llmRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_llm_requests_total",
		Help: "Total number of LLM turn-generation requests",
	}, []string{"status"})

	llmLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "interview_gateway_llm_latency_seconds",
		Help:    "LLM turn-generation latency in seconds",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	})

	// TTS metrics
	ttsRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_tts_requests_total",
		Help: "Total number of TTS synthesis requests",
	}, []string{"status"})

	ttsLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "interview_gateway_tts_latency_seconds",
		Help:    "TTS synthesis latency in seconds",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	ttsChunksSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "interview_gateway_tts_chunks_sent_total",
		Help: "Total number of tts_chunk messages dispatched",
	})

	// Playback metrics (client side)
	playbackChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "interview_gateway_playback_chunks_total",
		Help: "Total number of audio chunks scheduled for playback",
	})

	playbackBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "interview_gateway_playback_bytes_total",
		Help: "Total audio bytes scheduled for playback",
	})

	// Transcript queue metrics
	transcriptJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_transcript_jobs_total",
		Help: "Total number of transcript persistence jobs",
	}, []string{"status"}) // status: "saved", "dropped", "failed"

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "interview_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// Metrics tracks metrics for a single session
type Metrics struct {
	sessionID    string
	startTime    time.Time
	llmStartTime time.Time
	ttsStartTime time.Time
	mu           sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session
func (m *Metrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordSTTResult records a transcription result by kind
func (m *Metrics) RecordSTTResult(final bool) {
	kind := "partial"
	if final {
		kind = "final"
	}
	sttResults.WithLabelValues(kind).Inc()
}

// RecordLLMStart records the start of an LLM call
func (m *Metrics) RecordLLMStart() {
	m.mu.Lock()
	m.llmStartTime = time.Now()
	m.mu.Unlock()
}

// RecordLLMEnd records the end of an LLM call
func (m *Metrics) RecordLLMEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.llmStartTime.IsZero() {
		llmLatency.Observe(time.Since(m.llmStartTime).Seconds())
	}

	status := "success"
	if !success {
		status = "error"
	}
	llmRequests.WithLabelValues(status).Inc()
}

// RecordTTSStart records the start of a TTS synthesis
func (m *Metrics) RecordTTSStart() {
	m.mu.Lock()
	m.ttsStartTime = time.Now()
	m.mu.Unlock()
}

// RecordTTSEnd records the end of a TTS synthesis
func (m *Metrics) RecordTTSEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ttsStartTime.IsZero() {
		ttsLatency.Observe(time.Since(m.ttsStartTime).Seconds())
	}

	status := "success"
	if !success {
		status = "error"
	}
	ttsRequests.WithLabelValues(status).Inc()
}

// RecordChunkSent records one dispatched tts_chunk
func (m *Metrics) RecordChunkSent() {
	ttsChunksSent.Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPlaybackChunk records one chunk handed to the playback sink
func RecordPlaybackChunk(bytes int) {
	playbackChunks.Inc()
	playbackBytes.Add(float64(bytes))
}

// RecordTranscriptJob records the outcome of a persistence job
func RecordTranscriptJob(status string) {
	transcriptJobs.WithLabelValues(status).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
