package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the interview gateway service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Grace window (seconds) a session survives after its control channel
	// closes, waiting for a client reconnect before it is destroyed.
	SessionGraceSeconds int `envconfig:"SESSION_GRACE_SECONDS" default:"60"`

	// STT backend selection: "relay" (Vosk-style websocket server) or "deepgram"
	STTBackend  string `envconfig:"STT_BACKEND" default:"relay"`
	STTRelayURL string `envconfig:"STT_RELAY_URL" default:"ws://localhost:2700"`

	// Deepgram STT API configuration (used when STT_BACKEND=deepgram)
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`

	// OpenAI configuration (LLM turn generation + TTS synthesis)
	OpenAIAPIKey    string `envconfig:"OPENAI_API_KEY" required:"true"`
	LLMModel        string `envconfig:"LLM_MODEL" default:"gpt-3.5-turbo"`
	LLMContextTurns int    `envconfig:"LLM_CONTEXT_TURNS" default:"10"` // Rolling turn window sent to the LLM
	TTSModel        string `envconfig:"TTS_MODEL" default:"tts-1"`
	TTSVoice        string `envconfig:"TTS_VOICE" default:"nova"`

	// Audio format configuration
	CaptureSampleRate  int `envconfig:"CAPTURE_SAMPLE_RATE" default:"16000"`  // Mic capture rate in Hz
	PlaybackSampleRate int `envconfig:"PLAYBACK_SAMPLE_RATE" default:"22050"` // TTS playback rate in Hz
	AudioChunkSize     int `envconfig:"AUDIO_CHUNK_SIZE" default:"8192"`      // Bytes per tts_chunk
	ChunkSendDelayMs   int `envconfig:"CHUNK_SEND_DELAY_MS" default:"5"`      // Self-throttle between chunk sends

	// Voice activity detection configuration
	VADSensitivity   float64 `envconfig:"VAD_SENSITIVITY" default:"0.6"`    // 0-1 selectivity, higher = stricter
	VADEnergyFloor   float64 `envconfig:"VAD_ENERGY_FLOOR" default:"0.005"` // Minimum dynamic threshold
	VADHistoryFrames int     `envconfig:"VAD_HISTORY_FRAMES" default:"10"`  // Energy history window
	MinSpeechMs      int     `envconfig:"MIN_SPEECH_MS" default:"300"`      // Segments shorter than this are discarded
	MaxSilenceMs     int     `envconfig:"MAX_SILENCE_MS" default:"600"`     // Silence that ends a segment
	VADBufferSeconds int     `envconfig:"VAD_BUFFER_SECONDS" default:"2"`   // Rolling frame buffer bound

	// Control channel configuration
	HeartbeatIntervalMs  int `envconfig:"HEARTBEAT_INTERVAL_MS" default:"30000"`  // Ping cadence
	PongTimeoutMs        int `envconfig:"PONG_TIMEOUT_MS" default:"5000"`         // Client-side pong deadline after a ping
	ServerPongTimeoutMs  int `envconfig:"SERVER_PONG_TIMEOUT_MS" default:"35000"` // Server-side absolute pong deadline
	ReconnectBaseMs      int `envconfig:"RECONNECT_BASE_MS" default:"1000"`       // Base reconnect backoff
	ReconnectMaxDelayMs  int `envconfig:"RECONNECT_MAX_DELAY_MS" default:"30000"` // Backoff cap
	ReconnectMaxAttempts int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"3"`     // Attempts before terminal disconnect

	// Transcript persistence configuration
	TranscriptDBPath string `envconfig:"TRANSCRIPT_DB_PATH" default:"transcripts.db"`
	QueueSize        int    `envconfig:"QUEUE_SIZE" default:"64"`        // Pending job bound; overflow is dropped
	QueueMaxAttempts int    `envconfig:"QUEUE_MAX_ATTEMPTS" default:"3"` // Per-job attempts before the job is dropped

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from environment variables.
// It first attempts to load from .env file if it exists, then from environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments).
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if cfg.STTBackend != "relay" && cfg.STTBackend != "deepgram" {
		return nil, fmt.Errorf("STT_BACKEND must be \"relay\" or \"deepgram\", got %q", cfg.STTBackend)
	}
	if cfg.STTBackend == "deepgram" && cfg.DeepgramAPIKey == "" {
		return nil, fmt.Errorf("DEEPGRAM_API_KEY is required when STT_BACKEND=deepgram")
	}
	if cfg.AudioChunkSize <= 0 {
		return nil, fmt.Errorf("AUDIO_CHUNK_SIZE must be positive, got %d", cfg.AudioChunkSize)
	}

	return &cfg, nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
