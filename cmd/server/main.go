package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aivocate/interview-gateway/internal/config"
	"github.com/aivocate/interview-gateway/internal/llm"
	"github.com/aivocate/interview-gateway/internal/observability"
	"github.com/aivocate/interview-gateway/internal/session"
	"github.com/aivocate/interview-gateway/internal/transcript"
	"github.com/aivocate/interview-gateway/internal/tts"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("stt_backend", cfg.STTBackend).
		Str("llm_model", cfg.LLMModel).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Interview Gateway starting")

	// Transcript persistence
	store, err := transcript.NewSQLiteStore(cfg.TranscriptDBPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open transcript store")
	}
	queue := transcript.NewQueue(store, cfg.QueueSize, cfg.QueueMaxAttempts,
		logger.With().Str("component", "transcript_queue").Logger())

	// Upstream clients shared across sessions
	llmClient := llm.NewOpenAIClient(cfg)
	ttsClient := tts.NewOpenAIClient(cfg)

	registry := session.NewRegistry(time.Duration(cfg.SessionGraceSeconds) * time.Second)
	gateway := session.NewGateway(cfg, registry, llmClient, ttsClient, queue)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/interview-session", gateway.CreateHandler())
	mux.HandleFunc("GET /api/v1/interview-session/{id}", gateway.ConnectHandler())

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness checks the transcript store; upstream APIs are only
	// validated by configuration to avoid billable probe calls.
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"transcript_store": func(ctx context.Context) (bool, error) {
			if err := store.Ping(ctx); err != nil {
				return false, err
			}
			return true, nil
		},
		"openai": func(ctx context.Context) (bool, error) {
			if cfg.OpenAIAPIKey == "" {
				return false, fmt.Errorf("missing OpenAI API key")
			}
			return true, nil
		},
	}))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     mux,
		IdleTimeout: 60 * time.Second,
		// No read/write timeouts: websocket sessions are long-lived.
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/api/v1/interview-session/{id}", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	registry.CloseAll()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}

	queue.Close()
	if err := store.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close transcript store")
	}

	logger.Info().Msg("Server stopped")
}
