package session

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/aivocate/interview-gateway/internal/config"
	"github.com/aivocate/interview-gateway/internal/llm"
	"github.com/aivocate/interview-gateway/internal/observability"
	"github.com/aivocate/interview-gateway/internal/stt"
	"github.com/aivocate/interview-gateway/internal/transcript"
	"github.com/aivocate/interview-gateway/internal/tts"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	// Clients connect from arbitrary origins during an interview.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Gateway wires HTTP endpoints to the session registry.
type Gateway struct {
	cfg         *config.Config
	registry    *Registry
	llmClient   llm.Client
	ttsClient   tts.Client
	transcripts *transcript.Queue
}

// NewGateway creates the HTTP/websocket front of the session layer.
func NewGateway(cfg *config.Config, registry *Registry, llmClient llm.Client, ttsClient tts.Client, transcripts *transcript.Queue) *Gateway {
	return &Gateway{
		cfg:         cfg,
		registry:    registry,
		llmClient:   llmClient,
		ttsClient:   ttsClient,
		transcripts: transcripts,
	}
}

// CreateHandler handles POST /api/v1/interview-session.
func (g *Gateway) CreateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(r)
		id := g.registry.Create()
		logger.Info().Str("session_id", id).Msg("session reserved")

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"sessionId": id})
	}
}

// requestLogger tags request logs with the caller's correlation ID,
// minting one when the header is absent.
func requestLogger(r *http.Request) zerolog.Logger {
	return observability.WithCorrelationID(r.Header.Get("X-Correlation-ID")).
		With().Str("component", "gateway").Logger()
}

// ConnectHandler handles GET /api/v1/interview-session/{id}: it
// upgrades to a websocket and runs the session until disconnect.
func (g *Gateway) ConnectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(r)
		id := r.PathValue("id")
		if id == "" || !g.registry.Exists(id) {
			http.Error(w, "unknown session", http.StatusNotFound)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error().Err(err).Msg("websocket upgrade failed")
			return
		}

		// Each connection gets its own transcriber; the conversation
		// lives in the registry entry across reconnects.
		sttClient, err := stt.New(g.cfg)
		if err != nil {
			logger.Error().Err(err).Msg("failed to create STT client")
			conn.Close()
			return
		}

		var sess *Session
		sess = New(id, conn, Deps{
			Config:      g.cfg,
			STT:         sttClient,
			LLM:         g.llmClient,
			TTS:         g.ttsClient,
			Transcripts: g.transcripts,
		}, func() {
			g.registry.Detach(id, sess)
		})

		if err := g.registry.Attach(id, sess); err != nil {
			logger.Warn().Err(err).Str("session_id", id).Msg("attach failed")
			conn.Close()
			return
		}

		sess.Run()
	}
}
