// Package session orchestrates one interview conversation: inbound
// audio and control messages, transcription, turn generation, speech
// synthesis and chunked audio dispatch back to the client.
package session

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/aivocate/interview-gateway/internal/config"
	"github.com/aivocate/interview-gateway/internal/llm"
	"github.com/aivocate/interview-gateway/internal/observability"
	"github.com/aivocate/interview-gateway/internal/protocol"
	"github.com/aivocate/interview-gateway/internal/resilience"
	"github.com/aivocate/interview-gateway/internal/stt"
	"github.com/aivocate/interview-gateway/internal/transcript"
	"github.com/aivocate/interview-gateway/internal/tts"
)

const welcomeMessage = "Welcome to your mock interview. Tell me a little about yourself when you're ready."

// Conn is the subset of *websocket.Conn the session needs. A narrow
// interface keeps the pipeline testable without a network.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Deps bundles the collaborators a session runs with.
type Deps struct {
	Config      *config.Config
	STT         stt.Client
	LLM         llm.Client
	TTS         tts.Client
	Transcripts *transcript.Queue
}

// Session drives one connected interview.
type Session struct {
	id      string
	conn    Conn
	deps    Deps
	logger  zerolog.Logger
	metrics *observability.Metrics

	llmBreaker *resilience.CircuitBreaker
	ttsBreaker *resilience.CircuitBreaker

	writeMu sync.Mutex

	turnsMu sync.Mutex
	turns   []llm.Turn

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	onClose   func()
}

// New creates a session over an accepted websocket connection.
func New(id string, conn Conn, deps Deps, onClose func()) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	breakerReset := time.Duration(deps.Config.CircuitBreakerResetTimeout) * time.Second

	return &Session{
		id:         id,
		conn:       conn,
		deps:       deps,
		logger:     observability.WithSession(id),
		metrics:    observability.NewSessionMetrics(id),
		llmBreaker: resilience.NewCircuitBreaker("llm", deps.Config.CircuitBreakerMaxFailures, breakerReset),
		ttsBreaker: resilience.NewCircuitBreaker("tts", deps.Config.CircuitBreakerMaxFailures, breakerReset),
		ctx:        ctx,
		cancel:     cancel,
		onClose:    onClose,
	}
}

// Run blocks until the connection closes. It starts transcription,
// greets the candidate, and processes inbound frames.
func (s *Session) Run() {
	s.metrics.RecordSessionStart()
	defer s.Close()

	if err := s.deps.STT.Start(); err != nil {
		s.logger.Error().Err(err).Msg("failed to start transcription")
		s.sendError("stt_unavailable", "transcription service unavailable")
	}

	go s.transcriptionLoop()
	go s.heartbeatLoop()

	s.greet()
	s.readPump()
}

// greet opens the interview with a spoken welcome.
func (s *Session) greet() {
	s.appendTurn(llm.RoleAssistant, welcomeMessage)
	s.deps.Transcripts.Enqueue(transcript.Job{
		SessionID: s.id,
		Speaker:   transcript.SpeakerAssistant,
		Text:      welcomeMessage,
	})

	if env, err := protocol.NewText(protocol.TypeChat, welcomeMessage); err == nil {
		s.sendEnvelope(env)
	}
	s.speak(welcomeMessage)
}

// readPump consumes frames until the connection drops. Binary frames
// are capture audio and go to the transcriber verbatim; text frames
// are control envelopes.
func (s *Session) readPump() {
	pongTimeout := time.Duration(s.deps.Config.ServerPongTimeoutMs) * time.Millisecond
	s.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.ctx.Done():
			default:
				s.logger.Info().Err(err).Msg("connection closed")
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			s.metrics.RecordAudioBytes("in", int64(len(data)))
			if err := s.deps.STT.SendAudio(data); err != nil {
				s.logger.Warn().Err(err).Msg("failed to forward audio")
				s.metrics.RecordError("stt_send", "session")
			}

		case websocket.TextMessage:
			s.handleEnvelope(data)
		}
	}
}

func (s *Session) handleEnvelope(data []byte) {
	env, err := protocol.Parse(data)
	if err != nil {
		s.logger.Warn().Err(err).Msg("dropping malformed envelope")
		return
	}
	if !env.Type.Known() {
		s.logger.Warn().Str("type", string(env.Type)).Msg("dropping unknown message type")
		return
	}

	switch env.Type {
	case protocol.TypePing:
		if pong, err := protocol.NewText(protocol.TypePong, "pong"); err == nil {
			s.sendEnvelope(pong)
		}

	case protocol.TypePong:
		// Application-level pong; the read deadline is already pushed
		// by the frame arriving.

	case protocol.TypeChat:
		text := env.Text()
		if text == "" {
			return
		}
		s.logger.Info().Str("text", text).Msg("chat message")
		s.handleUserUtterance(text)

	case protocol.TypeAudioChunk:
		// Fallback path for clients that wrap audio in JSON instead of
		// sending binary frames.
		var payload struct {
			Chunk string `json:"chunk"`
		}
		if err := env.DecodePayload(&payload); err != nil {
			s.logger.Warn().Err(err).Msg("dropping malformed audio_chunk")
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(payload.Chunk)
		if err != nil {
			s.logger.Warn().Err(err).Msg("dropping undecodable audio_chunk")
			return
		}
		s.metrics.RecordAudioBytes("in", int64(len(pcm)))
		if err := s.deps.STT.SendAudio(pcm); err != nil {
			s.logger.Warn().Err(err).Msg("failed to forward audio")
		}

	case protocol.TypeRecordingStart:
		s.logger.Info().Msg("recording started")

	case protocol.TypeRecordingEnd:
		s.logger.Info().Msg("recording ended")
	}
}

// transcriptionLoop consumes STT results. Partials are logged only;
// finals drive the response pipeline.
func (s *Session) transcriptionLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case result, ok := <-s.deps.STT.Results():
			if !ok {
				return
			}
			if result == nil {
				continue
			}

			s.metrics.RecordSTTResult(result.IsFinal)
			if !result.IsFinal {
				s.logger.Debug().Str("text", result.Text).Msg("interim transcript")
				continue
			}

			s.logger.Info().Str("text", result.Text).Msg("final transcript")
			s.handleUserUtterance(result.Text)
		}
	}
}

// handleUserUtterance runs the full response pipeline for one user
// turn. Collaborator failures surface as error envelopes; the session
// keeps running.
func (s *Session) handleUserUtterance(text string) {
	s.appendTurn(llm.RoleUser, text)
	s.deps.Transcripts.Enqueue(transcript.Job{
		SessionID: s.id,
		Speaker:   transcript.SpeakerUser,
		Text:      text,
	})

	if env, err := protocol.NewText(protocol.TypeUserTranscript, text); err == nil {
		s.sendEnvelope(env)
	}

	reply, err := s.generateReply()
	if err != nil {
		s.logger.Error().Err(err).Msg("turn generation failed")
		s.metrics.RecordError("llm", "session")
		s.sendError("llm_failed", "could not generate a response")
		return
	}

	s.appendTurn(llm.RoleAssistant, reply)
	s.deps.Transcripts.Enqueue(transcript.Job{
		SessionID: s.id,
		Speaker:   transcript.SpeakerAssistant,
		Text:      reply,
	})

	if env, err := protocol.NewText(protocol.TypeAITranscript, reply); err == nil {
		s.sendEnvelope(env)
	}

	s.speak(reply)
}

func (s *Session) generateReply() (string, error) {
	var reply string
	s.metrics.RecordLLMStart()
	err := s.llmBreaker.Call(func() error {
		ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
		defer cancel()

		var callErr error
		reply, callErr = s.deps.LLM.CompleteTurn(ctx, s.snapshotTurns())
		return callErr
	})
	s.metrics.RecordLLMEnd(err == nil)
	return reply, err
}

// speak synthesizes text and streams it to the client.
func (s *Session) speak(text string) {
	var pcm []byte
	s.metrics.RecordTTSStart()
	err := s.ttsBreaker.Call(func() error {
		ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
		defer cancel()

		var callErr error
		pcm, callErr = s.deps.TTS.Synthesize(ctx, text)
		return callErr
	})
	s.metrics.RecordTTSEnd(err == nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("speech synthesis failed")
		s.metrics.RecordError("tts", "session")
		s.sendError("tts_failed", "could not synthesize speech")
		return
	}

	if err := s.dispatchAudio(text, pcm); err != nil {
		s.logger.Error().Err(err).Msg("audio dispatch failed")
		s.metrics.RecordError("dispatch", "session")
	}
}

// heartbeatLoop pings the client on an interval. A peer that stops
// answering trips the read deadline and the read pump exits.
func (s *Session) heartbeatLoop() {
	interval := time.Duration(s.deps.Config.HeartbeatIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.logger.Warn().Err(err).Msg("heartbeat ping failed")
				return
			}
		}
	}
}

func (s *Session) appendTurn(role, content string) {
	s.turnsMu.Lock()
	s.turns = append(s.turns, llm.Turn{Role: role, Content: content})
	s.turnsMu.Unlock()
}

func (s *Session) snapshotTurns() []llm.Turn {
	s.turnsMu.Lock()
	defer s.turnsMu.Unlock()
	return append([]llm.Turn(nil), s.turns...)
}

// Turns returns a copy of the conversation so far.
func (s *Session) Turns() []llm.Turn {
	return s.snapshotTurns()
}

func (s *Session) sendEnvelope(env protocol.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) sendError(code, message string) {
	env, err := protocol.NewPayload(protocol.TypeError, protocol.ErrorPayload{
		Code:    code,
		Message: message,
	})
	if err != nil {
		return
	}
	s.sendEnvelope(env)
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Close tears the session down. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.deps.STT.Close()
		s.conn.Close()
		s.metrics.RecordSessionEnd()
		s.logger.Info().Msg("session closed")
		if s.onClose != nil {
			s.onClose()
		}
	})
}
