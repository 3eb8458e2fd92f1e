package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/aivocate/interview-gateway/internal/config"
	"github.com/aivocate/interview-gateway/internal/observability"
	"github.com/aivocate/interview-gateway/internal/resilience"
)

// relayResult is the wire format of the relay server's results.
type relayResult struct {
	Type       string  `json:"type"` // "partial" or "final"
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence,omitempty"`
}

// RelayClient implements Client against a websocket transcription
// relay. Audio goes out as binary frames; results come back as JSON
// text frames. The connection reconnects with backoff on failure.
type RelayClient struct {
	cfg     *config.Config
	logger  zerolog.Logger
	results chan *Result

	mu       sync.RWMutex
	conn     *websocket.Conn
	isActive bool

	ctx            context.Context
	cancel         context.CancelFunc
	circuitBreaker *resilience.CircuitBreaker
}

// NewRelayClient creates a relay-backed STT client
func NewRelayClient(cfg *config.Config) *RelayClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &RelayClient{
		cfg:     cfg,
		logger:  observability.GetLogger().With().Str("component", "stt_relay").Logger(),
		results: make(chan *Result, 100),
		ctx:     ctx,
		cancel:  cancel,
		circuitBreaker: resilience.NewCircuitBreaker(
			"stt_relay",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
	}
}

// Start dials the relay server and begins the read loop
func (r *RelayClient) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isActive {
		return fmt.Errorf("relay client is already active")
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(r.ctx, r.cfg.STTRelayURL, nil)
	if err != nil {
		r.circuitBreaker.RecordResult(false)
		return fmt.Errorf("failed to dial STT relay at %s: %w", r.cfg.STTRelayURL, err)
	}

	r.conn = conn
	r.isActive = true
	r.circuitBreaker.RecordResult(true)

	go r.readLoop(conn)

	r.logger.Info().Str("url", r.cfg.STTRelayURL).Msg("STT relay connected")
	return nil
}

func (r *RelayClient) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-r.ctx.Done():
				return
			default:
			}

			r.logger.Warn().Err(err).Msg("STT relay read failed")
			r.mu.Lock()
			r.isActive = false
			r.mu.Unlock()

			go r.attemptReconnect()
			return
		}

		var res relayResult
		if err := json.Unmarshal(data, &res); err != nil {
			r.logger.Warn().Err(err).Msg("malformed STT relay result, dropping")
			continue
		}
		if res.Transcript == "" {
			continue
		}

		result := &Result{
			Text:       res.Transcript,
			IsFinal:    res.Type == "final",
			Confidence: res.Confidence,
		}

		select {
		case r.results <- result:
		default:
			r.logger.Warn().Msg("result channel full, dropping transcription")
		}
	}
}

// SendAudio forwards one binary PCM chunk to the relay
func (r *RelayClient) SendAudio(audioData []byte) error {
	err := r.circuitBreaker.Call(func() error {
		r.mu.RLock()
		active := r.isActive
		conn := r.conn
		r.mu.RUnlock()

		if !active || conn == nil {
			return fmt.Errorf("relay client is not active")
		}

		if err := conn.WriteMessage(websocket.BinaryMessage, audioData); err != nil {
			go r.attemptReconnect()
			return fmt.Errorf("failed to send audio to STT relay: %w", err)
		}
		return nil
	})
	return err
}

func (r *RelayClient) attemptReconnect() {
	select {
	case <-r.ctx.Done():
		return
	default:
	}

	r.mu.RLock()
	alreadyActive := r.isActive
	r.mu.RUnlock()
	if alreadyActive {
		return
	}

	cfg := &resilience.ReconnectConfig{
		MaxAttempts: r.cfg.ReconnectMaxAttempts,
		Backoff:     time.Duration(r.cfg.ReconnectBaseMs) * time.Millisecond,
		MaxBackoff:  time.Duration(r.cfg.ReconnectMaxDelayMs) * time.Millisecond,
	}

	if err := resilience.Reconnect(r.ctx, r.Start, cfg, r.logger); err != nil {
		r.logger.Error().Err(err).Msg("failed to reconnect STT relay")
	}
}

// Results returns the transcription result channel
func (r *RelayClient) Results() <-chan *Result {
	return r.results
}

// Stop closes the relay connection
func (r *RelayClient) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isActive {
		return nil
	}

	if r.conn != nil {
		r.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		r.conn.Close()
	}
	r.isActive = false
	r.logger.Info().Msg("STT relay stopped")
	return nil
}

// Close closes the client and cleans up resources
func (r *RelayClient) Close() error {
	r.cancel()
	if err := r.Stop(); err != nil {
		return err
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		close(r.results)
	}()
	return nil
}

// IsActive returns whether the client is currently connected
func (r *RelayClient) IsActive() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isActive
}
