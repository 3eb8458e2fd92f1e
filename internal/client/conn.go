// Package client implements the candidate-side endpoint: a resilient
// websocket connection with offline queueing, voice-activity-gated
// capture, and gapless scheduling of received speech audio.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/aivocate/interview-gateway/internal/config"
	"github.com/aivocate/interview-gateway/internal/observability"
	"github.com/aivocate/interview-gateway/internal/protocol"
	"github.com/aivocate/interview-gateway/internal/resilience"
)

// State is the connection lifecycle state.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateReconnecting
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Transport is the subset of *websocket.Conn the connection needs.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens transports. Injectable for tests.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// WebsocketDialer is the production Dialer.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
}

// Dial opens a websocket connection.
func (d WebsocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: d.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type outFrame struct {
	msgType int
	data    []byte
}

// Conn is a websocket connection that survives transient drops.
// Messages sent while disconnected are queued in order and flushed
// when the connection (re)opens. A deliberate Disconnect is sticky:
// no reconnection is attempted afterwards.
type Conn struct {
	url    string
	dialer Dialer
	cfg    *config.Config
	logger zerolog.Logger

	// OnEnvelope receives every inbound control message except the
	// heartbeat pongs the connection consumes itself.
	OnEnvelope func(protocol.Envelope)
	// OnBinary receives inbound binary frames.
	OnBinary func([]byte)
	// OnState observes lifecycle transitions.
	OnState func(State)

	mu         sync.Mutex
	state      State
	transport  Transport
	gen        int
	queue      []outFrame
	terminated bool
	pongTimer  *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
}

// NewConn creates an unconnected client connection.
func NewConn(url string, dialer Dialer, cfg *config.Config) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		url:    url,
		dialer: dialer,
		cfg:    cfg,
		logger: observability.GetLogger().With().Str("component", "client_conn").Logger(),
		state:  StateClosed,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Connect dials the server. Queued messages flush once open.
func (c *Conn) Connect() error {
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return fmt.Errorf("connection was deliberately closed")
	}
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	transport, err := c.dialer.Dial(c.ctx, c.url)
	if err != nil {
		c.mu.Lock()
		c.setStateLocked(StateClosed)
		c.mu.Unlock()
		return fmt.Errorf("failed to connect to %s: %w", c.url, err)
	}

	c.adopt(transport)
	return nil
}

// adopt installs a freshly dialed transport, flushes the queue and
// starts the read and heartbeat loops for it.
func (c *Conn) adopt(transport Transport) {
	c.mu.Lock()
	c.transport = transport
	c.gen++
	gen := c.gen
	c.setStateLocked(StateOpen)

	pending := c.queue
	c.queue = nil
	c.mu.Unlock()

	flushed := 0
	var flushErr error
	for _, f := range pending {
		if err := transport.WriteMessage(f.msgType, f.data); err != nil {
			flushErr = err
			break
		}
		flushed++
	}
	if flushErr != nil {
		// The undelivered tail goes back on the queue, ahead of
		// anything sent since; the dead transport's read loop drives
		// the reconnect that re-flushes it.
		c.mu.Lock()
		c.queue = append(append([]outFrame(nil), pending[flushed:]...), c.queue...)
		c.mu.Unlock()
		c.logger.Warn().
			Err(flushErr).
			Int("flushed", flushed).
			Int("requeued", len(pending)-flushed).
			Msg("flush interrupted, keeping undelivered messages")
	} else if flushed > 0 {
		c.logger.Info().Int("count", flushed).Msg("flushed queued messages")
	}

	go c.readLoop(transport, gen)
	go c.heartbeatLoop(transport, gen)
}

// Send delivers a control envelope, queueing it if not connected.
func (c *Conn) Send(env protocol.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	return c.sendFrame(websocket.TextMessage, data)
}

// SendBinary delivers one binary audio frame, queueing if not connected.
func (c *Conn) SendBinary(data []byte) error {
	return c.sendFrame(websocket.BinaryMessage, data)
}

func (c *Conn) sendFrame(msgType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.terminated {
		return fmt.Errorf("connection closed")
	}

	if c.state == StateOpen && c.transport != nil {
		return c.transport.WriteMessage(msgType, data)
	}

	c.queue = append(c.queue, outFrame{msgType: msgType, data: append([]byte(nil), data...)})
	return nil
}

func (c *Conn) readLoop(transport Transport, gen int) {
	for {
		msgType, data, err := transport.ReadMessage()
		if err != nil {
			c.handleDisconnect(gen, err)
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if c.OnBinary != nil {
				c.OnBinary(data)
			}

		case websocket.TextMessage:
			env, err := protocol.Parse(data)
			if err != nil {
				c.logger.Warn().Err(err).Msg("dropping malformed envelope")
				continue
			}
			if !env.Type.Known() {
				c.logger.Warn().Str("type", string(env.Type)).Msg("dropping unknown message type")
				continue
			}

			switch env.Type {
			case protocol.TypePong:
				c.pongReceived()
			case protocol.TypePing:
				if pong, err := protocol.NewText(protocol.TypePong, "pong"); err == nil {
					c.Send(pong)
				}
			default:
				if c.OnEnvelope != nil {
					c.OnEnvelope(env)
				}
			}
		}
	}
}

// heartbeatLoop sends an application-level ping on an interval and
// arms a pong deadline. A missed pong force-closes the transport,
// which the read loop turns into a reconnect.
func (c *Conn) heartbeatLoop(transport Transport, gen int) {
	interval := time.Duration(c.cfg.HeartbeatIntervalMs) * time.Millisecond
	pongTimeout := time.Duration(c.cfg.PongTimeoutMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			if gen != c.gen || c.state != StateOpen {
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()

			ping, err := protocol.NewText(protocol.TypePing, "ping")
			if err != nil {
				continue
			}
			if err := c.Send(ping); err != nil {
				c.logger.Warn().Err(err).Msg("heartbeat ping failed")
				continue
			}

			c.mu.Lock()
			if c.pongTimer != nil {
				c.pongTimer.Stop()
			}
			c.pongTimer = time.AfterFunc(pongTimeout, func() {
				c.logger.Warn().Msg("pong deadline missed, dropping connection")
				transport.Close()
			})
			c.mu.Unlock()
		}
	}
}

func (c *Conn) pongReceived() {
	c.mu.Lock()
	if c.pongTimer != nil {
		c.pongTimer.Stop()
		c.pongTimer = nil
	}
	c.mu.Unlock()
}

// handleDisconnect runs at most once per transport generation. The
// generation bump makes a second caller for the same drop a no-op.
func (c *Conn) handleDisconnect(gen int, cause error) {
	c.mu.Lock()
	if c.terminated || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.gen++
	if c.transport != nil {
		c.transport.Close()
		c.transport = nil
	}
	if c.pongTimer != nil {
		c.pongTimer.Stop()
		c.pongTimer = nil
	}
	c.setStateLocked(StateReconnecting)
	c.mu.Unlock()

	c.logger.Warn().Err(cause).Msg("connection lost, reconnecting")
	go c.reconnectLoop()
}

func (c *Conn) reconnectLoop() {
	base := time.Duration(c.cfg.ReconnectBaseMs) * time.Millisecond
	maxDelay := time.Duration(c.cfg.ReconnectMaxDelayMs) * time.Millisecond

	for attempt := 1; attempt <= c.cfg.ReconnectMaxAttempts; attempt++ {
		delay := resilience.BackoffDelay(attempt, base, maxDelay)
		c.logger.Info().
			Int("attempt", attempt).
			Int("max_attempts", c.cfg.ReconnectMaxAttempts).
			Dur("delay", delay).
			Msg("scheduling reconnect")

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(delay):
		}

		c.mu.Lock()
		if c.terminated {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		transport, err := c.dialer.Dial(c.ctx, c.url)
		if err != nil {
			c.logger.Warn().Err(err).Int("attempt", attempt).Msg("reconnect attempt failed")
			continue
		}

		c.adopt(transport)
		return
	}

	c.logger.Error().
		Int("attempts", c.cfg.ReconnectMaxAttempts).
		Msg("giving up on reconnection")
	c.mu.Lock()
	c.setStateLocked(StateClosed)
	c.mu.Unlock()
}

// Disconnect closes the connection for good.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return
	}
	c.terminated = true
	c.setStateLocked(StateClosing)
	if c.pongTimer != nil {
		c.pongTimer.Stop()
		c.pongTimer = nil
	}
	if c.transport != nil {
		c.transport.Close()
		c.transport = nil
	}
	c.setStateLocked(StateClosed)
	c.mu.Unlock()

	c.cancel()
	c.logger.Info().Msg("disconnected")
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// QueuedMessages returns how many frames await delivery.
func (c *Conn) QueuedMessages() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// setStateLocked updates state and notifies. Caller holds mu.
func (c *Conn) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.OnState != nil {
		go c.OnState(s)
	}
}
