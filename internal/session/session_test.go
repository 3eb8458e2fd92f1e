package session

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/aivocate/interview-gateway/internal/config"
	"github.com/aivocate/interview-gateway/internal/llm"
	"github.com/aivocate/interview-gateway/internal/protocol"
	"github.com/aivocate/interview-gateway/internal/stt"
	"github.com/aivocate/interview-gateway/internal/transcript"
)

type fakeConn struct {
	mu     sync.Mutex
	writes [][]byte
	reads  chan frame
	closed bool
}

type frame struct {
	msgType int
	data    []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan frame, 16)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	f, ok := <-c.reads
	if !ok {
		return 0, nil, errors.New("connection closed")
	}
	return f.msgType, f.data, nil
}

func (c *fakeConn) WriteMessage(msgType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) WriteControl(msgType int, data []byte, deadline time.Time) error {
	return nil
}

func (c *fakeConn) SetReadDeadline(t time.Time) error   { return nil }
func (c *fakeConn) SetPongHandler(h func(string) error) {}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.reads)
	}
	return nil
}

func (c *fakeConn) envelopes(t *testing.T) []protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()

	var envs []protocol.Envelope
	for _, data := range c.writes {
		env, err := protocol.Parse(data)
		if err != nil {
			t.Fatalf("Session wrote unparseable frame: %v", err)
		}
		envs = append(envs, env)
	}
	return envs
}

type fakeSTT struct {
	mu      sync.Mutex
	audio   [][]byte
	results chan *stt.Result
	once    sync.Once
}

func newFakeSTT() *fakeSTT {
	return &fakeSTT{results: make(chan *stt.Result, 16)}
}

func (f *fakeSTT) Start() error { return nil }

func (f *fakeSTT) SendAudio(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, append([]byte(nil), data...))
	return nil
}

func (f *fakeSTT) Results() <-chan *stt.Result { return f.results }
func (f *fakeSTT) Stop() error                 { return nil }

func (f *fakeSTT) Close() error {
	f.once.Do(func() { close(f.results) })
	return nil
}

func (f *fakeSTT) received() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.audio...)
}

type fakeLLM struct {
	reply string
	err   error
	turns []llm.Turn
}

func (f *fakeLLM) CompleteTurn(ctx context.Context, turns []llm.Turn) (string, error) {
	f.turns = append([]llm.Turn(nil), turns...)
	return f.reply, f.err
}

type fakeTTS struct {
	pcm []byte
	err error
}

func (f *fakeTTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return f.pcm, f.err
}

type memStore struct {
	mu    sync.Mutex
	saved []transcript.Job
}

func (m *memStore) SaveTurn(ctx context.Context, sessionID, speaker, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, transcript.Job{SessionID: sessionID, Speaker: speaker, Text: text})
	return nil
}

func (m *memStore) Ping(ctx context.Context) error { return nil }
func (m *memStore) Close() error                   { return nil }

func testConfig() *config.Config {
	return &config.Config{
		AudioChunkSize:             8,
		ChunkSendDelayMs:           0,
		HeartbeatIntervalMs:        30000,
		ServerPongTimeoutMs:        35000,
		CircuitBreakerMaxFailures:  5,
		CircuitBreakerResetTimeout: 1,
	}
}

func newTestSession(llmClient *fakeLLM, ttsClient *fakeTTS) (*Session, *fakeConn, *fakeSTT, *memStore, *transcript.Queue) {
	conn := newFakeConn()
	sttClient := newFakeSTT()
	store := &memStore{}
	queue := transcript.NewQueue(store, 16, 1, zerolog.Nop())

	sess := New("test-session", conn, Deps{
		Config:      testConfig(),
		STT:         sttClient,
		LLM:         llmClient,
		TTS:         ttsClient,
		Transcripts: queue,
	}, nil)

	return sess, conn, sttClient, store, queue
}

func findEnvelope(envs []protocol.Envelope, t protocol.MessageType) (protocol.Envelope, bool) {
	for _, env := range envs {
		if env.Type == t {
			return env, true
		}
	}
	return protocol.Envelope{}, false
}

func TestSession_RespondsToFinalTranscript(t *testing.T) {
	// 20 bytes of PCM with an 8-byte chunk size: chunks of 8, 8, 4.
	llmClient := &fakeLLM{reply: "Why do you like it?"}
	ttsClient := &fakeTTS{pcm: make([]byte, 20)}
	sess, conn, _, store, queue := newTestSession(llmClient, ttsClient)

	sess.handleUserUtterance("I love Go")
	queue.Close()

	envs := conn.envelopes(t)

	if env, ok := findEnvelope(envs, protocol.TypeUserTranscript); !ok {
		t.Error("Expected a user_transcript envelope")
	} else if env.Text() != "I love Go" {
		t.Errorf("Expected user transcript 'I love Go', got '%s'", env.Text())
	}

	if env, ok := findEnvelope(envs, protocol.TypeAITranscript); !ok {
		t.Error("Expected an ai_transcript envelope")
	} else if env.Text() != "Why do you like it?" {
		t.Errorf("Expected AI transcript reply, got '%s'", env.Text())
	}

	startEnv, ok := findEnvelope(envs, protocol.TypeTTSStart)
	if !ok {
		t.Fatal("Expected a tts_start envelope")
	}
	var start protocol.TTSStart
	if err := startEnv.DecodePayload(&start); err != nil {
		t.Fatalf("Failed to decode tts_start: %v", err)
	}
	if start.TotalChunks != 3 {
		t.Errorf("Expected 3 chunks announced, got %d", start.TotalChunks)
	}
	if start.TotalSize != 20 {
		t.Errorf("Expected total size 20, got %d", start.TotalSize)
	}
	if start.Format != "pcm" {
		t.Errorf("Expected format 'pcm', got '%s'", start.Format)
	}

	var chunks []protocol.TTSChunk
	for _, env := range envs {
		if env.Type != protocol.TypeTTSChunk {
			continue
		}
		var chunk protocol.TTSChunk
		if err := env.DecodePayload(&chunk); err != nil {
			t.Fatalf("Failed to decode tts_chunk: %v", err)
		}
		chunks = append(chunks, chunk)
	}

	if len(chunks) != 3 {
		t.Fatalf("Expected 3 chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if chunk.ChunkIndex != i {
			t.Errorf("Chunk %d: expected index %d, got %d", i, i, chunk.ChunkIndex)
		}
		wantLast := i == 2
		if chunk.IsLast != wantLast {
			t.Errorf("Chunk %d: expected isLast=%v, got %v", i, wantLast, chunk.IsLast)
		}
		payload, err := base64.StdEncoding.DecodeString(chunk.Chunk)
		if err != nil {
			t.Fatalf("Chunk %d: invalid base64: %v", i, err)
		}
		wantLen := 8
		if i == 2 {
			wantLen = 4
		}
		if len(payload) != wantLen {
			t.Errorf("Chunk %d: expected %d bytes, got %d", i, wantLen, len(payload))
		}
	}

	completeEnv, ok := findEnvelope(envs, protocol.TypeTTSComplete)
	if !ok {
		t.Fatal("Expected a tts_complete envelope")
	}
	var complete protocol.TTSComplete
	if err := completeEnv.DecodePayload(&complete); err != nil {
		t.Fatalf("Failed to decode tts_complete: %v", err)
	}
	if complete.TotalChunks != 3 {
		t.Errorf("Expected tts_complete totalChunks 3, got %d", complete.TotalChunks)
	}

	turns := sess.Turns()
	if len(turns) != 2 {
		t.Fatalf("Expected 2 turns, got %d", len(turns))
	}
	if turns[0].Role != llm.RoleUser || turns[1].Role != llm.RoleAssistant {
		t.Errorf("Expected user then assistant turns, got %v", turns)
	}

	if len(store.saved) != 2 {
		t.Errorf("Expected 2 persisted turns, got %d", len(store.saved))
	}
}

func TestSession_LLMFailureSurvives(t *testing.T) {
	llmClient := &fakeLLM{err: errors.New("model overloaded")}
	ttsClient := &fakeTTS{pcm: make([]byte, 8)}
	sess, conn, _, _, queue := newTestSession(llmClient, ttsClient)
	defer queue.Close()

	sess.handleUserUtterance("hello?")

	envs := conn.envelopes(t)
	errEnv, ok := findEnvelope(envs, protocol.TypeError)
	if !ok {
		t.Fatal("Expected an error envelope")
	}
	var payload protocol.ErrorPayload
	if err := errEnv.DecodePayload(&payload); err != nil {
		t.Fatalf("Failed to decode error payload: %v", err)
	}
	if payload.Code != "llm_failed" {
		t.Errorf("Expected code 'llm_failed', got '%s'", payload.Code)
	}

	if _, ok := findEnvelope(envs, protocol.TypeTTSStart); ok {
		t.Error("Expected no audio after LLM failure")
	}

	// The session is still usable.
	turns := sess.Turns()
	if len(turns) != 1 {
		t.Errorf("Expected only the user turn recorded, got %d", len(turns))
	}
}

func TestSession_TTSFailureSurvives(t *testing.T) {
	llmClient := &fakeLLM{reply: "a question"}
	ttsClient := &fakeTTS{err: errors.New("synthesis down")}
	sess, conn, _, _, queue := newTestSession(llmClient, ttsClient)
	defer queue.Close()

	sess.handleUserUtterance("hello")

	envs := conn.envelopes(t)
	if _, ok := findEnvelope(envs, protocol.TypeAITranscript); !ok {
		t.Error("Expected ai_transcript even when synthesis fails")
	}

	errEnv, ok := findEnvelope(envs, protocol.TypeError)
	if !ok {
		t.Fatal("Expected an error envelope")
	}
	var payload protocol.ErrorPayload
	errEnv.DecodePayload(&payload)
	if payload.Code != "tts_failed" {
		t.Errorf("Expected code 'tts_failed', got '%s'", payload.Code)
	}
}

func TestSession_PingAnsweredWithPong(t *testing.T) {
	sess, conn, _, _, queue := newTestSession(&fakeLLM{}, &fakeTTS{})
	defer queue.Close()

	env, _ := protocol.NewText(protocol.TypePing, "ping")
	data, _ := env.Encode()
	sess.handleEnvelope(data)

	envs := conn.envelopes(t)
	if _, ok := findEnvelope(envs, protocol.TypePong); !ok {
		t.Error("Expected a pong envelope in response to ping")
	}
}

func TestSession_UnknownTypeDropped(t *testing.T) {
	sess, conn, _, _, queue := newTestSession(&fakeLLM{}, &fakeTTS{})
	defer queue.Close()

	sess.handleEnvelope([]byte(`{"type":"video_chunk","message":"x"}`))
	sess.handleEnvelope([]byte(`garbage`))

	if len(conn.envelopes(t)) != 0 {
		t.Error("Expected no response to unknown or malformed frames")
	}
}

func TestSession_BinaryAudioForwarded(t *testing.T) {
	sess, conn, sttClient, _, queue := newTestSession(&fakeLLM{}, &fakeTTS{})
	defer queue.Close()

	pcm := []byte{1, 2, 3, 4}
	conn.reads <- frame{msgType: websocket.BinaryMessage, data: pcm}
	conn.Close()

	sess.readPump()

	received := sttClient.received()
	if len(received) != 1 {
		t.Fatalf("Expected 1 audio frame forwarded, got %d", len(received))
	}
	if string(received[0]) != string(pcm) {
		t.Errorf("Expected audio forwarded verbatim, got %v", received[0])
	}
}

func TestSession_AudioChunkEnvelopeForwarded(t *testing.T) {
	sess, _, sttClient, _, queue := newTestSession(&fakeLLM{}, &fakeTTS{})
	defer queue.Close()

	pcm := []byte{9, 8, 7, 6}
	env, _ := protocol.NewPayload(protocol.TypeAudioChunk, map[string]string{
		"chunk": base64.StdEncoding.EncodeToString(pcm),
	})
	data, _ := env.Encode()
	sess.handleEnvelope(data)

	received := sttClient.received()
	if len(received) != 1 {
		t.Fatalf("Expected 1 audio frame forwarded, got %d", len(received))
	}
	if string(received[0]) != string(pcm) {
		t.Errorf("Expected decoded audio forwarded, got %v", received[0])
	}
}

func TestSession_FinalTranscriptDrivesPipeline(t *testing.T) {
	llmClient := &fakeLLM{reply: "next question"}
	ttsClient := &fakeTTS{pcm: make([]byte, 8)}
	sess, conn, sttClient, _, queue := newTestSession(llmClient, ttsClient)
	defer queue.Close()

	go sess.transcriptionLoop()

	sttClient.results <- &stt.Result{Text: "partial tex", IsFinal: false}
	sttClient.results <- &stt.Result{Text: "my final answer", IsFinal: true}

	deadline := time.After(2 * time.Second)
	for {
		envs := conn.envelopes(t)
		if _, ok := findEnvelope(envs, protocol.TypeTTSComplete); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("Timed out waiting for pipeline to complete")
		case <-time.After(10 * time.Millisecond):
		}
	}

	envs := conn.envelopes(t)
	userEnv, ok := findEnvelope(envs, protocol.TypeUserTranscript)
	if !ok {
		t.Fatal("Expected user_transcript")
	}
	if userEnv.Text() != "my final answer" {
		t.Errorf("Expected final text only, got '%s'", userEnv.Text())
	}

	// Partials never produce transcript envelopes.
	count := 0
	for _, env := range envs {
		if env.Type == protocol.TypeUserTranscript {
			count++
		}
	}
	if count != 1 {
		t.Errorf("Expected exactly 1 user_transcript, got %d", count)
	}

	sess.Close()
}
