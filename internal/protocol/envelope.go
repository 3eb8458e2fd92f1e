// Package protocol defines the JSON control-channel envelope exchanged
// between the interview client and the session orchestrator, and the
// structured payloads carried by the tts_* message family.
package protocol

import (
	"encoding/json"
	"fmt"
)

// MessageType tags an Envelope. The tag set is closed: unknown tags are
// logged and dropped by both ends, never treated as fatal.
type MessageType string

const (
	// Bidirectional
	TypeChat MessageType = "chat"
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"

	// Client → server
	TypeAudioChunk     MessageType = "audio_chunk"
	TypeRecordingStart MessageType = "recording_start"
	TypeRecordingEnd   MessageType = "recording_end"

	// Server → client
	TypeError          MessageType = "error"
	TypeUserTranscript MessageType = "user_transcript"
	TypeAITranscript   MessageType = "ai_transcript"
	TypeTTSStart       MessageType = "tts_start"
	TypeTTSChunk       MessageType = "tts_chunk"
	TypeTTSComplete    MessageType = "tts_complete"
)

var knownTypes = map[MessageType]bool{
	TypeChat:           true,
	TypePing:           true,
	TypePong:           true,
	TypeAudioChunk:     true,
	TypeRecordingStart: true,
	TypeRecordingEnd:   true,
	TypeError:          true,
	TypeUserTranscript: true,
	TypeAITranscript:   true,
	TypeTTSStart:       true,
	TypeTTSChunk:       true,
	TypeTTSComplete:    true,
}

// Known reports whether t belongs to the closed tag set.
func (t MessageType) Known() bool {
	return knownTypes[t]
}

// Envelope is the wire frame for every control-channel message.
// Message holds either a plain string or a JSON-encoded payload struct,
// mirroring the {type, message} shape the protocol has always used.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Message json.RawMessage `json:"message,omitempty"`
}

// TTSStart announces an outbound audio stream before its first chunk.
type TTSStart struct {
	Text        string `json:"text"`
	TotalChunks int    `json:"totalChunks"`
	Format      string `json:"format"`
	TotalSize   int    `json:"totalSize"`
}

// TTSChunk carries one ordered segment of the audio stream.
// Chunk is base64-encoded raw PCM bytes.
type TTSChunk struct {
	ChunkIndex int    `json:"chunkIndex"`
	IsLast     bool   `json:"isLast"`
	Chunk      string `json:"chunk"`
}

// TTSMetrics reports dispatch timing for a completed stream.
type TTSMetrics struct {
	TotalTimeMs           int64 `json:"totalTimeMs"`
	AverageChunkLatencyMs int64 `json:"averageChunkLatencyMs"`
	TotalLatencyMs        int64 `json:"totalLatencyMs"`
}

// TTSComplete terminates an audio stream.
type TTSComplete struct {
	TotalChunks int        `json:"totalChunks"`
	Metrics     TTSMetrics `json:"metrics"`
}

// ErrorPayload surfaces an upstream collaborator failure to the client.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewText builds an envelope whose message is a plain string.
func NewText(t MessageType, message string) (Envelope, error) {
	raw, err := json.Marshal(message)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode message: %w", err)
	}
	return Envelope{Type: t, Message: raw}, nil
}

// NewPayload builds an envelope whose message is a JSON payload struct.
func NewPayload(t MessageType, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %s payload: %w", t, err)
	}
	return Envelope{Type: t, Message: raw}, nil
}

// Parse decodes a raw control-channel frame into an Envelope.
func Parse(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("malformed envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("malformed envelope: missing type")
	}
	return env, nil
}

// Text decodes the envelope message as a plain string. Messages that
// were sent as bare (unquoted) text are returned verbatim.
func (e Envelope) Text() string {
	var s string
	if err := json.Unmarshal(e.Message, &s); err != nil {
		return string(e.Message)
	}
	return s
}

// DecodePayload decodes the envelope message into a payload struct.
// Payloads may arrive either as a JSON object or as a JSON string
// containing an object (the historical double-encoded form).
func (e Envelope) DecodePayload(v any) error {
	if err := json.Unmarshal(e.Message, v); err == nil {
		return nil
	}
	var inner string
	if err := json.Unmarshal(e.Message, &inner); err != nil {
		return fmt.Errorf("malformed %s payload: %w", e.Type, err)
	}
	if err := json.Unmarshal([]byte(inner), v); err != nil {
		return fmt.Errorf("malformed %s payload: %w", e.Type, err)
	}
	return nil
}

// Encode serializes the envelope for the wire.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}
