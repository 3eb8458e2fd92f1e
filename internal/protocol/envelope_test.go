package protocol

import (
	"encoding/json"
	"testing"
)

func TestParse(t *testing.T) {
	env, err := Parse([]byte(`{"type":"chat","message":"hello"}`))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	if env.Type != TypeChat {
		t.Errorf("Expected type 'chat', got '%s'", env.Type)
	}

	if env.Text() != "hello" {
		t.Errorf("Expected message 'hello', got '%s'", env.Text())
	}
}

func TestParse_MissingType(t *testing.T) {
	_, err := Parse([]byte(`{"message":"hello"}`))
	if err == nil {
		t.Error("Expected error for envelope without type")
	}
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte(`not json`))
	if err == nil {
		t.Error("Expected error for malformed frame")
	}
}

func TestKnown(t *testing.T) {
	known := []MessageType{
		TypeChat, TypePing, TypePong,
		TypeAudioChunk, TypeRecordingStart, TypeRecordingEnd,
		TypeError, TypeUserTranscript, TypeAITranscript,
		TypeTTSStart, TypeTTSChunk, TypeTTSComplete,
	}
	for _, mt := range known {
		if !mt.Known() {
			t.Errorf("Expected %s to be a known type", mt)
		}
	}

	if MessageType("video_chunk").Known() {
		t.Error("Expected 'video_chunk' to be unknown")
	}
}

func TestNewText_RoundTrip(t *testing.T) {
	env, err := NewText(TypeChat, "how are you?")
	if err != nil {
		t.Fatalf("NewText() failed: %v", err)
	}

	data, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}

	parsed, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	if parsed.Type != TypeChat {
		t.Errorf("Expected type 'chat', got '%s'", parsed.Type)
	}

	if parsed.Text() != "how are you?" {
		t.Errorf("Expected 'how are you?', got '%s'", parsed.Text())
	}
}

func TestNewPayload_TTSChunk(t *testing.T) {
	env, err := NewPayload(TypeTTSChunk, TTSChunk{
		ChunkIndex: 2,
		IsLast:     true,
		Chunk:      "AAAA",
	})
	if err != nil {
		t.Fatalf("NewPayload() failed: %v", err)
	}

	data, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}

	parsed, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	var chunk TTSChunk
	if err := parsed.DecodePayload(&chunk); err != nil {
		t.Fatalf("DecodePayload() failed: %v", err)
	}

	if chunk.ChunkIndex != 2 {
		t.Errorf("Expected chunk index 2, got %d", chunk.ChunkIndex)
	}

	if !chunk.IsLast {
		t.Error("Expected isLast to be true")
	}

	if chunk.Chunk != "AAAA" {
		t.Errorf("Expected chunk 'AAAA', got '%s'", chunk.Chunk)
	}
}

func TestDecodePayload_DoubleEncoded(t *testing.T) {
	inner, _ := json.Marshal(TTSStart{
		Text:        "welcome",
		TotalChunks: 3,
		Format:      "pcm",
		TotalSize:   24576,
	})
	outer, _ := json.Marshal(string(inner))
	raw := []byte(`{"type":"tts_start","message":` + string(outer) + `}`)

	env, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	var start TTSStart
	if err := env.DecodePayload(&start); err != nil {
		t.Fatalf("DecodePayload() failed: %v", err)
	}

	if start.TotalChunks != 3 {
		t.Errorf("Expected totalChunks 3, got %d", start.TotalChunks)
	}

	if start.Format != "pcm" {
		t.Errorf("Expected format 'pcm', got '%s'", start.Format)
	}
}
