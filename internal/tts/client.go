// Package tts synthesizes interviewer replies into raw PCM audio.
package tts

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/aivocate/interview-gateway/internal/config"
	"github.com/aivocate/interview-gateway/internal/observability"
)

// Client synthesizes text to 22.05 kHz 16-bit mono PCM.
type Client interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// OpenAIClient implements Client using the speech API with raw PCM
// output, so chunks can go straight onto the wire without transcoding.
type OpenAIClient struct {
	api    *openai.Client
	model  openai.SpeechModel
	voice  openai.SpeechVoice
	logger zerolog.Logger
}

// NewOpenAIClient creates an OpenAI-backed synthesizer.
func NewOpenAIClient(cfg *config.Config) *OpenAIClient {
	return &OpenAIClient{
		api:    openai.NewClient(cfg.OpenAIAPIKey),
		model:  openai.SpeechModel(cfg.TTSModel),
		voice:  openai.SpeechVoice(cfg.TTSVoice),
		logger: observability.GetLogger().With().Str("component", "tts").Logger(),
	}
}

// Synthesize returns the full utterance as PCM bytes.
func (c *OpenAIClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("cannot synthesize empty text")
	}

	start := time.Now()
	resp, err := c.api.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          c.model,
		Input:          text,
		Voice:          c.voice,
		ResponseFormat: openai.SpeechResponseFormatPcm,
	})
	if err != nil {
		return nil, fmt.Errorf("speech synthesis failed: %w", err)
	}
	defer resp.Close()

	pcm, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read synthesized audio: %w", err)
	}

	c.logger.Debug().
		Int("text_len", len(text)).
		Int("pcm_bytes", len(pcm)).
		Dur("latency", time.Since(start)).
		Msg("synthesis complete")
	return pcm, nil
}
