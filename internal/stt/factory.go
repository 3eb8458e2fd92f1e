package stt

import (
	"fmt"

	"github.com/aivocate/interview-gateway/internal/config"
)

// New creates the STT client selected by the configuration.
func New(cfg *config.Config) (Client, error) {
	switch cfg.STTBackend {
	case "relay":
		return NewRelayClient(cfg), nil
	case "deepgram":
		return NewDeepgramClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown STT backend: %s", cfg.STTBackend)
	}
}
