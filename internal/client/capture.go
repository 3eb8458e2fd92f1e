package client

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/aivocate/interview-gateway/internal/audio"
	"github.com/aivocate/interview-gateway/internal/observability"
	"github.com/aivocate/interview-gateway/internal/vad"
)

// SendFunc transmits one binary PCM payload upstream.
type SendFunc func(pcm []byte) error

// CapturePump feeds microphone frames to the server. In the default
// gated mode, frames pass through the segmenter and only detected
// speech goes on the wire. During an explicit recording (between
// recording_start and recording_end) every frame is forwarded
// immediately so the server-side transcriber sees a continuous stream.
type CapturePump struct {
	segmenter *vad.Segmenter
	send      SendFunc
	logger    zerolog.Logger

	mu         sync.Mutex
	continuous bool
}

// NewCapturePump creates a pump around the given segmenter.
func NewCapturePump(segmenter *vad.Segmenter, send SendFunc) *CapturePump {
	return &CapturePump{
		segmenter: segmenter,
		send:      send,
		logger:    observability.GetLogger().With().Str("component", "capture").Logger(),
	}
}

// HandleFrame processes one capture frame.
func (p *CapturePump) HandleFrame(frame audio.Frame) {
	p.mu.Lock()
	continuous := p.continuous
	p.mu.Unlock()

	if continuous {
		if err := p.send(audio.EncodePCM16LE(frame.Samples)); err != nil {
			p.logger.Warn().Err(err).Msg("failed to send audio frame")
		}
		return
	}

	segment := p.segmenter.Process(frame)
	if segment == nil {
		return
	}
	p.sendSegment(segment)
}

// StartRecording switches to continuous forwarding. Any in-progress
// segment is sent first so speech straddling the switch is not lost.
func (p *CapturePump) StartRecording() {
	p.mu.Lock()
	p.continuous = true
	p.mu.Unlock()

	if segment := p.segmenter.Flush(); segment != nil {
		p.sendSegment(segment)
	}
	p.logger.Info().Msg("continuous capture started")
}

// StopRecording returns to voice-gated capture.
func (p *CapturePump) StopRecording() {
	p.mu.Lock()
	p.continuous = false
	p.mu.Unlock()

	p.segmenter.Reset()
	p.logger.Info().Msg("continuous capture stopped")
}

func (p *CapturePump) sendSegment(segment *vad.Segment) {
	pcm := segment.PCM()
	if err := p.send(pcm); err != nil {
		p.logger.Warn().Err(err).Msg("failed to send speech segment")
		return
	}
	p.logger.Debug().
		Dur("duration", segment.Duration()).
		Int("bytes", len(pcm)).
		Msg("speech segment sent")
}
