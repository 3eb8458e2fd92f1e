package vad

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/aivocate/interview-gateway/internal/audio"
)

type state int

const (
	stateIdle state = iota
	stateSpeech
)

// Segment is one detected utterance, ready for transcription.
type Segment struct {
	Samples []float64
	Start   time.Time
	End     time.Time
}

// PCM returns the segment encoded as little-endian 16-bit PCM.
func (s Segment) PCM() []byte {
	return audio.EncodePCM16LE(s.Samples)
}

// Duration returns the audible length of the segment.
func (s Segment) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Config holds segmentation tunables.
type Config struct {
	SampleRate    int
	MinSpeech     time.Duration
	MaxSilence    time.Duration
	BufferSeconds int
}

// Segmenter accumulates frames into speech segments. It opens a segment
// when the detector first reports speech and closes it after MaxSilence
// of continuous silence. Segments shorter than MinSpeech are discarded.
// Accumulation is bounded to BufferSeconds of audio; older samples are
// dropped from the front when an utterance runs long.
type Segmenter struct {
	detector   *Detector
	cfg        Config
	maxSamples int
	logger     zerolog.Logger

	state       state
	speechStart time.Time
	lastSpeech  time.Time
	frameDur    time.Duration
	samples     []float64
}

// NewSegmenter creates a segmenter around the given detector.
func NewSegmenter(detector *Detector, cfg Config, logger zerolog.Logger) *Segmenter {
	if cfg.BufferSeconds <= 0 {
		cfg.BufferSeconds = 2
	}
	return &Segmenter{
		detector:   detector,
		cfg:        cfg,
		maxSamples: cfg.BufferSeconds * cfg.SampleRate,
		logger:     logger,
	}
}

// Process feeds one capture frame. It returns a completed segment when
// an utterance has just ended, or nil.
func (s *Segmenter) Process(frame audio.Frame) *Segment {
	isSpeech := s.detector.IsSpeech(frame.Samples)

	switch s.state {
	case stateIdle:
		if !isSpeech {
			return nil
		}
		s.state = stateSpeech
		s.speechStart = frame.Timestamp
		s.lastSpeech = frame.Timestamp
		s.frameDur = frameDuration(frame, s.cfg.SampleRate)
		s.samples = s.samples[:0]
		s.append(frame.Samples)
		s.logger.Debug().Time("start", frame.Timestamp).Msg("speech started")
		return nil

	case stateSpeech:
		s.append(frame.Samples)
		if isSpeech {
			s.lastSpeech = frame.Timestamp
			s.frameDur = frameDuration(frame, s.cfg.SampleRate)
			return nil
		}
		if frame.Timestamp.Sub(s.lastSpeech) >= s.cfg.MaxSilence {
			return s.close()
		}
		return nil
	}
	return nil
}

// Flush closes any in-progress segment, returning it if long enough.
// Used when recording stops mid-utterance.
func (s *Segmenter) Flush() *Segment {
	if s.state != stateSpeech {
		return nil
	}
	return s.close()
}

// Reset drops any in-progress segment and clears detector history.
func (s *Segmenter) Reset() {
	s.state = stateIdle
	s.samples = s.samples[:0]
	s.detector.Reset()
}

func (s *Segmenter) close() *Segment {
	// End covers the last speech frame in full, so an utterance
	// sustained for exactly MinSpeech is kept.
	seg := &Segment{
		Samples: append([]float64(nil), s.samples...),
		Start:   s.speechStart,
		End:     s.lastSpeech.Add(s.frameDur),
	}
	s.state = stateIdle
	s.samples = s.samples[:0]

	if seg.Duration() < s.cfg.MinSpeech {
		s.logger.Debug().
			Dur("duration", seg.Duration()).
			Msg("discarding segment below minimum speech duration")
		return nil
	}

	s.logger.Debug().
		Dur("duration", seg.Duration()).
		Int("samples", len(seg.Samples)).
		Msg("speech segment complete")
	return seg
}

func frameDuration(frame audio.Frame, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(len(frame.Samples)) * time.Second / time.Duration(sampleRate)
}

func (s *Segmenter) append(samples []float64) {
	s.samples = append(s.samples, samples...)
	if len(s.samples) > s.maxSamples {
		drop := len(s.samples) - s.maxSamples
		s.samples = s.samples[drop:]
	}
}
