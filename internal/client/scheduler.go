package client

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aivocate/interview-gateway/internal/audio"
	"github.com/aivocate/interview-gateway/internal/observability"
)

// Clock abstracts time for the scheduler. Injectable for tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

// Sink receives decoded PCM with the instant it should begin playing.
type Sink interface {
	Play(pcm []byte, at time.Time)
}

// PCMChunk is one received segment of an announced audio stream.
type PCMChunk struct {
	Index   int
	IsLast  bool
	Payload []byte
}

// Scheduler turns a chunk stream into gapless playback. Each chunk
// starts at max(now, end of previous chunk), so chunks arriving faster
// than real time queue up back to back and late chunks start
// immediately. Chunks received before playback is enabled are buffered
// and flushed in index order once it is.
type Scheduler struct {
	clock      Clock
	sink       Sink
	sampleRate int
	logger     zerolog.Logger

	mu        sync.Mutex
	enabled   bool
	pending   []PCMChunk
	nextStart time.Time
	expected  int
	total     int
	playing   bool
	streamGen int
}

// lastChunkGrace pads the playing state past the final chunk's
// scheduled end so its audio finishes before playback reads false.
const lastChunkGrace = 100 * time.Millisecond

// NewScheduler creates a scheduler playing at the given sample rate.
func NewScheduler(clock Clock, sink Sink, sampleRate int) *Scheduler {
	return &Scheduler{
		clock:      clock,
		sink:       sink,
		sampleRate: sampleRate,
		logger:     observability.GetLogger().With().Str("component", "scheduler").Logger(),
	}
}

// Enable turns playback on, flushing any buffered chunks in index
// order. In a browser this gate is the user's first gesture; here it
// is the audio device opening.
func (s *Scheduler) Enable() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enabled = true
	if len(s.pending) == 0 {
		return
	}

	sort.SliceStable(s.pending, func(i, j int) bool {
		return s.pending[i].Index < s.pending[j].Index
	})
	flushed := s.pending
	s.pending = nil
	for _, chunk := range flushed {
		s.scheduleLocked(chunk)
	}
	s.logger.Info().Int("count", len(flushed)).Msg("flushed buffered audio")
}

// Disable pauses scheduling; subsequent chunks buffer.
func (s *Scheduler) Disable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = false
}

// StartStream begins an announced stream: ordering state is zeroed,
// chunks buffered from any prior stream are discarded, and the
// playback cursor snaps to the current audio clock.
func (s *Scheduler) StartStream(totalChunks int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expected = 0
	s.total = totalChunks
	s.pending = nil
	s.nextStart = s.clock.Now()
	s.playing = true
	s.streamGen++
}

// Submit hands one received chunk to the scheduler.
func (s *Scheduler) Submit(chunk PCMChunk) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if chunk.Index != s.expected {
		// Out-of-order delivery is logged, not rejected: a dropped
		// chunk should cost a glitch, not the stream.
		s.logger.Warn().
			Int("expected", s.expected).
			Int("got", chunk.Index).
			Msg("chunk arrived out of order")
	}
	s.expected = chunk.Index + 1

	if !s.enabled {
		s.pending = append(s.pending, chunk)
		return
	}
	s.scheduleLocked(chunk)
}

// scheduleLocked assigns the chunk its start time. Caller holds mu.
func (s *Scheduler) scheduleLocked(chunk PCMChunk) {
	start := s.clock.Now()
	if s.nextStart.After(start) {
		start = s.nextStart
	}
	duration := audio.DurationOf(chunk.Payload, s.sampleRate)
	s.nextStart = start.Add(duration)

	s.sink.Play(chunk.Payload, start)
	observability.RecordPlaybackChunk(len(chunk.Payload))

	if chunk.IsLast {
		end := s.nextStart
		gen := s.streamGen
		s.logger.Debug().Time("stream_ends", end).Msg("last chunk scheduled")
		remaining := end.Sub(s.clock.Now()) + lastChunkGrace
		time.AfterFunc(remaining, func() {
			s.mu.Lock()
			if s.streamGen == gen {
				s.playing = false
			}
			s.mu.Unlock()
		})
	}
}

// Playing reports whether a stream is still being played out.
func (s *Scheduler) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// NextStart returns when the next submitted chunk would begin.
func (s *Scheduler) NextStart() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

// Buffered returns how many chunks await Enable.
func (s *Scheduler) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
