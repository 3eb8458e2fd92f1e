package client

import (
	"sync"
	"testing"
	"time"

	"github.com/aivocate/interview-gateway/internal/audio"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type playback struct {
	pcm []byte
	at  time.Time
}

type fakeSink struct {
	mu     sync.Mutex
	played []playback
}

func (s *fakeSink) Play(pcm []byte, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.played = append(s.played, playback{pcm: pcm, at: at})
}

func (s *fakeSink) all() []playback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]playback(nil), s.played...)
}

// chunkOf returns PCM lasting the given duration at 22050 Hz.
func chunkOf(d time.Duration) []byte {
	samples := int(float64(22050) * d.Seconds())
	return make([]byte, samples*2)
}

func TestScheduler_BackToBackScheduling(t *testing.T) {
	clock := &fakeClock{now: time.Unix(100, 0)}
	sink := &fakeSink{}
	s := NewScheduler(clock, sink, 22050)
	s.Enable()
	s.StartStream(3)

	// Three 100 ms chunks arrive instantly.
	for i := 0; i < 3; i++ {
		s.Submit(PCMChunk{Index: i, IsLast: i == 2, Payload: chunkOf(100 * time.Millisecond)})
	}

	played := sink.all()
	if len(played) != 3 {
		t.Fatalf("Expected 3 scheduled chunks, got %d", len(played))
	}

	base := time.Unix(100, 0)
	for i, p := range played {
		want := base.Add(time.Duration(i) * 100 * time.Millisecond)
		if !p.at.Equal(want) {
			t.Errorf("Chunk %d: expected start %v, got %v", i, want, p.at)
		}
	}
}

func TestScheduler_StartTimesNeverDecrease(t *testing.T) {
	clock := &fakeClock{now: time.Unix(100, 0)}
	sink := &fakeSink{}
	s := NewScheduler(clock, sink, 22050)
	s.Enable()
	s.StartStream(4)

	s.Submit(PCMChunk{Index: 0, Payload: chunkOf(50 * time.Millisecond)})
	clock.advance(200 * time.Millisecond) // gap longer than the chunk
	s.Submit(PCMChunk{Index: 1, Payload: chunkOf(50 * time.Millisecond)})
	s.Submit(PCMChunk{Index: 2, Payload: chunkOf(50 * time.Millisecond)})
	clock.advance(10 * time.Millisecond)
	s.Submit(PCMChunk{Index: 3, IsLast: true, Payload: chunkOf(50 * time.Millisecond)})

	played := sink.all()
	for i := 1; i < len(played); i++ {
		if played[i].at.Before(played[i-1].at) {
			t.Errorf("Chunk %d starts at %v, before chunk %d at %v",
				i, played[i].at, i-1, played[i-1].at)
		}
		prevEnd := played[i-1].at.Add(audio.DurationOf(played[i-1].pcm, 22050))
		if played[i].at.Before(prevEnd) {
			t.Errorf("Chunk %d starts at %v, overlapping previous chunk ending %v",
				i, played[i].at, prevEnd)
		}
	}
}

func TestScheduler_LateChunkStartsImmediately(t *testing.T) {
	clock := &fakeClock{now: time.Unix(100, 0)}
	sink := &fakeSink{}
	s := NewScheduler(clock, sink, 22050)
	s.Enable()
	s.StartStream(2)

	s.Submit(PCMChunk{Index: 0, Payload: chunkOf(50 * time.Millisecond)})
	clock.advance(500 * time.Millisecond)
	s.Submit(PCMChunk{Index: 1, IsLast: true, Payload: chunkOf(50 * time.Millisecond)})

	played := sink.all()
	want := time.Unix(100, 0).Add(500 * time.Millisecond)
	if !played[1].at.Equal(want) {
		t.Errorf("Expected late chunk to start immediately at %v, got %v", want, played[1].at)
	}
}

func TestScheduler_BuffersUntilEnabled(t *testing.T) {
	clock := &fakeClock{now: time.Unix(100, 0)}
	sink := &fakeSink{}
	s := NewScheduler(clock, sink, 22050)
	s.StartStream(3)

	// Chunks arrive out of order before playback is enabled.
	s.Submit(PCMChunk{Index: 0, Payload: []byte{0, 0}})
	s.Submit(PCMChunk{Index: 2, IsLast: true, Payload: []byte{2, 2}})
	s.Submit(PCMChunk{Index: 1, Payload: []byte{1, 1}})

	if len(sink.all()) != 0 {
		t.Fatal("Expected nothing scheduled before Enable")
	}
	if s.Buffered() != 3 {
		t.Fatalf("Expected 3 buffered chunks, got %d", s.Buffered())
	}

	s.Enable()

	played := sink.all()
	if len(played) != 3 {
		t.Fatalf("Expected 3 chunks flushed, got %d", len(played))
	}
	for i, p := range played {
		if p.pcm[0] != byte(i) {
			t.Errorf("Position %d: expected chunk index %d, got %d", i, i, p.pcm[0])
		}
	}
}

func TestScheduler_StartStreamResetsCursor(t *testing.T) {
	clock := &fakeClock{now: time.Unix(100, 0)}
	sink := &fakeSink{}
	s := NewScheduler(clock, sink, 22050)
	s.Enable()

	s.StartStream(2)
	s.Submit(PCMChunk{Index: 0, Payload: chunkOf(500 * time.Millisecond)})

	// A new announcement snaps the cursor back to the audio clock even
	// though the first stream had audio queued far ahead.
	clock.advance(50 * time.Millisecond)
	s.StartStream(1)
	s.Submit(PCMChunk{Index: 0, IsLast: true, Payload: chunkOf(100 * time.Millisecond)})

	played := sink.all()
	want := time.Unix(100, 0).Add(50 * time.Millisecond)
	if !played[1].at.Equal(want) {
		t.Errorf("Expected new stream to start at %v, got %v", want, played[1].at)
	}
}

func TestScheduler_StartStreamClearsStaleBuffer(t *testing.T) {
	clock := &fakeClock{now: time.Unix(100, 0)}
	sink := &fakeSink{}
	s := NewScheduler(clock, sink, 22050)

	// Chunks buffered while disabled belong to a stream that is then
	// superseded; they must not survive the reset.
	s.StartStream(2)
	s.Submit(PCMChunk{Index: 0, Payload: []byte{1, 1}})
	s.Submit(PCMChunk{Index: 1, IsLast: true, Payload: []byte{2, 2}})

	s.StartStream(1)
	if s.Buffered() != 0 {
		t.Errorf("Expected stale buffered chunks cleared, got %d", s.Buffered())
	}

	s.Enable()
	s.Submit(PCMChunk{Index: 0, IsLast: true, Payload: []byte{3, 3}})

	played := sink.all()
	if len(played) != 1 {
		t.Fatalf("Expected only the new stream's chunk, got %d", len(played))
	}
	if played[0].pcm[0] != 3 {
		t.Errorf("Expected new stream payload, got %v", played[0].pcm)
	}
}
