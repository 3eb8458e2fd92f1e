package client

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aivocate/interview-gateway/internal/audio"
	"github.com/aivocate/interview-gateway/internal/vad"
)

func newCaptureSegmenter() *vad.Segmenter {
	det := vad.NewDetector(0.6, 0.005, 10)
	return vad.NewSegmenter(det, vad.Config{
		SampleRate:    16000,
		MinSpeech:     300 * time.Millisecond,
		MaxSilence:    600 * time.Millisecond,
		BufferSeconds: 2,
	}, zerolog.Nop())
}

func speechFrame(ts time.Time) audio.Frame {
	samples := make([]float64, 160)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 0.5
		} else {
			samples[i] = -0.5
		}
	}
	return audio.Frame{Samples: samples, Timestamp: ts}
}

func silenceFrame(ts time.Time) audio.Frame {
	return audio.Frame{Samples: make([]float64, 160), Timestamp: ts}
}

type captureRecorder struct {
	mu    sync.Mutex
	sends [][]byte
}

func (r *captureRecorder) send(pcm []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends = append(r.sends, append([]byte(nil), pcm...))
	return nil
}

func (r *captureRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sends)
}

func TestCapturePump_GatedModeSendsSegmentsOnly(t *testing.T) {
	rec := &captureRecorder{}
	pump := NewCapturePump(newCaptureSegmenter(), rec.send)

	ts := time.Unix(0, 0)
	step := 10 * time.Millisecond

	// Silence sends nothing.
	for i := 0; i < 50; i++ {
		pump.HandleFrame(silenceFrame(ts))
		ts = ts.Add(step)
	}
	if rec.count() != 0 {
		t.Fatalf("Expected no sends during silence, got %d", rec.count())
	}

	// One utterance sends exactly one segment.
	for i := 0; i < 50; i++ {
		pump.HandleFrame(speechFrame(ts))
		ts = ts.Add(step)
	}
	for i := 0; i < 70; i++ {
		pump.HandleFrame(silenceFrame(ts))
		ts = ts.Add(step)
	}

	if rec.count() != 1 {
		t.Errorf("Expected exactly 1 segment sent, got %d", rec.count())
	}
}

func TestCapturePump_ContinuousModeForwardsEveryFrame(t *testing.T) {
	rec := &captureRecorder{}
	pump := NewCapturePump(newCaptureSegmenter(), rec.send)

	pump.StartRecording()

	ts := time.Unix(0, 0)
	for i := 0; i < 10; i++ {
		pump.HandleFrame(silenceFrame(ts))
		ts = ts.Add(10 * time.Millisecond)
	}

	// Even silence is forwarded in continuous mode.
	if rec.count() != 10 {
		t.Errorf("Expected 10 frames forwarded, got %d", rec.count())
	}

	pump.StopRecording()
	for i := 0; i < 10; i++ {
		pump.HandleFrame(silenceFrame(ts))
		ts = ts.Add(10 * time.Millisecond)
	}
	if rec.count() != 10 {
		t.Errorf("Expected no new sends after StopRecording, got %d", rec.count())
	}
}

func TestCapturePump_StartRecordingFlushesSegment(t *testing.T) {
	rec := &captureRecorder{}
	pump := NewCapturePump(newCaptureSegmenter(), rec.send)

	ts := time.Unix(0, 0)
	for i := 0; i < 50; i++ {
		pump.HandleFrame(speechFrame(ts))
		ts = ts.Add(10 * time.Millisecond)
	}

	// Speech is mid-utterance; switching modes must not drop it.
	pump.StartRecording()

	if rec.count() != 1 {
		t.Errorf("Expected in-progress segment flushed on StartRecording, got %d sends", rec.count())
	}
}
