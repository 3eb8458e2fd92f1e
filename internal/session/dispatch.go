package session

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/aivocate/interview-gateway/internal/protocol"
)

// dispatchAudio streams synthesized PCM as an announced, ordered chunk
// sequence: tts_start, then every chunk with its index and isLast flag,
// then tts_complete with timing metrics. A short pause between chunks
// keeps the client's playback queue from flooding.
func (s *Session) dispatchAudio(text string, pcm []byte) error {
	chunkSize := s.deps.Config.AudioChunkSize
	totalChunks := (len(pcm) + chunkSize - 1) / chunkSize
	if totalChunks == 0 {
		return fmt.Errorf("no audio to dispatch")
	}

	start, err := protocol.NewPayload(protocol.TypeTTSStart, protocol.TTSStart{
		Text:        text,
		TotalChunks: totalChunks,
		Format:      "pcm",
		TotalSize:   len(pcm),
	})
	if err != nil {
		return err
	}
	if err := s.sendEnvelope(start); err != nil {
		return fmt.Errorf("failed to send tts_start: %w", err)
	}

	chunkDelay := time.Duration(s.deps.Config.ChunkSendDelayMs) * time.Millisecond
	dispatchStart := time.Now()
	var totalLatency time.Duration

	for i := 0; i < totalChunks; i++ {
		end := (i + 1) * chunkSize
		if end > len(pcm) {
			end = len(pcm)
		}
		chunk := pcm[i*chunkSize : end]

		env, err := protocol.NewPayload(protocol.TypeTTSChunk, protocol.TTSChunk{
			ChunkIndex: i,
			IsLast:     i == totalChunks-1,
			Chunk:      base64.StdEncoding.EncodeToString(chunk),
		})
		if err != nil {
			return err
		}

		sendStart := time.Now()
		if err := s.sendEnvelope(env); err != nil {
			return fmt.Errorf("failed to send chunk %d/%d: %w", i+1, totalChunks, err)
		}
		totalLatency += time.Since(sendStart)

		s.metrics.RecordChunkSent()
		s.metrics.RecordAudioBytes("out", int64(len(chunk)))

		if i < totalChunks-1 && chunkDelay > 0 {
			time.Sleep(chunkDelay)
		}
	}

	complete, err := protocol.NewPayload(protocol.TypeTTSComplete, protocol.TTSComplete{
		TotalChunks: totalChunks,
		Metrics: protocol.TTSMetrics{
			TotalTimeMs:           time.Since(dispatchStart).Milliseconds(),
			AverageChunkLatencyMs: totalLatency.Milliseconds() / int64(totalChunks),
			TotalLatencyMs:        totalLatency.Milliseconds(),
		},
	})
	if err != nil {
		return err
	}
	if err := s.sendEnvelope(complete); err != nil {
		return fmt.Errorf("failed to send tts_complete: %w", err)
	}

	s.logger.Debug().
		Int("chunks", totalChunks).
		Int("bytes", len(pcm)).
		Dur("elapsed", time.Since(dispatchStart)).
		Msg("audio dispatched")
	return nil
}
