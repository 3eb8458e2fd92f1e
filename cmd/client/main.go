// Command client is a terminal interview client: it captures
// microphone audio, streams detected speech to the gateway, and plays
// the interviewer's voice back through the default output device.
package main

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/aivocate/interview-gateway/internal/audio"
	"github.com/aivocate/interview-gateway/internal/client"
	"github.com/aivocate/interview-gateway/internal/config"
	"github.com/aivocate/interview-gateway/internal/observability"
	"github.com/aivocate/interview-gateway/internal/protocol"
	"github.com/aivocate/interview-gateway/internal/vad"
)

const (
	captureFrameSamples = 320 // 20 ms at 16 kHz
	playbackFrameBytes  = 4096
)

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "gateway base URL")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, true)
	logger := observability.GetLogger()

	sessionID, err := createSession(*serverURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create session")
	}
	logger.Info().Str("session_id", sessionID).Msg("Session created")

	wsURL := strings.Replace(*serverURL, "http", "ws", 1) +
		"/api/v1/interview-session/" + sessionID

	if err := portaudio.Initialize(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize audio")
	}
	defer portaudio.Terminate()

	// Playback: the scheduler assigns start times, the sink copies PCM
	// into a ring buffer the output stream drains.
	ring := audio.NewRingBuffer(cfg.PlaybackSampleRate * audio.BytesPerSample * 10)
	scheduler := client.NewScheduler(client.RealClock(), &ringSink{ring: ring}, cfg.PlaybackSampleRate)

	playbackBuf := make([]int16, playbackFrameBytes/audio.BytesPerSample)
	outStream, err := portaudio.OpenDefaultStream(0, 1, float64(cfg.PlaybackSampleRate),
		len(playbackBuf), &playbackBuf)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open output stream")
	}
	defer outStream.Close()

	if err := outStream.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start output stream")
	}
	defer outStream.Stop()
	scheduler.Enable()

	go func() {
		raw := make([]byte, playbackFrameBytes)
		for {
			ring.Read(raw)
			samples, err := audio.BytesToInt16(raw)
			if err != nil {
				continue
			}
			copy(playbackBuf, samples)
			if err := outStream.Write(); err != nil {
				logger.Debug().Err(err).Msg("playback write failed")
			}
		}
	}()

	// Connection
	conn := client.NewConn(wsURL, client.WebsocketDialer{HandshakeTimeout: 10 * time.Second}, cfg)
	conn.OnState = func(s client.State) {
		logger.Info().Str("state", s.String()).Msg("connection state")
	}
	conn.OnEnvelope = func(env protocol.Envelope) {
		handleEnvelope(env, scheduler)
	}

	if err := conn.Connect(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect")
	}

	// Capture: mic frames pass the voice activity gate before upload.
	detector := vad.NewDetector(cfg.VADSensitivity, cfg.VADEnergyFloor, cfg.VADHistoryFrames)
	segmenter := vad.NewSegmenter(detector, vad.Config{
		SampleRate:    cfg.CaptureSampleRate,
		MinSpeech:     time.Duration(cfg.MinSpeechMs) * time.Millisecond,
		MaxSilence:    time.Duration(cfg.MaxSilenceMs) * time.Millisecond,
		BufferSeconds: cfg.VADBufferSeconds,
	}, logger.With().Str("component", "vad").Logger())
	pump := client.NewCapturePump(segmenter, conn.SendBinary)

	captureBuf := make([]int16, captureFrameSamples)
	inStream, err := portaudio.OpenDefaultStream(1, 0, float64(cfg.CaptureSampleRate),
		len(captureBuf), &captureBuf)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open input stream")
	}
	defer inStream.Close()

	if err := inStream.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start input stream")
	}
	defer inStream.Stop()

	stopCapture := make(chan struct{})
	go func() {
		for {
			select {
			case <-stopCapture:
				return
			default:
			}
			if err := inStream.Read(); err != nil {
				logger.Debug().Err(err).Msg("capture read failed")
				continue
			}
			samples := audio.DecodePCM16LE(audio.Int16ToBytes(captureBuf))
			pump.HandleFrame(audio.Frame{Samples: samples, Timestamp: time.Now()})
		}
	}()

	// Console: typed lines go up as chat; /record toggles continuous
	// capture around recording_start and recording_end.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		recording := false
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if line == "/record" {
				if recording {
					pump.StopRecording()
					if env, err := protocol.NewText(protocol.TypeRecordingEnd, "stop"); err == nil {
						conn.Send(env)
					}
					fmt.Println("[recording stopped]")
				} else {
					if env, err := protocol.NewText(protocol.TypeRecordingStart, "start"); err == nil {
						conn.Send(env)
					}
					pump.StartRecording()
					fmt.Println("[recording started]")
				}
				recording = !recording
				continue
			}
			if env, err := protocol.NewText(protocol.TypeChat, line); err == nil {
				conn.Send(env)
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	close(stopCapture)
	conn.Disconnect()
	logger.Info().Msg("Goodbye")
}

// ringSink delays each chunk until its scheduled start, then hands it
// to the playback ring buffer.
type ringSink struct {
	ring *audio.RingBuffer
}

func (s *ringSink) Play(pcm []byte, at time.Time) {
	delay := time.Until(at)
	if delay <= 0 {
		s.ring.Write(pcm)
		return
	}
	time.AfterFunc(delay, func() {
		s.ring.Write(pcm)
	})
}

func handleEnvelope(env protocol.Envelope, scheduler *client.Scheduler) {
	switch env.Type {
	case protocol.TypeChat:
		fmt.Printf("\nInterviewer: %s\n> ", env.Text())

	case protocol.TypeUserTranscript:
		fmt.Printf("\nYou: %s\n> ", env.Text())

	case protocol.TypeAITranscript:
		fmt.Printf("\nInterviewer: %s\n> ", env.Text())

	case protocol.TypeTTSStart:
		var start protocol.TTSStart
		if err := env.DecodePayload(&start); err != nil {
			return
		}
		scheduler.StartStream(start.TotalChunks)

	case protocol.TypeTTSChunk:
		var chunk protocol.TTSChunk
		if err := env.DecodePayload(&chunk); err != nil {
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(chunk.Chunk)
		if err != nil {
			return
		}
		scheduler.Submit(client.PCMChunk{
			Index:   chunk.ChunkIndex,
			IsLast:  chunk.IsLast,
			Payload: pcm,
		})

	case protocol.TypeTTSComplete:
		var complete protocol.TTSComplete
		if err := env.DecodePayload(&complete); err != nil {
			return
		}
		observability.GetLogger().Debug().
			Int("chunks", complete.TotalChunks).
			Int64("total_ms", complete.Metrics.TotalTimeMs).
			Msg("stream complete")

	case protocol.TypeError:
		var payload protocol.ErrorPayload
		if err := env.DecodePayload(&payload); err != nil {
			return
		}
		fmt.Printf("\n[error: %s: %s]\n> ", payload.Code, payload.Message)
	}
}

func createSession(serverURL string) (string, error) {
	resp, err := http.Post(serverURL+"/api/v1/interview-session", "application/json", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("unexpected status: %s", resp.Status)
	}

	var body struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.SessionID, nil
}
