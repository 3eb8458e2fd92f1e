// Package stt provides streaming speech-to-text clients. Two backends
// are supported: a websocket relay speaking a simple JSON result
// protocol, and Deepgram's live transcription API.
package stt

// Result represents one transcription result
type Result struct {
	// Text is the transcribed text
	Text string

	// IsFinal indicates a final transcription (true) or interim (false)
	IsFinal bool

	// Confidence is the confidence score (0.0 to 1.0) if available
	Confidence float64
}

// Client is the interface for speech-to-text clients
type Client interface {
	// Start begins a new transcription session
	Start() error

	// SendAudio sends a chunk of 16 kHz 16-bit mono PCM
	SendAudio(audioData []byte) error

	// Results returns the channel of transcription results
	Results() <-chan *Result

	// Stop ends the transcription session
	Stop() error

	// Close closes the client and cleans up resources
	Close() error
}
