// Package audio provides PCM sample conversion, energy measurement and
// buffering shared by the capture and playback paths. All audio on the
// wire is little-endian signed 16-bit mono PCM.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

const (
	// CaptureSampleRate is the microphone sample rate in Hz.
	CaptureSampleRate = 16000
	// PlaybackSampleRate is the synthesized audio sample rate in Hz.
	PlaybackSampleRate = 22050
	// BytesPerSample for 16-bit PCM.
	BytesPerSample = 2
)

// Frame is one fixed-size block of normalized capture samples.
type Frame struct {
	Samples   []float64
	Timestamp time.Time
}

// EncodePCM16LE converts normalized samples in [-1, 1] to little-endian
// signed 16-bit PCM bytes. Samples outside the range are clamped.
func EncodePCM16LE(samples []float64) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * 32767)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// DecodePCM16LE converts little-endian signed 16-bit PCM bytes to
// normalized samples. A trailing odd byte is ignored.
func DecodePCM16LE(data []byte) []float64 {
	n := len(data) / BytesPerSample
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		v := int(data[i*2]) | int(data[i*2+1])<<8
		if v > 32767 {
			v -= 65536
		}
		out[i] = float64(v) / 32768
	}
	return out
}

// Int16ToBytes converts raw int16 samples to little-endian PCM bytes.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToInt16 converts little-endian PCM bytes to raw int16 samples.
func BytesToInt16(data []byte) ([]int16, error) {
	if len(data)%BytesPerSample != 0 {
		return nil, fmt.Errorf("pcm data length %d is not sample-aligned", len(data))
	}
	out := make([]int16, len(data)/BytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out, nil
}

// RMS computes the root mean square energy of normalized samples.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// RMSInt16 computes the normalized RMS energy of raw int16 samples.
func RMSInt16(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s) / 32768
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// DurationOf returns the play time of a PCM byte slice at the given rate.
func DurationOf(pcm []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := len(pcm) / BytesPerSample
	return time.Duration(float64(samples) / float64(sampleRate) * float64(time.Second))
}
