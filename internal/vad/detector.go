// Package vad implements energy-based voice activity detection and
// speech segmentation over fixed-size capture frames.
package vad

import (
	"github.com/aivocate/interview-gateway/internal/audio"
)

// Detector classifies frames as speech or silence using an adaptive
// energy threshold over a short rolling history.
type Detector struct {
	sensitivity   float64
	energyFloor   float64
	historyFrames int
	history       []float64
}

// NewDetector creates a detector. Sensitivity scales the adaptive
// threshold; energyFloor is the absolute minimum below which a frame is
// never speech; historyFrames is the rolling window length.
func NewDetector(sensitivity, energyFloor float64, historyFrames int) *Detector {
	if historyFrames <= 0 {
		historyFrames = 10
	}
	return &Detector{
		sensitivity:   sensitivity,
		energyFloor:   energyFloor,
		historyFrames: historyFrames,
		history:       make([]float64, 0, historyFrames),
	}
}

// IsSpeech classifies one frame of normalized samples. The frame's
// energy enters the history after classification, so a loud frame does
// not raise the threshold it is judged against.
func (d *Detector) IsSpeech(samples []float64) bool {
	energy := audio.RMS(samples)
	threshold := d.Threshold()
	d.push(energy)
	return energy > threshold
}

// Threshold returns the current adaptive threshold:
// max(energyFloor, meanHistoryEnergy * sensitivity).
func (d *Detector) Threshold() float64 {
	if len(d.history) == 0 {
		return d.energyFloor
	}
	var sum float64
	for _, e := range d.history {
		sum += e
	}
	adaptive := (sum / float64(len(d.history))) * d.sensitivity
	if adaptive < d.energyFloor {
		return d.energyFloor
	}
	return adaptive
}

// Reset clears the energy history.
func (d *Detector) Reset() {
	d.history = d.history[:0]
}

func (d *Detector) push(energy float64) {
	if len(d.history) == d.historyFrames {
		copy(d.history, d.history[1:])
		d.history = d.history[:d.historyFrames-1]
	}
	d.history = append(d.history, energy)
}
