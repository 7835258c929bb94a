// Package vad detects a user talking over assistant playback from the energy
// of captured PCM frames.
package vad

import (
	"encoding/binary"
	"math"
)

const (
	DefaultThreshold = 0.05
	DefaultFrames    = 3
)

// Detector counts consecutive loud frames. It is not safe for concurrent use;
// the call loop owns it.
type Detector struct {
	threshold float64
	frames    int
	count     int
}

// New creates a detector that fires after frames consecutive chunks with RMS above threshold.
func New(threshold float64, frames int) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if frames <= 0 {
		frames = DefaultFrames
	}
	return &Detector{threshold: threshold, frames: frames}
}

// RMS of 16-bit little-endian samples, normalized to [0, 1].
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// Process feeds one chunk and reports whether barge-in should fire.
// The counter resets after firing and on any quiet chunk.
func (d *Detector) Process(pcm []byte) bool {
	if RMS(pcm) <= d.threshold {
		d.count = 0
		return false
	}
	d.count++
	if d.count >= d.frames {
		d.count = 0
		return true
	}
	return false
}

func (d *Detector) Reset() { d.count = 0 }

func (d *Detector) Count() int { return d.count }

func (d *Detector) Threshold() float64 { return d.threshold }
