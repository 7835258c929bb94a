// Package audio owns microphone capture, the playback buffer and the speaker
// sink, and the small state machine that alternates between them.
package audio

import "time"

const (
	SampleRate      = 24000
	Channels        = 1
	BitsPerSample   = 16
	BlockAlign      = Channels * BitsPerSample / 8
	FramesPerBuffer = 2400 // 100ms at 24 kHz

	// Pause between playback end and capture restart so the speaker tail is not recorded.
	DefaultSettleDelay = 200 * time.Millisecond

	wavHeaderSize = 44
	eventBuffer   = 32
)
