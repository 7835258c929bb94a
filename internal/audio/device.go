package audio

import "context"

// Format describes raw PCM. Zero fields mean 24 kHz mono 16-bit.
type Format struct {
	SampleRate      int
	Channels        int
	BitsPerSample   int
	FramesPerBuffer int
}

// DefaultFormat is the voice format exchanged with the server.
func DefaultFormat() Format {
	return Format{SampleRate: SampleRate, Channels: Channels, BitsPerSample: BitsPerSample, FramesPerBuffer: FramesPerBuffer}
}

func (f Format) withDefaults() Format {
	if f.SampleRate <= 0 {
		f.SampleRate = SampleRate
	}
	if f.Channels <= 0 {
		f.Channels = Channels
	}
	if f.BitsPerSample <= 0 {
		f.BitsPerSample = BitsPerSample
	}
	if f.FramesPerBuffer <= 0 {
		f.FramesPerBuffer = f.SampleRate / 10
	}
	return f
}

// Device is the hardware boundary: one capture stream and one playback sink.
type Device interface {
	// Open acquires input and output devices for the given format.
	Open(f Format) error
	// StartCapture begins delivering raw PCM chunks to sink from a device goroutine.
	StartCapture(f Format, sink func([]byte)) error
	// StopCapture stops delivery; sink is not called after it returns.
	StopCapture() error
	// Play blocks until the WAV has been rendered or ctx is cancelled.
	Play(ctx context.Context, wav []byte) error
	Close() error
}
