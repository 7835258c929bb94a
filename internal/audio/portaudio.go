package audio

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	apperrors "github.com/GriffinCanCode/voicelink/internal/errors"
)

// Loopback and virtual devices that must never be mistaken for the user's microphone.
var loopbackKeywords = []string{"blackhole", "vb-cable", "loopback", "monitor", "soundflower"}

// PortAudioDevice captures from the best available microphone and plays
// through the default output device.
type PortAudioDevice struct {
	excluded []string

	mu      sync.Mutex
	opened  bool
	input   *portaudio.DeviceInfo
	capture *captureStream
}

type captureStream struct {
	stream *portaudio.Stream
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPortAudioDevice creates a device that skips inputs whose names contain any of excluded.
func NewPortAudioDevice(excluded ...string) *PortAudioDevice {
	return &PortAudioDevice{excluded: excluded}
}

func (d *PortAudioDevice) Open(f Format) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.opened {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return apperrors.Wrap(err, apperrors.CodeDeviceUnavailable, "initialize portaudio")
	}
	devices, err := portaudio.Devices()
	if err != nil {
		_ = portaudio.Terminate()
		return apperrors.Wrap(err, apperrors.CodeDeviceUnavailable, "list audio devices")
	}
	in := pickInput(devices, d.excluded)
	if in == nil {
		_ = portaudio.Terminate()
		return apperrors.New(apperrors.CodeDeviceUnavailable, "no microphone available")
	}
	if _, err := portaudio.DefaultOutputDevice(); err != nil {
		_ = portaudio.Terminate()
		return apperrors.Wrap(err, apperrors.CodeDeviceUnavailable, "no output device")
	}
	// Echo cancellation, noise suppression and gain control are left to the OS voice stack.
	slog.Info("audio device opened", "input", in.Name, "sample_rate", f.withDefaults().SampleRate)
	d.input = in
	d.opened = true
	return nil
}

// pickInput prefers a built-in microphone and never returns a loopback device.
func pickInput(devices []*portaudio.DeviceInfo, excluded []string) *portaudio.DeviceInfo {
	var best *portaudio.DeviceInfo
	for _, dev := range devices {
		if dev.MaxInputChannels < 1 || matchesAny(dev.Name, excluded) || matchesAny(dev.Name, loopbackKeywords) {
			continue
		}
		if best == nil || (isBuiltIn(dev.Name) && !isBuiltIn(best.Name)) {
			best = dev
		}
	}
	return best
}

func isBuiltIn(name string) bool {
	return matchesAny(name, []string{"built-in", "macbook"})
}

func matchesAny(name string, keywords []string) bool {
	lower := strings.ToLower(name)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func (d *PortAudioDevice) StartCapture(f Format, sink func([]byte)) error {
	f = f.withDefaults()
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return apperrors.New(apperrors.CodeInvalidState, "device not open")
	}
	if d.capture != nil {
		return nil
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   d.input,
			Channels: f.Channels,
			Latency:  d.input.DefaultLowInputLatency,
		},
		SampleRate:      float64(f.SampleRate),
		FramesPerBuffer: f.FramesPerBuffer,
	}
	buf := make([]int16, f.FramesPerBuffer*f.Channels)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeDeviceUnavailable, "open capture stream")
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return apperrors.Wrap(err, apperrors.CodePermissionDenied, "start capture stream")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cs := &captureStream{stream: stream, cancel: cancel, done: make(chan struct{})}
	d.capture = cs

	go func() {
		defer close(cs.done)
		for ctx.Err() == nil {
			if err := stream.Read(); err != nil {
				if errors.Is(err, portaudio.InputOverflowed) {
					continue
				}
				slog.Debug("capture read stopped", "error", err)
				return
			}
			if ctx.Err() != nil {
				return
			}
			sink(Int16ToBytes(buf))
		}
	}()
	return nil
}

func (d *PortAudioDevice) StopCapture() error {
	d.mu.Lock()
	cs := d.capture
	d.capture = nil
	d.mu.Unlock()
	if cs == nil {
		return nil
	}
	cs.cancel()
	err := cs.stream.Stop()
	<-cs.done
	if cerr := cs.stream.Close(); err == nil {
		err = cerr
	}
	return err
}

func (d *PortAudioDevice) Play(ctx context.Context, wav []byte) error {
	f, pcm, err := DecodeWAV(wav)
	if err != nil {
		return err
	}
	f = f.withDefaults()
	samples := BytesToInt16(pcm)

	buf := make([]int16, f.FramesPerBuffer*f.Channels)
	stream, err := portaudio.OpenDefaultStream(0, f.Channels, float64(f.SampleRate), f.FramesPerBuffer, buf)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeDeviceUnavailable, "open playback stream")
	}
	defer stream.Close()
	if err := stream.Start(); err != nil {
		return apperrors.Wrap(err, apperrors.CodeDeviceUnavailable, "start playback stream")
	}
	defer stream.Stop()

	for off := 0; off < len(samples); off += len(buf) {
		if err := ctx.Err(); err != nil {
			_ = stream.Abort()
			return err
		}
		n := copy(buf, samples[off:])
		clear(buf[n:])
		if err := stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			return apperrors.Wrap(err, apperrors.CodeDeviceUnavailable, "write playback stream")
		}
	}
	return nil
}

func (d *PortAudioDevice) Close() error {
	_ = d.StopCapture()
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return nil
	}
	d.opened = false
	return portaudio.Terminate()
}
