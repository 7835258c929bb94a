package audio

import (
	"context"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/GriffinCanCode/voicelink/internal/errors"
	"github.com/GriffinCanCode/voicelink/internal/resilience"
	"github.com/GriffinCanCode/voicelink/internal/syncx"
)

// State of the pipeline.
type State int

const (
	Idle State = iota
	Initializing
	Recording
	Buffering
	Playing
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Initializing:
		return "initializing"
	case Recording:
		return "recording"
	case Buffering:
		return "buffering"
	case Playing:
		return "playing"
	case Failed:
		return "error"
	}
	return "unknown"
}

// Speaking reports whether assistant audio is being accumulated or rendered.
func (s State) Speaking() bool { return s == Buffering || s == Playing }

type EventKind int

const (
	EventStateChanged EventKind = iota
	EventPlaybackComplete
)

type Event struct {
	Kind  EventKind
	State State
}

// Pipeline buffers assistant audio until a response completes, plays it as one
// WAV and then restarts capture after a settle delay.
type Pipeline struct {
	dev    Device
	format Format
	settle time.Duration
	sleep  func(ctx context.Context, d time.Duration) error

	sink   *syncx.RWGuard[func([]byte)]
	events *syncx.Broadcaster[Event]
	relay  *syncx.Relay[Event]

	mu          sync.Mutex
	state       State
	initialized bool
	recording   bool
	buffer      []byte
	gen         uint64 // bumped by anything that supersedes a pending playback or restart
	stop        context.CancelFunc
}

// NewPipeline creates an idle pipeline on dev. settle <= 0 uses DefaultSettleDelay.
func NewPipeline(dev Device, f Format, settle time.Duration) *Pipeline {
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	events := syncx.NewBroadcaster[Event]()
	return &Pipeline{
		dev:    dev,
		format: f.withDefaults(),
		settle: settle,
		sleep:  resilience.Wait,
		sink:   syncx.NewGuard[func([]byte)](nil),
		events: events,
		relay:  syncx.NewRelay(events),
	}
}

// SetSink registers the receiver of captured chunks. It runs on the device goroutine.
func (p *Pipeline) SetSink(fn func([]byte)) { p.sink.Set(fn) }

// Subscribe returns a stream of state changes and playback completions.
func (p *Pipeline) Subscribe(buffer int) *syncx.Subscription[Event] {
	return p.events.Subscribe(buffer)
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) Recording() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recording
}

// setState must be called with mu held.
func (p *Pipeline) setState(s State) {
	if p.state == s {
		return
	}
	p.state = s
	p.relay.Push(Event{Kind: EventStateChanged, State: s})
}

// Initialize acquires the device. On failure nothing is retained and the state is error.
func (p *Pipeline) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		if p.state != Failed {
			return nil
		}
		p.stopCaptureLocked()
		_ = p.dev.Close()
		p.initialized = false
	}
	p.setState(Initializing)
	if err := p.dev.Open(p.format); err != nil {
		_ = p.dev.Close()
		p.setState(Failed)
		if _, ok := apperrors.As(err); ok {
			return err
		}
		return apperrors.Wrap(err, apperrors.CodeDeviceUnavailable, "open audio device")
	}
	p.initialized = true
	p.setState(Idle)
	return nil
}

func (p *Pipeline) onCapture(chunk []byte) {
	if fn := p.sink.Get(); fn != nil {
		fn(chunk)
	}
}

// StartRecording begins capture. It is a no-op while already recording.
func (p *Pipeline) StartRecording() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return apperrors.New(apperrors.CodeInvalidState, "audio pipeline not initialized")
	}
	if err := p.startCaptureLocked(); err != nil {
		return err
	}
	if p.state == Idle {
		p.setState(Recording)
	}
	return nil
}

func (p *Pipeline) startCaptureLocked() error {
	if p.recording {
		return nil
	}
	if err := p.dev.StartCapture(p.format, p.onCapture); err != nil {
		p.setState(Failed)
		return err
	}
	p.recording = true
	return nil
}

func (p *Pipeline) stopCaptureLocked() {
	if !p.recording {
		return
	}
	if err := p.dev.StopCapture(); err != nil {
		slog.Warn("stop capture failed", "error", err)
	}
	p.recording = false
}

// StopRecording ends capture without touching playback.
func (p *Pipeline) StopRecording() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopCaptureLocked()
	if p.state == Recording {
		p.setState(Idle)
	}
}

// AddToPlaybackBuffer appends assistant PCM, starting a fresh buffer when not already buffering.
func (p *Pipeline) AddToPlaybackBuffer(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Failed || !p.initialized {
		return
	}
	if p.state != Buffering {
		p.buffer = make([]byte, 0, len(pcm)*16)
		p.setState(Buffering)
	}
	p.buffer = append(p.buffer, pcm...)
}

// BufferedBytes returns the size of the pending playback buffer.
func (p *Pipeline) BufferedBytes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

// SignalResponseComplete flushes the buffer into one WAV and plays it.
// With nothing buffered, capture is resumed if it had stopped.
func (p *Pipeline) SignalResponseComplete() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return
	}

	if p.state != Buffering || len(p.buffer) == 0 {
		p.buffer = nil
		if p.state == Buffering {
			p.setState(Idle)
		}
		if !p.recording {
			if err := p.startCaptureLocked(); err != nil {
				slog.Error("restart capture failed", "error", err)
				return
			}
		}
		if p.state == Idle {
			p.setState(Recording)
		}
		return
	}

	wav := EncodeWAV(p.buffer, p.format)
	p.buffer = nil
	if p.stop != nil {
		p.stop()
	}
	p.gen++
	ctx, cancel := context.WithCancel(context.Background())
	p.stop = cancel
	p.setState(Playing)
	go p.play(ctx, p.gen, wav)
}

func (p *Pipeline) play(ctx context.Context, gen uint64, wav []byte) {
	err := p.dev.Play(ctx, wav)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		slog.Warn("playback aborted", "error", err, "bytes", len(wav))
		p.mu.Lock()
		if p.gen == gen {
			p.buffer = nil
		}
		p.mu.Unlock()
	}
	p.restart(ctx, gen)
}

// restart stops capture, waits the settle delay and starts a fresh capture
// session, unless superseded by a newer playback, interrupt or halt.
func (p *Pipeline) restart(ctx context.Context, gen uint64) {
	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		return
	}
	p.stopCaptureLocked()
	p.mu.Unlock()

	if err := p.sleep(ctx, p.settle); err != nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		return
	}
	if err := p.startCaptureLocked(); err != nil {
		slog.Error("restart capture failed", "error", err)
		return
	}
	if p.state == Playing || p.state == Idle {
		p.setState(Recording)
	}
	if p.stop != nil {
		p.stop()
		p.stop = nil
	}
	p.relay.Push(Event{Kind: EventPlaybackComplete, State: p.state})
}

// InterruptPlayback drops buffered audio, cancels playback and forces a capture restart.
func (p *Pipeline) InterruptPlayback() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return
	}
	p.buffer = nil
	if p.stop != nil {
		p.stop()
	}
	p.gen++
	ctx, cancel := context.WithCancel(context.Background())
	p.stop = cancel
	p.setState(Idle)
	go p.restart(ctx, p.gen)
}

// ClearPlaybackBuffer discards buffered audio without affecting playback in flight.
func (p *Pipeline) ClearPlaybackBuffer() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buffer = nil
	if p.state == Buffering {
		if p.recording {
			p.setState(Recording)
		} else {
			p.setState(Idle)
		}
	}
}

// Halt stops capture and playback with no restart. The device stays open.
func (p *Pipeline) Halt() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen++
	if p.stop != nil {
		p.stop()
		p.stop = nil
	}
	p.buffer = nil
	p.stopCaptureLocked()
	if p.state != Failed {
		p.setState(Idle)
	}
}

// Close halts and releases the device. Initialize must be called again before reuse.
func (p *Pipeline) Close() error {
	p.Halt()
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return nil
	}
	p.initialized = false
	return p.dev.Close()
}
