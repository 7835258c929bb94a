package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/voicelink/internal/audio"
	apperrors "github.com/GriffinCanCode/voicelink/internal/errors"
	"github.com/GriffinCanCode/voicelink/internal/orchestrator/transcript"
	"github.com/GriffinCanCode/voicelink/internal/orchestrator/vad"
	"github.com/GriffinCanCode/voicelink/internal/syncx"
	"github.com/GriffinCanCode/voicelink/internal/trace"
	"github.com/GriffinCanCode/voicelink/internal/transport"
)

// Transport is the voice server connection.
type Transport interface {
	Connect(ctx context.Context, creds transport.Credentials) error
	Disconnect()
	SendAudio(pcm []byte) error
	Interrupt() error
	UpdateConfig(voice *string, vadThreshold *float64) error
	State() transport.State
	Subscribe(buffer int) *syncx.Subscription[transport.Event]
}

// AudioPipeline captures microphone audio and plays assistant responses.
type AudioPipeline interface {
	Initialize() error
	StartRecording() error
	AddToPlaybackBuffer(pcm []byte)
	SignalResponseComplete()
	InterruptPlayback()
	ClearPlaybackBuffer()
	Halt()
	State() audio.State
	SetSink(fn func([]byte))
	Subscribe(buffer int) *syncx.Subscription[audio.Event]
}

// SessionService issues bearer tokens and voice sessions.
type SessionService interface {
	CreateToken(ctx context.Context, userID, email string) error
	CreateSession(ctx context.Context, model, provider string) (string, error)
	HasValidToken() bool
	BearerToken() string
}

// Options select the model and voice for the next call.
type Options struct {
	Model        string
	Voice        string
	Provider     string
	VADThreshold float64
	VADFrames    int
}

// ErrStopped is returned by commands issued after the call loop has exited.
var ErrStopped = apperrors.New(apperrors.CodeUnavailable, "call manager stopped")

// Manager serializes every effect on call state through one loop goroutine.
// Transport events, pipeline events, captured chunks and caller commands all
// arrive on channels consumed by that loop.
type Manager struct {
	transport Transport
	pipeline  AudioPipeline
	sessions  SessionService

	vad   *vad.Detector
	log   *transcript.Log
	inbox chan func()
	chunk chan []byte
	done  chan struct{}
	once  sync.Once

	latest *syncx.RWGuard[Snapshot]
	snaps  *syncx.Broadcaster[Snapshot]
	relay  *syncx.Relay[Snapshot]

	// Serializes StartCall so a superseded start finishes its cleanup before the next one connects.
	startMu sync.Mutex

	// Owned by the loop.
	opts          Options
	state         CallState
	callID        string
	callGen       uint64
	ctx           context.Context
	muted         bool
	authenticated bool
	errMsg        string
	stats         Stats
	tsub          *syncx.Subscription[transport.Event]
}

func New(t Transport, p AudioPipeline, s SessionService, opts Options) *Manager {
	snaps := syncx.NewBroadcaster[Snapshot]()
	m := &Manager{
		transport: t,
		pipeline:  p,
		sessions:  s,
		vad:       vad.New(opts.VADThreshold, opts.VADFrames),
		log:       transcript.NewLog(),
		inbox:     make(chan func()),
		chunk:     make(chan []byte, ChunkBuffer),
		done:      make(chan struct{}),
		latest:    syncx.NewGuard(Snapshot{}),
		snaps:     snaps,
		relay:     syncx.NewRelay(snaps),
		opts:      opts,
		ctx:       context.Background(),
	}
	p.SetSink(m.onCapture)
	return m
}

// Start runs the call loop until ctx is cancelled. It returns immediately.
func (m *Manager) Start(ctx context.Context) {
	m.once.Do(func() {
		asub := m.pipeline.Subscribe(AudioEventBuffer)
		m.authenticated = m.sessions.HasValidToken()
		m.publish()
		go m.loop(ctx, asub)
	})
}

// Done is closed when the loop has exited.
func (m *Manager) Done() <-chan struct{} { return m.done }

// Subscribe streams a snapshot after every change.
func (m *Manager) Subscribe(buffer int) *syncx.Subscription[Snapshot] {
	return m.snaps.Subscribe(buffer)
}

// Snapshot returns the latest published view.
func (m *Manager) Snapshot() Snapshot { return m.latest.Get() }

// Transcript returns the finalized entries of the current call.
func (m *Manager) Transcript() []transcript.Entry { return m.log.Entries() }

// GetRecentTranscript renders entries from the last n seconds.
func (m *Manager) GetRecentTranscript(seconds int) string {
	if seconds <= 0 {
		seconds = RecentTranscriptSeconds
	}
	return m.log.GetRecent(seconds)
}

func (m *Manager) loop(ctx context.Context, asub *syncx.Subscription[audio.Event]) {
	defer func() {
		asub.Close()
		m.relay.Stop()
		m.snaps.CloseAll()
		close(m.done)
	}()

	for {
		var tc <-chan transport.Event
		if m.tsub != nil {
			tc = m.tsub.C
		}
		select {
		case <-ctx.Done():
			m.shutdown()
			return
		case fn := <-m.inbox:
			fn()
		case ev, ok := <-tc:
			if !ok {
				m.tsub = nil
				m.transportClosed()
				continue
			}
			m.onTransport(ev)
		case ev := <-asub.C:
			m.onAudio(ev)
		case pcm := <-m.chunk:
			m.route(pcm)
		}
	}
}

// do runs fn on the loop and waits for it.
func (m *Manager) do(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	select {
	case m.inbox <- func() { fn(); close(ran) }:
	case <-m.done:
		return ErrStopped
	case <-ctx.Done():
		return apperrors.Wrap(ctx.Err(), apperrors.CodeCancelled, "call manager busy")
	}
	<-ran
	return nil
}

// onCapture runs on the capture goroutine and never blocks it.
func (m *Manager) onCapture(pcm []byte) {
	select {
	case m.chunk <- pcm:
	default:
		slog.Debug("captured chunk dropped", "bytes", len(pcm))
	}
}

// Initialize acquires the audio device ahead of the first call.
func (m *Manager) Initialize(ctx context.Context) error {
	err := m.pipeline.Initialize()
	if derr := m.do(ctx, func() {
		if err != nil {
			m.errMsg = err.Error()
		}
		m.publish()
	}); derr != nil {
		return derr
	}
	return err
}

// Authenticate obtains a bearer token for later calls.
func (m *Manager) Authenticate(ctx context.Context, userID, email string) error {
	ctx, span := trace.StartSpan(ctx, "call.authenticate")
	defer span.Finish(ctx)

	err := m.sessions.CreateToken(ctx, userID, email)
	valid := m.sessions.HasValidToken()
	if derr := m.do(ctx, func() {
		m.authenticated = valid
		if err != nil {
			m.errMsg = err.Error()
		}
		m.publish()
	}); derr != nil {
		return derr
	}
	if err != nil {
		trace.Logger(ctx).Warn("authentication failed", "user_id", userID, "error", err)
	}
	return err
}

// StartCall creates a session, connects, starts recording and only then reports connected.
// A failure at any step tears down what was set up and leaves the call in error.
func (m *Manager) StartCall(ctx context.Context) error {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	ctx, tc := trace.Ensure(ctx)
	var (
		gen    uint64
		callID string
		opts   Options
		refuse error
	)
	if err := m.do(ctx, func() {
		if !m.state.Startable() {
			refuse = apperrors.Newf(apperrors.CodeInvalidState, "cannot start a call while %s", m.state)
			return
		}
		if !m.sessions.HasValidToken() {
			m.authenticated = false
			refuse = apperrors.New(apperrors.CodeNotAuthenticated, "no valid token, authenticate first")
			m.errMsg = refuse.Error()
			m.publish()
			return
		}
		m.callGen++
		gen = m.callGen
		callID = uuid.NewString()
		m.callID = callID
		m.ctx = trace.WithCall(trace.WithContext(context.Background(), tc), callID)
		m.log.Reset()
		m.vad.Reset()
		m.stats = Stats{StartedAt: time.Now()}
		m.muted = false
		m.errMsg = ""
		m.tsub = m.transport.Subscribe(TransportEventBuffer)
		opts = m.opts
		m.setState(Initializing)
	}); err != nil {
		return err
	}
	if refuse != nil {
		return refuse
	}

	ctx = trace.WithCall(ctx, callID)
	ctx, span := trace.StartSpan(ctx, "call.start")
	defer span.Finish(ctx)
	log := trace.Logger(ctx)
	log.Info("starting call", "model", opts.Model, "voice", opts.Voice)

	if err := m.pipeline.Initialize(); err != nil {
		return m.abortStart(ctx, gen, err)
	}

	sctx, cancel := context.WithTimeout(ctx, SessionTimeout)
	sessionID, err := m.sessions.CreateSession(sctx, opts.Model, opts.Provider)
	cancel()
	if err != nil {
		return m.abortStart(ctx, gen, err)
	}
	span.Set("session_id", sessionID)

	if !m.advance(ctx, gen, Initializing, Connecting) {
		return m.abortStart(ctx, gen, errSuperseded)
	}
	err = m.transport.Connect(ctx, transport.Credentials{
		Token:     m.sessions.BearerToken(),
		SessionID: sessionID,
		Model:     opts.Model,
		Voice:     opts.Voice,
	})
	if err != nil {
		return m.abortStart(ctx, gen, err)
	}
	if err := m.pipeline.StartRecording(); err != nil {
		return m.abortStart(ctx, gen, err)
	}
	if !m.advance(ctx, gen, Connecting, Connected) {
		return m.abortStart(ctx, gen, errSuperseded)
	}
	log.Info("call connected", "session_id", sessionID)
	return nil
}

var errSuperseded = apperrors.New(apperrors.CodeCancelled, "call start superseded")

// advance moves from one startup phase to the next if this start still owns the call.
func (m *Manager) advance(ctx context.Context, gen uint64, from, to CallState) bool {
	ok := false
	_ = m.do(ctx, func() {
		if m.callGen != gen || m.state != from {
			return
		}
		m.setState(to)
		ok = true
	})
	return ok
}

func (m *Manager) abortStart(ctx context.Context, gen uint64, err error) error {
	m.transport.Disconnect()
	m.pipeline.Halt()
	_ = m.do(context.WithoutCancel(ctx), func() {
		if m.callGen != gen {
			return
		}
		m.dropTransport()
		m.errMsg = err.Error()
		m.setState(Failed)
	})
	trace.Logger(ctx).Warn("call start failed", "error", err)
	return err
}

// EndCall stops capture and playback and closes the connection. It is idempotent
// and safe while a start is still in progress.
func (m *Manager) EndCall(ctx context.Context) error {
	return m.do(ctx, func() {
		if m.state == Idle || m.state == Ended {
			return
		}
		m.callGen++
		m.dropTransport()
		m.transport.Disconnect()
		m.pipeline.Halt()
		m.vad.Reset()
		m.log.ClearAssistantPartial()
		m.setState(Ended)
		trace.Logger(m.ctx).Info("call ended",
			"messages", m.stats.Messages, "total_tokens", m.stats.TotalTokens,
			"duration", time.Since(m.stats.StartedAt).Round(time.Millisecond))
	})
}

// ToggleMute flips the mute flag and returns the new value.
func (m *Manager) ToggleMute(ctx context.Context) (bool, error) {
	var muted bool
	err := m.do(ctx, func() {
		m.muted = !m.muted
		m.vad.Reset()
		muted = m.muted
		m.publish()
	})
	return muted, err
}

// Interrupt cuts the assistant off. It only acts while the assistant is speaking.
func (m *Manager) Interrupt(ctx context.Context) (bool, error) {
	var ok bool
	err := m.do(ctx, func() {
		if m.state != AISpeaking {
			return
		}
		m.interrupt("manual")
		ok = true
	})
	return ok, err
}

// SetCallOptions changes model or voice. A voice change is pushed to a live call;
// a model change applies to the next call.
func (m *Manager) SetCallOptions(ctx context.Context, model, voice *string) error {
	var pushErr error
	err := m.do(ctx, func() {
		if model != nil && *model != "" {
			m.opts.Model = *model
		}
		if voice != nil && *voice != "" {
			m.opts.Voice = *voice
			if m.state.Active() {
				pushErr = m.transport.UpdateConfig(voice, nil)
			}
		}
	})
	if err != nil {
		return err
	}
	return pushErr
}

// CallOptions returns the options the next call will use.
func (m *Manager) CallOptions(ctx context.Context) (Options, error) {
	var o Options
	err := m.do(ctx, func() { o = m.opts })
	return o, err
}

func (m *Manager) route(pcm []byte) {
	if m.muted || !m.state.Active() {
		return
	}
	if m.state == AISpeaking {
		if m.vad.Process(pcm) {
			trace.Logger(m.ctx).Info("barge-in detected", "rms", vad.RMS(pcm))
			m.interrupt("vad")
		}
		return
	}
	if err := m.transport.SendAudio(pcm); err != nil {
		trace.Logger(m.ctx).Debug("send audio failed", "error", err)
	}
}

func (m *Manager) interrupt(reason string) {
	m.pipeline.InterruptPlayback()
	if err := m.transport.Interrupt(); err != nil {
		trace.Logger(m.ctx).Warn("interrupt not sent", "error", err)
	}
	m.log.ClearAssistantPartial()
	m.vad.Reset()
	m.stats.Interruptions++
	trace.Logger(m.ctx).Info("assistant interrupted", "reason", reason)
	m.setState(Listening)
}

func (m *Manager) onTransport(ev transport.Event) {
	log := trace.Logger(m.ctx)
	switch ev.Kind {
	case transport.EventStateChanged:
		m.publish()

	case transport.EventAuthenticated:
		log.Info("voice session authenticated", "user_id", ev.UserID, "session_id", ev.SessionID)

	case transport.EventAudio:
		if !m.state.Active() {
			return
		}
		m.pipeline.AddToPlaybackBuffer(ev.Audio)
		m.derive()

	case transport.EventUserTranscript:
		n := m.log.Len()
		m.log.UserFragment(ev.Text, ev.Final)
		m.stats.Messages += m.log.Len() - n
		m.publish()

	case transport.EventAssistantTranscript:
		m.log.AssistantFragment(ev.Text, ev.Final)
		m.publish()

	case transport.EventSpeechStarted:
		if m.state == AISpeaking || (m.state.Active() && m.pipeline.State().Speaking()) {
			m.interrupt("server_vad")
			return
		}
		if m.state == Connected {
			m.setState(Listening)
		}

	case transport.EventSpeechEnded:
		if m.state == Listening {
			m.setState(Connected)
		}

	case transport.EventResponseInterrupted:
		m.pipeline.ClearPlaybackBuffer()
		m.log.ClearAssistantPartial()
		m.publish()

	case transport.EventResponseComplete:
		if ev.Interrupted {
			m.log.ClearAssistantPartial()
		} else if m.log.CompleteAssistant(ev.Text) != "" {
			m.stats.Messages++
		}
		m.stats.addUsage(ev.Usage)
		if m.state.Active() {
			m.pipeline.SignalResponseComplete()
			m.derive()
		}
		m.publish()

	case transport.EventError:
		if ev.Err == nil {
			return
		}
		if !ev.Fatal {
			log.Warn("voice server error", "code", ev.Err.Code, "message", ev.Err.Message)
			return
		}
		if m.state.Active() {
			m.fail(ev.Err)
		}
	}
}

// transportClosed handles the event stream ending under a live call.
func (m *Manager) transportClosed() {
	if m.state.Active() {
		m.fail(apperrors.New(apperrors.CodeNotConnected, "voice connection closed"))
	}
}

func (m *Manager) onAudio(ev audio.Event) {
	switch ev.Kind {
	case audio.EventPlaybackComplete:
		if m.state == AISpeaking && !m.pipeline.State().Speaking() {
			m.vad.Reset()
			m.setState(Connected)
			return
		}
	case audio.EventStateChanged:
		if ev.State == audio.Failed && m.state.Active() {
			m.fail(apperrors.New(apperrors.CodeDeviceUnavailable, "audio device failed"))
			return
		}
		m.derive()
	}
	m.publish()
}

// derive applies the pipeline's live state: assistant audio in flight means aiSpeaking.
func (m *Manager) derive() {
	if (m.state == Connected || m.state == Listening) && m.pipeline.State().Speaking() {
		m.vad.Reset()
		m.setState(AISpeaking)
	}
}

func (m *Manager) fail(err *apperrors.AppError) {
	trace.Logger(m.ctx).Error("call failed", "code", err.Code, "error", err.Message)
	m.callGen++
	m.dropTransport()
	m.transport.Disconnect()
	m.pipeline.Halt()
	m.vad.Reset()
	m.errMsg = err.Message
	m.setState(Failed)
}

func (m *Manager) dropTransport() {
	if m.tsub != nil {
		m.tsub.Close()
		m.tsub = nil
	}
}

func (m *Manager) shutdown() {
	if m.state != Idle && m.state != Ended {
		m.dropTransport()
		m.transport.Disconnect()
		m.pipeline.Halt()
		m.setState(Ended)
	}
}

func (m *Manager) setState(s CallState) {
	if m.state != s {
		trace.Logger(m.ctx).Info("call state changed", "from", m.state, "to", s)
		m.state = s
	}
	m.publish()
}

func (m *Manager) publish() {
	user, assistant := m.log.Partials()
	s := Snapshot{
		CallID:           m.callID,
		State:            m.state,
		Muted:            m.muted,
		Authenticated:    m.authenticated,
		PartialUser:      user,
		PartialAssistant: assistant,
		Transcript:       m.log.Entries(),
		Stats:            m.stats,
		Error:            m.errMsg,
		ConnectionState:  m.transport.State().String(),
		AudioState:       m.pipeline.State().String(),
	}
	m.latest.Set(s)
	m.relay.Push(s)
}
