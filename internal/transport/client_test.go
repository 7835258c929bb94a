package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	apperrors "github.com/GriffinCanCode/voicelink/internal/errors"
	"github.com/GriffinCanCode/voicelink/internal/protocol"
	"github.com/GriffinCanCode/voicelink/internal/syncx"
)

type serverMode struct {
	silent    bool   // never answer auth
	authError string // answer auth with this error code
	noPong    bool

	authReplies []protocol.Inbound // sent in order instead of the normal auth answer
	hangUp      bool               // close right after answering auth
}

// voiceServer is an in-process stand-in for the remote voice service.
type voiceServer struct {
	*httptest.Server
	conns chan *websocket.Conn
	recv  chan map[string]any
	dials atomic.Int32
}

func newVoiceServer(t *testing.T, mode serverMode) *voiceServer {
	t.Helper()
	vs := &voiceServer{
		conns: make(chan *websocket.Conn, 8),
		recv:  make(chan map[string]any, 256),
	}
	vs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		vs.dials.Add(1)
		ctx := context.Background()

		var auth map[string]any
		if err := wsjson.Read(ctx, conn, &auth); err != nil {
			return
		}
		vs.recv <- auth

		switch {
		case mode.authReplies != nil:
			for _, reply := range mode.authReplies {
				_ = wsjson.Write(ctx, conn, reply)
			}
		case mode.authError != "":
			_ = wsjson.Write(ctx, conn, protocol.Inbound{Type: protocol.TypeError, Code: mode.authError, Message: "rejected"})
		case !mode.silent:
			_ = wsjson.Write(ctx, conn, protocol.Inbound{Type: protocol.TypeAuthSuccess, UserID: "user-1", SessionID: "sess-1"})
		}
		if mode.hangUp {
			return
		}
		vs.conns <- conn

		for {
			var m map[string]any
			if err := wsjson.Read(ctx, conn, &m); err != nil {
				return
			}
			if m["type"] == protocol.TypePing && !mode.noPong {
				_ = wsjson.Write(ctx, conn, map[string]any{"type": protocol.TypePong, "timestamp": m["timestamp"]})
			}
			select {
			case vs.recv <- m:
			default:
			}
		}
	}))
	t.Cleanup(vs.Close)
	return vs
}

func (vs *voiceServer) wsURL() string { return "ws" + strings.TrimPrefix(vs.URL, "http") }

func (vs *voiceServer) nextConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-vs.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("server never received a connection")
		return nil
	}
}

func (vs *voiceServer) nextMessage(t *testing.T, typ string) map[string]any {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case m := <-vs.recv:
			if m["type"] == typ {
				return m
			}
		case <-deadline:
			t.Fatalf("server never received %q", typ)
			return nil
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, msg protocol.Inbound) {
	t.Helper()
	if err := wsjson.Write(context.Background(), conn, msg); err != nil {
		t.Fatalf("server write: %v", err)
	}
}

// waitFor drains sub until an event matches.
func waitFor(t *testing.T, sub *syncx.Subscription[Event], match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				t.Fatal("event stream closed")
			}
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
			return Event{}
		}
	}
}

// collectUntil gathers every event up to and including the first match.
func collectUntil(t *testing.T, sub *syncx.Subscription[Event], match func(Event) bool) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sub.C:
			out = append(out, ev)
			if match(ev) {
				return out
			}
		case <-deadline:
			t.Fatalf("timed out; collected %d events", len(out))
			return nil
		}
	}
}

func isKind(k EventKind) func(Event) bool { return func(ev Event) bool { return ev.Kind == k } }

func isState(s State) func(Event) bool {
	return func(ev Event) bool { return ev.Kind == EventStateChanged && ev.State == s }
}

func isMarker(text string) func(Event) bool {
	return func(ev Event) bool { return ev.Kind == EventUserTranscript && ev.Text == text }
}

var creds = Credentials{Token: "tok", SessionID: "sess-1", Model: "m", Voice: "alloy"}

func connect(t *testing.T, vs *voiceServer, opts Options) (*Client, *syncx.Subscription[Event], *websocket.Conn) {
	t.Helper()
	opts.URL = vs.wsURL()
	c := New(opts)
	sub := c.Subscribe(256)
	if err := c.Connect(context.Background(), creds); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(c.Disconnect)
	return c, sub, vs.nextConn(t)
}

func TestConnectAuthenticates(t *testing.T) {
	vs := newVoiceServer(t, serverMode{})
	c, sub, _ := connect(t, vs, Options{})

	if c.State() != Connected {
		t.Errorf("State() = %v, want connected", c.State())
	}
	auth := vs.nextMessage(t, protocol.TypeAuth)
	if auth["token"] != "tok" || auth["session_id"] != "sess-1" || auth["voice"] != "alloy" {
		t.Errorf("auth payload = %v", auth)
	}
	ev := waitFor(t, sub, isKind(EventAuthenticated))
	if ev.UserID != "user-1" || ev.SessionID != "sess-1" {
		t.Errorf("Authenticated = %+v", ev)
	}
	if uid, _ := c.Identity(); uid != "user-1" {
		t.Errorf("Identity() user = %q, want user-1", uid)
	}
}

func TestConnectAuthTimeout(t *testing.T) {
	vs := newVoiceServer(t, serverMode{silent: true})
	c := New(Options{URL: vs.wsURL(), AuthTimeout: 50 * time.Millisecond})
	defer c.Disconnect()

	err := c.Connect(context.Background(), creds)
	if !apperrors.IsCode(err, apperrors.CodeTimeout) {
		t.Fatalf("Connect() error = %v, want TIMEOUT", err)
	}
	if c.State() != Error {
		t.Errorf("State() = %v, want error", c.State())
	}
}

func TestConnectAuthRejected(t *testing.T) {
	vs := newVoiceServer(t, serverMode{authError: "INVALID_TOKEN"})
	c := New(Options{URL: vs.wsURL()})
	defer c.Disconnect()

	err := c.Connect(context.Background(), creds)
	if !apperrors.IsCode(err, apperrors.CodeInvalidToken) {
		t.Errorf("Connect() error = %v, want INVALID_TOKEN", err)
	}
}

func TestHandshakeFailureIsFinal(t *testing.T) {
	rateLimited := protocol.Inbound{Type: protocol.TypeError, Code: "RATE_LIMITED", Message: "slow down"}
	tests := []struct {
		name    string
		replies []protocol.Inbound
	}{
		{"errors then success", []protocol.Inbound{rateLimited, rateLimited, {Type: protocol.TypeAuthSuccess, UserID: "u", SessionID: "s"}}},
		{"error then close", []protocol.Inbound{{Type: protocol.TypeError, Code: "AUTH_FAILED", Message: "bad token"}}},
		{"errors then close", []protocol.Inbound{rateLimited, rateLimited}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vs := newVoiceServer(t, serverMode{authReplies: tt.replies, hangUp: true})
			c := New(Options{URL: vs.wsURL(), AuthTimeout: time.Second, ReconnectBaseDelay: time.Millisecond})
			defer c.Disconnect()

			const runs = 20
			for i := range runs {
				result := make(chan error, 1)
				go func() { result <- c.Connect(context.Background(), creds) }()
				select {
				case err := <-result:
					if err == nil {
						t.Fatalf("run %d: Connect() succeeded after an auth error", i)
					}
				case <-time.After(3 * time.Second):
					t.Fatalf("run %d: Connect did not return", i)
				}
			}

			time.Sleep(50 * time.Millisecond)
			if got := vs.dials.Load(); got != runs {
				t.Errorf("server saw %d dials, want %d (no background reconnects)", got, runs)
			}
			if c.State() != Error {
				t.Errorf("State() = %v, want error", c.State())
			}
		})
	}
}

func TestConnectRefused(t *testing.T) {
	vs := newVoiceServer(t, serverMode{})
	url := vs.wsURL()
	vs.Close()

	c := New(Options{URL: url, ConnectTimeout: time.Second})
	defer c.Disconnect()
	err := c.Connect(context.Background(), creds)
	if !apperrors.IsCode(err, apperrors.CodeConnectionFailed) {
		t.Errorf("Connect() error = %v, want CONNECTION_FAILED", err)
	}
}

func TestDisconnectDuringHandshake(t *testing.T) {
	vs := newVoiceServer(t, serverMode{silent: true})
	c := New(Options{URL: vs.wsURL(), AuthTimeout: 10 * time.Second})
	sub := c.Subscribe(16)

	result := make(chan error, 1)
	go func() { result <- c.Connect(context.Background(), creds) }()

	waitFor(t, sub, isState(Authenticating))
	c.Disconnect()

	select {
	case err := <-result:
		if !apperrors.IsCode(err, apperrors.CodeCancelled) {
			t.Errorf("Connect() error = %v, want CANCELLED", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return after Disconnect")
	}
	if c.State() != Disconnected {
		t.Errorf("State() = %v, want disconnected", c.State())
	}
}

func TestStaleAudioDropped(t *testing.T) {
	vs := newVoiceServer(t, serverMode{})
	_, sub, conn := connect(t, vs, Options{})
	pcm := protocol.NewAudio([]byte{1, 2, 3, 4}).Data

	send(t, conn, protocol.Inbound{Type: protocol.TypeSpeechEnded})
	send(t, conn, protocol.Inbound{Type: protocol.TypeAudio, Data: pcm, ResponseID: "r1"})
	send(t, conn, protocol.Inbound{Type: protocol.TypeAudio, Data: pcm, ResponseID: "r2"})
	send(t, conn, protocol.Inbound{Type: protocol.TypeAudio, Data: pcm, ResponseID: "r1", MessageID: "m2"})
	send(t, conn, protocol.Inbound{Type: protocol.TypeAudio, Data: pcm})
	send(t, conn, protocol.Inbound{Type: protocol.TypeUserTranscript, Text: "marker"})

	var audio []Event
	for _, ev := range collectUntil(t, sub, isMarker("marker")) {
		if ev.Kind == EventAudio {
			audio = append(audio, ev)
		}
	}
	if len(audio) != 3 {
		t.Fatalf("delivered %d audio events, want 3", len(audio))
	}
	for _, ev := range audio {
		if ev.ResponseID != "r1" {
			t.Errorf("delivered audio for %q, want r1", ev.ResponseID)
		}
	}
	if audio[1].MessageID != "m2" {
		t.Errorf("MessageID = %q, want m2", audio[1].MessageID)
	}
	if string(audio[0].Audio) != string([]byte{1, 2, 3, 4}) {
		t.Errorf("Audio = %v, want decoded PCM", audio[0].Audio)
	}
}

func TestAudioDroppedOutsideResponse(t *testing.T) {
	vs := newVoiceServer(t, serverMode{})
	_, sub, conn := connect(t, vs, Options{})

	send(t, conn, protocol.Inbound{Type: protocol.TypeAudio, Data: protocol.NewAudio([]byte{9}).Data})
	send(t, conn, protocol.Inbound{Type: protocol.TypeAssistantTranscript, Text: "early"})
	send(t, conn, protocol.Inbound{Type: protocol.TypeUserTranscript, Text: "marker"})

	for _, ev := range collectUntil(t, sub, isMarker("marker")) {
		if ev.Kind == EventAudio || ev.Kind == EventAssistantTranscript {
			t.Errorf("unexpected %v before any response started", ev.Kind)
		}
	}
}

func TestInterruptSuppressesResponse(t *testing.T) {
	vs := newVoiceServer(t, serverMode{})
	c, sub, conn := connect(t, vs, Options{})
	pcm := protocol.NewAudio([]byte{5, 6}).Data

	send(t, conn, protocol.Inbound{Type: protocol.TypeSpeechEnded})
	send(t, conn, protocol.Inbound{Type: protocol.TypeUserTranscript, Text: "turn started"})
	waitFor(t, sub, isMarker("turn started"))

	if err := c.Interrupt(); err != nil {
		t.Fatalf("Interrupt() error = %v", err)
	}
	vs.nextMessage(t, protocol.TypeInterrupt)

	send(t, conn, protocol.Inbound{Type: protocol.TypeAudio, Data: pcm})
	send(t, conn, protocol.Inbound{Type: protocol.TypeAssistantTranscript, Text: "stale"})
	send(t, conn, protocol.Inbound{Type: protocol.TypeResponseInterrupted})
	send(t, conn, protocol.Inbound{Type: protocol.TypeSpeechEnded})
	send(t, conn, protocol.Inbound{Type: protocol.TypeAudio, Data: pcm, ResponseID: "r9"})
	send(t, conn, protocol.Inbound{Type: protocol.TypeUserTranscript, Text: "marker"})

	var kinds []EventKind
	for _, ev := range collectUntil(t, sub, isMarker("marker")) {
		switch ev.Kind {
		case EventAudio, EventAssistantTranscript, EventResponseInterrupted:
			kinds = append(kinds, ev.Kind)
		}
	}
	want := []EventKind{EventResponseInterrupted, EventAudio}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event[%d] = %v, want %v", i, kinds[i], want[i])
		}
	}
}

func TestInterruptAfterResponseCompleteKeepsNextTurn(t *testing.T) {
	vs := newVoiceServer(t, serverMode{})
	c, sub, conn := connect(t, vs, Options{})
	pcm := protocol.NewAudio([]byte{7, 8}).Data

	send(t, conn, protocol.Inbound{Type: protocol.TypeSpeechEnded})
	send(t, conn, protocol.Inbound{Type: protocol.TypeAudio, Data: pcm, ResponseID: "r1"})
	send(t, conn, protocol.Inbound{Type: protocol.TypeResponseComplete, Transcript: "first"})
	waitFor(t, sub, isKind(EventResponseComplete))

	// Playback of r1 is still running locally when the user barges in.
	if err := c.Interrupt(); err != nil {
		t.Fatalf("Interrupt() error = %v", err)
	}
	vs.nextMessage(t, protocol.TypeInterrupt)

	send(t, conn, protocol.Inbound{Type: protocol.TypeSpeechStarted})
	send(t, conn, protocol.Inbound{Type: protocol.TypeSpeechEnded})
	send(t, conn, protocol.Inbound{Type: protocol.TypeAudio, Data: pcm, ResponseID: "r2"})
	send(t, conn, protocol.Inbound{Type: protocol.TypeAssistantTranscript, Text: "second", ResponseID: "r2"})
	send(t, conn, protocol.Inbound{Type: protocol.TypeUserTranscript, Text: "marker"})

	var audio, text int
	for _, ev := range collectUntil(t, sub, isMarker("marker")) {
		switch ev.Kind {
		case EventAudio:
			audio++
			if ev.ResponseID != "r2" {
				t.Errorf("audio for %q, want r2", ev.ResponseID)
			}
		case EventAssistantTranscript:
			text++
		}
	}
	if audio != 1 || text != 1 {
		t.Errorf("next turn delivered %d audio and %d transcript events, want 1 and 1", audio, text)
	}
}

func TestResponseCompleteReturnsToConnected(t *testing.T) {
	vs := newVoiceServer(t, serverMode{})
	c, sub, conn := connect(t, vs, Options{})

	send(t, conn, protocol.Inbound{Type: protocol.TypeSpeechStarted})
	waitFor(t, sub, isState(Active))

	send(t, conn, protocol.Inbound{Type: protocol.TypeSpeechEnded})
	send(t, conn, protocol.Inbound{
		Type:       protocol.TypeResponseComplete,
		Transcript: "hello",
		Usage:      &protocol.Usage{InputTokens: 3, OutputTokens: 4},
	})

	ev := waitFor(t, sub, isKind(EventResponseComplete))
	if ev.Text != "hello" || ev.Usage.Total() != 7 || ev.Interrupted {
		t.Errorf("ResponseComplete = %+v", ev)
	}
	if c.State() != Connected {
		t.Errorf("State() = %v, want connected", c.State())
	}
}

func TestServerErrors(t *testing.T) {
	tests := []struct {
		code      string
		fatal     bool
		wantState State
	}{
		{"RATE_LIMITED", false, Connected},
		{"SESSION_EXPIRED", true, Error},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			vs := newVoiceServer(t, serverMode{})
			c, sub, conn := connect(t, vs, Options{})

			send(t, conn, protocol.Inbound{Type: protocol.TypeError, Code: tt.code, Message: "boom"})
			ev := waitFor(t, sub, isKind(EventError))
			if ev.Fatal != tt.fatal {
				t.Errorf("Fatal = %v, want %v", ev.Fatal, tt.fatal)
			}
			if string(ev.Err.Code) != tt.code {
				t.Errorf("Code = %q, want %q", ev.Err.Code, tt.code)
			}
			if c.State() != tt.wantState {
				t.Errorf("State() = %v, want %v", c.State(), tt.wantState)
			}
		})
	}
}

func TestUnknownMessageIgnored(t *testing.T) {
	vs := newVoiceServer(t, serverMode{})
	c, sub, conn := connect(t, vs, Options{})

	send(t, conn, protocol.Inbound{Type: "telemetry"})
	if err := conn.Write(context.Background(), websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	send(t, conn, protocol.Inbound{Type: protocol.TypeUserTranscript, Text: "marker"})
	waitFor(t, sub, isMarker("marker"))

	if c.State() != Connected {
		t.Errorf("State() = %v, want connected", c.State())
	}
}

func TestSendAudioMinPayload(t *testing.T) {
	vs := newVoiceServer(t, serverMode{})
	c, _, _ := connect(t, vs, Options{MinAudioPayload: 100})

	if err := c.SendAudio(make([]byte, 10)); err != nil {
		t.Fatalf("SendAudio(small) error = %v", err)
	}
	if err := c.SendAudio(make([]byte, 200)); err != nil {
		t.Fatalf("SendAudio(large) error = %v", err)
	}

	m := vs.nextMessage(t, protocol.TypeAudio)
	data, _ := m["data"].(string)
	if len(data) < 100 {
		t.Errorf("first audio sent has %d chars; silence guard did not drop the small chunk", len(data))
	}
}

func TestMinAudioPayloadDefaults(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, DefaultMinAudioPayload},
		{40, 40},
		{-1, -1},
	}
	for _, tt := range tests {
		if got := New(Options{MinAudioPayload: tt.in}).opts.MinAudioPayload; got != tt.want {
			t.Errorf("MinAudioPayload(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	c := New(Options{URL: "ws://127.0.0.1:1"})
	if err := c.SendAudio(make([]byte, 500)); !apperrors.IsCode(err, apperrors.CodeNotConnected) {
		t.Errorf("SendAudio() error = %v, want NOT_CONNECTED", err)
	}
	if err := c.Interrupt(); !apperrors.IsCode(err, apperrors.CodeNotConnected) {
		t.Errorf("Interrupt() error = %v, want NOT_CONNECTED", err)
	}
}

func TestUpdateConfig(t *testing.T) {
	vs := newVoiceServer(t, serverMode{})
	c, _, _ := connect(t, vs, Options{})

	voice := "verse"
	threshold := 0.4
	if err := c.UpdateConfig(&voice, &threshold); err != nil {
		t.Fatalf("UpdateConfig() error = %v", err)
	}
	m := vs.nextMessage(t, protocol.TypeConfig)
	if m["voice"] != "verse" || m["vad_threshold"] != 0.4 {
		t.Errorf("config payload = %v", m)
	}
}

func TestReconnectGivesUp(t *testing.T) {
	vs := newVoiceServer(t, serverMode{})
	c := New(Options{URL: vs.wsURL(), MaxReconnectAttempts: 3, ReconnectBaseDelay: time.Second})
	defer c.Disconnect()

	var dials atomic.Int32
	c.dial = func(ctx context.Context, url string) (*websocket.Conn, error) {
		if dials.Add(1) == 1 {
			return dialWebsocket(ctx, url)
		}
		return nil, errors.New("connection refused")
	}
	var mu sync.Mutex
	var delays []time.Duration
	c.wait = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return ctx.Err()
	}

	sub := c.Subscribe(256)
	if err := c.Connect(context.Background(), creds); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	_ = vs.nextConn(t).CloseNow()

	ev := waitFor(t, sub, func(ev Event) bool { return ev.Kind == EventError && ev.Fatal })
	if ev.Err.Code != apperrors.CodeReconnectExhausted {
		t.Errorf("fatal code = %v, want RECONNECT_EXHAUSTED", ev.Err.Code)
	}
	if c.State() != Error {
		t.Errorf("State() = %v, want error", c.State())
	}
	if got := dials.Load(); got != 4 {
		t.Errorf("dials = %d, want 4 (1 initial + 3 retries)", got)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestReconnectRestoresSession(t *testing.T) {
	vs := newVoiceServer(t, serverMode{})
	c, sub, conn := connect(t, vs, Options{ReconnectBaseDelay: time.Millisecond})
	vs.nextMessage(t, protocol.TypeAuth)

	_ = conn.CloseNow()

	waitFor(t, sub, isState(Reconnecting))
	waitFor(t, sub, isKind(EventAuthenticated))
	auth := vs.nextMessage(t, protocol.TypeAuth)
	if auth["token"] != "tok" {
		t.Errorf("reconnect auth token = %v, want tok", auth["token"])
	}
	if c.State() != Connected {
		t.Errorf("State() = %v, want connected", c.State())
	}
}

func TestPongTimeoutTriggersReconnect(t *testing.T) {
	vs := newVoiceServer(t, serverMode{noPong: true})
	_, sub, _ := connect(t, vs, Options{
		PingInterval:       20 * time.Millisecond,
		PongTimeout:        30 * time.Millisecond,
		ReconnectBaseDelay: time.Hour,
	})

	ev := waitFor(t, sub, isKind(EventError))
	if ev.Err.Code != apperrors.CodeTimeout || ev.Fatal {
		t.Errorf("error = %+v, want non-fatal TIMEOUT", ev)
	}
}

func TestKeepaliveHealthy(t *testing.T) {
	vs := newVoiceServer(t, serverMode{})
	c, _, _ := connect(t, vs, Options{
		PingInterval: 10 * time.Millisecond,
		PongTimeout:  50 * time.Millisecond,
	})

	vs.nextMessage(t, protocol.TypePing)
	time.Sleep(150 * time.Millisecond)
	if c.State() != Connected {
		t.Errorf("State() = %v, want connected", c.State())
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	vs := newVoiceServer(t, serverMode{})
	c, sub, _ := connect(t, vs, Options{})

	c.Disconnect()
	c.Disconnect()

	if c.State() != Disconnected {
		t.Errorf("State() = %v, want disconnected", c.State())
	}
	for range sub.C {
	}
	if err := c.SendAudio(make([]byte, 500)); !apperrors.IsCode(err, apperrors.CodeNotConnected) {
		t.Errorf("SendAudio() after Disconnect = %v, want NOT_CONNECTED", err)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{Disconnected, "disconnected"},
		{Authenticating, "authenticating"},
		{Active, "active"},
		{Reconnecting, "reconnecting"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
