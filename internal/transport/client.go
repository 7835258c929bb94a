package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	apperrors "github.com/GriffinCanCode/voicelink/internal/errors"
	"github.com/GriffinCanCode/voicelink/internal/protocol"
	"github.com/GriffinCanCode/voicelink/internal/resilience"
	"github.com/GriffinCanCode/voicelink/internal/syncx"
	"github.com/GriffinCanCode/voicelink/internal/trace"
)

// Options configures a Client. Zero values take the package defaults.
type Options struct {
	URL                  string
	ConnectTimeout       time.Duration
	AuthTimeout          time.Duration
	PingInterval         time.Duration
	PongTimeout          time.Duration
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	MinAudioPayload      int // base64 length below which audio is dropped; negative disables
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.AuthTimeout <= 0 {
		o.AuthTimeout = DefaultAuthTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = DefaultPongTimeout
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if o.ReconnectBaseDelay <= 0 {
		o.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if o.MinAudioPayload == 0 {
		o.MinAudioPayload = DefaultMinAudioPayload
	}
	return o
}

// Credentials identify the voice session; they are reused verbatim on reconnect.
type Credentials struct {
	Token     string
	SessionID string
	Model     string
	Voice     string
}

// Client owns one logical connection to the voice server.
// Events are broadcast to every subscriber; Disconnect ends all subscriptions.
type Client struct {
	opts   Options
	events *syncx.Broadcaster[Event]

	// test seams
	dial func(ctx context.Context, url string) (*websocket.Conn, error)
	wait func(ctx context.Context, d time.Duration) error

	mu         sync.Mutex
	state      State
	creds      Credentials
	life       context.Context // cancelled by Disconnect
	cancel     context.CancelFunc
	gen        uint64 // bumped whenever the current conn is abandoned
	conn       *websocket.Conn
	connCtx    context.Context
	connCancel context.CancelFunc
	authed     chan error
	attempts   int
	reconnLife context.Context // lifecycle owning the running reconnect loop

	inProgress  bool
	interrupted bool
	responseID  string

	lastPong  time.Time
	userID    string
	sessionID string
}

// New creates a disconnected client.
func New(opts Options) *Client {
	return &Client{
		opts:   opts.withDefaults(),
		events: syncx.NewBroadcaster[Event](),
		dial:   dialWebsocket,
		wait:   resilience.Wait,
		state:  Disconnected,
	}
}

func dialWebsocket(ctx context.Context, url string) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(readLimit)
	return conn, nil
}

// Subscribe returns a new event stream. It is closed by Disconnect.
func (c *Client) Subscribe(buffer int) *syncx.Subscription[Event] {
	return c.events.Subscribe(buffer)
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Identity returns the user and session ids assigned by auth_success.
func (c *Client) Identity() (userID, sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID, c.sessionID
}

// Connect opens the channel and completes the auth handshake. Any previous
// connection is torn down first and the reconnect counter starts from zero.
func (c *Client) Connect(ctx context.Context, creds Credentials) error {
	c.teardown()

	life, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Lock()
	c.life, c.cancel = life, cancel
	c.creds = creds
	c.attempts = 0
	c.resetResponse()
	c.mu.Unlock()
	c.setState(Connecting)

	err := c.establish(ctx, life, creds)
	if err == nil {
		return nil
	}
	if life.Err() == nil {
		appErr, _ := apperrors.As(err)
		trace.Logger(ctx).Warn("voice connect failed", "error", err)
		c.setState(Error)
		c.events.Publish(errorEvent(appErr, apperrors.IsFatal(err)))
	}
	return err
}

// establish dials, sends auth and waits for auth_success or failure.
func (c *Client) establish(ctx, life context.Context, creds Credentials) error {
	ctx, span := trace.StartSpan(ctx, "transport.establish")
	defer span.Finish(ctx)
	log := trace.Logger(ctx)

	dialCtx, cancelDial := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	stop := context.AfterFunc(life, cancelDial)
	conn, err := c.dial(dialCtx, c.opts.URL)
	stop()
	cancelDial()
	if err != nil {
		if life.Err() != nil {
			return apperrors.New(apperrors.CodeCancelled, "disconnected while dialing")
		}
		span.Set("error", err.Error())
		return apperrors.Wrap(err, apperrors.CodeConnectionFailed, "dial voice server").
			WithMetadata("url", c.opts.URL)
	}

	authed := make(chan error, 1)
	c.mu.Lock()
	if life.Err() != nil {
		c.mu.Unlock()
		_ = conn.CloseNow()
		return apperrors.New(apperrors.CodeCancelled, "disconnected while dialing")
	}
	c.gen++
	gen := c.gen
	connCtx, connCancel := context.WithCancel(life)
	c.conn, c.connCtx, c.connCancel = conn, connCtx, connCancel
	c.authed = authed
	c.state = Authenticating
	c.mu.Unlock()
	c.events.Publish(stateEvent(Authenticating))

	go c.readLoop(connCtx, conn, gen)

	if err := c.write(connCtx, conn, protocol.NewAuth(creds.Token, creds.SessionID, creds.Model, creds.Voice)); err != nil {
		c.abandon(gen)
		return apperrors.Wrap(err, apperrors.CodeConnectionFailed, "send auth")
	}

	timer := time.NewTimer(c.opts.AuthTimeout)
	defer timer.Stop()

	select {
	case err := <-authed:
		if err != nil {
			c.abandon(gen)
			return err
		}
		log.Info("voice session authenticated", "session_id", creds.SessionID)
		return nil
	case <-timer.C:
		c.abandon(gen)
		return apperrors.Newf(apperrors.CodeTimeout, "no auth_success within %v", c.opts.AuthTimeout)
	case <-ctx.Done():
		c.abandon(gen)
		return apperrors.Wrap(ctx.Err(), apperrors.CodeCancelled, "connect cancelled")
	case <-life.Done():
		c.abandon(gen)
		return apperrors.New(apperrors.CodeCancelled, "disconnected during handshake")
	}
}

// abandon drops the connection of generation gen without touching state.
func (c *Client) abandon(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	conn, cancel := c.detach()
	c.mu.Unlock()
	closeConn(conn, cancel)
}

// failHandshake reports err to the pending establish and drops the connection,
// so later frames and read errors of this generation are ignored. Must be called with mu held.
func (c *Client) failHandshake(err error) (*websocket.Conn, context.CancelFunc) {
	if c.authed != nil {
		select {
		case c.authed <- err:
		default:
		}
	}
	return c.detach()
}

// detach must be called with mu held.
func (c *Client) detach() (*websocket.Conn, context.CancelFunc) {
	c.gen++
	conn, cancel := c.conn, c.connCancel
	c.conn, c.connCtx, c.connCancel, c.authed = nil, nil, nil, nil
	return conn, cancel
}

func closeConn(conn *websocket.Conn, cancel context.CancelFunc) {
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.CloseNow()
	}
}

func (c *Client) resetResponse() {
	c.inProgress, c.interrupted, c.responseID = false, false, ""
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	c.events.Publish(stateEvent(s))
}

func (c *Client) write(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}

// Disconnect closes the connection, cancels keepalive and any pending reconnect,
// and ends every subscription. Safe to call repeatedly and mid-handshake.
func (c *Client) Disconnect() {
	c.teardown()
	c.mu.Lock()
	c.state = Disconnected
	c.attempts = 0
	c.mu.Unlock()
	c.events.CloseAll()
}

func (c *Client) teardown() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	conn, cancel := c.detach()
	c.resetResponse()
	c.mu.Unlock()
	closeConn(conn, cancel)
}

// SendAudio forwards raw PCM. Payloads below the silence guard are dropped silently.
func (c *Client) SendAudio(pcm []byte) error {
	conn, ctx, err := c.ready()
	if err != nil {
		return err
	}
	msg := protocol.NewAudio(pcm)
	if len(msg.Data) < c.opts.MinAudioPayload {
		return nil
	}
	if err := c.write(ctx, conn, msg); err != nil {
		return apperrors.Wrap(err, apperrors.CodeNotConnected, "send audio")
	}
	return nil
}

// Interrupt tells the server to stop the current response. Fragments of a response
// in progress are suppressed until the server acknowledges or completes it.
func (c *Client) Interrupt() error {
	c.mu.Lock()
	if c.state.Ready() && c.inProgress {
		c.interrupted = true
	}
	c.mu.Unlock()

	conn, ctx, err := c.ready()
	if err != nil {
		return err
	}
	if err := c.write(ctx, conn, protocol.NewInterrupt()); err != nil {
		return apperrors.Wrap(err, apperrors.CodeNotConnected, "send interrupt")
	}
	return nil
}

// UpdateConfig changes voice and/or VAD threshold. A new voice also applies to reconnects.
func (c *Client) UpdateConfig(voice *string, vadThreshold *float64) error {
	if voice != nil {
		c.mu.Lock()
		c.creds.Voice = *voice
		c.mu.Unlock()
	}
	conn, ctx, err := c.ready()
	if err != nil {
		return err
	}
	if err := c.write(ctx, conn, protocol.NewConfig(voice, vadThreshold)); err != nil {
		return apperrors.Wrap(err, apperrors.CodeNotConnected, "send config")
	}
	return nil
}

func (c *Client) ready() (*websocket.Conn, context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || !c.state.Ready() {
		return nil, nil, apperrors.Newf(apperrors.CodeNotConnected, "transport is %s", c.state)
	}
	return c.conn, c.connCtx, nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, gen uint64) {
	log := trace.Logger(ctx)
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			c.readFailed(gen, err)
			return
		}
		if typ != websocket.MessageText {
			log.Debug("ignoring binary frame", "bytes", len(data))
			continue
		}
		var msg protocol.Inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn("dropping undecodable message", "error", err)
			continue
		}
		c.dispatch(ctx, gen, msg)
	}
}

func (c *Client) readFailed(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.state == Authenticating {
		conn, cancel := c.failHandshake(apperrors.Wrap(err, apperrors.CodeConnectionFailed, "connection closed during handshake"))
		c.mu.Unlock()
		closeConn(conn, cancel)
		return
	}
	c.mu.Unlock()
	c.lost(gen, apperrors.Wrap(err, apperrors.CodeConnectionFailed, "connection lost"))
}

// dispatch applies one inbound message and publishes the resulting events in order.
func (c *Client) dispatch(ctx context.Context, gen uint64, msg protocol.Inbound) {
	log := trace.Logger(ctx)
	var out []Event
	var teardown bool

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}

	if c.state == Authenticating {
		var conn *websocket.Conn
		var cancel context.CancelFunc
		switch msg.Type {
		case protocol.TypeAuthSuccess:
			c.state = Connected
			c.attempts = 0
			c.lastPong = time.Now()
			c.userID, c.sessionID = msg.UserID, msg.SessionID
			go c.keepalive(c.connCtx, c.conn, gen)
			select {
			case c.authed <- nil:
			default:
			}
			c.authed = nil
			out = append(out, stateEvent(Connected),
				Event{Kind: EventAuthenticated, UserID: msg.UserID, SessionID: msg.SessionID})
		case protocol.TypeError:
			conn, cancel = c.failHandshake(msg.Err())
		default:
			log.Debug("ignoring message before auth_success", "type", msg.Type)
		}
		c.mu.Unlock()
		closeConn(conn, cancel)
		c.publish(out)
		return
	}

	switch msg.Type {
	case protocol.TypeAudio:
		if !c.accepts(msg.ResponseID) {
			log.Debug("dropping stale audio", "response_id", msg.ResponseID, "current", c.responseID)
			break
		}
		pcm, err := msg.DecodeAudio()
		if err != nil {
			log.Warn("dropping audio", "error", err)
			break
		}
		out = append(out, Event{Kind: EventAudio, Audio: pcm, MessageID: msg.MessageID, ResponseID: c.responseID})

	case protocol.TypeUserTranscript:
		out = append(out, Event{Kind: EventUserTranscript, Text: msg.Text, Final: msg.IsFinal})

	case protocol.TypeAssistantTranscript:
		if !c.accepts(msg.ResponseID) {
			break
		}
		out = append(out, Event{Kind: EventAssistantTranscript, Text: msg.Text, Final: msg.IsFinal, ResponseID: c.responseID})

	case protocol.TypeSpeechStarted:
		if c.state != Active {
			c.state = Active
			out = append(out, stateEvent(Active))
		}
		out = append(out, Event{Kind: EventSpeechStarted})

	case protocol.TypeSpeechEnded:
		if !c.interrupted {
			c.inProgress = true
			c.responseID = ""
		}
		out = append(out, Event{Kind: EventSpeechEnded})

	case protocol.TypeResponseInterrupted:
		c.resetResponse()
		out = append(out, Event{Kind: EventResponseInterrupted})

	case protocol.TypeResponseComplete:
		ev := Event{Kind: EventResponseComplete, Text: msg.Transcript, Interrupted: c.interrupted}
		if msg.Usage != nil {
			ev.Usage = *msg.Usage
		}
		c.resetResponse()
		if c.state != Connected {
			c.state = Connected
			out = append(out, stateEvent(Connected))
		}
		out = append(out, ev)

	case protocol.TypeError:
		appErr := msg.Err()
		fatal := msg.IsFatalError()
		if fatal {
			log.Error("fatal voice server error", "code", appErr.Code, "message", appErr.Message)
			c.state = Error
			teardown = true
			out = append(out, stateEvent(Error))
		} else {
			log.Warn("voice server error", "code", appErr.Code, "message", appErr.Message)
		}
		out = append(out, errorEvent(appErr, fatal))

	case protocol.TypePong:
		c.lastPong = time.Now()

	case protocol.TypeAuthSuccess:
		log.Debug("duplicate auth_success ignored")

	default:
		log.Debug("ignoring unknown message type", "type", msg.Type)
	}

	var conn *websocket.Conn
	var cancel context.CancelFunc
	if teardown {
		conn, cancel = c.detach()
	}
	c.mu.Unlock()

	c.publish(out)
	if teardown {
		closeConn(conn, cancel)
	}
}

// accepts implements response tracking; must be called with mu held.
// A tagged fragment arriving while no id is tracked claims the turn.
func (c *Client) accepts(responseID string) bool {
	if !c.inProgress || c.interrupted {
		return false
	}
	if responseID == "" || responseID == c.responseID {
		return true
	}
	if c.responseID == "" {
		c.responseID = responseID
		return true
	}
	return false
}

func (c *Client) publish(events []Event) {
	for _, ev := range events {
		c.events.Publish(ev)
	}
}

// keepalive pings on a fixed interval. A pong newer than the ping must be seen
// before PongTimeout elapses, otherwise the connection is treated as lost.
func (c *Client) keepalive(ctx context.Context, conn *websocket.Conn, gen uint64) {
	log := trace.Logger(ctx)
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	var (
		deadline <-chan time.Time
		timer    *time.Timer
		pingAt   time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := c.write(ctx, conn, protocol.NewPing(now)); err != nil {
				log.Debug("ping failed", "error", err)
			}
			if deadline == nil {
				pingAt = now
				timer = time.NewTimer(c.opts.PongTimeout)
				deadline = timer.C
			}
		case <-deadline:
			deadline = nil
			c.mu.Lock()
			alive := !c.lastPong.Before(pingAt)
			c.mu.Unlock()
			if !alive {
				c.lost(gen, apperrors.Newf(apperrors.CodeTimeout, "no pong within %v", c.opts.PongTimeout))
				return
			}
		}
	}
}

// lost handles an unexpected loss of the generation-gen connection.
func (c *Client) lost(gen uint64, cause *apperrors.AppError) {
	c.mu.Lock()
	if gen != c.gen || c.life == nil || c.life.Err() != nil {
		c.mu.Unlock()
		return
	}
	switch c.state {
	case Disconnected, Error, Authenticating:
		c.mu.Unlock()
		return
	}
	conn, cancel := c.detach()
	c.resetResponse()
	c.state = Reconnecting
	life := c.life
	start := c.reconnLife != life
	if start {
		c.reconnLife = life
	}
	c.mu.Unlock()

	closeConn(conn, cancel)
	trace.Logger(life).Warn("voice connection lost", "error", cause)
	c.publish([]Event{stateEvent(Reconnecting), errorEvent(cause, false)})

	if start {
		go c.reconnect(life)
	}
}

// reconnect retries with linear backoff until authenticated, cancelled or out of attempts.
func (c *Client) reconnect(life context.Context) {
	ctx, span := trace.StartSpan(life, "transport.reconnect")
	defer span.Finish(ctx)
	log := trace.Logger(ctx)
	cfg := resilience.ReconnectConfig(c.opts.MaxReconnectAttempts, c.opts.ReconnectBaseDelay)

	defer func() {
		c.mu.Lock()
		if c.reconnLife == life {
			c.reconnLife = nil
		}
		c.mu.Unlock()
	}()

	for {
		c.mu.Lock()
		if life.Err() != nil {
			c.mu.Unlock()
			return
		}
		if c.attempts >= cfg.MaxAttempts {
			c.state = Error
			c.mu.Unlock()
			err := apperrors.Newf(apperrors.CodeReconnectExhausted, "gave up after %d reconnect attempts", cfg.MaxAttempts)
			log.Error("reconnect exhausted", "attempts", cfg.MaxAttempts)
			c.publish([]Event{stateEvent(Error), errorEvent(err, true)})
			return
		}
		c.attempts++
		attempt, creds := c.attempts, c.creds
		changed := c.state != Reconnecting
		c.state = Reconnecting
		c.mu.Unlock()
		if changed {
			c.events.Publish(stateEvent(Reconnecting))
		}

		delay := resilience.Delay(cfg, attempt)
		span.Set("attempts", attempt)
		log.Info("reconnecting", "attempt", attempt, "max", cfg.MaxAttempts, "delay", delay)
		if err := c.wait(life, delay); err != nil {
			return
		}

		err := c.establish(ctx, life, creds)
		if err == nil {
			c.mu.Lock()
			again := c.state == Reconnecting
			c.mu.Unlock()
			if !again {
				log.Info("reconnected", "attempt", attempt)
				return
			}
			continue
		}
		if apperrors.IsFatal(err) {
			c.mu.Lock()
			c.state = Error
			c.mu.Unlock()
			appErr, _ := apperrors.As(err)
			c.publish([]Event{stateEvent(Error), errorEvent(appErr, true)})
			return
		}
		log.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
	}
}
