package transport

import (
	apperrors "github.com/GriffinCanCode/voicelink/internal/errors"
	"github.com/GriffinCanCode/voicelink/internal/protocol"
)

// State is the connection state owned by Client.
type State int

const (
	Disconnected State = iota
	Connecting
	Authenticating
	Connected
	Active
	Error
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Authenticating:
		return "authenticating"
	case Connected:
		return "connected"
	case Active:
		return "active"
	case Error:
		return "error"
	case Reconnecting:
		return "reconnecting"
	}
	return "unknown"
}

// Ready reports whether audio and commands can be sent.
func (s State) Ready() bool { return s == Connected || s == Active }

type EventKind int

const (
	EventStateChanged EventKind = iota
	EventAuthenticated
	EventAudio
	EventUserTranscript
	EventAssistantTranscript
	EventSpeechStarted
	EventSpeechEnded
	EventResponseInterrupted
	EventResponseComplete
	EventError
)

func (k EventKind) String() string {
	return [...]string{
		"state_changed", "authenticated", "audio", "user_transcript", "assistant_transcript",
		"speech_started", "speech_ended", "response_interrupted", "response_complete", "error",
	}[k]
}

// Event is one item of the transport's broadcast stream. Fields are populated per Kind.
type Event struct {
	Kind EventKind

	State State // EventStateChanged

	UserID    string // EventAuthenticated
	SessionID string

	Audio      []byte // EventAudio
	MessageID  string
	ResponseID string

	Text  string // transcripts and EventResponseComplete
	Final bool

	Usage       protocol.Usage // EventResponseComplete
	Interrupted bool           // response completed after the client interrupted it

	Err   *apperrors.AppError // EventError
	Fatal bool
}

func stateEvent(s State) Event { return Event{Kind: EventStateChanged, State: s} }

func errorEvent(err *apperrors.AppError, fatal bool) Event {
	return Event{Kind: EventError, Err: err, Fatal: fatal}
}
