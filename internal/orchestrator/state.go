package orchestrator

import (
	"fmt"
	"time"

	"github.com/GriffinCanCode/voicelink/internal/orchestrator/transcript"
	"github.com/GriffinCanCode/voicelink/internal/protocol"
)

// CallState is the caller-visible phase of a call.
type CallState int

const (
	Idle CallState = iota
	Initializing
	Connecting
	Connected
	Listening
	AISpeaking
	Failed
	Ended
)

var callStateNames = [...]string{"idle", "initializing", "connecting", "connected", "listening", "aiSpeaking", "error", "ended"}

func (s CallState) String() string {
	if int(s) < len(callStateNames) {
		return callStateNames[s]
	}
	return "unknown"
}

func (s CallState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *CallState) UnmarshalText(b []byte) error {
	for i, name := range callStateNames {
		if name == string(b) {
			*s = CallState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown call state %q", b)
}

// Active reports whether audio flows in this state.
func (s CallState) Active() bool { return s == Connected || s == Listening || s == AISpeaking }

// Startable reports whether StartCall is accepted from this state.
func (s CallState) Startable() bool { return s == Idle || s == Ended }

// Stats accumulate over one call and reset at the next StartCall.
type Stats struct {
	StartedAt     time.Time `json:"started_at,omitzero"`
	Messages      int       `json:"messages"`
	InputTokens   int       `json:"input_tokens"`
	OutputTokens  int       `json:"output_tokens"`
	TotalTokens   int       `json:"total_tokens"`
	Interruptions int       `json:"interruptions"`
}

func (s *Stats) addUsage(u protocol.Usage) {
	s.InputTokens += u.InputTokens
	s.OutputTokens += u.OutputTokens
	s.TotalTokens += u.Total()
}

// Snapshot is an immutable view of the call handed to observers.
type Snapshot struct {
	CallID           string             `json:"call_id,omitempty"`
	State            CallState          `json:"state"`
	Muted            bool               `json:"muted"`
	Authenticated    bool               `json:"authenticated"`
	PartialUser      string             `json:"partial_user,omitempty"`
	PartialAssistant string             `json:"partial_assistant,omitempty"`
	Transcript       []transcript.Entry `json:"transcript"`
	Stats            Stats              `json:"stats"`
	Error            string             `json:"error,omitempty"`
	ConnectionState  string             `json:"connection_state"`
	AudioState       string             `json:"audio_state"`
}
