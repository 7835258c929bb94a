// Package protocol defines the JSON messages exchanged with the voice server.
// Every message is one text frame carrying a "type" discriminator.
package protocol

import (
	"encoding/base64"
	"time"

	apperrors "github.com/GriffinCanCode/voicelink/internal/errors"
)

// Outbound message types.
const (
	TypeAuth      = "auth"
	TypeAudio     = "audio"
	TypeInterrupt = "interrupt"
	TypeConfig    = "config"
	TypePing      = "ping"
)

// Inbound message types. TypeAudio is shared by both directions.
const (
	TypeAuthSuccess         = "auth_success"
	TypeUserTranscript      = "user_transcript"
	TypeAssistantTranscript = "assistant_transcript"
	TypeSpeechStarted       = "speech_started"
	TypeSpeechEnded         = "speech_ended"
	TypeResponseInterrupted = "response_interrupted"
	TypeResponseComplete    = "response_complete"
	TypeError               = "error"
	TypePong                = "pong"
)

type Auth struct {
	Type      string `json:"type"`
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Model     string `json:"model"`
	Voice     string `json:"voice"`
}

type Audio struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

type Interrupt struct {
	Type string `json:"type"`
}

// Config changes session options mid-call. Nil fields are left untouched by the server.
type Config struct {
	Type         string   `json:"type"`
	Voice        *string  `json:"voice,omitempty"`
	VADThreshold *float64 `json:"vad_threshold,omitempty"`
}

type Ping struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// Usage holds token counters reported with a completed response.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Total prefers the server's total and falls back to input + output.
func (u Usage) Total() int {
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.InputTokens + u.OutputTokens
}

// Inbound is the union of every server message. Only the fields relevant to Type are set.
type Inbound struct {
	Type string `json:"type"`

	// auth_success
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	// audio
	Data       string `json:"data,omitempty"`
	ResponseID string `json:"response_id,omitempty"`
	MessageID  string `json:"message_id,omitempty"`

	// user_transcript, assistant_transcript
	Text    string `json:"text,omitempty"`
	IsFinal bool   `json:"is_final,omitempty"`

	// response_complete
	Transcript string `json:"transcript,omitempty"`
	Usage      *Usage `json:"usage,omitempty"`

	// error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	// pong
	Timestamp int64 `json:"timestamp,omitempty"`
}

func NewAuth(token, sessionID, model, voice string) Auth {
	return Auth{Type: TypeAuth, Token: token, SessionID: sessionID, Model: model, Voice: voice}
}

// NewAudio base64-encodes raw PCM.
func NewAudio(pcm []byte) Audio {
	return Audio{Type: TypeAudio, Data: base64.StdEncoding.EncodeToString(pcm)}
}

func NewInterrupt() Interrupt { return Interrupt{Type: TypeInterrupt} }

func NewConfig(voice *string, vadThreshold *float64) Config {
	return Config{Type: TypeConfig, Voice: voice, VADThreshold: vadThreshold}
}

func NewPing(now time.Time) Ping {
	return Ping{Type: TypePing, Timestamp: now.UnixMilli()}
}

// DecodeAudio returns the raw PCM carried by an audio message.
func (m Inbound) DecodeAudio() ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(m.Data)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDecodeFailed, "invalid base64 audio payload")
	}
	return pcm, nil
}

// IsFatalError reports whether an error message ends the call.
func (m Inbound) IsFatalError() bool {
	return m.Type == TypeError && apperrors.IsFatalCode(apperrors.Code(m.Code))
}

// Err converts an error message into an AppError carrying the server's code.
func (m Inbound) Err() *apperrors.AppError {
	code := apperrors.Code(m.Code)
	if code == "" {
		code = apperrors.CodeUnknown
	}
	msg := m.Message
	if msg == "" {
		msg = "voice server error"
	}
	return apperrors.New(code, msg)
}
