// Package transcript keeps the call's conversation log: immutable final entries
// plus one mutable partial per speaker.
package transcript

import (
	"strings"
	"sync"
	"time"
)

type Speaker string

const (
	User      Speaker = "user"
	Assistant Speaker = "assistant"
)

// Entry is a finalized utterance.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Final     bool      `json:"final"`
}

// Log is written by the call loop and read concurrently by observers.
type Log struct {
	mu               sync.RWMutex
	entries          []Entry
	partialUser      string
	partialAssistant string
	now              func() time.Time
}

func NewLog() *Log {
	return &Log{now: time.Now}
}

// Append records a final entry. Blank text is ignored.
func (l *Log) Append(speaker Speaker, text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{Timestamp: l.now(), Speaker: speaker, Text: text, Final: true})
	return true
}

// UserFragment applies a user transcript fragment: non-final text replaces the
// partial, final text becomes an entry and clears it.
func (l *Log) UserFragment(text string, final bool) {
	if final {
		l.Append(User, text)
		l.mu.Lock()
		l.partialUser = ""
		l.mu.Unlock()
		return
	}
	l.mu.Lock()
	l.partialUser = text
	l.mu.Unlock()
}

// AssistantFragment applies an assistant delta: non-final text is appended to the
// partial, final text replaces it.
func (l *Log) AssistantFragment(text string, final bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if final {
		l.partialAssistant = text
		return
	}
	l.partialAssistant += text
}

// CompleteAssistant appends the finished response, falling back to the
// accumulated partial, and clears the partial. It returns the recorded text.
func (l *Log) CompleteAssistant(transcript string) string {
	l.mu.Lock()
	text := transcript
	if strings.TrimSpace(text) == "" {
		text = l.partialAssistant
	}
	l.partialAssistant = ""
	l.mu.Unlock()
	if !l.Append(Assistant, text) {
		return ""
	}
	return text
}

func (l *Log) ClearAssistantPartial() {
	l.mu.Lock()
	l.partialAssistant = ""
	l.mu.Unlock()
}

// Partials returns the in-progress text for each speaker.
func (l *Log) Partials() (user, assistant string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.partialUser, l.partialAssistant
}

// Entries returns a copy of the final entries.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// GetRecent renders entries from the last N seconds as "SPEAKER: text" lines.
func (l *Log) GetRecent(seconds int) string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	cutoff := l.now().Add(-time.Duration(seconds) * time.Second)
	var parts []string
	for _, e := range l.entries {
		if !e.Timestamp.Before(cutoff) {
			parts = append(parts, strings.ToUpper(string(e.Speaker))+": "+e.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Reset clears entries and partials.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	l.partialUser, l.partialAssistant = "", ""
}
