// Package orchestrator owns the call: it sequences startup, routes captured audio,
// runs barge-in detection and derives the call state from transport and pipeline events.
package orchestrator

import "time"

const (
	// Captured chunks queued for the call loop; overflow is dropped.
	ChunkBuffer = 64

	// Subscription buffers on the transport and pipeline streams.
	TransportEventBuffer = 64
	AudioEventBuffer     = 32

	// Default window for GetRecentTranscript.
	RecentTranscriptSeconds = 300

	// Bound on a single REST round-trip made while starting a call.
	SessionTimeout = 15 * time.Second
)
