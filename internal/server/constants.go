// Package server exposes the call controls and the live call snapshot to a local
// presentation layer over HTTP and a websocket.
package server

import "time"

const (
	// Per-connection command limit over a sliding window.
	RateLimitMessages = 10
	RateLimitWindow   = time.Second

	// Snapshots queued per websocket client before the stream blocks.
	SnapshotBuffer = 16

	WriteTimeout = 5 * time.Second

	// Upper bound for GET /api/call/transcript?seconds=N.
	MaxTranscriptSeconds = 3600

	maxRequestBytes = 64 << 10
)
