// Package transport maintains the authenticated websocket session with the
// voice server: handshake, framing, keepalive, response tracking and reconnection.
package transport

import "time"

const (
	DefaultConnectTimeout       = 10 * time.Second
	DefaultAuthTimeout          = 10 * time.Second
	DefaultPingInterval         = 15 * time.Second
	DefaultPongTimeout          = 10 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectBaseDelay   = time.Second

	// Base64 length below which outbound audio is treated as silence and dropped.
	DefaultMinAudioPayload = 100

	// Inbound audio frames carry base64 PCM and exceed the library's 32 KiB default.
	readLimit    = 8 << 20
	writeTimeout = 5 * time.Second
)
