// Package session is the client for the REST collaborator that issues bearer
// tokens and voice sessions ahead of a call.
package session

import "time"

const (
	DefaultRequestTimeout = 10 * time.Second

	// A token this close to expiry is treated as already expired.
	ExpirySkew = 30 * time.Second

	tokenPath   = "/auth/token"
	sessionPath = "/sessions"

	requestIDHeader  = "X-Request-Id"
	maxResponseBytes = 1 << 20
)
