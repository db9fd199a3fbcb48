package protocol

import "errors"

// Sentinel errors shared by the server and the client. They provide
// consistent, checkable failures for the protocol's error taxonomy.
var (
	// ErrValidation marks an inbound event with missing or malformed fields.
	// Such events are dropped without broadcast or acknowledgment.
	ErrValidation = errors.New("invalid payload")
	// ErrRateLimited marks an event denied by the rate limiter.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrTransportUnavailable is returned when a client sends while offline.
	ErrTransportUnavailable = errors.New("transport unavailable")
	// ErrTimeout marks an acknowledgment that never arrived.
	ErrTimeout = errors.New("acknowledgment timeout")
)
