package registry

import "errors"

var (
	// ErrBlocked is returned by Upsert when the NodeId is on the
	// blocklist; per §3's invariant, blocked NodeIds are never inserted.
	ErrBlocked = errors.New("registry: peer is blocked")

	// ErrHandshakeTimeout is returned when a Pong does not arrive within
	// HandshakeTimeout of sending a Ping.
	ErrHandshakeTimeout = errors.New("registry: handshake timed out")

	// ErrUnexpectedResponse is returned when a handshake stream yields a
	// message that isn't a Pong.
	ErrUnexpectedResponse = errors.New("registry: unexpected handshake response")
)
