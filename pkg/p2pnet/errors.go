package p2pnet

import "errors"

var (
	// ErrPeerUnreachable is returned by OpenStream when the peer cannot be
	// dialed (unknown address, connection refused, handshake timeout).
	ErrPeerUnreachable = errors.New("p2pnet: peer unreachable")

	// ErrBlocked is returned by OpenStream and at inbound-stream accept
	// when the peer is on the external blocklist.
	ErrBlocked = errors.New("p2pnet: peer is blocked")
)
