// Package p2pnet is the Endpoint & Wire Codec component: it owns the
// authenticated transport, accepts inbound streams on one application
// protocol, and drives one bidirectional message exchange per stream.
// The stream-proxy half of this file is grounded on the service
// registry's bidirectional io.Copy pattern; the libp2p wiring follows
// the same host-construction shape used throughout this package.
package p2pnet

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/soundtime-fm/p2p/internal/wire"
)

// Stream is a single bidirectional exchange with a remote peer, already
// authenticated by the transport.
type Stream interface {
	RemotePeer() wire.NodeId
	Send(msg wire.Message) error
	Receive() (wire.Message, error)
	// Raw exposes the underlying byte stream for the blob-body transfer
	// that follows a FetchTrack frame (see internal/blobstore).
	Raw() ServiceConn
	Close() error
}

// StreamHandler is invoked per inbound stream with the peer identity
// already authenticated by the transport.
type StreamHandler func(Stream)

// Endpoint is the narrow capability interface the rest of the core
// depends on; pluggable so tests can use an in-memory pair instead of a
// real libp2p host (see mempipe.go).
type Endpoint interface {
	LocalNodeID() wire.NodeId
	OpenStream(ctx context.Context, peerID wire.NodeId) (Stream, error)
	SendMessage(ctx context.Context, peerID wire.NodeId, msg wire.Message) (wire.Message, error)
	OnIncoming(handler StreamHandler)
	Close() error
}

// LibP2PEndpoint implements Endpoint over a real libp2p host.Host.
type LibP2PEndpoint struct {
	host    host.Host
	handler StreamHandler
	log     *slog.Logger
}

// NewLibP2PEndpoint wraps an already-constructed libp2p host. Host
// construction (transports, identity, relay, connection gating) is the
// caller's responsibility — see cmd/soundtimed for the wiring.
func NewLibP2PEndpoint(h host.Host, log *slog.Logger) *LibP2PEndpoint {
	if log == nil {
		log = slog.Default()
	}
	ep := &LibP2PEndpoint{host: h, log: log}
	h.SetStreamHandler(protocol.ID(wire.ProtocolID), ep.handleStream)
	return ep
}

func (e *LibP2PEndpoint) LocalNodeID() wire.NodeId {
	return wire.NodeId(e.host.ID().String())
}

func (e *LibP2PEndpoint) handleStream(s network.Stream) {
	if e.handler == nil {
		s.Reset()
		return
	}
	remote := wire.NodeId(s.Conn().RemotePeer().String())
	e.handler(&libp2pStream{stream: s, remote: remote})
}

func (e *LibP2PEndpoint) OnIncoming(handler StreamHandler) {
	e.handler = handler
}

func (e *LibP2PEndpoint) OpenStream(ctx context.Context, peerID wire.NodeId) (Stream, error) {
	pid, err := peer.Decode(string(peerID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPeerUnreachable, err)
	}
	s, err := e.host.NewStream(ctx, pid, protocol.ID(wire.ProtocolID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPeerUnreachable, err)
	}
	return &libp2pStream{stream: s, remote: peerID}, nil
}

// SendMessage opens a stream, sends one message, and — if msg expects a
// response — awaits and returns it, then closes the stream. This is the
// convenience form described for the Endpoint component, used by
// CatalogSync and the SearchQuery fan-out; FetchTrack, whose response is a
// raw blob body rather than a frame, uses OpenStream directly instead.
func (e *LibP2PEndpoint) SendMessage(ctx context.Context, peerID wire.NodeId, msg wire.Message) (wire.Message, error) {
	s, err := e.OpenStream(ctx, peerID)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	if err := s.Send(msg); err != nil {
		return nil, err
	}
	if !expectsResponse(msg.Kind()) {
		return nil, nil
	}
	return s.Receive()
}

func (e *LibP2PEndpoint) Close() error {
	return e.host.Close()
}

func expectsResponse(k wire.Kind) bool {
	switch k {
	case wire.KindPing, wire.KindFetchTrack, wire.KindSearchQuery:
		return true
	default:
		return false
	}
}

type libp2pStream struct {
	stream network.Stream
	remote wire.NodeId
}

func (s *libp2pStream) RemotePeer() wire.NodeId { return s.remote }

func (s *libp2pStream) Send(msg wire.Message) error {
	return wire.WriteMessage(s.stream, msg)
}

func (s *libp2pStream) Receive() (wire.Message, error) {
	return wire.Decode(s.stream)
}

func (s *libp2pStream) Raw() ServiceConn {
	return &serviceStream{stream: s.stream}
}

func (s *libp2pStream) Close() error {
	return s.stream.Close()
}
