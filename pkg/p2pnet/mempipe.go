package p2pnet

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/soundtime-fm/p2p/internal/wire"
)

// MemNetwork is an in-memory rendezvous point for MemEndpoints, letting
// tests build a small mesh of nodes without any real transport. This is
// the "in-memory pair" pluggable-transport requirement called out for
// the Endpoint component.
type MemNetwork struct {
	mu        sync.Mutex
	endpoints map[wire.NodeId]*MemEndpoint
}

// NewMemNetwork creates an empty in-memory network.
func NewMemNetwork() *MemNetwork {
	return &MemNetwork{endpoints: make(map[wire.NodeId]*MemEndpoint)}
}

// NewEndpoint registers and returns a new node on this network.
func (n *MemNetwork) NewEndpoint(id wire.NodeId) *MemEndpoint {
	ep := &MemEndpoint{id: id, net: n}
	n.mu.Lock()
	n.endpoints[id] = ep
	n.mu.Unlock()
	return ep
}

func (n *MemNetwork) lookup(id wire.NodeId) (*MemEndpoint, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ep, ok := n.endpoints[id]
	return ep, ok
}

// MemEndpoint is an in-memory Endpoint implementation backed by net.Pipe.
type MemEndpoint struct {
	id      wire.NodeId
	net     *MemNetwork
	mu      sync.Mutex
	handler StreamHandler
	blocked map[wire.NodeId]bool
}

func (e *MemEndpoint) LocalNodeID() wire.NodeId { return e.id }

func (e *MemEndpoint) OnIncoming(handler StreamHandler) {
	e.mu.Lock()
	e.handler = handler
	e.mu.Unlock()
}

// Block marks peerID as blocked for inbound and outbound streams,
// mirroring the Blocklist contract enforcement point at accept/dial.
func (e *MemEndpoint) Block(peerID wire.NodeId) {
	e.mu.Lock()
	if e.blocked == nil {
		e.blocked = make(map[wire.NodeId]bool)
	}
	e.blocked[peerID] = true
	e.mu.Unlock()
}

func (e *MemEndpoint) isBlocked(peerID wire.NodeId) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.blocked[peerID]
}

func (e *MemEndpoint) OpenStream(ctx context.Context, peerID wire.NodeId) (Stream, error) {
	if e.isBlocked(peerID) {
		return nil, ErrBlocked
	}
	remote, ok := e.net.lookup(peerID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPeerUnreachable, peerID)
	}
	if remote.isBlocked(e.id) {
		return nil, ErrBlocked
	}

	local, remoteConn := net.Pipe()

	remote.mu.Lock()
	handler := remote.handler
	remote.mu.Unlock()
	if handler != nil {
		go handler(&memStream{conn: remoteConn, remote: e.id})
	} else {
		remoteConn.Close()
	}

	return &memStream{conn: local, remote: peerID}, nil
}

func (e *MemEndpoint) SendMessage(ctx context.Context, peerID wire.NodeId, msg wire.Message) (wire.Message, error) {
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

func (e *MemEndpoint) Close() error {
	e.net.mu.Lock()
	delete(e.net.endpoints, e.id)
	e.net.mu.Unlock()
	return nil
}

type memStream struct {
	conn   net.Conn
	remote wire.NodeId
}

func (s *memStream) RemotePeer() wire.NodeId { return s.remote }

func (s *memStream) Send(msg wire.Message) error {
	return wire.WriteMessage(s.conn, msg)
}

func (s *memStream) Receive() (wire.Message, error) {
	return wire.Decode(s.conn)
}

func (s *memStream) Raw() ServiceConn {
	return &memServiceConn{conn: s.conn}
}

func (s *memStream) Close() error {
	return s.conn.Close()
}

// memServiceConn adapts net.Conn (which has no CloseWrite on all
// platforms) to ServiceConn for tests exercising the blob-body path.
type memServiceConn struct {
	conn net.Conn
}

func (c *memServiceConn) Read(p []byte) (int, error)  { return c.conn.Read(p) }
func (c *memServiceConn) Write(p []byte) (int, error) { return c.conn.Write(p) }
func (c *memServiceConn) Close() error                { return c.conn.Close() }
func (c *memServiceConn) CloseWrite() error {
	if hc, ok := c.conn.(interface{ CloseWrite() error }); ok {
		return hc.CloseWrite()
	}
	return nil
}

var _ Endpoint = (*MemEndpoint)(nil)
var _ Endpoint = (*LibP2PEndpoint)(nil)
