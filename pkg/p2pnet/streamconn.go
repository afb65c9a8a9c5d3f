package p2pnet

import (
	"io"

	"github.com/libp2p/go-libp2p/core/network"
)

// ServiceConn is a raw bidirectional byte connection with half-close.
// FetchTrack responses are streamed over this after the request frame,
// bypassing the message codec for the blob body itself.
type ServiceConn interface {
	io.ReadWriteCloser
	CloseWrite() error
}

// serviceStream wraps a libp2p stream to implement ServiceConn.
type serviceStream struct {
	stream network.Stream
}

func (s *serviceStream) Read(p []byte) (int, error)  { return s.stream.Read(p) }
func (s *serviceStream) Write(p []byte) (int, error) { return s.stream.Write(p) }
func (s *serviceStream) Close() error                { return s.stream.Close() }
func (s *serviceStream) CloseWrite() error           { return s.stream.CloseWrite() }
