package p2pnet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/soundtime-fm/p2p/internal/wire"
)

func TestMemEndpointPingPong(t *testing.T) {
	net := NewMemNetwork()
	a := net.NewEndpoint("node-a")
	b := net.NewEndpoint("node-b")

	b.OnIncoming(func(s Stream) {
		msg, err := s.Receive()
		require.NoError(t, err)
		ping, ok := msg.(*wire.Ping)
		require.True(t, ok)
		require.Equal(t, "alice", ping.NodeName)

		err = s.Send(&wire.Pong{NodeId: b.LocalNodeID(), TrackCount: 3})
		require.NoError(t, err)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := a.SendMessage(ctx, "node-b", &wire.Ping{NodeName: "alice"})
	require.NoError(t, err)

	pong, ok := resp.(*wire.Pong)
	require.True(t, ok)
	require.Equal(t, wire.NodeId("node-b"), pong.NodeId)
	require.Equal(t, int64(3), pong.TrackCount)
}

func TestMemEndpointUnreachablePeer(t *testing.T) {
	net := NewMemNetwork()
	a := net.NewEndpoint("node-a")

	ctx := context.Background()
	_, err := a.OpenStream(ctx, "node-ghost")
	require.ErrorIs(t, err, ErrPeerUnreachable)
}

func TestMemEndpointBlockedPeer(t *testing.T) {
	net := NewMemNetwork()
	a := net.NewEndpoint("node-a")
	b := net.NewEndpoint("node-b")
	a.Block("node-b")

	_, err := a.OpenStream(context.Background(), "node-b")
	require.ErrorIs(t, err, ErrBlocked)

	// Blocking is bidirectional in effect: b blocking a also rejects a's dial.
	a2 := net.NewEndpoint("node-a2")
	b.Block("node-a2")
	_, err = a2.OpenStream(context.Background(), "node-b")
	require.ErrorIs(t, err, ErrBlocked)
}

func TestMemEndpointFireAndForget(t *testing.T) {
	net := NewMemNetwork()
	a := net.NewEndpoint("node-a")
	b := net.NewEndpoint("node-b")

	received := make(chan wire.Message, 1)
	b.OnIncoming(func(s Stream) {
		msg, err := s.Receive()
		require.NoError(t, err)
		received <- msg
	})

	resp, err := a.SendMessage(context.Background(), "node-b", &wire.AnnounceTrack{
		Announcement: wire.Announcement{ContentHash: "h1", Title: "t", Format: "flac"},
	})
	require.NoError(t, err)
	require.Nil(t, resp)

	select {
	case msg := <-received:
		ann, ok := msg.(*wire.AnnounceTrack)
		require.True(t, ok)
		require.Equal(t, wire.ContentHash("h1"), ann.Announcement.ContentHash)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for announce")
	}
}
