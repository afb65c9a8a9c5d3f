package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/soundtime-fm/p2p/internal/wire"
	"github.com/soundtime-fm/p2p/pkg/p2pnet"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type staticBlocklist struct {
	blocked map[wire.NodeId]bool
}

func (b staticBlocklist) IsBlocked(id wire.NodeId) bool { return b.blocked[id] }

func TestUpsertRejectsBlockedPeer(t *testing.T) {
	bl := staticBlocklist{blocked: map[wire.NodeId]bool{"evil": true}}
	r := New(bl)

	err := r.Upsert(PeerRecord{NodeID: "evil", LastSeenAt: time.Now()})
	require.ErrorIs(t, err, ErrBlocked)
	require.Equal(t, 0, r.Count())
}

func TestUpsertIsMonotonicOnLastSeen(t *testing.T) {
	r := New(nil)
	older := time.Now()
	newer := older.Add(time.Second)

	require.NoError(t, r.Upsert(PeerRecord{NodeID: "peer-1", LastSeenAt: newer, Version: "v2"}))
	require.NoError(t, r.Upsert(PeerRecord{NodeID: "peer-1", LastSeenAt: older, Version: "v1"}))

	rec, ok := r.Get("peer-1")
	require.True(t, ok)
	require.Equal(t, "v2", rec.Version)
}

func TestMarkSeenUpdatesKnownPeerOnly(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Upsert(PeerRecord{NodeID: "peer-1", LastSeenAt: time.Now().Add(-time.Hour), Online: false}))

	r.MarkSeen("peer-1")
	rec, ok := r.Get("peer-1")
	require.True(t, ok)
	require.True(t, rec.Online)

	r.MarkSeen("unknown-peer")
	_, ok = r.Get("unknown-peer")
	require.False(t, ok)
}

func TestMarkUnreachableKeepsRecord(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Upsert(PeerRecord{NodeID: "peer-1", LastSeenAt: time.Now(), Online: true}))
	r.MarkUnreachable("peer-1")

	rec, ok := r.Get("peer-1")
	require.True(t, ok)
	require.False(t, rec.Online)
}

func TestListFiltersByOnlineAndBlocked(t *testing.T) {
	bl := staticBlocklist{blocked: map[wire.NodeId]bool{"peer-blocked": true}}
	r := New(bl)
	require.NoError(t, r.Upsert(PeerRecord{NodeID: "peer-online", LastSeenAt: time.Now(), Online: true}))
	require.NoError(t, r.Upsert(PeerRecord{NodeID: "peer-offline", LastSeenAt: time.Now(), Online: false}))

	online := r.List(Filter{Online: boolPtr(true)})
	require.Len(t, online, 1)
	require.Equal(t, wire.NodeId("peer-online"), online[0].NodeID)

	all := r.List(Filter{})
	require.Len(t, all, 2)

	require.Empty(t, r.List(Filter{Blocked: boolPtr(true)}))
	require.Len(t, r.List(Filter{Blocked: boolPtr(false)}), 2)
}

func TestHandshakeAdoptsPeer(t *testing.T) {
	net := p2pnet.NewMemNetwork()
	a := net.NewEndpoint("node-a")
	b := net.NewEndpoint("node-b")

	b.OnIncoming(func(s p2pnet.Stream) {
		defer s.Close()
		msg, err := s.Receive()
		require.NoError(t, err)
		_, ok := msg.(*wire.Ping)
		require.True(t, ok)
		require.NoError(t, s.Send(wire.Pong{NodeId: "node-b", TrackCount: 7, Version: "test"}))
	})

	r := New(nil)
	hs := NewHandshaker(context.Background(), a, r, "test")

	pong, err := hs.Handshake(context.Background(), "node-b")
	require.NoError(t, err)
	require.Equal(t, int64(7), pong.TrackCount)

	rec, ok := r.Get("node-b")
	require.True(t, ok)
	require.True(t, rec.Online)
	require.Equal(t, int64(7), rec.AnnouncedTrackCount)
}

func TestHandshakeUnreachablePeerMarksOffline(t *testing.T) {
	net := p2pnet.NewMemNetwork()
	a := net.NewEndpoint("node-a")

	r := New(nil)
	require.NoError(t, r.Upsert(PeerRecord{NodeID: "node-ghost", LastSeenAt: time.Now(), Online: true}))
	hs := NewHandshaker(context.Background(), a, r, "test")

	_, err := hs.Handshake(context.Background(), "node-ghost")
	require.Error(t, err)

	rec, ok := r.Get("node-ghost")
	require.True(t, ok)
	require.False(t, rec.Online)
}

func TestPEXHandleInboundHandshakesUnknownPeers(t *testing.T) {
	net := p2pnet.NewMemNetwork()
	a := net.NewEndpoint("node-a")
	b := net.NewEndpoint("node-b")

	adopted := make(chan struct{})
	b.OnIncoming(func(s p2pnet.Stream) {
		defer s.Close()
		_, _ = s.Receive()
		require.NoError(t, s.Send(wire.Pong{NodeId: "node-b", TrackCount: 1, Version: "test"}))
		close(adopted)
	})

	r := New(nil)
	hs := NewHandshaker(context.Background(), a, r, "test")
	loop := NewPEXLoop(context.Background(), r, a, hs, nil)

	loop.HandleInbound(wire.PeerExchange{KnownPeerIDs: []wire.NodeId{"node-b"}})

	select {
	case <-adopted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pex-driven handshake")
	}

	require.Eventually(t, func() bool {
		rec, ok := r.Get("node-b")
		return ok && rec.Online
	}, time.Second, 10*time.Millisecond)
}

func TestRegistryHistorySurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peer_history.json")

	r1 := NewWithHistory(nil, path)
	require.NoError(t, r1.Upsert(PeerRecord{NodeID: "peer-1", LastSeenAt: time.Now()}))
	firstSeen, ok := r1.FirstSeenAt("peer-1")
	require.True(t, ok)

	// A brand new registry backed by the same history file should still
	// know about peer-1 even before it reappears this process.
	r2 := NewWithHistory(nil, path)
	require.Equal(t, 0, r2.Count())
	seenAt, ok := r2.FirstSeenAt("peer-1")
	require.True(t, ok)
	require.WithinDuration(t, firstSeen, seenAt, time.Second)
}

func TestReconnectorBackoffGrows(t *testing.T) {
	require.Equal(t, backoffBase, backoff(1))
	require.Equal(t, 2*backoffBase, backoff(2))
	require.Equal(t, backoffMax, backoff(20))
}
