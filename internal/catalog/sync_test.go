package catalog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/soundtime-fm/p2p/internal/wire"
	"github.com/soundtime-fm/p2p/pkg/p2pnet"
)

type staticPeerLister struct {
	mu    sync.Mutex
	peers []wire.NodeId
}

func (l *staticPeerLister) List(PeerFilter) []wire.NodeId {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]wire.NodeId, len(l.peers))
	copy(out, l.peers)
	return out
}

func (l *staticPeerLister) set(peers ...wire.NodeId) {
	l.mu.Lock()
	l.peers = peers
	l.mu.Unlock()
}

func recvAnnouncements(t *testing.T, ep p2pnet.Endpoint) chan wire.Message {
	t.Helper()
	ch := make(chan wire.Message, 16)
	ep.OnIncoming(func(s p2pnet.Stream) {
		defer s.Close()
		msg, err := s.Receive()
		if err != nil {
			return
		}
		ch <- msg
	})
	return ch
}

func TestSyncOnHandshakeSendsFullCatalogOnce(t *testing.T) {
	net := p2pnet.NewMemNetwork()
	serverEp := net.NewEndpoint("server")
	msgs := recvAnnouncements(t, serverEp)

	clientEp := net.NewEndpoint("client")
	store := NewMemStore()
	store.AddLocalTrack(sampleAnnouncement("bafy-a", "client"), time.Now())
	store.AddLocalTrack(sampleAnnouncement("bafy-b", "client"), time.Now())

	peers := &staticPeerLister{}
	eng := NewSyncEngine(store, clientEp, peers, nil)

	require.NoError(t, eng.SyncOnHandshake(context.Background(), "server"))

	select {
	case msg := <-msgs:
		sync, ok := msg.(*wire.CatalogSync)
		require.True(t, ok)
		require.Len(t, sync.Announcements, 2)
	case <-time.After(time.Second):
		t.Fatal("expected a CatalogSync message")
	}

	// A second handshake against the same peer must not resend the full
	// catalog — the cursor is already set.
	require.NoError(t, eng.SyncOnHandshake(context.Background(), "server"))
	select {
	case msg := <-msgs:
		t.Fatalf("unexpected second message: %#v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBroadcastLocalPublishDeliversToOnlinePeers(t *testing.T) {
	net := p2pnet.NewMemNetwork()
	serverEp := net.NewEndpoint("server")
	msgs := recvAnnouncements(t, serverEp)

	clientEp := net.NewEndpoint("client")
	store := NewMemStore()
	peers := &staticPeerLister{}
	peers.set("server")
	eng := NewSyncEngine(store, clientEp, peers, nil)

	ann := sampleAnnouncement("bafy-new", "client")
	eng.BroadcastLocalPublish(context.Background(), ann)

	select {
	case msg := <-msgs:
		at, ok := msg.(*wire.AnnounceTrack)
		require.True(t, ok)
		require.Equal(t, ann.ContentHash, at.Announcement.ContentHash)
	case <-time.After(time.Second):
		t.Fatal("expected an AnnounceTrack message")
	}
}

func TestBroadcastLocalPublishDropsOldestOnOverflow(t *testing.T) {
	net := p2pnet.NewMemNetwork()
	// No handler on "server" — nothing drains the queue, so every push
	// past the cap must drop the oldest entry rather than grow forever.
	net.NewEndpoint("server")

	clientEp := net.NewEndpoint("client")
	store := NewMemStore()
	peers := &staticPeerLister{}
	eng := NewSyncEngine(store, clientEp, peers, nil)

	var drops int
	var mu sync.Mutex
	eng.OnDropCounter(func() {
		mu.Lock()
		drops++
		mu.Unlock()
	})

	q := eng.queueFor("server")
	for i := 0; i < outboundQueueSize+5; i++ {
		q.push(sampleAnnouncement(wire.ContentHash("bafy-x"), "client"))
	}
	for i := 0; i < 5; i++ {
		q.push(sampleAnnouncement(wire.ContentHash("bafy-y"), "client"))
	}

	q.mu.Lock()
	n := len(q.items)
	q.mu.Unlock()
	require.Equal(t, outboundQueueSize, n)
}

func TestResyncPeerSendsDeltaSinceCursor(t *testing.T) {
	net := p2pnet.NewMemNetwork()
	serverEp := net.NewEndpoint("server")
	msgs := recvAnnouncements(t, serverEp)

	clientEp := net.NewEndpoint("client")
	store := NewMemStore()
	peers := &staticPeerLister{}
	eng := NewSyncEngine(store, clientEp, peers, nil)

	require.NoError(t, eng.SyncOnHandshake(context.Background(), "server"))
	<-msgs // drain the initial full sync

	store.AddLocalTrack(sampleAnnouncement("bafy-late", "client"), time.Now().Add(time.Minute))

	require.NoError(t, eng.ResyncPeer(context.Background(), "server"))

	select {
	case msg := <-msgs:
		delta, ok := msg.(*wire.CatalogDelta)
		require.True(t, ok)
		require.Len(t, delta.Announcements, 1)
		require.Equal(t, wire.ContentHash("bafy-late"), delta.Announcements[0].ContentHash)
	case <-time.After(time.Second):
		t.Fatal("expected a CatalogDelta message")
	}
}
