package auth

import (
	"sync"
	"testing"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"

	"github.com/soundtime-fm/p2p/internal/wire"
)

type fakeBlocklist struct {
	mu      sync.Mutex
	blocked map[wire.NodeId]bool
	watcher func(wire.NodeId)
}

func newFakeBlocklist() *fakeBlocklist {
	return &fakeBlocklist{blocked: make(map[wire.NodeId]bool)}
}

func (f *fakeBlocklist) IsBlocked(id wire.NodeId) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blocked[id]
}

func (f *fakeBlocklist) WatchBlocklist(fn func(wire.NodeId)) {
	f.mu.Lock()
	f.watcher = fn
	f.mu.Unlock()
}

func (f *fakeBlocklist) block(id wire.NodeId) {
	f.mu.Lock()
	f.blocked[id] = true
	watcher := f.watcher
	f.mu.Unlock()
	if watcher != nil {
		watcher(id)
	}
}

func testPeerID(t *testing.T) peer.ID {
	t.Helper()
	_, pub, err := crypto.GenerateKeyPair(crypto.Ed25519, -1)
	require.NoError(t, err)
	id, err := peer.IDFromPublicKey(pub)
	require.NoError(t, err)
	return id
}

func TestBlocklistGaterAllowsUnblockedPeer(t *testing.T) {
	bl := newFakeBlocklist()
	g := NewBlocklistGater(bl, nil)

	id := testPeerID(t)
	require.True(t, g.InterceptPeerDial(id))
	require.True(t, g.InterceptSecured(network.DirInbound, id, nil))
}

func TestBlocklistGaterDeniesBlockedPeer(t *testing.T) {
	bl := newFakeBlocklist()
	id := testPeerID(t)
	bl.block(wire.NodeId(id.String()))

	g := NewBlocklistGater(bl, nil)
	require.False(t, g.InterceptPeerDial(id))
	require.False(t, g.InterceptSecured(network.DirInbound, id, nil))
}

func TestBlocklistGaterDecisionCallback(t *testing.T) {
	bl := newFakeBlocklist()
	g := NewBlocklistGater(bl, nil)

	var got []string
	g.SetDecisionCallback(func(id wire.NodeId, result string) {
		got = append(got, result)
	})

	id := testPeerID(t)
	g.InterceptSecured(network.DirInbound, id, nil)
	bl.block(wire.NodeId(id.String()))
	g.InterceptSecured(network.DirInbound, id, nil)

	require.Equal(t, []string{"allow", "deny"}, got)
}

func TestBlocklistGaterDisconnectsOnNewBlock(t *testing.T) {
	bl := newFakeBlocklist()
	id := testPeerID(t)

	var disconnected peer.ID
	disconnectCh := make(chan struct{})
	NewBlocklistGater(bl, func(p peer.ID) {
		disconnected = p
		close(disconnectCh)
	})

	bl.block(wire.NodeId(id.String()))
	<-disconnectCh
	require.Equal(t, id, disconnected)
}
