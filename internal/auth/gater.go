// Package auth gates inbound and outbound libp2p connections against the
// host's external blocklist. Unlike an allowlist-style private network,
// SoundTime nodes accept any peer by default; only explicitly blocked
// NodeIds are rejected. This is adapted from an allowlist connection
// gater used elsewhere in this codebase, inverted to a denylist and
// wired to the narrow Blocklist contract instead of a local key map.
package auth

import (
	"log/slog"
	"sync"

	"github.com/libp2p/go-libp2p/core/control"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/soundtime-fm/p2p/internal/wire"
)

// Blocklist is the external contract this gater consults. A host
// implements it against whatever store holds operator block decisions.
type Blocklist interface {
	IsBlocked(id wire.NodeId) bool
	// WatchBlocklist registers fn to be called whenever a NodeId becomes
	// newly blocked, so the gater can tear down its live connection.
	// Implementations for which push notification isn't available may
	// treat this as a no-op; the gater still enforces IsBlocked on every
	// new connection attempt.
	WatchBlocklist(fn func(id wire.NodeId))
}

// DecisionFunc is called on every gating decision with the peer's NodeId
// and the result ("allow" or "deny"), for metrics/audit logging.
type DecisionFunc func(id wire.NodeId, result string)

// BlocklistGater implements libp2p's ConnectionGater against a Blocklist.
type BlocklistGater struct {
	blocklist  Blocklist
	onDecision DecisionFunc // nil-safe
	disconnect func(peer.ID)

	mu sync.RWMutex
}

// NewBlocklistGater creates a gater consulting bl on every connection
// attempt. If disconnect is non-nil, it is invoked (via bl's push
// notification) to tear down an already-open connection the moment its
// peer becomes blocked.
func NewBlocklistGater(bl Blocklist, disconnect func(peer.ID)) *BlocklistGater {
	g := &BlocklistGater{blocklist: bl, disconnect: disconnect}
	bl.WatchBlocklist(func(id wire.NodeId) {
		if g.disconnect == nil {
			return
		}
		pid, err := peer.Decode(string(id))
		if err != nil {
			return
		}
		g.disconnect(pid)
	})
	return g
}

func (g *BlocklistGater) isBlocked(p peer.ID) bool {
	return g.blocklist.IsBlocked(wire.NodeId(p.String()))
}

// InterceptPeerDial rejects dialing a peer already known to be blocked.
func (g *BlocklistGater) InterceptPeerDial(p peer.ID) bool {
	return !g.isBlocked(p)
}

// InterceptAddrDial allows all address-level dial attempts; the peer ID
// check at InterceptPeerDial and InterceptSecured is authoritative.
func (g *BlocklistGater) InterceptAddrDial(peer.ID, multiaddr.Multiaddr) bool {
	return true
}

// InterceptAccept allows all connections pre-handshake; the peer ID is
// not yet verified at this stage.
func (g *BlocklistGater) InterceptAccept(network.ConnMultiaddrs) bool {
	return true
}

// InterceptSecured is the primary check: peer ID is verified by the
// crypto handshake at this point.
func (g *BlocklistGater) InterceptSecured(dir network.Direction, p peer.ID, _ network.ConnMultiaddrs) bool {
	blocked := g.isBlocked(p)
	short := p.String()
	if len(short) > 16 {
		short = short[:16] + "..."
	}

	result := "allow"
	if blocked {
		result = "deny"
	}
	g.mu.RLock()
	onDecision := g.onDecision
	g.mu.RUnlock()
	if onDecision != nil {
		onDecision(wire.NodeId(p.String()), result)
	}

	if blocked {
		slog.Warn("connection denied: peer blocked", "peer", short, "direction", dir)
		return false
	}
	return true
}

// InterceptUpgraded allows every upgraded connection; blocking already
// happened at InterceptSecured.
func (g *BlocklistGater) InterceptUpgraded(network.Conn) (bool, control.DisconnectReason) {
	return true, 0
}

// SetDecisionCallback sets a callback invoked on every gating decision.
func (g *BlocklistGater) SetDecisionCallback(fn DecisionFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onDecision = fn
}
