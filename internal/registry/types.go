// Package registry implements the Peer Registry: the in-memory,
// NodeId-keyed map of every peer this node has ever heard of, the
// peer-exchange (PEX) gossip loop, and the handshake that adopts a new
// NodeId. Shared mutable state is modelled as a sharded, lock-guarded
// map rather than ambient globals, per the concurrency model's
// single-writer-per-NodeId rule.
package registry

import (
	"time"

	"github.com/soundtime-fm/p2p/internal/wire"
)

// PeerRecord is everything the registry knows about one peer.
type PeerRecord struct {
	NodeID              wire.NodeId
	LastSeenAt          time.Time
	Online              bool
	AnnouncedTrackCount int64
	Version             string
	OptionalName        string
	AddressHints        []string
}

// Filter narrows a List call. A nil field means "don't filter on this".
type Filter struct {
	Online  *bool
	Blocked *bool
}

func boolPtr(b bool) *bool { return &b }
