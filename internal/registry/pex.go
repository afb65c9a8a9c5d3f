package registry

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/soundtime-fm/p2p/internal/wire"
	"github.com/soundtime-fm/p2p/pkg/p2pnet"
)

// PEXInterval is how often a node gossips its known-peer set to a
// random sample of online peers.
const PEXInterval = 5 * time.Minute

// PEXFanout caps how many peers receive a gossip round and how many
// NodeIds are advertised in one PeerExchange message.
const PEXFanout = 128

// PEXLoop periodically shares a sample of known, online peers with a
// random subset of the registry and incorporates any peers learned from
// inbound PeerExchange messages by best-effort handshake.
type PEXLoop struct {
	registry   *Registry
	ep         p2pnet.Endpoint
	handshaker *Handshaker
	log        *slog.Logger

	bgCtx context.Context
}

// NewPEXLoop builds a PEXLoop over reg, dialing new peers via ep and
// adopting them through hs. bgCtx is the daemon's own lifetime context,
// used for the handshakes HandleInbound spawns in the background — those
// outlive the inbound stream that triggered them, so they must not
// inherit that stream's short-lived, soon-to-be-cancelled context.
func NewPEXLoop(bgCtx context.Context, reg *Registry, ep p2pnet.Endpoint, hs *Handshaker, log *slog.Logger) *PEXLoop {
	if log == nil {
		log = slog.Default()
	}
	return &PEXLoop{bgCtx: bgCtx, registry: reg, ep: ep, handshaker: hs, log: log}
}

// Run blocks, gossiping every PEXInterval until ctx is cancelled.
func (p *PEXLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(PEXInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.gossipRound(ctx)
		}
	}
}

func (p *PEXLoop) gossipRound(ctx context.Context) {
	online := true
	known := p.registry.List(Filter{Online: &online})
	if len(known) == 0 {
		return
	}

	ids := make([]wire.NodeId, 0, len(known))
	for _, rec := range known {
		ids = append(ids, rec.NodeID)
	}
	rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })

	advertise := ids
	if len(advertise) > PEXFanout {
		advertise = advertise[:PEXFanout]
	}
	msg := wire.PeerExchange{KnownPeerIDs: advertise}

	targets := ids
	if len(targets) > PEXFanout {
		targets = targets[:PEXFanout]
	}
	for _, target := range targets {
		if ctx.Err() != nil {
			return
		}
		if _, err := p.ep.SendMessage(ctx, target, msg); err != nil {
			p.log.Debug("pex gossip failed", "peer", target, "error", err)
		}
	}
}

// HandleInbound processes a PeerExchange received from a peer: every
// NodeId not already known is handshaked in the background, best
// effort, against the loop's own daemon-lifetime context — never the
// context of whatever inbound stream delivered msg, which is cancelled
// the moment that stream's handler returns. Failures are silently
// dropped — an unreachable hint is not worth logging at more than debug
// level.
func (p *PEXLoop) HandleInbound(msg wire.PeerExchange) {
	for _, id := range msg.KnownPeerIDs {
		if p.registry.IsBlocked(id) {
			continue
		}
		if _, ok := p.registry.Get(id); ok {
			continue
		}
		id := id
		go func() {
			if _, err := p.handshaker.Handshake(p.bgCtx, id); err != nil {
				p.log.Debug("pex-learned peer unreachable", "peer", id, "error", err)
			}
		}()
	}
}
