package p2pnet

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
	ma "github.com/multiformats/go-multiaddr"
)

// advertiseInterval bounds the re-advertise cadence: the provider
// record TTL on most DHT implementations is well under an hour, so a
// node that stops re-advertising silently becomes unreachable through
// rendezvous discovery.
const advertiseInterval = time.Minute

// DHTProtocolPrefix namespaces this module's Kademlia DHT instance away
// from the public IPFS Amino DHT, so SoundTime nodes never route table
// entries with an unrelated public swarm.
const DHTProtocolPrefix = "/soundtime/kad/1.0.0"

// DHTDiscovery is the wide-area half of the Endpoint's pluggable
// discovery hook (spec.md §4.1's "discovery modules: bootstrap list,
// future DHT/mDNS"): it bootstraps a Kademlia DHT on top of the host
// and keeps this node's rendezvous record advertised, so a fresh node
// with nothing but a bootstrap peer list can find the rest of the
// swarm via FindPeers.
type DHTDiscovery struct {
	dht        *dht.IpfsDHT
	rendezvous string
	log        *slog.Logger

	cancel context.CancelFunc
}

// NewDHTDiscovery constructs and bootstraps a DHT on h, dialing every
// address in bootstrapPeers concurrently. A bootstrap peer that can't
// be parsed or reached is skipped — one bad entry in an operator's
// config must not block discovery through the rest.
func NewDHTDiscovery(ctx context.Context, h host.Host, rendezvous string, bootstrapPeers []string, log *slog.Logger) (*DHTDiscovery, error) {
	if log == nil {
		log = slog.Default()
	}
	kdht, err := dht.New(ctx, h,
		dht.Mode(dht.ModeAutoServer),
		dht.ProtocolPrefix(protocol.ID(DHTProtocolPrefix)),
	)
	if err != nil {
		return nil, fmt.Errorf("p2pnet: dht construction: %w", err)
	}
	if err := kdht.Bootstrap(ctx); err != nil {
		return nil, fmt.Errorf("p2pnet: dht bootstrap: %w", err)
	}

	d := &DHTDiscovery{dht: kdht, rendezvous: rendezvous, log: log}
	d.connectBootstrapPeers(ctx, bootstrapPeers)
	return d, nil
}

func (d *DHTDiscovery) connectBootstrapPeers(ctx context.Context, addrs []string) {
	for _, raw := range addrs {
		maddr, err := ma.NewMultiaddr(raw)
		if err != nil {
			d.log.Warn("discovery: invalid bootstrap address", "addr", raw, "error", err)
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			d.log.Warn("discovery: invalid bootstrap peer info", "addr", raw, "error", err)
			continue
		}
		go func(info *peer.AddrInfo) {
			dctx, cancel := context.WithTimeout(ctx, HandshakeTimeoutDefault)
			defer cancel()
			if err := d.dht.Host().Connect(dctx, *info); err != nil {
				d.log.Debug("discovery: bootstrap dial failed", "peer", info.ID, "error", err)
			}
		}(info)
	}
}

// Advertise blocks, re-publishing this node's rendezvous provider
// record every advertiseInterval until ctx is cancelled. Run it in its
// own goroutine alongside the PEX and sweep background loops.
func (d *DHTDiscovery) Advertise(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	rd := drouting.NewRoutingDiscovery(d.dht)
	ticker := time.NewTicker(advertiseInterval)
	defer ticker.Stop()
	for {
		if _, err := rd.Advertise(ctx, d.rendezvous); err != nil {
			d.log.Debug("discovery: advertise failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// FindPeers returns every peer currently advertising under the same
// rendezvous string, excluding this host itself.
func (d *DHTDiscovery) FindPeers(ctx context.Context) ([]peer.AddrInfo, error) {
	rd := drouting.NewRoutingDiscovery(d.dht)
	peerCh, err := dutil.FindPeers(ctx, rd, d.rendezvous)
	if err != nil {
		return nil, fmt.Errorf("p2pnet: find peers: %w", err)
	}

	self := d.dht.Host().ID()
	var out []peer.AddrInfo
	for info := range peerCh {
		if info.ID == self {
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

// Close stops advertising and shuts down the underlying DHT.
func (d *DHTDiscovery) Close() error {
	if d.cancel != nil {
		d.cancel()
	}
	return d.dht.Close()
}

// HandshakeTimeoutDefault bounds a single bootstrap-peer dial attempt.
// Kept here rather than imported from internal/registry so pkg/p2pnet
// has no dependency on the core packages it's consumed by.
const HandshakeTimeoutDefault = 15 * time.Second
