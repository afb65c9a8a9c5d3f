package p2pnet

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/zeroconf/v2"
	ma "github.com/multiformats/go-multiaddr"
)

// mdnsServiceName is the DNS-SD service type SoundTime nodes advertise
// under.
const mdnsServiceName = "_soundtime._udp"

// mdnsBrowseInterval controls how often MDNSDiscovery re-queries the
// network. Re-browsing on a fixed interval rather than holding one
// long-lived multicast socket open sidesteps platform-specific mDNS
// responder quirks.
const mdnsBrowseInterval = 30 * time.Second

// mdnsBrowseTimeout bounds a single browse round.
const mdnsBrowseTimeout = 10 * time.Second

// dnsaddrPrefix matches libp2p's TXT-record convention for advertising
// a full multiaddr inside mDNS, so any libp2p-based implementation can
// parse SoundTime's records and vice versa.
const dnsaddrPrefix = "dnsaddr="

// MDNSDiscovery is the LAN half of the Endpoint's pluggable discovery
// hook: it advertises this host over mDNS and periodically browses for
// other SoundTime nodes on the same subnet, handing each discovery to
// OnPeerFound. This type never dials a discovered peer itself —
// connection policy (dedup, backoff, concurrency limits) belongs to
// internal/registry.Reconnector, which already owns that responsibility
// for every other peer source.
type MDNSDiscovery struct {
	host        host.Host
	server      *zeroconf.Server
	onPeerFound func(peer.AddrInfo)
	log         *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMDNSDiscovery builds an MDNSDiscovery for h. onPeerFound is called
// once per discovered peer per browse round; it must not block.
func NewMDNSDiscovery(h host.Host, onPeerFound func(peer.AddrInfo), log *slog.Logger) *MDNSDiscovery {
	if log == nil {
		log = slog.Default()
	}
	return &MDNSDiscovery{host: h, onPeerFound: onPeerFound, log: log}
}

// Start registers this host's mDNS service and begins the periodic
// browse loop. Returns once registration succeeds; browsing continues
// in the background until ctx is cancelled or Close is called.
func (md *MDNSDiscovery) Start(ctx context.Context) error {
	ctx, md.cancel = context.WithCancel(ctx)

	if err := md.register(); err != nil {
		return fmt.Errorf("p2pnet: mdns register: %w", err)
	}

	md.wg.Add(1)
	go md.browseLoop(ctx)
	return nil
}

// Close stops advertising and browsing, and waits for the browse loop
// to exit.
func (md *MDNSDiscovery) Close() error {
	if md.cancel != nil {
		md.cancel()
	}
	if md.server != nil {
		md.server.Shutdown()
	}
	md.wg.Wait()
	return nil
}

func (md *MDNSDiscovery) register() error {
	p2pAddrs, err := peer.AddrInfoToP2pAddrs(&peer.AddrInfo{
		ID:    md.host.ID(),
		Addrs: md.host.Addrs(),
	})
	if err != nil {
		return err
	}

	txts := mdnsAddrTXTRecords(p2pAddrs)
	server, err := zeroconf.Register(
		md.host.ID().String(),
		mdnsServiceName,
		"local.",
		4001,
		txts,
		nil,
	)
	if err != nil {
		return err
	}
	md.server = server
	return nil
}

// mdnsAddrTXTRecords renders a multiaddr set into the dnsaddr= TXT
// record format libp2p's own mDNS implementation uses, so this node's
// presence is parseable by any libp2p-based listener on the LAN.
func mdnsAddrTXTRecords(addrs []ma.Multiaddr) []string {
	txts := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		txts = append(txts, dnsaddrPrefix+addr.String())
	}
	return txts
}

// parseMDNSTXTRecords is the inverse of mdnsAddrTXTRecords: it extracts
// peer.AddrInfo entries from a discovered service's TXT records,
// skipping any record that isn't a well-formed dnsaddr= entry.
func parseMDNSTXTRecords(txts []string) ([]peer.AddrInfo, error) {
	addrs := make([]ma.Multiaddr, 0, len(txts))
	for _, txt := range txts {
		if !strings.HasPrefix(txt, dnsaddrPrefix) {
			continue
		}
		addr, err := ma.NewMultiaddr(txt[len(dnsaddrPrefix):])
		if err != nil {
			continue
		}
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, nil
	}
	return peer.AddrInfosFromP2pAddrs(addrs...)
}

func (md *MDNSDiscovery) browseLoop(ctx context.Context) {
	defer md.wg.Done()

	md.runBrowse(ctx)
	ticker := time.NewTicker(mdnsBrowseInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			md.runBrowse(ctx)
		}
	}
}

func (md *MDNSDiscovery) runBrowse(ctx context.Context) {
	browseCtx, cancel := context.WithTimeout(ctx, mdnsBrowseTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	go func() {
		for entry := range entries {
			md.handleEntry(entry)
		}
	}()

	if err := zeroconf.Browse(browseCtx, mdnsServiceName, "local.", entries); err != nil && ctx.Err() == nil {
		md.log.Debug("mdns: browse round failed", "error", err)
	}
}

func (md *MDNSDiscovery) handleEntry(entry *zeroconf.ServiceEntry) {
	infos, err := parseMDNSTXTRecords(entry.Text)
	if err != nil {
		md.log.Debug("mdns: malformed peer record", "error", err)
		return
	}
	for _, info := range infos {
		if info.ID == md.host.ID() {
			continue
		}
		md.host.Peerstore().AddAddrs(info.ID, info.Addrs, 10*time.Minute)
		if md.onPeerFound != nil {
			md.onPeerFound(info)
		}
	}
}
