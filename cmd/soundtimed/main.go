// Command soundtimed wires the P2P substrate into a standalone process:
// it loads configuration, loads or creates the node's identity, builds a
// libp2p host, and starts every background loop (PEX, reconnect, catalog
// sync, health sweep, filter exchange, discovery) until interrupted.
//
// A host application embeds the packages under internal/ and pkg/
// directly instead of shelling out to this binary; soundtimed exists so
// the substrate can be run, inspected, and exercised on its own.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	libp2pquic "github.com/libp2p/go-libp2p/p2p/transport/quic"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	ma "github.com/multiformats/go-multiaddr"
	"golang.org/x/term"

	"github.com/soundtime-fm/p2p/internal/auth"
	"github.com/soundtime-fm/p2p/internal/blobstore"
	"github.com/soundtime-fm/p2p/internal/catalog"
	"github.com/soundtime-fm/p2p/internal/config"
	"github.com/soundtime-fm/p2p/internal/health"
	"github.com/soundtime-fm/p2p/internal/identity"
	"github.com/soundtime-fm/p2p/internal/registry"
	"github.com/soundtime-fm/p2p/internal/search"
	"github.com/soundtime-fm/p2p/internal/telemetry"
	"github.com/soundtime-fm/p2p/internal/wire"
	"github.com/soundtime-fm/p2p/pkg/p2pnet"
)

// Set via -ldflags at build time:
//
//	go build -ldflags "-X main.version=0.1.0 -X main.commit=$(git rev-parse --short HEAD)" -o soundtimed ./cmd/soundtimed
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if len(os.Args) >= 2 && (os.Args[1] == "version" || os.Args[1] == "--version") {
		fmt.Printf("soundtimed %s (%s)\n", version, commit)
		return
	}

	if err := run(); err != nil {
		slog.Error("soundtimed exiting", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if !cfg.Enabled {
		slog.Info("P2P substrate disabled (set P2P_ENABLED=true to start)")
		return nil
	}
	log := slog.Default()

	priv, err := loadIdentity(cfg)
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}

	metrics := telemetry.New(version, "")
	blocklist := newMemoryBlocklist()
	gater := auth.NewBlocklistGater(blocklist, nil)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	listenAddrs := []string{
		fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", cfg.Port),
		fmt.Sprintf("/ip4/0.0.0.0/udp/%d/quic-v1", cfg.Port),
	}
	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(listenAddrs...),
		libp2p.Transport(libp2pquic.NewTransport),
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.ConnectionGater(gater),
		libp2p.UserAgent(fmt.Sprintf("soundtimed/%s", version)),
	)
	if err != nil {
		return fmt.Errorf("build libp2p host: %w", err)
	}
	defer h.Close()

	ep := p2pnet.NewLibP2PEndpoint(h, log)
	reg := registry.NewWithHistory(blocklist, filepath.Join(cfg.BlobsDir, "peer_history.json"))
	handshaker := registry.NewHandshaker(ctx, ep, reg, version)
	pex := registry.NewPEXLoop(ctx, reg, ep, handshaker, log)
	reconnector := registry.NewReconnector(reg, handshaker, log)

	store, err := blobstore.NewDiskStore(cfg.BlobsDir)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	cache := blobstore.NewCache(cfg.CacheMaxSizeBytes, metrics)
	adapter := blobstore.NewAdapter(store, ep, cache, filepath.Join(cfg.BlobsDir, "cache"), metrics, log)

	mem := catalog.NewMemStore()
	ingester := catalog.NewIngester(mem, coverFetcher(adapter, log), log)
	peerLister := &registryPeerLister{reg: reg}
	syncEngine := catalog.NewSyncEngine(mem, ep, peerLister, log)
	syncEngine.OnDropCounter(func() { metrics.CatalogBroadcastDrops.Inc() })
	handshaker.OnHandshakeComplete(func(hctx context.Context, peer wire.NodeId) {
		if err := syncEngine.SyncOnHandshake(hctx, peer); err != nil {
			log.Debug("sync on handshake failed", "peer", peer, "error", err)
		}
	})

	sweeper := health.NewSweeper(mem, adapter, metrics, log)
	if cfg.SweepInterval > 0 {
		sweeper = sweeper.WithInterval(cfg.SweepInterval)
	}
	router := search.NewRouter(mem, ep, peerLister, metrics, log).WithDeadline(cfg.SearchDeadline)

	d := &dispatcher{ep: ep, reg: reg, pex: pex, ingester: ingester, router: router, adapter: adapter, tracks: mem, version: version, log: log}
	ep.OnIncoming(d.handle)

	stopDiscovery := startDiscovery(ctx, cfg, h, handshaker, log)
	defer stopDiscovery()

	go pex.Run(ctx)
	go reconnector.Run(ctx)
	go syncEngine.RunDeltaLoop(ctx)
	go sweeper.Run(ctx)
	go router.RunExchangeLoop(ctx)

	for _, addr := range cfg.SeedPeers {
		go dialSeedPeer(ctx, h, handshaker, addr, log)
	}

	srv := &http.Server{Addr: fmt.Sprintf(":%d", metricsPort(cfg.Port)), Handler: metrics.Handler()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("metrics server stopped", "error", err)
		}
	}()

	log.Info("soundtimed started", "node_id", ep.LocalNodeID(), "port", cfg.Port)
	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	if hist := reg.History(); hist != nil {
		_ = hist.Save()
	}
	return nil
}

// metricsPort offsets the node's listen port by one thousand so a single
// host can run several soundtimed instances without a metrics collision.
// Port 0 (ephemeral libp2p listen) falls back to a fixed default.
func metricsPort(p2pPort int) int {
	if p2pPort == 0 {
		return 9100
	}
	return p2pPort + 1000
}

// loadIdentity loads or creates the node's private key. With
// SecretKeyPassphrase set, the key file is opened (or created) sealed.
// Without it, an existing key file is loaded as unsealed; only when no
// key file exists and stdin is a terminal is the operator prompted for a
// passphrase to seal the new key. A sealed key file is only readable
// with P2P_SECRET_KEY_PASSPHRASE set.
func loadIdentity(cfg *config.Config) (crypto.PrivKey, error) {
	if cfg.SecretKeyPassphrase != "" {
		return identity.LoadOrCreateIdentitySealed(cfg.SecretKeyPath, cfg.SecretKeyPassphrase)
	}
	if _, err := os.Stat(cfg.SecretKeyPath); err == nil {
		return identity.LoadOrCreateIdentity(cfg.SecretKeyPath)
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return identity.LoadOrCreateIdentity(cfg.SecretKeyPath)
	}
	fmt.Fprint(os.Stderr, "Passphrase to seal new identity key (empty for none): ")
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return identity.LoadOrCreateIdentity(cfg.SecretKeyPath)
	}
	return identity.LoadOrCreateIdentitySealed(cfg.SecretKeyPath, string(pass))
}

func coverFetcher(adapter *blobstore.Adapter, log *slog.Logger) catalog.CoverFetcher {
	return func(_ context.Context, coverHash wire.ContentHash) {
		if adapter.HasLocal(coverHash) {
			return
		}
		log.Debug("cover art not locally available yet; no fetch source tracked for it", "hash", coverHash)
	}
}

func dialSeedPeer(ctx context.Context, h host.Host, hs *registry.Handshaker, addr string, log *slog.Logger) {
	maddr, err := ma.NewMultiaddr(addr)
	if err != nil {
		log.Warn("seed peer: bad multiaddr", "addr", addr, "error", err)
		return
	}
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		log.Warn("seed peer: bad multiaddr", "addr", addr, "error", err)
		return
	}
	dialCtx, cancel := context.WithTimeout(ctx, registry.HandshakeTimeout)
	defer cancel()
	if err := h.Connect(dialCtx, *info); err != nil {
		log.Warn("seed peer: connect failed", "addr", addr, "error", err)
		return
	}
	if _, err := hs.Handshake(ctx, wire.NodeId(info.ID.String())); err != nil {
		log.Warn("seed peer: handshake failed", "addr", addr, "error", err)
	}
}

// registryPeerLister adapts *registry.Registry's richer Filter/List
// contract to the two narrow PeerLister shapes internal/catalog and
// internal/search each declare for themselves.
type registryPeerLister struct {
	reg *registry.Registry
}

func (l *registryPeerLister) List(filter catalog.PeerFilter) []wire.NodeId {
	online := filter.OnlineOnly
	recs := l.reg.List(registry.Filter{Online: &online})
	ids := make([]wire.NodeId, len(recs))
	for i, r := range recs {
		ids[i] = r.NodeID
	}
	return ids
}

func (l *registryPeerLister) OnlinePeers() []wire.NodeId {
	return l.List(catalog.PeerFilter{OnlineOnly: true})
}

// memoryBlocklist is an in-process, never-populated Blocklist: no peer
// is ever denied unless something later calls Block. It satisfies both
// internal/auth.Blocklist and internal/registry.Blocklist.
type memoryBlocklist struct {
	blocked map[wire.NodeId]bool
	watcher func(wire.NodeId)
}

func newMemoryBlocklist() *memoryBlocklist {
	return &memoryBlocklist{blocked: make(map[wire.NodeId]bool)}
}

func (b *memoryBlocklist) IsBlocked(id wire.NodeId) bool { return b.blocked[id] }

func (b *memoryBlocklist) WatchBlocklist(fn func(wire.NodeId)) { b.watcher = fn }

// Block marks id as blocked and notifies the connection gater. The
// gater here is built without a disconnect hook, so new connections to
// id are refused but a live connection to it is left open.
func (b *memoryBlocklist) Block(id wire.NodeId) {
	b.blocked[id] = true
	if b.watcher != nil {
		b.watcher(id)
	}
}
