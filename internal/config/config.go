// Package config loads the SoundTime P2P node configuration from the
// environment. Unlike the YAML-file configuration some sibling tools in
// this codebase use, the P2P substrate is meant to be embedded inside a
// larger host process, so its knobs are the small set of environment
// variables in SPEC_FULL.md §6 plus P2P_SECRET_KEY_PASSPHRASE,
// P2P_DHT_DISCOVERY and P2P_RENDEZVOUS.
package config

import "time"

// Config is the fully resolved, validated configuration for one P2P node.
type Config struct {
	// Enabled gates whether the host should start the P2P subsystem at all.
	Enabled bool

	// Port is the TCP/QUIC listen port for the libp2p host. 0 lets the
	// transport choose an ephemeral port.
	Port int

	// BlobsDir is the root of the node's blob store; the on-demand blob
	// cache and the peer history file live inside it.
	BlobsDir string

	// SecretKeyPath is the file holding the node's libp2p private key,
	// generated on first run if absent.
	SecretKeyPath string

	// LocalDiscovery enables LAN mDNS peer discovery.
	LocalDiscovery bool

	// DHTDiscovery enables wide-area Kademlia DHT bootstrap/rendezvous
	// discovery, in addition to (or instead of) LAN mDNS.
	DHTDiscovery bool

	// Rendezvous is the DHT provider-record key SoundTime nodes advertise
	// and search under. Operators running a private swarm change this to
	// avoid overlapping with the public default.
	Rendezvous string

	// SeedPeers are multiaddr strings used to bootstrap the DHT and the
	// peer registry on first start.
	SeedPeers []string

	// SecretKeyPassphrase, if set, seals SecretKeyPath at rest
	// (Argon2id + XChaCha20-Poly1305, see internal/identity). Left empty,
	// the key file is stored unencrypted as libp2p's own marshaled format.
	SecretKeyPassphrase string

	// CacheMaxSizeBytes bounds the on-demand blob cache's total size.
	CacheMaxSizeBytes int64

	// SweepInterval controls how often the track health manager re-checks
	// every remote-track reference.
	SweepInterval time.Duration

	// SearchDeadline bounds how long the search router waits for peer
	// responses before returning partial results.
	SearchDeadline time.Duration
}

// DefaultSweepInterval matches the "periodic, not per-request" sweep
// cadence described for the track health manager.
const DefaultSweepInterval = 10 * time.Minute

// DefaultSearchDeadline bounds distributed query fan-out.
const DefaultSearchDeadline = 3 * time.Second

// DefaultCacheMaxSizeBytes is used when P2P_CACHE_MAX_SIZE is unset.
const DefaultCacheMaxSizeBytes int64 = 2 << 30 // 2GB

// DefaultRendezvous is used when P2P_RENDEZVOUS is unset.
const DefaultRendezvous = "soundtime-p2p-v1"
