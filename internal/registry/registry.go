package registry

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/soundtime-fm/p2p/internal/reputation"
	"github.com/soundtime-fm/p2p/internal/wire"
)

// numShards bounds lock contention: distinct NodeIds hashing to
// different shards never block each other, matching the "single-writer
// per NodeId via striped locks" requirement without a lock per peer.
const numShards = 16

// LivenessWindow is how recently a peer must have been seen to count as
// online in a read that doesn't have a fresher signal to go on.
const LivenessWindow = 10 * time.Minute

// Blocklist is the external contract the registry consults before
// inserting a peer. It is the same shape pkg/p2pnet's connection gater
// consumes, so a host wires one implementation to both.
type Blocklist interface {
	IsBlocked(id wire.NodeId) bool
}

type shard struct {
	mu    sync.RWMutex
	peers map[wire.NodeId]*PeerRecord
}

// Registry is the in-memory, NodeId-keyed peer table.
type Registry struct {
	shards    [numShards]*shard
	blocklist Blocklist
	history   *reputation.PeerHistory
}

// New creates an empty registry. blocklist may be nil, in which case no
// peer is ever considered blocked. The registry holds no cross-restart
// history; last_seen_at for every peer starts at zero again on the next
// process start. Use NewWithHistory to persist it.
func New(blocklist Blocklist) *Registry {
	r := &Registry{blocklist: blocklist}
	for i := range r.shards {
		r.shards[i] = &shard{peers: make(map[wire.NodeId]*PeerRecord)}
	}
	return r
}

// NewWithHistory creates a registry backed by a peer history file at
// historyPath: every successful Upsert is also recorded there, and the
// file is loaded (if present) before this call returns so a restarted
// node can see how long it has known a peer even before it reappears in
// this process's in-memory table.
func NewWithHistory(blocklist Blocklist, historyPath string) *Registry {
	r := New(blocklist)
	r.history = reputation.NewPeerHistory(historyPath)
	return r
}

// History returns the peer history this registry records connections
// to, or nil if the registry was built with New rather than
// NewWithHistory.
func (r *Registry) History() *reputation.PeerHistory { return r.history }

// FirstSeenAt returns when this node first recorded a connection to id,
// consulting cross-restart history rather than the in-memory table —
// so it still answers correctly for a peer not seen again yet this
// process. The second return is false if the registry has no history
// store, or the peer has never been recorded.
func (r *Registry) FirstSeenAt(id wire.NodeId) (time.Time, bool) {
	if r.history == nil {
		return time.Time{}, false
	}
	rec, ok := r.history.Get(id)
	if !ok {
		return time.Time{}, false
	}
	return rec.FirstSeen, true
}

func (r *Registry) shardFor(id wire.NodeId) *shard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return r.shards[h.Sum32()%numShards]
}

// IsBlocked reports whether id is on the external blocklist.
func (r *Registry) IsBlocked(id wire.NodeId) bool {
	return r.blocklist != nil && r.blocklist.IsBlocked(id)
}

// Upsert inserts or updates a peer record. last_seen_at is monotonic:
// an incoming record whose LastSeenAt is not strictly after the stored
// one is discarded in favor of the existing record (ties keep existing).
// Blocked NodeIds are rejected.
func (r *Registry) Upsert(rec PeerRecord) error {
	if r.IsBlocked(rec.NodeID) {
		return ErrBlocked
	}

	s := r.shardFor(rec.NodeID)
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.peers[rec.NodeID]
	if !ok {
		copyRec := rec
		s.peers[rec.NodeID] = &copyRec
		r.recordHistory(rec.NodeID)
		return nil
	}
	if !rec.LastSeenAt.After(existing.LastSeenAt) {
		return nil
	}
	copyRec := rec
	s.peers[rec.NodeID] = &copyRec
	r.recordHistory(rec.NodeID)
	return nil
}

// recordHistory is a no-op when the registry was built without a
// history store. A failed Save is logged-and-ignored territory rather
// than an Upsert failure: losing one history write doesn't make the
// in-memory registry state wrong, only the next restart's memory a
// little shorter.
func (r *Registry) recordHistory(id wire.NodeId) {
	if r.history == nil {
		return
	}
	r.history.RecordConnection(id, "direct", 0)
	_ = r.history.Save()
}

// MarkSeen refreshes a peer's last_seen_at to now and marks it online.
// If the peer is unknown, this is a no-op: mark_seen only refreshes
// liveness for peers already adopted via Upsert/handshake.
func (r *Registry) MarkSeen(id wire.NodeId) {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.peers[id]; ok {
		rec.LastSeenAt = time.Now()
		rec.Online = true
	}
}

// MarkUnreachable clears a peer's online flag without evicting its
// record — the registry never forgets a NodeId it has adopted.
func (r *Registry) MarkUnreachable(id wire.NodeId) {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.peers[id]; ok {
		rec.Online = false
	}
}

// Get returns a copy of the peer record for id, or false if unknown.
func (r *Registry) Get(id wire.NodeId) (PeerRecord, bool) {
	s := r.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.peers[id]
	if !ok {
		return PeerRecord{}, false
	}
	return *rec, true
}

// List returns a snapshot of peer records matching filter. Each shard is
// read under its own lock; the result is a consistent-enough snapshot
// for gossip fan-out and status reporting, not a single atomic view
// across the whole registry.
func (r *Registry) List(filter Filter) []PeerRecord {
	var out []PeerRecord
	for _, s := range r.shards {
		s.mu.RLock()
		for _, rec := range s.peers {
			if filter.Online != nil && rec.Online != *filter.Online {
				continue
			}
			if filter.Blocked != nil {
				blocked := r.IsBlocked(rec.NodeID)
				if blocked != *filter.Blocked {
					continue
				}
			}
			out = append(out, *rec)
		}
		s.mu.RUnlock()
	}
	return out
}

// Count returns the total number of known peers.
func (r *Registry) Count() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.peers)
		s.mu.RUnlock()
	}
	return n
}
