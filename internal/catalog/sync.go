package catalog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/soundtime-fm/p2p/internal/wire"
	"github.com/soundtime-fm/p2p/pkg/p2pnet"
)

// DeltaSyncInterval is how often a node re-sends each peer a
// CatalogDelta of tracks published since that peer's last sync.
const DeltaSyncInterval = 30 * time.Minute

// outboundQueueSize bounds each peer's pending-announcement queue.
// Overflow drops the oldest entry — at-most-once, eventually-consistent
// delivery; the next delta sync carries anything a drop lost.
const outboundQueueSize = 256

// PeerLister is the subset of internal/registry.Registry the sync
// engine needs: the current online peer set.
type PeerLister interface {
	List(filter PeerFilter) []wire.NodeId
}

// PeerFilter narrows a PeerLister.List call. Kept as its own tiny type
// rather than importing internal/registry.Filter, since registry sits
// below catalog in the dependency order and this package must not
// import back up through it — callers adapt registry.Filter/List at the
// wiring site.
type PeerFilter struct {
	OnlineOnly bool
}

type peerQueue struct {
	mu    sync.Mutex
	items []wire.Announcement
}

func (q *peerQueue) push(ann wire.Announcement) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= outboundQueueSize {
		q.items = q.items[1:]
		dropped = true
	}
	q.items = append(q.items, ann)
	return dropped
}

// SyncEngine is the outbound half of the Catalog Sync Engine (D): it
// broadcasts newly-published local tracks, performs the one-time full
// CatalogSync on first handshake with a peer, and periodic CatalogDelta
// pushes thereafter.
type SyncEngine struct {
	store CatalogStore
	ep    p2pnet.Endpoint
	peers PeerLister
	log   *slog.Logger

	mu       sync.Mutex
	cursors  map[wire.NodeId]time.Time
	queues   map[wire.NodeId]*peerQueue
	dropsCtr func()
}

// NewSyncEngine builds a SyncEngine dialing through ep, broadcasting to
// whatever peers is currently online, and reading/writing store.
func NewSyncEngine(store CatalogStore, ep p2pnet.Endpoint, peers PeerLister, log *slog.Logger) *SyncEngine {
	if log == nil {
		log = slog.Default()
	}
	return &SyncEngine{
		store:   store,
		ep:      ep,
		peers:   peers,
		log:     log,
		cursors: make(map[wire.NodeId]time.Time),
		queues:  make(map[wire.NodeId]*peerQueue),
	}
}

// OnDropCounter registers a callback invoked once per dropped
// announcement, for a metrics registry to count.
func (e *SyncEngine) OnDropCounter(fn func()) {
	e.mu.Lock()
	e.dropsCtr = fn
	e.mu.Unlock()
}

func (e *SyncEngine) queueFor(peer wire.NodeId) *peerQueue {
	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.queues[peer]
	if !ok {
		q = &peerQueue{}
		e.queues[peer] = q
	}
	return q
}

// BroadcastLocalPublish enqueues ann for delivery to every currently
// online peer. Per spec.md §4.4, enqueue is bounded: a full queue drops
// the oldest pending announcement to that peer, never blocks the
// producer.
func (e *SyncEngine) BroadcastLocalPublish(ctx context.Context, ann wire.Announcement) {
	online := e.peers.List(PeerFilter{OnlineOnly: true})
	for _, peer := range online {
		q := e.queueFor(peer)
		if dropped := q.push(ann); dropped {
			e.mu.Lock()
			ctr := e.dropsCtr
			e.mu.Unlock()
			if ctr != nil {
				ctr()
			}
		}
		e.drain(ctx, peer)
	}
}

func (e *SyncEngine) drain(ctx context.Context, peer wire.NodeId) {
	q := e.queueFor(peer)
	q.mu.Lock()
	pending := q.items
	q.items = nil
	q.mu.Unlock()

	for _, ann := range pending {
		if _, err := e.ep.SendMessage(ctx, peer, wire.AnnounceTrack{Announcement: ann}); err != nil {
			e.log.Debug("broadcast announce failed", "peer", peer, "hash", ann.ContentHash, "error", err)
		}
	}
}

// SyncOnHandshake is called once a handshake with peer completes. If no
// prior sync cursor exists for peer, it sends a full CatalogSync of
// every locally-uploaded track; otherwise nothing happens here — delta
// syncs are driven by RunDeltaLoop on their own timer.
func (e *SyncEngine) SyncOnHandshake(ctx context.Context, peer wire.NodeId) error {
	e.mu.Lock()
	_, hasSynced := e.cursors[peer]
	e.mu.Unlock()
	if hasSynced {
		return nil
	}
	return e.fullSync(ctx, peer)
}

func (e *SyncEngine) fullSync(ctx context.Context, peer wire.NodeId) error {
	tracks, err := e.store.ListLocalTracks(ctx, nil)
	if err != nil {
		return err
	}
	anns := make([]wire.Announcement, len(tracks))
	for i, t := range tracks {
		anns[i] = t.Announcement
	}
	if _, err := e.ep.SendMessage(ctx, peer, wire.CatalogSync{Announcements: anns}); err != nil {
		return err
	}
	e.mu.Lock()
	e.cursors[peer] = time.Now()
	e.mu.Unlock()
	return nil
}

// RunDeltaLoop blocks, sending each online peer a CatalogDelta of tracks
// published since that peer's last sync cursor every DeltaSyncInterval,
// until ctx is cancelled.
func (e *SyncEngine) RunDeltaLoop(ctx context.Context) {
	ticker := time.NewTicker(DeltaSyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.deltaRound(ctx)
		}
	}
}

// ResyncPeer triggers an on-demand delta sync against one peer, the
// operator "trigger resync against one peer" surface in spec.md §6.
func (e *SyncEngine) ResyncPeer(ctx context.Context, peer wire.NodeId) error {
	return e.deltaSync(ctx, peer)
}

func (e *SyncEngine) deltaRound(ctx context.Context) {
	online := e.peers.List(PeerFilter{OnlineOnly: true})
	for _, peer := range online {
		if ctx.Err() != nil {
			return
		}
		if err := e.deltaSync(ctx, peer); err != nil {
			e.log.Debug("delta sync failed", "peer", peer, "error", err)
		}
	}
}

func (e *SyncEngine) deltaSync(ctx context.Context, peer wire.NodeId) error {
	e.mu.Lock()
	since, ok := e.cursors[peer]
	e.mu.Unlock()
	if !ok {
		return e.fullSync(ctx, peer)
	}

	tracks, err := e.store.ListLocalTracks(ctx, &since)
	if err != nil {
		return err
	}
	anns := make([]wire.Announcement, len(tracks))
	for i, t := range tracks {
		anns[i] = t.Announcement
	}

	now := time.Now()
	msg := wire.CatalogDelta{SinceCursor: since.Format(time.RFC3339Nano), Announcements: anns}
	if _, err := e.ep.SendMessage(ctx, peer, msg); err != nil {
		return err
	}
	e.mu.Lock()
	e.cursors[peer] = now
	e.mu.Unlock()
	return nil
}
