package search

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"

	"github.com/soundtime-fm/p2p/internal/telemetry"
	"github.com/soundtime-fm/p2p/internal/wire"
	"github.com/soundtime-fm/p2p/pkg/p2pnet"
)

// SearchDeadline bounds how long a query fan-out waits for any one
// peer's SearchResults, per spec.md §4.6.
const SearchDeadline = 3 * time.Second

// peerDigestCacheSize bounds the in-memory peer-digest table so a very
// large swarm can't grow it unbounded; least-recently-exchanged peers
// are evicted first.
const peerDigestCacheSize = 4096

// staleAfter bounds how long a peer's advertised filter digest is
// trusted before the router stops routing queries to it, per spec.md
// §3's "digests older than a refresh interval are considered stale."
// Twice the exchange interval tolerates one missed exchange round
// (a transient send failure in RunExchangeLoop) without immediately
// treating the peer as unsearchable.
const staleAfter = 2 * FilterExchangeInterval

// peerDigest pairs a received filter with the local time it was stored,
// so candidatePeers can skip entries that have gone stale rather than
// route a query against a filter the peer may have long since rebuilt.
type peerDigest struct {
	filter     *Filter
	receivedAt time.Time
}

// LocalSearcher is the host's own catalog text search, consulted
// synchronously on every query before any peer is contacted.
type LocalSearcher interface {
	Search(ctx context.Context, terms []string) ([]wire.SearchMatch, error)
}

// PeerLister is the narrow registry view the search router needs: the
// current online peer set, for both filter exchange and query fan-out.
type PeerLister interface {
	OnlinePeers() []wire.NodeId
}

// Router is the Distributed Search Router (F): it owns the local Bloom
// filter, exchanges filter digests with peers, and fans a query out only
// to peers whose digest could plausibly match every query term.
type Router struct {
	local   LocalSearcher
	ep      p2pnet.Endpoint
	peers   PeerLister
	metrics *telemetry.Registry
	log     *slog.Logger

	filter atomicFilter
	deadline time.Duration

	mu           sync.Mutex
	peerFilters  *lru.Cache
	lastRebuildN int
}

// NewRouter builds a Router. The local filter starts empty — call
// RebuildFilter once the host's catalog is readable.
func NewRouter(local LocalSearcher, ep p2pnet.Endpoint, peers PeerLister, metrics *telemetry.Registry, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	cache, _ := lru.New(peerDigestCacheSize)
	r := &Router{local: local, ep: ep, peers: peers, metrics: metrics, log: log, peerFilters: cache, deadline: SearchDeadline}
	r.filter.Store(NewFilter())
	return r
}

// WithDeadline overrides the per-peer query deadline (default
// SearchDeadline).
func (r *Router) WithDeadline(d time.Duration) *Router { r.deadline = d; return r }

// RebuildFilter atomically replaces the local filter with one built from
// corpus. Readers (peers running ContainsAll against a copy of it, and the
// filter served on handshake/exchange) never observe a half-built filter
// — the swap is a single atomic pointer store.
func (r *Router) RebuildFilter(corpus [][3]string) {
	r.filter.Store(BuildFilter(corpus))
	r.mu.Lock()
	r.lastRebuildN = len(corpus)
	r.mu.Unlock()
}

// RebuildIfNeeded rebuilds the filter from corpus only once the catalog
// has drifted by more than FilterRebuildDelta tracks since the last
// rebuild, per spec.md §4.6.
func (r *Router) RebuildIfNeeded(corpus [][3]string) {
	r.mu.Lock()
	delta := len(corpus) - r.lastRebuildN
	if delta < 0 {
		delta = -delta
	}
	needsRebuild := delta > FilterRebuildDelta
	r.mu.Unlock()
	if needsRebuild {
		r.RebuildFilter(corpus)
	}
}

// LocalFilter returns the currently published filter, for exchange.
func (r *Router) LocalFilter() *Filter { return r.filter.Load() }

// ExchangeWith sends this node's current filter to peer and is the
// inbound counterpart's mirror image: a host wires ReceiveFilter to the
// handler for inbound BloomFilterExchange frames.
func (r *Router) ExchangeWith(ctx context.Context, peer wire.NodeId) error {
	f := r.filter.Load()
	bits, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = r.ep.SendMessage(ctx, peer, wire.BloomFilterExchange{
		Bits:        bits,
		HashCount:   f.HashCount(),
		GeneratedAt: time.Now(),
	})
	return err
}

// ReceiveFilter stores peer's advertised filter digest, replacing
// anything previously stored for that NodeId.
func (r *Router) ReceiveFilter(peer wire.NodeId, bits []byte, hashCount int) error {
	f, err := DecodeFilter(bits, hashCount)
	if err != nil {
		return err
	}
	r.peerFilters.Add(peer, peerDigest{filter: f, receivedAt: time.Now()})
	return nil
}

// RunExchangeLoop blocks, pushing this node's filter to every online
// peer every FilterExchangeInterval, until ctx is cancelled.
func (r *Router) RunExchangeLoop(ctx context.Context) {
	ticker := time.NewTicker(FilterExchangeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, peer := range r.peers.OnlinePeers() {
				if err := r.ExchangeWith(ctx, peer); err != nil {
					r.log.Debug("filter exchange failed", "peer", peer, "error", err)
				}
			}
		}
	}
}

// QueryLocal answers an inbound SearchQuery against this node's own
// catalog only — it never re-fans the query out to other peers, which
// would turn one query into an unbounded flood across the swarm.
func (r *Router) QueryLocal(ctx context.Context, terms []string) ([]wire.SearchMatch, error) {
	return r.local.Search(ctx, terms)
}

// candidatePeers returns the online peers whose stored filter digest is
// fresh and could contain every one of terms. A peer with no stored
// digest yet, or whose digest has gone stale (no exchange within
// staleAfter), is skipped rather than queried blindly, per spec.md
// §4.6.
func (r *Router) candidatePeers(terms []string) []wire.NodeId {
	var out []wire.NodeId
	for _, peer := range r.peers.OnlinePeers() {
		v, ok := r.peerFilters.Get(peer)
		if !ok {
			continue
		}
		d := v.(peerDigest)
		if time.Since(d.receivedAt) > staleAfter {
			continue
		}
		if d.filter.ContainsAll(terms) {
			out = append(out, peer)
		}
	}
	return out
}

// Query runs one search: the local catalog is always searched
// synchronously, then every candidate peer (per candidatePeers) is
// queried concurrently with a per-peer SearchDeadline. Results are
// merged and deduplicated by ContentHash. A slow or dead peer is
// queried with its own deadline context and cannot block or cancel any
// other peer's query — hence sync.WaitGroup over a shared fan-out
// rather than errgroup, which would cancel siblings on the first error.
func (r *Router) Query(ctx context.Context, text string) ([]wire.SearchMatch, error) {
	terms := Tokenize(text)
	queryID := uuid.NewString()

	local, err := r.local.Search(ctx, terms)
	if err != nil {
		return nil, err
	}

	candidates := r.candidatePeers(terms)
	if r.metrics != nil {
		r.metrics.SearchQueriesTotal.Inc()
		r.metrics.SearchPeersQueried.Observe(float64(len(candidates)))
	}

	start := time.Now()
	resultsCh := make(chan []wire.SearchMatch, len(candidates))
	var wg sync.WaitGroup
	for _, peer := range candidates {
		wg.Add(1)
		go func(peer wire.NodeId) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, r.deadline)
			defer cancel()
			resp, err := r.ep.SendMessage(pctx, peer, wire.SearchQuery{QueryID: queryID, QueryTerms: terms})
			if err != nil {
				r.log.Debug("search query failed", "peer", peer, "error", err)
				return
			}
			sr, ok := resp.(*wire.SearchResults)
			if !ok {
				return
			}
			resultsCh <- sr.Matches
		}(peer)
	}
	wg.Wait()
	close(resultsCh)
	if r.metrics != nil {
		r.metrics.SearchFanoutDuration.Observe(time.Since(start).Seconds())
	}

	return merge(local, resultsCh), nil
}

func merge(local []wire.SearchMatch, remote <-chan []wire.SearchMatch) []wire.SearchMatch {
	seen := make(map[wire.ContentHash]bool, len(local))
	out := make([]wire.SearchMatch, 0, len(local))
	for _, m := range local {
		if !seen[m.ContentHash] {
			seen[m.ContentHash] = true
			out = append(out, m)
		}
	}
	for matches := range remote {
		for _, m := range matches {
			if !seen[m.ContentHash] {
				seen[m.ContentHash] = true
				out = append(out, m)
			}
		}
	}
	return out
}
