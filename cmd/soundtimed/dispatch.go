package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/soundtime-fm/p2p/internal/blobstore"
	"github.com/soundtime-fm/p2p/internal/catalog"
	"github.com/soundtime-fm/p2p/internal/registry"
	"github.com/soundtime-fm/p2p/internal/search"
	"github.com/soundtime-fm/p2p/internal/wire"
	"github.com/soundtime-fm/p2p/pkg/p2pnet"
)

// streamTimeout bounds how long one inbound exchange is allowed to take
// before the dispatcher gives up on it.
const streamTimeout = 30 * time.Second

// LocalTrackLister is the narrow view of the catalog store the
// dispatcher needs to answer a Ping with this node's own
// announced_track_count (spec.md §3/§4.1).
type LocalTrackLister interface {
	ListLocalTracks(ctx context.Context, sinceCursor *time.Time) ([]catalog.LocalTrack, error)
}

// dispatcher is the single StreamHandler registered with the Endpoint:
// every inbound stream carries exactly one request frame (FetchTrack
// being the exception, whose body follows on the raw connection), and
// the dispatcher routes it to whichever component owns that message
// kind.
type dispatcher struct {
	ep       p2pnet.Endpoint
	reg      *registry.Registry
	pex      *registry.PEXLoop
	ingester *catalog.Ingester
	router   *search.Router
	adapter  *blobstore.Adapter
	tracks   LocalTrackLister
	version  string
	log      *slog.Logger
}

func (d *dispatcher) handle(s p2pnet.Stream) {
	defer s.Close()

	msg, err := s.Receive()
	if err != nil {
		d.log.Debug("dispatch: receive failed", "peer", s.RemotePeer(), "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), streamTimeout)
	defer cancel()

	switch m := msg.(type) {
	case *wire.Ping:
		d.handlePing(ctx, s, m)
	case *wire.FetchTrack:
		d.handleFetchTrack(s, m)
	case *wire.PeerExchange:
		d.pex.HandleInbound(*m)
	case *wire.BloomFilterExchange:
		if err := d.router.ReceiveFilter(s.RemotePeer(), m.Bits, m.HashCount); err != nil {
			d.log.Debug("dispatch: bad bloom filter", "peer", s.RemotePeer(), "error", err)
		}
	case *wire.SearchQuery:
		d.handleSearchQuery(ctx, s, m)
	case *wire.AnnounceTrack:
		if err := d.ingester.Ingest(ctx, s.RemotePeer(), m.Announcement); err != nil {
			d.log.Warn("dispatch: ingest announce failed", "peer", s.RemotePeer(), "error", err)
		}
	case *wire.CatalogSync:
		d.ingestAll(ctx, s.RemotePeer(), m.Announcements)
	case *wire.CatalogDelta:
		d.ingestAll(ctx, s.RemotePeer(), m.Announcements)
	default:
		d.log.Debug("dispatch: unhandled message kind", "peer", s.RemotePeer(), "kind", msg.Kind())
	}
}

func (d *dispatcher) handlePing(ctx context.Context, s p2pnet.Stream, ping *wire.Ping) {
	var count int64
	if tracks, err := d.tracks.ListLocalTracks(ctx, nil); err != nil {
		d.log.Debug("dispatch: local track count lookup failed", "peer", s.RemotePeer(), "error", err)
	} else {
		count = int64(len(tracks))
	}

	pong := wire.Pong{
		NodeId:     d.ep.LocalNodeID(),
		TrackCount: count,
		Version:    d.version,
	}
	if err := s.Send(pong); err != nil {
		d.log.Debug("dispatch: pong failed", "peer", s.RemotePeer(), "error", err)
	}
}

func (d *dispatcher) handleFetchTrack(s p2pnet.Stream, req *wire.FetchTrack) {
	if err := d.adapter.ServeFetchTrack(s.Raw(), req.ContentHash); err != nil {
		d.log.Debug("dispatch: serve fetch failed", "peer", s.RemotePeer(), "hash", req.ContentHash, "error", err)
	}
}

func (d *dispatcher) handleSearchQuery(ctx context.Context, s p2pnet.Stream, q *wire.SearchQuery) {
	local, err := d.router.QueryLocal(ctx, q.QueryTerms)
	if err != nil {
		d.log.Debug("dispatch: local search failed", "peer", s.RemotePeer(), "error", err)
		local = nil
	}
	resp := wire.SearchResults{QueryID: q.QueryID, Matches: local}
	if err := s.Send(resp); err != nil {
		d.log.Debug("dispatch: search results send failed", "peer", s.RemotePeer(), "error", err)
	}
}

func (d *dispatcher) ingestAll(ctx context.Context, peer wire.NodeId, anns []wire.Announcement) {
	for _, ann := range anns {
		if err := d.ingester.Ingest(ctx, peer, ann); err != nil {
			d.log.Warn("dispatch: ingest sync entry failed", "peer", peer, "hash", ann.ContentHash, "error", err)
		}
	}
}
