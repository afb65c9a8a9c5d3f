package registry

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/soundtime-fm/p2p/internal/wire"
	"github.com/soundtime-fm/p2p/pkg/p2pnet"
)

// HandshakeTimeout bounds how long a Handshake waits for a Pong before
// giving up.
const HandshakeTimeout = 15 * time.Second

// Handshaker performs the Ping/Pong liveness check that adopts a new
// NodeId into the registry (or refreshes an existing one). Concurrent
// handshakes against the same NodeId are collapsed into one in-flight
// call via singleflight, so a burst of PEX hints for the same peer
// doesn't open a dial per hint.
type Handshaker struct {
	ep           p2pnet.Endpoint
	registry     *Registry
	localVersion string
	group        singleflight.Group

	bgCtx      context.Context
	onComplete func(ctx context.Context, peer wire.NodeId)
}

// NewHandshaker builds a Handshaker that dials through ep and records
// results in reg. localVersion is advertised in the outgoing Ping. bgCtx
// is the daemon's own lifetime context (not any single caller's
// request-scoped one) — it outlives whatever Handshake call triggered a
// given handshake, so OnHandshakeComplete's callback can do further work
// (like a full catalog sync) after Handshake has already returned,
// without racing a deadline meant only for the Ping/Pong round trip.
func NewHandshaker(bgCtx context.Context, ep p2pnet.Endpoint, reg *Registry, localVersion string) *Handshaker {
	return &Handshaker{bgCtx: bgCtx, ep: ep, registry: reg, localVersion: localVersion}
}

// OnHandshakeComplete registers fn to run in the background after every
// successful handshake (from any caller — PEX, reconnect, discovery, or
// a seed dial), once the peer record has been upserted. fn receives the
// Handshaker's daemon-lifetime context, not the context the triggering
// Handshake call used.
func (h *Handshaker) OnHandshakeComplete(fn func(ctx context.Context, peer wire.NodeId)) {
	h.onComplete = fn
}

// Handshake dials peerID, exchanges Ping/Pong, and upserts a PeerRecord
// on success. It returns the remote's Pong payload for callers that want
// the advertised version/track count directly.
func (h *Handshaker) Handshake(ctx context.Context, peerID wire.NodeId) (*wire.Pong, error) {
	v, err, _ := h.group.Do(string(peerID), func() (interface{}, error) {
		return h.doHandshake(ctx, peerID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*wire.Pong), nil
}

func (h *Handshaker) doHandshake(ctx context.Context, peerID wire.NodeId) (*wire.Pong, error) {
	ctx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	defer cancel()

	ping := wire.Ping{Version: h.localVersion}
	resp, err := h.ep.SendMessage(ctx, peerID, ping)
	if err != nil {
		h.registry.MarkUnreachable(peerID)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrHandshakeTimeout, err)
		}
		return nil, err
	}

	pong, ok := resp.(*wire.Pong)
	if !ok {
		return nil, ErrUnexpectedResponse
	}

	rec := PeerRecord{
		NodeID:              peerID,
		LastSeenAt:          time.Now(),
		Online:              true,
		AnnouncedTrackCount: pong.TrackCount,
		Version:             pong.Version,
		OptionalName:        pong.NodeName,
	}
	if err := h.registry.Upsert(rec); err != nil {
		return nil, err
	}
	if h.onComplete != nil {
		go h.onComplete(h.bgCtx, peerID)
	}
	return pong, nil
}
