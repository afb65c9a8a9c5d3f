package health

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/soundtime-fm/p2p/internal/blobstore"
	"github.com/soundtime-fm/p2p/internal/catalog"
	"github.com/soundtime-fm/p2p/internal/wire"
)

// Repairer drives spec.md §4.5's auto-repair flow: when a play request
// fails to acquire bytes, try the announcement's origin node first, then
// fall back through SelectBestCopy's ranked candidates.
type Repairer struct {
	store  catalog.CatalogStore
	prober Prober
	online OnlineChecker
	log    *slog.Logger
}

// NewRepairer builds a Repairer over store (for reading/persisting
// remote-track references) and prober (for the actual byte fetch).
func NewRepairer(store catalog.CatalogStore, prober Prober, online OnlineChecker, log *slog.Logger) *Repairer {
	if log == nil {
		log = slog.Default()
	}
	return &Repairer{store: store, prober: prober, online: online, log: log}
}

// Repair attempts to acquire hash's bytes, trying originNode first and
// then every SelectBestCopy candidate for hash in ranked order. Every
// failed attempt increments that reference's consecutive_failures and
// advances its health state through Transition. Once every candidate is
// exhausted the returned error wraps both ErrAllCandidatesFailed and
// blobstore.ErrNoSource.
func (r *Repairer) Repair(ctx context.Context, hash wire.ContentHash, originNode wire.NodeId) ([]byte, error) {
	refs, err := r.store.ListRemoteRefs(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("health: list remote refs: %w", err)
	}

	order := r.candidateOrder(refs, originNode)
	if len(order) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrAllCandidatesFailed, blobstore.ErrNoSource)
	}

	var lastErr error
	for _, ref := range order {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		data, err := r.prober.FetchRemote(ctx, ref.PeerNodeID, hash)
		if err == nil {
			r.recordOutcome(ctx, ref, true)
			return data, nil
		}
		lastErr = err
		r.recordOutcome(ctx, ref, false)
	}

	return nil, fmt.Errorf("%w: %w: %v", ErrAllCandidatesFailed, blobstore.ErrNoSource, lastErr)
}

// candidateOrder puts the origin node's reference first (if it has one
// and it isn't Dereferenced), followed by SelectBestCopy's ranked order
// for everyone else.
func (r *Repairer) candidateOrder(refs []catalog.RemoteReference, originNode wire.NodeId) []catalog.RemoteReference {
	ranked := SelectBestCopy(refs, r.online)

	var origin *catalog.RemoteReference
	rest := make([]catalog.RemoteReference, 0, len(ranked))
	for i := range ranked {
		if ranked[i].PeerNodeID == originNode && origin == nil {
			origin = &ranked[i]
			continue
		}
		rest = append(rest, ranked[i])
	}

	if origin == nil {
		return rest
	}
	return append([]catalog.RemoteReference{*origin}, rest...)
}

func (r *Repairer) recordOutcome(ctx context.Context, ref catalog.RemoteReference, succeeded bool) {
	status, failures, available := Transition(ref.HealthStatus, ref.ConsecutiveFailures, succeeded)
	if err := r.store.UpdateRemoteHealth(ctx, ref.ID, status, failures, available, time.Now()); err != nil {
		r.log.Warn("repair: persist health failed", "ref", ref.ID, "error", err)
	}
}
