package catalog

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/soundtime-fm/p2p/internal/blobstore"
	"github.com/soundtime-fm/p2p/internal/wire"
)

// retryBackoff is the pause between a failed catalog-store write and its
// single retry attempt.
const retryBackoff = 50 * time.Millisecond

// ingestShards bounds per-content-hash lock contention the same way
// internal/registry stripes its NodeId-keyed locks: cross-hash ingestion
// stays fully parallel, same-hash ingestion (from any number of peers)
// is serialised.
const ingestShards = 32

// CoverFetcher schedules a background fetch of a cover-art blob when an
// announcement references one the local catalog doesn't have yet. A
// missing or failed cover fetch is never fatal to ingestion.
type CoverFetcher func(ctx context.Context, coverHash wire.ContentHash)

// Ingester is the inbound half of the Catalog Sync Engine: it
// normalises, validates, and materialises AnnounceTrack/CatalogSync/
// CatalogDelta entries into the catalog store.
type Ingester struct {
	store CatalogStore
	cover CoverFetcher
	log   *slog.Logger
	locks [ingestShards]sync.Mutex
}

// NewIngester builds an Ingester over store. cover may be nil if the
// host doesn't want cover-art background fetches.
func NewIngester(store CatalogStore, cover CoverFetcher, log *slog.Logger) *Ingester {
	if log == nil {
		log = slog.Default()
	}
	return &Ingester{store: store, cover: cover, log: log}
}

func (g *Ingester) lockFor(hash wire.ContentHash) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(hash))
	return &g.locks[h.Sum32()%ingestShards]
}

// Ingest applies one announcement received from peer. It normalises and
// validates the announcement, upserts artist/album/track rows (an
// existing local track's fields, including OriginNode, are never
// overwritten), and upserts a remote-track reference. A pre-existing
// Dereferenced reference for (peer, content_hash) is promoted to
// Recovered, per spec.md §4.4.
func (g *Ingester) Ingest(ctx context.Context, peer wire.NodeId, ann wire.Announcement) error {
	if err := validate(ann); err != nil {
		return err
	}

	lock := g.lockFor(ann.ContentHash)
	lock.Lock()
	defer lock.Unlock()

	var artistID string
	var err error
	if err = retryOnce(func() error {
		artistID, err = g.store.UpsertArtist(ctx, normalizeName(ann.ArtistName))
		return err
	}); err != nil {
		return fmt.Errorf("%w: upsert artist: %v", ErrPersistence, err)
	}

	if ann.AlbumTitle != "" {
		if err = retryOnce(func() error {
			_, err := g.store.UpsertAlbum(ctx, artistID, normalizeName(ann.AlbumTitle), ann.Year, "")
			return err
		}); err != nil {
			return fmt.Errorf("%w: upsert album: %v", ErrPersistence, err)
		}
	}

	fields := TrackFields{
		Title:       ann.Title,
		ArtistName:  ann.ArtistName,
		AlbumTitle:  ann.AlbumTitle,
		DurationSec: ann.DurationSec,
		Format:      ann.Format,
		FileSize:    ann.FileSize,
		Genre:       ann.Genre,
		Year:        ann.Year,
		TrackNumber: ann.TrackNumber,
		DiscNumber:  ann.DiscNumber,
		BitrateKbps: ann.BitrateKbps,
		SampleRate:  ann.SampleRate,
		OriginNode:  ann.OriginNode,
		CoverHash:   ann.CoverHash,
	}
	if err = retryOnce(func() error {
		_, _, err := g.store.UpsertTrackByHash(ctx, ann.ContentHash, fields)
		return err
	}); err != nil {
		return fmt.Errorf("%w: upsert track: %v", ErrPersistence, err)
	}

	existing, ok, err := g.store.GetRemoteReference(ctx, peer, ann.ContentHash)
	if err != nil {
		return fmt.Errorf("%w: lookup remote ref: %v", ErrPersistence, err)
	}

	var refID string
	if err = retryOnce(func() error {
		refID, err = g.store.UpsertRemoteReference(ctx, peer, ann.ContentHash, ann.OriginNode)
		return err
	}); err != nil {
		return fmt.Errorf("%w: upsert remote reference: %v", ErrPersistence, err)
	}

	if ok && existing.HealthStatus == Dereferenced {
		now := time.Now()
		if err := g.store.UpdateRemoteHealth(ctx, refID, Recovered, 0, true, now); err != nil {
			g.log.Warn("failed to promote dereferenced ref to recovered", "peer", peer, "hash", ann.ContentHash, "error", err)
		}
	}

	if ann.CoverHash != "" && g.cover != nil {
		go g.cover(ctx, ann.CoverHash)
	}

	return nil
}

func validate(ann wire.Announcement) error {
	if ann.Title == "" || ann.ArtistName == "" {
		return fmt.Errorf("%w: title and artist are required", ErrInvalidAnnouncement)
	}
	if ann.DurationSec < 0 {
		return fmt.Errorf("%w: duration_secs must be non-negative", ErrInvalidAnnouncement)
	}
	if ann.FileSize < 0 {
		return fmt.Errorf("%w: file_size must be non-negative", ErrInvalidAnnouncement)
	}
	if !blobstore.ValidContentHash(ann.ContentHash) {
		return fmt.Errorf("%w: malformed content_hash", ErrInvalidAnnouncement)
	}
	return nil
}

// normalizeName trims incidental whitespace so "Radiohead" and
// "Radiohead " key to the same artist/album row. Case and diacritics are
// left untouched — the catalog store's own collation is expected to
// handle those, same as it does for locally-uploaded tracks.
func normalizeName(s string) string {
	return strings.TrimSpace(s)
}

// retryOnce retries fn once on failure with a short backoff, matching
// spec.md §7's "persistence errors on writes are retried once with
// backoff" policy. A second failure propagates to the caller.
func retryOnce(fn func() error) error {
	if err := fn(); err == nil {
		return nil
	}
	time.Sleep(retryBackoff)
	return fn()
}
