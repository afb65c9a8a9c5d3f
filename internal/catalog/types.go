// Package catalog implements the Catalog Sync Engine: it propagates
// locally-uploaded track announcements to online peers (full sync on
// first handshake, incremental deltas thereafter), ingests inbound
// announcements into the host's relational catalog store, and maintains
// the remote-track references the Track Health Manager later drives.
// The relational store itself is an external collaborator, consumed
// only through the narrow CatalogStore contract in this file.
package catalog

import (
	"context"
	"time"

	"github.com/soundtime-fm/p2p/internal/wire"
)

// HealthStatus is a remote-track reference's current availability state,
// owned by internal/health's state machine and persisted through
// CatalogStore.UpdateRemoteHealth.
type HealthStatus string

const (
	Healthy      HealthStatus = "healthy"
	Degraded     HealthStatus = "degraded"
	Dereferenced HealthStatus = "dereferenced"
	Recovered    HealthStatus = "recovered"
)

// LocalTrack is a track this node has locally uploaded, as returned by
// ListLocalTracks for catalog/delta sync.
type LocalTrack struct {
	Announcement wire.Announcement
	PublishedAt  time.Time
}

// RemoteReference is the local record that a peer is known to hold the
// blob for a content hash, plus its health state. Format/BitrateKbps/
// SampleRate are denormalised from the materialised track row so
// best-copy scoring (internal/health) never has to join back to the
// catalog store per candidate.
type RemoteReference struct {
	ID                  string
	PeerNodeID          wire.NodeId
	ContentHash         wire.ContentHash
	LocalTrackID        string
	OriginNode          wire.NodeId
	HealthStatus        HealthStatus
	ConsecutiveFailures int
	LastCheckedAt       time.Time
	LastAvailableAt     time.Time
	IsAvailable         bool

	Format      string
	BitrateKbps int
	SampleRate  int
}

// TrackFields is the metadata upserted onto a track row, keyed by
// content hash.
type TrackFields struct {
	Title       string
	ArtistName  string
	AlbumTitle  string
	DurationSec float64
	Format      string
	FileSize    int64
	Genre       string
	Year        int
	TrackNumber int
	DiscNumber  int
	BitrateKbps int
	SampleRate  int
	OriginNode  wire.NodeId
	CoverHash   wire.ContentHash
}

// CatalogStore is the narrow interface the Catalog Sync Engine consumes
// against the host's relational database (spec.md §6). ScanRemoteRefs
// is an incremental, restartable cursor so a sweep over a very large
// catalog never materialises it in full.
type CatalogStore interface {
	UpsertArtist(ctx context.Context, name string) (artistID string, err error)
	UpsertAlbum(ctx context.Context, artistID, title string, year int, coverURL string) (albumID string, err error)
	UpsertTrackByHash(ctx context.Context, hash wire.ContentHash, fields TrackFields) (trackID string, wasInserted bool, err error)

	UpsertRemoteReference(ctx context.Context, peer wire.NodeId, hash wire.ContentHash, origin wire.NodeId) (refID string, err error)
	GetRemoteReference(ctx context.Context, peer wire.NodeId, hash wire.ContentHash) (RemoteReference, bool, error)
	UpdateRemoteHealth(ctx context.Context, refID string, status HealthStatus, consecutiveFailures int, isAvailable bool, lastCheckedAt time.Time) error
	DereferenceByPeer(ctx context.Context, peer wire.NodeId) error

	ListRemoteRefs(ctx context.Context, hash wire.ContentHash) ([]RemoteReference, error)
	ScanRemoteRefs(ctx context.Context, batchSize int, cursor string) (refs []RemoteReference, nextCursor string, err error)

	ListLocalTracks(ctx context.Context, sinceCursor *time.Time) ([]LocalTrack, error)
}
