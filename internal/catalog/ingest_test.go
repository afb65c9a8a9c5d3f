package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/soundtime-fm/p2p/internal/blobstore"
	"github.com/soundtime-fm/p2p/internal/wire"
)

func contentHash(t *testing.T, seed string) wire.ContentHash {
	t.Helper()
	h, err := blobstore.NewContentHash([]byte(seed))
	require.NoError(t, err)
	return h
}

func sampleAnnouncement(hash wire.ContentHash, origin wire.NodeId) wire.Announcement {
	return wire.Announcement{
		ContentHash: hash,
		Title:       "Paranoid Android",
		ArtistName:  "Radiohead",
		AlbumTitle:  "OK Computer",
		DurationSec: 383,
		Format:      "FLAC",
		FileSize:    1 << 20,
		OriginNode:  origin,
	}
}

func TestIngestCreatesTrackArtistAndReference(t *testing.T) {
	store := NewMemStore()
	g := NewIngester(store, nil, nil)
	hash := contentHash(t, "track-1")
	ann := sampleAnnouncement(hash, "node-origin")

	err := g.Ingest(context.Background(), "node-peer", ann)
	require.NoError(t, err)

	ref, ok, err := store.GetRemoteReference(context.Background(), "node-peer", hash)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Healthy, ref.HealthStatus)
	require.Equal(t, wire.NodeId("node-origin"), ref.OriginNode)
}

func TestIngestNeverOverwritesExistingTrackOrigin(t *testing.T) {
	store := NewMemStore()
	g := NewIngester(store, nil, nil)
	hash := contentHash(t, "track-2")

	first := sampleAnnouncement(hash, "node-first")
	require.NoError(t, g.Ingest(context.Background(), "node-peer-a", first))

	second := sampleAnnouncement(hash, "node-second")
	second.Title = "Different Title"
	require.NoError(t, g.Ingest(context.Background(), "node-peer-b", second))

	track, ok := store.tracksByHash[hash]
	require.True(t, ok)
	require.Equal(t, "Paranoid Android", track.Title)
	require.Equal(t, wire.NodeId("node-first"), track.OriginNode)
}

func TestIngestRejectsInvalidAnnouncement(t *testing.T) {
	store := NewMemStore()
	g := NewIngester(store, nil, nil)

	bad := sampleAnnouncement("", "node-origin")
	bad.Title = ""
	err := g.Ingest(context.Background(), "node-peer", bad)
	require.ErrorIs(t, err, ErrInvalidAnnouncement)
}

func TestIngestPromotesDereferencedReferenceToRecovered(t *testing.T) {
	store := NewMemStore()
	g := NewIngester(store, nil, nil)
	hash := contentHash(t, "track-3")
	ann := sampleAnnouncement(hash, "node-origin")

	require.NoError(t, g.Ingest(context.Background(), "node-peer", ann))
	require.NoError(t, store.DereferenceByPeer(context.Background(), "node-peer"))

	ref, ok, err := store.GetRemoteReference(context.Background(), "node-peer", hash)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Dereferenced, ref.HealthStatus)

	require.NoError(t, g.Ingest(context.Background(), "node-peer", ann))

	ref, ok, err = store.GetRemoteReference(context.Background(), "node-peer", hash)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Recovered, ref.HealthStatus)
}

func TestIngestSchedulesCoverFetchWhenPresent(t *testing.T) {
	store := NewMemStore()
	fetched := make(chan wire.ContentHash, 1)
	cover := func(_ context.Context, hash wire.ContentHash) { fetched <- hash }
	g := NewIngester(store, cover, nil)

	ann := sampleAnnouncement(contentHash(t, "track-4"), "node-origin")
	ann.CoverHash = "bafy-cover-1"
	require.NoError(t, g.Ingest(context.Background(), "node-peer", ann))

	select {
	case h := <-fetched:
		require.Equal(t, wire.ContentHash("bafy-cover-1"), h)
	case <-time.After(time.Second):
		t.Fatal("cover fetch was never scheduled")
	}
}
