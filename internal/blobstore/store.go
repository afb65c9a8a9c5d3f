// Package blobstore implements the Blob Store Adapter & Cache component:
// it publishes locally-uploaded content, fetches remote content by hash
// with integrity verification, and enforces a size-bounded LRU cache of
// on-demand-fetched blobs. The underlying content-addressed store and
// the network transport are both narrow, pluggable capability
// interfaces so this package never reaches into a specific storage
// engine or dials a connection itself.
package blobstore

import (
	"io"
	"time"

	"github.com/soundtime-fm/p2p/internal/wire"
)

// Store is the external, content-addressed blob store this adapter
// wraps. Its on-disk layout is that implementation's concern — the core
// never reaches inside P2P_BLOBS_DIR itself (spec.md §6).
type Store interface {
	// Has reports whether hash is already present.
	Has(hash wire.ContentHash) bool
	// Open returns a reader over the stored bytes for hash.
	Open(hash wire.ContentHash) (io.ReadCloser, int64, error)
	// Put inserts data under its content hash and returns that hash
	// together with the byte count written. Put is idempotent: inserting
	// already-present bytes is a no-op that still returns the correct
	// hash and size.
	Put(data []byte) (wire.ContentHash, int64, error)
}

// CachedBlob is a locally-retained copy of remotely-fetched content,
// tracked for LRU eviction.
type CachedBlob struct {
	ContentHash  wire.ContentHash
	SizeBytes    int64
	FetchedAt    time.Time
	LastPlayedAt time.Time
}
