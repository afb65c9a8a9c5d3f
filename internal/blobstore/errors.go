package blobstore

import "errors"

var (
	// ErrNoSource is returned when no remote-track reference for a
	// content hash has a currently-online peer to fetch from.
	ErrNoSource = errors.New("blobstore: no source holds this content")

	// ErrAllSourcesFailed is returned when every candidate source was
	// tried and every attempt failed.
	ErrAllSourcesFailed = errors.New("blobstore: all sources failed")

	// ErrIntegrityError is returned when fetched bytes do not hash to the
	// requested content hash. The caller must dereference the
	// responsible remote-track reference and drop the connection.
	ErrIntegrityError = errors.New("blobstore: fetched bytes failed integrity verification")

	// ErrCacheFull is returned only when a blob cannot fit even after
	// every unpinned entry has been evicted: it exceeds the cache's total
	// size cap, pinned entries leave too little room, or the cap is 0.
	ErrCacheFull = errors.New("blobstore: blob exceeds cache capacity")

	// ErrNotFound is returned by OpenLocalStream when the hash is not
	// present in the local blob store.
	ErrNotFound = errors.New("blobstore: content not found")
)
