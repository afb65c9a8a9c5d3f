package catalog

import "errors"

var (
	// ErrInvalidAnnouncement is returned when an inbound announcement
	// fails schema validation (empty required field, negative duration,
	// malformed content hash).
	ErrInvalidAnnouncement = errors.New("catalog: invalid announcement")

	// ErrPersistence wraps a catalog-store write failure that survived a
	// single retry. Per spec.md §7 this is fatal for the operation that
	// triggered it (the announcement is dropped, the sweep tick ends)
	// but never brings the node down.
	ErrPersistence = errors.New("catalog: persistence failure")

	// ErrNotFound is returned by the in-memory reference store when a
	// lookup misses.
	ErrNotFound = errors.New("catalog: not found")
)
