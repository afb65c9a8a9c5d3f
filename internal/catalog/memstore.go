package catalog

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soundtime-fm/p2p/internal/search"
	"github.com/soundtime-fm/p2p/internal/wire"
)

type artistRow struct {
	id   string
	name string
}

type albumRow struct {
	id       string
	artistID string
	title    string
	year     int
	coverURL string
}

type trackRow struct {
	id   string
	hash wire.ContentHash
	TrackFields
}

// MemStore is an in-memory CatalogStore, the reference implementation
// used by this module's own tests and by any host that hasn't wired a
// real relational database yet. Each ScanRemoteRefs call copies every
// reference and sorts the copy by LastCheckedAt, and its cursor is an
// offset into that order, so the work and memory per call grow with the
// whole set of references, not with one batch.
type MemStore struct {
	mu sync.Mutex

	artistsByName map[string]*artistRow
	albums        map[string]*albumRow // keyed by artistID+"\x00"+title
	tracksByHash  map[wire.ContentHash]*trackRow

	refs      map[string]*RemoteReference // keyed by ID
	refByPeer map[string]string           // peer+"\x00"+hash -> ref ID
	refOrder  []string                    // ref IDs in insertion order, for ScanRemoteRefs

	localTracks []LocalTrack
}

// NewMemStore creates an empty in-memory catalog store.
func NewMemStore() *MemStore {
	return &MemStore{
		artistsByName: make(map[string]*artistRow),
		albums:        make(map[string]*albumRow),
		tracksByHash:  make(map[wire.ContentHash]*trackRow),
		refs:          make(map[string]*RemoteReference),
		refByPeer:     make(map[string]string),
	}
}

func (s *MemStore) UpsertArtist(_ context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.artistsByName[name]; ok {
		return a.id, nil
	}
	a := &artistRow{id: uuid.NewString(), name: name}
	s.artistsByName[name] = a
	return a.id, nil
}

func (s *MemStore) UpsertAlbum(_ context.Context, artistID, title string, year int, coverURL string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := artistID + "\x00" + title
	if a, ok := s.albums[key]; ok {
		return a.id, nil
	}
	a := &albumRow{id: uuid.NewString(), artistID: artistID, title: title, year: year, coverURL: coverURL}
	s.albums[key] = a
	return a.id, nil
}

// UpsertTrackByHash materialises a track row keyed by hash. Per
// spec.md's testable property 5, a pre-existing track's OriginNode (and
// the rest of its fields) is never overwritten by a later call with the
// same hash — the first writer wins.
func (s *MemStore) UpsertTrackByHash(_ context.Context, hash wire.ContentHash, fields TrackFields) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tracksByHash[hash]; ok {
		return t.id, false, nil
	}
	t := &trackRow{id: uuid.NewString(), hash: hash, TrackFields: fields}
	s.tracksByHash[hash] = t
	return t.id, true, nil
}

func (s *MemStore) UpsertRemoteReference(_ context.Context, peer wire.NodeId, hash wire.ContentHash, origin wire.NodeId) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := string(peer) + "\x00" + string(hash)
	if id, ok := s.refByPeer[key]; ok {
		ref := s.refs[id]
		ref.OriginNode = origin
		return id, nil
	}

	track := s.tracksByHash[hash]
	localTrackID := ""
	var format string
	var bitrate, sampleRate int
	if track != nil {
		localTrackID = track.id
		format = track.Format
		bitrate = track.BitrateKbps
		sampleRate = track.SampleRate
	}

	id := uuid.NewString()
	ref := &RemoteReference{
		ID:            id,
		PeerNodeID:    peer,
		ContentHash:   hash,
		LocalTrackID:  localTrackID,
		OriginNode:    origin,
		HealthStatus:  Healthy,
		LastCheckedAt: time.Now(),
		IsAvailable:   true,
		Format:        format,
		BitrateKbps:   bitrate,
		SampleRate:    sampleRate,
	}
	s.refs[id] = ref
	s.refByPeer[key] = id
	s.refOrder = append(s.refOrder, id)
	return id, nil
}

func (s *MemStore) GetRemoteReference(_ context.Context, peer wire.NodeId, hash wire.ContentHash) (RemoteReference, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := string(peer) + "\x00" + string(hash)
	id, ok := s.refByPeer[key]
	if !ok {
		return RemoteReference{}, false, nil
	}
	return *s.refs[id], true, nil
}

func (s *MemStore) UpdateRemoteHealth(_ context.Context, refID string, status HealthStatus, consecutiveFailures int, isAvailable bool, lastCheckedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.refs[refID]
	if !ok {
		return fmt.Errorf("%w: ref %s", ErrNotFound, refID)
	}
	ref.HealthStatus = status
	ref.ConsecutiveFailures = consecutiveFailures
	ref.IsAvailable = isAvailable
	ref.LastCheckedAt = lastCheckedAt
	if isAvailable {
		ref.LastAvailableAt = lastCheckedAt
	}
	return nil
}

// DereferenceByPeer marks every reference held by peer as Dereferenced,
// retained rather than deleted, per the "peer removed by operator"
// transition in spec.md §4.5.
func (s *MemStore) DereferenceByPeer(_ context.Context, peer wire.NodeId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ref := range s.refs {
		if ref.PeerNodeID == peer {
			ref.HealthStatus = Dereferenced
			ref.IsAvailable = false
		}
	}
	return nil
}

func (s *MemStore) ListRemoteRefs(_ context.Context, hash wire.ContentHash) ([]RemoteReference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []RemoteReference
	for _, id := range s.refOrder {
		ref := s.refs[id]
		if ref.ContentHash == hash {
			out = append(out, *ref)
		}
	}
	return out, nil
}

// ScanRemoteRefs returns up to batchSize references ordered by oldest
// LastCheckedAt, starting after cursor. The returned nextCursor is the
// offset into the LastCheckedAt-sorted list to resume from — opaque to every caller but this
// store, exactly as spec.md §6 requires.
func (s *MemStore) ScanRemoteRefs(_ context.Context, batchSize int, cursor string) ([]RemoteReference, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]RemoteReference, 0, len(s.refOrder))
	for _, id := range s.refOrder {
		all = append(all, *s.refs[id])
	}
	sort.Slice(all, func(i, j int) bool { return all[i].LastCheckedAt.Before(all[j].LastCheckedAt) })

	start := 0
	if cursor != "" {
		if n, err := strconv.Atoi(cursor); err == nil {
			start = n
		}
	}
	if start >= len(all) {
		return nil, "", nil
	}
	end := start + batchSize
	if end > len(all) {
		end = len(all)
	}
	next := ""
	if end < len(all) {
		next = strconv.Itoa(end)
	}
	return all[start:end], next, nil
}

// AddLocalTrack registers a track as locally uploaded, for
// ListLocalTracks to surface during full/delta sync. This is not part
// of the CatalogStore contract proper — it is how a host's ingestion
// pipeline (out of scope per spec.md §1) informs the sync engine that a
// new local track exists.
func (s *MemStore) AddLocalTrack(ann wire.Announcement, publishedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localTracks = append(s.localTracks, LocalTrack{Announcement: ann, PublishedAt: publishedAt})
}

func (s *MemStore) ListLocalTracks(_ context.Context, sinceCursor *time.Time) ([]LocalTrack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []LocalTrack
	for _, t := range s.localTracks {
		if sinceCursor != nil && !t.PublishedAt.After(*sinceCursor) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// Search implements search.LocalSearcher directly over the materialised
// track rows, so a host wiring the Distributed Search Router against a
// MemStore needs no separate adapter. A track matches when every term in
// terms is present in its tokenized title, artist, album, or genre.
func (s *MemStore) Search(_ context.Context, terms []string) ([]wire.SearchMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []wire.SearchMatch
	for _, t := range s.tracksByHash {
		if !matchesAllTerms(t.TrackFields, terms) {
			continue
		}
		out = append(out, wire.SearchMatch{
			ContentHash: t.hash,
			Title:       t.Title,
			ArtistName:  t.ArtistName,
			AlbumTitle:  t.AlbumTitle,
			DurationSec: t.DurationSec,
			BitrateKbps: t.BitrateKbps,
			Format:      t.Format,
		})
	}
	return out, nil
}

func matchesAllTerms(fields TrackFields, terms []string) bool {
	if len(terms) == 0 {
		return true
	}
	tokens := make(map[string]bool)
	for _, f := range []string{fields.Title, fields.ArtistName, fields.AlbumTitle, fields.Genre} {
		for _, tok := range search.Tokenize(f) {
			tokens[tok] = true
		}
	}
	for _, term := range terms {
		if !tokens[term] {
			return false
		}
	}
	return true
}

// Corpus returns the title/artist/album triple for every materialised
// track, for search.Router.RebuildFilter / RebuildIfNeeded to tokenize
// into the local Bloom filter.
func (s *MemStore) Corpus() [][3]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][3]string, 0, len(s.tracksByHash))
	for _, t := range s.tracksByHash {
		out = append(out, [3]string{t.Title, t.ArtistName, t.AlbumTitle})
	}
	return out
}

var _ CatalogStore = (*MemStore)(nil)
var _ search.LocalSearcher = (*MemStore)(nil)
