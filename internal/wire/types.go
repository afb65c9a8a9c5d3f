// Package wire defines the SoundTime P2P message schema and the
// length-prefixed framed codec used to put those messages on the wire.
package wire

import "time"

// NodeId is the stable public identifier of a peer, derived from its
// long-lived key pair.
type NodeId string

// ContentHash is the cryptographic content hash of an audio or cover
// blob — the network-wide identity of that blob.
type ContentHash string

// ProtocolID is the single application-protocol identifier streams are
// opened against. A major wire change bumps this string.
const ProtocolID = "soundtime/p2p/1"

// MaxFrameSize bounds metadata message frames. Streamed blob bodies
// (FetchTrack responses) do not go through this codec.
const MaxFrameSize = 8 << 20 // 8 MiB

// Announcement is a structured record describing a single track some
// peer holds, keyed by ContentHash.
type Announcement struct {
	ContentHash ContentHash `json:"content_hash"`
	Title       string      `json:"title"`
	ArtistName  string      `json:"artist_name"`
	AlbumTitle  string      `json:"album_title,omitempty"`
	DurationSec float64     `json:"duration_secs"`
	Format      string      `json:"format"`
	FileSize    int64       `json:"file_size"`

	Genre       string `json:"genre,omitempty"`
	Year        int    `json:"year,omitempty"`
	TrackNumber int    `json:"track_number,omitempty"`
	DiscNumber  int    `json:"disc_number,omitempty"`
	BitrateKbps int    `json:"bitrate,omitempty"`
	SampleRate  int    `json:"sample_rate,omitempty"`

	OriginNode NodeId      `json:"origin_node"`
	CoverHash  ContentHash `json:"cover_hash,omitempty"`
}

// SearchMatch is one hit returned in a SearchResults message.
type SearchMatch struct {
	ContentHash ContentHash `json:"content_hash"`
	Title       string      `json:"title"`
	ArtistName  string      `json:"artist_name"`
	AlbumTitle  string      `json:"album_title,omitempty"`
	DurationSec float64     `json:"duration_secs"`
	BitrateKbps int         `json:"bitrate,omitempty"`
	Format      string      `json:"format,omitempty"`
}

// Kind tags the payload carried by a Frame.
type Kind byte

const (
	KindPing Kind = iota + 1
	KindPong
	KindAnnounceTrack
	KindCatalogSync
	KindCatalogDelta
	KindFetchTrack
	KindPeerExchange
	KindBloomFilterExchange
	KindSearchQuery
	KindSearchResults
)

func (k Kind) String() string {
	switch k {
	case KindPing:
		return "Ping"
	case KindPong:
		return "Pong"
	case KindAnnounceTrack:
		return "AnnounceTrack"
	case KindCatalogSync:
		return "CatalogSync"
	case KindCatalogDelta:
		return "CatalogDelta"
	case KindFetchTrack:
		return "FetchTrack"
	case KindPeerExchange:
		return "PeerExchange"
	case KindBloomFilterExchange:
		return "BloomFilterExchange"
	case KindSearchQuery:
		return "SearchQuery"
	case KindSearchResults:
		return "SearchResults"
	default:
		return "Unknown"
	}
}

// Message is satisfied by every concrete payload type. Kind identifies
// which payload the codec should decode the frame body into.
type Message interface {
	Kind() Kind
}

type Ping struct {
	NodeName string `json:"node_name,omitempty"`
	Version  string `json:"version,omitempty"`
}

func (Ping) Kind() Kind { return KindPing }

type Pong struct {
	NodeId     NodeId `json:"node_id"`
	TrackCount int64  `json:"track_count"`
	NodeName   string `json:"node_name,omitempty"`
	Version    string `json:"version,omitempty"`
}

func (Pong) Kind() Kind { return KindPong }

type AnnounceTrack struct {
	Announcement Announcement `json:"announcement"`
}

func (AnnounceTrack) Kind() Kind { return KindAnnounceTrack }

type CatalogSync struct {
	Announcements []Announcement `json:"announcements"`
}

func (CatalogSync) Kind() Kind { return KindCatalogSync }

type CatalogDelta struct {
	SinceCursor   string         `json:"since_cursor"`
	Announcements []Announcement `json:"announcements"`
}

func (CatalogDelta) Kind() Kind { return KindCatalogDelta }

// FetchTrack requests a blob by hash. The response is not a Message in
// this codec — it is a raw length-prefixed byte stream written directly
// to the same stream after this frame (see internal/blobstore).
type FetchTrack struct {
	ContentHash ContentHash `json:"content_hash"`
}

func (FetchTrack) Kind() Kind { return KindFetchTrack }

type PeerExchange struct {
	KnownPeerIDs []NodeId `json:"known_peer_ids"`
}

func (PeerExchange) Kind() Kind { return KindPeerExchange }

type BloomFilterExchange struct {
	Bits        []byte    `json:"bits"`
	HashCount   int       `json:"hash_count"`
	GeneratedAt time.Time `json:"generated_at"`
}

func (BloomFilterExchange) Kind() Kind { return KindBloomFilterExchange }

type SearchQuery struct {
	QueryID    string   `json:"query_id"`
	QueryTerms []string `json:"query_terms"`
}

func (SearchQuery) Kind() Kind { return KindSearchQuery }

type SearchResults struct {
	QueryID string        `json:"query_id"`
	Matches []SearchMatch `json:"matches"`
}

func (SearchResults) Kind() Kind { return KindSearchResults }
