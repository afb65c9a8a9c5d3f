package blobstore

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/soundtime-fm/p2p/internal/wire"
	"github.com/soundtime-fm/p2p/pkg/p2pnet"
)

type memStore struct {
	mu   sync.Mutex
	data map[wire.ContentHash][]byte
}

func newMemStore() *memStore { return &memStore{data: make(map[wire.ContentHash][]byte)} }

func (s *memStore) Has(hash wire.ContentHash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[hash]
	return ok
}

func (s *memStore) Open(hash wire.ContentHash) (io.ReadCloser, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.data[hash]
	if !ok {
		return nil, 0, ErrNotFound
	}
	return io.NopCloser(&nopReader{b}), int64(len(b)), nil
}

func (s *memStore) Put(data []byte) (wire.ContentHash, int64, error) {
	hash, err := NewContentHash(data)
	if err != nil {
		return "", 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[hash]; !ok {
		cp := make([]byte, len(data))
		copy(cp, data)
		s.data[hash] = cp
	}
	return hash, int64(len(data)), nil
}

type nopReader struct{ b []byte }

func (r *nopReader) Read(p []byte) (int, error) {
	if len(r.b) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.b)
	r.b = r.b[n:]
	return n, nil
}

func TestPublishLocalIsIdempotent(t *testing.T) {
	store := newMemStore()
	ep := p2pnet.NewMemNetwork().NewEndpoint("node-a")
	a := NewAdapter(store, ep, NewCache(1<<20, nil), t.TempDir(), nil, nil)

	data := []byte("track bytes")
	h1, err := a.PublishLocal(data)
	require.NoError(t, err)
	h2, err := a.PublishLocal(data)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
	require.Len(t, store.data, 1)
}

func TestFetchRemoteVerifiesIntegrity(t *testing.T) {
	net := p2pnet.NewMemNetwork()
	serverStore := newMemStore()
	serverEp := net.NewEndpoint("server")
	serverAdapter := NewAdapter(serverStore, serverEp, NewCache(1<<20, nil), t.TempDir(), nil, nil)

	data := []byte("the real bytes")
	hash, err := serverAdapter.PublishLocal(data)
	require.NoError(t, err)

	serverEp.OnIncoming(func(s p2pnet.Stream) {
		defer s.Close()
		msg, err := s.Receive()
		require.NoError(t, err)
		ft, ok := msg.(*wire.FetchTrack)
		require.True(t, ok)
		require.NoError(t, serverAdapter.ServeFetchTrack(s.Raw(), ft.ContentHash))
	})

	clientEp := net.NewEndpoint("client")
	clientStore := newMemStore()
	clientAdapter := NewAdapter(clientStore, clientEp, NewCache(1<<20, nil), t.TempDir(), nil, nil)

	got, err := clientAdapter.FetchRemote(context.Background(), "server", hash)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestFetchRemoteRejectsHashMismatch(t *testing.T) {
	net := p2pnet.NewMemNetwork()
	serverEp := net.NewEndpoint("server")
	serverEp.OnIncoming(func(s p2pnet.Stream) {
		defer s.Close()
		_, err := s.Receive()
		require.NoError(t, err)
		// Serve the wrong bytes for whatever hash was requested.
		require.NoError(t, WriteBlobBody(s.Raw(), 5, strings.NewReader("wrong")))
	})

	clientEp := net.NewEndpoint("client")
	a := NewAdapter(newMemStore(), clientEp, NewCache(1<<20, nil), t.TempDir(), nil, nil)

	realHash, err := NewContentHash([]byte("the real bytes"))
	require.NoError(t, err)

	_, err = a.FetchRemote(context.Background(), "server", realHash)
	require.ErrorIs(t, err, ErrIntegrityError)
}

func TestFetchUsesCacheOnSecondCall(t *testing.T) {
	net := p2pnet.NewMemNetwork()
	serverStore := newMemStore()
	serverEp := net.NewEndpoint("server")
	serverAdapter := NewAdapter(serverStore, serverEp, NewCache(1<<20, nil), t.TempDir(), nil, nil)
	data := []byte("cached content")
	hash, err := serverAdapter.PublishLocal(data)
	require.NoError(t, err)

	fetches := 0
	serverEp.OnIncoming(func(s p2pnet.Stream) {
		defer s.Close()
		fetches++
		msg, _ := s.Receive()
		ft := msg.(*wire.FetchTrack)
		require.NoError(t, serverAdapter.ServeFetchTrack(s.Raw(), ft.ContentHash))
	})

	clientEp := net.NewEndpoint("client")
	clientAdapter := NewAdapter(newMemStore(), clientEp, NewCache(1<<20, nil), t.TempDir(), nil, nil)

	candidates := []CandidateSource{{Peer: "server"}}
	r1, _, err := clientAdapter.Fetch(context.Background(), hash, candidates, nil)
	require.NoError(t, err)
	b1, _ := io.ReadAll(r1)
	r1.Close()
	require.Equal(t, data, b1)

	r2, _, err := clientAdapter.Fetch(context.Background(), hash, candidates, nil)
	require.NoError(t, err)
	b2, _ := io.ReadAll(r2)
	r2.Close()
	require.Equal(t, data, b2)

	require.Equal(t, 1, fetches, "second fetch should be served from cache without another remote round trip")
}

func TestFetchNoSourceWhenNoCandidates(t *testing.T) {
	ep := p2pnet.NewMemNetwork().NewEndpoint("lonely")
	a := NewAdapter(newMemStore(), ep, NewCache(1<<20, nil), t.TempDir(), nil, nil)
	_, _, err := a.Fetch(context.Background(), "bafyabsent", nil, nil)
	require.ErrorIs(t, err, ErrNoSource)
}

func TestCacheSelfHealsFromSingleCorruptShard(t *testing.T) {
	net := p2pnet.NewMemNetwork()
	serverStore := newMemStore()
	serverEp := net.NewEndpoint("server")
	serverAdapter := NewAdapter(serverStore, serverEp, NewCache(1<<20, nil), t.TempDir(), nil, nil)

	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i)
	}
	hash, err := serverAdapter.PublishLocal(data)
	require.NoError(t, err)

	serverEp.OnIncoming(func(s p2pnet.Stream) {
		defer s.Close()
		msg, _ := s.Receive()
		ft := msg.(*wire.FetchTrack)
		require.NoError(t, serverAdapter.ServeFetchTrack(s.Raw(), ft.ContentHash))
	})

	clientEp := net.NewEndpoint("client")
	cacheDir := t.TempDir()
	clientAdapter := NewAdapter(newMemStore(), clientEp, NewCache(1<<20, nil), cacheDir, nil, nil)

	candidates := []CandidateSource{{Peer: "server"}}
	r1, _, err := clientAdapter.Fetch(context.Background(), hash, candidates, nil)
	require.NoError(t, err)
	r1.Close()
	require.FileExists(t, clientAdapter.cachePath(hash))
	require.FileExists(t, clientAdapter.parityPath(hash))

	// Flip a byte in the middle of the cached copy to simulate bit rot,
	// corrupting exactly one of the eight data shards.
	cached, err := os.ReadFile(clientAdapter.cachePath(hash))
	require.NoError(t, err)
	cached[len(cached)/2] ^= 0xFF
	require.NoError(t, os.WriteFile(clientAdapter.cachePath(hash), cached, 0o644))

	r2, _, err := clientAdapter.Fetch(context.Background(), hash, candidates, nil)
	require.NoError(t, err)
	b2, err := io.ReadAll(r2)
	require.NoError(t, err)
	r2.Close()
	require.Equal(t, data, b2, "cache should self-heal the corrupted copy from its parity shards")

	repaired, err := os.ReadFile(clientAdapter.cachePath(hash))
	require.NoError(t, err)
	require.Equal(t, data, repaired, "repaired bytes should be persisted back to the cache file")
}

