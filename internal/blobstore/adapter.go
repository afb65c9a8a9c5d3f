package blobstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/reedsolomon"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/singleflight"

	"github.com/soundtime-fm/p2p/internal/telemetry"
	"github.com/soundtime-fm/p2p/internal/wire"
	"github.com/soundtime-fm/p2p/pkg/p2pnet"
)

// Adapter is the Blob Store Adapter & Cache component (C). It publishes
// locally-uploaded content into the local Store, fetches remote content
// on demand with integrity verification, and retains fetched copies in a
// size-bounded cache directory distinct from the local store.
type Adapter struct {
	local    Store
	ep       p2pnet.Endpoint
	cache    *Cache
	cacheDir string
	log      *slog.Logger
	metrics  *telemetry.Registry

	fetchGroup singleflight.Group
	erasure    *ErasureCoder
}

// NewAdapter builds an Adapter over local (the host's content-addressed
// blob store), ep (for fetch_remote), and a cache bounded at
// cache.maxSize with on-disk bodies written under cacheDir.
func NewAdapter(local Store, ep p2pnet.Endpoint, cache *Cache, cacheDir string, metrics *telemetry.Registry, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	a := &Adapter{local: local, ep: ep, cache: cache, cacheDir: cacheDir, log: log, metrics: metrics}
	if coder, err := NewErasureCoder(); err == nil {
		a.erasure = coder
	} else {
		a.log.Warn("cache bit-rot protection disabled", "error", err)
	}
	cache.OnEvict(func(hash wire.ContentHash) {
		if err := os.Remove(a.cachePath(hash)); err != nil && !os.IsNotExist(err) {
			a.log.Warn("cache evict: remove failed", "hash", hashPrefix(hash), "error", err)
		}
		if err := os.Remove(a.parityPath(hash)); err != nil && !os.IsNotExist(err) {
			a.log.Warn("cache evict: remove parity failed", "hash", hashPrefix(hash), "error", err)
		}
	})
	return a
}

// PublishLocal inserts bytes into the local store under their content
// hash. It is idempotent: calling it twice with identical bytes returns
// the same hash both times without doubling the store's size.
func (a *Adapter) PublishLocal(data []byte) (wire.ContentHash, error) {
	hash, _, err := a.local.Put(data)
	if err != nil {
		return "", fmt.Errorf("blobstore: publish local: %w", err)
	}
	return hash, nil
}

// HasLocal reports whether hash is present in the local store.
func (a *Adapter) HasLocal(hash wire.ContentHash) bool {
	return a.local.Has(hash)
}

// OpenLocalStream returns a reader over a locally-stored blob.
func (a *Adapter) OpenLocalStream(hash wire.ContentHash) (io.ReadCloser, int64, error) {
	if !a.local.Has(hash) {
		return nil, 0, ErrNotFound
	}
	return a.local.Open(hash)
}

// FetchRemote opens a FetchTrack stream against peer, reads the framed
// response body, and verifies the received bytes hash to the requested
// content hash before returning success. A mismatch is a fatal
// ErrIntegrityError; the caller is responsible for dereferencing the
// offending remote-track reference and dropping the connection.
func (a *Adapter) FetchRemote(ctx context.Context, peer wire.NodeId, hash wire.ContentHash) ([]byte, error) {
	v, err, _ := a.fetchGroup.Do(string(hash), func() (interface{}, error) {
		return a.doFetchRemote(ctx, peer, hash)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (a *Adapter) doFetchRemote(ctx context.Context, peer wire.NodeId, hash wire.ContentHash) ([]byte, error) {
	stream, err := a.ep.OpenStream(ctx, peer)
	if err != nil {
		return nil, fmt.Errorf("blobstore: open fetch stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Send(wire.FetchTrack{ContentHash: hash}); err != nil {
		return nil, fmt.Errorf("blobstore: send FetchTrack: %w", err)
	}

	body, size, err := ReadBlobBody(stream.Raw())
	if err != nil {
		return nil, fmt.Errorf("blobstore: read FetchTrack response: %w", err)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(body, buf); err != nil {
		return nil, fmt.Errorf("blobstore: read body: %w", err)
	}

	got, err := NewContentHash(buf)
	if err != nil {
		return nil, err
	}
	if got != hash {
		if a.metrics != nil {
			a.metrics.FrameCodecErrorsTotal.WithLabelValues("integrity").Inc()
		}
		return nil, fmt.Errorf("%w: requested %s got %s", ErrIntegrityError, hashPrefix(hash), hashPrefix(got))
	}
	return buf, nil
}

// ServeFetchTrack writes the requested blob from the local store as a
// FetchTrack response body onto conn; blobs held only in the on-demand
// cache are not served. It is the inbound-side
// counterpart to FetchRemote, invoked by the stream handler registered
// with the Endpoint.
func (a *Adapter) ServeFetchTrack(conn p2pnet.ServiceConn, hash wire.ContentHash) error {
	r, size, err := a.local.Open(hash)
	if err != nil {
		return fmt.Errorf("blobstore: serve fetch: %w", err)
	}
	defer r.Close()
	return WriteBlobBody(conn, size, r)
}

// CandidateSource is a peer the caller believes currently holds hash,
// already ranked best-first (by internal/health's select_best_copy).
type CandidateSource struct {
	Peer wire.NodeId
}

// Fetch satisfies an on-demand play request for hash: if the content is
// local, it streams directly; otherwise it tries candidates in order,
// caching the first successful fetch under cacheDir and updating
// last_played_at. probeFail, if non-nil, is invoked with the candidate
// that just failed so the caller (internal/health) can bump its
// consecutive_failures counter — Fetch itself never mutates
// remote-track reference state.
func (a *Adapter) Fetch(ctx context.Context, hash wire.ContentHash, candidates []CandidateSource, probeFail func(wire.NodeId, error)) (io.ReadCloser, int64, error) {
	if a.local.Has(hash) {
		if a.metrics != nil {
			a.metrics.CacheHitsTotal.Inc()
		}
		return a.local.Open(hash)
	}

	if a.cache.Contains(hash) {
		if err := a.repairIfCorrupted(hash); err != nil {
			a.log.Warn("cache entry unrecoverable, falling back to remote fetch", "hash", hashPrefix(hash), "error", err)
		} else {
			if a.metrics != nil {
				a.metrics.CacheHitsTotal.Inc()
			}
			f, err := os.Open(a.cachePath(hash))
			if err != nil {
				return nil, 0, fmt.Errorf("blobstore: open cached copy: %w", err)
			}
			info, err := f.Stat()
			if err != nil {
				f.Close()
				return nil, 0, err
			}
			a.cache.Pin(hash)
			a.cache.Touch(hash, time.Now())
			return &unpinningFile{File: f, cache: a.cache, hash: hash}, info.Size(), nil
		}
	}

	if len(candidates) == 0 {
		return nil, 0, ErrNoSource
	}
	if a.metrics != nil {
		a.metrics.CacheMissesTotal.Inc()
	}

	var lastErr error
	for _, c := range candidates {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		data, err := a.FetchRemote(ctx, c.Peer, hash)
		if err != nil {
			lastErr = err
			if probeFail != nil {
				probeFail(c.Peer, err)
			}
			continue
		}

		now := time.Now()
		if admitErr := a.cache.Admit(hash, int64(len(data)), now); admitErr != nil {
			if admitErr == ErrCacheFull {
				return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
			}
			return nil, 0, admitErr
		}
		if err := a.writeCacheFile(hash, data); err != nil {
			return nil, 0, err
		}
		return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
	}

	if lastErr != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrAllSourcesFailed, lastErr)
	}
	return nil, 0, ErrAllSourcesFailed
}

func (a *Adapter) writeCacheFile(hash wire.ContentHash, data []byte) error {
	if err := os.MkdirAll(a.cacheDir, 0o755); err != nil {
		return fmt.Errorf("blobstore: create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(a.cacheDir, "fetch-*.tmp")
	if err != nil {
		return fmt.Errorf("blobstore: create cache temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("blobstore: write cache temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, a.cachePath(hash)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("blobstore: rename cache file: %w", err)
	}
	if a.erasure != nil {
		if err := a.writeParitySidecar(hash, data); err != nil {
			a.log.Warn("cache: parity sidecar write failed", "hash", hashPrefix(hash), "error", err)
		}
	}
	return nil
}

// writeParitySidecar computes reedsolomon parity shards for data and
// persists them, plus a BLAKE3 hash of every shard (data and parity),
// alongside the cached copy. repairIfCorrupted uses the per-shard hashes
// to tell which of the cache file's shards are still trustworthy — RS(8,2)
// can only reconstruct up to parityShards missing/bad shards, so without
// per-shard hashes a whole-file mismatch would give no way to tell which
// shards are still usable.
func (a *Adapter) writeParitySidecar(hash wire.ContentHash, data []byte) error {
	shards, originalLen, err := a.erasure.Protect(data)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	var hdr [12]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(originalLen))
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(shards)))
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(shards[0])))
	buf.Write(hdr[:])
	for _, s := range shards {
		buf.Write(shardHash(s))
	}
	for _, s := range shards[dataShards:] {
		buf.Write(s)
	}
	return os.WriteFile(a.parityPath(hash), buf.Bytes(), 0o644)
}

// repairIfCorrupted re-hashes the cached copy of hash and, if it no
// longer matches, attempts to reconstruct it from its parity sidecar.
// Returns nil if the file on disk is already good or was successfully
// repaired in place; a non-nil error means the caller must treat this as
// a cache miss (the entry is unrecoverable without a remote fetch).
func (a *Adapter) repairIfCorrupted(hash wire.ContentHash) error {
	data, err := os.ReadFile(a.cachePath(hash))
	if err != nil {
		return fmt.Errorf("read cached copy: %w", err)
	}
	got, err := NewContentHash(data)
	if err == nil && got == hash {
		return nil
	}

	if a.erasure == nil {
		return fmt.Errorf("%w: no parity available to repair", ErrIntegrityError)
	}
	raw, rerr := os.ReadFile(a.parityPath(hash))
	if rerr != nil {
		return fmt.Errorf("%w: parity sidecar unavailable: %v", ErrIntegrityError, rerr)
	}
	repaired, rerr := a.reconstructFromParity(data, raw)
	if rerr != nil {
		return fmt.Errorf("%w: %v", ErrIntegrityError, rerr)
	}
	if got, err := NewContentHash(repaired); err != nil || got != hash {
		return fmt.Errorf("%w: reconstructed bytes still mismatch", ErrIntegrityError)
	}
	return a.writeCacheFile(hash, repaired)
}

const shardHashSize = 32

// shardHash computes a fixed-size digest of one erasure-coded shard, used
// to identify which shards of a corrupted cache file are still good.
func shardHash(s []byte) []byte {
	h := blake3.New()
	h.Write(s)
	return h.Sum(nil)[:shardHashSize]
}

func (a *Adapter) reconstructFromParity(corruptData, parity []byte) ([]byte, error) {
	if len(parity) < 12 {
		return nil, fmt.Errorf("parity sidecar truncated")
	}
	originalLen := int(binary.BigEndian.Uint32(parity[0:4]))
	numShards := int(binary.BigEndian.Uint32(parity[4:8]))
	shardLen := int(binary.BigEndian.Uint32(parity[8:12]))
	if numShards != dataShards+parityShards {
		return nil, fmt.Errorf("parity sidecar malformed")
	}
	hashesEnd := 12 + numShards*shardHashSize
	if len(parity) < hashesEnd+parityShards*shardLen {
		return nil, fmt.Errorf("parity sidecar truncated")
	}
	shardHashes := parity[12:hashesEnd]
	parityBody := parity[hashesEnd:]

	padded := make([]byte, dataShards*shardLen)
	copy(padded, corruptData)
	dataShardsSlices, err := reedsolomon.Split(padded, dataShards)
	if err != nil {
		return nil, fmt.Errorf("split corrupt copy: %w", err)
	}

	shards := make([][]byte, numShards)
	good := 0
	for i, s := range dataShardsSlices {
		want := shardHashes[i*shardHashSize : (i+1)*shardHashSize]
		if bytes.Equal(shardHash(s), want) {
			shards[i] = s
			good++
		}
	}
	for i := 0; i < parityShards; i++ {
		shards[dataShards+i] = parityBody[i*shardLen : (i+1)*shardLen]
		good++
	}
	if good < dataShards {
		return nil, fmt.Errorf("too many corrupted shards to reconstruct (%d/%d usable)", good, dataShards+parityShards)
	}
	return a.erasure.Repair(shards, originalLen)
}

func (a *Adapter) parityPath(hash wire.ContentHash) string {
	return a.cachePath(hash) + ".parity"
}

func (a *Adapter) cachePath(hash wire.ContentHash) string {
	return filepath.Join(a.cacheDir, string(hash))
}

// unpinningFile wraps an open cache file so Close() releases the pin
// Fetch acquired, letting eviction proceed once the last reader is done.
type unpinningFile struct {
	*os.File
	cache *Cache
	hash  wire.ContentHash
}

func (f *unpinningFile) Close() error {
	f.cache.Unpin(f.hash)
	return f.File.Close()
}

func hashPrefix(h wire.ContentHash) string {
	s := string(h)
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
