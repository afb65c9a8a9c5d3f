package blobstore

import (
	"bytes"
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// dataShards and parityShards pick a modest redundancy ratio: any 2 of
// the 10 shards can be lost to bit rot and the cached copy still
// reconstructs exactly, at 25% storage overhead.
const (
	dataShards   = 8
	parityShards = 2
)

// ErasureCoder computes and verifies parity shards for cached blobs, so
// a corrupted on-disk cache file can self-heal without a re-fetch from a
// remote peer. This supplements the cache contract in spec.md §4.3
// without changing its externally-visible behaviour — a cache miss still
// looks like a cache miss; repair happens transparently beneath it.
type ErasureCoder struct {
	enc reedsolomon.Encoder
}

// NewErasureCoder builds a coder for the fixed dataShards/parityShards
// split.
func NewErasureCoder() (*ErasureCoder, error) {
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, fmt.Errorf("blobstore: init erasure coder: %w", err)
	}
	return &ErasureCoder{enc: enc}, nil
}

// Protect splits data into dataShards equal pieces (padding the last one
// with zeros) and computes parityShards parity pieces, returning all
// shards and the original (unpadded) length needed to reconstruct
// exactly.
func (c *ErasureCoder) Protect(data []byte) (shards [][]byte, originalLen int, err error) {
	dataOnly, err := reedsolomon.Split(data, dataShards)
	if err != nil {
		return nil, 0, fmt.Errorf("blobstore: split shards: %w", err)
	}

	all := make([][]byte, dataShards+parityShards)
	copy(all, dataOnly)
	for i := dataShards; i < len(all); i++ {
		all[i] = make([]byte, len(dataOnly[0]))
	}

	if err := c.enc.Encode(all); err != nil {
		return nil, 0, fmt.Errorf("blobstore: encode parity: %w", err)
	}
	return all, len(data), nil
}

// Verify reports whether the stored data shards are internally
// consistent with their parity shards — i.e., whether bit rot has
// occurred since Protect.
func (c *ErasureCoder) Verify(shards [][]byte) (bool, error) {
	ok, err := c.enc.Verify(shards)
	if err != nil {
		return false, fmt.Errorf("blobstore: verify shards: %w", err)
	}
	return ok, nil
}

// Repair reconstructs any missing/corrupt shards (represented as nil
// entries in shards) from the remaining ones and returns the original
// bytes, truncated back to originalLen.
func (c *ErasureCoder) Repair(shards [][]byte, originalLen int) ([]byte, error) {
	if err := c.enc.Reconstruct(shards); err != nil {
		return nil, fmt.Errorf("blobstore: reconstruct shards: %w", err)
	}
	var buf bytes.Buffer
	if err := c.enc.Join(&buf, shards, originalLen); err != nil {
		return nil, fmt.Errorf("blobstore: join shards: %w", err)
	}
	return buf.Bytes(), nil
}
