package blobstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/soundtime-fm/p2p/internal/wire"
)

// DiskStore is a content-addressed Store backed by a flat directory
// tree under root, fanned out two levels deep on the last four
// characters of the hash (every CID shares its leading ones) so a catalog with
// hundreds of thousands of tracks never puts an unreasonable number of
// entries in one directory. This is the default Store a standalone node
// wires in when it has no other relational/object-storage backend of
// its own.
type DiskStore struct {
	root string
}

// NewDiskStore opens (creating if absent) a DiskStore rooted at dir.
func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("blobstore: create store dir: %w", err)
	}
	return &DiskStore{root: dir}, nil
}

func (d *DiskStore) pathFor(hash wire.ContentHash) string {
	s := string(hash)
	if len(s) < 4 {
		return filepath.Join(d.root, "short", s)
	}
	tail := s[len(s)-4:]
	return filepath.Join(d.root, tail[:2], tail[2:], s)
}

func (d *DiskStore) Has(hash wire.ContentHash) bool {
	_, err := os.Stat(d.pathFor(hash))
	return err == nil
}

func (d *DiskStore) Open(hash wire.ContentHash) (io.ReadCloser, int64, error) {
	f, err := os.Open(d.pathFor(hash))
	if err != nil {
		return nil, 0, fmt.Errorf("blobstore: open %s: %w", hashPrefix(hash), err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("blobstore: stat %s: %w", hashPrefix(hash), err)
	}
	return f, info.Size(), nil
}

// Put hashes data and writes it atomically (temp file + rename) under
// its content path. A pre-existing blob with the same hash is left
// untouched — Put never rewrites bytes it already has.
func (d *DiskStore) Put(data []byte) (wire.ContentHash, int64, error) {
	hash, err := NewContentHash(data)
	if err != nil {
		return "", 0, err
	}
	path := d.pathFor(hash)
	if _, err := os.Stat(path); err == nil {
		return hash, int64(len(data)), nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", 0, fmt.Errorf("blobstore: create blob dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", 0, fmt.Errorf("blobstore: create temp blob: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("blobstore: write temp blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("blobstore: close temp blob: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("blobstore: rename temp blob: %w", err)
	}
	return hash, int64(len(data)), nil
}

var _ Store = (*DiskStore)(nil)
