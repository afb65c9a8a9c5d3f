package blobstore

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/soundtime-fm/p2p/pkg/p2pnet"
)

// FetchTrack responses never go through the message codec (they can be
// arbitrarily large), so the body is a tiny bespoke framing written
// directly to the stream's raw connection: an 8-byte big-endian size
// followed by exactly that many content bytes.

// WriteBlobBody writes size followed by the bytes read from r to conn.
func WriteBlobBody(conn p2pnet.ServiceConn, size int64, r io.Reader) error {
	var header [8]byte
	binary.BigEndian.PutUint64(header[:], uint64(size))
	if _, err := conn.Write(header[:]); err != nil {
		return fmt.Errorf("blobstore: write body header: %w", err)
	}
	if _, err := io.CopyN(conn, r, size); err != nil {
		return fmt.Errorf("blobstore: write body: %w", err)
	}
	return nil
}

// ReadBlobBody reads the size header and returns a reader limited to
// exactly that many bytes.
func ReadBlobBody(conn p2pnet.ServiceConn) (io.Reader, int64, error) {
	var header [8]byte
	if _, err := io.ReadFull(conn, header[:]); err != nil {
		return nil, 0, fmt.Errorf("blobstore: read body header: %w", err)
	}
	size := int64(binary.BigEndian.Uint64(header[:]))
	return io.LimitReader(conn, size), size, nil
}
