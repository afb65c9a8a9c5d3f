package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// compressThreshold is the body size above which CatalogSync/CatalogDelta
// payloads are zstd-compressed before framing. Small frames (pings,
// single announcements) are never worth the round trip.
const compressThreshold = 4 << 10 // 4 KiB

const (
	flagNone       byte = 0
	flagCompressed byte = 1 << 0
)

var (
	encoderPool *zstd.Encoder
	decoderPool *zstd.Decoder
)

func init() {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		panic(fmt.Sprintf("wire: zstd encoder init: %v", err))
	}
	encoderPool = enc

	dec, err := zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("wire: zstd decoder init: %v", err))
	}
	decoderPool = dec
}

func payloadForKind(k Kind) (Message, bool) {
	switch k {
	case KindPing:
		return &Ping{}, true
	case KindPong:
		return &Pong{}, true
	case KindAnnounceTrack:
		return &AnnounceTrack{}, true
	case KindCatalogSync:
		return &CatalogSync{}, true
	case KindCatalogDelta:
		return &CatalogDelta{}, true
	case KindFetchTrack:
		return &FetchTrack{}, true
	case KindPeerExchange:
		return &PeerExchange{}, true
	case KindBloomFilterExchange:
		return &BloomFilterExchange{}, true
	case KindSearchQuery:
		return &SearchQuery{}, true
	case KindSearchResults:
		return &SearchResults{}, true
	default:
		return nil, false
	}
}

func compressible(k Kind) bool {
	return k == KindCatalogSync || k == KindCatalogDelta
}

// Encode serialises msg into one complete frame: a 4-byte big-endian
// length prefix over [kind byte][flags byte][body], ready to write to a
// stream.
func Encode(msg Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal %s: %w", msg.Kind(), err)
	}

	flags := flagNone
	if compressible(msg.Kind()) && len(body) > compressThreshold {
		body = encoderPool.EncodeAll(body, nil)
		flags = flagCompressed
	}

	if len(body)+2 > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}

	buf := bytes.NewBuffer(make([]byte, 0, 4+2+len(body)))
	if err := binary.Write(buf, binary.BigEndian, uint32(len(body)+2)); err != nil {
		return nil, err
	}
	buf.WriteByte(byte(msg.Kind()))
	buf.WriteByte(flags)
	buf.Write(body)
	return buf.Bytes(), nil
}

// WriteMessage encodes msg and writes the resulting frame to w.
func WriteMessage(w io.Writer, msg Message) error {
	frame, err := Encode(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// Decode reads exactly one frame from r and returns its decoded message.
func Decode(r io.Reader) (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: declared %d bytes", ErrFrameTooLarge, n)
	}
	if n < 2 {
		return nil, fmt.Errorf("%w: frame too short to hold kind/flags", ErrMalformedFrame)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	kind := Kind(payload[0])
	flags := payload[1]
	body := payload[2:]

	if flags&flagCompressed != 0 {
		decoded, err := decoderPool.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd decode: %v", ErrMalformedFrame, err)
		}
		body = decoded
	}

	target, ok := payloadForKind(kind)
	if !ok {
		return nil, fmt.Errorf("%w: tag %d", ErrUnknownKind, kind)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return target, nil
}

// ReadMessage is an alias for Decode kept for call-site symmetry with
// WriteMessage.
func ReadMessage(r io.Reader) (Message, error) {
	return Decode(r)
}
