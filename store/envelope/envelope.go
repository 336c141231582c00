// Package envelope encodes cache entries for the durable store.
//
// Format: MAGIC (4 bytes, "DCE1") | protobuf wire fields
//
//	1 version       varint
//	2 created_at    varint, unix nanoseconds
//	3 expires_at    varint, unix nanoseconds (absent = never)
//	4 encoding      varint (0 identity, 1 zstd)
//	5 digest        bytes, BLAKE3-256 of the uncompressed payload
//	6 size          varint, uncompressed payload length
//	7 payload       bytes
//
// The magic bytes, version and digest make corruption and version skew
// detectable at decode time instead of yielding a wrong value.
package envelope

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	doccache "github.com/wolfeidau/doc-cache"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	// CompressionThreshold is the minimum payload size before compression is considered.
	CompressionThreshold = 2048

	// MaxPayloadSize is the maximum allowed uncompressed payload size.
	MaxPayloadSize = 10 * 1024 * 1024 // 10MB

	// CurrentVersion is the current envelope schema version.
	CurrentVersion = 1
)

// Encoding identifies how the payload bytes are stored.
type Encoding uint64

const (
	EncodingIdentity Encoding = 0
	EncodingZstd     Encoding = 1
)

const (
	fieldVersion   protowire.Number = 1
	fieldCreatedAt protowire.Number = 2
	fieldExpiresAt protowire.Number = 3
	fieldEncoding  protowire.Number = 4
	fieldDigest    protowire.Number = 5
	fieldSize      protowire.Number = 6
	fieldPayload   protowire.Number = 7
)

// MagicBytes prefixes every encoded envelope.
var MagicBytes = []byte("DCE1")

var (
	// ErrInvalidMagic is returned when data doesn't start with MagicBytes.
	ErrInvalidMagic = errors.New("envelope: invalid magic bytes")

	// ErrVersionMismatch is returned for envelopes written by an unknown schema version.
	ErrVersionMismatch = errors.New("envelope: unsupported version")

	// ErrTruncated is returned when the field stream ends mid-field or is missing required fields.
	ErrTruncated = errors.New("envelope: truncated or malformed")

	// ErrCorrupted is returned when payload digest or size verification fails.
	ErrCorrupted = errors.New("envelope: payload digest mismatch")

	// ErrPayloadTooLarge is returned when payload exceeds MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("envelope: payload exceeds maximum size")

	// ErrDecompressionBomb is returned when decompressed size exceeds MaxPayloadSize.
	ErrDecompressionBomb = errors.New("envelope: decompressed payload exceeds maximum size")
)

// Entry is the decoded form of a persisted cache entry.
type Entry struct {
	Payload   []byte
	CreatedAt time.Time
	ExpiresAt time.Time // zero means the entry never expires
}

// Expired reports whether the entry has an expiry at or before now.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Codec handles envelope encoding/decoding with optional compression.
// It is safe for concurrent use.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	mu      sync.RWMutex
}

// NewCodec creates a codec with its own zstd encoder and decoder.
func NewCodec() (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}

	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxPayloadSize))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	return &Codec{encoder: enc, decoder: dec}, nil
}

var defaultCodec = sync.OnceValues(NewCodec)

// Default returns the process-wide shared codec.
func Default() (*Codec, error) {
	return defaultCodec()
}

// Close releases encoder/decoder resources. Encode falls back to identity
// encoding and Decode rejects zstd payloads after Close.
func (c *Codec) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.encoder != nil {
		c.encoder.Close()
		c.encoder = nil
	}
	if c.decoder != nil {
		c.decoder.Close()
		c.decoder = nil
	}
}

// Encode serialises e, compressing the payload when it is large enough for
// compression to pay off.
func (c *Codec) Encode(e Entry) ([]byte, error) {
	if len(e.Payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	digest := doccache.DigestBytes(e.Payload)
	payload, encoding := c.compress(e.Payload)

	buf := make([]byte, 0, len(MagicBytes)+len(payload)+64)
	buf = append(buf, MagicBytes...)
	buf = protowire.AppendTag(buf, fieldVersion, protowire.VarintType)
	buf = protowire.AppendVarint(buf, CurrentVersion)
	buf = protowire.AppendTag(buf, fieldCreatedAt, protowire.VarintType)
	buf = protowire.AppendVarint(buf, protowire.EncodeZigZag(e.CreatedAt.UnixNano()))
	if !e.ExpiresAt.IsZero() {
		buf = protowire.AppendTag(buf, fieldExpiresAt, protowire.VarintType)
		buf = protowire.AppendVarint(buf, protowire.EncodeZigZag(e.ExpiresAt.UnixNano()))
	}
	buf = protowire.AppendTag(buf, fieldEncoding, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(encoding))
	buf = protowire.AppendTag(buf, fieldDigest, protowire.BytesType)
	buf = protowire.AppendBytes(buf, digest[:])
	buf = protowire.AppendTag(buf, fieldSize, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(len(e.Payload)))
	buf = protowire.AppendTag(buf, fieldPayload, protowire.BytesType)
	buf = protowire.AppendBytes(buf, payload)

	return buf, nil
}

func (c *Codec) compress(data []byte) ([]byte, Encoding) {
	if len(data) < CompressionThreshold {
		return data, EncodingIdentity
	}

	c.mu.RLock()
	enc := c.encoder
	c.mu.RUnlock()

	if enc == nil {
		return data, EncodingIdentity
	}

	compressed := enc.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return data, EncodingIdentity
	}
	return compressed, EncodingZstd
}

// Decode parses and verifies an encoded envelope.
func (c *Codec) Decode(data []byte) (*Entry, error) {
	rest, ok := bytes.CutPrefix(data, MagicBytes)
	if !ok {
		return nil, ErrInvalidMagic
	}

	var (
		version             uint64
		haveVersion         bool
		createdAt           int64
		expiresAt           int64
		haveExpiry          bool
		encoding            Encoding
		digest              []byte
		size                uint64
		payload             []byte
		havePayload, haveSz bool
	)

	for len(rest) > 0 {
		num, typ, n := protowire.ConsumeTag(rest)
		if n < 0 {
			return nil, fmt.Errorf("%w: %w", ErrTruncated, protowire.ParseError(n))
		}
		rest = rest[n:]

		switch {
		case typ == protowire.VarintType && num != fieldDigest && num != fieldPayload:
			v, m := protowire.ConsumeVarint(rest)
			if m < 0 {
				return nil, fmt.Errorf("%w: %w", ErrTruncated, protowire.ParseError(m))
			}
			rest = rest[m:]
			switch num {
			case fieldVersion:
				version, haveVersion = v, true
			case fieldCreatedAt:
				createdAt = protowire.DecodeZigZag(v)
			case fieldExpiresAt:
				expiresAt, haveExpiry = protowire.DecodeZigZag(v), true
			case fieldEncoding:
				encoding = Encoding(v)
			case fieldSize:
				size, haveSz = v, true
			}
		case typ == protowire.BytesType && (num == fieldDigest || num == fieldPayload):
			v, m := protowire.ConsumeBytes(rest)
			if m < 0 {
				return nil, fmt.Errorf("%w: %w", ErrTruncated, protowire.ParseError(m))
			}
			rest = rest[m:]
			if num == fieldDigest {
				digest = v
			} else {
				payload, havePayload = v, true
			}
		default:
			// Unknown or mistyped field: skip it.
			m := protowire.ConsumeFieldValue(num, typ, rest)
			if m < 0 {
				return nil, fmt.Errorf("%w: %w", ErrTruncated, protowire.ParseError(m))
			}
			rest = rest[m:]
		}
	}

	if !haveVersion {
		return nil, fmt.Errorf("%w: missing version", ErrTruncated)
	}
	if version != CurrentVersion {
		return nil, fmt.Errorf("%w: %d", ErrVersionMismatch, version)
	}
	if !havePayload || !haveSz || digest == nil {
		return nil, fmt.Errorf("%w: missing required field", ErrTruncated)
	}
	want, err := doccache.DigestFromSlice(digest)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupted, err)
	}
	if size > MaxPayloadSize {
		return nil, ErrDecompressionBomb
	}

	decoded, err := c.decompress(payload, encoding)
	if err != nil {
		return nil, err
	}
	if uint64(len(decoded)) != size || doccache.DigestBytes(decoded) != want {
		return nil, ErrCorrupted
	}

	entry := &Entry{
		Payload:   decoded,
		CreatedAt: time.Unix(0, createdAt),
	}
	if haveExpiry {
		entry.ExpiresAt = time.Unix(0, expiresAt)
	}
	return entry, nil
}

func (c *Codec) decompress(payload []byte, encoding Encoding) ([]byte, error) {
	switch encoding {
	case EncodingIdentity:
		// Copy so the entry does not alias the caller's buffer.
		return bytes.Clone(payload), nil
	case EncodingZstd:
	default:
		return nil, fmt.Errorf("%w: unsupported encoding %d", ErrCorrupted, encoding)
	}

	c.mu.RLock()
	dec := c.decoder
	c.mu.RUnlock()

	if dec == nil {
		return nil, errors.New("envelope: decoder not initialized")
	}

	decompressed, err := dec.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompressing payload: %w", ErrCorrupted, err)
	}
	if len(decompressed) > MaxPayloadSize {
		return nil, ErrDecompressionBomb
	}
	return decompressed, nil
}
