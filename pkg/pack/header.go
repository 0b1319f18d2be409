package pack

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/odvcencio/packd/pkg/object"
)

const (
	headerSize       = 12
	supportedVersion = 2
	trailerSize      = object.HashSize
)

var packMagic = [4]byte{'P', 'A', 'C', 'K'}

// Header is the fixed-size pack header.
//
// Bytes:
//   - 0..3:  "PACK"
//   - 4..7:  version (big-endian)
//   - 8..11: number of objects (big-endian)
type Header struct {
	Version    uint32
	NumObjects uint32
}

// Marshal serializes the header to the canonical 12-byte form.
func (h Header) Marshal() []byte {
	buf := make([]byte, headerSize)
	copy(buf[:4], packMagic[:])
	binary.BigEndian.PutUint32(buf[4:8], h.Version)
	binary.BigEndian.PutUint32(buf[8:12], h.NumObjects)
	return buf
}

// UnmarshalHeader parses a canonical pack header.
func UnmarshalHeader(data []byte) (*Header, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("pack header: %w: got %d bytes", ErrTruncated, len(data))
	}
	if string(data[:4]) != string(packMagic[:]) {
		return nil, fmt.Errorf("pack header: %w: invalid magic %q", ErrFraming, data[:4])
	}

	version := binary.BigEndian.Uint32(data[4:8])
	if version != supportedVersion {
		return nil, fmt.Errorf("pack header: %w: unsupported version %d", ErrFraming, version)
	}

	return &Header{
		Version:    version,
		NumObjects: binary.BigEndian.Uint32(data[8:12]),
	}, nil
}

// ReadHeader reads and validates the 12-byte header from r.
func ReadHeader(r io.Reader) (*Header, error) {
	var buf [headerSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, sourceError("pack header", err)
	}
	return UnmarshalHeader(buf[:])
}

// Pack describes a fully validated pack stream.
type Pack struct {
	Header
	// Checksum is the trailing SHA-1 over every preceding byte.
	Checksum object.Hash
	// Path is set when the pack was read from a file.
	Path string
	// Size is the total number of bytes consumed, trailer included.
	Size int64
}
