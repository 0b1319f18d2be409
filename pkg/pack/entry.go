package pack

import (
	"fmt"
	"io"

	"github.com/odvcencio/packd/pkg/object"
)

// maxEntrySize bounds declared sizes so a hostile header cannot make the
// decoder allocate without limit before any data arrives.
const maxEntrySize = 1 << 40

// EntryHeader is the decoded type+size prefix of a pack entry.
type EntryHeader struct {
	Type object.ObjectType
	// Size is the inflated size. For delta entries this is the size of the
	// delta instruction stream, not of the final object.
	Size int64
}

// Entry is the in-flight state of one pack entry.
type Entry struct {
	EntryHeader

	// Offset is where the entry starts within the pack.
	Offset int64
	// BaseOffset is the offset of the base entry of an OFS_DELTA.
	BaseOffset int64
	// BaseHash names the base of a REF_DELTA.
	BaseHash object.Hash

	// Data is the inflated payload: final content for base entries, the
	// delta instruction stream for delta entries.
	Data []byte

	// Hash is set once the final content is known.
	Hash object.Hash
	// CRC32 covers the raw entry bytes, header and compressed payload.
	CRC32 uint32
}

// encodeEntryHeader encodes the variable-length object entry header.
func encodeEntryHeader(objType object.ObjectType, size uint64) []byte {
	b := byte((objType & 0x7) << 4)
	b |= byte(size & 0x0f)
	size >>= 4

	out := make([]byte, 0, 10)
	if size > 0 {
		b |= 0x80
	}
	out = append(out, b)

	for size > 0 {
		next := byte(size & 0x7f)
		size >>= 7
		if size > 0 {
			next |= 0x80
		}
		out = append(out, next)
	}

	return out
}

// readEntryHeader decodes an entry header from a byte stream.
func readEntryHeader(br io.ByteReader) (EntryHeader, error) {
	b, err := br.ReadByte()
	if err != nil {
		return EntryHeader{}, sourceError("entry header", err)
	}
	objType := object.ObjectType((b >> 4) & 0x7)
	if !objType.IsValid() {
		return EntryHeader{}, fmt.Errorf("entry header: %w: invalid type %d", ErrFraming, uint8(objType))
	}
	size := uint64(b & 0x0f)
	shift := uint(4)

	for b&0x80 != 0 {
		b, err = br.ReadByte()
		if err != nil {
			return EntryHeader{}, sourceError("entry header", err)
		}
		if shift > 57 {
			return EntryHeader{}, fmt.Errorf("entry header: %w: size varint too long", ErrFraming)
		}
		size |= uint64(b&0x7f) << shift
		shift += 7
	}
	if size > maxEntrySize {
		return EntryHeader{}, fmt.Errorf("entry header: %w: declared size %d too large", ErrFraming, size)
	}

	return EntryHeader{Type: objType, Size: int64(size)}, nil
}

// encodeOfsDistance encodes a backward distance for OFS_DELTA entries.
func encodeOfsDistance(distance uint64) []byte {
	b := []byte{byte(distance & 0x7f)}
	for distance >>= 7; distance > 0; distance >>= 7 {
		distance--
		b = append([]byte{byte((distance & 0x7f) | 0x80)}, b...)
	}
	return b
}

// readOfsDistance decodes the OFS_DELTA backward distance. Each continuation
// adds one before shifting, so every distance has exactly one encoding.
func readOfsDistance(br io.ByteReader) (int64, error) {
	c, err := br.ReadByte()
	if err != nil {
		return 0, sourceError("ofs-delta distance", err)
	}
	distance := uint64(c & 0x7f)
	for c&0x80 != 0 {
		c, err = br.ReadByte()
		if err != nil {
			return 0, sourceError("ofs-delta distance", err)
		}
		if distance >= 1<<55 {
			return 0, fmt.Errorf("ofs-delta distance: %w: too large", ErrFraming)
		}
		distance = ((distance + 1) << 7) | uint64(c&0x7f)
	}
	return int64(distance), nil
}
