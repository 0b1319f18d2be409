package pack

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/odvcencio/packd/pkg/object"
)

// Index is an in-memory idx v2 file.
type Index struct {
	fanout        [256]uint32
	entries       []IndexEntry
	PackChecksum  object.Hash
	IndexChecksum object.Hash
}

// Len returns the number of objects in the index.
func (idx *Index) Len() int { return len(idx.entries) }

// Entries returns a copy of all entries in hash order.
func (idx *Index) Entries() []IndexEntry {
	out := make([]IndexEntry, len(idx.entries))
	copy(out, idx.entries)
	return out
}

// Find performs a fanout-bounded binary search for h.
func (idx *Index) Find(h object.Hash) (IndexEntry, bool) {
	start, end := bucketStart(&idx.fanout, h[0]), idx.fanout[h[0]]
	if end <= start {
		return IndexEntry{}, false
	}

	lo, hi := int(start), int(end)
	for lo < hi {
		mid := lo + (hi-lo)/2
		if bytes.Compare(idx.entries[mid].Hash[:], h[:]) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < int(end) && idx.entries[lo].Hash == h {
		return idx.entries[lo], true
	}
	return IndexEntry{}, false
}

// ReadIndexFile reads and validates the idx file at path.
func ReadIndexFile(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read index %s: %w", path, err)
	}
	return ReadIndex(data)
}

// ReadIndexFrom reads an idx v2 stream to the end and parses it.
func ReadIndexFrom(r io.Reader) (*Index, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read index stream: %w", err)
	}
	return ReadIndex(data)
}

// ReadIndex parses and validates an idx v2 file.
func ReadIndex(data []byte) (*Index, error) {
	const hs = object.HashSize
	minLen := indexHeaderSize + indexFanoutSize + 2*hs
	if len(data) < minLen {
		return nil, fmt.Errorf("index: %w: %d bytes", ErrTruncated, len(data))
	}
	if string(data[:4]) != string(indexMagic[:]) {
		return nil, fmt.Errorf("index: %w: invalid magic %q", ErrFraming, data[:4])
	}
	if version := binary.BigEndian.Uint32(data[4:8]); version != indexVersion {
		return nil, fmt.Errorf("index: %w: unsupported version %d", ErrFraming, version)
	}

	sum := sha1.Sum(data[:len(data)-hs])
	if !bytes.Equal(data[len(data)-hs:], sum[:]) {
		return nil, fmt.Errorf("index: %w: checksum mismatch", ErrIntegrity)
	}

	var fanout [256]uint32
	cursor := indexHeaderSize
	for i := 0; i < 256; i++ {
		fanout[i] = binary.BigEndian.Uint32(data[cursor:])
		if i > 0 && fanout[i] < fanout[i-1] {
			return nil, fmt.Errorf("index: %w: fanout not monotonic at %d", ErrFraming, i)
		}
		cursor += 4
	}
	n := int(fanout[255])

	namesLen, crcLen, offsetLen := n*hs, n*4, n*4
	if cursor+namesLen+crcLen+offsetLen+2*hs > len(data) {
		return nil, fmt.Errorf("index: %w: tables shorter than %d entries", ErrTruncated, n)
	}
	namesStart := cursor
	crcStart := namesStart + namesLen
	offsetStart := crcStart + crcLen
	cursor = offsetStart + offsetLen

	offset32 := make([]uint32, n)
	largeNeeded := uint32(0)
	for i := 0; i < n; i++ {
		v := binary.BigEndian.Uint32(data[offsetStart+i*4:])
		offset32[i] = v
		if v&indexLargeOffsetBit != 0 {
			if ref := v &^ indexLargeOffsetBit; ref+1 > largeNeeded {
				largeNeeded = ref + 1
			}
		}
	}

	largeOffsets := make([]uint64, largeNeeded)
	for i := range largeOffsets {
		if cursor+8 > len(data)-2*hs {
			return nil, fmt.Errorf("index: %w: large-offset table", ErrTruncated)
		}
		largeOffsets[i] = binary.BigEndian.Uint64(data[cursor:])
		cursor += 8
	}
	if cursor+2*hs != len(data) {
		return nil, fmt.Errorf("index: %w: %d bytes of trailing data", ErrFraming, len(data)-(cursor+2*hs))
	}

	idx := &Index{fanout: fanout, entries: make([]IndexEntry, n)}
	copy(idx.PackChecksum[:], data[cursor:cursor+hs])
	copy(idx.IndexChecksum[:], data[cursor+hs:])

	for i := 0; i < n; i++ {
		e := &idx.entries[i]
		copy(e.Hash[:], data[namesStart+i*hs:])
		if i > 0 && bytes.Compare(idx.entries[i-1].Hash[:], e.Hash[:]) >= 0 {
			return nil, fmt.Errorf("index: %w: names not sorted at %d", ErrFraming, i)
		}
		if lo := bucketStart(&fanout, e.Hash[0]); uint32(i) < lo || uint32(i) >= fanout[e.Hash[0]] {
			return nil, fmt.Errorf("index: %w: entry %d outside fanout bucket %02x", ErrFraming, i, e.Hash[0])
		}
		e.CRC32 = binary.BigEndian.Uint32(data[crcStart+i*4:])
		e.Offset = uint64(offset32[i])
		if offset32[i]&indexLargeOffsetBit != 0 {
			e.Offset = largeOffsets[offset32[i]&^indexLargeOffsetBit]
		}
	}
	return idx, nil
}

func bucketStart(fanout *[256]uint32, b byte) uint32 {
	if b == 0 {
		return 0
	}
	return fanout[b-1]
}
