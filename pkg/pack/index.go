package pack

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/odvcencio/packd/pkg/object"
)

const (
	indexVersion        = 2
	indexHeaderSize     = 8
	indexFanoutSize     = 256 * 4
	indexLargeOffsetBit = uint32(1 << 31)
)

var indexMagic = [4]byte{0xff, 't', 'O', 'c'}

// IndexEntry is one row in a pack index file.
type IndexEntry struct {
	Hash   object.Hash
	Offset uint64
	CRC32  uint32
}

func sortIndexEntries(entries []IndexEntry) []IndexEntry {
	out := make([]IndexEntry, len(entries))
	copy(out, entries)
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Hash[:], out[j].Hash[:]) < 0
	})
	return out
}

// WriteIndex writes a Git idx v2 file for entries and the pack checksum. It
// returns the checksum of the index itself.
func WriteIndex(w io.Writer, entries []IndexEntry, packChecksum object.Hash) (object.Hash, error) {
	sorted := sortIndexEntries(entries)
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Hash == sorted[i-1].Hash {
			return object.Hash{}, fmt.Errorf("write index: duplicate entry %s", sorted[i].Hash)
		}
	}

	var buf bytes.Buffer
	buf.Write(indexMagic[:])
	_ = binary.Write(&buf, binary.BigEndian, uint32(indexVersion))

	fanout := buildFanout(sorted)
	for i := 0; i < 256; i++ {
		_ = binary.Write(&buf, binary.BigEndian, fanout[i])
	}

	for _, entry := range sorted {
		buf.Write(entry.Hash[:])
	}
	for _, entry := range sorted {
		_ = binary.Write(&buf, binary.BigEndian, entry.CRC32)
	}

	var largeOffsets []uint64
	for _, entry := range sorted {
		if entry.Offset < uint64(indexLargeOffsetBit) {
			_ = binary.Write(&buf, binary.BigEndian, uint32(entry.Offset))
			continue
		}
		ref := indexLargeOffsetBit | uint32(len(largeOffsets))
		_ = binary.Write(&buf, binary.BigEndian, ref)
		largeOffsets = append(largeOffsets, entry.Offset)
	}
	for _, offset := range largeOffsets {
		_ = binary.Write(&buf, binary.BigEndian, offset)
	}

	buf.Write(packChecksum[:])
	indexSum := sha1.Sum(buf.Bytes())
	buf.Write(indexSum[:])

	if _, err := w.Write(buf.Bytes()); err != nil {
		return object.Hash{}, fmt.Errorf("write index: %w", err)
	}
	return object.Hash(indexSum), nil
}

func buildFanout(entries []IndexEntry) [256]uint32 {
	var counts [256]uint32
	for _, entry := range entries {
		counts[entry.Hash[0]]++
	}

	var fanout [256]uint32
	var total uint32
	for i := 0; i < 256; i++ {
		total += counts[i]
		fanout[i] = total
	}
	return fanout
}
