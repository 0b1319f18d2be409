package pack

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/odvcencio/packd/pkg/object"
)

func hashWithPrefix(b0 byte, tail byte) object.Hash {
	var h object.Hash
	h[0] = b0
	h[object.HashSize-1] = tail
	return h
}

func TestWriteIndexRoundTripAndFind(t *testing.T) {
	entries := []IndexEntry{
		{Hash: hashWithPrefix(0xff, 1), Offset: 900, CRC32: 3},
		{Hash: hashWithPrefix(0x00, 2), Offset: 12, CRC32: 1},
		{Hash: hashWithPrefix(0x7a, 3), Offset: 400, CRC32: 2},
		{Hash: hashWithPrefix(0x7a, 1), Offset: 300, CRC32: 4},
	}
	packSum := object.HashObject(object.TypeBlob, []byte("pack"))

	var buf bytes.Buffer
	indexSum, err := WriteIndex(&buf, entries, packSum)
	if err != nil {
		t.Fatalf("WriteIndex: %v", err)
	}

	idx, err := ReadIndex(buf.Bytes())
	if err != nil {
		t.Fatalf("ReadIndex: %v", err)
	}
	if idx.PackChecksum != packSum {
		t.Fatalf("PackChecksum = %s, want %s", idx.PackChecksum, packSum)
	}
	if idx.IndexChecksum != indexSum {
		t.Fatalf("IndexChecksum = %s, want %s", idx.IndexChecksum, indexSum)
	}
	if diff := cmp.Diff(sortIndexEntries(entries), idx.Entries()); diff != "" {
		t.Fatalf("entries (-want +got):\n%s", diff)
	}

	for _, want := range entries {
		got, ok := idx.Find(want.Hash)
		if !ok {
			t.Fatalf("Find(%s) missing", want.Hash)
		}
		if got != want {
			t.Fatalf("Find(%s) = %+v, want %+v", want.Hash, got, want)
		}
	}
	if _, ok := idx.Find(hashWithPrefix(0x7a, 9)); ok {
		t.Fatalf("Find of absent hash succeeded")
	}
	if _, ok := idx.Find(hashWithPrefix(0x10, 0)); ok {
		t.Fatalf("Find in empty bucket succeeded")
	}
}

func TestWriteIndexLayout(t *testing.T) {
	entries := []IndexEntry{
		{Hash: hashWithPrefix(0x01, 0), Offset: 12},
		{Hash: hashWithPrefix(0x03, 0), Offset: 40},
	}
	var buf bytes.Buffer
	if _, err := WriteIndex(&buf, entries, object.Hash{}); err != nil {
		t.Fatalf("WriteIndex: %v", err)
	}
	data := buf.Bytes()

	if !bytes.Equal(data[:4], []byte{0xff, 't', 'O', 'c'}) {
		t.Fatalf("magic = %x", data[:4])
	}
	if v := binary.BigEndian.Uint32(data[4:8]); v != 2 {
		t.Fatalf("version = %d, want 2", v)
	}
	fanout := func(i int) uint32 { return binary.BigEndian.Uint32(data[8+i*4:]) }
	if fanout(0) != 0 || fanout(1) != 1 || fanout(2) != 1 || fanout(3) != 2 || fanout(255) != 2 {
		t.Fatalf("fanout = %d %d %d %d %d", fanout(0), fanout(1), fanout(2), fanout(3), fanout(255))
	}
	wantLen := 8 + 1024 + 2*object.HashSize + 2*4 + 2*4 + 2*object.HashSize
	if len(data) != wantLen {
		t.Fatalf("len = %d, want %d", len(data), wantLen)
	}
	sum := sha1.Sum(data[:len(data)-object.HashSize])
	if !bytes.Equal(sum[:], data[len(data)-object.HashSize:]) {
		t.Fatalf("index checksum does not cover the body")
	}
}

func TestWriteIndexLargeOffsets(t *testing.T) {
	entries := []IndexEntry{
		{Hash: hashWithPrefix(0x10, 0), Offset: 1 << 33, CRC32: 7},
		{Hash: hashWithPrefix(0x20, 0), Offset: 12, CRC32: 8},
		{Hash: hashWithPrefix(0x30, 0), Offset: 1<<31 + 5, CRC32: 9},
	}
	var buf bytes.Buffer
	if _, err := WriteIndex(&buf, entries, object.Hash{}); err != nil {
		t.Fatalf("WriteIndex: %v", err)
	}
	idx, err := ReadIndex(buf.Bytes())
	if err != nil {
		t.Fatalf("ReadIndex: %v", err)
	}
	if diff := cmp.Diff(entries, idx.Entries()); diff != "" {
		t.Fatalf("entries (-want +got):\n%s", diff)
	}
}

func TestWriteIndexRejectsDuplicateHashes(t *testing.T) {
	h := hashWithPrefix(0x42, 0)
	_, err := WriteIndex(&bytes.Buffer{}, []IndexEntry{{Hash: h, Offset: 12}, {Hash: h, Offset: 40}}, object.Hash{})
	if err == nil {
		t.Fatalf("WriteIndex accepted duplicate hashes")
	}
}

func TestReadIndexRejectsCorruption(t *testing.T) {
	var buf bytes.Buffer
	if _, err := WriteIndex(&buf, []IndexEntry{{Hash: hashWithPrefix(0x42, 0), Offset: 12}}, object.Hash{}); err != nil {
		t.Fatalf("WriteIndex: %v", err)
	}
	good := buf.Bytes()

	reseal := func(data []byte) []byte {
		sum := sha1.Sum(data[:len(data)-object.HashSize])
		copy(data[len(data)-object.HashSize:], sum[:])
		return data
	}

	tests := []struct {
		name   string
		mutate func([]byte) []byte
		want   error
	}{
		{"checksum", func(d []byte) []byte { d[100] ^= 1; return d }, ErrIntegrity},
		{"magic", func(d []byte) []byte { d[0] = 0; return reseal(d) }, ErrFraming},
		{"version", func(d []byte) []byte { d[7] = 3; return reseal(d) }, ErrFraming},
		{"fanout bucket", func(d []byte) []byte {
			// Move the single entry into bucket 0x41 while its name starts with 0x42.
			binary.BigEndian.PutUint32(d[8+0x41*4:], 1)
			return reseal(d)
		}, ErrFraming},
		{"short", func(d []byte) []byte { return d[:100] }, ErrTruncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.mutate(append([]byte(nil), good...))
			if _, err := ReadIndex(data); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestIndexFromDecodedPack(t *testing.T) {
	objs := chain(4)
	var buf bytes.Buffer
	res, err := Encode(&buf, objs, EncodeOptions{})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	d := NewDecoder(Options{})
	p, err := d.Decode(context.Background(), bytes.NewReader(buf.Bytes()), nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	var idxBuf bytes.Buffer
	if _, err := WriteIndex(&idxBuf, d.IndexEntries(), p.Checksum); err != nil {
		t.Fatalf("WriteIndex: %v", err)
	}
	idx, err := ReadIndexFrom(&idxBuf)
	if err != nil {
		t.Fatalf("ReadIndexFrom: %v", err)
	}
	if idx.PackChecksum != res.Checksum {
		t.Fatalf("PackChecksum = %s, want %s", idx.PackChecksum, res.Checksum)
	}
	for _, want := range res.Entries {
		got, ok := idx.Find(want.Hash)
		if !ok || got != want {
			t.Fatalf("Find(%s) = %+v, %v; want %+v", want.Hash, got, ok, want)
		}
	}
}
