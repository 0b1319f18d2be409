package pack

import (
	"bytes"
	"crypto/sha1"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/odvcencio/packd/pkg/object"
)

var errWriterFinished = errors.New("pack writer already finished")

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

// Writer writes version 2 pack streams with zlib-compressed entries. The
// trailer is the SHA-1 of every byte before it.
type Writer struct {
	out      io.Writer
	sum      hash.Hash
	crc      hash.Hash32
	hashedW  io.Writer
	counter  *countingWriter
	zw       *zlib.Writer
	zbuf     bytes.Buffer
	expected uint32
	written  uint32
	entries  []IndexEntry
	finished bool
}

// NewWriter writes the pack header for numObjects entries and returns a
// writer for them.
func NewWriter(out io.Writer, numObjects uint32) (*Writer, error) {
	w := &Writer{
		out:      out,
		sum:      sha1.New(),
		crc:      crc32.NewIEEE(),
		counter:  &countingWriter{w: out},
		expected: numObjects,
	}
	w.hashedW = io.MultiWriter(w.counter, w.sum, w.crc)
	w.zw = zlib.NewWriter(&w.zbuf)

	hdr := Header{Version: supportedVersion, NumObjects: numObjects}
	if _, err := w.hashedW.Write(hdr.Marshal()); err != nil {
		return nil, fmt.Errorf("write pack header: %w", err)
	}
	return w, nil
}

// Offset returns the number of bytes written so far, which is the offset
// of the next entry.
func (w *Writer) Offset() int64 {
	return w.counter.n
}

// WriteObject appends obj as a full entry and returns its offset.
func (w *Writer) WriteObject(obj *object.Object) (int64, error) {
	if !obj.Type.IsBase() {
		return 0, fmt.Errorf("write object %s: cannot write %s as a full entry", obj.Hash, obj.Type)
	}
	return w.writeEntry(obj.Type, obj.Data, nil, obj.Hash)
}

// WriteOfsDelta appends target as an OFS_DELTA against base, which must
// already have been written at baseOffset.
func (w *Writer) WriteOfsDelta(baseOffset int64, base, target *object.Object) (int64, error) {
	return w.writeOfsDelta(baseOffset, ComputeDelta(base.Data, target.Data), target.Hash)
}

// WriteRefDelta appends target as a REF_DELTA against base. The base does
// not need to be in this pack.
func (w *Writer) WriteRefDelta(base, target *object.Object) (int64, error) {
	return w.writeRefDelta(base.Hash, ComputeDelta(base.Data, target.Data), target.Hash)
}

func (w *Writer) writeOfsDelta(baseOffset int64, delta []byte, result object.Hash) (int64, error) {
	current := w.Offset()
	if baseOffset < headerSize || baseOffset >= current {
		return 0, fmt.Errorf("write ofs-delta: base offset %d must be before current offset %d", baseOffset, current)
	}
	return w.writeEntry(object.TypeOfsDelta, delta, encodeOfsDistance(uint64(current-baseOffset)), result)
}

func (w *Writer) writeRefDelta(baseHash object.Hash, delta []byte, result object.Hash) (int64, error) {
	return w.writeEntry(object.TypeRefDelta, delta, baseHash[:], result)
}

func (w *Writer) writeEntry(objType object.ObjectType, payload, baseRef []byte, result object.Hash) (int64, error) {
	if w.finished {
		return 0, errWriterFinished
	}
	if w.written >= w.expected {
		return 0, fmt.Errorf("pack object count exceeded: expected %d", w.expected)
	}

	w.zbuf.Reset()
	w.zw.Reset(&w.zbuf)
	if _, err := w.zw.Write(payload); err != nil {
		return 0, fmt.Errorf("compress %s entry: %w", objType, err)
	}
	if err := w.zw.Close(); err != nil {
		return 0, fmt.Errorf("compress %s entry: %w", objType, err)
	}

	offset := w.Offset()
	w.crc.Reset()
	if _, err := w.hashedW.Write(encodeEntryHeader(objType, uint64(len(payload)))); err != nil {
		return 0, fmt.Errorf("write %s entry header: %w", objType, err)
	}
	if len(baseRef) > 0 {
		if _, err := w.hashedW.Write(baseRef); err != nil {
			return 0, fmt.Errorf("write %s base: %w", objType, err)
		}
	}
	if _, err := w.hashedW.Write(w.zbuf.Bytes()); err != nil {
		return 0, fmt.Errorf("write %s payload: %w", objType, err)
	}

	w.entries = append(w.entries, IndexEntry{Hash: result, Offset: uint64(offset), CRC32: w.crc.Sum32()})
	w.written++
	return offset, nil
}

// Entries returns the idx rows for the entries written so far.
func (w *Writer) Entries() []IndexEntry {
	out := make([]IndexEntry, len(w.entries))
	copy(out, w.entries)
	return out
}

// Finish checks the object count, writes the trailer and returns the pack
// checksum.
func (w *Writer) Finish() (object.Hash, error) {
	if w.finished {
		return object.Hash{}, errWriterFinished
	}
	if w.written != w.expected {
		return object.Hash{}, fmt.Errorf("pack object count mismatch: wrote %d, expected %d", w.written, w.expected)
	}

	sum := object.SumHash(w.sum)
	if _, err := w.out.Write(sum[:]); err != nil {
		return object.Hash{}, fmt.Errorf("write pack trailer: %w", err)
	}
	w.finished = true
	return sum, nil
}
