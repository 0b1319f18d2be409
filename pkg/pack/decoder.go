package pack

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/odvcencio/packd/pkg/object"
)

// Options configures a Decoder.
type Options struct {
	// Store supplies REF_DELTA bases missing from a thin pack. It may be nil.
	Store object.Store
	// Workers bounds concurrent delta resolution. Zero means GOMAXPROCS.
	Workers int
	// MemoryLimit and SpillDir configure the object cache; see CacheOptions.
	MemoryLimit int64
	SpillDir    string
	Logger      logrus.FieldLogger
}

// Decoder reads pack streams. A Decoder may be reused but not shared
// between concurrent Decode calls.
type Decoder struct {
	opts  Options
	log   logrus.FieldLogger
	index []IndexEntry
}

// NewDecoder returns a decoder configured by opts.
func NewDecoder(opts Options) *Decoder {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	log := opts.Logger
	if log == nil {
		log = discardLogger()
	}
	return &Decoder{opts: opts, log: log}
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.Out = io.Discard
	return l
}

type entryRecord struct {
	offset int64
	crc    uint32
}

// Decode parses a complete pack from r, resolves every delta and verifies
// the trailer. Only then is sink called, once per distinct object, in the
// order objects became available. Objects taken from Options.Store to
// complete a thin pack are not passed to sink.
func (d *Decoder) Decode(ctx context.Context, r io.Reader, sink func(*object.Object) error) (*Pack, error) {
	d.index = nil
	src := newPackSource(r)

	hdr, err := ReadHeader(src)
	if err != nil {
		return nil, err
	}
	d.log.WithFields(logrus.Fields{"version": hdr.Version, "objects": hdr.NumObjects}).Debug("decoding pack")

	cache := NewCache(CacheOptions{MemoryLimit: d.opts.MemoryLimit, SpillDir: d.opts.SpillDir, Logger: d.log})
	defer cache.Close()

	res := newResolver(ctx, cache, d.opts.Workers)
	records := make([]entryRecord, 0, min(hdr.NumObjects, 1<<16))
	starts := make(map[int64]struct{}, min(hdr.NumObjects, 1<<16))

	var z inflater
	for i := uint32(0); i < hdr.NumObjects; i++ {
		if err := ctx.Err(); err != nil {
			res.abort()
			return nil, fmt.Errorf("entry %d: %w: %w", i, ErrTruncated, err)
		}
		if res.failed() {
			break
		}

		offset := src.n
		src.beginEntry()
		e, err := readEntry(src, &z, offset, starts)
		if err != nil {
			res.abort()
			return nil, fmt.Errorf("entry %d at offset %d: %w", i, offset, err)
		}
		starts[offset] = struct{}{}
		records = append(records, entryRecord{offset: offset, crc: src.crc.Sum32()})

		if e.Type.IsBase() {
			err = res.publish(offset, &object.Object{Hash: e.Hash, Type: e.Type, Data: e.Data}, false)
		} else {
			err = res.submit(e)
		}
		if err != nil {
			res.abort()
			return nil, fmt.Errorf("entry %d at offset %d: %w", i, offset, err)
		}
	}

	if err := res.drain(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("resolve deltas: %w: %w", ErrTruncated, err)
		}
		return nil, err
	}

	want := src.sum.Sum(nil)
	trailer, err := src.readTrailer()
	if err != nil {
		return nil, sourceError("pack trailer", err)
	}
	if !bytes.Equal(trailer, want) {
		return nil, fmt.Errorf("pack trailer: %w: checksum %x, computed %x", ErrFraming, trailer, want)
	}

	if res.wait.Len() > 0 {
		if err := res.fillFromStore(d.opts.Store, d.log); err != nil {
			return nil, err
		}
	}
	if res.wait.Len() > 0 {
		return nil, unresolvedError(res.wait)
	}

	p := &Pack{Header: *hdr, Size: src.n}
	copy(p.Checksum[:], trailer)

	d.index = make([]IndexEntry, 0, len(records))
	for _, rec := range records {
		h, ok := cache.HashAt(rec.offset)
		if !ok {
			return nil, fmt.Errorf("entry at offset %d: resolved object missing from cache", rec.offset)
		}
		d.index = append(d.index, IndexEntry{Hash: h, Offset: uint64(rec.offset), CRC32: rec.crc})
	}
	d.log.WithFields(logrus.Fields{
		"pack":    p.Checksum.String(),
		"objects": cache.Len(),
		"spilled": cache.Spilled(),
	}).Debug("pack verified")

	if sink != nil {
		if err := cache.Each(sink); err != nil {
			return p, err
		}
	}
	return p, nil
}

// IndexEntries returns the idx rows of the last successfully decoded pack,
// one per entry, in stream order.
func (d *Decoder) IndexEntries() []IndexEntry {
	out := make([]IndexEntry, len(d.index))
	copy(out, d.index)
	return out
}

// DecodeFile decodes the pack file at path.
func (d *Decoder) DecodeFile(ctx context.Context, path string, sink func(*object.Object) error) (*Pack, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pack %s: %w", path, err)
	}
	defer f.Close()

	p, err := d.Decode(ctx, f, sink)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", path, err)
	}
	p.Path = path
	return p, nil
}

// ReadAll decodes r with default options and returns every object.
func ReadAll(r io.Reader, store object.Store) ([]*object.Object, *Pack, error) {
	var objs []*object.Object
	p, err := NewDecoder(Options{Store: store}).Decode(context.Background(), r, func(o *object.Object) error {
		objs = append(objs, o)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return objs, p, nil
}

// readEntry decodes one entry header and inflates its payload. Base entries
// are hashed while they are inflated. A nil starts skips the check that an
// OFS_DELTA base begins a known entry.
func readEntry(src *packSource, z *inflater, offset int64, starts map[int64]struct{}) (*Entry, error) {
	hdr, err := readEntryHeader(src)
	if err != nil {
		return nil, err
	}
	e := &Entry{EntryHeader: hdr, Offset: offset}

	switch hdr.Type {
	case object.TypeOfsDelta:
		distance, err := readOfsDistance(src)
		if err != nil {
			return nil, err
		}
		if distance <= 0 || distance > offset {
			return nil, fmt.Errorf("ofs-delta: %w: base distance %d outside pack", ErrFraming, distance)
		}
		e.BaseOffset = offset - distance
		if _, ok := starts[e.BaseOffset]; starts != nil && !ok {
			return nil, fmt.Errorf("ofs-delta: %w: no entry starts at base offset %d", ErrFraming, e.BaseOffset)
		}
	case object.TypeRefDelta:
		if _, err := io.ReadFull(src, e.BaseHash[:]); err != nil {
			return nil, sourceError("ref-delta base", err)
		}
	}

	if err := z.reset(src); err != nil {
		return nil, inflateError(src, "open zlib stream", err)
	}

	if hdr.Type.IsBase() {
		hr := NewHashingReader(z, hdr.Type, hdr.Size)
		if e.Data, err = readSized(hr, hdr.Size); err != nil {
			return nil, inflateError(src, "inflate", err)
		}
		if e.Hash, err = hr.Sum(); err != nil {
			return nil, inflateError(src, "inflate", err)
		}
		return e, nil
	}

	lr := io.LimitReader(z, hdr.Size)
	if e.Data, err = readSized(lr, hdr.Size); err != nil {
		return nil, inflateError(src, "inflate delta", err)
	}
	if int64(len(e.Data)) < hdr.Size {
		return nil, inflateError(src, "inflate delta", io.ErrUnexpectedEOF)
	}
	if err := expectEOF(z); err != nil {
		return nil, inflateError(src, "inflate delta", err)
	}
	return e, nil
}

// readSized reads up to size bytes, growing the buffer as data arrives so a
// false size cannot force a large allocation up front.
func readSized(r io.Reader, size int64) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(int(min(size, deltaPreallocLimit)))
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// inflateError classifies a payload failure, preferring a transport error
// recorded by the source over whatever the inflater made of it.
func inflateError(src *packSource, context string, err error) error {
	if src.err != nil {
		return sourceError(context, src.err)
	}
	return classifyInflate(context, err)
}

func unresolvedError(w *Waitlist) error {
	e := &UnresolvedDeltaError{
		MissingHashes:  w.ByHash.Keys(),
		MissingOffsets: w.ByOffset.Keys(),
		Pending:        w.Len(),
	}
	object.SortHashes(e.MissingHashes)
	sort.Slice(e.MissingOffsets, func(i, j int) bool { return e.MissingOffsets[i] < e.MissingOffsets[j] })
	return e
}

// IsTruncated reports whether err means the byte source ended early.
func IsTruncated(err error) bool { return errors.Is(err, ErrTruncated) }
