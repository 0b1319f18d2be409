package pack

import (
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/odvcencio/packd/pkg/object"
)

// HashingReader forwards exactly a declared number of bytes from an
// underlying reader while feeding them into an object hash seeded with the
// canonical "type len\0" preamble. The digest always covers exactly the
// bytes the caller observed.
type HashingReader struct {
	r       io.Reader
	h       hash.Hash
	objType object.ObjectType
	size    int64
	n       int64
}

// NewHashingReader wraps r, which must yield the content of an object of
// objType and exactly size bytes.
func NewHashingReader(r io.Reader, objType object.ObjectType, size int64) *HashingReader {
	return &HashingReader{
		r:       r,
		h:       object.NewObjectHasher(objType, size),
		objType: objType,
		size:    size,
	}
}

// Read implements io.Reader. It returns io.EOF after size bytes. If the
// underlying stream ends early the error wraps ErrTruncated.
func (hr *HashingReader) Read(p []byte) (int, error) {
	remaining := hr.size - hr.n
	if remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := hr.r.Read(p)
	hr.h.Write(p[:n])
	hr.n += int64(n)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		if hr.n < hr.size {
			return n, fmt.Errorf("%s content: %w: got %d of %d bytes", hr.objType, ErrTruncated, hr.n, hr.size)
		}
		err = nil
	}
	return n, err
}

// Sum finalizes the reader and returns the object hash. It fails with
// ErrTruncated if fewer than the declared bytes were read and with
// ErrIntegrity if the underlying stream holds more.
func (hr *HashingReader) Sum() (object.Hash, error) {
	if hr.n < hr.size {
		return object.Hash{}, fmt.Errorf("%s content: %w: got %d of %d bytes", hr.objType, ErrTruncated, hr.n, hr.size)
	}
	if err := expectEOF(hr.r); err != nil {
		return object.Hash{}, fmt.Errorf("%s content: %w", hr.objType, err)
	}
	return object.SumHash(hr.h), nil
}

// expectEOF checks that r is exhausted. For a zlib reader this is also the
// point where the adler32 checksum is verified.
func expectEOF(r io.Reader) error {
	var probe [1]byte
	for i := 0; i < 100; i++ {
		n, err := r.Read(probe[:])
		if n > 0 {
			return fmt.Errorf("%w: stream longer than declared size", ErrIntegrity)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return io.ErrNoProgress
}

// NewObjectReader composes a zlib inflater with a HashingReader. src should
// implement io.ByteReader so the inflater does not read past the end of the
// compressed stream.
func NewObjectReader(src io.Reader, objType object.ObjectType, size int64) (*HashingReader, io.Closer, error) {
	zr, err := zlib.NewReader(src)
	if err != nil {
		return nil, nil, classifyInflate("open zlib stream", err)
	}
	return NewHashingReader(zr, objType, size), zr, nil
}

// inflater is a resettable zlib reader reused across entries.
type inflater struct {
	zr io.ReadCloser
}

func (f *inflater) reset(src io.Reader) error {
	if f.zr == nil {
		zr, err := zlib.NewReader(src)
		if err != nil {
			return err
		}
		f.zr = zr
		return nil
	}
	return f.zr.(zlib.Resetter).Reset(src, nil)
}

func (f *inflater) Read(p []byte) (int, error) {
	return f.zr.Read(p)
}

// classifyInflate maps a decompression failure onto the error taxonomy:
// running out of input is truncation, anything else is corrupt data.
func classifyInflate(context string, err error) error {
	switch {
	case errors.Is(err, ErrTruncated), errors.Is(err, ErrIntegrity):
		return fmt.Errorf("%s: %w", context, err)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%s: %w", context, ErrTruncated)
	default:
		return fmt.Errorf("%s: %w: %w", context, ErrIntegrity, err)
	}
}
