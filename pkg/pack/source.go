package pack

import (
	"bufio"
	"crypto/sha1"
	"hash"
	"hash/crc32"
	"io"
)

// ByteReader is a combination of io.Reader and io.ByteReader.
type ByteReader interface {
	io.Reader
	io.ByteReader
}

// packSource counts and checksums every byte the decoder consumes. The
// running SHA-1 is compared with the pack trailer; the CRC32 is reset per
// entry for the idx file.
type packSource struct {
	r   ByteReader
	n   int64
	sum hash.Hash
	crc hash.Hash32
	// err records the last non-EOF failure of the underlying reader so
	// transport errors are not mistaken for corrupt zlib data.
	err error
}

func newPackSource(r io.Reader) *packSource {
	br, ok := r.(ByteReader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &packSource{
		r:   br,
		sum: sha1.New(),
		crc: crc32.NewIEEE(),
	}
}

func (s *packSource) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if n > 0 {
		s.sum.Write(p[:n])
		s.crc.Write(p[:n])
		s.n += int64(n)
	}
	if err != nil && err != io.EOF {
		s.err = err
	}
	return n, err
}

func (s *packSource) ReadByte() (byte, error) {
	b, err := s.r.ReadByte()
	if err != nil {
		if err != io.EOF {
			s.err = err
		}
		return 0, err
	}
	one := [1]byte{b}
	s.sum.Write(one[:])
	s.crc.Write(one[:])
	s.n++
	return b, nil
}

// readTrailer reads the trailing checksum without folding it into the
// running sum.
func (s *packSource) readTrailer() ([]byte, error) {
	buf := make([]byte, trailerSize)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		return nil, err
	}
	s.n += trailerSize
	return buf, nil
}

func (s *packSource) beginEntry() {
	s.crc.Reset()
}
