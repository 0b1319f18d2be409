package pack

import (
	"bytes"
	"fmt"
	"io"
)

const (
	// maxCopySize is the largest copy a single instruction emits. Larger
	// matches are split.
	maxCopySize = 0x10000
	// maxInsertSize is the largest literal run a single instruction holds.
	maxInsertSize = 0x7f
	// minCopySize is the shortest match worth a copy instruction.
	minCopySize = 4
	// deltaPreallocLimit caps the up-front allocation for a declared target
	// size, which is untrusted.
	deltaPreallocLimit = 64 << 20
)

func encodeDeltaVarint(v uint64) []byte {
	out := make([]byte, 0, 10)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func decodeDeltaVarint(r io.ByteReader) (uint64, error) {
	var (
		value uint64
		shift uint
	)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		value |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return value, nil
		}
		shift += 7
		if shift > 63 {
			return 0, fmt.Errorf("delta varint too large")
		}
	}
}

// DeltaSizes returns the base and target lengths declared at the start of a
// delta instruction stream.
func DeltaSizes(delta []byte) (baseSize, targetSize uint64, err error) {
	dr := bytes.NewReader(delta)
	if baseSize, err = decodeDeltaVarint(dr); err != nil {
		return 0, 0, fmt.Errorf("read delta base size: %w: %w", ErrIntegrity, err)
	}
	if targetSize, err = decodeDeltaVarint(dr); err != nil {
		return 0, 0, fmt.Errorf("read delta target size: %w: %w", ErrIntegrity, err)
	}
	return baseSize, targetSize, nil
}

// ApplyDelta applies Git delta instructions to base and returns the target.
// Any disagreement between the declared lengths and the actual base or
// produced target is reported as ErrIntegrity.
func ApplyDelta(base, delta []byte) ([]byte, error) {
	dr := bytes.NewReader(delta)

	baseSize, err := decodeDeltaVarint(dr)
	if err != nil {
		return nil, fmt.Errorf("apply delta: read base size: %w: %w", ErrIntegrity, err)
	}
	if baseSize != uint64(len(base)) {
		return nil, fmt.Errorf("apply delta: %w: base size mismatch: declared %d, actual %d", ErrIntegrity, baseSize, len(base))
	}
	resultSize, err := decodeDeltaVarint(dr)
	if err != nil {
		return nil, fmt.Errorf("apply delta: read result size: %w: %w", ErrIntegrity, err)
	}

	out := make([]byte, 0, min(resultSize, deltaPreallocLimit))
	for dr.Len() > 0 {
		cmd, _ := dr.ReadByte()
		if cmd&0x80 != 0 {
			offset, size, err := readCopyInstruction(cmd, dr)
			if err != nil {
				return nil, fmt.Errorf("apply delta: %w: %w", ErrIntegrity, err)
			}
			if offset+size > uint64(len(base)) {
				return nil, fmt.Errorf("apply delta: %w: copy [%d,%d) out of base bounds %d", ErrIntegrity, offset, offset+size, len(base))
			}
			if uint64(len(out))+size > resultSize {
				return nil, fmt.Errorf("apply delta: %w: output exceeds declared size %d", ErrIntegrity, resultSize)
			}
			out = append(out, base[offset:offset+size]...)
			continue
		}

		if cmd == 0 {
			return nil, fmt.Errorf("apply delta: %w: invalid instruction 0", ErrIntegrity)
		}
		n := int(cmd)
		if dr.Len() < n {
			return nil, fmt.Errorf("apply delta: %w: insert of %d bytes truncated", ErrIntegrity, n)
		}
		if uint64(len(out)+n) > resultSize {
			return nil, fmt.Errorf("apply delta: %w: output exceeds declared size %d", ErrIntegrity, resultSize)
		}
		start := len(delta) - dr.Len()
		out = append(out, delta[start:start+n]...)
		if _, err := dr.Seek(int64(n), io.SeekCurrent); err != nil {
			return nil, fmt.Errorf("apply delta: %w", err)
		}
	}

	if uint64(len(out)) != resultSize {
		return nil, fmt.Errorf("apply delta: %w: result size mismatch: got %d, declared %d", ErrIntegrity, len(out), resultSize)
	}
	return out, nil
}

// readCopyInstruction parses the optional offset (4) and size (3) bytes of
// a copy instruction. A size of zero means 0x10000.
func readCopyInstruction(cmd byte, r io.ByteReader) (offset, size uint64, err error) {
	for i := uint(0); i < 4; i++ {
		if cmd&(1<<i) == 0 {
			continue
		}
		b, err := r.ReadByte()
		if err != nil {
			return 0, 0, fmt.Errorf("copy offset byte %d: %w", i, io.ErrUnexpectedEOF)
		}
		offset |= uint64(b) << (8 * i)
	}
	for i := uint(0); i < 3; i++ {
		if cmd&(1<<(4+i)) == 0 {
			continue
		}
		b, err := r.ReadByte()
		if err != nil {
			return 0, 0, fmt.Errorf("copy size byte %d: %w", i, io.ErrUnexpectedEOF)
		}
		size |= uint64(b) << (8 * i)
	}
	if size == 0 {
		size = 0x10000
	}
	return offset, size, nil
}

// deltaBuilder accumulates instructions for one delta stream.
type deltaBuilder struct {
	out     bytes.Buffer
	pending []byte
}

func newDeltaBuilder(baseSize, targetSize int) *deltaBuilder {
	b := &deltaBuilder{}
	b.out.Write(encodeDeltaVarint(uint64(baseSize)))
	b.out.Write(encodeDeltaVarint(uint64(targetSize)))
	return b
}

func (b *deltaBuilder) insert(p ...byte) {
	b.pending = append(b.pending, p...)
}

func (b *deltaBuilder) flushInsert() {
	for len(b.pending) > 0 {
		n := min(len(b.pending), maxInsertSize)
		b.out.WriteByte(byte(n))
		b.out.Write(b.pending[:n])
		b.pending = b.pending[n:]
	}
	b.pending = b.pending[:0]
}

func (b *deltaBuilder) copy(offset, size int) {
	b.flushInsert()
	for size > 0 {
		n := min(size, maxCopySize)
		cmd := byte(0x80)
		var args [7]byte
		nargs := 0
		for i := 0; i < 4; i++ {
			if v := byte(offset >> (8 * i)); v != 0 {
				cmd |= 1 << i
				args[nargs] = v
				nargs++
			}
		}
		for i := 0; i < 3; i++ {
			if v := byte(n >> (8 * i)); v != 0 {
				cmd |= 1 << (4 + i)
				args[nargs] = v
				nargs++
			}
		}
		b.out.WriteByte(cmd)
		b.out.Write(args[:nargs])
		offset += n
		size -= n
	}
}

func (b *deltaBuilder) bytes() []byte {
	b.flushInsert()
	return b.out.Bytes()
}

// ComputeDelta builds a delta that reconstructs target from base. Base is
// indexed in fixed-size blocks; each block hit in the target is extended
// forwards (and backwards over not-yet-flushed literals) before it becomes a
// copy instruction. Unmatched bytes become insert instructions.
func ComputeDelta(base, target []byte) []byte {
	blockSize := 16
	if len(base) < 256 {
		blockSize = minCopySize
	}

	index := make(map[string]int, len(base)/blockSize+1)
	for off := 0; off+blockSize <= len(base); off += blockSize {
		key := string(base[off : off+blockSize])
		if _, ok := index[key]; !ok {
			index[key] = off
		}
	}

	b := newDeltaBuilder(len(base), len(target))
	for i := 0; i < len(target); {
		if i+blockSize <= len(target) {
			if start, ok := index[string(target[i:i+blockSize])]; ok {
				end := start + blockSize
				j := i + blockSize
				for end < len(base) && j < len(target) && base[end] == target[j] {
					end++
					j++
				}
				// Pull matching literals back into the copy.
				for start > 0 && len(b.pending) > 0 && base[start-1] == b.pending[len(b.pending)-1] {
					start--
					b.pending = b.pending[:len(b.pending)-1]
				}
				if end-start >= minCopySize {
					b.copy(start, end-start)
					i = j
					continue
				}
			}
		}
		b.insert(target[i])
		i++
	}
	return b.bytes()
}

// buildInsertOnlyDelta returns a valid delta stream encoding target as
// literal inserts only.
func buildInsertOnlyDelta(base, target []byte) []byte {
	b := newDeltaBuilder(len(base), len(target))
	b.insert(target...)
	return b.bytes()
}
