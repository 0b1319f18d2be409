package object

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"hash"
	"strconv"
)

// HashSize is the length in bytes of a raw object hash.
const HashSize = sha1.Size

// Hash is the 20-byte SHA-1 identity of an object. The zero value never
// names a real object.
type Hash [HashSize]byte

// String returns the canonical 40-character lowercase hex form.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool { return h == Hash{} }

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash converts a 40-character hex string to a Hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) != 2*HashSize {
		return h, fmt.Errorf("parse hash %q: length must be %d hex chars, got %d", s, 2*HashSize, len(s))
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return Hash{}, fmt.Errorf("parse hash %q: %w", s, err)
	}
	return h, nil
}

// HashFromBytes copies a raw 20-byte digest into a Hash.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, fmt.Errorf("hash must be %d bytes, got %d", HashSize, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// ObjectHeader returns the canonical preamble "type len\0" that prefixes an
// object's content when computing its hash.
func ObjectHeader(objType ObjectType, size int64) []byte {
	out := make([]byte, 0, 32)
	out = append(out, objType.String()...)
	out = append(out, ' ')
	out = strconv.AppendInt(out, size, 10)
	out = append(out, 0)
	return out
}

// NewObjectHasher returns a SHA-1 digest already seeded with the object
// preamble for objType and size. Writing exactly size content bytes and
// calling Sum yields the object hash.
func NewObjectHasher(objType ObjectType, size int64) hash.Hash {
	h := sha1.New()
	h.Write(ObjectHeader(objType, size))
	return h
}

// HashObject computes the SHA-1 of the envelope "type len\0content".
func HashObject(objType ObjectType, data []byte) Hash {
	h := NewObjectHasher(objType, int64(len(data)))
	h.Write(data)
	var out Hash
	h.Sum(out[:0])
	return out
}

// SumHash reads the digest of h into a Hash.
func SumHash(h hash.Hash) Hash {
	var out Hash
	h.Sum(out[:0])
	return out
}
