// Package pack reads and writes Git version 2 pack streams.
//
// A Decoder parses a pack sequentially from any byte source, verifies every
// object by its SHA-1 identity, resolves OFS_DELTA and REF_DELTA chains on a
// bounded worker pool and checks the trailing pack checksum before handing
// any object to its caller. A Writer produces packs with full or
// delta-compressed entries, and WriteIndex/ReadIndex handle idx v2 files.
package pack

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/odvcencio/packd/pkg/object"
)

// Error classes. Every error returned by a Decoder wraps exactly one of
// these, so callers can tell a dropped connection (ErrTruncated) from bad
// data (ErrFraming, ErrIntegrity, ErrUnresolvedDelta).
var (
	// ErrFraming covers a bad magic, an unsupported version, a malformed
	// entry header and a trailer checksum mismatch.
	ErrFraming = errors.New("pack framing error")

	// ErrTruncated reports that the byte source ended before a declared
	// length was satisfied.
	ErrTruncated = errors.New("pack truncated")

	// ErrIntegrity reports content that does not match what was declared:
	// object size, delta base/target length, zlib checksum or object hash.
	ErrIntegrity = errors.New("pack integrity error")

	// ErrUnresolvedDelta reports delta entries whose base appeared neither
	// in the stream nor in the backing store.
	ErrUnresolvedDelta = errors.New("unresolved delta")
)

// UnresolvedDeltaError lists the bases that could not be found once the
// whole pack had been read.
type UnresolvedDeltaError struct {
	// MissingHashes are REF_DELTA bases absent from both the pack and the
	// backing store.
	MissingHashes []object.Hash
	// MissingOffsets are OFS_DELTA base offsets that do not start an entry.
	MissingOffsets []int64
	// Pending is the number of entries left unresolved.
	Pending int
}

func (e *UnresolvedDeltaError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d entries pending", ErrUnresolvedDelta, e.Pending)
	if len(e.MissingHashes) > 0 {
		parts := make([]string, len(e.MissingHashes))
		for i, h := range e.MissingHashes {
			parts[i] = h.String()
		}
		fmt.Fprintf(&b, "; missing bases %s", strings.Join(parts, ", "))
	}
	if len(e.MissingOffsets) > 0 {
		fmt.Fprintf(&b, "; missing base offsets %v", e.MissingOffsets)
	}
	return b.String()
}

func (e *UnresolvedDeltaError) Unwrap() error { return ErrUnresolvedDelta }

// sourceError classifies a failure to read from the byte source. End of
// stream becomes ErrTruncated; any other transport error is wrapped together
// with ErrTruncated since entry boundaries cannot be recovered after it.
func sourceError(context string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%s: %w", context, ErrTruncated)
	}
	if errors.Is(err, ErrTruncated) || errors.Is(err, ErrFraming) || errors.Is(err, ErrIntegrity) {
		return fmt.Errorf("%s: %w", context, err)
	}
	return fmt.Errorf("%s: %w: %w", context, ErrTruncated, err)
}
