package pack

import (
	"fmt"
	"io"
	"sort"

	"github.com/odvcencio/packd/pkg/object"
)

const (
	defaultWindow   = 10
	defaultMaxDepth = 50
)

// EncodeOptions controls delta selection in Encode.
type EncodeOptions struct {
	// Window is how many previously written objects are tried as delta
	// bases. Zero means 10; a negative value disables deltas.
	Window int
	// MaxDepth bounds delta chain length. Zero means 50.
	MaxDepth int
	// ThinBases are objects the receiver already has. They are not written
	// but may serve as REF_DELTA bases, producing a thin pack.
	ThinBases []*object.Object
}

// EncodeResult summarizes a written pack.
type EncodeResult struct {
	Checksum  object.Hash
	Entries   []IndexEntry
	OfsDeltas int
	RefDeltas int
}

type windowSlot struct {
	obj    *object.Object
	offset int64
	depth  int
}

// Encode writes objs as a pack to w in the given order. Each object is
// delta-compressed against the candidate of the same type that shrinks it
// the most, provided the delta is at most half the object's size.
func Encode(w io.Writer, objs []*object.Object, opts EncodeOptions) (*EncodeResult, error) {
	if opts.Window == 0 {
		opts.Window = defaultWindow
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = defaultMaxDepth
	}

	pw, err := NewWriter(w, uint32(len(objs)))
	if err != nil {
		return nil, err
	}

	res := &EncodeResult{}
	window := make([]windowSlot, 0, max(opts.Window, 0))

	for _, obj := range objs {
		var (
			best      []byte
			bestSlot  *windowSlot
			bestThin  *object.Object
			offset    int64
			writeErr  error
			threshold = len(obj.Data) / 2
		)
		if opts.Window > 0 {
			for i := range window {
				slot := &window[i]
				if slot.obj.Type != obj.Type || slot.depth >= opts.MaxDepth {
					continue
				}
				if d := ComputeDelta(slot.obj.Data, obj.Data); len(d) <= threshold && (best == nil || len(d) < len(best)) {
					best, bestSlot = d, slot
				}
			}
			for _, base := range opts.ThinBases {
				if base.Type != obj.Type || base.Hash == obj.Hash {
					continue
				}
				if d := ComputeDelta(base.Data, obj.Data); len(d) <= threshold && (best == nil || len(d) < len(best)) {
					best, bestSlot, bestThin = d, nil, base
				}
			}
		}

		objDepth := 0
		switch {
		case bestThin != nil:
			offset, writeErr = pw.writeRefDelta(bestThin.Hash, best, obj.Hash)
			objDepth = 1
			res.RefDeltas++
		case bestSlot != nil:
			offset, writeErr = pw.writeOfsDelta(bestSlot.offset, best, obj.Hash)
			objDepth = bestSlot.depth + 1
			res.OfsDeltas++
		default:
			offset, writeErr = pw.WriteObject(obj)
		}
		if writeErr != nil {
			return nil, fmt.Errorf("encode %s: %w", obj.Hash, writeErr)
		}

		if opts.Window > 0 {
			window = append(window, windowSlot{obj: obj, offset: offset, depth: objDepth})
			if len(window) > opts.Window {
				window = window[1:]
			}
		}
	}

	sum, err := pw.Finish()
	if err != nil {
		return nil, err
	}
	res.Checksum = sum
	res.Entries = pw.Entries()
	return res, nil
}

// SortForDeltas orders objs for Encode: grouped by type, larger objects
// first, so that later and usually smaller versions find a base in the
// window.
func SortForDeltas(objs []*object.Object) {
	sort.SliceStable(objs, func(i, j int) bool {
		if objs[i].Type != objs[j].Type {
			return objs[i].Type < objs[j].Type
		}
		return len(objs[i].Data) > len(objs[j].Data)
	})
}
