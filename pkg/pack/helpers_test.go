package pack

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/odvcencio/packd/pkg/object"
)

func blob(s string) *object.Object {
	return object.NewObject(object.TypeBlob, []byte(s))
}

// buildPack writes n entries with fn and returns the finished pack bytes.
func buildPack(t *testing.T, n uint32, fn func(w *Writer)) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := NewWriter(&buf, n)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	fn(w)
	if _, err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return buf.Bytes()
}

func mustOffset(t *testing.T) func(int64, error) int64 {
	t.Helper()
	return func(off int64, err error) int64 {
		t.Helper()
		if err != nil {
			t.Fatalf("write entry: %v", err)
		}
		return off
	}
}

func decodeAll(t *testing.T, data []byte, opts Options) ([]*object.Object, *Pack, error) {
	t.Helper()
	var objs []*object.Object
	p, err := NewDecoder(opts).Decode(context.Background(), bytes.NewReader(data), func(o *object.Object) error {
		objs = append(objs, o)
		return nil
	})
	return objs, p, err
}

func sortedObjects(objs []*object.Object) []*object.Object {
	out := append([]*object.Object(nil), objs...)
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Hash[:], out[j].Hash[:]) < 0
	})
	return out
}

func isDecodeError(err error) bool {
	return errors.Is(err, ErrFraming) ||
		errors.Is(err, ErrTruncated) ||
		errors.Is(err, ErrIntegrity) ||
		errors.Is(err, ErrUnresolvedDelta)
}
