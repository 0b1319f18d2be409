package pack

import (
	"errors"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/odvcencio/packd/pkg/object"
)

func TestCacheSpillsAndReloads(t *testing.T) {
	dir := t.TempDir()
	c := NewCache(CacheOptions{MemoryLimit: 10, SpillDir: dir})

	objs := []*object.Object{blob("first object"), blob("second object"), blob("third object")}
	for i, o := range objs {
		if _, err := c.Put(int64(12+i*100), o, false); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}
	if c.Spilled() != 2 {
		t.Fatalf("Spilled = %d, want 2", c.Spilled())
	}

	for i, o := range objs {
		got, ok, err := c.GetByOffset(int64(12 + i*100))
		if err != nil || !ok {
			t.Fatalf("GetByOffset %d: ok=%v err=%v", i, ok, err)
		}
		if diff := cmp.Diff(o, got); diff != "" {
			t.Fatalf("object %d (-want +got):\n%s", i, diff)
		}
	}

	var order []*object.Object
	if err := c.Each(func(o *object.Object) error {
		order = append(order, o)
		return nil
	}); err != nil {
		t.Fatalf("Each: %v", err)
	}
	if diff := cmp.Diff(objs, order); diff != "" {
		t.Fatalf("Each order (-want +got):\n%s", diff)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("spill directory left %d entries behind", len(entries))
	}
}

func TestCacheDuplicates(t *testing.T) {
	c := NewCache(CacheOptions{})
	defer c.Close()

	o := blob("same")
	if inserted, err := c.Put(12, o, false); err != nil || !inserted {
		t.Fatalf("first Put: inserted=%v err=%v", inserted, err)
	}
	if inserted, err := c.Put(40, o, false); err != nil || inserted {
		t.Fatalf("identical Put: inserted=%v err=%v", inserted, err)
	}
	if h, ok := c.HashAt(40); !ok || h != o.Hash {
		t.Fatalf("HashAt(40) = %s, %v", h, ok)
	}

	forged := &object.Object{Hash: o.Hash, Type: object.TypeBlob, Data: []byte("different")}
	if _, err := c.Put(60, forged, false); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("conflicting Put err = %v, want ErrIntegrity", err)
	}
	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}
}

func TestCacheExternalNotEmitted(t *testing.T) {
	c := NewCache(CacheOptions{})
	defer c.Close()

	ext, own := blob("external base"), blob("own object")
	if _, err := c.Put(-1, ext, true); err != nil {
		t.Fatalf("Put external: %v", err)
	}
	if _, err := c.Put(12, own, false); err != nil {
		t.Fatalf("Put own: %v", err)
	}
	if _, ok, _ := c.Get(ext.Hash); !ok {
		t.Fatalf("external base not retrievable")
	}

	var seen []object.Hash
	_ = c.Each(func(o *object.Object) error {
		seen = append(seen, o.Hash)
		return nil
	})
	if diff := cmp.Diff([]object.Hash{own.Hash}, seen); diff != "" {
		t.Fatalf("Each (-want +got):\n%s", diff)
	}
}
