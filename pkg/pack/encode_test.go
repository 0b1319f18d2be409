package pack

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/odvcencio/packd/pkg/object"
)

func versions(n int) []*object.Object {
	var out []*object.Object
	var b bytes.Buffer
	for i := 0; i < 50; i++ {
		fmt.Fprintf(&b, "line %d: some file content that stays the same\n", i)
	}
	for v := 0; v < n; v++ {
		fmt.Fprintf(&b, "appended in version %d\n", v)
		out = append(out, blob(b.String()))
	}
	return out
}

func TestEncodeUsesDeltas(t *testing.T) {
	objs := versions(6)
	objs = append(objs, object.NewObject(object.TypeCommit, []byte("tree 4b825dc642cb6eb9a060e54bf8d69288fbee4904\n\nmsg\n")))

	var buf bytes.Buffer
	res, err := Encode(&buf, objs, EncodeOptions{})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if res.OfsDeltas != 5 {
		t.Fatalf("OfsDeltas = %d, want 5", res.OfsDeltas)
	}
	if len(res.Entries) != len(objs) {
		t.Fatalf("Entries = %d, want %d", len(res.Entries), len(objs))
	}

	got, p, err := decodeAll(t, buf.Bytes(), Options{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.Checksum != res.Checksum {
		t.Fatalf("Checksum = %s, want %s", p.Checksum, res.Checksum)
	}
	if diff := cmp.Diff(sortedObjects(objs), sortedObjects(got)); diff != "" {
		t.Fatalf("objects (-want +got):\n%s", diff)
	}
}

func TestEncodeWithoutDeltas(t *testing.T) {
	objs := versions(3)
	var withDeltas, without bytes.Buffer
	if _, err := Encode(&withDeltas, objs, EncodeOptions{}); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	res, err := Encode(&without, objs, EncodeOptions{Window: -1})
	if err != nil {
		t.Fatalf("Encode without deltas: %v", err)
	}
	if res.OfsDeltas != 0 || res.RefDeltas != 0 {
		t.Fatalf("deltas = %d/%d, want none", res.OfsDeltas, res.RefDeltas)
	}
	if without.Len() <= withDeltas.Len() {
		t.Fatalf("full pack %d bytes not larger than delta pack %d", without.Len(), withDeltas.Len())
	}
}

func TestEncodeMaxDepth(t *testing.T) {
	objs := versions(6)
	var buf bytes.Buffer
	res, err := Encode(&buf, objs, EncodeOptions{MaxDepth: 2})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if res.OfsDeltas == 0 {
		t.Fatalf("expected some deltas")
	}
	got, _, err := decodeAll(t, buf.Bytes(), Options{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(sortedObjects(objs), sortedObjects(got)); diff != "" {
		t.Fatalf("objects (-want +got):\n%s", diff)
	}
}

func TestEncodeThinPack(t *testing.T) {
	all := versions(3)
	have, send := all[:1], all[1:2]

	var buf bytes.Buffer
	res, err := Encode(&buf, send, EncodeOptions{ThinBases: have})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if res.RefDeltas != 1 {
		t.Fatalf("RefDeltas = %d, want 1", res.RefDeltas)
	}

	if _, _, err := decodeAll(t, buf.Bytes(), Options{}); err == nil {
		t.Fatalf("thin pack decoded without its base")
	}

	store := object.NewMemoryStore()
	if err := store.Put(have[0].Hash, have[0].Type, have[0].Data); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, _, err := decodeAll(t, buf.Bytes(), Options{Store: store})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(send, got); diff != "" {
		t.Fatalf("objects (-want +got):\n%s", diff)
	}
}
