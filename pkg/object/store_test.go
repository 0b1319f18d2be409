package object

import (
	"errors"
	"sync"
	"testing"
)

func TestHashObjectKnownValues(t *testing.T) {
	tests := []struct {
		objType ObjectType
		data    string
		want    string
	}{
		{TypeBlob, "", "e69de29bb2d1d6434b8b29ae775ad8c2e48c5391"},
		{TypeBlob, "hello", "b6fc4c620b67d95f953a5c1c1230aaab5db5a1b0"},
		{TypeBlob, "hello world", "95d09f2b10159347eece71399a7e2e907ea3df4f"},
		{TypeTree, "", "4b825dc642cb6eb9a060e54bf8d69288fbee4904"},
	}
	for _, tt := range tests {
		if got := HashObject(tt.objType, []byte(tt.data)).String(); got != tt.want {
			t.Fatalf("HashObject(%s, %q) = %s, want %s", tt.objType, tt.data, got, tt.want)
		}
	}
}

func TestObjectHeader(t *testing.T) {
	if got := string(ObjectHeader(TypeCommit, 123)); got != "commit 123\x00" {
		t.Fatalf("ObjectHeader = %q", got)
	}
}

func TestParseHash(t *testing.T) {
	const s = "b6fc4c620b67d95f953a5c1c1230aaab5db5a1b0"
	h, err := ParseHash(s)
	if err != nil {
		t.Fatalf("ParseHash: %v", err)
	}
	if h.String() != s {
		t.Fatalf("String = %s, want %s", h, s)
	}
	for _, bad := range []string{"", "b6fc", s + "00", "zz" + s[2:]} {
		if _, err := ParseHash(bad); err == nil {
			t.Fatalf("ParseHash(%q) succeeded", bad)
		}
	}

	text, err := h.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	var back Hash
	if err := back.UnmarshalText(text); err != nil || back != h {
		t.Fatalf("UnmarshalText = %s, %v", back, err)
	}
}

func TestObjectTypeNames(t *testing.T) {
	for _, typ := range []ObjectType{TypeCommit, TypeTree, TypeBlob, TypeTag} {
		got, err := ParseObjectType(typ.String())
		if err != nil || got != typ {
			t.Fatalf("ParseObjectType(%q) = %v, %v", typ.String(), got, err)
		}
		if !typ.IsBase() || typ.IsDelta() {
			t.Fatalf("%s: IsBase=%v IsDelta=%v", typ, typ.IsBase(), typ.IsDelta())
		}
	}
	for _, typ := range []ObjectType{TypeOfsDelta, TypeRefDelta} {
		if typ.IsBase() || !typ.IsDelta() || !typ.IsValid() {
			t.Fatalf("%s: classification wrong", typ)
		}
	}
	if ObjectType(5).IsValid() || ObjectType(0).IsValid() {
		t.Fatalf("reserved types reported valid")
	}
}

func TestMemoryStorePutGet(t *testing.T) {
	s := NewMemoryStore()
	obj := NewObject(TypeBlob, []byte("content"))

	if err := s.Put(obj.Hash, obj.Type, obj.Data); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(obj.Hash)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Type != TypeBlob || string(got.Data) != "content" || got.Hash != obj.Hash {
		t.Fatalf("Get = %+v", got)
	}
	if ok, err := Has(s, obj.Hash); !ok || err != nil {
		t.Fatalf("Has = %v, %v", ok, err)
	}
}

func TestMemoryStoreMissing(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(HashObject(TypeBlob, []byte("nope")))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get err = %v, want ErrNotFound", err)
	}
	if ok, err := Has(s, HashObject(TypeBlob, []byte("nope"))); ok || err != nil {
		t.Fatalf("Has = %v, %v", ok, err)
	}
}

func TestMemoryStoreRejectsHashMismatch(t *testing.T) {
	s := NewMemoryStore()
	h := HashObject(TypeBlob, []byte("a"))
	if err := s.Put(h, TypeBlob, []byte("b")); !errors.Is(err, ErrHashMismatch) {
		t.Fatalf("Put err = %v, want ErrHashMismatch", err)
	}
	if err := s.Put(h, TypeOfsDelta, []byte("a")); err == nil {
		t.Fatalf("Put accepted a delta type")
	}
}

func TestMemoryStoreConcurrentIdempotentPut(t *testing.T) {
	s := NewMemoryStore()
	obj := NewObject(TypeBlob, []byte("shared"))

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Put(obj.Hash, obj.Type, obj.Data)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Put: %v", err)
		}
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
}

func TestCheckDuplicate(t *testing.T) {
	existing := NewObject(TypeBlob, []byte("x"))
	if err := CheckDuplicate(existing, TypeBlob, []byte("x")); err != nil {
		t.Fatalf("identical: %v", err)
	}
	if err := CheckDuplicate(existing, TypeBlob, []byte("y")); !errors.Is(err, ErrDuplicateMismatch) {
		t.Fatalf("different content err = %v, want ErrDuplicateMismatch", err)
	}
	if err := CheckDuplicate(existing, TypeTree, []byte("x")); !errors.Is(err, ErrDuplicateMismatch) {
		t.Fatalf("different type err = %v, want ErrDuplicateMismatch", err)
	}
}
