package pack

import (
	"bytes"
	"errors"
	"testing"

	"github.com/odvcencio/packd/pkg/object"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{Version: 2, NumObjects: 42}
	raw := h.Marshal()
	if len(raw) != 12 {
		t.Fatalf("len = %d, want 12", len(raw))
	}

	got, err := ReadHeader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if *got != h {
		t.Fatalf("header = %+v, want %+v", *got, h)
	}
}

func TestUnmarshalHeaderErrors(t *testing.T) {
	if _, err := UnmarshalHeader([]byte("NOPE\x00\x00\x00\x02\x00\x00\x00\x01")); !errors.Is(err, ErrFraming) {
		t.Fatalf("bad magic err = %v, want ErrFraming", err)
	}
	if _, err := UnmarshalHeader([]byte("PACK\x00\x00\x00\x01\x00\x00\x00\x01")); !errors.Is(err, ErrFraming) {
		t.Fatalf("version 1 err = %v, want ErrFraming", err)
	}
	if _, err := UnmarshalHeader([]byte("PACK")); !errors.Is(err, ErrTruncated) {
		t.Fatalf("short err = %v, want ErrTruncated", err)
	}
}

func TestEntryHeaderRoundTrip(t *testing.T) {
	types := []object.ObjectType{object.TypeCommit, object.TypeTree, object.TypeBlob, object.TypeTag, object.TypeOfsDelta, object.TypeRefDelta}
	sizes := []uint64{0, 1, 15, 16, 127, 128, 4095, 1 << 20, 1<<32 + 3}
	for _, typ := range types {
		for _, size := range sizes {
			enc := encodeEntryHeader(typ, size)
			got, err := readEntryHeader(bytes.NewReader(enc))
			if err != nil {
				t.Fatalf("%s/%d: %v", typ, size, err)
			}
			if got.Type != typ || got.Size != int64(size) {
				t.Fatalf("%s/%d: decoded %+v", typ, size, got)
			}
		}
	}
}

func TestEntryHeaderRejects(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"type 0", []byte{0x05}, ErrFraming},
		{"type 5", []byte{0x55}, ErrFraming},
		{"empty", nil, ErrTruncated},
		{"continuation cut", []byte{0xb5}, ErrTruncated},
		{"too long", []byte{0xbf, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01}, ErrFraming},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := readEntryHeader(bytes.NewReader(tt.data)); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestOfsDistanceRoundTrip(t *testing.T) {
	for _, want := range []uint64{1, 2, 10, 127, 128, 255, 16511, 16512, 1 << 20, (1 << 31) + 17} {
		enc := encodeOfsDistance(want)
		got, err := readOfsDistance(bytes.NewReader(enc))
		if err != nil {
			t.Fatalf("distance %d: %v", want, err)
		}
		if uint64(got) != want {
			t.Fatalf("distance round trip: got %d want %d", got, want)
		}
	}
}
