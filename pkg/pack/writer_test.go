package pack

import (
	"bytes"
	"crypto/sha1"
	"testing"

	"github.com/odvcencio/packd/pkg/object"
)

func TestWriterSingleBlob(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, 1)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	off, err := w.WriteObject(blob("hello"))
	if err != nil {
		t.Fatalf("WriteObject: %v", err)
	}
	if off != headerSize {
		t.Fatalf("offset = %d, want %d", off, headerSize)
	}
	sum, err := w.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}

	data := buf.Bytes()
	if string(data[:4]) != "PACK" {
		t.Fatalf("magic = %q", data[:4])
	}
	want := sha1.Sum(data[:len(data)-trailerSize])
	if !bytes.Equal(data[len(data)-trailerSize:], want[:]) || sum != want {
		t.Fatalf("trailer = %x, want %x", data[len(data)-trailerSize:], want)
	}
}

func TestWriterCountMismatch(t *testing.T) {
	w, err := NewWriter(&bytes.Buffer{}, 2)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if _, err := w.WriteObject(blob("one")); err != nil {
		t.Fatalf("WriteObject: %v", err)
	}
	if _, err := w.Finish(); err == nil {
		t.Fatalf("Finish accepted a short pack")
	}
}

func TestWriterRejectsExtraAndAfterFinish(t *testing.T) {
	w, err := NewWriter(&bytes.Buffer{}, 1)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if _, err := w.WriteObject(blob("one")); err != nil {
		t.Fatalf("WriteObject: %v", err)
	}
	if _, err := w.WriteObject(blob("two")); err == nil {
		t.Fatalf("WriteObject beyond declared count succeeded")
	}
	if _, err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if _, err := w.Finish(); err == nil {
		t.Fatalf("second Finish succeeded")
	}
}

func TestWriterRejectsBadDeltaBase(t *testing.T) {
	w, err := NewWriter(&bytes.Buffer{}, 2)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	base := blob("base")
	if _, err := w.WriteOfsDelta(headerSize, base, blob("base2")); err == nil {
		t.Fatalf("WriteOfsDelta with base at current offset succeeded")
	}
	if _, err := w.WriteObject(&object.Object{Type: object.TypeOfsDelta}); err == nil {
		t.Fatalf("WriteObject of a delta type succeeded")
	}
}
