package pack

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestChannelPipeDeliversInOrder(t *testing.T) {
	ctx := context.Background()
	r, w := NewChannelPipe(ctx, 2)

	want := bytes.Repeat([]byte("chunked stream "), 300)
	go func() { _ = Pump(w, bytes.NewReader(want), 5) }()

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %d bytes, want %d", len(got), len(want))
	}
}

func TestChannelReaderReadByte(t *testing.T) {
	ch := make(chan []byte, 3)
	ch <- []byte("ab")
	ch <- []byte{}
	ch <- []byte("c")
	close(ch)

	r := NewChannelReader(context.Background(), ch)
	var got []byte
	for {
		b, err := r.ReadByte()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("ReadByte: %v", err)
		}
		got = append(got, b)
	}
	if string(got) != "abc" {
		t.Fatalf("ReadByte sequence = %q, want %q", got, "abc")
	}
}

func TestChannelWriterCopiesInput(t *testing.T) {
	ctx := context.Background()
	r, w := NewChannelPipe(ctx, 1)

	buf := []byte("first")
	if _, err := w.Write(buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	copy(buf, "XXXXX")
	w.Close()

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "first" {
		t.Fatalf("got %q, want %q", got, "first")
	}
}

func TestChannelWriterAfterClose(t *testing.T) {
	_, w := NewChannelPipe(context.Background(), 1)
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := w.Write([]byte("x")); !errors.Is(err, ErrPipeClosed) {
		t.Fatalf("Write after Close err = %v, want ErrPipeClosed", err)
	}
}

func TestChannelWriterBlocksUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	_, w := NewChannelPipe(ctx, 1)
	if _, err := w.Write([]byte("fills the channel")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := w.Write([]byte("blocks"))
		errc <- err
	}()

	select {
	case err := <-errc:
		t.Fatalf("Write returned %v while channel was full", err)
	case <-time.After(20 * time.Millisecond):
	}
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("Write err = %v, want context.Canceled", err)
	}
}

func TestChannelReaderCancelReadsAsEOF(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r, _ := NewChannelPipe(ctx, 1)
	cancel()

	n, err := r.Read(make([]byte, 8))
	if n != 0 || !errors.Is(err, io.EOF) {
		t.Fatalf("Read = %d, %v; want 0, EOF", n, err)
	}
}

type failingReader struct{ err error }

func (f failingReader) Read([]byte) (int, error) { return 0, f.err }

func TestPumpReturnsSourceError(t *testing.T) {
	boom := errors.New("connection reset")
	r, w := NewChannelPipe(context.Background(), 1)
	if err := Pump(w, failingReader{boom}, 16); !errors.Is(err, boom) {
		t.Fatalf("Pump err = %v, want %v", err, boom)
	}
	if _, err := r.ReadByte(); !errors.Is(err, io.EOF) {
		t.Fatalf("ReadByte after failed pump = %v, want EOF", err)
	}
}
