package pack

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrPipeClosed is returned by ChannelWriter.Write after Close.
var ErrPipeClosed = errors.New("channel pipe closed")

// ChannelReader adapts chunks delivered on a channel into a pull-style
// io.Reader and io.ByteReader. It keeps one current chunk and blocks for the
// next when it is exhausted. A closed channel or a cancelled context reads
// as io.EOF; the decoder reports that as ErrTruncated unless the trailer has
// already been consumed.
type ChannelReader struct {
	ctx   context.Context
	ch    <-chan []byte
	chunk []byte
	done  bool
}

// NewChannelReader returns a reader over chunks received from ch.
func NewChannelReader(ctx context.Context, ch <-chan []byte) *ChannelReader {
	return &ChannelReader{ctx: ctx, ch: ch}
}

// fill blocks until the current chunk holds data or the stream has ended.
func (cr *ChannelReader) fill() bool {
	for len(cr.chunk) == 0 {
		if cr.done {
			return false
		}
		select {
		case chunk, ok := <-cr.ch:
			if !ok {
				cr.done = true
				return false
			}
			cr.chunk = chunk
		case <-cr.ctx.Done():
			cr.done = true
			return false
		}
	}
	return true
}

// Read implements io.Reader.
func (cr *ChannelReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if !cr.fill() {
		return 0, io.EOF
	}
	n := copy(p, cr.chunk)
	cr.chunk = cr.chunk[n:]
	return n, nil
}

// ReadByte implements io.ByteReader.
func (cr *ChannelReader) ReadByte() (byte, error) {
	if !cr.fill() {
		return 0, io.EOF
	}
	b := cr.chunk[0]
	cr.chunk = cr.chunk[1:]
	return b, nil
}

// ChannelWriter is the producer side of a channel pipe. Writes copy their
// input and block while the channel is full.
type ChannelWriter struct {
	ctx       context.Context
	ch        chan<- []byte
	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

// Write sends a copy of p as one chunk. It fails once the context is
// cancelled or the writer is closed.
func (cw *ChannelWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.closed {
		return 0, ErrPipeClosed
	}
	chunk := append([]byte(nil), p...)
	select {
	case cw.ch <- chunk:
		return len(p), nil
	case <-cw.ctx.Done():
		return 0, cw.ctx.Err()
	}
}

// Close signals end of stream to the reader. It is safe to call more than
// once.
func (cw *ChannelWriter) Close() error {
	cw.closeOnce.Do(func() {
		cw.mu.Lock()
		cw.closed = true
		close(cw.ch)
		cw.mu.Unlock()
	})
	return nil
}

// NewChannelPipe returns a connected reader and writer. depth bounds the
// number of chunks in flight; a full channel blocks the writer.
func NewChannelPipe(ctx context.Context, depth int) (*ChannelReader, *ChannelWriter) {
	if depth < 1 {
		depth = 1
	}
	ch := make(chan []byte, depth)
	return NewChannelReader(ctx, ch), &ChannelWriter{ctx: ctx, ch: ch}
}

// Pump copies src into w in chunks of at most chunkSize bytes and closes w
// when src is exhausted or fails. It returns the first read or write error.
func Pump(w *ChannelWriter, src io.Reader, chunkSize int) error {
	defer w.Close()
	if chunkSize <= 0 {
		chunkSize = 32 << 10
	}
	buf := make([]byte, chunkSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
