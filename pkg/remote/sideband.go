package remote

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/odvcencio/packd/pkg/pack"
)

// Sideband channel identifiers.
const (
	SidebandData     byte = 0x01
	SidebandProgress byte = 0x02
	SidebandError    byte = 0x03
)

// maxFrameSize bounds a single frame so a corrupt length prefix cannot
// force a huge allocation.
const maxFrameSize = 1 << 20

// RemoteError carries the message of a sideband error frame.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return "remote error: " + e.Message }

// SidebandWriter writes length-prefixed sideband frames.
// Frame format: [4 bytes big-endian length][1 byte channel][payload]
type SidebandWriter struct {
	w io.Writer
}

func NewSidebandWriter(w io.Writer) *SidebandWriter {
	return &SidebandWriter{w: w}
}

func (sw *SidebandWriter) writeFrame(channel byte, data []byte) error {
	var hdr [5]byte
	binary.BigEndian.PutUint32(hdr[:4], uint32(1+len(data)))
	hdr[4] = channel
	if _, err := sw.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if len(data) > 0 {
		if _, err := sw.w.Write(data); err != nil {
			return fmt.Errorf("write payload: %w", err)
		}
	}
	return nil
}

// Write sends p as data frames no larger than maxFrameSize.
func (sw *SidebandWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		n := min(len(p), maxFrameSize-1)
		if err := sw.writeFrame(SidebandData, p[:n]); err != nil {
			return written, err
		}
		written += n
		p = p[n:]
	}
	return written, nil
}

func (sw *SidebandWriter) WriteProgress(msg string) error {
	return sw.writeFrame(SidebandProgress, []byte(msg))
}

func (sw *SidebandWriter) WriteError(msg string) error {
	return sw.writeFrame(SidebandError, []byte(msg))
}

// SidebandReader reads length-prefixed sideband frames.
type SidebandReader struct {
	r   io.Reader
	hdr [5]byte
}

func NewSidebandReader(r io.Reader) *SidebandReader {
	return &SidebandReader{r: r}
}

// ReadFrame reads one sideband frame, returning channel and payload.
// Returns io.EOF when no more frames are available.
func (sr *SidebandReader) ReadFrame() (byte, []byte, error) {
	if _, err := io.ReadFull(sr.r, sr.hdr[:4]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, nil, fmt.Errorf("read frame length: %w", pack.ErrTruncated)
		}
		return 0, nil, err
	}
	frameLen := binary.BigEndian.Uint32(sr.hdr[:4])
	if frameLen < 1 || frameLen > maxFrameSize {
		return 0, nil, fmt.Errorf("sideband frame length %d: %w", frameLen, pack.ErrFraming)
	}

	frame := make([]byte, frameLen)
	if _, err := io.ReadFull(sr.r, frame); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, nil, fmt.Errorf("read frame: %w", pack.ErrTruncated)
		}
		return 0, nil, fmt.Errorf("read frame: %w", err)
	}
	return frame[0], frame[1:], nil
}

// Demux reads sideband frames from r until EOF, writing data frames to w
// and logging progress frames. w is always closed on return, so the pipe's
// reader sees the end of the stream. An error frame ends the stream with a
// *RemoteError.
func Demux(r io.Reader, w *pack.ChannelWriter, log logrus.FieldLogger) error {
	defer w.Close()
	sr := NewSidebandReader(r)
	for {
		channel, payload, err := sr.ReadFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("sideband: %w", err)
		}
		switch channel {
		case SidebandData:
			if _, err := w.Write(payload); err != nil {
				return fmt.Errorf("sideband: %w", err)
			}
		case SidebandProgress:
			if log != nil {
				log.WithField("remote", strings.TrimRight(string(payload), "\r\n")).Info("progress")
			}
		case SidebandError:
			return &RemoteError{Message: strings.TrimSpace(string(payload))}
		default:
			return fmt.Errorf("sideband: unknown channel %d: %w", channel, pack.ErrFraming)
		}
	}
}
