package remote

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/odvcencio/packd/pkg/pack"
)

func TestSidebandRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	sw := NewSidebandWriter(&buf)

	if _, err := sw.Write([]byte("pack-data-1")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := sw.WriteProgress("50%"); err != nil {
		t.Fatalf("WriteProgress: %v", err)
	}
	if _, err := sw.Write([]byte("pack-data-2")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	sr := NewSidebandReader(&buf)
	var dataFrames [][]byte
	var progressFrames []string

	for {
		channel, payload, err := sr.ReadFrame()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		switch channel {
		case SidebandData:
			dataFrames = append(dataFrames, payload)
		case SidebandProgress:
			progressFrames = append(progressFrames, string(payload))
		}
	}

	if len(dataFrames) != 2 {
		t.Fatalf("data frames: %d, want 2", len(dataFrames))
	}
	if string(dataFrames[0]) != "pack-data-1" || string(dataFrames[1]) != "pack-data-2" {
		t.Fatalf("data = %q", dataFrames)
	}
	if len(progressFrames) != 1 || progressFrames[0] != "50%" {
		t.Fatalf("progress = %v", progressFrames)
	}
}

func TestSidebandWriteSplitsLargePayload(t *testing.T) {
	var buf bytes.Buffer
	payload := bytes.Repeat([]byte{0xab}, maxFrameSize+10)
	n, err := NewSidebandWriter(&buf).Write(payload)
	if err != nil || n != len(payload) {
		t.Fatalf("Write = %d, %v", n, err)
	}

	sr := NewSidebandReader(&buf)
	var got []byte
	frames := 0
	for {
		_, p, err := sr.ReadFrame()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		got = append(got, p...)
		frames++
	}
	if frames != 2 || !bytes.Equal(got, payload) {
		t.Fatalf("frames = %d, %d bytes", frames, len(got))
	}
}

func TestSidebandRejectsBadFrames(t *testing.T) {
	tests := map[string]struct {
		data []byte
		want error
	}{
		"zero length":      {[]byte{0, 0, 0, 0}, pack.ErrFraming},
		"oversized length": {[]byte{0x7f, 0, 0, 0, 1}, pack.ErrFraming},
		"short length":     {[]byte{0, 0}, pack.ErrTruncated},
		"short payload":    {[]byte{0, 0, 0, 5, 1, 'a'}, pack.ErrTruncated},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := NewSidebandReader(bytes.NewReader(tt.data)).ReadFrame()
			if !errors.Is(err, tt.want) {
				t.Fatalf("ReadFrame err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDemuxFeedsPipe(t *testing.T) {
	var buf bytes.Buffer
	sw := NewSidebandWriter(&buf)
	_, _ = sw.Write([]byte("hello"))
	_ = sw.WriteProgress("working...\n")
	_, _ = sw.Write([]byte(" world"))

	r, w := pack.NewChannelPipe(context.Background(), 8)
	if err := Demux(&buf, w, nil); err != nil {
		t.Fatalf("Demux: %v", err)
	}
	all, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(all) != "hello world" {
		t.Fatalf("data = %q, want %q", all, "hello world")
	}
}

func TestDemuxErrorFrame(t *testing.T) {
	var buf bytes.Buffer
	sw := NewSidebandWriter(&buf)
	_, _ = sw.Write([]byte("partial"))
	_ = sw.WriteError("disk full")

	r, w := pack.NewChannelPipe(context.Background(), 8)
	err := Demux(&buf, w, nil)
	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) || remoteErr.Message != "disk full" {
		t.Fatalf("Demux err = %v, want remote error", err)
	}
	// The pipe is closed so a reader cannot hang.
	if all, _ := io.ReadAll(r); string(all) != "partial" {
		t.Fatalf("data = %q", all)
	}
}
