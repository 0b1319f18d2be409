package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/packd/pkg/object"
	"github.com/odvcencio/packd/pkg/pack"
)

// Content types a pack endpoint may answer with.
const (
	ContentTypePack     = "application/x-git-packfile"
	ContentTypeSideband = "application/x-packd-sideband"
)

const errorBodyLimit = 64 << 10

// FetchOptions configures a Fetcher. Zero fields receive defaults.
type FetchOptions struct {
	Timeout      time.Duration // HTTP client timeout (default 10m)
	MaxAttempts  int           // retry attempts (default 3)
	ChannelDepth int           // chunks in flight between network and decoder (default 64)
	ChunkSize    int           // bytes per chunk for raw pack bodies (default 32KiB)
	Token        string        // optional bearer token
	Logger       logrus.FieldLogger
}

// Fetcher downloads packs over HTTP and decodes them while they arrive.
type Fetcher struct {
	httpClient  *http.Client
	maxAttempts int
	depth       int
	chunkSize   int
	token       string
	log         logrus.FieldLogger
}

// NewFetcher returns a Fetcher configured by opts.
func NewFetcher(opts FetchOptions) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.ChannelDepth <= 0 {
		opts.ChannelDepth = 64
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 32 << 10
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Fetcher{
		httpClient:  &http.Client{Timeout: opts.Timeout},
		maxAttempts: opts.MaxAttempts,
		depth:       opts.ChannelDepth,
		chunkSize:   opts.ChunkSize,
		token:       strings.TrimSpace(opts.Token),
		log:         log,
	}
}

// Fetch GETs url and feeds the response into dec through a channel pipe.
// The body may be a raw pack or sideband frames, optionally zstd-encoded.
// A transport failure part way through is reported as pack.ErrTruncated.
func (f *Fetcher) Fetch(ctx context.Context, url string, dec *pack.Decoder, sink func(*object.Object) error) (*pack.Pack, error) {
	g, gctx := errgroup.WithContext(ctx)
	// pipeCtx also ends once the decoder is done, so bytes after the
	// trailer cannot block the producer.
	pipeCtx, stopPipe := context.WithCancel(gctx)
	defer stopPipe()

	resp, err := f.get(pipeCtx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	var body io.Reader = resp.Body
	if isZstdEncoded(resp.Header.Get("Content-Encoding")) {
		zr, err := newZstdReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: decompress: %w", url, err)
		}
		defer zr.Close()
		body = zr
	}
	sideband := strings.HasPrefix(resp.Header.Get("Content-Type"), ContentTypeSideband)
	f.log.WithFields(logrus.Fields{
		"url":      url,
		"sideband": sideband,
		"encoding": resp.Header.Get("Content-Encoding"),
	}).Debug("streaming pack")

	r, w := pack.NewChannelPipe(pipeCtx, f.depth)
	var remoteErr *RemoteError
	g.Go(func() error {
		var err error
		if sideband {
			err = Demux(body, w, f.log)
		} else {
			err = pack.Pump(w, body, f.chunkSize)
		}
		if err != nil && pipeCtx.Err() != nil && gctx.Err() == nil {
			return nil
		}
		if errors.As(err, &remoteErr) {
			return err
		}
		if err != nil && !errors.Is(err, pack.ErrFraming) && !errors.Is(err, pack.ErrTruncated) {
			err = fmt.Errorf("%w: %w", pack.ErrTruncated, err)
		}
		return err
	})

	var p *pack.Pack
	g.Go(func() error {
		var err error
		p, err = dec.Decode(gctx, r, sink)
		stopPipe()
		return err
	})
	err = g.Wait()
	if remoteErr != nil {
		// The decoder only saw the stream end early; the server said why.
		return nil, fmt.Errorf("fetch %s: %w", url, remoteErr)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	return p, nil
}

func (f *Fetcher) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", ContentTypePack+", "+ContentTypeSideband)
	req.Header.Set("Accept-Encoding", "zstd")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := retryDo(f.httpClient, req, f.maxAttempts)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("remote request failed (%s %s): %d %s", req.Method, req.URL.Path, resp.StatusCode, msg)
	}
	return resp, nil
}
