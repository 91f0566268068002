// Package icy reads in-band ICY (SHOUTcast) title metadata from an HTTP audio stream.
package icy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

const (
	// DefaultBufferSize is the audio read chunk size.
	DefaultBufferSize = 1024
	// DefaultUserAgent is sent when none is configured.
	DefaultUserAgent = "webstream/1.0"

	metaBlockUnit = 16
)

var streamTitlePattern = regexp.MustCompile(`(?s)StreamTitle='(.*?)';`)

// TitleHandler receives each new, non-empty raw title.
type TitleHandler func(rawTitle string)

// Reader demultiplexes one ICY connection into discarded audio bytes and title events.
// A Reader is single-use: once stopped it cannot be restarted.
type Reader struct {
	client    *http.Client
	userAgent string
	bufSize   int
	handler   TitleHandler

	running atomic.Bool
	metaInt atomic.Int64

	titleMu   sync.RWMutex
	lastTitle string
}

// Option configures a Reader.
type Option func(*Reader)

// WithHTTPClient sets the HTTP client. The client must not set a total timeout,
// since the connection stays open for the life of the stream.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Reader) {
		if c != nil {
			r.client = c
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(r *Reader) {
		if ua != "" {
			r.userAgent = ua
		}
	}
}

// WithBufferSize sets the audio read chunk size.
func WithBufferSize(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.bufSize = n
		}
	}
}

// NewReader creates a reader that reports titles to handler.
func NewReader(handler TitleHandler, opts ...Option) *Reader {
	r := &Reader{
		client:    http.DefaultClient,
		userAgent: DefaultUserAgent,
		bufSize:   DefaultBufferSize,
		handler:   handler,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.running.Store(true)
	return r
}

// MetaInt returns the metadata interval announced by the server, 0 before connect
// or when the stream carries no metadata.
func (r *Reader) MetaInt() int {
	return int(r.metaInt.Load())
}

// LastTitle returns the last emitted title.
func (r *Reader) LastTitle() string {
	r.titleMu.RLock()
	defer r.titleMu.RUnlock()
	return r.lastTitle
}

// Stop asks the read loop to exit at the next buffer boundary.
func (r *Reader) Stop() {
	r.running.Store(false)
}

// Running reports whether Stop has not been called.
func (r *Reader) Running() bool {
	return r.running.Load()
}

// Run connects to url and reads until stopped, cancelled or the connection fails.
// A stream without an icy-metaint header is not an error: Run returns nil at once.
func (r *Reader) Run(ctx context.Context, url string) error {
	target, err := ResolveStreamURL(ctx, r.client, url, r.userAgent)
	if err != nil {
		return errors.Wrap(err, "icy: failed to resolve stream url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return errors.Wrap(err, "icy: failed to create request")
	}
	req.Header.Set("Icy-MetaData", "1")
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.Wrap(err, "icy: failed to connect")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return errors.Newf("icy: unexpected status %d", resp.StatusCode)
	}

	metaInt := parseMetaInt(resp.Header.Get("icy-metaint"))
	if metaInt <= 0 {
		zlog.Debug().Msgf("icy: no in-band metadata: url=%s", target)
		return nil
	}
	r.metaInt.Store(int64(metaInt))
	zlog.Debug().Msgf("icy: connected: url=%s metaint=%d", target, metaInt)

	return r.loop(ctx, resp.Body, metaInt)
}

// loop reads exactly metaInt audio bytes, then one length byte and L*16 metadata bytes.
func (r *Reader) loop(ctx context.Context, body io.Reader, metaInt int) error {
	buf := make([]byte, r.bufSize)
	count := 0

	for r.running.Load() {
		if ctx.Err() != nil {
			return nil
		}

		want := len(buf)
		if remaining := metaInt - count; remaining < want {
			want = remaining
		}

		n, err := body.Read(buf[:want])
		count += n
		if err != nil {
			if ctx.Err() != nil || !r.running.Load() {
				return nil
			}
			return errors.Wrap(err, "icy: failed to read audio")
		}
		if count < metaInt {
			continue
		}
		count = 0

		title, err := readMetadata(body)
		if err != nil {
			if ctx.Err() != nil || !r.running.Load() {
				return nil
			}
			return err
		}
		r.emit(title)
	}
	return nil
}

func (r *Reader) emit(title string) {
	if title == "" {
		return
	}
	r.titleMu.Lock()
	if title == r.lastTitle {
		r.titleMu.Unlock()
		return
	}
	r.lastTitle = title
	r.titleMu.Unlock()

	if r.handler != nil {
		r.handler(title)
	}
}

// readMetadata reads one length-prefixed metadata block and returns its title.
func readMetadata(body io.Reader) (string, error) {
	var lenByte [1]byte
	if _, err := io.ReadFull(body, lenByte[:]); err != nil {
		return "", errors.Wrap(err, "icy: failed to read metadata length")
	}
	size := int(lenByte[0]) * metaBlockUnit
	if size == 0 {
		return "", nil
	}
	block := make([]byte, size)
	if _, err := io.ReadFull(body, block); err != nil {
		return "", errors.Wrap(err, "icy: failed to read metadata block")
	}
	return ParseStreamTitle(block), nil
}

// ParseStreamTitle extracts the StreamTitle value from a metadata block.
func ParseStreamTitle(block []byte) string {
	block = bytes.TrimRight(block, "\x00")
	m := streamTitlePattern.FindSubmatch(block)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(string(m[1]))
}

func parseMetaInt(v string) int {
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0
	}
	return n
}
