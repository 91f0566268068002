package player

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/webstream/internal/app/playback"
	"github.com/osa030/webstream/internal/infra/config"
	"github.com/osa030/webstream/internal/infra/icy"
)

const resampleQuality = 4

// BeepEngine plays MP3 web streams through the system speaker.
// Live streams cannot be paused in place, so Pause drops the connection and
// Play reconnects at the live edge.
type BeepEngine struct {
	sampleRate beep.SampleRate
	bufferSize time.Duration
	userAgent  string
	client     *http.Client

	mu         sync.Mutex
	listener   playback.EngineListener
	items      []playback.MediaItem
	index      int
	playing    bool
	startedAt  time.Time
	gen        uint64
	currentURL string
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	speakerUp bool
}

// NewBeepEngine creates a speaker-backed engine.
func NewBeepEngine(cfg config.PlayerConfig) *BeepEngine {
	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	bufferMs := cfg.BufferMs
	if bufferMs <= 0 {
		bufferMs = 100
	}
	return &BeepEngine{
		sampleRate: beep.SampleRate(sampleRate),
		bufferSize: time.Duration(bufferMs) * time.Millisecond,
		userAgent:  cfg.UserAgent,
		client: &http.Client{
			// No overall timeout: the body is an endless stream.
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
				ResponseHeaderTimeout: 15 * time.Second,
			},
		},
		index: -1,
	}
}

func (e *BeepEngine) SetListener(l playback.EngineListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = l
}

// SetMediaItems replaces the list. The offset is ignored since live streams
// always start at the live edge.
func (e *BeepEngine) SetMediaItems(items []playback.MediaItem, startIndex int, offset time.Duration) error {
	if len(items) > 0 && (startIndex < 0 || startIndex >= len(items)) {
		return errors.Newf("start index %d out of range", startIndex)
	}
	e.mu.Lock()
	e.items = append([]playback.MediaItem(nil), items...)
	e.index = startIndex
	if e.playing && len(items) > 0 {
		// Keep the connection when the selected stream is unchanged.
		if e.cancel == nil || items[startIndex].URL != e.currentURL {
			e.startLocked()
		}
	} else {
		e.stopLocked()
		e.playing = false
	}
	e.mu.Unlock()

	if offset > 0 {
		zlog.Debug().Msgf("player: ignoring offset for live stream: offset=%v", offset)
	}
	return nil
}

func (e *BeepEngine) Prepare() error {
	e.mu.Lock()
	n := len(e.items)
	e.mu.Unlock()
	if n == 0 {
		return errNoItems
	}
	return nil
}

func (e *BeepEngine) Play() error {
	e.mu.Lock()
	if len(e.items) == 0 {
		e.mu.Unlock()
		return errNoItems
	}
	if e.playing {
		e.mu.Unlock()
		return nil
	}
	e.playing = true
	e.startLocked()
	l := e.listener
	e.mu.Unlock()

	if l != nil {
		l.OnPlayingChanged(true)
	}
	return nil
}

func (e *BeepEngine) Pause() error {
	e.mu.Lock()
	if !e.playing {
		e.mu.Unlock()
		return nil
	}
	e.playing = false
	e.stopLocked()
	l := e.listener
	e.mu.Unlock()

	if l != nil {
		l.OnPlayingChanged(false)
	}
	return nil
}

func (e *BeepEngine) SeekToIndex(index int) error {
	e.mu.Lock()
	if index < 0 || index >= len(e.items) {
		e.mu.Unlock()
		return errors.Newf("index %d out of range", index)
	}
	return e.moveLocked(index)
}

func (e *BeepEngine) Next() error {
	e.mu.Lock()
	if len(e.items) == 0 {
		e.mu.Unlock()
		return errNoItems
	}
	return e.moveLocked(wrap(e.index, 1, len(e.items)))
}

func (e *BeepEngine) Previous() error {
	e.mu.Lock()
	if len(e.items) == 0 {
		e.mu.Unlock()
		return errNoItems
	}
	return e.moveLocked(wrap(e.index, -1, len(e.items)))
}

// moveLocked switches streams and releases the lock before notifying.
func (e *BeepEngine) moveLocked(index int) error {
	changed := index != e.index
	e.index = index
	if e.playing {
		e.startLocked()
	}
	l := e.listener
	e.mu.Unlock()

	if changed && l != nil {
		l.OnIndexChanged(index)
	}
	return nil
}

func (e *BeepEngine) CurrentIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index
}

// Position returns the time spent on the current connection.
func (e *BeepEngine) Position() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.playing || e.startedAt.IsZero() {
		return 0
	}
	return time.Since(e.startedAt)
}

func (e *BeepEngine) IsPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

func (e *BeepEngine) SurfacesMetadata() bool {
	return false
}

func (e *BeepEngine) Release() error {
	e.mu.Lock()
	e.playing = false
	e.stopLocked()
	e.items = nil
	e.index = -1
	e.mu.Unlock()

	e.wg.Wait()
	return nil
}

// startLocked replaces the running connection with one for the current index.
func (e *BeepEngine) startLocked() {
	e.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.gen++
	e.startedAt = time.Now()

	item := e.items[e.index]
	e.currentURL = item.URL
	e.wg.Add(1)
	go e.stream(ctx, e.gen, item)
}

func (e *BeepEngine) stopLocked() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	e.cancel = nil
	e.gen++
	e.currentURL = ""
	e.startedAt = time.Time{}
	if e.speakerUp {
		speaker.Clear()
	}
}

// initSpeaker opens the output device once.
func (e *BeepEngine) initSpeaker() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.speakerUp {
		return nil
	}
	if err := speaker.Init(e.sampleRate, e.sampleRate.N(e.bufferSize)); err != nil {
		return errors.Wrap(err, "failed to initialize speaker")
	}
	e.speakerUp = true
	return nil
}

// stream connects to item and feeds it to the speaker until ctx is cancelled
// or the stream ends.
func (e *BeepEngine) stream(ctx context.Context, gen uint64, item playback.MediaItem) {
	defer e.wg.Done()

	target, err := icy.ResolveStreamURL(ctx, e.client, item.URL, e.userAgent)
	if err != nil {
		e.fail(ctx, gen, "failed to resolve stream", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		e.fail(ctx, gen, "invalid stream url", err)
		return
	}
	if e.userAgent != "" {
		req.Header.Set("User-Agent", e.userAgent)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		e.fail(ctx, gen, "connection failed", err)
		return
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		e.fail(ctx, gen, fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
		return
	}

	decoded, format, err := mp3.Decode(resp.Body)
	if err != nil {
		resp.Body.Close()
		e.fail(ctx, gen, "unsupported stream format", err)
		return
	}
	defer decoded.Close()

	if err := e.initSpeaker(); err != nil {
		e.fail(ctx, gen, "audio output unavailable", err)
		return
	}

	var streamer beep.Streamer = decoded
	if format.SampleRate != e.sampleRate {
		streamer = beep.Resample(resampleQuality, format.SampleRate, e.sampleRate, decoded)
	}

	ended := make(chan struct{})
	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return
	}
	speaker.Play(beep.Seq(streamer, beep.Callback(func() { close(ended) })))
	e.mu.Unlock()

	zlog.Info().Msgf("player: streaming: url=%s rate=%d channels=%d", target, format.SampleRate, format.NumChannels)

	select {
	case <-ctx.Done():
		return
	case <-ended:
	}

	if err := decoded.Err(); err != nil {
		e.fail(ctx, gen, "connection lost", err)
		return
	}
	e.fail(ctx, gen, "stream ended", nil)
}

// fail reports an error for the connection tagged gen unless it was replaced.
func (e *BeepEngine) fail(ctx context.Context, gen uint64, message string, cause error) {
	if ctx.Err() != nil {
		return
	}

	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return
	}
	e.playing = false
	e.stopLocked()
	l := e.listener
	e.mu.Unlock()

	zlog.Warn().Err(cause).Msgf("player: %s", message)
	if l != nil {
		l.OnError(message, cause)
	}
}
