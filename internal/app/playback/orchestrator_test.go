package playback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/webstream/internal/app/filter"
	"github.com/osa030/webstream/internal/app/focus"
	"github.com/osa030/webstream/internal/app/notification"
	"github.com/osa030/webstream/internal/domain/playlist"
	"github.com/osa030/webstream/internal/domain/track"
	"github.com/osa030/webstream/internal/infra/icy"
	"github.com/osa030/webstream/internal/infra/store"
)

// recorder collects calls from several fakes in one ordered list.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fakeEngine struct {
	rec *recorder

	mu         sync.Mutex
	listener   EngineListener
	items      []MediaItem
	startIndex int
	offset     time.Duration
	index      int
	playing    bool
	surfaces   bool
	position   time.Duration
	playErr    error
	released   bool
}

func (e *fakeEngine) SetListener(l EngineListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = l
}

func (e *fakeEngine) SetMediaItems(items []MediaItem, startIndex int, offset time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.items = append([]MediaItem(nil), items...)
	e.startIndex = startIndex
	e.offset = offset
	e.index = startIndex
	return nil
}

func (e *fakeEngine) Prepare() error {
	e.rec.add("engine.prepare")
	return nil
}

func (e *fakeEngine) Play() error {
	e.mu.Lock()
	if e.playErr != nil {
		err := e.playErr
		e.mu.Unlock()
		return err
	}
	e.playing = true
	l := e.listener
	e.mu.Unlock()
	e.rec.add("engine.play")
	l.OnPlayingChanged(true)
	return nil
}

func (e *fakeEngine) Pause() error {
	e.mu.Lock()
	was := e.playing
	e.playing = false
	l := e.listener
	e.mu.Unlock()
	e.rec.add("engine.pause")
	if was {
		l.OnPlayingChanged(false)
	}
	return nil
}

func (e *fakeEngine) SeekToIndex(index int) error {
	e.rec.add("engine.seek")
	e.moveTo(func(int, int) int { return index })
	return nil
}

func (e *fakeEngine) Next() error {
	e.moveTo(func(cur, n int) int { return (cur + 1) % n })
	return nil
}

func (e *fakeEngine) Previous() error {
	e.moveTo(func(cur, n int) int { return (cur - 1 + n) % n })
	return nil
}

func (e *fakeEngine) moveTo(next func(cur, n int) int) {
	e.mu.Lock()
	e.index = next(e.index, len(e.items))
	idx := e.index
	l := e.listener
	e.mu.Unlock()
	l.OnIndexChanged(idx)
}

func (e *fakeEngine) CurrentIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index
}

func (e *fakeEngine) Position() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position
}

func (e *fakeEngine) IsPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

func (e *fakeEngine) SurfacesMetadata() bool {
	return e.surfaces
}

func (e *fakeEngine) Release() error {
	e.mu.Lock()
	e.released = true
	e.playing = false
	e.mu.Unlock()
	e.rec.add("engine.release")
	return nil
}

func (e *fakeEngine) emitError(message string, cause error) {
	e.mu.Lock()
	l := e.listener
	e.mu.Unlock()
	l.OnError(message, cause)
}

func (e *fakeEngine) emitMetadata(raw string) {
	e.mu.Lock()
	l := e.listener
	e.mu.Unlock()
	l.OnMetadataChanged(raw)
}

type fakeWorker struct {
	rec    *recorder
	index  int
	url    string
	events chan icy.Title

	mu      sync.Mutex
	stopped bool
}

func (w *fakeWorker) Events() <-chan icy.Title {
	return w.events
}

func (w *fakeWorker) Stop() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	w.rec.add("worker.stop")
}

func (w *fakeWorker) isStopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}

func (w *fakeWorker) send(raw string) {
	w.events <- icy.Title{Index: w.index, URL: w.url, Raw: raw}
}

// recordingHost wraps a broker client and records abandons.
type recordingHost struct {
	rec    *recorder
	client *focus.Client
}

func (h *recordingHost) RequestFocus(usage focus.Usage, onChange func(focus.Change)) bool {
	return h.client.RequestFocus(usage, onChange)
}

func (h *recordingHost) AbandonFocus() {
	h.rec.add("focus.abandon")
	h.client.AbandonFocus()
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []*notification.Notice
}

func (n *fakeNotifier) Post(notice *notification.Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *fakeNotifier) ofType(t notification.Type) []*notification.Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []*notification.Notice
	for _, notice := range n.notices {
		if notice.Type == t {
			out = append(out, notice)
		}
	}
	return out
}

type stubEnricher struct{}

func (stubEnricher) Enrich(ctx context.Context, rawTitle string) *track.Info {
	artist, title, ok := track.SplitArtistTitle(rawTitle)
	if !ok {
		return &track.Info{RawTitle: rawTitle}
	}
	return &track.Info{RawTitle: rawTitle, Artist: artist, Title: title, ArtworkURL: "http://img/" + artist}
}

// gateFilter blocks the control loop inside Execute until release is closed.
type gateFilter struct {
	entered chan struct{}
	release chan struct{}
}

func newGateFilter() *gateFilter {
	return &gateFilter{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (f *gateFilter) Execute(ctx context.Context, entry track.LogEntry) filter.Result {
	select {
	case f.entered <- struct{}{}:
	default:
	}
	<-f.release
	return filter.Accept()
}

// slowTrackLog holds every append until gate is closed.
type slowTrackLog struct {
	*store.MemoryStore
	gate chan struct{}
}

func (s *slowTrackLog) Append(ctx context.Context, entry track.LogEntry, maxAgeDays int) error {
	<-s.gate
	return s.MemoryStore.Append(ctx, entry, maxAgeDays)
}

type harness struct {
	t        *testing.T
	o        *Orchestrator
	engine   *fakeEngine
	store    *store.MemoryStore
	broker   *focus.Broker
	notifier *fakeNotifier
	metrics  *Metrics
	rec      *recorder

	mu      sync.Mutex
	workers []*fakeWorker
}

type harnessOption func(*Config, *Deps)

func newHarness(t *testing.T, pl playlist.Playlist, ptr *playlist.Pointer, opts ...harnessOption) *harness {
	t.Helper()

	rec := &recorder{}
	h := &harness{
		t:        t,
		engine:   &fakeEngine{rec: rec, surfaces: true},
		store:    store.NewMemoryStore(),
		broker:   focus.NewBroker(),
		notifier: &fakeNotifier{},
		rec:      rec,
	}
	ctx := context.Background()
	require.NoError(t, h.store.Save(ctx, pl))
	if ptr != nil {
		require.NoError(t, h.store.SavePointer(ctx, *ptr))
	}

	metrics, err := NewMetrics(nil)
	require.NoError(t, err)
	h.metrics = metrics

	cfg := Config{
		AutoLog:          true,
		MaxLogAgeDays:    10,
		AudioFocus:       true,
		PersistQueueSize: 8,
		EventBufferSize:  32,
	}
	deps := Deps{
		Engine:    h.engine,
		Playlists: h.store,
		TrackLog:  h.store,
		FocusHost: &recordingHost{rec: rec, client: h.broker.Client("webstream")},
		Notifier:  h.notifier,
		Metrics:   metrics,
		StartMetadataWorker: func(ctx context.Context, index int, url string) MetadataWorker {
			w := &fakeWorker{rec: rec, index: index, url: url, events: make(chan icy.Title, 8)}
			h.mu.Lock()
			h.workers = append(h.workers, w)
			h.mu.Unlock()
			return w
		},
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}

	o, err := New(cfg, deps)
	require.NoError(t, err)
	h.o = o
	t.Cleanup(func() {
		_ = o.Stop(context.Background())
	})
	return h
}

func (h *harness) status() Status {
	h.t.Helper()
	s, err := h.o.Status(context.Background())
	require.NoError(h.t, err)
	return s
}

func (h *harness) worker(i int) *fakeWorker {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.workers[i]
}

func (h *harness) workerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.workers)
}

// stall parks the control loop in the title filter. The returned func resumes it.
func (h *harness) stall(gate *gateFilter) func() {
	h.t.Helper()
	h.engine.emitMetadata("stall")
	select {
	case <-gate.entered:
	case <-time.After(time.Second):
		h.t.Fatal("control loop did not enter the filter")
	}
	resume := sync.OnceFunc(func() { close(gate.release) })
	h.t.Cleanup(resume)
	return resume
}

// queue sends a command from a new goroutine and waits until it is buffered.
func (h *harness) queue(call func(ctx context.Context) error) <-chan error {
	h.t.Helper()
	want := len(h.o.events) + 1
	errCh := make(chan error, 1)
	go func() { errCh <- call(context.Background()) }()
	require.Eventually(h.t, func() bool { return len(h.o.events) == want }, time.Second, time.Millisecond)
	return errCh
}

func (h *harness) logEntries() []track.LogEntry {
	h.t.Helper()
	require.NoError(h.t, h.o.Flush(context.Background()))
	entries, err := h.store.List(context.Background())
	require.NoError(h.t, err)
	return entries
}

func kexpFip() playlist.Playlist {
	return playlist.Playlist{
		{Name: "KEXP", URL: "http://a"},
		{Name: "FIP", URL: "http://b"},
	}
}

func TestStart_EmptyPlaylistStops(t *testing.T) {
	h := newHarness(t, playlist.Playlist{}, nil)

	require.NoError(t, h.o.Start(context.Background()))

	s := h.status()
	assert.Equal(t, StateStopped, s.State)
	assert.Equal(t, -1, s.Index)
	assert.NotContains(t, h.rec.list(), "engine.prepare")
	assert.Empty(t, h.notifier.ofType(notification.TypeError))

	assert.ErrorIs(t, h.o.Play(context.Background()), ErrNotReady)
}

func TestStart_ResumeIndex(t *testing.T) {
	tests := []struct {
		name      string
		playlist  playlist.Playlist
		pointer   *playlist.Pointer
		wantIndex int
		wantURL   string
	}{
		{
			name:      "no pointer starts at the top",
			playlist:  kexpFip(),
			wantIndex: 0,
			wantURL:   "http://a",
		},
		{
			name:      "pointer matches",
			playlist:  kexpFip(),
			pointer:   &playlist.Pointer{Index: 1, URL: "http://b"},
			wantIndex: 1,
			wantURL:   "http://b",
		},
		{
			name:      "url wins after an external edit",
			playlist:  playlist.Playlist{{Name: "FIP", URL: "http://b"}, {Name: "KEXP", URL: "http://a"}},
			pointer:   &playlist.Pointer{Index: 1, URL: "http://b"},
			wantIndex: 0,
			wantURL:   "http://b",
		},
		{
			name:      "index fallback when url is gone",
			playlist:  kexpFip(),
			pointer:   &playlist.Pointer{Index: 1, URL: "http://gone"},
			wantIndex: 1,
			wantURL:   "http://b",
		},
		{
			name:      "out of range index falls back to zero",
			playlist:  kexpFip(),
			pointer:   &playlist.Pointer{Index: 7, URL: "http://gone"},
			wantIndex: 0,
			wantURL:   "http://a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.playlist, tt.pointer)
			require.NoError(t, h.o.Start(context.Background()))

			s := h.status()
			assert.Equal(t, StateReady, s.State)
			assert.Equal(t, tt.wantIndex, s.Index)
			assert.Equal(t, tt.wantURL, s.Stream.URL)
			assert.Equal(t, 2, s.PlaylistLen)

			h.engine.mu.Lock()
			assert.Equal(t, tt.wantIndex, h.engine.startIndex)
			assert.Equal(t, tt.wantURL, h.engine.items[h.engine.startIndex].URL)
			assert.False(t, h.engine.playing)
			h.engine.mu.Unlock()

			assert.Contains(t, h.rec.list(), "engine.prepare")
			assert.ErrorIs(t, h.o.Start(context.Background()), ErrAlreadyStarted)
		})
	}
}

func TestPlayPause_Focus(t *testing.T) {
	h := newHarness(t, kexpFip(), nil)
	ctx := context.Background()
	require.NoError(t, h.o.Start(ctx))

	require.NoError(t, h.o.Play(ctx))
	s := h.status()
	assert.Equal(t, StatePlaying, s.State)
	assert.True(t, s.FocusHeld)
	assert.Equal(t, "webstream", h.broker.Holder())

	require.NoError(t, h.o.Pause(ctx))
	s = h.status()
	assert.Equal(t, StatePaused, s.State)
	assert.False(t, s.FocusHeld)
	assert.Empty(t, h.broker.Holder())

	require.NoError(t, h.o.Toggle(ctx))
	assert.Equal(t, StatePlaying, h.status().State)
	require.NoError(t, h.o.Toggle(ctx))
	assert.Equal(t, StatePaused, h.status().State)

	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.stateTransitions.WithLabelValues("paused", "playing")))
	assert.Equal(t, float64(2), testutil.ToFloat64(h.metrics.stateTransitions.WithLabelValues("playing", "paused")))
}

func TestPlay_FocusDenied(t *testing.T) {
	h := newHarness(t, kexpFip(), nil)
	ctx := context.Background()
	require.NoError(t, h.o.Start(ctx))

	h.broker.Deny(true)
	require.NoError(t, h.o.Play(ctx))

	s := h.status()
	assert.Equal(t, StateReady, s.State)
	assert.False(t, h.engine.IsPlaying())
	warnings := h.notifier.ofType(notification.TypeWarning)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "focus denied")
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.focusDenials))
}

func TestPlay_FocusDisabled(t *testing.T) {
	h := newHarness(t, kexpFip(), nil, func(cfg *Config, deps *Deps) {
		cfg.AudioFocus = false
	})
	ctx := context.Background()
	require.NoError(t, h.o.Start(ctx))

	h.broker.Deny(true)
	require.NoError(t, h.o.Play(ctx))
	assert.Equal(t, StatePlaying, h.status().State)
	assert.Empty(t, h.broker.Holder())
}

func TestFocusLoss_Pauses(t *testing.T) {
	h := newHarness(t, kexpFip(), nil)
	ctx := context.Background()
	require.NoError(t, h.o.Start(ctx))
	require.NoError(t, h.o.Play(ctx))

	// Another client grabs focus; the loss callback runs on this goroutine.
	require.True(t, h.broker.Client("alarm").RequestFocus(focus.UsageAlarm, func(focus.Change) {}))

	s := h.status()
	assert.Equal(t, StatePaused, s.State)
	assert.False(t, s.FocusHeld)
	assert.False(t, h.engine.IsPlaying())
	assert.Equal(t, "alarm", h.broker.Holder())

	// Play takes focus back.
	require.NoError(t, h.o.Play(ctx))
	assert.Equal(t, StatePlaying, h.status().State)
	assert.Equal(t, "webstream", h.broker.Holder())
}

func TestFocusLoss_StaleAfterRegrant(t *testing.T) {
	h := newHarness(t, kexpFip(), nil)
	ctx := context.Background()
	require.NoError(t, h.o.Start(ctx))
	require.NoError(t, h.o.Play(ctx))

	// A loss queued before the current grant is ignored.
	h.o.post(Event{Type: EventFocusLost, Change: focus.LossTransient})
	s := h.status()
	assert.Equal(t, StatePlaying, s.State)
	assert.True(t, s.FocusHeld)
	assert.True(t, h.engine.IsPlaying())
}

func TestFocusLoss_WhileCommandsQueued(t *testing.T) {
	gate := newGateFilter()
	h := newHarness(t, kexpFip(), nil, func(cfg *Config, deps *Deps) {
		deps.Filter = gate
	})
	ctx := context.Background()
	require.NoError(t, h.o.Start(ctx))
	require.NoError(t, h.o.Play(ctx))

	resume := h.stall(gate)
	pauseErr := h.queue(h.o.Pause)
	playErr := h.queue(h.o.Play)
	h.broker.Notify(focus.LossTransient)
	resume()

	require.NoError(t, <-pauseErr)
	require.NoError(t, <-playErr)

	s := h.status()
	assert.Equal(t, StatePlaying, s.State)
	assert.True(t, s.FocusHeld)
	assert.Equal(t, "webstream", h.broker.Holder())
}

func TestEvents_FullCommandBufferDoesNotWedge(t *testing.T) {
	gate := newGateFilter()
	h := newHarness(t, kexpFip(), nil, func(cfg *Config, deps *Deps) {
		deps.Filter = gate
	})
	ctx := context.Background()
	require.NoError(t, h.o.Start(ctx))
	require.NoError(t, h.o.Play(ctx))

	resume := h.stall(gate)
	// Pausing makes the engine call back while the buffer behind it is full.
	pauseErr := h.queue(h.o.Pause)

	const callers = 64
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, err := h.o.Status(ctx)
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return len(h.o.events) == cap(h.o.events) }, time.Second, time.Millisecond)
	resume()

	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.NoError(t, <-pauseErr)

	s := h.status()
	assert.Equal(t, StatePaused, s.State)
	assert.False(t, s.FocusHeld)
	assert.False(t, h.engine.IsPlaying())
}

func TestFlush_DoesNotBlockEvents(t *testing.T) {
	slow := &slowTrackLog{MemoryStore: store.NewMemoryStore(), gate: make(chan struct{})}
	h := newHarness(t, kexpFip(), nil, func(cfg *Config, deps *Deps) {
		deps.TrackLog = slow
	})
	ctx := context.Background()
	require.NoError(t, h.o.Start(ctx))
	require.NoError(t, h.o.Play(ctx))
	release := sync.OnceFunc(func() { close(slow.gate) })
	t.Cleanup(release)
	require.NoError(t, h.o.LogTrack(ctx, "Queen - Bohemian Rhapsody", ""))

	flushErr := make(chan error, 1)
	go func() { flushErr <- h.o.Flush(context.Background()) }()

	h.engine.emitError("connection lost", errors.New("EOF"))

	statusCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	assert.Eventually(t, func() bool {
		s, err := h.o.Status(statusCtx)
		return err == nil && s.State == StateError
	}, 500*time.Millisecond, 5*time.Millisecond)

	select {
	case err := <-flushErr:
		t.Fatalf("flush returned before the write completed: %v", err)
	default:
	}

	release()
	require.NoError(t, <-flushErr)
	entries, err := slow.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Queen - Bohemian Rhapsody", entries[0].RawTitle)
}

func TestEngineError_NamesStream(t *testing.T) {
	h := newHarness(t, kexpFip(), nil)
	ctx := context.Background()
	require.NoError(t, h.o.Start(ctx))
	require.NoError(t, h.o.SelectIndex(ctx, 1))
	require.NoError(t, h.o.Play(ctx))

	h.engine.emitError("connection refused", errors.New("dial tcp: refused"))

	s := h.status()
	assert.Equal(t, StateError, s.State)
	assert.Equal(t, 1, s.Index)
	assert.False(t, s.FocusHeld)
	assert.False(t, h.engine.IsPlaying())

	errs := h.notifier.ofType(notification.TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, "FIP: connection refused", errs[0].Message)
	assert.Equal(t, "FIP", errs[0].StreamName)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.engineErrors))

	// Play retries the same index.
	require.NoError(t, h.o.Play(ctx))
	s = h.status()
	assert.Equal(t, StatePlaying, s.State)
	assert.Equal(t, 1, s.Index)
	assert.Equal(t, 1, h.engine.CurrentIndex())
}

func TestEngineError_PlayFailure(t *testing.T) {
	h := newHarness(t, kexpFip(), nil)
	ctx := context.Background()
	require.NoError(t, h.o.Start(ctx))

	h.engine.mu.Lock()
	h.engine.playErr = errors.New("unsupported format")
	h.engine.mu.Unlock()

	require.NoError(t, h.o.Play(ctx))
	s := h.status()
	assert.Equal(t, StateError, s.State)
	errs := h.notifier.ofType(notification.TypeError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "KEXP")
}

func TestTransitions_PersistPointer(t *testing.T) {
	pl := playlist.Playlist{
		{Name: "KEXP", URL: "http://a"},
		{Name: "FIP", URL: "http://b"},
		{Name: "SomaFM", URL: "http://c"},
	}
	h := newHarness(t, pl, nil)
	ctx := context.Background()
	require.NoError(t, h.o.Start(ctx))
	require.NoError(t, h.o.Play(ctx))

	require.NoError(t, h.o.Next(ctx))
	require.NoError(t, h.o.Next(ctx))
	require.NoError(t, h.o.Next(ctx)) // wraps to 0
	require.NoError(t, h.o.Previous(ctx))
	require.NoError(t, h.o.SelectIndex(ctx, 1))

	assert.Equal(t, 1, h.status().Index)
	require.NoError(t, h.o.Flush(ctx))

	ptr, err := h.store.LoadPointer(ctx)
	require.NoError(t, err)
	assert.Equal(t, playlist.Pointer{Index: 1, URL: "http://b"}, ptr)

	var indices []int
	for _, w := range h.store.PointerWrites() {
		indices = append(indices, w.Index)
	}
	assert.Equal(t, []int{0, 1, 2, 0, 2, 1}, indices)

	assert.ErrorIs(t, h.o.SelectIndex(ctx, 3), ErrIndexOutOfRange)
}

func TestIndexChanged_StaleDropped(t *testing.T) {
	h := newHarness(t, kexpFip(), nil)
	ctx := context.Background()
	require.NoError(t, h.o.Start(ctx))

	// The engine reports index 1 but has already moved back to 0.
	h.engine.listener.OnIndexChanged(1)
	assert.Equal(t, 0, h.status().Index)
}

func TestMetadata_DedupAndLog(t *testing.T) {
	h := newHarness(t, kexpFip(), nil)
	ctx := context.Background()
	require.NoError(t, h.o.Start(ctx))
	require.NoError(t, h.o.Play(ctx))

	h.engine.emitMetadata("A - B")
	h.engine.emitMetadata("A - B")
	h.engine.emitMetadata("C - D")

	s := h.status()
	assert.Equal(t, "C - D", s.RawTitle)

	entries := h.logEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, "A - B", entries[0].RawTitle)
	assert.Equal(t, "KEXP", entries[0].StreamName)
	assert.Equal(t, "C - D", entries[1].RawTitle)
	assert.Len(t, h.notifier.ofType(notification.TypeNowPlaying), 2)
	assert.Equal(t, float64(2), testutil.ToFloat64(h.metrics.tracklogAppends))

	// A stream change resets the dedup boundary.
	require.NoError(t, h.o.Next(ctx))
	h.engine.emitMetadata("C - D")
	entries = h.logEntries()
	require.Len(t, entries, 3)
	assert.Equal(t, "FIP", entries[2].StreamName)
}

func TestMetadata_AutoLogDisabled(t *testing.T) {
	h := newHarness(t, kexpFip(), nil, func(cfg *Config, deps *Deps) {
		cfg.AutoLog = false
	})
	ctx := context.Background()
	require.NoError(t, h.o.Start(ctx))

	h.engine.emitMetadata("A - B")
	assert.Equal(t, "A - B", h.status().RawTitle)
	assert.Empty(t, h.logEntries())
}

func TestMetadata_Filtered(t *testing.T) {
	ignore := filter.NewIgnorePatternFilter()
	require.NoError(t, ignore.ValidateConfig(map[string]any{"patterns": []any{"jingle"}}))
	chain := filter.NewChain()
	chain.Add(ignore)

	h := newHarness(t, kexpFip(), nil, func(cfg *Config, deps *Deps) {
		deps.Filter = chain
	})
	ctx := context.Background()
	require.NoError(t, h.o.Start(ctx))

	h.engine.emitMetadata("KEXP Jingle")
	h.engine.emitMetadata("A - B")

	entries := h.logEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "A - B", entries[0].RawTitle)
	// Filtered titles are still shown.
	assert.Len(t, h.notifier.ofType(notification.TypeNowPlaying), 2)
}

func TestIcyWorker_Lifecycle(t *testing.T) {
	h := newHarness(t, kexpFip(), nil)
	h.engine.surfaces = false
	ctx := context.Background()
	require.NoError(t, h.o.Start(ctx))
	assert.Equal(t, 0, h.workerCount(), "no side connection until playing")

	require.NoError(t, h.o.Play(ctx))
	require.Equal(t, 1, h.workerCount())
	first := h.worker(0)
	assert.Equal(t, 0, first.index)
	assert.Equal(t, "http://a", first.url)

	first.send("A - B")
	assert.Eventually(t, func() bool { return h.status().RawTitle == "A - B" }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.o.Next(ctx))
	assert.True(t, first.isStopped())
	require.Equal(t, 2, h.workerCount())
	second := h.worker(1)
	assert.Equal(t, 1, second.index)
	assert.Equal(t, "http://b", second.url)

	// A title read for the previous stream is never attributed to the new one.
	second.events <- icy.Title{Index: 0, URL: "http://a", Raw: "Late - Title"}
	second.send("E - F")
	assert.Eventually(t, func() bool { return h.status().RawTitle == "E - F" }, time.Second, 5*time.Millisecond)

	entries := h.logEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, track.LogEntry{Timestamp: entries[1].Timestamp, RawTitle: "E - F", StreamName: "FIP"}, entries[1])

	require.NoError(t, h.o.Pause(ctx))
	assert.True(t, second.isStopped())
}

func TestLogTrack_BypassesDedupAndFilters(t *testing.T) {
	h := newHarness(t, kexpFip(), nil, func(cfg *Config, deps *Deps) {
		chain := filter.NewChain()
		chain.Add(filter.NewMinLengthFilter())
		deps.Filter = chain
	})
	ctx := context.Background()
	require.NoError(t, h.o.Start(ctx))

	require.NoError(t, h.o.LogTrack(ctx, "X", ""))
	require.NoError(t, h.o.LogTrack(ctx, "X", "Radio Paradise"))
	assert.ErrorIs(t, h.o.LogTrack(ctx, "  ", ""), ErrEmptyTitle)

	entries := h.logEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, "KEXP", entries[0].StreamName)
	assert.Equal(t, "Radio Paradise", entries[1].StreamName)
}

func TestReplacePlaylist_KeepsPositionAndFocus(t *testing.T) {
	h := newHarness(t, kexpFip(), &playlist.Pointer{Index: 1, URL: "http://b"})
	ctx := context.Background()
	require.NoError(t, h.o.Start(ctx))
	require.NoError(t, h.o.Play(ctx))
	h.engine.mu.Lock()
	h.engine.position = 42 * time.Second
	h.engine.mu.Unlock()

	edited := playlist.Playlist{
		{Name: "NTS", URL: "http://n"},
		{Name: "FIP Groove", URL: "http://g"},
		{Name: "KEXP", URL: "http://a"},
	}
	require.NoError(t, h.o.ReplacePlaylist(ctx, edited))

	s := h.status()
	assert.Equal(t, StatePlaying, s.State)
	assert.Equal(t, 1, s.Index, "edits are positional")
	assert.Equal(t, "http://g", s.Stream.URL)
	assert.True(t, s.FocusHeld)
	assert.Equal(t, "webstream", h.broker.Holder())

	h.engine.mu.Lock()
	assert.Len(t, h.engine.items, 3)
	assert.Equal(t, 1, h.engine.startIndex)
	assert.Equal(t, 42*time.Second, h.engine.offset)
	assert.True(t, h.engine.playing)
	h.engine.mu.Unlock()

	require.NoError(t, h.o.Flush(ctx))
	saved, err := h.store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, edited, saved)
	ptr, err := h.store.LoadPointer(ctx)
	require.NoError(t, err)
	assert.Equal(t, playlist.Pointer{Index: 1, URL: "http://g"}, ptr)

	// Shrinking below the current position falls back to 0.
	require.NoError(t, h.o.ReplacePlaylist(ctx, playlist.Playlist{{Name: "NTS", URL: "http://n"}}))
	assert.Equal(t, 0, h.status().Index)

	assert.Error(t, h.o.ReplacePlaylist(ctx, playlist.Playlist{{Name: "broken"}}))

	got, err := h.o.Playlist(ctx)
	require.NoError(t, err)
	assert.Equal(t, playlist.Playlist{{Name: "NTS", URL: "http://n"}}, got)
}

func TestReplacePlaylist_EmptyStopsAndRefreshRestarts(t *testing.T) {
	h := newHarness(t, kexpFip(), nil)
	ctx := context.Background()
	require.NoError(t, h.o.Start(ctx))
	require.NoError(t, h.o.Play(ctx))

	require.NoError(t, h.o.ReplacePlaylist(ctx, playlist.Playlist{}))
	s := h.status()
	assert.Equal(t, StateStopped, s.State)
	assert.False(t, s.FocusHeld)

	// An external collaborator saves a new list, then asks for a refresh.
	require.NoError(t, h.o.Flush(ctx))
	require.NoError(t, h.store.Save(ctx, playlist.Playlist{{Name: "FIP", URL: "http://b"}}))
	require.NoError(t, h.o.RefreshPlaylist(ctx))

	s = h.status()
	assert.Equal(t, StateReady, s.State)
	assert.Equal(t, 0, s.Index)
	assert.Equal(t, 1, s.PlaylistLen)
}

func TestRefreshPlaylist_PreservesPlayState(t *testing.T) {
	h := newHarness(t, kexpFip(), nil)
	ctx := context.Background()
	require.NoError(t, h.o.Start(ctx))
	require.NoError(t, h.o.Play(ctx))

	require.NoError(t, h.store.Save(ctx, append(kexpFip(), playlist.Stream{Name: "NTS", URL: "http://n"})))
	require.NoError(t, h.o.RefreshPlaylist(ctx))

	s := h.status()
	assert.Equal(t, StatePlaying, s.State)
	assert.Equal(t, 3, s.PlaylistLen)
	assert.Equal(t, 0, s.Index)
}

func TestEnrichment_AppliedToCurrentTitle(t *testing.T) {
	h := newHarness(t, kexpFip(), nil, func(cfg *Config, deps *Deps) {
		deps.Enricher = stubEnricher{}
	})
	ctx := context.Background()
	require.NoError(t, h.o.Start(ctx))

	h.engine.emitMetadata("Queen - Bohemian Rhapsody")

	assert.Eventually(t, func() bool {
		s := h.status()
		return s.Info != nil && s.Info.Artist == "Queen"
	}, time.Second, 5*time.Millisecond)

	s := h.status()
	assert.Equal(t, "Bohemian Rhapsody", s.Info.Title)
	assert.Equal(t, "Queen - Bohemian Rhapsody", s.Info.DisplayTitle())

	notices := h.notifier.ofType(notification.TypeNowPlaying)
	require.Len(t, notices, 2)
	assert.Equal(t, "Queen", notices[1].Info.Artist)
}

func TestAutoplay_ThenBackground(t *testing.T) {
	h := newHarness(t, kexpFip(), nil, func(cfg *Config, deps *Deps) {
		cfg.Autoplay = true
		cfg.BackgroundDelay = 10 * time.Millisecond
	})
	require.NoError(t, h.o.Start(context.Background()))
	assert.Equal(t, StatePlaying, h.status().State)

	assert.Eventually(t, func() bool {
		return len(h.notifier.ofType(notification.TypeBackground)) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestStop_Order(t *testing.T) {
	h := newHarness(t, kexpFip(), nil)
	h.engine.surfaces = false
	ctx := context.Background()
	require.NoError(t, h.o.Start(ctx))
	require.NoError(t, h.o.Play(ctx))

	require.NoError(t, h.o.Stop(ctx))
	<-h.o.Done()

	var teardown []string
	for _, c := range h.rec.list() {
		switch c {
		case "worker.stop", "focus.abandon", "engine.release":
			teardown = append(teardown, c)
		}
	}
	assert.Equal(t, []string{"worker.stop", "focus.abandon", "engine.release"}, teardown)
	assert.Empty(t, h.broker.Holder())

	// Idempotent, and later commands report the stop.
	assert.NoError(t, h.o.Stop(ctx))
	assert.ErrorIs(t, h.o.Play(ctx), ErrStopped)
	_, err := h.o.Status(ctx)
	assert.ErrorIs(t, err, ErrStopped)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{}, Deps{})
	assert.Error(t, err)

	_, err = New(Config{}, Deps{Engine: &fakeEngine{rec: &recorder{}}})
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "preparing", StatePreparing.String())
	assert.Equal(t, "error", StateError.String())
	assert.Equal(t, "unknown", State(99).String())
	assert.Equal(t, "focus_lost", EventFocusLost.String())
}
