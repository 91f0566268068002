package playback

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/webstream/internal/app/filter"
	"github.com/osa030/webstream/internal/app/focus"
	"github.com/osa030/webstream/internal/app/notification"
	"github.com/osa030/webstream/internal/domain/playlist"
	"github.com/osa030/webstream/internal/domain/track"
	"github.com/osa030/webstream/internal/infra/config"
	"github.com/osa030/webstream/internal/infra/icy"
	"github.com/osa030/webstream/internal/infra/store"
)

// Errors
var (
	ErrStopped         = errors.New("playback stopped")
	ErrAlreadyStarted  = errors.New("playback already started")
	ErrNotReady        = errors.New("playback not ready")
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrEmptyTitle      = errors.New("title is required")
)

// Config holds orchestrator configuration.
type Config struct {
	AutoLog          bool
	MaxLogAgeDays    int
	AudioFocus       bool
	Autoplay         bool
	BackgroundDelay  time.Duration // Delay before the background notice after autoplay; 0 disables it
	PersistQueueSize int
	EventBufferSize  int
	IcyBufferSize    int
	UserAgent        string
}

// ConfigFrom builds the orchestrator configuration from the application configuration.
func ConfigFrom(cfg *config.Config) Config {
	p := cfg.Playback
	return Config{
		AutoLog:          p.AutoLogEnabled(),
		MaxLogAgeDays:    p.MaxLogAgeDays,
		AudioFocus:       p.AudioFocusEnabled(),
		Autoplay:         p.Autoplay,
		BackgroundDelay:  time.Duration(p.AutoplayThenBackgroundDelaySeconds) * time.Second,
		PersistQueueSize: p.PersistQueueSize,
		EventBufferSize:  p.EventBufferSize,
		IcyBufferSize:    p.IcyBufferSize,
		UserAgent:        cfg.Player.UserAgent,
	}
}

// Notifier delivers notices without blocking the caller.
type Notifier interface {
	Post(n *notification.Notice)
}

// Enricher resolves a raw title into track info. It must always return a non-nil result.
type Enricher interface {
	Enrich(ctx context.Context, rawTitle string) *track.Info
}

// TitleFilter decides whether a title is logged automatically.
type TitleFilter interface {
	Execute(ctx context.Context, entry track.LogEntry) filter.Result
}

// MetadataWorker reads titles for one stream on a side connection.
type MetadataWorker interface {
	Events() <-chan icy.Title
	Stop()
}

// MetadataWorkerFunc starts a MetadataWorker for the stream at index.
type MetadataWorkerFunc func(ctx context.Context, index int, url string) MetadataWorker

// Deps are the orchestrator's collaborators. Engine, Playlists and TrackLog are required.
type Deps struct {
	Engine    Engine
	Playlists store.PlaylistStore
	TrackLog  store.TrackLogStore
	FocusHost focus.Host
	Notifier  Notifier
	Enricher  Enricher
	Filter    TitleFilter
	Metrics   *Metrics
	// StartMetadataWorker defaults to an ICY reader.
	StartMetadataWorker MetadataWorkerFunc
	Now                 func() time.Time
}

// Status is a snapshot of the orchestrator state.
type Status struct {
	State       State
	Index       int
	Stream      playlist.Stream
	RawTitle    string
	Info        *track.Info
	FocusHeld   bool
	PlaylistLen int
}

// Orchestrator is the playback state machine. One goroutine owns all mutable
// state. Commands arrive on a bounded channel; collaborator callbacks go to an
// unbounded mailbox so a callback made from inside the loop never blocks it.
type Orchestrator struct {
	config      Config
	engine      Engine
	playlists   store.PlaylistStore
	tracklog    store.TrackLogStore
	notifier    Notifier
	enricher    Enricher
	filter      TitleFilter
	metrics     *Metrics
	focus       *focus.Arbiter
	persister   *persister
	startWorker MetadataWorkerFunc
	now         func() time.Time

	events chan Event // commands
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	mailbox []Event
	wake    chan struct{}

	// Owned by the run goroutine
	state      State
	playlist   playlist.Playlist
	index      int
	pointer    playlist.Pointer
	lastTitle  string
	info       *track.Info
	worker     MetadataWorker
	background *time.Timer
}

// New creates an orchestrator in the Idle state and starts its control loop.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if deps.Playlists == nil || deps.TrackLog == nil {
		return nil, errors.New("playlist and track-log stores are required")
	}
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = 32
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		config:      cfg,
		engine:      deps.Engine,
		playlists:   deps.Playlists,
		tracklog:    deps.TrackLog,
		notifier:    deps.Notifier,
		enricher:    deps.Enricher,
		filter:      deps.Filter,
		metrics:     deps.Metrics,
		persister:   newPersister(cfg.PersistQueueSize),
		startWorker: deps.StartMetadataWorker,
		now:         deps.Now,
		events:      make(chan Event, cfg.EventBufferSize),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		wake:        make(chan struct{}, 1),
		state:       StateIdle,
		playlist:    playlist.Playlist{},
		index:       -1,
	}
	if o.notifier == nil {
		o.notifier = nopNotifier{}
	}
	if o.metrics == nil {
		o.metrics, _ = NewMetrics(nil)
	}
	if o.startWorker == nil {
		o.startWorker = icyWorkerFunc(cfg)
	}
	if o.now == nil {
		o.now = time.Now
	}
	o.focus = focus.NewArbiter(deps.FocusHost, cfg.AudioFocus, func(c focus.Change) {
		o.post(Event{Type: EventFocusLost, Change: c})
	})

	o.engine.SetListener(engineListener{o: o})
	go o.run()
	return o, nil
}

func icyWorkerFunc(cfg Config) MetadataWorkerFunc {
	return func(ctx context.Context, index int, url string) MetadataWorker {
		opts := []icy.Option{icy.WithBufferSize(cfg.IcyBufferSize)}
		if cfg.UserAgent != "" {
			opts = append(opts, icy.WithUserAgent(cfg.UserAgent))
		}
		return icy.StartWorker(ctx, index, url, cfg.EventBufferSize, opts...)
	}
}

type nopNotifier struct{}

func (nopNotifier) Post(*notification.Notice) {}

// engineListener turns engine callbacks into events.
type engineListener struct {
	o *Orchestrator
}

func (l engineListener) OnIndexChanged(index int) {
	l.o.post(Event{Type: EventIndexChanged, Index: index})
}

func (l engineListener) OnMetadataChanged(rawTitle string) {
	l.o.post(Event{Type: EventMetadata, RawTitle: rawTitle, Source: SourceEngine})
}

func (l engineListener) OnPlayingChanged(playing bool) {
	l.o.post(Event{Type: EventPlayingChanged, Playing: playing})
}

func (l engineListener) OnError(message string, cause error) {
	l.o.post(Event{Type: EventEngineError, Message: message, Err: cause})
}

// Start loads the playlist and prepares the engine at the resume index.
func (o *Orchestrator) Start(ctx context.Context) error {
	_, err := o.do(ctx, Event{Type: EventStart})
	return err
}

// Play starts playback once audio focus is granted.
func (o *Orchestrator) Play(ctx context.Context) error {
	_, err := o.do(ctx, Event{Type: EventPlay})
	return err
}

// Pause pauses playback and releases audio focus.
func (o *Orchestrator) Pause(ctx context.Context) error {
	_, err := o.do(ctx, Event{Type: EventPause})
	return err
}

// Toggle pauses when playing and plays otherwise.
func (o *Orchestrator) Toggle(ctx context.Context) error {
	_, err := o.do(ctx, Event{Type: EventToggle})
	return err
}

// Next moves to the next stream, wrapping to the first.
func (o *Orchestrator) Next(ctx context.Context) error {
	_, err := o.do(ctx, Event{Type: EventNext})
	return err
}

// Previous moves to the previous stream, wrapping to the last.
func (o *Orchestrator) Previous(ctx context.Context) error {
	_, err := o.do(ctx, Event{Type: EventPrevious})
	return err
}

// SelectIndex moves to the stream at index.
func (o *Orchestrator) SelectIndex(ctx context.Context, index int) error {
	_, err := o.do(ctx, Event{Type: EventSelect, Index: index})
	return err
}

// RefreshPlaylist reloads the playlist from the store and rebuilds the engine's media set in place.
// Pending writes are flushed and the store is read on the caller's goroutine.
func (o *Orchestrator) RefreshPlaylist(ctx context.Context) error {
	if err := o.flushWrites(ctx); err != nil {
		return err
	}
	pl, err := o.playlists.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to reload playlist")
	}
	_, err = o.do(ctx, Event{Type: EventRefresh, Playlist: pl})
	return err
}

// ReplacePlaylist saves pl and applies it.
func (o *Orchestrator) ReplacePlaylist(ctx context.Context, pl playlist.Playlist) error {
	_, err := o.do(ctx, Event{Type: EventReplace, Playlist: pl.Clone()})
	return err
}

// LogTrack appends a title to the track log, bypassing dedup and filters.
// An empty streamName means the current stream.
func (o *Orchestrator) LogTrack(ctx context.Context, rawTitle, streamName string) error {
	_, err := o.do(ctx, Event{Type: EventLogTrack, RawTitle: rawTitle, StreamName: streamName})
	return err
}

// Status returns a snapshot of the current state.
func (o *Orchestrator) Status(ctx context.Context) (Status, error) {
	r, err := o.do(ctx, Event{Type: EventStatus})
	return r.status, err
}

// Playlist returns the active playlist.
func (o *Orchestrator) Playlist(ctx context.Context) (playlist.Playlist, error) {
	r, err := o.do(ctx, Event{Type: EventPlaylist})
	return r.playlist, err
}

// Flush waits until every queued store write has completed. The control loop
// keeps handling events while the writes drain.
func (o *Orchestrator) Flush(ctx context.Context) error {
	err := o.flushWrites(ctx)
	if errors.Is(err, ErrStopped) {
		return nil
	}
	return err
}

// flushWrites waits for the writes of every command handled so far. The round trip
// through the loop guarantees they have been submitted.
func (o *Orchestrator) flushWrites(ctx context.Context) error {
	if _, err := o.do(ctx, Event{Type: EventStatus}); err != nil {
		return err
	}
	return o.persister.Flush(ctx)
}

// Stop stops the metadata worker, releases focus, then releases the engine.
// Calling Stop again is a no-op.
func (o *Orchestrator) Stop(ctx context.Context) error {
	_, err := o.do(ctx, Event{Type: EventStop})
	if errors.Is(err, ErrStopped) {
		return nil
	}
	return err
}

// Done is closed when the control loop has exited.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// do sends a command and waits for its reply.
func (o *Orchestrator) do(ctx context.Context, ev Event) (reply, error) {
	ev.reply = make(chan reply, 1)
	select {
	case o.events <- ev:
	case <-o.done:
		return reply{}, ErrStopped
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}

	select {
	case r := <-ev.reply:
		return r, r.err
	case <-o.done:
		select {
		case r := <-ev.reply:
			return r, r.err
		default:
			return reply{}, ErrStopped
		}
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
}

// post queues a collaborator event. It never blocks, so engine callbacks
// made synchronously from a command handler are safe.
func (o *Orchestrator) post(ev Event) {
	select {
	case <-o.done:
		return
	default:
	}

	o.mu.Lock()
	o.mailbox = append(o.mailbox, ev)
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) run() {
	defer close(o.done)
	for {
		var titles <-chan icy.Title
		if o.worker != nil {
			titles = o.worker.Events()
		}

		select {
		case ev := <-o.events:
			// Events posted before the command was sent are applied first.
			o.drain()
			if o.handle(ev) {
				return
			}
		case <-o.wake:
		case t := <-titles:
			o.handle(Event{Type: EventMetadata, Index: t.Index, RawTitle: t.Raw, Source: SourceICY})
		}
		o.drain()
	}
}

// drain applies every queued collaborator event, including the ones posted
// while draining.
func (o *Orchestrator) drain() {
	for {
		o.mu.Lock()
		pending := o.mailbox
		o.mailbox = nil
		o.mu.Unlock()

		if len(pending) == 0 {
			return
		}
		for _, ev := range pending {
			o.handle(ev)
		}
	}
}

// handle applies one event and reports whether the loop should exit.
func (o *Orchestrator) handle(ev Event) (exit bool) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("playback: handler panicked: event=%s panic=%v", ev.Type, r)
			o.respond(ev, errors.Newf("internal error: %v", r))
			exit = false
		}
	}()

	if !ev.Type.isCommand() {
		zlog.Debug().Msgf("playback: event: type=%s state=%s index=%d", ev.Type, o.state, o.index)
	}

	switch ev.Type {
	case EventStart:
		o.respond(ev, o.start())
	case EventPlay:
		o.respond(ev, o.play())
	case EventPause:
		o.respond(ev, o.pause())
	case EventToggle:
		if o.state == StatePlaying {
			o.respond(ev, o.pause())
		} else {
			o.respond(ev, o.play())
		}
	case EventNext:
		o.respond(ev, o.move(o.engine.Next))
	case EventPrevious:
		o.respond(ev, o.move(o.engine.Previous))
	case EventSelect:
		o.respond(ev, o.selectIndex(ev.Index))
	case EventRefresh:
		o.respond(ev, o.applyPlaylist(ev.Playlist))
	case EventReplace:
		o.respond(ev, o.replace(ev.Playlist))
	case EventLogTrack:
		o.respond(ev, o.logTrack(ev.RawTitle, ev.StreamName))
	case EventStatus:
		o.respond(ev, nil)
	case EventPlaylist:
		ev.reply <- reply{playlist: o.playlist.Clone()}
	case EventStop:
		o.stop()
		o.respond(ev, nil)
		return true

	case EventIndexChanged:
		o.onIndexChanged(ev.Index)
	case EventMetadata:
		o.onMetadata(ev.RawTitle, ev.Source, ev.Index)
	case EventPlayingChanged:
		o.onPlayingChanged(ev.Playing)
	case EventEngineError:
		o.onEngineError(ev.Message, ev.Err)
	case EventFocusLost:
		o.onFocusLost(ev.Change)
	case EventEnriched:
		o.onEnriched(ev.Index, ev.RawTitle, ev.Info)
	case EventBackground:
		o.onBackground()
	}
	return false
}

func (o *Orchestrator) respond(ev Event, err error) {
	if ev.reply == nil {
		return
	}
	select {
	case ev.reply <- reply{status: o.status(), err: err}:
	default:
	}
}

func (o *Orchestrator) status() Status {
	return Status{
		State:       o.state,
		Index:       o.index,
		Stream:      o.currentStream(),
		RawTitle:    o.lastTitle,
		Info:        o.info,
		FocusHeld:   o.focus.Held(),
		PlaylistLen: len(o.playlist),
	}
}

func (o *Orchestrator) start() error {
	if o.state != StateIdle {
		return ErrAlreadyStarted
	}
	o.setState(StatePreparing)

	pl, err := o.playlists.Load(o.ctx)
	if err != nil {
		o.setState(StateStopped)
		return errors.Wrap(err, "failed to load playlist")
	}
	o.pointer = o.loadPointer()
	return o.prepare(pl, o.pointer)
}

func (o *Orchestrator) loadPointer() playlist.Pointer {
	ptr, err := o.playlists.LoadPointer(o.ctx)
	if err != nil {
		zlog.Warn().Err(err).Msg("playback: failed to load resume pointer, starting from the top")
		return playlist.Pointer{}
	}
	return ptr
}

// prepare hands the playlist to the engine at the resume index.
func (o *Orchestrator) prepare(pl playlist.Playlist, ptr playlist.Pointer) error {
	o.playlist = pl.Clone()
	if len(o.playlist) == 0 {
		zlog.Info().Msg("playback: playlist is empty, nothing to play")
		o.index = -1
		o.setState(StateStopped)
		return nil
	}

	idx := playlist.ResolveResumeIndex(o.playlist, ptr)
	zlog.Info().Msgf("playback: resuming: index=%d url=%s pointer_index=%d pointer_url=%s",
		idx, o.playlist[idx].URL, ptr.Index, ptr.URL)
	o.setIndex(idx, true)

	if err := o.loadEngine(idx, 0); err != nil {
		o.fail("failed to prepare stream", err)
		return nil
	}
	o.setState(StateReady)

	if o.config.Autoplay {
		if err := o.play(); err != nil {
			return err
		}
		if o.state == StatePlaying && o.config.BackgroundDelay > 0 {
			o.background = time.AfterFunc(o.config.BackgroundDelay, func() {
				o.post(Event{Type: EventBackground})
			})
		}
	}
	return nil
}

func (o *Orchestrator) loadEngine(idx int, offset time.Duration) error {
	items := make([]MediaItem, len(o.playlist))
	for i, s := range o.playlist {
		items[i] = MediaItem{URL: s.URL, Title: s.DisplayName(), ArtworkURL: s.IconURL}
	}
	if err := o.engine.SetMediaItems(items, idx, offset); err != nil {
		return errors.Wrap(err, "failed to set media items")
	}
	if err := o.engine.Prepare(); err != nil {
		return errors.Wrap(err, "failed to prepare engine")
	}
	return nil
}

func (o *Orchestrator) play() error {
	if !o.state.canPlay() {
		return errors.Wrapf(ErrNotReady, "state=%s", o.state)
	}
	if o.state == StatePlaying {
		return nil
	}

	if !o.focus.RequestFocus() {
		o.metrics.focusDenials.Inc()
		zlog.Warn().Msgf("playback: audio focus denied: state=%s", o.state)
		o.notify(notification.TypeWarning, "audio focus denied")
		return nil
	}

	if o.state == StateError {
		if err := o.engine.SeekToIndex(o.index); err != nil {
			o.fail("failed to reconnect", err)
			return nil
		}
	}
	if err := o.engine.Play(); err != nil {
		o.fail("failed to start playback", err)
		return nil
	}
	o.setState(StatePlaying)
	o.startMetadataWorker()
	return nil
}

func (o *Orchestrator) pause() error {
	switch o.state {
	case StateIdle, StatePreparing, StateStopped:
		return errors.Wrapf(ErrNotReady, "state=%s", o.state)
	case StatePlaying:
		if err := o.engine.Pause(); err != nil {
			zlog.Warn().Err(err).Msg("playback: engine pause failed")
		}
		o.stopMetadataWorker()
		o.setState(StatePaused)
	}
	o.focus.ReleaseFocus()
	return nil
}

// move runs an engine navigation call and adopts the index the engine lands on.
func (o *Orchestrator) move(step func() error) error {
	if !o.state.canPlay() {
		return errors.Wrapf(ErrNotReady, "state=%s", o.state)
	}
	if err := step(); err != nil {
		o.fail("failed to change stream", err)
		return nil
	}
	o.setIndex(o.engine.CurrentIndex(), false)
	return nil
}

func (o *Orchestrator) selectIndex(idx int) error {
	if !o.state.canPlay() {
		return errors.Wrapf(ErrNotReady, "state=%s", o.state)
	}
	if !o.playlist.InRange(idx) {
		return errors.Wrapf(ErrIndexOutOfRange, "index=%d len=%d", idx, len(o.playlist))
	}
	return o.move(func() error { return o.engine.SeekToIndex(idx) })
}

func (o *Orchestrator) replace(pl playlist.Playlist) error {
	for i, s := range pl {
		if err := s.Validate(); err != nil {
			return errors.Wrapf(err, "invalid stream at index %d", i)
		}
	}
	saved := pl.Clone()
	o.persister.Submit("playlist", func(ctx context.Context) error {
		return o.playlists.Save(ctx, saved)
	})
	return o.applyPlaylist(saved)
}

// applyPlaylist swaps in an edited playlist. The current position is kept by
// index; focus is left untouched while playing.
func (o *Orchestrator) applyPlaylist(pl playlist.Playlist) error {
	switch o.state {
	case StateIdle:
		// Start reads the store.
		return nil
	case StateStopped:
		return o.prepare(pl, o.pointer)
	}

	if len(pl) == 0 {
		o.stopMetadataWorker()
		if err := o.engine.Pause(); err != nil {
			zlog.Warn().Err(err).Msg("playback: engine pause failed")
		}
		o.focus.ReleaseFocus()
		o.playlist = playlist.Playlist{}
		o.index = -1
		o.lastTitle, o.info = "", nil
		o.setState(StateStopped)
		return nil
	}

	idx := playlist.ResolveReplacedIndex(pl, o.index)
	wasPlaying := o.state == StatePlaying
	var offset time.Duration
	if wasPlaying {
		offset = o.engine.Position()
	}

	o.playlist = pl.Clone()
	o.setIndex(idx, true)
	zlog.Info().Msgf("playback: playlist replaced: len=%d index=%d playing=%t", len(pl), idx, wasPlaying)

	if err := o.loadEngine(idx, offset); err != nil {
		o.fail("failed to rebuild media set", err)
		return nil
	}
	if wasPlaying {
		if err := o.engine.Play(); err != nil {
			o.fail("failed to resume playback", err)
		}
		return nil
	}
	if o.state == StateError {
		o.setState(StateReady)
	}
	return nil
}

func (o *Orchestrator) logTrack(rawTitle, streamName string) error {
	rawTitle = strings.TrimSpace(rawTitle)
	if rawTitle == "" {
		return ErrEmptyTitle
	}
	if streamName == "" {
		streamName = o.currentStream().DisplayName()
	}
	o.appendLog(track.NewLogEntry(o.now(), rawTitle, streamName))
	return nil
}

func (o *Orchestrator) stop() {
	if o.background != nil {
		o.background.Stop()
		o.background = nil
	}
	o.stopMetadataWorker()
	o.focus.ReleaseFocus()
	if err := o.engine.Release(); err != nil {
		zlog.Warn().Err(err).Msg("playback: engine release failed")
	}
	o.setState(StateStopped)
	o.persister.Close()
	o.cancel()
	zlog.Info().Msg("playback: stopped")
}

func (o *Orchestrator) onIndexChanged(idx int) {
	if o.state == StateIdle || o.state == StateStopped {
		return
	}
	if cur := o.engine.CurrentIndex(); idx != cur {
		zlog.Debug().Msgf("playback: stale index change dropped: index=%d current=%d", idx, cur)
		return
	}
	o.setIndex(idx, false)
}

// setIndex makes idx current and persists the pointer. Titles are reset and
// the metadata worker follows the new stream.
func (o *Orchestrator) setIndex(idx int, force bool) {
	if !o.playlist.InRange(idx) {
		zlog.Warn().Msgf("playback: index out of range: index=%d len=%d", idx, len(o.playlist))
		return
	}
	if idx == o.index && !force {
		return
	}
	if idx != o.index {
		o.metrics.trackChanges.Inc()
	}

	o.index = idx
	o.lastTitle = ""
	o.info = nil

	ptr := o.playlist.PointerAt(idx)
	o.pointer = ptr
	o.persister.Submit("pointer", func(ctx context.Context) error {
		return o.playlists.SavePointer(ctx, ptr)
	})
	zlog.Info().Msgf("playback: stream changed: index=%d name=%s", idx, o.playlist[idx].DisplayName())

	if o.state == StatePlaying {
		o.startMetadataWorker()
	}
	o.notify(notification.TypeState, "")
}

func (o *Orchestrator) onMetadata(rawTitle string, source MetadataSource, idx int) {
	if o.state == StateIdle || o.state == StateStopped {
		return
	}
	if source == SourceICY && idx != o.index {
		zlog.Debug().Msgf("playback: stale title dropped: index=%d current=%d", idx, o.index)
		return
	}
	rawTitle = strings.TrimSpace(rawTitle)
	if rawTitle == "" || rawTitle == o.lastTitle {
		return
	}

	o.lastTitle = rawTitle
	o.info = &track.Info{RawTitle: rawTitle}
	o.metrics.metadataEvents.WithLabelValues(string(source)).Inc()

	streamName := o.currentStream().DisplayName()
	zlog.Info().Msgf("playback: now playing: stream=%s title=%q source=%s", streamName, rawTitle, source)

	if o.config.AutoLog {
		entry := track.NewLogEntry(o.now(), rawTitle, streamName)
		if result := o.checkFilter(entry); result.Accepted {
			o.appendLog(entry)
		} else {
			zlog.Debug().Msgf("playback: title not logged: title=%q code=%s", rawTitle, result.Code)
		}
	}

	if o.enricher != nil {
		index := o.index
		go func() {
			info := o.enricher.Enrich(o.ctx, rawTitle)
			if info != nil {
				o.post(Event{Type: EventEnriched, Index: index, RawTitle: rawTitle, Info: info})
			}
		}()
	}

	o.notify(notification.TypeNowPlaying, "")
}

func (o *Orchestrator) checkFilter(entry track.LogEntry) filter.Result {
	if o.filter == nil {
		return filter.Accept()
	}
	return o.filter.Execute(o.ctx, entry)
}

func (o *Orchestrator) appendLog(entry track.LogEntry) {
	maxAge := o.config.MaxLogAgeDays
	o.persister.Submit("tracklog", func(ctx context.Context) error {
		if err := o.tracklog.Append(ctx, entry, maxAge); err != nil {
			return err
		}
		o.metrics.tracklogAppends.Inc()
		return nil
	})
}

func (o *Orchestrator) onEnriched(idx int, rawTitle string, info *track.Info) {
	if idx != o.index || rawTitle != o.lastTitle {
		return
	}
	o.info = info
	if info.Enriched() {
		o.notify(notification.TypeNowPlaying, "")
	}
}

func (o *Orchestrator) onPlayingChanged(playing bool) {
	if playing != o.engine.IsPlaying() {
		// Superseded by a later engine call.
		return
	}
	switch {
	case playing && (o.state == StateReady || o.state == StatePaused):
		// Started outside the control API, e.g. by a media key.
		if !o.focus.RequestFocus() {
			o.metrics.focusDenials.Inc()
			o.notify(notification.TypeWarning, "audio focus denied")
			if err := o.engine.Pause(); err != nil {
				zlog.Warn().Err(err).Msg("playback: engine pause failed")
			}
			return
		}
		o.setState(StatePlaying)
		o.startMetadataWorker()
	case !playing && o.state == StatePlaying:
		o.stopMetadataWorker()
		o.setState(StatePaused)
		o.focus.ReleaseFocus()
	}
}

func (o *Orchestrator) onEngineError(message string, cause error) {
	if o.state == StateIdle || o.state == StateStopped {
		return
	}
	o.fail(message, cause)
}

// fail pauses the engine and parks the orchestrator in the Error state.
func (o *Orchestrator) fail(message string, cause error) {
	o.metrics.engineErrors.Inc()
	if message == "" && cause != nil {
		message = cause.Error()
	}
	if err := o.engine.Pause(); err != nil {
		zlog.Debug().Err(err).Msg("playback: engine pause after error failed")
	}
	o.stopMetadataWorker()
	o.focus.ReleaseFocus()
	o.setState(StateError)

	text := fmt.Sprintf("%s: %s", o.currentStream().DisplayName(), message)
	zlog.Warn().Err(cause).Msgf("playback: engine error: index=%d %s", o.index, text)
	o.notify(notification.TypeError, text)
}

func (o *Orchestrator) onFocusLost(c focus.Change) {
	if o.state != StatePlaying {
		return
	}
	if o.focus.Held() {
		// Focus was granted again after this loss was queued.
		zlog.Debug().Msgf("playback: stale focus loss dropped: change=%s", c)
		return
	}
	if err := o.engine.Pause(); err != nil {
		zlog.Warn().Err(err).Msg("playback: engine pause failed")
	}
	o.stopMetadataWorker()
	o.setState(StatePaused)
	o.notify(notification.TypeWarning, fmt.Sprintf("audio focus lost (%s)", c))
}

func (o *Orchestrator) onBackground() {
	o.background = nil
	if o.state != StatePlaying {
		return
	}
	zlog.Info().Msg("playback: autoplay running, moving to background")
	o.notify(notification.TypeBackground, "playing in background")
}

func (o *Orchestrator) startMetadataWorker() {
	o.stopMetadataWorker()
	if o.engine.SurfacesMetadata() {
		return
	}
	s := o.currentStream()
	if s.URL == "" {
		return
	}
	o.worker = o.startWorker(o.ctx, o.index, s.URL)
}

func (o *Orchestrator) stopMetadataWorker() {
	if o.worker == nil {
		return
	}
	o.worker.Stop()
	o.worker = nil
}

func (o *Orchestrator) setState(s State) {
	if s == o.state {
		return
	}
	from := o.state
	o.state = s
	o.metrics.stateTransitions.WithLabelValues(from.String(), s.String()).Inc()
	zlog.Info().Msgf("playback: state changed: from=%s to=%s", from, s)
	o.notify(notification.TypeState, "")
}

func (o *Orchestrator) currentStream() playlist.Stream {
	if o.playlist.InRange(o.index) {
		return o.playlist[o.index]
	}
	return playlist.Stream{}
}

func (o *Orchestrator) notify(t notification.Type, message string) {
	o.notifier.Post(&notification.Notice{
		Type:       t,
		Time:       o.now(),
		State:      o.state.String(),
		Index:      o.index,
		StreamName: o.currentStream().DisplayName(),
		RawTitle:   o.lastTitle,
		Info:       o.info,
		Message:    message,
	})
}
