package player

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/webstream/internal/app/playback"
)

var errNoItems = errors.New("no media items")

// NullEngine is a silent engine that only tracks the index and play state.
// Paired with the ICY reader it logs titles without producing audio.
// Listener callbacks are invoked synchronously.
type NullEngine struct {
	mu        sync.Mutex
	listener  playback.EngineListener
	items     []playback.MediaItem
	index     int
	playing   bool
	startedAt time.Time
	offset    time.Duration
}

// NewNullEngine creates a silent engine.
func NewNullEngine() *NullEngine {
	return &NullEngine{index: -1}
}

func (e *NullEngine) SetListener(l playback.EngineListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = l
}

func (e *NullEngine) SetMediaItems(items []playback.MediaItem, startIndex int, offset time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(items) > 0 && (startIndex < 0 || startIndex >= len(items)) {
		return errors.Newf("start index %d out of range", startIndex)
	}
	e.items = append([]playback.MediaItem(nil), items...)
	e.index = startIndex
	e.offset = offset
	if e.playing {
		e.startedAt = time.Now()
	}
	return nil
}

func (e *NullEngine) Prepare() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.items) == 0 {
		return errNoItems
	}
	return nil
}

func (e *NullEngine) Play() error {
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
	e.startedAt = time.Now()
	l := e.listener
	e.mu.Unlock()

	if l != nil {
		l.OnPlayingChanged(true)
	}
	return nil
}

func (e *NullEngine) Pause() error {
	e.mu.Lock()
	if !e.playing {
		e.mu.Unlock()
		return nil
	}
	e.playing = false
	e.offset += time.Since(e.startedAt)
	l := e.listener
	e.mu.Unlock()

	if l != nil {
		l.OnPlayingChanged(false)
	}
	return nil
}

func (e *NullEngine) SeekToIndex(index int) error {
	e.mu.Lock()
	if index < 0 || index >= len(e.items) {
		e.mu.Unlock()
		return errors.Newf("index %d out of range", index)
	}
	return e.moveLocked(index)
}

func (e *NullEngine) Next() error {
	e.mu.Lock()
	if len(e.items) == 0 {
		e.mu.Unlock()
		return errNoItems
	}
	return e.moveLocked(wrap(e.index, 1, len(e.items)))
}

func (e *NullEngine) Previous() error {
	e.mu.Lock()
	if len(e.items) == 0 {
		e.mu.Unlock()
		return errNoItems
	}
	return e.moveLocked(wrap(e.index, -1, len(e.items)))
}

// moveLocked switches to index and releases the lock before notifying.
func (e *NullEngine) moveLocked(index int) error {
	changed := index != e.index
	e.index = index
	e.offset = 0
	e.startedAt = time.Now()
	l := e.listener
	e.mu.Unlock()

	if changed && l != nil {
		l.OnIndexChanged(index)
	}
	return nil
}

func (e *NullEngine) CurrentIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index
}

func (e *NullEngine) Position() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.playing {
		return e.offset + time.Since(e.startedAt)
	}
	return e.offset
}

func (e *NullEngine) IsPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

func (e *NullEngine) SurfacesMetadata() bool {
	return false
}

func (e *NullEngine) Release() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playing = false
	e.items = nil
	e.index = -1
	return nil
}
