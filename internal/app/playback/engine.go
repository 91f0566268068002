package playback

import "time"

// MediaItem is one entry handed to the engine.
type MediaItem struct {
	URL        string
	Title      string
	ArtworkURL string
}

// Engine is the external player. Implementations report changes through the
// listener and may invoke it from any goroutine.
type Engine interface {
	SetListener(l EngineListener)
	SetMediaItems(items []MediaItem, startIndex int, offset time.Duration) error
	Prepare() error
	Play() error
	Pause() error
	SeekToIndex(index int) error
	// Next and Previous wrap around at the ends of the list.
	Next() error
	Previous() error
	CurrentIndex() int
	Position() time.Duration
	IsPlaying() bool
	// SurfacesMetadata reports whether the engine emits in-band titles itself.
	// When false the orchestrator reads ICY metadata on a side connection.
	SurfacesMetadata() bool
	Release() error
}

// EngineListener receives engine callbacks.
type EngineListener interface {
	OnIndexChanged(index int)
	OnMetadataChanged(rawTitle string)
	OnPlayingChanged(playing bool)
	OnError(message string, cause error)
}
