package playback

import (
	"github.com/osa030/webstream/internal/app/focus"
	"github.com/osa030/webstream/internal/domain/playlist"
	"github.com/osa030/webstream/internal/domain/track"
)

// EventType represents an input to the control loop.
type EventType int

const (
	// Commands
	EventStart EventType = iota
	EventPlay
	EventPause
	EventToggle
	EventNext
	EventPrevious
	EventSelect
	EventRefresh
	EventReplace
	EventLogTrack
	EventStatus
	EventPlaylist
	EventStop

	// Notifications from collaborators
	EventIndexChanged   // Engine moved to a new index
	EventMetadata       // Raw title from the engine or the ICY reader
	EventPlayingChanged // Engine play state changed
	EventEngineError    // Engine failed
	EventFocusLost      // Host revoked audio focus
	EventEnriched       // Enrichment finished for a title
	EventBackground     // Autoplay-then-background delay elapsed
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventStart:
		return "start"
	case EventPlay:
		return "play"
	case EventPause:
		return "pause"
	case EventToggle:
		return "toggle"
	case EventNext:
		return "next"
	case EventPrevious:
		return "previous"
	case EventSelect:
		return "select"
	case EventRefresh:
		return "refresh"
	case EventReplace:
		return "replace"
	case EventLogTrack:
		return "log_track"
	case EventStatus:
		return "status"
	case EventPlaylist:
		return "playlist"
	case EventStop:
		return "stop"
	case EventIndexChanged:
		return "index_changed"
	case EventMetadata:
		return "metadata"
	case EventPlayingChanged:
		return "playing_changed"
	case EventEngineError:
		return "engine_error"
	case EventFocusLost:
		return "focus_lost"
	case EventEnriched:
		return "enriched"
	case EventBackground:
		return "background"
	default:
		return "unknown"
	}
}

// isCommand reports whether the event carries a reply channel.
func (e EventType) isCommand() bool {
	return e <= EventStop
}

// MetadataSource identifies where a raw title came from.
type MetadataSource string

const (
	SourceEngine MetadataSource = "engine"
	SourceICY    MetadataSource = "icy"
)

// Event is a single input to the control loop.
type Event struct {
	Type       EventType
	Index      int
	RawTitle   string
	StreamName string
	Source     MetadataSource
	Playing    bool
	Message    string
	Err        error
	Change     focus.Change
	Info       *track.Info
	Playlist   playlist.Playlist

	reply chan reply
}

// reply is the result of a command.
type reply struct {
	status   Status
	playlist playlist.Playlist
	err      error
}
