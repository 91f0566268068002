// Package playback coordinates the player engine, audio focus, metadata and storage.
package playback

// State represents the playback state.
type State int

const (
	StateIdle      State = iota // Not started yet
	StatePreparing              // Loading the playlist and resume pointer
	StateReady                  // Engine prepared, not playing
	StatePlaying                // Stream is playing
	StatePaused                 // Paused by the user or by focus loss
	StateError                  // Engine reported an error; play retries the same index
	StateStopped                // Nothing to play, or torn down
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreparing:
		return "preparing"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateError:
		return "error"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// canPlay reports whether a play request is meaningful in this state.
func (s State) canPlay() bool {
	return s == StateReady || s == StatePaused || s == StateError || s == StatePlaying
}
