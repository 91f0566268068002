package connect

import (
	"github.com/osa030/webstream/internal/app/playback"
	"github.com/osa030/webstream/internal/domain/playlist"
	"github.com/osa030/webstream/internal/domain/track"
)

// ServiceName is the fully-qualified control service name.
const ServiceName = "webstream.v1.ControlService"

// Procedure paths.
const (
	GetStatusProcedure        = "/" + ServiceName + "/GetStatus"
	PlayProcedure             = "/" + ServiceName + "/Play"
	PauseProcedure            = "/" + ServiceName + "/Pause"
	ToggleProcedure           = "/" + ServiceName + "/Toggle"
	NextProcedure             = "/" + ServiceName + "/Next"
	PreviousProcedure         = "/" + ServiceName + "/Previous"
	SelectProcedure           = "/" + ServiceName + "/Select"
	RefreshPlaylistProcedure  = "/" + ServiceName + "/RefreshPlaylist"
	GetPlaylistProcedure      = "/" + ServiceName + "/GetPlaylist"
	ImportPlaylistProcedure   = "/" + ServiceName + "/ImportPlaylist"
	LogTrackProcedure         = "/" + ServiceName + "/LogTrack"
	ListTrackLogProcedure     = "/" + ServiceName + "/ListTrackLog"
	ClearTrackLogProcedure    = "/" + ServiceName + "/ClearTrackLog"
	InterruptProcedure        = "/" + ServiceName + "/Interrupt"
	ReleaseInterruptProcedure = "/" + ServiceName + "/ReleaseInterrupt"
	SubscribeNoticesProcedure = "/" + ServiceName + "/SubscribeNotices"
)

// Empty is the request of procedures without arguments.
type Empty struct{}

// StatusResponse is a snapshot of the playback state.
type StatusResponse struct {
	State       string           `json:"state"`
	Index       int              `json:"index"`
	Stream      *playlist.Stream `json:"stream,omitempty"`
	RawTitle    string           `json:"rawTitle,omitempty"`
	Info        *track.Info      `json:"info,omitempty"`
	FocusHeld   bool             `json:"focusHeld"`
	PlaylistLen int              `json:"playlistLen"`
}

// ActionResponse reports the outcome of a playback command.
type ActionResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Status  *StatusResponse `json:"status,omitempty"`
}

// SelectRequest selects a playlist index.
type SelectRequest struct {
	Index int `json:"index"`
}

// PlaylistResponse carries the current playlist.
type PlaylistResponse struct {
	Streams []playlist.Stream `json:"streams"`
}

// ImportPlaylistRequest merges streams into the playlist.
type ImportPlaylistRequest struct {
	Streams []playlist.Stream `json:"streams"`
	Replace bool              `json:"replace"`
}

// ImportPlaylistResponse summarizes an import.
type ImportPlaylistResponse struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Total    int `json:"total"`
}

// LogTrackRequest appends a manual log entry.
type LogTrackRequest struct {
	RawTitle   string `json:"rawTitle"`
	StreamName string `json:"streamName,omitempty"`
}

// TrackLogResponse carries the track log, oldest first.
type TrackLogResponse struct {
	Entries []track.LogEntry `json:"entries"`
}

// InterruptRequest takes audio focus on behalf of a transient client.
type InterruptRequest struct {
	Name string `json:"name"`
}

func toStatusResponse(s playback.Status) *StatusResponse {
	resp := &StatusResponse{
		State:       s.State.String(),
		Index:       s.Index,
		RawTitle:    s.RawTitle,
		Info:        s.Info,
		FocusHeld:   s.FocusHeld,
		PlaylistLen: s.PlaylistLen,
	}
	if s.Index >= 0 {
		stream := s.Stream
		resp.Stream = &stream
	}
	return resp
}
