// Package connect provides the Connect RPC control service.
package connect

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/webstream/internal/app/focus"
	"github.com/osa030/webstream/internal/app/notification"
	"github.com/osa030/webstream/internal/app/playback"
	"github.com/osa030/webstream/internal/infra/store"
)

// ControlService implements the control RPC procedures.
type ControlService struct {
	player   *playback.Orchestrator
	tracklog store.TrackLogStore
	notices  *notification.Manager
	broker   *focus.Broker

	interruptMu sync.Mutex
	interrupt   *focus.Client
}

// NewControlService creates a new ControlService. broker may be nil, in which
// case Interrupt is unavailable.
func NewControlService(
	player *playback.Orchestrator,
	tracklog store.TrackLogStore,
	notices *notification.Manager,
	broker *focus.Broker,
) *ControlService {
	return &ControlService{
		player:   player,
		tracklog: tracklog,
		notices:  notices,
		broker:   broker,
	}
}

// NewHandler registers every procedure on a mux and returns it.
func NewHandler(s *ControlService, opts ...connect.HandlerOption) *http.ServeMux {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)
	mux := http.NewServeMux()

	mux.Handle(GetStatusProcedure, connect.NewUnaryHandler(GetStatusProcedure, s.GetStatus, opts...))
	mux.Handle(PlayProcedure, connect.NewUnaryHandler(PlayProcedure, s.command(s.player.Play), opts...))
	mux.Handle(PauseProcedure, connect.NewUnaryHandler(PauseProcedure, s.command(s.player.Pause), opts...))
	mux.Handle(ToggleProcedure, connect.NewUnaryHandler(ToggleProcedure, s.command(s.player.Toggle), opts...))
	mux.Handle(NextProcedure, connect.NewUnaryHandler(NextProcedure, s.command(s.player.Next), opts...))
	mux.Handle(PreviousProcedure, connect.NewUnaryHandler(PreviousProcedure, s.command(s.player.Previous), opts...))
	mux.Handle(RefreshPlaylistProcedure, connect.NewUnaryHandler(RefreshPlaylistProcedure, s.command(s.player.RefreshPlaylist), opts...))
	mux.Handle(SelectProcedure, connect.NewUnaryHandler(SelectProcedure, s.Select, opts...))
	mux.Handle(GetPlaylistProcedure, connect.NewUnaryHandler(GetPlaylistProcedure, s.GetPlaylist, opts...))
	mux.Handle(ImportPlaylistProcedure, connect.NewUnaryHandler(ImportPlaylistProcedure, s.ImportPlaylist, opts...))
	mux.Handle(LogTrackProcedure, connect.NewUnaryHandler(LogTrackProcedure, s.LogTrack, opts...))
	mux.Handle(ListTrackLogProcedure, connect.NewUnaryHandler(ListTrackLogProcedure, s.ListTrackLog, opts...))
	mux.Handle(ClearTrackLogProcedure, connect.NewUnaryHandler(ClearTrackLogProcedure, s.ClearTrackLog, opts...))
	mux.Handle(InterruptProcedure, connect.NewUnaryHandler(InterruptProcedure, s.Interrupt, opts...))
	mux.Handle(ReleaseInterruptProcedure, connect.NewUnaryHandler(ReleaseInterruptProcedure, s.ReleaseInterrupt, opts...))
	mux.Handle(SubscribeNoticesProcedure, connect.NewServerStreamHandler(SubscribeNoticesProcedure, s.SubscribeNotices, opts...))

	return mux
}

// GetStatus returns the current playback status.
func (s *ControlService) GetStatus(
	ctx context.Context,
	req *connect.Request[Empty],
) (*connect.Response[StatusResponse], error) {
	status, err := s.player.Status(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(toStatusResponse(status)), nil
}

// command adapts an argument-less orchestrator command to a unary handler.
func (s *ControlService) command(
	fn func(context.Context) error,
) func(context.Context, *connect.Request[Empty]) (*connect.Response[ActionResponse], error) {
	return func(ctx context.Context, req *connect.Request[Empty]) (*connect.Response[ActionResponse], error) {
		return s.action(ctx, fn(ctx))
	}
}

// Select moves playback to an index.
func (s *ControlService) Select(
	ctx context.Context,
	req *connect.Request[SelectRequest],
) (*connect.Response[ActionResponse], error) {
	return s.action(ctx, s.player.SelectIndex(ctx, req.Msg.Index))
}

// GetPlaylist returns the playlist currently applied.
func (s *ControlService) GetPlaylist(
	ctx context.Context,
	req *connect.Request[Empty],
) (*connect.Response[PlaylistResponse], error) {
	pl, err := s.player.Playlist(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&PlaylistResponse{Streams: pl}), nil
}

// ImportPlaylist merges streams into the playlist and applies the result.
func (s *ControlService) ImportPlaylist(
	ctx context.Context,
	req *connect.Request[ImportPlaylistRequest],
) (*connect.Response[ImportPlaylistResponse], error) {
	existing, err := s.player.Playlist(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}

	data, err := json.Marshal(req.Msg.Streams)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	mode := store.ImportAppend
	if req.Msg.Replace {
		mode = store.ImportReplace
	}
	pl, res, err := store.ImportPlaylist(existing, bytes.NewReader(data), mode)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	if err := s.player.ReplacePlaylist(ctx, pl); err != nil {
		return nil, toConnectError(err)
	}

	zlog.Info().Msgf("connect: playlist imported: imported=%d skipped=%d total=%d mode=%s",
		res.Imported, res.Skipped, res.Total, mode)
	return connect.NewResponse(&ImportPlaylistResponse{
		Imported: res.Imported,
		Skipped:  res.Skipped,
		Total:    res.Total,
	}), nil
}

// LogTrack appends a manual entry to the track log.
func (s *ControlService) LogTrack(
	ctx context.Context,
	req *connect.Request[LogTrackRequest],
) (*connect.Response[ActionResponse], error) {
	return s.action(ctx, s.player.LogTrack(ctx, req.Msg.RawTitle, req.Msg.StreamName))
}

// ListTrackLog returns the stored track log.
func (s *ControlService) ListTrackLog(
	ctx context.Context,
	req *connect.Request[Empty],
) (*connect.Response[TrackLogResponse], error) {
	// Pending appends must be visible.
	if err := s.player.Flush(ctx); err != nil {
		return nil, toConnectError(err)
	}
	entries, err := s.tracklog.List(ctx)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(&TrackLogResponse{Entries: entries}), nil
}

// ClearTrackLog removes every track log entry.
func (s *ControlService) ClearTrackLog(
	ctx context.Context,
	req *connect.Request[Empty],
) (*connect.Response[ActionResponse], error) {
	if err := s.player.Flush(ctx); err != nil {
		return nil, toConnectError(err)
	}
	if err := s.tracklog.Clear(ctx); err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(&ActionResponse{Success: true, Message: "Track log cleared"}), nil
}

// Interrupt takes audio focus for a transient client, such as an announcement.
// The current holder loses focus and playback pauses.
func (s *ControlService) Interrupt(
	ctx context.Context,
	req *connect.Request[InterruptRequest],
) (*connect.Response[ActionResponse], error) {
	if s.broker == nil {
		return nil, connect.NewError(connect.CodeUnimplemented, errors.New("no focus broker"))
	}
	name := strings.TrimSpace(req.Msg.Name)
	if name == "" {
		name = "interrupt"
	}

	s.interruptMu.Lock()
	defer s.interruptMu.Unlock()
	if s.interrupt != nil {
		return connect.NewResponse(&ActionResponse{
			Success: false,
			Message: "interrupt already active: " + s.interrupt.Name(),
		}), nil
	}

	client := s.broker.TransientClient(name)
	if !client.RequestFocus(focus.UsageAlarm, func(focus.Change) {}) {
		return connect.NewResponse(&ActionResponse{Success: false, Message: "focus request denied"}), nil
	}
	s.interrupt = client
	zlog.Info().Msgf("connect: interrupt started: name=%s", name)
	return s.action(ctx, nil)
}

// ReleaseInterrupt gives up focus taken by Interrupt. Playback is not resumed.
func (s *ControlService) ReleaseInterrupt(
	ctx context.Context,
	req *connect.Request[Empty],
) (*connect.Response[ActionResponse], error) {
	s.interruptMu.Lock()
	client := s.interrupt
	s.interrupt = nil
	s.interruptMu.Unlock()

	if client == nil {
		return connect.NewResponse(&ActionResponse{Success: false, Message: "no active interrupt"}), nil
	}
	client.AbandonFocus()
	zlog.Info().Msgf("connect: interrupt released: name=%s", client.Name())
	return s.action(ctx, nil)
}

// SubscribeNotices streams the initial state followed by every notice until
// the client disconnects or playback stops.
func (s *ControlService) SubscribeNotices(
	ctx context.Context,
	req *connect.Request[Empty],
	stream *connect.ServerStream[notification.Notice],
) error {
	status, err := s.player.Status(ctx)
	if err != nil {
		return toConnectError(err)
	}

	initial := &notification.Notice{
		Type:       notification.TypeInitialState,
		SequenceNo: s.notices.NextSequenceNo(),
		State:      status.State.String(),
		Index:      status.Index,
		StreamName: status.Stream.DisplayName(),
		RawTitle:   status.RawTitle,
		Info:       status.Info,
	}
	if err := stream.Send(initial); err != nil {
		return err
	}

	adapter := &noticeStreamAdapter{stream: stream}
	subscriptionID := s.notices.Subscribe(adapter)
	defer s.notices.Unsubscribe(subscriptionID)

	select {
	case <-ctx.Done():
	case <-s.player.Done():
	}
	return nil
}

// action builds the response of a playback command. Rejections are reported
// in the body; only a stopped orchestrator is an RPC error.
func (s *ControlService) action(ctx context.Context, cmdErr error) (*connect.Response[ActionResponse], error) {
	if errors.Is(cmdErr, playback.ErrStopped) {
		return nil, toConnectError(cmdErr)
	}

	resp := &ActionResponse{Success: cmdErr == nil}
	if cmdErr != nil {
		resp.Message = cmdErr.Error()
	}
	if status, err := s.player.Status(ctx); err == nil {
		resp.Status = toStatusResponse(status)
	}
	return connect.NewResponse(resp), nil
}

// noticeStreamAdapter adapts connect.ServerStream to notification.Stream.
// Sends are serialized since the manager may deliver concurrently.
type noticeStreamAdapter struct {
	mu     sync.Mutex
	stream *connect.ServerStream[notification.Notice]
}

func (a *noticeStreamAdapter) Send(n *notification.Notice) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stream.Send(n)
}

func toConnectError(err error) error {
	switch {
	case errors.Is(err, playback.ErrStopped):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
