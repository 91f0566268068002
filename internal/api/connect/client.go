package connect

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/osa030/webstream/internal/app/notification"
)

// Client calls the control service.
type Client struct {
	getStatus        *connect.Client[Empty, StatusResponse]
	play             *connect.Client[Empty, ActionResponse]
	pause            *connect.Client[Empty, ActionResponse]
	toggle           *connect.Client[Empty, ActionResponse]
	next             *connect.Client[Empty, ActionResponse]
	previous         *connect.Client[Empty, ActionResponse]
	selectIndex      *connect.Client[SelectRequest, ActionResponse]
	refresh          *connect.Client[Empty, ActionResponse]
	getPlaylist      *connect.Client[Empty, PlaylistResponse]
	importPlaylist   *connect.Client[ImportPlaylistRequest, ImportPlaylistResponse]
	logTrack         *connect.Client[LogTrackRequest, ActionResponse]
	listTrackLog     *connect.Client[Empty, TrackLogResponse]
	clearTrackLog    *connect.Client[Empty, ActionResponse]
	interrupt        *connect.Client[InterruptRequest, ActionResponse]
	releaseInterrupt *connect.Client[Empty, ActionResponse]
	subscribeNotices *connect.Client[Empty, notification.Notice]
}

// NewClient creates a client for the server at baseURL. token is sent as the
// admin token when not empty.
func NewClient(httpClient connect.HTTPClient, baseURL, token string, opts ...connect.ClientOption) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{
		connect.WithCodec(jsonCodec{}),
		connect.WithInterceptors(&tokenInterceptor{token: token}),
	}, opts...)

	return &Client{
		getStatus:        connect.NewClient[Empty, StatusResponse](httpClient, baseURL+GetStatusProcedure, opts...),
		play:             connect.NewClient[Empty, ActionResponse](httpClient, baseURL+PlayProcedure, opts...),
		pause:            connect.NewClient[Empty, ActionResponse](httpClient, baseURL+PauseProcedure, opts...),
		toggle:           connect.NewClient[Empty, ActionResponse](httpClient, baseURL+ToggleProcedure, opts...),
		next:             connect.NewClient[Empty, ActionResponse](httpClient, baseURL+NextProcedure, opts...),
		previous:         connect.NewClient[Empty, ActionResponse](httpClient, baseURL+PreviousProcedure, opts...),
		selectIndex:      connect.NewClient[SelectRequest, ActionResponse](httpClient, baseURL+SelectProcedure, opts...),
		refresh:          connect.NewClient[Empty, ActionResponse](httpClient, baseURL+RefreshPlaylistProcedure, opts...),
		getPlaylist:      connect.NewClient[Empty, PlaylistResponse](httpClient, baseURL+GetPlaylistProcedure, opts...),
		importPlaylist:   connect.NewClient[ImportPlaylistRequest, ImportPlaylistResponse](httpClient, baseURL+ImportPlaylistProcedure, opts...),
		logTrack:         connect.NewClient[LogTrackRequest, ActionResponse](httpClient, baseURL+LogTrackProcedure, opts...),
		listTrackLog:     connect.NewClient[Empty, TrackLogResponse](httpClient, baseURL+ListTrackLogProcedure, opts...),
		clearTrackLog:    connect.NewClient[Empty, ActionResponse](httpClient, baseURL+ClearTrackLogProcedure, opts...),
		interrupt:        connect.NewClient[InterruptRequest, ActionResponse](httpClient, baseURL+InterruptProcedure, opts...),
		releaseInterrupt: connect.NewClient[Empty, ActionResponse](httpClient, baseURL+ReleaseInterruptProcedure, opts...),
		subscribeNotices: connect.NewClient[Empty, notification.Notice](httpClient, baseURL+SubscribeNoticesProcedure, opts...),
	}
}

func unary[Req, Res any](ctx context.Context, c *connect.Client[Req, Res], msg *Req) (*Res, error) {
	resp, err := c.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) GetStatus(ctx context.Context) (*StatusResponse, error) {
	return unary(ctx, c.getStatus, &Empty{})
}

func (c *Client) Play(ctx context.Context) (*ActionResponse, error) {
	return unary(ctx, c.play, &Empty{})
}

func (c *Client) Pause(ctx context.Context) (*ActionResponse, error) {
	return unary(ctx, c.pause, &Empty{})
}

func (c *Client) Toggle(ctx context.Context) (*ActionResponse, error) {
	return unary(ctx, c.toggle, &Empty{})
}

func (c *Client) Next(ctx context.Context) (*ActionResponse, error) {
	return unary(ctx, c.next, &Empty{})
}

func (c *Client) Previous(ctx context.Context) (*ActionResponse, error) {
	return unary(ctx, c.previous, &Empty{})
}

func (c *Client) Select(ctx context.Context, index int) (*ActionResponse, error) {
	return unary(ctx, c.selectIndex, &SelectRequest{Index: index})
}

func (c *Client) RefreshPlaylist(ctx context.Context) (*ActionResponse, error) {
	return unary(ctx, c.refresh, &Empty{})
}

func (c *Client) GetPlaylist(ctx context.Context) (*PlaylistResponse, error) {
	return unary(ctx, c.getPlaylist, &Empty{})
}

func (c *Client) ImportPlaylist(ctx context.Context, req *ImportPlaylistRequest) (*ImportPlaylistResponse, error) {
	return unary(ctx, c.importPlaylist, req)
}

func (c *Client) LogTrack(ctx context.Context, rawTitle, streamName string) (*ActionResponse, error) {
	return unary(ctx, c.logTrack, &LogTrackRequest{RawTitle: rawTitle, StreamName: streamName})
}

func (c *Client) ListTrackLog(ctx context.Context) (*TrackLogResponse, error) {
	return unary(ctx, c.listTrackLog, &Empty{})
}

func (c *Client) ClearTrackLog(ctx context.Context) (*ActionResponse, error) {
	return unary(ctx, c.clearTrackLog, &Empty{})
}

func (c *Client) Interrupt(ctx context.Context, name string) (*ActionResponse, error) {
	return unary(ctx, c.interrupt, &InterruptRequest{Name: name})
}

func (c *Client) ReleaseInterrupt(ctx context.Context) (*ActionResponse, error) {
	return unary(ctx, c.releaseInterrupt, &Empty{})
}

// SubscribeNotices calls fn for every notice until the stream ends or fn
// returns an error.
func (c *Client) SubscribeNotices(ctx context.Context, fn func(*notification.Notice) error) error {
	stream, err := c.subscribeNotices.CallServerStream(ctx, connect.NewRequest(&Empty{}))
	if err != nil {
		return err
	}
	defer stream.Close()

	for stream.Receive() {
		if err := fn(stream.Msg()); err != nil {
			return err
		}
	}
	return stream.Err()
}
