// Package main provides the control CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/webstream/internal/api/connect"
	"github.com/osa030/webstream/internal/app/notification"
	"github.com/osa030/webstream/internal/domain/playlist"
	"github.com/osa030/webstream/internal/infra/store"
)

var (
	app     = kingpin.New("webstream-ctl", "webstream control client")
	server  = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token   = app.Flag("token", "Admin token (or set ADMIN_TOKEN env)").Envar("ADMIN_TOKEN").String()
	timeout = app.Flag("timeout", "Request timeout").Default("10s").Duration()

	statusCmd = app.Command("status", "Show playback status")
	playCmd   = app.Command("play", "Start or resume playback")
	pauseCmd  = app.Command("pause", "Pause playback")
	toggleCmd = app.Command("toggle", "Toggle play/pause")
	nextCmd   = app.Command("next", "Play the next stream")
	prevCmd   = app.Command("prev", "Play the previous stream").Alias("previous")

	selectCmd   = app.Command("select", "Play the stream at an index")
	selectIndex = selectCmd.Arg("index", "Playlist index (0-based)").Required().Int()

	refreshCmd = app.Command("refresh", "Reload the playlist from storage")

	logCmd    = app.Command("log", "Append a title to the track log")
	logTitle  = logCmd.Arg("title", "Raw title").Required().String()
	logStream = logCmd.Arg("stream", "Stream name (default: current stream)").String()

	tracklogCmd      = app.Command("tracklog", "Track log commands")
	tracklogListCmd  = tracklogCmd.Command("list", "List the track log").Default()
	tracklogClearCmd = tracklogCmd.Command("clear", "Delete every track log entry")

	playlistCmd        = app.Command("playlist", "Playlist commands")
	playlistShowCmd    = playlistCmd.Command("show", "Show the playlist").Default()
	playlistExportCmd  = playlistCmd.Command("export", "Write the playlist as JSON to stdout")
	playlistImportCmd  = playlistCmd.Command("import", "Import streams from a JSON file")
	playlistImportFile = playlistImportCmd.Arg("file", "JSON array of {name, url, iconUrl}").Required().ExistingFile()
	playlistReplace    = playlistImportCmd.Flag("replace", "Replace the playlist instead of appending").Bool()

	interruptCmd  = app.Command("interrupt", "Take audio focus for an announcement")
	interruptName = interruptCmd.Arg("name", "Interrupt name").Default("announcement").String()
	releaseCmd    = app.Command("release", "Release audio focus taken by interrupt")

	watchCmd = app.Command("watch", "Stream playback notices")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	// Create client
	client := apiconnect.NewClient(http.DefaultClient, *server, *token)

	if command == watchCmd.FullCommand() {
		watch(client)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	// Execute command
	var err error
	switch command {
	case statusCmd.FullCommand():
		err = status(ctx, client)
	case playCmd.FullCommand():
		err = action(client.Play(ctx))
	case pauseCmd.FullCommand():
		err = action(client.Pause(ctx))
	case toggleCmd.FullCommand():
		err = action(client.Toggle(ctx))
	case nextCmd.FullCommand():
		err = action(client.Next(ctx))
	case prevCmd.FullCommand():
		err = action(client.Previous(ctx))
	case selectCmd.FullCommand():
		err = action(client.Select(ctx, *selectIndex))
	case refreshCmd.FullCommand():
		err = action(client.RefreshPlaylist(ctx))
	case logCmd.FullCommand():
		err = action(client.LogTrack(ctx, *logTitle, *logStream))
	case tracklogListCmd.FullCommand():
		err = listTrackLog(ctx, client)
	case tracklogClearCmd.FullCommand():
		err = action(client.ClearTrackLog(ctx))
	case playlistShowCmd.FullCommand():
		err = showPlaylist(ctx, client)
	case playlistExportCmd.FullCommand():
		err = exportPlaylist(ctx, client)
	case playlistImportCmd.FullCommand():
		err = importPlaylist(ctx, client, *playlistImportFile, *playlistReplace)
	case interruptCmd.FullCommand():
		err = action(client.Interrupt(ctx, *interruptName))
	case releaseCmd.FullCommand():
		err = action(client.ReleaseInterrupt(ctx))
	}

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func status(ctx context.Context, client *apiconnect.Client) error {
	s, err := client.GetStatus(ctx)
	if err != nil {
		return err
	}

	fmt.Println("\n=== PLAYBACK STATUS ===")
	printStatus(s)
	fmt.Println()
	return nil
}

func printStatus(s *apiconnect.StatusResponse) {
	fmt.Printf("State: %s\n", s.State)
	fmt.Printf("Audio Focus: %v\n", s.FocusHeld)
	fmt.Printf("Playlist: %d streams\n", s.PlaylistLen)
	if s.Stream == nil {
		fmt.Println("No stream selected")
		return
	}
	fmt.Printf("\nStream [%d]:\n", s.Index)
	fmt.Printf("  Name: %s\n", s.Stream.DisplayName())
	fmt.Printf("  URL: %s\n", s.Stream.URL)
	if s.RawTitle != "" {
		fmt.Printf("\nNow Playing: %s\n", s.RawTitle)
	}
	if s.Info != nil && s.Info.Enriched() {
		fmt.Printf("  Artist: %s\n", s.Info.Artist)
		fmt.Printf("  Title: %s\n", s.Info.Title)
		if s.Info.ArtworkURL != "" {
			fmt.Printf("  Artwork: %s\n", s.Info.ArtworkURL)
		}
	}
}

func action(resp *apiconnect.ActionResponse, err error) error {
	if err != nil {
		return err
	}
	if !resp.Success {
		fmt.Printf("Failed: %s\n", resp.Message)
		os.Exit(1)
	}
	if resp.Message != "" {
		fmt.Println(resp.Message)
	}
	if resp.Status != nil {
		printStatus(resp.Status)
	}
	return nil
}

func listTrackLog(ctx context.Context, client *apiconnect.Client) error {
	resp, err := client.ListTrackLog(ctx)
	if err != nil {
		return err
	}
	if len(resp.Entries) == 0 {
		fmt.Println("Track log is empty")
		return nil
	}
	for _, e := range resp.Entries {
		fmt.Printf("%s  %-24s  %s\n",
			time.UnixMilli(e.Timestamp).Format("2006-01-02 15:04:05"), e.StreamName, e.RawTitle)
	}
	fmt.Printf("\n%d entries\n", len(resp.Entries))
	return nil
}

func showPlaylist(ctx context.Context, client *apiconnect.Client) error {
	resp, err := client.GetPlaylist(ctx)
	if err != nil {
		return err
	}
	if len(resp.Streams) == 0 {
		fmt.Println("Playlist is empty")
		return nil
	}
	for i, s := range resp.Streams {
		fmt.Printf("[%d] %s\n     %s\n", i, s.DisplayName(), s.URL)
	}
	return nil
}

func exportPlaylist(ctx context.Context, client *apiconnect.Client) error {
	resp, err := client.GetPlaylist(ctx)
	if err != nil {
		return err
	}
	return store.ExportPlaylist(os.Stdout, resp.Streams)
}

func importPlaylist(ctx context.Context, client *apiconnect.Client, path string, replace bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var streams []playlist.Stream
	if err := json.Unmarshal(data, &streams); err != nil {
		return errors.Wrapf(err, "failed to parse %s", path)
	}

	resp, err := client.ImportPlaylist(ctx, &apiconnect.ImportPlaylistRequest{Streams: streams, Replace: replace})
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d streams (%d skipped), playlist now has %d\n", resp.Imported, resp.Skipped, resp.Total)
	return nil
}

func watch(client *apiconnect.Client) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("Watching playback notices. Press Ctrl+C to exit.")

	// Handle shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nUnsubscribing...")
		cancel()
	}()

	err := client.SubscribeNotices(ctx, func(n *notification.Notice) error {
		printNotice(n)
		return nil
	})
	if err != nil && ctx.Err() == nil {
		fmt.Printf("Stream error: %v\n", err)
		os.Exit(1)
	}
}

func printNotice(n *notification.Notice) {
	ts := n.Time.Format("15:04:05")
	switch n.Type {
	case notification.TypeNowPlaying:
		title := n.RawTitle
		if n.Info != nil {
			title = n.Info.DisplayTitle()
		}
		fmt.Printf("[%s] #%d now playing on %s: %s\n", ts, n.SequenceNo, n.StreamName, title)
	case notification.TypeWarning, notification.TypeError:
		fmt.Printf("[%s] #%d %s: %s\n", ts, n.SequenceNo, n.Type, n.Message)
	default:
		fmt.Printf("[%s] #%d %s: state=%s stream=%s\n", ts, n.SequenceNo, n.Type, n.State, n.StreamName)
	}
}
