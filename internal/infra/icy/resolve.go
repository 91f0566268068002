package icy

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// maxPlaylistSize bounds how much of a playlist file is read.
const maxPlaylistSize = 64 << 10

// IsPlaylistURL reports whether rawURL names a .pls or .m3u playlist file.
func IsPlaylistURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	switch strings.ToLower(path.Ext(u.Path)) {
	case ".pls", ".m3u", ".m3u8":
		return true
	}
	return false
}

// ResolveStreamURL returns the first stream URL of a .pls/.m3u playlist file.
// Any other URL is returned unchanged without touching the network, so live
// streams are never fetched here.
func ResolveStreamURL(ctx context.Context, client *http.Client, rawURL, userAgent string) (string, error) {
	if !IsPlaylistURL(rawURL) {
		return rawURL, nil
	}
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Accept", "*/*")
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "failed to fetch playlist")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", errors.Newf("unexpected status %d fetching playlist", resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, maxPlaylistSize)
	var streamURL string
	if strings.EqualFold(path.Ext(req.URL.Path), ".pls") || strings.Contains(resp.Header.Get("Content-Type"), "scpls") {
		streamURL, err = ParsePLS(body)
	} else {
		streamURL, err = ParseM3U(body)
	}
	if err != nil {
		return "", err
	}

	zlog.Debug().Msgf("icy: resolved playlist: url=%s stream=%s", rawURL, streamURL)
	return streamURL, nil
}

// ParsePLS returns the first FileN= entry of a PLS playlist.
func ParsePLS(r io.Reader) (string, error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(strings.ToLower(line), "file") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok || key == "" {
			continue
		}
		if v := strings.TrimSpace(value); v != "" {
			return v, nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", errors.Wrap(err, "failed to read PLS playlist")
	}
	return "", errors.New("no stream URL found in PLS playlist")
}

// ParseM3U returns the first http(s) entry of an M3U playlist.
func ParseM3U(r io.Reader) (string, error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
			return line, nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", errors.Wrap(err, "failed to read M3U playlist")
	}
	return "", errors.New("no stream URL found in M3U playlist")
}
