// Package lastfm provides a client for the Last.fm API.
package lastfm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// ErrNotFound is returned when Last.fm has no match for the query.
var ErrNotFound = errors.New("last.fm: track not found")

// errCodeNotFound is the Last.fm error code for an unknown track.
const errCodeNotFound = 6

// trackInfoCacheEntry represents a cached track info result.
// A nil info caches a negative lookup.
type trackInfoCacheEntry struct {
	info *TrackInfo
}

// Client is a Last.fm API client.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client

	// Cache for track info, keyed by lowercased artist and track
	trackInfoCache map[string]*trackInfoCacheEntry

	// Mutex for cache access
	cacheMu sync.RWMutex
}

// Config represents Last.fm client configuration.
type Config struct {
	APIKey  string
	Timeout time.Duration
}

// TrackInfo represents canonical track details from Last.fm.
type TrackInfo struct {
	Name       string
	Artist     string
	Album      string
	ArtworkURL string
}

// image is a sized image reference in Last.fm responses.
type image struct {
	URL  string `json:"#text"`
	Size string `json:"size"`
}

// GetInfoResponse represents the response from track.getInfo API.
type GetInfoResponse struct {
	Track struct {
		Name   string `json:"name"`
		Artist struct {
			Name string `json:"name"`
		} `json:"artist"`
		Album struct {
			Title string  `json:"title"`
			Image []image `json:"image"`
		} `json:"album"`
	} `json:"track"`
}

// SearchResponse represents the response from track.search API.
type SearchResponse struct {
	Results struct {
		TrackMatches struct {
			Track []struct {
				Name   string  `json:"name"`
				Artist string  `json:"artist"`
				Image  []image `json:"image"`
			} `json:"track"`
		} `json:"trackmatches"`
	} `json:"results"`
}

// LastFMError represents an error response from Last.fm API.
type LastFMError struct {
	Error   int    `json:"error"`
	Message string `json:"message"`
}

// New creates a new Last.fm client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("last.fm API key is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		apiKey:         cfg.APIKey,
		baseURL:        "https://ws.audioscrobbler.com/2.0/",
		httpClient:     &http.Client{Timeout: timeout},
		trackInfoCache: make(map[string]*trackInfoCacheEntry),
	}, nil
}

// GetTrackInfo retrieves canonical track details by artist and track name.
// Reference: https://www.last.fm/api/show/track.getInfo
func (c *Client) GetTrackInfo(ctx context.Context, artistName, trackName string) (*TrackInfo, error) {
	if trackName == "" || artistName == "" {
		return nil, errors.New("track name and artist name are required")
	}

	// Check cache first
	cacheKey := fmt.Sprintf("trackinfo:%s:%s", strings.ToLower(artistName), strings.ToLower(trackName))
	c.cacheMu.RLock()
	if entry, ok := c.trackInfoCache[cacheKey]; ok {
		c.cacheMu.RUnlock()
		zlog.Debug().Msgf("using cached info for track: %s - %s", artistName, trackName)
		if entry.info == nil {
			return nil, ErrNotFound
		}
		return entry.info, nil
	}
	c.cacheMu.RUnlock()

	params := url.Values{}
	params.Set("method", "track.getInfo")
	params.Set("artist", artistName)
	params.Set("track", trackName)
	params.Set("autocorrect", "1")

	var response GetInfoResponse
	err := c.call(ctx, params, &response)
	if errors.Is(err, ErrNotFound) {
		c.storeTrackInfo(cacheKey, nil)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	info := &TrackInfo{
		Name:       response.Track.Name,
		Artist:     response.Track.Artist.Name,
		Album:      response.Track.Album.Title,
		ArtworkURL: largestImage(response.Track.Album.Image),
	}
	if info.Name == "" {
		info.Name = trackName
	}
	if info.Artist == "" {
		info.Artist = artistName
	}

	c.storeTrackInfo(cacheKey, info)
	zlog.Debug().Msgf("cached info for track: %s - %s", info.Artist, info.Name)

	return info, nil
}

// SearchTrack looks up the best match for a free-form query, such as a raw
// stream title that could not be split into artist and track.
// Reference: https://www.last.fm/api/show/track.search
func (c *Client) SearchTrack(ctx context.Context, query string) (*TrackInfo, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("query is required")
	}

	params := url.Values{}
	params.Set("method", "track.search")
	params.Set("track", query)
	params.Set("limit", "1")

	var response SearchResponse
	if err := c.call(ctx, params, &response); err != nil {
		return nil, err
	}

	matches := response.Results.TrackMatches.Track
	if len(matches) == 0 {
		return nil, ErrNotFound
	}
	return &TrackInfo{
		Name:       matches[0].Name,
		Artist:     matches[0].Artist,
		ArtworkURL: largestImage(matches[0].Image),
	}, nil
}

// call performs a GET request against the API and decodes the JSON body into out.
func (c *Client) call(ctx context.Context, params url.Values, out any) error {
	params.Set("api_key", c.apiKey)
	params.Set("format", "json")

	reqURL := c.baseURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response body")
	}

	// Check for Last.fm API errors
	var apiError LastFMError
	if err := json.Unmarshal(body, &apiError); err == nil && apiError.Error != 0 {
		if apiError.Error == errCodeNotFound {
			return ErrNotFound
		}
		return errors.Errorf("last.fm API error %d: %s", apiError.Error, apiError.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("last.fm API returned status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrap(err, "failed to parse response")
	}
	return nil
}

func (c *Client) storeTrackInfo(key string, info *TrackInfo) {
	c.cacheMu.Lock()
	c.trackInfoCache[key] = &trackInfoCacheEntry{info: info}
	c.cacheMu.Unlock()
}

// imageSizes orders Last.fm image sizes from smallest to largest.
var imageSizes = map[string]int{"small": 1, "medium": 2, "large": 3, "extralarge": 4, "mega": 5}

// largestImage returns the URL of the largest non-empty image.
func largestImage(images []image) string {
	best, bestRank := "", 0
	for _, img := range images {
		if img.URL == "" {
			continue
		}
		rank := imageSizes[img.Size]
		if best == "" || rank > bestRank {
			best, bestRank = img.URL, rank
		}
	}
	return best
}
