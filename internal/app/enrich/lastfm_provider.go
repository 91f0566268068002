package enrich

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/webstream/internal/domain/track"
	"github.com/osa030/webstream/internal/infra/lastfm"
)

// LastFmClient defines the interface for Last.fm operations.
type LastFmClient interface {
	GetTrackInfo(ctx context.Context, artistName, trackName string) (*lastfm.TrackInfo, error)
	SearchTrack(ctx context.Context, query string) (*lastfm.TrackInfo, error)
}

type LastFmProviderConfig struct {
	APIKey         string `yaml:"api_key" mapstructure:"api_key" validate:"required"`
	TimeoutSeconds int    `yaml:"timeout_seconds" mapstructure:"timeout_seconds" default:"10" validate:"gte=1,lte=60"`
	// Search falls back to track.search for titles without an "Artist - Title" separator.
	Search bool `yaml:"search" mapstructure:"search"`
}

// LastFmProvider enriches titles through the Last.fm track.getInfo API.
type LastFmProvider struct {
	lastfm LastFmClient
	config *LastFmProviderConfig
}

// NewLastFmProvider creates a new LastFmProvider from provider settings.
func NewLastFmProvider(settings map[string]any) (*LastFmProvider, error) {
	if len(settings) == 0 {
		return nil, errors.New("settings are required")
	}

	var config LastFmProviderConfig
	if err := mapstructure.WeakDecode(settings, &config); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(config); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}

	client, err := lastfm.New(lastfm.Config{
		APIKey:  config.APIKey,
		Timeout: time.Duration(config.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create last.fm client")
	}

	return &LastFmProvider{lastfm: client, config: &config}, nil
}

// newLastFmProviderWithClient creates a provider around an existing client.
func newLastFmProviderWithClient(client LastFmClient, config *LastFmProviderConfig) *LastFmProvider {
	return &LastFmProvider{lastfm: client, config: config}
}

func (p *LastFmProvider) Name() string {
	return "lastfm"
}

func (p *LastFmProvider) Enrich(ctx context.Context, rawTitle string) (*track.Info, error) {
	artist, title, ok := track.SplitArtistTitle(rawTitle)
	if !ok {
		if !p.config.Search {
			return nil, nil
		}
		info, err := p.lastfm.SearchTrack(ctx, rawTitle)
		if errors.Is(err, lastfm.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "track search failed")
		}
		return toInfo(rawTitle, info), nil
	}

	info, err := p.lastfm.GetTrackInfo(ctx, artist, title)
	if errors.Is(err, lastfm.ErrNotFound) && !isSameOrder(rawTitle, artist) {
		// The split heuristic may have guessed the order wrong.
		zlog.Debug().Msgf("lastfm: retrying with swapped order: %s", rawTitle)
		info, err = p.lastfm.GetTrackInfo(ctx, title, artist)
	}
	if errors.Is(err, lastfm.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "track info lookup failed")
	}
	return toInfo(rawTitle, info), nil
}

// isSameOrder reports whether artist appears first in the raw title.
func isSameOrder(rawTitle, artist string) bool {
	return len(rawTitle) >= len(artist) && rawTitle[:len(artist)] == artist
}

func toInfo(rawTitle string, info *lastfm.TrackInfo) *track.Info {
	return &track.Info{
		RawTitle:   rawTitle,
		Artist:     info.Artist,
		Title:      info.Name,
		ArtworkURL: info.ArtworkURL,
	}
}
