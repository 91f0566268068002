package enrich

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/webstream/internal/domain/track"
	"github.com/osa030/webstream/internal/infra/config"
	"github.com/osa030/webstream/internal/infra/lastfm"
)

type mockLastFm struct {
	infos    map[string]*lastfm.TrackInfo // key: artist|track
	search   *lastfm.TrackInfo
	err      error
	requests []string
}

func (m *mockLastFm) GetTrackInfo(ctx context.Context, artistName, trackName string) (*lastfm.TrackInfo, error) {
	m.requests = append(m.requests, artistName+"|"+trackName)
	if m.err != nil {
		return nil, m.err
	}
	if info, ok := m.infos[artistName+"|"+trackName]; ok {
		return info, nil
	}
	return nil, lastfm.ErrNotFound
}

func (m *mockLastFm) SearchTrack(ctx context.Context, query string) (*lastfm.TrackInfo, error) {
	m.requests = append(m.requests, "search:"+query)
	if m.search == nil {
		return nil, lastfm.ErrNotFound
	}
	return m.search, nil
}

type stubProvider struct {
	name string
	info *track.Info
	err  error
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Enrich(ctx context.Context, rawTitle string) (*track.Info, error) {
	return s.info, s.err
}

func TestSplitProvider(t *testing.T) {
	p := NewSplitProvider()

	info, err := p.Enrich(context.Background(), "Queen - Bohemian Rhapsody")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "Queen", info.Artist)
	assert.Equal(t, "Bohemian Rhapsody", info.Title)

	info, err = p.Enrich(context.Background(), "Station ID")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestLastFmProvider_Enrich(t *testing.T) {
	canonical := &lastfm.TrackInfo{Name: "Bohemian Rhapsody", Artist: "Queen", ArtworkURL: "http://img/xl.png"}

	tests := []struct {
		name         string
		raw          string
		client       *mockLastFm
		search       bool
		wantArtist   string
		wantNil      bool
		wantErr      bool
		wantRequests []string
	}{
		{
			name:         "direct match",
			raw:          "Queen - Bohemian Rhapsody",
			client:       &mockLastFm{infos: map[string]*lastfm.TrackInfo{"Queen|Bohemian Rhapsody": canonical}},
			wantArtist:   "Queen",
			wantRequests: []string{"Queen|Bohemian Rhapsody"},
		},
		{
			name:         "broadcast order kept",
			raw:          "Let It Be - The Beatles Anthology",
			client:       &mockLastFm{infos: map[string]*lastfm.TrackInfo{"Let It Be|The Beatles Anthology": canonical}},
			wantArtist:   "Queen",
			wantRequests: []string{"Let It Be|The Beatles Anthology"},
		},
		{
			name:         "heuristic order wrong",
			raw:          "Bohemian Rhapsody - Queen",
			client:       &mockLastFm{infos: map[string]*lastfm.TrackInfo{"Bohemian Rhapsody|Queen": canonical}},
			wantArtist:   "Queen",
			wantRequests: []string{"Queen|Bohemian Rhapsody", "Bohemian Rhapsody|Queen"},
		},
		{
			name:         "not found",
			raw:          "Nobody - Nothing",
			client:       &mockLastFm{},
			wantNil:      true,
			wantRequests: []string{"Nobody|Nothing"},
		},
		{
			name:    "api failure",
			raw:     "Queen - Bohemian Rhapsody",
			client:  &mockLastFm{err: errors.New("boom")},
			wantErr: true,
		},
		{
			name:         "no separator without search",
			raw:          "Morning Show",
			client:       &mockLastFm{},
			wantNil:      true,
			wantRequests: nil,
		},
		{
			name:         "no separator with search",
			raw:          "Morning Show",
			client:       &mockLastFm{search: canonical},
			search:       true,
			wantArtist:   "Queen",
			wantRequests: []string{"search:Morning Show"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newLastFmProviderWithClient(tt.client, &LastFmProviderConfig{APIKey: "k", Search: tt.search})
			info, err := p.Enrich(context.Background(), tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, info)
			} else {
				require.NotNil(t, info)
				assert.Equal(t, tt.wantArtist, info.Artist)
				assert.Equal(t, tt.raw, info.RawTitle)
			}
			if tt.wantRequests != nil {
				assert.Equal(t, tt.wantRequests, tt.client.requests)
			} else {
				assert.Empty(t, tt.client.requests)
			}
		})
	}
}

func TestNewLastFmProvider_Settings(t *testing.T) {
	_, err := NewLastFmProvider(nil)
	assert.Error(t, err)

	_, err = NewLastFmProvider(map[string]any{"timeout_seconds": 5})
	assert.Error(t, err, "api_key is required")

	p, err := NewLastFmProvider(map[string]any{"api_key": "k"})
	require.NoError(t, err)
	assert.Equal(t, 10, p.config.TimeoutSeconds)
	assert.Equal(t, "lastfm", p.Name())
}

func TestProviderChain_Enrich(t *testing.T) {
	ctx := context.Background()

	t.Run("first success wins", func(t *testing.T) {
		chain := NewProviderChain([]ProviderWithMetadata{
			{Provider: &stubProvider{name: "a", err: errors.New("down")}, DisplayName: "A"},
			{Provider: &stubProvider{name: "b"}, DisplayName: "B"},
			{Provider: &stubProvider{name: "c", info: &track.Info{Artist: "X", Title: "Y"}}, DisplayName: "C"},
			{Provider: &stubProvider{name: "d", info: &track.Info{Artist: "Z"}}, DisplayName: "D"},
		})
		info := chain.Enrich(ctx, "raw")
		assert.Equal(t, &track.Info{RawTitle: "raw", Artist: "X", Title: "Y"}, info)
	})

	t.Run("all fail falls back to raw", func(t *testing.T) {
		chain := NewProviderChain([]ProviderWithMetadata{
			{Provider: &stubProvider{name: "a", err: errors.New("down")}, DisplayName: "A"},
			{Provider: &stubProvider{name: "b", info: &track.Info{}}, DisplayName: "B"},
		})
		info := chain.Enrich(ctx, "raw")
		assert.Equal(t, &track.Info{RawTitle: "raw"}, info)
		assert.Equal(t, "raw", info.DisplayTitle())
	})

	t.Run("nil chain", func(t *testing.T) {
		var chain *ProviderChain
		assert.Equal(t, &track.Info{RawTitle: "raw"}, chain.Enrich(ctx, "raw"))
		assert.Equal(t, 0, chain.Len())
	})
}

func TestNewProviderChainFromConfig(t *testing.T) {
	cfg := &config.Config{}
	chain, err := NewProviderChainFromConfig(cfg)
	require.NoError(t, err)
	assert.Nil(t, chain)

	cfg.Enrichment = config.EnrichmentConfig{
		Enabled: true,
		Providers: []config.ProviderConfig{
			{Type: "lastfm", DisplayName: "Last.fm", Settings: map[string]any{"api_key": "k"}},
			{Type: "split", DisplayName: "Split"},
		},
	}
	chain, err = NewProviderChainFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, chain.Len())

	cfg.Enrichment.Providers = append(cfg.Enrichment.Providers, config.ProviderConfig{Type: "unknown", DisplayName: "?"})
	_, err = NewProviderChainFromConfig(cfg)
	assert.Error(t, err)

	cfg.Enrichment.Providers = nil
	_, err = NewProviderChainFromConfig(cfg)
	assert.Error(t, err)
}
