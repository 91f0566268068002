package enrich

import (
	"context"

	"github.com/osa030/webstream/internal/domain/track"
)

// SplitProvider attributes "Artist - Title" strings without any network lookup.
type SplitProvider struct{}

// NewSplitProvider creates a new SplitProvider.
func NewSplitProvider() *SplitProvider {
	return &SplitProvider{}
}

func (p *SplitProvider) Name() string {
	return "split"
}

func (p *SplitProvider) Enrich(ctx context.Context, rawTitle string) (*track.Info, error) {
	artist, title, ok := track.SplitArtistTitle(rawTitle)
	if !ok {
		return nil, nil
	}
	return &track.Info{RawTitle: rawTitle, Artist: artist, Title: title}, nil
}
