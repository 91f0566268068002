package enrich

import (
	"context"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/webstream/internal/domain/track"
)

// ProviderWithMetadata wraps a provider with its metadata.
type ProviderWithMetadata struct {
	Provider    Provider
	DisplayName string
}

// ProviderChain tries multiple providers in order until one attributes the title.
type ProviderChain struct {
	providers []ProviderWithMetadata
}

// NewProviderChain creates a new provider chain.
func NewProviderChain(providers []ProviderWithMetadata) *ProviderChain {
	return &ProviderChain{
		providers: providers,
	}
}

// Enrich returns the first successful provider result.
// When every provider fails the raw title is returned unexpanded.
func (c *ProviderChain) Enrich(ctx context.Context, rawTitle string) *track.Info {
	if c == nil {
		return &track.Info{RawTitle: rawTitle}
	}
	for i, pm := range c.providers {
		if ctx.Err() != nil {
			break
		}
		zlog.Debug().Msgf("trying provider: index=%d total=%d name=%s provider_type=%s",
			i+1, len(c.providers), pm.DisplayName, pm.Provider.Name())

		info, err := pm.Provider.Enrich(ctx, rawTitle)
		if err != nil {
			zlog.Warn().Msgf("provider failed, trying next: provider=%s error=%v", pm.DisplayName, err)
			continue
		}
		if info == nil || !info.Enriched() {
			zlog.Debug().Msgf("provider returned no result: provider=%s", pm.DisplayName)
			continue
		}

		info.RawTitle = rawTitle
		zlog.Info().Msgf("title enriched: provider=%s title=%q", pm.DisplayName, info.DisplayTitle())
		return info
	}
	return &track.Info{RawTitle: rawTitle}
}

// Len returns the number of providers in the chain.
func (c *ProviderChain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.providers)
}

// Name returns the chain name.
func (c *ProviderChain) Name() string {
	return "provider_chain"
}
