package enrich

import (
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/webstream/internal/infra/config"
)

// NewProviderChainFromConfig creates a provider chain from configuration.
// It returns a nil chain when enrichment is disabled.
func NewProviderChainFromConfig(cfg *config.Config) (*ProviderChain, error) {
	if !cfg.Enrichment.Enabled {
		return nil, nil
	}
	if len(cfg.Enrichment.Providers) == 0 {
		return nil, errors.New("no enrichment providers configured")
	}

	var providers []ProviderWithMetadata

	for i, pcfg := range cfg.Enrichment.Providers {
		var provider Provider
		var err error
		zlog.Debug().Msgf("creating enrichment provider: index=%d type=%s", i+1, pcfg.Type)
		switch pcfg.Type {
		case "split":
			provider = NewSplitProvider()

		case "lastfm":
			provider, err = NewLastFmProvider(pcfg.Settings)

		default:
			return nil, errors.Newf("unsupported provider type: %s (provider index %d)", pcfg.Type, i)
		}

		if err != nil {
			return nil, errors.Wrapf(err, "failed to create provider (index %d, type %s)", i, pcfg.Type)
		}

		providers = append(providers, ProviderWithMetadata{
			Provider:    provider,
			DisplayName: pcfg.DisplayName,
		})

		zlog.Info().Msgf("registered enrichment provider: index=%d type=%s display_name=%s", i+1, pcfg.Type, pcfg.DisplayName)
	}

	return NewProviderChain(providers), nil
}
