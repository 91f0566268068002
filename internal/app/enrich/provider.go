// Package enrich resolves raw stream titles into attributed track info.
package enrich

import (
	"context"

	"github.com/osa030/webstream/internal/domain/track"
)

// Provider is the interface for title enrichment providers.
// Implementations may work offline (title heuristics) or query a metadata service.
type Provider interface {
	// Enrich resolves a raw stream title.
	// A nil info with a nil error means the provider had no result.
	Enrich(ctx context.Context, rawTitle string) (*track.Info, error)

	// Name returns the provider name (used in config).
	Name() string
}
