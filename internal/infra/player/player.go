// Package player provides the audio engines driven by the playback orchestrator.
package player

import (
	"github.com/cockroachdb/errors"

	"github.com/osa030/webstream/internal/app/playback"
	"github.com/osa030/webstream/internal/infra/config"
)

// New creates the engine selected by cfg.Driver.
func New(cfg config.PlayerConfig) (playback.Engine, error) {
	switch cfg.Driver {
	case "beep", "":
		return NewBeepEngine(cfg), nil
	case "null":
		return NewNullEngine(), nil
	default:
		return nil, errors.Newf("unsupported player driver: %s", cfg.Driver)
	}
}

// wrap returns the index after moving delta steps with wrap-around.
func wrap(index, delta, n int) int {
	if n == 0 {
		return -1
	}
	return ((index+delta)%n + n) % n
}
