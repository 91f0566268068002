package filter

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/osa030/webstream/internal/domain/track"
)

// MinLengthConfig represents the configuration for MinLengthFilter.
type MinLengthConfig struct {
	MinRunes int `mapstructure:"min_runes" default:"3" validate:"gte=1,lte=200"`
}

// MinLengthFilter rejects titles that are too short to be real track names.
type MinLengthFilter struct {
	minRunes int
}

// NewMinLengthFilter creates a new min length filter.
func NewMinLengthFilter() *MinLengthFilter {
	return &MinLengthFilter{minRunes: 3}
}

func (f *MinLengthFilter) Name() string {
	return "min_length"
}

func (f *MinLengthFilter) Description() string {
	return "Skips titles shorter than a minimum number of characters"
}

func (f *MinLengthFilter) ValidateConfig(settings map[string]any) error {
	var cfg MinLengthConfig
	if err := decodeSettings(settings, &cfg); err != nil {
		return err
	}
	f.minRunes = cfg.MinRunes
	return nil
}

func (f *MinLengthFilter) Check(ctx context.Context, entry track.LogEntry) Result {
	if utf8.RuneCountInString(strings.TrimSpace(entry.RawTitle)) < f.minRunes {
		return Reject("too_short")
	}
	return Accept()
}

func init() {
	Register("min_length", func() Filter { return NewMinLengthFilter() })
}
