package filter

import (
	"context"
	"regexp"

	"github.com/cockroachdb/errors"

	"github.com/osa030/webstream/internal/domain/track"
)

// IgnorePatternConfig represents the configuration for IgnorePatternFilter.
type IgnorePatternConfig struct {
	Patterns        []string `mapstructure:"patterns" validate:"required,min=1,dive,required"`
	CaseInsensitive *bool    `mapstructure:"case_insensitive" default:"true"`
}

// IgnorePatternFilter rejects titles matching any configured regular expression,
// such as station jingles or ad breaks.
type IgnorePatternFilter struct {
	patterns []*regexp.Regexp
}

// NewIgnorePatternFilter creates a new ignore pattern filter.
func NewIgnorePatternFilter() *IgnorePatternFilter {
	return &IgnorePatternFilter{}
}

func (f *IgnorePatternFilter) Name() string {
	return "ignore_pattern"
}

func (f *IgnorePatternFilter) Description() string {
	return "Skips titles matching any configured regular expression"
}

func (f *IgnorePatternFilter) ValidateConfig(settings map[string]any) error {
	var cfg IgnorePatternConfig
	if err := decodeSettings(settings, &cfg); err != nil {
		return err
	}

	patterns := make([]*regexp.Regexp, 0, len(cfg.Patterns))
	for _, p := range cfg.Patterns {
		if *cfg.CaseInsensitive {
			p = "(?i)" + p
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return errors.Wrapf(err, "invalid pattern %q", p)
		}
		patterns = append(patterns, re)
	}
	f.patterns = patterns
	return nil
}

func (f *IgnorePatternFilter) Check(ctx context.Context, entry track.LogEntry) Result {
	for _, re := range f.patterns {
		if re.MatchString(entry.RawTitle) {
			return Reject("ignored_pattern")
		}
	}
	return Accept()
}

func init() {
	Register("ignore_pattern", func() Filter { return NewIgnorePatternFilter() })
}
