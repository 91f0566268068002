// Package config provides configuration loading from YAML files.
package config

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server     ServerConfig            `yaml:"server"`
	Admin      AdminConfig             `yaml:"admin"`
	Storage    StorageConfig           `yaml:"storage"`
	Playback   PlaybackConfig          `yaml:"playback"`
	Player     PlayerConfig            `yaml:"player"`
	Enrichment EnrichmentConfig        `yaml:"enrichment"`
	Filters    map[string]FilterConfig `yaml:"filters"`
}

// ServerConfig represents control API server configuration.
type ServerConfig struct {
	Addr  string      `yaml:"addr" default:":8080"`
	Hooks HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// AdminConfig represents control API access configuration.
// An empty token disables authentication.
type AdminConfig struct {
	Token string `yaml:"token"`
}

// StorageConfig selects and configures the playlist and track-log backend.
type StorageConfig struct {
	Driver     string `yaml:"driver" default:"file" validate:"oneof=file sqlite memory"`
	Dir        string `yaml:"dir" default:"./data"`
	SQLitePath string `yaml:"sqlite_path" default:"webstream.db"`
}

// PlaybackConfig represents playback coordinator configuration.
type PlaybackConfig struct {
	AutoLog                            *bool `yaml:"auto_log" default:"true"`
	MaxLogAgeDays                      int   `yaml:"max_log_age_days" default:"10" validate:"gte=0"`
	AudioFocus                         *bool `yaml:"audio_focus" default:"true"`
	Autoplay                           bool  `yaml:"autoplay"`
	AutoplayThenBackgroundDelaySeconds int   `yaml:"autoplay_then_background_delay_seconds" default:"10" validate:"gte=0,lte=3600"`
	PersistQueueSize                   int   `yaml:"persist_queue_size" default:"64" validate:"gte=1,lte=4096"`
	EventBufferSize                    int   `yaml:"event_buffer_size" default:"32" validate:"gte=1,lte=4096"`
	IcyBufferSize                      int   `yaml:"icy_buffer_size" default:"1024" validate:"gte=16,lte=65536"`
}

// PlayerConfig represents the audio engine configuration.
type PlayerConfig struct {
	Driver     string `yaml:"driver" default:"beep" validate:"oneof=beep null"`
	SampleRate int    `yaml:"sample_rate" default:"44100" validate:"gte=8000,lte=192000"`
	BufferMs   int    `yaml:"buffer_ms" default:"100" validate:"gte=10,lte=2000"`
	UserAgent  string `yaml:"user_agent" default:"webstream/1.0"`
}

// EnrichmentConfig represents title enrichment configuration.
type EnrichmentConfig struct {
	Enabled   bool             `yaml:"enabled"`
	Providers []ProviderConfig `yaml:"providers" validate:"required_if=Enabled true,dive"`
}

// ProviderConfig represents a single enrichment provider configuration.
type ProviderConfig struct {
	Type        string         `yaml:"type" validate:"required"`
	DisplayName string         `yaml:"display_name" validate:"required"`
	Settings    map[string]any `yaml:"settings"`
}

// FilterConfig represents a track-log filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// Default returns a configuration with every default applied.
func Default() (*Config, error) {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	return &cfg, nil
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		c.Admin.Token = v
	}
	if v := os.Getenv("WEBSTREAM_DATA_DIR"); v != "" {
		c.Storage.Dir = v
	}
	if v := os.Getenv("LASTFM_API_KEY"); v != "" {
		for i := range c.Enrichment.Providers {
			if c.Enrichment.Providers[i].Type == "lastfm" {
				if c.Enrichment.Providers[i].Settings == nil {
					c.Enrichment.Providers[i].Settings = map[string]any{}
				}
				c.Enrichment.Providers[i].Settings["api_key"] = v
				break
			}
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}

// AutoLogEnabled reports whether titles are logged automatically.
func (p PlaybackConfig) AutoLogEnabled() bool {
	return p.AutoLog == nil || *p.AutoLog
}

// AudioFocusEnabled reports whether audio focus arbitration is active.
func (p PlaybackConfig) AudioFocusEnabled() bool {
	return p.AudioFocus == nil || *p.AudioFocus
}

// IsFilterEnabled checks if a filter is enabled.
func (c *Config) IsFilterEnabled(filterName string) bool {
	if f, ok := c.Filters[filterName]; ok {
		return f.Enabled
	}
	return false
}

// FilterSettings returns the settings for a filter.
func (c *Config) FilterSettings(filterName string) map[string]any {
	if f, ok := c.Filters[filterName]; ok {
		return f.Settings
	}
	return nil
}
