// Package config loads, validates and writes the audiolink configuration.
//
// The primary format is HCL; JSON and YAML are accepted by file extension.
// Optional settings left out of a file take their defaults in Normalize.
package config

import (
	"time"

	"grimm.is/audiolink/internal/classify"
	"grimm.is/audiolink/internal/link"
)

// Defaults.
const (
	DefaultPollInterval  = 500 * time.Millisecond
	MinPollInterval      = 50 * time.Millisecond
	DefaultListen        = "127.0.0.1:7531"
	DefaultRetentionDays = 30
	MinGainDB            = -30.0
	MaxGainDB            = 100.0
)

// Config is the top-level configuration.
type Config struct {
	PollInterval string  `hcl:"poll_interval,optional" json:"poll_interval,omitempty" yaml:"poll_interval,omitempty"`
	Streaming    *bool   `hcl:"streaming,optional" json:"streaming,omitempty" yaml:"streaming,omitempty"`
	Listen       *string `hcl:"listen,optional" json:"listen,omitempty" yaml:"listen,omitempty"` // "" disables the control API

	Hub      *HubConfig      `hcl:"hub,block" json:"hub,omitempty" yaml:"hub,omitempty"`
	Capture  *RoleConfig     `hcl:"capture,block" json:"capture,omitempty" yaml:"capture,omitempty"`
	Playback *RoleConfig     `hcl:"playback,block" json:"playback,omitempty" yaml:"playback,omitempty"`
	Classify *ClassifyConfig `hcl:"classify,block" json:"classify,omitempty" yaml:"classify,omitempty"`
	Gain     *GainConfig     `hcl:"gain,block" json:"gain,omitempty" yaml:"gain,omitempty"`
	Journal  *JournalConfig  `hcl:"journal,block" json:"journal,omitempty" yaml:"journal,omitempty"`
	Log      *LogConfig      `hcl:"log,block" json:"log,omitempty" yaml:"log,omitempty"`
}

// HubConfig configures the virtual routing hub.
type HubConfig struct {
	Enabled           *bool  `hcl:"enabled,optional" json:"enabled,omitempty" yaml:"enabled,omitempty"`
	SinkName          string `hcl:"sink_name,optional" json:"sink_name,omitempty" yaml:"sink_name,omitempty"`
	SinkDescription   string `hcl:"sink_description,optional" json:"sink_description,omitempty" yaml:"sink_description,omitempty"`
	SourceName        string `hcl:"source_name,optional" json:"source_name,omitempty" yaml:"source_name,omitempty"`
	SourceDescription string `hcl:"source_description,optional" json:"source_description,omitempty" yaml:"source_description,omitempty"`
}

// RoleConfig is the initial state of one routing role. A nil Exclude takes
// the role's default exclusion list.
type RoleConfig struct {
	Auto     bool     `hcl:"auto,optional" json:"auto,omitempty" yaml:"auto,omitempty"`
	Selected []string `hcl:"selected,optional" json:"selected,omitempty" yaml:"selected,omitempty"`
	Exclude  []string `hcl:"exclude,optional" json:"exclude,omitempty" yaml:"exclude,omitempty"`
}

// ClassifyConfig tunes the application-node heuristics.
type ClassifyConfig struct {
	AppTokens  []string `hcl:"app_tokens,optional" json:"app_tokens,omitempty" yaml:"app_tokens,omitempty"`
	PortTokens []string `hcl:"port_tokens,optional" json:"port_tokens,omitempty" yaml:"port_tokens,omitempty"`
}

// GainConfig holds the hub sink gain offset applied when the hub comes up.
type GainConfig struct {
	OffsetDB float64 `hcl:"offset_db,optional" json:"offset_db,omitempty" yaml:"offset_db,omitempty"`
}

// JournalConfig configures the route journal. An empty path uses the
// default state directory.
type JournalConfig struct {
	Path          string `hcl:"path,optional" json:"path,omitempty" yaml:"path,omitempty"`
	RetentionDays *int   `hcl:"retention_days,optional" json:"retention_days,omitempty" yaml:"retention_days,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `hcl:"level,optional" json:"level,omitempty" yaml:"level,omitempty"`
	File  string `hcl:"file,optional" json:"file,omitempty" yaml:"file,omitempty"`
	JSON  bool   `hcl:"json,optional" json:"json,omitempty" yaml:"json,omitempty"`
}

// Default returns a fully populated default configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.Normalize()
	return cfg
}

// Normalize fills every unset setting with its default. It is idempotent.
func (c *Config) Normalize() {
	if c.PollInterval == "" {
		c.PollInterval = DefaultPollInterval.String()
	}
	if c.Streaming == nil {
		c.Streaming = boolPtr(true)
	}
	if c.Listen == nil {
		c.Listen = stringPtr(DefaultListen)
	}

	if c.Hub == nil {
		c.Hub = &HubConfig{}
	}
	hub := link.DefaultHubConfig()
	if c.Hub.Enabled == nil {
		c.Hub.Enabled = boolPtr(true)
	}
	c.Hub.SinkName = orDefault(c.Hub.SinkName, hub.SinkName)
	c.Hub.SinkDescription = orDefault(c.Hub.SinkDescription, hub.SinkDescription)
	c.Hub.SourceName = orDefault(c.Hub.SourceName, hub.SourceName)
	c.Hub.SourceDescription = orDefault(c.Hub.SourceDescription, hub.SourceDescription)

	if c.Capture == nil {
		c.Capture = &RoleConfig{}
	}
	if c.Capture.Exclude == nil {
		c.Capture.Exclude = append([]string{}, classify.DefaultExcludedSources...)
	}
	if c.Playback == nil {
		c.Playback = &RoleConfig{}
	}
	if c.Playback.Exclude == nil {
		c.Playback.Exclude = append([]string{}, classify.DefaultExcludedTargets...)
	}

	if c.Classify == nil {
		c.Classify = &ClassifyConfig{}
	}
	if c.Classify.AppTokens == nil {
		c.Classify.AppTokens = append([]string{}, classify.DefaultAppTokens...)
	}
	if c.Classify.PortTokens == nil {
		c.Classify.PortTokens = append([]string{}, classify.DefaultPortTokens...)
	}

	if c.Gain == nil {
		c.Gain = &GainConfig{}
	}
	if c.Journal == nil {
		c.Journal = &JournalConfig{}
	}
	if c.Journal.RetentionDays == nil {
		c.Journal.RetentionDays = intPtr(DefaultRetentionDays)
	}
	if c.Log == nil {
		c.Log = &LogConfig{}
	}
	c.Log.Level = orDefault(c.Log.Level, "info")
}

// Interval returns the parsed poll interval, or the default when it does
// not parse. Validate reports the parse error.
func (c *Config) Interval() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil {
		return DefaultPollInterval
	}
	return d
}

// HubEnabled reports whether the routing hub is used.
func (c *Config) HubEnabled() bool {
	return c.Hub != nil && c.Hub.Enabled != nil && *c.Hub.Enabled
}

// StreamingOnStart reports the initial streaming state.
func (c *Config) StreamingOnStart() bool {
	return c.Streaming == nil || *c.Streaming
}

// ListenAddr returns the control API address; "" means disabled.
func (c *Config) ListenAddr() string {
	if c.Listen == nil {
		return DefaultListen
	}
	return *c.Listen
}

// RetentionDays returns the journal retention; 0 keeps entries forever.
func (c *Config) RetentionDays() int {
	if c.Journal == nil || c.Journal.RetentionDays == nil {
		return DefaultRetentionDays
	}
	return *c.Journal.RetentionDays
}

// HubSettings converts the hub block for the link package.
func (c *Config) HubSettings() link.HubConfig {
	return link.HubConfig{
		SinkName:          c.Hub.SinkName,
		SinkDescription:   c.Hub.SinkDescription,
		SourceName:        c.Hub.SourceName,
		SourceDescription: c.Hub.SourceDescription,
	}
}

// ClassifierOptions builds classifier options. Hub node names are always
// managed, even with the hub disabled, so leftovers from an earlier run are
// never offered for routing.
func (c *Config) ClassifierOptions() classify.Options {
	return classify.Options{
		Managed:         []string{c.Hub.SinkName, c.Hub.SourceName},
		ExcludedSources: c.Capture.Exclude,
		ExcludedTargets: c.Playback.Exclude,
		AppTokens:       c.Classify.AppTokens,
		PortTokens:      c.Classify.PortTokens,
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func boolPtr(v bool) *bool       { return &v }
func stringPtr(v string) *string { return &v }
func intPtr(v int) *int          { return &v }
