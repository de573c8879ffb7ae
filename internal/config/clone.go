package config

import "slices"

// Clone returns a deep copy of the configuration. Nil and empty lists stay
// distinct: a nil Exclude means defaults, an empty one means none.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	out.Streaming = clonePtr(c.Streaming)
	out.Listen = clonePtr(c.Listen)
	if c.Hub != nil {
		hub := *c.Hub
		hub.Enabled = clonePtr(c.Hub.Enabled)
		out.Hub = &hub
	}
	out.Capture = c.Capture.clone()
	out.Playback = c.Playback.clone()
	if c.Classify != nil {
		out.Classify = &ClassifyConfig{
			AppTokens:  slices.Clone(c.Classify.AppTokens),
			PortTokens: slices.Clone(c.Classify.PortTokens),
		}
	}
	if c.Gain != nil {
		gain := *c.Gain
		out.Gain = &gain
	}
	if c.Journal != nil {
		j := *c.Journal
		j.RetentionDays = clonePtr(c.Journal.RetentionDays)
		out.Journal = &j
	}
	if c.Log != nil {
		l := *c.Log
		out.Log = &l
	}
	return &out
}

func (r *RoleConfig) clone() *RoleConfig {
	if r == nil {
		return nil
	}
	return &RoleConfig{
		Auto:     r.Auto,
		Selected: slices.Clone(r.Selected),
		Exclude:  slices.Clone(r.Exclude),
	}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
