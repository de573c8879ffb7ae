package config

import (
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
)

// GenerateHCL renders cfg as formatted HCL with every setting written out.
// cfg is normalized in place first.
func GenerateHCL(c *Config) []byte {
	c.Normalize()

	f := hclwrite.NewEmptyFile()
	root := f.Body()
	root.SetAttributeValue("poll_interval", cty.StringVal(c.PollInterval))
	root.SetAttributeValue("streaming", cty.BoolVal(*c.Streaming))
	root.SetAttributeValue("listen", cty.StringVal(*c.Listen))

	root.AppendNewline()
	hub := root.AppendNewBlock("hub", nil).Body()
	hub.SetAttributeValue("enabled", cty.BoolVal(*c.Hub.Enabled))
	hub.SetAttributeValue("sink_name", cty.StringVal(c.Hub.SinkName))
	hub.SetAttributeValue("sink_description", cty.StringVal(c.Hub.SinkDescription))
	hub.SetAttributeValue("source_name", cty.StringVal(c.Hub.SourceName))
	hub.SetAttributeValue("source_description", cty.StringVal(c.Hub.SourceDescription))

	for _, role := range []struct {
		name string
		cfg  *RoleConfig
	}{{"capture", c.Capture}, {"playback", c.Playback}} {
		root.AppendNewline()
		b := root.AppendNewBlock(role.name, nil).Body()
		b.SetAttributeValue("auto", cty.BoolVal(role.cfg.Auto))
		if len(role.cfg.Selected) > 0 {
			b.SetAttributeValue("selected", stringList(role.cfg.Selected))
		}
		b.SetAttributeValue("exclude", stringList(role.cfg.Exclude))
	}

	root.AppendNewline()
	cl := root.AppendNewBlock("classify", nil).Body()
	cl.SetAttributeValue("app_tokens", stringList(c.Classify.AppTokens))
	cl.SetAttributeValue("port_tokens", stringList(c.Classify.PortTokens))

	root.AppendNewline()
	gain := root.AppendNewBlock("gain", nil).Body()
	gain.SetAttributeValue("offset_db", cty.NumberFloatVal(c.Gain.OffsetDB))

	root.AppendNewline()
	j := root.AppendNewBlock("journal", nil).Body()
	j.SetAttributeValue("path", cty.StringVal(c.Journal.Path))
	j.SetAttributeValue("retention_days", cty.NumberIntVal(int64(*c.Journal.RetentionDays)))

	root.AppendNewline()
	l := root.AppendNewBlock("log", nil).Body()
	l.SetAttributeValue("level", cty.StringVal(c.Log.Level))
	l.SetAttributeValue("file", cty.StringVal(c.Log.File))
	l.SetAttributeValue("json", cty.BoolVal(c.Log.JSON))

	return hclwrite.Format(f.Bytes())
}

func stringList(vals []string) cty.Value {
	if len(vals) == 0 {
		return cty.ListValEmpty(cty.String)
	}
	out := make([]cty.Value, len(vals))
	for i, v := range vals {
		out[i] = cty.StringVal(v)
	}
	return cty.ListVal(out)
}
