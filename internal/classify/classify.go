// Package classify decides which snapshot nodes are worth offering as
// routable sources and targets.
package classify

import (
	"strings"

	"grimm.is/audiolink/internal/graph"
)

// DefaultAppTokens are application names that mark a node as an app stream
// when its metadata is otherwise weak.
var DefaultAppTokens = []string{"firefox", "chrome", "discord", "spotify", "vlc"}

// DefaultPortTokens are port-name fragments that look routable.
var DefaultPortTokens = []string{"audio", "playback", "capture", "input", "output", "monitor"}

// Default exclusion lists. These are nodes created by audiolink itself or
// by screen recorders that should never be offered.
var (
	DefaultExcludedSources = []string{"input.audiolink_virtual_mic", "gsr-default_input", "gsr-default_output"}
	DefaultExcludedTargets = []string{"input.audiolink_virtual_mic", "gsr-default_output"}
)

// Options configures a Classifier. Nil token slices take the defaults;
// empty non-nil slices disable the heuristic.
type Options struct {
	// Managed are node names owned by the routing hub.
	Managed         []string
	ExcludedSources []string
	ExcludedTargets []string
	AppTokens       []string
	PortTokens      []string
}

// Classifier filters snapshot nodes into application sources and targets.
type Classifier struct {
	managed         map[string]bool
	excludedSources map[string]bool
	excludedTargets map[string]bool
	appTokens       []string
	portTokens      []string
}

// New creates a classifier.
func New(opts Options) *Classifier {
	c := &Classifier{
		managed:         toSet(opts.Managed),
		excludedSources: toSet(opts.ExcludedSources),
		excludedTargets: toSet(opts.ExcludedTargets),
		appTokens:       lowerAll(opts.AppTokens, DefaultAppTokens),
		portTokens:      lowerAll(opts.PortTokens, DefaultPortTokens),
	}
	return c
}

// ApplicationSources returns the routable source nodes of the snapshot.
func (c *Classifier) ApplicationSources(snap *graph.Snapshot) []*graph.Node {
	return c.exclude(c.waterfall(snap.Sources()), c.excludedSources)
}

// ApplicationTargets returns the routable sink nodes of the snapshot.
func (c *Classifier) ApplicationTargets(snap *graph.Snapshot) []*graph.Node {
	return c.exclude(c.waterfall(snap.Sinks()), c.excludedTargets)
}

// FindSourcesByPID returns source nodes owned by the given process.
func (c *Classifier) FindSourcesByPID(pid int, snap *graph.Snapshot) []*graph.Node {
	var out []*graph.Node
	for _, n := range snap.Sources() {
		if n.HasPID() && n.PID == pid {
			out = append(out, n)
		}
	}
	return out
}

// IsManaged reports whether a node belongs to the routing hub.
func (c *Classifier) IsManaged(n *graph.Node) bool {
	return c.managed[n.Name]
}

// IsApplicationNode reports whether the node's metadata marks it as an
// application audio stream.
func (c *Classifier) IsApplicationNode(n *graph.Node) bool {
	class := strings.ToLower(n.MediaClass)
	if !strings.Contains(class, "audio") {
		return false
	}
	if strings.Contains(class, "stream") {
		return true
	}
	desc, name := strings.ToLower(n.Description), strings.ToLower(n.Name)
	for _, tok := range c.appTokens {
		if strings.Contains(desc, tok) || strings.Contains(name, tok) {
			return true
		}
	}
	return n.HasPID()
}

// LooksRoutable reports whether the node exposes an audio-ish port, or any
// port at all.
func (c *Classifier) LooksRoutable(n *graph.Node) bool {
	for _, p := range n.Ports {
		low := strings.ToLower(p.Name)
		for _, tok := range c.portTokens {
			if strings.Contains(low, tok) {
				return true
			}
		}
	}
	return len(n.Ports) > 0
}

// waterfall narrows nodes (already sorted by description) by the first
// heuristic tier that yields anything.
func (c *Classifier) waterfall(nodes []*graph.Node) []*graph.Node {
	filtered := make([]*graph.Node, 0, len(nodes))
	for _, n := range nodes {
		if !c.IsManaged(n) {
			filtered = append(filtered, n)
		}
	}
	if preferred := keep(filtered, c.IsApplicationNode); len(preferred) > 0 {
		return preferred
	}
	if routable := keep(filtered, c.LooksRoutable); len(routable) > 0 {
		return routable
	}
	return filtered
}

func (c *Classifier) exclude(nodes []*graph.Node, excluded map[string]bool) []*graph.Node {
	return keep(nodes, func(n *graph.Node) bool { return !excluded[n.Name] })
}

func keep(nodes []*graph.Node, pred func(*graph.Node) bool) []*graph.Node {
	var out []*graph.Node
	for _, n := range nodes {
		if pred(n) {
			out = append(out, n)
		}
	}
	return out
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, s := range items {
		set[s] = true
	}
	return set
}

func lowerAll(items, fallback []string) []string {
	if items == nil {
		items = fallback
	}
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
