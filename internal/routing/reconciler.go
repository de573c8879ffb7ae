// Package routing holds the desired-state side of audio routing: per-role
// selections and modes, and the diff from a snapshot to link/unlink actions.
//
// A Reconciler is not safe for concurrent use. Callers serialize access to
// one instance.
package routing

import (
	"sort"
	"strings"

	"grimm.is/audiolink/internal/graph"
)

// Role distinguishes the two sides of routing.
type Role string

const (
	// Capture is the source side: nodes whose audio is picked up.
	Capture Role = "capture"
	// Playback is the target side: nodes that receive the audio.
	Playback Role = "playback"
)

// ParseRole accepts "capture"/"sources" and "playback"/"targets".
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(s) {
	case "capture", "source", "sources":
		return Capture, true
	case "playback", "target", "targets":
		return Playback, true
	}
	return "", false
}

// Op is a routing action kind.
type Op string

const (
	OpLink   Op = "link"
	OpUnlink Op = "unlink"
)

// RouteAction is one link or unlink between two stable keys.
type RouteAction struct {
	Op        Op        `json:"op"`
	SourceKey graph.Key `json:"source"`
	TargetKey graph.Key `json:"target"`
}

// Pair is a (source, target) key pair.
type Pair struct {
	Source graph.Key `json:"source"`
	Target graph.Key `json:"target"`
}

func (p Pair) less(o Pair) bool {
	if p.Source != o.Source {
		return p.Source < o.Source
	}
	return p.Target < o.Target
}

// HubKeys names the routing hub's sink and source. A nil *HubKeys selects
// direct mode.
type HubKeys struct {
	Sink   graph.Key
	Source graph.Key
}

// ListEntry is one row of a role's display list.
type ListEntry struct {
	Key       graph.Key `json:"key"`
	Label     string    `json:"label"`
	Available bool      `json:"available"`
	Selected  bool      `json:"selected"`
}

type roleState struct {
	auto      bool
	selected  map[graph.Key]bool
	available map[graph.Key]bool
	labels    map[graph.Key]string
}

func newRoleState() *roleState {
	return &roleState{
		selected:  make(map[graph.Key]bool),
		available: make(map[graph.Key]bool),
		labels:    make(map[graph.Key]string),
	}
}

// pool is the set of keys routed for this role.
func (r *roleState) pool() map[graph.Key]bool {
	if r.auto {
		return r.available
	}
	return r.selected
}

// Reconciler tracks what should be routed and diffs it against snapshots.
type Reconciler struct {
	streaming bool
	roles     map[Role]*roleState
	baseline  map[Pair]bool
}

// NewReconciler creates a reconciler with streaming off, both roles manual
// and empty selections.
func NewReconciler() *Reconciler {
	return &Reconciler{
		roles: map[Role]*roleState{
			Capture:  newRoleState(),
			Playback: newRoleState(),
		},
		baseline: make(map[Pair]bool),
	}
}

// UpdateAvailable replaces the available sets with the classified nodes of
// the latest snapshot. Labels of nodes seen before are remembered so that
// selected-but-missing entries keep a readable label.
func (r *Reconciler) UpdateAvailable(sources, targets []*graph.Node) {
	r.updateRole(r.roles[Capture], sources)
	r.updateRole(r.roles[Playback], targets)
}

func (r *Reconciler) updateRole(rs *roleState, nodes []*graph.Node) {
	rs.available = make(map[graph.Key]bool, len(nodes))
	for _, n := range nodes {
		rs.available[n.Key()] = true
		rs.labels[n.Key()] = n.Description
	}
}

// SetSelection replaces a role's manual selection. It is a no-op while the
// role is in auto mode; the return value reports whether it took effect.
func (r *Reconciler) SetSelection(role Role, keys []graph.Key) bool {
	rs := r.roles[role]
	if rs.auto {
		return false
	}
	rs.selected = make(map[graph.Key]bool, len(keys))
	for _, k := range keys {
		rs.selected[k] = true
	}
	return true
}

// Clear empties a role's manual selection unless the role is in auto mode.
func (r *Reconciler) Clear(role Role) bool {
	return r.SetSelection(role, nil)
}

// SetAuto switches a role between manual and auto mode. The manual
// selection is kept while auto mode is on.
func (r *Reconciler) SetAuto(role Role, enabled bool) {
	r.roles[role].auto = enabled
}

// Auto reports whether the role is in auto mode.
func (r *Reconciler) Auto(role Role) bool {
	return r.roles[role].auto
}

// SetStreaming turns routing on or off.
func (r *Reconciler) SetStreaming(enabled bool) {
	r.streaming = enabled
}

// Streaming reports whether routing is on.
func (r *Reconciler) Streaming() bool {
	return r.streaming
}

// Selection returns a role's manual selection, sorted.
func (r *Reconciler) Selection(role Role) []graph.Key {
	return sortedKeys(r.roles[role].selected)
}

// AvailableCount returns how many nodes are currently offered for a role.
func (r *Reconciler) AvailableCount(role Role) int {
	return len(r.roles[role].available)
}

// Entries returns the display list of a role: every available key plus
// every selected key that is currently missing, sorted case-insensitively.
func (r *Reconciler) Entries(role Role) []ListEntry {
	rs := r.roles[role]
	keys := make(map[graph.Key]bool, len(rs.available)+len(rs.selected))
	for k := range rs.available {
		keys[k] = true
	}
	for k := range rs.selected {
		keys[k] = true
	}

	ordered := sortedKeys(keys)
	sort.SliceStable(ordered, func(i, j int) bool {
		return strings.ToLower(string(ordered[i])) < strings.ToLower(string(ordered[j]))
	})

	entries := make([]ListEntry, 0, len(ordered))
	for _, k := range ordered {
		label, ok := rs.labels[k]
		if !ok {
			label = string(k)
		}
		available := rs.available[k]
		if !available {
			label += " (unavailable)"
		}
		entries = append(entries, ListEntry{
			Key:       k,
			Label:     label,
			Available: available,
			Selected:  rs.selected[k],
		})
	}
	return entries
}

// Baseline returns the pairs routed as of the last ComputeActions, sorted.
func (r *Reconciler) Baseline() []Pair {
	return SortPairs(r.baseline)
}

// DesiredPairs computes the pairs the current pools ask for.
func (r *Reconciler) DesiredPairs(hub *HubKeys) map[Pair]bool {
	sources := r.roles[Capture].pool()
	targets := r.roles[Playback].pool()
	desired := make(map[Pair]bool)

	if hub != nil {
		for s := range sources {
			desired[Pair{Source: s, Target: hub.Sink}] = true
		}
		for t := range targets {
			desired[Pair{Source: hub.Source, Target: t}] = true
		}
		return desired
	}
	for s := range sources {
		for t := range targets {
			desired[Pair{Source: s, Target: t}] = true
		}
	}
	return desired
}

// ComputeActions diffs the desired pairs against snap and the previous
// baseline. While streaming, stale pairs are unlinked first, then missing
// pairs whose endpoints are both present are linked; the baseline becomes
// the desired set. While not streaming, every baseline pair is unlinked and
// the baseline is cleared. Actions are ordered by (source, target) within
// each op.
func (r *Reconciler) ComputeActions(snap *graph.Snapshot, hub *HubKeys) []RouteAction {
	if !r.streaming {
		actions := make([]RouteAction, 0, len(r.baseline))
		for _, p := range SortPairs(r.baseline) {
			actions = append(actions, RouteAction{Op: OpUnlink, SourceKey: p.Source, TargetKey: p.Target})
		}
		r.baseline = make(map[Pair]bool)
		return actions
	}

	linked := LinkedPairs(snap)
	sources := keySet(snap.Sources())
	sinks := keySet(snap.Sinks())
	desired := r.DesiredPairs(hub)

	var actions []RouteAction
	for _, p := range SortPairs(r.baseline) {
		if !desired[p] {
			actions = append(actions, RouteAction{Op: OpUnlink, SourceKey: p.Source, TargetKey: p.Target})
		}
	}
	for _, p := range SortPairs(desired) {
		if !sources[p.Source] || !sinks[p.Target] || linked[p] {
			continue
		}
		actions = append(actions, RouteAction{Op: OpLink, SourceKey: p.Source, TargetKey: p.Target})
	}
	r.baseline = desired
	return actions
}

// RouteToTargets links one known source to the current target pool right
// away, through the hub when one is given. Unavailable targets are skipped.
// Neither existing links nor the baseline are consulted or changed.
func (r *Reconciler) RouteToTargets(source graph.Key, hub *HubKeys) []RouteAction {
	targets := r.SelectedTargetKeys()
	if hub != nil {
		actions := []RouteAction{{Op: OpLink, SourceKey: source, TargetKey: hub.Sink}}
		for _, t := range targets {
			actions = append(actions, RouteAction{Op: OpLink, SourceKey: hub.Source, TargetKey: t})
		}
		return actions
	}
	actions := make([]RouteAction, 0, len(targets))
	for _, t := range targets {
		actions = append(actions, RouteAction{Op: OpLink, SourceKey: source, TargetKey: t})
	}
	return actions
}

// SelectedTargetKeys returns the target pool restricted to available keys,
// sorted.
func (r *Reconciler) SelectedTargetKeys() []graph.Key {
	rs := r.roles[Playback]
	var keys []graph.Key
	for _, k := range sortedKeys(rs.pool()) {
		if rs.available[k] {
			keys = append(keys, k)
		}
	}
	return keys
}

// LinkedPairs maps every link whose endpoints resolve to known nodes to a
// (source key, target key) pair.
func LinkedPairs(snap *graph.Snapshot) map[Pair]bool {
	linked := make(map[Pair]bool, len(snap.Links))
	for _, l := range snap.Links {
		out, ok := snap.Node(l.OutputNode)
		if !ok {
			continue
		}
		in, ok := snap.Node(l.InputNode)
		if !ok {
			continue
		}
		linked[Pair{Source: out.Key(), Target: in.Key()}] = true
	}
	return linked
}

func keySet(nodes []*graph.Node) map[graph.Key]bool {
	set := make(map[graph.Key]bool, len(nodes))
	for _, n := range nodes {
		set[n.Key()] = true
	}
	return set
}

func sortedKeys(set map[graph.Key]bool) []graph.Key {
	keys := make([]graph.Key, 0, len(set))
	for k, ok := range set {
		if ok {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// SortPairs returns the members of set ordered by source, then target.
func SortPairs(set map[Pair]bool) []Pair {
	pairs := make([]Pair, 0, len(set))
	for p, ok := range set {
		if ok {
			pairs = append(pairs, p)
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].less(pairs[j]) })
	return pairs
}
