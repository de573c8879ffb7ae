package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/audiolink/internal/graph"
)

// topology builds a snapshot from node specs: sources get one output port,
// sinks one input port.
type topology struct {
	snap *graph.Snapshot
	next int
}

func newTopology() *topology {
	return &topology{snap: graph.Empty(), next: 1}
}

func (tp *topology) add(name string, out, in bool) *graph.Node {
	id := graph.NodeID(tp.next)
	tp.next++
	n := &graph.Node{ID: id, Name: name, Description: name}
	if out {
		n.Ports = append(n.Ports, graph.Port{ID: graph.PortID(int(id)*10 + 1), Name: "output_FL", Direction: graph.Out, NodeID: id, NodeName: name})
	}
	if in {
		n.Ports = append(n.Ports, graph.Port{ID: graph.PortID(int(id)*10 + 2), Name: "playback_FL", Direction: graph.In, NodeID: id, NodeName: name})
	}
	tp.snap.Nodes[id] = n
	return n
}

// apply records actions as links in the snapshot, as a successful apply would.
func (tp *topology) apply(actions []RouteAction) {
	byKey := make(map[graph.Key]*graph.Node)
	for _, n := range tp.snap.Nodes {
		byKey[n.Key()] = n
	}
	for _, a := range actions {
		src, dst := byKey[a.SourceKey], byKey[a.TargetKey]
		switch a.Op {
		case OpLink:
			tp.snap.Links = append(tp.snap.Links, graph.Link{
				ID:         graph.LinkID(len(tp.snap.Links) + 1000),
				OutputNode: src.ID, OutputPort: src.OutputPorts()[0].ID,
				InputNode: dst.ID, InputPort: dst.InputPorts()[0].ID,
			})
		case OpUnlink:
			kept := tp.snap.Links[:0]
			for _, l := range tp.snap.Links {
				if l.OutputNode != src.ID || l.InputNode != dst.ID {
					kept = append(kept, l)
				}
			}
			tp.snap.Links = kept
		}
	}
}

var hubKeys = &HubKeys{Sink: "vsink", Source: "vsrc"}

func link(s, t graph.Key) RouteAction   { return RouteAction{Op: OpLink, SourceKey: s, TargetKey: t} }
func unlink(s, t graph.Key) RouteAction { return RouteAction{Op: OpUnlink, SourceKey: s, TargetKey: t} }

func setup() (*topology, *Reconciler) {
	tp := newTopology()
	a := tp.add("a", true, false)
	b := tp.add("b", true, false)
	x := tp.add("x", false, true)
	tp.add("vsink", false, true)
	tp.add("vsrc", true, false)

	r := NewReconciler()
	r.UpdateAvailable([]*graph.Node{a, b}, []*graph.Node{x})
	r.SetSelection(Capture, []graph.Key{"a", "b"})
	r.SetSelection(Playback, []graph.Key{"x"})
	r.SetStreaming(true)
	return tp, r
}

func TestComputeActions_Convergence(t *testing.T) {
	tp, r := setup()

	actions := r.ComputeActions(tp.snap, hubKeys)
	assert.Equal(t, []RouteAction{
		link("a", "vsink"),
		link("b", "vsink"),
		link("vsrc", "x"),
	}, actions)

	assert.Equal(t, []Pair{{"a", "vsink"}, {"b", "vsink"}, {"vsrc", "x"}}, r.Baseline())
}

func TestComputeActions_SkipsAlreadyLinked(t *testing.T) {
	tp, r := setup()
	tp.apply([]RouteAction{link("b", "vsink")})

	actions := r.ComputeActions(tp.snap, hubKeys)
	assert.Equal(t, []RouteAction{link("a", "vsink"), link("vsrc", "x")}, actions)
}

func TestComputeActions_IdempotentOnceApplied(t *testing.T) {
	tp, r := setup()

	tp.apply(r.ComputeActions(tp.snap, hubKeys))
	assert.Empty(t, r.ComputeActions(tp.snap, hubKeys))
	assert.Empty(t, r.ComputeActions(tp.snap, hubKeys))
}

func TestComputeActions_RetriesUnappliedLinks(t *testing.T) {
	tp, r := setup()

	first := r.ComputeActions(tp.snap, hubKeys)
	// Nothing was applied; the next cycle asks again.
	assert.Equal(t, first, r.ComputeActions(tp.snap, hubKeys))
}

func TestComputeActions_Teardown(t *testing.T) {
	tp, r := setup()
	tp.apply(r.ComputeActions(tp.snap, hubKeys))

	r.SetStreaming(false)
	assert.Equal(t, []RouteAction{
		unlink("a", "vsink"),
		unlink("b", "vsink"),
		unlink("vsrc", "x"),
	}, r.ComputeActions(tp.snap, hubKeys))
	assert.Empty(t, r.Baseline())

	assert.Empty(t, r.ComputeActions(tp.snap, hubKeys))
}

func TestComputeActions_UnlinksStalePairsFirst(t *testing.T) {
	tp, r := setup()
	tp.apply(r.ComputeActions(tp.snap, hubKeys))

	r.SetSelection(Capture, []graph.Key{"b"})
	actions := r.ComputeActions(tp.snap, hubKeys)
	assert.Equal(t, []RouteAction{unlink("a", "vsink")}, actions)
}

func TestComputeActions_DirectMode(t *testing.T) {
	tp, r := setup()
	y := tp.add("y", false, true)
	r.UpdateAvailable(nil, []*graph.Node{tp.snap.Nodes[3], y})
	r.SetSelection(Playback, []graph.Key{"x", "y"})

	assert.Equal(t, []RouteAction{
		link("a", "x"), link("a", "y"),
		link("b", "x"), link("b", "y"),
	}, r.ComputeActions(tp.snap, nil))
}

func TestAutoModeExclusivity(t *testing.T) {
	tp, r := setup()
	c := tp.add("c", true, false)
	r.SetSelection(Capture, []graph.Key{"a"})

	r.SetAuto(Capture, true)
	assert.False(t, r.SetSelection(Capture, []graph.Key{"b"}))
	assert.False(t, r.Clear(Capture))
	assert.Equal(t, []graph.Key{"a"}, r.Selection(Capture))

	r.UpdateAvailable([]*graph.Node{tp.snap.Nodes[1], tp.snap.Nodes[2], c}, []*graph.Node{tp.snap.Nodes[3]})
	actions := r.ComputeActions(tp.snap, hubKeys)
	assert.Equal(t, []RouteAction{
		link("a", "vsink"),
		link("b", "vsink"),
		link("c", "vsink"),
		link("vsrc", "x"),
	}, actions)

	r.SetAuto(Capture, false)
	assert.True(t, r.SetSelection(Capture, []graph.Key{"b"}))
}

func TestUnavailableButSelected(t *testing.T) {
	tp, r := setup()
	r.UpdateAvailable([]*graph.Node{tp.snap.Nodes[1], tp.snap.Nodes[2]}, []*graph.Node{tp.snap.Nodes[3]})

	// "b" disappears from the graph.
	delete(tp.snap.Nodes, 2)
	r.UpdateAvailable([]*graph.Node{tp.snap.Nodes[1]}, []*graph.Node{tp.snap.Nodes[3]})

	entries := r.Entries(Capture)
	require.Len(t, entries, 2)
	assert.Equal(t, ListEntry{Key: "a", Label: "a", Available: true, Selected: true}, entries[0])
	assert.Equal(t, ListEntry{Key: "b", Label: "b (unavailable)", Available: false, Selected: true}, entries[1])

	actions := r.ComputeActions(tp.snap, hubKeys)
	assert.Equal(t, []RouteAction{link("a", "vsink"), link("vsrc", "x")}, actions)
}

func TestUnavailableSelection_KeptInBaselineThenUnlinkedOnDeselect(t *testing.T) {
	tp, r := setup()
	tp.apply(r.ComputeActions(tp.snap, hubKeys))

	// "b" vanishes while selected: its pair stays desired but is not relinked.
	delete(tp.snap.Nodes, 2)
	r.UpdateAvailable([]*graph.Node{tp.snap.Nodes[1]}, []*graph.Node{tp.snap.Nodes[3]})
	assert.Empty(t, r.ComputeActions(tp.snap, hubKeys))
	assert.Contains(t, r.Baseline(), Pair{"b", "vsink"})

	// Deselecting it while absent still asks for the unlink and drops the pair.
	r.SetSelection(Capture, []graph.Key{"a"})
	assert.Equal(t, []RouteAction{unlink("b", "vsink")}, r.ComputeActions(tp.snap, hubKeys))
	assert.NotContains(t, r.Baseline(), Pair{"b", "vsink"})
	assert.Empty(t, r.ComputeActions(tp.snap, hubKeys))
}

func TestEntries_UnknownKeyUsesKeyAsLabel(t *testing.T) {
	r := NewReconciler()
	r.SetSelection(Playback, []graph.Key{"Zed", "alpha"})
	r.UpdateAvailable(nil, []*graph.Node{{ID: 1, Name: "beta", Description: "Beta Speakers"}})

	entries := r.Entries(Playback)
	require.Len(t, entries, 3)
	assert.Equal(t, "alpha (unavailable)", entries[0].Label)
	assert.Equal(t, "Beta Speakers", entries[1].Label)
	assert.False(t, entries[1].Selected)
	assert.Equal(t, graph.Key("Zed"), entries[2].Key)
}

func TestRouteToTargets(t *testing.T) {
	_, r := setup()
	r.SetSelection(Playback, []graph.Key{"x", "gone"})

	assert.Equal(t, []RouteAction{link("m", "vsink"), link("vsrc", "x")}, r.RouteToTargets("m", hubKeys))
	assert.Equal(t, []RouteAction{link("m", "x")}, r.RouteToTargets("m", nil))
	assert.Empty(t, r.Baseline(), "one-shot routing leaves the baseline alone")
	assert.Equal(t, []graph.Key{"x"}, r.SelectedTargetKeys())
}

func TestLinkedPairs_IgnoresUnknownNodes(t *testing.T) {
	tp := newTopology()
	a := tp.add("a", true, false)
	x := tp.add("x", false, true)
	tp.snap.Links = []graph.Link{
		{ID: 1, OutputNode: a.ID, OutputPort: 11, InputNode: x.ID, InputPort: 22},
		{ID: 2, OutputNode: 99, OutputPort: 1, InputNode: x.ID, InputPort: 22},
	}
	assert.Equal(t, map[Pair]bool{{"a", "x"}: true}, LinkedPairs(tp.snap))
}

func TestParseRole(t *testing.T) {
	r, ok := ParseRole("Sources")
	assert.True(t, ok)
	assert.Equal(t, Capture, r)
	r, ok = ParseRole("playback")
	assert.True(t, ok)
	assert.Equal(t, Playback, r)
	_, ok = ParseRole("nope")
	assert.False(t, ok)
}
