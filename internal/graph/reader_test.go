package graph

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/audiolink/internal/command"
)

func loadDump(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile("testdata/dump.json")
	require.NoError(t, err)
	return string(data)
}

func TestParse_Fixture(t *testing.T) {
	snap, err := Parse([]byte(loadDump(t)))
	require.NoError(t, err)

	require.Len(t, snap.Nodes, 4)

	sink := snap.Nodes[40]
	assert.Equal(t, "alsa_output.pci-0000_00_1f.3.analog-stereo", sink.Name)
	assert.Equal(t, "Built-in Audio Analog Stereo", sink.Description)
	assert.Equal(t, "Audio/Sink", sink.MediaClass)
	assert.True(t, sink.IsSink())
	assert.True(t, sink.IsSource(), "monitor port makes the sink a source too")

	mic := snap.Nodes[41]
	assert.Equal(t, "USB Mic", mic.Description)
	require.Len(t, mic.Ports, 1)
	assert.Equal(t, "USB Mic:capture_MONO", mic.Ports[0].Name)
	assert.Equal(t, NodeID(41), mic.Ports[0].NodeID)

	ff := snap.Nodes[55]
	assert.Equal(t, 4242, ff.PID)
	assert.True(t, ff.HasPID())

	unnamed := snap.Nodes[60]
	assert.Equal(t, "node-60", unnamed.Name)
	assert.Equal(t, "node-60", unnamed.Description)
	assert.Empty(t, unnamed.Ports)
}

func TestParse_DirectionResolvesFirstValidCandidate(t *testing.T) {
	snap, err := Parse([]byte(loadDump(t)))
	require.NoError(t, err)

	sink := snap.Nodes[40]
	// "input"/"output" in info.direction are not valid; port.direction wins.
	require.Len(t, sink.Ports, 2)
	assert.Equal(t, In, sink.Ports[0].Direction)
	assert.Equal(t, Out, sink.Ports[1].Direction)
	for _, p := range sink.Ports {
		assert.NotEqual(t, "bogus", p.Name)
	}
}

func TestParse_LinksAndOrphans(t *testing.T) {
	snap, err := Parse([]byte(loadDump(t)))
	require.NoError(t, err)

	require.Len(t, snap.Links, 2)
	assert.Equal(t, Link{ID: 200, OutputNode: 55, OutputPort: 103, InputNode: 40, InputPort: 100}, snap.Links[0])
	assert.Equal(t, Link{ID: 201, OutputNode: 41, OutputPort: 102, InputNode: 40, InputPort: 100}, snap.Links[1])

	for _, n := range snap.Nodes {
		for _, p := range n.Ports {
			assert.NotEqual(t, "orphan", p.Name)
			assert.Equal(t, n.Name, p.NodeName)
		}
	}
}

func TestParse_TypeTagSuffix(t *testing.T) {
	dump := `[
	  {"id": 10, "type": "Node", "info": {"props": {"node.name": "speakers", "media.class": "Audio/Sink"}}},
	  {"id": 11, "type": "Custom:Node", "info": {"props": {"node.name": "mpv"}}},
	  {"id": 20, "type": "Custom:Port", "info": {"direction": "in", "props": {"port.name": "playback_FL", "node.id": 10}}},
	  {"id": 21, "type": "PipeWire:Interface:Port", "info": {"direction": "out", "props": {"port.name": "output_FL", "node.id": 11}}},
	  {"id": 30, "type": "Custom:Link", "info": {"output-node-id": 11, "output-port-id": 21, "input-node-id": 10, "input-port-id": 20}},
	  {"id": 40, "type": "PipeWire:Interface:Client", "info": {"props": {"node.name": "not-a-node"}}}
	]`
	snap, err := Parse([]byte(dump))
	require.NoError(t, err)

	require.Len(t, snap.Nodes, 2)
	assert.Equal(t, "speakers", snap.Nodes[10].Name)
	assert.Equal(t, "mpv", snap.Nodes[11].Name)
	assert.Equal(t, 2, snap.PortCount())
	require.Len(t, snap.Links, 1)
	assert.Equal(t, Link{ID: 30, OutputNode: 11, OutputPort: 21, InputNode: 10, InputPort: 20}, snap.Links[0])
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"invalid json", "{not json"},
		{"object root", `{"id": 1}`},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := Parse([]byte(tt.input))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrParse))
			assert.Empty(t, snap.Nodes)
		})
	}
}

func TestSnapshot_SourcesAndSinksSorted(t *testing.T) {
	snap, err := Parse([]byte(loadDump(t)))
	require.NoError(t, err)

	var sources []string
	for _, n := range snap.Sources() {
		sources = append(sources, n.Description)
	}
	assert.Equal(t, []string{"Built-in Audio Analog Stereo", "Firefox", "USB Mic"}, sources)

	sinks := snap.Sinks()
	require.Len(t, sinks, 1)
	assert.Equal(t, Key("alsa_output.pci-0000_00_1f.3.analog-stereo"), sinks[0].Key())

	_, ok := snap.SinkByKey("Firefox")
	assert.False(t, ok)
	n, ok := snap.SourceByKey("Firefox")
	require.True(t, ok)
	assert.Equal(t, NodeID(55), n.ID)
}

func TestReader_Snapshot(t *testing.T) {
	runner := new(command.MockRunner)
	runner.On("Output", "pw-dump").Return(loadDump(t), nil)

	snap, err := NewReader(runner, nil).Snapshot()
	require.NoError(t, err)
	assert.Len(t, snap.Nodes, 4)
	runner.AssertExpectations(t)
	runner.AssertNotCalled(t, "Output", "pw-link", "-o")
}

func TestReader_SnapshotFailureReturnsEmpty(t *testing.T) {
	runner := new(command.MockRunner)
	cmdErr := &command.Error{Cmd: "pw-dump", Kind: command.ErrFailed, Stderr: "boom"}
	runner.On("Output", "pw-dump").Return("", cmdErr)

	snap, err := NewReader(runner, nil).Snapshot()
	require.Error(t, err)
	assert.True(t, errors.Is(err, command.ErrFailed))
	require.NotNil(t, snap)
	assert.Empty(t, snap.Nodes)
	assert.Empty(t, snap.Links)
}

const portlessDump = `[
 {"id": 30, "type": "PipeWire:Interface:Node", "info": {"props": {"node.name": "alsa_output.usb-headset.analog-stereo", "node.description": "Headset"}}},
 {"id": 31, "type": "PipeWire:Interface:Node", "info": {"props": {"node.name": "Firefox", "application.name": "Firefox"}}}
]`

func TestReader_FallbackAttachesSyntheticPorts(t *testing.T) {
	runner := new(command.MockRunner)
	runner.On("Output", "pw-dump").Return(portlessDump, nil)
	runner.On("Output", "pw-link", "-o").Return(
		"firefox:output_FL\nFirefox:output_FR\n  |-> alsa_output.usb-headset.analog-stereo:playback_FL\nunknown:port\nno colon here\n", nil)
	runner.On("Output", "pw-link", "-i").Return(
		"alsa_output.usb-headset.analog-stereo:playback_FL\nalsa_output.usb-headset.analog-stereo:playback_FL\n", nil)

	snap, err := NewReader(runner, nil).Snapshot()
	require.NoError(t, err)

	ff := snap.Nodes[31]
	require.Len(t, ff.OutputPorts(), 2, "case-insensitive match attaches both ports")
	assert.Equal(t, PortID(-1), ff.Ports[0].ID)
	assert.Equal(t, PortID(-2), ff.Ports[1].ID)

	headset := snap.Nodes[30]
	require.Len(t, headset.InputPorts(), 1, "duplicate listing entries are deduped")
	require.Len(t, headset.OutputPorts(), 1, "arrow-prefixed line still yields its port token")
	assert.Equal(t, "playback_FL", headset.InputPorts()[0].Name)

	seen := map[PortID]bool{}
	for _, n := range snap.Nodes {
		for _, p := range n.Ports {
			assert.Less(t, int(p.ID), 0)
			assert.False(t, seen[p.ID], "synthetic ids are unique")
			seen[p.ID] = true
		}
	}
	runner.AssertExpectations(t)
}

func TestReader_FallbackListingFailureIsSkipped(t *testing.T) {
	runner := new(command.MockRunner)
	runner.On("Output", "pw-dump").Return(portlessDump, nil)
	runner.On("Output", "pw-link", "-o").Return("", &command.Error{Cmd: "pw-link -o", Kind: command.ErrFailed})
	runner.On("Output", "pw-link", "-i").Return("Headset:playback_FR\n", nil)

	snap, err := NewReader(runner, nil).Snapshot()
	require.NoError(t, err)
	assert.Empty(t, snap.Nodes[31].Ports)
	// "Headset" is a description, not a name; no name matches it.
	assert.Empty(t, snap.Nodes[30].Ports)
}

func TestParsePortListing(t *testing.T) {
	refs := ParsePortListing("a:b\n  -> c:d\n<-x:y e:f\nplain\n:nope\n")
	assert.Equal(t, []PortRef{{"a", "b"}, {"c", "d"}, {"e", "f"}}, refs)
}
