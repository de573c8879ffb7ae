package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/audiolink/internal/command"
	"grimm.is/audiolink/internal/config"
	"grimm.is/audiolink/internal/events"
	"grimm.is/audiolink/internal/graph"
	"grimm.is/audiolink/internal/journal"
	"grimm.is/audiolink/internal/link"
	"grimm.is/audiolink/internal/routing"
)

type fixtureNode struct {
	id    int
	name  string
	class string
	pid   int
	ports []fixturePort
}

type fixturePort struct {
	id   int
	name string
	dir  string
}

type fixtureLink struct {
	id, outNode, outPort, inNode, inPort int
}

var (
	firefox = fixtureNode{id: 55, name: "Firefox", class: "Stream/Output/Audio", pid: 4242,
		ports: []fixturePort{{103, "output_FL", "out"}}}
	speakers = fixtureNode{id: 40, name: "speakers", class: "Audio/Sink",
		ports: []fixturePort{{100, "playback_FL", "in"}}}
	headset = fixtureNode{id: 41, name: "headset", class: "Audio/Sink",
		ports: []fixturePort{{101, "playback_FL", "in"}}}
	hubSink = fixtureNode{id: 70, name: "audiolink_virtual_mic_sink", class: "Audio/Sink",
		ports: []fixturePort{{110, "playback_FL", "in"}, {111, "monitor_FL", "out"}}}
)

// dump renders nodes and links as pw-dump JSON.
func dump(t *testing.T, nodes []fixtureNode, links ...fixtureLink) string {
	t.Helper()
	records := []map[string]any{}
	for _, n := range nodes {
		props := map[string]any{"node.name": n.name, "media.class": n.class}
		if n.pid > 0 {
			props["application.process.id"] = n.pid
		}
		records = append(records, map[string]any{
			"id": n.id, "type": "PipeWire:Interface:Node", "info": map[string]any{"props": props},
		})
		for _, p := range n.ports {
			records = append(records, map[string]any{
				"id": p.id, "type": "PipeWire:Interface:Port",
				"info": map[string]any{"direction": p.dir, "props": map[string]any{
					"port.name": p.name, "node.id": n.id,
				}},
			})
		}
	}
	for _, l := range links {
		records = append(records, map[string]any{
			"id": l.id, "type": "PipeWire:Interface:Link",
			"info": map[string]any{
				"output-node-id": l.outNode, "output-port-id": l.outPort,
				"input-node-id": l.inNode, "input-port-id": l.inPort,
			},
		})
	}
	data, err := json.Marshal(records)
	require.NoError(t, err)
	return string(data)
}

func directConfig(sources, targets []string) *config.Config {
	cfg := config.Default()
	disabled := false
	cfg.Hub.Enabled = &disabled
	cfg.Capture.Selected = sources
	cfg.Playback.Selected = targets
	return cfg
}

func newTestEngine(t *testing.T, runner *command.MockRunner, cfg *config.Config) *Engine {
	t.Helper()
	store, err := journal.Open(journal.MemoryPath, 0)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	e, err := New(Options{Runner: runner, Config: cfg, Journal: store})
	require.NoError(t, err)
	return e
}

func TestNew_RequiresTools(t *testing.T) {
	runner := new(command.MockRunner).Missing(command.PwLink)
	_, err := New(Options{Runner: runner, Config: config.Default()})
	assert.ErrorIs(t, err, command.ErrNotFound)
	assert.Contains(t, err.Error(), "pw-link")

	_, err = New(Options{Runner: new(command.MockRunner)})
	assert.Error(t, err)
}

func TestTick_LinksSelectedPairs(t *testing.T) {
	runner := new(command.MockRunner)
	runner.On("Output", "pw-dump").Return(dump(t, []fixtureNode{firefox, speakers, headset}), nil)
	runner.On("Output", "pw-link", "Firefox:output_FL", "speakers:playback_FL").Return("", nil).Once()

	e := newTestEngine(t, runner, directConfig([]string{"Firefox"}, []string{"speakers"}))
	sub := e.Events().Subscribe(16, events.EventLinked, events.EventSnapshot)

	require.NoError(t, e.Tick())
	runner.AssertExpectations(t)

	st := e.Status()
	assert.Equal(t, "Sources: 1 | Targets: 2", st.Text)
	assert.True(t, st.Streaming)
	assert.Equal(t, []string{"Firefox"}, st.Capture.Selected)
	assert.Equal(t, 2, st.Playback.Available)

	snapEvt := <-sub
	assert.Equal(t, events.EventSnapshot, snapEvt.Type)
	assert.Equal(t, 1, snapEvt.Data.(events.SnapshotData).Actions)
	linkEvt := <-sub
	assert.Equal(t, events.EventLinked, linkEvt.Type)
	assert.Equal(t, "speakers", linkEvt.Data.(events.RouteData).Target)

	entries, err := e.Journal().Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, journal.KindLink, entries[0].Kind)
	assert.Equal(t, "Firefox", entries[0].Source)
	assert.True(t, entries[0].OK)
	assert.Contains(t, entries[0].Details, "cycle")

	assert.Equal(t, 1.0, testutil.ToFloat64(e.Metrics().Actions.WithLabelValues("link", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.Metrics().DesiredPairs))
}

func TestTick_ConvergedGraphIsLeftAlone(t *testing.T) {
	nodes := []fixtureNode{firefox, speakers, headset}
	runner := new(command.MockRunner)
	runner.On("Output", "pw-dump").Return(dump(t, nodes), nil).Twice()
	runner.On("Output", "pw-link", "Firefox:output_FL", "speakers:playback_FL").Return("", nil).Once()
	runner.On("Output", "pw-dump").Return(dump(t, nodes, fixtureLink{200, 55, 103, 40, 100}), nil)

	e := newTestEngine(t, runner, directConfig([]string{"Firefox"}, []string{"speakers"}))
	require.NoError(t, e.Tick())
	require.NoError(t, e.Tick())
	require.NoError(t, e.Tick())

	runner.AssertExpectations(t)
	runner.AssertNumberOfCalls(t, "Output", 5)
}

func TestTick_ActionFailureIsReported(t *testing.T) {
	runner := new(command.MockRunner)
	runner.On("Output", "pw-dump").Return(dump(t, []fixtureNode{firefox, speakers}), nil)
	runner.On("Output", "pw-link", "Firefox:output_FL", "speakers:playback_FL").
		Return("", &command.Error{Cmd: "pw-link", Stderr: "boom", Kind: command.ErrFailed})

	e := newTestEngine(t, runner, directConfig([]string{"Firefox"}, []string{"speakers"}))
	sub := e.Events().Subscribe(4, events.EventLinkFailed)

	err := e.Tick()
	require.Error(t, err)
	assert.ErrorIs(t, err, command.ErrFailed)
	assert.Contains(t, err.Error(), "boom")

	var agg *link.AggregateError
	require.ErrorAs(t, err, &agg)
	assert.Len(t, agg.Errs, 1)

	assert.Equal(t, err.Error(), e.Status().Text)
	evt := <-sub
	assert.Contains(t, evt.Data.(events.RouteData).Error, "boom")

	entries, qerr := e.Journal().Recent(1)
	require.NoError(t, qerr)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].OK)
	assert.Contains(t, entries[0].Error, "boom")

	m := e.Metrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Actions.WithLabelValues("link", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandFailures.WithLabelValues("pw-link", "failed")))
}

func TestTick_PollFailure(t *testing.T) {
	runner := new(command.MockRunner)
	runner.On("Output", "pw-dump").
		Return("", &command.Error{Cmd: "pw-dump", Stderr: "host is down", Kind: command.ErrUnreachable})

	e := newTestEngine(t, runner, directConfig(nil, nil))
	err := e.Tick()
	assert.ErrorIs(t, err, command.ErrUnreachable)
	assert.Equal(t, command.UnreachableHint, e.Status().Text)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.Metrics().Polls.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.Metrics().CommandFailures.WithLabelValues("pw-dump", "unreachable")))
}

func TestTick_SkippedWhileInFlight(t *testing.T) {
	runner := new(command.MockRunner)
	e := newTestEngine(t, runner, directConfig(nil, nil))

	e.inFlight.Store(true)
	assert.NoError(t, e.Tick())
	assert.Equal(t, int64(1), e.Skipped())
	runner.AssertNotCalled(t, "Output", "pw-dump")

	e.inFlight.Store(false)
	runner.On("Output", "pw-dump").Return(dump(t, nil), nil)
	assert.NoError(t, e.Tick())
	assert.False(t, e.inFlight.Load())
}

func TestSetStreaming_OffUnlinksRoutedPairs(t *testing.T) {
	nodes := []fixtureNode{firefox, speakers}
	runner := new(command.MockRunner)
	runner.On("Output", "pw-dump").Return(dump(t, nodes), nil).Twice()
	runner.On("Output", "pw-link", "Firefox:output_FL", "speakers:playback_FL").Return("", nil).Once()
	runner.On("Output", "pw-dump").Return(dump(t, nodes, fixtureLink{200, 55, 103, 40, 100}), nil)
	runner.On("Output", "pw-link", "-d", "Firefox:output_FL", "speakers:playback_FL").Return("", nil).Once()

	e := newTestEngine(t, runner, directConfig([]string{"Firefox"}, []string{"speakers"}))
	require.NoError(t, e.Tick())
	require.NoError(t, e.SetStreaming(false))
	runner.AssertExpectations(t)

	assert.False(t, e.Status().Streaming)
	assert.Equal(t, 0.0, testutil.ToFloat64(e.Metrics().Streaming))

	entries, err := e.Journal().Query(journal.Filter{Kinds: []string{journal.KindUnlink, journal.KindStreaming}})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, journal.KindUnlink, entries[0].Kind)
}

func TestSetSelection(t *testing.T) {
	runner := new(command.MockRunner)
	runner.On("Output", "pw-dump").Return(dump(t, []fixtureNode{firefox, speakers, headset}), nil)
	runner.On("Output", "pw-link", "Firefox:output_FL", "headset:playback_FL").Return("", nil).Once()

	cfg := directConfig([]string{"Firefox"}, nil)
	e := newTestEngine(t, runner, cfg)
	sub := e.Events().Subscribe(4, events.EventSelection)

	require.NoError(t, e.SetSelection(routing.Playback, []graph.Key{"headset"}))
	runner.AssertExpectations(t)

	evt := <-sub
	assert.Equal(t, events.SelectionData{Role: "playback", Keys: []string{"headset"}}, evt.Data)
	assert.Equal(t, []string{"headset"}, e.Status().Playback.Selected)
}

func TestSetSelection_RejectedInAutoMode(t *testing.T) {
	runner := new(command.MockRunner)
	cfg := directConfig(nil, nil)
	cfg.Capture.Auto = true
	e := newTestEngine(t, runner, cfg)

	err := e.SetSelection(routing.Capture, []graph.Key{"Firefox"})
	assert.ErrorIs(t, err, ErrAutoMode)
	assert.ErrorIs(t, e.ClearSelection(routing.Capture), ErrAutoMode)
	runner.AssertNotCalled(t, "Output", "pw-dump")
}

func TestRouteProcess(t *testing.T) {
	runner := new(command.MockRunner)
	runner.On("Output", "pw-dump").Return(dump(t, []fixtureNode{firefox, speakers, headset}), nil)
	runner.On("Output", "pw-link", "Firefox:output_FL", "speakers:playback_FL").Return("", nil).Once()

	cfg := directConfig(nil, []string{"speakers"})
	streaming := false
	cfg.Streaming = &streaming
	e := newTestEngine(t, runner, cfg)

	require.NoError(t, e.RouteProcess(4242))
	runner.AssertExpectations(t)

	err := e.RouteProcess(99)
	assert.EqualError(t, err, "no audio stream for process 99 detected yet")
}

func TestHubLifecycle(t *testing.T) {
	runner := new(command.MockRunner)
	runner.On("Output", "pactl", "list", "short", "modules").Return("", nil)
	runner.On("Output", "pactl", "load-module", "module-null-sink",
		"sink_name=audiolink_virtual_mic_sink",
		`sink_properties="device.description='AudioLink Virtual Mic Sink'"`).Return("42\n", nil)
	runner.On("Output", "pactl", "load-module", "module-remap-source",
		"master=audiolink_virtual_mic_sink.monitor",
		"source_name=audiolink_virtual_mic",
		`source_properties="device.description='AudioLink Virtual Microphone'"`).Return("43\n", nil)
	runner.On("Output", "pw-dump").Return(dump(t, []fixtureNode{hubSink, speakers}), nil)
	runner.On("Output", "wpctl", "get-volume", "70").Return("Volume: 0.50", nil).Once()
	runner.On("Output", "wpctl", "set-volume", "70", "--", "0.9976").Return("", nil).Once()
	runner.On("Output", "pactl", "unload-module", "43").Return("", nil).Once()
	runner.On("Output", "pactl", "unload-module", "42").Return("", nil).Once()

	cfg := config.Default()
	cfg.Gain.OffsetDB = 6
	e := newTestEngine(t, runner, cfg)

	require.NoError(t, e.StartHub())
	st := e.Status()
	assert.True(t, st.HubActive)
	assert.Equal(t, 6.0, st.GainDB)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.Metrics().HubUp))
	assert.Equal(t, 6.0, testutil.ToFloat64(e.Metrics().HubGainDB))

	require.NoError(t, e.Shutdown())
	runner.AssertExpectations(t)
	assert.False(t, e.Status().HubActive)
	assert.False(t, e.Status().Streaming)

	entries, err := e.Journal().Query(journal.Filter{
		Kinds: []string{journal.KindHubUp, journal.KindGain, journal.KindHubDown},
	})
	require.NoError(t, err)
	kinds := make([]string, 0, len(entries))
	for _, en := range entries {
		kinds = append(kinds, en.Kind)
	}
	assert.Equal(t, []string{journal.KindHubDown, journal.KindGain, journal.KindHubUp}, kinds)
}

func TestSetHubGain(t *testing.T) {
	runner := new(command.MockRunner)
	e := newTestEngine(t, runner, directConfig(nil, nil))
	assert.ErrorIs(t, e.SetHubGain(3), ErrHubDisabled)
	assert.ErrorContains(t, e.SetHubGain(200), "out of range")
}

func TestTick_HubModeRoutesThroughHub(t *testing.T) {
	hubSource := fixtureNode{id: 71, name: "audiolink_virtual_mic", class: "Audio/Source",
		ports: []fixturePort{{112, "capture_FL", "out"}}}
	runner := new(command.MockRunner)
	runner.On("Output", "pw-dump").Return(dump(t, []fixtureNode{firefox, speakers, hubSink, hubSource}), nil)
	runner.On("Output", "pw-link", "Firefox:output_FL", "audiolink_virtual_mic_sink:playback_FL").Return("", nil).Once()
	runner.On("Output", "pw-link", "audiolink_virtual_mic:capture_FL", "speakers:playback_FL").Return("", nil).Once()

	cfg := config.Default()
	cfg.Capture.Selected = []string{"Firefox"}
	cfg.Playback.Selected = []string{"speakers"}
	e := newTestEngine(t, runner, cfg)

	require.NoError(t, e.Tick())
	runner.AssertExpectations(t)
	assert.Equal(t, "Sources: 1 | Targets: 1", e.Status().Text, "hub nodes are never offered")
}

func TestPlan(t *testing.T) {
	runner := new(command.MockRunner)
	runner.On("Output", "pw-dump").
		Return(dump(t, []fixtureNode{firefox, speakers, headset}, fixtureLink{200, 55, 103, 41, 101}), nil)

	e := newTestEngine(t, runner, directConfig([]string{"Firefox"}, []string{"speakers"}))
	plan, err := e.Plan()
	require.NoError(t, err)

	assert.Equal(t, []routing.RouteAction{
		{Op: routing.OpLink, SourceKey: "Firefox", TargetKey: "speakers"},
	}, plan.Actions)
	assert.Equal(t, []routing.Pair{{Source: "Firefox", Target: "speakers"}}, plan.Desired)
	assert.Equal(t, []routing.Pair{{Source: "Firefox", Target: "headset"}}, plan.Live)
	runner.AssertNotCalled(t, "Output", "pw-link", "Firefox:output_FL", "speakers:playback_FL")
}

func TestEntries(t *testing.T) {
	runner := new(command.MockRunner)
	runner.On("Output", "pw-dump").Return(dump(t, []fixtureNode{speakers}), nil)

	cfg := directConfig(nil, []string{"headset"})
	streaming := false
	cfg.Streaming = &streaming
	e := newTestEngine(t, runner, cfg)
	require.NoError(t, e.Tick())

	entries := e.Entries(routing.Playback)
	require.Len(t, entries, 2)
	assert.Equal(t, graph.Key("headset"), entries[0].Key)
	assert.False(t, entries[0].Available)
	assert.True(t, entries[0].Selected)
	assert.Equal(t, graph.Key("speakers"), entries[1].Key)
	assert.NotNil(t, e.Snapshot())
}

func TestSetVolume(t *testing.T) {
	runner := new(command.MockRunner)
	runner.On("Output", "pw-dump").Return(dump(t, []fixtureNode{firefox, speakers}), nil)
	runner.On("Output", "wpctl", "set-volume", "55", "0.75").Return("", nil).Once()

	e := newTestEngine(t, runner, directConfig(nil, nil))
	require.NoError(t, e.SetVolume([]graph.Key{"Firefox", "gone"}, 75))
	runner.AssertExpectations(t)
}

func TestPreflight(t *testing.T) {
	runtime := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", runtime)
	t.Setenv("USER", "listener")

	e := newTestEngine(t, new(command.MockRunner), directConfig(nil, nil))
	s := e.Preflight()
	assert.Equal(t, "listener", s.User)
	assert.Equal(t, filepath.Join(runtime, "pipewire-0"), s.Socket)
	assert.False(t, s.SocketUsable, "no socket in an empty runtime dir")

	require.NoError(t, os.WriteFile(s.Socket, nil, 0o600))
	assert.True(t, e.Preflight().SocketUsable)

	t.Setenv("XDG_RUNTIME_DIR", "")
	assert.Empty(t, e.Preflight().Socket)
}

func TestSetHubGain_SinkMissing(t *testing.T) {
	runner := new(command.MockRunner)
	runner.On("Output", "pw-dump").Return(dump(t, []fixtureNode{firefox, speakers}), nil)

	e := newTestEngine(t, runner, config.Default())
	sub := e.Events().Subscribe(4, events.EventGain)

	err := e.SetHubGain(6)
	assert.ErrorIs(t, err, link.ErrUnresolvedKey)
	assert.ErrorContains(t, err, "audiolink_virtual_mic_sink")
	runner.AssertNotCalled(t, "Output", "wpctl", "get-volume", "70")

	assert.Zero(t, e.Status().GainDB)
	assert.Zero(t, testutil.ToFloat64(e.Metrics().HubGainDB))
	assert.Empty(t, sub)

	entries, err := e.Journal().Query(journal.Filter{Kinds: []string{journal.KindGain}})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].OK)
}

func TestRouteProcess_StreamStartedSinceLastTick(t *testing.T) {
	runner := new(command.MockRunner)
	runner.On("Output", "pw-dump").Return(dump(t, []fixtureNode{speakers}), nil).Once()
	runner.On("Output", "pw-dump").Return(dump(t, []fixtureNode{firefox, speakers}), nil)
	runner.On("Output", "pw-link", "Firefox:output_FL", "speakers:playback_FL").Return("", nil).Once()

	cfg := directConfig(nil, []string{"speakers"})
	streaming := false
	cfg.Streaming = &streaming
	e := newTestEngine(t, runner, cfg)

	require.NoError(t, e.Tick())
	require.NoError(t, e.RouteProcess(4242))
	runner.AssertExpectations(t)
}

func TestNew_LeavesCallerConfigAlone(t *testing.T) {
	cfg := &config.Config{PollInterval: "1s"}
	newTestEngine(t, new(command.MockRunner), cfg)

	assert.Nil(t, cfg.Hub)
	assert.Nil(t, cfg.Capture)
	assert.Nil(t, cfg.Streaming)
}
