package link

import (
	"fmt"
	"strconv"
	"strings"

	"grimm.is/audiolink/internal/command"
	"grimm.is/audiolink/internal/graph"
	"grimm.is/audiolink/internal/logging"
)

// pactl module types used for the routing hub.
const (
	ModuleNullSink    = "module-null-sink"
	ModuleRemapSource = "module-remap-source"
)

// HubConfig names the two virtual devices that make up the routing hub.
type HubConfig struct {
	SinkName          string
	SinkDescription   string
	SourceName        string
	SourceDescription string
}

// DefaultHubConfig returns the stock hub device names.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		SinkName:          "audiolink_virtual_mic_sink",
		SinkDescription:   "AudioLink Virtual Mic Sink",
		SourceName:        "audiolink_virtual_mic",
		SourceDescription: "AudioLink Virtual Microphone",
	}
}

// Module is one row of `pactl list short modules`.
type Module struct {
	ID   int
	Name string
	Args string
}

// ParseModuleList parses tab-separated "<id>\t<type>\t<args>" rows. Rows
// with fewer fields or a non-numeric id are skipped.
func ParseModuleList(text string) []Module {
	var mods []Module
	for _, line := range strings.Split(text, "\n") {
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) < 3 {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			continue
		}
		mods = append(mods, Module{ID: id, Name: parts[1], Args: parts[2]})
	}
	return mods
}

// Hub provisions a null sink plus a remap source reading the sink's monitor.
// Applications routed into the sink become audible on the source.
type Hub struct {
	runner command.Runner
	logger *logging.Logger
	cfg    HubConfig

	sinkModule   *int
	sourceModule *int
}

// NewHub creates a hub manager. Nothing is loaded until Ensure.
func NewHub(runner command.Runner, logger *logging.Logger, cfg HubConfig) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{runner: runner, logger: logger.WithComponent("hub"), cfg: cfg}
}

// SinkKey is the key of the hub's sink node.
func (h *Hub) SinkKey() graph.Key {
	return graph.Key(h.cfg.SinkName)
}

// SourceKey is the key of the hub's source node. The remap module also
// creates an internal "input.<name>" capture stream, which is excluded from
// the offered sources.
func (h *Hub) SourceKey() graph.Key {
	return graph.Key(h.cfg.SourceName)
}

// ManagedNames lists node names owned by the hub, for classification.
func (h *Hub) ManagedNames() []string {
	return []string{h.cfg.SinkName, h.cfg.SourceName}
}

// Active reports whether both hub modules are tracked as loaded.
func (h *Hub) Active() bool {
	return h.sinkModule != nil && h.sourceModule != nil
}

// ModuleIDs returns the tracked module ids; ok is false when not loaded.
func (h *Hub) ModuleIDs() (sink, source int, ok bool) {
	if !h.Active() {
		return 0, 0, false
	}
	return *h.sinkModule, *h.sourceModule, true
}

// Ensure removes leftovers from a previous run and loads both devices.
func (h *Hub) Ensure() error {
	if err := h.removeStale(); err != nil {
		return err
	}

	sinkOut, err := h.runner.Output(command.Pactl, "load-module", ModuleNullSink,
		"sink_name="+h.cfg.SinkName,
		propertiesArg("sink_properties", h.cfg.SinkDescription))
	if err != nil {
		return fmt.Errorf("load %s: %w", ModuleNullSink, err)
	}
	sinkID, err := parseModuleID(sinkOut, ModuleNullSink)
	if err != nil {
		return err
	}
	h.sinkModule = &sinkID

	sourceOut, err := h.runner.Output(command.Pactl, "load-module", ModuleRemapSource,
		"master="+h.cfg.SinkName+".monitor",
		"source_name="+h.cfg.SourceName,
		propertiesArg("source_properties", h.cfg.SourceDescription))
	if err != nil {
		return fmt.Errorf("load %s: %w", ModuleRemapSource, err)
	}
	sourceID, err := parseModuleID(sourceOut, ModuleRemapSource)
	if err != nil {
		return err
	}
	h.sourceModule = &sourceID

	h.logger.Info("routing hub loaded", "sink_module", sinkID, "source_module", sourceID)
	return nil
}

// Teardown unloads the tracked source then sink module, then sweeps any
// remaining same-named modules. Failures to unload tracked modules are
// logged, not returned.
func (h *Hub) Teardown() error {
	for _, id := range []*int{h.sourceModule, h.sinkModule} {
		if id == nil {
			continue
		}
		if _, err := h.runner.Output(command.Pactl, "unload-module", strconv.Itoa(*id)); err != nil {
			h.logger.Warn("failed to unload hub module", "module", *id, "error", err)
		}
	}
	h.sourceModule, h.sinkModule = nil, nil

	if err := h.removeStale(); err != nil {
		return err
	}
	h.logger.Info("routing hub removed")
	return nil
}

// removeStale unloads modules matching the hub's names, sources first since
// they read from the sink's monitor.
func (h *Hub) removeStale() error {
	out, err := h.runner.Output(command.Pactl, "list", "short", "modules")
	if err != nil {
		return fmt.Errorf("list modules: %w", err)
	}

	var sources, sinks []int
	for _, m := range ParseModuleList(out) {
		switch {
		case m.Name == ModuleRemapSource && strings.Contains(m.Args, "source_name="+h.cfg.SourceName):
			sources = append(sources, m.ID)
		case m.Name == ModuleNullSink && strings.Contains(m.Args, "sink_name="+h.cfg.SinkName):
			sinks = append(sinks, m.ID)
		}
	}

	var errs []error
	for _, id := range append(sources, sinks...) {
		if _, err := h.runner.Output(command.Pactl, "unload-module", strconv.Itoa(id)); err != nil {
			errs = append(errs, fmt.Errorf("unload module %d: %w", id, err))
			continue
		}
		h.logger.Debug("stale hub module unloaded", "module", id)
	}
	return Aggregate(errs)
}

// propertiesArg quotes the description so module argument parsing keeps
// embedded spaces.
func propertiesArg(key, description string) string {
	return fmt.Sprintf(`%s="device.description='%s'"`, key, description)
}

func parseModuleID(raw, module string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("unexpected module id output for %s: %q", module, raw)
	}
	return id, nil
}
