package graph

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"grimm.is/audiolink/internal/command"
	"grimm.is/audiolink/internal/logging"
)

// ErrParse is returned when the dump output is not a JSON array.
var ErrParse = errors.New("graph dump could not be parsed")

// Record type suffixes in the dump. pw-dump prefixes them with
// "PipeWire:Interface:"; other producers may not.
const (
	typeNode = "Node"
	typePort = "Port"
	typeLink = "Link"
)

// Reader produces snapshots by running pw-dump, with a pw-link text listing
// as fallback when the dump carries nodes but no usable ports.
type Reader struct {
	runner command.Runner
	logger *logging.Logger
}

// NewReader creates a snapshot reader.
func NewReader(runner command.Runner, logger *logging.Logger) *Reader {
	if logger == nil {
		logger = logging.Default()
	}
	return &Reader{runner: runner, logger: logger.WithComponent("graph")}
}

// Snapshot reads the current topology. On failure it returns an empty
// snapshot together with the error so callers always have a value to work
// with.
func (r *Reader) Snapshot() (*Snapshot, error) {
	out, err := r.runner.Output(command.PwDump)
	if err != nil {
		return Empty(), err
	}

	snap, err := Parse([]byte(out))
	if err != nil {
		return Empty(), err
	}

	if len(snap.Nodes) > 0 && snap.PortCount() == 0 {
		r.attachFallbackPorts(snap)
	}

	r.logger.Debug("snapshot read",
		"nodes", len(snap.Nodes),
		"ports", snap.PortCount(),
		"links", len(snap.Links))
	return snap, nil
}

// Parse builds a snapshot from pw-dump JSON. Records that are not objects,
// lack an integer id, or miss required fields are skipped. Ports whose owner
// is not present are dropped.
func Parse(data []byte) (*Snapshot, error) {
	if !gjson.ValidBytes(data) {
		return Empty(), fmt.Errorf("%w: invalid JSON", ErrParse)
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return Empty(), fmt.Errorf("%w: top-level value is not an array", ErrParse)
	}

	snap := Empty()
	pending := make(map[NodeID][]Port)
	var order []NodeID

	root.ForEach(func(_, rec gjson.Result) bool {
		if !rec.IsObject() {
			return true
		}
		id, ok := exactInt(rec.Get("id"))
		if !ok {
			return true
		}
		info := rec.Get("info").Map()
		props := info["props"].Map()

		kind := rec.Get("type").String()
		switch {
		case strings.HasSuffix(kind, typeNode):
			snap.Nodes[NodeID(id)] = parseNode(id, props)
		case strings.HasSuffix(kind, typePort):
			port, ok := parsePort(id, rec, info, props)
			if !ok {
				return true
			}
			if _, seen := pending[port.NodeID]; !seen {
				order = append(order, port.NodeID)
			}
			pending[port.NodeID] = append(pending[port.NodeID], port)
		case strings.HasSuffix(kind, typeLink):
			if link, ok := parseLink(id, info, props); ok {
				snap.Links = append(snap.Links, link)
			}
		}
		return true
	})

	for _, nodeID := range order {
		node, ok := snap.Nodes[nodeID]
		if !ok {
			continue
		}
		for _, p := range pending[nodeID] {
			p.NodeName = node.Name
			node.Ports = append(node.Ports, p)
		}
	}
	return snap, nil
}

func parseNode(id int, props map[string]gjson.Result) *Node {
	name := firstString(props, "node.name", "object.path")
	if name == "" {
		name = "node-" + strconv.Itoa(id)
	}
	desc := firstString(props, "node.description", "node.nick", "application.name")
	if desc == "" {
		desc = name
	}
	node := &Node{
		ID:          NodeID(id),
		Name:        name,
		Description: desc,
		MediaClass:  firstString(props, "media.class"),
	}
	if pid, ok := coerceInt(props["application.process.id"]); ok && pid > 0 {
		node.PID = pid
	}
	return node
}

func parsePort(id int, rec gjson.Result, info, props map[string]gjson.Result) (Port, bool) {
	dir := resolveDirection(info["direction"], props["direction"], props["port.direction"])
	if dir == "" {
		return Port{}, false
	}
	nodeID, ok := firstInt(info["node.id"], props["node.id"], rec.Get(`node\.id`))
	if !ok {
		return Port{}, false
	}
	name := firstString(props, "port.name", "port.alias", "object.path")
	if name == "" {
		name = "port-" + strconv.Itoa(id)
	}
	return Port{
		ID:        PortID(id),
		Name:      name,
		Direction: dir,
		NodeID:    NodeID(nodeID),
	}, true
}

func parseLink(id int, info, props map[string]gjson.Result) (Link, bool) {
	outNode, ok1 := firstInt(info["output-node-id"], props["link.output.node"])
	outPort, ok2 := firstInt(info["output-port-id"], props["link.output.port"])
	inNode, ok3 := firstInt(info["input-node-id"], props["link.input.node"])
	inPort, ok4 := firstInt(info["input-port-id"], props["link.input.port"])
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return Link{}, false
	}
	return Link{
		ID:         LinkID(id),
		OutputNode: NodeID(outNode),
		OutputPort: PortID(outPort),
		InputNode:  NodeID(inNode),
		InputPort:  PortID(inPort),
	}, true
}

// resolveDirection takes the first candidate that is exactly "in" or "out".
func resolveDirection(candidates ...gjson.Result) Direction {
	for _, c := range candidates {
		switch Direction(c.String()) {
		case In:
			return In
		case Out:
			return Out
		}
	}
	return ""
}

func firstString(m map[string]gjson.Result, keys ...string) string {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v.Type == gjson.Null {
			continue
		}
		if s := v.String(); s != "" {
			return s
		}
	}
	return ""
}

func firstInt(candidates ...gjson.Result) (int, bool) {
	for _, c := range candidates {
		if v, ok := coerceInt(c); ok {
			return v, true
		}
	}
	return 0, false
}

// exactInt accepts only JSON integer numbers.
func exactInt(r gjson.Result) (int, bool) {
	if r.Type != gjson.Number || strings.ContainsAny(r.Raw, ".eE") {
		return 0, false
	}
	return int(r.Int()), true
}

// coerceInt accepts numbers (truncated) and numeric strings.
func coerceInt(r gjson.Result) (int, bool) {
	switch r.Type {
	case gjson.Number:
		return int(r.Int()), true
	case gjson.String:
		v, err := strconv.Atoi(strings.TrimSpace(r.Str))
		if err != nil {
			return 0, false
		}
		return v, true
	}
	return 0, false
}
