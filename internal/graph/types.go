// Package graph reads the live audio server topology into an immutable,
// typed Snapshot of nodes, ports and links.
//
// Two identities are kept apart on purpose: NodeID/PortID/LinkID are numeric
// ids that are only valid inside one snapshot (the server reuses and
// renumbers them), while Key is the node name, which is the only identity that
// is stable across snapshots and is what selections and routes are keyed by.
package graph

import (
	"sort"
	"strings"
)

// NodeID is a session-local node id.
type NodeID int

// PortID is a session-local port id. Ports synthesized from the text
// fallback carry negative ids.
type PortID int

// LinkID is a session-local link id.
type LinkID int

// Key is the stable identity of a node across snapshots (its name).
type Key string

// Direction of a port.
type Direction string

const (
	In  Direction = "in"
	Out Direction = "out"
)

// Port is a directional terminal owned by exactly one node.
type Port struct {
	ID        PortID    `json:"id"`
	Name      string    `json:"name"`
	Direction Direction `json:"direction"`
	NodeID    NodeID    `json:"node_id"`
	NodeName  string    `json:"node_name"`
}

// Node is an addressable audio endpoint.
type Node struct {
	ID          NodeID `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MediaClass  string `json:"media_class,omitempty"`
	// PID is the owning process id; 0 when the server did not report one.
	PID   int    `json:"pid,omitempty"`
	Ports []Port `json:"ports,omitempty"`
}

// Key returns the node's stable identity.
func (n *Node) Key() Key {
	return Key(n.Name)
}

// HasPID reports whether the server reported an owning process.
func (n *Node) HasPID() bool {
	return n.PID > 0
}

// OutputPorts returns the node's output ports in attachment order.
func (n *Node) OutputPorts() []Port {
	return n.portsIn(Out)
}

// InputPorts returns the node's input ports in attachment order.
func (n *Node) InputPorts() []Port {
	return n.portsIn(In)
}

// IsSource reports whether the node has at least one output port.
func (n *Node) IsSource() bool {
	return n.hasDirection(Out)
}

// IsSink reports whether the node has at least one input port.
func (n *Node) IsSink() bool {
	return n.hasDirection(In)
}

func (n *Node) portsIn(d Direction) []Port {
	var out []Port
	for _, p := range n.Ports {
		if p.Direction == d {
			out = append(out, p)
		}
	}
	return out
}

func (n *Node) hasDirection(d Direction) bool {
	for _, p := range n.Ports {
		if p.Direction == d {
			return true
		}
	}
	return false
}

// Link is one existing connection between two specific ports.
type Link struct {
	ID         LinkID `json:"id"`
	OutputNode NodeID `json:"output_node"`
	OutputPort PortID `json:"output_port"`
	InputNode  NodeID `json:"input_node"`
	InputPort  PortID `json:"input_port"`
}

// Snapshot is one point-in-time capture of the topology. It is rebuilt from
// scratch on every read and must not be mutated after construction.
type Snapshot struct {
	Nodes map[NodeID]*Node `json:"nodes"`
	Links []Link           `json:"links"`
}

// Empty returns a snapshot with no nodes and no links.
func Empty() *Snapshot {
	return &Snapshot{Nodes: make(map[NodeID]*Node)}
}

// Node returns the node with the given id.
func (s *Snapshot) Node(id NodeID) (*Node, bool) {
	n, ok := s.Nodes[id]
	return n, ok
}

// Sources returns nodes with at least one output port, sorted
// case-insensitively by description.
func (s *Snapshot) Sources() []*Node {
	return s.filter((*Node).IsSource)
}

// Sinks returns nodes with at least one input port, sorted
// case-insensitively by description.
func (s *Snapshot) Sinks() []*Node {
	return s.filter((*Node).IsSink)
}

// SourceByKey finds a source node by its stable key.
func (s *Snapshot) SourceByKey(key Key) (*Node, bool) {
	return s.byKey(key, (*Node).IsSource)
}

// SinkByKey finds a sink node by its stable key.
func (s *Snapshot) SinkByKey(key Key) (*Node, bool) {
	return s.byKey(key, (*Node).IsSink)
}

// PortCount returns the number of ports attached to all nodes.
func (s *Snapshot) PortCount() int {
	total := 0
	for _, n := range s.Nodes {
		total += len(n.Ports)
	}
	return total
}

// SortedNodes returns every node ordered by id.
func (s *Snapshot) SortedNodes() []*Node {
	nodes := make([]*Node, 0, len(s.Nodes))
	for _, n := range s.Nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

func (s *Snapshot) filter(keep func(*Node) bool) []*Node {
	var nodes []*Node
	for _, n := range s.SortedNodes() {
		if keep(n) {
			nodes = append(nodes, n)
		}
	}
	SortByDescription(nodes)
	return nodes
}

func (s *Snapshot) byKey(key Key, keep func(*Node) bool) (*Node, bool) {
	for _, n := range s.SortedNodes() {
		if n.Key() == key && keep(n) {
			return n, true
		}
	}
	return nil, false
}

// SortByDescription orders nodes case-insensitively by description. Ties
// fall back to name, then id, so the order is deterministic.
func SortByDescription(nodes []*Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := strings.ToLower(nodes[i].Description), strings.ToLower(nodes[j].Description)
		if a != b {
			return a < b
		}
		if nodes[i].Name != nodes[j].Name {
			return nodes[i].Name < nodes[j].Name
		}
		return nodes[i].ID < nodes[j].ID
	})
}
