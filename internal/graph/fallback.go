package graph

import (
	"strings"

	"grimm.is/audiolink/internal/command"
)

// PortRef is one "node:port" entry from a pw-link listing.
type PortRef struct {
	Node string
	Port string
}

// ParsePortListing extracts node/port pairs from pw-link -o or -i output.
// Lines without a colon are ignored. On each line the first whitespace
// token that contains a colon and is not a link arrow is used, otherwise
// the whole line.
func ParsePortListing(text string) []PortRef {
	var refs []PortRef
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.Contains(line, ":") {
			continue
		}
		token := line
		for _, f := range strings.Fields(line) {
			if strings.Contains(f, ":") && !strings.HasPrefix(f, "->") && !strings.HasPrefix(f, "<-") {
				token = f
				break
			}
		}
		node, port, ok := strings.Cut(token, ":")
		node, port = strings.TrimSpace(node), strings.TrimSpace(port)
		if !ok || node == "" || port == "" {
			continue
		}
		refs = append(refs, PortRef{Node: node, Port: port})
	}
	return refs
}

// attachFallbackPorts synthesizes ports from pw-link listings. Synthetic
// port ids are negative and strictly decreasing from -1. Listing failures
// are logged and skipped.
func (r *Reader) attachFallbackPorts(snap *Snapshot) {
	nodes := snap.SortedNodes()
	next := PortID(-1)
	attached := 0

	for _, pass := range []struct {
		dir  Direction
		flag string
	}{{Out, "-o"}, {In, "-i"}} {
		out, err := r.runner.Output(command.PwLink, pass.flag)
		if err != nil {
			r.logger.Warn("port listing failed", "flag", pass.flag, "error", err)
			continue
		}
		for _, ref := range ParsePortListing(out) {
			node := resolveNode(nodes, ref.Node)
			if node == nil || hasPort(node, ref.Port, pass.dir) {
				continue
			}
			node.Ports = append(node.Ports, Port{
				ID:        next,
				Name:      ref.Port,
				Direction: pass.dir,
				NodeID:    node.ID,
				NodeName:  node.Name,
			})
			next--
			attached++
		}
	}
	r.logger.Debug("fallback ports attached", "count", attached)
}

// resolveNode matches by exact name first, then case-insensitively by
// equality, suffix or prefix in either direction.
func resolveNode(nodes []*Node, name string) *Node {
	for _, n := range nodes {
		if n.Name == name {
			return n
		}
	}
	want := strings.ToLower(name)
	for _, n := range nodes {
		have := strings.ToLower(n.Name)
		if have == want ||
			strings.HasSuffix(have, want) || strings.HasSuffix(want, have) ||
			strings.HasPrefix(have, want) || strings.HasPrefix(want, have) {
			return n
		}
	}
	return nil
}

func hasPort(n *Node, name string, dir Direction) bool {
	for _, p := range n.Ports {
		if p.Name == name && p.Direction == dir {
			return true
		}
	}
	return false
}
