// Package link issues link, virtual device and gain commands against the
// audio server.
package link

import (
	"errors"
	"fmt"
	"strings"

	"grimm.is/audiolink/internal/command"
	"grimm.is/audiolink/internal/graph"
	"grimm.is/audiolink/internal/logging"
)

// preferredPortTokens mark ports that look like audio channels.
var preferredPortTokens = []string{"audio", "monitor", "playback", "capture"}

// Controller creates and removes links between nodes.
type Controller struct {
	runner command.Runner
	logger *logging.Logger
}

// NewController creates a link controller.
func NewController(runner command.Runner, logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.Default()
	}
	return &Controller{runner: runner, logger: logger.WithComponent("link")}
}

// PickPort chooses the representative port of a node for one direction.
func PickPort(ports []graph.Port) (graph.Port, error) {
	if len(ports) == 0 {
		return graph.Port{}, ErrNoCompatiblePort
	}
	for _, p := range ports {
		low := strings.ToLower(p.Name)
		for _, tok := range preferredPortTokens {
			if strings.Contains(low, tok) {
				return p, nil
			}
		}
	}
	return ports[0], nil
}

// CreateLink connects source to sink. A link that already exists is not an
// error.
func (c *Controller) CreateLink(source, sink *graph.Node) error {
	out, in, err := endpoints(source, sink)
	if err != nil {
		return err
	}
	_, err = c.runner.Output(command.PwLink, portSpec(source.Name, out), portSpec(sink.Name, in))
	if err != nil && alreadyLinked(err) {
		c.logger.Debug("link already exists", "source", source.Name, "target", sink.Name)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s -> %s: %w", source.Description, sink.Description, err)
	}
	c.logger.Info("link created", "source", source.Name, "target", sink.Name)
	return nil
}

// RemoveLink disconnects source from sink.
func (c *Controller) RemoveLink(source, sink *graph.Node) error {
	out, in, err := endpoints(source, sink)
	if err != nil {
		return err
	}
	if _, err := c.runner.Output(command.PwLink, "-d", portSpec(source.Name, out), portSpec(sink.Name, in)); err != nil {
		return fmt.Errorf("%s -> %s: %w", source.Description, sink.Description, err)
	}
	c.logger.Info("link removed", "source", source.Name, "target", sink.Name)
	return nil
}

// RemoveLinkByPorts disconnects two specific ports.
func (c *Controller) RemoveLinkByPorts(output, input graph.Port) error {
	_, err := c.runner.Output(command.PwLink, "-d",
		portSpec(output.NodeName, output), portSpec(input.NodeName, input))
	return err
}

// CreateLinkByKey resolves both keys in snap and links them.
func (c *Controller) CreateLinkByKey(sourceKey, targetKey graph.Key, snap *graph.Snapshot) error {
	source, target, err := resolvePair(sourceKey, targetKey, snap)
	if err != nil {
		return err
	}
	return c.CreateLink(source, target)
}

// RemoveLinkByKey resolves both keys in snap and unlinks them.
func (c *Controller) RemoveLinkByKey(sourceKey, targetKey graph.Key, snap *graph.Snapshot) error {
	source, target, err := resolvePair(sourceKey, targetKey, snap)
	if err != nil {
		return err
	}
	return c.RemoveLink(source, target)
}

// IsLinked reports whether any link in snap runs from one of source's output
// ports to one of sink's input ports.
func IsLinked(source, sink *graph.Node, snap *graph.Snapshot) bool {
	outs := make(map[graph.PortID]bool)
	for _, p := range source.OutputPorts() {
		outs[p.ID] = true
	}
	ins := make(map[graph.PortID]bool)
	for _, p := range sink.InputPorts() {
		ins[p.ID] = true
	}
	for _, l := range snap.Links {
		if outs[l.OutputPort] && ins[l.InputPort] {
			return true
		}
	}
	return false
}

func endpoints(source, sink *graph.Node) (graph.Port, graph.Port, error) {
	out, err := PickPort(source.OutputPorts())
	if err != nil {
		return graph.Port{}, graph.Port{}, fmt.Errorf("%s: %w", source.Description, err)
	}
	in, err := PickPort(sink.InputPorts())
	if err != nil {
		return graph.Port{}, graph.Port{}, fmt.Errorf("%s: %w", sink.Description, err)
	}
	return out, in, nil
}

func resolvePair(sourceKey, targetKey graph.Key, snap *graph.Snapshot) (*graph.Node, *graph.Node, error) {
	source, ok := snap.SourceByKey(sourceKey)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnresolvedKey, sourceKey)
	}
	target, ok := snap.SinkByKey(targetKey)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnresolvedKey, targetKey)
	}
	return source, target, nil
}

func portSpec(node string, p graph.Port) string {
	return node + ":" + p.Name
}

// alreadyLinked recognizes pw-link's complaint about a duplicate link.
func alreadyLinked(err error) bool {
	var cmdErr *command.Error
	if !errors.As(err, &cmdErr) {
		return false
	}
	return strings.Contains(strings.ToLower(cmdErr.Stderr), "file exists")
}
