package link

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"grimm.is/audiolink/internal/command"
	"grimm.is/audiolink/internal/graph"
	"grimm.is/audiolink/internal/logging"
)

var volumePattern = regexp.MustCompile(`Volume:\s*([0-9]*\.?[0-9]+)`)

// ParseVolume extracts the linear gain from `wpctl get-volume` output.
func ParseVolume(out string) (float64, error) {
	m := volumePattern.FindStringSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("could not parse volume from %q", strings.TrimSpace(out))
	}
	return strconv.ParseFloat(m[1], 64)
}

// Gain sets node volumes. Offsets are applied relative to a baseline captured
// the first time a key is touched.
type Gain struct {
	runner command.Runner
	logger *logging.Logger

	mu        sync.Mutex
	baselines map[graph.Key]float64
}

// NewGain creates a gain controller with an empty baseline cache.
func NewGain(runner command.Runner, logger *logging.Logger) *Gain {
	if logger == nil {
		logger = logging.Default()
	}
	return &Gain{
		runner:    runner,
		logger:    logger.WithComponent("gain"),
		baselines: make(map[graph.Key]float64),
	}
}

// SetVolumeByKeys sets the linear volume of the named source nodes to
// percent/100, clamped to [0, 1]. Keys not present in snap are skipped.
func (g *Gain) SetVolumeByKeys(keys []graph.Key, snap *graph.Snapshot, percent int) error {
	if err := command.Require(g.runner, command.Wpctl); err != nil {
		return err
	}
	volume := float64(clampInt(percent, 0, 100)) / 100.0

	var errs []error
	for _, key := range keys {
		node, ok := snap.SourceByKey(key)
		if !ok {
			continue
		}
		_, err := g.runner.Output(command.Wpctl, "set-volume",
			strconv.Itoa(int(node.ID)), strconv.FormatFloat(volume, 'f', 2, 64))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", node.Description, err))
		}
	}
	return Aggregate(errs)
}

// ApplyOffsetByKeys sets each named sink to baseline * 10^(db/20). The
// baseline is fetched once per key and reused afterwards.
func (g *Gain) ApplyOffsetByKeys(keys []graph.Key, snap *graph.Snapshot, db float64) error {
	if err := command.Require(g.runner, command.Wpctl); err != nil {
		return err
	}
	factor := math.Pow(10, db/20)

	var errs []error
	for _, key := range keys {
		node, ok := snap.SinkByKey(key)
		if !ok {
			continue
		}
		baseline, err := g.baseline(key, node.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", node.Description, err))
			continue
		}
		target := math.Max(0, baseline*factor)
		_, err = g.runner.Output(command.Wpctl, "set-volume",
			strconv.Itoa(int(node.ID)), "--", strconv.FormatFloat(target, 'f', 4, 64))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", node.Description, err))
			continue
		}
		g.logger.Debug("gain offset applied", "node", key, "db", db, "linear", target)
	}
	return Aggregate(errs)
}

// Baseline returns the cached baseline for key.
func (g *Gain) Baseline(key graph.Key) (float64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.baselines[key]
	return v, ok
}

// ResetBaselines forgets every cached baseline. The hub's sink is recreated
// at full volume after a teardown, so its old baseline no longer applies.
func (g *Gain) ResetBaselines() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.baselines = make(map[graph.Key]float64)
}

func (g *Gain) baseline(key graph.Key, id graph.NodeID) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if v, ok := g.baselines[key]; ok {
		return v, nil
	}
	out, err := g.runner.Output(command.Wpctl, "get-volume", strconv.Itoa(int(id)))
	if err != nil {
		return 0, err
	}
	v, err := ParseVolume(out)
	if err != nil {
		return 0, fmt.Errorf("node %d: %w", id, err)
	}
	g.baselines[key] = v
	return v, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
