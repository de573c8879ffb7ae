// Package engine drives the routing reconciler. It polls the graph, keeps
// the reconciler's available sets current, applies the resulting link
// actions and reports every step to the journal, metrics and event bus.
//
// Reconciler state is only touched with e.mu held. A tick that arrives while
// another is still running is skipped rather than queued.
package engine

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"grimm.is/audiolink/internal/classify"
	"grimm.is/audiolink/internal/clock"
	"grimm.is/audiolink/internal/command"
	"grimm.is/audiolink/internal/config"
	"grimm.is/audiolink/internal/events"
	"grimm.is/audiolink/internal/graph"
	"grimm.is/audiolink/internal/journal"
	"grimm.is/audiolink/internal/link"
	"grimm.is/audiolink/internal/logging"
	"grimm.is/audiolink/internal/metrics"
	"grimm.is/audiolink/internal/routing"
)

var (
	// ErrAutoMode is returned when a manual selection is changed while the
	// role is in auto mode.
	ErrAutoMode = errors.New("selection is managed automatically")
	// ErrHubDisabled is returned for hub operations when the hub is off.
	ErrHubDisabled = errors.New("routing hub is disabled")
)

// NoStreamError is returned by RouteProcess when the process has no audio
// stream in the graph.
type NoStreamError struct {
	PID int
}

func (e *NoStreamError) Error() string {
	return fmt.Sprintf("no audio stream for process %d detected yet", e.PID)
}

// Options configures an Engine. Runner and Config are required; the rest
// default to a fresh registry, a fresh event hub, no journal and the
// default logger.
type Options struct {
	Runner  command.Runner
	Config  *config.Config
	Logger  *logging.Logger
	Journal *journal.Store
	Metrics *metrics.Registry
	Events  *events.Hub
}

// Engine owns one reconciler and the collaborators that act on it.
type Engine struct {
	runner     command.Runner
	cfg        *config.Config
	logger     *logging.Logger
	reader     *graph.Reader
	classifier *classify.Classifier
	controller *link.Controller
	hub        *link.Hub // nil when the hub is disabled
	gain       *link.Gain
	journal    *journal.Store
	metrics    *metrics.Registry
	events     *events.Hub

	mu         sync.Mutex
	reconciler *routing.Reconciler
	last       *graph.Snapshot
	lastPoll   time.Time
	status     string
	gainDB     float64 // last offset applied
	wantGainDB float64 // offset to apply when the hub comes up

	inFlight atomic.Bool
	skipped  atomic.Int64
}

// New checks for the required tools and builds an engine whose reconciler
// starts from the configured roles and streaming state.
func New(opts Options) (*Engine, error) {
	if opts.Runner == nil || opts.Config == nil {
		return nil, fmt.Errorf("engine: runner and config are required")
	}
	if err := command.Require(opts.Runner, command.RequiredTools...); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRegistry()
	}
	if opts.Events == nil {
		opts.Events = events.NewHub()
	}

	cfg := opts.Config.Clone()
	cfg.Normalize()

	e := &Engine{
		runner:     opts.Runner,
		cfg:        cfg,
		logger:     opts.Logger.WithComponent("engine"),
		reader:     graph.NewReader(opts.Runner, opts.Logger),
		classifier: classify.New(cfg.ClassifierOptions()),
		controller: link.NewController(opts.Runner, opts.Logger),
		gain:       link.NewGain(opts.Runner, opts.Logger),
		journal:    opts.Journal,
		metrics:    opts.Metrics,
		events:     opts.Events,
		reconciler: routing.NewReconciler(),
		wantGainDB: cfg.Gain.OffsetDB,
	}
	if cfg.HubEnabled() {
		e.hub = link.NewHub(opts.Runner, opts.Logger, cfg.HubSettings())
	}

	for role, rc := range map[routing.Role]*config.RoleConfig{
		routing.Capture:  cfg.Capture,
		routing.Playback: cfg.Playback,
	} {
		e.reconciler.SetSelection(role, toKeys(rc.Selected))
		e.reconciler.SetAuto(role, rc.Auto)
	}
	e.reconciler.SetStreaming(cfg.StreamingOnStart())
	metrics.SetBool(e.metrics.Streaming, cfg.StreamingOnStart())

	return e, nil
}

// Events returns the bus the engine publishes on.
func (e *Engine) Events() *events.Hub { return e.events }

// Metrics returns the engine's metrics registry.
func (e *Engine) Metrics() *metrics.Registry { return e.metrics }

// Journal returns the route journal, or nil.
func (e *Engine) Journal() *journal.Store { return e.journal }

// Poll reads one snapshot. On failure the snapshot is empty.
func (e *Engine) Poll() (*graph.Snapshot, error) {
	start := clock.Now()
	snap, err := e.reader.Snapshot()
	e.metrics.ObservePoll(clock.Since(start).Seconds(), err)
	if err != nil {
		e.observeFailure(err)
		return snap, err
	}
	e.metrics.GraphNodes.Set(float64(len(snap.Nodes)))
	e.metrics.GraphLinks.Set(float64(len(snap.Links)))
	return snap, nil
}

// Apply executes actions against a fresh snapshot, in order. Every failure
// is collected and the rest still run.
func (e *Engine) Apply(actions []routing.RouteAction) error {
	return e.apply(newCycle(), actions)
}

func (e *Engine) apply(cycle string, actions []routing.RouteAction) error {
	if len(actions) == 0 {
		return nil
	}
	snap, err := e.reader.Snapshot()
	if err != nil {
		e.observeFailure(err)
		return fmt.Errorf("snapshot before apply: %w", err)
	}

	var errs []error
	for _, a := range actions {
		var err error
		switch a.Op {
		case routing.OpLink:
			err = e.controller.CreateLinkByKey(a.SourceKey, a.TargetKey, snap)
		case routing.OpUnlink:
			err = e.controller.RemoveLinkByKey(a.SourceKey, a.TargetKey, snap)
		default:
			err = fmt.Errorf("unknown route op %q", a.Op)
		}
		e.recordAction(cycle, a, err)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return link.Aggregate(errs)
}

// Tick runs one poll, compute and apply cycle. It returns nil without doing
// anything when a previous tick is still in flight.
func (e *Engine) Tick() error {
	if !e.inFlight.CompareAndSwap(false, true) {
		e.skipped.Add(1)
		e.logger.Debug("tick skipped, previous cycle in flight")
		return nil
	}
	defer e.inFlight.Store(false)

	e.mu.Lock()
	defer e.mu.Unlock()

	cycle := newCycle()
	snap, err := e.Poll()
	if err != nil {
		e.setStatusLocked(err.Error())
		e.publishError("poll", err)
		return err
	}
	actions := e.refreshLocked(snap)
	if err := e.apply(cycle, actions); err != nil {
		e.setStatusLocked(err.Error())
		e.publishError("apply", err)
		return err
	}
	return nil
}

// Skipped returns how many ticks were skipped because one was in flight.
func (e *Engine) Skipped() int64 {
	return e.skipped.Load()
}

// refreshLocked records snap, updates available sets and computes actions.
func (e *Engine) refreshLocked(snap *graph.Snapshot) []routing.RouteAction {
	sources := e.classifier.ApplicationSources(snap)
	targets := e.classifier.ApplicationTargets(snap)
	e.reconciler.UpdateAvailable(sources, targets)
	e.last = snap
	e.lastPoll = clock.Now()

	e.metrics.Available.WithLabelValues(string(routing.Capture)).Set(float64(len(sources)))
	e.metrics.Available.WithLabelValues(string(routing.Playback)).Set(float64(len(targets)))

	hub := e.hubKeys()
	e.metrics.DesiredPairs.Set(float64(len(e.reconciler.DesiredPairs(hub))))
	actions := e.reconciler.ComputeActions(snap, hub)

	status := fmt.Sprintf("Sources: %d | Targets: %d", len(sources), len(targets))
	e.setStatusLocked(status)
	e.events.Emit(events.EventSnapshot, "engine", events.SnapshotData{
		Nodes:   len(snap.Nodes),
		Links:   len(snap.Links),
		Sources: len(sources),
		Targets: len(targets),
		Actions: len(actions),
		Status:  status,
	})
	return actions
}

// reconcileLocked recomputes against the last snapshot, polling first when
// there is none, and applies the result.
func (e *Engine) reconcileLocked() error {
	if e.last == nil {
		snap, err := e.Poll()
		if err != nil {
			return err
		}
		return e.apply(newCycle(), e.refreshLocked(snap))
	}
	return e.apply(newCycle(), e.reconciler.ComputeActions(e.last, e.hubKeys()))
}

func (e *Engine) hubKeys() *routing.HubKeys {
	if e.hub == nil {
		return nil
	}
	return &routing.HubKeys{Sink: e.hub.SinkKey(), Source: e.hub.SourceKey()}
}

// SetSelection replaces a role's manual selection and reconciles.
func (e *Engine) SetSelection(role routing.Role, keys []graph.Key) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.reconciler.SetSelection(role, keys) {
		return fmt.Errorf("%s: %w", role, ErrAutoMode)
	}
	e.selectionChangedLocked(role)
	return e.reconcileLocked()
}

// ClearSelection empties a role's manual selection and reconciles.
func (e *Engine) ClearSelection(role routing.Role) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.reconciler.Clear(role) {
		return fmt.Errorf("%s: %w", role, ErrAutoMode)
	}
	e.selectionChangedLocked(role)
	return e.reconcileLocked()
}

func (e *Engine) selectionChangedLocked(role routing.Role) {
	keys := fromKeys(e.reconciler.Selection(role))
	e.record(journal.Entry{
		Kind:    journal.KindSelection,
		OK:      true,
		Details: map[string]any{"role": string(role), "keys": keys},
	})
	e.events.Emit(events.EventSelection, "engine", events.SelectionData{Role: string(role), Keys: keys})
}

// SetAuto switches a role between manual and auto mode and reconciles.
func (e *Engine) SetAuto(role routing.Role, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.reconciler.SetAuto(role, enabled)
	e.record(journal.Entry{
		Kind:    journal.KindMode,
		OK:      true,
		Details: map[string]any{"role": string(role), "auto": enabled},
	})
	e.events.Emit(events.EventMode, "engine", events.ModeData{Role: string(role), Auto: enabled})
	return e.reconcileLocked()
}

// SetStreaming turns routing on or off and reconciles. Turning it off
// unlinks everything routed so far.
func (e *Engine) SetStreaming(enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setStreamingLocked(enabled)
	return e.reconcileLocked()
}

func (e *Engine) setStreamingLocked(enabled bool) {
	e.reconciler.SetStreaming(enabled)
	metrics.SetBool(e.metrics.Streaming, enabled)
	e.record(journal.Entry{
		Kind:    journal.KindStreaming,
		OK:      true,
		Details: map[string]any{"active": enabled},
	})
	e.events.Emit(events.EventStreaming, "engine", events.StreamingData{Active: enabled})
}

// SetHubGain sets the hub sink to its baseline volume offset by db.
func (e *Engine) SetHubGain(db float64) error {
	if db < config.MinGainDB || db > config.MaxGainDB {
		return fmt.Errorf("gain offset %g dB out of range [%g, %g]", db, config.MinGainDB, config.MaxGainDB)
	}
	if e.hub == nil {
		return ErrHubDisabled
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	snap, err := e.Poll()
	if err != nil {
		return err
	}
	key := e.hub.SinkKey()
	if _, ok := snap.SinkByKey(key); ok {
		err = e.gain.ApplyOffsetByKeys([]graph.Key{key}, snap, db)
	} else {
		err = fmt.Errorf("%w: %s", link.ErrUnresolvedKey, key)
	}
	e.record(journal.Entry{
		Kind:    journal.KindGain,
		Target:  string(key),
		OK:      err == nil,
		Error:   errString(err),
		Details: map[string]any{"db": db},
	})
	if err != nil {
		e.observeFailure(err)
		return err
	}
	e.gainDB = db
	e.wantGainDB = db
	e.metrics.HubGainDB.Set(db)
	e.events.Emit(events.EventGain, "engine", events.GainData{DB: db})
	return nil
}

// SetVolume sets the linear volume of the named source nodes.
func (e *Engine) SetVolume(keys []graph.Key, percent int) error {
	snap, err := e.Poll()
	if err != nil {
		return err
	}
	if err := e.gain.SetVolumeByKeys(keys, snap, percent); err != nil {
		e.observeFailure(err)
		return err
	}
	return nil
}

// RouteProcess links the audio streams of process pid to the current
// target pool straight away.
func (e *Engine) RouteProcess(pid int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	// A stream that started since the last tick is only in a fresh snapshot.
	snap, err := e.Poll()
	if err != nil {
		return err
	}
	actions := e.refreshLocked(snap)
	nodes := e.classifier.FindSourcesByPID(pid, snap)
	if len(nodes) == 0 {
		if err := e.apply(newCycle(), actions); err != nil {
			e.logger.Warn("pending actions failed", "error", err)
		}
		return &NoStreamError{PID: pid}
	}

	for _, n := range nodes {
		actions = append(actions, e.reconciler.RouteToTargets(n.Key(), e.hubKeys())...)
	}
	e.logger.Info("routing process", "pid", pid, "streams", len(nodes), "actions", len(actions))
	return e.apply(newCycle(), actions)
}

// StartHub loads the routing hub and applies the configured gain offset.
// It is a no-op when the hub is disabled.
func (e *Engine) StartHub() error {
	if e.hub == nil {
		return nil
	}
	if err := e.hub.Ensure(); err != nil {
		e.record(journal.Entry{Kind: journal.KindHubUp, Error: err.Error()})
		e.observeFailure(err)
		e.publishError("hub", err)
		return err
	}

	data := events.HubData{Sink: string(e.hub.SinkKey()), Source: string(e.hub.SourceKey())}
	data.SinkModule, data.SourceModule, _ = e.hub.ModuleIDs()
	e.record(journal.Entry{
		Kind:    journal.KindHubUp,
		Source:  data.Source,
		Target:  data.Sink,
		OK:      true,
		Details: map[string]any{"sink_module": data.SinkModule, "source_module": data.SourceModule},
	})
	metrics.SetBool(e.metrics.HubUp, true)
	e.events.Emit(events.EventHubUp, "engine", data)

	e.mu.Lock()
	want := e.wantGainDB
	e.mu.Unlock()
	if want != 0 {
		if err := e.SetHubGain(want); err != nil {
			e.logger.Warn("initial hub gain not applied", "db", want, "error", err)
		}
	}
	return nil
}

// StopHub unloads the routing hub and forgets the gain baselines.
func (e *Engine) StopHub() error {
	if e.hub == nil {
		return nil
	}
	err := e.hub.Teardown()
	e.gain.ResetBaselines()
	e.mu.Lock()
	e.gainDB = 0
	e.mu.Unlock()
	e.metrics.HubGainDB.Set(0)
	e.record(journal.Entry{
		Kind:   journal.KindHubDown,
		Source: string(e.hub.SourceKey()),
		Target: string(e.hub.SinkKey()),
		OK:     err == nil,
		Error:  errString(err),
	})
	metrics.SetBool(e.metrics.HubUp, false)
	e.events.Emit(events.EventHubDown, "engine", events.HubData{
		Sink:   string(e.hub.SinkKey()),
		Source: string(e.hub.SourceKey()),
	})
	return err
}

// Shutdown turns streaming off, applies the resulting unlinks and tears
// the hub down. Failures are logged and returned together.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	e.setStreamingLocked(false)
	snap := e.last
	if snap == nil {
		snap = graph.Empty()
	}
	actions := e.reconciler.ComputeActions(snap, e.hubKeys())
	applyErr := e.apply(newCycle(), actions)
	e.mu.Unlock()

	if applyErr != nil {
		e.logger.Warn("cleanup unlink failed", "error", applyErr)
	}
	hubErr := e.StopHub()
	if hubErr != nil {
		e.logger.Warn("hub teardown failed", "error", hubErr)
	}
	return errors.Join(applyErr, hubErr)
}

// Plan polls once and reports what a tick would do without applying it.
// The reconciler baseline advances as if the actions had been applied.
func (e *Engine) Plan() (*Plan, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap, err := e.Poll()
	if err != nil {
		return nil, err
	}
	actions := e.refreshLocked(snap)
	hub := e.hubKeys()
	desired := e.reconciler.DesiredPairs(hub)

	ends := make(map[graph.Key]bool)
	for p := range desired {
		ends[p.Source] = true
		ends[p.Target] = true
	}
	live := make(map[routing.Pair]bool)
	for p := range routing.LinkedPairs(snap) {
		if ends[p.Source] || ends[p.Target] {
			live[p] = true
		}
	}
	return &Plan{
		Actions: actions,
		Desired: routing.SortPairs(desired),
		Live:    routing.SortPairs(live),
	}, nil
}

// Plan is a dry run of one reconcile cycle. Live holds existing links that
// touch a node taking part in the desired routing.
type Plan struct {
	Actions []routing.RouteAction `json:"actions"`
	Desired []routing.Pair        `json:"desired"`
	Live    []routing.Pair        `json:"live"`
}

// Status is the state shown to a user interface.
type Status struct {
	Text      string     `json:"text"`
	Streaming bool       `json:"streaming"`
	HubActive bool       `json:"hub_active"`
	GainDB    float64    `json:"gain_db"`
	LastPoll  time.Time  `json:"last_poll,omitempty"`
	Skipped   int64      `json:"skipped_ticks"`
	Capture   RoleStatus `json:"capture"`
	Playback  RoleStatus `json:"playback"`
}

// RoleStatus describes one role.
type RoleStatus struct {
	Auto      bool     `json:"auto"`
	Selected  []string `json:"selected"`
	Available int      `json:"available"`
}

// Status returns a copy of the current state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	role := func(r routing.Role) RoleStatus {
		return RoleStatus{
			Auto:      e.reconciler.Auto(r),
			Selected:  fromKeys(e.reconciler.Selection(r)),
			Available: e.reconciler.AvailableCount(r),
		}
	}
	return Status{
		Text:      e.status,
		Streaming: e.reconciler.Streaming(),
		HubActive: e.hub != nil && e.hub.Active(),
		GainDB:    e.gainDB,
		LastPoll:  e.lastPoll,
		Skipped:   e.skipped.Load(),
		Capture:   role(routing.Capture),
		Playback:  role(routing.Playback),
	}
}

// Entries returns the display list for a role.
func (e *Engine) Entries(role routing.Role) []routing.ListEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reconciler.Entries(role)
}

// Snapshot returns the last polled snapshot, or nil before the first poll.
func (e *Engine) Snapshot() *graph.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

func (e *Engine) setStatusLocked(text string) {
	if text != e.status {
		e.logger.Info(text)
	}
	e.status = text
}

func (e *Engine) recordAction(cycle string, a routing.RouteAction, err error) {
	op := string(a.Op)
	e.metrics.ObserveAction(op, err)

	kind := journal.KindLink
	evt := events.EventLinked
	if a.Op == routing.OpUnlink {
		kind = journal.KindUnlink
		evt = events.EventUnlinked
	}
	data := events.RouteData{Op: op, Source: string(a.SourceKey), Target: string(a.TargetKey)}
	if err != nil {
		evt = events.EventLinkFailed
		data.Error = err.Error()
		e.observeFailure(err)
		e.logger.Error("route action failed", "cycle", cycle, "op", op,
			"source", a.SourceKey, "target", a.TargetKey, "error", err)
	}
	e.events.Emit(evt, "engine", data)
	e.record(journal.Entry{
		Kind:    kind,
		Source:  string(a.SourceKey),
		Target:  string(a.TargetKey),
		OK:      err == nil,
		Error:   errString(err),
		Details: map[string]any{"cycle": cycle},
	})
}

func (e *Engine) record(entry journal.Entry) {
	if e.journal == nil {
		return
	}
	if err := e.journal.Write(entry); err != nil {
		e.logger.Warn("journal write failed", "kind", entry.Kind, "error", err)
	}
}

func (e *Engine) publishError(stage string, err error) {
	e.events.Emit(events.EventError, "engine", events.ErrorData{Stage: stage, Message: err.Error()})
}

// observeFailure counts every command failure wrapped in err.
func (e *Engine) observeFailure(err error) {
	var agg *link.AggregateError
	if errors.As(err, &agg) {
		for _, inner := range agg.Errs {
			e.observeFailure(inner)
		}
		return
	}
	var cmdErr *command.Error
	if !errors.As(err, &cmdErr) {
		return
	}
	tool := cmdErr.Cmd
	if i := strings.IndexByte(tool, ' '); i > 0 {
		tool = tool[:i]
	}
	e.metrics.CommandFailures.WithLabelValues(tool, failureKind(cmdErr)).Inc()
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, command.ErrNotFound):
		return "not_found"
	case errors.Is(err, command.ErrUnreachable):
		return "unreachable"
	default:
		return "failed"
	}
}

func newCycle() string {
	return uuid.NewString()[:8]
}

func toKeys(names []string) []graph.Key {
	keys := make([]graph.Key, 0, len(names))
	for _, n := range names {
		keys = append(keys, graph.Key(n))
	}
	return keys
}

func fromKeys(keys []graph.Key) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, string(k))
	}
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
