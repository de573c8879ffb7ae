// Package scheduler runs the daemon's periodic jobs: the routing poll and
// journal pruning.
//
// Each task runs on its own goroutine and never overlaps itself. Due times
// that pass while a run is still in flight are counted as missed.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"grimm.is/audiolink/internal/clock"
	"grimm.is/audiolink/internal/logging"
)

// ErrNotStarted is returned by Trigger before Start or after Stop.
var ErrNotStarted = errors.New("scheduler not started")

// TaskFunc does one run of a task. ctx ends on Stop or when the task's
// Timeout elapses.
type TaskFunc func(ctx context.Context) error

// Task is a named unit of periodic work.
type Task struct {
	ID          string
	Name        string
	Description string
	Schedule    Schedule
	Func        TaskFunc
	RunOnStart  bool
	Timeout     time.Duration
}

// Status is a point-in-time view of one task.
type Status struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Running      bool          `json:"running"`
	LastRun      time.Time     `json:"last_run,omitzero"`
	LastDuration time.Duration `json:"last_duration,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
	NextRun      time.Time     `json:"next_run,omitzero"`
	Runs         int64         `json:"runs"`
	Failures     int64         `json:"failures"`
	Missed       int64         `json:"missed"`
}

type job struct {
	task   *Task
	kick   chan struct{}
	status Status
}

// Scheduler owns a set of tasks and their goroutines.
type Scheduler struct {
	logger *slog.Logger

	mu     sync.Mutex
	jobs   map[string]*job
	ctx    context.Context // nil until Start
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns an idle scheduler.
func New(logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{
		logger: logger.WithComponent("scheduler").Logger,
		jobs:   make(map[string]*job),
	}
}

// AddTask registers a task. Tasks added after Start begin immediately.
func (s *Scheduler) AddTask(t *Task) error {
	switch {
	case t.ID == "":
		return errors.New("task ID is required")
	case t.Func == nil:
		return fmt.Errorf("task %s: function is required", t.ID)
	case t.Schedule == nil:
		return fmt.Errorf("task %s: schedule is required", t.ID)
	}
	now := clock.Now()
	if !t.Schedule.Next(now).After(now) {
		return fmt.Errorf("task %s: schedule never advances", t.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[t.ID]; dup {
		return fmt.Errorf("task %s already exists", t.ID)
	}
	j := &job{task: t, kick: make(chan struct{}, 1), status: Status{ID: t.ID, Name: t.Name}}
	s.jobs[t.ID] = j
	if s.ctx != nil {
		s.spawnLocked(j)
	}
	return nil
}

// Start launches every registered task. A second Start is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	for _, j := range s.jobs {
		s.spawnLocked(j)
	}
	s.logger.Info("scheduler started", "tasks", len(s.jobs))
}

// Stop cancels running tasks and waits for their goroutines to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.ctx == nil {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.ctx, s.cancel = nil, nil
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Trigger runs a task as soon as its current run, if any, finishes.
// Triggers that arrive while one is already pending are merged.
func (s *Scheduler) Trigger(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("task %s not found", id)
	}
	if s.ctx == nil {
		return ErrNotStarted
	}
	select {
	case j.kick <- struct{}{}:
	default:
	}
	return nil
}

// Status returns every task sorted by ID.
func (s *Scheduler) Status() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.status)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// TaskStatus returns one task's status.
func (s *Scheduler) TaskStatus(id string) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Status{}, false
	}
	return j.status, true
}

func (s *Scheduler) spawnLocked(j *job) {
	s.wg.Add(1)
	go s.loop(s.ctx, j)
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	defer s.wg.Done()

	if j.task.RunOnStart {
		s.execute(ctx, j)
	}
	for {
		next := j.task.Schedule.Next(clock.Now())
		s.mu.Lock()
		j.status.NextRun = next
		s.mu.Unlock()

		timer := time.NewTimer(next.Sub(clock.Now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-j.kick:
			timer.Stop()
		case <-timer.C:
		}
		s.execute(ctx, j)
	}
}

func (s *Scheduler) execute(parent context.Context, j *job) {
	if parent.Err() != nil {
		return
	}
	ctx, cancel := parent, context.CancelFunc(func() {})
	if j.task.Timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, j.task.Timeout)
	}
	defer cancel()

	s.mu.Lock()
	j.status.Running = true
	s.mu.Unlock()

	start := clock.Now()
	err := j.task.Func(ctx)
	end := clock.Now()

	missed := int64(0)
	for due := j.task.Schedule.Next(start); !due.After(end); due = j.task.Schedule.Next(due) {
		missed++
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st := &j.status
	st.Running = false
	st.LastRun = start
	st.LastDuration = end.Sub(start)
	st.Runs++
	st.Missed += missed
	st.LastError = ""
	if err != nil {
		st.Failures++
		st.LastError = err.Error()
		s.logger.Warn("task failed", "id", j.task.ID, "error", err, "duration", st.LastDuration)
	}
	if missed > 0 {
		s.logger.Debug("task overran its schedule", "id", j.task.ID, "missed", missed)
	}
}
