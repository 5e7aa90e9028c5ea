// Package scheduler runs named background jobs, each on its own goroutine,
// with a cooperative start/stop lifecycle.
//
// Device polling, detection intake and journal flushing run as tasks so the
// control loop never blocks on them. Stopping a task is a request: the loop
// observes the signal at its next iteration boundary.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/kinetic/internal/monitoring"
	"github.com/banshee-data/kinetic/internal/timeutil"
)

var logf = monitoring.Tagged("scheduler")

// ErrNoLoop is returned when a task is registered without a loop function.
var ErrNoLoop = errors.New("task loop function is required")

// TaskConfig describes a background job.
type TaskConfig struct {
	// Name identifies the task within a Scheduler.
	Name string
	// Init is optional and runs once at the start of every run. A non-nil
	// error aborts the run (Cleanup still runs).
	Init func() error
	// Loop is called repeatedly until it returns false or the task is
	// stopped. The context is cancelled when Stop is called.
	Loop func(ctx context.Context) bool
	// Cleanup is optional and runs once at the end of every run.
	Cleanup func()
	// Interval is the pause between Loop calls. Zero runs back to back.
	Interval time.Duration
}

// Task is a single background job. A Task can be started and stopped any
// number of times.
type Task struct {
	cfg   TaskConfig
	clock timeutil.Clock

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	runs    int
}

// Name returns the task name.
func (t *Task) Name() string { return t.cfg.Name }

// Start spawns the task goroutine. Starting a running task logs and returns
// false without spawning a second goroutine.
func (t *Task) Start() bool {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		logf("task %q already running", t.cfg.Name)
		return false
	}
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	t.running = true
	t.stopCh = stopCh
	t.doneCh = doneCh
	t.runs++
	t.mu.Unlock()

	go t.run(stopCh, doneCh)
	return true
}

// Stop signals the task to stop and clears the running flag. It does not
// wait for the goroutine to exit; use Wait for that. Returns false if the
// task was not running.
func (t *Task) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return false
	}
	close(t.stopCh)
	t.running = false
	return true
}

// Running reports whether the task is currently running.
func (t *Task) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Runs returns how many times the task has been started.
func (t *Task) Runs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs
}

// Wait blocks until the most recent run has exited or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	t.mu.Lock()
	doneCh := t.doneCh
	t.mu.Unlock()
	if doneCh == nil {
		return nil
	}
	select {
	case <-doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Task) run(stopCh, doneCh chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	defer func() {
		cancel()
		if t.cfg.Cleanup != nil {
			t.cfg.Cleanup()
		}
		t.mu.Lock()
		// a Stop followed by a fresh Start owns the flag now
		if t.stopCh == stopCh {
			t.running = false
		}
		t.mu.Unlock()
		close(doneCh)
	}()

	if t.cfg.Init != nil {
		if err := t.cfg.Init(); err != nil {
			logf("task %q init failed: %v", t.cfg.Name, err)
			return
		}
	}

	var tick <-chan time.Time
	if t.cfg.Interval > 0 {
		ticker := t.clock.NewTicker(t.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C()
	}

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		if !t.cfg.Loop(ctx) {
			return
		}

		if tick != nil {
			select {
			case <-stopCh:
				return
			case <-tick:
			}
		}
	}
}

// TaskInfo is a read-only view of a registered task.
type TaskInfo struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
	Runs    int    `json:"runs"`
}

// Scheduler owns a set of named tasks.
type Scheduler struct {
	clock timeutil.Clock

	mu    sync.Mutex
	tasks map[string]*Task
}

// New creates a Scheduler. A nil clock uses the real clock.
func New(clock timeutil.Clock) *Scheduler {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Scheduler{
		clock: clock,
		tasks: make(map[string]*Task),
	}
}

// AddTask registers a task. Re-adding an existing name returns the existing
// task unchanged.
func (s *Scheduler) AddTask(cfg TaskConfig) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tasks[cfg.Name]; ok {
		return t, nil
	}
	if cfg.Loop == nil {
		return nil, fmt.Errorf("add task %q: %w", cfg.Name, ErrNoLoop)
	}
	t := &Task{cfg: cfg, clock: s.clock}
	s.tasks[cfg.Name] = t
	return t, nil
}

// Task returns the named task.
func (s *Scheduler) Task(name string) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[name]
	return t, ok
}

// Tasks lists registered tasks sorted by name.
func (s *Scheduler) Tasks() []TaskInfo {
	s.mu.Lock()
	tasks := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	infos := make([]TaskInfo, 0, len(tasks))
	for _, t := range tasks {
		infos = append(infos, TaskInfo{Name: t.Name(), Running: t.Running(), Runs: t.Runs()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// StartAll starts every registered task that is not already running.
func (s *Scheduler) StartAll() {
	for _, info := range s.Tasks() {
		if t, ok := s.Task(info.Name); ok && !info.Running {
			t.Start()
		}
	}
}

// StopAll signals every task to stop and waits for them to exit or for ctx
// to be done.
func (s *Scheduler) StopAll(ctx context.Context) error {
	s.mu.Lock()
	tasks := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	for _, t := range tasks {
		t.Stop()
	}
	for _, t := range tasks {
		if err := t.Wait(ctx); err != nil {
			return fmt.Errorf("waiting for task %q: %w", t.Name(), err)
		}
	}
	return nil
}
