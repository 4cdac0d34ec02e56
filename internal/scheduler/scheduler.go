// Package scheduler runs the broker's periodic maintenance jobs.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"grimm.is/foldwatch/internal/clock"
	"grimm.is/foldwatch/internal/logging"
)

// TaskFunc is a function that performs a scheduled task.
// It receives a context that will be cancelled if the scheduler stops.
type TaskFunc func(ctx context.Context) error

// Schedule defines when a task should run.
type Schedule interface {
	// Next returns the next time the task should run after the given time.
	Next(after time.Time) time.Time
}

// Task represents a scheduled task.
type Task struct {
	ID          string
	Name        string
	Description string
	Schedule    Schedule
	Func        TaskFunc
	Enabled     bool
	RunOnStart  bool // Run immediately when scheduler starts
	Timeout     time.Duration
}

// TaskStatus represents the current status of a task.
type TaskStatus struct {
	ID           string        `json:"id" yaml:"id"`
	Name         string        `json:"name" yaml:"name"`
	Description  string        `json:"description" yaml:"description"`
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	Running      bool          `json:"running" yaml:"running"`
	LastRun      time.Time     `json:"last_run,omitempty" yaml:"last_run,omitempty"`
	LastDuration time.Duration `json:"last_duration,omitempty" yaml:"last_duration,omitempty"`
	LastError    string        `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	NextRun      time.Time     `json:"next_run,omitempty" yaml:"next_run,omitempty"`
	RunCount     int64         `json:"run_count" yaml:"run_count"`
	ErrorCount   int64         `json:"error_count" yaml:"error_count"`
}

// DefaultTick is how often the scheduler looks for due tasks.
const DefaultTick = time.Second

// Options configures a Scheduler.
type Options struct {
	Clock  clock.Clock
	Logger *logging.Logger
	Tick   time.Duration // zero means DefaultTick
}

// Scheduler manages and runs scheduled tasks.
type Scheduler struct {
	tasks   map[string]*taskEntry
	mu      sync.RWMutex
	clock   clock.Clock
	logger  *logging.Logger
	tick    time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

type taskEntry struct {
	task       *Task
	status     TaskStatus
	nextRun    time.Time
	cancelFunc context.CancelFunc
}

// New creates a new scheduler.
func New(opts Options) *Scheduler {
	s := &Scheduler{
		tasks:  make(map[string]*taskEntry),
		clock:  opts.Clock,
		logger: logging.OrDefault(opts.Logger, "scheduler"),
		tick:   opts.Tick,
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.tick <= 0 {
		s.tick = DefaultTick
	}
	return s
}

// AddTask adds a task to the scheduler.
func (s *Scheduler) AddTask(task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.ID == "" {
		return fmt.Errorf("task ID is required")
	}
	if task.Schedule == nil {
		return fmt.Errorf("task schedule is required")
	}
	if task.Func == nil {
		return fmt.Errorf("task function is required")
	}
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already exists", task.ID)
	}

	entry := &taskEntry{
		task: task,
		status: TaskStatus{
			ID:          task.ID,
			Name:        task.Name,
			Description: task.Description,
			Enabled:     task.Enabled,
		},
	}
	if task.Enabled {
		entry.nextRun = task.Schedule.Next(s.clock.Now())
		entry.status.NextRun = entry.nextRun
	}

	s.tasks[task.ID] = entry
	s.logger.Debug("task added", "id", task.ID, "next_run", entry.nextRun)
	return nil
}

// RemoveTask removes a task from the scheduler, cancelling it if running.
func (s *Scheduler) RemoveTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.tasks[id]
	if !exists {
		return fmt.Errorf("task %s not found", id)
	}
	if entry.cancelFunc != nil {
		entry.cancelFunc()
	}
	delete(s.tasks, id)
	return nil
}

// EnableTask enables or disables a task.
func (s *Scheduler) EnableTask(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.tasks[id]
	if !exists {
		return fmt.Errorf("task %s not found", id)
	}

	entry.task.Enabled = enabled
	entry.status.Enabled = enabled
	if enabled {
		entry.nextRun = entry.task.Schedule.Next(s.clock.Now())
	} else {
		entry.nextRun = time.Time{}
	}
	entry.status.NextRun = entry.nextRun
	return nil
}

// RunTask runs a task immediately, regardless of schedule. The scheduler
// must be started.
func (s *Scheduler) RunTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.tasks[id]
	if !exists {
		return fmt.Errorf("task %s not found", id)
	}
	if !s.running {
		return fmt.Errorf("scheduler not running")
	}
	s.launchLocked(entry)
	return nil
}

// GetStatus returns the status of all tasks sorted by name.
func (s *Scheduler) GetStatus() []TaskStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make([]TaskStatus, 0, len(s.tasks))
	for _, entry := range s.tasks {
		statuses = append(statuses, entry.status)
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Name < statuses[j].Name
	})
	return statuses
}

// GetTaskStatus returns the status of a specific task.
func (s *Scheduler) GetTaskStatus(id string) (TaskStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.tasks[id]
	if !exists {
		return TaskStatus{}, false
	}
	return entry.status, true
}

// Start starts the scheduler. Tasks run until Stop is called or ctx is
// cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	for _, entry := range s.tasks {
		if entry.task.Enabled && entry.task.RunOnStart {
			s.launchLocked(entry)
		}
	}

	s.wg.Add(1)
	go s.run()
	s.logger.Info("scheduler started", "tasks", len(s.tasks))
}

// Stop stops the scheduler and waits for running tasks to complete.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// run is the main scheduler loop.
func (s *Scheduler) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-s.clock.After(s.tick):
			s.checkAndRunTasks(now)
		}
	}
}

// checkAndRunTasks launches every enabled task that is due and not already
// running.
func (s *Scheduler) checkAndRunTasks(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range s.tasks {
		if !entry.task.Enabled || entry.nextRun.IsZero() {
			continue
		}
		if !now.Before(entry.nextRun) {
			s.launchLocked(entry)
		}
	}
}

// launchLocked starts entry in its own goroutine. s.mu must be held.
func (s *Scheduler) launchLocked(entry *taskEntry) {
	if entry.status.Running {
		return
	}
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if entry.task.Timeout > 0 {
		ctx, cancel = context.WithTimeout(s.ctx, entry.task.Timeout)
	} else {
		ctx, cancel = context.WithCancel(s.ctx)
	}
	entry.cancelFunc = cancel
	entry.status.Running = true

	s.wg.Add(1)
	go s.executeTask(ctx, entry)
}

// executeTask runs a single task.
func (s *Scheduler) executeTask(ctx context.Context, entry *taskEntry) {
	defer s.wg.Done()

	task := entry.task
	s.logger.Debug("executing task", "id", task.ID)

	start := s.clock.Now()
	err := task.Func(ctx)
	duration := s.clock.Since(start)

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.cancelFunc != nil {
		entry.cancelFunc()
		entry.cancelFunc = nil
	}
	entry.status.Running = false
	entry.status.LastRun = start
	entry.status.LastDuration = duration
	entry.status.RunCount++
	if err != nil {
		entry.status.LastError = err.Error()
		entry.status.ErrorCount++
		s.logger.Warn("task failed", "id", task.ID, "error", err, "duration", duration)
	} else {
		entry.status.LastError = ""
		s.logger.Debug("task completed", "id", task.ID, "duration", duration)
	}

	if task.Enabled {
		entry.nextRun = task.Schedule.Next(s.clock.Now())
		entry.status.NextRun = entry.nextRun
	}
}
