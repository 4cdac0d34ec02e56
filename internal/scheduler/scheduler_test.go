package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"grimm.is/foldwatch/internal/clock"
)

var epoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

// futureSchedule returns time + 1 hour
type futureSchedule struct{}

func (s futureSchedule) Next(t time.Time) time.Time {
	return t.Add(time.Hour)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestScheduler_CRUD(t *testing.T) {
	s := New(Options{Clock: clock.NewMockClock(epoch)})

	task := &Task{
		ID:       "test-1",
		Name:     "Test Task",
		Enabled:  true,
		Schedule: futureSchedule{},
		Func: func(ctx context.Context) error {
			return nil
		},
	}

	if err := s.AddTask(task); err != nil {
		t.Fatalf("AddTask failed: %v", err)
	}
	stat, exists := s.GetTaskStatus("test-1")
	if !exists {
		t.Fatal("Task not found after add")
	}
	if !stat.NextRun.Equal(epoch.Add(time.Hour)) {
		t.Errorf("Expected next run %v, got %v", epoch.Add(time.Hour), stat.NextRun)
	}

	if err := s.AddTask(task); err == nil {
		t.Error("Expected error adding duplicate task")
	}
	if err := s.AddTask(&Task{ID: "no-func", Schedule: futureSchedule{}}); err == nil {
		t.Error("Expected error adding task without function")
	}

	if err := s.EnableTask("test-1", false); err != nil {
		t.Errorf("Disable failed: %v", err)
	}
	stat, _ = s.GetTaskStatus("test-1")
	if stat.Enabled || !stat.NextRun.IsZero() {
		t.Error("Task should be disabled with no next run")
	}

	if err := s.EnableTask("test-1", true); err != nil {
		t.Errorf("Enable failed: %v", err)
	}
	stat, _ = s.GetTaskStatus("test-1")
	if !stat.Enabled {
		t.Error("Task should be enabled")
	}

	if all := s.GetStatus(); len(all) != 1 {
		t.Errorf("Expected 1 task status, got %d", len(all))
	}

	if err := s.RemoveTask("test-1"); err != nil {
		t.Errorf("RemoveTask failed: %v", err)
	}
	if _, exists := s.GetTaskStatus("test-1"); exists {
		t.Error("Task should be gone after remove")
	}
	if err := s.RemoveTask("test-1"); err == nil {
		t.Error("Expected error removing unknown task")
	}
}

func TestScheduler_RunsDueTasks(t *testing.T) {
	clk := clock.NewMockClock(epoch)
	s := New(Options{Clock: clk, Tick: time.Second})

	var runs atomic.Int32
	s.AddTask(&Task{
		ID:       "probe",
		Name:     "Probe",
		Enabled:  true,
		Schedule: Every(10 * time.Second),
		Func: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	s.Start(context.Background())
	defer s.Stop()
	if !s.IsRunning() {
		t.Error("Scheduler should be running")
	}

	clk.WaitForTimers(1)
	clk.Advance(5 * time.Second)
	clk.WaitForTimers(1)
	if runs.Load() != 0 {
		t.Fatal("Task ran before it was due")
	}

	clk.Advance(5 * time.Second)
	waitFor(t, func() bool {
		st, _ := s.GetTaskStatus("probe")
		return st.RunCount == 1 && !st.Running
	})

	st, _ := s.GetTaskStatus("probe")
	if !st.LastRun.Equal(epoch.Add(10 * time.Second)) {
		t.Errorf("Unexpected last run %v", st.LastRun)
	}
	if !st.NextRun.Equal(epoch.Add(20 * time.Second)) {
		t.Errorf("Unexpected next run %v", st.NextRun)
	}
}

func TestScheduler_RecordsErrors(t *testing.T) {
	s := New(Options{})
	s.AddTask(&Task{
		ID:       "fails",
		Name:     "Fails",
		Schedule: futureSchedule{},
		Func: func(ctx context.Context) error {
			return errors.New("daemon unreachable")
		},
	})

	if err := s.RunTask("fails"); err == nil {
		t.Error("Expected error running task before Start")
	}

	s.Start(context.Background())
	defer s.Stop()
	if err := s.RunTask("fails"); err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}

	waitFor(t, func() bool {
		st, _ := s.GetTaskStatus("fails")
		return st.ErrorCount == 1
	})
	st, _ := s.GetTaskStatus("fails")
	if st.LastError != "daemon unreachable" {
		t.Errorf("Unexpected last error %q", st.LastError)
	}
}

func TestScheduler_NoOverlappingRuns(t *testing.T) {
	s := New(Options{})
	release := make(chan struct{})
	var runs atomic.Int32
	s.AddTask(&Task{
		ID:       "slow",
		Name:     "Slow",
		Schedule: futureSchedule{},
		Func: func(ctx context.Context) error {
			runs.Add(1)
			<-release
			return nil
		},
	})

	s.Start(context.Background())
	defer s.Stop()

	s.RunTask("slow")
	s.RunTask("slow")
	close(release)

	waitFor(t, func() bool {
		st, _ := s.GetTaskStatus("slow")
		return st.RunCount == 1 && !st.Running
	})
	if runs.Load() != 1 {
		t.Errorf("Expected one run, got %d", runs.Load())
	}
}

func TestScheduler_RunOnStartAndStop(t *testing.T) {
	s := New(Options{})

	started := make(chan struct{})
	s.AddTask(&Task{
		ID:         "start-run",
		Name:       "Start Run",
		Enabled:    true,
		RunOnStart: true,
		Schedule:   futureSchedule{},
		Func: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	})

	s.Start(context.Background())
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("Task with RunOnStart did not run on start")
	}

	// Stop cancels the running task and waits for it.
	s.Stop()
	if s.IsRunning() {
		t.Error("Scheduler should be stopped")
	}
	st, _ := s.GetTaskStatus("start-run")
	if st.Running || st.ErrorCount != 1 {
		t.Errorf("Expected a finished, cancelled run, got %+v", st)
	}
}
