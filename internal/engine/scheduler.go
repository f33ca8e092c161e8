package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task is one unit of periodic work. It must return quickly.
type Task func(ctx context.Context)

// Scheduler runs tasks at a fixed interval until stopped.
type Scheduler interface {
	// Every schedules task every interval. The returned stop func halts future
	// runs and is safe to call more than once; a run already in progress completes.
	Every(ctx context.Context, name string, interval time.Duration, task Task) (stop func())
}

// TickerScheduler drives tasks from time.Ticker, one goroutine per task.
type TickerScheduler struct {
	wg sync.WaitGroup
}

// NewTickerScheduler creates a wall-clock scheduler.
func NewTickerScheduler() *TickerScheduler {
	return &TickerScheduler{}
}

func (s *TickerScheduler) Every(ctx context.Context, name string, interval time.Duration, task Task) func() {
	ctx, cancel := context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		slog.Debug("scheduled task started", slog.String("task", name), slog.Duration("interval", interval))
		for {
			select {
			case <-ctx.Done():
				slog.Debug("scheduled task stopped", slog.String("task", name))
				return
			case <-ticker.C:
				runTask(ctx, name, task)
			}
		}
	}()

	return cancel
}

// Wait blocks until every task goroutine has exited.
func (s *TickerScheduler) Wait() {
	s.wg.Wait()
}

// runTask isolates a panicking task so one bad run does not kill the loop.
func runTask(ctx context.Context, name string, task Task) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("TASK_PANIC_RECOVERED", slog.String("task", name), slog.Any("panic", r))
		}
	}()
	task(ctx)
}

// ManualScheduler runs tasks only when Advance is called. Tests use it to
// drive ticks and polls synchronously.
type ManualScheduler struct {
	mu     sync.Mutex
	nextID int
	tasks  []*manualTask
}

type manualTask struct {
	id       int
	name     string
	interval time.Duration
	elapsed  time.Duration
	ctx      context.Context
	task     Task
}

// NewManualScheduler creates an idle manual scheduler.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

func (s *ManualScheduler) Every(ctx context.Context, name string, interval time.Duration, task Task) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.tasks = append(s.tasks, &manualTask{id: id, name: name, interval: interval, ctx: ctx, task: task})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, t := range s.tasks {
			if t.id == id {
				s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
				return
			}
		}
	}
}

// Advance moves the clock by d and runs every task whose interval elapsed,
// in scheduling order. A task due several times runs several times.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	var due []*manualTask
	for _, t := range s.tasks {
		if t.interval <= 0 {
			continue
		}
		t.elapsed += d
		for t.elapsed >= t.interval {
			t.elapsed -= t.interval
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	// Run outside the lock so a task may stop itself or schedule another.
	for _, t := range due {
		if t.ctx.Err() != nil {
			continue
		}
		runTask(t.ctx, t.name, t.task)
	}
}

// Len returns the number of scheduled tasks.
func (s *ManualScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}
