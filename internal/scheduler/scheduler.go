package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/septivank/ven-fleet-simulator/internal/logging"
	"go.uber.org/zap"
)

// TaskFunc is one run of a periodic task
type TaskFunc func(ctx context.Context) error

type task struct {
	name     string
	interval time.Duration
	fn       TaskFunc
}

// Scheduler runs named tasks on fixed intervals. Each task runs once at
// start, then on every tick. A run never overlaps the previous run of the
// same task; ticks that arrive while it is busy are dropped.
type Scheduler struct {
	logger *zap.Logger

	mu      sync.Mutex
	tasks   []task
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New creates an empty scheduler
func New(logger *zap.Logger) *Scheduler {
	return &Scheduler{logger: logger}
}

// Add registers a task. Tasks must be added before Start.
func (s *Scheduler) Add(name string, interval time.Duration, fn TaskFunc) error {
	if interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("task %s: scheduler already started", name)
	}
	s.tasks = append(s.tasks, task{name: name, interval: interval, fn: fn})
	return nil
}

// Start launches one goroutine per task
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.loop(ctx, t)
	}
	s.logger.Info("scheduler started", zap.Int("tasks", len(s.tasks)))
}

// Stop cancels all tasks and waits for running ones to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, t task) {
	defer s.wg.Done()

	taskLogger := logging.WithTask(s.logger, t.name)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	s.run(ctx, t, taskLogger)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.run(ctx, t, taskLogger)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, t task, taskLogger *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			taskLogger.Error("task panicked", zap.Any("panic", r))
		}
	}()

	started := time.Now()
	if err := t.fn(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		taskLogger.Error("task failed", zap.Error(err), zap.Duration("elapsed", time.Since(started)))
		return
	}
	taskLogger.Debug("task completed", zap.Duration("elapsed", time.Since(started)))
}
