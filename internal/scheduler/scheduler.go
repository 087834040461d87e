// Package scheduler owns every periodic task in the engine: retry
// release, rebalancing, rollout refresh and rollback checks,
// reclassification sweeps and rate-window rollover. Centralizing the
// timers here keeps the rest of the engine event-driven.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is one periodic unit of work. Run errors are logged, never fatal;
// the next tick tries again.
type Task struct {
	// Name appears in logs.
	Name string
	// Interval between runs. Tasks with a non-positive interval are
	// skipped entirely.
	Interval time.Duration
	// Run performs one pass.
	Run func(ctx context.Context) error
}

// Scheduler drives a set of tasks, each on its own ticker and each
// independently cancellable through the shared context.
type Scheduler struct {
	tasks  []Task
	logger *zap.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New constructs a Scheduler over the given tasks.
func New(logger *zap.Logger, tasks ...Task) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		tasks:   tasks,
		logger:  logger,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Run starts every task loop and blocks until the context finishes and
// all loops have drained.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, task := range s.tasks {
		if task.Interval <= 0 || task.Run == nil {
			s.logger.Info("scheduler task disabled", zap.String("task", task.Name))
			continue
		}
		taskCtx, cancel := context.WithCancel(ctx)
		s.mu.Lock()
		s.cancels[task.Name] = cancel
		s.mu.Unlock()

		wg.Add(1)
		go func(t Task, tctx context.Context) {
			defer wg.Done()
			s.loop(tctx, t)
		}(task, taskCtx)
	}
	<-ctx.Done()
	wg.Wait()
}

// Stop cancels a single task by name, leaving the rest running.
func (s *Scheduler) Stop(name string) {
	s.mu.Lock()
	cancel, ok := s.cancels[name]
	delete(s.cancels, name)
	s.mu.Unlock()
	if ok {
		cancel()
		s.logger.Info("scheduler task stopped", zap.String("task", name))
	}
}

func (s *Scheduler) loop(ctx context.Context, task Task) {
	logger := s.logger.With(zap.String("task", task.Name))
	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()
	logger.Info("scheduler task started", zap.Duration("interval", task.Interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			if err := task.Run(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("scheduler task run failed", zap.Error(err))
				continue
			}
			logger.Debug("scheduler task run finished", zap.Duration("elapsed", time.Since(start)))
		}
	}
}
