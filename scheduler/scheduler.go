// Package scheduler drives resumable computations in bounded slices so many
// of them can share a few goroutines.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spacemeshos/mbf/logging"
)

const (
	DefaultQuantum = 1 << 16

	rateUpdateInterval = 5 * time.Second
)

var (
	slicesCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_slices_total",
		Help: "Number of ComputeSteps calls issued by the scheduler",
	})
	slicesPerSecond = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_slices_per_second",
		Help: "ComputeSteps calls issued per second by the most recently reporting worker",
	})
	activeTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_active_tasks",
		Help: "Number of tasks not yet finished",
	})
)

var ErrNoWorkers = errors.New("scheduler needs at least one worker")

// Task is a computation that advances by at most n units of work per call
// and reports whether more remain.
type Task interface {
	ComputeSteps(n int) (bool, error)
}

// Drive runs task to completion, quantum units at a time, checking ctx
// between calls.
func Drive(ctx context.Context, task Task, quantum int) error {
	if quantum <= 0 {
		quantum = DefaultQuantum
	}
	logger := logging.FromContext(ctx)
	lastReport := time.Now()
	var calls, lastCalls uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		more, err := task.ComputeSteps(quantum)
		calls++
		slicesCounter.Inc()
		if err != nil {
			return err
		}
		if !more {
			logger.Debug("task finished", zap.Uint64("calls", calls))
			return nil
		}
		if now := time.Now(); now.Sub(lastReport) >= rateUpdateInterval {
			rate := float64(calls-lastCalls) / now.Sub(lastReport).Seconds()
			logger.Debug("task progress", zap.Float64("calls_per_second", rate), zap.Uint64("calls", calls))
			slicesPerSecond.Set(rate)
			lastReport, lastCalls = now, calls
		}
	}
}

type entry struct {
	id   uuid.UUID
	task Task
}

// Scheduler interleaves many tasks over a fixed number of workers. Each
// task is owned by exactly one worker, which round-robins over its tasks.
type Scheduler struct {
	workers int
	quantum int

	mu    sync.Mutex
	tasks []entry
}

func New(workers, quantum int) (*Scheduler, error) {
	if workers <= 0 {
		return nil, ErrNoWorkers
	}
	if quantum <= 0 {
		quantum = DefaultQuantum
	}
	return &Scheduler{workers: workers, quantum: quantum}, nil
}

// Add queues task for the next Run and returns the identifier it is logged under.
func (s *Scheduler) Add(task Task) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.tasks = append(s.tasks, entry{id: id, task: task})
	return id
}

// Run drives every queued task to completion. The first task error cancels
// the remaining work and is returned.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = nil
	s.mu.Unlock()

	workers := s.workers
	if len(tasks) < workers {
		workers = len(tasks)
	}
	parts := make([][]entry, workers)
	for i, t := range tasks {
		parts[i%workers] = append(parts[i%workers], t)
	}

	logger := logging.FromContext(ctx)
	logger.Info("running tasks", zap.Int("tasks", len(tasks)), zap.Int("workers", workers))
	activeTasks.Add(float64(len(tasks)))

	eg, ctx := errgroup.WithContext(ctx)
	for i, part := range parts {
		part := part
		workerLogger := logger.With(zap.Int("worker", i))
		eg.Go(func() error {
			return s.work(logging.NewContext(ctx, workerLogger), part)
		})
	}
	return eg.Wait()
}

func (s *Scheduler) work(ctx context.Context, tasks []entry) error {
	logger := logging.FromContext(ctx)
	defer func() {
		activeTasks.Sub(float64(len(tasks)))
	}()

	for len(tasks) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		pending := tasks[:0]
		for _, t := range tasks {
			more, err := t.task.ComputeSteps(s.quantum)
			slicesCounter.Inc()
			if err != nil {
				return fmt.Errorf("task %s: %w", t.id, err)
			}
			if more {
				pending = append(pending, t)
				continue
			}
			activeTasks.Dec()
			logger.Debug("task finished", zap.Stringer("task", t.id))
		}
		tasks = pending
	}
	return nil
}
