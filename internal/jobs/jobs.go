// Package jobs runs index-partitioned parallel-for work on a bounded number
// of goroutines and exposes combinable completion handles.
package jobs

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/pointaudio/pointaudio/internal/cpuspec"
	"github.com/pointaudio/pointaudio/internal/errors"
)

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Handle tracks completion of scheduled work. The zero Handle is complete.
type Handle struct {
	done <-chan struct{}
}

// Done returns a channel closed when the work has finished.
func (h Handle) Done() <-chan struct{} {
	if h.done == nil {
		return closedChan
	}
	return h.done
}

// Complete blocks until the work has finished.
func (h Handle) Complete() {
	<-h.Done()
}

// IsCompleted reports whether the work has finished without blocking.
func (h Handle) IsCompleted() bool {
	select {
	case <-h.Done():
		return true
	default:
		return false
	}
}

// Combine returns a handle that completes once every handle in hs has.
func Combine(hs ...Handle) Handle {
	pending := make([]Handle, 0, len(hs))
	for _, h := range hs {
		if !h.IsCompleted() {
			pending = append(pending, h)
		}
	}

	switch len(pending) {
	case 0:
		return Handle{}
	case 1:
		return pending[0]
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, h := range pending {
			h.Complete()
		}
	}()
	return Handle{done: done}
}

// PanicHandler is told about a recovered panic inside a job batch.
type PanicHandler func(job string, err error)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger used for recovered panics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithPanicHandler registers fn for recovered panics.
func WithPanicHandler(fn PanicHandler) Option {
	return func(s *Scheduler) { s.onPanic = fn }
}

// Scheduler executes parallel-for jobs.
type Scheduler struct {
	workers int
	logger  *slog.Logger
	onPanic PanicHandler
	running sync.WaitGroup
}

// NewScheduler creates a scheduler running at most workers batches at once.
// workers <= 0 uses the detected core count.
func NewScheduler(workers int, opts ...Option) *Scheduler {
	if workers <= 0 {
		workers = cpuspec.GetCPUSpec().GetOptimalThreadCount()
	}
	s := &Scheduler{
		workers: workers,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Workers returns the concurrency limit.
func (s *Scheduler) Workers() int {
	return s.workers
}

// ScheduleParallelFor calls fn for every index in [0, n) once dependsOn has
// completed. Indices are split into batches of batch; each batch runs
// sequentially on one goroutine. A panicking batch is recovered and logged,
// the remaining batches still run.
func (s *Scheduler) ScheduleParallelFor(name string, n, batch int, dependsOn Handle, fn func(i int)) Handle {
	if batch < 1 {
		batch = 1
	}

	done := make(chan struct{})
	s.running.Add(1)
	go func() {
		defer s.running.Done()
		defer close(done)

		dependsOn.Complete()
		if n <= 0 {
			return
		}

		var g errgroup.Group
		g.SetLimit(s.workers)
		for start := 0; start < n; start += batch {
			end := min(start+batch, n)
			g.Go(func() (err error) {
				defer func() {
					if r := recover(); r != nil {
						err = s.recovered(name, start, end, r)
					}
				}()
				for i := start; i < end; i++ {
					fn(i)
				}
				return nil
			})
		}
		// Batch errors are recovered panics, already reported.
		_ = g.Wait()
	}()

	return Handle{done: done}
}

// Run schedules a parallel-for and waits for it.
func (s *Scheduler) Run(name string, n, batch int, fn func(i int)) {
	s.ScheduleParallelFor(name, n, batch, Handle{}, fn).Complete()
}

// Wait blocks until every scheduled job has finished.
func (s *Scheduler) Wait() {
	s.running.Wait()
}

func (s *Scheduler) recovered(name string, start, end int, r any) error {
	err := errors.Newf("job %s batch [%d,%d) panicked: %v", name, start, end, r).
		Component("jobs").
		Category(errors.CategoryWorker).
		Context("job", name).
		Context("batch_start", start).
		Build()

	s.logger.Error("job batch panicked",
		"job", name,
		"batch_start", start,
		"batch_end", end,
		"panic", fmt.Sprint(r),
		"stack", string(debug.Stack()))

	if s.onPanic != nil {
		s.onPanic(name, err)
	}
	return err
}
