// Package scheduler runs periodic maintenance tasks such as token
// cleanup. A Scheduler owns its tasks: they are registered before Start
// and stopped together by Stop. A failing or panicking task is logged
// and retried on its next tick; it never stops the scheduler.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrStarted is returned by Register and Start after Start.
	ErrStarted = errors.New("scheduler: already started")
	// ErrUnknownTask is returned by RunOnce for unregistered names.
	ErrUnknownTask = errors.New("scheduler: unknown task")
)

// Task is one periodic job.
type Task struct {
	Name     string
	Interval time.Duration
	// Timeout bounds one run. Zero means Interval.
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Stats describes the history of one task.
type Stats struct {
	Runs      uint64
	Failures  uint64
	LastRun   time.Time
	LastError string
}

// ErrorHook receives every task failure, including recovered panics.
type ErrorHook func(task string, err error)

// Scheduler runs registered tasks on independent tickers.
type Scheduler struct {
	logger *slog.Logger
	hook   ErrorHook

	mu      sync.Mutex
	tasks   map[string]Task
	order   []string
	stats   map[string]*Stats
	started bool
	stopped bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an empty Scheduler. A nil logger uses slog.Default.
func New(logger *slog.Logger, hook ErrorHook) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger: logger,
		hook:   hook,
		tasks:  make(map[string]Task),
		stats:  make(map[string]*Stats),
	}
}

// Register adds a task. Names must be unique.
func (s *Scheduler) Register(t Task) error {
	if t.Name == "" || t.Run == nil {
		return errors.New("scheduler: task needs a name and a run function")
	}
	if t.Interval <= 0 {
		return fmt.Errorf("scheduler: task %q needs a positive interval", t.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrStarted
	}
	if _, dup := s.tasks[t.Name]; dup {
		return fmt.Errorf("scheduler: duplicate task %q", t.Name)
	}
	s.tasks[t.Name] = t
	s.order = append(s.order, t.Name)
	s.stats[t.Name] = &Stats{}
	return nil
}

// Start launches one goroutine per task. Tasks first run one interval
// after Start.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrStarted
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	for _, name := range s.order {
		t := s.tasks[name]
		s.wg.Add(1)
		go s.loop(ctx, t)
	}
	s.logger.Info("scheduler started", slog.Int("tasks", len(s.order)))
	return nil
}

// Stop cancels running tasks and waits for them to return. Safe to call
// more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// RunOnce runs the named task immediately in the caller's goroutine.
func (s *Scheduler) RunOnce(ctx context.Context, name string) error {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return s.run(ctx, t)
}

// RunAll runs every task once, in registration order, and joins errors.
func (s *Scheduler) RunAll(ctx context.Context) error {
	s.mu.Lock()
	names := append([]string(nil), s.order...)
	s.mu.Unlock()

	var errs []error
	for _, name := range names {
		if err := s.RunOnce(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats returns a copy of the per-task history.
func (s *Scheduler) Stats() map[string]Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Stats, len(s.stats))
	for name, st := range s.stats {
		out[name] = *st
	}
	return out
}

func (s *Scheduler) loop(ctx context.Context, t Task) {
	defer s.wg.Done()

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.run(ctx, t)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, t Task) (err error) {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = t.Interval
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler: task %q panicked: %v", t.Name, r)
		}
		s.record(t.Name, start, err)
	}()

	return t.Run(runCtx)
}

func (s *Scheduler) record(name string, start time.Time, err error) {
	s.mu.Lock()
	st := s.stats[name]
	st.Runs++
	st.LastRun = start
	if err != nil {
		st.Failures++
		st.LastError = err.Error()
	} else {
		st.LastError = ""
	}
	s.mu.Unlock()

	if err == nil {
		s.logger.Debug("task finished", slog.String("task", name), slog.Duration("took", time.Since(start)))
		return
	}
	s.logger.Error("task failed", slog.String("task", name), slog.Any("error", err))
	if s.hook != nil {
		s.hook(name, err)
	}
}
