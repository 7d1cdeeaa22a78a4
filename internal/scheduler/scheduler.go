// Package scheduler drives poll cycles on a fixed interval. At most one cycle
// runs at a time, whether it was started by the timer or on request.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job runs one cycle. ctx is canceled when the scheduler stops.
type Job func(ctx context.Context)

// Scheduler runs Job every interval.
type Scheduler struct {
	job        Job
	logger     *zap.Logger
	runOnStart bool

	mu       sync.Mutex
	cron     *cron.Cron
	chain    cron.Chain
	entry    cron.EntryID
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup

	running atomic.Bool
	runs    atomic.Int64
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithRunOnStart runs one cycle immediately when Start is called.
func WithRunOnStart(enabled bool) Option {
	return func(s *Scheduler) {
		s.runOnStart = enabled
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a stopped Scheduler.
func New(job Job, interval time.Duration, opts ...Option) (*Scheduler, error) {
	if job == nil {
		return nil, errors.New("job is required")
	}
	if interval < time.Second {
		return nil, fmt.Errorf("interval must be at least 1s, got %s", interval)
	}
	s := &Scheduler{
		job:      job,
		interval: interval,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	cl := cronLogger{s.logger.Sugar()}
	s.chain = cron.NewChain(cron.Recover(cl))
	s.cron = cron.New(cron.WithLogger(cl))
	return s, nil
}

// Start schedules the job and returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()
		return errors.New("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.entry = s.cron.Schedule(cron.Every(s.interval), s.chain.Then(cron.FuncJob(s.tick)))
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started",
		zap.Duration("interval", s.interval),
		zap.Bool("run_on_start", s.runOnStart),
	)
	if s.runOnStart {
		s.Trigger()
	}
	return nil
}

// Trigger starts a cycle in the background. It returns false when a cycle is
// already running or the scheduler is not started.
func (s *Scheduler) Trigger() bool {
	s.mu.Lock()
	started := s.ctx != nil && s.ctx.Err() == nil
	s.mu.Unlock()
	if !started || !s.running.CompareAndSwap(false, true) {
		return false
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.chain.Then(cron.FuncJob(s.run)).Run()
	}()
	return true
}

// SetInterval reschedules the job. The change applies from the next tick.
func (s *Scheduler) SetInterval(interval time.Duration) error {
	if interval < time.Second {
		return fmt.Errorf("interval must be at least 1s, got %s", interval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if interval == s.interval {
		return nil
	}
	s.interval = interval
	if s.ctx == nil {
		return nil
	}
	s.cron.Remove(s.entry)
	s.entry = s.cron.Schedule(cron.Every(interval), s.chain.Then(cron.FuncJob(s.tick)))
	s.logger.Info("poll interval updated", zap.Duration("interval", interval))
	return nil
}

// Interval returns the current interval.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Runs returns how many cycles have completed.
func (s *Scheduler) Runs() int64 {
	return s.runs.Load()
}

// Stop cancels the in-flight cycle and waits for it to return or for ctx to
// expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	cronDone := s.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("scheduler stopped", zap.Int64("runs", s.runs.Load()))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

func (s *Scheduler) tick() {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("previous poll cycle still running, skipping")
		return
	}
	s.run()
}

// run executes one cycle. The caller must already hold the running flag.
func (s *Scheduler) run() {
	defer s.running.Store(false)

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	s.job(ctx)
	s.runs.Add(1)
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
