// Package scheduler triggers indexing passes on a fixed interval and makes
// sure at most one pass is in flight.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hashgraph-online/hcs-improvement-proposals-sub004/internal/indexer"
	"github.com/hashgraph-online/hcs-improvement-proposals-sub004/internal/metrics"
)

// ErrBusy is returned by RunOnce when another pass is in flight.
var ErrBusy = errors.New("a pass is already running")

// Runner executes one pass.
type Runner interface {
	Run(ctx context.Context) (indexer.Summary, error)
}

// Status is a snapshot of the scheduler for health reporting.
type Status struct {
	Running    bool      `json:"running"`
	Passes     int       `json:"passes"`
	Failures   int       `json:"failures"`
	Skipped    int       `json:"overlapping_triggers"`
	LastStart  time.Time `json:"last_start,omitempty"`
	LastFinish time.Time `json:"last_finish,omitempty"`
	LastRunID  string    `json:"last_run_id,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

type Scheduler struct {
	runner   Runner
	interval time.Duration
	timeout  time.Duration
	log      *slog.Logger

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu     sync.RWMutex
	ctx    context.Context
	status Status
}

type Option func(*Scheduler)

// WithPassTimeout bounds each pass. Zero means no bound.
func WithPassTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		s.timeout = d
	}
}

func New(runner Runner, interval time.Duration, log *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		runner:   runner,
		interval: interval,
		log:      log,
		sem:      semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs one pass immediately and then one per interval until ctx is
// canceled. It waits for an in-flight pass before returning.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Trigger()
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return nil
		case <-ticker.C:
			s.Trigger()
		}
	}
}

// Trigger starts a pass in the background unless one is already running.
// It reports whether a pass was started.
func (s *Scheduler) Trigger() bool {
	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()
	if ctx == nil || ctx.Err() != nil {
		return false
	}
	if !s.sem.TryAcquire(1) {
		s.overlapped()
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)
		_ = s.pass(ctx)
	}()
	return true
}

// RunOnce runs a single pass synchronously.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if !s.sem.TryAcquire(1) {
		s.overlapped()
		return ErrBusy
	}
	defer s.sem.Release(1)
	return s.pass(ctx)
}

func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Scheduler) overlapped() {
	metrics.OverlappingTriggers.Inc()
	s.mu.Lock()
	s.status.Skipped++
	s.mu.Unlock()
	s.log.Warn("pass still running, trigger skipped")
}

// pass runs the indexer once and records the outcome. Errors are logged and
// returned, never propagated into the schedule.
func (s *Scheduler) pass(ctx context.Context) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	s.mu.Lock()
	s.status.Running = true
	s.status.LastStart = start
	s.mu.Unlock()

	sum, err := s.runner.Run(ctx)
	duration := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
		s.log.Error("pass failed", "run", sum.RunID, "duration", duration, "err", err)
	}
	metrics.PassesTotal.WithLabelValues(status).Inc()
	metrics.PassDuration.WithLabelValues(status).Observe(duration.Seconds())

	s.mu.Lock()
	s.status.Running = false
	s.status.Passes++
	s.status.LastFinish = time.Now()
	s.status.LastRunID = sum.RunID
	s.status.LastError = ""
	if err != nil {
		s.status.Failures++
		s.status.LastError = err.Error()
	}
	s.mu.Unlock()
	return err
}
