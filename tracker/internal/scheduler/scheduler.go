// CLAUDE:SUMMARY Polling loop: runs one iteration over every topic, then waits for the next cron slot; never exits on job failure.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSpec polls every two hours.
const DefaultSpec = "@every 7200s"

// Job is one polling iteration.
type Job func(ctx context.Context) error

// Scheduler runs Job back to back on a cron schedule. The next slot is
// computed when an iteration finishes, so iterations never overlap and an
// @every schedule is a pause between iterations.
type Scheduler struct {
	spec     string
	schedule cron.Schedule
	job      Job
	logger   *slog.Logger
	now      func() time.Time
	after    func(time.Duration) <-chan time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Scheduler) { s.logger = l } }

// WithClock injects the clock and the timer used between iterations.
func WithClock(now func() time.Time, after func(time.Duration) <-chan time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
		s.after = after
	}
}

// New parses spec (standard cron syntax or descriptors such as "@every 2h";
// empty means DefaultSpec).
func New(spec string, job Job, opts ...Option) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSpec
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("scheduler: parse %q: %w", spec, err)
	}
	s := &Scheduler{
		spec:     spec,
		schedule: sched,
		job:      job,
		logger:   slog.Default(),
		now:      time.Now,
		after:    time.After,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Next returns the next slot after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Tick runs one iteration. Errors and panics are logged and swallowed.
func (s *Scheduler) Tick(ctx context.Context) {
	start := s.now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler: iteration panicked",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	if err := s.job(ctx); err != nil {
		s.logger.Error("scheduler: iteration failed", "error", err, "duration", s.now().Sub(start))
		return
	}
	s.logger.Info("scheduler: iteration done", "duration", s.now().Sub(start))
}

// Run ticks immediately, then on every slot, until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler: started", "schedule", s.spec)
	for {
		s.Tick(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		next := s.Next(s.now())
		wait := next.Sub(s.now())
		if wait < 0 {
			wait = 0
		}
		s.logger.Info("scheduler: sleeping", "next", next.UTC().Format(time.RFC3339), "wait", wait)
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler: stopped")
			return ctx.Err()
		case <-s.after(wait):
		}
	}
}
