// Package jobs runs periodic maintenance tasks on cron schedules.
package jobs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/cosmicminer/internal/app/metrics"
	"github.com/R3E-Network/cosmicminer/internal/app/system"
	"github.com/R3E-Network/cosmicminer/pkg/logger"
)

// Func is a unit of scheduled work.
type Func func(ctx context.Context) error

type job struct {
	name string
	spec string
	fn   Func
}

// Scheduler runs registered jobs on their cron specs while started.
type Scheduler struct {
	log     *logger.Logger
	timeout time.Duration

	mu      sync.Mutex
	jobs    []job
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

var _ system.Service = (*Scheduler)(nil)

// NewScheduler constructs an empty scheduler.
func NewScheduler(log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewDefault("jobs")
	}
	return &Scheduler{log: log, timeout: 30 * time.Second}
}

// Add registers a job. Specs accept the standard five fields and descriptors
// such as "@every 30s". Jobs added after Start run from the next Start.
func (s *Scheduler) Add(name, spec string, fn Func) error {
	name = strings.TrimSpace(name)
	spec = strings.TrimSpace(spec)
	if name == "" || fn == nil {
		return fmt.Errorf("job name and func are required")
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("job %s: parse spec %q: %w", name, spec, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job{name: name, spec: spec, fn: fn})
	return nil
}

func (s *Scheduler) Name() string { return "jobs" }

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DiscardLogger)))
	for _, j := range s.jobs {
		j := j
		if _, err := c.AddFunc(j.spec, func() { s.run(runCtx, j) }); err != nil {
			cancel()
			return fmt.Errorf("schedule %s: %w", j.name, err)
		}
	}
	c.Start()

	s.cron = c
	s.cancel = cancel
	s.running = true
	s.log.WithField("jobs", len(s.jobs)).Info("job scheduler started")
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c, cancel := s.cron, s.cancel
	s.running = false
	s.cron = nil
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info("job scheduler stopped")
	return nil
}

// RunAll executes every registered job once, in registration order.
func (s *Scheduler) RunAll(ctx context.Context) {
	s.mu.Lock()
	jobs := append([]job(nil), s.jobs...)
	s.mu.Unlock()
	for _, j := range jobs {
		s.run(ctx, j)
	}
}

func (s *Scheduler) run(ctx context.Context, j job) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := j.fn(ctx)
	metrics.RecordJobRun(j.name, time.Since(start), err == nil)
	if err != nil {
		s.log.WithError(err).WithField("job", j.name).Warn("scheduled job failed")
	}
}
