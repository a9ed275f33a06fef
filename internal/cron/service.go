package cron

import (
	"context"
	"fmt"
	"time"

	robfig "github.com/robfig/cron/v3"

	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/metrics"
)

const defaultSchedule = "0 2 * * *"

// Job is one step of a scheduled run. Jobs of a service run in order under
// the same lock.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// ServiceParams configure the cron service.
type ServiceParams struct {
	Name    string
	Logger  *logger.Logger
	Jobs    []Job
	Lock    Lock
	Metrics *metrics.CronJobMetrics
	// Schedule is a standard five-field cron expression evaluated in UTC.
	Schedule   string
	RunOnStart bool
	Now        func() time.Time
}

// Service executes registered cron jobs on a cron schedule. Every tick is
// guarded by the distributed lock so only one replica runs the jobs.
type Service struct {
	name       string
	logg       *logger.Logger
	jobs       []Job
	lock       Lock
	metrics    *metrics.CronJobMetrics
	spec       string
	schedule   robfig.Schedule
	runOnStart bool
	now        func() time.Time
}

// NewService builds a cron service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	var jobs []Job
	for _, job := range params.Jobs {
		if job != nil {
			jobs = append(jobs, job)
		}
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("at least one job required")
	}
	spec := params.Schedule
	if spec == "" {
		spec = defaultSchedule
	}
	schedule, err := robfig.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	name := params.Name
	if name == "" {
		name = "cron"
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		name:       name,
		logg:       params.Logger,
		jobs:       jobs,
		lock:       params.Lock,
		metrics:    params.Metrics,
		spec:       spec,
		schedule:   schedule,
		runOnStart: params.RunOnStart,
		now:        now,
	}, nil
}

// Next returns the first scheduled tick strictly after t.
func (s *Service) Next(t time.Time) time.Time {
	return s.schedule.Next(t.UTC())
}

// Run starts the scheduler and blocks until the context is canceled. A tick
// that fires while the previous one is still running is dropped.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"cron": s.name, "schedule": s.spec})

	scheduler := robfig.New(
		robfig.WithLocation(time.UTC),
		robfig.WithChain(robfig.SkipIfStillRunning(robfig.DiscardLogger)),
	)
	scheduler.Schedule(s.schedule, robfig.FuncJob(func() {
		if err := s.RunOnce(ctx); err != nil {
			s.logg.Error(ctx, "scheduled run failed", err)
		}
	}))

	if s.runOnStart {
		if err := s.RunOnce(ctx); err != nil {
			s.logg.Error(ctx, "scheduled run failed", err)
		}
	}

	scheduler.Start()
	s.logg.Info(s.logg.WithField(ctx, "next_run", s.Next(s.now())), "cron service started")

	<-ctx.Done()
	stopped := scheduler.Stop()
	<-stopped.Done()
	s.logg.Info(ctx, "cron service context canceled")
	return ctx.Err()
}

// RunOnce executes one locked cycle of every registered job.
func (s *Service) RunOnce(ctx context.Context) error {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.logg.Info(ctx, "another cron instance is running; skipping this cycle")
		for _, job := range s.jobs {
			s.metrics.RecordSkipped(job.Name())
		}
		return nil
	}
	defer func() {
		// release even when shutdown cancelled ctx mid-run
		if relErr := s.lock.Release(context.WithoutCancel(ctx)); relErr != nil {
			s.logg.Error(ctx, "failed to release cron lock", relErr)
		}
	}()

	s.logg.Info(ctx, "scheduled run starting")
	for _, job := range s.jobs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.runJob(ctx, job)
	}
	s.logg.Info(ctx, "scheduled run complete")
	return nil
}

func (s *Service) runJob(ctx context.Context, job Job) {
	jobCtx := s.logg.WithJob(ctx, job.Name())
	jobCtx = s.logg.WithField(jobCtx, "event", "cron.job")
	s.logg.Info(jobCtx, "job start")
	start := s.now()
	err := job.Run(jobCtx)
	duration := s.now().Sub(start)
	s.metrics.RecordRun(job.Name(), duration, err)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		return
	}
	s.logg.Info(jobCtx, "job completed")
}
