package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lumenpay/settlement-backend/pkg/logger"
	"github.com/lumenpay/settlement-backend/pkg/metrics"
)

const defaultInterval = time.Hour

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger          *logger.Logger
	Registry        *Registry
	Locks           LockFactory
	Metrics         *metrics.CronJobMetrics
	DefaultInterval time.Duration
}

// Service runs every registered job on its own cadence. Each job holds its
// own lock, so a slow billing run never delays the checkout sweep.
type Service struct {
	logg      *logger.Logger
	schedules []schedule
	metrics   *metrics.CronJobMetrics
}

type schedule struct {
	job      Job
	interval time.Duration
	lock     Lock
}

// NewService builds a cron service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Locks == nil {
		return nil, fmt.Errorf("lock factory required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	fallback := params.DefaultInterval
	if fallback <= 0 {
		fallback = defaultInterval
	}

	svc := &Service{logg: params.Logger, metrics: params.Metrics}
	for _, entry := range registry.Entries() {
		interval := entry.Interval
		if interval <= 0 {
			interval = fallback
		}
		// the lock outlives one tick so a crashed holder frees it by the next
		lock, err := params.Locks(entry.Job.Name(), 2*interval)
		if err != nil {
			return nil, fmt.Errorf("lock for %s: %w", entry.Job.Name(), err)
		}
		svc.schedules = append(svc.schedules, schedule{job: entry.Job, interval: interval, lock: lock})
	}
	return svc, nil
}

// Run starts one loop per job until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var wg sync.WaitGroup
	for _, sched := range s.schedules {
		wg.Add(1)
		go func(sched schedule) {
			defer wg.Done()
			s.loop(ctx, sched)
		}(sched)
	}
	wg.Wait()
	s.logg.Info(ctx, "cron service context canceled")
	return ctx.Err()
}

func (s *Service) loop(ctx context.Context, sched schedule) {
	if err := s.runCycle(ctx, sched); err != nil {
		s.logg.Error(ctx, "scheduled run failed", err)
	}
	ticker := time.NewTicker(sched.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.runCycle(ctx, sched); err != nil {
				s.logg.Error(ctx, "scheduled run failed", err)
			}
		}
	}
}

func (s *Service) runCycle(ctx context.Context, sched schedule) error {
	name := sched.job.Name()
	jobCtx := s.logg.WithField(ctx, "job", name)
	locked, err := sched.lock.Acquire(jobCtx)
	if err != nil {
		return fmt.Errorf("lock acquire %s: %w", name, err)
	}
	if !locked {
		s.logg.Info(jobCtx, "another cron instance holds the job; skipping this cycle")
		s.recordSkipped(name)
		return nil
	}
	defer func() {
		if relErr := sched.lock.Release(jobCtx); relErr != nil {
			s.logg.Error(jobCtx, "failed to release cron lock", relErr)
		}
	}()

	s.runJob(jobCtx, sched.job)
	return nil
}

func (s *Service) runJob(ctx context.Context, job Job) {
	jobCtx := s.logg.WithField(ctx, "event", "cron.job")
	s.logg.Info(jobCtx, "job start")
	start := time.Now()
	err := job.Run(jobCtx)
	duration := time.Since(start)
	s.observeDuration(job.Name(), duration)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		s.recordFailure(job.Name())
		return
	}
	s.logg.Info(jobCtx, "job completed")
	s.recordSuccess(job.Name())
}

func (s *Service) observeDuration(job string, duration time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveDuration(job, duration)
}

func (s *Service) recordSuccess(job string) {
	if s.metrics == nil {
		return
	}
	s.metrics.IncSuccess(job)
}

func (s *Service) recordFailure(job string) {
	if s.metrics == nil {
		return
	}
	s.metrics.IncFailure(job)
}

func (s *Service) recordSkipped(job string) {
	if s.metrics == nil {
		return
	}
	s.metrics.IncSkipped(job)
}
