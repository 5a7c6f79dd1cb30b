package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"coffee-kds/internal/common/logger"
	"coffee-kds/internal/common/metrics"
	"coffee-kds/internal/microservices/kds/service"
)

// Job is one ingestion cycle.
type Job interface {
	Run(ctx context.Context) (service.IngestReport, error)
}

// Runner runs the job under the lock. The scheduler, the watch loop and the
// manual poll endpoint all go through it.
type Runner struct {
	job     Job
	locker  Locker
	log     *logger.Logger
	metrics *metrics.Metrics
}

func NewRunner(job Job, locker Locker, log *logger.Logger, m *metrics.Metrics) *Runner {
	return &Runner{job: job, locker: locker, log: log, metrics: m}
}

func (r *Runner) RunOnce(ctx context.Context) (service.IngestReport, error) {
	unlock, err := r.locker.TryLock(ctx)
	if errors.Is(err, ErrLockBusy) {
		r.metrics.IngestRuns.WithLabelValues("skipped").Inc()
		r.log.Debug("ingest_skipped", map[string]any{"reason": "lock held"})
		return service.IngestReport{}, err
	}
	if err != nil {
		r.metrics.IngestRuns.WithLabelValues("error").Inc()
		r.log.Error("ingest_lock_failed", err, nil)
		return service.IngestReport{}, err
	}
	defer unlock()
	return r.job.Run(ctx)
}

// Watch runs a cycle immediately and then every interval until ctx is done.
// onReport, when set, sees every result including skipped cycles.
func (r *Runner) Watch(ctx context.Context, interval time.Duration, onReport func(service.IngestReport, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		rep, err := r.RunOnce(ctx)
		if onReport != nil {
			onReport(rep, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Scheduler fires the runner on a fixed cadence. A cycle still running when
// the next one is due is skipped rather than queued.
type Scheduler struct {
	cron     *cron.Cron
	runner   *Runner
	interval time.Duration
	log      *logger.Logger
}

func New(runner *Runner, interval time.Duration, log *logger.Logger) *Scheduler {
	cl := cronLogger{log: log}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return &Scheduler{cron: c, runner: runner, interval: interval, log: log}
}

// Run blocks until ctx is done, then waits for a running cycle to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	spec := "@every " + s.interval.String()
	if _, err := s.cron.AddFunc(spec, func() { _, _ = s.runner.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	s.log.Info("scheduler_started", map[string]any{"every": s.interval.String()})
	s.cron.Start()

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.log.Info("scheduler_stopped", nil)
	return nil
}

// cronLogger adapts the action logger to cron.Logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron_"+msg, kvFields(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron_"+msg, err, kvFields(keysAndValues))
}

func kvFields(kv []interface{}) map[string]any {
	fields := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
