/*
scheduler.go - Cron jobs keeping derived values current

PURPOSE:
  Two values drift with the calendar alone, without any write:
    - the schedule horizon (installments must exist up to now + 12 months)
    - the age cache of every beneficiary
  The scheduler runs the engine operations that catch them up.

JOBS:
  extend-schedules   Engine.ExtendSchedules   default "0 2 * * *"  (daily 02:00)
  refresh-ages       Engine.RefreshAgeCaches  default "30 2 * * *" (daily 02:30)

  Jobs never overlap themselves (cron.SkipIfStillRunning) and a panicking
  job is logged, not fatal (cron.Recover). Each run is recorded in a small
  in-memory history for the admin endpoint.

USAGE:
  s, err := NewScheduler(engine, SchedulerConfig{Enabled: true, ...}, logger)
  s.Start()
  defer s.Stop()

SEE ALSO:
  - handlers.go: Manual triggers under /api/admin
  - kafala/lifecycle.go: ExtendSchedules, RefreshAgeCaches
*/
package api

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/warp/kafala-engine/kafala"
)

const (
	JobExtendSchedules = "extend-schedules"
	JobRefreshAges     = "refresh-ages"
)

// maxJobRuns bounds the run history.
const maxJobRuns = 50

// SchedulerConfig configures the cron jobs. Specs use the standard 5-field
// cron syntax; an empty spec disables that job.
type SchedulerConfig struct {
	Enabled        bool
	ExtendSpec     string
	AgeRefreshSpec string
	Location       *time.Location
}

// JobRun records one execution of a job.
type JobRun struct {
	Job       string        `json:"job"`
	Trigger   string        `json:"trigger"` // "cron" or "manual"
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Changed   int           `json:"changed"`
	Error     string        `json:"error,omitempty"`
}

// Scheduler runs the maintenance jobs on cron schedules.
type Scheduler struct {
	engine *kafala.Engine
	log    *slog.Logger
	cron   *cron.Cron

	mu   sync.Mutex
	runs []JobRun
}

// NewScheduler registers the configured jobs. It fails on an invalid spec.
func NewScheduler(engine *kafala.Engine, cfg SchedulerConfig, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	cl := cronLogger{log: logger}
	s := &Scheduler{
		engine: engine,
		log:    logger,
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
	if !cfg.Enabled {
		return s, nil
	}

	for job, spec := range map[string]string{
		JobExtendSchedules: cfg.ExtendSpec,
		JobRefreshAges:     cfg.AgeRefreshSpec,
	} {
		if spec == "" {
			continue
		}
		job := job
		if _, err := s.cron.AddFunc(spec, func() {
			s.Run(context.Background(), job, "cron")
		}); err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", job, spec, err)
		}
		logger.Info("scheduled job", "job", job, "spec", spec)
	}
	return s, nil
}

// Start begins running the jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Run executes job now and records it.
func (s *Scheduler) Run(ctx context.Context, job, trigger string) (int, error) {
	start := time.Now()
	changed, err := runJob(ctx, s.engine, job)

	run := JobRun{
		Job:       job,
		Trigger:   trigger,
		StartedAt: start.UTC(),
		Duration:  time.Since(start),
		Changed:   changed,
	}
	if err != nil {
		run.Error = err.Error()
		s.log.Error("job failed", "job", job, "trigger", trigger, "error", err)
	} else {
		s.log.Info("job done", "job", job, "trigger", trigger, "changed", changed, "duration", run.Duration)
	}

	s.mu.Lock()
	s.runs = append(s.runs, run)
	if len(s.runs) > maxJobRuns {
		s.runs = s.runs[len(s.runs)-maxJobRuns:]
	}
	s.mu.Unlock()

	return changed, err
}

// Runs returns the recorded runs, most recent first.
func (s *Scheduler) Runs() []JobRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobRun, len(s.runs))
	for i, r := range s.runs {
		out[len(s.runs)-1-i] = r
	}
	return out
}

// Entries returns the next run time of every scheduled job.
func (s *Scheduler) Entries() []time.Time {
	now := time.Now().In(s.cron.Location())
	entries := s.cron.Entries()
	out := make([]time.Time, len(entries))
	for i, e := range entries {
		out[i] = e.Schedule.Next(now)
	}
	return out
}

func runJob(ctx context.Context, engine *kafala.Engine, job string) (int, error) {
	switch job {
	case JobExtendSchedules:
		return engine.ExtendSchedules(ctx)
	case JobRefreshAges:
		return engine.RefreshAgeCaches(ctx)
	}
	return 0, fmt.Errorf("unknown job %q", job)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
