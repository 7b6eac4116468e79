package application

import (
	"context"
	"time"

	"github.com/davarch/ci-runner/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Scheduler struct {
	log         *zap.Logger
	jobs        *JobExecutor
	maxParallel int
}

// NewScheduler builds a pipeline scheduler. maxParallel <= 0 means every
// job runs at once.
func NewScheduler(log *zap.Logger, jobs *JobExecutor, maxParallel int) *Scheduler {
	return &Scheduler{log: log, jobs: jobs, maxParallel: maxParallel}
}

// Run matches the event against the pipeline trigger and, on a match, runs
// every job concurrently and waits for all of them. A non-matching event
// yields a not_run result with zero jobs executed. A returned error means
// the run itself could not be launched; it is distinct from job failures.
func (s *Scheduler) Run(ctx context.Context, spec domain.PipelineSpec, ev domain.Event) (domain.PipelineResult, error) {
	if err := spec.Validate(); err != nil {
		return domain.PipelineResult{}, err
	}

	res := domain.PipelineResult{
		RunID:      uuid.NewString(),
		Pipeline:   spec.Name,
		Event:      ev,
		StartedOn:  time.Now().UTC(),
		JobResults: make(map[string]domain.JobResult, len(spec.Jobs)),
	}

	if !Matches(ev, spec.Trigger) {
		res.OverallStatus = domain.PipelineNotRun
		res.Duration = time.Since(res.StartedOn)
		s.log.Info("trigger did not match",
			zap.String("branch", ev.Branch),
			zap.String("kind", string(ev.Kind)),
		)
		return res, nil
	}

	s.log.Info("pipeline start",
		zap.String("run_id", res.RunID),
		zap.String("pipeline", spec.Name),
		zap.String("branch", ev.Branch),
		zap.Int("jobs", len(spec.Jobs)),
	)

	var sem chan struct{}
	if s.maxParallel > 0 {
		sem = make(chan struct{}, s.maxParallel)
	}

	out := make(chan domain.JobResult, len(spec.Jobs))
	for _, job := range spec.Jobs {
		go func(job domain.JobSpec) {
			if sem != nil {
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-ctx.Done():
					// Never started: no environment was acquired.
					out <- domain.JobResult{
						JobName: job.Name,
						Status:  domain.JobCancelled,
						Err:     ctx.Err().Error(),
					}
					return
				}
			}
			out <- s.jobs.Execute(ctx, job)
		}(job)
	}

	for range spec.Jobs {
		jr := <-out
		res.JobResults[jr.JobName] = jr
		s.log.Info("job done",
			zap.String("run_id", res.RunID),
			zap.String("job", jr.JobName),
			zap.String("status", string(jr.Status)),
		)
	}

	res.OverallStatus = aggregate(res.JobResults)
	res.Duration = time.Since(res.StartedOn)
	s.log.Info("pipeline done",
		zap.String("run_id", res.RunID),
		zap.String("status", string(res.OverallStatus)),
		zap.Duration("took", res.Duration),
	)
	return res, nil
}

func aggregate(jobs map[string]domain.JobResult) domain.PipelineStatus {
	status := domain.PipelineSuccess
	for _, jr := range jobs {
		switch jr.Status {
		case domain.JobSuccess:
		case domain.JobCancelled:
			return domain.PipelineCancelled
		default:
			status = domain.PipelineFailed
		}
	}
	return status
}
